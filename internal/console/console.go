// Package console writes the session's human-facing output: plain status lines,
// colored diagnostics and the fixed-width platform table.
package console

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/gookit/color"
)

// ErrColumnMismatch is returned when a row does not have one value per column.
var ErrColumnMismatch = errors.New("console: column count does not match widths")

// Console serialises writes to an output stream. It is safe for concurrent use,
// driver notifications arrive on foreign threads.
type Console struct {
	mu    sync.Mutex
	out   io.Writer
	color bool
}

// New returns a console writing to out. When colored is false all text is
// written without escape sequences.
func New(out io.Writer, colored bool) *Console {
	return &Console{out: out, color: colored}
}

func (c *Console) write(s string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, _ = io.WriteString(c.out, s)
}

func (c *Console) paint(text string, col color.Color) string {
	if !c.color {
		return text
	}
	return col.Sprint(text)
}

// WriteText writes text in the given color, optionally followed by a newline.
func (c *Console) WriteText(text string, col color.Color, newline bool) {
	s := c.paint(text, col)
	if newline {
		s += "\n"
	}
	c.write(s)
}

// Println writes a plain status line.
func (c *Console) Println(a ...any) {
	c.write(fmt.Sprintln(a...))
}

// Printf writes plain formatted text.
func (c *Console) Printf(format string, a ...any) {
	c.write(fmt.Sprintf(format, a...))
}

// Error writes an "ERROR: name (code)" diagnostic line.
func (c *Console) Error(name, code string) {
	c.WriteText(fmt.Sprintf("ERROR: %s (%s)", name, code), color.FgRed, true)
}

// Notification writes an asynchronous driver notification.
func (c *Console) Notification(message string) {
	c.WriteText("OpenCL Notification: "+message, color.FgYellow, true)
}

// Table returns a table printer with one fixed width per column.
func (c *Console) Table(widths ...int) *Table {
	w := make([]int, len(widths))
	copy(w, widths)
	return &Table{console: c, widths: w}
}

// Table prints right-aligned, pipe-delimited rows of fixed column widths.
type Table struct {
	console *Console
	widths  []int
}

// Width is the length of the underline drawn above a header row.
func (t *Table) Width() int {
	total := 1
	for _, w := range t.widths {
		total += w + 3
	}
	return total
}

// WriteRow prints one row. Header rows are preceded by an underline and painted
// magenta, data rows white. Values longer than their column are not truncated.
func (t *Table) WriteRow(head bool, columns ...string) error {
	if len(columns) != len(t.widths) {
		return fmt.Errorf("%w: %d values for %d columns", ErrColumnMismatch, len(columns), len(t.widths))
	}

	cellColor := color.FgWhite
	if head {
		cellColor = color.FgMagenta
	}

	var b strings.Builder
	if head {
		b.WriteString(strings.Repeat("_", t.Width()))
		b.WriteString("\n")
	}
	for i, value := range columns {
		b.WriteString(" | ")
		b.WriteString(t.console.paint(fmt.Sprintf("%*s", t.widths[i], value), cellColor))
	}
	b.WriteString(" | \n")

	t.console.write(b.String())
	return nil
}
