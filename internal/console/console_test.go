package console

import (
	"bytes"
	"errors"
	"strings"
	"sync"
	"testing"
)

func TestTableFormatting(t *testing.T) {
	var buf bytes.Buffer
	table := New(&buf, false).Table(50, 25, 30)

	if err := table.WriteRow(true, "Platform", "Version", "Vendor"); err != nil {
		t.Fatalf("header: %v", err)
	}
	if err := table.WriteRow(false, "NVIDIA CUDA", "OpenCL 3.0 CUDA 12.2", "NVIDIA Corporation"); err != nil {
		t.Fatalf("row: %v", err)
	}

	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d: %q", len(lines), buf.String())
	}

	underline := lines[0]
	if len(underline) != 115 || strings.Trim(underline, "_") != "" {
		t.Fatalf("underline has length %d (%q), want 115 underscores", len(underline), underline)
	}
	// rows carry a trailing " | ", two characters past the underline
	for _, line := range lines[1:] {
		if len(line) != 117 {
			t.Errorf("row has length %d, want 117: %q", len(line), line)
		}
	}

	header := " | " + strings.Repeat(" ", 42) + "Platform" +
		" | " + strings.Repeat(" ", 18) + "Version" +
		" | " + strings.Repeat(" ", 24) + "Vendor" + " | "
	if lines[1] != header {
		t.Fatalf("header row\n got %q\nwant %q", lines[1], header)
	}

	row := lines[2]
	if !strings.HasPrefix(row, " | ") || !strings.HasSuffix(row, " | ") {
		t.Fatalf("row not delimited on both ends: %q", row)
	}
	cells := strings.Split(strings.TrimSuffix(strings.TrimPrefix(row, " | "), " | "), " | ")
	widths := []int{50, 25, 30}
	for i, cell := range cells {
		if len(cell) != widths[i] {
			t.Errorf("cell %d has width %d, want %d (%q)", i, len(cell), widths[i], cell)
		}
	}
	if !strings.HasSuffix(cells[0], "NVIDIA CUDA") || !strings.HasPrefix(cells[0], " ") {
		t.Errorf("cell 0 not right-aligned: %q", cells[0])
	}
}

func TestTableWidth(t *testing.T) {
	table := New(&bytes.Buffer{}, false).Table(50, 25, 30)
	if table.Width() != 115 {
		t.Fatalf("Width() = %d, want 115", table.Width())
	}
}

func TestTableOverlongValueNotTruncated(t *testing.T) {
	var buf bytes.Buffer
	table := New(&buf, false).Table(3)

	if err := table.WriteRow(false, "abcdef"); err != nil {
		t.Fatalf("WriteRow: %v", err)
	}
	if buf.String() != " | abcdef | \n" {
		t.Fatalf("unexpected output %q", buf.String())
	}
}

func TestTableColumnMismatch(t *testing.T) {
	var buf bytes.Buffer
	table := New(&buf, false).Table(10, 10)

	err := table.WriteRow(false, "only one")
	if !errors.Is(err, ErrColumnMismatch) {
		t.Fatalf("expected ErrColumnMismatch, got %v", err)
	}
	if buf.Len() != 0 {
		t.Fatalf("expected nothing written, got %q", buf.String())
	}
}

func TestErrorLine(t *testing.T) {
	var buf bytes.Buffer
	New(&buf, false).Error("clCreateBuffer", "CL_INVALID_VALUE")

	if buf.String() != "ERROR: clCreateBuffer (CL_INVALID_VALUE)\n" {
		t.Fatalf("unexpected output %q", buf.String())
	}
}

func TestColoredHeaderKeepsText(t *testing.T) {
	var buf bytes.Buffer
	table := New(&buf, true).Table(8)
	if err := table.WriteRow(true, "Platform"); err != nil {
		t.Fatalf("WriteRow: %v", err)
	}
	if !strings.Contains(buf.String(), "Platform") {
		t.Fatalf("header text missing from %q", buf.String())
	}
}

func TestConcurrentNotifications(t *testing.T) {
	var buf bytes.Buffer
	c := New(&buf, false)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Notification("device lost")
		}()
	}
	wg.Wait()

	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	if len(lines) != 20 {
		t.Fatalf("expected 20 lines, got %d", len(lines))
	}
	for _, line := range lines {
		if line != "OpenCL Notification: device lost" {
			t.Fatalf("interleaved output: %q", line)
		}
	}
}
