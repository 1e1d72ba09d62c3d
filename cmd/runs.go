package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/cwbudde/clvecadd/internal/store"
)

var (
	keepLast      int
	olderThanDays int
	forceClean    bool
	failedOnly    bool
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Manage recorded sessions",
	Long: `Every session is recorded with its device, final state, result and errors.
Use these commands to inspect and prune the records.`,
}

var listRunsCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded sessions",
	RunE:  runListRuns,
}

var showRunCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show one recorded session",
	Long:  `Print the full record of a session, and its state trace when available. A unique ID prefix is accepted.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runShowRun,
}

var cleanRunsCmd = &cobra.Command{
	Use:   "clean",
	Short: "Delete old session records",
	Long: `Delete session records based on retention policy.
You can keep the newest N records, delete records older than N days, or both.`,
	RunE: runCleanRuns,
}

func init() {
	rootCmd.AddCommand(runsCmd)

	runsCmd.AddCommand(listRunsCmd)
	runsCmd.AddCommand(showRunCmd)
	runsCmd.AddCommand(cleanRunsCmd)

	listRunsCmd.Flags().BoolVar(&failedOnly, "failed", false, "Only list sessions that ended with an error")

	cleanRunsCmd.Flags().IntVar(&keepLast, "keep-last", 0, "Keep only the newest N records (0 = keep all)")
	cleanRunsCmd.Flags().IntVar(&olderThanDays, "older-than", 0, "Delete records older than N days (0 = no age limit)")
	cleanRunsCmd.Flags().BoolVarP(&forceClean, "force", "f", false, "Skip confirmation prompt")
}

func openConfiguredStore() (store.Store, error) {
	if cfg.Store.Type == "none" {
		return nil, fmt.Errorf("run store is disabled (store type none)")
	}
	s, err := store.Open(store.Kind(cfg.Store.Type), cfg.Store.Dir)
	if err != nil {
		return nil, fmt.Errorf("failed to open run store: %w", err)
	}
	return s, nil
}

func runListRuns(cmd *cobra.Command, args []string) error {
	runStore, err := openConfiguredStore()
	if err != nil {
		return err
	}
	defer runStore.Close()

	infos, err := runStore.ListRuns()
	if err != nil {
		return fmt.Errorf("failed to list runs: %w", err)
	}
	if failedOnly {
		infos = filterFailed(infos)
	}

	var size func(id string) string
	if fsStore, ok := runStore.(*store.FSStore); ok {
		size = func(id string) string {
			return formatBytes(runDirSize(fsStore.BaseDir(), id))
		}
	}
	writeRunTable(cmd.OutOrStdout(), infos, size)
	return nil
}

func filterFailed(infos []store.RunInfo) []store.RunInfo {
	var failed []store.RunInfo
	for _, info := range infos {
		if info.Failed {
			failed = append(failed, info)
		}
	}
	return failed
}

// writeRunTable prints one row per run. size, when set, adds a SIZE column.
func writeRunTable(out io.Writer, infos []store.RunInfo, size func(id string) string) {
	if len(infos) == 0 {
		fmt.Fprintln(out, "No runs found.")
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	header := "RUN ID\tTIMESTAMP\tAGE\tBACKEND\tDEVICE\tSTATE\tELAPSED\tSTATUS"
	rule := "------\t---------\t---\t-------\t------\t-----\t-------\t------"
	if size != nil {
		header += "\tSIZE"
		rule += "\t----"
	}
	fmt.Fprintln(w, header)
	fmt.Fprintln(w, rule)

	for _, info := range infos {
		status := "ok"
		if info.Failed {
			status = "failed"
		}
		device := info.Device
		if device == "" {
			device = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s",
			shortID(info.ID),
			info.Timestamp.Format("2006-01-02 15:04:05"),
			humanize.Time(info.Timestamp),
			info.Backend,
			device,
			info.FinalState,
			info.Elapsed.Round(time.Millisecond),
			status,
		)
		if size != nil {
			fmt.Fprintf(w, "\t%s", size(info.ID))
		}
		fmt.Fprintln(w)
	}
	w.Flush()

	fmt.Fprintf(out, "\nTotal runs: %d\n", len(infos))
}

func runShowRun(cmd *cobra.Command, args []string) error {
	runStore, err := openConfiguredStore()
	if err != nil {
		return err
	}
	defer runStore.Close()

	id, err := resolveRunID(runStore, args[0])
	if err != nil {
		return err
	}
	record, err := runStore.LoadRun(id)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode run: %w", err)
	}
	fmt.Fprintln(out, string(data))

	if _, ok := runStore.(*store.FSStore); !ok {
		return nil
	}
	entries, err := store.ReadTrace(cfg.Store.Dir, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	} else if err != nil {
		return err
	}

	fmt.Fprintln(out, "\nTrace:")
	var prev time.Time
	for _, entry := range entries {
		delta := time.Duration(0)
		if !prev.IsZero() {
			delta = entry.Timestamp.Sub(prev)
		}
		prev = entry.Timestamp
		fmt.Fprintf(out, "  %3d  %-20s  +%s\n", entry.Seq, entry.State, delta)
	}
	return nil
}

// resolveRunID expands a unique ID prefix to a full run ID.
func resolveRunID(runStore store.Store, prefix string) (string, error) {
	infos, err := runStore.ListRuns()
	if err != nil {
		return "", fmt.Errorf("failed to list runs: %w", err)
	}

	var matches []string
	for _, info := range infos {
		if info.ID == prefix {
			return prefix, nil
		}
		if strings.HasPrefix(info.ID, prefix) {
			matches = append(matches, info.ID)
		}
	}

	switch len(matches) {
	case 0:
		return "", &store.NotFoundError{RunID: prefix}
	case 1:
		return matches[0], nil
	default:
		return "", fmt.Errorf("run ID prefix %q is ambiguous (%d matches)", prefix, len(matches))
	}
}

func runCleanRuns(cmd *cobra.Command, args []string) error {
	if keepLast == 0 && olderThanDays == 0 {
		return fmt.Errorf("must specify either --keep-last or --older-than")
	}

	runStore, err := openConfiguredStore()
	if err != nil {
		return err
	}
	defer runStore.Close()

	infos, err := runStore.ListRuns()
	if err != nil {
		return fmt.Errorf("failed to list runs: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(infos) == 0 {
		fmt.Fprintln(out, "No runs to clean.")
		return nil
	}

	toDelete := selectRunsForDeletion(infos, keepLast, olderThanDays, time.Now())
	if len(toDelete) == 0 {
		fmt.Fprintln(out, "No runs match deletion criteria.")
		return nil
	}

	fmt.Fprintf(out, "Found %d run(s) to delete:\n", len(toDelete))
	for _, info := range toDelete {
		fmt.Fprintf(out, "  - %s (%s, %s)\n",
			shortID(info.ID),
			info.FinalState,
			humanize.Time(info.Timestamp),
		)
	}

	if !forceClean && !confirm(cmd.InOrStdin(), out, "\nProceed with deletion? [y/N]: ") {
		fmt.Fprintln(out, "Aborted.")
		return nil
	}

	deleted, failed := 0, 0
	for _, info := range toDelete {
		if err := runStore.DeleteRun(info.ID); err != nil {
			slog.Error("Failed to delete run", "run", info.ID, "error", err)
			failed++
		} else {
			slog.Info("Deleted run", "run", info.ID)
			deleted++
		}
	}

	fmt.Fprintf(out, "\nDeleted %d run(s), %d failed.\n", deleted, failed)
	return nil
}

func confirm(in io.Reader, out io.Writer, prompt string) bool {
	fmt.Fprint(out, prompt)
	line, _ := bufio.NewReader(in).ReadString('\n')
	answer := strings.TrimSpace(line)
	return answer == "y" || answer == "Y"
}

// selectRunsForDeletion returns the runs older than olderThanDays and those
// beyond the newest keepLast, without duplicates. Zero disables a rule.
func selectRunsForDeletion(infos []store.RunInfo, keepLast, olderThanDays int, now time.Time) []store.RunInfo {
	selected := make(map[string]bool)
	var toDelete []store.RunInfo
	add := func(info store.RunInfo) {
		if !selected[info.ID] {
			selected[info.ID] = true
			toDelete = append(toDelete, info)
		}
	}

	if olderThanDays > 0 {
		cutoff := now.AddDate(0, 0, -olderThanDays)
		for _, info := range infos {
			if info.Timestamp.Before(cutoff) {
				add(info)
			}
		}
	}

	if keepLast > 0 && len(infos) > keepLast {
		sorted := make([]store.RunInfo, len(infos))
		copy(sorted, infos)
		sort.SliceStable(sorted, func(i, j int) bool {
			return sorted[i].Timestamp.After(sorted[j].Timestamp)
		})
		for _, info := range sorted[keepLast:] {
			add(info)
		}
	}

	return toDelete
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// runDirSize reports the on-disk size of a filesystem run, or -1.
func runDirSize(baseDir, id string) int64 {
	var size int64
	err := filepath.Walk(filepath.Join(baseDir, "runs", id), func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			size += info.Size()
		}
		return nil
	})
	if err != nil {
		return -1
	}
	return size
}

// formatBytes formats bytes as human-readable string
func formatBytes(bytes int64) string {
	if bytes < 0 {
		return "unknown"
	}
	return humanize.IBytes(uint64(bytes))
}
