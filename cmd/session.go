package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/cwbudde/clvecadd/internal/compute"
	"github.com/cwbudde/clvecadd/internal/config"
	"github.com/cwbudde/clvecadd/internal/console"
	"github.com/cwbudde/clvecadd/internal/session"
	"github.com/cwbudde/clvecadd/internal/store"
)

// executeSession runs one session against the configured backend and records
// the outcome in the configured store. pauseIn may be nil.
func executeSession(ctx context.Context, c *config.Config, out *console.Console, pauseIn io.Reader, logger *slog.Logger) (*store.RunRecord, error) {
	provider, err := compute.Open(c.Backend)
	if errors.Is(err, compute.ErrNotBuilt) {
		return nil, fmt.Errorf("%w (or use --backend mock)", err)
	}
	if err != nil {
		return nil, err
	}

	opts, err := c.ToSessionOptions()
	if err != nil {
		return nil, err
	}
	opts.Pause = pauseIn
	opts.Logger = logger

	record := store.NewRunRecord(provider.Name())

	runStore, trace := openRunStore(c, record.ID, logger)
	if runStore != nil {
		defer runStore.Close()
	}
	if trace != nil {
		opts.Observer = func(tr session.Transition) {
			if err := trace.Record(tr.State.String(), tr.At); err != nil {
				logger.Warn("Failed to write trace entry", "run", record.ID, "error", err)
			}
		}
	}

	logger.Info("Starting session", "run", record.ID, "backend", provider.Name(), "kernel", opts.KernelPath)
	start := time.Now()
	report, runErr := session.RunSession(ctx, provider, out, opts)
	record.Elapsed = time.Since(start)

	if trace != nil {
		if err := trace.Close(); err != nil {
			logger.Warn("Failed to close trace", "run", record.ID, "error", err)
		}
	}

	fillRecord(record, report, runErr)
	if runStore != nil {
		if err := runStore.SaveRun(record); err != nil {
			logger.Warn("Failed to save run record", "run", record.ID, "error", err)
		}
	}

	return record, runErr
}

// openRunStore opens the configured store, and a trace writer when the store
// is filesystem based. Store failures are logged and never fail the session.
func openRunStore(c *config.Config, runID string, logger *slog.Logger) (store.Store, *store.TraceWriter) {
	if c.Store.Type == "none" {
		return nil, nil
	}

	runStore, err := store.Open(store.Kind(c.Store.Type), c.Store.Dir)
	if err != nil {
		logger.Warn("Run store unavailable", "type", c.Store.Type, "dir", c.Store.Dir, "error", err)
		return nil, nil
	}

	if _, ok := runStore.(*store.FSStore); !ok {
		return runStore, nil
	}
	trace, err := store.NewTraceWriter(c.Store.Dir, runID)
	if err != nil {
		logger.Warn("Trace unavailable", "run", runID, "error", err)
		return runStore, nil
	}
	return runStore, trace
}

func fillRecord(record *store.RunRecord, report *session.Report, runErr error) {
	if report != nil {
		record.Platform = report.Platform.Name
		record.Device = report.Device.Name
		record.KernelPath = report.KernelPath
		record.FinalState = report.Final().String()
		record.Result = report.Result
		for _, st := range report.States {
			record.States = append(record.States, st.String())
		}
		for _, soft := range report.SoftErrors {
			record.SoftErrors = append(record.SoftErrors, soft.Error())
		}
	}
	if record.FinalState == "" {
		record.FinalState = session.StateStart.String()
	}
	if runErr != nil {
		record.Error = runErr.Error()
	}
}
