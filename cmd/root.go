package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/gookit/color"
	"github.com/spf13/cobra"

	"github.com/cwbudde/clvecadd/internal/config"
	"github.com/cwbudde/clvecadd/internal/console"
)

var (
	configPath string
	logLevel   string
	logFormat  string
	noColor    bool
	dataDir    string
	storeType  string

	backend        string
	kernelPath     string
	kernelName     string
	buildOptions   string
	pause          bool
	strict         bool
	lenient        bool
	skipImageCheck bool

	cfg    *config.Config
	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "clvecadd",
	Short: "Add two integer vectors on an OpenCL device",
	Long: `clvecadd enumerates OpenCL platforms and devices, builds the vector_add
kernel from ../../kernel.cl, adds two 8-element vectors on the first device
and prints the result. Every driver object is released before exit.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
	RunE:              runRoot,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", "", "Config file (default ./clvecadd.yaml if present)")
	pf.StringVar(&logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
	pf.StringVar(&logFormat, "log-format", "text", "Log format (text, json)")
	pf.BoolVar(&noColor, "no-color", false, "Disable colored console output")
	pf.StringVar(&dataDir, "data-dir", "./data", "Base directory for run records")
	pf.StringVar(&storeType, "store", "fs", "Run record store (fs, bolt, badger, none)")
	pf.StringVar(&backend, "backend", "opencl", "Compute backend (opencl, mock)")

	f := rootCmd.Flags()
	f.StringVar(&kernelPath, "kernel", "../../kernel.cl", "Kernel source path, relative to the working directory")
	f.StringVar(&kernelName, "kernel-name", "vector_add", "Kernel entry point")
	f.StringVar(&buildOptions, "build-options", "", "Options passed to the program build")
	f.BoolVar(&pause, "pause", false, "Wait for Enter before releasing device objects")
	f.BoolVar(&strict, "strict", false, "Abort on any failed driver call")
	f.BoolVar(&lenient, "lenient", false, "Log failed driver calls and keep going")
	f.BoolVar(&skipImageCheck, "skip-image-check", false, "Accept devices without image support")
	rootCmd.MarkFlagsMutuallyExclusive("strict", "lenient")
}

// setup loads the configuration, applies explicitly set flags and installs
// the default logger. Logs go to stderr; stdout carries console output.
func setup(cmd *cobra.Command, args []string) error {
	loaded, err := config.LoadConfig(configPath)
	if err != nil {
		return &ExitError{Code: exitFailure, Message: err.Error()}
	}
	applyFlags(cmd, loaded)
	if err := loaded.Validate(); err != nil {
		return &ExitError{Code: exitFailure, Message: fmt.Sprintf("invalid configuration: %v", err)}
	}

	l, err := newLogger(loaded.Logging.Level, loaded.Logging.Format, cmd.ErrOrStderr())
	if err != nil {
		return &ExitError{Code: exitFailure, Message: err.Error()}
	}

	cfg = loaded
	logger = l
	slog.SetDefault(logger)
	return nil
}

// applyFlags overrides config values with flags the user set on the command line.
func applyFlags(cmd *cobra.Command, c *config.Config) {
	changed := cmd.Flags().Changed

	if changed("log-level") {
		c.Logging.Level = logLevel
	}
	if changed("log-format") {
		c.Logging.Format = logFormat
	}
	if changed("no-color") && noColor {
		c.Output.Color = false
	}
	if changed("data-dir") {
		c.Store.Dir = dataDir
	}
	if changed("store") {
		c.Store.Type = storeType
	}
	if changed("backend") {
		c.Backend = backend
	}
	if changed("kernel") {
		c.Kernel.Path = kernelPath
	}
	if changed("kernel-name") {
		c.Kernel.Name = kernelName
	}
	if changed("build-options") {
		c.Kernel.BuildOptions = buildOptions
	}
	if changed("pause") {
		c.Pause = pause
	}
	if changed("strict") && strict {
		c.Errors.Mode = "strict"
	}
	if changed("lenient") && lenient {
		c.Errors.Mode = "lenient"
	}
	if changed("skip-image-check") && skipImageCheck {
		c.RequireImageSupport = false
	}
}

// newConsole returns a console on w, colored when enabled and supported.
func newConsole(cmd *cobra.Command, c *config.Config) *console.Console {
	return console.New(cmd.OutOrStdout(), c.Output.Color && color.SupportColor())
}

func runRoot(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	var pauseIn = cmd.InOrStdin()
	if !cfg.Pause {
		pauseIn = nil
	}

	record, err := executeSession(ctx, cfg, newConsole(cmd, cfg), pauseIn, logger)
	if record != nil {
		logger.Info("Session finished", "run", record.ID, "state", record.FinalState, "elapsed", record.Elapsed)
	}
	return exitErrorFor(err)
}
