// Package config loads clvecadd settings from defaults, an optional YAML file
// and CLVECADD_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/cwbudde/clvecadd/internal/compute"
	"github.com/cwbudde/clvecadd/internal/session"
)

// DefaultFile is looked up in the working directory when no path is given.
const DefaultFile = "clvecadd.yaml"

// EnvPrefix prefixes every environment override.
const EnvPrefix = "CLVECADD_"

// Config is the complete clvecadd configuration.
type Config struct {
	// Backend selects the compute provider: "opencl" or "mock"
	Backend string `yaml:"backend" json:"backend"`

	Kernel  KernelConfig  `yaml:"kernel" json:"kernel"`
	Inputs  InputsConfig  `yaml:"inputs" json:"inputs"`
	Output  OutputConfig  `yaml:"output" json:"output"`
	Errors  ErrorsConfig  `yaml:"errors" json:"errors"`
	Store   StoreConfig   `yaml:"store" json:"store"`
	Logging LoggingConfig `yaml:"logging" json:"logging"`

	// RequireImageSupport rejects devices without image support
	RequireImageSupport bool `yaml:"require_image_support" json:"require_image_support"`

	// Pause waits for a line on stdin before teardown
	Pause bool `yaml:"pause" json:"pause"`
}

// KernelConfig locates and builds the kernel.
type KernelConfig struct {
	// Path is resolved against the working directory
	Path         string `yaml:"path" json:"path"`
	Name         string `yaml:"name" json:"name"`
	BuildOptions string `yaml:"build_options" json:"build_options"`
}

// InputsConfig holds the two vectors to add.
type InputsConfig struct {
	A []int32 `yaml:"a" json:"a"`
	B []int32 `yaml:"b" json:"b"`
}

// OutputConfig controls console rendering.
type OutputConfig struct {
	Color        bool  `yaml:"color" json:"color"`
	ColumnWidths []int `yaml:"column_widths" json:"column_widths"`
}

// ErrorsConfig selects the error policy.
type ErrorsConfig struct {
	// Mode is "default", "strict" or "lenient"
	Mode string `yaml:"mode" json:"mode"`

	// Overrides map driver call names to "log" or "abort"
	Overrides map[string]string `yaml:"overrides" json:"overrides"`
}

// StoreConfig configures where session records are kept.
type StoreConfig struct {
	// Type is "fs", "bolt", "badger" or "none"
	Type string `yaml:"type" json:"type"`
	Dir  string `yaml:"dir" json:"dir"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Backend: string(compute.BackendOpenCL),
		Kernel: KernelConfig{
			Path: session.DefaultKernelPath,
			Name: session.DefaultKernelName,
		},
		Inputs: InputsConfig{
			A: append([]int32(nil), session.DefaultInputA...),
			B: append([]int32(nil), session.DefaultInputB...),
		},
		Output: OutputConfig{
			Color:        true,
			ColumnWidths: append([]int(nil), session.DefaultColumnWidths...),
		},
		Errors: ErrorsConfig{
			Mode: "default",
		},
		Store: StoreConfig{
			Type: "fs",
			Dir:  "./data",
		},
		Logging: LoggingConfig{
			Level:  "warn",
			Format: "text",
		},
		RequireImageSupport: true,
	}
}

// LoadConfig loads configuration with the following precedence:
// 1. Environment variables
// 2. Configuration file (path, or clvecadd.yaml in the working directory)
// 3. Default values
//
// A missing default file is not an error; a missing explicit path is.
// The result is not validated: callers apply their own overrides first and
// then call Validate.
func LoadConfig(path string) (*Config, error) {
	config := DefaultConfig()

	explicit := path != ""
	if !explicit {
		path = DefaultFile
	}

	if err := loadConfigFromFile(path, config); err != nil {
		if explicit || !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to load config from %s: %w", path, err)
		}
	}

	if err := loadConfigFromEnv(config); err != nil {
		return nil, err
	}

	return config, nil
}

// loadConfigFromFile loads configuration from a YAML file
func loadConfigFromFile(path string, config *Config) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return err
	}

	return yaml.Unmarshal(data, config)
}

// loadConfigFromEnv applies CLVECADD_* overrides
func loadConfigFromEnv(config *Config) error {
	if v := os.Getenv(EnvPrefix + "BACKEND"); v != "" {
		config.Backend = v
	}
	if v := os.Getenv(EnvPrefix + "KERNEL_PATH"); v != "" {
		config.Kernel.Path = v
	}
	if v := os.Getenv(EnvPrefix + "KERNEL_NAME"); v != "" {
		config.Kernel.Name = v
	}
	if v := os.Getenv(EnvPrefix + "BUILD_OPTIONS"); v != "" {
		config.Kernel.BuildOptions = v
	}
	if v := os.Getenv(EnvPrefix + "ERRORS"); v != "" {
		config.Errors.Mode = v
	}
	if v := os.Getenv(EnvPrefix + "STORE"); v != "" {
		config.Store.Type = v
	}
	if v := os.Getenv(EnvPrefix + "DATA_DIR"); v != "" {
		config.Store.Dir = v
	}
	if v := os.Getenv(EnvPrefix + "LOG_LEVEL"); v != "" {
		config.Logging.Level = v
	}
	if v := os.Getenv(EnvPrefix + "LOG_FORMAT"); v != "" {
		config.Logging.Format = v
	}

	bools := []struct {
		name string
		dst  *bool
	}{
		{"REQUIRE_IMAGE_SUPPORT", &config.RequireImageSupport},
		{"PAUSE", &config.Pause},
		{"COLOR", &config.Output.Color},
	}
	for _, b := range bools {
		v := os.Getenv(EnvPrefix + b.name)
		if v == "" {
			continue
		}
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %s%s: %w", EnvPrefix, b.name, err)
		}
		*b.dst = parsed
	}

	// NO_COLOR is honoured regardless of value
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		config.Output.Color = false
	}
	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	backend := compute.NormalizeBackend(c.Backend)
	valid := false
	for _, b := range compute.SupportedBackends() {
		if backend == b {
			valid = true
			break
		}
	}
	if !valid {
		return fmt.Errorf("unknown backend: %s", c.Backend)
	}

	if strings.TrimSpace(c.Kernel.Path) == "" {
		return fmt.Errorf("kernel path is required")
	}
	if strings.TrimSpace(c.Kernel.Name) == "" {
		return fmt.Errorf("kernel name is required")
	}

	if len(c.Inputs.A) == 0 || len(c.Inputs.A) != len(c.Inputs.B) {
		return fmt.Errorf("inputs must be non-empty and of equal length (a=%d, b=%d)", len(c.Inputs.A), len(c.Inputs.B))
	}

	if len(c.Output.ColumnWidths) != 3 {
		return fmt.Errorf("output.column_widths needs 3 values, got %d", len(c.Output.ColumnWidths))
	}
	for _, w := range c.Output.ColumnWidths {
		if w <= 0 {
			return fmt.Errorf("invalid column width: %d", w)
		}
	}

	if _, err := c.Errors.Policy(); err != nil {
		return err
	}

	switch c.Store.Type {
	case "fs", "bolt", "badger":
		if c.Store.Dir == "" {
			return fmt.Errorf("store.dir is required for store type %s", c.Store.Type)
		}
	case "none":
	default:
		return fmt.Errorf("invalid store type: %s", c.Store.Type)
	}

	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}

	return nil
}

// Policy builds the session error policy from the mode and overrides.
func (e ErrorsConfig) Policy() (session.Policy, error) {
	var policy session.Policy
	switch strings.ToLower(e.Mode) {
	case "", "default":
		policy = session.DefaultPolicy()
	case "strict":
		policy = session.StrictPolicy()
	case "lenient":
		policy = session.LenientPolicy()
	default:
		return session.Policy{}, fmt.Errorf("invalid error mode: %s", e.Mode)
	}

	for op, name := range e.Overrides {
		action, err := session.ParseAction(name)
		if err != nil {
			return session.Policy{}, fmt.Errorf("errors.overrides[%s]: %w", op, err)
		}
		policy = policy.With(op, action)
	}
	return policy, nil
}

// ToSessionOptions converts to session.Options. Callers fill in the I/O hooks
// (pause reader, observer, logger).
func (c *Config) ToSessionOptions() (session.Options, error) {
	policy, err := c.Errors.Policy()
	if err != nil {
		return session.Options{}, err
	}
	return session.Options{
		KernelPath:          c.Kernel.Path,
		KernelName:          c.Kernel.Name,
		BuildOptions:        c.Kernel.BuildOptions,
		InputA:              append([]int32(nil), c.Inputs.A...),
		InputB:              append([]int32(nil), c.Inputs.B...),
		ColumnWidths:        append([]int(nil), c.Output.ColumnWidths...),
		RequireImageSupport: c.RequireImageSupport,
		Policy:              policy,
	}, nil
}
