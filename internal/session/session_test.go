package session

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/cwbudde/clvecadd/internal/compute"
	"github.com/cwbudde/clvecadd/internal/console"
)

const vectorAddSource = `__kernel void vector_add(__global const int *a, __global const int *b, __global int *c) {
    int i = get_global_id(0);
    c[i] = a[i] + b[i];
}
`

// setupWorkDir lays out <root>/kernel.cl and returns a working directory two
// levels below it, so the default kernel path resolves.
func setupWorkDir(t *testing.T, source string) string {
	t.Helper()

	root := t.TempDir()
	if source != "" {
		if err := os.WriteFile(filepath.Join(root, "kernel.cl"), []byte(source), 0o644); err != nil {
			t.Fatalf("Failed to write kernel source: %v", err)
		}
	}
	return filepath.Join(root, "bin", "debug")
}

func testOptions(workDir string) Options {
	opts := DefaultOptions()
	opts.WorkDir = workDir
	opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	return opts
}

func runMock(t *testing.T, cfg compute.MockConfig, opts Options) (*compute.MockProvider, *Report, string, error) {
	t.Helper()

	provider := compute.NewMockProvider(cfg)
	var out bytes.Buffer
	report, err := RunSession(context.Background(), provider, console.New(&out, false), opts)
	if report == nil {
		t.Fatal("Expected non-nil report")
	}
	return provider, report, out.String(), err
}

func containsCall(calls []string, prefix string) bool {
	for _, c := range calls {
		if strings.HasPrefix(c, prefix) {
			return true
		}
	}
	return false
}

func TestRunSessionVectorAdd(t *testing.T) {
	workDir := setupWorkDir(t, vectorAddSource)

	provider, report, out, err := runMock(t, compute.DefaultMockConfig(), testOptions(workDir))
	if err != nil {
		t.Fatalf("RunSession failed: %v", err)
	}

	want := []int32{2, 6, 9, 12, 15, 18, 21, 24}
	if diff := cmp.Diff(want, report.Result); diff != "" {
		t.Errorf("Result mismatch (-want +got):\n%s", diff)
	}

	if !strings.Contains(out, "\n-> Test\nOutput: 2 6 9 12 15 18 21 24\n") {
		t.Errorf("Output line missing:\n%s", out)
	}
	if report.Device.Name != "MockGPU" {
		t.Errorf("Device = %q, want MockGPU", report.Device.Name)
	}
	if len(report.SoftErrors) != 0 {
		t.Errorf("Unexpected soft errors: %v", report.SoftErrors)
	}
	if provider.LiveObjects() != 0 {
		t.Errorf("LiveObjects = %d after teardown, want 0", provider.LiveObjects())
	}
	if report.Final() != StateTornDown {
		t.Errorf("Final state = %s, want TornDown", report.Final())
	}

	wantStates := []State{
		StateStart, StatePlatformsEnumerated, StateDevicesEnumerated, StateDeviceSelected,
		StateContextCreated, StateSourceLoaded, StateProgramBuilt, StateKernelReady,
		StateQueueReady, StateBuffersAllocated, StateInputsTransferred, StateArgsBound,
		StateDispatched, StateFinished, StateReadBack, StateReported, StateTornDown, StateExit,
	}
	if diff := cmp.Diff(wantStates, report.States); diff != "" {
		t.Errorf("States mismatch (-want +got):\n%s", diff)
	}
}

func TestRunSessionPrintsPlatformTable(t *testing.T) {
	workDir := setupWorkDir(t, vectorAddSource)

	_, _, out, err := runMock(t, compute.DefaultMockConfig(), testOptions(workDir))
	if err != nil {
		t.Fatalf("RunSession failed: %v", err)
	}

	lines := strings.Split(out, "\n")
	if len(lines) < 3 {
		t.Fatalf("Output too short:\n%s", out)
	}
	if lines[0] != strings.Repeat("_", 115) {
		t.Errorf("Underline = %q, want 115 underscores", lines[0])
	}
	if len(lines[1]) != 117 || len(lines[2]) != 117 {
		t.Errorf("Row lengths = %d, %d, want 117", len(lines[1]), len(lines[2]))
	}
	if !strings.HasPrefix(lines[1], " | ") || !strings.HasSuffix(lines[1], " | ") {
		t.Errorf("Header row not delimited: %q", lines[1])
	}
	if !strings.Contains(lines[1], strings.Repeat(" ", 42)+"Platform") {
		t.Errorf("Header not right-aligned: %q", lines[1])
	}
	if !strings.Contains(lines[2], "Mock OpenCL Platform") {
		t.Errorf("Platform row missing: %q", lines[2])
	}
}

func TestRunSessionTeardownOrder(t *testing.T) {
	workDir := setupWorkDir(t, vectorAddSource)

	provider, report, _, err := runMock(t, compute.DefaultMockConfig(), testOptions(workDir))
	if err != nil {
		t.Fatalf("RunSession failed: %v", err)
	}

	calls := provider.Calls()
	var tail []string
	for i, c := range calls {
		if c == "clFlush" {
			tail = calls[i:]
			break
		}
	}
	want := []string{
		"clFlush",
		"clReleaseMemObject(buffer1)",
		"clReleaseMemObject(buffer2)",
		"clReleaseMemObject(buffer3)",
		"clReleaseCommandQueue",
		"clReleaseKernel",
		"clReleaseProgram",
		"clReleaseContext",
	}
	if diff := cmp.Diff(want, tail); diff != "" {
		t.Errorf("Teardown mismatch (-want +got):\n%s", diff)
	}

	wantReleased := []string{
		"clFlush", "clReleaseMemObject", "clReleaseMemObject", "clReleaseMemObject",
		"clReleaseCommandQueue", "clReleaseKernel", "clReleaseProgram", "clReleaseContext",
	}
	if diff := cmp.Diff(wantReleased, report.Released); diff != "" {
		t.Errorf("Released mismatch (-want +got):\n%s", diff)
	}
}

func TestRunSessionFatalPaths(t *testing.T) {
	noDevices := compute.DefaultMockConfig()
	noDevices.Platforms[0].Devices = nil

	noImages := compute.DefaultMockConfig()
	noImages.Platforms[0].Devices[0].ImageSupport = false

	tests := []struct {
		name      string
		cfg       compute.MockConfig
		source    string
		wantErr   error
		wantMsg   string
		wantFinal State
		// calls that must not have been made
		forbidden []string
		// calls that must have been made
		required []string
	}{
		{
			name:      "no devices",
			cfg:       noDevices,
			source:    vectorAddSource,
			wantErr:   ErrNoDevices,
			wantMsg:   "No devices found.\n",
			wantFinal: StatePlatformsEnumerated,
			forbidden: []string{"clCreateContext", "clCreateBuffer"},
		},
		{
			name:      "no image support",
			cfg:       noImages,
			source:    vectorAddSource,
			wantErr:   ErrNoImageSupport,
			wantMsg:   "No image support.\n",
			wantFinal: StateDevicesEnumerated,
			forbidden: []string{"clCreateContext"},
		},
		{
			name:      "missing source",
			cfg:       compute.DefaultMockConfig(),
			wantErr:   ErrSourceNotFound,
			wantMsg:   "Program doesn't exist at path ",
			wantFinal: StateContextCreated,
			forbidden: []string{"clCreateProgramWithSource", "clBuildProgram"},
			required:  []string{"clCreateContext", "clReleaseContext"},
		},
		{
			name:      "build failure",
			cfg:       compute.DefaultMockConfig(),
			source:    "__kernel void vector_add(__global int *a {\n",
			wantErr:   ErrBuildFailed,
			wantMsg:   "clGetProgramBuildInfo != Success\n",
			wantFinal: StateSourceLoaded,
			forbidden: []string{"clCreateKernel", "clCreateCommandQueue"},
			required:  []string{"clReleaseProgram", "clReleaseContext"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			workDir := setupWorkDir(t, tt.source)

			provider, report, out, err := runMock(t, tt.cfg, testOptions(workDir))
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if !strings.Contains(out, tt.wantMsg) {
				t.Errorf("Output missing %q:\n%s", tt.wantMsg, out)
			}
			if report.Final() != tt.wantFinal {
				t.Errorf("Final state = %s, want %s", report.Final(), tt.wantFinal)
			}
			if got := report.States[len(report.States)-1]; got != StateExit {
				t.Errorf("Last state = %s, want Exit", got)
			}

			calls := provider.Calls()
			for _, op := range tt.forbidden {
				if containsCall(calls, op) {
					t.Errorf("Unexpected call %s in %v", op, calls)
				}
			}
			for _, op := range tt.required {
				if !containsCall(calls, op) {
					t.Errorf("Missing call %s in %v", op, calls)
				}
			}
			if provider.LiveObjects() != 0 {
				t.Errorf("LiveObjects = %d, want 0", provider.LiveObjects())
			}
		})
	}
}

func TestRunSessionMissingSourcePath(t *testing.T) {
	workDir := setupWorkDir(t, "")

	_, report, out, err := runMock(t, compute.DefaultMockConfig(), testOptions(workDir))

	var srcErr *SourceError
	if !errors.As(err, &srcErr) {
		t.Fatalf("err = %v, want *SourceError", err)
	}
	want := filepath.Join(workDir, "..", "..", "kernel.cl")
	if srcErr.Path != want {
		t.Errorf("Path = %q, want %q", srcErr.Path, want)
	}
	if report.KernelPath != want {
		t.Errorf("Report.KernelPath = %q, want %q", report.KernelPath, want)
	}
	if !strings.Contains(out, "Program doesn't exist at path "+want+"\n") {
		t.Errorf("Output missing path line:\n%s", out)
	}
}

func TestRunSessionSourcePathIsDirectory(t *testing.T) {
	workDir := setupWorkDir(t, "")
	path := filepath.Join(workDir, "..", "..", "kernel.cl")
	if err := os.MkdirAll(path, 0o755); err != nil {
		t.Fatalf("Failed to create directory: %v", err)
	}

	provider, _, out, err := runMock(t, compute.DefaultMockConfig(), testOptions(workDir))

	var srcErr *SourceError
	if !errors.As(err, &srcErr) {
		t.Fatalf("err = %v, want *SourceError", err)
	}
	if srcErr.Path != path {
		t.Errorf("Path = %q, want %q", srcErr.Path, path)
	}
	if !strings.Contains(out, "Program doesn't exist at path "+path+"\n") {
		t.Errorf("Output missing path line:\n%s", out)
	}
	if containsCall(provider.Calls(), "clCreateProgramWithSource") {
		t.Errorf("Program created for a directory path: %v", provider.Calls())
	}
}

func TestRunSessionLogsAllocations(t *testing.T) {
	workDir := setupWorkDir(t, vectorAddSource)
	var logs bytes.Buffer
	opts := testOptions(workDir)
	opts.Logger = slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))

	if _, _, _, err := runMock(t, compute.DefaultMockConfig(), opts); err != nil {
		t.Fatalf("RunSession failed: %v", err)
	}

	got := logs.String()
	if !strings.Contains(got, "kernel=vector_add") {
		t.Errorf("Kernel name not logged:\n%s", got)
	}
	if n := strings.Count(got, "msg=\"Buffer allocated\""); n != 3 {
		t.Errorf("Buffer allocated logged %d times, want 3:\n%s", n, got)
	}
	if strings.Count(got, "size=32 flags=read_only") != 2 || strings.Count(got, "size=32 flags=write_only") != 1 {
		t.Errorf("Buffer sizes or flags missing:\n%s", got)
	}
}

func TestRunSessionBuildLogPrinted(t *testing.T) {
	workDir := setupWorkDir(t, "__kernel void vector_add(__global int *a {\n")

	_, _, out, err := runMock(t, compute.DefaultMockConfig(), testOptions(workDir))

	var buildErr *BuildError
	if !errors.As(err, &buildErr) {
		t.Fatalf("err = %v, want *BuildError", err)
	}
	if strings.TrimSpace(buildErr.Log) == "" {
		t.Fatal("Build log is empty")
	}
	if !strings.Contains(out, buildErr.Log) {
		t.Errorf("Build log not printed:\n%s", out)
	}
}

func TestRunSessionBuildLogPrintedUnderStrictPolicy(t *testing.T) {
	workDir := setupWorkDir(t, "__kernel void vector_add(__global int *a {\n")
	opts := testOptions(workDir)
	opts.Policy = StrictPolicy()

	_, _, out, err := runMock(t, compute.DefaultMockConfig(), opts)
	if !errors.Is(err, ErrBuildFailed) {
		t.Fatalf("err = %v, want ErrBuildFailed", err)
	}
	if !strings.Contains(out, "ERROR: clBuildProgram (CL_BUILD_PROGRAM_FAILURE)") {
		t.Errorf("Build error line missing:\n%s", out)
	}
	if !strings.Contains(out, "clGetProgramBuildInfo != Success") {
		t.Errorf("Build status line missing:\n%s", out)
	}
}

func TestRunSessionSkipImageCheck(t *testing.T) {
	workDir := setupWorkDir(t, vectorAddSource)
	cfg := compute.DefaultMockConfig()
	cfg.Platforms[0].Devices[0].ImageSupport = false
	opts := testOptions(workDir)
	opts.RequireImageSupport = false

	_, report, _, err := runMock(t, cfg, opts)
	if err != nil {
		t.Fatalf("RunSession failed: %v", err)
	}
	if len(report.Result) != 8 {
		t.Errorf("Result length = %d, want 8", len(report.Result))
	}
}

func TestRunSessionPolicy(t *testing.T) {
	tests := []struct {
		name     string
		policy   Policy
		failure  string
		wantErr  bool
		wantSoft int
	}{
		{name: "default aborts on finish", policy: DefaultPolicy(), failure: "clFinish", wantErr: true},
		{name: "lenient logs finish", policy: LenientPolicy(), failure: "clFinish", wantSoft: 1},
		{name: "default logs flush", policy: DefaultPolicy(), failure: "clFlush", wantSoft: 1},
		{name: "strict still logs release", policy: StrictPolicy(), failure: "clReleaseKernel", wantSoft: 1},
		{name: "default logs platform info", policy: DefaultPolicy(), failure: "clGetPlatformInfo", wantSoft: 1},
		{name: "strict aborts on platform info", policy: StrictPolicy(), failure: "clGetPlatformInfo", wantErr: true},
		{name: "flush override stays soft", policy: LenientPolicy().With("clFlush", ActionAbort), failure: "clFlush", wantSoft: 1},
		{name: "creation always aborts", policy: LenientPolicy(), failure: "clCreateBuffer", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			workDir := setupWorkDir(t, vectorAddSource)
			cfg := compute.DefaultMockConfig()
			cfg.Failures = map[string]compute.Status{tt.failure: compute.OutOfResources}
			opts := testOptions(workDir)
			opts.Policy = tt.policy

			_, report, out, err := runMock(t, cfg, opts)

			if tt.wantErr {
				var stepErr *StepError
				if !errors.As(err, &stepErr) {
					t.Fatalf("err = %v, want *StepError", err)
				}
				if stepErr.Op != tt.failure || !stepErr.Fatal {
					t.Errorf("StepError = %+v, want fatal %s", stepErr, tt.failure)
				}
			} else if err != nil {
				t.Fatalf("RunSession failed: %v", err)
			}

			if len(report.SoftErrors) != tt.wantSoft {
				t.Errorf("SoftErrors = %d, want %d: %v", len(report.SoftErrors), tt.wantSoft, report.SoftErrors)
			}
			if !strings.Contains(out, "ERROR: "+tt.failure+" (CL_OUT_OF_RESOURCES)") {
				t.Errorf("Error line missing:\n%s", out)
			}
		})
	}
}

func TestRunSessionAbortStillTearsDown(t *testing.T) {
	workDir := setupWorkDir(t, vectorAddSource)
	cfg := compute.DefaultMockConfig()
	cfg.Failures = map[string]compute.Status{"clEnqueueNDRangeKernel": compute.InvalidWorkGroupSize}

	provider, report, _, err := runMock(t, cfg, testOptions(workDir))
	if err == nil {
		t.Fatal("Expected error")
	}
	if report.Result != nil {
		t.Errorf("Result = %v, want nil", report.Result)
	}
	if report.Final() != StateArgsBound {
		t.Errorf("Final state = %s, want ArgsBound", report.Final())
	}
	if provider.LiveObjects() != 0 {
		t.Errorf("LiveObjects = %d, want 0", provider.LiveObjects())
	}
	if len(report.Released) != 8 {
		t.Errorf("Released = %v, want 8 calls", report.Released)
	}
}

func TestRunSessionNotification(t *testing.T) {
	workDir := setupWorkDir(t, vectorAddSource)
	provider := compute.NewMockProvider(compute.DefaultMockConfig())
	var out bytes.Buffer

	opts := testOptions(workDir)
	opts.Observer = func(tr Transition) {
		if tr.State == StateContextCreated {
			provider.Notify("out of host memory")
		}
	}

	if _, err := RunSession(context.Background(), provider, console.New(&out, false), opts); err != nil {
		t.Fatalf("RunSession failed: %v", err)
	}
	if !strings.Contains(out.String(), "OpenCL Notification: out of host memory") {
		t.Errorf("Notification missing:\n%s", out.String())
	}
}

func TestRunSessionObserver(t *testing.T) {
	workDir := setupWorkDir(t, vectorAddSource)
	var (
		mu   sync.Mutex
		seen []State
	)
	opts := testOptions(workDir)
	opts.Observer = func(tr Transition) {
		mu.Lock()
		defer mu.Unlock()
		if tr.At.IsZero() {
			t.Error("Transition without timestamp")
		}
		seen = append(seen, tr.State)
	}

	_, report, _, err := runMock(t, compute.DefaultMockConfig(), opts)
	if err != nil {
		t.Fatalf("RunSession failed: %v", err)
	}
	if diff := cmp.Diff(report.States, seen); diff != "" {
		t.Errorf("Observer states mismatch (-report +observer):\n%s", diff)
	}
}

func TestRunSessionPause(t *testing.T) {
	workDir := setupWorkDir(t, vectorAddSource)
	opts := testOptions(workDir)
	opts.Pause = strings.NewReader("\n")

	_, report, _, err := runMock(t, compute.DefaultMockConfig(), opts)
	if err != nil {
		t.Fatalf("RunSession failed: %v", err)
	}
	if report.Final() != StateTornDown {
		t.Errorf("Final state = %s, want TornDown", report.Final())
	}
}

func TestRunSessionPauseCancelled(t *testing.T) {
	workDir := setupWorkDir(t, vectorAddSource)
	pr, pw := io.Pipe()
	defer pw.Close()

	opts := testOptions(workDir)
	opts.Pause = pr

	ctx, cancel := context.WithCancel(context.Background())
	opts.Observer = func(tr Transition) {
		if tr.State == StateReported {
			go func() {
				time.Sleep(20 * time.Millisecond)
				cancel()
			}()
		}
	}

	provider := compute.NewMockProvider(compute.DefaultMockConfig())
	var out bytes.Buffer
	report, err := RunSession(ctx, provider, console.New(&out, false), opts)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if provider.LiveObjects() != 0 {
		t.Errorf("LiveObjects = %d, want 0", provider.LiveObjects())
	}
	if len(report.Result) != 8 {
		t.Errorf("Result length = %d, want 8", len(report.Result))
	}
}

func TestRunSessionCancelledBeforeStart(t *testing.T) {
	workDir := setupWorkDir(t, vectorAddSource)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	provider := compute.NewMockProvider(compute.DefaultMockConfig())
	var out bytes.Buffer
	report, err := RunSession(ctx, provider, console.New(&out, false), testOptions(workDir))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if diff := cmp.Diff([]State{StateStart, StateExit}, report.States); diff != "" {
		t.Errorf("States mismatch (-want +got):\n%s", diff)
	}
	if len(provider.Calls()) != 0 {
		t.Errorf("Unexpected calls: %v", provider.Calls())
	}
}

func TestRunSessionInvalidInputs(t *testing.T) {
	tests := []struct {
		name string
		a, b []int32
	}{
		{name: "length mismatch", a: []int32{1, 2}, b: []int32{1}},
		{name: "empty", a: []int32{}, b: []int32{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := testOptions(t.TempDir())
			opts.InputA, opts.InputB = tt.a, tt.b

			provider, _, _, err := runMock(t, compute.DefaultMockConfig(), opts)
			if !errors.Is(err, ErrInvalidOptions) {
				t.Fatalf("err = %v, want ErrInvalidOptions", err)
			}
			if len(provider.Calls()) != 0 {
				t.Errorf("Unexpected calls: %v", provider.Calls())
			}
		})
	}
}

func TestRunSessionCustomInputs(t *testing.T) {
	workDir := setupWorkDir(t, vectorAddSource)
	opts := testOptions(workDir)
	opts.InputA = []int32{2147483647, -5, 0}
	opts.InputB = []int32{1, 5, 9}

	_, report, _, err := runMock(t, compute.DefaultMockConfig(), opts)
	if err != nil {
		t.Fatalf("RunSession failed: %v", err)
	}
	want := []int32{-2147483648, 0, 9}
	if diff := cmp.Diff(want, report.Result); diff != "" {
		t.Errorf("Result mismatch (-want +got):\n%s", diff)
	}
}

func TestRunSessionPicksFirstDeviceAcrossPlatforms(t *testing.T) {
	workDir := setupWorkDir(t, vectorAddSource)
	cfg := compute.DefaultMockConfig()
	empty := compute.MockPlatform{Info: compute.PlatformInfo{Name: "Empty", Vendor: "none", Version: "OpenCL 3.0"}}
	cfg.Platforms = append([]compute.MockPlatform{empty}, cfg.Platforms...)

	_, report, _, err := runMock(t, cfg, testOptions(workDir))
	if err != nil {
		t.Fatalf("RunSession failed: %v", err)
	}
	if len(report.Platforms) != 2 {
		t.Errorf("Platforms = %d, want 2", len(report.Platforms))
	}
	if report.Device.Name != "MockGPU" {
		t.Errorf("Device = %q, want MockGPU", report.Device.Name)
	}
	if report.Platform.Name != "Mock OpenCL Platform" {
		t.Errorf("Platform = %q, want the platform owning the device", report.Platform.Name)
	}
}
