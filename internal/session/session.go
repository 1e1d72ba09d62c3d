// Package session runs the one-shot compute session: discover a device, build
// the vector_add program, add two integer vectors on the device, print the
// result and release everything that was acquired.
package session

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cwbudde/clvecadd/internal/compute"
	"github.com/cwbudde/clvecadd/internal/console"
)

const (
	// DefaultKernelPath is resolved against the working directory.
	DefaultKernelPath = "../../kernel.cl"
	// DefaultKernelName is the entry point extracted from the built program.
	DefaultKernelName = "vector_add"
)

// DefaultInputA and DefaultInputB are the vectors added by a default session.
var (
	DefaultInputA = []int32{1, 2, 3, 4, 5, 6, 7, 8}
	DefaultInputB = []int32{1, 4, 6, 8, 10, 12, 14, 16}
)

// DefaultColumnWidths are the platform table widths (name, version, vendor).
var DefaultColumnWidths = []int{50, 25, 30}

// Options configures a session.
type Options struct {
	// WorkDir anchors a relative KernelPath. Empty means the process working directory.
	WorkDir    string
	KernelPath string
	KernelName string
	// BuildOptions are passed verbatim to the program build.
	BuildOptions string

	InputA []int32
	InputB []int32

	ColumnWidths []int

	// RequireImageSupport aborts the session when the selected device reports no
	// image support.
	RequireImageSupport bool

	// Policy decides which failed calls end the session. The zero Policy logs
	// every failure; DefaultOptions uses DefaultPolicy.
	Policy Policy

	// Pause, when set, is read up to the first newline after the result is
	// printed and before teardown.
	Pause io.Reader

	// Observer receives every state transition.
	Observer func(Transition)

	Logger *slog.Logger
}

// DefaultOptions returns the fixed vector_add session.
func DefaultOptions() Options {
	return Options{
		KernelPath:          DefaultKernelPath,
		KernelName:          DefaultKernelName,
		InputA:              append([]int32(nil), DefaultInputA...),
		InputB:              append([]int32(nil), DefaultInputB...),
		ColumnWidths:        append([]int(nil), DefaultColumnWidths...),
		RequireImageSupport: true,
		Policy:              DefaultPolicy(),
	}
}

// Report describes what a session did, including sessions that ended early.
type Report struct {
	Platforms []compute.PlatformInfo
	// Platform owns Device.
	Platform   compute.PlatformInfo
	Device     compute.DeviceInfo
	KernelPath string
	Result     []int32
	States     []State
	SoftErrors []*StepError
	// Released lists the release calls made during teardown, in order.
	Released []string
}

// Final is the last state reached before Exit.
func (r *Report) Final() State {
	for i := len(r.States) - 1; i >= 0; i-- {
		if r.States[i] != StateExit {
			return r.States[i]
		}
	}
	return StateStart
}

// Session drives a single compute session against a provider.
type Session struct {
	provider compute.Provider
	console  *console.Console
	opts     Options
	logger   *slog.Logger
	report   *Report
}

// New creates a session. Empty kernel, input and width options fall back to
// the defaults.
func New(provider compute.Provider, out *console.Console, opts Options) *Session {
	defaults := DefaultOptions()
	if opts.KernelPath == "" {
		opts.KernelPath = defaults.KernelPath
	}
	if opts.KernelName == "" {
		opts.KernelName = defaults.KernelName
	}
	if opts.InputA == nil && opts.InputB == nil {
		opts.InputA, opts.InputB = defaults.InputA, defaults.InputB
	}
	if len(opts.ColumnWidths) == 0 {
		opts.ColumnWidths = defaults.ColumnWidths
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		provider: provider,
		console:  out,
		opts:     opts,
		logger:   logger,
	}
}

// RunSession runs one session and returns its report.
func RunSession(ctx context.Context, provider compute.Provider, out *console.Console, opts Options) (*Report, error) {
	return New(provider, out, opts).Run(ctx)
}

// resources holds everything acquired so far. Teardown releases whatever is
// set, in a fixed order, on every exit path.
type resources struct {
	context compute.Context
	program compute.Program
	kernel  compute.Kernel
	queue   compute.CommandQueue
	buffers []compute.Buffer
}

// Run executes the session. The returned report is never nil.
func (s *Session) Run(ctx context.Context) (*Report, error) {
	s.report = &Report{}

	if err := s.validate(); err != nil {
		return s.report, err
	}

	res := &resources{}
	err := s.run(ctx, res)

	s.teardown(res)
	if err == nil {
		s.enter(StateTornDown)
	}
	s.enter(StateExit)

	if err != nil {
		s.logger.Error("Session aborted", "state", s.report.Final().String(), "error", err)
	}
	return s.report, err
}

func (s *Session) validate() error {
	n := len(s.opts.InputA)
	if n == 0 || n != len(s.opts.InputB) {
		return fmt.Errorf("%w: inputs must be non-empty and of equal length (got %d and %d)",
			ErrInvalidOptions, len(s.opts.InputA), len(s.opts.InputB))
	}
	if len(s.opts.ColumnWidths) != 3 {
		return fmt.Errorf("%w: platform table needs 3 column widths, got %d", ErrInvalidOptions, len(s.opts.ColumnWidths))
	}
	return nil
}

func (s *Session) run(ctx context.Context, res *resources) error {
	if err := s.advance(ctx, StateStart); err != nil {
		return err
	}

	// Enumerate platforms
	platforms, err := s.provider.Platforms()
	if err := s.check("clGetPlatformIDs", err); err != nil {
		return err
	}

	table := s.console.Table(s.opts.ColumnWidths...)
	if err := table.WriteRow(true, "Platform", "Version", "Vendor"); err != nil {
		return err
	}
	for _, platform := range platforms {
		info, err := platform.Info()
		if err := s.check("clGetPlatformInfo", err); err != nil {
			return err
		}
		if err := table.WriteRow(false, info.Name, info.Version, info.Vendor); err != nil {
			return err
		}
		s.report.Platforms = append(s.report.Platforms, info)
	}
	if err := s.advance(ctx, StatePlatformsEnumerated); err != nil {
		return err
	}

	// Enumerate devices in platform order
	var devices []compute.Device
	for i, platform := range platforms {
		found, err := platform.Devices()
		if err := s.check("clGetDeviceIDs", err); err != nil {
			return err
		}
		if len(devices) == 0 && len(found) > 0 && i < len(s.report.Platforms) {
			s.report.Platform = s.report.Platforms[i]
		}
		devices = append(devices, found...)
	}
	s.logger.Debug("Devices enumerated", "platforms", len(platforms), "devices", len(devices))
	if len(devices) == 0 {
		s.console.Println("No devices found.")
		return ErrNoDevices
	}
	if err := s.advance(ctx, StateDevicesEnumerated); err != nil {
		return err
	}

	// Select the first device
	device := devices[0]
	info, err := device.Info()
	if err := s.check("clGetDeviceInfo", err); err != nil {
		return err
	}
	s.report.Device = info
	if s.opts.RequireImageSupport && !info.ImageSupport {
		s.console.Println("No image support.")
		return ErrNoImageSupport
	}
	s.logger.Info("Device selected",
		"backend", s.provider.Name(),
		"device", info.Name,
		"vendor", info.Vendor,
		"type", string(info.Type),
		"compute_units", info.MaxComputeUnits,
	)
	if err := s.advance(ctx, StateDeviceSelected); err != nil {
		return err
	}

	// Create context
	res.context, err = s.provider.CreateContext([]compute.Device{device}, s.notify)
	if err != nil {
		return s.fatal("clCreateContext", err)
	}
	if err := s.advance(ctx, StateContextCreated); err != nil {
		return err
	}

	// Load kernel source
	path := s.kernelPath()
	s.report.KernelPath = path
	// a directory at the path counts as missing
	if info, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) || (err == nil && info.IsDir()) {
		s.console.Println("Program doesn't exist at path " + path)
		return &SourceError{Path: path}
	}
	source, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read kernel source: %w", err)
	}
	if err := s.advance(ctx, StateSourceLoaded); err != nil {
		return err
	}

	// Compile
	res.program, err = res.context.CreateProgramWithSource(string(source))
	if err != nil {
		return s.fatal("clCreateProgramWithSource", err)
	}
	buildErr := s.check("clBuildProgram", res.program.Build([]compute.Device{device}, s.opts.BuildOptions))
	if err := s.checkBuild(res.program, device); err != nil {
		return err
	}
	if buildErr != nil {
		return buildErr
	}
	if err := s.advance(ctx, StateProgramBuilt); err != nil {
		return err
	}

	// Extract kernel
	res.kernel, err = res.program.CreateKernel(s.opts.KernelName)
	if err != nil {
		return s.fatal("clCreateKernel", err)
	}
	s.logger.Debug("Kernel ready", "kernel", res.kernel.Name())
	if err := s.advance(ctx, StateKernelReady); err != nil {
		return err
	}

	// Create command queue
	res.queue, err = res.context.CreateCommandQueue(device)
	if err != nil {
		return s.fatal("clCreateCommandQueue", err)
	}
	if err := s.advance(ctx, StateQueueReady); err != nil {
		return err
	}

	// Allocate buffers
	n := len(s.opts.InputA)
	size := n * 4
	for _, flags := range []compute.MemFlags{compute.MemReadOnly, compute.MemReadOnly, compute.MemWriteOnly} {
		buf, err := res.context.CreateBuffer(flags, size)
		if err != nil {
			return s.fatal("clCreateBuffer", err)
		}
		res.buffers = append(res.buffers, buf)
		s.logger.Debug("Buffer allocated", "index", len(res.buffers)-1, "size", buf.Size(), "flags", buf.Flags().String())
	}
	bufA, bufB, bufC := res.buffers[0], res.buffers[1], res.buffers[2]
	if err := s.advance(ctx, StateBuffersAllocated); err != nil {
		return err
	}

	// Copy inputs to the device
	if err := s.check("clEnqueueWriteBuffer", res.queue.EnqueueWriteBuffer(bufA, true, 0, s.opts.InputA)); err != nil {
		return err
	}
	if err := s.check("clEnqueueWriteBuffer", res.queue.EnqueueWriteBuffer(bufB, true, 0, s.opts.InputB)); err != nil {
		return err
	}
	if err := s.advance(ctx, StateInputsTransferred); err != nil {
		return err
	}

	// Bind kernel arguments
	for i, buf := range []compute.Buffer{bufA, bufB, bufC} {
		if err := s.check("clSetKernelArg", res.kernel.SetArgBuffer(i, buf)); err != nil {
			return err
		}
	}
	if err := s.advance(ctx, StateArgsBound); err != nil {
		return err
	}

	// Launch
	if err := s.check("clEnqueueNDRangeKernel", res.queue.EnqueueNDRangeKernel(res.kernel, []int{n}, nil)); err != nil {
		return err
	}
	if err := s.advance(ctx, StateDispatched); err != nil {
		return err
	}
	if err := s.check("clFinish", res.queue.Finish()); err != nil {
		return err
	}
	if err := s.advance(ctx, StateFinished); err != nil {
		return err
	}

	// Read back
	result := make([]int32, n)
	if err := s.check("clEnqueueReadBuffer", res.queue.EnqueueReadBuffer(bufC, true, 0, result)); err != nil {
		return err
	}
	s.report.Result = result
	if err := s.advance(ctx, StateReadBack); err != nil {
		return err
	}

	s.console.Printf("\n-> Test\nOutput: %s\n", joinInts(result))
	if err := s.advance(ctx, StateReported); err != nil {
		return err
	}

	return s.pause(ctx)
}

// checkBuild verifies the build status and surfaces the build log on failure.
func (s *Session) checkBuild(program compute.Program, device compute.Device) error {
	status, err := program.BuildStatus(device)
	if err == nil && status == compute.BuildSuccess {
		return nil
	}
	if err != nil {
		// The build log below is the useful diagnostic here.
		_ = s.check("clGetProgramBuildInfo", err)
		status = compute.BuildError
	}

	s.console.Println("clGetProgramBuildInfo != Success")
	log, err := program.BuildLog(device)
	if err != nil {
		_ = s.check("clGetProgramBuildInfo", err)
	}
	s.console.Println(log)
	s.logger.Error("OpenCL build log", "status", status.String(), "log", log)

	return &BuildError{Status: status, Log: log}
}

func (s *Session) kernelPath() string {
	path := s.opts.KernelPath
	if filepath.IsAbs(path) {
		return path
	}
	dir := s.opts.WorkDir
	if dir == "" {
		if wd, err := os.Getwd(); err == nil {
			dir = wd
		}
	}
	return filepath.Join(dir, path)
}

func (s *Session) pause(ctx context.Context) error {
	if s.opts.Pause == nil {
		return nil
	}

	done := make(chan struct{})
	go func() {
		_, _ = bufio.NewReader(s.opts.Pause).ReadString('\n')
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// notify is the context callback. The driver may call it from any thread.
func (s *Session) notify(message string) {
	s.console.Notification(message)
	s.logger.Warn("OpenCL notification", "message", message)
}

// check applies the error policy to a soft-checked call.
func (s *Session) check(op string, err error) error {
	if err == nil {
		return nil
	}

	stepErr := &StepError{Op: op, Err: err}
	s.console.Error(op, stepErr.Code())
	if s.opts.Policy.ActionFor(op) == ActionAbort {
		stepErr.Fatal = true
		return stepErr
	}

	s.logger.Warn("OpenCL call failed", "op", op, "error", err)
	s.report.SoftErrors = append(s.report.SoftErrors, stepErr)
	return nil
}

// fatal reports a failed resource creation; the session cannot continue without it.
func (s *Session) fatal(op string, err error) error {
	stepErr := &StepError{Op: op, Err: err, Fatal: true}
	s.console.Error(op, stepErr.Code())
	return stepErr
}

func (s *Session) advance(ctx context.Context, state State) error {
	s.enter(state)
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("session cancelled after %s: %w", state, err)
	}
	return nil
}

func (s *Session) enter(state State) {
	s.report.States = append(s.report.States, state)
	s.logger.Debug("Session state", "state", state.String())
	if s.opts.Observer != nil {
		s.opts.Observer(Transition{State: state, At: time.Now()})
	}
}

// teardown flushes the queue and releases buffers, queue, kernel, program and
// context in that order. Release failures are logged and never stop teardown.
func (s *Session) teardown(res *resources) {
	if res.queue != nil {
		s.release("clFlush", res.queue.Flush)
	}
	for _, buf := range res.buffers {
		s.release("clReleaseMemObject", buf.Release)
	}
	if res.queue != nil {
		s.release("clReleaseCommandQueue", res.queue.Release)
	}
	if res.kernel != nil {
		s.release("clReleaseKernel", res.kernel.Release)
	}
	if res.program != nil {
		s.release("clReleaseProgram", res.program.Release)
	}
	if res.context != nil {
		s.release("clReleaseContext", res.context.Release)
	}
}

func (s *Session) release(op string, fn func() error) {
	s.report.Released = append(s.report.Released, op)
	if err := fn(); err != nil {
		stepErr := &StepError{Op: op, Err: err}
		s.console.Error(op, stepErr.Code())
		s.logger.Warn("OpenCL release failed", "op", op, "error", err)
		s.report.SoftErrors = append(s.report.SoftErrors, stepErr)
	}
}

func joinInts(values []int32) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = fmt.Sprintf("%d", v)
	}
	return strings.Join(parts, " ")
}
