package compute

import (
	"encoding/binary"
	"fmt"
	"regexp"
	"strings"
	"sync"
)

// MockPlatform describes one fake platform and its devices.
type MockPlatform struct {
	Info    PlatformInfo
	Devices []DeviceInfo
}

// MockConfig configures a MockProvider.
type MockConfig struct {
	Platforms []MockPlatform
	// Failures makes the named driver call (e.g. "clCreateBuffer") fail with the
	// given status every time it is made.
	Failures map[string]Status
}

// DefaultMockConfig returns a single platform with one image-capable GPU.
func DefaultMockConfig() MockConfig {
	return MockConfig{
		Platforms: []MockPlatform{
			{
				Info: PlatformInfo{
					Name:    "Mock OpenCL Platform",
					Vendor:  "clvecadd",
					Version: "OpenCL 1.2 mock",
				},
				Devices: []DeviceInfo{
					{
						Name:            "MockGPU",
						Vendor:          "clvecadd",
						Version:         "OpenCL 1.2 mock",
						Type:            DeviceTypeGPU,
						MaxComputeUnits: 8,
						ImageSupport:    true,
					},
				},
			},
		},
	}
}

// MockProvider is a CPU-backed provider for development and tests. It compiles
// kernel source with a shallow syntax check and executes known kernels on the host.
// Every driver call is journaled so tests can assert ordering.
type MockProvider struct {
	cfg MockConfig

	mu       sync.Mutex
	calls    []string
	live     map[string]int
	notifies []uintptr
	nextID   int
}

// NewMockProvider returns a provider exposing the configured platforms.
func NewMockProvider(cfg MockConfig) *MockProvider {
	return &MockProvider{
		cfg:  cfg,
		live: make(map[string]int),
	}
}

func (p *MockProvider) Name() string {
	return string(BackendMock)
}

// Calls returns a copy of the driver call journal.
func (p *MockProvider) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.calls))
	copy(out, p.calls)
	return out
}

// LiveObjects reports how many created objects have not been released yet.
func (p *MockProvider) LiveObjects() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	total := 0
	for _, n := range p.live {
		total += n
	}
	return total
}

// Notify delivers message to every live context callback, each on its own
// goroutine, and waits for them to return.
func (p *MockProvider) Notify(message string) {
	p.mu.Lock()
	ids := make([]uintptr, 0, len(p.notifies))
	for _, id := range p.notifies {
		if id != 0 {
			ids = append(ids, id)
		}
	}
	p.mu.Unlock()

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id uintptr) {
			defer wg.Done()
			contextNotify.dispatch(id, message)
		}(id)
	}
	wg.Wait()
}

// call journals a driver call and returns the injected failure for op, if any.
func (p *MockProvider) call(op, detail string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	entry := op
	if detail != "" {
		entry = op + "(" + detail + ")"
	}
	p.calls = append(p.calls, entry)
	if status, ok := p.cfg.Failures[op]; ok && status != Success {
		return &StatusError{Op: op, Status: status}
	}
	return nil
}

func (p *MockProvider) track(kind string, delta int) {
	p.mu.Lock()
	p.live[kind] += delta
	p.mu.Unlock()
}

func (p *MockProvider) newID() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextID++
	return p.nextID
}

func (p *MockProvider) Platforms() ([]Platform, error) {
	if err := p.call("clGetPlatformIDs", ""); err != nil {
		return nil, err
	}
	platforms := make([]Platform, len(p.cfg.Platforms))
	for i := range p.cfg.Platforms {
		platforms[i] = &mockPlatform{provider: p, index: i}
	}
	return platforms, nil
}

func (p *MockProvider) CreateContext(devices []Device, notify NotifyFunc) (Context, error) {
	if err := p.call("clCreateContext", ""); err != nil {
		return nil, err
	}
	if len(devices) == 0 {
		return nil, statusError("clCreateContext", InvalidValue)
	}
	owned := make([]*mockDevice, len(devices))
	for i, device := range devices {
		dev, ok := device.(*mockDevice)
		if !ok || dev.provider != p {
			return nil, ErrForeignHandle
		}
		owned[i] = dev
	}

	p.mu.Lock()
	slot := len(p.notifies)
	p.notifies = append(p.notifies, contextNotify.register(notify))
	p.mu.Unlock()
	p.track("context", 1)

	return &mockContext{provider: p, devices: owned, notifySlot: slot}, nil
}

type mockPlatform struct {
	provider *MockProvider
	index    int
}

func (pl *mockPlatform) Info() (PlatformInfo, error) {
	if err := pl.provider.call("clGetPlatformInfo", ""); err != nil {
		return PlatformInfo{}, err
	}
	return pl.provider.cfg.Platforms[pl.index].Info, nil
}

func (pl *mockPlatform) Devices() ([]Device, error) {
	if err := pl.provider.call("clGetDeviceIDs", ""); err != nil {
		return nil, err
	}
	infos := pl.provider.cfg.Platforms[pl.index].Devices
	devices := make([]Device, len(infos))
	for i, info := range infos {
		devices[i] = &mockDevice{provider: pl.provider, info: info}
	}
	return devices, nil
}

type mockDevice struct {
	provider *MockProvider
	info     DeviceInfo
}

func (d *mockDevice) Info() (DeviceInfo, error) {
	if err := d.provider.call("clGetDeviceInfo", ""); err != nil {
		return DeviceInfo{}, err
	}
	return d.info, nil
}

type mockContext struct {
	provider   *MockProvider
	devices    []*mockDevice
	notifySlot int
	released   bool
}

func (c *mockContext) owns(device Device) (*mockDevice, bool) {
	dev, ok := device.(*mockDevice)
	if !ok {
		return nil, false
	}
	for _, d := range c.devices {
		if d == dev {
			return dev, true
		}
	}
	return nil, false
}

func (c *mockContext) CreateProgramWithSource(source string) (Program, error) {
	if err := c.provider.call("clCreateProgramWithSource", ""); err != nil {
		return nil, err
	}
	if c.released {
		return nil, statusError("clCreateProgramWithSource", InvalidContext)
	}
	if strings.TrimSpace(source) == "" {
		return nil, statusError("clCreateProgramWithSource", InvalidValue)
	}
	c.provider.track("program", 1)
	return &mockProgram{context: c, source: source, status: BuildNone}, nil
}

func (c *mockContext) CreateCommandQueue(device Device) (CommandQueue, error) {
	if err := c.provider.call("clCreateCommandQueue", ""); err != nil {
		return nil, err
	}
	if c.released {
		return nil, statusError("clCreateCommandQueue", InvalidContext)
	}
	if _, ok := c.owns(device); !ok {
		return nil, statusError("clCreateCommandQueue", InvalidDevice)
	}
	c.provider.track("queue", 1)
	return &mockQueue{context: c}, nil
}

func (c *mockContext) CreateBuffer(flags MemFlags, size int) (Buffer, error) {
	if err := c.provider.call("clCreateBuffer", flags.String()); err != nil {
		return nil, err
	}
	if c.released {
		return nil, statusError("clCreateBuffer", InvalidContext)
	}
	if size <= 0 {
		return nil, statusError("clCreateBuffer", InvalidBufferSize)
	}
	c.provider.track("buffer", 1)
	return &mockBuffer{
		context: c,
		id:      c.provider.newID(),
		flags:   flags,
		data:    make([]byte, size),
	}, nil
}

func (c *mockContext) Release() error {
	if err := c.provider.call("clReleaseContext", ""); err != nil {
		return err
	}
	if c.released {
		return statusError("clReleaseContext", InvalidContext)
	}
	c.released = true
	c.provider.mu.Lock()
	contextNotify.unregister(c.provider.notifies[c.notifySlot])
	c.provider.notifies[c.notifySlot] = 0
	c.provider.mu.Unlock()
	c.provider.track("context", -1)
	return nil
}

var kernelDecl = regexp.MustCompile(`__kernel\s+void\s+([A-Za-z_]\w*)\s*\(`)

type mockProgram struct {
	context  *mockContext
	source   string
	status   BuildStatus
	log      string
	kernels  []string
	released bool
}

func (pr *mockProgram) Build(devices []Device, options string) error {
	if err := pr.context.provider.call("clBuildProgram", ""); err != nil {
		return err
	}
	if pr.released {
		return statusError("clBuildProgram", InvalidProgram)
	}
	for _, device := range devices {
		if _, ok := pr.context.owns(device); !ok {
			return statusError("clBuildProgram", InvalidDevice)
		}
	}

	kernels, log := compileMock(pr.source)
	pr.log = log
	if log != "" {
		pr.status = BuildError
		return statusError("clBuildProgram", BuildProgramFailure)
	}
	pr.kernels = kernels
	pr.status = BuildSuccess
	return nil
}

func (pr *mockProgram) BuildStatus(device Device) (BuildStatus, error) {
	if err := pr.context.provider.call("clGetProgramBuildInfo", "status"); err != nil {
		return BuildNone, err
	}
	if _, ok := pr.context.owns(device); !ok {
		return BuildNone, statusError("clGetProgramBuildInfo", InvalidDevice)
	}
	return pr.status, nil
}

func (pr *mockProgram) BuildLog(device Device) (string, error) {
	if err := pr.context.provider.call("clGetProgramBuildInfo", "log"); err != nil {
		return "", err
	}
	if _, ok := pr.context.owns(device); !ok {
		return "", statusError("clGetProgramBuildInfo", InvalidDevice)
	}
	return pr.log, nil
}

func (pr *mockProgram) CreateKernel(name string) (Kernel, error) {
	if err := pr.context.provider.call("clCreateKernel", name); err != nil {
		return nil, err
	}
	if pr.status != BuildSuccess {
		return nil, statusError("clCreateKernel", InvalidProgramExecutable)
	}
	found := false
	for _, k := range pr.kernels {
		if k == name {
			found = true
			break
		}
	}
	if !found {
		return nil, statusError("clCreateKernel", InvalidKernelName)
	}
	pr.context.provider.track("kernel", 1)
	return &mockKernel{program: pr, name: name, args: make(map[int]*mockBuffer)}, nil
}

func (pr *mockProgram) Release() error {
	if err := pr.context.provider.call("clReleaseProgram", ""); err != nil {
		return err
	}
	if pr.released {
		return statusError("clReleaseProgram", InvalidProgram)
	}
	pr.released = true
	pr.context.provider.track("program", -1)
	return nil
}

// compileMock returns the kernel entry points declared in source, or a non-empty
// build log describing why the source was rejected.
func compileMock(source string) ([]string, string) {
	pairs := []struct{ open, close rune }{{'(', ')'}, {'{', '}'}, {'[', ']'}}
	for _, pair := range pairs {
		depth := 0
		for _, r := range source {
			switch r {
			case pair.open:
				depth++
			case pair.close:
				depth--
			}
			if depth < 0 {
				return nil, fmt.Sprintf("<source>: error: unexpected '%c'", pair.close)
			}
		}
		if depth != 0 {
			return nil, fmt.Sprintf("<source>: error: expected '%c' before end of input", pair.close)
		}
	}

	matches := kernelDecl.FindAllStringSubmatch(source, -1)
	if len(matches) == 0 {
		return nil, "<source>: error: no __kernel functions declared"
	}
	names := make([]string, len(matches))
	for i, m := range matches {
		names[i] = m[1]
	}
	return names, ""
}

type mockKernel struct {
	program  *mockProgram
	name     string
	args     map[int]*mockBuffer
	released bool
}

func (k *mockKernel) Name() string {
	return k.name
}

func (k *mockKernel) SetArgBuffer(index int, buffer Buffer) error {
	if err := k.program.context.provider.call("clSetKernelArg", fmt.Sprintf("%d", index)); err != nil {
		return err
	}
	if k.released {
		return statusError("clSetKernelArg", InvalidKernel)
	}
	buf, ok := buffer.(*mockBuffer)
	if !ok || buf.released {
		return statusError("clSetKernelArg", InvalidMemObject)
	}
	if index < 0 {
		return statusError("clSetKernelArg", InvalidArgIndex)
	}
	k.args[index] = buf
	return nil
}

func (k *mockKernel) Release() error {
	if err := k.program.context.provider.call("clReleaseKernel", ""); err != nil {
		return err
	}
	if k.released {
		return statusError("clReleaseKernel", InvalidKernel)
	}
	k.released = true
	k.program.context.provider.track("kernel", -1)
	return nil
}

// mockKernelFunc executes a kernel over a 1-D range on the host.
type mockKernelFunc func(args map[int]*mockBuffer, global int) Status

var mockKernels = map[string]mockKernelFunc{
	"vector_add": vectorAddMock,
}

func vectorAddMock(args map[int]*mockBuffer, global int) Status {
	a, b, c := args[0], args[1], args[2]
	if a == nil || b == nil || c == nil {
		return InvalidKernelArgs
	}
	if c.flags&MemReadOnly != 0 {
		return InvalidMemObject
	}
	need := global * 4
	if len(a.data) < need || len(b.data) < need || len(c.data) < need {
		return InvalidWorkItemSize
	}
	for i := 0; i < global; i++ {
		off := i * 4
		av := int32(binary.LittleEndian.Uint32(a.data[off:]))
		bv := int32(binary.LittleEndian.Uint32(b.data[off:]))
		binary.LittleEndian.PutUint32(c.data[off:], uint32(av+bv))
	}
	return Success
}

type mockQueue struct {
	context  *mockContext
	released bool
}

func (q *mockQueue) EnqueueWriteBuffer(buffer Buffer, blocking bool, offset int, data []int32) error {
	if err := q.context.provider.call("clEnqueueWriteBuffer", ""); err != nil {
		return err
	}
	if !blocking {
		return ErrNonBlocking
	}
	buf, status := q.target(buffer, offset, len(data))
	if status != Success {
		return statusError("clEnqueueWriteBuffer", status)
	}
	for i, v := range data {
		binary.LittleEndian.PutUint32(buf.data[offset+i*4:], uint32(v))
	}
	return nil
}

func (q *mockQueue) EnqueueNDRangeKernel(kernel Kernel, global, local []int) error {
	if err := q.context.provider.call("clEnqueueNDRangeKernel", ""); err != nil {
		return err
	}
	if q.released {
		return statusError("clEnqueueNDRangeKernel", InvalidCommandQueue)
	}
	k, ok := kernel.(*mockKernel)
	if !ok || k.released {
		return statusError("clEnqueueNDRangeKernel", InvalidKernel)
	}
	if len(global) != 1 {
		return statusError("clEnqueueNDRangeKernel", InvalidWorkDimension)
	}
	if local != nil && (len(local) != 1 || local[0] <= 0 || global[0]%local[0] != 0) {
		return statusError("clEnqueueNDRangeKernel", InvalidWorkGroupSize)
	}
	if global[0] <= 0 {
		return statusError("clEnqueueNDRangeKernel", InvalidGlobalOffset)
	}
	fn, ok := mockKernels[k.name]
	if !ok {
		return statusError("clEnqueueNDRangeKernel", InvalidOperation)
	}
	return statusError("clEnqueueNDRangeKernel", fn(k.args, global[0]))
}

func (q *mockQueue) EnqueueReadBuffer(buffer Buffer, blocking bool, offset int, dst []int32) error {
	if err := q.context.provider.call("clEnqueueReadBuffer", ""); err != nil {
		return err
	}
	if !blocking {
		return ErrNonBlocking
	}
	buf, status := q.target(buffer, offset, len(dst))
	if status != Success {
		return statusError("clEnqueueReadBuffer", status)
	}
	for i := range dst {
		dst[i] = int32(binary.LittleEndian.Uint32(buf.data[offset+i*4:]))
	}
	return nil
}

// target validates a host transfer of n int32 values at byte offset.
func (q *mockQueue) target(buffer Buffer, offset, n int) (*mockBuffer, Status) {
	if q.released {
		return nil, InvalidCommandQueue
	}
	buf, ok := buffer.(*mockBuffer)
	if !ok || buf.released {
		return nil, InvalidMemObject
	}
	if buf.context != q.context {
		return nil, InvalidContext
	}
	if n == 0 || offset < 0 || offset+n*4 > len(buf.data) {
		return nil, InvalidValue
	}
	return buf, Success
}

func (q *mockQueue) Finish() error {
	if err := q.context.provider.call("clFinish", ""); err != nil {
		return err
	}
	if q.released {
		return statusError("clFinish", InvalidCommandQueue)
	}
	return nil
}

func (q *mockQueue) Flush() error {
	if err := q.context.provider.call("clFlush", ""); err != nil {
		return err
	}
	if q.released {
		return statusError("clFlush", InvalidCommandQueue)
	}
	return nil
}

func (q *mockQueue) Release() error {
	if err := q.context.provider.call("clReleaseCommandQueue", ""); err != nil {
		return err
	}
	if q.released {
		return statusError("clReleaseCommandQueue", InvalidCommandQueue)
	}
	q.released = true
	q.context.provider.track("queue", -1)
	return nil
}

type mockBuffer struct {
	context  *mockContext
	id       int
	flags    MemFlags
	data     []byte
	released bool
}

func (b *mockBuffer) Size() int {
	return len(b.data)
}

func (b *mockBuffer) Flags() MemFlags {
	return b.flags
}

func (b *mockBuffer) Release() error {
	if err := b.context.provider.call("clReleaseMemObject", fmt.Sprintf("buffer%d", b.id)); err != nil {
		return err
	}
	if b.released {
		return statusError("clReleaseMemObject", InvalidMemObject)
	}
	b.released = true
	b.context.provider.track("buffer", -1)
	return nil
}
