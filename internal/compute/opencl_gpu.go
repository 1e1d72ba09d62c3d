//go:build gpu

package compute

/*
#cgo linux LDFLAGS: -lOpenCL
#cgo windows LDFLAGS: -lOpenCL
#cgo darwin LDFLAGS: -framework OpenCL
#define CL_TARGET_OPENCL_VERSION 120
#define CL_USE_DEPRECATED_OPENCL_1_2_APIS
#ifdef __APPLE__
#include <OpenCL/opencl.h>
#else
#include <CL/cl.h>
#endif
#include <stdint.h>
#include <stdlib.h>

#define CLVECADD_PLATFORM_NOT_FOUND_KHR -1001

extern void clvecaddContextNotify(char *errinfo, uintptr_t handle);

static void CL_CALLBACK clvecadd_notify(const char *errinfo, const void *private_info, size_t cb, void *user_data) {
	(void)private_info;
	(void)cb;
	clvecaddContextNotify((char *)errinfo, (uintptr_t)user_data);
}

static cl_context clvecadd_create_context(cl_uint count, const cl_device_id *devices, uintptr_t handle, cl_int *status) {
	if (handle == 0) {
		return clCreateContext(NULL, count, devices, NULL, NULL, status);
	}
	return clCreateContext(NULL, count, devices, clvecadd_notify, (void *)handle, status);
}
*/
import "C"

import (
	"fmt"
	"log/slog"
	"unsafe"
)

type openCLProvider struct{}

// NewOpenCL returns a provider backed by the system OpenCL ICD loader.
func NewOpenCL() (Provider, error) {
	return &openCLProvider{}, nil
}

func (p *openCLProvider) Name() string {
	return string(BackendOpenCL)
}

func (p *openCLProvider) Platforms() ([]Platform, error) {
	var count C.cl_uint
	status := C.clGetPlatformIDs(0, nil, &count)
	if status == C.CLVECADD_PLATFORM_NOT_FOUND_KHR {
		return nil, nil
	}
	if status != C.CL_SUCCESS {
		return nil, clStatus("clGetPlatformIDs(count)", status)
	}
	if count == 0 {
		return nil, nil
	}

	ids := make([]C.cl_platform_id, int(count))
	status = C.clGetPlatformIDs(count, &ids[0], nil)
	if status != C.CL_SUCCESS {
		return nil, clStatus("clGetPlatformIDs(list)", status)
	}

	platforms := make([]Platform, len(ids))
	for i, id := range ids {
		platforms[i] = &clPlatform{id: id}
	}
	return platforms, nil
}

func (p *openCLProvider) CreateContext(devices []Device, notify NotifyFunc) (Context, error) {
	ids, err := deviceIDs(devices)
	if err != nil {
		return nil, err
	}

	handle := contextNotify.register(notify)

	var status C.cl_int
	ctx := C.clvecadd_create_context(C.cl_uint(len(ids)), &ids[0], C.uintptr_t(handle), &status)
	if status != C.CL_SUCCESS {
		contextNotify.unregister(handle)
		return nil, clStatus("clCreateContext", status)
	}

	return &clContext{ctx: ctx, handle: handle}, nil
}

type clPlatform struct {
	id C.cl_platform_id
}

func (p *clPlatform) Info() (PlatformInfo, error) {
	name, err := getPlatformString(p.id, C.CL_PLATFORM_NAME)
	if err != nil {
		return PlatformInfo{}, err
	}
	vendor, err := getPlatformString(p.id, C.CL_PLATFORM_VENDOR)
	if err != nil {
		return PlatformInfo{}, err
	}
	version, err := getPlatformString(p.id, C.CL_PLATFORM_VERSION)
	if err != nil {
		return PlatformInfo{}, err
	}
	return PlatformInfo{Name: name, Vendor: vendor, Version: version}, nil
}

func (p *clPlatform) Devices() ([]Device, error) {
	var count C.cl_uint
	status := C.clGetDeviceIDs(p.id, C.CL_DEVICE_TYPE_ALL, 0, nil, &count)
	if status == C.CL_DEVICE_NOT_FOUND || (status == C.CL_SUCCESS && count == 0) {
		return nil, nil
	}
	if status != C.CL_SUCCESS {
		return nil, clStatus("clGetDeviceIDs(count)", status)
	}

	ids := make([]C.cl_device_id, int(count))
	status = C.clGetDeviceIDs(p.id, C.CL_DEVICE_TYPE_ALL, count, &ids[0], nil)
	if status != C.CL_SUCCESS {
		return nil, clStatus("clGetDeviceIDs(list)", status)
	}

	devices := make([]Device, len(ids))
	for i, id := range ids {
		devices[i] = &clDevice{id: id}
	}
	return devices, nil
}

type clDevice struct {
	id C.cl_device_id
}

func (d *clDevice) Info() (DeviceInfo, error) {
	name, err := getDeviceString(d.id, C.CL_DEVICE_NAME)
	if err != nil {
		return DeviceInfo{}, err
	}
	vendor, err := getDeviceString(d.id, C.CL_DEVICE_VENDOR)
	if err != nil {
		return DeviceInfo{}, err
	}
	version, err := getDeviceString(d.id, C.CL_DEVICE_VERSION)
	if err != nil {
		return DeviceInfo{}, err
	}

	var rawType C.cl_device_type
	status := C.clGetDeviceInfo(d.id, C.CL_DEVICE_TYPE, C.size_t(unsafe.Sizeof(rawType)), unsafe.Pointer(&rawType), nil)
	if status != C.CL_SUCCESS {
		return DeviceInfo{}, clStatus("clGetDeviceInfo(type)", status)
	}

	var computeUnits C.cl_uint
	status = C.clGetDeviceInfo(d.id, C.CL_DEVICE_MAX_COMPUTE_UNITS, C.size_t(unsafe.Sizeof(computeUnits)), unsafe.Pointer(&computeUnits), nil)
	if status != C.CL_SUCCESS {
		return DeviceInfo{}, clStatus("clGetDeviceInfo(computeUnits)", status)
	}

	var imageSupport C.cl_bool
	status = C.clGetDeviceInfo(d.id, C.CL_DEVICE_IMAGE_SUPPORT, C.size_t(unsafe.Sizeof(imageSupport)), unsafe.Pointer(&imageSupport), nil)
	if status != C.CL_SUCCESS {
		return DeviceInfo{}, clStatus("clGetDeviceInfo(imageSupport)", status)
	}

	return DeviceInfo{
		Name:            name,
		Vendor:          vendor,
		Version:         version,
		Type:            mapDeviceType(rawType),
		MaxComputeUnits: uint32(computeUnits),
		ImageSupport:    imageSupport == C.CL_TRUE,
	}, nil
}

type clContext struct {
	ctx    C.cl_context
	handle uintptr
}

func (c *clContext) CreateProgramWithSource(source string) (Program, error) {
	if c.ctx == nil {
		return nil, ErrReleased
	}

	src := C.CString(source)
	defer C.free(unsafe.Pointer(src))

	var status C.cl_int
	program := C.clCreateProgramWithSource(c.ctx, 1, &src, nil, &status)
	if status != C.CL_SUCCESS {
		return nil, clStatus("clCreateProgramWithSource", status)
	}
	return &clProgram{program: program}, nil
}

func (c *clContext) CreateCommandQueue(device Device) (CommandQueue, error) {
	if c.ctx == nil {
		return nil, ErrReleased
	}
	dev, ok := device.(*clDevice)
	if !ok {
		return nil, ErrForeignHandle
	}

	var status C.cl_int
	queue := C.clCreateCommandQueue(c.ctx, dev.id, 0, &status)
	if status != C.CL_SUCCESS {
		return nil, clStatus("clCreateCommandQueue", status)
	}
	return &clQueue{queue: queue}, nil
}

func (c *clContext) CreateBuffer(flags MemFlags, size int) (Buffer, error) {
	if c.ctx == nil {
		return nil, ErrReleased
	}

	var status C.cl_int
	mem := C.clCreateBuffer(c.ctx, C.cl_mem_flags(flags), C.size_t(size), nil, &status)
	if status != C.CL_SUCCESS {
		return nil, clStatus("clCreateBuffer", status)
	}
	slog.Debug("OpenCL buffer created", "size", size, "flags", flags.String())
	return &clBuffer{mem: mem, size: size, flags: flags}, nil
}

func (c *clContext) Release() error {
	if c.ctx == nil {
		return nil
	}
	status := C.clReleaseContext(c.ctx)
	c.ctx = nil
	contextNotify.unregister(c.handle)
	c.handle = 0
	return clStatus("clReleaseContext", status)
}

type clProgram struct {
	program C.cl_program
}

func (p *clProgram) Build(devices []Device, options string) error {
	if p.program == nil {
		return ErrReleased
	}
	ids, err := deviceIDs(devices)
	if err != nil {
		return err
	}

	var opts *C.char
	if options != "" {
		opts = C.CString(options)
		defer C.free(unsafe.Pointer(opts))
	}

	status := C.clBuildProgram(p.program, C.cl_uint(len(ids)), &ids[0], opts, nil, nil)
	return clStatus("clBuildProgram", status)
}

func (p *clProgram) BuildStatus(device Device) (BuildStatus, error) {
	if p.program == nil {
		return BuildNone, ErrReleased
	}
	dev, ok := device.(*clDevice)
	if !ok {
		return BuildNone, ErrForeignHandle
	}

	var raw C.cl_build_status
	status := C.clGetProgramBuildInfo(p.program, dev.id, C.CL_PROGRAM_BUILD_STATUS, C.size_t(unsafe.Sizeof(raw)), unsafe.Pointer(&raw), nil)
	if status != C.CL_SUCCESS {
		return BuildNone, clStatus("clGetProgramBuildInfo(status)", status)
	}
	return BuildStatus(raw), nil
}

func (p *clProgram) BuildLog(device Device) (string, error) {
	if p.program == nil {
		return "", ErrReleased
	}
	dev, ok := device.(*clDevice)
	if !ok {
		return "", ErrForeignHandle
	}

	var logSize C.size_t
	status := C.clGetProgramBuildInfo(p.program, dev.id, C.CL_PROGRAM_BUILD_LOG, 0, nil, &logSize)
	if status != C.CL_SUCCESS {
		return "", clStatus("clGetProgramBuildInfo(log size)", status)
	}
	if logSize == 0 {
		return "", nil
	}

	buf := make([]byte, int(logSize))
	status = C.clGetProgramBuildInfo(p.program, dev.id, C.CL_PROGRAM_BUILD_LOG, logSize, unsafe.Pointer(&buf[0]), nil)
	if status != C.CL_SUCCESS {
		return "", clStatus("clGetProgramBuildInfo(log)", status)
	}
	return trimNull(buf), nil
}

func (p *clProgram) CreateKernel(name string) (Kernel, error) {
	if p.program == nil {
		return nil, ErrReleased
	}

	kernelName := C.CString(name)
	defer C.free(unsafe.Pointer(kernelName))

	var status C.cl_int
	kernel := C.clCreateKernel(p.program, kernelName, &status)
	if status != C.CL_SUCCESS {
		return nil, clStatus("clCreateKernel", status)
	}
	return &clKernel{kernel: kernel, name: name}, nil
}

func (p *clProgram) Release() error {
	if p.program == nil {
		return nil
	}
	status := C.clReleaseProgram(p.program)
	p.program = nil
	return clStatus("clReleaseProgram", status)
}

type clKernel struct {
	kernel C.cl_kernel
	name   string
}

func (k *clKernel) Name() string {
	return k.name
}

func (k *clKernel) SetArgBuffer(index int, buffer Buffer) error {
	if k.kernel == nil {
		return ErrReleased
	}
	buf, ok := buffer.(*clBuffer)
	if !ok {
		return ErrForeignHandle
	}

	mem := buf.mem
	status := C.clSetKernelArg(k.kernel, C.cl_uint(index), C.size_t(unsafe.Sizeof(mem)), unsafe.Pointer(&mem))
	return clStatus(fmt.Sprintf("clSetKernelArg(%d)", index), status)
}

func (k *clKernel) Release() error {
	if k.kernel == nil {
		return nil
	}
	status := C.clReleaseKernel(k.kernel)
	k.kernel = nil
	return clStatus("clReleaseKernel", status)
}

type clQueue struct {
	queue C.cl_command_queue
}

func (q *clQueue) EnqueueWriteBuffer(buffer Buffer, blocking bool, offset int, data []int32) error {
	if q.queue == nil {
		return ErrReleased
	}
	buf, ok := buffer.(*clBuffer)
	if !ok {
		return ErrForeignHandle
	}
	// the driver must not keep the Go pointer past the call
	if !blocking {
		return ErrNonBlocking
	}
	if len(data) == 0 {
		return statusError("clEnqueueWriteBuffer", InvalidValue)
	}

	size := C.size_t(len(data) * int(unsafe.Sizeof(int32(0))))
	status := C.clEnqueueWriteBuffer(q.queue, buf.mem, clBool(blocking), C.size_t(offset), size, unsafe.Pointer(&data[0]), 0, nil, nil)
	return clStatus("clEnqueueWriteBuffer", status)
}

func (q *clQueue) EnqueueNDRangeKernel(kernel Kernel, global, local []int) error {
	if q.queue == nil {
		return ErrReleased
	}
	k, ok := kernel.(*clKernel)
	if !ok {
		return ErrForeignHandle
	}
	if len(global) == 0 || (local != nil && len(local) != len(global)) {
		return statusError("clEnqueueNDRangeKernel", InvalidWorkDimension)
	}

	globalSize := make([]C.size_t, len(global))
	for i, g := range global {
		globalSize[i] = C.size_t(g)
	}

	var localPtr *C.size_t
	if local != nil {
		localSize := make([]C.size_t, len(local))
		for i, l := range local {
			localSize[i] = C.size_t(l)
		}
		localPtr = &localSize[0]
	}

	status := C.clEnqueueNDRangeKernel(q.queue, k.kernel, C.cl_uint(len(global)), nil, &globalSize[0], localPtr, 0, nil, nil)
	return clStatus("clEnqueueNDRangeKernel", status)
}

func (q *clQueue) EnqueueReadBuffer(buffer Buffer, blocking bool, offset int, dst []int32) error {
	if q.queue == nil {
		return ErrReleased
	}
	buf, ok := buffer.(*clBuffer)
	if !ok {
		return ErrForeignHandle
	}
	// the driver must not keep the Go pointer past the call
	if !blocking {
		return ErrNonBlocking
	}
	if len(dst) == 0 {
		return statusError("clEnqueueReadBuffer", InvalidValue)
	}

	size := C.size_t(len(dst) * int(unsafe.Sizeof(int32(0))))
	status := C.clEnqueueReadBuffer(q.queue, buf.mem, clBool(blocking), C.size_t(offset), size, unsafe.Pointer(&dst[0]), 0, nil, nil)
	return clStatus("clEnqueueReadBuffer", status)
}

func (q *clQueue) Finish() error {
	if q.queue == nil {
		return ErrReleased
	}
	return clStatus("clFinish", C.clFinish(q.queue))
}

func (q *clQueue) Flush() error {
	if q.queue == nil {
		return ErrReleased
	}
	return clStatus("clFlush", C.clFlush(q.queue))
}

func (q *clQueue) Release() error {
	if q.queue == nil {
		return nil
	}
	status := C.clReleaseCommandQueue(q.queue)
	q.queue = nil
	return clStatus("clReleaseCommandQueue", status)
}

type clBuffer struct {
	mem   C.cl_mem
	size  int
	flags MemFlags
}

func (b *clBuffer) Size() int {
	return b.size
}

func (b *clBuffer) Flags() MemFlags {
	return b.flags
}

func (b *clBuffer) Release() error {
	if b.mem == nil {
		return nil
	}
	status := C.clReleaseMemObject(b.mem)
	b.mem = nil
	return clStatus("clReleaseMemObject", status)
}

func deviceIDs(devices []Device) ([]C.cl_device_id, error) {
	if len(devices) == 0 {
		return nil, statusError("deviceIDs", InvalidValue)
	}
	ids := make([]C.cl_device_id, len(devices))
	for i, device := range devices {
		dev, ok := device.(*clDevice)
		if !ok {
			return nil, ErrForeignHandle
		}
		ids[i] = dev.id
	}
	return ids, nil
}

func getPlatformString(id C.cl_platform_id, param C.cl_platform_info) (string, error) {
	var size C.size_t
	status := C.clGetPlatformInfo(id, param, 0, nil, &size)
	if status != C.CL_SUCCESS {
		return "", clStatus("clGetPlatformInfo(size)", status)
	}
	if size == 0 {
		return "", nil
	}

	buf := make([]byte, int(size))
	status = C.clGetPlatformInfo(id, param, size, unsafe.Pointer(&buf[0]), nil)
	if status != C.CL_SUCCESS {
		return "", clStatus("clGetPlatformInfo(value)", status)
	}

	return trimNull(buf), nil
}

func getDeviceString(id C.cl_device_id, param C.cl_device_info) (string, error) {
	var size C.size_t
	status := C.clGetDeviceInfo(id, param, 0, nil, &size)
	if status != C.CL_SUCCESS {
		return "", clStatus("clGetDeviceInfo(size)", status)
	}
	if size == 0 {
		return "", nil
	}

	buf := make([]byte, int(size))
	status = C.clGetDeviceInfo(id, param, size, unsafe.Pointer(&buf[0]), nil)
	if status != C.CL_SUCCESS {
		return "", clStatus("clGetDeviceInfo(value)", status)
	}

	return trimNull(buf), nil
}

func mapDeviceType(dt C.cl_device_type) DeviceType {
	switch {
	case dt&C.CL_DEVICE_TYPE_GPU != 0:
		return DeviceTypeGPU
	case dt&C.CL_DEVICE_TYPE_CPU != 0:
		return DeviceTypeCPU
	case dt&C.CL_DEVICE_TYPE_ACCELERATOR != 0:
		return DeviceTypeAccelerator
	case dt&C.CL_DEVICE_TYPE_DEFAULT != 0:
		return DeviceTypeDefault
	default:
		return DeviceTypeUnknown
	}
}

func clBool(v bool) C.cl_bool {
	if v {
		return C.CL_TRUE
	}
	return C.CL_FALSE
}

func clStatus(op string, status C.cl_int) error {
	return statusError(op, Status(status))
}

func trimNull(buf []byte) string {
	if len(buf) == 0 {
		return ""
	}
	if buf[len(buf)-1] == 0 {
		buf = buf[:len(buf)-1]
	}
	return string(buf)
}
