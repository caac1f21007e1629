/*
Copyright © 2024 the SWESim authors.
This file is part of SWESim.

SWESim is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

SWESim is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with SWESim.  If not, see <http://www.gnu.org/licenses/>.
*/

//go:build opencl

package device

import (
	"errors"
	"fmt"
	"unsafe"

	"github.com/jgillich/go-opencl/cl"
)

// CLBackend executes kernels on an OpenCL device. The finite-volume scheme
// itself is not part of this package; the caller supplies the OpenCL C
// source and SWESim only plumbs buffers and launches. Ghost widths are baked
// into the kernel source, so buffers on this backend are stored unpadded
// (Pitch() equals the full row width) and the kernel receives memory objects
// only, bound positionally in StepArgs order.
type CLBackend struct {
	device  *cl.Device
	context *cl.Context
	program *cl.Program
}

// NewCLBackend picks the first GPU device on any platform (falling back to a
// CPU device) and compiles source on it.
func NewCLBackend(source string) (*CLBackend, error) {
	platforms, err := cl.GetPlatforms()
	if err != nil {
		return nil, fmt.Errorf("swesim: querying OpenCL platforms: %v", err)
	}
	var device *cl.Device
	for _, kind := range []cl.DeviceType{cl.DeviceTypeGPU, cl.DeviceTypeCPU} {
		for _, p := range platforms {
			devices, derr := p.GetDevices(kind)
			if derr != nil && derr != cl.ErrDeviceNotFound {
				continue
			}
			if len(devices) > 0 {
				device = devices[0]
				break
			}
		}
		if device != nil {
			break
		}
	}
	if device == nil {
		return nil, errors.New("swesim: no OpenCL devices found")
	}
	context, err := cl.CreateContext([]*cl.Device{device})
	if err != nil {
		return nil, fmt.Errorf("swesim: creating OpenCL context: %v", err)
	}
	program, err := context.CreateProgramWithSource([]string{source})
	if err != nil {
		context.Release()
		return nil, fmt.Errorf("swesim: creating OpenCL program: %v", err)
	}
	if err := program.BuildProgram([]*cl.Device{device}, ""); err != nil {
		program.Release()
		context.Release()
		if buildErr, ok := err.(cl.BuildError); ok {
			return nil, fmt.Errorf("swesim: building OpenCL program: %s", string(buildErr))
		}
		return nil, fmt.Errorf("swesim: building OpenCL program: %v", err)
	}
	return &CLBackend{device: device, context: context, program: program}, nil
}

// Name implements Backend.
func (b *CLBackend) Name() string { return "opencl (" + b.device.Name() + ")" }

// NewStream implements Backend. Each stream is an in-order command queue.
func (b *CLBackend) NewStream() (Stream, error) {
	queue, err := b.context.CreateCommandQueue(b.device, 0)
	if err != nil {
		return nil, fmt.Errorf("swesim: creating OpenCL command queue: %v", err)
	}
	return &clStream{queue: queue}, nil
}

// NewBuffer2D implements Backend.
func (b *CLBackend) NewBuffer2D(s Stream, nx, ny, haloX, haloY int, data []float32) (Buffer2D, error) {
	if nx <= 0 || ny <= 0 || haloX < 0 || haloY < 0 {
		return nil, fmt.Errorf("swesim: invalid buffer dimensions %d×%d (halo %d,%d)", nx, ny, haloX, haloY)
	}
	w, h := nx+2*haloX, ny+2*haloY
	mem, err := b.context.CreateEmptyBuffer(cl.MemReadWrite, w*h*int(unsafe.Sizeof(float32(0))))
	if err != nil {
		return nil, fmt.Errorf("swesim: allocating %d×%d OpenCL buffer: %v", w, h, err)
	}
	buf := &clBuffer{
		mem: mem,
		nx:  nx, ny: ny,
		haloX: haloX, haloY: haloY,
	}
	if data != nil {
		if err := buf.Upload(s, data); err != nil {
			mem.Release()
			return nil, err
		}
	}
	return buf, nil
}

// Close releases the compiled program and the context. Streams and buffers
// created from the backend must be released first.
func (b *CLBackend) Close() {
	if b.program != nil {
		b.program.Release()
		b.program = nil
	}
	if b.context != nil {
		b.context.Release()
		b.context = nil
	}
}

type clStream struct {
	queue *cl.CommandQueue
}

func (s *clStream) Synchronize() error {
	if err := s.queue.Finish(); err != nil {
		return fmt.Errorf("swesim: waiting for OpenCL queue: %v", err)
	}
	return nil
}

// Release frees the underlying command queue.
func (s *clStream) Release() {
	if s.queue != nil {
		s.queue.Release()
		s.queue = nil
	}
}

type clBuffer struct {
	mem          *cl.MemObject
	nx, ny       int
	haloX, haloY int
	released     bool
}

func (b *clBuffer) NX() int    { return b.nx }
func (b *clBuffer) NY() int    { return b.ny }
func (b *clBuffer) HaloX() int { return b.haloX }
func (b *clBuffer) HaloY() int { return b.haloY }
func (b *clBuffer) Pitch() int { return b.nx + 2*b.haloX }

func (b *clBuffer) Upload(s Stream, data []float32) error {
	if b.released {
		return errors.New("swesim: upload to released buffer")
	}
	w, h := b.Pitch(), b.ny+2*b.haloY
	if len(data) != w*h {
		return fmt.Errorf("swesim: upload of %d elements into %d×%d buffer", len(data), w, h)
	}
	q := s.(*clStream).queue
	if _, err := q.EnqueueWriteBufferFloat32(b.mem, false, 0, data, nil); err != nil {
		return fmt.Errorf("swesim: writing OpenCL buffer: %v", err)
	}
	return nil
}

func (b *clBuffer) Download(s Stream) ([]float32, error) {
	if b.released {
		return nil, errors.New("swesim: download from released buffer")
	}
	out := make([]float32, b.Pitch()*(b.ny+2*b.haloY))
	q := s.(*clStream).queue
	// A blocking read orders after everything already enqueued on the queue.
	if _, err := q.EnqueueReadBufferFloat32(b.mem, true, 0, out, nil); err != nil {
		return nil, fmt.Errorf("swesim: reading OpenCL buffer: %v", err)
	}
	return out, nil
}

// CopyFrom stages through the host: the binding exposes no buffer-to-buffer
// copy. Deep copies happen at construction and checkpoint time, not in the
// stepping loop, so the round trip is acceptable.
func (b *clBuffer) CopyFrom(s Stream, src Buffer2D) error {
	if !sameShape(b, src) {
		return fmt.Errorf("swesim: copy between mismatched buffers %d×%d and %d×%d",
			src.NX(), src.NY(), b.nx, b.ny)
	}
	data, err := src.Download(s)
	if err != nil {
		return err
	}
	return b.Upload(s, data)
}

func (b *clBuffer) Release() {
	if b.mem != nil {
		b.mem.Release()
		b.mem = nil
	}
	b.released = true
}

// CLStepKernel launches one named kernel from the backend's program for each
// stage. Arguments are bound in StepArgs field order; each Buffer2D binds as
// a single memory object.
type CLStepKernel struct {
	kernel *cl.Kernel
}

// NewCLStepKernel looks up name in the program compiled by NewCLBackend.
func NewCLStepKernel(b *CLBackend, name string) (*CLStepKernel, error) {
	kernel, err := b.program.CreateKernel(name)
	if err != nil {
		return nil, fmt.Errorf("swesim: creating OpenCL kernel %q: %v", name, err)
	}
	return &CLStepKernel{kernel: kernel}, nil
}

// Launch implements StepKernel.
func (k *CLStepKernel) Launch(s Stream, a *StepArgs) error {
	mem := func(buf Buffer2D) *cl.MemObject { return buf.(*clBuffer).mem }
	if err := k.kernel.SetArgs(
		a.NX, a.NY,
		a.DX, a.DY, a.DT,
		a.G, a.Theta, a.F, a.Beta, a.YZeroReference, a.R,
		a.Stage,
		mem(a.EtaIn), mem(a.HuIn), mem(a.HvIn),
		mem(a.EtaOut), mem(a.HuOut), mem(a.HvOut),
		mem(a.Bi), mem(a.Bm),
		int32(a.BCNorth), int32(a.BCEast), int32(a.BCSouth), int32(a.BCWest),
		mem(a.WindXCurrent), mem(a.WindXNext),
		mem(a.WindYCurrent), mem(a.WindYNext),
		a.WindT,
		mem(a.PressureCurrent), mem(a.PressureNext),
		a.PressureT,
	); err != nil {
		return fmt.Errorf("swesim: setting step kernel arguments: %v", err)
	}
	q := s.(*clStream).queue
	global := []int{roundUp(int(a.NX), 16), roundUp(int(a.NY), 16)}
	if _, err := q.EnqueueNDRangeKernel(k.kernel, nil, global, nil, nil); err != nil {
		return fmt.Errorf("swesim: enqueueing step kernel: %v", err)
	}
	return nil
}

// Release frees the kernel object.
func (k *CLStepKernel) Release() {
	if k.kernel != nil {
		k.kernel.Release()
		k.kernel = nil
	}
}

// CLBoundary wraps a named boundary kernel taking
// (nx, ny, bcNorth, bcEast, bcSouth, bcWest, eta, hu, hv) and launching one
// work item per padded column.
type CLBoundary struct {
	kernel *cl.Kernel
	spec   BoundarySpec
}

// NewCLBoundaryFactory returns a BoundaryFactory that binds name from the
// backend's program.
func NewCLBoundaryFactory(b *CLBackend, name string) BoundaryFactory {
	return func(spec BoundarySpec) (BoundaryKernel, error) {
		kernel, err := b.program.CreateKernel(name)
		if err != nil {
			return nil, fmt.Errorf("swesim: creating OpenCL boundary kernel %q: %v", name, err)
		}
		return &CLBoundary{kernel: kernel, spec: spec}, nil
	}
}

// Apply implements BoundaryKernel.
func (k *CLBoundary) Apply(s Stream, eta, hu, hv Buffer2D) error {
	mem := func(buf Buffer2D) *cl.MemObject { return buf.(*clBuffer).mem }
	if err := k.kernel.SetArgs(
		int32(k.spec.NX), int32(k.spec.NY),
		int32(k.spec.North), int32(k.spec.East), int32(k.spec.South), int32(k.spec.West),
		mem(eta), mem(hu), mem(hv),
	); err != nil {
		return fmt.Errorf("swesim: setting boundary kernel arguments: %v", err)
	}
	q := s.(*clStream).queue
	global := []int{roundUp(k.spec.NX+2*k.spec.HaloX, 16)}
	if _, err := q.EnqueueNDRangeKernel(k.kernel, nil, global, nil, nil); err != nil {
		return fmt.Errorf("swesim: enqueueing boundary kernel: %v", err)
	}
	return nil
}

// Release frees the kernel object.
func (k *CLBoundary) Release() {
	if k.kernel != nil {
		k.kernel.Release()
		k.kernel = nil
	}
}

func roundUp(n, multiple int) int {
	return (n + multiple - 1) / multiple * multiple
}
