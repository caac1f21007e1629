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

package device

import (
	"fmt"
	"sync/atomic"
)

// hostPitchAlign is the row alignment of host buffers, in elements. Host
// buffers are pitched like device buffers so that pitch handling is
// exercised even without a GPU.
const hostPitchAlign = 16

// HostBackend is an in-memory Backend. Enqueued operations complete inline,
// so its streams never have pending work; it exists as the reference
// implementation of the backend contract and as the execution target for
// tests and dry runs.
type HostBackend struct {
	transfers int64
}

// NewHostBackend returns a ready-to-use in-memory backend.
func NewHostBackend() *HostBackend { return new(HostBackend) }

// Name implements Backend.
func (b *HostBackend) Name() string { return "host" }

// NewStream implements Backend.
func (b *HostBackend) NewStream() (Stream, error) { return hostStream{}, nil }

// NewBuffer2D implements Backend.
func (b *HostBackend) NewBuffer2D(s Stream, nx, ny, haloX, haloY int, data []float32) (Buffer2D, error) {
	if nx <= 0 || ny <= 0 || haloX < 0 || haloY < 0 {
		return nil, fmt.Errorf("device: invalid buffer dimensions %d×%d (halo %d,%d)", nx, ny, haloX, haloY)
	}
	w := nx + 2*haloX
	pitch := (w + hostPitchAlign - 1) / hostPitchAlign * hostPitchAlign
	buf := &HostBuffer{
		backend: b,
		nx:      nx, ny: ny,
		haloX: haloX, haloY: haloY,
		pitch: pitch,
		data:  make([]float32, pitch*(ny+2*haloY)),
	}
	if data != nil {
		if err := buf.Upload(s, data); err != nil {
			return nil, err
		}
	}
	return buf, nil
}

// Transfers returns the number of host-to-device uploads issued so far.
func (b *HostBackend) Transfers() int64 { return atomic.LoadInt64(&b.transfers) }

// hostStream trivially satisfies Stream: host operations complete inline.
type hostStream struct{}

func (hostStream) Synchronize() error { return nil }

// HostBuffer is a pitched in-memory 2D float32 field.
type HostBuffer struct {
	backend      *HostBackend
	nx, ny       int
	haloX, haloY int
	pitch        int
	data         []float32
	released     bool
}

func (b *HostBuffer) NX() int    { return b.nx }
func (b *HostBuffer) NY() int    { return b.ny }
func (b *HostBuffer) HaloX() int { return b.haloX }
func (b *HostBuffer) HaloY() int { return b.haloY }
func (b *HostBuffer) Pitch() int { return b.pitch }

// paddedNX and paddedNY are the stored dimensions including halo.
func (b *HostBuffer) paddedNX() int { return b.nx + 2*b.haloX }
func (b *HostBuffer) paddedNY() int { return b.ny + 2*b.haloY }

// Data exposes the pitched backing storage, rows of Pitch() elements.
// Kernels running on the host backend index it as data[j*Pitch()+i].
func (b *HostBuffer) Data() []float32 { return b.data }

// At returns the element at padded coordinates (i, j), where (0, 0) is the
// south-west ghost corner.
func (b *HostBuffer) At(i, j int) float32 { return b.data[j*b.pitch+i] }

// SetAt stores v at padded coordinates (i, j).
func (b *HostBuffer) SetAt(i, j int, v float32) { b.data[j*b.pitch+i] = v }

// Upload implements Buffer2D.
func (b *HostBuffer) Upload(s Stream, data []float32) error {
	if b.released {
		return fmt.Errorf("device: upload to released buffer")
	}
	w, h := b.paddedNX(), b.paddedNY()
	if len(data) != w*h {
		return fmt.Errorf("device: upload of %d elements into %d×%d buffer", len(data), w, h)
	}
	for j := 0; j < h; j++ {
		copy(b.data[j*b.pitch:j*b.pitch+w], data[j*w:(j+1)*w])
	}
	atomic.AddInt64(&b.backend.transfers, 1)
	return nil
}

// Download implements Buffer2D.
func (b *HostBuffer) Download(s Stream) ([]float32, error) {
	if b.released {
		return nil, fmt.Errorf("device: download from released buffer")
	}
	if err := s.Synchronize(); err != nil {
		return nil, err
	}
	w, h := b.paddedNX(), b.paddedNY()
	out := make([]float32, w*h)
	for j := 0; j < h; j++ {
		copy(out[j*w:(j+1)*w], b.data[j*b.pitch:j*b.pitch+w])
	}
	return out, nil
}

// CopyFrom implements Buffer2D.
func (b *HostBuffer) CopyFrom(s Stream, src Buffer2D) error {
	o, ok := src.(*HostBuffer)
	if !ok {
		return fmt.Errorf("device: cannot copy %T into host buffer", src)
	}
	if !sameShape(b, o) {
		return fmt.Errorf("device: copy between mismatched buffers %d×%d and %d×%d",
			o.paddedNX(), o.paddedNY(), b.paddedNX(), b.paddedNY())
	}
	copy(b.data, o.data)
	return nil
}

// Release implements Buffer2D.
func (b *HostBuffer) Release() {
	b.data = nil
	b.released = true
}

// CopyStepKernel is a StepKernel that copies its read fields into its write
// fields unchanged. It computes no tendencies; it exists to validate the
// stepping, boundary, and buffer plumbing end to end (dry runs) and as a
// building block for tests.
type CopyStepKernel struct{}

// Launch implements StepKernel.
func (CopyStepKernel) Launch(s Stream, a *StepArgs) error {
	for _, p := range [][2]Buffer2D{
		{a.EtaOut, a.EtaIn}, {a.HuOut, a.HuIn}, {a.HvOut, a.HvIn},
	} {
		if err := p[0].CopyFrom(s, p[1]); err != nil {
			return err
		}
	}
	return nil
}
