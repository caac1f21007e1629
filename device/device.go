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

// Package device abstracts the execution backend that SWESim launches its
// compute kernels on. A backend owns pitched 2D float32 buffers and
// execution streams; all work submitted to one stream executes in submission
// order, asynchronously with respect to the host unless a method is
// documented as a synchronization point.
package device

import "fmt"

// BCKind identifies the boundary treatment applied along one edge of the
// computational domain. The numeric values are part of the step-kernel ABI:
// they are passed unchanged as the four edge flags.
type BCKind int32

const (
	// BCWall reflects outgoing waves; the normal momentum component
	// changes sign in the ghost cells.
	BCWall BCKind = 1
	// BCPeriodic wraps the domain; ghost cells are filled from the
	// opposite edge. Requires the opposite edge to be periodic too.
	BCPeriodic BCKind = 2
	// BCSponge damps outgoing waves over a band of cells through a flow
	// relaxation zone inside the domain edge.
	BCSponge BCKind = 3
	// BCOpen extrapolates the nearest interior value into the ghost
	// cells (zero-gradient outflow).
	BCOpen BCKind = 4
)

func (k BCKind) String() string {
	switch k {
	case BCWall:
		return "wall"
	case BCPeriodic:
		return "periodic"
	case BCSponge:
		return "sponge"
	case BCOpen:
		return "open"
	}
	return fmt.Sprintf("BCKind(%d)", int32(k))
}

// Valid reports whether k is one of the defined boundary kinds.
func (k BCKind) Valid() bool { return k >= BCWall && k <= BCOpen }

// Stream is an ordered execution queue. Operations enqueued on the same
// stream execute in order relative to each other; Synchronize blocks the
// caller until everything previously enqueued has completed.
type Stream interface {
	Synchronize() error
}

// Buffer2D is a device-resident 2D float32 field of
// (nx+2·haloX) × (ny+2·haloY) cells. Rows may be padded to Pitch() elements
// for device storage alignment; host-side data exchanged through Upload and
// Download is always unpadded row-major with (nx+2·haloX) elements per row.
type Buffer2D interface {
	// NX and NY return the interior dimensions, excluding halo.
	NX() int
	NY() int
	// HaloX and HaloY return the halo width on each side.
	HaloX() int
	HaloY() int
	// Pitch returns the allocated row stride in elements (not bytes).
	Pitch() int

	// Upload enqueues a host-to-device transfer of data, which must hold
	// exactly (nx+2·haloX)·(ny+2·haloY) elements.
	Upload(s Stream, data []float32) error
	// Download copies the buffer back to the host. It is a
	// synchronization point: it blocks until all previously enqueued
	// work on s has completed.
	Download(s Stream) ([]float32, error)
	// CopyFrom enqueues a device-to-device copy from src, which must
	// have identical dimensions.
	CopyFrom(s Stream, src Buffer2D) error
	// Release frees the device allocation. Releasing twice is a no-op.
	Release()
}

// Backend creates streams and buffers for one device.
type Backend interface {
	Name() string
	NewStream() (Stream, error)
	// NewBuffer2D allocates a buffer and, if data is non-nil, uploads it
	// on s before returning.
	NewBuffer2D(s Stream, nx, ny, haloX, haloY int, data []float32) (Buffer2D, error)
}

// StepArgs carries the parameters of one stage invocation of the
// shallow-water step kernel. The field order below is the kernel ABI:
// backends bind the arguments positionally in exactly this order, and any
// reordering is a breaking change to the kernel contract.
type StepArgs struct {
	NX, NY int32 // interior cells

	DX, DY float32 // cell spacing [m]
	DT     float32 // sub-step size [s]

	G              float32 // gravitational acceleration [m/s²]
	Theta          float32 // minmod slope-limiter parameter
	F              float32 // Coriolis parameter [1/s]
	Beta           float32 // Coriolis linear variation [1/(m·s)]
	YZeroReference float32 // grid row where beta term is zero
	R              float32 // bottom friction coefficient [m/s]

	Stage int32 // 0 for the predictor, 1 for the RK2 corrector

	// Conserved fields read by this stage.
	EtaIn, HuIn, HvIn Buffer2D
	// Conserved fields written by this stage.
	EtaOut, HuOut, HvOut Buffer2D

	// Bathymetry at cell corners and cell centers.
	Bi, Bm Buffer2D

	// Edge flags, passed through as int32.
	BCNorth, BCEast, BCSouth, BCWest BCKind

	// Wind stress snapshots bracketing the current time, plus the
	// interpolation fraction within the bracket.
	WindXCurrent, WindXNext Buffer2D
	WindYCurrent, WindYNext Buffer2D
	WindT                   float32

	// Atmospheric pressure snapshots and fraction, appended after the
	// wind block.
	PressureCurrent, PressureNext Buffer2D
	PressureT                     float32
}

// StepKernel is the opaque finite-volume compute kernel. One Launch performs
// one stage of one sub-step; the kernel's own arithmetic performs the
// Runge-Kutta blending when Stage is 1.
type StepKernel interface {
	Launch(s Stream, a *StepArgs) error
}

// BoundaryKernel writes ghost-cell values into a buffer set in place. It is
// invoked after every write to a buffer set and must tolerate being applied
// to a set that was just a kernel's write target.
type BoundaryKernel interface {
	Apply(s Stream, eta, hu, hv Buffer2D) error
}

// BoundarySpec describes the domain a BoundaryKernel operates on. Sponge
// widths are in cells, measured inward from the respective edge.
type BoundarySpec struct {
	NX, NY       int
	HaloX, HaloY int

	North, East, South, West BCKind

	SpongeNorth, SpongeEast, SpongeSouth, SpongeWest int
}

// BoundaryFactory builds the boundary-condition applicator for a domain.
type BoundaryFactory func(BoundarySpec) (BoundaryKernel, error)

// sameShape reports whether two buffers have identical dimensions.
func sameShape(a, b Buffer2D) bool {
	return a.NX() == b.NX() && a.NY() == b.NY() &&
		a.HaloX() == b.HaloX() && a.HaloY() == b.HaloY()
}
