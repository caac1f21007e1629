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

import "fmt"

// hostBoundary applies ghost-cell boundary conditions to host buffers.
// All conserved fields live at cell centers, so the same fill pattern is
// used for each field, with a sign flip for the momentum component normal
// to a reflecting wall.
type hostBoundary struct {
	spec BoundarySpec
}

// NewHostBoundary returns a BoundaryKernel for the host backend. It is a
// BoundaryFactory.
func NewHostBoundary(spec BoundarySpec) (BoundaryKernel, error) {
	for _, k := range []BCKind{spec.North, spec.East, spec.South, spec.West} {
		if !k.Valid() {
			return nil, fmt.Errorf("device: invalid boundary kind %v", k)
		}
	}
	if (spec.North == BCPeriodic) != (spec.South == BCPeriodic) ||
		(spec.East == BCPeriodic) != (spec.West == BCPeriodic) {
		return nil, fmt.Errorf("device: periodic boundaries must be paired on opposite edges")
	}
	return &hostBoundary{spec: spec}, nil
}

// Apply implements BoundaryKernel.
func (b *hostBoundary) Apply(s Stream, eta, hu, hv Buffer2D) error {
	fields := []struct {
		buf          Buffer2D
		signX, signY float32 // sign under reflection across E/W and N/S walls
	}{
		{eta, 1, 1},
		{hu, -1, 1},
		{hv, 1, -1},
	}
	for _, f := range fields {
		hb, ok := f.buf.(*HostBuffer)
		if !ok {
			return fmt.Errorf("device: host boundary applied to %T", f.buf)
		}
		if hb.NX() != b.spec.NX || hb.NY() != b.spec.NY ||
			hb.HaloX() != b.spec.HaloX || hb.HaloY() != b.spec.HaloY {
			return fmt.Errorf("device: boundary domain %d×%d does not match buffer %d×%d",
				b.spec.NX, b.spec.NY, hb.NX(), hb.NY())
		}
		b.fillNS(hb, f.signY)
		b.fillEW(hb, f.signX)
		b.relax(hb)
	}
	return nil
}

func (b *hostBoundary) fillNS(hb *HostBuffer, sign float32) {
	nx, ny := b.spec.NX, b.spec.NY
	hx, hy := b.spec.HaloX, b.spec.HaloY
	w := nx + 2*hx
	for i := 0; i < w; i++ {
		for g := 0; g < hy; g++ {
			// South ghost row g and its mirror/wrap sources.
			switch b.spec.South {
			case BCPeriodic:
				hb.SetAt(i, g, hb.At(i, g+ny))
			case BCWall:
				hb.SetAt(i, g, sign*hb.At(i, 2*hy-1-g))
			default: // open, sponge: zero gradient
				hb.SetAt(i, g, hb.At(i, hy))
			}
			// North ghost row, counted from the top edge.
			jn := ny + 2*hy - 1 - g
			switch b.spec.North {
			case BCPeriodic:
				hb.SetAt(i, jn, hb.At(i, jn-ny))
			case BCWall:
				hb.SetAt(i, jn, sign*hb.At(i, 2*(ny+hy)-1-jn))
			default:
				hb.SetAt(i, jn, hb.At(i, ny+hy-1))
			}
		}
	}
}

func (b *hostBoundary) fillEW(hb *HostBuffer, sign float32) {
	nx, ny := b.spec.NX, b.spec.NY
	hx, hy := b.spec.HaloX, b.spec.HaloY
	h := ny + 2*hy
	for j := 0; j < h; j++ {
		for g := 0; g < hx; g++ {
			switch b.spec.West {
			case BCPeriodic:
				hb.SetAt(g, j, hb.At(g+nx, j))
			case BCWall:
				hb.SetAt(g, j, sign*hb.At(2*hx-1-g, j))
			default:
				hb.SetAt(g, j, hb.At(hx, j))
			}
			ie := nx + 2*hx - 1 - g
			switch b.spec.East {
			case BCPeriodic:
				hb.SetAt(ie, j, hb.At(ie-nx, j))
			case BCWall:
				hb.SetAt(ie, j, sign*hb.At(2*(nx+hx)-1-ie, j))
			default:
				hb.SetAt(ie, j, hb.At(nx+hx-1, j))
			}
		}
	}
}

// relax damps the flow relaxation zones toward a quiescent exterior state
// (Martinsen & Engedahl 1987). The weight decays quadratically from the
// domain edge inward over the configured sponge width.
func (b *hostBoundary) relax(hb *HostBuffer) {
	nx, ny := b.spec.NX, b.spec.NY
	hx, hy := b.spec.HaloX, b.spec.HaloY
	damp := func(i, j, d, width int) {
		alpha := float32(width-d) / float32(width)
		alpha *= alpha
		hb.SetAt(i, j, (1-alpha)*hb.At(i, j))
	}
	if w := b.spec.SpongeSouth; b.spec.South == BCSponge && w > 0 {
		for d := 0; d < w; d++ {
			for i := hx; i < nx+hx; i++ {
				damp(i, hy+d, d, w)
			}
		}
	}
	if w := b.spec.SpongeNorth; b.spec.North == BCSponge && w > 0 {
		for d := 0; d < w; d++ {
			for i := hx; i < nx+hx; i++ {
				damp(i, ny+hy-1-d, d, w)
			}
		}
	}
	if w := b.spec.SpongeWest; b.spec.West == BCSponge && w > 0 {
		for d := 0; d < w; d++ {
			for j := hy; j < ny+hy; j++ {
				damp(hx+d, j, d, w)
			}
		}
	}
	if w := b.spec.SpongeEast; b.spec.East == BCSponge && w > 0 {
		for d := 0; d < w; d++ {
			for j := hy; j < ny+hy; j++ {
				damp(nx+hx-1-d, j, d, w)
			}
		}
	}
}
