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

package swesim

import (
	"fmt"

	"github.com/ctessum/sparse"

	"github.com/oceanmodel/swesim/device"
)

// Grid describes the computational domain: an nx×ny interior of square-ish
// cells surrounded by ghost cells on every side. Conserved quantities live at
// cell centers; bathymetry is additionally carried at cell corners.
type Grid struct {
	NX, NY         int     // interior cells
	GhostX, GhostY int     // ghost cells per side
	DX, DY         float64 // cell spacing [m]
}

// PaddedNX returns the domain width including ghost cells.
func (g Grid) PaddedNX() int { return g.NX + 2*g.GhostX }

// PaddedNY returns the domain height including ghost cells.
func (g Grid) PaddedNY() int { return g.NY + 2*g.GhostY }

func (g Grid) validate() error {
	if g.NX <= 0 || g.NY <= 0 {
		return fmt.Errorf("swesim: grid interior %d×%d must be positive", g.NX, g.NY)
	}
	if g.GhostX < 0 || g.GhostY < 0 {
		return fmt.Errorf("swesim: negative ghost widths %d,%d", g.GhostX, g.GhostY)
	}
	if g.DX <= 0 || g.DY <= 0 {
		return fmt.Errorf("swesim: cell spacing %g×%g must be positive", g.DX, g.DY)
	}
	return nil
}

// fieldSet is one complete set of conserved fields.
type fieldSet struct {
	eta, hu, hv device.Buffer2D
}

func (s *fieldSet) buffers() []device.Buffer2D {
	return []device.Buffer2D{s.eta, s.hu, s.hv}
}

func (s *fieldSet) release() {
	for _, b := range s.buffers() {
		if b != nil {
			b.Release()
		}
	}
	s.eta, s.hu, s.hv = nil, nil, nil
}

// fieldStore owns the two buffer sets the integrator ping-pongs between.
// Roles are swapped by flipping an index; no data moves.
type fieldStore struct {
	sets [2]fieldSet
	cur  int
}

// newFieldStore allocates both sets on backend and uploads eta, hu and hv
// into each, so that either role holds a valid state before the first step.
func newFieldStore(backend device.Backend, s device.Stream, g Grid, eta, hu, hv *sparse.DenseArray) (*fieldStore, error) {
	store := new(fieldStore)
	fields := []struct {
		name string
		src  *sparse.DenseArray
	}{
		{"eta", eta},
		{"hu", hu},
		{"hv", hv},
	}
	for i := range store.sets {
		dsts := []*device.Buffer2D{&store.sets[i].eta, &store.sets[i].hu, &store.sets[i].hv}
		for k, f := range fields {
			data, err := paddedFloat32(f.src, g, f.name)
			if err != nil {
				store.release()
				return nil, err
			}
			buf, err := backend.NewBuffer2D(s, g.NX, g.NY, g.GhostX, g.GhostY, data)
			if err != nil {
				store.release()
				return nil, fmt.Errorf("swesim: allocating %s buffer set %d: %v", f.name, i, err)
			}
			*dsts[k] = buf
		}
	}
	return store, nil
}

// current returns the set holding the most recently completed state.
func (s *fieldStore) current() *fieldSet { return &s.sets[s.cur] }

// scratch returns the set the next stage may overwrite.
func (s *fieldStore) scratch() *fieldSet { return &s.sets[1-s.cur] }

// swapRoles exchanges the current and scratch roles.
func (s *fieldStore) swapRoles() { s.cur = 1 - s.cur }

// copyFrom deep-copies both sets and the role index from src. The caller is
// responsible for synchronizing both streams around the copy.
func (s *fieldStore) copyFrom(stream device.Stream, src *fieldStore) error {
	for i := range s.sets {
		dst := s.sets[i].buffers()
		from := src.sets[i].buffers()
		for k := range dst {
			if err := dst[k].CopyFrom(stream, from[k]); err != nil {
				return fmt.Errorf("swesim: copying field state: %v", err)
			}
		}
	}
	s.cur = src.cur
	return nil
}

func (s *fieldStore) release() {
	for i := range s.sets {
		s.sets[i].release()
	}
}

// paddedFloat32 flattens a host array into the row-major float32 layout the
// device buffers expect, checking it covers the full padded domain.
func paddedFloat32(a *sparse.DenseArray, g Grid, name string) ([]float32, error) {
	if a == nil {
		return make([]float32, g.PaddedNX()*g.PaddedNY()), nil
	}
	if len(a.Shape) != 2 || a.Shape[0] != g.PaddedNY() || a.Shape[1] != g.PaddedNX() {
		return nil, fmt.Errorf("swesim: %s shape %v does not cover the %d×%d padded domain",
			name, a.Shape, g.PaddedNX(), g.PaddedNY())
	}
	out := make([]float32, len(a.Elements))
	for i, v := range a.Elements {
		out[i] = float32(v)
	}
	return out, nil
}

// ConstantBathymetry builds a flat corner bathymetry of the given depth for
// a grid whose sponge zones, if any, are already folded in.
func ConstantBathymetry(g Grid, depth float64) *sparse.DenseArray {
	h := sparse.ZerosDense(g.PaddedNY()+1, g.PaddedNX()+1)
	for i := range h.Elements {
		h.Elements[i] = depth
	}
	return h
}

// hostDense converts a padded row-major float32 download back into a host
// array, optionally cropping the ghost frame.
func hostDense(data []float32, g Grid, interiorOnly bool) *sparse.DenseArray {
	w, h := g.PaddedNX(), g.PaddedNY()
	if !interiorOnly {
		out := sparse.ZerosDense(h, w)
		for i, v := range data {
			out.Elements[i] = float64(v)
		}
		return out
	}
	out := sparse.ZerosDense(g.NY, g.NX)
	for j := 0; j < g.NY; j++ {
		for i := 0; i < g.NX; i++ {
			out.Set(float64(data[(j+g.GhostY)*w+i+g.GhostX]), j, i)
		}
	}
	return out
}
