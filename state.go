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
	"errors"
	"fmt"

	"github.com/ctessum/sparse"
)

// Download copies the current conserved fields back to the host. With
// interiorOnly the ghost frame is cropped, leaving the ny×nx interior
// (sponge zones, having been folded into the interior, are retained).
func (sim *Simulator) Download(interiorOnly bool) (eta, hu, hv *sparse.DenseArray, err error) {
	if sim.closed {
		return nil, nil, nil, errors.New("swesim: download on closed simulator")
	}
	cur := sim.fields.current()
	out := make([]*sparse.DenseArray, 3)
	for k, buf := range cur.buffers() {
		data, err := buf.Download(sim.stream)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("swesim: downloading state: %v", err)
		}
		out[k] = hostDense(data, sim.grid, interiorOnly)
	}
	return out[0], out[1], out[2], nil
}

// DownloadBathymetry returns the corner and cell-center bathymetry.
func (sim *Simulator) DownloadBathymetry() (bi, bm *sparse.DenseArray, err error) {
	if sim.closed {
		return nil, nil, errors.New("swesim: download on closed simulator")
	}
	cornerData, err := sim.bi.Download(sim.stream)
	if err != nil {
		return nil, nil, fmt.Errorf("swesim: downloading corner bathymetry: %v", err)
	}
	centerData, err := sim.bm.Download(sim.stream)
	if err != nil {
		return nil, nil, fmt.Errorf("swesim: downloading cell-center bathymetry: %v", err)
	}
	cornerGrid := sim.grid
	cornerGrid.NX++
	cornerGrid.NY++
	return hostDense(cornerData, cornerGrid, false), hostDense(centerData, sim.grid, false), nil
}

// Upload replaces both conserved buffer sets with the same host data covering
// the padded domain (nil fields upload as zero) and refreshes the ghost
// cells, so callers need not supply boundary-consistent frames.
func (sim *Simulator) Upload(eta, hu, hv *sparse.DenseArray) error {
	return sim.UploadBoth(eta, hu, hv, eta, hu, hv)
}

// UploadBoth replaces the current buffer set with the first field triple and
// the scratch set with the second, refreshing the ghost cells of both.
// Ensemble filters use it to re-initialize the two sets with distinct
// content mid-run.
func (sim *Simulator) UploadBoth(eta, hu, hv, etaScratch, huScratch, hvScratch *sparse.DenseArray) error {
	if sim.closed {
		return errors.New("swesim: upload on closed simulator")
	}
	names := []string{"eta", "hu", "hv"}
	for _, set := range []struct {
		dst  *fieldSet
		srcs []*sparse.DenseArray
	}{
		{sim.fields.current(), []*sparse.DenseArray{eta, hu, hv}},
		{sim.fields.scratch(), []*sparse.DenseArray{etaScratch, huScratch, hvScratch}},
	} {
		for k, buf := range set.dst.buffers() {
			data, err := paddedFloat32(set.srcs[k], sim.grid, names[k])
			if err != nil {
				return err
			}
			if err := buf.Upload(sim.stream, data); err != nil {
				return fmt.Errorf("swesim: uploading %s: %v", names[k], err)
			}
		}
		if err := sim.bc.Apply(sim.stream, set.dst.eta, set.dst.hu, set.dst.hv); err != nil {
			return fmt.Errorf("swesim: boundary pass after upload: %v", err)
		}
	}
	return nil
}

// CopyState deep-copies the conserved fields, the buffer roles and the
// simulation clock from src into sim, and shares src's forcing series. Both
// simulators must use the same integrator and identical domain dimensions.
// Both streams are synchronized before and after the copy.
func (sim *Simulator) CopyState(src *Simulator) error {
	if sim.closed || src.closed {
		return errors.New("swesim: copy involving a closed simulator")
	}
	if sim.cfg.TimeIntegrator != src.cfg.TimeIntegrator {
		return fmt.Errorf("swesim: cannot copy state between %v and %v integrators",
			src.cfg.TimeIntegrator, sim.cfg.TimeIntegrator)
	}
	if sim.grid.NX != src.grid.NX || sim.grid.NY != src.grid.NY ||
		sim.grid.GhostX != src.grid.GhostX || sim.grid.GhostY != src.grid.GhostY {
		return fmt.Errorf("swesim: cannot copy state between %d×%d and %d×%d domains",
			src.grid.NX, src.grid.NY, sim.grid.NX, sim.grid.NY)
	}
	for _, s := range []*Simulator{src, sim} {
		if err := s.stream.Synchronize(); err != nil {
			return fmt.Errorf("swesim: synchronizing before state copy: %v", err)
		}
	}
	if err := sim.fields.copyFrom(sim.stream, src.fields); err != nil {
		return err
	}
	for _, s := range []*Simulator{src, sim} {
		if err := s.stream.Synchronize(); err != nil {
			return fmt.Errorf("swesim: synchronizing after state copy: %v", err)
		}
	}
	// Ensemble members drive identical forcing, so the sample series is
	// shared rather than copied; the snapshots reload on the next refresh.
	sim.windX.adoptSeries(src.windX)
	sim.windY.adoptSeries(src.windY)
	sim.pressure.adoptSeries(src.pressure)
	sim.t = src.t
	sim.t0 = src.t0
	sim.iterations = src.iterations
	return nil
}
