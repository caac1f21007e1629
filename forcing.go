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
	"sort"

	"github.com/ctessum/sparse"
	"github.com/sirupsen/logrus"

	"github.com/oceanmodel/swesim/device"
)

// degenerateBracket is the smallest sample spacing the interpolation fraction
// is computed over. Brackets narrower than this (including the collapsed
// bracket outside the sampled range) use fraction 0.
const degenerateBracket = 1e-10

// TemporalField is a time series of pre-sampled forcing fields. Times must be
// non-decreasing and each field must cover the full padded domain. An empty
// series means the forcing is identically zero.
type TemporalField struct {
	Times  []float64
	Fields []*sparse.DenseArray
}

func (f *TemporalField) validate(role string, g Grid) error {
	if f == nil {
		return nil
	}
	if len(f.Times) != len(f.Fields) {
		return fmt.Errorf("swesim: %s forcing has %d sample times but %d fields",
			role, len(f.Times), len(f.Fields))
	}
	for i := 1; i < len(f.Times); i++ {
		if f.Times[i] < f.Times[i-1] {
			return fmt.Errorf("swesim: %s forcing times decrease at index %d (%g after %g)",
				role, i, f.Times[i], f.Times[i-1])
		}
	}
	for i, fd := range f.Fields {
		if fd == nil {
			return fmt.Errorf("swesim: %s forcing field %d is nil", role, i)
		}
		if len(fd.Shape) != 2 || fd.Shape[0] != g.PaddedNY() || fd.Shape[1] != g.PaddedNX() {
			return fmt.Errorf("swesim: %s forcing field %d shape %v does not cover the %d×%d padded domain",
				role, i, fd.Shape, g.PaddedNX(), g.PaddedNY())
		}
	}
	return nil
}

// WindStress carries the two wind stress components. X and Y must share one
// time axis so a single interpolation fraction applies to both.
type WindStress struct {
	X, Y TemporalField
}

// AtmosphericPressure carries the surface pressure series. Its time axis is
// independent of the wind axis.
type AtmosphericPressure struct {
	P TemporalField
}

// bracket returns the indices of the samples surrounding t on a
// non-decreasing axis. Outside the sampled range both indices collapse onto
// the nearest endpoint.
func bracket(times []float64, t float64) (i0, i1 int) {
	i := sort.SearchFloat64s(times, t)
	i1 = i
	if i1 > len(times)-1 {
		i1 = len(times) - 1
	}
	i0 = i - 1
	if i0 < 0 {
		i0 = 0
	}
	return i0, i1
}

// forcingInterpolator keeps the two device snapshots bracketing the current
// simulation time for one forcing role, reloading an endpoint only when its
// sample index changes.
type forcingInterpolator struct {
	role    string
	series  TemporalField
	current device.Buffer2D
	next    device.Buffer2D
	curIdx  int
	nextIdx int
	log     logrus.FieldLogger
}

// newForcingInterpolator allocates the two snapshot buffers and warms them
// with the samples bracketing t0. A nil or empty series yields zero-filled
// buffers that are never reloaded.
func newForcingInterpolator(role string, series *TemporalField, backend device.Backend, s device.Stream, g Grid, t0 float64, log logrus.FieldLogger) (*forcingInterpolator, error) {
	fi := &forcingInterpolator{role: role, curIdx: -1, nextIdx: -1, log: log}
	if series != nil {
		if err := series.validate(role, g); err != nil {
			return nil, err
		}
		fi.series = *series
	}
	var err error
	fi.current, err = backend.NewBuffer2D(s, g.NX, g.NY, g.GhostX, g.GhostY, nil)
	if err != nil {
		return nil, fmt.Errorf("swesim: allocating %s snapshot: %v", role, err)
	}
	fi.next, err = backend.NewBuffer2D(s, g.NX, g.NY, g.GhostX, g.GhostY, nil)
	if err != nil {
		fi.current.Release()
		return nil, fmt.Errorf("swesim: allocating %s snapshot: %v", role, err)
	}
	if _, err := fi.refresh(s, t0); err != nil {
		fi.release()
		return nil, err
	}
	return fi, nil
}

// refresh brings the snapshots up to date for simulation time t and returns
// the interpolation fraction between them. Endpoints whose sample index is
// unchanged are not re-uploaded.
func (fi *forcingInterpolator) refresh(s device.Stream, t float64) (float32, error) {
	if len(fi.series.Times) == 0 {
		return 0, nil
	}
	i0, i1 := bracket(fi.series.Times, t)
	if i0 != fi.curIdx {
		if err := fi.reload(s, fi.current, i0); err != nil {
			return 0, err
		}
		fi.log.WithFields(logrus.Fields{
			"role": fi.role, "endpoint": "current",
			"old": fi.curIdx, "new": i0, "t": t,
		}).Debug("forcing snapshot reload")
		fi.curIdx = i0
	}
	if i1 != fi.nextIdx {
		if err := fi.reload(s, fi.next, i1); err != nil {
			return 0, err
		}
		fi.log.WithFields(logrus.Fields{
			"role": fi.role, "endpoint": "next",
			"old": fi.nextIdx, "new": i1, "t": t,
		}).Debug("forcing snapshot reload")
		fi.nextIdx = i1
	}
	span := fi.series.Times[i1] - fi.series.Times[i0]
	if span < degenerateBracket {
		return 0, nil
	}
	frac := (t - fi.series.Times[i0]) / span
	if frac < 0 {
		frac = 0
	} else if frac > 1 {
		frac = 1
	}
	return float32(frac), nil
}

// reload synchronizes the stream on both sides of the transfer so that
// in-flight kernels never observe a half-written snapshot.
func (fi *forcingInterpolator) reload(s device.Stream, dst device.Buffer2D, idx int) error {
	if err := s.Synchronize(); err != nil {
		return fmt.Errorf("swesim: synchronizing before %s reload: %v", fi.role, err)
	}
	field := fi.series.Fields[idx]
	data := make([]float32, len(field.Elements))
	for i, v := range field.Elements {
		data[i] = float32(v)
	}
	if err := dst.Upload(s, data); err != nil {
		return fmt.Errorf("swesim: uploading %s sample %d: %v", fi.role, idx, err)
	}
	if err := s.Synchronize(); err != nil {
		return fmt.Errorf("swesim: synchronizing after %s reload: %v", fi.role, err)
	}
	return nil
}

// adoptSeries shares src's sample series and invalidates the snapshot
// indices, so the next refresh reloads both endpoints from the new series.
func (fi *forcingInterpolator) adoptSeries(src *forcingInterpolator) {
	fi.series = src.series
	fi.curIdx, fi.nextIdx = -1, -1
}

func (fi *forcingInterpolator) release() {
	if fi.current != nil {
		fi.current.Release()
		fi.current = nil
	}
	if fi.next != nil {
		fi.next.Release()
		fi.next = nil
	}
}
