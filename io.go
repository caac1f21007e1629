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
	"os"

	"github.com/ctessum/cdf"
	"github.com/ctessum/sparse"
	"github.com/sirupsen/logrus"

	"github.com/oceanmodel/swesim/device"
)

// checkpointWriter appends simulation records to a NetCDF (classic format)
// file with an unlimited time dimension. The header carries every parameter
// needed to rebuild the simulator, so a checkpoint file is self-describing.
type checkpointWriter struct {
	ff   *os.File
	f    *cdf.File
	grid Grid
	rec  int
}

func newCheckpointWriter(path string, sim *Simulator, bathymetry *sparse.DenseArray) (*checkpointWriter, error) {
	g := sim.grid
	cfg := sim.cfg
	h := cdf.NewHeader(
		[]string{"time", "y", "x", "yCorner", "xCorner"},
		[]int{0, g.PaddedNY(), g.PaddedNX(), g.PaddedNY() + 1, g.PaddedNX() + 1})
	h.AddAttribute("", "comment", "SWESim shallow-water simulation state")

	h.AddAttribute("", "nx", []int32{int32(g.NX)})
	h.AddAttribute("", "ny", []int32{int32(g.NY)})
	h.AddAttribute("", "ghost_cells_x", []int32{int32(g.GhostX)})
	h.AddAttribute("", "ghost_cells_y", []int32{int32(g.GhostY)})
	h.AddAttribute("", "dx", []float64{g.DX})
	h.AddAttribute("", "dy", []float64{g.DY})
	h.AddAttribute("", "dt", []float64{cfg.DT})
	h.AddAttribute("", "g", []float64{cfg.G})
	h.AddAttribute("", "coriolis_f", []float64{cfg.F})
	h.AddAttribute("", "coriolis_beta", []float64{cfg.CoriolisBeta})
	h.AddAttribute("", "bottom_friction_r", []float64{cfg.R})
	h.AddAttribute("", "minmod_theta", []float64{cfg.Theta})
	h.AddAttribute("", "y_zero_reference_cell", []float64{cfg.YZeroReferenceCell})
	h.AddAttribute("", "time_integrator", []int32{int32(cfg.TimeIntegrator)})

	b := cfg.Boundaries
	h.AddAttribute("", "bc_north", []int32{int32(b.North)})
	h.AddAttribute("", "bc_east", []int32{int32(b.East)})
	h.AddAttribute("", "bc_south", []int32{int32(b.South)})
	h.AddAttribute("", "bc_west", []int32{int32(b.West)})
	h.AddAttribute("", "sponge_north", []int32{int32(b.SpongeNorth)})
	h.AddAttribute("", "sponge_east", []int32{int32(b.SpongeEast)})
	h.AddAttribute("", "sponge_south", []int32{int32(b.SpongeSouth)})
	h.AddAttribute("", "sponge_west", []int32{int32(b.SpongeWest)})

	h.AddVariable("time", []string{"time"}, []float64{0})
	h.AddAttribute("time", "units", "s")
	for _, v := range []string{"eta", "hu", "hv"} {
		h.AddVariable(v, []string{"time", "y", "x"}, []float32{0})
	}
	h.AddAttribute("eta", "units", "m")
	h.AddAttribute("hu", "units", "m2/s")
	h.AddAttribute("hv", "units", "m2/s")
	h.AddVariable("H", []string{"yCorner", "xCorner"}, []float32{0})
	h.AddAttribute("H", "units", "m")
	h.Define()

	ff, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("swesim: creating checkpoint file: %v", err)
	}
	f, err := cdf.Create(ff, h) // writes the header to ff
	if err != nil {
		ff.Close()
		return nil, fmt.Errorf("swesim: writing checkpoint header: %v", err)
	}
	w := &checkpointWriter{ff: ff, f: f, grid: g}
	if err := w.writeStatic("H", bathymetry); err != nil {
		ff.Close()
		return nil, err
	}
	return w, nil
}

// writeStatic writes a non-record variable in full.
func (w *checkpointWriter) writeStatic(name string, data *sparse.DenseArray) error {
	data32 := make([]float32, len(data.Elements))
	for i, e := range data.Elements {
		data32[i] = float32(e)
	}
	end := w.f.Header.Lengths(name)
	start := make([]int, len(end))
	if _, err := w.f.Writer(name, start, end).Write(data32); err != nil {
		return fmt.Errorf("swesim: writing checkpoint variable %s: %v", name, err)
	}
	return nil
}

// append writes one record and updates the record count so the file stays
// readable even if the run dies later.
func (w *checkpointWriter) append(t float64, eta, hu, hv []float32) error {
	if _, err := w.f.Writer("time", []int{w.rec}, []int{w.rec + 1}).Write([]float64{t}); err != nil {
		return fmt.Errorf("swesim: appending checkpoint time: %v", err)
	}
	for _, v := range []struct {
		name string
		data []float32
	}{
		{"eta", eta}, {"hu", hu}, {"hv", hv},
	} {
		start := []int{w.rec, 0, 0}
		end := []int{w.rec + 1, 0, 0}
		if _, err := w.f.Writer(v.name, start, end).Write(v.data); err != nil {
			return fmt.Errorf("swesim: appending checkpoint variable %s: %v", v.name, err)
		}
	}
	w.rec++
	if err := cdf.UpdateNumRecs(w.ff); err != nil {
		return fmt.Errorf("swesim: updating checkpoint record count: %v", err)
	}
	return nil
}

func (w *checkpointWriter) close() error {
	if w.ff == nil {
		return nil
	}
	err := cdf.UpdateNumRecs(w.ff)
	if cerr := w.ff.Close(); err == nil {
		err = cerr
	}
	w.ff = nil
	return err
}

// writeCheckpoint downloads the current state and appends it as one record.
func (sim *Simulator) writeCheckpoint() error {
	cur := sim.fields.current()
	fields := make([][]float32, 3)
	for k, buf := range cur.buffers() {
		data, err := buf.Download(sim.stream)
		if err != nil {
			return fmt.Errorf("swesim: downloading state for checkpoint: %v", err)
		}
		fields[k] = data
	}
	if err := sim.writer.append(sim.t, fields[0], fields[1], fields[2]); err != nil {
		return err
	}
	sim.log.WithFields(logrus.Fields{
		"t":      sim.t,
		"record": sim.writer.rec - 1,
		"file":   sim.cfg.CheckpointPath,
	}).Info("checkpoint written")
	return nil
}

// ResumeOptions carries the parts of a simulation that are not persisted in
// a checkpoint file.
type ResumeOptions struct {
	Wind     *WindStress
	Pressure *AtmosphericPressure

	// CheckpointPath is a new file to continue persisting into; empty
	// disables persistence for the resumed run.
	CheckpointPath     string
	CheckpointInterval int

	Comm   interface{}
	Logger logrus.FieldLogger
}

// FromCheckpoint rebuilds a simulator from the last record of a checkpoint
// file written by this package. The simulation clock continues from the
// persisted time; the iteration counter restarts at zero.
func FromCheckpoint(path string, backend device.Backend, kernel device.StepKernel, newBoundary device.BoundaryFactory, opts ResumeOptions) (*Simulator, error) {
	ff, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("swesim: opening checkpoint file: %v", err)
	}
	defer ff.Close()
	f, err := cdf.Open(ff)
	if err != nil {
		return nil, fmt.Errorf("swesim: reading checkpoint header: %v", err)
	}

	cfg := checkpointConfig(f)
	cfg.Wind = opts.Wind
	cfg.Pressure = opts.Pressure
	cfg.CheckpointPath = opts.CheckpointPath
	cfg.CheckpointInterval = opts.CheckpointInterval
	cfg.Comm = opts.Comm
	cfg.Logger = opts.Logger
	nrec := f.Header.Lengths("eta")[0]
	if nrec == 0 {
		return nil, errors.New("swesim: checkpoint file holds no records")
	}
	rec := nrec - 1

	times := make([]float64, 1)
	if _, err := f.Reader("time", []int{rec}, []int{rec + 1}).Read(times); err != nil {
		return nil, fmt.Errorf("swesim: reading checkpoint time: %v", err)
	}
	cfg.StartTime = times[0]

	g := Grid{NX: cfg.NX, NY: cfg.NY, GhostX: cfg.GhostX, GhostY: cfg.GhostY, DX: cfg.DX, DY: cfg.DY}
	var init InitialState
	for _, v := range []struct {
		name string
		dst  **sparse.DenseArray
	}{
		{"eta", &init.Eta}, {"hu", &init.Hu}, {"hv", &init.Hv},
	} {
		buf := make([]float32, g.PaddedNX()*g.PaddedNY())
		if _, err := f.Reader(v.name, []int{rec, 0, 0}, []int{rec + 1, 0, 0}).Read(buf); err != nil {
			return nil, fmt.Errorf("swesim: reading checkpoint variable %s: %v", v.name, err)
		}
		arr := sparse.ZerosDense(g.PaddedNY(), g.PaddedNX())
		for i, val := range buf {
			arr.Elements[i] = float64(val)
		}
		*v.dst = arr
	}
	bathymetry := make([]float32, (g.PaddedNX()+1)*(g.PaddedNY()+1))
	if _, err := f.Reader("H", nil, nil).Read(bathymetry); err != nil {
		return nil, fmt.Errorf("swesim: reading checkpoint bathymetry: %v", err)
	}
	init.H = sparse.ZerosDense(g.PaddedNY()+1, g.PaddedNX()+1)
	for i, val := range bathymetry {
		init.H.Elements[i] = float64(val)
	}

	return New(cfg, backend, kernel, newBoundary, init)
}

// checkpointConfig rebuilds the simulator configuration persisted in a
// checkpoint header. Forcing, persistence and logging are not persisted and
// stay zero.
func checkpointConfig(f *cdf.File) Config {
	attrF := func(name string) float64 { return f.Header.GetAttribute("", name).([]float64)[0] }
	attrI := func(name string) int { return int(f.Header.GetAttribute("", name).([]int32)[0]) }
	return Config{
		NX: attrI("nx"), NY: attrI("ny"),
		GhostX: attrI("ghost_cells_x"), GhostY: attrI("ghost_cells_y"),
		DX: attrF("dx"), DY: attrF("dy"), DT: attrF("dt"),
		G:                  attrF("g"),
		F:                  attrF("coriolis_f"),
		CoriolisBeta:       attrF("coriolis_beta"),
		R:                  attrF("bottom_friction_r"),
		Theta:              attrF("minmod_theta"),
		YZeroReferenceCell: attrF("y_zero_reference_cell"),
		TimeIntegrator:     Integrator(attrI("time_integrator")),
		Boundaries: Boundaries{
			North: device.BCKind(attrI("bc_north")),
			East:  device.BCKind(attrI("bc_east")),
			South: device.BCKind(attrI("bc_south")),
			West:  device.BCKind(attrI("bc_west")),
			SpongeNorth: attrI("sponge_north"), SpongeEast: attrI("sponge_east"),
			SpongeSouth: attrI("sponge_south"), SpongeWest: attrI("sponge_west"),
		},
		spongeFolded: true, // persisted dimensions already include the relaxation zones
	}
}

// CheckpointInfo summarizes a checkpoint file.
type CheckpointInfo struct {
	Config   Config
	Records  int
	LastTime float64 // simulation time of the last record [s]
}

// ReadCheckpointInfo reads the header and record count of a checkpoint file
// without building a simulator.
func ReadCheckpointInfo(path string) (*CheckpointInfo, error) {
	ff, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("swesim: opening checkpoint file: %v", err)
	}
	defer ff.Close()
	f, err := cdf.Open(ff)
	if err != nil {
		return nil, fmt.Errorf("swesim: reading checkpoint header: %v", err)
	}
	info := &CheckpointInfo{Config: checkpointConfig(f), Records: f.Header.Lengths("eta")[0]}
	if info.Records > 0 {
		t := make([]float64, 1)
		if _, err := f.Reader("time", []int{info.Records - 1}, []int{info.Records}).Read(t); err != nil {
			return nil, fmt.Errorf("swesim: reading checkpoint time: %v", err)
		}
		info.LastTime = t[0]
	}
	return info, nil
}

// LoadForcing reads pre-sampled wind stress and pressure series from a
// NetCDF file holding a "time" axis plus any of the variables "wind_x",
// "wind_y" (which must appear together) and "pressure", each dimensioned
// (time, y, x). Absent variables yield nil series.
func LoadForcing(path string) (*WindStress, *AtmosphericPressure, error) {
	ff, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("swesim: opening forcing file: %v", err)
	}
	defer ff.Close()
	f, err := cdf.Open(ff)
	if err != nil {
		return nil, nil, fmt.Errorf("swesim: reading forcing header: %v", err)
	}

	have := make(map[string]bool)
	for _, v := range f.Header.Variables() {
		have[v] = true
	}
	if !have["time"] {
		return nil, nil, errors.New("swesim: forcing file has no time variable")
	}
	nt := f.Header.Lengths("time")[0]
	times := make([]float64, nt)
	if _, err := f.Reader("time", nil, nil).Read(times); err != nil {
		return nil, nil, fmt.Errorf("swesim: reading forcing times: %v", err)
	}

	readSeries := func(name string) (TemporalField, error) {
		dims := f.Header.Lengths(name)
		if len(dims) != 3 {
			return TemporalField{}, fmt.Errorf("swesim: forcing variable %s has %d dimensions, want 3", name, len(dims))
		}
		ny, nx := dims[1], dims[2]
		out := TemporalField{Times: times, Fields: make([]*sparse.DenseArray, nt)}
		for r := 0; r < nt; r++ {
			buf := make([]float32, ny*nx)
			if _, err := f.Reader(name, []int{r, 0, 0}, []int{r + 1, 0, 0}).Read(buf); err != nil {
				return TemporalField{}, fmt.Errorf("swesim: reading forcing variable %s record %d: %v", name, r, err)
			}
			arr := sparse.ZerosDense(ny, nx)
			for i, v := range buf {
				arr.Elements[i] = float64(v)
			}
			out.Fields[r] = arr
		}
		return out, nil
	}

	var wind *WindStress
	if have["wind_x"] || have["wind_y"] {
		if !have["wind_x"] || !have["wind_y"] {
			return nil, nil, errors.New("swesim: forcing file must hold both wind components or neither")
		}
		wind = new(WindStress)
		if wind.X, err = readSeries("wind_x"); err != nil {
			return nil, nil, err
		}
		if wind.Y, err = readSeries("wind_y"); err != nil {
			return nil, nil, err
		}
	}
	var pressure *AtmosphericPressure
	if have["pressure"] {
		pressure = new(AtmosphericPressure)
		if pressure.P, err = readSeries("pressure"); err != nil {
			return nil, nil, err
		}
	}
	return wind, pressure, nil
}
