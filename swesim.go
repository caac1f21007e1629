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

// Package swesim is a time-stepping engine for 2D shallow-water simulations
// running on an execution backend such as OpenCL. The finite-volume scheme
// itself is an opaque compute kernel; this package owns the double-buffered
// device state, the boundary-condition and forcing plumbing around each
// kernel launch, and the simulation clock.
package swesim

import (
	"errors"
	"fmt"

	"github.com/ctessum/sparse"
	"github.com/sirupsen/logrus"

	"github.com/oceanmodel/swesim/device"
)

// Version gives the version number.
const Version = "0.1.0"

// Integrator selects the time integration scheme.
type Integrator int

const (
	// IntegratorEuler advances with single forward-Euler stages.
	IntegratorEuler Integrator = iota
	// IntegratorRK2 advances with two-stage second-order Runge-Kutta.
	IntegratorRK2
)

func (i Integrator) String() string {
	switch i {
	case IntegratorEuler:
		return "euler"
	case IntegratorRK2:
		return "rk2"
	}
	return fmt.Sprintf("Integrator(%d)", int(i))
}

// Sidecar is an optional attachment (drifter advection, ensemble bookkeeping)
// notified after each completed sub-step. It receives the simulator's stream
// and the new simulation time; the stepping loop never inspects it beyond
// calling Advected.
type Sidecar interface {
	Advected(s device.Stream, t float64) error
}

// Config collects the physical and numerical parameters of a simulation.
type Config struct {
	NX, NY         int     // interior cells (before sponge folding)
	GhostX, GhostY int     // ghost cells per side
	DX, DY         float64 // cell spacing [m]
	DT             float64 // sub-step size [s]

	G                  float64 // gravitational acceleration [m/s²]
	F                  float64 // Coriolis parameter [1/s]
	CoriolisBeta       float64 // linear Coriolis variation [1/(m·s)]
	R                  float64 // bottom friction coefficient [m/s]
	Theta              float64 // minmod slope-limiter parameter
	YZeroReferenceCell float64 // grid row where the beta term vanishes

	TimeIntegrator Integrator
	StartTime      float64 // simulation clock at construction [s]

	Boundaries Boundaries

	Wind     *WindStress
	Pressure *AtmosphericPressure

	// CheckpointPath enables NetCDF persistence; one record is appended
	// every CheckpointInterval completed Advance calls (0 means every
	// call).
	CheckpointPath     string
	CheckpointInterval int

	// Comm is an opaque handle to an ensemble communicator. It is stored
	// and exposed through Simulator.Comm but never used by the engine.
	Comm interface{}

	Logger logrus.FieldLogger

	// spongeFolded marks dimensions that already include the flow
	// relaxation zones; set when resuming from a checkpoint.
	spongeFolded bool
}

// InitialState holds the host-side fields the simulation starts from. Eta,
// Hu and Hv must cover the padded domain after sponge folding; nil means
// zero. H is the bathymetry at cell corners, shaped
// (paddedNY+1)×(paddedNX+1), and is required.
type InitialState struct {
	Eta, Hu, Hv *sparse.DenseArray
	H           *sparse.DenseArray
}

// Simulator steps one shallow-water state forward in time. It is not safe
// for concurrent use; all methods must be called from one goroutine.
type Simulator struct {
	grid Grid
	cfg  Config
	log  logrus.FieldLogger

	backend device.Backend
	stream  device.Stream
	kernel  device.StepKernel
	bc      device.BoundaryKernel

	fields *fieldStore
	bi, bm device.Buffer2D

	windX, windY, pressure *forcingInterpolator

	stepFn func(dt float32) error
	stage  stepStage

	t          float64 // simulation clock [s]
	t0         float64 // clock value at construction or resume
	iterations int     // completed sub-steps

	writer   *checkpointWriter
	advances int

	sidecar Sidecar

	closed bool
}

// New builds a simulator on backend. kernel is the compiled finite-volume
// step kernel; newBoundary builds the matching boundary-condition applicator
// once the final domain dimensions are known.
func New(cfg Config, backend device.Backend, kernel device.StepKernel, newBoundary device.BoundaryFactory, init InitialState) (*Simulator, error) {
	if backend == nil || kernel == nil || newBoundary == nil {
		return nil, errors.New("swesim: backend, kernel and boundary factory are all required")
	}
	if cfg.DT <= 0 {
		return nil, fmt.Errorf("swesim: sub-step size %g must be positive", cfg.DT)
	}
	if cfg.TimeIntegrator != IntegratorEuler && cfg.TimeIntegrator != IntegratorRK2 {
		return nil, fmt.Errorf("swesim: unknown time integrator %v", cfg.TimeIntegrator)
	}
	grid := Grid{
		NX: cfg.NX, NY: cfg.NY,
		GhostX: cfg.GhostX, GhostY: cfg.GhostY,
		DX: cfg.DX, DY: cfg.DY,
	}
	if err := grid.validate(); err != nil {
		return nil, err
	}
	if err := cfg.Boundaries.validate(grid); err != nil {
		return nil, err
	}
	if !cfg.spongeFolded {
		grid = cfg.Boundaries.Fold(grid)
	}
	if cfg.Wind != nil {
		if len(cfg.Wind.X.Times) != len(cfg.Wind.Y.Times) {
			return nil, errors.New("swesim: wind stress components must share one time axis")
		}
		for i := range cfg.Wind.X.Times {
			if cfg.Wind.X.Times[i] != cfg.Wind.Y.Times[i] {
				return nil, errors.New("swesim: wind stress components must share one time axis")
			}
		}
	}
	log := cfg.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}

	sim := &Simulator{
		grid:    grid,
		cfg:     cfg,
		log:     log,
		backend: backend,
		kernel:  kernel,
		t:       cfg.StartTime,
		t0:      cfg.StartTime,
		stage:   stageIdle,
	}
	stream, err := backend.NewStream()
	if err != nil {
		return nil, fmt.Errorf("swesim: creating stream: %v", err)
	}
	sim.stream = stream

	sim.bc, err = newBoundary(cfg.Boundaries.deviceSpec(grid))
	if err != nil {
		sim.Close()
		return nil, fmt.Errorf("swesim: building boundary applicator: %v", err)
	}

	if err := sim.uploadBathymetry(init.H); err != nil {
		sim.Close()
		return nil, err
	}
	sim.fields, err = newFieldStore(backend, stream, grid, init.Eta, init.Hu, init.Hv)
	if err != nil {
		sim.Close()
		return nil, err
	}

	for _, role := range []struct {
		name   string
		series *TemporalField
		dst    **forcingInterpolator
	}{
		{"wind-x", windSeries(cfg.Wind, true), &sim.windX},
		{"wind-y", windSeries(cfg.Wind, false), &sim.windY},
		{"pressure", pressureSeries(cfg.Pressure), &sim.pressure},
	} {
		fi, err := newForcingInterpolator(role.name, role.series, backend, stream, grid, cfg.StartTime, log)
		if err != nil {
			sim.Close()
			return nil, err
		}
		*role.dst = fi
	}

	switch cfg.TimeIntegrator {
	case IntegratorEuler:
		sim.stepFn = sim.stepEuler
	case IntegratorRK2:
		sim.stepFn = sim.stepRK2
	}

	if cfg.CheckpointPath != "" {
		w, err := newCheckpointWriter(cfg.CheckpointPath, sim, init.H)
		if err != nil {
			sim.Close()
			return nil, err
		}
		sim.writer = w
	}

	log.WithFields(logrus.Fields{
		"backend":    backend.Name(),
		"nx":         grid.NX,
		"ny":         grid.NY,
		"dt":         cfg.DT,
		"integrator": cfg.TimeIntegrator.String(),
		"t0":         cfg.StartTime,
	}).Info("simulator ready")
	return sim, nil
}

func windSeries(w *WindStress, x bool) *TemporalField {
	if w == nil {
		return nil
	}
	if x {
		return &w.X
	}
	return &w.Y
}

func pressureSeries(p *AtmosphericPressure) *TemporalField {
	if p == nil {
		return nil
	}
	return &p.P
}

// uploadBathymetry validates the corner field, derives the cell-center field
// by averaging the four surrounding corners, and uploads both.
func (sim *Simulator) uploadBathymetry(h *sparse.DenseArray) error {
	g := sim.grid
	cw, ch := g.PaddedNX()+1, g.PaddedNY()+1
	if h == nil {
		return errors.New("swesim: corner bathymetry is required")
	}
	if len(h.Shape) != 2 || h.Shape[0] != ch || h.Shape[1] != cw {
		return fmt.Errorf("swesim: bathymetry shape %v, want %d×%d cell corners", h.Shape, cw, ch)
	}
	corners := make([]float32, len(h.Elements))
	for i, v := range h.Elements {
		corners[i] = float32(v)
	}
	centers := make([]float32, g.PaddedNX()*g.PaddedNY())
	for j := 0; j < g.PaddedNY(); j++ {
		for i := 0; i < g.PaddedNX(); i++ {
			centers[j*g.PaddedNX()+i] = 0.25 * (corners[j*cw+i] + corners[j*cw+i+1] +
				corners[(j+1)*cw+i] + corners[(j+1)*cw+i+1])
		}
	}
	var err error
	sim.bi, err = sim.backend.NewBuffer2D(sim.stream, g.NX+1, g.NY+1, g.GhostX, g.GhostY, corners)
	if err != nil {
		return fmt.Errorf("swesim: uploading corner bathymetry: %v", err)
	}
	sim.bm, err = sim.backend.NewBuffer2D(sim.stream, g.NX, g.NY, g.GhostX, g.GhostY, centers)
	if err != nil {
		return fmt.Errorf("swesim: uploading cell-center bathymetry: %v", err)
	}
	return nil
}

// Grid returns the domain descriptor, with sponge zones already folded in.
func (sim *Simulator) Grid() Grid { return sim.grid }

// Time returns the current simulation clock in seconds.
func (sim *Simulator) Time() float64 { return sim.t }

// Iterations returns the number of completed sub-steps.
func (sim *Simulator) Iterations() int { return sim.iterations }

// Comm returns the opaque ensemble communicator handle, if any.
func (sim *Simulator) Comm() interface{} { return sim.cfg.Comm }

// Attach registers the sidecar notified after each sub-step. Passing nil
// detaches.
func (sim *Simulator) Attach(sc Sidecar) { sim.sidecar = sc }

// Close releases all device resources. It is safe to call more than once;
// only the first call does work. Any error from flushing the checkpoint
// file is returned.
func (sim *Simulator) Close() error {
	if sim.closed {
		return nil
	}
	sim.closed = true
	var err error
	if sim.writer != nil {
		err = sim.writer.close()
		sim.writer = nil
	}
	for _, fi := range []*forcingInterpolator{sim.windX, sim.windY, sim.pressure} {
		if fi != nil {
			fi.release()
		}
	}
	sim.windX, sim.windY, sim.pressure = nil, nil, nil
	if sim.fields != nil {
		sim.fields.release()
		sim.fields = nil
	}
	if sim.bi != nil {
		sim.bi.Release()
		sim.bi = nil
	}
	if sim.bm != nil {
		sim.bm.Release()
		sim.bm = nil
	}
	if r, ok := sim.bc.(interface{ Release() }); ok {
		r.Release()
	}
	sim.bc = nil
	if r, ok := sim.stream.(interface{ Release() }); ok {
		r.Release()
	}
	sim.stream = nil
	return err
}
