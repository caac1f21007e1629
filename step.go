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

	"github.com/oceanmodel/swesim/device"
)

// stepStage tracks where in a sub-step the controller is, for error context.
type stepStage int

const (
	stageIdle stepStage = iota
	stagingEuler
	stagingRK2Stage0
	stagingRK2Stage1
)

func (s stepStage) String() string {
	switch s {
	case stageIdle:
		return "idle"
	case stagingEuler:
		return "euler"
	case stagingRK2Stage0:
		return "rk2 stage 0"
	case stagingRK2Stage1:
		return "rk2 stage 1"
	}
	return fmt.Sprintf("stepStage(%d)", int(s))
}

// Advance runs the simulation forward by targetElapsed seconds and returns
// the new simulation time. The interval is covered by
// floor(targetElapsed/dt)+1 sub-steps, the last one shortened so the clock
// lands exactly on t+targetElapsed. A non-positive target returns the clock
// unchanged without touching the device.
//
// On the first call after construction or resume the boundary conditions are
// applied to the initial state before any stepping, so user-supplied fields
// need not carry valid ghost cells.
func (sim *Simulator) Advance(targetElapsed float64) (float64, error) {
	if sim.closed {
		return sim.t, fmt.Errorf("swesim: advance on closed simulator")
	}
	if targetElapsed <= 0 {
		return sim.t, nil
	}
	if sim.t == sim.t0 {
		cur := sim.fields.current()
		if err := sim.bc.Apply(sim.stream, cur.eta, cur.hu, cur.hv); err != nil {
			return sim.t, fmt.Errorf("swesim: initial boundary pass: %v", err)
		}
	}
	n := int(targetElapsed/sim.cfg.DT) + 1
	for i := 0; i < n; i++ {
		localDT := targetElapsed - float64(i)*sim.cfg.DT
		if localDT > sim.cfg.DT {
			localDT = sim.cfg.DT
		}
		if localDT <= 0 {
			break
		}
		if err := sim.stepFn(float32(localDT)); err != nil {
			return sim.t, fmt.Errorf("swesim: sub-step %d (%v): %v", sim.iterations, sim.stage, err)
		}
		sim.stage = stageIdle
		sim.t += localDT
		sim.iterations++
		if sim.sidecar != nil {
			if err := sim.sidecar.Advected(sim.stream, sim.t); err != nil {
				return sim.t, fmt.Errorf("swesim: sidecar after sub-step %d: %v", sim.iterations, err)
			}
		}
	}
	if sim.writer != nil {
		sim.advances++
		interval := sim.cfg.CheckpointInterval
		if interval <= 0 {
			interval = 1
		}
		if sim.advances%interval == 0 {
			if err := sim.writeCheckpoint(); err != nil {
				return sim.t, err
			}
		}
	}
	return sim.t, nil
}

// stepArgs fills the kernel argument block shared by all stages.
func (sim *Simulator) stepArgs(dt float32, in, out *fieldSet, stage int32, windT, pressureT float32) *device.StepArgs {
	g := sim.grid
	b := sim.cfg.Boundaries
	return &device.StepArgs{
		NX: int32(g.NX), NY: int32(g.NY),
		DX: float32(g.DX), DY: float32(g.DY), DT: dt,
		G:              float32(sim.cfg.G),
		Theta:          float32(sim.cfg.Theta),
		F:              float32(sim.cfg.F),
		Beta:           float32(sim.cfg.CoriolisBeta),
		YZeroReference: float32(sim.cfg.YZeroReferenceCell),
		R:              float32(sim.cfg.R),
		Stage:          stage,
		EtaIn:          in.eta, HuIn: in.hu, HvIn: in.hv,
		EtaOut: out.eta, HuOut: out.hu, HvOut: out.hv,
		Bi: sim.bi, Bm: sim.bm,
		BCNorth: b.North, BCEast: b.East, BCSouth: b.South, BCWest: b.West,
		WindXCurrent: sim.windX.current, WindXNext: sim.windX.next,
		WindYCurrent: sim.windY.current, WindYNext: sim.windY.next,
		WindT:           windT,
		PressureCurrent: sim.pressure.current, PressureNext: sim.pressure.next,
		PressureT:       pressureT,
	}
}

// refreshForcing updates all forcing snapshots for the state time the next
// stage reads from.
func (sim *Simulator) refreshForcing() (windT, pressureT float32, err error) {
	windT, err = sim.windX.refresh(sim.stream, sim.t)
	if err != nil {
		return 0, 0, err
	}
	// The Y component shares the X time axis; refresh for its reloads only.
	if _, err = sim.windY.refresh(sim.stream, sim.t); err != nil {
		return 0, 0, err
	}
	pressureT, err = sim.pressure.refresh(sim.stream, sim.t)
	if err != nil {
		return 0, 0, err
	}
	return windT, pressureT, nil
}

// stepEuler performs one forward-Euler sub-step: the kernel writes the new
// state into the scratch set, ghost cells are refreshed there, and the roles
// swap.
func (sim *Simulator) stepEuler(dt float32) error {
	sim.stage = stagingEuler
	windT, pressureT, err := sim.refreshForcing()
	if err != nil {
		return err
	}
	out := sim.fields.scratch()
	if err := sim.kernel.Launch(sim.stream, sim.stepArgs(dt, sim.fields.current(), out, 0, windT, pressureT)); err != nil {
		return err
	}
	if err := sim.bc.Apply(sim.stream, out.eta, out.hu, out.hv); err != nil {
		return err
	}
	sim.fields.swapRoles()
	return nil
}

// stepRK2 performs one two-stage Runge-Kutta sub-step. Stage 0 predicts into
// the scratch set; stage 1 reads the prediction and blends the result back
// into the set that was current before the sub-step, so no role swap happens.
func (sim *Simulator) stepRK2(dt float32) error {
	sim.stage = stagingRK2Stage0
	windT, pressureT, err := sim.refreshForcing()
	if err != nil {
		return err
	}
	cur, scr := sim.fields.current(), sim.fields.scratch()
	if err := sim.kernel.Launch(sim.stream, sim.stepArgs(dt, cur, scr, 0, windT, pressureT)); err != nil {
		return err
	}
	if err := sim.bc.Apply(sim.stream, scr.eta, scr.hu, scr.hv); err != nil {
		return err
	}

	sim.stage = stagingRK2Stage1
	if err := sim.kernel.Launch(sim.stream, sim.stepArgs(dt, scr, cur, 1, windT, pressureT)); err != nil {
		return err
	}
	return sim.bc.Apply(sim.stream, cur.eta, cur.hu, cur.hv)
}
