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
	"testing"

	"github.com/oceanmodel/swesim/device"
)

func TestAdvanceClockAndIterations(t *testing.T) {
	cases := []struct {
		target         float64
		wantIterations int
	}{
		{0.5, 1}, // one shortened sub-step
		{1, 1},   // the trailing zero-length sub-step breaks early
		{2.5, 3}, // two full steps and one half step
		{10.5, 11},
	}
	for _, c := range cases {
		sim := testSimulator(t, testConfig(IntegratorEuler), device.CopyStepKernel{}, 0)
		tNew, err := sim.Advance(c.target)
		if err != nil {
			t.Fatal(err)
		}
		if different(tNew, c.target, testTolerance) {
			t.Errorf("target %g: clock = %g", c.target, tNew)
		}
		if tNew != sim.Time() {
			t.Errorf("target %g: returned %g but clock reads %g", c.target, tNew, sim.Time())
		}
		if sim.Iterations() != c.wantIterations {
			t.Errorf("target %g: %d iterations, want %d", c.target, sim.Iterations(), c.wantIterations)
		}
	}
}

func TestAdvanceNonPositiveTargetIsNoOp(t *testing.T) {
	backend := device.NewHostBackend()
	cfg := testConfig(IntegratorEuler)
	cfg.StartTime = 100
	g := Grid{NX: cfg.NX, NY: cfg.NY, GhostX: cfg.GhostX, GhostY: cfg.GhostY, DX: cfg.DX, DY: cfg.DY}
	sim, err := New(cfg, backend, device.CopyStepKernel{}, device.NewHostBoundary, uniformState(g, 1))
	if err != nil {
		t.Fatal(err)
	}
	defer sim.Close()

	transfersBefore := backend.Transfers()
	for _, target := range []float64{0, -5} {
		tNew, err := sim.Advance(target)
		if err != nil {
			t.Fatal(err)
		}
		if tNew != 100 {
			t.Errorf("target %g moved the clock to %g", target, tNew)
		}
	}
	if sim.Iterations() != 0 {
		t.Errorf("%d iterations after no-op advances", sim.Iterations())
	}
	if backend.Transfers() != transfersBefore {
		t.Error("no-op advance touched the device")
	}
}

func TestEulerDecay(t *testing.T) {
	const lambda = 0.01
	sim := testSimulator(t, testConfig(IntegratorEuler), decayStepKernel{lambda: lambda}, 1)
	if _, err := sim.Advance(2.5); err != nil {
		t.Fatal(err)
	}
	// Sub-steps of 1, 1 and 0.5 s.
	want := (1 - lambda) * (1 - lambda) * (1 - lambda*0.5)
	eta, _, _, err := sim.Download(true)
	if err != nil {
		t.Fatal(err)
	}
	if got := eta.Get(testNY/2, testNX/2); different(got, want, testTolerance) {
		t.Errorf("eta after Euler decay = %g, want %g", got, want)
	}
}

func TestRK2Decay(t *testing.T) {
	const lambda = 0.02
	sim := testSimulator(t, testConfig(IntegratorRK2), decayStepKernel{lambda: lambda}, 1)
	if _, err := sim.Advance(3); err != nil {
		t.Fatal(err)
	}
	// Heun factor per step: 1 - q + q²/2 with q = lambda·dt. The target is
	// covered by three full steps; the fourth sub-step has zero length and
	// breaks early.
	heun := func(q float64) float64 { return 1 - q + q*q/2 }
	q := lambda * testDT
	want := heun(q) * heun(q) * heun(q)
	eta, _, _, err := sim.Download(true)
	if err != nil {
		t.Fatal(err)
	}
	if got := eta.Get(testNY/2, testNX/2); different(got, want, testTolerance) {
		t.Errorf("eta after RK2 decay = %g, want %g", got, want)
	}
	if sim.Iterations() != 3 {
		t.Errorf("%d iterations, want 3", sim.Iterations())
	}
}

func TestRK2MoreAccurateThanEuler(t *testing.T) {
	const lambda = 0.1
	euler := testSimulator(t, testConfig(IntegratorEuler), decayStepKernel{lambda: lambda}, 1)
	rk2 := testSimulator(t, testConfig(IntegratorRK2), decayStepKernel{lambda: lambda}, 1)
	for _, sim := range []*Simulator{euler, rk2} {
		if _, err := sim.Advance(5); err != nil {
			t.Fatal(err)
		}
	}
	eulerEta, _, _, err := euler.Download(true)
	if err != nil {
		t.Fatal(err)
	}
	rk2Eta, _, _, err := rk2.Download(true)
	if err != nil {
		t.Fatal(err)
	}
	got := rk2Eta.Get(testNY/2, testNX/2)
	ref := eulerEta.Get(testNY/2, testNX/2)
	exact := 0.6065306597126334 // e^(-0.5) after 5 s of decay at rate 0.1
	if errRK2, errEuler := abs(got-exact), abs(ref-exact); errRK2 >= errEuler {
		t.Errorf("rk2 error %g not smaller than euler error %g", errRK2, errEuler)
	}
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func TestFirstAdvanceAppliesBoundaryConditions(t *testing.T) {
	cfg := testConfig(IntegratorEuler)
	g := Grid{NX: cfg.NX, NY: cfg.NY, GhostX: cfg.GhostX, GhostY: cfg.GhostY, DX: cfg.DX, DY: cfg.DY}
	// Poison the ghost frame of the initial state; the first Advance call
	// must overwrite it before stepping.
	state := uniformState(g, 1)
	for i := 0; i < g.PaddedNX(); i++ {
		state.Eta.Set(-9999, 0, i)
		state.Eta.Set(-9999, g.PaddedNY()-1, i)
	}
	sim, err := New(cfg, device.NewHostBackend(), device.CopyStepKernel{}, device.NewHostBoundary, state)
	if err != nil {
		t.Fatal(err)
	}
	defer sim.Close()
	if _, err := sim.Advance(0.5); err != nil {
		t.Fatal(err)
	}
	eta, _, _, err := sim.Download(false)
	if err != nil {
		t.Fatal(err)
	}
	for i := g.GhostX; i < g.NX+g.GhostX; i++ {
		if eta.Get(0, i) == -9999 {
			t.Fatalf("ghost cell (0,%d) still poisoned after first advance", i)
		}
	}
}
