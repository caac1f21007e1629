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
	"math"
	"testing"

	"github.com/ctessum/sparse"
	"github.com/sirupsen/logrus"

	"github.com/oceanmodel/swesim/device"
)

const (
	testNX        = 8
	testNY        = 6
	testGhost     = 2
	testDT        = 1.0
	testDepth     = 10.0
	testTolerance = 1e-5
)

func init() {
	logrus.SetLevel(logrus.PanicLevel) // keep test output quiet
}

func different(a, b, tolerance float64) bool {
	if a == b {
		return false
	}
	if 2*math.Abs(a-b)/math.Abs(a+b) > tolerance || math.IsNaN(a) || math.IsNaN(b) {
		return true
	}
	return false
}

// decayStepKernel relaxes every field toward zero with rate lambda. Stage 1
// performs the Runge-Kutta blend against the state already in the write
// target, making the two-stage path a Heun scheme for du/dt = -lambda u.
type decayStepKernel struct {
	lambda float32
}

func (k decayStepKernel) Launch(s device.Stream, a *device.StepArgs) error {
	decay := 1 - k.lambda*a.DT
	for _, p := range [][2]device.Buffer2D{
		{a.EtaIn, a.EtaOut}, {a.HuIn, a.HuOut}, {a.HvIn, a.HvOut},
	} {
		in := p[0].(*device.HostBuffer)
		out := p[1].(*device.HostBuffer)
		for j := 0; j < in.NY()+2*in.HaloY(); j++ {
			for i := 0; i < in.NX()+2*in.HaloX(); i++ {
				v := decay * in.At(i, j)
				if a.Stage == 1 {
					v = 0.5*out.At(i, j) + 0.5*v
				}
				out.SetAt(i, j, v)
			}
		}
	}
	return nil
}

func testConfig(integrator Integrator) Config {
	return Config{
		NX: testNX, NY: testNY,
		GhostX: testGhost, GhostY: testGhost,
		DX: 100, DY: 100, DT: testDT,
		G:              9.81,
		Theta:          1.3,
		TimeIntegrator: integrator,
		Boundaries:     WallBoundaries(),
	}
}

// uniformState builds an initial state with constant eta and zero momentum,
// so pointwise test kernels have a closed-form solution.
func uniformState(g Grid, eta0 float64) InitialState {
	eta := sparse.ZerosDense(g.PaddedNY(), g.PaddedNX())
	for i := range eta.Elements {
		eta.Elements[i] = eta0
	}
	return InitialState{Eta: eta, H: ConstantBathymetry(g, testDepth)}
}

func testSimulator(t *testing.T, cfg Config, kernel device.StepKernel, eta0 float64) *Simulator {
	t.Helper()
	g := Grid{NX: cfg.NX, NY: cfg.NY, GhostX: cfg.GhostX, GhostY: cfg.GhostY, DX: cfg.DX, DY: cfg.DY}
	g = cfg.Boundaries.Fold(g)
	sim, err := New(cfg, device.NewHostBackend(), kernel, device.NewHostBoundary, uniformState(g, eta0))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { sim.Close() })
	return sim
}

func TestNewValidatesConfig(t *testing.T) {
	cfg := testConfig(IntegratorEuler)
	backend := device.NewHostBackend()
	g := Grid{NX: cfg.NX, NY: cfg.NY, GhostX: cfg.GhostX, GhostY: cfg.GhostY, DX: cfg.DX, DY: cfg.DY}
	state := uniformState(g, 0)

	bad := cfg
	bad.DT = 0
	if _, err := New(bad, backend, device.CopyStepKernel{}, device.NewHostBoundary, state); err == nil {
		t.Error("expected error for zero dt")
	}

	bad = cfg
	bad.Boundaries.North = device.BCPeriodic
	if _, err := New(bad, backend, device.CopyStepKernel{}, device.NewHostBoundary, state); err == nil {
		t.Error("expected error for unpaired periodic boundary")
	}

	bad = cfg
	if _, err := New(bad, backend, device.CopyStepKernel{}, device.NewHostBoundary, InitialState{}); err == nil {
		t.Error("expected error for missing bathymetry")
	}

	bad = cfg
	bad.Wind = &WindStress{
		X: TemporalField{Times: []float64{0, 10}, Fields: testForcingFields(g, 2)},
		Y: TemporalField{Times: []float64{0, 20}, Fields: testForcingFields(g, 2)},
	}
	if _, err := New(bad, backend, device.CopyStepKernel{}, device.NewHostBoundary, state); err == nil {
		t.Error("expected error for mismatched wind time axes")
	}
}

func TestSpongeFoldingGrowsInterior(t *testing.T) {
	cfg := testConfig(IntegratorEuler)
	cfg.Boundaries.East = device.BCSponge
	cfg.Boundaries.SpongeEast = 10
	sim := testSimulator(t, cfg, device.CopyStepKernel{}, 0)
	if got, want := sim.Grid().NX, testNX+10-testGhost; got != want {
		t.Errorf("folded nx = %d, want %d", got, want)
	}
	if got := sim.Grid().NY; got != testNY {
		t.Errorf("folded ny = %d, want %d", got, testNY)
	}
}

func TestUploadDownloadRoundTrip(t *testing.T) {
	sim := testSimulator(t, testConfig(IntegratorEuler), device.CopyStepKernel{}, 0)
	g := sim.Grid()

	eta := sparse.ZerosDense(g.PaddedNY(), g.PaddedNX())
	for j := 0; j < g.PaddedNY(); j++ {
		for i := 0; i < g.PaddedNX(); i++ {
			eta.Set(float64(j*1000+i), j, i)
		}
	}
	if err := sim.Upload(eta, nil, nil); err != nil {
		t.Fatal(err)
	}
	got, _, _, err := sim.Download(true)
	if err != nil {
		t.Fatal(err)
	}
	if got.Shape[0] != g.NY || got.Shape[1] != g.NX {
		t.Fatalf("interior shape %v, want [%d %d]", got.Shape, g.NY, g.NX)
	}
	for j := 0; j < g.NY; j++ {
		for i := 0; i < g.NX; i++ {
			want := eta.Get(j+g.GhostY, i+g.GhostX)
			if got.Get(j, i) != want {
				t.Fatalf("interior (%d,%d) = %g, want %g", j, i, got.Get(j, i), want)
			}
		}
	}

	// The ghost frame was rewritten by the boundary pass: wall mirror.
	full, _, _, err := sim.Download(false)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := full.Get(g.GhostY, 0), full.Get(g.GhostY, 2*g.GhostX-1); got != want {
		t.Errorf("west ghost = %g, want mirrored %g", got, want)
	}
}

func TestUploadOverwritesBothSets(t *testing.T) {
	sim := testSimulator(t, testConfig(IntegratorEuler), device.CopyStepKernel{}, 0)
	g := sim.Grid()

	fill := func(v float64) *sparse.DenseArray {
		a := sparse.ZerosDense(g.PaddedNY(), g.PaddedNX())
		for i := range a.Elements {
			a.Elements[i] = v
		}
		return a
	}
	scratchEta := func() *sparse.DenseArray {
		data, err := sim.fields.scratch().eta.Download(sim.stream)
		if err != nil {
			t.Fatal(err)
		}
		return hostDense(data, g, true)
	}

	// Distinct content per buffer set.
	if err := sim.UploadBoth(fill(1), nil, nil, fill(2), nil, nil); err != nil {
		t.Fatal(err)
	}
	cur, _, _, err := sim.Download(true)
	if err != nil {
		t.Fatal(err)
	}
	if got := cur.Get(0, 0); got != 1 {
		t.Errorf("current set eta = %g, want 1", got)
	}
	if got := scratchEta().Get(0, 0); got != 2 {
		t.Errorf("scratch set eta = %g, want 2", got)
	}

	// The three-field form duplicates into both sets.
	if err := sim.Upload(fill(7), nil, nil); err != nil {
		t.Fatal(err)
	}
	cur, _, _, err = sim.Download(true)
	if err != nil {
		t.Fatal(err)
	}
	if got := cur.Get(g.NY-1, g.NX-1); got != 7 {
		t.Errorf("current set eta = %g, want 7", got)
	}
	if got := scratchEta().Get(g.NY-1, g.NX-1); got != 7 {
		t.Errorf("scratch set eta = %g, want 7", got)
	}
}

func TestDownloadBathymetry(t *testing.T) {
	sim := testSimulator(t, testConfig(IntegratorEuler), device.CopyStepKernel{}, 0)
	bi, bm, err := sim.DownloadBathymetry()
	if err != nil {
		t.Fatal(err)
	}
	g := sim.Grid()
	if bi.Shape[0] != g.PaddedNY()+1 || bi.Shape[1] != g.PaddedNX()+1 {
		t.Errorf("corner shape %v", bi.Shape)
	}
	if bm.Shape[0] != g.PaddedNY() || bm.Shape[1] != g.PaddedNX() {
		t.Errorf("center shape %v", bm.Shape)
	}
	// Flat bathymetry averages to itself.
	if different(bm.Get(g.GhostY+1, g.GhostX+1), testDepth, testTolerance) {
		t.Errorf("center depth = %g, want %g", bm.Get(g.GhostY+1, g.GhostX+1), testDepth)
	}
}

func TestCopyState(t *testing.T) {
	kernel := decayStepKernel{lambda: 0.01}
	a := testSimulator(t, testConfig(IntegratorEuler), kernel, 1)
	b := testSimulator(t, testConfig(IntegratorEuler), kernel, 5)

	if _, err := a.Advance(3); err != nil {
		t.Fatal(err)
	}
	if err := b.CopyState(a); err != nil {
		t.Fatal(err)
	}
	if b.Time() != a.Time() {
		t.Errorf("copied clock %g, want %g", b.Time(), a.Time())
	}
	if b.Iterations() != a.Iterations() {
		t.Errorf("copied iterations %d, want %d", b.Iterations(), a.Iterations())
	}
	wantEta, _, _, err := a.Download(false)
	if err != nil {
		t.Fatal(err)
	}
	gotEta, _, _, err := b.Download(false)
	if err != nil {
		t.Fatal(err)
	}
	for i := range wantEta.Elements {
		if gotEta.Elements[i] != wantEta.Elements[i] {
			t.Fatalf("copied state differs at element %d: %g != %g",
				i, gotEta.Elements[i], wantEta.Elements[i])
		}
	}

	// Copies between the two simulators keep working after more stepping.
	if _, err := b.Advance(2); err != nil {
		t.Fatal(err)
	}

	small := testConfig(IntegratorEuler)
	small.NX = testNX / 2
	c := testSimulator(t, small, kernel, 1)
	if err := c.CopyState(a); err == nil {
		t.Error("expected error copying between mismatched domains")
	}
	rk2 := testSimulator(t, testConfig(IntegratorRK2), kernel, 1)
	if err := rk2.CopyState(a); err == nil {
		t.Error("expected error copying between different integrators")
	}
}

func TestCopyStateSharesForcing(t *testing.T) {
	cfg := testConfig(IntegratorEuler)
	g := Grid{NX: cfg.NX, NY: cfg.NY, GhostX: cfg.GhostX, GhostY: cfg.GhostY, DX: cfg.DX, DY: cfg.DY}
	cfg.Wind = &WindStress{
		X: TemporalField{Times: []float64{0, 10}, Fields: testForcingFields(g, 2)},
		Y: TemporalField{Times: []float64{0, 10}, Fields: testForcingFields(g, 2)},
	}
	a, err := New(cfg, device.NewHostBackend(), device.CopyStepKernel{}, device.NewHostBoundary, uniformState(g, 1))
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()

	b := testSimulator(t, testConfig(IntegratorEuler), device.CopyStepKernel{}, 0) // no wind
	if err := b.CopyState(a); err != nil {
		t.Fatal(err)
	}
	frac, err := b.windX.refresh(b.stream, 5)
	if err != nil {
		t.Fatal(err)
	}
	if different(float64(frac), 0.5, testTolerance) {
		t.Errorf("adopted wind fraction = %g, want 0.5", frac)
	}
	next, err := b.windX.next.Download(b.stream)
	if err != nil {
		t.Fatal(err)
	}
	if next[0] != 1 {
		t.Errorf("adopted wind snapshot holds %g, want sample 1", next[0])
	}
}

// releasableBoundary records whether the simulator released it on Close.
type releasableBoundary struct {
	device.BoundaryKernel
	released bool
}

func (b *releasableBoundary) Release() { b.released = true }

func TestCloseReleasesBoundaryKernel(t *testing.T) {
	var rb *releasableBoundary
	factory := func(spec device.BoundarySpec) (device.BoundaryKernel, error) {
		inner, err := device.NewHostBoundary(spec)
		if err != nil {
			return nil, err
		}
		rb = &releasableBoundary{BoundaryKernel: inner}
		return rb, nil
	}
	cfg := testConfig(IntegratorEuler)
	g := Grid{NX: cfg.NX, NY: cfg.NY, GhostX: cfg.GhostX, GhostY: cfg.GhostY, DX: cfg.DX, DY: cfg.DY}
	sim, err := New(cfg, device.NewHostBackend(), device.CopyStepKernel{}, factory, uniformState(g, 0))
	if err != nil {
		t.Fatal(err)
	}
	if err := sim.Close(); err != nil {
		t.Fatal(err)
	}
	if !rb.released {
		t.Error("boundary kernel not released on close")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	sim := testSimulator(t, testConfig(IntegratorEuler), device.CopyStepKernel{}, 0)
	if err := sim.Close(); err != nil {
		t.Fatal(err)
	}
	if err := sim.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := sim.Advance(1); err == nil {
		t.Error("expected error advancing a closed simulator")
	}
	if _, _, _, err := sim.Download(false); err == nil {
		t.Error("expected error downloading from a closed simulator")
	}
}

// sidecarRecorder records the times it was notified at.
type sidecarRecorder struct {
	times []float64
}

func (r *sidecarRecorder) Advected(s device.Stream, t float64) error {
	r.times = append(r.times, t)
	return nil
}

func TestSidecarNotifiedPerSubStep(t *testing.T) {
	sim := testSimulator(t, testConfig(IntegratorEuler), device.CopyStepKernel{}, 0)
	rec := new(sidecarRecorder)
	sim.Attach(rec)
	if _, err := sim.Advance(2.5); err != nil {
		t.Fatal(err)
	}
	if len(rec.times) != 3 {
		t.Fatalf("sidecar notified %d times, want 3", len(rec.times))
	}
	if last := rec.times[len(rec.times)-1]; different(last, 2.5, testTolerance) {
		t.Errorf("last notification at t=%g, want 2.5", last)
	}
}
