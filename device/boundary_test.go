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

import "testing"

const (
	bcNX = 4
	bcNY = 3
	bcHX = 2
	bcHY = 2
)

// bcFixture builds the three conserved-field buffers with every interior
// cell holding a unique value and ghost cells poisoned, then applies the
// given boundary configuration.
func bcFixture(t *testing.T, spec BoundarySpec) (eta, hu, hv *HostBuffer) {
	t.Helper()
	b := NewHostBackend()
	s, err := b.NewStream()
	if err != nil {
		t.Fatal(err)
	}
	mk := func(offset float32) *HostBuffer {
		buf, err := b.NewBuffer2D(s, spec.NX, spec.NY, spec.HaloX, spec.HaloY, nil)
		if err != nil {
			t.Fatal(err)
		}
		hb := buf.(*HostBuffer)
		for j := 0; j < spec.NY+2*spec.HaloY; j++ {
			for i := 0; i < spec.NX+2*spec.HaloX; i++ {
				interior := i >= spec.HaloX && i < spec.NX+spec.HaloX &&
					j >= spec.HaloY && j < spec.NY+spec.HaloY
				if interior {
					hb.SetAt(i, j, offset+float32(j*100+i))
				} else {
					hb.SetAt(i, j, -9999)
				}
			}
		}
		return hb
	}
	eta, hu, hv = mk(0), mk(1000), mk(2000)
	bc, err := NewHostBoundary(spec)
	if err != nil {
		t.Fatal(err)
	}
	if err := bc.Apply(s, eta, hu, hv); err != nil {
		t.Fatal(err)
	}
	return eta, hu, hv
}

func uniformSpec(kind BCKind) BoundarySpec {
	return BoundarySpec{
		NX: bcNX, NY: bcNY, HaloX: bcHX, HaloY: bcHY,
		North: kind, East: kind, South: kind, West: kind,
	}
}

func TestPeriodicBoundary(t *testing.T) {
	eta, _, _ := bcFixture(t, uniformSpec(BCPeriodic))
	// West ghost columns wrap from the east side of the interior.
	for j := bcHY; j < bcNY+bcHY; j++ {
		for g := 0; g < bcHX; g++ {
			if got, want := eta.At(g, j), eta.At(g+bcNX, j); got != want {
				t.Errorf("west ghost (%d,%d) = %g, want %g", g, j, got, want)
			}
			ie := bcNX + 2*bcHX - 1 - g
			if got, want := eta.At(ie, j), eta.At(ie-bcNX, j); got != want {
				t.Errorf("east ghost (%d,%d) = %g, want %g", ie, j, got, want)
			}
		}
	}
	// South ghost rows wrap from the north side.
	for i := bcHX; i < bcNX+bcHX; i++ {
		if got, want := eta.At(i, 0), eta.At(i, bcNY); got != want {
			t.Errorf("south ghost (%d,0) = %g, want %g", i, got, want)
		}
	}
}

func TestWallBoundaryMirrorsAndFlipsNormalMomentum(t *testing.T) {
	eta, hu, hv := bcFixture(t, uniformSpec(BCWall))
	for j := bcHY; j < bcNY+bcHY; j++ {
		for g := 0; g < bcHX; g++ {
			mirror := 2*bcHX - 1 - g
			if got, want := eta.At(g, j), eta.At(mirror, j); got != want {
				t.Errorf("eta west ghost (%d,%d) = %g, want %g", g, j, got, want)
			}
			// hu is normal to the west wall and changes sign.
			if got, want := hu.At(g, j), -hu.At(mirror, j); got != want {
				t.Errorf("hu west ghost (%d,%d) = %g, want %g", g, j, got, want)
			}
			// hv is tangential to the west wall and keeps its sign.
			if got, want := hv.At(g, j), hv.At(mirror, j); got != want {
				t.Errorf("hv west ghost (%d,%d) = %g, want %g", g, j, got, want)
			}
		}
	}
	for i := bcHX; i < bcNX+bcHX; i++ {
		for g := 0; g < bcHY; g++ {
			mirror := 2*bcHY - 1 - g
			if got, want := hv.At(i, g), -hv.At(i, mirror); got != want {
				t.Errorf("hv south ghost (%d,%d) = %g, want %g", i, g, got, want)
			}
			if got, want := hu.At(i, g), hu.At(i, mirror); got != want {
				t.Errorf("hu south ghost (%d,%d) = %g, want %g", i, g, got, want)
			}
		}
	}
}

func TestOpenBoundaryExtrapolates(t *testing.T) {
	eta, _, _ := bcFixture(t, uniformSpec(BCOpen))
	for j := bcHY; j < bcNY+bcHY; j++ {
		for g := 0; g < bcHX; g++ {
			if got, want := eta.At(g, j), eta.At(bcHX, j); got != want {
				t.Errorf("west ghost (%d,%d) = %g, want %g", g, j, got, want)
			}
			ie := bcNX + 2*bcHX - 1 - g
			if got, want := eta.At(ie, j), eta.At(bcNX+bcHX-1, j); got != want {
				t.Errorf("east ghost (%d,%d) = %g, want %g", ie, j, got, want)
			}
		}
	}
}

func TestSpongeBoundaryDampsTheBand(t *testing.T) {
	spec := BoundarySpec{
		NX: bcNX, NY: bcNY, HaloX: bcHX, HaloY: bcHY,
		North: BCWall, East: BCWall, South: BCWall, West: BCSponge,
		SpongeWest: 2,
	}
	b := NewHostBackend()
	s, _ := b.NewStream()
	mk := func() *HostBuffer {
		buf, err := b.NewBuffer2D(s, spec.NX, spec.NY, spec.HaloX, spec.HaloY, nil)
		if err != nil {
			t.Fatal(err)
		}
		hb := buf.(*HostBuffer)
		for j := 0; j < spec.NY+2*spec.HaloY; j++ {
			for i := 0; i < spec.NX+2*spec.HaloX; i++ {
				hb.SetAt(i, j, 8)
			}
		}
		return hb
	}
	eta, hu, hv := mk(), mk(), mk()
	bc, err := NewHostBoundary(spec)
	if err != nil {
		t.Fatal(err)
	}
	if err := bc.Apply(s, eta, hu, hv); err != nil {
		t.Fatal(err)
	}
	j := bcHY + 1
	// Innermost band cell (distance 1 of width 2): kept fraction 1-(1/2)^2.
	if got, want := eta.At(bcHX+1, j), float32(8*0.75); got != want {
		t.Errorf("band cell damped to %g, want %g", got, want)
	}
	// Edge band cell relaxes fully to the quiescent exterior.
	if got := eta.At(bcHX, j); got != 0 {
		t.Errorf("edge band cell damped to %g, want 0", got)
	}
	// Cells past the band are untouched.
	if got := eta.At(bcHX+2, j); got != 8 {
		t.Errorf("interior cell changed to %g, want 8", got)
	}
}

func TestBoundaryValidation(t *testing.T) {
	spec := uniformSpec(BCPeriodic)
	spec.North = BCWall // periodic south without periodic north
	if _, err := NewHostBoundary(spec); err == nil {
		t.Error("expected error for unpaired periodic boundary")
	}
	bad := uniformSpec(BCKind(9))
	if _, err := NewHostBoundary(bad); err == nil {
		t.Error("expected error for invalid boundary kind")
	}
}
