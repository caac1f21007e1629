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

// Boundaries selects the treatment of each domain edge. Sponge widths are in
// cells, measured inward from the respective edge, and are only meaningful on
// edges of kind device.BCSponge.
type Boundaries struct {
	North, East, South, West device.BCKind

	SpongeNorth, SpongeEast, SpongeSouth, SpongeWest int
}

// WallBoundaries is the default closed-basin configuration.
func WallBoundaries() Boundaries {
	return Boundaries{
		North: device.BCWall, East: device.BCWall,
		South: device.BCWall, West: device.BCWall,
	}
}

func (b Boundaries) validate(g Grid) error {
	for _, e := range []struct {
		name string
		kind device.BCKind
	}{
		{"north", b.North}, {"east", b.East}, {"south", b.South}, {"west", b.West},
	} {
		if !e.kind.Valid() {
			return fmt.Errorf("swesim: invalid %s boundary kind %v", e.name, e.kind)
		}
	}
	if (b.North == device.BCPeriodic) != (b.South == device.BCPeriodic) {
		return fmt.Errorf("swesim: north/south boundaries must both be periodic or neither")
	}
	if (b.East == device.BCPeriodic) != (b.West == device.BCPeriodic) {
		return fmt.Errorf("swesim: east/west boundaries must both be periodic or neither")
	}
	for _, e := range []struct {
		name  string
		kind  device.BCKind
		width int
	}{
		{"north", b.North, b.SpongeNorth}, {"east", b.East, b.SpongeEast},
		{"south", b.South, b.SpongeSouth}, {"west", b.West, b.SpongeWest},
	} {
		if e.kind == device.BCSponge {
			if e.width <= 0 {
				return fmt.Errorf("swesim: %s sponge boundary needs a positive width, got %d", e.name, e.width)
			}
		} else if e.width != 0 {
			return fmt.Errorf("swesim: %s boundary is %v but carries sponge width %d", e.name, e.kind, e.width)
		}
	}
	return nil
}

// Fold grows the grid interior so the flow relaxation zones live inside the
// computational domain, replacing the plain ghost frame along sponge edges.
// Folding happens exactly once, at construction; resumed runs carry already
// folded dimensions.
func (b Boundaries) Fold(g Grid) Grid {
	grow := func(width, ghost int) int {
		if width > ghost {
			return width - ghost
		}
		return 0
	}
	if b.East == device.BCSponge {
		g.NX += grow(b.SpongeEast, g.GhostX)
	}
	if b.West == device.BCSponge {
		g.NX += grow(b.SpongeWest, g.GhostX)
	}
	if b.North == device.BCSponge {
		g.NY += grow(b.SpongeNorth, g.GhostY)
	}
	if b.South == device.BCSponge {
		g.NY += grow(b.SpongeSouth, g.GhostY)
	}
	return g
}

// deviceSpec packs the configuration for the boundary-condition applicator.
func (b Boundaries) deviceSpec(g Grid) device.BoundarySpec {
	return device.BoundarySpec{
		NX: g.NX, NY: g.NY,
		HaloX: g.GhostX, HaloY: g.GhostY,
		North: b.North, East: b.East, South: b.South, West: b.West,
		SpongeNorth: b.SpongeNorth, SpongeEast: b.SpongeEast,
		SpongeSouth: b.SpongeSouth, SpongeWest: b.SpongeWest,
	}
}
