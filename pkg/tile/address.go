package tile

import (
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
)

// MaxZoom is the deepest zoom level an Address can describe.
const MaxZoom = 31

// Address identifies a tile in the Web-Mercator quad tree.
type Address struct {
	X    uint32
	Y    uint32
	Zoom uint8
}

// New creates an Address. It does not validate the coordinates, use Exists for that.
func New(x, y uint32, zoom uint8) Address {
	return Address{X: x, Y: y, Zoom: zoom}
}

// FromMaptile converts an orb maptile into an Address.
func FromMaptile(t maptile.Tile) Address {
	return Address{X: t.X, Y: t.Y, Zoom: uint8(t.Z)}
}

// FromLatLon returns the tile containing the given WGS84 position at zoom.
func FromLatLon(lat, lon float64, zoom uint8) Address {
	return FromMaptile(maptile.At(orb.Point{lon, lat}, maptile.Zoom(zoom)))
}

// Maptile converts the address into an orb maptile.
func (a Address) Maptile() maptile.Tile {
	return maptile.New(a.X, a.Y, maptile.Zoom(a.Zoom))
}

// Bound returns the lon/lat bound covered by the tile.
func (a Address) Bound() orb.Bound {
	return a.Maptile().Bound()
}

// Exists reports whether x and y are inside the 2^zoom grid.
func (a Address) Exists() bool {
	if a.Zoom > MaxZoom {
		return false
	}
	limit := uint64(1) << a.Zoom
	return uint64(a.X) < limit && uint64(a.Y) < limit
}

// Parent returns the tile one zoom level up. The second return value is
// false for zoom 0 tiles.
func (a Address) Parent() (Address, bool) {
	if a.Zoom == 0 {
		return Address{}, false
	}
	return Address{X: a.X >> 1, Y: a.Y >> 1, Zoom: a.Zoom - 1}, true
}

// Children returns the existing tiles one zoom level down.
func (a Address) Children() []Address {
	if a.Zoom >= MaxZoom {
		return nil
	}
	children := make([]Address, 0, 4)
	for _, d := range [4][2]uint32{{0, 0}, {1, 0}, {0, 1}, {1, 1}} {
		c := Address{X: a.X<<1 + d[0], Y: a.Y<<1 + d[1], Zoom: a.Zoom + 1}
		if c.Exists() {
			children = append(children, c)
		}
	}
	return children
}

// Neighbors returns the existing tiles around a at the same zoom level.
// The grid does not wrap around the antimeridian.
func (a Address) Neighbors() []Address {
	neighbors := make([]Address, 0, 8)
	for dy := -1; dy <= 1; dy++ {
		for dx := -1; dx <= 1; dx++ {
			if dx == 0 && dy == 0 {
				continue
			}
			x, y := int64(a.X)+int64(dx), int64(a.Y)+int64(dy)
			if x < 0 || y < 0 {
				continue
			}
			n := Address{X: uint32(x), Y: uint32(y), Zoom: a.Zoom}
			if n.Exists() {
				neighbors = append(neighbors, n)
			}
		}
	}
	return neighbors
}

func (a Address) String() string {
	return fmt.Sprintf("%d/%d/%d", a.Zoom, a.X, a.Y)
}
