package tile

import (
	"image"
	"math"

	"github.com/paulmach/orb"
)

// DefaultPreloadLimit caps the number of tiles PreloadCandidates suggests.
const DefaultPreloadLimit = 20

// NearestAncestor walks up the pyramid from a until has reports a loaded
// tile. It returns the ancestor and how many levels were climbed. The tile
// itself is not considered.
func NearestAncestor(a Address, has func(Address) bool) (Address, uint8, bool) {
	current := a
	for {
		parent, ok := current.Parent()
		if !ok {
			return Address{}, 0, false
		}
		if has(parent) {
			return parent, a.Zoom - parent.Zoom, true
		}
		current = parent
	}
}

// IsAncestor reports whether ancestor contains a at a lower zoom level.
func IsAncestor(ancestor, a Address) bool {
	if ancestor.Zoom >= a.Zoom {
		return false
	}
	dz := a.Zoom - ancestor.Zoom
	return a.X>>dz == ancestor.X && a.Y>>dz == ancestor.Y
}

// ChildRegion returns the pixel rectangle of an ancestor image of the given
// size that covers a. Stretching that region over a gives a coarse stand-in
// while the real tile loads.
func ChildRegion(ancestor, a Address, size int) image.Rectangle {
	if !IsAncestor(ancestor, a) {
		return image.Rectangle{}
	}
	dz := a.Zoom - ancestor.Zoom
	scale := 1 << dz
	sub := size / scale
	if sub < 1 {
		sub = 1
	}
	ox := int(a.X-ancestor.X<<dz) * size / scale
	oy := int(a.Y-ancestor.Y<<dz) * size / scale
	return image.Rect(ox, oy, ox+sub, oy+sub)
}

// PreloadCandidates suggests parents, children and neighbors of the visible
// tiles that are neither visible nor loaded yet. Results keep a stable order
// and are capped at limit; a non-positive limit uses DefaultPreloadLimit.
func PreloadCandidates(visible []Address, loaded func(Address) bool, limit int) []Address {
	if limit <= 0 {
		limit = DefaultPreloadLimit
	}

	seen := make(map[Address]struct{}, len(visible))
	for _, v := range visible {
		seen[v] = struct{}{}
	}

	var out []Address
	add := func(a Address) bool {
		if _, ok := seen[a]; ok {
			return len(out) < limit
		}
		seen[a] = struct{}{}
		if loaded != nil && loaded(a) {
			return len(out) < limit
		}
		out = append(out, a)
		return len(out) < limit
	}

	for _, v := range visible {
		if p, ok := v.Parent(); ok && !add(p) {
			return out
		}
	}
	for _, v := range visible {
		for _, n := range v.Neighbors() {
			if !add(n) {
				return out
			}
		}
	}
	for _, v := range visible {
		for _, c := range v.Children() {
			if !add(c) {
				return out
			}
		}
	}
	return out
}

// Cover returns the tiles at zoom that intersect a lon/lat bound, row by row.
func Cover(bound orb.Bound, zoom uint8) []Address {
	topLeft := FromLatLon(clampLat(bound.Max[1]), bound.Min[0], zoom)
	bottomRight := FromLatLon(clampLat(bound.Min[1]), bound.Max[0], zoom)

	last := uint32(uint64(1)<<zoom - 1)
	x2, y2 := min(bottomRight.X, last), min(bottomRight.Y, last)

	var tiles []Address
	for y := topLeft.Y; y <= y2; y++ {
		for x := topLeft.X; x <= x2; x++ {
			tiles = append(tiles, Address{X: x, Y: y, Zoom: zoom})
		}
	}
	return tiles
}

// maxLat is the latitude limit of the Web-Mercator projection.
var maxLat = 180 / math.Pi * math.Atan(math.Sinh(math.Pi))

func clampLat(lat float64) float64 {
	return math.Max(-maxLat, math.Min(maxLat, lat))
}
