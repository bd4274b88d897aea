package tile

import (
	"image"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExists(t *testing.T) {
	for zoom := uint8(0); zoom <= 20; zoom++ {
		last := uint32(1)<<zoom - 1
		assert.True(t, New(0, 0, zoom).Exists(), "origin at zoom %d", zoom)
		assert.True(t, New(last, last, zoom).Exists(), "last tile at zoom %d", zoom)
		assert.False(t, New(last+1, 0, zoom).Exists(), "x overflow at zoom %d", zoom)
		assert.False(t, New(0, last+1, zoom).Exists(), "y overflow at zoom %d", zoom)
	}
	assert.False(t, New(0, 0, MaxZoom+1).Exists())
}

func TestParent(t *testing.T) {
	_, ok := New(0, 0, 0).Parent()
	assert.False(t, ok)

	p, ok := New(5, 7, 3).Parent()
	require.True(t, ok)
	assert.Equal(t, New(2, 3, 2), p)
}

func TestChildren(t *testing.T) {
	tests := []Address{
		New(0, 0, 0),
		New(1, 1, 1),
		New(3, 2, 2),
		New(1023, 0, 10),
	}
	for _, a := range tests {
		children := a.Children()
		require.Len(t, children, 4, a.String())
		for _, c := range children {
			assert.True(t, c.Exists())
			p, ok := c.Parent()
			require.True(t, ok)
			assert.Equal(t, a, p)
		}
	}

	assert.Empty(t, New(0, 0, MaxZoom).Children())
}

func TestNeighbors(t *testing.T) {
	corner := New(0, 0, 2).Neighbors()
	assert.ElementsMatch(t, []Address{New(1, 0, 2), New(0, 1, 2), New(1, 1, 2)}, corner)

	assert.Len(t, New(1, 1, 2).Neighbors(), 8)
	assert.Empty(t, New(0, 0, 0).Neighbors())
}

func TestFromLatLon(t *testing.T) {
	// Berlin at zoom 10
	a := FromLatLon(52.52, 13.405, 10)
	assert.Equal(t, New(550, 335, 10), a)
	assert.True(t, a.Bound().Contains(orb.Point{13.405, 52.52}))
	assert.Equal(t, a, FromMaptile(a.Maptile()))
}

func TestExpandURL(t *testing.T) {
	a := New(3, 5, 4)
	tests := []struct {
		template string
		want     string
	}{
		{"https://tile.example.com/{zoom}/{x}/{y}.png", "https://tile.example.com/4/3/5.png"},
		{"https://tile.example.com/{z}/{x}/{y}.png", "https://tile.example.com/4/3/5.png"},
		{"https://{s}.tile.example.com/{zoom}/{x}/{y}.png", "https://c.tile.example.com/4/3/5.png"},
		{"https://tile.example.com/{x}?y={y}&zoom={zoom}&key=a b", "https://tile.example.com/3?y=5&zoom=4&key=a b"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ExpandURL(tt.template, a))
	}

	assert.True(t, ValidTemplate("http://x/{zoom}/{x}/{y}"))
	assert.True(t, ValidTemplate("http://x/{z}/{x}/{y}"))
	assert.False(t, ValidTemplate("http://x/{x}/{y}"))
}

func TestNearestAncestor(t *testing.T) {
	loaded := map[Address]bool{
		New(0, 0, 0): true,
		New(1, 1, 2): true,
	}
	has := func(a Address) bool { return loaded[a] }

	anc, dz, ok := NearestAncestor(New(5, 6, 4), has)
	require.True(t, ok)
	assert.Equal(t, New(1, 1, 2), anc)
	assert.Equal(t, uint8(2), dz)

	anc, dz, ok = NearestAncestor(New(15, 0, 4), has)
	require.True(t, ok)
	assert.Equal(t, New(0, 0, 0), anc)
	assert.Equal(t, uint8(4), dz)

	_, _, ok = NearestAncestor(New(0, 0, 0), has)
	assert.False(t, ok)

	_, _, ok = NearestAncestor(New(15, 0, 4), func(Address) bool { return false })
	assert.False(t, ok)
}

func TestChildRegion(t *testing.T) {
	assert.Equal(t, image.Rect(128, 0, 256, 128), ChildRegion(New(0, 0, 0), New(1, 0, 1), 256))
	assert.Equal(t, image.Rect(192, 64, 256, 128), ChildRegion(New(0, 0, 0), New(3, 1, 2), 256))
	assert.Equal(t, image.Rectangle{}, ChildRegion(New(1, 0, 1), New(0, 0, 2), 256))
}

func TestPreloadCandidates(t *testing.T) {
	visible := []Address{New(1, 1, 2)}
	loaded := func(a Address) bool { return a == New(0, 0, 1) }

	got := PreloadCandidates(visible, loaded, 0)
	assert.NotContains(t, got, New(0, 0, 1))
	assert.NotContains(t, got, New(1, 1, 2))
	assert.Contains(t, got, New(2, 2, 3))
	assert.Contains(t, got, New(0, 0, 2))
	assert.Len(t, got, 12)

	assert.Len(t, PreloadCandidates(visible, nil, 3), 3)
}

func TestCover(t *testing.T) {
	world := orb.Bound{Min: orb.Point{-180, -90}, Max: orb.Point{180, 90}}
	assert.Len(t, Cover(world, 0), 1)
	assert.Len(t, Cover(world, 2), 16)

	a := FromLatLon(52.52, 13.405, 12)
	got := Cover(a.Bound().Pad(-1e-6), 12)
	assert.Equal(t, []Address{a}, got)
}
