package vector

import (
	"github.com/paulmach/orb/geojson"
)

// props is the subset of feature properties the renderer looks at.
type props struct {
	class      string
	kind       string
	kindDetail string
	name       string
	rank       int
	hasRank    bool
	capital    bool
}

func readProps(f *geojson.Feature) props {
	p := props{
		class:      firstString(f.Properties, "class", "type"),
		kind:       firstString(f.Properties, "kind"),
		kindDetail: firstString(f.Properties, "kind_detail"),
		name:       firstString(f.Properties, "name", "name:en", "name_en"),
	}
	if v, ok := f.Properties["population_rank"]; ok {
		p.rank, p.hasRank = toInt(v)
	}
	_, p.capital = f.Properties["capital"]
	return p
}

// placeKind is the most specific kind a place carries.
func (p props) placeKind() string {
	if p.kindDetail != "" {
		return p.kindDetail
	}
	return p.kind
}

// roadClass picks the property a layer keeps its road class in.
func (p props) roadClass(layer string) string {
	if layer != "roads" {
		return p.class
	}
	switch {
	case p.kindDetail != "":
		return p.kindDetail
	case p.kind != "":
		return p.kind
	}
	return p.class
}

func firstString(m map[string]interface{}, keys ...string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func toInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case uint64:
		return int(n), true
	case float64:
		return int(n), true
	case float32:
		return int(n), true
	}
	return 0, false
}
