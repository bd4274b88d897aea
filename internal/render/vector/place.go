package vector

// ShouldShowPlace decides whether a place label is drawn at a zoom level.
// rank is only consulted when hasRank is set.
func (s *Style) ShouldShowPlace(kind string, rank int, hasRank, capital bool, zoom uint8) bool {
	v := s.Visibility
	if capital && zoom >= v.Capital {
		return true
	}

	switch kind {
	case "city", "locality":
		if !hasRank {
			return zoom >= v.NoRank
		}
		switch {
		case zoom < v.Rank14:
			return rank <= 14
		case zoom < v.Rank15:
			return rank <= 15
		case zoom < v.Rank16:
			return rank <= 16
		case zoom >= v.Rank17:
			return rank <= 17
		}
		return false
	case "town":
		return zoom >= v.Town
	case "village":
		return zoom >= v.Village
	case "country":
		return zoom >= v.Country
	}
	return false
}

// PlaceFontSize returns the base font size of a place label at a 256 px tile.
func (s *Style) PlaceFontSize(kind string, rank int, hasRank, capital bool) float64 {
	f := s.Fonts
	switch {
	case kind == "country":
		return f.Country
	case capital:
		return f.Capital
	}

	switch kind {
	case "city":
		if !hasRank {
			return f.CityNoRank
		}
		switch {
		case rank <= 13:
			return f.Megacity
		case rank <= 14:
			return f.LargeCity
		case rank <= 15:
			return f.City
		case rank <= 16:
			return f.MediumCity
		case rank <= 17:
			return f.SmallCity
		}
	case "locality":
		if !hasRank {
			return f.CityNoRank
		}
		switch {
		case rank <= 14:
			return f.LargeCity
		case rank <= 15:
			return f.City
		case rank <= 16:
			return f.MediumCity
		case rank <= 17:
			return f.SmallCity
		}
	case "town":
		return f.Town
	case "village":
		return f.Village
	}
	return f.Default
}
