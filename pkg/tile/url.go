package tile

import (
	"strconv"
	"strings"
)

// ExpandURL replaces the {x}, {y} and {zoom} tokens of a tile URL template.
// {z} is accepted as an alias of {zoom} and {s} picks one of the a/b/c
// subdomains. Values are substituted verbatim.
func ExpandURL(template string, a Address) string {
	zoom := strconv.Itoa(int(a.Zoom))
	url := strings.NewReplacer(
		"{zoom}", zoom,
		"{z}", zoom,
		"{x}", strconv.FormatUint(uint64(a.X), 10),
		"{y}", strconv.FormatUint(uint64(a.Y), 10),
	).Replace(template)

	if strings.Contains(url, "{s}") {
		subdomain := string(rune('a' + (a.X+a.Y)%3))
		url = strings.ReplaceAll(url, "{s}", subdomain)
	}
	return url
}

// ValidTemplate reports whether the template carries the x, y and zoom placeholders.
func ValidTemplate(template string) bool {
	if !strings.Contains(template, "{x}") || !strings.Contains(template, "{y}") {
		return false
	}
	return strings.Contains(template, "{zoom}") || strings.Contains(template, "{z}")
}
