package vehiclenlp

import (
	"regexp"
	"strconv"
)

var (
	yearFullRe = regexp.MustCompile(`\b((?:19|20)\d{2})\b`)
	yearAbbrRe = regexp.MustCompile(`'(\d{2})\b`)
)

// MinModelYear and MaxModelYear bound the years recognised as model years.
const (
	MinModelYear = 1980
	MaxModelYear = 2035
)

// ModelYear returns the first plausible model year in text, written either
// in full ("2008") or abbreviated ("'08"), or 0 if there is none.
func ModelYear(text string) int {
	for _, m := range yearFullRe.FindAllStringSubmatch(text, -1) {
		if y, _ := strconv.Atoi(m[1]); y >= MinModelYear && y <= MaxModelYear {
			return y
		}
	}
	for _, m := range yearAbbrRe.FindAllStringSubmatch(text, -1) {
		yy, _ := strconv.Atoi(m[1])
		switch {
		case yy <= MaxModelYear-2000:
			return 2000 + yy
		case yy >= MinModelYear-1900:
			return 1900 + yy
		}
	}
	return 0
}
