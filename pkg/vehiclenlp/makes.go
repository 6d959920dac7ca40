// Package vehiclenlp recognises vehicle manufacturer mentions in free text,
// normalising abbreviations and nicknames ("chevy", "vw", "benz") to the
// canonical make name.
package vehiclenlp

import (
	"regexp"
	"sort"
	"strings"
)

// makeAliases maps abbreviations/nicknames to canonical make names.
var makeAliases = map[string]string{
	"chevy":         "Chevrolet",
	"chevrolet":     "Chevrolet",
	"merc":          "Mercedes-Benz",
	"benz":          "Mercedes-Benz",
	"mercedes":      "Mercedes-Benz",
	"mercedes-benz": "Mercedes-Benz",
	"vw":            "Volkswagen",
	"volkswagen":    "Volkswagen",
	"toyota":        "Toyota",
	"honda":         "Honda",
	"ford":          "Ford",
	"bmw":           "BMW",
	"bimmer":        "BMW",
	"audi":          "Audi",
	"nissan":        "Nissan",
	"datsun":        "Nissan",
	"hyundai":       "Hyundai",
	"kia":           "Kia",
	"subaru":        "Subaru",
	"subie":         "Subaru",
	"mazda":         "Mazda",
	"jeep":          "Jeep",
	"ram":           "Ram",
	"gmc":           "GMC",
	"dodge":         "Dodge",
	"lexus":         "Lexus",
	"acura":         "Acura",
	"tesla":         "Tesla",
	"porsche":       "Porsche",
	"volvo":         "Volvo",
	"buick":         "Buick",
	"cadillac":      "Cadillac",
	"caddy":         "Cadillac",
	"lincoln":       "Lincoln",
	"infiniti":      "Infiniti",
	"genesis":       "Genesis",
	"mitsubishi":    "Mitsubishi",
	"chrysler":      "Chrysler",
	"land rover":    "Land Rover",
	"jaguar":        "Jaguar",
	"alfa romeo":    "Alfa Romeo",
	"alfa":          "Alfa Romeo",
	"fiat":          "Fiat",
	"mini":          "Mini",
	"rivian":        "Rivian",
	"lucid":         "Lucid",
	"polestar":      "Polestar",
	"pontiac":       "Pontiac",
	"saab":          "Saab",
	"scion":         "Scion",
}

// makeRe is an alternation of all aliases, longest first so "land rover"
// wins over a hypothetical "land".
var makeRe *regexp.Regexp

func init() {
	names := make([]string, 0, len(makeAliases))
	for alias := range makeAliases {
		names = append(names, alias)
	}
	sort.Slice(names, func(i, j int) bool {
		if len(names[i]) != len(names[j]) {
			return len(names[i]) > len(names[j])
		}
		return names[i] < names[j]
	})
	for i, n := range names {
		names[i] = regexp.QuoteMeta(n)
	}
	makeRe = regexp.MustCompile(`(?i)\b(` + strings.Join(names, "|") + `)(?:'s)?\b`)
}

// CanonicalMake returns the canonical make for a name or alias. Unknown names
// are returned trimmed with their original casing.
func CanonicalMake(name string) string {
	key := strings.ToLower(strings.TrimSpace(name))
	if c, ok := makeAliases[key]; ok {
		return c
	}
	return strings.TrimSpace(name)
}

// SameMake reports whether two make names refer to the same manufacturer.
func SameMake(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return strings.EqualFold(CanonicalMake(a), CanonicalMake(b))
}

// Makes returns the canonical makes explicitly named in text, in order of
// first appearance, without duplicates.
func Makes(text string) []string {
	if text == "" {
		return nil
	}
	var out []string
	seen := make(map[string]bool)
	for _, m := range makeRe.FindAllStringSubmatch(text, -1) {
		canonical := makeAliases[strings.ToLower(m[1])]
		if canonical == "" || seen[canonical] {
			continue
		}
		seen[canonical] = true
		out = append(out, canonical)
	}
	return out
}

// MentionsMake reports whether text names the given make, directly or by alias.
func MentionsMake(text, make string) bool {
	for _, m := range Makes(text) {
		if SameMake(m, make) {
			return true
		}
	}
	return false
}
