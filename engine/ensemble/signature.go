package ensemble

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// unitAliases maps spelled-out and abbreviated unit phrases to one canonical
// symbol, so "4.5 quarts" and "4.5 qt" share a signature. Keys use spaces;
// hyphenated forms such as "pound-feet" are looked up with hyphens as spaces.
var unitAliases = map[string]string{
	"quart": "qt", "quarts": "qt", "qt": "qt", "qts": "qt",
	"liter": "l", "liters": "l", "litre": "l", "litres": "l", "l": "l",
	"milliliter": "ml", "milliliters": "ml", "ml": "ml",
	"gallon": "gal", "gallons": "gal", "gal": "gal",
	"ounce": "oz", "ounces": "oz", "oz": "oz",
	"pound feet": "lbft", "pound foot": "lbft", "pounds feet": "lbft", "foot pounds": "lbft", "foot pound": "lbft",
	"ft lbs": "lbft", "ft lb": "lbft", "lb ft": "lbft", "lbs ft": "lbft", "lbft": "lbft",
	"newton meters": "nm", "newton meter": "nm", "newton metres": "nm", "newton metre": "nm", "nm": "nm", "n m": "nm",
	"pounds per square inch": "psi", "psi": "psi",
	"bar":         "bar",
	"kilopascals": "kpa", "kilopascal": "kpa", "kpa": "kpa",
	"degrees fahrenheit": "f", "degree fahrenheit": "f", "fahrenheit": "f", "°f": "f",
	"degrees f": "f", "degree f": "f", "deg f": "f",
	"degrees celsius": "c", "degree celsius": "c", "celsius": "c", "°c": "c",
	"degrees c": "c", "degree c": "c", "deg c": "c",
	"millimeters": "mm", "millimeter": "mm", "millimetre": "mm", "mm": "mm",
	"centimeters": "cm", "centimeter": "cm", "cm": "cm",
	"inches": "in", "inch": "in",
	"feet": "ft", "foot": "ft", "ft": "ft",
	"meters": "m", "meter": "m", "metres": "m",
	"kilograms": "kg", "kilogram": "kg", "kg": "kg",
	"grams": "g", "gram": "g",
	"pounds": "lb", "pound": "lb", "lbs": "lb", "lb": "lb",
	"volts": "v", "volt": "v", "v": "v",
	"amps": "a", "amp": "a", "amperes": "a",
	"ohms": "ohm", "ohm": "ohm",
	"rpm":   "rpm",
	"miles": "mi", "mile": "mi", "mi": "mi",
	"kilometers": "km", "kilometer": "km", "km": "km",
	"percent": "%", "%": "%",
	"degrees": "deg", "degree": "deg",
	"mm socket": "mm", "millimeter socket": "mm",
}

// maxUnitWords is the longest alias phrase in unitAliases.
const maxUnitWords = 4

var tokenRe = regexp.MustCompile(`\d{1,2}w-?\d{2}\b|\d+(?:\.\d+)?|[a-z°%]+(?:-[a-z]+)*`)

type token struct {
	word  string
	num   string // normalised number, set for numeric tokens
	grade bool   // oil viscosity grade such as 5w30
}

func tokenize(text string) []token {
	lower := thousandsRe.ReplaceAllString(strings.ToLower(text), "$1$2")
	raw := tokenRe.FindAllString(lower, -1)
	out := make([]token, len(raw))
	for i, w := range raw {
		t := token{word: w}
		switch {
		case strings.ContainsRune(w, 'w') && hasDigit(w):
			t.word = strings.ReplaceAll(w, "-", "")
			t.grade = true
		case hasDigit(w):
			if f, err := strconv.ParseFloat(w, 64); err == nil {
				t.num = strconv.FormatFloat(f, 'f', -1, 64)
			}
		}
		out[i] = t
	}
	return out
}

// Signature is the order-independent set of values and units a text
// mentions, normalised and joined with "|". Bare model years are left out
// because they restate the vehicle rather than the answer.
func Signature(text string) string {
	toks := tokenize(text)
	set := map[string]bool{}
	for i := 0; i < len(toks); i++ {
		t := toks[i]
		if t.grade {
			set[t.word] = true
			continue
		}
		if t.num == "" {
			continue
		}
		unit, used := unitAt(toks, i+1)
		if unit == "" && isModelYear(t.num) {
			continue
		}
		set[strings.TrimSpace(t.num+" "+unit)] = true
		i += used
	}
	parts := make([]string, 0, len(set))
	for p := range set {
		parts = append(parts, p)
	}
	sort.Strings(parts)
	return strings.Join(parts, "|")
}

// unitAt matches the longest unit phrase starting at toks[i] and returns its
// canonical symbol and the number of tokens consumed.
func unitAt(toks []token, i int) (string, int) {
	for n := maxUnitWords; n >= 1; n-- {
		if i+n > len(toks) {
			continue
		}
		words := make([]string, n)
		ok := true
		for j := 0; j < n; j++ {
			if toks[i+j].num != "" || toks[i+j].grade {
				ok = false
				break
			}
			words[j] = toks[i+j].word
		}
		if !ok {
			continue
		}
		if u, found := unitAliases[strings.ReplaceAll(strings.Join(words, " "), "-", " ")]; found {
			return u, n
		}
	}
	return "", 0
}

func isModelYear(num string) bool {
	y, err := strconv.Atoi(num)
	return err == nil && y >= 1950 && y <= 2050
}
