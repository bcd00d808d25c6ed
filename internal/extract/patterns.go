package extract

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// The deterministic pattern library covers the rate-text phrasings that make
// up the bulk of the schedule: "Free", literal ad-valorem percentages,
// specific rates per unit or per kilogram, and compound rates joined with
// "+". Anything else falls through to the AI path.

var (
	freeRe = regexp.MustCompile(`(?i)^free[.,]?$`)

	// "5%", "5.3%", "0.8% ad valorem"
	adValoremRe = regexp.MustCompile(`(?i)^(\d+(?:\.\d+)?)\s*%(?:\s+ad\s+val(?:orem)?\.?)?$`)

	// "$1.50 per dozen", "$0.02/kg", "$4.20 each"
	dollarSpecificRe = regexp.MustCompile(`(?i)^\$(\d+(?:\.\d+)?)\s*(?:(?:per|/)\s*)?([a-z]+)\.?$`)

	// "2.6¢/kg", "1.5 cents per kilogram", "0.9¢ each"
	centsSpecificRe = regexp.MustCompile(`(?i)^(\d+(?:\.\d+)?)\s*(?:¢|cents?)\s*(?:(?:per|/)\s*)?([a-z]+)\.?$`)

	// "See additional U.S. note 20 to chapter 99" and variants
	noteReferenceRe = regexp.MustCompile(`(?i)(?:additional\s+)?(?:u\.?s\.?\s+)?note\s+\d`)
)

// weightUnits maps rate-text units bound to net weight; everything else
// binds to quantity.
var weightUnits = map[string]bool{
	"kg":        true,
	"kgs":       true,
	"kilogram":  true,
	"kilograms": true,
	"tonne":     true,
	"tonnes":    true,
	"t":         true,
}

// IsNoteReference reports whether the rate text is a pointer to a legal note
// rather than a literal rate.
func IsNoteReference(rateText string) bool {
	return noteReferenceRe.MatchString(rateText)
}

// MatchPattern attempts a deterministic extraction from rate text. It
// returns the formula expression, the referenced variables, and whether a
// pattern matched. Note pointers never pattern-match; they must go through
// note resolution.
func MatchPattern(rateText string) (string, []string, bool) {
	text := strings.TrimSpace(rateText)
	if text == "" || IsNoteReference(text) {
		return "", nil, false
	}

	// Compound rates: each "+"-joined part must itself pattern-match.
	if parts := strings.Split(text, "+"); len(parts) > 1 {
		var exprs []string
		var vars []string
		seen := map[string]bool{}
		for _, part := range parts {
			expr, partVars, ok := matchSimple(strings.TrimSpace(part))
			if !ok {
				return "", nil, false
			}
			exprs = append(exprs, expr)
			for _, v := range partVars {
				if !seen[v] {
					seen[v] = true
					vars = append(vars, v)
				}
			}
		}
		return strings.Join(exprs, " + "), vars, true
	}

	return matchSimple(text)
}

func matchSimple(text string) (string, []string, bool) {
	if freeRe.MatchString(text) {
		return "0", nil, true
	}

	if m := adValoremRe.FindStringSubmatch(text); m != nil {
		rate, err := decimal.NewFromString(m[1])
		if err != nil {
			return "", nil, false
		}
		// Shift keeps the division by 100 exact: "5.3%" → 0.053.
		return "value * " + rate.Shift(-2).String(), []string{"value"}, true
	}

	if m := dollarSpecificRe.FindStringSubmatch(text); m != nil {
		rate, err := decimal.NewFromString(m[1])
		if err != nil {
			return "", nil, false
		}
		v := unitVariable(m[2])
		return v + " * " + rate.String(), []string{v}, true
	}

	if m := centsSpecificRe.FindStringSubmatch(text); m != nil {
		rate, err := decimal.NewFromString(m[1])
		if err != nil {
			return "", nil, false
		}
		v := unitVariable(m[2])
		return v + " * " + rate.Shift(-2).String(), []string{v}, true
	}

	return "", nil, false
}

func unitVariable(unit string) string {
	if weightUnits[strings.ToLower(unit)] {
		return "weight"
	}
	return "quantity"
}
