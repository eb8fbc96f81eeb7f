package intent

import (
	"regexp"
	"strconv"
	"strings"
)

const (
	defaultMinPrice = 0
	defaultMaxPrice = 1000
)

// Intent is the outcome of trigger-phrase detection: what to search for and
// the price band to search within.
type Intent struct {
	Query    string  `json:"query"`
	MinPrice float64 `json:"min_price"`
	MaxPrice float64 `json:"max_price"`
}

// Trigger phrases the assistant is instructed to emit when it has gathered
// enough to search. The capture stops at a budget/qualifier connective, a
// period, or end of text. Order matters: first match wins.
var searchPatterns = []*regexp.Regexp{
	regexp.MustCompile(`cherchons?\s+(.+?)(?:\s+entre|\s+dans|\s+à|\s+pour|\.|$)`),
	regexp.MustCompile(`recherche\s+(.+?)(?:\s+entre|\s+dans|\s+à|\s+pour|\.|$)`),
	regexp.MustCompile(`regardons?\s+(.+?)(?:\s+entre|\s+dans|\s+à|\s+pour|\.|$)`),
}

// budgetPattern extracts "entre X et Y" price bounds anywhere in the text.
var budgetPattern = regexp.MustCompile(`entre\s+(\d+)\s*(?:et|à|-)\s*(\d+)`)

// Detect scans a message for a search trigger phrase. The bool result
// reports whether one was found; without an explicit budget the band
// defaults to 0 to 1000. Matching is case-insensitive and single-pass.
func Detect(text string) (Intent, bool) {
	lower := strings.ToLower(strings.TrimSpace(text))
	if lower == "" {
		return Intent{}, false
	}

	for _, p := range searchPatterns {
		m := p.FindStringSubmatch(lower)
		if m == nil {
			continue
		}

		in := Intent{
			Query:    strings.TrimSpace(m[1]),
			MinPrice: defaultMinPrice,
			MaxPrice: defaultMaxPrice,
		}
		if b := budgetPattern.FindStringSubmatch(lower); b != nil {
			// Groups are digit-only by construction; ParseFloat cannot fail.
			in.MinPrice, _ = strconv.ParseFloat(b[1], 64)
			in.MaxPrice, _ = strconv.ParseFloat(b[2], 64)
		}
		return in, true
	}

	return Intent{}, false
}
