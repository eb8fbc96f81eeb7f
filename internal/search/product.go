package search

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Product is a normalized marketplace search result.
type Product struct {
	Title        string  `json:"title"`
	Price        float64 `json:"price"`
	PriceLabel   string  `json:"price_label"`
	Rating       float64 `json:"rating"`
	ReviewsCount int     `json:"reviews_count"`
	Link         string  `json:"link"`
	Description  string  `json:"description"`
	Image        string  `json:"image,omitempty"`
	Delivery     string  `json:"delivery"`
	Prime        bool    `json:"prime"`
	Analysis     string  `json:"analysis,omitempty"`
}

var (
	nonPriceChars = regexp.MustCompile(`[^\d.,]`)
	firstNumber   = regexp.MustCompile(`\d+\.?\d*`)
	nonDigits     = regexp.MustCompile(`[^\d]`)
)

// Normalize converts one raw organic result into a Product. Every field is
// best-effort: malformed or missing values fall back to defaults, never errors.
func Normalize(raw map[string]any) Product {
	price := ExtractPrice(priceField(raw))
	return Product{
		Title:        stringField(raw, "title", "Produit sans titre"),
		Price:        price,
		PriceLabel:   FormatPrice(price),
		Rating:       ExtractRating(raw["rating"]),
		ReviewsCount: ExtractReviews(raw["ratings_total"]),
		Link:         stringField(raw, "link", ""),
		Description:  StripMarkup(stringField(raw, "snippet", "Description non disponible")),
		Image:        stringField(raw, "image", ""),
		Delivery:     FormatDelivery(raw["delivery"]),
		Prime:        boolField(raw, "prime"),
	}
}

// priceField picks the price representation to parse: price_str when present
// and non-empty, then price, then a literal zero.
func priceField(raw map[string]any) any {
	if v, ok := raw["price_str"]; ok && !emptyValue(v) {
		return v
	}
	if v, ok := raw["price"]; ok {
		return v
	}
	return "0"
}

// ExtractPrice pulls a numeric price out of whatever shape the API returned:
// a string with currency symbols and separators, a bare number, or a list
// whose first element is either. Commas count as decimal points; the first
// number in the cleaned string wins. Anything unparseable is 0.
func ExtractPrice(v any) float64 {
	if emptyValue(v) {
		return 0
	}
	if list, ok := v.([]any); ok {
		return ExtractPrice(list[0])
	}

	clean := nonPriceChars.ReplaceAllString(stringify(v), "")
	clean = strings.ReplaceAll(clean, ",", ".")

	m := firstNumber.FindString(clean)
	if m == "" {
		return 0
	}
	f, err := strconv.ParseFloat(m, 64)
	if err != nil {
		return 0
	}
	return f
}

// ExtractRating accepts a numeric rating as-is and parses string ratings from
// their first whitespace-separated token ("4.2 out of 5 stars"). Defaults to 0.
func ExtractRating(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case string:
		fields := strings.Fields(t)
		if len(fields) == 0 {
			return 0
		}
		f, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}

// ExtractReviews truncates numeric review counts and strips separators from
// string ones ("1,234" count styles). Defaults to 0.
func ExtractReviews(v any) int {
	switch t := v.(type) {
	case float64:
		return int(t)
	case string:
		digits := nonDigits.ReplaceAllString(t, "")
		if digits == "" {
			return 0
		}
		n, err := strconv.Atoi(digits)
		if err != nil {
			return 0
		}
		return n
	default:
		return 0
	}
}

// FormatDelivery renders the heterogeneous delivery field as a short display
// string: missing or empty becomes "Standard", lists contribute their first
// element, and everything is capped at 30 characters.
func FormatDelivery(v any) string {
	if emptyValue(v) {
		return "Standard"
	}
	if list, ok := v.([]any); ok {
		return truncateRunes(stringify(list[0]), 30)
	}
	return truncateRunes(stringify(v), 30)
}

// FormatPrice renders the display label for a normalized price.
func FormatPrice(price float64) string {
	if price > 0 {
		return fmt.Sprintf("$%.2f", price)
	}
	return "Prix non disponible"
}

func stringField(raw map[string]any, key, fallback string) string {
	v, ok := raw[key]
	if !ok || v == nil {
		return fallback
	}
	return stringify(v)
}

func boolField(raw map[string]any, key string) bool {
	b, ok := raw[key].(bool)
	return ok && b
}

// emptyValue mirrors the falsiness rules the upstream fields rely on.
func emptyValue(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case float64:
		return t == 0
	case bool:
		return !t
	case []any:
		return len(t) == 0
	case map[string]any:
		return len(t) == 0
	default:
		return false
	}
}

// stringify avoids %v for floats: JSON numbers arrive as float64 and large
// ones would render in scientific notation, corrupting digit extraction.
func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
