package search

import "sort"

// Rank orders products by rating, then review count, both descending, and
// truncates to n. Ties keep their incoming order. The input slice is left
// untouched.
func Rank(products []Product, n int) []Product {
	ranked := make([]Product, len(products))
	copy(ranked, products)

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Rating != ranked[j].Rating {
			return ranked[i].Rating > ranked[j].Rating
		}
		return ranked[i].ReviewsCount > ranked[j].ReviewsCount
	})

	if n >= 0 && n < len(ranked) {
		ranked = ranked[:n]
	}
	return ranked
}
