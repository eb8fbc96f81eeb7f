package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/quintal/alix/internal/storage"
)

const defaultResultCount = 4

// SearchClient fetches raw marketplace results.
type SearchClient interface {
	Search(ctx context.Context, query string, num int) ([]map[string]any, error)
}

// CacheStore persists finished search results.
type CacheStore interface {
	GetSearch(key string) (storage.CachedSearch, error)
	SaveSearch(cs storage.CachedSearch) error
}

// Clock abstracts time for cache-expiry tests.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Searcher runs marketplace queries through a cache. On a miss it overfetches
// twice the requested count, normalizes the raw results, keeps products whose
// price falls inside the requested band, and caches the ranked outcome.
type Searcher struct {
	client SearchClient
	cache  CacheStore
	ttl    time.Duration
	clock  Clock
}

// NewSearcher creates a Searcher. If ttl <= 0 it defaults to 30 minutes.
func NewSearcher(client SearchClient, cache CacheStore, ttl time.Duration) *Searcher {
	return NewSearcherWithClock(client, cache, ttl, realClock{})
}

// NewSearcherWithClock creates a Searcher with an injectable clock for tests.
func NewSearcherWithClock(client SearchClient, cache CacheStore, ttl time.Duration, clock Clock) *Searcher {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Searcher{client: client, cache: cache, ttl: ttl, clock: clock}
}

// Search returns up to n ranked products priced within [minPrice, maxPrice].
// The bool result reports whether the answer came from the cache.
func (s *Searcher) Search(ctx context.Context, query string, minPrice, maxPrice float64, n int) ([]Product, bool, error) {
	if n <= 0 {
		n = defaultResultCount
	}
	key := cacheKey(query, minPrice, maxPrice, n)

	cached, err := s.cache.GetSearch(key)
	switch {
	case err == nil:
		if s.clock.Now().Sub(cached.CreatedAt) < s.ttl {
			var products []Product
			if jsonErr := json.Unmarshal([]byte(cached.Payload), &products); jsonErr == nil {
				return products, true, nil
			}
			slog.Warn("search cache payload malformed, refetching", "key", key)
		}
	case !errors.Is(err, storage.ErrNotFound):
		slog.Warn("search cache lookup failed", "error", err)
	}

	raw, err := s.client.Search(ctx, query, n*2)
	if err != nil {
		return nil, false, fmt.Errorf("fetching products: %w", err)
	}

	inBand := make([]Product, 0, len(raw))
	for _, r := range raw {
		p := Normalize(r)
		if p.Price >= minPrice && p.Price <= maxPrice {
			inBand = append(inBand, p)
		}
	}

	products := Rank(inBand, n)

	if payload, jsonErr := json.Marshal(products); jsonErr == nil {
		save := storage.CachedSearch{Key: key, Payload: string(payload), CreatedAt: s.clock.Now()}
		if saveErr := s.cache.SaveSearch(save); saveErr != nil {
			slog.Warn("saving search cache failed", "error", saveErr)
		}
	}

	return products, false, nil
}

func cacheKey(query string, minPrice, maxPrice float64, n int) string {
	return fmt.Sprintf("%s|%g|%g|%d", query, minPrice, maxPrice, n)
}
