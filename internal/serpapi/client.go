package serpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Config carries the fixed parameters for the product-search API.
type Config struct {
	BaseURL string
	APIKey  string
	Engine  string
	Domain  string
	Sort    string
	Timeout time.Duration
}

// Client communicates with the SerpAPI search endpoint over HTTP.
type Client struct {
	baseURL    string
	apiKey     string
	engine     string
	domain     string
	sort       string
	httpClient *http.Client
}

// New creates a Client for the given marketplace configuration.
func New(cfg Config) *Client {
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		engine:  cfg.Engine,
		domain:  cfg.Domain,
		sort:    cfg.Sort,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// searchResponse mirrors the JSON returned by GET /search.json. Organic
// results stay loosely typed: the upstream fields vary wildly in shape.
type searchResponse struct {
	OrganicResults []map[string]any `json:"organic_results"`
}

// Search runs a marketplace query and returns the raw organic results.
func (c *Client) Search(ctx context.Context, query string, num int) ([]map[string]any, error) {
	u, err := url.Parse(c.baseURL + "/search.json")
	if err != nil {
		return nil, fmt.Errorf("parsing search URL: %w", err)
	}

	q := u.Query()
	q.Set("engine", c.engine)
	q.Set("amazon_domain", c.domain)
	q.Set("api_key", c.apiKey)
	q.Set("k", query)
	q.Set("s", c.sort)
	q.Set("num", strconv.Itoa(num))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating search request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search: unexpected status %d", resp.StatusCode)
	}

	var result searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decoding search response: %w", err)
	}

	return result.OrganicResults, nil
}
