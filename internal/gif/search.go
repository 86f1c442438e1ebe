// Package gif provides a read-only client for the external GIF search
// service. The service is consumed as-is over HTTP; it holds no state on our
// behalf and failures surface to the caller.
package gif

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// DefaultLimit is the number of results requested per search.
const DefaultLimit = 10

// Result is one GIF search hit.
type Result struct {
	ID  string
	URL string
}

// Client searches the GIF service.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewClient creates a search client for the service at baseURL using apiKey.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// searchResponse mirrors the upstream response shape: a results array whose
// entries expose the gif rendition URL under media_formats.
type searchResponse struct {
	Results []struct {
		ID           string `json:"id"`
		MediaFormats struct {
			Gif struct {
				URL string `json:"url"`
			} `json:"gif"`
		} `json:"media_formats"`
	} `json:"results"`
}

// Search returns up to limit GIFs matching query. An empty query asks the
// service for trending results, matching the picker's default view.
func (c *Client) Search(ctx context.Context, query string, limit int) ([]Result, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if query == "" {
		query = "trending"
	}

	q := url.Values{}
	q.Set("key", c.apiKey)
	q.Set("q", query)
	q.Set("limit", fmt.Sprintf("%d", limit))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("gif: build request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gif: search request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("gif: search returned status %d", resp.StatusCode)
	}

	var decoded searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("gif: decode search response: %w", err)
	}

	results := make([]Result, 0, len(decoded.Results))
	for _, r := range decoded.Results {
		if r.MediaFormats.Gif.URL == "" {
			continue
		}
		results = append(results, Result{ID: r.ID, URL: r.MediaFormats.Gif.URL})
	}
	return results, nil
}
