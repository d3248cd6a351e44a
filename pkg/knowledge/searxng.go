package knowledge

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/itsbakr/weave-tutor/pkg/api"
)

var htmlTagRegex = regexp.MustCompile(`<[^>]*>`)

// SearXNG implements Searcher using a SearXNG instance's JSON API.
type SearXNG struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewSearXNG creates a SearXNG searcher for the given base URL.
func NewSearXNG(baseURL string, client *http.Client) *SearXNG {
	if client == nil {
		client = http.DefaultClient
	}
	return &SearXNG{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: client,
	}
}

type searxngResponse struct {
	Results []searxngResult `json:"results"`
}

type searxngResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Content string `json:"content"`
}

// Search runs query and returns at most maxResults sources.
func (s *SearXNG) Search(ctx context.Context, query string, maxResults int) ([]api.Source, error) {
	params := url.Values{}
	params.Set("q", query)
	params.Set("format", "json")
	params.Set("categories", "general")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.BaseURL+"/search?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing search request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search backend returned status %d", resp.StatusCode)
	}

	var sr searxngResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return nil, fmt.Errorf("decoding search response: %w", err)
	}

	sources := make([]api.Source, 0, min(len(sr.Results), maxResults))
	for _, r := range sr.Results {
		if len(sources) >= maxResults {
			break
		}
		if r.URL == "" {
			continue
		}
		sources = append(sources, api.Source{
			Title:   stripHTML(r.Title),
			URL:     r.URL,
			Snippet: stripHTML(r.Content),
		})
	}
	return sources, nil
}

func stripHTML(s string) string {
	return strings.TrimSpace(htmlTagRegex.ReplaceAllString(s, ""))
}
