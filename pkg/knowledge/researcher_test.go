package knowledge

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/itsbakr/weave-tutor/pkg/api"
	"github.com/itsbakr/weave-tutor/pkg/llm"
)

// fakeSearcher returns canned sources per query.
type fakeSearcher struct {
	mu      sync.Mutex
	results map[string][]api.Source
	errs    map[string]error
	queries []string
}

func (f *fakeSearcher) Search(_ context.Context, query string, maxResults int) ([]api.Source, error) {
	f.mu.Lock()
	f.queries = append(f.queries, query)
	f.mu.Unlock()
	if err := f.errs[query]; err != nil {
		return nil, err
	}
	srcs := f.results[query]
	if len(srcs) > maxResults {
		srcs = srcs[:maxResults]
	}
	return srcs, nil
}

func replyClient(text string, err error) llm.Client {
	return llm.ClientFunc(func(_ context.Context, req llm.Request) (*llm.Response, error) {
		if err != nil {
			return nil, err
		}
		return &llm.Response{Text: text}, nil
	})
}

func TestParseQueries(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{"json array", `["photosynthesis for kids", "chlorophyll role"]`, []string{"photosynthesis for kids", "chlorophyll role"}},
		{"json in prose", "Here you go:\n[\"light reactions explained\"]\nGood luck", []string{"light reactions explained"}},
		{"lines fallback", "- photosynthesis basics\n- ok\n\"plants make sugar from light\"", []string{"photosynthesis basics", "plants make sugar from light"}},
		{"blank entries dropped", `["  ", "carbon cycle grade 8"]`, []string{"carbon cycle grade 8"}},
		{"nothing usable", "ok", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseQueries(tt.text)
			if strings.Join(got, "|") != strings.Join(tt.want, "|") {
				t.Errorf("ParseQueries() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestResearcher_DedupesAndCaps(t *testing.T) {
	searcher := &fakeSearcher{results: map[string][]api.Source{
		"query one long": {
			{Title: "A", URL: "https://a", Snippet: "alpha"},
			{Title: "B", URL: "https://b", Snippet: "beta"},
		},
		"query two long": {
			{Title: "B again", URL: "https://b", Snippet: "beta again"},
			{Title: "C", URL: "https://c"},
		},
	}}
	r := NewResearcher(searcher, replyClient(`["query one long", "query two long"]`, nil))
	r.MaxSources = 2

	kc, err := r.Research(context.Background(), Subject{Topic: "Photosynthesis", Grade: "8"})
	if err != nil {
		t.Fatalf("Research() error: %v", err)
	}
	if len(kc.Queries) != 2 {
		t.Errorf("queries = %v", kc.Queries)
	}
	if len(kc.Sources) != 2 || kc.Sources[0].URL != "https://a" || kc.Sources[1].URL != "https://b" {
		t.Errorf("sources = %+v", kc.Sources)
	}
	if kc.Sources[1].Title != "B" {
		t.Errorf("first occurrence should win, got %q", kc.Sources[1].Title)
	}
	if !strings.Contains(kc.Explanation, "alpha\nbeta") || !strings.Contains(kc.Explanation, explanationSeparator+"beta again") {
		t.Errorf("explanation = %q", kc.Explanation)
	}
}

func TestResearcher_QueryFallbacks(t *testing.T) {
	tests := []struct {
		name   string
		client llm.Client
	}{
		{"no client", nil},
		{"generator error", replyClient("", errors.New("boom"))},
		{"unparseable reply", replyClient("ok", nil)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			searcher := &fakeSearcher{}
			r := NewResearcher(searcher, tt.client)
			kc, err := r.Research(context.Background(), Subject{Topic: "Fractions", Grade: "5"})
			if err != nil {
				t.Fatalf("Research() error: %v", err)
			}
			if len(searcher.queries) != 1 || searcher.queries[0] != "Fractions 5 grade explanation" {
				t.Errorf("queries = %q", searcher.queries)
			}
			if len(kc.Sources) != 0 || kc.Explanation != "" {
				t.Errorf("expected empty context, got %+v", kc)
			}
		})
	}
}

func TestResearcher_LimitsQueryCount(t *testing.T) {
	searcher := &fakeSearcher{}
	r := NewResearcher(searcher, replyClient(`["first query here", "second query here", "third query here", "fourth query here"]`, nil))

	if _, err := r.Research(context.Background(), Subject{Topic: "Gravity"}); err != nil {
		t.Fatalf("Research() error: %v", err)
	}
	if len(searcher.queries) != DefaultMaxQueries {
		t.Errorf("ran %d queries, want %d", len(searcher.queries), DefaultMaxQueries)
	}
}

func TestResearcher_PartialAndTotalFailure(t *testing.T) {
	boom := errors.New("backend down")

	partial := &fakeSearcher{
		results: map[string][]api.Source{"good query text": {{URL: "https://ok"}}},
		errs:    map[string]error{"bad query text": boom},
	}
	r := NewResearcher(partial, replyClient(`["good query text", "bad query text"]`, nil))
	kc, err := r.Research(context.Background(), Subject{Topic: "Cells"})
	if err != nil {
		t.Fatalf("partial failure should not error: %v", err)
	}
	if len(kc.Sources) != 1 {
		t.Errorf("sources = %+v", kc.Sources)
	}

	total := &fakeSearcher{errs: map[string]error{"Cells  grade explanation": boom, "Cells grade explanation": boom}}
	r = NewResearcher(total, nil)
	if _, err := r.Research(context.Background(), Subject{Topic: "Cells"}); !errors.Is(err, ErrNoResults) {
		t.Errorf("Research() error = %v, want ErrNoResults", err)
	}
}

func TestSearXNG_Search(t *testing.T) {
	var gotQuery, gotFormat string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/search" {
			http.NotFound(w, r)
			return
		}
		gotQuery = r.URL.Query().Get("q")
		gotFormat = r.URL.Query().Get("format")
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(searxngResponse{Results: []searxngResult{
			{Title: "<b>Go</b> Programming", URL: "https://go.dev", Content: "The <em>Go</em> language"},
			{Title: "No URL", URL: ""},
			{Title: "Tour", URL: "https://go.dev/tour", Content: "A tour"},
			{Title: "Docs", URL: "https://go.dev/doc", Content: "Docs"},
		}})
	}))
	defer server.Close()

	s := NewSearXNG(server.URL+"/", nil)
	got, err := s.Search(context.Background(), "golang & friends", 2)
	if err != nil {
		t.Fatalf("Search() error: %v", err)
	}
	if gotQuery != "golang & friends" || gotFormat != "json" {
		t.Errorf("query params: q=%q format=%q", gotQuery, gotFormat)
	}
	if len(got) != 2 {
		t.Fatalf("got %d results, want 2", len(got))
	}
	if got[0].Title != "Go Programming" || got[0].Snippet != "The Go language" {
		t.Errorf("HTML not stripped: %+v", got[0])
	}
	if got[1].URL != "https://go.dev/tour" {
		t.Errorf("results without URL should be skipped, got %+v", got[1])
	}
}

func TestSearXNG_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	if _, err := NewSearXNG(server.URL, server.Client()).Search(context.Background(), "x", 5); err == nil {
		t.Fatal("expected error for non-200 status")
	}
}
