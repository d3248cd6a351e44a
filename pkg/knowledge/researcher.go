package knowledge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/itsbakr/weave-tutor/pkg/api"
	"github.com/itsbakr/weave-tutor/pkg/debug"
	"github.com/itsbakr/weave-tutor/pkg/llm"
	"github.com/itsbakr/weave-tutor/pkg/observability"
)

// Defaults for a Researcher.
const (
	DefaultMaxQueries      = 3
	DefaultResultsPerQuery = 5
	DefaultMaxSources      = 10
)

const explanationSeparator = "\n\n---\n\n"

// Researcher implements Provider over a Searcher. When a Client is set it
// asks the generator for search queries, otherwise it searches the topic
// directly.
type Researcher struct {
	Searcher Searcher
	Client   llm.Client

	MaxQueries      int
	ResultsPerQuery int
	MaxSources      int
}

// NewResearcher creates a Researcher with default limits. client may be nil.
func NewResearcher(searcher Searcher, client llm.Client) *Researcher {
	return &Researcher{
		Searcher:        searcher,
		Client:          client,
		MaxQueries:      DefaultMaxQueries,
		ResultsPerQuery: DefaultResultsPerQuery,
		MaxSources:      DefaultMaxSources,
	}
}

var _ Provider = (*Researcher)(nil)

// Research runs the generated queries in parallel. Failed queries are
// skipped; ErrNoResults is returned only when all of them failed.
// Sources are deduplicated by URL in query order.
func (r *Researcher) Research(ctx context.Context, s Subject) (*Context, error) {
	perQuery := orDefault(r.ResultsPerQuery, DefaultResultsPerQuery)
	maxSources := orDefault(r.MaxSources, DefaultMaxSources)
	queries := r.queries(ctx, s)
	debug.Log("knowledge", "researching topic", "topic", s.Topic, "queries", len(queries))

	type queryResult struct {
		sources []api.Source
		err     error
	}
	results := make([]queryResult, len(queries))

	g, gctx := errgroup.WithContext(ctx)
	for i, q := range queries {
		g.Go(func() error {
			srcs, err := r.Searcher.Search(gctx, q, perQuery)
			results[i] = queryResult{sources: srcs, err: err}
			return nil
		})
	}
	_ = g.Wait()

	kc := &Context{Topic: s.Topic, Queries: queries}
	seen := make(map[string]bool)
	var parts []string
	failed := 0
	for i, res := range results {
		if res.err != nil {
			failed++
			observability.KnowledgeSearchesTotal.WithLabelValues("error").Inc()
			slog.Warn("knowledge query failed", "query", queries[i], "error", res.err)
			continue
		}
		observability.KnowledgeSearchesTotal.WithLabelValues("ok").Inc()

		var snippets []string
		for _, src := range res.sources {
			if src.Snippet != "" {
				snippets = append(snippets, src.Snippet)
			}
			if seen[src.URL] || len(kc.Sources) >= maxSources {
				continue
			}
			seen[src.URL] = true
			kc.Sources = append(kc.Sources, src)
		}
		if len(snippets) > 0 {
			parts = append(parts, strings.Join(snippets, "\n"))
		}
	}

	if len(queries) > 0 && failed == len(queries) {
		return nil, fmt.Errorf("%w: %w", ErrNoResults, results[0].err)
	}

	kc.Explanation = strings.Join(parts, explanationSeparator)
	return kc, nil
}

var jsonArrayRegex = regexp.MustCompile(`(?s)\[.*\]`)

// queries asks the generator for up to MaxQueries search queries. Any
// generator problem falls back to a single query built from the subject.
func (r *Researcher) queries(ctx context.Context, s Subject) []string {
	fallback := []string{strings.TrimSpace(fmt.Sprintf("%s %s grade explanation", s.Topic, s.Grade))}
	if r.Client == nil {
		return fallback
	}

	resp, err := r.Client.Complete(ctx, llm.Request{
		Prompt:      queryPrompt(s),
		Temperature: 0.3,
		MaxTokens:   200,
		Purpose:     llm.PurposeResearch,
	})
	if err != nil {
		slog.Warn("query generation failed, searching topic directly", "topic", s.Topic, "error", err)
		return fallback
	}

	qs := ParseQueries(resp.Text)
	if len(qs) == 0 {
		return fallback
	}
	if n := orDefault(r.MaxQueries, DefaultMaxQueries); len(qs) > n {
		qs = qs[:n]
	}
	return qs
}

// ParseQueries extracts queries from a JSON array in text, or failing
// that from its non-trivial lines.
func ParseQueries(text string) []string {
	if m := jsonArrayRegex.FindString(text); m != "" {
		var qs []string
		if err := json.Unmarshal([]byte(m), &qs); err == nil {
			return nonEmpty(qs)
		}
	}

	var qs []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		line = strings.Trim(line, `"'-* `)
		if len(line) > 10 {
			qs = append(qs, line)
		}
	}
	return qs
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func nonEmpty(in []string) []string {
	out := in[:0]
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func queryPrompt(s Subject) string {
	return fmt.Sprintf(`Generate 2-3 specific search queries to research this educational topic.

TOPIC: %s
GRADE LEVEL: %s
SUBJECT: %s

The queries should find core explanations appropriate for the grade level,
real-world applications and common misconceptions.

Return ONLY a JSON array of query strings:
["query 1", "query 2", "query 3"]
`, s.Topic, s.Grade, s.Subject)
}
