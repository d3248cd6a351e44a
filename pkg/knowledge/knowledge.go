// Package knowledge researches a topic before an activity is generated.
// A Researcher derives a few search queries from the topic, runs them in
// parallel against a Searcher and folds the results into a Context.
package knowledge

import (
	"context"
	"errors"

	"github.com/itsbakr/weave-tutor/pkg/api"
)

// ErrNoResults is returned when every query failed.
var ErrNoResults = errors.New("knowledge: all queries failed")

// Subject describes what to research.
type Subject struct {
	Topic   string
	Grade   string
	Subject string
}

// Context is the research gathered for a topic.
type Context struct {
	Topic       string       `json:"topic"`
	Queries     []string     `json:"queries"`
	Explanation string       `json:"explanation"`
	Sources     []api.Source `json:"sources"`
}

// Provider returns background knowledge for a topic.
type Provider interface {
	Research(ctx context.Context, s Subject) (*Context, error)
}

// Searcher is a pluggable web search backend.
type Searcher interface {
	Search(ctx context.Context, query string, maxResults int) ([]api.Source, error)
}
