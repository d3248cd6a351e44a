package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/itsbakr/weave-tutor/pkg/api"
)

// Seed is a set of students and lessons loaded into a store at startup.
// Field names follow the API's JSON names, e.g. tutor_id.
type Seed struct {
	Students []api.Student `json:"students"`
	Lessons  []api.Lesson  `json:"lessons"`
}

// LoadSeed reads a YAML (or JSON) seed file.
func LoadSeed(path string) (*Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading seed file: %w", err)
	}
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing seed file %s: %w", path, err)
	}
	// Re-encode so keys bind through the api types' json tags.
	js, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("parsing seed file %s: %w", path, err)
	}
	var s Seed
	if err := json.Unmarshal(js, &s); err != nil {
		return nil, fmt.Errorf("parsing seed file %s: %w", path, err)
	}
	return &s, nil
}

// Apply saves every student, then every lesson. Both are upserts, so a
// seed can be applied on every start.
func (s *Seed) Apply(ctx context.Context, store Store) error {
	now := time.Now().UTC()
	for i := range s.Students {
		st := &s.Students[i]
		if st.ID == "" {
			return fmt.Errorf("seed student %d: id is required", i)
		}
		if apiErr := api.ValidateStudent(st); apiErr != nil {
			return fmt.Errorf("seed student %s: %s", st.ID, apiErr.Message)
		}
		if st.CreatedAt.IsZero() {
			st.CreatedAt = now
		}
		if err := store.SaveStudent(ctx, st); err != nil {
			return fmt.Errorf("seed student %s: %w", st.ID, err)
		}
	}
	for i := range s.Lessons {
		l := &s.Lessons[i]
		if l.ID == "" {
			return fmt.Errorf("seed lesson %d: id is required", i)
		}
		if apiErr := api.ValidateLesson(l); apiErr != nil {
			return fmt.Errorf("seed lesson %s: %s", l.ID, apiErr.Message)
		}
		if l.Title == "" {
			l.Title = l.Topic
		}
		if err := store.SaveLesson(ctx, l); err != nil {
			return fmt.Errorf("seed lesson %s: %w", l.ID, err)
		}
	}
	return nil
}
