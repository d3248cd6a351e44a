// Package memory provides an in-memory storage.Store for tests and
// single-process deployments. Data is lost when the process restarts.
// Optional LRU eviction bounds the number of activities kept.
package memory

import (
	"container/list"
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/itsbakr/weave-tutor/pkg/api"
	"github.com/itsbakr/weave-tutor/pkg/storage"
)

// activityEntry holds a stored activity and its metadata.
type activityEntry struct {
	activity api.Activity
	tenantID string
	lruElem  *list.Element // position in LRU list
}

// Store is an in-memory storage.Store.
type Store struct {
	mu sync.RWMutex

	students   map[string]api.Student
	lessons    map[string]api.Lesson
	activities map[string]*activityEntry
	messages   map[string][]api.ChatMessage // by activity id
	fixes      []api.FixAttempt
	metrics    []api.PerformanceMetric

	lruList *list.List // front = most recently used, back = least recently used
	maxSize int        // 0 = unlimited
}

// Ensure Store implements storage.Store at compile time.
var _ storage.Store = (*Store)(nil)

// New creates a new in-memory store. If maxSize is 0, the store grows
// without limit. If maxSize > 0, the least recently used activity and its
// chat history are evicted when the limit is reached.
func New(maxSize int) *Store {
	return &Store{
		students:   make(map[string]api.Student),
		lessons:    make(map[string]api.Lesson),
		activities: make(map[string]*activityEntry),
		messages:   make(map[string][]api.ChatMessage),
		lruList:    list.New(),
		maxSize:    maxSize,
	}
}

// SaveStudent inserts or replaces a student.
func (s *Store) SaveStudent(_ context.Context, st *api.Student) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *st
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	s.students[st.ID] = cp
	return nil
}

// GetStudent returns a student by ID.
func (s *Store) GetStudent(_ context.Context, id string) (*api.Student, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.students[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &st, nil
}

// SaveLesson inserts or replaces a lesson.
func (s *Store) SaveLesson(_ context.Context, l *api.Lesson) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *l
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	s.lessons[l.ID] = cp
	return nil
}

// GetLesson returns a lesson by ID.
func (s *Store) GetLesson(_ context.Context, id string) (*api.Lesson, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.lessons[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &l, nil
}

// SaveActivity persists a new activity under the tenant in ctx.
func (s *Store) SaveActivity(ctx context.Context, a *api.Activity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.activities[a.ID]; exists {
		return storage.ErrConflict
	}

	if s.maxSize > 0 && len(s.activities) >= s.maxSize {
		s.evictOldest()
	}

	elem := s.lruList.PushFront(a.ID)
	s.activities[a.ID] = &activityEntry{
		activity: cloneActivity(a),
		tenantID: storage.GetTenant(ctx),
		lruElem:  elem,
	}
	return nil
}

// GetActivity returns an activity by ID, scoped by tenant.
func (s *Store) GetActivity(ctx context.Context, id string) (*api.Activity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.activities[id]
	if !ok || !storage.Visible(ctx, e.tenantID) {
		return nil, storage.ErrNotFound
	}
	s.lruList.MoveToFront(e.lruElem)

	a := cloneActivity(&e.activity)
	return &a, nil
}

// UpdateActivity replaces a stored activity, keeping its creation time.
func (s *Store) UpdateActivity(ctx context.Context, a *api.Activity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.activities[a.ID]
	if !ok || !storage.Visible(ctx, e.tenantID) {
		return storage.ErrNotFound
	}
	created := e.activity.CreatedAt
	e.activity = cloneActivity(a)
	e.activity.CreatedAt = created
	s.lruList.MoveToFront(e.lruElem)
	return nil
}

// AddChatMessage appends a message to its activity's conversation.
func (s *Store) AddChatMessage(ctx context.Context, m *api.ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.activities[m.ActivityID]
	if !ok || !storage.Visible(ctx, e.tenantID) {
		return storage.ErrNotFound
	}
	cp := *m
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	s.messages[m.ActivityID] = append(s.messages[m.ActivityID], cp)
	return nil
}

// ListChatMessages returns the conversation of an activity oldest first.
func (s *Store) ListChatMessages(ctx context.Context, activityID string) ([]api.ChatMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.activities[activityID]
	if !ok || !storage.Visible(ctx, e.tenantID) {
		return nil, storage.ErrNotFound
	}
	msgs := slices.Clone(s.messages[activityID])
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
	})
	if msgs == nil {
		msgs = []api.ChatMessage{}
	}
	return msgs, nil
}

// SaveFixAttempt records a repair.
func (s *Store) SaveFixAttempt(_ context.Context, f *api.FixAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *f
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	s.fixes = append(s.fixes, cp)
	return nil
}

// ListFixAttempts returns up to limit fix attempts, newest first.
func (s *Store) ListFixAttempts(_ context.Context, category string, limit int) ([]api.FixAttempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 20
	}
	result := []api.FixAttempt{}
	for i := len(s.fixes) - 1; i >= 0 && len(result) < limit; i-- {
		if category != "" && s.fixes[i].Category != category {
			continue
		}
		result = append(result, s.fixes[i])
	}
	return result, nil
}

// SavePerformanceMetric records an agent performance metric.
func (s *Store) SavePerformanceMetric(_ context.Context, m *api.PerformanceMetric) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *m
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	s.metrics = append(s.metrics, cp)
	return nil
}

// PerformanceMetrics returns a copy of all recorded metrics.
func (s *Store) PerformanceMetrics() []api.PerformanceMetric {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.metrics)
}

// HealthCheck always returns nil for the in-memory store.
func (s *Store) HealthCheck(_ context.Context) error {
	return nil
}

// Close is a no-op for the in-memory store.
func (s *Store) Close() error {
	return nil
}

// evictOldest removes the least recently used activity and its messages.
// Must be called with s.mu held.
func (s *Store) evictOldest() {
	back := s.lruList.Back()
	if back == nil {
		return
	}

	id := back.Value.(string)
	s.lruList.Remove(back)
	delete(s.activities, id)
	delete(s.messages, id)
}

func cloneActivity(a *api.Activity) api.Activity {
	cp := *a
	cp.Deployment.Attempts = slices.Clone(a.Deployment.Attempts)
	if a.Evaluation != nil {
		ev := *a.Evaluation
		cp.Evaluation = &ev
	}
	return cp
}
