// Package postgres provides a PostgreSQL implementation of storage.Store.
// It uses pgx/v5 for connection pooling and JSONB for nested lesson,
// deployment and evaluation data.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/itsbakr/weave-tutor/pkg/api"
	"github.com/itsbakr/weave-tutor/pkg/storage"
)

// Store is a PostgreSQL-backed storage.Store.
type Store struct {
	pool *pgxpool.Pool
}

var _ storage.Store = (*Store)(nil)

// New creates a new PostgreSQL store with the given configuration.
// If MigrateOnStart is true, schema migrations are applied automatically.
func New(ctx context.Context, cfg Config) (*Store, error) {
	cfg.defaults()

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parsing DSN: %w", err)
	}

	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	poolCfg.ConnConfig.RuntimeParams["application_name"] = cfg.ApplicationName
	if cfg.StatementTimeout > 0 {
		poolCfg.ConnConfig.RuntimeParams["statement_timeout"] = strconv.FormatInt(cfg.StatementTimeout.Milliseconds(), 10)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	s := &Store{pool: pool}

	if cfg.MigrateOnStart {
		if err := s.migrate(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("running migrations: %w", err)
		}
	}

	return s, nil
}

// SaveStudent inserts or replaces a student profile.
func (s *Store) SaveStudent(ctx context.Context, st *api.Student) error {
	createdAt := st.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO students (
			id, tutor_id, name, grade, subject, learning_style,
			languages, interests, objectives, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			tutor_id = EXCLUDED.tutor_id,
			name = EXCLUDED.name,
			grade = EXCLUDED.grade,
			subject = EXCLUDED.subject,
			learning_style = EXCLUDED.learning_style,
			languages = EXCLUDED.languages,
			interests = EXCLUDED.interests,
			objectives = EXCLUDED.objectives
	`,
		st.ID, st.TutorID, st.Name, st.Grade, nullString(st.Subject), nullString(st.LearningStyle),
		st.Languages, st.Interests, st.Objectives, createdAt,
	)
	if err != nil {
		return fmt.Errorf("upserting student: %w", err)
	}
	return nil
}

// GetStudent returns a student by ID.
func (s *Store) GetStudent(ctx context.Context, id string) (*api.Student, error) {
	var st api.Student
	var subject, style *string
	err := s.pool.QueryRow(ctx, `
		SELECT id, tutor_id, name, grade, subject, learning_style,
		       languages, interests, objectives, created_at
		FROM students WHERE id = $1
	`, id).Scan(
		&st.ID, &st.TutorID, &st.Name, &st.Grade, &subject, &style,
		&st.Languages, &st.Interests, &st.Objectives, &st.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying student: %w", err)
	}
	st.Subject = deref(subject)
	st.LearningStyle = deref(style)
	return &st, nil
}

// SaveLesson inserts or replaces a lesson.
func (s *Store) SaveLesson(ctx context.Context, l *api.Lesson) error {
	sourcesJSON, err := marshalOptional(l.Sources, len(l.Sources) > 0)
	if err != nil {
		return fmt.Errorf("marshaling sources: %w", err)
	}
	phasesJSON, err := marshalOptional(l.Phases, len(l.Phases) > 0)
	if err != nil {
		return fmt.Errorf("marshaling phases: %w", err)
	}
	createdAt := l.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO lessons (
			id, tutor_id, student_id, title, topic, explanation,
			sources, learning_objectives, phases, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			tutor_id = EXCLUDED.tutor_id,
			student_id = EXCLUDED.student_id,
			title = EXCLUDED.title,
			topic = EXCLUDED.topic,
			explanation = EXCLUDED.explanation,
			sources = EXCLUDED.sources,
			learning_objectives = EXCLUDED.learning_objectives,
			phases = EXCLUDED.phases
	`,
		l.ID, l.TutorID, l.StudentID, l.Title, l.Topic, nullString(l.Explanation),
		nullJSON(sourcesJSON), l.LearningObjectives, nullJSON(phasesJSON), createdAt,
	)
	if err != nil {
		return fmt.Errorf("upserting lesson: %w", err)
	}
	return nil
}

// GetLesson returns a lesson by ID.
func (s *Store) GetLesson(ctx context.Context, id string) (*api.Lesson, error) {
	var l api.Lesson
	var explanation *string
	var sourcesJSON, phasesJSON []byte
	err := s.pool.QueryRow(ctx, `
		SELECT id, tutor_id, student_id, title, topic, explanation,
		       sources, learning_objectives, phases, created_at
		FROM lessons WHERE id = $1
	`, id).Scan(
		&l.ID, &l.TutorID, &l.StudentID, &l.Title, &l.Topic, &explanation,
		&sourcesJSON, &l.LearningObjectives, &phasesJSON, &l.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying lesson: %w", err)
	}
	l.Explanation = deref(explanation)
	if len(sourcesJSON) > 0 {
		if err := json.Unmarshal(sourcesJSON, &l.Sources); err != nil {
			return nil, fmt.Errorf("unmarshaling sources: %w", err)
		}
	}
	if len(phasesJSON) > 0 {
		if err := json.Unmarshal(phasesJSON, &l.Phases); err != nil {
			return nil, fmt.Errorf("unmarshaling phases: %w", err)
		}
	}
	return &l, nil
}

// SaveActivity persists a new activity under the tenant in ctx.
func (s *Store) SaveActivity(ctx context.Context, a *api.Activity) error {
	deploymentJSON, evalJSON, err := marshalActivity(a)
	if err != nil {
		return err
	}
	now := time.Now()
	createdAt, updatedAt := a.CreatedAt, a.UpdatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	if updatedAt.IsZero() {
		updatedAt = createdAt
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO activities (
			id, tenant_id, tutor_id, student_id, lesson_id,
			title, type, topic, description, duration,
			code, language, sandbox_id, sandbox_url,
			deployment, self_evaluation, iteration_count,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
	`,
		a.ID, storage.GetTenant(ctx), a.TutorID, a.StudentID, nullString(a.LessonID),
		a.Title, a.Type, a.Topic, a.Description, a.Duration,
		a.Code, a.Language, nullString(a.SandboxID), nullString(a.SandboxURL),
		deploymentJSON, nullJSON(evalJSON), a.IterationCount,
		createdAt, updatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return storage.ErrConflict
		}
		return fmt.Errorf("inserting activity: %w", err)
	}
	return nil
}

// GetActivity returns an activity visible to the tenant in ctx.
func (s *Store) GetActivity(ctx context.Context, id string) (*api.Activity, error) {
	query, args := tenantScoped(ctx, `
		SELECT id, tutor_id, student_id, lesson_id,
		       title, type, topic, description, duration,
		       code, language, sandbox_id, sandbox_url,
		       deployment, self_evaluation, iteration_count,
		       created_at, updated_at
		FROM activities
		WHERE id = $1
	`, id)

	var a api.Activity
	var lessonID, sandboxID, sandboxURL *string
	var deploymentJSON, evalJSON []byte

	err := s.pool.QueryRow(ctx, query, args...).Scan(
		&a.ID, &a.TutorID, &a.StudentID, &lessonID,
		&a.Title, &a.Type, &a.Topic, &a.Description, &a.Duration,
		&a.Code, &a.Language, &sandboxID, &sandboxURL,
		&deploymentJSON, &evalJSON, &a.IterationCount,
		&a.CreatedAt, &a.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying activity: %w", err)
	}

	a.LessonID = deref(lessonID)
	a.SandboxID = deref(sandboxID)
	a.SandboxURL = deref(sandboxURL)
	if err := json.Unmarshal(deploymentJSON, &a.Deployment); err != nil {
		return nil, fmt.Errorf("unmarshaling deployment: %w", err)
	}
	if len(evalJSON) > 0 {
		a.Evaluation = &api.Evaluation{}
		if err := json.Unmarshal(evalJSON, a.Evaluation); err != nil {
			return nil, fmt.Errorf("unmarshaling evaluation: %w", err)
		}
	}
	return &a, nil
}

// UpdateActivity replaces the mutable fields of a stored activity.
func (s *Store) UpdateActivity(ctx context.Context, a *api.Activity) error {
	deploymentJSON, evalJSON, err := marshalActivity(a)
	if err != nil {
		return err
	}
	updatedAt := a.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}

	query, args := tenantScoped(ctx, `
		UPDATE activities SET
			title = $2, description = $3, code = $4,
			sandbox_id = $5, sandbox_url = $6,
			deployment = $7, self_evaluation = $8,
			iteration_count = $9, updated_at = $10
		WHERE id = $1
	`,
		a.ID, a.Title, a.Description, a.Code,
		nullString(a.SandboxID), nullString(a.SandboxURL),
		deploymentJSON, nullJSON(evalJSON),
		a.IterationCount, updatedAt,
	)

	result, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("updating activity: %w", err)
	}
	if result.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// AddChatMessage appends a message to a visible activity's conversation.
func (s *Store) AddChatMessage(ctx context.Context, m *api.ChatMessage) error {
	if err := s.activityVisible(ctx, m.ActivityID); err != nil {
		return err
	}
	id := m.ID
	if id == "" {
		id = api.NewID()
	}
	createdAt := m.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO activity_chat_history (
			id, activity_id, tutor_id, message_type, message_content,
			code_snapshot, sandbox_url, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		id, m.ActivityID, m.TutorID, m.Type, m.Content,
		nullString(m.CodeSnapshot), nullString(m.SandboxURL), createdAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return storage.ErrConflict
		}
		return fmt.Errorf("inserting chat message: %w", err)
	}
	return nil
}

// ListChatMessages returns an activity's conversation oldest first.
func (s *Store) ListChatMessages(ctx context.Context, activityID string) ([]api.ChatMessage, error) {
	if err := s.activityVisible(ctx, activityID); err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, activity_id, tutor_id, message_type, message_content,
		       code_snapshot, sandbox_url, created_at
		FROM activity_chat_history
		WHERE activity_id = $1
		ORDER BY created_at ASC, id ASC
	`, activityID)
	if err != nil {
		return nil, fmt.Errorf("querying chat history: %w", err)
	}
	defer rows.Close()

	msgs := []api.ChatMessage{}
	for rows.Next() {
		var m api.ChatMessage
		var snapshot, url *string
		if err := rows.Scan(
			&m.ID, &m.ActivityID, &m.TutorID, &m.Type, &m.Content,
			&snapshot, &url, &m.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning chat message: %w", err)
		}
		m.CodeSnapshot = deref(snapshot)
		m.SandboxURL = deref(url)
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating chat history: %w", err)
	}
	return msgs, nil
}

// SaveFixAttempt records one automatic repair.
func (s *Store) SaveFixAttempt(ctx context.Context, f *api.FixAttempt) error {
	id := f.ID
	if id == "" {
		id = api.NewID()
	}
	createdAt := f.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO fix_attempts (
			id, session_key, topic, error_type, attempt_number, error_excerpt,
			original_bytes, fixed_bytes, repair_failed, confidence, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`,
		id, f.SessionKey, f.Topic, f.Category, f.Attempt, f.ErrorExcerpt,
		f.OriginalBytes, f.FixedBytes, f.RepairFailed, f.Confidence, createdAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return storage.ErrConflict
		}
		return fmt.Errorf("inserting fix attempt: %w", err)
	}
	return nil
}

// ListFixAttempts returns up to limit fix attempts, newest first.
func (s *Store) ListFixAttempts(ctx context.Context, category string, limit int) ([]api.FixAttempt, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `
		SELECT id, session_key, topic, error_type, attempt_number, error_excerpt,
		       original_bytes, fixed_bytes, repair_failed, confidence, created_at
		FROM fix_attempts
	`
	args := []any{}
	if category != "" {
		query += " WHERE error_type = $1"
		args = append(args, category)
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args)+1)
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying fix attempts: %w", err)
	}
	defer rows.Close()

	fixes := []api.FixAttempt{}
	for rows.Next() {
		var f api.FixAttempt
		if err := rows.Scan(
			&f.ID, &f.SessionKey, &f.Topic, &f.Category, &f.Attempt, &f.ErrorExcerpt,
			&f.OriginalBytes, &f.FixedBytes, &f.RepairFailed, &f.Confidence, &f.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning fix attempt: %w", err)
		}
		fixes = append(fixes, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating fix attempts: %w", err)
	}
	return fixes, nil
}

// SavePerformanceMetric records an agent performance metric.
func (s *Store) SavePerformanceMetric(ctx context.Context, m *api.PerformanceMetric) error {
	evalJSON, err := marshalOptional(m.Evaluation, m.Evaluation != nil)
	if err != nil {
		return fmt.Errorf("marshaling evaluation: %w", err)
	}
	id := m.ID
	if id == "" {
		id = api.NewID()
	}
	createdAt := m.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO performance_metrics (
			id, agent_type, agent_id, session_id, success_rate,
			confidence_scores, error_count, last_error, evaluation_details, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		id, m.AgentType, m.AgentID, nullString(m.SessionID), m.SuccessRate,
		m.ConfidenceScores, m.ErrorCount, nullString(m.LastError), nullJSON(evalJSON), createdAt,
	)
	if err != nil {
		return fmt.Errorf("inserting performance metric: %w", err)
	}
	return nil
}

// HealthCheck verifies the database connection.
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// activityVisible reports storage.ErrNotFound unless the activity exists
// for the tenant in ctx.
func (s *Store) activityVisible(ctx context.Context, id string) error {
	query, args := tenantScoped(ctx, "SELECT EXISTS(SELECT 1 FROM activities WHERE id = $1", id)
	var exists bool
	if err := s.pool.QueryRow(ctx, query+")", args...).Scan(&exists); err != nil {
		return fmt.Errorf("checking activity: %w", err)
	}
	if !exists {
		return storage.ErrNotFound
	}
	return nil
}

// tenantScoped appends a tenant_id condition to query when ctx carries a
// tenant. The condition uses the next free positional parameter.
func tenantScoped(ctx context.Context, query string, args ...any) (string, []any) {
	tenantID := storage.GetTenant(ctx)
	if tenantID == "" {
		return query, args
	}
	query += fmt.Sprintf(" AND tenant_id = $%d", len(args)+1)
	return query, append(args, tenantID)
}

func marshalActivity(a *api.Activity) (deployment, evaluation []byte, err error) {
	deployment, err = json.Marshal(a.Deployment)
	if err != nil {
		return nil, nil, fmt.Errorf("marshaling deployment: %w", err)
	}
	evaluation, err = marshalOptional(a.Evaluation, a.Evaluation != nil)
	if err != nil {
		return nil, nil, fmt.Errorf("marshaling evaluation: %w", err)
	}
	return deployment, evaluation, nil
}

func marshalOptional(v any, present bool) ([]byte, error) {
	if !present {
		return nil, nil
	}
	return json.Marshal(v)
}

// nullString converts an empty string to nil for nullable TEXT columns.
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// nullJSON converts nil/empty byte slices to nil for nullable JSONB columns.
func nullJSON(b []byte) *[]byte {
	if len(b) == 0 {
		return nil
	}
	return &b
}

// isDuplicateKey checks if the error is a PostgreSQL unique violation (23505).
func isDuplicateKey(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
