// Package activity is the composition root of activity generation. It
// gathers context for a request, asks the generator for React code, runs
// the auto-fix deployment loop, evaluates and persists the result, and
// supports later redeployment and conversational editing.
package activity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/itsbakr/weave-tutor/pkg/api"
	"github.com/itsbakr/weave-tutor/pkg/debug"
	"github.com/itsbakr/weave-tutor/pkg/deploy"
	"github.com/itsbakr/weave-tutor/pkg/evaluate"
	"github.com/itsbakr/weave-tutor/pkg/knowledge"
	"github.com/itsbakr/weave-tutor/pkg/llm"
	"github.com/itsbakr/weave-tutor/pkg/repair"
	"github.com/itsbakr/weave-tutor/pkg/sandbox"
	"github.com/itsbakr/weave-tutor/pkg/storage"
)

// ErrGeneration is returned when the generator fails or yields no code.
var ErrGeneration = errors.New("code generation failed")

// DefaultDuration is the activity duration in minutes when none is given.
const DefaultDuration = 20

// AgentType labels performance metrics recorded by the workflow.
const AgentType = "activity_creator"

// Runner runs the auto-fix loop. *deploy.Orchestrator implements it.
type Runner interface {
	Run(ctx context.Context, initialCode string, dc deploy.Context, maxAttempts int) (*deploy.Result, error)
}

// Releaser tears down a sandbox left live by an earlier run.
type Releaser interface {
	Teardown(ctx context.Context, h *sandbox.Handle) error
}

// Evaluator grades a generated activity.
type Evaluator interface {
	Evaluate(ctx context.Context, in evaluate.Input) (*api.Evaluation, error)
}

var (
	_ Runner    = (*deploy.Orchestrator)(nil)
	_ Releaser  = (*sandbox.Driver)(nil)
	_ Evaluator = (*evaluate.Evaluator)(nil)
)

// Config wires a Workflow.
type Config struct {
	Store     storage.Store
	Generator llm.Client
	Runner    Runner
	Releaser  Releaser
	Evaluator Evaluator

	// Knowledge researches standalone topics. Nil skips research.
	Knowledge knowledge.Provider

	// MaxAttempts is used when a request does not set one.
	MaxAttempts int
}

// Workflow implements the activity operations. It is safe for concurrent use.
type Workflow struct {
	cfg   Config
	nowFn func() time.Time
}

// New validates cfg and creates a Workflow.
func New(cfg Config) (*Workflow, error) {
	switch {
	case cfg.Store == nil:
		return nil, errors.New("activity: store is required")
	case cfg.Generator == nil:
		return nil, errors.New("activity: generator is required")
	case cfg.Runner == nil:
		return nil, errors.New("activity: runner is required")
	case cfg.Releaser == nil:
		return nil, errors.New("activity: releaser is required")
	case cfg.Evaluator == nil:
		return nil, errors.New("activity: evaluator is required")
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = deploy.DefaultMaxAttempts
	}
	return &Workflow{cfg: cfg, nowFn: time.Now}, nil
}

// request is a create request with its context resolved.
type request struct {
	topic       string
	description string
	duration    int
	lessonID    string
	student     *api.Student
	knowledge   *knowledge.Context
}

// Create generates, deploys, evaluates and stores a new activity.
func (w *Workflow) Create(ctx context.Context, req api.CreateActivityRequest) (*api.ActivityResult, error) {
	r, err := w.resolve(ctx, req)
	if err != nil {
		return nil, err
	}
	slog.Info("creating activity", "student_id", req.StudentID, "topic", r.topic, "lesson_id", r.lessonID)

	code, err := w.generate(ctx, r)
	if err != nil {
		return nil, err
	}

	maxAttempts := req.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = w.cfg.MaxAttempts
	}
	res, err := w.cfg.Runner.Run(ctx, code, deploy.Context{Topic: r.topic, SessionKey: req.StudentID}, maxAttempts)
	if err != nil {
		return nil, fmt.Errorf("deploying activity: %w", err)
	}

	eval := w.evaluate(ctx, r, res)

	now := w.nowFn()
	a := &api.Activity{
		ID:             api.NewID(),
		TutorID:        req.TutorID,
		StudentID:      req.StudentID,
		LessonID:       r.lessonID,
		Title:          r.topic + " - Interactive Activity",
		Type:           api.ActivityTypeInteractive,
		Topic:          r.topic,
		Description:    r.description,
		Duration:       r.duration,
		Code:           res.FinalCode,
		Language:       api.LanguageJavaScript,
		SandboxID:      res.SandboxID,
		SandboxURL:     res.PreviewAddress,
		Deployment:     deploymentOf(res),
		Evaluation:     eval,
		IterationCount: 0,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := w.cfg.Store.SaveActivity(ctx, a); err != nil {
		w.release(ctx, res.SandboxID)
		return nil, fmt.Errorf("saving activity: %w", err)
	}

	w.recordMetric(ctx, a.ID, eval)

	slog.Info("activity created",
		"activity_id", a.ID,
		"status", res.Status,
		"attempts", res.AttemptsUsed,
		"overall_score", eval.OverallScore,
	)
	return &api.ActivityResult{
		Success:    res.Succeeded(),
		ActivityID: a.ID,
		Activity:   a,
		Evaluation: eval,
		Deployment: a.Deployment,
		SandboxURL: a.SandboxURL,
	}, nil
}

// Get returns a stored activity.
func (w *Workflow) Get(ctx context.Context, id string) (*api.Activity, error) {
	a, err := w.cfg.Store.GetActivity(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("activity %s: %w", id, err)
	}
	return a, nil
}

// resolve loads the lesson and student and, for standalone requests,
// researches the topic.
func (w *Workflow) resolve(ctx context.Context, req api.CreateActivityRequest) (*request, error) {
	r := &request{
		topic:       req.Topic,
		description: req.ActivityDescription,
		duration:    req.Duration,
		lessonID:    req.LessonID,
	}
	if r.duration <= 0 {
		r.duration = DefaultDuration
	}

	if req.LessonID != "" {
		lesson, err := w.cfg.Store.GetLesson(ctx, req.LessonID)
		if err != nil {
			return nil, fmt.Errorf("lesson %s: %w", req.LessonID, err)
		}
		if lesson.Topic != "" {
			r.topic = lesson.Topic
		} else if r.topic == "" {
			r.topic = lesson.Title
		}
		r.knowledge = &knowledge.Context{
			Topic:       r.topic,
			Explanation: lesson.Explanation,
			Sources:     lesson.Sources,
		}
		if r.description == "" {
			r.description = phaseDescription(lesson, req.LessonPhase)
		}
		if r.description == "" {
			r.description = "Interactive activity for " + r.topic
		}
	}

	student, err := w.cfg.Store.GetStudent(ctx, req.StudentID)
	if err != nil {
		return nil, fmt.Errorf("student %s: %w", req.StudentID, err)
	}
	r.student = student

	if r.knowledge == nil && w.cfg.Knowledge != nil {
		subject := student.Subject
		if subject == "" {
			subject = "General"
		}
		kc, err := w.cfg.Knowledge.Research(ctx, knowledge.Subject{Topic: r.topic, Grade: student.Grade, Subject: subject})
		if err != nil {
			slog.Warn("topic research failed, continuing without sources", "topic", r.topic, "error", err)
		} else {
			r.knowledge = kc
		}
	}
	return r, nil
}

// phaseDescription returns the description of the named lesson phase, or
// of the first phase when name is empty.
func phaseDescription(l *api.Lesson, name string) string {
	for _, p := range l.Phases {
		if name == "" || strings.EqualFold(p.Name, name) {
			return p.Description
		}
	}
	return ""
}

func (w *Workflow) generate(ctx context.Context, r *request) (string, error) {
	resp, err := w.cfg.Generator.Complete(ctx, llm.Request{
		System:      generateSystemPrompt,
		Prompt:      buildGeneratePrompt(r),
		Temperature: 0.3,
		MaxTokens:   6000,
		Purpose:     llm.PurposeGenerate,
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrGeneration, err)
	}
	code := repair.ExtractCode(resp.Text)
	if code == "" {
		return "", fmt.Errorf("%w: generator returned no code", ErrGeneration)
	}
	debug.Log("deploy", "initial code generated", "topic", r.topic, "bytes", len(code))
	return code, nil
}

func (w *Workflow) evaluate(ctx context.Context, r *request, res *deploy.Result) *api.Evaluation {
	eval, err := w.cfg.Evaluator.Evaluate(ctx, evaluate.Input{
		Topic:            r.topic,
		Description:      r.description,
		Code:             res.FinalCode,
		Language:         api.LanguageJavaScript,
		DeploymentStatus: string(res.Status),
		Student:          r.student,
	})
	if err != nil {
		slog.Warn("evaluation failed, using fallback", "topic", r.topic, "error", err)
		return evaluate.Fallback()
	}
	return eval
}

// recordMetric stores the outcome of a creation. Failures are logged only.
func (w *Workflow) recordMetric(ctx context.Context, activityID string, eval *api.Evaluation) {
	errorCount := 0
	if eval.OverallScore < 7 {
		errorCount = 1
	}
	m := &api.PerformanceMetric{
		ID:               api.NewID(),
		AgentType:        AgentType,
		AgentID:          activityID,
		SessionID:        activityID,
		SuccessRate:      eval.OverallScore / 10,
		ConfidenceScores: []float64{eval.Confidence},
		ErrorCount:       errorCount,
		Evaluation:       eval,
		CreatedAt:        w.nowFn(),
	}
	if err := w.cfg.Store.SavePerformanceMetric(ctx, m); err != nil {
		slog.Warn("saving performance metric failed", "activity_id", activityID, "error", err)
	}
}

// release tears down a sandbox left live by an earlier run. Errors are
// logged; a stale sandbox expires through its auto-delete interval.
func (w *Workflow) release(ctx context.Context, sandboxID string) {
	if sandboxID == "" {
		return
	}
	tctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	if err := w.cfg.Releaser.Teardown(tctx, &sandbox.Handle{SandboxID: sandboxID}); err != nil {
		slog.Warn("releasing previous sandbox failed", "sandbox_id", sandboxID, "error", err)
	}
}

func deploymentOf(res *deploy.Result) api.Deployment {
	d := api.Deployment{
		Status:       string(res.Status),
		AttemptsUsed: res.AttemptsUsed,
		SandboxID:    res.SandboxID,
		PreviewURL:   res.PreviewAddress,
		Diagnostic:   res.Diagnostic,
		Attempts:     make([]api.AttemptSummary, 0, len(res.Attempts)),
	}
	for _, a := range res.Attempts {
		category := string(a.Category)
		if a.Outcome == deploy.OutcomeSucceeded {
			category = ""
		}
		d.Attempts = append(d.Attempts, api.AttemptSummary{
			Number:       a.Number,
			Outcome:      string(a.Outcome),
			Category:     category,
			ErrorExcerpt: a.ErrorExcerpt,
		})
	}
	return d
}
