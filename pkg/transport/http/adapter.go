package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/itsbakr/weave-tutor/pkg/api"
	"github.com/itsbakr/weave-tutor/pkg/observability"
	"github.com/itsbakr/weave-tutor/pkg/transport"
)

// Adapter serves the activity API over HTTP.
type Adapter struct {
	svc      transport.ActivityService
	handler  transport.Handler
	inflight *transport.InFlightRegistry
	mux      *http.ServeMux
	config   Config
}

// Config holds configuration for the HTTP adapter.
type Config struct {
	MaxBodySize int64
	Validation  api.ValidationConfig

	// OperationTimeout bounds a single create, redeploy or chat call.
	// Zero means no limit beyond the client connection.
	OperationTimeout time.Duration

	// Ready reports whether dependencies are reachable. Nil means always ready.
	Ready func(ctx context.Context) error

	// DisableMetrics removes the /metrics endpoint.
	DisableMetrics bool
}

// DefaultConfig returns the default adapter configuration.
func DefaultConfig() Config {
	return Config{
		MaxBodySize:      1 << 20,
		Validation:       api.DefaultValidationConfig(),
		OperationTimeout: 10 * time.Minute,
	}
}

// NewAdapter creates an HTTP adapter for svc. Middleware wraps every
// service operation in the given order.
func NewAdapter(svc transport.ActivityService, cfg Config, middlewares ...transport.Middleware) *Adapter {
	handler := transport.Direct
	if len(middlewares) > 0 {
		handler = transport.Chain(middlewares...)(handler)
	}

	a := &Adapter{
		svc:      svc,
		handler:  handler,
		inflight: transport.NewInFlightRegistry(),
		mux:      http.NewServeMux(),
		config:   cfg,
	}

	a.mux.HandleFunc("POST /api/v1/agents/activity", a.handleCreate)
	a.mux.HandleFunc("POST /api/v1/agents/activity/redeploy", a.handleRedeploy)
	a.mux.HandleFunc("POST /api/v1/activity/chat", a.handleChat)
	a.mux.HandleFunc("GET /api/v1/activity/chat/{id}", a.handleHistory)
	a.mux.HandleFunc("GET /api/v1/activities/{id}", a.handleGet)
	a.mux.HandleFunc("POST /api/v1/data/students", a.handleSaveStudent)
	a.mux.HandleFunc("GET /api/v1/data/students/{id}", a.handleGetStudent)
	a.mux.HandleFunc("POST /api/v1/data/lessons", a.handleSaveLesson)
	a.mux.HandleFunc("GET /healthz", handleHealth)
	a.mux.HandleFunc("GET /readyz", a.handleReady)
	if !cfg.DisableMetrics {
		a.mux.Handle("GET /metrics", promhttp.Handler())
	}

	return a
}

// Mount registers an additional handler, such as the MCP endpoint.
func (a *Adapter) Mount(pattern string, h http.Handler) {
	a.mux.Handle(pattern, h)
}

// InFlight exposes the registry of running mutating operations.
func (a *Adapter) InFlight() *transport.InFlightRegistry {
	return a.inflight
}

// Handler returns the http.Handler for this adapter. Outer middleware
// (authentication) is applied in order, between request ID propagation
// and the metrics middleware.
func (a *Adapter) Handler(outer ...func(http.Handler) http.Handler) http.Handler {
	var h http.Handler = observability.MetricsMiddleware(a.mux)
	for i := len(outer) - 1; i >= 0; i-- {
		h = outer[i](h)
	}
	return httpRequestIDMiddleware(h)
}

// httpRequestIDMiddleware takes X-Request-ID from the client or generates
// one, stores it in the context and echoes it in the response.
func httpRequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = api.NewID()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(transport.ContextWithRequestID(r.Context(), id)))
	})
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok\n"))
}

func (a *Adapter) handleReady(w http.ResponseWriter, r *http.Request) {
	if a.config.Ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		if err := a.config.Ready(ctx); err != nil {
			slog.Warn("readiness check failed", "error", err)
			http.Error(w, "not ready: "+err.Error(), http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ready\n"))
}

// handleCreate handles POST /api/v1/agents/activity.
func (a *Adapter) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req api.CreateActivityRequest
	if !a.decode(w, r, &req) {
		return
	}
	if apiErr := api.ValidateCreateActivity(&req, a.config.Validation); apiErr != nil {
		transport.WriteAPIError(w, apiErr)
		return
	}

	var res *api.ActivityResult
	a.run(w, r, "create_activity", "student:"+req.StudentID, func(ctx context.Context) (err error) {
		res, err = a.svc.Create(ctx, req)
		return err
	}, func() any { return res })
}

// handleRedeploy handles POST /api/v1/agents/activity/redeploy.
func (a *Adapter) handleRedeploy(w http.ResponseWriter, r *http.Request) {
	var req api.RedeployRequest
	if !a.decode(w, r, &req) {
		return
	}
	if apiErr := api.ValidateRedeploy(&req); apiErr != nil {
		transport.WriteAPIError(w, apiErr)
		return
	}

	var res *api.RedeployResult
	a.run(w, r, "redeploy_activity", "activity:"+req.ActivityID, func(ctx context.Context) (err error) {
		res, err = a.svc.Redeploy(ctx, req)
		return err
	}, func() any { return res })
}

// handleChat handles POST /api/v1/activity/chat.
func (a *Adapter) handleChat(w http.ResponseWriter, r *http.Request) {
	var req api.ChatRequest
	if !a.decode(w, r, &req) {
		return
	}
	if apiErr := api.ValidateChat(&req, a.config.Validation); apiErr != nil {
		transport.WriteAPIError(w, apiErr)
		return
	}

	var res *api.ChatResult
	a.run(w, r, "chat", "activity:"+req.ActivityID, func(ctx context.Context) (err error) {
		res, err = a.svc.Chat(ctx, req)
		return err
	}, func() any { return res })
}

// handleHistory handles GET /api/v1/activity/chat/{id}.
func (a *Adapter) handleHistory(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var res *api.ChatHistory
	err := a.handler.Handle(r.Context(), "chat_history", func(ctx context.Context) (err error) {
		res, err = a.svc.History(ctx, id)
		return err
	})
	if err != nil {
		transport.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleGet handles GET /api/v1/activities/{id}.
func (a *Adapter) handleGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var res *api.Activity
	err := a.handler.Handle(r.Context(), "get_activity", func(ctx context.Context) (err error) {
		res, err = a.svc.Get(ctx, id)
		return err
	})
	if err != nil {
		transport.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleSaveStudent handles POST /api/v1/data/students.
func (a *Adapter) handleSaveStudent(w http.ResponseWriter, r *http.Request) {
	var req api.Student
	if !a.decode(w, r, &req) {
		return
	}
	if apiErr := api.ValidateStudent(&req); apiErr != nil {
		transport.WriteAPIError(w, apiErr)
		return
	}
	var res *api.Student
	err := a.handler.Handle(r.Context(), "save_student", func(ctx context.Context) (err error) {
		res, err = a.svc.SaveStudent(ctx, req)
		return err
	})
	if err != nil {
		transport.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// handleGetStudent handles GET /api/v1/data/students/{id}.
func (a *Adapter) handleGetStudent(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var res *api.Student
	err := a.handler.Handle(r.Context(), "get_student", func(ctx context.Context) (err error) {
		res, err = a.svc.GetStudent(ctx, id)
		return err
	})
	if err != nil {
		transport.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleSaveLesson handles POST /api/v1/data/lessons.
func (a *Adapter) handleSaveLesson(w http.ResponseWriter, r *http.Request) {
	var req api.Lesson
	if !a.decode(w, r, &req) {
		return
	}
	if apiErr := api.ValidateLesson(&req); apiErr != nil {
		transport.WriteAPIError(w, apiErr)
		return
	}
	var res *api.Lesson
	err := a.handler.Handle(r.Context(), "save_lesson", func(ctx context.Context) (err error) {
		res, err = a.svc.SaveLesson(ctx, req)
		return err
	})
	if err != nil {
		transport.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// run executes a mutating operation while holding key in the in-flight
// registry. A second operation on the same key is rejected with 409.
func (a *Adapter) run(w http.ResponseWriter, r *http.Request, name, key string, op transport.Operation, result func() any) {
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	if a.config.OperationTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, a.config.OperationTimeout)
		defer cancel()
	}

	if !a.inflight.Begin(key, cancel) {
		transport.WriteAPIError(w, api.NewConflictError(fmt.Sprintf("another operation is already running for %s", key)))
		return
	}
	defer a.inflight.End(key)

	if err := a.handler.Handle(ctx, name, op); err != nil {
		transport.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result())
}

// decode reads a JSON body into v, writing an error response on failure.
func (a *Adapter) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if ct := r.Header.Get("Content-Type"); ct != "" && ct != "application/json" {
		transport.WriteErrorResponse(w,
			api.NewInvalidRequestError("content_type", "Content-Type must be application/json"),
			http.StatusUnsupportedMediaType,
		)
		return false
	}

	if a.config.MaxBodySize > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, a.config.MaxBodySize)
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			transport.WriteErrorResponse(w,
				api.NewInvalidRequestError("body", fmt.Sprintf("request body too large (max %d bytes)", a.config.MaxBodySize)),
				http.StatusRequestEntityTooLarge,
			)
			return false
		}
		transport.WriteErrorResponse(w,
			api.NewInvalidRequestError("body", "invalid JSON: "+err.Error()),
			http.StatusBadRequest,
		)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
