// Package handlers contains HTTP handlers for the controller API.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"jobrunner/internal/coordinator"
	"jobrunner/internal/job"
	"jobrunner/internal/logger"
	"jobrunner/pkg/api"
)

// JobService is the part of the coordinator the API exposes.
type JobService interface {
	Submit(ctx context.Context, def job.Definition) (*coordinator.Submission, error)
	Get(ctx context.Context, id int64) (*job.Job, error)
	List(ctx context.Context) ([]*job.Job, error)
	Stop(ctx context.Context, id int64) error
	Dependencies(ctx context.Context, id int64) (*job.Node, error)
	Available() []string
}

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handlers holds all HTTP handlers and their dependencies.
type Handlers struct {
	jobs   JobService
	store  Pinger
	logger *slog.Logger
}

func New(jobs JobService, store Pinger, log *slog.Logger) *Handlers {
	return &Handlers{jobs: jobs, store: store, logger: log}
}

// A helper function to write standard JSON responses.
func (h *Handlers) respondJson(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}

// A helper function to return consistent error messages.
func (h *Handlers) httpError(w http.ResponseWriter, message string, code int) {
	h.respondJson(w, code, api.ErrorResponse{
		Error: message,
		Code:  strconv.Itoa(code),
	})
}

// serviceError maps coordinator errors onto status codes. Anything
// unexpected is logged and reported without detail.
func (h *Handlers) serviceError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *job.ValidationError
	switch {
	case errors.As(err, &verr):
		h.httpError(w, verr.Message, http.StatusBadRequest)
	case errors.Is(err, job.ErrDuplicateDefinition):
		h.httpError(w, "Submission contains duplicate job definitions", http.StatusConflict)
	case errors.Is(err, job.ErrNotFound):
		h.httpError(w, "Job not found", http.StatusNotFound)
	default:
		logger.FromContext(r.Context(), h.logger).Error("request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Any("error", err),
		)
		h.httpError(w, "Internal server error", http.StatusInternalServerError)
	}
}

func pathID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
