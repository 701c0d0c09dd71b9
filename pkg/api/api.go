// Package api contains shared JSON request/response structs.
// This package is shared between the CLI and Controller.
package api

import (
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// SubmitJobRequest is the body of POST /jobs: a job and, optionally, the
// jobs that run after it completes.
type SubmitJobRequest struct {
	Name      string             `json:"name" yaml:"name" validate:"required,max=255"`
	Arguments map[string]any     `json:"arguments,omitempty" yaml:"arguments,omitempty"`
	Jobs      []SubmitJobRequest `json:"jobs,omitempty" yaml:"jobs,omitempty" validate:"dive"`
}

// Validate checks the request tree, children included.
func (r *SubmitJobRequest) Validate() error {
	return validate.Struct(r)
}

// SubmitJobResponse is returned by POST /jobs. Description is CREATED for a
// new job, RUNNING when an unfinished job was returned instead, and
// COMPLETED when a finished job with the same arguments already exists.
type SubmitJobResponse struct {
	Job         JobResponse `json:"job" yaml:"job"`
	Description string      `json:"description" yaml:"description"`
}

// UpdateJobRequest is the body of PATCH /jobs/{id}.
type UpdateJobRequest struct {
	Stop *bool `json:"stop" validate:"required"`
}

// Validate checks that the request asks for something.
func (r *UpdateJobRequest) Validate() error {
	return validate.Struct(r)
}

// JobResponse represents a job in API responses.
type JobResponse struct {
	ID            int64          `json:"id" yaml:"id"`
	Name          string         `json:"name" yaml:"name"`
	Arguments     map[string]any `json:"arguments,omitempty" yaml:"arguments,omitempty"`
	ArgumentsHash string         `json:"arguments_hash" yaml:"arguments_hash"`
	State         string         `json:"state" yaml:"state"`
	CreatedAt     time.Time      `json:"created_at" yaml:"created_at"`
	UpdatedAt     *time.Time     `json:"updated_at,omitempty" yaml:"updated_at,omitempty"`
	StartedAt     *time.Time     `json:"started_at,omitempty" yaml:"started_at,omitempty"`
	CompletedAt   *time.Time     `json:"completed_at,omitempty" yaml:"completed_at,omitempty"`
	DurationMs    *int64         `json:"duration_ms,omitempty" yaml:"duration_ms,omitempty"`
	RetryCount    int            `json:"retry_count" yaml:"retry_count"`
	RetryLimit    int            `json:"retry_limit" yaml:"retry_limit"`
	ParentJobID   *int64         `json:"parent_job_id,omitempty" yaml:"parent_job_id,omitempty"`
	Error         *string        `json:"error,omitempty" yaml:"error,omitempty"`
}

// JobNodeResponse is one node of GET /jobs/{id}/dependencies.
type JobNodeResponse struct {
	Job      JobResponse       `json:"job" yaml:"job"`
	Children []JobNodeResponse `json:"children" yaml:"children"`
}

// ProcessorResponse is an entry of GET /jobs/available.
type ProcessorResponse struct {
	Name string `json:"name" yaml:"name"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}
