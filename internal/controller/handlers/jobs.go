package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"jobrunner/internal/job"
	"jobrunner/pkg/api"

	"github.com/go-playground/validator/v10"
)

const maxBodyBytes = 1 << 20

// SubmitJob handles POST /jobs.
func (h *Handlers) SubmitJob(w http.ResponseWriter, r *http.Request) {
	var req api.SubmitJobRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.httpError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := req.Validate(); err != nil {
		h.httpError(w, validationMessage(err), http.StatusBadRequest)
		return
	}

	sub, err := h.jobs.Submit(r.Context(), toDefinition(req))
	if err != nil {
		h.serviceError(w, r, err)
		return
	}

	h.respondJson(w, http.StatusOK, api.SubmitJobResponse{
		Job:         toJobResponse(sub.Job),
		Description: string(sub.Description()),
	})
}

// ListJobs handles GET /jobs, newest first.
func (h *Handlers) ListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.jobs.List(r.Context())
	if err != nil {
		h.serviceError(w, r, err)
		return
	}

	resp := make([]api.JobResponse, 0, len(jobs))
	for _, j := range jobs {
		resp = append(resp, toJobResponse(j))
	}
	h.respondJson(w, http.StatusOK, resp)
}

// GetJob handles GET /jobs/{id}.
func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		h.httpError(w, "Invalid job id", http.StatusBadRequest)
		return
	}

	j, err := h.jobs.Get(r.Context(), id)
	if err != nil {
		h.serviceError(w, r, err)
		return
	}
	h.respondJson(w, http.StatusOK, toJobResponse(j))
}

// UpdateJob handles PATCH /jobs/{id}. The only supported update is a stop
// request.
func (h *Handlers) UpdateJob(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		h.httpError(w, "Invalid job id", http.StatusBadRequest)
		return
	}

	var req api.UpdateJobRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.httpError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := req.Validate(); err != nil {
		h.httpError(w, "stop is required", http.StatusBadRequest)
		return
	}

	if *req.Stop {
		if err := h.jobs.Stop(r.Context(), id); err != nil {
			h.serviceError(w, r, err)
			return
		}
	} else if _, err := h.jobs.Get(r.Context(), id); err != nil {
		h.serviceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetDependencies handles GET /jobs/{id}/dependencies.
func (h *Handlers) GetDependencies(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		h.httpError(w, "Invalid job id", http.StatusBadRequest)
		return
	}

	node, err := h.jobs.Dependencies(r.Context(), id)
	if err != nil {
		h.serviceError(w, r, err)
		return
	}
	if node == nil {
		h.httpError(w, "Job not found", http.StatusNotFound)
		return
	}
	h.respondJson(w, http.StatusOK, toNodeResponse(node))
}

// ListAvailable handles GET /jobs/available.
func (h *Handlers) ListAvailable(w http.ResponseWriter, r *http.Request) {
	names := h.jobs.Available()
	resp := make([]api.ProcessorResponse, 0, len(names))
	for _, n := range names {
		resp = append(resp, api.ProcessorResponse{Name: n})
	}
	h.respondJson(w, http.StatusOK, resp)
}

// decodeBody keeps numbers as json.Number so argument hashes see the
// literal the client sent.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.UseNumber()
	return dec.Decode(dst)
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "Invalid request body"
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := fe.Namespace()
		if i := strings.IndexByte(field, '.'); i >= 0 {
			field = field[i+1:]
		}
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("%s is required", field))
		case "max":
			msgs = append(msgs, fmt.Sprintf("%s must be at most %s characters", field, fe.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s is invalid", field))
		}
	}
	return strings.Join(msgs, "; ")
}

func toDefinition(req api.SubmitJobRequest) job.Definition {
	def := job.Definition{Name: req.Name}
	if len(req.Arguments) > 0 {
		def.Arguments = job.Arguments(req.Arguments)
	}
	for _, child := range req.Jobs {
		def.Jobs = append(def.Jobs, toDefinition(child))
	}
	return def
}

func toJobResponse(j *job.Job) api.JobResponse {
	return api.JobResponse{
		ID:            j.ID,
		Name:          j.Name,
		Arguments:     j.Arguments,
		ArgumentsHash: j.ArgumentsHash,
		State:         string(j.State),
		CreatedAt:     j.CreatedAt,
		UpdatedAt:     j.UpdatedAt,
		StartedAt:     j.StartedAt,
		CompletedAt:   j.CompletedAt,
		DurationMs:    j.DurationMs,
		RetryCount:    j.RetryCount,
		RetryLimit:    j.RetryLimit,
		ParentJobID:   j.ParentJobID,
		Error:         j.Error,
	}
}

func toNodeResponse(n *job.Node) api.JobNodeResponse {
	resp := api.JobNodeResponse{
		Job:      toJobResponse(n.Job),
		Children: make([]api.JobNodeResponse, 0, len(n.Children)),
	}
	for _, c := range n.Children {
		resp.Children = append(resp.Children, toNodeResponse(c))
	}
	return resp
}
