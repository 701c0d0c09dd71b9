package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"jobrunner/internal/coordinator"
	"jobrunner/internal/job"
	"jobrunner/pkg/api"
)

func TestSubmitJob(t *testing.T) {
	tests := []struct {
		name           string
		body           string
		mockSetup      func(*mockService)
		expectedStatus int
		expectedInBody string
	}{
		{
			name: "Created",
			body: `{"name":"sleep","arguments":{"duration":"1s"}}`,
			mockSetup: func(m *mockService) {
				m.submitResp = &coordinator.Submission{Job: sampleJob(1, job.StateReady), Created: true}
			},
			expectedStatus: http.StatusOK,
			expectedInBody: `"description":"CREATED"`,
		},
		{
			name: "Existing Running Job",
			body: `{"name":"sleep"}`,
			mockSetup: func(m *mockService) {
				m.submitResp = &coordinator.Submission{Job: sampleJob(1, job.StateRunning)}
			},
			expectedStatus: http.StatusOK,
			expectedInBody: `"description":"RUNNING"`,
		},
		{
			name:           "Invalid JSON",
			body:           `{invalid-json}`,
			expectedStatus: http.StatusBadRequest,
			expectedInBody: "Invalid request body",
		},
		{
			name:           "Missing Name",
			body:           `{"arguments":{"a":1}}`,
			expectedStatus: http.StatusBadRequest,
			expectedInBody: "Name is required",
		},
		{
			name:           "Missing Child Name",
			body:           `{"name":"sleep","jobs":[{"name":""}]}`,
			expectedStatus: http.StatusBadRequest,
			expectedInBody: "Jobs[0].Name is required",
		},
		{
			name: "Unknown Processor",
			body: `{"name":"nope"}`,
			mockSetup: func(m *mockService) {
				m.submitErr = job.UnknownProcessorsError([]string{"nope"})
			},
			expectedStatus: http.StatusBadRequest,
			expectedInBody: "Jobs: 'nope' not exist",
		},
		{
			name: "Duplicate Definitions",
			body: `{"name":"sleep","jobs":[{"name":"sleep"}]}`,
			mockSetup: func(m *mockService) {
				m.submitErr = job.ErrDuplicateDefinition
			},
			expectedStatus: http.StatusConflict,
			expectedInBody: "duplicate",
		},
		{
			name: "Store Failure Hides Detail",
			body: `{"name":"sleep"}`,
			mockSetup: func(m *mockService) {
				m.submitErr = errors.New("pq: connection refused")
			},
			expectedStatus: http.StatusInternalServerError,
			expectedInBody: "Internal server error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := &mockService{}
			if tt.mockSetup != nil {
				tt.mockSetup(mock)
			}
			h := newTestHandlers(mock)

			req := httptest.NewRequest(http.MethodPost, "/jobs", strings.NewReader(tt.body))
			rr := httptest.NewRecorder()
			h.SubmitJob(rr, req)

			if rr.Code != tt.expectedStatus {
				t.Errorf("handler returned wrong status code: got %v want %v", rr.Code, tt.expectedStatus)
			}
			if !strings.Contains(rr.Body.String(), tt.expectedInBody) {
				t.Errorf("handler returned unexpected body: got %v want substring %v", rr.Body.String(), tt.expectedInBody)
			}
			if strings.Contains(rr.Body.String(), "connection refused") {
				t.Error("internal error detail leaked to client")
			}
		})
	}
}

func TestSubmitJob_PassesDefinitionTree(t *testing.T) {
	mock := &mockService{submitResp: &coordinator.Submission{Job: sampleJob(1, job.StateReady), Created: true}}
	h := newTestHandlers(mock)

	body := `{"name":"empty","arguments":{"n":1.50},"jobs":[{"name":"sleep","arguments":{"duration":"2s"}},{"name":"empty","arguments":null}]}`
	req := httptest.NewRequest(http.MethodPost, "/jobs", strings.NewReader(body))
	rr := httptest.NewRecorder()
	h.SubmitJob(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("handler returned wrong status code: got %v want %v", rr.Code, http.StatusOK)
	}

	def := mock.capturedDef
	if def.Name != "empty" || len(def.Jobs) != 2 {
		t.Fatalf("unexpected definition: %+v", def)
	}
	if n, ok := def.Arguments["n"].(json.Number); !ok || n.String() != "1.50" {
		t.Errorf("expected number literal to be kept, got %#v", def.Arguments["n"])
	}
	if def.Jobs[0].Arguments.StringValue("duration") != "2s" {
		t.Errorf("unexpected child arguments: %v", def.Jobs[0].Arguments)
	}
	if def.Jobs[1].Arguments != nil {
		t.Errorf("expected nil arguments for null, got %v", def.Jobs[1].Arguments)
	}
}

func TestGetJob(t *testing.T) {
	tests := []struct {
		name           string
		id             string
		mockSetup      func(*mockService)
		expectedStatus int
		expectedInBody string
	}{
		{
			name:           "Success",
			id:             "7",
			mockSetup:      func(m *mockService) { m.getResp = sampleJob(7, job.StateCompleted) },
			expectedStatus: http.StatusOK,
			expectedInBody: `"state":"COMPLETED"`,
		},
		{
			name:           "Invalid ID",
			id:             "abc",
			expectedStatus: http.StatusBadRequest,
			expectedInBody: "Invalid job id",
		},
		{
			name:           "Not Found",
			id:             "8",
			mockSetup:      func(m *mockService) { m.getErr = fmt.Errorf("failed to get job 8: %w", job.ErrNotFound) },
			expectedStatus: http.StatusNotFound,
			expectedInBody: "Job not found",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := &mockService{}
			if tt.mockSetup != nil {
				tt.mockSetup(mock)
			}
			h := newTestHandlers(mock)

			req := httptest.NewRequest(http.MethodGet, "/jobs/"+tt.id, nil)
			rr := serve("GET /jobs/{id}", h.GetJob, req)

			if rr.Code != tt.expectedStatus {
				t.Errorf("handler returned wrong status code: got %v want %v", rr.Code, tt.expectedStatus)
			}
			if !strings.Contains(rr.Body.String(), tt.expectedInBody) {
				t.Errorf("handler returned unexpected body: got %v want substring %v", rr.Body.String(), tt.expectedInBody)
			}
		})
	}
}

func TestUpdateJob(t *testing.T) {
	tests := []struct {
		name           string
		id             string
		body           string
		mockSetup      func(*mockService)
		expectedStatus int
		expectedStops  int
	}{
		{
			name:           "Stop",
			id:             "3",
			body:           `{"stop":true}`,
			expectedStatus: http.StatusNoContent,
			expectedStops:  1,
		},
		{
			name:           "Stop Unknown Job",
			id:             "3",
			body:           `{"stop":true}`,
			mockSetup:      func(m *mockService) { m.stopErr = job.ErrNotFound },
			expectedStatus: http.StatusNotFound,
			expectedStops:  1,
		},
		{
			name:           "No Stop Requested",
			id:             "3",
			body:           `{"stop":false}`,
			mockSetup:      func(m *mockService) { m.getResp = sampleJob(3, job.StateRunning) },
			expectedStatus: http.StatusNoContent,
		},
		{
			name:           "Missing Stop Field",
			id:             "3",
			body:           `{}`,
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "Invalid ID",
			id:             "-1",
			body:           `{"stop":true}`,
			expectedStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := &mockService{}
			if tt.mockSetup != nil {
				tt.mockSetup(mock)
			}
			h := newTestHandlers(mock)

			req := httptest.NewRequest(http.MethodPatch, "/jobs/"+tt.id, strings.NewReader(tt.body))
			rr := serve("PATCH /jobs/{id}", h.UpdateJob, req)

			if rr.Code != tt.expectedStatus {
				t.Errorf("handler returned wrong status code: got %v want %v", rr.Code, tt.expectedStatus)
			}
			if mock.stopCalls != tt.expectedStops {
				t.Errorf("expected %d stop calls, got %d", tt.expectedStops, mock.stopCalls)
			}
			if tt.expectedStops > 0 && mock.capturedStopID != 3 {
				t.Errorf("expected stop for job 3, got %d", mock.capturedStopID)
			}
		})
	}
}

func TestGetDependencies(t *testing.T) {
	root := sampleJob(1, job.StateCompleted)
	child := sampleJob(2, job.StateRunning)
	parentID := int64(1)
	child.ParentJobID = &parentID

	mock := &mockService{depsResp: &job.Node{Job: root, Children: []*job.Node{{Job: child}}}}
	h := newTestHandlers(mock)

	req := httptest.NewRequest(http.MethodGet, "/jobs/2/dependencies", nil)
	rr := serve("GET /jobs/{id}/dependencies", h.GetDependencies, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("handler returned wrong status code: got %v want %v", rr.Code, http.StatusOK)
	}

	var resp api.JobNodeResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Job.ID != 1 || len(resp.Children) != 1 || resp.Children[0].Job.ID != 2 {
		t.Errorf("unexpected tree: %+v", resp)
	}
	if resp.Children[0].Children == nil {
		t.Error("leaf children should encode as an empty list")
	}
}

func TestGetDependencies_NotFound(t *testing.T) {
	mock := &mockService{depsErr: job.ErrNotFound}
	h := newTestHandlers(mock)

	req := httptest.NewRequest(http.MethodGet, "/jobs/9/dependencies", nil)
	rr := serve("GET /jobs/{id}/dependencies", h.GetDependencies, req)

	if rr.Code != http.StatusNotFound {
		t.Errorf("handler returned wrong status code: got %v want %v", rr.Code, http.StatusNotFound)
	}
}

func TestListJobs(t *testing.T) {
	mock := &mockService{listResp: []*job.Job{sampleJob(2, job.StateReady), sampleJob(1, job.StateFailed)}}
	h := newTestHandlers(mock)

	req := httptest.NewRequest(http.MethodGet, "/jobs", nil)
	rr := httptest.NewRecorder()
	h.ListJobs(rr, req)

	var resp []api.JobResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp) != 2 || resp[0].ID != 2 || resp[1].State != "FAILED" {
		t.Errorf("unexpected list: %+v", resp)
	}
}

func TestListJobs_EmptyIsArray(t *testing.T) {
	h := newTestHandlers(&mockService{})

	req := httptest.NewRequest(http.MethodGet, "/jobs", nil)
	rr := httptest.NewRecorder()
	h.ListJobs(rr, req)

	if strings.TrimSpace(rr.Body.String()) != "[]" {
		t.Errorf("expected empty array, got %s", rr.Body.String())
	}
}

func TestListAvailable(t *testing.T) {
	h := newTestHandlers(&mockService{available: []string{"empty", "sleep"}})

	req := httptest.NewRequest(http.MethodGet, "/jobs/available", nil)
	rr := httptest.NewRecorder()
	h.ListAvailable(rr, req)

	if strings.TrimSpace(rr.Body.String()) != `[{"name":"empty"},{"name":"sleep"}]` {
		t.Errorf("unexpected body: %s", rr.Body.String())
	}
}
