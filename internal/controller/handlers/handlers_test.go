package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"time"

	"jobrunner/internal/coordinator"
	"jobrunner/internal/job"
	"jobrunner/internal/logger"
)

// mockService implements JobService and Pinger.
type mockService struct {
	submitResp *coordinator.Submission
	submitErr  error
	getResp    *job.Job
	getErr     error
	listResp   []*job.Job
	listErr    error
	stopErr    error
	depsResp   *job.Node
	depsErr    error
	available  []string
	pingErr    error

	// Spies (to verify arguments passed by handlers)
	capturedDef    job.Definition
	capturedStopID int64
	stopCalls      int
}

func (m *mockService) Submit(ctx context.Context, def job.Definition) (*coordinator.Submission, error) {
	m.capturedDef = def
	return m.submitResp, m.submitErr
}

func (m *mockService) Get(ctx context.Context, id int64) (*job.Job, error) {
	return m.getResp, m.getErr
}

func (m *mockService) List(ctx context.Context) ([]*job.Job, error) {
	return m.listResp, m.listErr
}

func (m *mockService) Stop(ctx context.Context, id int64) error {
	m.capturedStopID = id
	m.stopCalls++
	return m.stopErr
}

func (m *mockService) Dependencies(ctx context.Context, id int64) (*job.Node, error) {
	return m.depsResp, m.depsErr
}

func (m *mockService) Available() []string {
	return m.available
}

func (m *mockService) Ping(ctx context.Context) error {
	return m.pingErr
}

func newTestHandlers(m *mockService) *Handlers {
	return New(m, m, logger.Discard())
}

// serve routes req through a mux so path values are populated.
func serve(pattern string, handler http.HandlerFunc, req *http.Request) *httptest.ResponseRecorder {
	mux := http.NewServeMux()
	mux.HandleFunc(pattern, handler)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	return rr
}

func sampleJob(id int64, state job.State) *job.Job {
	return &job.Job{
		ID:            id,
		Name:          "sleep",
		Arguments:     job.Arguments{"duration": "1s"},
		ArgumentsHash: "abc",
		State:         state,
		CreatedAt:     time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}
