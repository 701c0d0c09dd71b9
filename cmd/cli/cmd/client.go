package cmd

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"jobrunner/pkg/api"
)

// JobClient handles API calls to the jobrunner controller.
type JobClient struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

// NewJobClient creates a new client with the given base URL and token.
func NewJobClient(baseURL, token string) *JobClient {
	return &JobClient{
		BaseURL: baseURL,
		Token:   token,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// APIError represents an error response from the API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message)
}

// SubmitJob sends POST /jobs.
func (c *JobClient) SubmitJob(req api.SubmitJobRequest) (*api.SubmitJobResponse, error) {
	var result api.SubmitJobResponse
	if err := c.do(http.MethodPost, "/jobs", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ListJobs sends GET /jobs.
func (c *JobClient) ListJobs() ([]api.JobResponse, error) {
	var result []api.JobResponse
	if err := c.do(http.MethodGet, "/jobs", nil, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// GetJob sends GET /jobs/{id}.
func (c *JobClient) GetJob(id string) (*api.JobResponse, error) {
	var result api.JobResponse
	if err := c.do(http.MethodGet, "/jobs/"+id, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// StopJob sends PATCH /jobs/{id} with a stop request.
func (c *JobClient) StopJob(id string) error {
	stop := true
	return c.do(http.MethodPatch, "/jobs/"+id, api.UpdateJobRequest{Stop: &stop}, nil)
}

// GetDependencies sends GET /jobs/{id}/dependencies.
func (c *JobClient) GetDependencies(id string) (*api.JobNodeResponse, error) {
	var result api.JobNodeResponse
	if err := c.do(http.MethodGet, "/jobs/"+id+"/dependencies", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ListAvailable sends GET /jobs/available.
func (c *JobClient) ListAvailable() ([]api.ProcessorResponse, error) {
	var result []api.ProcessorResponse
	if err := c.do(http.MethodGet, "/jobs/available", nil, &result); err != nil {
		return nil, err
	}
	return result, nil
}

func (c *JobClient) do(method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(bodyBytes)
	}

	httpReq, err := http.NewRequest(method, c.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if c.Token != "" {
		httpReq.Header.Add("Authorization", fmt.Sprintf("Bearer %s", c.Token))
	}
	httpReq.Header.Add("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{StatusCode: resp.StatusCode, Message: errorMessage(respBody)}
	}

	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// errorMessage prefers the error field of an api.ErrorResponse body.
func errorMessage(body []byte) string {
	var errResp api.ErrorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error != "" {
		return errResp.Error
	}
	return string(bytes.TrimSpace(body))
}

func describeError(action string, err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return fmt.Sprintf("%s failed (%d): %s", action, apiErr.StatusCode, apiErr.Message)
	}
	return fmt.Sprintf("%s failed: %v", action, err)
}
