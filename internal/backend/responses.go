package backend

import (
	"context"
	"errors"
	"fmt"
	"math"
)

// PingPath is the status endpoint polled while a job runs.
const PingPath = "ping"

// ErrMalformedResponse marks a 2xx body that lacks the fields the client relies on.
var ErrMalformedResponse = errors.New("malformed backend response")

// JobResponse is returned by the compute_* endpoints.
type JobResponse struct {
	// Error is a pointer so a missing field can be told apart from false.
	Error        *bool  `json:"error"`
	ErrorMessage string `json:"errorMessage,omitempty"`
}

// Validate checks that the backend reported an outcome.
func (r JobResponse) Validate() error {
	if r.Error == nil {
		return fmt.Errorf("%w: missing \"error\" field", ErrMalformedResponse)
	}
	return nil
}

// Succeeded reports whether the backend explicitly signalled success.
func (r JobResponse) Succeeded() bool {
	return r.Error != nil && !*r.Error
}

// PingResponse is returned by the ping endpoint.
type PingResponse struct {
	AlgorithmProcess *float64 `json:"algorithmProcess"`
}

// Validate checks that the progress value is present and finite.
func (r PingResponse) Validate() error {
	if r.AlgorithmProcess == nil {
		return fmt.Errorf("%w: missing \"algorithmProcess\" field", ErrMalformedResponse)
	}
	if math.IsNaN(*r.AlgorithmProcess) || math.IsInf(*r.AlgorithmProcess, 0) {
		return fmt.Errorf("%w: algorithmProcess is not finite", ErrMalformedResponse)
	}
	return nil
}

// Progress returns the reported value; call Validate first.
func (r PingResponse) Progress() float64 {
	if r.AlgorithmProcess == nil {
		return 0
	}
	return *r.AlgorithmProcess
}

// Trigger starts the job behind endpoint and blocks until the backend answers.
// A response with error=true is returned together with a non-nil error.
func (c *Client) Trigger(ctx context.Context, endpoint string) (JobResponse, error) {
	var resp JobResponse
	if err := c.GetJSON(ctx, endpoint, &resp); err != nil {
		return JobResponse{}, err
	}
	if err := resp.Validate(); err != nil {
		return resp, fmt.Errorf("%s: %w", endpoint, err)
	}
	if !resp.Succeeded() {
		return resp, &JobError{Endpoint: endpoint, Message: resp.ErrorMessage}
	}
	return resp, nil
}

// Ping reads the current algorithm progress.
func (c *Client) Ping(ctx context.Context) (PingResponse, error) {
	var resp PingResponse
	if err := c.GetJSON(ctx, PingPath, &resp); err != nil {
		return PingResponse{}, err
	}
	if err := resp.Validate(); err != nil {
		return resp, fmt.Errorf("%s: %w", PingPath, err)
	}
	return resp, nil
}

// JobError is a well-formed response in which the backend reported a failed computation.
type JobError struct {
	Endpoint string
	Message  string
}

func (e *JobError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("job %s failed", e.Endpoint)
	}
	return fmt.Sprintf("job %s failed: %s", e.Endpoint, e.Message)
}
