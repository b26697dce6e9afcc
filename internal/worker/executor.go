package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/zulandar/relay/internal/dispatch"
)

// executorResponse is the agent endpoint's reply for one round. Status is
// completed, interrupted, or failed; exactly one of Result, Interrupt, and
// Error carries the payload for that status.
type executorResponse struct {
	Status    string          `json:"status"`
	Result    json.RawMessage `json:"result,omitempty"`
	Interrupt json.RawMessage `json:"interrupt,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// HTTPExecutor runs agent rounds by POSTing jobs to an external agent
// endpoint. The orchestration core never looks inside the agent; it only
// interprets the three-way status of the reply.
type HTTPExecutor struct {
	url    string
	client *http.Client
}

// NewHTTPExecutor creates an executor for the given endpoint URL. timeout
// bounds one full agent round, which dominates any orchestration latency.
func NewHTTPExecutor(url string, timeout time.Duration) *HTTPExecutor {
	return &HTTPExecutor{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

// Execute POSTs the job and maps the reply onto a dispatch.Result.
func (e *HTTPExecutor) Execute(ctx context.Context, job dispatch.Job) (dispatch.Result, error) {
	body, err := json.Marshal(job)
	if err != nil {
		return dispatch.Result{}, fmt.Errorf("worker: encode job %s: %w", job.TaskID, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(body))
	if err != nil {
		return dispatch.Result{}, fmt.Errorf("worker: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return dispatch.Result{}, fmt.Errorf("worker: call executor: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return dispatch.Result{}, fmt.Errorf("worker: read executor response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return dispatch.Result{}, fmt.Errorf("worker: executor returned %d: %s", resp.StatusCode, truncate(data, 256))
	}

	var er executorResponse
	if err := json.Unmarshal(data, &er); err != nil {
		return dispatch.Result{}, fmt.Errorf("worker: decode executor response: %w", err)
	}

	switch er.Status {
	case "completed":
		return dispatch.Result{Response: er.Result}, nil
	case "interrupted":
		if er.Interrupt == nil {
			return dispatch.Result{}, fmt.Errorf("worker: interrupted reply without checkpoint")
		}
		return dispatch.Result{Interrupt: er.Interrupt}, nil
	case "failed":
		return dispatch.Result{}, fmt.Errorf("worker: executor reported failure: %s", er.Error)
	default:
		return dispatch.Result{}, fmt.Errorf("worker: unknown executor status %q", er.Status)
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
