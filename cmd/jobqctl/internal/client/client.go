// Package client is a thin HTTP client for the adminapi surface,
// used only by jobqctl.
package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client wraps the base admin API URL.
type Client struct {
	baseURL string
	http    *http.Client
}

// New returns a Client pointed at baseURL.
func New(baseURL string) *Client {
	return &Client{baseURL: baseURL, http: &http.Client{Timeout: 10 * time.Second}}
}

func (c *Client) do(method, path string, body any) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	out, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("jobqctl: %s %s: %s", method, path, string(out))
	}
	return out, nil
}

// EnqueueRequest mirrors adminapi's enqueueRequest wire shape.
type EnqueueRequest struct {
	Name           string         `json:"name"`
	Payload        any            `json:"payload,omitempty"`
	Priority       int            `json:"priority,omitempty"`
	Attempts       int            `json:"attempts,omitempty"`
	Retries        int            `json:"retries,omitempty"`
	TimeIntervalMs int64          `json:"timeIntervalMs,omitempty"`
	TTLMs          int64          `json:"ttlMs,omitempty"`
	OnlineOnly     bool           `json:"onlineOnly,omitempty"`
	TimeoutMs      int64          `json:"timeoutMs,omitempty"`
	MetaData       map[string]any `json:"metaData,omitempty"`
	WorkerName     string         `json:"workerName,omitempty"`
}

// Enqueue posts a new job and returns its assigned id.
func (c *Client) Enqueue(req EnqueueRequest) (string, error) {
	data, err := c.do(http.MethodPost, "/jobs", req)
	if err != nil {
		return "", err
	}
	var resp struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", err
	}
	return resp.ID, nil
}

// ListJobs returns the raw JSON body of GET /jobs for the caller to print.
func (c *Client) ListJobs() ([]byte, error) {
	return c.do(http.MethodGet, "/jobs", nil)
}

// Stats returns the raw JSON body of GET /stats.
func (c *Client) Stats() ([]byte, error) {
	return c.do(http.MethodGet, "/stats", nil)
}

// ListDLQ returns the raw JSON body of GET /dlq.
func (c *Client) ListDLQ() ([]byte, error) {
	return c.do(http.MethodGet, "/dlq", nil)
}

// RetryDLQ requeues a dead-lettered job by id.
func (c *Client) RetryDLQ(id string) ([]byte, error) {
	return c.do(http.MethodPost, "/dlq/"+id+"/retry", nil)
}

// PauseJob pauses dispatch of jobs named name.
func (c *Client) PauseJob(name string) ([]byte, error) {
	return c.do(http.MethodPost, "/jobs/"+name+"/pause", nil)
}

// ResumeJob resumes dispatch of jobs named name.
func (c *Client) ResumeJob(name string) ([]byte, error) {
	return c.do(http.MethodPost, "/jobs/"+name+"/resume", nil)
}
