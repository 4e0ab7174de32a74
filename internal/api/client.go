package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrStopWatching ends Watch without an error when returned by its callback.
var ErrStopWatching = errors.New("stop watching")

// HTTPError is returned for non-2xx responses.
type HTTPError struct {
	Status  int
	Message string
}

func (e *HTTPError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api returned %d", e.Status)
	}
	return fmt.Sprintf("api returned %d: %s", e.Status, e.Message)
}

// IsNotFound reports whether err is a 404 from the daemon.
func IsNotFound(err error) bool {
	var httpErr *HTTPError
	return errors.As(err, &httpErr) && httpErr.Status == http.StatusNotFound
}

// Client talks to the daemon HTTP API.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	stream  *http.Client
}

// NewClient builds a client for baseURL. token may be empty.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		token:   strings.TrimSpace(token),
		http:    &http.Client{Timeout: 30 * time.Second},
		stream:  &http.Client{},
	}
}

// ListJobs returns the live jobs.
func (c *Client) ListJobs(ctx context.Context) ([]Job, error) {
	var resp JobListResponse
	if err := c.do(ctx, http.MethodGet, "/api/jobs", nil, "", &resp); err != nil {
		return nil, err
	}
	return resp.Jobs, nil
}

// Job returns one live job.
func (c *Client) Job(ctx context.Context, id string) (Job, error) {
	var resp JobResponse
	if err := c.do(ctx, http.MethodGet, "/api/jobs/"+url.PathEscape(id), nil, "", &resp); err != nil {
		return Job{}, err
	}
	return resp.Job, nil
}

// ArtifactStatus reads the durable status mirror of an artifact.
func (c *Client) ArtifactStatus(ctx context.Context, artifactID string) (ArtifactStatusResponse, error) {
	var resp ArtifactStatusResponse
	err := c.do(ctx, http.MethodGet, "/api/artifacts/"+url.PathEscape(artifactID)+"/status", nil, "", &resp)
	return resp, err
}

// Artifact downloads the content of a stored artifact, such as a transcript
// named by a job's result artifact id.
func (c *Client) Artifact(ctx context.Context, artifactID string) ([]byte, error) {
	path := "/api/artifacts/" + url.PathEscape(artifactID)
	req, err := c.newRequest(ctx, http.MethodGet, path, nil, "")
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, decodeError(resp)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read artifact: %w", err)
	}
	return data, nil
}

// StartDownload submits a download job.
func (c *Client) StartDownload(ctx context.Context, req DownloadJobRequest) (Job, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return Job{}, err
	}
	var resp JobResponse
	if err := c.do(ctx, http.MethodPost, "/api/jobs/download", bytes.NewReader(body), "application/json", &resp); err != nil {
		return Job{}, err
	}
	return resp.Job, nil
}

// StartTranscription submits a transcription job for an existing artifact.
func (c *Client) StartTranscription(ctx context.Context, req TranscribeJobRequest) (Job, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return Job{}, err
	}
	var resp JobResponse
	if err := c.do(ctx, http.MethodPost, "/api/jobs/transcribe", bytes.NewReader(body), "application/json", &resp); err != nil {
		return Job{}, err
	}
	return resp.Job, nil
}

// UploadForTranscription uploads audio and transcribes it.
func (c *Client) UploadForTranscription(ctx context.Context, filename string, data io.Reader, profile string) (Job, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return Job{}, fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, data); err != nil {
		return Job{}, fmt.Errorf("copy upload: %w", err)
	}
	if profile != "" {
		if err := writer.WriteField("qualityProfile", profile); err != nil {
			return Job{}, fmt.Errorf("write profile field: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return Job{}, fmt.Errorf("close multipart writer: %w", err)
	}
	var resp JobResponse
	if err := c.do(ctx, http.MethodPost, "/api/jobs/transcribe", &buf, writer.FormDataContentType(), &resp); err != nil {
		return Job{}, err
	}
	return resp.Job, nil
}

// Watch follows the event stream for jobID, or every job when jobID is
// empty, calling fn for each update until ctx ends or fn returns an error.
func (c *Client) Watch(ctx context.Context, jobID string, fn func(Job) error) error {
	path := "/api/events"
	if jobID != "" {
		path = "/api/jobs/" + url.PathEscape(jobID) + "/events"
	}
	req, err := c.newRequest(ctx, http.MethodGet, path, nil, "")
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	resp, err := c.stream.Do(req)
	if err != nil {
		return fmt.Errorf("open event stream: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}

	err = readEvents(resp.Body, func(event string, data []byte) error {
		if event != EventJob {
			return nil
		}
		var job Job
		if err := json.Unmarshal(data, &job); err != nil {
			return fmt.Errorf("decode event: %w", err)
		}
		return fn(job)
	})
	switch {
	case errors.Is(err, ErrStopWatching):
		return nil
	case ctx.Err() != nil:
		return nil
	default:
		return err
	}
}

// readEvents parses a server-sent event stream. Comment lines are skipped.
func readEvents(r io.Reader, fn func(event string, data []byte) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	var event string
	var data bytes.Buffer
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if data.Len() > 0 {
				if err := fn(event, data.Bytes()); err != nil {
					return err
				}
			}
			event = ""
			data.Reset()
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read event stream: %w", err)
	}
	return io.ErrUnexpectedEOF
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader, contentType string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string, out any) error {
	req, err := c.newRequest(ctx, method, path, body, contentType)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var payload ErrorResponse
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error != "" {
		return &HTTPError{Status: resp.StatusCode, Message: payload.Error}
	}
	return &HTTPError{Status: resp.StatusCode, Message: strings.TrimSpace(string(body))}
}
