package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"flowtrack/internal/api"
	"flowtrack/internal/flowstate"
	"flowtrack/internal/metrics"
	"flowtrack/internal/notify"
	"flowtrack/internal/objectstore"
	"flowtrack/internal/pipeline"
	"flowtrack/internal/services"
	"flowtrack/internal/statusstore"
	"flowtrack/internal/workflow"
)

type memoryJobs struct {
	mu   sync.Mutex
	recs map[string]flowstate.Record
}

func (m *memoryJobs) put(rec flowstate.Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.recs == nil {
		m.recs = make(map[string]flowstate.Record)
	}
	m.recs[rec.JobID] = rec
}

func (m *memoryJobs) Current(id string) (flowstate.Record, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.recs[id]
	return rec, ok
}

func (m *memoryJobs) List() []flowstate.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]flowstate.Record, 0, len(m.recs))
	for _, rec := range m.recs {
		out = append(out, rec)
	}
	return out
}

type starterStub struct {
	mu        sync.Mutex
	err       error
	downloads []pipeline.DownloadRequest
	uploads   []pipeline.TranscriptionRequest
}

func (s *starterStub) StartDownload(_ context.Context, req pipeline.DownloadRequest) (flowstate.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.downloads = append(s.downloads, req)
	if s.err != nil {
		return flowstate.Record{}, s.err
	}
	return newTestRecord("dl-1", flowstate.KindDownload), nil
}

func (s *starterStub) StartTranscription(_ context.Context, req pipeline.TranscriptionRequest) (flowstate.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uploads = append(s.uploads, req)
	if s.err != nil {
		return flowstate.Record{}, s.err
	}
	return newTestRecord("tr-1", flowstate.KindTranscription), nil
}

func (s *starterStub) snapshot() ([]pipeline.DownloadRequest, []pipeline.TranscriptionRequest) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]pipeline.DownloadRequest(nil), s.downloads...), append([]pipeline.TranscriptionRequest(nil), s.uploads...)
}

type statusStub map[string]flowstate.Record

func (s statusStub) Fetch(_ context.Context, id string) (flowstate.Record, error) {
	rec, ok := s[id]
	if !ok {
		return flowstate.Record{}, &statusstore.Error{Kind: statusstore.ErrNotFound, Op: "fetch", ObjectID: id}
	}
	return rec, nil
}

type artifactStub map[string][]byte

func (a artifactStub) Download(_ context.Context, id string) ([]byte, error) {
	data, ok := a[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", objectstore.ErrObjectNotFound, id)
	}
	return data, nil
}

func newTestRecord(id string, kind flowstate.Kind) flowstate.Record {
	rec, _ := flowstate.NewRecord(id, kind, time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC))
	return rec
}

type apiFixture struct {
	srv     *apiServer
	ts      *httptest.Server
	jobs    *memoryJobs
	starter *starterStub
	hub     *notify.Hub
}

func newAPIFixture(t *testing.T, token string) *apiFixture {
	t.Helper()
	jobs := &memoryJobs{}
	starter := &starterStub{}
	hub := notify.NewHub()
	status := statusStub{"art-1": newTestRecord("art-1", flowstate.KindTranscription).WithState(flowstate.StateProcessing, "", time.Now())}
	artifacts := artifactStub{"transcript-1": []byte("hello from the transcript")}
	srv := newAPIServer("127.0.0.1:0", token, starter, jobs, status, artifacts, hub, metrics.New("flowtrack").Handler(), nil)
	srv.heartbeat = 20 * time.Millisecond
	ts := httptest.NewServer(srv.routes())
	t.Cleanup(func() {
		hub.Close()
		ts.Close()
	})
	return &apiFixture{srv: srv, ts: ts, jobs: jobs, starter: starter, hub: hub}
}

func (f *apiFixture) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(f.ts.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestAPIServerListsJobs(t *testing.T) {
	f := newAPIFixture(t, "")
	f.jobs.put(newTestRecord("job-1", flowstate.KindDownload))

	resp := f.get(t, "/api/jobs")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 OK, got %d", resp.StatusCode)
	}
	var body api.JobListResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(body.Jobs) != 1 || body.Jobs[0].ID != "job-1" || body.Jobs[0].State != "START" {
		t.Fatalf("unexpected jobs: %+v", body.Jobs)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Fatal("expected a request id header")
	}
}

func TestAPIServerServesArtifactContent(t *testing.T) {
	f := newAPIFixture(t, "")

	resp := f.get(t, "/api/artifacts/transcript-1")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 OK, got %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if string(body) != "hello from the transcript" {
		t.Fatalf("unexpected body %q", body)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Fatalf("unexpected content type %q", ct)
	}

	missing := f.get(t, "/api/artifacts/nope")
	if missing.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for missing artifact, got %d", missing.StatusCode)
	}
}

func TestAPIServerJobNotFound(t *testing.T) {
	f := newAPIFixture(t, "")
	for _, path := range []string{"/api/jobs/missing", "/api/jobs/missing/events", "/api/artifacts/missing/status"} {
		if resp := f.get(t, path); resp.StatusCode != http.StatusNotFound {
			t.Errorf("%s: expected 404, got %d", path, resp.StatusCode)
		}
	}
}

func TestAPIServerArtifactStatus(t *testing.T) {
	f := newAPIFixture(t, "")
	resp := f.get(t, "/api/artifacts/art-1/status")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body api.ArtifactStatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.ArtifactID != "art-1" || body.Job.State != "PROCESSING" {
		t.Fatalf("unexpected body: %+v", body)
	}
}

func TestAPIServerStartDownload(t *testing.T) {
	f := newAPIFixture(t, "")
	payload := `{"url":"https://example.com/watch?v=1","transcribe":true,"qualityProfile":"tiny"}`
	resp, err := http.Post(f.ts.URL+"/api/jobs/download", "application/json", strings.NewReader(payload))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}
	want := pipeline.DownloadRequest{URL: "https://example.com/watch?v=1", Transcribe: true, QualityProfile: "tiny"}
	downloads, _ := f.starter.snapshot()
	if len(downloads) != 1 || downloads[0] != want {
		t.Fatalf("unexpected requests: %+v", downloads)
	}
}

func TestAPIServerRejectsUnknownFields(t *testing.T) {
	f := newAPIFixture(t, "")
	resp, err := http.Post(f.ts.URL+"/api/jobs/download", "application/json", strings.NewReader(`{"link":"x"}`))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	if downloads, _ := f.starter.snapshot(); len(downloads) != 0 {
		t.Fatal("starter should not be called")
	}
}

func TestAPIServerUploadsForTranscription(t *testing.T) {
	f := newAPIFixture(t, "")
	job, err := api.NewClient(f.ts.URL, "").UploadForTranscription(context.Background(), "talk.mp3", bytes.NewReader([]byte("audio")), "base")
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if job.ID != "tr-1" {
		t.Fatalf("unexpected job %+v", job)
	}
	_, got := f.starter.snapshot()
	if len(got) != 1 || got[0].Filename != "talk.mp3" || string(got[0].Data) != "audio" || got[0].QualityProfile != "base" {
		t.Fatalf("unexpected requests: %+v", got)
	}

	if _, err := api.NewClient(f.ts.URL, "").StartTranscription(context.Background(), api.TranscribeJobRequest{ArtifactID: "art-1"}); err != nil {
		t.Fatalf("StartTranscription: %v", err)
	}
	if _, got = f.starter.snapshot(); len(got) != 2 || got[1].ArtifactID != "art-1" {
		t.Fatalf("unexpected requests: %+v", got)
	}
}

func TestAPIServerMapsStartErrors(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{services.Wrap(services.ErrValidation, "download", "validate request", "url is required", nil), http.StatusBadRequest},
		{services.Wrap(services.ErrNotFound, "transcription", "check artifact", "x", nil), http.StatusNotFound},
		{fmt.Errorf("begin: %w", workflow.ErrJobExists), http.StatusConflict},
		{pipeline.ErrShuttingDown, http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range tests {
		f := newAPIFixture(t, "")
		f.starter.err = tc.err
		_, err := api.NewClient(f.ts.URL, "").StartDownload(context.Background(), api.DownloadJobRequest{URL: "https://example.com/a"})
		var httpErr *api.HTTPError
		if !errors.As(err, &httpErr) || httpErr.Status != tc.want {
			t.Errorf("%v: expected %d, got %v", tc.err, tc.want, err)
		}
	}
}

func TestAPIServerRequiresToken(t *testing.T) {
	f := newAPIFixture(t, "secret")
	if resp := f.get(t, "/api/jobs"); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", resp.StatusCode)
	}
	if _, err := api.NewClient(f.ts.URL, "secret").ListJobs(context.Background()); err != nil {
		t.Fatalf("ListJobs with token: %v", err)
	}
	if resp := f.get(t, "/metrics"); resp.StatusCode != http.StatusOK {
		t.Fatalf("metrics should not require a token, got %d", resp.StatusCode)
	}
}

func TestAPIServerStreamsJobEvents(t *testing.T) {
	f := newAPIFixture(t, "")
	rec := newTestRecord("job-1", flowstate.KindDownload)
	f.jobs.put(rec)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	first := make(chan struct{})
	var states []string
	done := make(chan error, 1)
	go func() {
		done <- api.NewClient(f.ts.URL, "").Watch(ctx, "job-1", func(job api.Job) error {
			states = append(states, job.State)
			if len(states) == 1 {
				close(first)
				return nil
			}
			if job.State == string(flowstate.StateUploadComplete) {
				return api.ErrStopWatching
			}
			return nil
		})
	}()

	select {
	case <-first:
	case <-ctx.Done():
		t.Fatal("no initial event")
	}
	f.jobs.put(rec.WithState(flowstate.StateDownloading, "50.0%", time.Now()))
	f.hub.Publish("job-1")
	f.jobs.put(rec.WithState(flowstate.StateUploadComplete, "", time.Now()))
	f.hub.Publish("job-1")

	if err := <-done; err != nil {
		t.Fatalf("Watch: %v", err)
	}
	if states[0] != string(flowstate.StateStart) || states[len(states)-1] != string(flowstate.StateUploadComplete) {
		t.Fatalf("unexpected states %v", states)
	}
}

func TestAPIServerStreamEndsOnShutdown(t *testing.T) {
	f := newAPIFixture(t, "")
	resp := f.get(t, "/api/events")
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}
	close(f.srv.closing)
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		buf := make([]byte, 512)
		for {
			if _, err := resp.Body.Read(buf); err != nil {
				return
			}
		}
	}()
	select {
	case <-readDone:
	case <-time.After(2 * time.Second):
		t.Fatal("stream stayed open after shutdown")
	}
}
