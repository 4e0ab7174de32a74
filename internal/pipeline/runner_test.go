package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"flowtrack/internal/config"
	"flowtrack/internal/flowstate"
	"flowtrack/internal/media"
	"flowtrack/internal/notify"
	"flowtrack/internal/objectstore"
	"flowtrack/internal/services"
	"flowtrack/internal/statusstore"
	"flowtrack/internal/testsupport"
	"flowtrack/internal/workflow"
)

const transcriptText = "This is a long enough transcript produced by the fake engine for tests."

type fakeFetcher struct {
	t       *testing.T
	err     error
	block   chan struct{}
	updates []float64
}

func (f *fakeFetcher) Fetch(ctx context.Context, url, destDir string, onProgress media.ProgressFunc) (string, error) {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if f.err != nil {
		return "", f.err
	}
	for _, pct := range f.updates {
		onProgress(pct, "00:01")
	}
	path := filepath.Join(destDir, "Talk_[abc].mp3")
	testsupport.WriteFile(f.t, path, 128)
	return path, nil
}

type fakeTranscriber struct {
	mu       sync.Mutex
	err      error
	text     string
	profiles []string
	inputs   []string
}

func (f *fakeTranscriber) Run(_ context.Context, path, profile string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.profiles = append(f.profiles, profile)
	data, _ := os.ReadFile(path)
	f.inputs = append(f.inputs, string(data))
	if f.err != nil {
		return "", f.err
	}
	if f.text != "" {
		return f.text, nil
	}
	return transcriptText, nil
}

// retryTranscriber fails its first call and blocks later calls on gate.
type retryTranscriber struct {
	mu    sync.Mutex
	calls int
	gate  chan struct{}
}

func (f *retryTranscriber) Run(ctx context.Context, _, _ string) (string, error) {
	f.mu.Lock()
	f.calls++
	n := f.calls
	f.mu.Unlock()
	if n == 1 {
		return "", services.Wrap(services.ErrExternalTool, "transcribe", "whisper", "CUDA out of memory", nil)
	}
	select {
	case <-f.gate:
		return transcriptText, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

type harness struct {
	cfg     *config.Config
	store   objectstore.Store
	adapter *statusstore.Adapter
	tracker *workflow.Tracker
	runner  *Runner
}

func newHarness(t *testing.T, fetcher Fetcher, transcriber Transcriber, opts ...testsupport.ConfigOption) *harness {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	store := testsupport.MustOpenStore(t, cfg)
	adapter := statusstore.New(store)
	tracker := workflow.NewTracker(adapter, notify.NewHub())
	runner, err := NewRunner(Dependencies{
		Config:      cfg,
		Tracker:     tracker,
		Store:       store,
		Fetcher:     fetcher,
		Transcriber: transcriber,
	})
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = runner.Shutdown(ctx)
	})
	return &harness{cfg: cfg, store: store, adapter: adapter, tracker: tracker, runner: runner}
}

// waitForMirror polls the durable mirror, which is written just after the
// in-memory record changes.
func waitForMirror(t *testing.T, adapter *statusstore.Adapter, artifactID string, state flowstate.State) flowstate.Record {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	var last flowstate.Record
	for time.Now().Before(deadline) {
		rec, err := adapter.Fetch(context.Background(), artifactID)
		if err == nil {
			last = rec
			if rec.State == state {
				return rec
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("mirror for %s did not reach %s (last %s)", artifactID, state, last.State)
	return last
}

func TestDownloadJobStoresAudio(t *testing.T) {
	fetcher := &fakeFetcher{t: t, updates: []float64{25, 50, 100}}
	h := newHarness(t, fetcher, &fakeTranscriber{})

	rec, err := h.runner.StartDownload(context.Background(), DownloadRequest{URL: "https://example.com/watch?v=abc"})
	if err != nil {
		t.Fatalf("StartDownload: %v", err)
	}
	if rec.Kind != flowstate.KindDownload || rec.SourceURL == "" {
		t.Fatalf("unexpected record %+v", rec)
	}
	done := testsupport.WaitForState(t, h.tracker, rec.JobID, flowstate.StateUploadComplete, flowstate.StateDownloadFailed, flowstate.StateError)
	if done.State != flowstate.StateUploadComplete {
		t.Fatalf("expected UploadComplete, got %s (%s)", done.State, done.Comment)
	}
	if done.PrimaryArtifactID == "" {
		t.Fatal("expected primary artifact to be attached")
	}

	data, err := h.store.Download(context.Background(), done.PrimaryArtifactID)
	if err != nil || len(data) != 128 {
		t.Fatalf("stored audio mismatch: %d bytes, %v", len(data), err)
	}
	mirrored := waitForMirror(t, h.adapter, done.PrimaryArtifactID, flowstate.StateUploadComplete)
	if mirrored.JobID != rec.JobID {
		t.Fatalf("unexpected mirror %+v", mirrored)
	}
}

func TestDownloadFailureSettlesInDownloadFailed(t *testing.T) {
	fetcher := &fakeFetcher{t: t, err: services.Wrap(services.ErrExternalTool, "download", "yt-dlp", "", errors.New("Video unavailable"))}
	h := newHarness(t, fetcher, &fakeTranscriber{})

	rec, err := h.runner.StartDownload(context.Background(), DownloadRequest{URL: "https://example.com/gone"})
	if err != nil {
		t.Fatalf("StartDownload: %v", err)
	}
	done := testsupport.WaitForState(t, h.tracker, rec.JobID, flowstate.StateDownloadFailed, flowstate.StateError)
	if done.State != flowstate.StateDownloadFailed {
		t.Fatalf("expected DownloadFailed, got %s", done.State)
	}
	if !strings.HasPrefix(done.Comment, "downloadAudio: ") || !strings.Contains(done.Comment, "Video unavailable") {
		t.Fatalf("unexpected comment %q", done.Comment)
	}
}

func TestDownloadThenTranscribe(t *testing.T) {
	transcriber := &fakeTranscriber{}
	h := newHarness(t, &fakeFetcher{t: t}, transcriber)

	rec, err := h.runner.StartDownload(context.Background(), DownloadRequest{
		URL:            "https://example.com/watch?v=abc",
		Transcribe:     true,
		QualityProfile: "small.en",
	})
	if err != nil {
		t.Fatalf("StartDownload: %v", err)
	}
	if rec.Kind != flowstate.KindTranscription {
		t.Fatalf("chained job should be a transcription, got %s", rec.Kind)
	}
	done := testsupport.WaitForState(t, h.tracker, rec.JobID, flowstate.StateResultUploadComplete, flowstate.StateProcessingFailed, flowstate.StateError)
	if done.State != flowstate.StateResultUploadComplete {
		t.Fatalf("expected ResultUploadComplete, got %s (%s)", done.State, done.Comment)
	}
	transcript, err := h.store.Download(context.Background(), done.ResultArtifactID)
	if err != nil || string(transcript) != transcriptText {
		t.Fatalf("transcript mismatch: %q, %v", transcript, err)
	}
	if len(transcriber.profiles) != 1 || transcriber.profiles[0] != "small.en" {
		t.Fatalf("unexpected profiles %v", transcriber.profiles)
	}
}

func TestTranscribeUploadedBytes(t *testing.T) {
	transcriber := &fakeTranscriber{}
	h := newHarness(t, &fakeFetcher{t: t}, transcriber)

	rec, err := h.runner.StartTranscription(context.Background(), TranscriptionRequest{
		Filename: "interview.mp3",
		Data:     []byte("uploaded-audio"),
	})
	if err != nil {
		t.Fatalf("StartTranscription: %v", err)
	}
	done := testsupport.WaitForState(t, h.tracker, rec.JobID, flowstate.StateResultUploadComplete, flowstate.StateProcessingFailed, flowstate.StateError)
	if done.State != flowstate.StateResultUploadComplete {
		t.Fatalf("expected ResultUploadComplete, got %s (%s)", done.State, done.Comment)
	}
	if done.PrimaryArtifactID == "" || done.Filename != "interview.mp3" {
		t.Fatalf("unexpected record %+v", done)
	}
	if transcriber.inputs[0] != "uploaded-audio" {
		t.Fatalf("engine saw %q", transcriber.inputs[0])
	}
}

func TestTranscribeExistingArtifact(t *testing.T) {
	transcriber := &fakeTranscriber{}
	h := newHarness(t, &fakeFetcher{t: t}, transcriber)
	artifact := testsupport.MustUpload(t, h.store, h.cfg.Store.AudioFolder, "episode.mp3", []byte("stored-audio"))

	rec, err := h.runner.StartTranscription(context.Background(), TranscriptionRequest{ArtifactID: artifact})
	if err != nil {
		t.Fatalf("StartTranscription: %v", err)
	}
	if rec.JobID != artifact {
		t.Fatalf("job id %q should equal artifact id %q", rec.JobID, artifact)
	}
	done := testsupport.WaitForState(t, h.tracker, rec.JobID, flowstate.StateResultUploadComplete, flowstate.StateProcessingFailed, flowstate.StateError)
	if done.State != flowstate.StateResultUploadComplete {
		t.Fatalf("expected ResultUploadComplete, got %s (%s)", done.State, done.Comment)
	}
	if transcriber.inputs[0] != "stored-audio" {
		t.Fatalf("engine saw %q", transcriber.inputs[0])
	}
	mirrored := waitForMirror(t, h.adapter, artifact, flowstate.StateResultUploadComplete)
	if mirrored.ResultArtifactID != done.ResultArtifactID {
		t.Fatalf("mirror mismatch: %+v", mirrored)
	}
}

func TestInferenceFailureSettlesInProcessingFailed(t *testing.T) {
	transcriber := &fakeTranscriber{err: errors.New("CUDA out of memory")}
	h := newHarness(t, &fakeFetcher{t: t}, transcriber)
	artifact := testsupport.MustUpload(t, h.store, h.cfg.Store.AudioFolder, "episode.mp3", []byte("audio"))

	rec, err := h.runner.StartTranscription(context.Background(), TranscriptionRequest{ArtifactID: artifact})
	if err != nil {
		t.Fatalf("StartTranscription: %v", err)
	}
	done := testsupport.WaitForState(t, h.tracker, rec.JobID, flowstate.StateProcessingFailed, flowstate.StateError)
	if done.State != flowstate.StateProcessingFailed || !strings.Contains(done.Comment, "transcribe: CUDA out of memory") {
		t.Fatalf("unexpected record %+v", done)
	}
	if done.ResultArtifactID != "" {
		t.Fatalf("failed job must not carry a result artifact")
	}
}

func TestShortTranscriptIsAValidationError(t *testing.T) {
	transcriber := &fakeTranscriber{err: services.Wrap(services.ErrValidation, "transcribe", "validate transcript", "too short", nil)}
	h := newHarness(t, &fakeFetcher{t: t}, transcriber)
	artifact := testsupport.MustUpload(t, h.store, h.cfg.Store.AudioFolder, "episode.mp3", []byte("audio"))

	rec, _ := h.runner.StartTranscription(context.Background(), TranscriptionRequest{ArtifactID: artifact})
	done := testsupport.WaitForState(t, h.tracker, rec.JobID, flowstate.StateProcessingFailed, flowstate.StateError)
	if done.State != flowstate.StateError || !strings.Contains(done.Comment, "too short") {
		t.Fatalf("expected Error with transcript detail, got %s %q", done.State, done.Comment)
	}
}

func TestRequestValidation(t *testing.T) {
	h := newHarness(t, &fakeFetcher{t: t}, &fakeTranscriber{})
	ctx := context.Background()

	tests := []struct {
		name string
		run  func() error
		want error
	}{
		{"missing url", func() error { _, err := h.runner.StartDownload(ctx, DownloadRequest{}); return err }, services.ErrValidation},
		{"relative url", func() error { _, err := h.runner.StartDownload(ctx, DownloadRequest{URL: "watch?v=1"}); return err }, services.ErrValidation},
		{"bad profile", func() error {
			_, err := h.runner.StartDownload(ctx, DownloadRequest{URL: "https://example.com/a", Transcribe: true, QualityProfile: "huge"})
			return err
		}, services.ErrValidation},
		{"no input", func() error { _, err := h.runner.StartTranscription(ctx, TranscriptionRequest{}); return err }, services.ErrValidation},
		{"both inputs", func() error {
			_, err := h.runner.StartTranscription(ctx, TranscriptionRequest{ArtifactID: "x", Data: []byte("y")})
			return err
		}, services.ErrValidation},
		{"unknown artifact", func() error {
			_, err := h.runner.StartTranscription(ctx, TranscriptionRequest{ArtifactID: "00000000-0000-0000-0000-000000000000"})
			return err
		}, services.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.run(); !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
	if got := len(h.tracker.List()); got != 0 {
		t.Fatalf("rejected requests must not create jobs, found %d", got)
	}
}

func TestShutdownCancelsRunningJobs(t *testing.T) {
	fetcher := &fakeFetcher{t: t, block: make(chan struct{})}
	h := newHarness(t, fetcher, &fakeTranscriber{})

	rec, err := h.runner.StartDownload(context.Background(), DownloadRequest{URL: "https://example.com/slow"})
	if err != nil {
		t.Fatalf("StartDownload: %v", err)
	}
	testsupport.WaitForState(t, h.tracker, rec.JobID, flowstate.StateDownloadStarting)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.runner.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	cur, _ := h.tracker.Current(rec.JobID)
	if cur.State != flowstate.StateDownloadFailed || cur.Comment != "downloadAudio: operation cancelled" {
		t.Fatalf("unexpected record after shutdown %+v", cur)
	}
	if _, err := h.runner.StartDownload(context.Background(), DownloadRequest{URL: "https://example.com/a"}); !errors.Is(err, ErrShuttingDown) {
		t.Fatalf("expected ErrShuttingDown, got %v", err)
	}
}

func TestFinishedJobsAreReleased(t *testing.T) {
	h := newHarness(t, &fakeFetcher{t: t}, &fakeTranscriber{}, testsupport.WithRetention(0))

	rec, err := h.runner.StartDownload(context.Background(), DownloadRequest{URL: "https://example.com/a"})
	if err != nil {
		t.Fatalf("StartDownload: %v", err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := h.tracker.Current(rec.JobID); !ok {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("finished job was not released")
}

func TestRetryOutlivesEarlierRunRelease(t *testing.T) {
	transcriber := &retryTranscriber{gate: make(chan struct{})}
	h := newHarness(t, &fakeFetcher{t: t}, transcriber, testsupport.WithRetention(1))
	ctx := context.Background()
	artifact := testsupport.MustUpload(t, h.store, h.cfg.Store.AudioFolder, "episode.mp3", []byte("audio"))

	first, err := h.runner.StartTranscription(ctx, TranscriptionRequest{ArtifactID: artifact})
	if err != nil {
		t.Fatalf("StartTranscription: %v", err)
	}
	testsupport.WaitForState(t, h.tracker, first.JobID, flowstate.StateProcessingFailed)

	retry, err := h.runner.StartTranscription(ctx, TranscriptionRequest{ArtifactID: artifact})
	if err != nil {
		t.Fatalf("retry StartTranscription: %v", err)
	}
	if retry.JobID != first.JobID {
		t.Fatalf("expected retry under job %s, got %s", first.JobID, retry.JobID)
	}
	testsupport.WaitForState(t, h.tracker, retry.JobID, flowstate.StateProcessing)

	time.Sleep(1500 * time.Millisecond)
	cur, ok := h.tracker.Current(retry.JobID)
	if !ok || cur.State != flowstate.StateProcessing {
		t.Fatalf("running retry was released or moved: ok=%v state=%s", ok, cur.State)
	}

	close(transcriber.gate)
	testsupport.WaitForState(t, h.tracker, retry.JobID, flowstate.StateResultUploadComplete)
	waitForMirror(t, h.adapter, artifact, flowstate.StateResultUploadComplete)
}
