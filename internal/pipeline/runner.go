package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"flowtrack/internal/config"
	"flowtrack/internal/flowstate"
	"flowtrack/internal/logging"
	"flowtrack/internal/media"
	"flowtrack/internal/metrics"
	"flowtrack/internal/objectstore"
	"flowtrack/internal/services"
	"flowtrack/internal/textutil"
	"flowtrack/internal/workflow"
)

// ErrShuttingDown is returned when a job is submitted after Shutdown.
var ErrShuttingDown = errors.New("runner is shutting down")

const maxSegmentLen = 36

// Fetcher retrieves remote audio. media.Fetcher satisfies it.
type Fetcher interface {
	Fetch(ctx context.Context, url, destDir string, onProgress media.ProgressFunc) (string, error)
}

// Transcriber converts a local audio file into text. transcribe.Engine
// satisfies it.
type Transcriber interface {
	Run(ctx context.Context, path, profile string) (string, error)
}

// Dependencies bundles the collaborators a Runner drives.
type Dependencies struct {
	Config      *config.Config
	Tracker     *workflow.Tracker
	Store       objectstore.Store
	Fetcher     Fetcher
	Transcriber Transcriber
	Logger      *slog.Logger
	Metrics     *metrics.Recorder
}

// Runner launches jobs in the background.
type Runner struct {
	cfg         *config.Config
	tracker     *workflow.Tracker
	store       objectstore.Store
	fetcher     Fetcher
	transcriber Transcriber
	logger      *slog.Logger
	metrics     *metrics.Recorder

	baseCtx context.Context
	cancel  context.CancelFunc
	sem     chan struct{}
	wg      sync.WaitGroup

	mu       sync.Mutex
	closed   bool
	releases map[string]*time.Timer
}

// NewRunner validates deps and returns an idle runner.
func NewRunner(deps Dependencies) (*Runner, error) {
	switch {
	case deps.Config == nil:
		return nil, errors.New("pipeline: config required")
	case deps.Tracker == nil:
		return nil, errors.New("pipeline: tracker required")
	case deps.Store == nil:
		return nil, errors.New("pipeline: object store required")
	case deps.Fetcher == nil:
		return nil, errors.New("pipeline: fetcher required")
	case deps.Transcriber == nil:
		return nil, errors.New("pipeline: transcriber required")
	}
	limit := deps.Config.Workflow.MaxConcurrentJobs
	if limit <= 0 {
		limit = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		cfg:         deps.Config,
		tracker:     deps.Tracker,
		store:       deps.Store,
		fetcher:     deps.Fetcher,
		transcriber: deps.Transcriber,
		logger:      logging.NewComponentLogger(deps.Logger, "pipeline"),
		metrics:     deps.Metrics,
		baseCtx:     ctx,
		cancel:      cancel,
		sem:         make(chan struct{}, limit),
		releases:    make(map[string]*time.Timer),
	}, nil
}

// StartDownload registers a download job and runs it in the background. The
// returned record is the job's Start state.
func (r *Runner) StartDownload(ctx context.Context, req DownloadRequest) (flowstate.Record, error) {
	if err := req.validate(); err != nil {
		return flowstate.Record{}, err
	}
	kind := flowstate.KindDownload
	opts := []workflow.BeginOption{workflow.WithSourceURL(req.URL)}
	if req.Transcribe {
		kind = flowstate.KindTranscription
		opts = append(opts, workflow.WithQualityProfile(req.QualityProfile))
	}
	return r.launch(ctx, kind, opts, func(ctx context.Context, jobID string) {
		r.runDownload(ctx, jobID, req)
	})
}

// StartTranscription registers a transcription job and runs it in the
// background. An existing artifact becomes the job's primary artifact and
// its id the job id.
func (r *Runner) StartTranscription(ctx context.Context, req TranscriptionRequest) (flowstate.Record, error) {
	if err := req.validate(); err != nil {
		return flowstate.Record{}, err
	}
	opts := []workflow.BeginOption{
		workflow.WithFilename(req.Filename),
		workflow.WithQualityProfile(req.QualityProfile),
	}
	if id := strings.TrimSpace(req.ArtifactID); id != "" {
		exists, err := r.store.Exists(ctx, id)
		if err != nil {
			return flowstate.Record{}, services.Wrap(services.ErrTransient, "transcription", "check artifact", id, err)
		}
		if !exists {
			return flowstate.Record{}, services.Wrap(services.ErrNotFound, "transcription", "check artifact", id, nil)
		}
		opts = append(opts, workflow.WithPrimaryArtifact(id))
	}
	return r.launch(ctx, flowstate.KindTranscription, opts, func(ctx context.Context, jobID string) {
		r.runTranscription(ctx, jobID, req.Data)
	})
}

func (r *Runner) launch(ctx context.Context, kind flowstate.Kind, opts []workflow.BeginOption, run func(context.Context, string)) (flowstate.Record, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return flowstate.Record{}, ErrShuttingDown
	}
	r.wg.Add(1)
	r.mu.Unlock()

	rec, err := r.tracker.Begin(ctx, kind, opts...)
	if err != nil && !workflow.IsPersistFailure(err) {
		r.wg.Done()
		return flowstate.Record{}, err
	}
	jobID := rec.JobID
	r.cancelRelease(jobID)

	go func() {
		defer r.wg.Done()
		jobCtx := services.WithJobID(r.baseCtx, jobID)
		logger := logging.WithContext(jobCtx, r.logger)

		select {
		case r.sem <- struct{}{}:
		case <-jobCtx.Done():
			r.tracker.FailWith(context.WithoutCancel(jobCtx), jobID, flowstate.StateError, "operation cancelled", "queue")
			r.scheduleRelease(jobID, rec.CreatedAt)
			return
		}
		defer func() { <-r.sem }()

		started := time.Now()
		r.metrics.JobStarted(string(kind))
		logger.Info("job started",
			logging.String(logging.FieldEventType, "job_start"),
			logging.String("kind", string(kind)),
		)

		run(jobCtx, jobID)

		final, _ := r.tracker.Current(jobID)
		r.metrics.JobFinished(string(kind), string(final.State))
		logger.Info("job finished",
			logging.String(logging.FieldEventType, "job_finish"),
			logging.String(logging.FieldState, string(final.State)),
			logging.Duration("elapsed", time.Since(started)),
		)
		r.scheduleRelease(jobID, rec.CreatedAt)
	}()
	return rec, nil
}

// scheduleRelease drops the in-memory record of the run created at createdAt
// once the retention window has passed. A newer run under the same job id is
// never released by an older run's timer.
func (r *Runner) scheduleRelease(jobID string, createdAt time.Time) {
	retention := r.cfg.RetentionWindow()
	if retention <= 0 {
		r.tracker.ReleaseIf(jobID, createdAt)
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.releases[jobID]; ok {
		prev.Stop()
	}
	var timer *time.Timer
	timer = time.AfterFunc(retention, func() {
		r.mu.Lock()
		if r.releases[jobID] == timer {
			delete(r.releases, jobID)
		}
		r.mu.Unlock()
		r.tracker.ReleaseIf(jobID, createdAt)
	})
	r.releases[jobID] = timer
}

// cancelRelease stops a release still pending from an earlier run of jobID.
func (r *Runner) cancelRelease(jobID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if timer, ok := r.releases[jobID]; ok {
		timer.Stop()
		delete(r.releases, jobID)
	}
}

// Shutdown cancels running jobs and waits for them to record their final
// state, or for ctx to end.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.cancel()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("pipeline shutdown: %w", ctx.Err())
	}

	r.mu.Lock()
	for id, timer := range r.releases {
		timer.Stop()
		delete(r.releases, id)
	}
	r.mu.Unlock()
	return nil
}

// advance records a milestone. Lost durability is already logged by the
// tracker and does not stop the job.
func (r *Runner) advance(ctx context.Context, jobID string, state flowstate.State, comment string, opts ...workflow.AdvanceOption) error {
	_, err := r.tracker.Advance(ctx, jobID, state, comment, opts...)
	if err != nil && !workflow.IsPersistFailure(err) {
		return err
	}
	return nil
}

func (r *Runner) attach(ctx context.Context, jobID, artifactID string) error {
	_, err := r.tracker.AttachArtifact(ctx, jobID, artifactID)
	if err != nil && !workflow.IsPersistFailure(err) {
		return err
	}
	return nil
}

// jobWorkDir creates the per-job scratch directory.
func (r *Runner) jobWorkDir(jobID string) (string, error) {
	base := r.cfg.Paths.WorkDir
	if base != "" {
		if err := os.MkdirAll(base, 0o755); err != nil {
			return "", services.Wrap(services.ErrConfiguration, "pipeline", "prepare work dir", base, err)
		}
	}
	dir, err := os.MkdirTemp(base, "job-"+safeSegment(jobID)+"-")
	if err != nil {
		return "", services.Wrap(services.ErrTransient, "pipeline", "prepare work dir", base, err)
	}
	return dir, nil
}

func safeSegment(value string) string {
	return textutil.SanitizeToken(value, maxSegmentLen)
}
