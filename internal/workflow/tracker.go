package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"flowtrack/internal/flowstate"
	"flowtrack/internal/logging"
	"flowtrack/internal/metrics"
	"flowtrack/internal/services"
	"flowtrack/internal/statusstore"
)

var (
	ErrUnknownJob     = errors.New("unknown job")
	ErrTerminal       = errors.New("job already reached a terminal state")
	ErrMissingResult  = errors.New("result artifact id required")
	ErrJobExists      = errors.New("job already tracked")
	ErrNotRestartable = errors.New("job is not in a retryable failure state")
	ErrArtifactBound  = errors.New("job already bound to a different artifact")
)

const defaultPersistTimeout = 15 * time.Second

// Persister mirrors records into durable storage. statusstore.Adapter
// satisfies it.
type Persister interface {
	Persist(ctx context.Context, objectID string, rec flowstate.Record) error
}

// Publisher announces that a job changed. notify.Hub satisfies it.
type Publisher interface {
	Publish(jobID string)
}

// PersistError reports that a transition was applied and published but could
// not be written to the durable store.
type PersistError struct {
	JobID      string
	ArtifactID string
	Err        error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("persist status for job %s (artifact %s): %v", e.JobID, e.ArtifactID, e.Err)
}

func (e *PersistError) Unwrap() error {
	return e.Err
}

// IsPersistFailure reports whether err only signals lost durability. The
// in-memory record and subscribers are already up to date in that case.
func IsPersistFailure(err error) bool {
	var perr *PersistError
	return errors.As(err, &perr)
}

type entry struct {
	mu  sync.Mutex
	rec atomic.Pointer[flowstate.Record]
}

func (e *entry) load() flowstate.Record {
	return *e.rec.Load()
}

func (e *entry) store(rec flowstate.Record) {
	e.rec.Store(&rec)
}

// Tracker owns the live status records for every job in the process.
type Tracker struct {
	mu   sync.RWMutex
	jobs map[string]*entry

	persister      Persister
	publisher      Publisher
	logger         *slog.Logger
	metrics        *metrics.Recorder
	now            func() time.Time
	persistTimeout time.Duration
}

// Option customizes a Tracker.
type Option func(*Tracker)

func WithLogger(logger *slog.Logger) Option {
	return func(t *Tracker) {
		if logger != nil {
			t.logger = logger
		}
	}
}

func WithMetrics(recorder *metrics.Recorder) Option {
	return func(t *Tracker) { t.metrics = recorder }
}

// WithClock overrides time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		if now != nil {
			t.now = now
		}
	}
}

// WithPersistTimeout bounds each durable write.
func WithPersistTimeout(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.persistTimeout = d
		}
	}
}

// NewTracker builds a tracker. persister and publisher may be nil.
func NewTracker(persister Persister, publisher Publisher, opts ...Option) *Tracker {
	t := &Tracker{
		jobs:           make(map[string]*entry),
		persister:      persister,
		publisher:      publisher,
		logger:         logging.NewNop(),
		now:            time.Now,
		persistTimeout: defaultPersistTimeout,
	}
	for _, opt := range opts {
		opt(t)
	}
	t.logger = logging.NewComponentLogger(t.logger, "workflow-tracker")
	return t
}

// BeginOption seeds fields of a new record.
type BeginOption func(*flowstate.Record)

// WithPrimaryArtifact binds the job to an existing artifact. The artifact id
// becomes the job id.
func WithPrimaryArtifact(id string) BeginOption {
	return func(r *flowstate.Record) { r.PrimaryArtifactID = strings.TrimSpace(id) }
}

func WithSourceURL(url string) BeginOption {
	return func(r *flowstate.Record) { r.SourceURL = strings.TrimSpace(url) }
}

func WithFilename(name string) BeginOption {
	return func(r *flowstate.Record) { r.Filename = strings.TrimSpace(name) }
}

func WithQualityProfile(profile string) BeginOption {
	return func(r *flowstate.Record) { r.QualityProfile = strings.TrimSpace(profile) }
}

// Begin allocates a record in the Start state. When the primary artifact is
// known the record is mirrored to it immediately; a mirror failure is
// returned as a *PersistError alongside the live record.
func (t *Tracker) Begin(ctx context.Context, kind flowstate.Kind, opts ...BeginOption) (flowstate.Record, error) {
	var seed flowstate.Record
	for _, opt := range opts {
		opt(&seed)
	}
	jobID := seed.PrimaryArtifactID
	if jobID == "" {
		jobID = uuid.NewString()
	}
	rec, err := flowstate.NewRecord(jobID, kind, t.now())
	if err != nil {
		return flowstate.Record{}, err
	}
	rec.PrimaryArtifactID = seed.PrimaryArtifactID
	rec.SourceURL = seed.SourceURL
	rec.Filename = seed.Filename
	rec.QualityProfile = seed.QualityProfile

	e := &entry{}
	e.store(rec)

	t.mu.Lock()
	if existing, ok := t.jobs[jobID]; ok && !existing.load().State.Terminal() {
		t.mu.Unlock()
		return existing.load(), fmt.Errorf("%w: %s", ErrJobExists, jobID)
	}
	e.mu.Lock()
	t.jobs[jobID] = e
	t.mu.Unlock()

	t.metrics.Transition(string(rec.State))
	persistErr := t.persist(ctx, rec)
	e.mu.Unlock()

	t.jobLogger(ctx, jobID).Info("job tracked",
		logging.String(logging.FieldEventType, "job_begin"),
		logging.String("kind", string(kind)),
		logging.Artifact(rec.PrimaryArtifactID),
	)
	t.publish(jobID)
	return rec, persistErr
}

// AdvanceOption adjusts a single transition.
type AdvanceOption func(*advanceOptions)

type advanceOptions struct {
	resultArtifactID string
}

// WithResultArtifact supplies the produced artifact id. Required when
// advancing to ResultUploadComplete and ignored otherwise.
func WithResultArtifact(id string) AdvanceOption {
	return func(o *advanceOptions) { o.resultArtifactID = strings.TrimSpace(id) }
}

// Advance moves jobID to state with comment. Terminal jobs are left untouched
// and ErrTerminal is returned. Moves backwards through the catalog are
// applied but logged as anomalous. A failed durable write is returned as a
// *PersistError after the record has been updated and published.
func (t *Tracker) Advance(ctx context.Context, jobID string, state flowstate.State, comment string, opts ...AdvanceOption) (flowstate.Record, error) {
	if !state.Valid() {
		return flowstate.Record{}, fmt.Errorf("advance %s: %w: %q", jobID, flowstate.ErrUnknownState, string(state))
	}
	var o advanceOptions
	for _, opt := range opts {
		opt(&o)
	}
	e, ok := t.lookup(jobID)
	if !ok {
		return flowstate.Record{}, fmt.Errorf("advance %s: %w", jobID, ErrUnknownJob)
	}
	logger := t.jobLogger(ctx, jobID)

	e.mu.Lock()
	cur := e.load()
	if cur.State.Terminal() {
		e.mu.Unlock()
		logging.WarnWithContext(logger, "transition after terminal state ignored", "transition_rejected",
			logging.String("current_state", string(cur.State)),
			logging.String("requested_state", string(state)),
			logging.String(logging.FieldErrorHint, "job steps kept running after the job finished"),
			logging.String(logging.FieldImpact, "status record left unchanged"),
		)
		return cur, fmt.Errorf("advance %s to %s: %w (%s)", jobID, state, ErrTerminal, cur.State)
	}
	if state == flowstate.StateResultUploadComplete && o.resultArtifactID == "" {
		e.mu.Unlock()
		return cur, fmt.Errorf("advance %s to %s: %w", jobID, state, ErrMissingResult)
	}
	if state != flowstate.StateError && state.Ordinal() < cur.State.Ordinal() {
		logger.Warn("backward state transition",
			logging.Alert("backward_transition"),
			logging.String(logging.FieldEventType, "transition_backward"),
			logging.String("current_state", string(cur.State)),
			logging.String("requested_state", string(state)),
		)
	}

	next := cur.WithState(state, comment, t.now())
	next.ResultArtifactID = ""
	if state == flowstate.StateResultUploadComplete {
		next.ResultArtifactID = o.resultArtifactID
	}
	e.store(next)
	t.metrics.Transition(string(state))
	persistErr := t.persist(ctx, next)
	e.mu.Unlock()

	if state != cur.State {
		logger.Debug("state advanced",
			logging.String(logging.FieldState, string(state)),
			logging.String("previous_state", string(cur.State)),
			logging.String("comment", next.Comment),
		)
	}
	t.publish(jobID)
	return next, persistErr
}

// Fail settles jobID in Error with the comment "<operation>: <detail>".
func (t *Tracker) Fail(ctx context.Context, jobID, detail, operation string) {
	t.FailWith(ctx, jobID, flowstate.StateError, detail, operation)
}

// FailWith settles jobID in the given failure state. Non-failure states are
// treated as Error. Jobs already in Error or ResultUploadComplete are left
// unchanged. Persistence is best-effort and FailWith never returns an error.
func (t *Tracker) FailWith(ctx context.Context, jobID string, state flowstate.State, detail, operation string) {
	if !state.Failure() {
		state = flowstate.StateError
	}
	logger := t.jobLogger(ctx, jobID)
	e, ok := t.lookup(jobID)
	if !ok {
		logger.Warn("failure reported for unknown job",
			logging.String(logging.FieldEventType, "fail_unknown_job"),
			logging.String("operation", operation),
			logging.String("detail", detail),
		)
		return
	}

	e.mu.Lock()
	cur := e.load()
	if cur.State == flowstate.StateError || cur.State == flowstate.StateResultUploadComplete {
		e.mu.Unlock()
		logger.Debug("failure ignored for settled job",
			logging.String("current_state", string(cur.State)),
			logging.String("operation", operation),
		)
		return
	}
	next := cur.WithState(state, failureComment(operation, detail), t.now())
	next.ResultArtifactID = ""
	e.store(next)
	t.metrics.Transition(string(state))
	persistErr := t.persist(ctx, next)
	e.mu.Unlock()

	attrs := []logging.Attr{
		logging.String(logging.FieldEventType, "job_failed"),
		logging.String(logging.FieldState, string(state)),
		logging.String("operation", operation),
		logging.String("detail", detail),
	}
	if persistErr != nil {
		attrs = append(attrs, logging.Bool("persisted", false))
	}
	logging.ErrorWithContext(logger, "job failed", "job_failed", attrs...)
	t.publish(jobID)
}

// Current returns a snapshot of jobID's record.
func (t *Tracker) Current(jobID string) (flowstate.Record, bool) {
	e, ok := t.lookup(jobID)
	if !ok {
		return flowstate.Record{}, false
	}
	return e.load(), true
}

// AttachArtifact binds jobID to its primary artifact once the artifact exists
// and mirrors the current record to it.
func (t *Tracker) AttachArtifact(ctx context.Context, jobID, artifactID string) (flowstate.Record, error) {
	artifactID = strings.TrimSpace(artifactID)
	if artifactID == "" {
		return flowstate.Record{}, fmt.Errorf("attach artifact to %s: artifact id required", jobID)
	}
	e, ok := t.lookup(jobID)
	if !ok {
		return flowstate.Record{}, fmt.Errorf("attach artifact to %s: %w", jobID, ErrUnknownJob)
	}

	e.mu.Lock()
	cur := e.load()
	if cur.PrimaryArtifactID != "" && cur.PrimaryArtifactID != artifactID {
		e.mu.Unlock()
		return cur, fmt.Errorf("attach artifact %s to %s: %w (%s)", artifactID, jobID, ErrArtifactBound, cur.PrimaryArtifactID)
	}
	next := cur.Touch(t.now())
	next.PrimaryArtifactID = artifactID
	e.store(next)
	persistErr := t.persist(ctx, next)
	e.mu.Unlock()

	t.jobLogger(ctx, jobID).Debug("artifact attached", logging.Artifact(artifactID))
	t.publish(jobID)
	return next, persistErr
}

// Restart re-enters Start for a job that settled in DownloadFailed or
// ProcessingFailed.
func (t *Tracker) Restart(ctx context.Context, jobID string) (flowstate.Record, error) {
	e, ok := t.lookup(jobID)
	if !ok {
		return flowstate.Record{}, fmt.Errorf("restart %s: %w", jobID, ErrUnknownJob)
	}

	e.mu.Lock()
	cur := e.load()
	if cur.State != flowstate.StateDownloadFailed && cur.State != flowstate.StateProcessingFailed {
		e.mu.Unlock()
		return cur, fmt.Errorf("restart %s: %w (%s)", jobID, ErrNotRestartable, cur.State)
	}
	next := cur.WithState(flowstate.StateStart, "restarted after "+strings.ToLower(cur.State.Label()), t.now())
	e.store(next)
	t.metrics.Transition(string(next.State))
	persistErr := t.persist(ctx, next)
	e.mu.Unlock()

	t.jobLogger(ctx, jobID).Info("job restarted",
		logging.String(logging.FieldEventType, "job_restart"),
		logging.String("previous_state", string(cur.State)),
	)
	t.publish(jobID)
	return next, persistErr
}

// Release drops the in-memory record for jobID. The durable mirror, if any,
// is left in place. It reports whether a record was removed.
func (t *Tracker) Release(jobID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.jobs[jobID]; !ok {
		return false
	}
	delete(t.jobs, jobID)
	return true
}

// ReleaseIf drops jobID only while it still holds the settled run that was
// created at createdAt. A later run begun under the same id is kept.
func (t *Tracker) ReleaseIf(jobID string, createdAt time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.jobs[jobID]
	if !ok {
		return false
	}
	cur := e.load()
	if !cur.CreatedAt.Equal(createdAt) || !cur.Settled() {
		return false
	}
	delete(t.jobs, jobID)
	return true
}

// List returns snapshots of all live records, oldest first.
func (t *Tracker) List() []flowstate.Record {
	t.mu.RLock()
	out := make([]flowstate.Record, 0, len(t.jobs))
	for _, e := range t.jobs {
		out = append(out, e.load())
	}
	t.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].JobID < out[j].JobID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (t *Tracker) lookup(jobID string) (*entry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.jobs[jobID]
	return e, ok
}

// persist must run with the entry lock held so writes reach the store in
// issue order.
func (t *Tracker) persist(ctx context.Context, rec flowstate.Record) error {
	if t.persister == nil || rec.PrimaryArtifactID == "" {
		return nil
	}
	pctx, cancel := context.WithTimeout(ctx, t.persistTimeout)
	defer cancel()
	err := t.persister.Persist(pctx, rec.PrimaryArtifactID, rec)
	if err == nil {
		return nil
	}
	kind := persistFailureKind(err)
	t.metrics.PersistFailure(kind)
	logging.WarnWithContext(t.jobLogger(ctx, rec.JobID), "status mirror write failed", "status_persist_failed",
		logging.Artifact(rec.PrimaryArtifactID),
		logging.String(logging.FieldState, string(rec.State)),
		logging.String("failure_kind", kind),
		logging.Error(err),
		logging.String(logging.FieldErrorHint, "check object store connectivity"),
		logging.String(logging.FieldImpact, "durable status is stale until the next transition"),
	)
	return &PersistError{JobID: rec.JobID, ArtifactID: rec.PrimaryArtifactID, Err: err}
}

func (t *Tracker) publish(jobID string) {
	if t.publisher == nil {
		return
	}
	t.publisher.Publish(jobID)
}

func (t *Tracker) jobLogger(ctx context.Context, jobID string) *slog.Logger {
	return logging.WithContext(services.WithJobID(ctx, jobID), t.logger)
}

func persistFailureKind(err error) string {
	switch {
	case errors.Is(err, statusstore.ErrNotFound):
		return "not_found"
	case errors.Is(err, statusstore.ErrSerialization):
		return "serialization"
	case errors.Is(err, statusstore.ErrTransient):
		return "transient"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "other"
	}
}

func failureComment(operation, detail string) string {
	operation = strings.TrimSpace(operation)
	detail = strings.TrimSpace(detail)
	switch {
	case operation == "":
		return detail
	case detail == "":
		return operation
	default:
		return operation + ": " + detail
	}
}
