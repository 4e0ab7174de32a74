// Package reconcile periodically compares the audio folder of the object
// store with the status mirrors written by the tracker.
//
// Artifacts without a status mirror are untracked uploads and can be queued
// for transcription automatically. Mirrors left in a non-terminal state by a
// process that no longer tracks them are settled in Error so they do not stay
// in progress forever. Artifacts and mirrors younger than one interval are
// left for a later pass, since a job may be about to claim them.
package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"flowtrack/internal/config"
	"flowtrack/internal/flowstate"
	"flowtrack/internal/logging"
	"flowtrack/internal/objectstore"
	"flowtrack/internal/pipeline"
	"flowtrack/internal/statusstore"
)

const interruptedComment = "reconcile: job interrupted before completion"

// StatusStore reads and rewrites status mirrors. statusstore.Adapter satisfies it.
type StatusStore interface {
	Fetch(ctx context.Context, objectID string) (flowstate.Record, error)
	Persist(ctx context.Context, objectID string, rec flowstate.Record) error
}

// LiveJobs reports the jobs this process is running. workflow.Tracker satisfies it.
type LiveJobs interface {
	List() []flowstate.Record
	Current(jobID string) (flowstate.Record, bool)
}

// Starter queues transcription jobs. pipeline.Runner satisfies it.
type Starter interface {
	StartTranscription(ctx context.Context, req pipeline.TranscriptionRequest) (flowstate.Record, error)
}

// Report summarizes one reconciliation pass.
type Report struct {
	Scanned   int
	Live      int
	Settled   int
	Untracked int
	Started   int
	Recovered int
	Deferred  int
	Failed    int
}

// Monitor runs reconciliation passes.
type Monitor struct {
	store          objectstore.Store
	status         StatusStore
	jobs           LiveJobs
	starter        Starter
	folder         string
	interval       time.Duration
	grace          time.Duration
	autoTranscribe bool
	logger         *slog.Logger
	now            func() time.Time
}

// New builds a monitor from the reconcile configuration.
func New(cfg *config.Config, store objectstore.Store, status StatusStore, jobs LiveJobs, starter Starter, logger *slog.Logger) *Monitor {
	interval := cfg.ReconcileInterval()
	if interval <= 0 {
		interval = time.Minute
	}
	return &Monitor{
		store:          store,
		status:         status,
		jobs:           jobs,
		starter:        starter,
		folder:         cfg.Store.AudioFolder,
		interval:       interval,
		grace:          interval,
		autoTranscribe: cfg.Reconcile.AutoTranscribe,
		logger:         logging.NewComponentLogger(logger, "reconcile"),
		now:            time.Now,
	}
}

// Run performs a pass immediately and then once per interval until ctx ends.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		if _, err := m.Pass(ctx); err != nil && ctx.Err() == nil {
			logging.WarnWithContext(m.logger, "reconcile pass failed", "reconcile_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check object store connectivity"),
				logging.String(logging.FieldImpact, "untracked uploads wait for the next pass"),
			)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Pass scans the audio folder once. Per-artifact failures are logged and
// counted; only a failure to list the folder is returned.
func (m *Monitor) Pass(ctx context.Context) (Report, error) {
	var report Report
	objects, err := m.store.List(ctx, m.folder)
	if err != nil {
		return report, err
	}
	live := make(map[string]struct{})
	for _, rec := range m.jobs.List() {
		live[rec.JobID] = struct{}{}
		if rec.PrimaryArtifactID != "" {
			live[rec.PrimaryArtifactID] = struct{}{}
		}
	}

	for _, obj := range objects {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		report.Scanned++
		if _, ok := live[obj.ID]; ok {
			report.Live++
			continue
		}
		logger := m.logger.With(logging.Artifact(obj.ID))

		rec, err := m.status.Fetch(ctx, obj.ID)
		switch {
		case errors.Is(err, statusstore.ErrNotFound):
			report.Untracked++
			if m.recent(obj.CreatedAt) || m.claimed(obj.ID) {
				report.Deferred++
				continue
			}
			m.handleUntracked(ctx, logger, obj, &report)
		case err != nil:
			report.Failed++
			logger.Warn("status mirror unreadable",
				logging.String(logging.FieldEventType, "reconcile_fetch_failed"),
				logging.Error(err),
			)
		case rec.Settled():
			report.Settled++
		case m.recent(rec.LastModified) || m.claimed(obj.ID):
			report.Deferred++
		default:
			m.recover(ctx, logger, obj.ID, rec, &report)
		}
	}

	if report.Started > 0 || report.Recovered > 0 || report.Failed > 0 {
		m.logger.Info("reconcile pass complete",
			logging.String(logging.FieldEventType, "reconcile_pass"),
			logging.Int("scanned", report.Scanned),
			logging.Int("untracked", report.Untracked),
			logging.Int("started", report.Started),
			logging.Int("recovered", report.Recovered),
			logging.Int("failed", report.Failed),
		)
	}
	return report, nil
}

// recent reports whether t falls inside the grace period.
func (m *Monitor) recent(t time.Time) bool {
	return !t.IsZero() && m.now().Sub(t) < m.grace
}

// claimed re-checks liveness for artifactID just before acting on it. Jobs
// begun after the pass took its snapshot are caught here.
func (m *Monitor) claimed(artifactID string) bool {
	if _, ok := m.jobs.Current(artifactID); ok {
		return true
	}
	for _, rec := range m.jobs.List() {
		if rec.PrimaryArtifactID == artifactID {
			return true
		}
	}
	return false
}

func (m *Monitor) handleUntracked(ctx context.Context, logger *slog.Logger, obj objectstore.Object, report *Report) {
	if !m.autoTranscribe || m.starter == nil {
		logger.Debug("untracked artifact", logging.String("name", obj.Name))
		return
	}
	rec, err := m.starter.StartTranscription(ctx, pipeline.TranscriptionRequest{
		ArtifactID: obj.ID,
		Filename:   obj.Name,
	})
	if err != nil {
		report.Failed++
		logger.Warn("could not queue transcription for untracked artifact",
			logging.String(logging.FieldEventType, "reconcile_start_failed"),
			logging.Error(err),
		)
		return
	}
	report.Started++
	logger.Info("queued transcription for untracked artifact",
		logging.String(logging.FieldEventType, "reconcile_start"),
		logging.JobID(rec.JobID),
		logging.String("name", obj.Name),
	)
}

// recover settles a mirror that claims progress no live job is making.
func (m *Monitor) recover(ctx context.Context, logger *slog.Logger, objectID string, rec flowstate.Record, report *Report) {
	next := rec.WithState(flowstate.StateError, interruptedComment, m.now())
	if err := m.status.Persist(ctx, objectID, next); err != nil {
		report.Failed++
		logger.Warn("could not settle interrupted job",
			logging.String(logging.FieldEventType, "reconcile_recover_failed"),
			logging.Error(err),
		)
		return
	}
	report.Recovered++
	logger.Info("settled interrupted job",
		logging.String(logging.FieldEventType, "reconcile_recover"),
		logging.JobID(rec.JobID),
		logging.String("previous_state", string(rec.State)),
	)
}
