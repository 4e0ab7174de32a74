package notifications

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"flowtrack/internal/config"
	"flowtrack/internal/flowstate"
	"flowtrack/internal/logging"
	"flowtrack/internal/metrics"
	"flowtrack/internal/notify"
	"flowtrack/internal/services"
)

// Source yields the current record for a job.
type Source interface {
	Current(jobID string) (flowstate.Record, bool)
}

// Watcher turns hub change notifications into push messages.
type Watcher struct {
	svc         Service
	hub         *notify.Hub
	source      Source
	completions bool
	failures    bool
	timeout     time.Duration
	logger      *slog.Logger
	metrics     *metrics.Recorder

	// sent holds the LastModified of the record each job was announced with.
	sent map[string]time.Time
}

// NewWatcher builds a watcher for the given hub and record source.
func NewWatcher(cfg config.Notifications, svc Service, hub *notify.Hub, source Source, logger *slog.Logger, rec *metrics.Recorder) *Watcher {
	if svc == nil {
		svc = noopService{}
	}
	timeout := time.Duration(cfg.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Watcher{
		svc:         svc,
		hub:         hub,
		source:      source,
		completions: cfg.Completions,
		failures:    cfg.Failures,
		timeout:     timeout,
		logger:      logging.NewComponentLogger(logger, "notifications"),
		metrics:     rec,
		sent:        make(map[string]time.Time),
	}
}

// Run consumes hub notifications until ctx ends or the hub closes.
func (w *Watcher) Run(ctx context.Context) error {
	sub := w.hub.Subscribe()
	defer sub.Close()
	for {
		ids, err := sub.Wait(ctx)
		if err != nil {
			if errors.Is(err, notify.ErrClosed) || ctx.Err() != nil {
				return nil
			}
			return err
		}
		for _, id := range ids {
			w.handle(ctx, id)
		}
		w.prune()
	}
}

// prune forgets jobs the source no longer tracks. Released jobs are never
// published, so they are swept on the next wake.
func (w *Watcher) prune() {
	for id := range w.sent {
		if _, ok := w.source.Current(id); !ok {
			delete(w.sent, id)
		}
	}
}

func (w *Watcher) handle(ctx context.Context, jobID string) {
	rec, ok := w.source.Current(jobID)
	if !ok {
		delete(w.sent, jobID)
		return
	}
	if !rec.Settled() {
		return
	}
	if last, seen := w.sent[jobID]; seen && last.Equal(rec.LastModified) {
		return
	}
	w.sent[jobID] = rec.LastModified

	failed := rec.State.Failure()
	if failed && !w.failures || !failed && !w.completions {
		return
	}

	sendCtx, cancel := context.WithTimeout(services.WithJobID(ctx, jobID), w.timeout)
	defer cancel()
	var err error
	if failed {
		err = w.svc.NotifyFailed(sendCtx, rec)
	} else {
		err = w.svc.NotifyCompleted(sendCtx, rec)
	}
	w.metrics.NotificationSent(err)
	if err != nil {
		logging.WithContext(sendCtx, w.logger).Debug("notification dropped",
			logging.String(logging.FieldEventType, "notification_failed"),
			logging.String(logging.FieldState, string(rec.State)),
			logging.Error(err),
		)
	}
}
