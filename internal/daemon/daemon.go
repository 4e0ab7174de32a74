package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"flowtrack/internal/config"
	"flowtrack/internal/logging"
	"flowtrack/internal/media"
	"flowtrack/internal/metrics"
	"flowtrack/internal/notifications"
	"flowtrack/internal/notify"
	"flowtrack/internal/objectstore"
	"flowtrack/internal/pipeline"
	"flowtrack/internal/preflight"
	"flowtrack/internal/reconcile"
	"flowtrack/internal/statusstore"
	"flowtrack/internal/transcribe"
	"flowtrack/internal/workflow"
)

const shutdownTimeout = 30 * time.Second

// Daemon coordinates the background services and enforces single-instance execution.
type Daemon struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   objectstore.Store
	metrics *metrics.Recorder
	hub     *notify.Hub
	status  *statusstore.Adapter
	tracker *workflow.Tracker
	runner  *pipeline.Runner
	monitor *reconcile.Monitor
	watcher *notifications.Watcher
	api     *apiServer
	notify  notifications.Service

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	stopped bool
	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Option customizes daemon construction.
type Option func(*options)

type options struct {
	fetcher     pipeline.Fetcher
	transcriber pipeline.Transcriber
	notifier    notifications.Service
}

// WithFetcher replaces the yt-dlp fetcher.
func WithFetcher(f pipeline.Fetcher) Option {
	return func(o *options) { o.fetcher = f }
}

// WithTranscriber replaces the whisper engine.
func WithTranscriber(tr pipeline.Transcriber) Option {
	return func(o *options) { o.transcriber = tr }
}

// WithNotifier replaces the ntfy service built from config.
func WithNotifier(svc notifications.Service) Option {
	return func(o *options) { o.notifier = svc }
}

// New constructs a daemon with initialized dependencies. The daemon takes
// ownership of store and closes it in Close.
func New(cfg *config.Config, store objectstore.Store, logger *slog.Logger, opts ...Option) (*Daemon, error) {
	if cfg == nil || store == nil {
		return nil, errors.New("daemon requires config and store")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.fetcher == nil {
		o.fetcher = media.NewFetcher(cfg.Media)
	}
	if o.transcriber == nil {
		o.transcriber = transcribe.NewEngine(cfg.Transcription, cfg.Paths.WorkDir)
	}
	if o.notifier == nil {
		o.notifier = notifications.NewService(cfg.Notifications)
	}

	rec := metrics.New("flowtrack")
	hub := notify.NewHub(notify.WithCoalesceHook(rec.NotificationCoalesced))
	adapter := statusstore.New(store)
	tracker := workflow.NewTracker(adapter, hub,
		workflow.WithLogger(logger),
		workflow.WithMetrics(rec),
		workflow.WithPersistTimeout(cfg.PersistTimeout()),
	)
	runner, err := pipeline.NewRunner(pipeline.Dependencies{
		Config:      cfg,
		Tracker:     tracker,
		Store:       store,
		Fetcher:     o.fetcher,
		Transcriber: o.transcriber,
		Logger:      logger,
		Metrics:     rec,
	})
	if err != nil {
		return nil, fmt.Errorf("create runner: %w", err)
	}

	lockPath := cfg.LockPath()
	d := &Daemon{
		cfg:      cfg,
		logger:   logger,
		store:    store,
		metrics:  rec,
		hub:      hub,
		status:   adapter,
		tracker:  tracker,
		runner:   runner,
		notify:   o.notifier,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}
	d.monitor = reconcile.New(cfg, store, adapter, tracker, runner, logger)
	d.watcher = notifications.NewWatcher(cfg.Notifications, o.notifier, hub, tracker, logger, rec)
	d.api = newAPIServer(cfg.API.Bind, cfg.API.Token, runner, tracker, adapter, store, hub, rec.Handler(), logger)
	return d, nil
}

// Start runs preflight checks, acquires the daemon lock, and launches the
// API server, notifier and reconcile monitor. A stopped daemon cannot be
// started again.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running.Load() {
		return errors.New("daemon already running")
	}
	if d.stopped {
		return errors.New("daemon already stopped")
	}

	if err := d.preflight(); err != nil {
		return err
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another flowtrack daemon instance is already running")
	}

	if err := d.api.start(); err != nil {
		_ = d.lock.Unlock()
		return err
	}

	bgCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.goBackground(func() {
		if err := d.watcher.Run(bgCtx); err != nil {
			d.logger.Warn("notification watcher stopped", logging.Error(err))
		}
	})
	if d.cfg.Reconcile.Enabled {
		d.goBackground(func() {
			_ = d.monitor.Run(bgCtx)
		})
	}

	d.running.Store(true)
	d.logger.Info("flowtrack daemon started",
		logging.String("lock", d.lockPath),
		logging.String("api", d.api.addr()),
		logging.String("store", d.cfg.Store.Backend),
	)
	return nil
}

func (d *Daemon) goBackground(fn func()) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		fn()
	}()
}

func (d *Daemon) preflight() error {
	results := preflight.RunAll(d.cfg)
	for _, r := range results {
		if r.Passed {
			continue
		}
		logging.WarnWithContext(d.logger, "preflight check failed", "preflight_failed",
			logging.String("check", r.Name),
			logging.String("detail", r.Detail),
			logging.String(logging.FieldImpact, impactFor(r)),
		)
	}
	if blocking := preflight.Blocking(results); len(blocking) > 0 {
		names := make([]string, 0, len(blocking))
		for _, r := range blocking {
			names = append(names, fmt.Sprintf("%s: %s", r.Name, r.Detail))
		}
		return fmt.Errorf("preflight failed: %s", strings.Join(names, "; "))
	}
	return nil
}

func impactFor(r preflight.Result) string {
	if r.Optional {
		return "jobs that need this binary will fail"
	}
	return "daemon cannot start"
}

// Stop stops accepting requests, lets running jobs record their final state,
// and releases the daemon lock.
func (d *Daemon) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running.Load() {
		return
	}

	d.api.stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := d.runner.Shutdown(shutdownCtx); err != nil {
		d.logger.Warn("jobs did not stop in time", logging.Error(err))
	}

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.wg.Wait()

	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.stopped = true
	d.logger.Info("flowtrack daemon stopped")
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	d.hub.Close()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// Running reports whether Start succeeded and Stop has not run.
func (d *Daemon) Running() bool {
	return d.running.Load()
}

// Addr returns the bound API address, useful when the bind port is 0.
func (d *Daemon) Addr() string {
	return d.api.addr()
}

// Tracker exposes the live status tracker.
func (d *Daemon) Tracker() *workflow.Tracker {
	return d.tracker
}

// TestNotification sends a test push using the configured service.
func (d *Daemon) TestNotification(ctx context.Context) (bool, string, error) {
	if strings.TrimSpace(d.cfg.Notifications.NtfyTopic) == "" {
		return false, "ntfy topic not configured", nil
	}
	if err := d.notify.TestNotification(ctx); err != nil {
		return false, "failed to send notification", err
	}
	return true, "test notification sent", nil
}
