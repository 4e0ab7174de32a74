package notifications_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"flowtrack/internal/config"
	"flowtrack/internal/flowstate"
	"flowtrack/internal/metrics"
	"flowtrack/internal/notifications"
	"flowtrack/internal/notify"
)

type memorySource struct {
	mu   sync.Mutex
	recs map[string]flowstate.Record
}

func (s *memorySource) set(rec flowstate.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.recs == nil {
		s.recs = make(map[string]flowstate.Record)
	}
	s.recs[rec.JobID] = rec
}

func (s *memorySource) Current(jobID string) (flowstate.Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recs[jobID]
	return rec, ok
}

type recordingService struct {
	mu    sync.Mutex
	calls []string
	seen  chan string
	err   error
}

func newRecordingService() *recordingService {
	return &recordingService{seen: make(chan string, 16)}
}

func (s *recordingService) note(kind string, rec flowstate.Record) error {
	s.mu.Lock()
	s.calls = append(s.calls, kind+":"+rec.JobID)
	s.mu.Unlock()
	s.seen <- rec.JobID
	return s.err
}

func (s *recordingService) NotifyCompleted(_ context.Context, rec flowstate.Record) error {
	return s.note("completed", rec)
}

func (s *recordingService) NotifyFailed(_ context.Context, rec flowstate.Record) error {
	return s.note("failed", rec)
}

func (s *recordingService) TestNotification(context.Context) error { return nil }

func (s *recordingService) snapshot() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func settledRecord(t *testing.T, id string, kind flowstate.Kind, state flowstate.State) flowstate.Record {
	t.Helper()
	rec, err := flowstate.NewRecord(id, kind, time.Now())
	if err != nil {
		t.Fatalf("NewRecord: %v", err)
	}
	return rec.WithState(state, "", time.Now())
}

func startWatcher(t *testing.T, cfg config.Notifications, svc notifications.Service, source notifications.Source, rec *metrics.Recorder) *notify.Hub {
	t.Helper()
	hub := notify.NewHub()
	w := notifications.NewWatcher(cfg, svc, hub, source, nil, rec)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	deadline := time.Now().Add(2 * time.Second)
	for hub.Subscribers() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("watcher never subscribed")
		}
		time.Sleep(5 * time.Millisecond)
	}
	return hub
}

func waitFor(t *testing.T, svc *recordingService, jobID string) {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case id := <-svc.seen:
			if id == jobID {
				return
			}
		case <-timeout:
			t.Fatalf("no notification for %s", jobID)
		}
	}
}

func TestWatcherNotifiesOnceWhenSettled(t *testing.T) {
	source := &memorySource{}
	svc := newRecordingService()
	hub := startWatcher(t, config.Notifications{Completions: true, Failures: true}, svc, source, nil)

	running := settledRecord(t, "a-job", flowstate.KindTranscription, flowstate.StateProcessing)
	source.set(running)
	hub.Publish("a-job")

	source.set(running.WithState(flowstate.StateResultUploadComplete, "", time.Now()))
	hub.Publish("a-job")
	waitFor(t, svc, "a-job")
	hub.Publish("a-job")

	source.set(settledRecord(t, "b-job", flowstate.KindDownload, flowstate.StateUploadComplete))
	hub.Publish("b-job")
	waitFor(t, svc, "b-job")

	got := svc.snapshot()
	want := []string{"completed:a-job", "completed:b-job"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("calls = %v, want %v", got, want)
	}
}

func TestWatcherRespectsToggles(t *testing.T) {
	source := &memorySource{}
	svc := newRecordingService()
	hub := startWatcher(t, config.Notifications{Completions: false, Failures: true}, svc, source, nil)

	source.set(settledRecord(t, "a-done", flowstate.KindTranscription, flowstate.StateResultUploadComplete))
	source.set(settledRecord(t, "b-fail", flowstate.KindTranscription, flowstate.StateDownloadFailed))
	hub.Publish("a-done")
	hub.Publish("b-fail")
	waitFor(t, svc, "b-fail")

	got := svc.snapshot()
	if len(got) != 1 || got[0] != "failed:b-fail" {
		t.Fatalf("calls = %v, want only the failure", got)
	}
}

func TestWatcherDropsDeliveryErrors(t *testing.T) {
	source := &memorySource{}
	svc := newRecordingService()
	svc.err = errors.New("ntfy down")
	rec := metrics.New("flowtrack")
	hub := startWatcher(t, config.Notifications{Completions: true, Failures: true}, svc, source, rec)

	source.set(settledRecord(t, "a-job", flowstate.KindTranscription, flowstate.StateError))
	hub.Publish("a-job")
	waitFor(t, svc, "a-job")

	source.set(settledRecord(t, "b-job", flowstate.KindTranscription, flowstate.StateResultUploadComplete))
	hub.Publish("b-job")
	waitFor(t, svc, "b-job")

	const expected = `
# HELP flowtrack_push_notifications_total Push notifications attempted, by outcome.
# TYPE flowtrack_push_notifications_total counter
flowtrack_push_notifications_total{outcome="failed"} 2
`
	deadline := time.Now().Add(2 * time.Second)
	for {
		err := testutil.GatherAndCompare(rec.Registry(), strings.NewReader(expected), "flowtrack_push_notifications_total")
		if err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("push notification metrics: %v", err)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
