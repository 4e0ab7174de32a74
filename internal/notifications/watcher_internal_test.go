package notifications

import (
	"context"
	"testing"
	"time"

	"flowtrack/internal/config"
	"flowtrack/internal/flowstate"
	"flowtrack/internal/notify"
)

type mapSource map[string]flowstate.Record

func (m mapSource) Current(jobID string) (flowstate.Record, bool) {
	rec, ok := m[jobID]
	return rec, ok
}

func TestWatcherForgetsReleasedJobs(t *testing.T) {
	source := mapSource{}
	w := NewWatcher(config.Notifications{Completions: true}, nil, notify.NewHub(), source, nil, nil)
	ctx := context.Background()

	for _, id := range []string{"job-1", "job-2"} {
		rec, err := flowstate.NewRecord(id, flowstate.KindTranscription, time.Now())
		if err != nil {
			t.Fatalf("NewRecord: %v", err)
		}
		source[id] = rec.WithState(flowstate.StateResultUploadComplete, "", time.Now())
		w.handle(ctx, id)
	}
	if len(w.sent) != 2 {
		t.Fatalf("expected both announcements remembered, got %d", len(w.sent))
	}

	delete(source, "job-1")
	w.prune()
	if _, ok := w.sent["job-1"]; ok || len(w.sent) != 1 {
		t.Fatalf("released job still remembered: %v", w.sent)
	}
}
