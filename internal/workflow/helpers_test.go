package workflow

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"flowtrack/internal/flowstate"
	"flowtrack/internal/objectstore"
	"flowtrack/internal/statusstore"
)

type recordingPublisher struct {
	mu  sync.Mutex
	ids []string
}

func (p *recordingPublisher) Publish(jobID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ids = append(p.ids, jobID)
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.ids)
}

type stubPersister struct {
	mu    sync.Mutex
	err   error
	saved []flowstate.Record
}

func (p *stubPersister) Persist(_ context.Context, _ string, rec flowstate.Record) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.saved = append(p.saved, rec)
	return nil
}

func (p *stubPersister) last() (flowstate.Record, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.saved) == 0 {
		return flowstate.Record{}, false
	}
	return p.saved[len(p.saved)-1], true
}

// steppingClock advances by one millisecond on every call.
type steppingClock struct {
	mu  sync.Mutex
	now time.Time
}

func newSteppingClock() *steppingClock {
	return &steppingClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *steppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Millisecond)
	return c.now
}

func newSQLiteAdapter(t *testing.T) (*statusstore.Adapter, objectstore.Store) {
	t.Helper()
	store, err := objectstore.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "objects.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return statusstore.New(store), store
}

var errDiskFull = errors.New("disk full")
