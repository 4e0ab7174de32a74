package testsupport

import (
	"context"
	"testing"
	"time"

	"flowtrack/internal/config"
	"flowtrack/internal/flowstate"
	"flowtrack/internal/objectstore"
	"flowtrack/internal/workflow"
)

// MustOpenStore opens the configured object store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) objectstore.Store {
	t.Helper()

	store, err := objectstore.Open(context.Background(), cfg)
	if err != nil {
		t.Fatalf("objectstore.Open: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}

// MustUpload stores data in folder and returns the artifact id.
func MustUpload(t testing.TB, store objectstore.Store, folder, name string, data []byte) string {
	t.Helper()

	id, err := store.Upload(context.Background(), data, folder, name)
	if err != nil {
		t.Fatalf("store.Upload: %v", err)
	}
	return id
}

// WaitForState polls tracker until jobID reaches one of states and returns
// the record. It fails the test after five seconds.
func WaitForState(t testing.TB, tracker *workflow.Tracker, jobID string, states ...flowstate.State) flowstate.Record {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	var last flowstate.Record
	for time.Now().Before(deadline) {
		if rec, ok := tracker.Current(jobID); ok {
			last = rec
			for _, state := range states {
				if rec.State == state {
					return rec
				}
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job %s did not reach %v (last %s: %q)", jobID, states, last.State, last.Comment)
	return last
}
