package notifications_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"flowtrack/internal/config"
	"flowtrack/internal/flowstate"
	"flowtrack/internal/notifications"
	"flowtrack/internal/services"
)

type captured struct {
	title    string
	tags     string
	priority string
	body     string
}

func newNtfyServer(t *testing.T, status int) (*httptest.Server, <-chan captured) {
	t.Helper()
	ch := make(chan captured, 8)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		ch <- captured{
			title:    r.Header.Get("Title"),
			tags:     r.Header.Get("Tags"),
			priority: r.Header.Get("Priority"),
			body:     string(body),
		}
		w.WriteHeader(status)
		_, _ = io.WriteString(w, "topic unavailable")
	}))
	t.Cleanup(srv.Close)
	return srv, ch
}

func record(t *testing.T, kind flowstate.Kind, state flowstate.State, comment string) flowstate.Record {
	t.Helper()
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	rec, err := flowstate.NewRecord("job-1", kind, now)
	if err != nil {
		t.Fatalf("NewRecord: %v", err)
	}
	rec.Filename = "episode.mp3"
	return rec.WithState(state, comment, now)
}

func TestNewServiceReturnsNoopWhenTopicMissing(t *testing.T) {
	cfg := config.Default()
	svc := notifications.NewService(cfg.Notifications)
	rec := record(t, flowstate.KindTranscription, flowstate.StateError, "boom")
	if err := svc.NotifyFailed(context.Background(), rec); err != nil {
		t.Fatalf("expected noop notifier to return nil, got %v", err)
	}
}

func TestNtfyServiceFormatsPayloads(t *testing.T) {
	tests := []struct {
		name           string
		send           func(notifications.Service) error
		expectTitle    string
		expectMessage  string
		expectTags     string
		expectPriority string
	}{
		{
			name: "transcript ready",
			send: func(svc notifications.Service) error {
				rec := record(t, flowstate.KindTranscription, flowstate.StateResultUploadComplete, "")
				rec.ResultArtifactID = "txt-9"
				return svc.NotifyCompleted(context.Background(), rec)
			},
			expectTitle:   "Flowtrack - Transcript Ready",
			expectMessage: "✅ Transcript ready: episode.mp3\nTranscript: txt-9",
			expectTags:    "flowtrack,transcribe,completed",
		},
		{
			name: "audio stored",
			send: func(svc notifications.Service) error {
				return svc.NotifyCompleted(context.Background(), record(t, flowstate.KindDownload, flowstate.StateUploadComplete, ""))
			},
			expectTitle:   "Flowtrack - Audio Stored",
			expectMessage: "🎧 Audio stored: episode.mp3",
			expectTags:    "flowtrack,download,completed",
		},
		{
			name: "failure",
			send: func(svc notifications.Service) error {
				return svc.NotifyFailed(context.Background(), record(t, flowstate.KindTranscription, flowstate.StateProcessingFailed, "transcribe: model crashed"))
			},
			expectTitle:    "Flowtrack - Job Failed",
			expectMessage:  "❌ Processing Failed: episode.mp3\ntranscribe: model crashed",
			expectTags:     "flowtrack,error,processing_failed",
			expectPriority: "high",
		},
		{
			name: "test notification",
			send: func(svc notifications.Service) error {
				return svc.TestNotification(context.Background())
			},
			expectTitle:    "Flowtrack - Test",
			expectMessage:  "🧪 Notification system test",
			expectTags:     "flowtrack,test",
			expectPriority: "low",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv, ch := newNtfyServer(t, http.StatusOK)
			svc := notifications.NewService(config.Notifications{NtfyTopic: srv.URL, RequestTimeout: 5})
			if err := tc.send(svc); err != nil {
				t.Fatalf("send: %v", err)
			}
			got := <-ch
			if got.title != tc.expectTitle {
				t.Errorf("title = %q, want %q", got.title, tc.expectTitle)
			}
			if got.body != tc.expectMessage {
				t.Errorf("message = %q, want %q", got.body, tc.expectMessage)
			}
			if got.tags != tc.expectTags {
				t.Errorf("tags = %q, want %q", got.tags, tc.expectTags)
			}
			if got.priority != tc.expectPriority {
				t.Errorf("priority = %q, want %q", got.priority, tc.expectPriority)
			}
		})
	}
}

func TestNtfyServiceReportsHTTPErrors(t *testing.T) {
	srv, _ := newNtfyServer(t, http.StatusServiceUnavailable)
	svc := notifications.NewService(config.Notifications{NtfyTopic: srv.URL})
	err := svc.TestNotification(context.Background())
	if !errors.Is(err, services.ErrNotification) {
		t.Fatalf("expected ErrNotification, got %v", err)
	}
	if !strings.Contains(err.Error(), "503") {
		t.Fatalf("expected status code in error, got %v", err)
	}
}
