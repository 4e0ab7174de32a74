package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"flowtrack/internal/config"
	"flowtrack/internal/flowstate"
	"flowtrack/internal/services"
)

const userAgent = "Flowtrack-Go/0.1.0"

// Service defines the notification surface used by the watcher and CLI.
type Service interface {
	NotifyCompleted(ctx context.Context, rec flowstate.Record) error
	NotifyFailed(ctx context.Context, rec flowstate.Record) error
	TestNotification(ctx context.Context) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg config.Notifications) Service {
	topic := strings.TrimSpace(cfg.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
}

func (n *ntfyService) NotifyCompleted(ctx context.Context, rec flowstate.Record) error {
	data := payload{
		title:   "Flowtrack - Transcript Ready",
		message: fmt.Sprintf("✅ Transcript ready: %s", subject(rec)),
		tags:    []string{"flowtrack", "transcribe", "completed"},
	}
	if rec.Kind == flowstate.KindDownload {
		data.title = "Flowtrack - Audio Stored"
		data.message = fmt.Sprintf("🎧 Audio stored: %s", subject(rec))
		data.tags = []string{"flowtrack", "download", "completed"}
	}
	if rec.ResultArtifactID != "" {
		data.message = fmt.Sprintf("%s\nTranscript: %s", data.message, rec.ResultArtifactID)
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyFailed(ctx context.Context, rec flowstate.Record) error {
	var builder strings.Builder
	builder.WriteString("❌ ")
	builder.WriteString(rec.State.Label())
	builder.WriteString(": ")
	builder.WriteString(subject(rec))
	if comment := strings.TrimSpace(rec.Comment); comment != "" {
		builder.WriteString("\n")
		builder.WriteString(comment)
	}

	data := payload{
		title:    "Flowtrack - Job Failed",
		message:  builder.String(),
		tags:     []string{"flowtrack", "error", strings.ToLower(string(rec.State))},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	data := payload{
		title:    "Flowtrack - Test",
		message:  "🧪 Notification system test",
		tags:     []string{"flowtrack", "test"},
		priority: "low",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return services.Wrap(services.ErrNotification, "notify", "build request", "", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return services.Wrap(services.ErrNotification, "notify", "send", "", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return services.Wrap(services.ErrNotification, "notify", "send",
			fmt.Sprintf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body))), nil)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// subject picks the most recognisable label for a job.
func subject(rec flowstate.Record) string {
	for _, candidate := range []string{rec.Filename, rec.SourceURL, rec.PrimaryArtifactID} {
		if candidate = strings.TrimSpace(candidate); candidate != "" {
			return candidate
		}
	}
	return rec.JobID
}

type noopService struct{}

func (noopService) NotifyCompleted(context.Context, flowstate.Record) error { return nil }
func (noopService) NotifyFailed(context.Context, flowstate.Record) error    { return nil }
func (noopService) TestNotification(context.Context) error                  { return nil }
