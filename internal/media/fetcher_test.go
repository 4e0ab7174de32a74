package media

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"testing"

	"flowtrack/internal/config"
	"flowtrack/internal/services"
)

func TestParseProgress(t *testing.T) {
	tests := []struct {
		line    string
		wantOK  bool
		wantPct float64
		wantETA string
	}{
		{"[download]  42.3% of   10.00MiB at    1.20MiB/s ETA 00:05", true, 42.3, "00:05"},
		{"[download] 100% of 10.00MiB in 00:00:09", true, 100, ""},
		{"[download]   3.0% of ~ 5.00MiB at Unknown B/s ETA Unknown", true, 3.0, "Unknown"},
		{"[download] Destination: clip.webm", false, 0, ""},
		{"[youtube] abc: Downloading webpage", false, 0, ""},
		{"", false, 0, ""},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			p, ok := ParseProgress(tt.line)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if p.Percent != tt.wantPct || p.ETA != tt.wantETA {
				t.Fatalf("got %+v", p)
			}
		})
	}
}

func TestProgressComment(t *testing.T) {
	if got := (Progress{Percent: 42.345, ETA: "01:10"}).Comment(); got != "42.3%, ETA 01:10" {
		t.Fatalf("unexpected comment %q", got)
	}
	if got := (Progress{Percent: 100}).Comment(); got != "100.0%" {
		t.Fatalf("unexpected comment %q", got)
	}
}

func TestFetchReportsProgressAndPath(t *testing.T) {
	dest := t.TempDir()
	final := filepath.Join(dest, "Talk_[abc].mp3")
	fetcher := NewFetcher(config.Media{YTDLPBinary: "yt-dlp", AudioFormat: "mp3"})
	var gotArgs []string
	fetcher.WithLineRunner(func(_ context.Context, name string, args []string, onLine func(Stream, string)) error {
		gotArgs = args
		onLine(StreamStdout, "[youtube] abc: Downloading webpage")
		onLine(StreamStdout, "[download]  10.0% of 4.00MiB at 1.00MiB/s ETA 00:03")
		onLine(StreamStdout, "[download]  10.0% of 4.00MiB at 1.00MiB/s ETA 00:03")
		onLine(StreamStdout, "[download] 100% of 4.00MiB in 00:00:04")
		onLine(StreamStderr, "WARNING: something noisy")
		if err := os.WriteFile(final, []byte("ID3"), 0o644); err != nil {
			return err
		}
		onLine(StreamStdout, final)
		return nil
	})

	var updates []string
	path, err := fetcher.Fetch(context.Background(), "https://example.com/watch?v=abc", dest, func(pct float64, eta string) {
		updates = append(updates, fmt.Sprintf("%.0f/%s", pct, eta))
	})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if path != final {
		t.Fatalf("path = %q, want %q", path, final)
	}
	if want := []string{"10/00:03", "100/"}; !slices.Equal(updates, want) {
		t.Fatalf("updates = %v, want %v", updates, want)
	}
	if !slices.Contains(gotArgs, "--newline") || gotArgs[len(gotArgs)-1] != "https://example.com/watch?v=abc" {
		t.Fatalf("unexpected args %v", gotArgs)
	}
}

func TestFetchFallsBackToNewestFile(t *testing.T) {
	dest := t.TempDir()
	fetcher := NewFetcher(config.Media{})
	fetcher.WithLineRunner(func(_ context.Context, _ string, _ []string, _ func(Stream, string)) error {
		return os.WriteFile(filepath.Join(dest, "clip.mp3"), []byte("ID3"), 0o644)
	})
	path, err := fetcher.Fetch(context.Background(), "https://example.com/a", dest, nil)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if filepath.Base(path) != "clip.mp3" {
		t.Fatalf("unexpected path %q", path)
	}
}

func TestFetchErrorClassification(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"missing binary", &exec.Error{Name: "yt-dlp", Err: exec.ErrNotFound}, services.ErrConfiguration},
		{"tool failure", errors.New("exit status 1: ERROR: Video unavailable"), services.ErrExternalTool},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fetcher := NewFetcher(config.Media{})
			fetcher.WithLineRunner(func(context.Context, string, []string, func(Stream, string)) error {
				return tt.err
			})
			_, err := fetcher.Fetch(context.Background(), "https://example.com/a", t.TempDir(), nil)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestFetchRequiresURL(t *testing.T) {
	_, err := NewFetcher(config.Media{}).Fetch(context.Background(), "  ", t.TempDir(), nil)
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
