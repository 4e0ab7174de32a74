package media

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"flowtrack/internal/config"
	"flowtrack/internal/services"
)

// ProgressFunc receives download progress.
type ProgressFunc func(percent float64, eta string)

// Stream identifies the output stream a line came from.
type Stream string

const (
	StreamStdout Stream = "stdout"
	StreamStderr Stream = "stderr"
)

// LineRunner runs a command and calls onLine for every output line.
type LineRunner func(ctx context.Context, name string, args []string, onLine func(Stream, string)) error

// Fetcher downloads the audio track of a URL.
type Fetcher struct {
	binary      string
	audioFormat string
	timeout     time.Duration
	runner      LineRunner
}

// NewFetcher builds a fetcher from the media configuration.
func NewFetcher(cfg config.Media) *Fetcher {
	binary := strings.TrimSpace(cfg.YTDLPBinary)
	if binary == "" {
		binary = "yt-dlp"
	}
	format := strings.TrimSpace(cfg.AudioFormat)
	if format == "" {
		format = "mp3"
	}
	return &Fetcher{
		binary:      binary,
		audioFormat: format,
		timeout:     time.Duration(cfg.TimeoutSeconds) * time.Second,
		runner:      runLines,
	}
}

// WithLineRunner replaces command execution (for testing).
func (f *Fetcher) WithLineRunner(runner LineRunner) {
	if runner != nil {
		f.runner = runner
	}
}

// Fetch downloads url into destDir and returns the path of the audio file.
func (f *Fetcher) Fetch(ctx context.Context, url, destDir string, onProgress ProgressFunc) (string, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return "", services.Wrap(services.ErrValidation, "download", "fetch", "source url is required", nil)
	}
	if strings.TrimSpace(destDir) == "" {
		return "", services.Wrap(services.ErrValidation, "download", "fetch", "destination directory is required", nil)
	}
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", services.Wrap(services.ErrTransient, "download", "prepare destination", destDir, err)
	}

	runCtx := ctx
	if f.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	var (
		mu        sync.Mutex
		finalPath string
		lastPct   = -1.0
	)
	onLine := func(stream Stream, line string) {
		if stream == StreamStdout {
			if p, ok := ParseProgress(line); ok {
				mu.Lock()
				changed := p.Percent != lastPct
				lastPct = p.Percent
				mu.Unlock()
				if changed && onProgress != nil {
					onProgress(p.Percent, p.ETA)
				}
				return
			}
			if candidate := strings.TrimSpace(line); candidate != "" && !strings.HasPrefix(candidate, "[") {
				mu.Lock()
				finalPath = candidate
				mu.Unlock()
			}
		}
	}

	if err := f.runner(runCtx, f.binary, f.buildArgs(url, destDir), onLine); err != nil {
		switch {
		case errors.Is(err, exec.ErrNotFound):
			return "", services.Wrap(services.ErrConfiguration, "download", "yt-dlp", "binary not found: "+f.binary, err)
		case errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
			return "", services.Wrap(services.ErrTimeout, "download", "yt-dlp", fmt.Sprintf("no result after %s", f.timeout), err)
		case ctx.Err() != nil:
			return "", ctx.Err()
		default:
			return "", services.Wrap(services.ErrExternalTool, "download", "yt-dlp", "", err)
		}
	}

	mu.Lock()
	path := finalPath
	mu.Unlock()
	if path == "" {
		found, err := newestAudioFile(destDir, f.audioFormat)
		if err != nil {
			return "", services.Wrap(services.ErrExternalTool, "download", "locate output", "", err)
		}
		path = found
	}
	if _, err := os.Stat(path); err != nil {
		return "", services.Wrap(services.ErrExternalTool, "download", "locate output", path, err)
	}
	return path, nil
}

func (f *Fetcher) buildArgs(url, destDir string) []string {
	return []string{
		"--no-playlist",
		"--newline",
		"--progress",
		"--restrict-filenames",
		"--extract-audio",
		"--audio-format", f.audioFormat,
		"-P", destDir,
		"-o", "%(title).200B_[%(id)s].%(ext)s",
		"--print", "after_move:filepath",
		url,
	}
}

func newestAudioFile(dir, ext string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}
	var (
		best    string
		bestMod time.Time
	)
	for _, entry := range entries {
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), "."+ext) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if best == "" || info.ModTime().After(bestMod) {
			best = filepath.Join(dir, entry.Name())
			bestMod = info.ModTime()
		}
	}
	if best == "" {
		return "", fmt.Errorf("no .%s file in %s", ext, dir)
	}
	return best, nil
}

func runLines(ctx context.Context, name string, args []string, onLine func(Stream, string)) error {
	cmd := exec.CommandContext(ctx, name, args...) //nolint:gosec

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("setup stdout pipe: %w", err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("setup stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", name, err)
	}

	var errBuf strings.Builder
	var mu sync.Mutex
	var wg sync.WaitGroup

	read := func(stream Stream, r io.Reader) {
		defer wg.Done()
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		scanner.Split(splitByNewlineOrCR)
		for scanner.Scan() {
			line := scanner.Text()
			if stream == StreamStderr {
				mu.Lock()
				if errBuf.Len() < 8192 {
					errBuf.WriteString(line + "\n")
				}
				mu.Unlock()
			}
			onLine(stream, line)
		}
	}

	wg.Add(2)
	go read(StreamStdout, stdoutPipe)
	go read(StreamStderr, stderrPipe)
	wg.Wait()

	if err := cmd.Wait(); err != nil {
		mu.Lock()
		defer mu.Unlock()
		return fmt.Errorf("%s failed: %w: %s", name, err, strings.TrimSpace(errBuf.String()))
	}
	return nil
}
