package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"flowtrack/internal/config"
	"flowtrack/internal/daemon"
	"flowtrack/internal/media"
	"flowtrack/internal/testsupport"
)

type fileFetcher struct{}

func (fileFetcher) Fetch(_ context.Context, _ string, destDir string, onProgress media.ProgressFunc) (string, error) {
	onProgress(50, "00:01")
	onProgress(100, "00:00")
	path := filepath.Join(destDir, "episode_[abc].mp3")
	return path, os.WriteFile(path, []byte("audio bytes"), 0o644)
}

type textTranscriber struct{}

func (textTranscriber) Run(context.Context, string, string) (string, error) {
	return strings.Repeat("spoken words ", 10), nil
}

type cliTestEnv struct {
	cfg        *config.Config
	daemon     *daemon.Daemon
	configPath string
	apiURL     string
}

// setupCLITestEnv writes a config file and starts a daemon with stubbed
// download and transcription collaborators.
func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	cfg := testsupport.NewConfig(t)
	homeDir := filepath.Join(testsupport.BaseDir(cfg), "home")
	if err := os.MkdirAll(homeDir, 0o755); err != nil {
		t.Fatalf("mkdir home: %v", err)
	}
	t.Setenv("HOME", homeDir)

	configPath := filepath.Join(homeDir, ".config", "flowtrack", "config.toml")
	writeTestConfig(t, configPath, cfg)

	store := testsupport.MustOpenStore(t, cfg)
	d, err := daemon.New(cfg, store, nil,
		daemon.WithFetcher(fileFetcher{}),
		daemon.WithTranscriber(textTranscriber{}),
	)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if err := d.Start(ctx); err != nil {
		t.Fatalf("daemon start: %v", err)
	}

	return &cliTestEnv{
		cfg:        cfg,
		daemon:     d,
		configPath: configPath,
		apiURL:     "http://" + d.Addr(),
	}
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()

	data, err := cfg.Encode()
	if err != nil {
		t.Fatalf("encode config: %v", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir config dir: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func runCLI(t *testing.T, args []string, apiURL, configPath string) (string, string, error) {
	t.Helper()

	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)

	full := make([]string, 0, len(args)+4)
	if apiURL != "" {
		full = append(full, "--api", apiURL)
	}
	if configPath != "" {
		full = append(full, "--config", configPath)
	}
	full = append(full, args...)
	cmd.SetArgs(full)

	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func requireContains(t *testing.T, haystack, needle string) {
	t.Helper()
	if !strings.Contains(haystack, needle) {
		t.Fatalf("expected output to contain %q\nfull output:\n%s", needle, haystack)
	}
}
