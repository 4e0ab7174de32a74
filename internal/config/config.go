package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	DataDir string `toml:"data_dir"`
	WorkDir string `toml:"work_dir"`
	LogDir  string `toml:"log_dir"`
}

// S3 contains settings for the S3-compatible object store backend.
type S3 struct {
	Bucket          string `toml:"bucket"`
	Region          string `toml:"region"`
	Endpoint        string `toml:"endpoint"`
	Prefix          string `toml:"prefix"`
	AccessKeyID     string `toml:"access_key_id"`
	SecretAccessKey string `toml:"secret_access_key"`
	UsePathStyle    bool   `toml:"use_path_style"`
}

// Store selects and configures the durable artifact store.
type Store struct {
	Backend          string `toml:"backend"`
	SQLitePath       string `toml:"sqlite_path"`
	AudioFolder      string `toml:"audio_folder"`
	TranscriptFolder string `toml:"transcript_folder"`
	S3               S3     `toml:"s3"`
}

// Media contains configuration for the audio downloader.
type Media struct {
	YTDLPBinary    string `toml:"ytdlp_binary"`
	AudioFormat    string `toml:"audio_format"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Transcription contains configuration for the speech-to-text engine.
type Transcription struct {
	Command            string `toml:"command"`
	DefaultProfile     string `toml:"default_profile"`
	ComputeType        string `toml:"compute_type"`
	CUDAEnabled        bool   `toml:"cuda_enabled"`
	Language           string `toml:"language"`
	MinTranscriptChars int    `toml:"min_transcript_chars"`
	TimeoutSeconds     int    `toml:"timeout_seconds"`
}

// Workflow contains configuration for job execution and record retention.
type Workflow struct {
	MaxConcurrentJobs     int `toml:"max_concurrent_jobs"`
	RetentionSeconds      int `toml:"retention_seconds"`
	PersistTimeoutSeconds int `toml:"persist_timeout_seconds"`
}

// Reconcile contains configuration for the store monitor.
type Reconcile struct {
	Enabled         bool `toml:"enabled"`
	IntervalSeconds int  `toml:"interval_seconds"`
	AutoTranscribe  bool `toml:"auto_transcribe"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	Completions    bool   `toml:"completions"`
	Failures       bool   `toml:"failures"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// API contains configuration for the HTTP surface.
type API struct {
	Bind  string `toml:"bind"`
	Token string `toml:"token"`
}

// Config encapsulates all configuration values for flowtrack.
//
// Configuration sections by subsystem:
//   - Paths: data, scratch and log directories
//   - Store: artifact store backend (sqlite or s3) and folder names
//   - Media: yt-dlp downloader settings
//   - Transcription: whisper engine settings and transcript validation
//   - Workflow: job concurrency and in-memory record retention
//   - Reconcile: periodic monitor of the audio folder
//   - Notifications: ntfy push notification settings
//   - Logging: log format and level
//   - API: HTTP bind address and bearer token
type Config struct {
	Paths         Paths         `toml:"paths"`
	Store         Store         `toml:"store"`
	Media         Media         `toml:"media"`
	Transcription Transcription `toml:"transcription"`
	Workflow      Workflow      `toml:"workflow"`
	Reconcile     Reconcile     `toml:"reconcile"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
	API           API           `toml:"api"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized. Dotenv files are applied before environment
// fallbacks are read.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if err := loadEnvFiles(filepath.Dir(resolvedPath)); err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("flowtrack.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.WorkDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	if c.Store.Backend == BackendSQLite {
		if err := os.MkdirAll(filepath.Dir(c.Store.SQLitePath), 0o755); err != nil {
			return fmt.Errorf("create store directory: %w", err)
		}
	}
	return nil
}

// LockPath returns the single-instance lock file location.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.DataDir, "flowtrack.lock")
}

// RetentionWindow returns how long finished records stay in memory.
func (c *Config) RetentionWindow() time.Duration {
	return time.Duration(c.Workflow.RetentionSeconds) * time.Second
}

// PersistTimeout bounds detached failure persistence.
func (c *Config) PersistTimeout() time.Duration {
	return time.Duration(c.Workflow.PersistTimeoutSeconds) * time.Second
}

// ReconcileInterval returns the pause between monitor passes.
func (c *Config) ReconcileInterval() time.Duration {
	return time.Duration(c.Reconcile.IntervalSeconds) * time.Second
}

// DownloadTimeout bounds a single yt-dlp invocation.
func (c *Config) DownloadTimeout() time.Duration {
	return time.Duration(c.Media.TimeoutSeconds) * time.Second
}

// TranscriptionTimeout bounds a single whisper invocation.
func (c *Config) TranscriptionTimeout() time.Duration {
	return time.Duration(c.Transcription.TimeoutSeconds) * time.Second
}

// APIBaseURL returns the URL CLI clients use to reach the daemon.
func (c *Config) APIBaseURL() string {
	bind := c.API.Bind
	if strings.HasPrefix(bind, ":") {
		bind = "127.0.0.1" + bind
	}
	return "http://" + bind
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// SampleConfig returns the embedded sample configuration.
func SampleConfig() string {
	return sampleConfig
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// Encode renders the effective configuration as TOML with secrets masked.
func (c *Config) Encode() ([]byte, error) {
	masked := *c
	masked.Store.S3.SecretAccessKey = mask(masked.Store.S3.SecretAccessKey)
	masked.API.Token = mask(masked.API.Token)
	return toml.Marshal(masked)
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}
	return "********"
}
