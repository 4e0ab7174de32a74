package config

import (
	"fmt"
	"path/filepath"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	if err := c.normalizeStore(); err != nil {
		return err
	}
	c.normalizeMedia()
	c.normalizeTranscription()
	c.normalizeWorkflow()
	c.normalizeReconcile()
	c.normalizeNotifications()
	c.normalizeLogging()
	c.normalizeAPI()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.WorkDir) == "" {
		c.Paths.WorkDir = filepath.Join(c.Paths.DataDir, "work")
	}
	if c.Paths.WorkDir, err = expandPath(c.Paths.WorkDir); err != nil {
		return fmt.Errorf("paths.work_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeStore() error {
	c.Store.Backend = strings.ToLower(strings.TrimSpace(c.Store.Backend))
	if c.Store.Backend == "" {
		c.Store.Backend = BackendSQLite
	}
	if strings.TrimSpace(c.Store.SQLitePath) == "" {
		c.Store.SQLitePath = filepath.Join(c.Paths.DataDir, defaultSQLiteFile)
	}
	var err error
	if c.Store.SQLitePath, err = expandPath(c.Store.SQLitePath); err != nil {
		return fmt.Errorf("store.sqlite_path: %w", err)
	}
	c.Store.AudioFolder = strings.Trim(strings.TrimSpace(c.Store.AudioFolder), "/")
	if c.Store.AudioFolder == "" {
		c.Store.AudioFolder = defaultAudioFolder
	}
	c.Store.TranscriptFolder = strings.Trim(strings.TrimSpace(c.Store.TranscriptFolder), "/")
	if c.Store.TranscriptFolder == "" {
		c.Store.TranscriptFolder = defaultTranscriptFolder
	}

	s3 := &c.Store.S3
	envFallback(&s3.AccessKeyID, EnvS3AccessKeyID)
	envFallback(&s3.SecretAccessKey, EnvS3SecretAccessKey)
	envFallback(&s3.Bucket, EnvS3Bucket)
	envFallback(&s3.Endpoint, EnvS3Endpoint)
	s3.Bucket = strings.TrimSpace(s3.Bucket)
	s3.Endpoint = strings.TrimRight(strings.TrimSpace(s3.Endpoint), "/")
	s3.Prefix = strings.Trim(strings.TrimSpace(s3.Prefix), "/")
	s3.Region = strings.TrimSpace(s3.Region)
	if s3.Region == "" {
		s3.Region = defaultS3Region
	}
	return nil
}

func (c *Config) normalizeMedia() {
	c.Media.YTDLPBinary = strings.TrimSpace(c.Media.YTDLPBinary)
	if c.Media.YTDLPBinary == "" {
		c.Media.YTDLPBinary = defaultYTDLPBinary
	}
	c.Media.AudioFormat = strings.ToLower(strings.TrimSpace(c.Media.AudioFormat))
	if c.Media.AudioFormat == "" {
		c.Media.AudioFormat = defaultAudioFormat
	}
	if c.Media.TimeoutSeconds <= 0 {
		c.Media.TimeoutSeconds = defaultDownloadTimeout
	}
}

func (c *Config) normalizeTranscription() {
	t := &c.Transcription
	t.Command = strings.TrimSpace(t.Command)
	if t.Command == "" {
		t.Command = defaultTranscribeCommand
	}
	t.DefaultProfile = strings.TrimSpace(t.DefaultProfile)
	if t.DefaultProfile == "" {
		t.DefaultProfile = defaultQualityProfile
	}
	t.ComputeType = strings.ToLower(strings.TrimSpace(t.ComputeType))
	if t.ComputeType == "" {
		t.ComputeType = defaultComputeType
	}
	t.Language = strings.ToLower(strings.TrimSpace(t.Language))
	if t.MinTranscriptChars < 0 {
		t.MinTranscriptChars = 0
	}
	if t.TimeoutSeconds <= 0 {
		t.TimeoutSeconds = defaultTranscribeTimeout
	}
}

func (c *Config) normalizeWorkflow() {
	if c.Workflow.MaxConcurrentJobs <= 0 {
		c.Workflow.MaxConcurrentJobs = defaultMaxConcurrentJobs
	}
	if c.Workflow.RetentionSeconds < 0 {
		c.Workflow.RetentionSeconds = 0
	}
	if c.Workflow.PersistTimeoutSeconds <= 0 {
		c.Workflow.PersistTimeoutSeconds = defaultPersistTimeoutSeconds
	}
}

func (c *Config) normalizeReconcile() {
	if c.Reconcile.IntervalSeconds <= 0 {
		c.Reconcile.IntervalSeconds = defaultReconcileInterval
	}
}

func (c *Config) normalizeNotifications() {
	envFallback(&c.Notifications.NtfyTopic, EnvNtfyTopic)
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.RequestTimeout <= 0 {
		c.Notifications.RequestTimeout = defaultNotifyRequestTimeout
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}

func (c *Config) normalizeAPI() {
	c.API.Bind = strings.TrimSpace(c.API.Bind)
	if c.API.Bind == "" {
		c.API.Bind = defaultAPIBind
	}
	envFallback(&c.API.Token, EnvAPIToken)
	c.API.Token = strings.TrimSpace(c.API.Token)
}
