package config

import (
	"errors"
	"fmt"
	"net"
)

var validComputeTypes = map[string]struct{}{
	"float16": {},
	"float32": {},
	"int8":    {},
}

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateStore(); err != nil {
		return err
	}
	if err := c.validateTranscription(); err != nil {
		return err
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	if err := c.validateAPI(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateStore() error {
	switch c.Store.Backend {
	case BackendSQLite:
		if c.Store.SQLitePath == "" {
			return errors.New("store.sqlite_path must be set for the sqlite backend")
		}
	case BackendS3:
		if c.Store.S3.Bucket == "" {
			return fmt.Errorf("store.s3.bucket is required for the s3 backend. Set %s or edit the config file", EnvS3Bucket)
		}
		if (c.Store.S3.AccessKeyID == "") != (c.Store.S3.SecretAccessKey == "") {
			return errors.New("store.s3.access_key_id and store.s3.secret_access_key must be set together")
		}
	default:
		return fmt.Errorf("store.backend: unsupported value %q (want sqlite or s3)", c.Store.Backend)
	}
	if c.Store.AudioFolder == c.Store.TranscriptFolder {
		return errors.New("store.audio_folder and store.transcript_folder must differ")
	}
	return nil
}

func (c *Config) validateTranscription() error {
	if _, ok := validComputeTypes[c.Transcription.ComputeType]; !ok {
		return fmt.Errorf("transcription.compute_type: unsupported value %q", c.Transcription.ComputeType)
	}
	return nil
}

func (c *Config) validateWorkflow() error {
	if c.Workflow.MaxConcurrentJobs > 64 {
		return errors.New("workflow.max_concurrent_jobs must be 64 or less")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}

func (c *Config) validateAPI() error {
	if _, _, err := net.SplitHostPort(c.API.Bind); err != nil {
		return fmt.Errorf("api.bind: %w", err)
	}
	return nil
}
