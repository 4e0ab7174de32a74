package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

// Environment fallbacks consulted when the TOML value is empty.
const (
	EnvS3AccessKeyID     = "FLOWTRACK_S3_ACCESS_KEY_ID"
	EnvS3SecretAccessKey = "FLOWTRACK_S3_SECRET_ACCESS_KEY"
	EnvS3Bucket          = "FLOWTRACK_S3_BUCKET"
	EnvS3Endpoint        = "FLOWTRACK_S3_ENDPOINT"
	EnvNtfyTopic         = "FLOWTRACK_NTFY_TOPIC"
	EnvAPIToken          = "FLOWTRACK_API_TOKEN"
)

// loadEnvFiles applies .env files from the working directory and the config
// directory. Existing process variables are never overridden; .env.local in the
// working directory overrides both.
func loadEnvFiles(configDir string) error {
	candidates := []string{".env"}
	if configDir != "" && configDir != "." {
		candidates = append(candidates, filepath.Join(configDir, ".env"))
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("load %s: %w", path, err)
		}
	}
	if _, err := os.Stat(".env.local"); err == nil {
		if err := godotenv.Overload(".env.local"); err != nil {
			return fmt.Errorf("load .env.local: %w", err)
		}
	}
	return nil
}

func envFallback(current *string, key string) {
	if *current != "" {
		return
	}
	if value, ok := os.LookupEnv(key); ok {
		*current = value
	}
}
