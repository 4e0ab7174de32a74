// Package config loads, normalizes, and validates flowtrack configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, applies .env files, and honours environment
// fallbacks such as FLOWTRACK_S3_ACCESS_KEY_ID. The Config type centralizes
// every knob the daemon and CLI need.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
