package services_test

import (
	"errors"
	"strings"
	"testing"

	"flowtrack/internal/flowstate"
	"flowtrack/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrExternalTool, "download", "yt-dlp", "failed", base)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"download", "yt-dlp", "failed"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestWrapDefaultsToTransient(t *testing.T) {
	err := services.Wrap(nil, "", "", "", nil)
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient marker, got %v", err)
	}
	if !strings.Contains(err.Error(), "service failure") {
		t.Fatalf("expected placeholder detail, got %q", err.Error())
	}
}

func TestFailureStateMapping(t *testing.T) {
	toolErr := services.Wrap(services.ErrExternalTool, "transcribe", "whisper", "exit 1", nil)
	if state := services.FailureState(toolErr, flowstate.StateProcessingFailed); state != flowstate.StateProcessingFailed {
		t.Fatalf("expected processing failed for tool error, got %s", state)
	}

	configErr := services.Wrap(services.ErrConfiguration, "download", "prepare", "missing binary", nil)
	if state := services.FailureState(configErr, flowstate.StateDownloadFailed); state != flowstate.StateError {
		t.Fatalf("expected error for configuration problem, got %s", state)
	}

	validationErr := services.Wrap(services.ErrValidation, "transcribe", "validate transcript", "too short", nil)
	if state := services.FailureState(validationErr, flowstate.StateProcessingFailed); state != flowstate.StateError {
		t.Fatalf("expected error for validation failure, got %s", state)
	}

	if state := services.FailureState(errors.New("x"), flowstate.StateDownloading); state != flowstate.StateError {
		t.Fatalf("expected non-failure fallback to collapse to error, got %s", state)
	}
}
