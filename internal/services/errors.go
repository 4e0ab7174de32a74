package services

import (
	"errors"
	"fmt"
	"strings"

	"flowtrack/internal/flowstate"
)

var (
	ErrExternalTool  = errors.New("external tool error")
	ErrValidation    = errors.New("validation error")
	ErrConfiguration = errors.New("configuration error")
	ErrNotFound      = errors.New("not found")
	ErrTimeout       = errors.New("timeout")
	ErrTransient     = errors.New("transient failure")
	ErrOperation     = errors.New("operation failed")
	ErrNotification  = errors.New("notification failed")
)

// Wrap builds an error message that includes stage context while tagging it with
// the provided marker for later classification. The marker should be one of the
// exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// FailureState maps a step error to the state a job should settle in. Step
// failures normally land in fallback, which callers set to the retryable
// failure state for the step. Configuration problems and invalid input
// cannot be fixed by a retry and always land in Error.
func FailureState(err error, fallback flowstate.State) flowstate.State {
	if !fallback.Failure() {
		fallback = flowstate.StateError
	}
	switch {
	case err == nil:
		return fallback
	case errors.Is(err, ErrConfiguration), errors.Is(err, ErrValidation):
		return flowstate.StateError
	default:
		return fallback
	}
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
