package transcribe

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"unicode/utf8"

	"flowtrack/internal/services"
)

// Segment is one transcribed span from WhisperX JSON output.
type Segment struct {
	Text  string  `json:"text"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

type whisperXPayload struct {
	Segments []Segment `json:"segments"`
}

// LoadSegments reads segments from a WhisperX JSON file.
func LoadSegments(jsonPath string) ([]Segment, error) {
	data, err := os.ReadFile(jsonPath)
	if err != nil {
		return nil, err
	}
	var payload whisperXPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("parse whisperx json: %w", err)
	}
	return payload.Segments, nil
}

// JoinSegments concatenates segment text separated by single spaces.
func JoinSegments(segments []Segment) string {
	parts := make([]string, 0, len(segments))
	for _, seg := range segments {
		if text := strings.TrimSpace(seg.Text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " ")
}

// ValidateTranscript trims text and rejects transcripts shorter than
// minChars characters.
func ValidateTranscript(text string, minChars int) (string, error) {
	text = strings.TrimSpace(text)
	if n := utf8.RuneCountInString(text); n < minChars {
		return "", services.Wrap(services.ErrValidation, "transcribe", "validate transcript",
			fmt.Sprintf("transcript has %d characters, need at least %d", n, minChars), nil)
	}
	return text, nil
}
