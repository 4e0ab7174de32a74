package flowstate

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Kind classifies the job a record tracks.
type Kind string

const (
	KindDownload      Kind = "download"
	KindTranscription Kind = "transcription"
)

// ParseKind validates a job kind supplied by a caller.
func ParseKind(value string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(value))) {
	case KindDownload:
		return KindDownload, nil
	case KindTranscription, "":
		return KindTranscription, nil
	default:
		return "", fmt.Errorf("unsupported job kind %q", value)
	}
}

// Record describes one job's current state. Values are treated as immutable
// once published; use the With* helpers to derive updated copies.
type Record struct {
	JobID             string    `json:"id"`
	Kind              Kind      `json:"kind,omitempty"`
	State             State     `json:"state"`
	Description       string    `json:"description,omitempty"`
	Comment           string    `json:"comment,omitempty"`
	PrimaryArtifactID string    `json:"primary_artifact_id,omitempty"`
	ResultArtifactID  string    `json:"result_artifact_id,omitempty"`
	SourceURL         string    `json:"source_url,omitempty"`
	Filename          string    `json:"filename,omitempty"`
	QualityProfile    string    `json:"quality_profile,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	LastModified      time.Time `json:"last_modified"`
}

// NewRecord returns a record in the Start state. jobID must not be empty.
func NewRecord(jobID string, kind Kind, now time.Time) (Record, error) {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return Record{}, fmt.Errorf("record requires a job id")
	}
	now = normalizeTime(now)
	return Record{
		JobID:        jobID,
		Kind:         kind,
		State:        StateStart,
		Description:  Describe(StateStart, jobID),
		CreatedAt:    now,
		LastModified: now,
	}, nil
}

// WithState returns a copy moved to state with the given comment. The
// modification time never moves backwards.
func (r Record) WithState(state State, comment string, now time.Time) Record {
	next := r
	next.State = state
	next.Comment = strings.TrimSpace(comment)
	next.Description = Describe(state, r.JobID)
	next.LastModified = laterOf(r.LastModified, normalizeTime(now))
	return next
}

// Touch returns a copy with LastModified advanced to now.
func (r Record) Touch(now time.Time) Record {
	next := r
	next.LastModified = laterOf(r.LastModified, normalizeTime(now))
	return next
}

// Settled reports whether the job needs no further work. A download job
// finishes once its audio is stored.
func (r Record) Settled() bool {
	if r.State.Terminal() {
		return true
	}
	return r.Kind == KindDownload && r.State == StateUploadComplete
}

// Summary renders the record as a single status line.
func (r Record) Summary() string {
	if r.Comment == "" {
		return fmt.Sprintf("%s: %s", r.State, r.Description)
	}
	return fmt.Sprintf("%s: %s (%s)", r.State, r.Description, r.Comment)
}

// Equal reports whether two records carry the same values. Timestamps are
// compared as instants.
func (r Record) Equal(other Record) bool {
	a, b := r, other
	if !a.CreatedAt.Equal(b.CreatedAt) || !a.LastModified.Equal(b.LastModified) {
		return false
	}
	a.CreatedAt, b.CreatedAt = time.Time{}, time.Time{}
	a.LastModified, b.LastModified = time.Time{}, time.Time{}
	return a == b
}

// Marshal encodes the record as the flat JSON document stored in artifact
// metadata and streamed to subscribers.
func (r Record) Marshal() ([]byte, error) {
	return json.Marshal(r)
}

// Unmarshal decodes a record previously produced by Marshal.
func Unmarshal(data []byte) (Record, error) {
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, err
	}
	if strings.TrimSpace(rec.JobID) == "" {
		return Record{}, fmt.Errorf("decode record: missing id")
	}
	if rec.State == "" {
		rec.State = StateUnknown
	}
	return rec, nil
}

// MarshalText renders the stable identifier.
func (s State) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownState, string(s))
	}
	return []byte(s), nil
}

// UnmarshalText accepts only catalog identifiers.
func (s *State) UnmarshalText(text []byte) error {
	parsed, err := ParseState(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

func normalizeTime(t time.Time) time.Time {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Round(0)
}

func laterOf(prev, next time.Time) time.Time {
	if next.Before(prev) {
		return prev
	}
	return next
}
