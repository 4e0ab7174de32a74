package api

import (
	"flowtrack/internal/flowstate"
)

// FromRecord converts a status record to its API representation.
func FromRecord(rec flowstate.Record) Job {
	dto := Job{
		ID:                rec.JobID,
		Kind:              string(rec.Kind),
		State:             string(rec.State),
		Label:             rec.State.Label(),
		Description:       rec.Description,
		Comment:           rec.Comment,
		Terminal:          rec.State.Terminal(),
		Settled:           rec.Settled(),
		PrimaryArtifactID: rec.PrimaryArtifactID,
		ResultArtifactID:  rec.ResultArtifactID,
		SourceURL:         rec.SourceURL,
		Filename:          rec.Filename,
		QualityProfile:    rec.QualityProfile,
	}
	if !rec.CreatedAt.IsZero() {
		dto.CreatedAt = rec.CreatedAt.UTC().Format(dateTimeFormat)
	}
	if !rec.LastModified.IsZero() {
		dto.LastModified = rec.LastModified.UTC().Format(dateTimeFormat)
	}
	return dto
}

// FromRecords converts a slice of records, preserving order.
func FromRecords(recs []flowstate.Record) []Job {
	out := make([]Job, 0, len(recs))
	for _, rec := range recs {
		out = append(out, FromRecord(rec))
	}
	return out
}
