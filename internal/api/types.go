package api

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// EventJob names the server-sent event carrying a Job payload.
const EventJob = "job"

// Job describes a workflow status record in a transport-friendly format.
type Job struct {
	ID                string `json:"id"`
	Kind              string `json:"kind"`
	State             string `json:"state"`
	Label             string `json:"label"`
	Description       string `json:"description"`
	Comment           string `json:"comment,omitempty"`
	Terminal          bool   `json:"terminal"`
	Settled           bool   `json:"settled"`
	PrimaryArtifactID string `json:"primaryArtifactId,omitempty"`
	ResultArtifactID  string `json:"resultArtifactId,omitempty"`
	SourceURL         string `json:"sourceUrl,omitempty"`
	Filename          string `json:"filename,omitempty"`
	QualityProfile    string `json:"qualityProfile,omitempty"`
	CreatedAt         string `json:"createdAt,omitempty"`
	LastModified      string `json:"lastModified,omitempty"`
}

// JobListResponse wraps the live jobs.
type JobListResponse struct {
	Jobs []Job `json:"jobs"`
}

// JobResponse wraps a single job.
type JobResponse struct {
	Job Job `json:"job"`
}

// ArtifactStatusResponse reports the durable status mirror of an artifact.
type ArtifactStatusResponse struct {
	ArtifactID string `json:"artifactId"`
	Job        Job    `json:"job"`
}

// DownloadJobRequest starts a download, optionally followed by transcription.
type DownloadJobRequest struct {
	URL            string `json:"url"`
	Transcribe     bool   `json:"transcribe"`
	QualityProfile string `json:"qualityProfile,omitempty"`
}

// TranscribeJobRequest transcribes an artifact already in the audio folder.
type TranscribeJobRequest struct {
	ArtifactID     string `json:"artifactId"`
	QualityProfile string `json:"qualityProfile,omitempty"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}
