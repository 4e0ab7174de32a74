package pipeline

import (
	"net/url"
	"strings"

	"flowtrack/internal/services"
	"flowtrack/internal/transcribe"
)

// DownloadRequest asks for the audio of a remote URL. With Transcribe set the
// stored audio is transcribed by the same job.
type DownloadRequest struct {
	URL            string
	Transcribe     bool
	QualityProfile string
}

// TranscriptionRequest transcribes either uploaded bytes or an artifact that
// already exists in the audio folder. Exactly one of Data and ArtifactID
// must be set.
type TranscriptionRequest struct {
	ArtifactID     string
	Filename       string
	Data           []byte
	QualityProfile string
}

func (r DownloadRequest) validate() error {
	raw := strings.TrimSpace(r.URL)
	if raw == "" {
		return services.Wrap(services.ErrValidation, "download", "validate request", "url is required", nil)
	}
	parsed, err := url.Parse(raw)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return services.Wrap(services.ErrValidation, "download", "validate request", "url must be an absolute http(s) url", err)
	}
	if r.Transcribe {
		if _, err := transcribe.ModelForProfile(r.QualityProfile); err != nil {
			return err
		}
	}
	return nil
}

func (r TranscriptionRequest) validate() error {
	hasData := len(r.Data) > 0
	hasArtifact := strings.TrimSpace(r.ArtifactID) != ""
	switch {
	case hasData && hasArtifact:
		return services.Wrap(services.ErrValidation, "transcription", "validate request", "provide either an upload or an artifact id, not both", nil)
	case !hasData && !hasArtifact:
		return services.Wrap(services.ErrValidation, "transcription", "validate request", "an upload or an artifact id is required", nil)
	}
	if _, err := transcribe.ModelForProfile(r.QualityProfile); err != nil {
		return err
	}
	return nil
}
