package pipeline

import (
	"context"
	"os"
	"path/filepath"

	"flowtrack/internal/flowstate"
	"flowtrack/internal/logging"
	"flowtrack/internal/media"
	"flowtrack/internal/services"
	"flowtrack/internal/workflow"
)

// runDownload drives PreparingInput through UploadComplete and, when
// requested, continues with transcription of the stored audio.
func (r *Runner) runDownload(ctx context.Context, jobID string, req DownloadRequest) {
	ctx = services.WithStage(ctx, "download")
	logger := logging.WithContext(ctx, r.logger)

	prepare := workflow.Guard(r.tracker, jobID, "prepareInput", func(ctx context.Context) (string, error) {
		if err := r.advance(ctx, jobID, flowstate.StatePreparingInput, req.URL); err != nil {
			return "", err
		}
		return r.jobWorkDir(jobID)
	})
	workDir, err := prepare(ctx)
	if err != nil {
		return
	}
	defer os.RemoveAll(workDir)

	sampler := logging.NewProgressSampler(25)
	fetch := workflow.Guard(r.tracker, jobID, "downloadAudio", func(ctx context.Context) (string, error) {
		if err := r.advance(ctx, jobID, flowstate.StateDownloadStarting, ""); err != nil {
			return "", err
		}
		return r.fetcher.Fetch(ctx, req.URL, workDir, func(percent float64, eta string) {
			progress := media.Progress{Percent: percent, ETA: eta}
			_ = r.advance(ctx, jobID, flowstate.StateDownloading, progress.Comment())
			if sampler.ShouldLog(percent, "download") {
				logger.Debug("download progress", logging.Float64("percent", percent), logging.String("eta", eta))
			}
		})
	}, workflow.WithFailureState(flowstate.StateDownloadFailed))
	localPath, err := fetch(ctx)
	if err != nil {
		return
	}

	store := workflow.Guard(r.tracker, jobID, "saveAudio", func(ctx context.Context) (string, error) {
		name := filepath.Base(localPath)
		if err := r.advance(ctx, jobID, flowstate.StateDownloadComplete, name); err != nil {
			return "", err
		}
		return r.uploadAudio(ctx, jobID, localPath, name)
	})
	artifactID, err := store(ctx)
	if err != nil {
		return
	}
	logger.Info("audio stored",
		logging.String(logging.FieldEventType, "audio_stored"),
		logging.Artifact(artifactID),
	)

	if !req.Transcribe {
		return
	}
	r.transcribeLocal(ctx, jobID, localPath)
}

// uploadAudio stores the file in the audio folder, binds it to the job and
// records UploadComplete.
func (r *Runner) uploadAudio(ctx context.Context, jobID, localPath, name string) (string, error) {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return "", services.Wrap(services.ErrTransient, "upload", "read audio", localPath, err)
	}
	artifactID, err := r.store.Upload(ctx, data, r.cfg.Store.AudioFolder, name)
	if err != nil {
		return "", services.Wrap(services.ErrTransient, "upload", "store audio", name, err)
	}
	if err := r.attach(ctx, jobID, artifactID); err != nil {
		return "", err
	}
	if err := r.advance(ctx, jobID, flowstate.StateUploadComplete, artifactID); err != nil {
		return "", err
	}
	return artifactID, nil
}
