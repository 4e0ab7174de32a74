package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"flowtrack/internal/flowstate"
	"flowtrack/internal/logging"
	"flowtrack/internal/services"
	"flowtrack/internal/transcribe"
	"flowtrack/internal/workflow"
)

// runTranscription prepares the input audio, from upload bytes or from the
// job's primary artifact, and then transcribes it.
func (r *Runner) runTranscription(ctx context.Context, jobID string, upload []byte) {
	ctx = services.WithStage(ctx, "transcription")

	rec, ok := r.tracker.Current(jobID)
	if !ok {
		return
	}

	prepare := workflow.Guard(r.tracker, jobID, "prepareInput", func(ctx context.Context) (string, error) {
		if err := r.advance(ctx, jobID, flowstate.StatePreparingInput, rec.Filename); err != nil {
			return "", err
		}
		return r.jobWorkDir(jobID)
	})
	workDir, err := prepare(ctx)
	if err != nil {
		return
	}
	defer os.RemoveAll(workDir)

	localPath := filepath.Join(workDir, inputName(rec))
	if len(upload) > 0 {
		save := workflow.GuardErr(r.tracker, jobID, "saveAudio", func(ctx context.Context) error {
			if err := os.WriteFile(localPath, upload, 0o644); err != nil {
				return services.Wrap(services.ErrTransient, "transcription", "write upload", localPath, err)
			}
			_, err := r.uploadAudio(ctx, jobID, localPath, filepath.Base(localPath))
			return err
		})
		if err := save(ctx); err != nil {
			return
		}
	} else {
		retrieve := workflow.GuardErr(r.tracker, jobID, "loadAudio", func(ctx context.Context) error {
			data, err := r.store.Download(ctx, rec.PrimaryArtifactID)
			if err != nil {
				return services.Wrap(services.ErrTransient, "transcription", "download artifact", rec.PrimaryArtifactID, err)
			}
			if err := os.WriteFile(localPath, data, 0o644); err != nil {
				return services.Wrap(services.ErrTransient, "transcription", "write input", localPath, err)
			}
			return nil
		}, workflow.WithFailureState(flowstate.StateDownloadFailed))
		if err := retrieve(ctx); err != nil {
			return
		}
	}

	r.transcribeLocal(ctx, jobID, localPath)
}

// transcribeLocal runs LoadingModel through ResultUploadComplete for a file
// already on local disk.
func (r *Runner) transcribeLocal(ctx context.Context, jobID, localPath string) {
	ctx = services.WithStage(ctx, "transcription")
	logger := logging.WithContext(ctx, r.logger)

	rec, ok := r.tracker.Current(jobID)
	if !ok {
		return
	}
	profile := rec.QualityProfile

	load := workflow.Guard(r.tracker, jobID, "loadModel", func(ctx context.Context) (string, error) {
		model, err := transcribe.ModelForProfile(profile)
		if err != nil {
			return "", err
		}
		if err := r.advance(ctx, jobID, flowstate.StateLoadingModel, model); err != nil {
			return "", err
		}
		return model, nil
	})
	model, err := load(ctx)
	if err != nil {
		return
	}

	infer := workflow.Guard(r.tracker, jobID, "transcribe", func(ctx context.Context) (string, error) {
		if err := r.advance(ctx, jobID, flowstate.StateProcessing, model); err != nil {
			return "", err
		}
		text, err := r.transcriber.Run(ctx, localPath, profile)
		if err != nil {
			return "", err
		}
		if err := r.advance(ctx, jobID, flowstate.StateProcessingComplete, fmt.Sprintf("%d characters", utf8.RuneCountInString(text))); err != nil {
			return "", err
		}
		return text, nil
	}, workflow.WithFailureState(flowstate.StateProcessingFailed))
	text, err := infer(ctx)
	if err != nil {
		return
	}

	save := workflow.Guard(r.tracker, jobID, "saveTranscript", func(ctx context.Context) (string, error) {
		if err := r.advance(ctx, jobID, flowstate.StateResultUploadStarting, ""); err != nil {
			return "", err
		}
		name := strings.TrimSuffix(filepath.Base(localPath), filepath.Ext(localPath)) + ".txt"
		id, err := r.store.Upload(ctx, []byte(text), r.cfg.Store.TranscriptFolder, name)
		if err != nil {
			return "", services.Wrap(services.ErrTransient, "transcription", "store transcript", name, err)
		}
		if err := r.advance(ctx, jobID, flowstate.StateResultUploadComplete, id, workflow.WithResultArtifact(id)); err != nil {
			return "", err
		}
		return id, nil
	})
	resultID, err := save(ctx)
	if err != nil {
		return
	}
	logger.Info("transcript stored",
		logging.String(logging.FieldEventType, "transcript_stored"),
		logging.String("result_artifact_id", resultID),
	)
}

func inputName(rec flowstate.Record) string {
	name := strings.TrimSpace(filepath.Base(rec.Filename))
	if name == "" || name == "." || name == string(filepath.Separator) {
		return safeSegment(rec.JobID) + ".audio"
	}
	return name
}
