package transcribe

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/text/language"

	"flowtrack/internal/config"
	"flowtrack/internal/services"
)

// WhisperX invocation constants.
const (
	UVXCommand     = "uvx"
	CUDAIndexURL   = "https://download.pytorch.org/whl/cu128"
	PypiIndexURL   = "https://pypi.org/simple"
	BatchSize      = "4"
	OutputFormat   = "json"
	CPUDevice      = "cpu"
	CUDADevice     = "cuda"
	CPUComputeType = "float32"
)

// CommandRunner executes an external command.
type CommandRunner func(ctx context.Context, name string, args ...string) error

// Engine transcribes local audio files.
type Engine struct {
	cfg     config.Transcription
	workDir string
	runner  CommandRunner
}

// NewEngine builds an engine. workDir holds per-run scratch directories and
// defaults to the system temp directory.
func NewEngine(cfg config.Transcription, workDir string) *Engine {
	if cfg.Command == "" {
		cfg.Command = UVXCommand
	}
	return &Engine{cfg: cfg, workDir: workDir}
}

// WithCommandRunner sets a custom command runner (for testing).
func (e *Engine) WithCommandRunner(runner CommandRunner) {
	e.runner = runner
}

// DefaultProfile reports the configured profile used when callers pass none.
func (e *Engine) DefaultProfile() string {
	if e.cfg.DefaultProfile != "" {
		return e.cfg.DefaultProfile
	}
	return DefaultProfile
}

// Run transcribes path with the model selected by profile and returns the
// validated transcript text. Unknown profiles and short transcripts are
// services.ErrValidation; tool failures are services.ErrExternalTool.
func (e *Engine) Run(ctx context.Context, path, profile string) (string, error) {
	if strings.TrimSpace(profile) == "" {
		profile = e.DefaultProfile()
	}
	model, err := ModelForProfile(profile)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", services.Wrap(services.ErrValidation, "transcribe", "open input", "audio file does not exist: "+path, err)
		}
		return "", services.Wrap(services.ErrTransient, "transcribe", "open input", path, err)
	}
	if info.IsDir() {
		return "", services.Wrap(services.ErrValidation, "transcribe", "open input", "audio path is a directory: "+path, nil)
	}

	outputDir, err := os.MkdirTemp(e.workDir, "transcribe-*")
	if err != nil {
		return "", services.Wrap(services.ErrTransient, "transcribe", "prepare scratch", "", err)
	}
	defer os.RemoveAll(outputDir)

	runCtx := ctx
	if e.cfg.TimeoutSeconds > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, time.Duration(e.cfg.TimeoutSeconds)*time.Second)
		defer cancel()
	}

	args := e.buildArgs(path, outputDir, model)
	if err := e.run(runCtx, e.cfg.Command, args...); err != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return "", services.Wrap(services.ErrTimeout, "transcribe", "whisperx", fmt.Sprintf("no result after %ds", e.cfg.TimeoutSeconds), err)
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", services.Wrap(services.ErrExternalTool, "transcribe", "whisperx", "", err)
	}

	baseName := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	segments, err := LoadSegments(filepath.Join(outputDir, baseName+".json"))
	if err != nil {
		return "", services.Wrap(services.ErrExternalTool, "transcribe", "read result", "", err)
	}
	return ValidateTranscript(JoinSegments(segments), e.cfg.MinTranscriptChars)
}

func (e *Engine) run(ctx context.Context, name string, args ...string) error {
	if e.runner != nil {
		return e.runner(ctx, name, args...)
	}
	cmd := exec.CommandContext(ctx, name, args...) //nolint:gosec

	// Torch 2.6 changed torch.load default to weights_only=true, breaking WhisperX checkpoints.
	if os.Getenv("TORCH_FORCE_NO_WEIGHTS_ONLY_LOAD") == "" {
		cmd.Env = append(os.Environ(), "TORCH_FORCE_NO_WEIGHTS_ONLY_LOAD=1")
	}

	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("%s: %w: %s", name, err, tail(strings.TrimSpace(string(output)), 512))
	}
	return nil
}

// buildArgs constructs the command line. When the command is uvx the
// whisperx package is resolved from the configured index.
func (e *Engine) buildArgs(source, outputDir, model string) []string {
	args := make([]string, 0, 24)
	if filepath.Base(e.cfg.Command) == UVXCommand {
		if e.cfg.CUDAEnabled {
			args = append(args, "--index-url", CUDAIndexURL, "--extra-index-url", PypiIndexURL)
		} else {
			args = append(args, "--index-url", PypiIndexURL)
		}
		args = append(args, "whisperx")
	}

	args = append(args,
		source,
		"--model", model,
		"--batch_size", BatchSize,
		"--output_dir", outputDir,
		"--output_format", OutputFormat,
	)

	if lang := isoLanguage(e.cfg.Language); lang != "" {
		args = append(args, "--language", lang)
	}

	if e.cfg.CUDAEnabled {
		computeType := e.cfg.ComputeType
		if computeType == "" {
			computeType = "float16"
		}
		args = append(args, "--device", CUDADevice, "--compute_type", computeType)
	} else {
		computeType := e.cfg.ComputeType
		if computeType == "" || computeType == "float16" {
			computeType = CPUComputeType
		}
		args = append(args, "--device", CPUDevice, "--compute_type", computeType)
	}
	return args
}

// isoLanguage reduces a BCP 47 tag such as "en-US" to its two-letter base.
func isoLanguage(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	tag, err := language.Parse(value)
	if err != nil {
		return ""
	}
	base, confidence := tag.Base()
	if confidence == language.No {
		return ""
	}
	return base.String()
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
