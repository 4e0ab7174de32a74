package objectstore

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"flowtrack/internal/config"
	"flowtrack/internal/textutil"
)

// ErrObjectNotFound is returned when an object id does not resolve.
var ErrObjectNotFound = errors.New("object not found")

// ErrInvalidFolder is returned for folder names outside [a-z0-9_-].
var ErrInvalidFolder = errors.New("invalid folder name")

// Object describes a stored artifact without its content.
type Object struct {
	ID          string
	Folder      string
	Name        string
	Size        int64
	HasMetadata bool
	CreatedAt   time.Time
}

// Store is the durable artifact store used by the pipelines and the status
// adapter. GetMetadata returns nil data without error when the object exists
// but carries no metadata.
type Store interface {
	Upload(ctx context.Context, data []byte, folder, name string) (string, error)
	Download(ctx context.Context, id string) ([]byte, error)
	SetMetadata(ctx context.Context, id string, metadata []byte) error
	GetMetadata(ctx context.Context, id string) ([]byte, error)
	Exists(ctx context.Context, id string) (bool, error)
	List(ctx context.Context, folder string) ([]Object, error)
	Close() error
}

// Open builds the backend selected by cfg.Store.Backend.
func Open(ctx context.Context, cfg *config.Config) (Store, error) {
	if cfg == nil {
		return nil, errors.New("objectstore: config required")
	}
	switch cfg.Store.Backend {
	case config.BackendSQLite, "":
		return OpenSQLite(ctx, cfg.Store.SQLitePath)
	case config.BackendS3:
		return NewS3Store(ctx, cfg.Store.S3, []string{cfg.Store.AudioFolder, cfg.Store.TranscriptFolder})
	default:
		return nil, fmt.Errorf("objectstore: unsupported backend %q", cfg.Store.Backend)
	}
}

var folderPattern = regexp.MustCompile(`^[a-z0-9_-]+$`)

func validateFolder(folder string) (string, error) {
	folder = strings.TrimSpace(folder)
	if !folderPattern.MatchString(folder) {
		return "", fmt.Errorf("%w: %q", ErrInvalidFolder, folder)
	}
	return folder, nil
}

func sanitizeName(name string) string {
	name = strings.TrimSpace(name)
	if idx := strings.LastIndexAny(name, `/\`); idx >= 0 {
		name = name[idx+1:]
	}
	name = textutil.SanitizeFileName(name)
	if name == "" {
		return "artifact"
	}
	return name
}

func newObjectID() string {
	return uuid.NewString()
}

func validID(id string) bool {
	_, err := uuid.Parse(strings.TrimSpace(id))
	return err == nil
}
