package flowstate

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// State identifies one step of a job's lifecycle.
type State string

const (
	StateStart                State = "START"
	StatePreparingInput       State = "PREPARING_INPUT"
	StateDownloadStarting     State = "DOWNLOAD_STARTING"
	StateDownloading          State = "DOWNLOADING"
	StateDownloadFailed       State = "DOWNLOAD_FAILED"
	StateDownloadComplete     State = "DOWNLOAD_COMPLETE"
	StateUploadComplete       State = "UPLOAD_COMPLETE"
	StateLoadingModel         State = "LOADING_MODEL"
	StateProcessing           State = "PROCESSING"
	StateProcessingFailed     State = "PROCESSING_FAILED"
	StateProcessingComplete   State = "PROCESSING_COMPLETE"
	StateResultUploadStarting State = "RESULT_UPLOAD_STARTING"
	StateResultUploadComplete State = "RESULT_UPLOAD_COMPLETE"
	StateError                State = "ERROR"
	StateUnknown              State = "UNKNOWN"
)

// ErrUnknownState is returned when a string does not name a catalog state.
var ErrUnknownState = errors.New("unknown workflow state")

const missingJobID = "(not provided)"

// allStates lists the catalog in lifecycle order.
var allStates = []State{
	StateStart,
	StatePreparingInput,
	StateDownloadStarting,
	StateDownloading,
	StateDownloadFailed,
	StateDownloadComplete,
	StateUploadComplete,
	StateLoadingModel,
	StateProcessing,
	StateProcessingFailed,
	StateProcessingComplete,
	StateResultUploadStarting,
	StateResultUploadComplete,
	StateError,
	StateUnknown,
}

var descriptions = map[State]string{
	StateStart:                "The workflow ID {id} is being tracked.",
	StatePreparingInput:       "The input for workflow ID {id} is being prepared.",
	StateDownloadStarting:     "The audio for workflow ID {id} is starting to be downloaded.",
	StateDownloading:          "The audio for workflow ID {id} is currently being downloaded.",
	StateDownloadFailed:       "The audio download for workflow ID {id} failed.",
	StateDownloadComplete:     "The audio for workflow ID {id} has been successfully downloaded.",
	StateUploadComplete:       "The audio for workflow ID {id} has been uploaded to the store.",
	StateLoadingModel:         "The transcription model for workflow ID {id} is being loaded.",
	StateProcessing:           "Transcription for workflow ID {id} is in progress.",
	StateProcessingFailed:     "The transcription for workflow ID {id} failed.",
	StateProcessingComplete:   "Transcription for workflow ID {id} has been completed.",
	StateResultUploadStarting: "The transcript for workflow ID {id} is being uploaded.",
	StateResultUploadComplete: "The transcript for workflow ID {id} has been uploaded to the store.",
	StateError:                "An error occurred for workflow ID {id} during the workflow.",
	StateUnknown:              "The status of the workflow ID {id} is unknown.",
}

var ordinals = func() map[State]int {
	out := make(map[State]int, len(allStates))
	for i, state := range allStates {
		out[state] = i
	}
	return out
}()

var terminalStates = map[State]struct{}{
	StateDownloadFailed:       {},
	StateProcessingFailed:     {},
	StateResultUploadComplete: {},
	StateError:                {},
}

var labelCaser = cases.Title(language.English)

// AllStates returns the catalog in lifecycle order.
func AllStates() []State {
	out := make([]State, len(allStates))
	copy(out, allStates)
	return out
}

// ParseState converts a stable identifier into a State. Matching ignores case
// and surrounding whitespace.
func ParseState(value string) (State, error) {
	candidate := State(strings.ToUpper(strings.TrimSpace(value)))
	if candidate.Valid() {
		return candidate, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownState, value)
}

// Valid reports whether s is a member of the catalog.
func (s State) Valid() bool {
	_, ok := ordinals[s]
	return ok
}

// Terminal reports whether no further transitions are expected after s.
func (s State) Terminal() bool {
	_, ok := terminalStates[s]
	return ok
}

// Failure reports whether s records an unsuccessful outcome.
func (s State) Failure() bool {
	switch s {
	case StateDownloadFailed, StateProcessingFailed, StateError:
		return true
	default:
		return false
	}
}

// Ordinal returns the position of s in the catalog, or -1 for values outside it.
func (s State) Ordinal() int {
	if ord, ok := ordinals[s]; ok {
		return ord
	}
	return -1
}

// Label renders a human-friendly title such as "Download Complete".
func (s State) Label() string {
	if !s.Valid() {
		s = StateUnknown
	}
	return labelCaser.String(strings.ReplaceAll(strings.ToLower(string(s)), "_", " "))
}

func (s State) String() string {
	return string(s)
}

// Describe renders the state's description template for jobID.
func Describe(state State, jobID string) string {
	template, ok := descriptions[state]
	if !ok {
		template = descriptions[StateUnknown]
	}
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		jobID = missingJobID
	}
	return strings.ReplaceAll(template, "{id}", jobID)
}
