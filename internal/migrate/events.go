package migrate

import (
	"fmt"

	"github.com/chmdznr/template-file-migrator/pkg/models"
)

// State is a pipeline state.
type State string

const (
	StateIdle            State = "idle"
	StateAuthenticating  State = "authenticating"
	StateResolving       State = "resolving"
	StateMapping         State = "mapping"
	StateTransferring    State = "transferring"
	StateArchiving       State = "archiving"
	StateDone            State = "done"
	StatePartiallyFailed State = "partially_failed"
	StateFailed          State = "failed"
)

// Terminal reports whether s ends a run.
func (s State) Terminal() bool {
	return s == StateDone || s == StatePartiallyFailed || s == StateFailed
}

// Stage labels shown to the user.
const (
	LabelAuthenticating = "Authenticating…"
	LabelQuerying       = "Querying…"
	LabelDownloading    = "Downloading…"
	LabelMapping        = "Mapping…"
	LabelUploading      = "Uploading…"
	LabelArchiving      = "Archiving…"
)

// EventKind distinguishes events.
type EventKind int

const (
	// EventStage announces a new stage label.
	EventStage EventKind = iota
	// EventProgress reports Done out of Total for the current stage.
	EventProgress
	// EventFinished is the last event of a run and carries the Result.
	EventFinished
)

// Event is sent to the Observer while a run progresses.
type Event struct {
	Kind   EventKind
	State  State
	Label  string
	Done   int
	Total  int
	Result *Result
}

// Observer receives events. Calls are serialized, but progress events of
// the download stage arrive from worker goroutines.
type Observer func(Event)

// ProgressFunc reports done out of total for one stage.
type ProgressFunc func(done, total int)

// Summary is the short, user-facing description of a finished run.
func (r *Result) Summary() string {
	if r == nil {
		return ""
	}
	report := r.Report
	if report == nil {
		report = &models.TransferReport{}
	}
	switch r.State {
	case StateFailed:
		return fmt.Sprintf("migration failed: %v (uploaded %d, skipped %d, failed %d)",
			r.Err, report.Succeeded, report.Skipped, len(report.Failed))
	case StatePartiallyFailed:
		return fmt.Sprintf("migration finished with errors: uploaded %d, skipped %d, failed %d, excluded %d",
			report.Succeeded, report.Skipped, len(report.Failed), r.Resolve.Excluded())
	default:
		return fmt.Sprintf("migration complete: uploaded %d, skipped %d, excluded %d",
			report.Succeeded, report.Skipped, r.Resolve.Excluded())
	}
}
