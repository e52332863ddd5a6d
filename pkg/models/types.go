package models

import "time"

// Item statuses as stored in the run ledger.
const (
	StatusPending  = "pending"
	StatusUploaded = "uploaded"
	StatusSkipped  = "skipped"
	StatusFailed   = "failed"
)

// FailureKind classifies a per-item transfer failure.
type FailureKind string

const (
	FailureValidation   FailureKind = "validation"
	FailureTransient    FailureKind = "transient"
	FailureConnectivity FailureKind = "connectivity"
	FailureHTTP         FailureKind = "http"
)

// Failure is one item the transfer engine could not upload.
type Failure struct {
	Index int
	Item  TransferItem
	Kind  FailureKind
	Err   error
}

// Outcome is the per-item result of a transfer, aligned with the input items.
type Outcome struct {
	Status           string
	TargetRecordID   string
	ContentVersionID string
	Kind             FailureKind
	Error            string
}

// TransferReport aggregates the outcome of one transfer stage.
type TransferReport struct {
	Succeeded int
	Skipped   int
	Failed    []Failure
	Outcomes  []Outcome
}

// HasFailures reports whether any item failed.
func (r *TransferReport) HasFailures() bool {
	return r != nil && len(r.Failed) > 0
}

// Run is one migration run as recorded in the ledger.
type Run struct {
	ID          string
	StartedAt   time.Time
	FinishedAt  *time.Time
	State       string
	SourceUser  string
	TargetUser  string
	ArchivePath string
	Error       string
}

// ItemRecord is one ledger row.
type ItemRecord struct {
	SourceRecordID   string
	Filename         string
	Size             int64
	TargetRecordID   string
	ContentVersionID string
	Status           string
	FailureKind      string
	Error            string
}
