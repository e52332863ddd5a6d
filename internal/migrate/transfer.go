package migrate

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/chmdznr/template-file-migrator/internal/salesforce"
	"github.com/chmdznr/template-file-migrator/pkg/models"
)

// PrecheckViolation is the panic value for a broken caller contract.
type PrecheckViolation struct {
	Msg string
}

func (p PrecheckViolation) Error() string {
	return "precheck violation: " + p.Msg
}

// TransferEngine uploads resolved files to their mapped target records.
type TransferEngine struct {
	log *zap.Logger
}

// NewTransferEngine returns a transfer engine.
func NewTransferEngine(log *zap.Logger) *TransferEngine {
	return &TransferEngine{log: log.Named("transfer")}
}

// titleOf strips the final extension segment from a filename. A name
// starting with its only dot, like ".hidden", has an empty title.
func titleOf(filename string) string {
	if i := strings.LastIndex(filename, "."); i >= 0 {
		return filename[:i]
	}
	return filename
}

func versionFields(item models.TransferItem, targetID string) map[string]any {
	return map[string]any{
		"Title":                  titleOf(item.Filename),
		"PathOnClient":           item.Filename,
		"VersionData":            base64.StdEncoding.EncodeToString(item.Payload),
		"FirstPublishLocationId": targetID,
	}
}

// classify maps an upload error to a failure kind.
func classify(err error) models.FailureKind {
	switch {
	case salesforce.IsSessionInvalid(err):
		return models.FailureConnectivity
	case salesforce.IsTransient(err), errors.Is(err, context.Canceled):
		return models.FailureTransient
	case salesforce.UploadError.Has(err):
		return models.FailureValidation
	default:
		return models.FailureHTTP
	}
}

// Transfer creates one ContentVersion per item whose target is mapped,
// published to the target record. items and targets are paired by
// position and must have the same length; a mismatch panics with
// PrecheckViolation before any request is made. Each item gets at most one
// attempt. A failed item does not stop the others, except when the
// session has been invalidated: the remaining mapped items then fail with
// the same connectivity error without being attempted.
func (e *TransferEngine) Transfer(ctx context.Context, tgt Session, items []models.TransferItem, targets []models.Target, progress ProgressFunc) *models.TransferReport {
	if len(items) != len(targets) {
		panic(PrecheckViolation{Msg: fmt.Sprintf("%d items paired with %d targets", len(items), len(targets))})
	}

	report := &models.TransferReport{Outcomes: make([]models.Outcome, len(items))}
	var sessionErr error

	for i, item := range items {
		target := targets[i]
		outcome := &report.Outcomes[i]
		outcome.TargetRecordID = target.RecordID

		if progress != nil {
			progress(i, len(items))
		}

		if !target.Mapped {
			report.Skipped++
			outcome.Status = models.StatusSkipped
			continue
		}

		err := sessionErr
		if err == nil {
			err = ctx.Err()
		}
		var id string
		if err == nil {
			id, err = tgt.CreateRecord(ctx, versionObject, versionFields(item, target.RecordID))
		}
		if err != nil {
			kind := classify(err)
			if kind == models.FailureConnectivity && sessionErr == nil {
				sessionErr = err
				e.log.Error("target session invalid, failing remaining items", zap.Error(err))
			}
			report.Failed = append(report.Failed, models.Failure{Index: i, Item: item, Kind: kind, Err: err})
			outcome.Status = models.StatusFailed
			outcome.Kind = kind
			outcome.Error = err.Error()
			e.log.Warn("upload failed",
				zap.String("file", item.Filename),
				zap.String("source", item.SourceRecordID),
				zap.String("target", target.RecordID),
				zap.String("kind", string(kind)),
				zap.Error(err))
			continue
		}

		report.Succeeded++
		outcome.Status = models.StatusUploaded
		outcome.ContentVersionID = id
		e.log.Debug("uploaded",
			zap.String("file", item.Filename),
			zap.String("target", target.RecordID),
			zap.String("version", id))
	}
	if progress != nil {
		progress(len(items), len(items))
	}

	e.log.Info("transfer finished",
		zap.Int("succeeded", report.Succeeded),
		zap.Int("skipped", report.Skipped),
		zap.Int("failed", len(report.Failed)))
	return report
}
