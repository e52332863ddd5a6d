package models

// TransferItem is one resolved file awaiting its mapped destination.
type TransferItem struct {
	SourceRecordID string
	DocumentID     string
	VersionID      string
	Filename       string
	Payload        []byte
}

// Size returns the payload length in bytes.
func (i TransferItem) Size() int64 {
	return int64(len(i.Payload))
}

// Target is the destination of a TransferItem in the target store.
// Mapped is false when no target record shares the source record's key.
type Target struct {
	RecordID string
	Mapped   bool
}

// Unmapped is the explicit marker for a source record with no target.
var Unmapped = Target{}

// MappedTo returns a Target pointing at the given record.
func MappedTo(recordID string) Target {
	return Target{RecordID: recordID, Mapped: true}
}
