package models

// Stats represents ledger statistics for one run
type Stats struct {
	TotalFiles    int64
	TotalSize     int64
	UploadedFiles int64
	UploadedSize  int64
	SkippedFiles  int64
	SkippedSize   int64
	FailedFiles   int64
	FailedSize    int64
}

// ResolveStats counts what the version resolver saw and what it left out.
type ResolveStats struct {
	LinkedRecords int // records with at least one document link
	NoVersion     int // documents whose version query returned nothing
	FetchFailed   int // versions whose payload could not be downloaded
	Resolved      int
}

// Excluded returns the number of linked records that produced no item.
func (s ResolveStats) Excluded() int {
	return s.NoVersion + s.FetchFailed
}
