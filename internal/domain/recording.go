package domain

import "time"

// Recording is a finalized call recording. Immutable once created; deletion
// is an explicit operation distinct from upload-session cancellation.
type Recording struct {
	ID            string
	OwnerRecordID string
	Filename      string
	Path          string
	SizeBytes     int64
	S3Location    string
	CreatedAt     time.Time
}
