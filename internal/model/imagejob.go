package model

import "time"

// ImageJobStatus is the lifecycle state of an image persistence job.
type ImageJobStatus string

const (
	ImageJobPending ImageJobStatus = "pending"
	ImageJobDone    ImageJobStatus = "done"
	ImageJobFailed  ImageJobStatus = "failed"
)

// ImageJob copies one selected external image of a committed item into the
// object store. Jobs are created after commit and may be retried without
// re-importing the item.
type ImageJob struct {
	ID        string         `json:"id"`
	ItemID    string         `json:"item_id"`
	Position  int            `json:"position"`
	SourceURL string         `json:"source_url"`
	Source    string         `json:"source,omitempty"`
	Status    ImageJobStatus `json:"status"`
	Attempts  int            `json:"attempts"`
	LastError string         `json:"last_error,omitempty"`
	ObjectURL string         `json:"object_url,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}
