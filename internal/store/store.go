// Package store persists inventory items and image persistence jobs.
package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/lab-inventory/internal/model"
	"github.com/sells-group/lab-inventory/internal/schema"
)

// ItemsTable is the table holding inventory items.
const ItemsTable = "items"

// ErrUnknownColumn is returned by ExistsAny for columns without a unique
// constraint.
var ErrUnknownColumn = eris.New("store: column is not a unique key")

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = eris.New("store: not found")

// ImageJobFilter specifies criteria for listing image jobs.
type ImageJobFilter struct {
	Status model.ImageJobStatus `json:"status,omitempty"`
	ItemID string               `json:"item_id,omitempty"`
	Limit  int                  `json:"limit,omitempty"`
}

// Store defines the persistence interface for the import pipeline.
type Store interface {
	// Items
	ExistsAny(ctx context.Context, column string, values []string) ([]string, error)
	InsertMany(ctx context.Context, recs []model.CanonicalRecord) ([]string, error)
	UpsertMany(ctx context.Context, recs []model.CanonicalRecord, conflict schema.Field) ([]string, error)
	GetItem(ctx context.Context, id string) (*Item, error)
	ReplaceItemImage(ctx context.Context, itemID, oldURL, newURL string) error

	// Image jobs
	CreateImageJobs(ctx context.Context, jobs []model.ImageJob) ([]model.ImageJob, error)
	ListImageJobs(ctx context.Context, filter ImageJobFilter) ([]model.ImageJob, error)
	UpdateImageJob(ctx context.Context, job model.ImageJob) error

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

// Item is a stored inventory item as read back from the store.
type Item struct {
	ID           string
	Name         string
	ItemCode     string
	SerialNumber string
	ImageURL     string
	Images       []model.Image
	DepartmentID string
}

// uniqueColumn validates column against the fields backed by unique
// constraints.
func uniqueColumn(column string) (string, error) {
	f, ok := schema.ParseField(column)
	if !ok {
		return "", eris.Wrapf(ErrUnknownColumn, "column %q", column)
	}
	for _, u := range schema.UniqueFields {
		if u == f {
			return f.Key(), nil
		}
	}
	return "", eris.Wrapf(ErrUnknownColumn, "column %q", column)
}

// replaceImage swaps oldURL for newURL in images and imageURL. It reports
// whether anything changed.
func replaceImage(images []model.Image, imageURL, oldURL, newURL string) ([]model.Image, string, bool) {
	changed := false
	out := make([]model.Image, len(images))
	for i, img := range images {
		if img.URL == oldURL {
			img.URL = newURL
			changed = true
		}
		out[i] = img
	}
	if imageURL == oldURL {
		imageURL = newURL
		changed = true
	}
	return out, imageURL, changed
}

var (
	_ Store = (*PostgresStore)(nil)
	_ Store = (*SQLiteStore)(nil)
)
