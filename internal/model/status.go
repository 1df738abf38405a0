package model

import (
	"strings"

	"github.com/rotisserie/eris"
)

// ImportMode selects how rows that already exist in the store are handled.
type ImportMode string

const (
	// ModeInsert skips rows whose unique keys already exist.
	ModeInsert ImportMode = "insert"
	// ModeUpsert updates rows whose item code already exists.
	ModeUpsert ImportMode = "upsert"
)

// ParseImportMode parses "insert" or "upsert" (case-insensitive).
func ParseImportMode(s string) (ImportMode, error) {
	switch ImportMode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeInsert:
		return ModeInsert, nil
	case ModeUpsert:
		return ModeUpsert, nil
	default:
		return "", eris.Errorf("model: unknown import mode %q", s)
	}
}

// RowState is the reconciliation outcome of a row.
type RowState string

const (
	RowNew       RowState = "new"
	RowUpdate    RowState = "update"
	RowDuplicate RowState = "duplicate"
	RowError     RowState = "error"
)

// RowStatus is the per-row reconciliation result.
type RowStatus struct {
	State   RowState `json:"state"`
	Message string   `json:"message,omitempty"`
}

// AllNew returns n statuses marked new.
func AllNew(n int) []RowStatus {
	out := make([]RowStatus, n)
	for i := range out {
		out[i] = RowStatus{State: RowNew}
	}
	return out
}

// StatusAt returns statuses[i], or a new status when i is out of range.
func StatusAt(statuses []RowStatus, i int) RowStatus {
	if i < 0 || i >= len(statuses) {
		return RowStatus{State: RowNew}
	}
	return statuses[i]
}
