// Package reconcile classifies rows against keys already persisted in the
// record store using chunked existence queries.
package reconcile

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lab-inventory/internal/mapping"
	"github.com/sells-group/lab-inventory/internal/model"
	"github.com/sells-group/lab-inventory/internal/schema"
)

// DefaultChunkSize bounds the number of values sent per existence query.
const DefaultChunkSize = 100

// ExistenceChecker returns the subset of values present in column.
type ExistenceChecker interface {
	ExistsAny(ctx context.Context, column string, values []string) ([]string, error)
}

// Policy decides what happens to rows whose keys could not be checked.
type Policy string

const (
	// PolicyProceed treats unchecked keys as not found.
	PolicyProceed Policy = "proceed"
	// PolicyFail marks rows with unchecked keys as errors.
	PolicyFail Policy = "fail"
)

// ParsePolicy parses a policy name; empty means proceed.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(strings.ToLower(strings.TrimSpace(s))) {
	case "", PolicyProceed:
		return PolicyProceed, nil
	case PolicyFail:
		return PolicyFail, nil
	default:
		return "", eris.Errorf("reconcile: unknown policy %q", s)
	}
}

// UnverifiedMessage is attached to rows whose keys could not be checked.
const UnverifiedMessage = "existence unverified: store lookup failed"

// Options configures a reconciliation.
type Options struct {
	Mode      model.ImportMode
	ChunkSize int
	Policy    Policy
}

// Result is the outcome of a reconciliation.
type Result struct {
	Statuses []model.RowStatus `json:"-"`
	// Calls is the number of existence queries issued, retries included.
	Calls int `json:"calls"`
	// FailedChunks counts chunk queries that errored.
	FailedChunks int `json:"failed_chunks"`
	// Unverified counts rows carrying at least one unchecked key.
	Unverified int `json:"unverified"`
	Matched    int `json:"matched"`
}

// Degraded reports whether any chunk query failed, even if its values were
// then checked individually.
func (r Result) Degraded() bool { return r.FailedChunks > 0 }

type keyState struct {
	matched    map[string]bool
	unverified map[string]bool
}

// Rows classifies each row as new, update, duplicate or error. Unique-key
// columns are queried one chunk at a time in file order. The values of a
// failed chunk are retried one by one, once; values that still fail are
// handled per opts.Policy. Only context cancellation is returned as an error.
func Rows(ctx context.Context, rows []model.SourceRow, m *mapping.Mapping, checker ExistenceChecker, opts Options) (Result, error) {
	if checker == nil {
		return Result{}, eris.New("reconcile: no existence checker")
	}
	size := opts.ChunkSize
	if size <= 0 {
		size = DefaultChunkSize
	}
	log := zap.L().With(zap.String("component", "reconcile"))

	res := Result{Statuses: model.AllNew(len(rows))}
	states := make(map[schema.Field]keyState, len(schema.UniqueFields))

	for _, f := range schema.UniqueFields {
		header, ok := m.HeaderFor(f)
		if !ok {
			continue
		}
		values := distinct(rows, header)
		st := keyState{matched: map[string]bool{}, unverified: map[string]bool{}}

		for i, start := 0, 0; start < len(values); i, start = i+1, start+size {
			if err := ctx.Err(); err != nil {
				return res, err
			}
			end := min(start+size, len(values))
			chunk := values[start:end]

			res.Calls++
			found, err := checker.ExistsAny(ctx, f.Key(), chunk)
			if err != nil {
				if ctx.Err() != nil {
					return res, ctx.Err()
				}
				res.FailedChunks++
				log.Warn("reconcile: existence query failed, retrying values individually",
					zap.String("column", f.Key()),
					zap.Int("chunk", i),
					zap.Int("values", len(chunk)),
					zap.Error(err),
				)
				if err := retryValues(ctx, log, checker, f, chunk, st, &res); err != nil {
					return res, err
				}
				continue
			}
			for _, v := range found {
				st.matched[v] = true
			}
		}
		states[f] = st
	}

	for i, row := range rows {
		status, unverified := classify(row, m, states, opts)
		res.Statuses[i] = status
		if unverified {
			res.Unverified++
		}
		if status.State == model.RowUpdate || status.State == model.RowDuplicate {
			res.Matched++
		}
	}
	return res, nil
}

// retryValues queries each value of a failed chunk on its own, once. Values
// whose query fails again are marked unverified.
func retryValues(ctx context.Context, log *zap.Logger, checker ExistenceChecker, f schema.Field, chunk []string, st keyState, res *Result) error {
	failed := 0
	for _, v := range chunk {
		if err := ctx.Err(); err != nil {
			return err
		}
		res.Calls++
		found, err := checker.ExistsAny(ctx, f.Key(), []string{v})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			st.unverified[v] = true
			failed++
			continue
		}
		for _, m := range found {
			st.matched[m] = true
		}
	}
	if failed > 0 {
		log.Warn("reconcile: values left unverified after individual retry",
			zap.String("column", f.Key()),
			zap.Int("values", failed),
		)
	}
	return nil
}

func classify(row model.SourceRow, m *mapping.Mapping, states map[schema.Field]keyState, opts Options) (model.RowStatus, bool) {
	unverified := false
	for _, f := range schema.UniqueFields {
		st, ok := states[f]
		if !ok {
			continue
		}
		header, _ := m.HeaderFor(f)
		v := row.Trimmed(header)
		if v == "" {
			continue
		}
		if st.matched[v] {
			if opts.Mode == model.ModeUpsert {
				return model.RowStatus{State: model.RowUpdate, Message: fmt.Sprintf("%s %q exists and will be updated", f.Label(), v)}, false
			}
			return model.RowStatus{State: model.RowDuplicate, Message: fmt.Sprintf("%s %q already exists", f.Label(), v)}, false
		}
		if st.unverified[v] {
			unverified = true
		}
	}

	if unverified {
		if opts.Policy == PolicyFail {
			return model.RowStatus{State: model.RowError, Message: UnverifiedMessage}, true
		}
		return model.RowStatus{State: model.RowNew, Message: UnverifiedMessage}, true
	}
	return model.RowStatus{State: model.RowNew}, false
}

// distinct returns the non-empty trimmed values under header in first-seen
// order.
func distinct(rows []model.SourceRow, header string) []string {
	seen := make(map[string]bool, len(rows))
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		v := r.Trimmed(header)
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
