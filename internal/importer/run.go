package importer

import (
	"context"

	"github.com/sells-group/lab-inventory/internal/commit"
	"github.com/sells-group/lab-inventory/internal/model"
)

// RunOptions configures Run.
type RunOptions struct {
	Options
	// Enrich runs the enrichment phase when an enricher is configured.
	Enrich bool
	// DryRun stops before Commit and returns the materialized records.
	DryRun     bool
	OnProgress func(commit.Progress)
}

// Run takes sheet through every phase with the automatic mapping. The
// returned report is non-nil whenever a session was created, including when
// the name column is unmapped (validate.ErrNameUnmapped) or the context ends.
func Run(ctx context.Context, sheet *model.Sheet, deps Deps, opts RunOptions) (*Report, error) {
	s, err := New(sheet, deps, opts.Options)
	if err != nil {
		return nil, err
	}
	if _, err := s.AutoMap(); err != nil {
		return s.Report(false), err
	}
	report, err := s.Validate()
	if err != nil {
		return s.Report(false), err
	}
	if report.Blocking {
		return s.Report(false), report.Err()
	}
	if _, err := s.Reconcile(ctx); err != nil {
		return s.Report(false), err
	}
	if opts.Enrich {
		if _, err := s.Enrich(ctx); err != nil {
			return s.Report(false), err
		}
	}
	if opts.DryRun {
		return s.Report(true), nil
	}
	if _, err := s.Commit(ctx, opts.OnProgress); err != nil {
		return s.Report(false), err
	}
	return s.Report(false), nil
}
