// Package commit persists canonical records in chunks and tallies the
// outcome of every row.
package commit

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lab-inventory/internal/model"
	"github.com/sells-group/lab-inventory/internal/schema"
)

// DefaultChunkSize is the number of records per batch write.
const DefaultChunkSize = 25

// Writer persists records and returns their ids in input order.
type Writer interface {
	InsertMany(ctx context.Context, recs []model.CanonicalRecord) ([]string, error)
	UpsertMany(ctx context.Context, recs []model.CanonicalRecord, conflict schema.Field) ([]string, error)
}

// Progress is reported after every chunk.
type Progress struct {
	Processed int     `json:"processed"`
	Total     int     `json:"total"`
	Percent   float64 `json:"percent"`
}

// Options configures a commit.
type Options struct {
	Mode       model.ImportMode
	ChunkSize  int
	OnProgress func(Progress)
}

// WrittenRow identifies a persisted record.
type WrittenRow struct {
	Row    int
	ID     string
	Images []model.Image
}

// Outcome is the result of a commit.
type Outcome struct {
	Result  model.ImportResult
	Written []WrittenRow
}

type committer struct {
	w         Writer
	opts      Options
	statuses  []model.RowStatus
	out       Outcome
	total     int
	processed int
	log       *zap.Logger
}

// Records writes recs according to opts.Mode. statuses are indexed by source
// row index. Rows marked error are failed without being written; in insert
// mode rows marked duplicate are skipped without being written. Every other
// row is written in chunks; a failed chunk is retried one row at a time and
// each row failure is classified as a conflict (skipped) or a hard failure.
//
// On return without error, Result.Total() == len(recs). Context cancellation
// stops between chunks and returns the partial outcome with ctx.Err().
func Records(ctx context.Context, w Writer, recs []model.CanonicalRecord, statuses []model.RowStatus, opts Options) (Outcome, error) {
	if w == nil {
		return Outcome{}, eris.New("commit: no writer")
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.Mode == "" {
		opts.Mode = model.ModeInsert
	}
	c := &committer{
		w:        w,
		opts:     opts,
		statuses: statuses,
		total:    len(recs),
		out:      Outcome{Result: model.ImportResult{FailedRows: []model.FailedRow{}}},
		log:      zap.L().With(zap.String("component", "commit"), zap.String("mode", string(opts.Mode))),
	}

	var codeful, codeless []model.CanonicalRecord
	for _, rec := range recs {
		st := model.StatusAt(statuses, rec.Row)
		switch {
		case st.State == model.RowError:
			c.out.Result.Fail(rec.FileRow(), st.Message)
			c.processed++
		case st.State == model.RowDuplicate && opts.Mode == model.ModeInsert:
			c.out.Result.Skipped++
			c.processed++
		case opts.Mode == model.ModeUpsert && rec.ConflictKey() != "":
			codeful = append(codeful, rec)
		default:
			codeless = append(codeless, rec)
		}
	}
	if c.processed > 0 {
		c.report()
	}

	if err := c.run(ctx, codeful, true); err != nil {
		return c.out, err
	}
	if err := c.run(ctx, codeless, false); err != nil {
		return c.out, err
	}
	return c.out, nil
}

func (c *committer) run(ctx context.Context, recs []model.CanonicalRecord, upsert bool) error {
	size := c.opts.ChunkSize
	for start := 0; start < len(recs); start += size {
		if err := ctx.Err(); err != nil {
			return err
		}
		chunk := recs[start:min(start+size, len(recs))]
		if err := c.chunk(ctx, chunk, upsert); err != nil {
			return err
		}
		c.processed += len(chunk)
		c.report()
	}
	return nil
}

func (c *committer) chunk(ctx context.Context, chunk []model.CanonicalRecord, upsert bool) error {
	ids, err := c.write(ctx, chunk, upsert)
	if err == nil {
		for i, rec := range chunk {
			c.succeed(rec, idAt(ids, i), upsert)
		}
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	c.log.Warn("commit: batch write failed, retrying rows individually",
		zap.Int("rows", len(chunk)),
		zap.Int("first_row", chunk[0].FileRow()),
		zap.Error(err),
	)
	for _, rec := range chunk {
		if err := ctx.Err(); err != nil {
			return err
		}
		ids, err := c.write(ctx, []model.CanonicalRecord{rec}, upsert)
		switch {
		case err == nil:
			c.succeed(rec, idAt(ids, 0), upsert)
		case ctx.Err() != nil:
			return ctx.Err()
		case IsConflict(err):
			c.out.Result.Skipped++
		default:
			c.log.Warn("commit: row failed", zap.Int("row", rec.FileRow()), zap.Error(err))
			c.out.Result.Fail(rec.FileRow(), err.Error())
		}
	}
	return nil
}

func (c *committer) write(ctx context.Context, recs []model.CanonicalRecord, upsert bool) ([]string, error) {
	if upsert {
		return c.w.UpsertMany(ctx, recs, schema.ConflictField)
	}
	return c.w.InsertMany(ctx, recs)
}

// succeed tallies a written row. Upserted rows take their outcome from the
// reconciliation status since the store does not report insert vs update.
func (c *committer) succeed(rec model.CanonicalRecord, id string, upsert bool) {
	if upsert && model.StatusAt(c.statuses, rec.Row).State == model.RowUpdate {
		c.out.Result.Updated++
	} else {
		c.out.Result.Inserted++
	}
	c.out.Written = append(c.out.Written, WrittenRow{Row: rec.Row, ID: id, Images: rec.Images})
}

func (c *committer) report() {
	if c.opts.OnProgress == nil {
		return
	}
	p := Progress{Processed: c.processed, Total: c.total, Percent: 100}
	if c.total > 0 {
		p.Percent = float64(c.processed) * 100 / float64(c.total)
	}
	c.opts.OnProgress(p)
}

func idAt(ids []string, i int) string {
	if i < len(ids) {
		return ids[i]
	}
	return ""
}
