package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/lab-inventory/internal/db"
	"github.com/sells-group/lab-inventory/internal/model"
	"github.com/sells-group/lab-inventory/internal/schema"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// Pool returns the underlying database pool.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS items (
	id               TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	name             TEXT NOT NULL,
	item_code        TEXT UNIQUE,
	serial_number    TEXT UNIQUE,
	brand            TEXT,
	catalog_number   TEXT,
	description      TEXT,
	item_type        TEXT,
	safety_level     TEXT,
	status           TEXT NOT NULL DEFAULT 'available',
	condition        TEXT NOT NULL DEFAULT 'good',
	minimum_quantity INTEGER,
	current_quantity INTEGER NOT NULL DEFAULT 0,
	price            NUMERIC(12,2),
	unit             TEXT,
	location         TEXT,
	supplier         TEXT,
	purchase_date    DATE,
	is_borrowable    BOOLEAN NOT NULL DEFAULT true,
	image_url        TEXT,
	notes            TEXT,
	department_id    TEXT NOT NULL,
	created_by       TEXT,
	images           JSONB NOT NULL DEFAULT '[]'::jsonb,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_items_department_id ON items(department_id);

CREATE TABLE IF NOT EXISTS image_jobs (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	item_id    TEXT NOT NULL REFERENCES items(id) ON DELETE CASCADE,
	position   INTEGER NOT NULL DEFAULT 0,
	source_url TEXT NOT NULL,
	source     TEXT,
	status     TEXT NOT NULL DEFAULT 'pending',
	attempts   INTEGER NOT NULL DEFAULT 0,
	last_error TEXT,
	object_url TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_image_jobs_status ON image_jobs(status);
CREATE INDEX IF NOT EXISTS idx_image_jobs_item_id ON image_jobs(item_id);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) ExistsAny(ctx context.Context, column string, values []string) ([]string, error) {
	col, err := uniqueColumn(column)
	if err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return nil, nil
	}

	query := fmt.Sprintf(`SELECT DISTINCT %s FROM items WHERE %s = ANY($1)`,
		pgx.Identifier{col}.Sanitize(), pgx.Identifier{col}.Sanitize())
	rows, err := s.pool.Query(ctx, query, values)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: exists %s", col)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, eris.Wrapf(err, "postgres: scan %s", col)
		}
		out = append(out, v)
	}
	return out, eris.Wrapf(rows.Err(), "postgres: exists %s", col)
}

func (s *PostgresStore) InsertMany(ctx context.Context, recs []model.CanonicalRecord) ([]string, error) {
	return s.write(ctx, recs, "")
}

func (s *PostgresStore) UpsertMany(ctx context.Context, recs []model.CanonicalRecord, conflict schema.Field) ([]string, error) {
	return s.write(ctx, recs, conflict.Key())
}

func (s *PostgresStore) write(ctx context.Context, recs []model.CanonicalRecord, conflict string) ([]string, error) {
	rows := make([][]any, len(recs))
	for i, rec := range recs {
		vals, err := pgValues(rec)
		if err != nil {
			return nil, eris.Wrapf(err, "postgres: encode row %d", rec.FileRow())
		}
		rows[i] = vals
	}
	return db.BulkWrite(ctx, s.pool, db.WriteConfig{
		Table:    ItemsTable,
		Columns:  model.Columns(),
		Conflict: conflict,
	}, rows)
}

// pgValues converts a record to COPY-ready values: dates become time.Time
// and images raw JSON.
func pgValues(rec model.CanonicalRecord) ([]any, error) {
	vals, err := rec.RowValues()
	if err != nil {
		return nil, err
	}
	for i, f := range schema.Fields() {
		if f.Kind() != schema.KindDate {
			continue
		}
		if s, ok := vals[i].(string); ok {
			t, err := time.Parse("2006-01-02", s)
			if err != nil {
				return nil, eris.Wrapf(err, "field %s", f)
			}
			vals[i] = t
		}
	}
	last := len(vals) - 1
	if s, ok := vals[last].(string); ok {
		vals[last] = json.RawMessage(s)
	}
	return vals, nil
}

func (s *PostgresStore) GetItem(ctx context.Context, id string) (*Item, error) {
	var it Item
	var images []byte
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, COALESCE(item_code, ''), COALESCE(serial_number, ''), COALESCE(image_url, ''), images, department_id FROM items WHERE id = $1`,
		id,
	).Scan(&it.ID, &it.Name, &it.ItemCode, &it.SerialNumber, &it.ImageURL, &images, &it.DepartmentID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "item %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get item %s", id)
	}
	if err := json.Unmarshal(images, &it.Images); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal images")
	}
	return &it, nil
}

func (s *PostgresStore) ReplaceItemImage(ctx context.Context, itemID, oldURL, newURL string) error {
	it, err := s.GetItem(ctx, itemID)
	if err != nil {
		return err
	}
	images, imageURL, changed := replaceImage(it.Images, it.ImageURL, oldURL, newURL)
	if !changed {
		return nil
	}
	encoded, err := json.Marshal(images)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal images")
	}
	_, err = s.pool.Exec(ctx,
		`UPDATE items SET images = $1, image_url = NULLIF($2, '') WHERE id = $3`,
		json.RawMessage(encoded), imageURL, itemID,
	)
	return eris.Wrapf(err, "postgres: update images for item %s", itemID)
}

func (s *PostgresStore) CreateImageJobs(ctx context.Context, jobs []model.ImageJob) ([]model.ImageJob, error) {
	if len(jobs) == 0 {
		return nil, nil
	}
	now := time.Now().UTC()
	out := make([]model.ImageJob, len(jobs))
	rows := make([][]any, len(jobs))
	for i, j := range jobs {
		if j.ID == "" {
			j.ID = uuid.New().String()
		}
		if j.Status == "" {
			j.Status = model.ImageJobPending
		}
		j.CreatedAt, j.UpdatedAt = now, now
		out[i] = j
		rows[i] = []any{j.ID, j.ItemID, j.Position, j.SourceURL, j.Source, string(j.Status), j.Attempts, j.CreatedAt, j.UpdatedAt}
	}
	_, err := db.CopyFrom(ctx, s.pool, "image_jobs",
		[]string{"id", "item_id", "position", "source_url", "source", "status", "attempts", "created_at", "updated_at"}, rows)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create image jobs")
	}
	return out, nil
}

func (s *PostgresStore) ListImageJobs(ctx context.Context, filter ImageJobFilter) ([]model.ImageJob, error) {
	query := `SELECT id, item_id, position, source_url, COALESCE(source, ''), status, attempts, COALESCE(last_error, ''), COALESCE(object_url, ''), created_at, updated_at FROM image_jobs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if filter.ItemID != "" {
		query += fmt.Sprintf(` AND item_id = $%d`, argIdx)
		args = append(args, filter.ItemID)
		argIdx++
	}
	query += ` ORDER BY created_at, item_id, position`

	limit := filter.Limit
	if limit <= 0 {
		limit = 1000
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list image jobs")
	}
	defer rows.Close()

	var jobs []model.ImageJob
	for rows.Next() {
		var j model.ImageJob
		var status string
		if err := rows.Scan(&j.ID, &j.ItemID, &j.Position, &j.SourceURL, &j.Source, &status,
			&j.Attempts, &j.LastError, &j.ObjectURL, &j.CreatedAt, &j.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan image job")
		}
		j.Status = model.ImageJobStatus(status)
		jobs = append(jobs, j)
	}
	return jobs, eris.Wrap(rows.Err(), "postgres: list image jobs")
}

func (s *PostgresStore) UpdateImageJob(ctx context.Context, job model.ImageJob) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE image_jobs SET status = $1, attempts = $2, last_error = NULLIF($3, ''), object_url = NULLIF($4, ''), updated_at = $5 WHERE id = $6`,
		string(job.Status), job.Attempts, job.LastError, job.ObjectURL, time.Now().UTC(), job.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update image job %s", job.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "image job %s", job.ID)
	}
	return nil
}
