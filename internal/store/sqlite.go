package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/lab-inventory/internal/model"
	"github.com/sells-group/lab-inventory/internal/schema"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// Pragmas are per connection.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS items (
	id               TEXT PRIMARY KEY,
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
	price            REAL,
	unit             TEXT,
	location         TEXT,
	supplier         TEXT,
	purchase_date    TEXT,
	is_borrowable    INTEGER NOT NULL DEFAULT 1,
	image_url        TEXT,
	notes            TEXT,
	department_id    TEXT NOT NULL,
	created_by       TEXT,
	images           TEXT NOT NULL DEFAULT '[]',
	created_at       DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_items_department_id ON items(department_id);

CREATE TABLE IF NOT EXISTS image_jobs (
	id         TEXT PRIMARY KEY,
	item_id    TEXT NOT NULL REFERENCES items(id) ON DELETE CASCADE,
	position   INTEGER NOT NULL DEFAULT 0,
	source_url TEXT NOT NULL,
	source     TEXT,
	status     TEXT NOT NULL DEFAULT 'pending',
	attempts   INTEGER NOT NULL DEFAULT 0,
	last_error TEXT,
	object_url TEXT,
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_image_jobs_status ON image_jobs(status);
CREATE INDEX IF NOT EXISTS idx_image_jobs_item_id ON image_jobs(item_id);
`

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) ExistsAny(ctx context.Context, column string, values []string) ([]string, error) {
	col, err := uniqueColumn(column)
	if err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return nil, nil
	}

	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v
	}
	query := fmt.Sprintf(`SELECT DISTINCT %s FROM items WHERE %s IN (%s)`, col, col, placeholders(len(values)))
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: exists %s", col)
	}
	defer rows.Close() //nolint:errcheck

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, eris.Wrapf(err, "sqlite: scan %s", col)
		}
		out = append(out, v)
	}
	return out, eris.Wrapf(rows.Err(), "sqlite: exists %s", col)
}

func (s *SQLiteStore) InsertMany(ctx context.Context, recs []model.CanonicalRecord) ([]string, error) {
	return s.write(ctx, recs, "")
}

func (s *SQLiteStore) UpsertMany(ctx context.Context, recs []model.CanonicalRecord, conflict schema.Field) ([]string, error) {
	return s.write(ctx, recs, conflict.Key())
}

// write inserts recs in one transaction; any row error rolls back the batch.
func (s *SQLiteStore) write(ctx context.Context, recs []model.CanonicalRecord, conflict string) ([]string, error) {
	if len(recs) == 0 {
		return nil, nil
	}
	cols := append([]string{"id"}, model.Columns()...)
	query := fmt.Sprintf(`INSERT INTO items (%s) VALUES (%s)`, strings.Join(cols, ", "), placeholders(len(cols)))
	if conflict != "" {
		var sets []string
		for _, c := range model.Columns() {
			if c != conflict {
				sets = append(sets, fmt.Sprintf("%s = excluded.%s", c, c))
			}
		}
		query += fmt.Sprintf(` ON CONFLICT(%s) DO UPDATE SET %s`, conflict, strings.Join(sets, ", "))
	}
	query += ` RETURNING id`

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	ids := make([]string, len(recs))
	for i, rec := range recs {
		vals, err := rec.RowValues()
		if err != nil {
			return nil, eris.Wrapf(err, "sqlite: encode row %d", rec.FileRow())
		}
		args := append([]any{uuid.New().String()}, vals...)
		if err := tx.QueryRowContext(ctx, query, args...).Scan(&ids[i]); err != nil {
			return nil, eris.Wrapf(err, "sqlite: write row %d", rec.FileRow())
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, eris.Wrap(err, "sqlite: commit tx")
	}
	return ids, nil
}

func (s *SQLiteStore) GetItem(ctx context.Context, id string) (*Item, error) {
	var it Item
	var images string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, COALESCE(item_code, ''), COALESCE(serial_number, ''), COALESCE(image_url, ''), images, department_id FROM items WHERE id = ?`,
		id,
	).Scan(&it.ID, &it.Name, &it.ItemCode, &it.SerialNumber, &it.ImageURL, &images, &it.DepartmentID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "item %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get item %s", id)
	}
	if err := json.Unmarshal([]byte(images), &it.Images); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal images")
	}
	return &it, nil
}

func (s *SQLiteStore) ReplaceItemImage(ctx context.Context, itemID, oldURL, newURL string) error {
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
		return eris.Wrap(err, "sqlite: marshal images")
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE items SET images = ?, image_url = NULLIF(?, '') WHERE id = ?`,
		string(encoded), imageURL, itemID,
	)
	return eris.Wrapf(err, "sqlite: update images for item %s", itemID)
}

func (s *SQLiteStore) CreateImageJobs(ctx context.Context, jobs []model.ImageJob) ([]model.ImageJob, error) {
	if len(jobs) == 0 {
		return nil, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now().UTC()
	out := make([]model.ImageJob, len(jobs))
	for i, j := range jobs {
		if j.ID == "" {
			j.ID = uuid.New().String()
		}
		if j.Status == "" {
			j.Status = model.ImageJobPending
		}
		j.CreatedAt, j.UpdatedAt = now, now
		_, err := tx.ExecContext(ctx,
			`INSERT INTO image_jobs (id, item_id, position, source_url, source, status, attempts, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			j.ID, j.ItemID, j.Position, j.SourceURL, j.Source, string(j.Status), j.Attempts, j.CreatedAt, j.UpdatedAt,
		)
		if err != nil {
			return nil, eris.Wrapf(err, "sqlite: insert image job for item %s", j.ItemID)
		}
		out[i] = j
	}
	if err := tx.Commit(); err != nil {
		return nil, eris.Wrap(err, "sqlite: commit tx")
	}
	return out, nil
}

func (s *SQLiteStore) ListImageJobs(ctx context.Context, filter ImageJobFilter) ([]model.ImageJob, error) {
	query := `SELECT id, item_id, position, source_url, COALESCE(source, ''), status, attempts, COALESCE(last_error, ''), COALESCE(object_url, ''), created_at, updated_at FROM image_jobs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.ItemID != "" {
		query += ` AND item_id = ?`
		args = append(args, filter.ItemID)
	}
	query += ` ORDER BY created_at, item_id, position`

	limit := filter.Limit
	if limit <= 0 {
		limit = 1000
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list image jobs")
	}
	defer rows.Close() //nolint:errcheck

	var jobs []model.ImageJob
	for rows.Next() {
		var j model.ImageJob
		var status string
		if err := rows.Scan(&j.ID, &j.ItemID, &j.Position, &j.SourceURL, &j.Source, &status,
			&j.Attempts, &j.LastError, &j.ObjectURL, &j.CreatedAt, &j.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan image job")
		}
		j.Status = model.ImageJobStatus(status)
		jobs = append(jobs, j)
	}
	return jobs, eris.Wrap(rows.Err(), "sqlite: list image jobs")
}

func (s *SQLiteStore) UpdateImageJob(ctx context.Context, job model.ImageJob) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE image_jobs SET status = ?, attempts = ?, last_error = NULLIF(?, ''), object_url = NULLIF(?, ''), updated_at = ? WHERE id = ?`,
		string(job.Status), job.Attempts, job.LastError, job.ObjectURL, time.Now().UTC(), job.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update image job %s", job.ID)
	}
	return checkRowsAffected(res, "image job", job.ID)
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
