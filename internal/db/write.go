package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// WriteConfig defines the parameters for a bulk write.
type WriteConfig struct {
	Table    string   // target table, optionally schema-qualified
	Columns  []string // columns present in every row, excluding IDColumn
	IDColumn string   // primary key filled with generated UUIDs; default "id"
	// Conflict is the unique column for INSERT ... ON CONFLICT DO UPDATE.
	// Empty means a plain INSERT, where any unique violation fails the batch.
	Conflict string
}

// BulkWrite writes rows in one transaction and returns the id of every row
// in input order:
//  1. creates a temp table shaped like the target
//  2. COPYs rows, each prefixed with a generated id, into the temp table
//  3. INSERT INTO target SELECT ... FROM temp [ON CONFLICT (key) DO UPDATE]
//
// On an upsert, rows that hit an existing key keep the existing id.
func BulkWrite(ctx context.Context, pool Pool, cfg WriteConfig, rows [][]any) ([]string, error) {
	if len(rows) == 0 {
		return nil, nil
	}
	if len(cfg.Columns) == 0 {
		return nil, eris.New("db: write: no columns specified")
	}
	if cfg.IDColumn == "" {
		cfg.IDColumn = "id"
	}
	conflictIdx := -1
	if cfg.Conflict != "" {
		for i, c := range cfg.Columns {
			if c == cfg.Conflict {
				conflictIdx = i
			}
		}
		if conflictIdx < 0 {
			return nil, eris.Errorf("db: write: conflict column %s not in columns", cfg.Conflict)
		}
	}

	ids := make([]string, len(rows))
	withIDs := make([][]any, len(rows))
	for i, r := range rows {
		if len(r) != len(cfg.Columns) {
			return nil, eris.Errorf("db: write: row %d has %d values, want %d", i, len(r), len(cfg.Columns))
		}
		ids[i] = uuid.New().String()
		withIDs[i] = append([]any{ids[i]}, r...)
	}
	columns := append([]string{cfg.IDColumn}, cfg.Columns...)

	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "db: write: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	tempTable := "_tmp_write_" + strings.ReplaceAll(cfg.Table, ".", "_")
	createSQL := fmt.Sprintf(
		"CREATE TEMP TABLE %s (LIKE %s INCLUDING DEFAULTS) ON COMMIT DROP",
		pgx.Identifier{tempTable}.Sanitize(),
		sanitizeTable(cfg.Table),
	)
	if _, err := tx.Exec(ctx, createSQL); err != nil {
		return nil, eris.Wrapf(err, "db: write: create temp table for %s", cfg.Table)
	}

	if _, err := CopyFrom(ctx, tx, tempTable, columns, withIDs); err != nil {
		return nil, eris.Wrapf(err, "db: write: stage rows for %s", cfg.Table)
	}

	colList := quoteAndJoin(columns)
	insertSQL := fmt.Sprintf(
		"INSERT INTO %s (%s) SELECT %s FROM %s",
		sanitizeTable(cfg.Table), colList, colList, pgx.Identifier{tempTable}.Sanitize(),
	)

	if conflictIdx < 0 {
		if _, err := tx.Exec(ctx, insertSQL); err != nil {
			return nil, eris.Wrapf(err, "db: write: insert into %s", cfg.Table)
		}
	} else {
		existing, err := upsert(ctx, tx, insertSQL, cfg)
		if err != nil {
			return nil, err
		}
		for i, r := range rows {
			if id, ok := existing[fmt.Sprint(r[conflictIdx])]; ok && r[conflictIdx] != nil {
				ids[i] = id
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, eris.Wrap(err, "db: write: commit tx")
	}
	return ids, nil
}

// upsert runs the ON CONFLICT statement and returns conflict key -> id for
// every affected row.
func upsert(ctx context.Context, tx pgx.Tx, insertSQL string, cfg WriteConfig) (map[string]string, error) {
	var setClauses []string
	for _, col := range cfg.Columns {
		if col == cfg.Conflict {
			continue
		}
		q := pgx.Identifier{col}.Sanitize()
		setClauses = append(setClauses, fmt.Sprintf("%s = EXCLUDED.%s", q, q))
	}
	key := pgx.Identifier{cfg.Conflict}.Sanitize()
	sql := fmt.Sprintf("%s ON CONFLICT (%s) DO UPDATE SET %s RETURNING %s, COALESCE(%s::text, '')",
		insertSQL, key, strings.Join(setClauses, ", "),
		pgx.Identifier{cfg.IDColumn}.Sanitize(), key,
	)

	rows, err := tx.Query(ctx, sql)
	if err != nil {
		return nil, eris.Wrapf(err, "db: write: upsert into %s", cfg.Table)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var id, k string
		if err := rows.Scan(&id, &k); err != nil {
			return nil, eris.Wrapf(err, "db: write: scan returned id for %s", cfg.Table)
		}
		if k != "" {
			out[k] = id
		}
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrapf(err, "db: write: upsert into %s", cfg.Table)
	}
	return out, nil
}

// sanitizeTable handles schema-qualified table names like "inventory.items".
func sanitizeTable(table string) string {
	parts := strings.SplitN(table, ".", 2)
	if len(parts) == 2 {
		return pgx.Identifier{parts[0], parts[1]}.Sanitize()
	}
	return pgx.Identifier{table}.Sanitize()
}

// quoteAndJoin quotes each column name and joins with commas.
func quoteAndJoin(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = pgx.Identifier{c}.Sanitize()
	}
	return strings.Join(quoted, ", ")
}
