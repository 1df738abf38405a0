package store

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/lab-inventory/internal/model"
	"github.com/sells-group/lab-inventory/internal/schema"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

func sampleRecord(code string) model.CanonicalRecord {
	vals := make(map[schema.Field]any)
	for _, f := range schema.Fields() {
		vals[f] = nil
	}
	vals[schema.FieldName] = "Beaker"
	vals[schema.FieldItemCode] = code
	vals[schema.FieldPurchaseDate] = "2024-03-15"
	vals[schema.FieldPrice] = 12.5
	vals[schema.FieldCurrentQuantity] = 25
	return model.CanonicalRecord{Values: vals, DepartmentID: "dept"}
}

func TestPostgresStore_ExistsAny(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT DISTINCT "item_code" FROM items WHERE "item_code" = ANY\(\$1\)`).
		WithArgs([]string{"A1", "B2"}).
		WillReturnRows(pgxmock.NewRows([]string{"item_code"}).AddRow("B2"))

	got, err := s.ExistsAny(context.Background(), "item_code", []string{"A1", "B2"})
	require.NoError(t, err)
	assert.Equal(t, []string{"B2"}, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ExistsAny_RejectsColumn(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	_, err := s.ExistsAny(context.Background(), "name; DROP TABLE items", []string{"x"})
	assert.ErrorIs(t, err, ErrUnknownColumn)

	_, err = s.ExistsAny(context.Background(), "brand", []string{"x"})
	assert.ErrorIs(t, err, ErrUnknownColumn)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ExistsAny_Error(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT DISTINCT "serial_number"`).
		WithArgs([]string{"SN-1"}).
		WillReturnError(errors.New("statement timeout"))

	_, err := s.ExistsAny(context.Background(), "serial_number", []string{"SN-1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exists serial_number")
}

func TestPostgresStore_InsertMany(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE "_tmp_write_items"`).WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_write_items"}, append([]string{"id"}, model.Columns()...)).WillReturnResult(1)
	mock.ExpectExec(`INSERT INTO "items"`).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	ids, err := s.InsertMany(context.Background(), []model.CanonicalRecord{sampleRecord("B-1")})
	require.NoError(t, err)
	assert.Len(t, ids, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertMany(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE`).WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_write_items"}, append([]string{"id"}, model.Columns()...)).WillReturnResult(1)
	mock.ExpectQuery(`ON CONFLICT \("item_code"\) DO UPDATE`).
		WillReturnRows(pgxmock.NewRows([]string{"id", "item_code"}).AddRow("existing", "B-1"))
	mock.ExpectCommit()

	ids, err := s.UpsertMany(context.Background(), []model.CanonicalRecord{sampleRecord("B-1")}, schema.FieldItemCode)
	require.NoError(t, err)
	assert.Equal(t, []string{"existing"}, ids)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgValues(t *testing.T) {
	rec := sampleRecord("B-1")
	rec.Images = []model.Image{{URL: "https://x/1.png", Source: "web"}}

	vals, err := pgValues(rec)
	require.NoError(t, err)

	cols := model.Columns()
	require.Len(t, vals, len(cols))
	assert.Equal(t, time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC), vals[schema.FieldPurchaseDate])
	assert.Equal(t, 12.5, vals[schema.FieldPrice])

	raw, ok := vals[len(vals)-1].(json.RawMessage)
	require.True(t, ok)
	assert.JSONEq(t, `[{"url":"https://x/1.png","source":"web"}]`, string(raw))
}

func TestPgValues_BadDate(t *testing.T) {
	rec := sampleRecord("B-1")
	rec.Values[schema.FieldPurchaseDate] = "15/03/2024"

	_, err := pgValues(rec)
	assert.Error(t, err)
}

func TestPostgresStore_GetItem_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT id, name.* FROM items WHERE id = \$1`).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetItem(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ReplaceItemImage(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	images := []byte(`[{"url":"https://ext/a.png","source":"web"}]`)
	mock.ExpectQuery(`SELECT id, name`).
		WithArgs("item-1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "name", "item_code", "serial_number", "image_url", "images", "department_id"}).
			AddRow("item-1", "Beaker", "B-1", "", "https://ext/a.png", images, "dept"))
	mock.ExpectExec(`UPDATE items SET images = \$1, image_url = NULLIF\(\$2, ''\) WHERE id = \$3`).
		WithArgs(pgxmock.AnyArg(), "file:///store/a.png", "item-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := s.ReplaceItemImage(context.Background(), "item-1", "https://ext/a.png", "file:///store/a.png")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateImageJobs(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectCopyFrom(pgx.Identifier{"image_jobs"},
		[]string{"id", "item_id", "position", "source_url", "source", "status", "attempts", "created_at", "updated_at"}).
		WillReturnResult(2)

	jobs, err := s.CreateImageJobs(context.Background(), []model.ImageJob{
		{ItemID: "item-1", SourceURL: "https://ext/a.png"},
		{ItemID: "item-1", Position: 1, SourceURL: "https://ext/b.png"},
	})
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.NotEmpty(t, jobs[0].ID)
	assert.Equal(t, model.ImageJobPending, jobs[1].Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListImageJobs(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`FROM image_jobs WHERE true AND status = \$1 ORDER BY .* LIMIT \$2`).
		WithArgs("pending", 50).
		WillReturnRows(pgxmock.NewRows([]string{"id", "item_id", "position", "source_url", "source", "status", "attempts", "last_error", "object_url", "created_at", "updated_at"}).
			AddRow("job-1", "item-1", 0, "https://ext/a.png", "web", "pending", 1, "timeout", "", now, now))

	jobs, err := s.ListImageJobs(context.Background(), ImageJobFilter{Status: model.ImageJobPending, Limit: 50})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "job-1", jobs[0].ID)
	assert.Equal(t, model.ImageJobPending, jobs[0].Status)
	assert.Equal(t, 1, jobs[0].Attempts)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateImageJob_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE image_jobs SET`).
		WithArgs("done", 1, "", "file:///x", pgxmock.AnyArg(), "job-404").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.UpdateImageJob(context.Background(), model.ImageJob{ID: "job-404", Status: model.ImageJobDone, Attempts: 1, ObjectURL: "file:///x"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgresStore_Migrate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS items`).WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
