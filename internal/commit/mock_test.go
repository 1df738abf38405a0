package commit

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/lab-inventory/internal/model"
	"github.com/sells-group/lab-inventory/internal/schema"
)

// mockWriter implements Writer using testify/mock.
type mockWriter struct {
	mock.Mock
}

func (m *mockWriter) InsertMany(ctx context.Context, recs []model.CanonicalRecord) ([]string, error) {
	args := m.Called(ctx, recs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *mockWriter) UpsertMany(ctx context.Context, recs []model.CanonicalRecord, conflict schema.Field) ([]string, error) {
	args := m.Called(ctx, recs, conflict)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

// memWriter is an in-memory store with unique item codes and serial numbers.
// Batches are atomic: one conflicting row fails the whole batch.
type memWriter struct {
	mu         sync.Mutex
	byCode     map[string]string
	bySerial   map[string]string
	seq        int
	batchErr   error // returned for every multi-row batch when set
	rowErr     map[string]error
	batchCalls int
	rowCalls   int
}

func newMemWriter() *memWriter {
	return &memWriter{byCode: map[string]string{}, bySerial: map[string]string{}, rowErr: map[string]error{}}
}

var errUnique = errors.New(`ERROR: duplicate key value violates unique constraint "items_item_code_key" (SQLSTATE 23505)`)

func (w *memWriter) InsertMany(_ context.Context, recs []model.CanonicalRecord) ([]string, error) {
	return w.apply(recs, false)
}

func (w *memWriter) UpsertMany(_ context.Context, recs []model.CanonicalRecord, _ schema.Field) ([]string, error) {
	return w.apply(recs, true)
}

func (w *memWriter) apply(recs []model.CanonicalRecord, upsert bool) ([]string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(recs) > 1 {
		w.batchCalls++
		if w.batchErr != nil {
			return nil, w.batchErr
		}
	} else {
		w.rowCalls++
	}

	seenCode := map[string]bool{}
	for _, r := range recs {
		name := r.Text(schema.FieldName)
		if err := w.rowErr[name]; err != nil {
			return nil, err
		}
		code, serial := r.Text(schema.FieldItemCode), r.Text(schema.FieldSerialNumber)
		if code != "" {
			if seenCode[code] {
				return nil, errUnique
			}
			seenCode[code] = true
			if _, ok := w.byCode[code]; ok && !upsert {
				return nil, errUnique
			}
		}
		if serial != "" {
			if owner, ok := w.bySerial[serial]; ok && (code == "" || w.byCode[code] != owner) {
				return nil, errUnique
			}
		}
	}

	ids := make([]string, len(recs))
	for i, r := range recs {
		code, serial := r.Text(schema.FieldItemCode), r.Text(schema.FieldSerialNumber)
		id, ok := w.byCode[code]
		if !ok || code == "" {
			w.seq++
			id = fmt.Sprintf("id-%d", w.seq)
		}
		if code != "" {
			w.byCode[code] = id
		}
		if serial != "" {
			w.bySerial[serial] = id
		}
		ids[i] = id
	}
	return ids, nil
}
