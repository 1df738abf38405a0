package importer

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/lab-inventory/internal/model"
	"github.com/sells-group/lab-inventory/internal/schema"
	"github.com/sells-group/lab-inventory/pkg/lookup"
)

// mockStore implements Store using testify/mock.
type mockStore struct {
	mock.Mock
}

func (m *mockStore) ExistsAny(ctx context.Context, column string, values []string) ([]string, error) {
	args := m.Called(ctx, column, values)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *mockStore) InsertMany(ctx context.Context, recs []model.CanonicalRecord) ([]string, error) {
	args := m.Called(ctx, recs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *mockStore) UpsertMany(ctx context.Context, recs []model.CanonicalRecord, conflict schema.Field) ([]string, error) {
	args := m.Called(ctx, recs, conflict)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

// mockLookup implements lookup.Client using testify/mock.
type mockLookup struct {
	mock.Mock
}

func (m *mockLookup) Lookup(ctx context.Context, req lookup.Request) (*lookup.Response, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*lookup.Response), args.Error(1)
}
