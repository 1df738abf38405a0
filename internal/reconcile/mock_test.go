package reconcile

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"
)

// mockChecker implements ExistenceChecker using testify/mock.
type mockChecker struct {
	mock.Mock
}

func (m *mockChecker) ExistsAny(ctx context.Context, column string, values []string) ([]string, error) {
	args := m.Called(ctx, column, values)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

// setChecker answers from fixed per-column sets and records every call.
type setChecker struct {
	mu     sync.Mutex
	exists map[string]map[string]bool
	calls  [][]string
}

func (s *setChecker) ExistsAny(_ context.Context, column string, values []string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, append([]string(nil), values...))
	var out []string
	for _, v := range values {
		if s.exists[column][v] {
			out = append(out, v)
		}
	}
	return out, nil
}
