package enrich

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/lab-inventory/pkg/lookup"
)

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

// echoLookup answers every item with a description derived from its name and
// tracks peak concurrency.
type echoLookup struct {
	mu       sync.Mutex
	requests []lookup.Request
	inFlight atomic.Int32
	peak     atomic.Int32
	block    chan struct{}
}

func (e *echoLookup) Lookup(_ context.Context, req lookup.Request) (*lookup.Response, error) {
	n := e.inFlight.Add(1)
	defer e.inFlight.Add(-1)
	for {
		p := e.peak.Load()
		if n <= p || e.peak.CompareAndSwap(p, n) {
			break
		}
	}
	if e.block != nil {
		<-e.block
	}

	e.mu.Lock()
	e.requests = append(e.requests, req)
	e.mu.Unlock()

	out := &lookup.Response{Results: make([]lookup.Result, len(req.Items))}
	for i, it := range req.Items {
		out.Results[i] = lookup.Result{Description: "About " + it.Name}
	}
	return out, nil
}

// mockCodeChecker implements CodeChecker using testify/mock.
type mockCodeChecker struct {
	mock.Mock
}

func (m *mockCodeChecker) ExistsAny(ctx context.Context, column string, values []string) ([]string, error) {
	args := m.Called(ctx, column, values)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

// storedCodeSet answers from a fixed set of item codes and records every call.
type storedCodeSet struct {
	codes map[string]bool
	calls [][]string
}

func (s *storedCodeSet) ExistsAny(_ context.Context, _ string, values []string) ([]string, error) {
	s.calls = append(s.calls, append([]string(nil), values...))
	var out []string
	for _, v := range values {
		if s.codes[v] {
			out = append(out, v)
		}
	}
	return out, nil
}
