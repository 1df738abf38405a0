package imagejob

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/lab-inventory/internal/fetcher"
)

// mockDownloader implements Downloader using testify/mock.
type mockDownloader struct {
	mock.Mock
}

func (m *mockDownloader) Get(ctx context.Context, url string) (*fetcher.Downloaded, error) {
	args := m.Called(ctx, url)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*fetcher.Downloaded), args.Error(1)
}
