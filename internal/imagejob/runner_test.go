package imagejob

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/lab-inventory/internal/commit"
	"github.com/sells-group/lab-inventory/internal/fetcher"
	"github.com/sells-group/lab-inventory/internal/model"
	"github.com/sells-group/lab-inventory/internal/resilience"
	"github.com/sells-group/lab-inventory/internal/schema"
	"github.com/sells-group/lab-inventory/internal/store"
)

type fixture struct {
	store   *store.SQLiteStore
	objects *FSStore
	dir     string
	written []commit.WrittenRow
}

func newFixture(t *testing.T, imageURLs ...string) *fixture {
	t.Helper()
	ctx := context.Background()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(ctx))

	images := make([]model.Image, len(imageURLs))
	for i, u := range imageURLs {
		images[i] = model.Image{URL: u, Source: "web"}
	}
	vals := map[schema.Field]any{schema.FieldName: "Beaker"}
	if len(images) > 0 {
		vals[schema.FieldImageURL] = images[0].URL
	}
	rec := model.CanonicalRecord{Values: vals, Images: images, DepartmentID: "dept"}
	ids, err := st.InsertMany(ctx, []model.CanonicalRecord{rec})
	require.NoError(t, err)

	dir := filepath.Join(t.TempDir(), "objects")
	objects, err := NewFSStore(dir, "")
	require.NoError(t, err)

	return &fixture{
		store:   st,
		objects: objects,
		dir:     dir,
		written: []commit.WrittenRow{{Row: 0, ID: ids[0], Images: images}},
	}
}

func noRetry() Options {
	return Options{MaxAttempts: 2, Concurrency: 2, Retry: resilience.RetryConfig{MaxAttempts: 1}}
}

func TestEnqueue_ExternalImagesOnly(t *testing.T) {
	f := newFixture(t, "https://ext.example.com/a.png", "file:///objects/b.png", "http://ext.example.com/c.jpg")
	r := NewRunner(f.store, new(mockDownloader), f.objects, noRetry())

	jobs, err := r.Enqueue(context.Background(), append(f.written, commit.WrittenRow{Row: 1, ID: "", Images: f.written[0].Images}))
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, 0, jobs[0].Position)
	assert.Equal(t, 2, jobs[1].Position)
	assert.Equal(t, model.ImageJobPending, jobs[0].Status)
	assert.NotEmpty(t, jobs[0].ID)
}

func TestEnqueue_Nothing(t *testing.T) {
	f := newFixture(t)
	r := NewRunner(f.store, new(mockDownloader), f.objects, noRetry())

	jobs, err := r.Enqueue(context.Background(), f.written)
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestRunPending_CopiesImages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte("image:" + r.URL.Path))
	}))
	defer srv.Close()

	f := newFixture(t, srv.URL+"/a.png", srv.URL+"/b.png")
	dl := fetcher.NewDownloader(fetcher.DownloadOptions{RatePerSec: 1000})
	r := NewRunner(f.store, dl, f.objects, noRetry())
	ctx := context.Background()

	_, err := r.Enqueue(ctx, f.written)
	require.NoError(t, err)

	sum, err := r.RunPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, Summary{Done: 2}, sum)

	item, err := f.store.GetItem(ctx, f.written[0].ID)
	require.NoError(t, err)
	require.Len(t, item.Images, 2)
	for _, img := range item.Images {
		assert.True(t, strings.HasPrefix(img.URL, "file://"), img.URL)
	}
	assert.Equal(t, item.Images[0].URL, item.ImageURL)

	jobs, err := f.store.ListImageJobs(ctx, store.ImageJobFilter{ItemID: item.ID})
	require.NoError(t, err)
	for _, j := range jobs {
		assert.Equal(t, model.ImageJobDone, j.Status)
		assert.Equal(t, 1, j.Attempts)
		assert.NotEmpty(t, j.ObjectURL)
	}

	entries, err := os.ReadDir(f.dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	again, err := r.RunPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, Summary{}, again)
}

func TestRun_TransientFailureRetriedUntilMaxAttempts(t *testing.T) {
	f := newFixture(t, "https://ext.example.com/a.png")
	dl := new(mockDownloader)
	dl.On("Get", mock.Anything, "https://ext.example.com/a.png").
		Return(nil, resilience.NewTransientError(errors.New("http 503"), 503))
	r := NewRunner(f.store, dl, f.objects, noRetry())
	ctx := context.Background()

	_, err := r.Enqueue(ctx, f.written)
	require.NoError(t, err)

	first, err := r.RunPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, Summary{Pending: 1}, first)

	second, err := r.RunPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, Summary{Failed: 1}, second)

	jobs, err := f.store.ListImageJobs(ctx, store.ImageJobFilter{ItemID: f.written[0].ID})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, model.ImageJobFailed, jobs[0].Status)
	assert.Equal(t, 2, jobs[0].Attempts)
	assert.Contains(t, jobs[0].LastError, "http 503")

	item, err := f.store.GetItem(ctx, f.written[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "https://ext.example.com/a.png", item.ImageURL)
	dl.AssertNumberOfCalls(t, "Get", 2)
}

func TestRun_PermanentFailureFailsImmediately(t *testing.T) {
	f := newFixture(t, "https://ext.example.com/gone.png")
	dl := new(mockDownloader)
	dl.On("Get", mock.Anything, mock.Anything).Return(nil, errors.New("download: unexpected status 404"))
	r := NewRunner(f.store, dl, f.objects, noRetry())
	ctx := context.Background()

	_, err := r.Enqueue(ctx, f.written)
	require.NoError(t, err)

	sum, err := r.RunPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, Summary{Failed: 1}, sum)
}

func TestRun_Cancelled(t *testing.T) {
	f := newFixture(t, "https://ext.example.com/a.png")
	r := NewRunner(f.store, new(mockDownloader), f.objects, noRetry())
	ctx, cancel := context.WithCancel(context.Background())

	jobs, err := r.Enqueue(ctx, f.written)
	require.NoError(t, err)
	cancel()

	_, err = r.Run(ctx, jobs)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFSStore_Put(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFSStore(dir, "https://cdn.example.com/items/")
	require.NoError(t, err)

	u, err := s.Put(context.Background(), "abc.png", []byte("x"), "image/png")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/items/abc.png", u)

	data, err := os.ReadFile(filepath.Join(dir, "abc.png"))
	require.NoError(t, err)
	assert.Equal(t, "x", string(data))

	_, err = s.Put(context.Background(), "../escape.png", []byte("x"), "image/png")
	assert.Error(t, err)
}

func TestObjectName(t *testing.T) {
	a := ObjectName([]byte("same"), "image/jpeg")
	b := ObjectName([]byte("same"), "image/jpeg; charset=binary")
	c := ObjectName([]byte("other"), "image/png")

	assert.Equal(t, a, b)
	assert.True(t, strings.HasSuffix(a, ".jpg"))
	assert.True(t, strings.HasSuffix(c, ".png"))
	assert.NotEqual(t, strings.TrimSuffix(a, ".jpg"), strings.TrimSuffix(c, ".png"))
	assert.Len(t, strings.TrimSuffix(a, ".jpg"), 16)
	assert.Equal(t, ".img", extension("not a type"))
}
