// Package imagejob copies curator-selected external images of committed
// items into an object store. Each image is a job record that can be retried
// independently of the import that created it.
package imagejob

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/lab-inventory/internal/commit"
	"github.com/sells-group/lab-inventory/internal/fetcher"
	"github.com/sells-group/lab-inventory/internal/model"
	"github.com/sells-group/lab-inventory/internal/resilience"
	"github.com/sells-group/lab-inventory/internal/store"
)

// Defaults for Options.
const (
	DefaultMaxAttempts = 3
	DefaultConcurrency = 4
	DefaultBatchLimit  = 500
)

// Store is the subset of store.Store used by the runner.
type Store interface {
	CreateImageJobs(ctx context.Context, jobs []model.ImageJob) ([]model.ImageJob, error)
	ListImageJobs(ctx context.Context, filter store.ImageJobFilter) ([]model.ImageJob, error)
	UpdateImageJob(ctx context.Context, job model.ImageJob) error
	ReplaceItemImage(ctx context.Context, itemID, oldURL, newURL string) error
}

// Downloader fetches one image.
type Downloader interface {
	Get(ctx context.Context, url string) (*fetcher.Downloaded, error)
}

// Options tunes the runner.
type Options struct {
	// MaxAttempts is the number of runs a job may fail transiently before it
	// is marked failed.
	MaxAttempts int
	Concurrency int
	// Retry controls in-run retries of a single download.
	Retry resilience.RetryConfig
}

// Summary counts job outcomes of one run.
type Summary struct {
	Done    int `json:"done"`
	Failed  int `json:"failed"`
	Pending int `json:"pending"`
}

// Runner creates and processes image jobs.
type Runner struct {
	store   Store
	dl      Downloader
	objects ObjectStore
	opts    Options
}

// NewRunner creates a Runner.
func NewRunner(st Store, dl Downloader, objects ObjectStore, opts Options) *Runner {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.Retry.MaxAttempts <= 0 {
		opts.Retry = resilience.DefaultRetryConfig()
		opts.Retry.MaxAttempts = 2
	}
	if opts.Retry.OnRetry == nil {
		opts.Retry.OnRetry = resilience.RetryLogger("image", "download")
	}
	return &Runner{store: st, dl: dl, objects: objects, opts: opts}
}

// Enqueue creates a pending job for every external image of the written rows.
// Images that already live in the object store are skipped.
func (r *Runner) Enqueue(ctx context.Context, written []commit.WrittenRow) ([]model.ImageJob, error) {
	var jobs []model.ImageJob
	for _, w := range written {
		if w.ID == "" {
			continue
		}
		for i, img := range w.Images {
			if !img.External() {
				continue
			}
			jobs = append(jobs, model.ImageJob{
				ItemID:    w.ID,
				Position:  i,
				SourceURL: img.URL,
				Source:    img.Source,
				Status:    model.ImageJobPending,
			})
		}
	}
	if len(jobs) == 0 {
		return nil, nil
	}
	created, err := r.store.CreateImageJobs(ctx, jobs)
	if err != nil {
		return nil, eris.Wrap(err, "imagejob: enqueue")
	}
	return created, nil
}

// RunPending processes pending jobs, at most DefaultBatchLimit per call.
func (r *Runner) RunPending(ctx context.Context) (Summary, error) {
	jobs, err := r.store.ListImageJobs(ctx, store.ImageJobFilter{Status: model.ImageJobPending, Limit: DefaultBatchLimit})
	if err != nil {
		return Summary{}, eris.Wrap(err, "imagejob: list pending")
	}
	return r.Run(ctx, jobs)
}

// Run processes jobs with bounded concurrency. Jobs of the same item run
// sequentially since each one rewrites the item's image list. Job failures
// are recorded on the job and never returned; only context cancellation and
// store errors are.
func (r *Runner) Run(ctx context.Context, jobs []model.ImageJob) (Summary, error) {
	var (
		mu    sync.Mutex
		sum   Summary
		order []string
	)
	byItem := make(map[string][]model.ImageJob)
	for _, job := range jobs {
		if job.Status != model.ImageJobPending {
			continue
		}
		if _, ok := byItem[job.ItemID]; !ok {
			order = append(order, job.ItemID)
		}
		byItem[job.ItemID] = append(byItem[job.ItemID], job)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.Concurrency)
	for _, itemID := range order {
		g.Go(func() error {
			for _, job := range byItem[itemID] {
				done, err := r.process(gctx, job)
				if err != nil {
					return err
				}
				mu.Lock()
				switch done.Status {
				case model.ImageJobDone:
					sum.Done++
				case model.ImageJobFailed:
					sum.Failed++
				default:
					sum.Pending++
				}
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return sum, err
	}
	return sum, ctx.Err()
}

func (r *Runner) process(ctx context.Context, job model.ImageJob) (model.ImageJob, error) {
	if err := ctx.Err(); err != nil {
		return job, err
	}
	log := zap.L().With(zap.String("component", "imagejob"), zap.String("job_id", job.ID), zap.String("url", job.SourceURL))

	job.Attempts++
	objectURL, err := r.copy(ctx, job)
	switch {
	case err == nil:
		job.Status = model.ImageJobDone
		job.ObjectURL = objectURL
		job.LastError = ""
	case ctx.Err() != nil:
		return job, ctx.Err()
	case resilience.IsTransient(err) && job.Attempts < r.opts.MaxAttempts:
		job.Status = model.ImageJobPending
		job.LastError = err.Error()
		log.Warn("imagejob: transient failure, will retry", zap.Int("attempts", job.Attempts), zap.Error(err))
	default:
		job.Status = model.ImageJobFailed
		job.LastError = err.Error()
		log.Warn("imagejob: failed", zap.Int("attempts", job.Attempts),
			zap.String("class", string(resilience.ClassifyError(err))), zap.Error(err))
	}

	if err := r.store.UpdateImageJob(ctx, job); err != nil {
		return job, eris.Wrapf(err, "imagejob: record job %s", job.ID)
	}
	return job, nil
}

// copy downloads the source image, stores it and points the item at the
// stored copy.
func (r *Runner) copy(ctx context.Context, job model.ImageJob) (string, error) {
	img, err := resilience.DoVal(ctx, r.opts.Retry, func(ctx context.Context) (*fetcher.Downloaded, error) {
		return r.dl.Get(ctx, job.SourceURL)
	})
	if err != nil {
		return "", err
	}
	objectURL, err := r.objects.Put(ctx, ObjectName(img.Data, img.ContentType), img.Data, img.ContentType)
	if err != nil {
		return "", err
	}
	if err := r.store.ReplaceItemImage(ctx, job.ItemID, job.SourceURL, objectURL); err != nil {
		return "", err
	}
	return objectURL, nil
}
