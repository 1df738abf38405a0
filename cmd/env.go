package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lab-inventory/internal/config"
	"github.com/sells-group/lab-inventory/internal/enrich"
	"github.com/sells-group/lab-inventory/internal/fetcher"
	"github.com/sells-group/lab-inventory/internal/imagejob"
	"github.com/sells-group/lab-inventory/internal/importer"
	"github.com/sells-group/lab-inventory/internal/model"
	"github.com/sells-group/lab-inventory/internal/reconcile"
	"github.com/sells-group/lab-inventory/internal/resilience"
	"github.com/sells-group/lab-inventory/internal/schema"
	"github.com/sells-group/lab-inventory/internal/store"
	anthropicpkg "github.com/sells-group/lab-inventory/pkg/anthropic"
	"github.com/sells-group/lab-inventory/pkg/lookup"
)

// importEnv holds the store and collaborators shared by every import
// session of one process.
type importEnv struct {
	Store      store.Store
	Enricher   *enrich.Orchestrator
	Images     *imagejob.Runner
	Vocabulary *schema.Vocabulary
	Options    importer.Options
}

// Close releases resources held by the environment.
func (e *importEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// Deps returns the session collaborators. Enrichment is left out when
// withEnrich is false.
func (e *importEnv) Deps(withEnrich bool) importer.Deps {
	d := importer.Deps{Store: e.Store, Images: e.Images}
	if withEnrich {
		d.Enricher = e.Enricher
	}
	return d
}

// initImportEnv validates cfg for mode, opens and migrates the store and
// builds the enrichment and image collaborators. Callers should defer
// env.Close().
func initImportEnv(ctx context.Context, c *config.Config, mode string) (*importEnv, error) {
	if err := c.Validate(mode); err != nil {
		return nil, err
	}

	vocab := schema.DefaultVocabulary()
	if c.Import.VocabularyFile != "" {
		v, err := schema.LoadVocabulary(c.Import.VocabularyFile)
		if err != nil {
			return nil, err
		}
		vocab = v
		zap.L().Info("loaded vocabulary overrides", zap.String("file", c.Import.VocabularyFile))
	}

	opts, err := sessionOptions(c, vocab)
	if err != nil {
		return nil, err
	}

	st, err := initStore(ctx, c.Store)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	client, err := initLookup(c)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	images, err := initImages(st, c.Images)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	return &importEnv{
		Store:      st,
		Enricher:   initEnricher(client, c.Lookup, vocab),
		Images:     images,
		Vocabulary: vocab,
		Options:    opts,
	}, nil
}

func initStore(ctx context.Context, c config.StoreConfig) (store.Store, error) {
	switch c.Driver {
	case "sqlite":
		dsn := c.DatabaseURL
		if dsn == "" {
			dsn = "labinv.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, c.DatabaseURL, &store.PoolConfig{MaxConns: c.MaxConns, MinConns: c.MinConns})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", c.Driver)
	}
}

// initLookup returns the configured lookup client, or nil for provider none.
func initLookup(c *config.Config) (lookup.Client, error) {
	switch c.Lookup.Provider {
	case "", "none":
		zap.L().Debug("lookup provider not configured, enrichment uses heuristics only")
		return nil, nil
	case "http":
		if c.Lookup.BaseURL == "" {
			return nil, eris.New("lookup base url is required (LABINV_LOOKUP_BASE_URL)")
		}
		return lookup.NewHTTPClient(c.Lookup.BaseURL, c.Lookup.Key, lookup.WithTimeout(c.Lookup.Timeout())), nil
	case "anthropic":
		if c.Anthropic.Key == "" {
			return nil, eris.New("anthropic key is required (LABINV_ANTHROPIC_KEY)")
		}
		return lookup.NewClaudeClient(anthropicpkg.NewClient(c.Anthropic.Key), c.Anthropic.Model), nil
	default:
		return nil, eris.Errorf("unsupported lookup provider: %s", c.Lookup.Provider)
	}
}

// initEnricher builds the orchestrator with a process-wide cache and circuit
// breaker so later sessions benefit from earlier lookups and outages.
func initEnricher(client lookup.Client, c config.LookupConfig, vocab *schema.Vocabulary) *enrich.Orchestrator {
	opts := enrich.Options{
		BatchSize:         c.BatchSize,
		Concurrency:       c.Concurrency,
		WavePause:         c.WavePause(),
		MaxDescriptionLen: c.MaxDescriptionLen,
		Vocabulary:        vocab,
	}
	if client == nil {
		return enrich.New(nil, opts)
	}
	breakerCfg := resilience.FromCircuitConfig(c.FailureThreshold, c.ResetTimeoutSecs)
	breakerCfg.OnStateChange = resilience.LogStateChange("lookup")
	return enrich.New(client, opts,
		enrich.WithCache(enrich.NewCache(c.CacheTTL(), c.CacheMaxEntries)),
		enrich.WithBreaker(resilience.NewCircuitBreaker(breakerCfg)),
	)
}

func initImages(st imagejob.Store, c config.ImagesConfig) (*imagejob.Runner, error) {
	objects, err := imagejob.NewFSStore(c.Dir, c.BaseURL)
	if err != nil {
		return nil, err
	}
	dl := fetcher.NewDownloader(fetcher.DownloadOptions{
		UserAgent:  c.UserAgent,
		RatePerSec: c.RatePerSec,
		MaxBytes:   c.MaxBytes,
	})
	return imagejob.NewRunner(st, dl, objects, imagejob.Options{
		MaxAttempts: c.MaxAttempts,
		Concurrency: c.Concurrency,
		Retry:       resilience.FromRetryConfig(c.RetryAttempts, c.RetryBackoffMs),
	}), nil
}

func sessionOptions(c *config.Config, vocab *schema.Vocabulary) (importer.Options, error) {
	mode, err := model.ParseImportMode(c.Import.Mode)
	if err != nil {
		return importer.Options{}, err
	}
	policy, err := reconcile.ParsePolicy(c.Import.OnUnverified)
	if err != nil {
		return importer.Options{}, err
	}
	return importer.Options{
		Mode:               mode,
		DepartmentID:       c.Import.DepartmentID,
		CreatedBy:          c.Import.CreatedBy,
		ReconcileChunkSize: c.Import.ReconcileChunkSize,
		CommitChunkSize:    c.Import.CommitChunkSize,
		Policy:             policy,
		Vocabulary:         vocab,
	}, nil
}
