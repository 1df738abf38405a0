// Package enrich fills gaps in source rows with data from the external item
// lookup service and local keyword heuristics.
package enrich

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/sells-group/lab-inventory/internal/mapping"
	"github.com/sells-group/lab-inventory/internal/model"
	"github.com/sells-group/lab-inventory/internal/resilience"
	"github.com/sells-group/lab-inventory/internal/schema"
	"github.com/sells-group/lab-inventory/pkg/lookup"
)

// Defaults for Options.
const (
	DefaultConcurrency       = 5
	DefaultWavePause         = 500 * time.Millisecond
	DefaultMaxDescriptionLen = 500
)

// Options tunes the orchestrator.
type Options struct {
	// BatchSize is the number of items per lookup request. Zero sends every
	// item in a single request.
	BatchSize int
	// Concurrency is the number of requests in flight per wave.
	Concurrency int
	// WavePause is the minimum spacing between wave starts.
	WavePause time.Duration
	// MaxDescriptionLen truncates online descriptions, in runes.
	MaxDescriptionLen int
	Vocabulary        *schema.Vocabulary
}

// Orchestrator runs enrichment for one or more sessions. The lookup client,
// cache and breaker are optional.
type Orchestrator struct {
	client  lookup.Client
	cache   *Cache
	breaker *resilience.CircuitBreaker
	opts    Options
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithCache shares a lookup cache.
func WithCache(c *Cache) Option {
	return func(o *Orchestrator) { o.cache = c }
}

// WithBreaker guards lookup calls with a circuit breaker.
func WithBreaker(b *resilience.CircuitBreaker) Option {
	return func(o *Orchestrator) { o.breaker = b }
}

// New creates an orchestrator. A nil client runs heuristics only.
func New(client lookup.Client, opts Options, options ...Option) *Orchestrator {
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.WavePause < 0 {
		opts.WavePause = 0
	}
	if opts.MaxDescriptionLen <= 0 {
		opts.MaxDescriptionLen = DefaultMaxDescriptionLen
	}
	if opts.Vocabulary == nil {
		opts.Vocabulary = schema.DefaultVocabulary()
	}
	o := &Orchestrator{client: client, opts: opts}
	for _, fn := range options {
		fn(o)
	}
	return o
}

// Batch is the input of one enrichment run.
type Batch struct {
	Rows    []model.SourceRow
	Mapping *mapping.Mapping
	// Only restricts the run to these row indexes. Nil selects every row
	// with a name that is missing a description or an item code.
	Only []int
	// Reserved lists item codes taken outside the file, e.g. codes generated
	// by an earlier run in the same session.
	Reserved []string
	// Stored, when set, is asked which generated codes already exist so
	// they can be replaced before commit.
	Stored CodeChecker
}

// Stats summarises an enrichment run.
type Stats struct {
	Candidates int `json:"candidates"`
	Requests   int `json:"requests"`
	CacheHits  int `json:"cache_hits"`
	// Offline counts candidates that got no online data because the lookup
	// failed, was skipped or is not configured.
	Offline int `json:"offline"`
}

// Result holds per-row enrichment keyed by row index.
type Result struct {
	Records  map[int]*model.EnrichmentRecord
	Selected map[int][]model.Image
	Stats    Stats
}

type candidate struct {
	index int
	item  lookup.Item
}

// Enrich looks up candidate rows and merges online results and heuristics
// into one EnrichmentRecord per candidate. Lookup failures degrade to
// heuristics; only context cancellation is returned as an error.
func (o *Orchestrator) Enrich(ctx context.Context, b Batch) (*Result, error) {
	res := &Result{
		Records:  make(map[int]*model.EnrichmentRecord),
		Selected: make(map[int][]model.Image),
	}
	cands := o.candidates(b)
	res.Stats.Candidates = len(cands)
	if len(cands) == 0 {
		return res, nil
	}

	online := make([]*lookup.Result, len(cands))
	var pending []int
	for i, c := range cands {
		if r, ok := o.cache.Get(c.item); ok {
			online[i] = &r
			res.Stats.CacheHits++
			continue
		}
		pending = append(pending, i)
	}

	if o.client != nil && len(pending) > 0 {
		requests, err := o.fetch(ctx, cands, pending, online)
		res.Stats.Requests = requests
		if err != nil {
			return nil, err
		}
	}

	gen := NewCodeGenerator(b.Reserved)
	if h, ok := b.Mapping.HeaderFor(schema.FieldItemCode); ok {
		for _, r := range b.Rows {
			gen.Reserve(r.Trimmed(h))
		}
	}

	for i, c := range cands {
		if online[i] == nil {
			res.Stats.Offline++
		}
		rec, selected := o.merge(b.Rows[c.index], b.Mapping, online[i], gen)
		res.Records[c.index] = rec
		if len(selected) > 0 {
			res.Selected[c.index] = selected
		}
	}

	if b.Stored != nil {
		if err := avoidStoredCodes(ctx, b.Stored, cands, res.Records, gen); err != nil {
			return nil, err
		}
	}
	return res, nil
}

func (o *Orchestrator) candidates(b Batch) []candidate {
	m := b.Mapping
	nameH, ok := m.HeaderFor(schema.FieldName)
	if !ok {
		return nil
	}
	text := func(r model.SourceRow, f schema.Field) string {
		h, ok := m.HeaderFor(f)
		if !ok {
			return ""
		}
		return r.Trimmed(h)
	}

	consider := func(r model.SourceRow, forced bool) (candidate, bool) {
		name := r.Trimmed(nameH)
		if name == "" {
			return candidate{}, false
		}
		if !forced && text(r, schema.FieldDescription) != "" && text(r, schema.FieldItemCode) != "" {
			return candidate{}, false
		}
		return candidate{index: r.Index, item: lookup.Item{
			Name:          name,
			Brand:         text(r, schema.FieldBrand),
			CatalogNumber: text(r, schema.FieldCatalogNumber),
		}}, true
	}

	var out []candidate
	if b.Only != nil {
		for _, idx := range b.Only {
			if idx < 0 || idx >= len(b.Rows) {
				continue
			}
			if c, ok := consider(b.Rows[idx], true); ok {
				out = append(out, c)
			}
		}
		return out
	}
	for _, r := range b.Rows {
		if c, ok := consider(r, false); ok {
			out = append(out, c)
		}
	}
	return out
}

// fetch issues lookup requests for the pending candidates in waves of
// Concurrency requests and stores successful results into online.
func (o *Orchestrator) fetch(ctx context.Context, cands []candidate, pending []int, online []*lookup.Result) (int, error) {
	size := o.opts.BatchSize
	if size <= 0 || size > len(pending) {
		size = len(pending)
	}
	var chunks [][]int
	for start := 0; start < len(pending); start += size {
		chunks = append(chunks, pending[start:min(start+size, len(pending))])
	}

	log := zap.L().With(zap.String("component", "enrich"))
	pace := rate.NewLimiter(rate.Every(max(o.opts.WavePause, time.Nanosecond)), 1)
	if o.opts.WavePause == 0 {
		pace = rate.NewLimiter(rate.Inf, 1)
	}

	var requests atomic.Int64
	for wave := 0; wave*o.opts.Concurrency < len(chunks); wave++ {
		if err := pace.Wait(ctx); err != nil {
			return int(requests.Load()), ctx.Err()
		}
		start := wave * o.opts.Concurrency
		end := min(start+o.opts.Concurrency, len(chunks))

		var g errgroup.Group
		for _, chunk := range chunks[start:end] {
			g.Go(func() error {
				req := lookup.Request{Items: make([]lookup.Item, len(chunk))}
				for j, ci := range chunk {
					req.Items[j] = cands[ci].item
				}

				resp, err := o.lookup(ctx, req, &requests)
				if err != nil {
					if errors.Is(err, resilience.ErrCircuitOpen) {
						log.Info("enrich: lookup circuit open, using heuristics", zap.Int("items", len(chunk)))
					} else if ctx.Err() == nil {
						log.Warn("enrich: lookup failed, using heuristics", zap.Int("items", len(chunk)), zap.Error(err))
					}
					return nil
				}
				n := len(resp.Results)
				if n != len(chunk) {
					log.Warn("enrich: lookup result count mismatch",
						zap.Int("items", len(chunk)), zap.Int("results", n))
					n = min(n, len(chunk))
				}
				for j := 0; j < n; j++ {
					r := resp.Results[j]
					online[chunk[j]] = &r
					o.cache.Put(cands[chunk[j]].item, r)
				}
				return nil
			})
		}
		_ = g.Wait()
		if err := ctx.Err(); err != nil {
			return int(requests.Load()), err
		}
	}
	return int(requests.Load()), nil
}

func (o *Orchestrator) lookup(ctx context.Context, req lookup.Request, requests *atomic.Int64) (*lookup.Response, error) {
	call := func(ctx context.Context) (*lookup.Response, error) {
		requests.Add(1)
		return o.client.Lookup(ctx, req)
	}
	if o.breaker == nil {
		return call(ctx)
	}
	return resilience.ExecuteVal(ctx, o.breaker, call)
}

func (o *Orchestrator) merge(row model.SourceRow, m *mapping.Mapping, online *lookup.Result, gen *CodeGenerator) (*model.EnrichmentRecord, []model.Image) {
	rec := model.NewEnrichmentRecord()
	cell := func(f schema.Field) string {
		h, ok := m.HeaderFor(f)
		if !ok {
			return ""
		}
		return row.Trimmed(h)
	}
	name := cell(schema.FieldName)
	desc := cell(schema.FieldDescription)

	if desc == "" && online != nil {
		if d := truncate(strings.TrimSpace(online.Description), o.opts.MaxDescriptionLen); d != "" {
			rec.Set(schema.FieldDescription, d, model.SourceOnline)
			desc = d
		}
	}

	var selected []model.Image
	if online != nil {
		for _, img := range online.Images() {
			if strings.TrimSpace(img.URL) == "" {
				continue
			}
			rec.Images = append(rec.Images, model.Image{URL: img.URL, Source: img.Source, Width: img.Width, Height: img.Height})
		}
		rec.ImageSearch = model.ImageSearchFor(len(rec.Images))
		if cell(schema.FieldImageURL) == "" && len(rec.Images) > 0 {
			selected = append([]model.Image(nil), rec.Images...)
		}
	}

	if cell(schema.FieldItemCode) == "" {
		rec.Set(schema.FieldItemCode, gen.Next(name), model.SourceAuto)
	}

	if cell(schema.FieldCurrentQuantity) == "" && online != nil && online.SuggestedQuantity != nil && *online.SuggestedQuantity >= 0 {
		rec.Set(schema.FieldCurrentQuantity, *online.SuggestedQuantity, model.SourceOnline)
	}

	text := name + " " + desc
	vocab := o.opts.Vocabulary
	if cell(schema.FieldItemType) == "" {
		if v, ok := onlineEnum(online, schema.FieldItemType); ok {
			rec.Set(schema.FieldItemType, v, model.SourceOnline)
		} else if v, ok := schema.Classify(vocab.ItemTypeRules, text); ok {
			rec.Set(schema.FieldItemType, v, model.SourceHeuristic)
		}
	}
	if cell(schema.FieldSafetyLevel) == "" {
		if v, ok := onlineEnum(online, schema.FieldSafetyLevel); ok {
			rec.Set(schema.FieldSafetyLevel, v, model.SourceOnline)
		} else if v, ok := schema.Classify(vocab.SafetyRules, text); ok {
			rec.Set(schema.FieldSafetyLevel, v, model.SourceHeuristic)
		} else {
			rec.Set(schema.FieldSafetyLevel, vocab.DefaultSafety, model.SourceHeuristic)
		}
	}
	return rec, selected
}

func onlineEnum(r *lookup.Result, f schema.Field) (string, bool) {
	if r == nil {
		return "", false
	}
	raw := r.ItemType
	if f == schema.FieldSafetyLevel {
		raw = r.SafetyLevel
	}
	return schema.NormalizeEnum(f, raw)
}

func truncate(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	return strings.TrimSpace(string([]rune(s)[:n]))
}
