// Package importer drives one spreadsheet import from mapping to commit.
//
// A Session owns every piece of working state for one operator: the parsed
// sheet, the column mapping, validation and reconciliation results,
// enrichment and curated images. Phases run in order:
//
//	AutoMap -> Validate -> Reconcile -> [Enrich] -> Commit
//
// Mapping edits are accepted until Commit and invalidate validation and
// reconciliation. Every phase takes a context and the whole session can be
// cancelled with Cancel.
package importer

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lab-inventory/internal/commit"
	"github.com/sells-group/lab-inventory/internal/enrich"
	"github.com/sells-group/lab-inventory/internal/imagejob"
	"github.com/sells-group/lab-inventory/internal/mapping"
	"github.com/sells-group/lab-inventory/internal/materialize"
	"github.com/sells-group/lab-inventory/internal/model"
	"github.com/sells-group/lab-inventory/internal/reconcile"
	"github.com/sells-group/lab-inventory/internal/schema"
	"github.com/sells-group/lab-inventory/internal/validate"
)

// ErrPhase is returned when a phase is called out of order.
var ErrPhase = eris.New("importer: phase out of order")

// ErrCellValue is returned by SetValue when the row's own cell already
// supplies the field.
var ErrCellValue = eris.New("importer: row already has a value for this field")

// Phase is the furthest pipeline stage a session has completed.
type Phase int

const (
	PhaseLoaded Phase = iota
	PhaseMapped
	PhaseValidated
	PhaseReconciled
	PhaseEnriched
	PhaseCommitted
)

var phaseNames = [...]string{"loaded", "mapped", "validated", "reconciled", "enriched", "committed"}

func (p Phase) String() string {
	if p < 0 || int(p) >= len(phaseNames) {
		return "unknown"
	}
	return phaseNames[p]
}

// Store is the record store used by a session.
type Store interface {
	reconcile.ExistenceChecker
	commit.Writer
}

// Deps are the collaborators of a session. Enricher and Images are
// optional.
type Deps struct {
	Store    Store
	Enricher *enrich.Orchestrator
	Images   *imagejob.Runner
}

// Options configures a session.
type Options struct {
	Mode               model.ImportMode
	DepartmentID       string
	CreatedBy          string
	ReconcileChunkSize int
	CommitChunkSize    int
	Policy             reconcile.Policy
	Vocabulary         *schema.Vocabulary
	// PersistImages runs the image jobs created by Commit before it
	// returns. Otherwise the jobs stay pending for a later retry run.
	PersistImages bool
}

// Session is the working state of one import.
type Session struct {
	id   string
	deps Deps
	opts Options
	log  *zap.Logger

	base   context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	phase    Phase
	sheet    *model.Sheet
	mapping  *mapping.Mapping
	report   validate.Report
	recon    reconcile.Result
	statuses []model.RowStatus

	enrichment map[int]*model.EnrichmentRecord
	selected   map[int][]model.Image
	enrichStat enrich.Stats

	result      *model.ImportResult
	imageJobs   []model.ImageJob
	imageResult *imagejob.Summary
}

// New starts a session for sheet.
func New(sheet *model.Sheet, deps Deps, opts Options) (*Session, error) {
	if sheet == nil || len(sheet.Rows) == 0 {
		return nil, eris.New("importer: sheet has no data rows")
	}
	if deps.Store == nil {
		return nil, eris.New("importer: no store")
	}
	if opts.Mode == "" {
		opts.Mode = model.ModeInsert
	}
	if opts.Policy == "" {
		opts.Policy = reconcile.PolicyProceed
	}
	if opts.Vocabulary == nil {
		opts.Vocabulary = schema.DefaultVocabulary()
	}

	id := uuid.New().String()
	base, cancel := context.WithCancel(context.Background())
	return &Session{
		id:         id,
		deps:       deps,
		opts:       opts,
		log:        zap.L().With(zap.String("session_id", id)),
		base:       base,
		cancel:     cancel,
		sheet:      sheet,
		statuses:   model.AllNew(len(sheet.Rows)),
		enrichment: make(map[int]*model.EnrichmentRecord),
		selected:   make(map[int][]model.Image),
	}, nil
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Phase returns the furthest completed phase.
func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Sheet returns the parsed sheet.
func (s *Session) Sheet() *model.Sheet { return s.sheet }

// Cancel aborts the running phase and every later one.
func (s *Session) Cancel() { s.cancel() }

// phaseContext derives a context that ends with either ctx or the session.
func (s *Session) phaseContext(ctx context.Context) (context.Context, context.CancelFunc) {
	pctx, cancel := context.WithCancel(ctx)
	if s.base.Err() != nil {
		cancel()
	}
	stop := context.AfterFunc(s.base, cancel)
	return pctx, func() {
		stop()
		cancel()
	}
}

func (s *Session) require(want Phase, op string) error {
	if s.phase == PhaseCommitted {
		return eris.Wrapf(ErrPhase, "%s: session already committed", op)
	}
	if s.phase < want {
		return eris.Wrapf(ErrPhase, "%s requires %s, session is %s", op, want, s.phase)
	}
	return nil
}

func (s *Session) checkRow(row int) error {
	if row < 0 || row >= len(s.sheet.Rows) {
		return eris.Errorf("importer: row %d out of range [0, %d)", row, len(s.sheet.Rows))
	}
	return nil
}

// AutoMap proposes a mapping for the sheet headers and replaces any
// existing one.
func (s *Session) AutoMap() (*mapping.Mapping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.require(PhaseLoaded, "automap"); err != nil {
		return nil, err
	}
	s.mapping = mapping.AutoMap(s.sheet.Headers, s.opts.Vocabulary.Aliases)
	s.phase = PhaseMapped
	s.log.Info("importer: mapped columns", zap.Any("mapping", s.mapping.Assignments()))
	return s.mapping, nil
}

// SetMapping assigns header to the field named by key, or "skip".
// Validation and reconciliation must be run again afterwards.
func (s *Session) SetMapping(header, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.require(PhaseMapped, "set mapping"); err != nil {
		return err
	}
	if err := s.mapping.SetByName(header, key); err != nil {
		return err
	}
	s.phase = PhaseMapped
	return nil
}

// Mapping returns the current mapping, or nil before AutoMap.
func (s *Session) Mapping() *mapping.Mapping {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mapping
}

// Validate checks every row against the mapping.
func (s *Session) Validate() (validate.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.require(PhaseMapped, "validate"); err != nil {
		return validate.Report{}, err
	}
	s.report = validate.Rows(s.sheet.Rows, s.mapping)
	s.phase = PhaseValidated
	if s.report.Blocking {
		s.log.Warn("importer: name column unmapped")
	} else if len(s.report.Issues) > 0 {
		s.log.Info("importer: validation warnings", zap.Int("issues", len(s.report.Issues)))
	}
	return s.report, nil
}

// Reconcile classifies rows against the store.
func (s *Session) Reconcile(ctx context.Context) (reconcile.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.require(PhaseValidated, "reconcile"); err != nil {
		return reconcile.Result{}, err
	}
	ctx, cancel := s.phaseContext(ctx)
	defer cancel()

	res, err := reconcile.Rows(ctx, s.sheet.Rows, s.mapping, s.deps.Store, reconcile.Options{
		Mode:      s.opts.Mode,
		ChunkSize: s.opts.ReconcileChunkSize,
		Policy:    s.opts.Policy,
	})
	if err != nil {
		if ctx.Err() != nil {
			return reconcile.Result{}, err
		}
		// Commit-time conflict detection still applies.
		s.log.Warn("importer: reconciliation failed, treating all rows as new", zap.Error(err))
		res = reconcile.Result{Statuses: model.AllNew(len(s.sheet.Rows))}
	}
	s.recon = res
	s.statuses = res.Statuses
	s.phase = PhaseReconciled
	if res.Degraded() {
		s.log.Warn("importer: reconciliation degraded",
			zap.Int("failed_chunks", res.FailedChunks),
			zap.Int("unverified_rows", res.Unverified),
		)
	}
	return res, nil
}

// Statuses returns a copy of the per-row statuses.
func (s *Session) Statuses() []model.RowStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.RowStatus(nil), s.statuses...)
}

// Enrich fills gaps in every candidate row. Manual values set earlier are
// kept. Without an enricher the phase completes with no changes.
func (s *Session) Enrich(ctx context.Context) (enrich.Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.require(PhaseReconciled, "enrich"); err != nil {
		return enrich.Stats{}, err
	}
	if s.deps.Enricher == nil {
		s.phase = PhaseEnriched
		return enrich.Stats{}, nil
	}
	ctx, cancel := s.phaseContext(ctx)
	defer cancel()

	res, err := s.deps.Enricher.Enrich(ctx, enrich.Batch{Rows: s.sheet.Rows, Mapping: s.mapping, Stored: s.deps.Store})
	if err != nil {
		return enrich.Stats{}, err
	}
	s.apply(res)
	s.enrichStat = res.Stats
	s.phase = PhaseEnriched
	s.log.Info("importer: enriched rows",
		zap.Int("candidates", res.Stats.Candidates),
		zap.Int("requests", res.Stats.Requests),
		zap.Int("cache_hits", res.Stats.CacheHits),
		zap.Int("offline", res.Stats.Offline),
	)
	return res.Stats, nil
}

// EnrichRow re-runs enrichment for one row, even if it looks complete.
func (s *Session) EnrichRow(ctx context.Context, row int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.require(PhaseReconciled, "enrich row"); err != nil {
		return err
	}
	if err := s.checkRow(row); err != nil {
		return err
	}
	if s.deps.Enricher == nil {
		return eris.New("importer: enrichment is not configured")
	}
	ctx, cancel := s.phaseContext(ctx)
	defer cancel()

	res, err := s.deps.Enricher.Enrich(ctx, enrich.Batch{
		Rows:     s.sheet.Rows,
		Mapping:  s.mapping,
		Only:     []int{row},
		Reserved: s.generatedCodes(row),
		Stored:   s.deps.Store,
	})
	if err != nil {
		return err
	}
	s.apply(res)
	return nil
}

// apply merges an enrichment result into the session. Manual values survive
// re-enrichment and rows with new image suggestions get them selected.
func (s *Session) apply(res *enrich.Result) {
	for idx, rec := range res.Records {
		if prev, ok := s.enrichment[idx]; ok {
			for f, v := range prev.Values {
				if v.Source == model.SourceManual {
					rec.Values[f] = v
				}
			}
		}
		s.enrichment[idx] = rec
	}
	for idx, imgs := range res.Selected {
		s.selected[idx] = imgs
	}
}

// generatedCodes lists auto item codes of every row except skip.
func (s *Session) generatedCodes(skip int) []string {
	var codes []string
	for idx, rec := range s.enrichment {
		if idx == skip {
			continue
		}
		if v, ok := rec.Get(schema.FieldItemCode); ok {
			if code, ok := v.Value.(string); ok && code != "" {
				codes = append(codes, code)
			}
		}
	}
	return codes
}

// Enrichment returns the enrichment record of row, or nil.
func (s *Session) Enrichment(row int) *model.EnrichmentRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enrichment[row]
}

// SetValue records a manual value for a field the row's own cell leaves
// empty.
func (s *Session) SetValue(row int, f schema.Field, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.require(PhaseMapped, "set value"); err != nil {
		return err
	}
	if err := s.checkRow(row); err != nil {
		return err
	}
	if !f.Valid() {
		return eris.Errorf("importer: unknown field %d", int(f))
	}
	if h, ok := s.mapping.HeaderFor(f); ok && materialize.Coerce(f, s.sheet.Rows[row].Value(h)) != nil {
		return eris.Wrapf(ErrCellValue, "row %d field %s", row, f.Key())
	}
	if materialize.Coerce(f, value) == nil {
		return eris.Errorf("importer: %q is not a valid %s", value, f.Key())
	}
	rec, ok := s.enrichment[row]
	if !ok {
		rec = model.NewEnrichmentRecord()
		s.enrichment[row] = rec
	}
	rec.Set(f, strings.TrimSpace(value), model.SourceManual)
	return nil
}

// SelectedImages returns a copy of the images selected for row.
func (s *Session) SelectedImages(row int) []model.Image {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Image(nil), s.selected[row]...)
}

// SelectImages replaces the selection of row. An empty selection falls back
// to the row's own image cell.
func (s *Session) SelectImages(row int, imgs []model.Image) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.require(PhaseMapped, "select images"); err != nil {
		return err
	}
	if err := s.checkRow(row); err != nil {
		return err
	}
	for _, img := range imgs {
		if strings.TrimSpace(img.URL) == "" {
			return eris.Errorf("importer: row %d: image without url", row)
		}
	}
	s.selected[row] = append([]model.Image(nil), imgs...)
	return nil
}

// AddImage appends img to the selection of row unless its URL is already
// selected.
func (s *Session) AddImage(row int, img model.Image) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.require(PhaseMapped, "add image"); err != nil {
		return err
	}
	if err := s.checkRow(row); err != nil {
		return err
	}
	img.URL = strings.TrimSpace(img.URL)
	if img.URL == "" {
		return eris.Errorf("importer: row %d: image without url", row)
	}
	for _, cur := range s.selected[row] {
		if cur.URL == img.URL {
			return nil
		}
	}
	if img.Source == "" {
		img.Source = string(model.SourceManual)
	}
	s.selected[row] = append(s.selected[row], img)
	return nil
}

// RemoveImage drops url from the selection of row. It reports whether an
// image was removed.
func (s *Session) RemoveImage(row int, url string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.require(PhaseMapped, "remove image"); err != nil {
		return false, err
	}
	if err := s.checkRow(row); err != nil {
		return false, err
	}
	cur := s.selected[row]
	for i, img := range cur {
		if img.URL == url {
			s.selected[row] = append(cur[:i:i], cur[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

// Records materializes every row with the current mapping, enrichment and
// image selection.
func (s *Session) Records() ([]model.CanonicalRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase < PhaseMapped {
		return nil, eris.Wrapf(ErrPhase, "records require %s, session is %s", PhaseMapped, s.phase)
	}
	return s.records(), nil
}

func (s *Session) records() []model.CanonicalRecord {
	opts := materialize.Options{DepartmentID: s.opts.DepartmentID, CreatedBy: s.opts.CreatedBy}
	out := make([]model.CanonicalRecord, len(s.sheet.Rows))
	for i, row := range s.sheet.Rows {
		out[i] = materialize.Row(row, s.mapping, s.enrichment[row.Index], s.selected[row.Index], opts)
	}
	return out
}

// Commit writes every row and, when an image runner is configured, creates
// image jobs for the committed rows. A session commits at most once; a
// cancelled commit returns the partial result with the context error.
func (s *Session) Commit(ctx context.Context, onProgress func(commit.Progress)) (*model.ImportResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.require(PhaseReconciled, "commit"); err != nil {
		return nil, err
	}
	if s.report.Blocking {
		return nil, validate.ErrNameUnmapped
	}
	ctx, cancel := s.phaseContext(ctx)
	defer cancel()

	s.mapping.Freeze()
	s.phase = PhaseCommitted

	out, err := commit.Records(ctx, s.deps.Store, s.records(), s.statuses, commit.Options{
		Mode:       s.opts.Mode,
		ChunkSize:  s.opts.CommitChunkSize,
		OnProgress: onProgress,
	})
	result := out.Result
	s.result = &result
	if err != nil {
		s.log.Warn("importer: commit stopped", zap.Int("processed", result.Total()), zap.Error(err))
		return s.result, err
	}
	s.log.Info("importer: committed",
		zap.String("mode", string(s.opts.Mode)),
		zap.Int("inserted", result.Inserted),
		zap.Int("updated", result.Updated),
		zap.Int("skipped", result.Skipped),
		zap.Int("failed", result.Failed),
	)

	s.persistImages(ctx, out.Written)
	return s.result, nil
}

// persistImages is best effort: failures are logged and stay visible on the
// job records.
func (s *Session) persistImages(ctx context.Context, written []commit.WrittenRow) {
	if s.deps.Images == nil {
		return
	}
	jobs, err := s.deps.Images.Enqueue(ctx, written)
	if err != nil {
		s.log.Warn("importer: image jobs not created", zap.Error(err))
		return
	}
	s.imageJobs = jobs
	if !s.opts.PersistImages || len(jobs) == 0 {
		return
	}
	sum, err := s.deps.Images.Run(ctx, jobs)
	s.imageResult = &sum
	if err != nil {
		s.log.Warn("importer: image persistence interrupted", zap.Error(err))
		return
	}
	s.log.Info("importer: persisted images",
		zap.Int("done", sum.Done), zap.Int("failed", sum.Failed), zap.Int("pending", sum.Pending))
}

// Report is a snapshot of the session for callers and the HTTP API.
type Report struct {
	SessionID  string                  `json:"session_id"`
	Phase      string                  `json:"phase"`
	Mapping    map[string]string       `json:"mapping,omitempty"`
	Warnings   []validate.Issue        `json:"warnings"`
	Reconcile  reconcile.Result        `json:"reconcile"`
	Statuses   []model.RowStatus       `json:"statuses,omitempty"`
	Enrichment enrich.Stats            `json:"enrichment"`
	Result     *model.ImportResult     `json:"result,omitempty"`
	ImageJobs  int                     `json:"image_jobs"`
	Images     *imagejob.Summary       `json:"images,omitempty"`
	Records    []model.CanonicalRecord `json:"records,omitempty"`
}

// Report returns the current snapshot. Records are included only when
// withRecords is set and the mapping exists.
func (s *Session) Report(withRecords bool) *Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := &Report{
		SessionID:  s.id,
		Phase:      s.phase.String(),
		Warnings:   s.report.Issues,
		Reconcile:  s.recon,
		Statuses:   append([]model.RowStatus(nil), s.statuses...),
		Enrichment: s.enrichStat,
		Result:     s.result,
		ImageJobs:  len(s.imageJobs),
		Images:     s.imageResult,
	}
	if r.Warnings == nil {
		r.Warnings = []validate.Issue{}
	}
	if s.mapping != nil {
		r.Mapping = s.mapping.Assignments()
		if withRecords {
			r.Records = s.records()
		}
	}
	return r
}
