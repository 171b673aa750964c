package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dvloznov/finance-ledger/internal/apperrors"
	"github.com/dvloznov/finance-ledger/internal/domain"
	"github.com/dvloznov/finance-ledger/internal/ledger"
	"github.com/dvloznov/finance-ledger/internal/normalize"
	"github.com/dvloznov/finance-ledger/internal/staging"
	"github.com/dvloznov/finance-ledger/internal/store"
	"github.com/rs/zerolog"
)

// DefaultModifiedThreshold is how far apart a transaction's creation and
// update instants must be before it counts as modified.
const DefaultModifiedThreshold = 60 * time.Second

// Stage identifies one step of the API refresh, numbered from 1.
type Stage int

const (
	StageFetch Stage = iota + 1
	StageClassify
	StageDetectModified
	StageImportNew
	StageApplyModified
)

var stageNames = map[Stage]string{
	StageFetch:          "fetch",
	StageClassify:       "classify",
	StageDetectModified: "detect-modified",
	StageImportNew:      "import-new",
	StageApplyModified:  "apply-modified",
}

func (s Stage) String() string {
	if n, ok := stageNames[s]; ok {
		return n
	}
	return "stage(" + strconv.Itoa(int(s)) + ")"
}

// ParseStage accepts a stage name or its number.
func ParseStage(s string) (Stage, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if n, err := strconv.Atoi(s); err == nil {
		st := Stage(n)
		if _, ok := stageNames[st]; ok {
			return st, nil
		}
	}
	for st, name := range stageNames {
		if name == s {
			return st, nil
		}
	}
	return 0, apperrors.NewValidationError(fmt.Sprintf("unknown refresh stage %q", s))
}

// StageError is returned by a refresh that failed in Stage. Resuming from
// Stage retries without repeating the stages before it.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string { return e.Err.Error() }

func (e *StageError) Unwrap() error { return e.Err }

// FailedStage returns the stage a refresh error came from.
func FailedStage(err error) (Stage, bool) {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage, true
	}
	return 0, false
}

// LedgerSource is the slice of the ledger API client a refresh uses.
type LedgerSource interface {
	TransactionsUpdatedSince(ctx context.Context, since time.Time) ([]ledger.Transaction, error)
	CategoryTitle(ctx context.Context, id string) (string, error)
}

// RefreshStore is the slice of the transaction store a refresh writes to.
type RefreshStore interface {
	ExistingExternalIDs(ctx context.Context, ids []string) (map[string]bool, error)
	InsertMany(ctx context.Context, txs []*domain.Transaction) (store.BulkResult, error)
	UpsertByExternalID(ctx context.Context, txs []*domain.Transaction) (store.BulkResult, error)
}

type RefreshConfig struct {
	BaseCurrency      string
	ModifiedThreshold time.Duration
}

// Refresher runs the staged incremental import from the ledger API. Every
// stage saves its output before the next one starts, so a failed run can be
// resumed from the last completed stage without refetching.
type Refresher struct {
	src    LedgerSource
	store  RefreshStore
	stg    staging.Store
	titles *normalize.CategoryTitles
	cfg    RefreshConfig
	log    zerolog.Logger
	now    func() time.Time
}

func NewRefresher(src LedgerSource, st RefreshStore, stg staging.Store, cfg RefreshConfig, log zerolog.Logger) *Refresher {
	if cfg.ModifiedThreshold <= 0 {
		cfg.ModifiedThreshold = DefaultModifiedThreshold
	}
	return &Refresher{
		src:    src,
		store:  st,
		stg:    stg,
		titles: normalize.NewCategoryTitles(src, log),
		cfg:    cfg,
		log:    log,
		now:    time.Now,
	}
}

// RefreshFromAPI imports everything changed since the cutoff. A zero since
// continues from the last successful refresh.
func (r *Refresher) RefreshFromAPI(ctx context.Context, since time.Time) (domain.IngestionReport, error) {
	return r.run(ctx, StageFetch, &RefreshState{Since: since})
}

// Resume restarts a refresh at from, loading the inputs of that stage from
// staging. The report counts only the stages that run.
func (r *Refresher) Resume(ctx context.Context, from Stage) (domain.IngestionReport, error) {
	if _, ok := stageNames[from]; !ok {
		return domain.IngestionReport{}, apperrors.NewValidationError(fmt.Sprintf("unknown refresh stage %d", from))
	}
	if from == StageFetch {
		return r.RefreshFromAPI(ctx, time.Time{})
	}

	state := &RefreshState{}
	inputs := map[Stage][]string{
		StageClassify:       {ArtifactAll},
		StageDetectModified: {ArtifactAll, ArtifactNew, ArtifactExisting},
		StageImportNew:      {ArtifactAll, ArtifactNew, ArtifactModified},
		StageApplyModified:  {ArtifactAll, ArtifactModified},
	}
	targets := map[string]*[]ledger.Transaction{
		ArtifactAll:      &state.All,
		ArtifactNew:      &state.New,
		ArtifactExisting: &state.Existing,
		ArtifactModified: &state.Modified,
	}
	for _, name := range inputs[from] {
		txs, err := loadTransactions(ctx, r.stg, name)
		if err != nil {
			return domain.IngestionReport{}, fmt.Errorf("Resume: loading %s for %s: %w", name, from, err)
		}
		*targets[name] = txs
	}

	r.log.Info().Str("stage", from.String()).Int("fetched", len(state.All)).Msg("Resuming refresh")
	return r.run(ctx, from, state)
}

func (r *Refresher) run(ctx context.Context, from Stage, state *RefreshState) (domain.IngestionReport, error) {
	steps := []Step{
		&FetchStep{r: r},
		&ClassifyStep{r: r},
		&DetectModifiedStep{r: r},
		&ImportNewStep{r: r},
		&ApplyModifiedStep{r: r},
	}

	if err := NewPipeline(steps[from-1:]...).Execute(ctx, state); err != nil {
		state.Report.Total = len(state.All)
		failed := from
		var se *StepError
		if errors.As(err, &se) {
			failed = from + Stage(se.Step) - 1
		}
		r.log.Error().Err(err).Str("stage", failed.String()).Interface("report", state.Report).Msg("Refresh failed")
		return state.Report, &StageError{Stage: failed, Err: err}
	}
	return r.finish(ctx, state)
}

func (r *Refresher) finish(ctx context.Context, state *RefreshState) (domain.IngestionReport, error) {
	state.Report.Total = len(state.All)
	state.Report.Artifacts = append(append([]string{}, TransactionArtifacts...), ArtifactImportReport, ArtifactUpdateReport, ArtifactRefreshReport)

	if err := r.stg.Save(ctx, ArtifactRefreshReport, state.Report); err != nil {
		return state.Report, fmt.Errorf("saving %s: %w", ArtifactRefreshReport, err)
	}
	// Only a run that fetched knows its cutoff.
	if !state.StartedAt.IsZero() {
		started := state.StartedAt.UTC()
		if err := updateAppData(ctx, r.stg, func(a *AppData) { a.LastRefresh = &started }); err != nil {
			return state.Report, err
		}
	}

	r.log.Info().
		Int("inserted", state.Report.InsertedCount).
		Int("updated", state.Report.UpdatedCount).
		Int("skipped", state.Report.SkippedCount).
		Int("failed", state.Report.FailedCount).
		Int("total", state.Report.Total).
		Msg("Refresh finished")
	return state.Report, nil
}

// Stage 1: FetchStep pulls changed transactions from the ledger API and
// stages them, including a partial list when the fetch fails midway.
type FetchStep struct{ r *Refresher }

func (s *FetchStep) Execute(ctx context.Context, state *RefreshState) error {
	state.StartedAt = s.r.now()

	if state.Since.IsZero() {
		app, err := LoadAppData(ctx, s.r.stg)
		if err != nil {
			return err
		}
		if app.LastRefresh == nil {
			return apperrors.NewValidationError("since is required for the first refresh")
		}
		state.Since = *app.LastRefresh
	}

	txs, fetchErr := s.r.src.TransactionsUpdatedSince(ctx, state.Since)
	state.All = txs
	if err := saveTransactions(ctx, s.r.stg, ArtifactAll, txs); err != nil {
		return err
	}
	if fetchErr != nil {
		s.r.log.Warn().Err(fetchErr).Int("staged", len(txs)).Msg("Fetch failed, partial results staged")
		return apperrors.NewExternalServiceError("fetching ledger transactions", fetchErr)
	}

	s.r.log.Info().Time("since", state.Since).Int("fetched", len(txs)).Msg("Fetched ledger transactions")
	return nil
}

// Stage 2: ClassifyStep splits fetched transactions into new and existing.
// Transactions without an id are always new.
type ClassifyStep struct{ r *Refresher }

func (s *ClassifyStep) Execute(ctx context.Context, state *RefreshState) error {
	existing, err := s.r.store.ExistingExternalIDs(ctx, ledgerIDs(state.All))
	if err != nil {
		return apperrors.NewPersistenceError("checking existing ids", err)
	}

	state.New, state.Existing = nil, nil
	for _, t := range state.All {
		if t.HasID() && existing[t.ID.String()] {
			state.Existing = append(state.Existing, t)
		} else {
			state.New = append(state.New, t)
		}
	}

	if err := saveTransactions(ctx, s.r.stg, ArtifactNew, state.New); err != nil {
		return err
	}
	if err := saveTransactions(ctx, s.r.stg, ArtifactExisting, state.Existing); err != nil {
		return err
	}
	s.r.log.Info().Int("new", len(state.New)).Int("existing", len(state.Existing)).Msg("Classified transactions")
	return nil
}

// Stage 3: DetectModifiedStep keeps existing transactions whose update and
// creation instants are further apart than the threshold. Transactions
// missing either instant are dropped from the existing list.
type DetectModifiedStep struct{ r *Refresher }

func (s *DetectModifiedStep) Execute(ctx context.Context, state *RefreshState) error {
	kept := make([]ledger.Transaction, 0, len(state.Existing))
	state.Modified = nil
	for _, t := range state.Existing {
		if t.CreatedAt == nil || t.UpdatedAt == nil {
			continue
		}
		kept = append(kept, t)
		diff := t.UpdatedAt.Sub(*t.CreatedAt)
		if diff < 0 {
			diff = -diff
		}
		if diff > s.r.cfg.ModifiedThreshold {
			state.Modified = append(state.Modified, t)
		}
	}

	if dropped := len(state.Existing) - len(kept); dropped > 0 {
		s.r.log.Warn().Int("dropped", dropped).Msg("Removed existing transactions missing created_at or updated_at")
	}
	state.Report.SkippedCount += len(state.Existing) - len(state.Modified)
	state.Existing = kept

	if err := saveTransactions(ctx, s.r.stg, ArtifactExisting, state.Existing); err != nil {
		return err
	}
	if err := saveTransactions(ctx, s.r.stg, ArtifactModified, state.Modified); err != nil {
		return err
	}
	s.r.log.Info().Int("modified", len(state.Modified)).Dur("threshold", s.r.cfg.ModifiedThreshold).Msg("Detected modified transactions")
	return nil
}

// Stage 4: ImportNewStep inserts new transactions. Existence is checked again
// right before the insert, and ids repeated within the list are inserted once.
type ImportNewStep struct{ r *Refresher }

func (s *ImportNewStep) Execute(ctx context.Context, state *RefreshState) error {
	var rep domain.IngestionReport
	defer func() { state.Report.Add(rep) }()

	existing, err := s.r.store.ExistingExternalIDs(ctx, ledgerIDs(state.New))
	if err != nil {
		return apperrors.NewPersistenceError("re-checking existing ids", err)
	}
	if existing == nil {
		existing = make(map[string]bool)
	}

	records := make([]*domain.Transaction, 0, len(state.New))
	for _, t := range state.New {
		if t.HasID() {
			id := t.ID.String()
			if existing[id] {
				rep.SkippedCount++
				continue
			}
			existing[id] = true
		}
		records = append(records, normalize.FromLedger(t, s.r.cfg.BaseCurrency))
	}
	s.r.titles.Resolve(ctx, records)

	var res store.BulkResult
	if len(records) > 0 {
		res, err = s.r.store.InsertMany(ctx, records)
	}
	rep.InsertedCount = res.Inserted
	rep.FailedCount = res.Failed
	state.Imported = records
	logWriteErrors(s.r.log, res)

	if saveErr := s.r.stg.Save(ctx, ArtifactImportReport, rep); saveErr != nil {
		return fmt.Errorf("staging %s: %w", ArtifactImportReport, saveErr)
	}
	if err != nil {
		return apperrors.NewPersistenceError("inserting new transactions", err)
	}
	s.r.log.Info().Int("inserted", rep.InsertedCount).Int("skipped", rep.SkippedCount).Msg("Imported new transactions")
	return nil
}

// Stage 5: ApplyModifiedStep upserts modified transactions by external id.
type ApplyModifiedStep struct{ r *Refresher }

func (s *ApplyModifiedStep) Execute(ctx context.Context, state *RefreshState) error {
	var rep domain.IngestionReport
	defer func() { state.Report.Add(rep) }()

	records := make([]*domain.Transaction, 0, len(state.Modified))
	for _, t := range state.Modified {
		if !t.HasID() {
			rep.SkippedCount++
			continue
		}
		records = append(records, normalize.FromLedger(t, s.r.cfg.BaseCurrency))
	}
	s.r.titles.Resolve(ctx, records)

	var res store.BulkResult
	var err error
	if len(records) > 0 {
		res, err = s.r.store.UpsertByExternalID(ctx, records)
	}
	rep.UpdatedCount = res.Updated + res.Inserted
	rep.FailedCount = res.Failed
	state.Updated = records
	logWriteErrors(s.r.log, res)

	if saveErr := s.r.stg.Save(ctx, ArtifactUpdateReport, rep); saveErr != nil {
		return fmt.Errorf("staging %s: %w", ArtifactUpdateReport, saveErr)
	}
	if err != nil {
		return apperrors.NewPersistenceError("upserting modified transactions", err)
	}
	s.r.log.Info().Int("updated", rep.UpdatedCount).Int("skipped", rep.SkippedCount).Msg("Applied modified transactions")
	return nil
}

func ledgerIDs(txs []ledger.Transaction) []string {
	seen := make(map[string]bool, len(txs))
	ids := make([]string, 0, len(txs))
	for _, t := range txs {
		if !t.HasID() {
			continue
		}
		id := t.ID.String()
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	return ids
}

func logWriteErrors(log zerolog.Logger, res store.BulkResult) {
	for _, err := range res.Errors {
		log.Warn().Err(err).Msg("Write rejected")
	}
}
