package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/dvloznov/finance-ledger/internal/api/middleware"
	"github.com/dvloznov/finance-ledger/internal/coa"
	"github.com/dvloznov/finance-ledger/internal/jobs"
	"github.com/dvloznov/finance-ledger/internal/normalize"
	"github.com/dvloznov/finance-ledger/internal/pipeline"
	"github.com/dvloznov/finance-ledger/internal/staging"
	"github.com/rs/zerolog"
)

// Clearer empties the transaction store.
type Clearer interface {
	ClearAll(ctx context.Context) (int64, error)
}

// Analyzer regenerates the dictionaries and checks the chart against them.
type Analyzer interface {
	Analyze(ctx context.Context) (coa.IntegrityReport, error)
}

// IngestHandler enqueues ingestion jobs and exposes their staged output.
type IngestHandler struct {
	publisher  jobs.Publisher
	clearer    Clearer
	stg        staging.Store
	analyzer   Analyzer
	defaultCSV string
	log        zerolog.Logger
}

// NewIngestHandler creates a new ingest handler. defaultCSV is used when a
// CSV request names no source.
func NewIngestHandler(publisher jobs.Publisher, clearer Clearer, stg staging.Store, analyzer Analyzer, defaultCSV string, log zerolog.Logger) *IngestHandler {
	return &IngestHandler{
		publisher:  publisher,
		clearer:    clearer,
		stg:        stg,
		analyzer:   analyzer,
		defaultCSV: defaultCSV,
		log:        log,
	}
}

// IngestCSV handles POST /api/ingest/csv
//
// The source is taken from ?source=, then a JSON body {"source": "..."},
// then the configured default. It may be a local path or a gs:// URI.
func (h *IngestHandler) IngestCSV(w http.ResponseWriter, r *http.Request) {
	source := r.URL.Query().Get("source")
	if source == "" && r.ContentLength > 0 {
		var req struct {
			Source string `json:"source"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
		source = req.Source
	}
	if source = strings.TrimSpace(source); source == "" {
		source = h.defaultCSV
	}
	if source == "" {
		middleware.WriteError(w, http.StatusBadRequest, "source is required")
		return
	}

	h.enqueue(w, r, &jobs.IngestJob{Kind: jobs.JobTypeIngestCSV, Source: source})
}

// Refresh handles POST /api/ingest/refresh?since=
//
// Without since the refresh continues from the last successful one.
func (h *IngestHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	job := &jobs.IngestJob{Kind: jobs.JobTypeRefresh}

	if raw := r.URL.Query().Get("since"); raw != "" {
		since := normalize.ParseDate(raw)
		if since == nil {
			middleware.WriteError(w, http.StatusBadRequest, "Invalid since")
			return
		}
		job.Since = since
	}
	if raw := r.URL.Query().Get("resumeFrom"); raw != "" {
		stage, err := pipeline.ParseStage(raw)
		if err != nil {
			middleware.WriteAppError(w, err)
			return
		}
		job.ResumeFrom = stage
	}

	h.enqueue(w, r, job)
}

func (h *IngestHandler) enqueue(w http.ResponseWriter, r *http.Request, job *jobs.IngestJob) {
	if err := h.publisher.PublishIngest(r.Context(), job); err != nil {
		reqLogger(r, h.log).Error().Err(err).Str("kind", string(job.Kind)).Msg("Failed to enqueue ingestion job")
		middleware.WriteError(w, http.StatusServiceUnavailable, "Failed to enqueue job")
		return
	}

	reqLogger(r, h.log).Info().Str("job_id", job.JobID).Str("kind", string(job.Kind)).Msg("Ingestion job enqueued")
	middleware.WriteJSON(w, http.StatusAccepted, map[string]interface{}{
		"job_id": job.JobID,
		"kind":   job.Kind,
		"status": job.Status,
	})
}

// ClearAll handles POST /api/ingest/clear-all?confirm=true
func (h *IngestHandler) ClearAll(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("confirm") != "true" {
		middleware.WriteError(w, http.StatusBadRequest, "confirm=true is required")
		return
	}

	deleted, err := h.clearer.ClearAll(r.Context())
	if err != nil {
		reqLogger(r, h.log).Error().Err(err).Msg("Failed to clear transactions")
		middleware.WriteAppError(w, err)
		return
	}

	reqLogger(r, h.log).Warn().Int64("deleted", deleted).Msg("Transaction store cleared")
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"cleared": true,
		"deleted": deleted,
	})
}

// ArtifactCounts handles GET /api/ingest/artifacts
func (h *IngestHandler) ArtifactCounts(w http.ResponseWriter, r *http.Request) {
	counts, err := pipeline.ArtifactCounts(r.Context(), h.stg)
	if err != nil {
		reqLogger(r, h.log).Error().Err(err).Msg("Failed to count artifacts")
		middleware.WriteAppError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, counts)
}

// Artifact handles GET /api/ingest/artifacts/{name}
//
// Transaction lists that were never staged read as an empty list.
func (h *IngestHandler) Artifact(w http.ResponseWriter, r *http.Request, name string) {
	var raw json.RawMessage
	err := h.stg.Load(r.Context(), name, &raw)
	if err != nil {
		if isTransactionArtifact(name) && errors.Is(err, staging.ErrNotFound) {
			middleware.WriteJSON(w, http.StatusOK, []interface{}{})
			return
		}
		reqLogger(r, h.log).Warn().Err(err).Str("artifact", name).Msg("Failed to load artifact")
		middleware.WriteAppError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, raw)
}

// AppData handles GET /api/ingest/appdata
func (h *IngestHandler) AppData(w http.ResponseWriter, r *http.Request) {
	data, err := pipeline.LoadAppData(r.Context(), h.stg)
	if err != nil {
		reqLogger(r, h.log).Error().Err(err).Msg("Failed to load app data")
		middleware.WriteAppError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, data)
}

// Analyze handles GET or POST /api/ingest/analyze
func (h *IngestHandler) Analyze(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Minute)
	defer cancel()

	rep, err := h.analyzer.Analyze(ctx)
	if err != nil {
		reqLogger(r, h.log).Error().Err(err).Msg("Failed to analyze chart of accounts")
		middleware.WriteAppError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, rep)
}

func isTransactionArtifact(name string) bool {
	for _, n := range pipeline.TransactionArtifacts {
		if n == name {
			return true
		}
	}
	return false
}
