package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/dvloznov/finance-ledger/internal/api/middleware"
	"github.com/dvloznov/finance-ledger/internal/logger"
	"github.com/rs/zerolog"
)

// NewMux registers every API route.
func NewMux(reports *ReportsHandler, ingest *IngestHandler, jobsHandler *JobsHandler) *http.ServeMux {
	mux := http.NewServeMux()

	// Reports endpoints
	mux.HandleFunc("/api/reports/balance", allow(reports.BalanceSheet, http.MethodGet))
	mux.HandleFunc("/api/reports/cash-flow", allow(reports.CashFlow, http.MethodGet))

	// Ingestion endpoints
	mux.HandleFunc("/api/ingest/csv", allow(ingest.IngestCSV, http.MethodPost))
	mux.HandleFunc("/api/ingest/refresh", allow(ingest.Refresh, http.MethodPost))
	mux.HandleFunc("/api/ingest/clear-all", allow(ingest.ClearAll, http.MethodPost))
	mux.HandleFunc("/api/ingest/analyze", allow(ingest.Analyze, http.MethodGet, http.MethodPost))
	mux.HandleFunc("/api/ingest/appdata", allow(ingest.AppData, http.MethodGet))
	mux.HandleFunc("/api/ingest/artifacts", allow(ingest.ArtifactCounts, http.MethodGet))

	mux.HandleFunc("/api/ingest/artifacts/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			name := strings.TrimPrefix(r.URL.Path, "/api/ingest/artifacts/")
			if name == "" {
				ingest.ArtifactCounts(w, r)
				return
			}
			ingest.Artifact(w, r, name)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	// Jobs endpoints
	mux.HandleFunc("/api/jobs", allow(jobsHandler.ListJobs, http.MethodGet))

	mux.HandleFunc("/api/jobs/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			// Extract job ID from path
			jobID := strings.TrimPrefix(r.URL.Path, "/api/jobs/")
			if jobID == "" {
				middleware.WriteError(w, http.StatusBadRequest, "Job ID is required")
				return
			}
			jobsHandler.GetJob(w, r, jobID)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	// Health check endpoint
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteJSON(w, http.StatusOK, map[string]string{
			"status": "healthy",
			"time":   time.Now().Format(time.RFC3339),
		})
	})

	return mux
}

// allow rejects requests whose method is not listed.
func allow(fn http.HandlerFunc, methods ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		for _, m := range methods {
			if r.Method == m {
				fn(w, r)
				return
			}
		}
		middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// reqLogger returns the request-scoped logger set by middleware.Logger, or
// fallback outside the middleware chain.
func reqLogger(r *http.Request, fallback zerolog.Logger) *zerolog.Logger {
	log := logger.FromContextOr(r.Context(), fallback)
	return &log
}
