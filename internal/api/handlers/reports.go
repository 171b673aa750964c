package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dvloznov/finance-ledger/internal/api/middleware"
	"github.com/dvloznov/finance-ledger/internal/normalize"
	"github.com/dvloznov/finance-ledger/internal/report"
	"github.com/rs/zerolog"
)

// BalanceSheets builds a balance sheet as of a date.
type BalanceSheets interface {
	Build(ctx context.Context, asOf time.Time) (*report.BalanceSheet, error)
}

// CashFlows builds a cash flow over a range.
type CashFlows interface {
	Build(ctx context.Context, q report.CashFlowQuery) (*report.CashFlow, error)
}

// ReportsHandler serves the balance sheet and cash flow reports.
type ReportsHandler struct {
	balance  BalanceSheets
	cashFlow CashFlows
	log      zerolog.Logger
}

// NewReportsHandler creates a new reports handler.
func NewReportsHandler(balance BalanceSheets, cashFlow CashFlows, log zerolog.Logger) *ReportsHandler {
	return &ReportsHandler{
		balance:  balance,
		cashFlow: cashFlow,
		log:      log,
	}
}

// BalanceSheet handles GET /api/reports/balance?asOfDate=YYYY-MM-DD
//
// X-FX-Degraded lists currencies valued with a fallback rate.
func (h *ReportsHandler) BalanceSheet(w http.ResponseWriter, r *http.Request) {
	asOf, ok := requiredDate(w, r, "asOfDate")
	if !ok {
		return
	}

	sheet, err := h.balance.Build(r.Context(), asOf)
	if err != nil {
		reqLogger(r, h.log).Error().Err(err).Time("as_of", asOf).Msg("Failed to build balance sheet")
		middleware.WriteAppError(w, err)
		return
	}

	if degraded := sheet.DegradedCurrencies(); len(degraded) > 0 {
		w.Header().Set("X-FX-Degraded", strings.Join(degraded, ","))
	}
	middleware.WriteJSON(w, http.StatusOK, sheet)
}

// CashFlow handles GET /api/reports/cash-flow?fromDate=&toDate=&transfers=&includeUnrealizedGL=
func (h *ReportsHandler) CashFlow(w http.ResponseWriter, r *http.Request) {
	from, ok := requiredDate(w, r, "fromDate")
	if !ok {
		return
	}
	to, ok := requiredDate(w, r, "toDate")
	if !ok {
		return
	}

	query := r.URL.Query()
	q := report.CashFlowQuery{
		From:      from,
		To:        to,
		Transfers: report.ParseTransferMode(query.Get("transfers")),
	}
	if v := query.Get("includeUnrealizedGL"); v != "" {
		q.IncludeUnrealizedGL, _ = strconv.ParseBool(v)
	}

	flow, err := h.cashFlow.Build(r.Context(), q)
	if err != nil {
		reqLogger(r, h.log).Error().Err(err).Time("from", from).Time("to", to).Msg("Failed to build cash flow")
		middleware.WriteAppError(w, err)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, flow)
}

// requiredDate reads a date query parameter, writing a 400 when it is absent
// or unparseable.
func requiredDate(w http.ResponseWriter, r *http.Request, name string) (time.Time, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		middleware.WriteError(w, http.StatusBadRequest, name+" is required")
		return time.Time{}, false
	}
	t := normalize.ParseDate(raw)
	if t == nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid "+name)
		return time.Time{}, false
	}
	return *t, true
}
