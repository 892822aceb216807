package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/fintech-crm/lead-engine/internal/filter"
	"github.com/fintech-crm/lead-engine/internal/leads"
	"github.com/fintech-crm/lead-engine/internal/syncer"
)

const defaultPageSize = 10

func (s *server) health(w http.ResponseWriter, r *http.Request) {
	deps := map[string]string{"database": "not configured"}
	status := "healthy"
	if s.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.db.Ping(ctx); err != nil {
			deps["database"] = "unhealthy: " + err.Error()
			status = "degraded"
		} else {
			deps["database"] = "healthy"
		}
	}

	body := map[string]any{
		"status":       status,
		"uptime":       time.Since(s.started).Round(time.Second).String(),
		"dependencies": deps,
	}
	if s.breakers != nil {
		body["circuits"] = s.breakers.States()
	}

	code := http.StatusOK
	if status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, body)
}

func (s *server) combined(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	page, err := intParam(q, "page", 1)
	if err != nil || page < 1 {
		writeError(w, http.StatusUnprocessableEntity, "page must be an integer >= 1")
		return
	}
	pageSize, err := intParam(q, "page_size", defaultPageSize)
	if err != nil || pageSize < 1 || pageSize > s.cfg.MaxPageSize {
		writeError(w, http.StatusUnprocessableEntity, fmt.Sprintf("page_size must be an integer between 1 and %d", s.cfg.MaxPageSize))
		return
	}

	params := filter.Params{
		Search:         q.Get("search"),
		DateRange:      q.Get("date_range"),
		DateFrom:       q.Get("date_from"),
		DateTo:         q.Get("date_to"),
		LoanAmount:     q.Get("loan_amount"),
		EmploymentType: q.Get("employment_type"),
		CIBILScore:     q.Get("cibil_score"),
		Sources:        q["sources"],
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.RequestTimeout)
	defer cancel()

	out, err := s.leads.GetCombinedLeads(ctx, params, page, pageSize)
	if err != nil {
		// The read path degrades to an empty page rather than an error status.
		zap.L().Warn("combined leads aborted",
			zap.String("component", "api"),
			zap.Bool("timeout", errors.Is(err, context.DeadlineExceeded)),
			zap.Error(err),
		)
		out = leads.Paginate(nil, page, pageSize)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *server) triggerSync(w http.ResponseWriter, r *http.Request) {
	if s.sync == nil {
		writeError(w, http.StatusServiceUnavailable, "sync is not configured")
		return
	}

	opts := syncer.RunOpts{Sources: r.URL.Query()["source"]}
	opts.Full, _ = strconv.ParseBool(r.URL.Query().Get("full"))

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.SyncTimeout)
	defer cancel()

	outcomes, err := s.sync.Run(ctx, opts)
	if err != nil {
		zap.L().Error("sync request failed", zap.String("component", "api"), zap.Error(err))
		if eris.Is(err, syncer.ErrUnknownSource) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "sync failed")
		return
	}

	var rows int64
	var failed int
	for _, o := range outcomes {
		rows += o.Reconcile.Upserted + o.Reconcile.Inserted
		if o.Error != "" {
			failed++
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sources":        outcomes,
		"rows_written":   rows,
		"failed_sources": failed,
	})
}

func intParam(q url.Values, key string, def int) (int, error) {
	v := q.Get(key)
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}
