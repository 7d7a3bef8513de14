package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"

	"github.com/ethpandaops/dnsperfoor/pkg/config"
	"github.com/ethpandaops/dnsperfoor/pkg/report"
	"github.com/ethpandaops/dnsperfoor/pkg/store"
)

// errorResponse is a standard error payload.
type errorResponse struct {
	Error string `json:"error"`
}

// writeJSON encodes v as JSON and writes it to w.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "encoding response", http.StatusInternalServerError)
	}
}

// handleHealth returns server health status.
func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleListRuns returns every stored run.
func (s *server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.store.ListRuns(r.Context())
	if err != nil {
		s.log.WithError(err).Error("Failed to list runs")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"internal error"})

		return
	}

	if runs == nil {
		runs = []store.Run{}
	}

	writeJSON(w, http.StatusOK, runs)
}

// handleReport builds the report and renders it in the requested format.
// Concurrent requests share a single build.
func (s *server) handleReport(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("format")
	if name == "" {
		name = s.reportCfg.Format
	}

	if name == "" {
		name = config.DefaultReportFormat
	}

	format, err := report.ParseFormat(name)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{err.Error()})

		return
	}

	ctx := context.WithoutCancel(r.Context())

	v, err, shared := s.reports.Do("report", func() (any, error) {
		return s.aggregator.Build(ctx)
	})
	if err != nil {
		s.log.WithError(err).Error("Failed to build report")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"internal error"})

		return
	}

	rows, _ := v.([]report.Row)

	s.log.WithField("rows", len(rows)).
		WithField("shared", shared).
		Debug("Report built")

	var buf bytes.Buffer
	if err := report.Render(
		&buf, rows, s.aggregator.Percentiles(), format,
	); err != nil {
		s.log.WithError(err).Error("Failed to render report")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"internal error"})

		return
	}

	w.Header().Set("Content-Type", format.ContentType())
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}
