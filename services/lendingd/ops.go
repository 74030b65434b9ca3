package main

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"mmlink/services/lending/journal"
)

// newOpsHandler serves health, Prometheus metrics and, when a journal is
// configured, the liquidation history.
func newOpsHandler(j *journal.Journal) http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())
	if j != nil {
		r.Get("/liquidations", func(w http.ResponseWriter, req *http.Request) {
			query := req.URL.Query()
			target := strings.TrimSpace(query.Get("target"))
			if target != "" {
				if !common.IsHexAddress(target) {
					writeJSONError(w, http.StatusBadRequest, "target must be a hex address")
					return
				}
				target = common.HexToAddress(target).Hex()
			}
			limit := 0
			if raw := strings.TrimSpace(query.Get("limit")); raw != "" {
				parsed, err := strconv.Atoi(raw)
				if err != nil || parsed < 0 {
					writeJSONError(w, http.StatusBadRequest, "limit must be a non-negative integer")
					return
				}
				limit = parsed
			}
			rows, err := j.Liquidations(req.Context(), target, limit)
			if err != nil {
				writeJSONError(w, http.StatusInternalServerError, err.Error())
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"liquidations": rows})
		})
		r.Get("/operations", func(w http.ResponseWriter, req *http.Request) {
			window := time.Hour
			if raw := strings.TrimSpace(req.URL.Query().Get("window")); raw != "" {
				parsed, err := time.ParseDuration(raw)
				if err != nil || parsed <= 0 {
					writeJSONError(w, http.StatusBadRequest, "window must be a positive duration")
					return
				}
				window = parsed
			}
			counts, err := j.OperationCounts(req.Context(), time.Now().Add(-window))
			if err != nil {
				writeJSONError(w, http.StatusInternalServerError, err.Error())
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"window": window.String(), "operations": counts})
		})
	}
	return otelhttp.NewHandler(r, "lendingd-ops")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
