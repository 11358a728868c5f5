package main

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"marketdata/internal/marketdata"
	"marketdata/internal/service"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func wantRefresh(r *http.Request) bool {
	return r.URL.Query().Get("refresh") == "true"
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handlePrice(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")
	currency := r.URL.Query().Get("currency")

	price := s.svc.GetCurrentPrice(r.Context(), symbol, currency, wantRefresh(r))
	if price == nil {
		writeError(w, http.StatusNotFound, "no price available for "+marketdata.NormalizeSymbol(symbol))
		return
	}
	writeJSON(w, http.StatusOK, price)
}

func (s *Server) handleBatchPrices(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("symbols")
	if raw == "" {
		writeError(w, http.StatusBadRequest, "symbols query parameter is required")
		return
	}
	symbols := strings.Split(raw, ",")
	currency := r.URL.Query().Get("currency")

	prices := s.svc.GetBatchPrices(r.Context(), symbols, currency, wantRefresh(r))
	writeJSON(w, http.StatusOK, map[string]any{"prices": prices})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Symbols []string `json:"symbols"`
	}
	if r.Body != nil {
		// An empty body means "refresh the watchlist"; anything else
		// must be valid JSON.
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}

	refreshed := s.svc.RefreshPrices(r.Context(), req.Symbols)
	writeJSON(w, http.StatusOK, map[string]int{"refreshed": refreshed})
}

func (s *Server) handleHistorical(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")
	currency := r.URL.Query().Get("currency")

	end := time.Now().UTC()
	if v := r.URL.Query().Get("end"); v != "" {
		t, err := time.Parse(marketdata.DateFormat, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "end must be YYYY-MM-DD")
			return
		}
		end = t
	}
	start := end.AddDate(0, -1, 0)
	if v := r.URL.Query().Get("start"); v != "" {
		t, err := time.Parse(marketdata.DateFormat, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "start must be YYYY-MM-DD")
			return
		}
		start = t
	}
	if end.Before(start) {
		writeError(w, http.StatusBadRequest, "end is before start")
		return
	}

	points := s.svc.GetHistoricalPrices(r.Context(), symbol, start, end, currency, wantRefresh(r))
	writeJSON(w, http.StatusOK, map[string]any{
		"symbol": marketdata.NormalizeSymbol(symbol),
		"points": points,
	})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		writeError(w, http.StatusBadRequest, "q query parameter is required")
		return
	}

	results := s.svc.SearchAssets(r.Context(), query, wantRefresh(r))
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

func (s *Server) handleProviders(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"providers": s.reg.ProviderStatus()})
}

func (s *Server) handleProviderUpdate(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	var req struct {
		Enabled *bool   `json:"enabled"`
		APIKey  *string `json:"api_key"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Enabled == nil && req.APIKey == nil {
		writeError(w, http.StatusBadRequest, "nothing to update")
		return
	}

	unknown := s.svc.UpdateConfig(service.ConfigUpdate{
		Providers: map[string]service.ProviderUpdate{
			name: {Enabled: req.Enabled, APIKey: req.APIKey},
		},
	})
	if len(unknown) > 0 {
		writeError(w, http.StatusNotFound, "unknown provider "+name)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"providers": s.reg.ProviderStatus()})
}

func (s *Server) handleErrors(w http.ResponseWriter, r *http.Request) {
	n := 0
	if v := r.URL.Query().Get("n"); v != "" {
		n, _ = strconv.Atoi(v)
	}
	writeJSON(w, http.StatusOK, map[string]any{"errors": s.reg.RecentErrors(n)})
}

func (s *Server) handleCacheHealth(w http.ResponseWriter, r *http.Request) {
	health := s.svc.CacheHealth(r.Context())
	status := http.StatusOK
	if !health.OK() {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, health)
}

func (s *Server) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	if !s.svc.ClearCache(r.Context()) {
		writeError(w, http.StatusInternalServerError, "cache clear failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"cleared": true})
}
