package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/coder895/car-market-analyzer/internal/analysis"
	"github.com/coder895/car-market-analyzer/internal/model"
)

func respondJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("write response", zap.Error(err))
	}
}

func respondError(w http.ResponseWriter, code int, msg string) {
	respondJSON(w, code, map[string]string{"error": msg})
}

func queryInt(r *http.Request, name string) *int {
	s := r.URL.Query().Get(name)
	if s == "" {
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return nil
	}
	return &v
}

func queryFloat(r *http.Request, name string) *float64 {
	s := r.URL.Query().Get(name)
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &v
}

func filterFromQuery(r *http.Request) model.ListingFilter {
	q := r.URL.Query()
	return model.ListingFilter{
		Make:       q.Get("make"),
		Model:      q.Get("model"),
		Status:     q.Get("status"),
		SearchTerm: q.Get("search"),
		PriceMin:   queryFloat(r, "price_min"),
		PriceMax:   queryFloat(r, "price_max"),
		YearMin:    queryInt(r, "year_min"),
		YearMax:    queryInt(r, "year_max"),
		MileageMax: queryInt(r, "mileage_max"),
	}
}

func (e *appEnv) handleListListings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	f := filterFromQuery(r)

	limit := 50
	if v := queryInt(r, "limit"); v != nil && *v > 0 {
		limit = *v
	}
	offset := 0
	if v := queryInt(r, "offset"); v != nil && *v > 0 {
		offset = *v
	}
	order := model.SortDesc
	if q.Get("order") == "asc" {
		order = model.SortAsc
	}

	listings, err := e.Store.ListListings(ctx, f, q.Get("sort"), order, limit, offset)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	total, err := e.Store.CountListings(ctx, f)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if listings == nil {
		listings = []model.Listing{}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"listings": listings,
		"total":    total,
		"limit":    limit,
		"offset":   offset,
	})
}

func (e *appEnv) handleGetListing(w http.ResponseWriter, r *http.Request) {
	l, err := e.Store.GetListing(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if l == nil {
		respondError(w, http.StatusNotFound, "listing not found")
		return
	}
	respondJSON(w, http.StatusOK, l)
}

func (e *appEnv) handleUpsertListings(w http.ResponseWriter, r *http.Request) {
	var listings []model.Listing
	if err := json.NewDecoder(r.Body).Decode(&listings); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(listings) == 0 {
		respondError(w, http.StatusBadRequest, "empty listing batch")
		return
	}

	saved, failed, err := e.Store.UpsertListingsBatch(r.Context(), listings)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]int{"saved": saved, "failed": failed})
}

func (e *appEnv) handleMakes(w http.ResponseWriter, r *http.Request) {
	makes, err := e.Store.Makes(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if makes == nil {
		makes = []string{}
	}
	respondJSON(w, http.StatusOK, makes)
}

func (e *appEnv) handleModels(w http.ResponseWriter, r *http.Request) {
	models, err := e.Store.ModelsForMake(r.Context(), chi.URLParam(r, "make"))
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if models == nil {
		models = []string{}
	}
	respondJSON(w, http.StatusOK, models)
}

func (e *appEnv) handleYears(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	lo, hi, err := e.Store.YearRange(r.Context(), q.Get("make"), q.Get("model"))
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]int{"min": lo, "max": hi})
}

func (e *appEnv) handleStats(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	stats, err := e.Store.GetMarketStats(r.Context(), model.MarketStatQuery{
		Make:     q.Get("make"),
		Model:    q.Get("model"),
		YearMin:  queryInt(r, "year_min"),
		YearMax:  queryInt(r, "year_max"),
		Type:     model.StatType(q.Get("stat_type")),
		DateFrom: q.Get("date_from"),
		DateTo:   q.Get("date_to"),
	})
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if stats == nil {
		stats = []model.MarketStat{}
	}
	respondJSON(w, http.StatusOK, stats)
}

func (e *appEnv) handleStartAnalysis(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Type   model.AnalysisType   `json:"type"`
		Params model.AnalysisParams `json:"params"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Type == "" {
		respondError(w, http.StatusBadRequest, "type is required")
		return
	}

	// The job must outlive this request.
	id, err := e.Runner.Start(context.WithoutCancel(r.Context()), req.Type, req.Params)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	respondJSON(w, http.StatusAccepted, map[string]string{"job_id": id})
}

func (e *appEnv) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	info, err := e.Runner.Poll(chi.URLParam(r, "id"))
	if err != nil {
		jobError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, info)
}

func (e *appEnv) handleJobCancel(w http.ResponseWriter, r *http.Request) {
	if err := e.Runner.Cancel(chi.URLParam(r, "id")); err != nil {
		jobError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "canceling"})
}

func (e *appEnv) handleJobResult(w http.ResponseWriter, r *http.Request) {
	result, info, err := e.Runner.Result(chi.URLParam(r, "id"))
	if err != nil {
		jobError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"job":    info,
		"result": result,
	})
}

func jobError(w http.ResponseWriter, err error) {
	if errors.Is(err, analysis.ErrJobNotFound) {
		respondError(w, http.StatusNotFound, "job not found")
		return
	}
	respondError(w, http.StatusInternalServerError, err.Error())
}
