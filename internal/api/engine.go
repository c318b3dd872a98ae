package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"netopt/internal/apperr"
	"netopt/internal/model"
	"netopt/internal/opt"
	"netopt/internal/projection"
	"netopt/internal/warehouse"
)

func (s *Server) postOnly(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return false
	}
	return true
}

// OptimizeHandler handles POST /v1/optimize: the facility-location solve of a
// scenario body, synchronously and without projection or sizing.
func (s *Server) OptimizeHandler(w http.ResponseWriter, r *http.Request) {
	if !s.postOnly(w, r) || !s.allow(w, r) {
		return
	}
	sc, _, err := readScenario(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := validateScenario(&sc, s.Runner.Defaults); err != nil {
		writeError(w, r, err)
		return
	}
	facilities := sc.Candidates(s.Runner.Defaults)
	m, err := s.Runner.CostMatrix(sc, facilities)
	if err != nil {
		writeError(w, r, err)
		return
	}
	cfg, err := sc.OptimizationConfig(s.Runner.Defaults)
	if err != nil {
		writeError(w, r, err)
		return
	}
	out, err := opt.Optimize(r.Context(), s.Runner.Solvers, s.Logger, facilities, sc.Destinations, m, cfg)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if m.Provenance == model.FallbackData {
		out.Result.Warnings = append(out.Result.Warnings, fmt.Sprintf("%d facility-destination distances were estimated", m.EstimatedPairs))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"result":     out.Result,
		"metrics":    out.Metrics,
		"durationMs": out.Duration.Milliseconds(),
	})
}

// CostMatrixHandler handles POST /v1/cost-matrix. The body is a scenario
// fragment: facilities, destinations, costBasis, regions and, for the
// baseline basis, baseline.
func (s *Server) CostMatrixHandler(w http.ResponseWriter, r *http.Request) {
	if !s.postOnly(w, r) {
		return
	}
	sc, _, err := readScenario(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	sc.CostMatrix = nil
	m, err := s.Runner.CostMatrix(sc, sc.Candidates(s.Runner.Defaults))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// WarehouseSizeHandler handles POST /v1/warehouse/size with forecast, skus and
// optional warehouse parameter overrides.
func (s *Server) WarehouseSizeHandler(w http.ResponseWriter, r *http.Request) {
	if !s.postOnly(w, r) {
		return
	}
	sc, _, err := readScenario(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	params, err := sc.WarehouseParams(s.Runner.Defaults)
	if err != nil {
		writeError(w, r, err)
		return
	}
	rows, err := warehouse.Size(sc.Forecast, sc.SKUs, params)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"years": rows})
}

type projectionRequest struct {
	Forecast          []model.ForecastRow `json:"forecast"`
	BaselineCost      float64             `json:"baselineCost"`
	OptimizedCost     float64             `json:"optimizedCost"`
	HorizonYear       int                 `json:"horizonYear,omitempty"`
	AssumedGrowthRate *float64            `json:"assumedGrowthRate,omitempty"`
}

// ProjectionHandler handles POST /v1/projection.
func (s *Server) ProjectionHandler(w http.ResponseWriter, r *http.Request) {
	if !s.postOnly(w, r) {
		return
	}
	var req projectionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if !(req.BaselineCost > 0) {
		writeError(w, r, apperr.DataSource("baselineCost must be a verified positive amount"))
		return
	}
	years, err := projection.Project(projection.Input{
		Forecast:          req.Forecast,
		BaselineCost:      req.BaselineCost,
		OptimizedCost:     req.OptimizedCost,
		HorizonYear:       req.HorizonYear,
		AssumedGrowthRate: req.AssumedGrowthRate,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"years": years})
}

// OptimizerConfigHandler returns the configured engine defaults.
func (s *Server) OptimizerConfigHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	d := s.Runner.Defaults
	o := d.Optimization
	writeJSON(w, http.StatusOK, map[string]any{
		"defaults": map[string]any{
			"solver":                  nonEmpty(o.Solver, "auto"),
			"solvers":                 solverNames(s.Runner.Solvers),
			"timeBudget":              o.TimeBudget.String(),
			"grace":                   o.Grace.String(),
			"seed":                    o.Seed,
			"maxIterations":           o.MaxIterations,
			"weights":                 o.Weights,
			"constraints":             o.Constraints,
			"servicePenaltyPerUnit":   o.ServicePenaltyPerUnit,
			"idleCapacityPenalty":     o.IdleCapacityPenalty,
			"serviceLevelRequirement": o.ServiceLevelRequirement,
			"lpBoundMaxVars":          o.LPBoundMaxVars,
			"exactMaxSubsets":         o.ExactMaxSubsets,
			"fixedCostPerFacility":    d.FixedCostPerFacility,
			"costPerMile":             d.CostPerMile,
			"handlingFee":             d.HandlingFee,
		},
		"warehouse": d.Warehouse,
	})
}

func solverNames(reg opt.Registry) []string {
	if reg == nil {
		reg = opt.DefaultRegistry()
	}
	out := []string{"auto"}
	for _, name := range []string{"exact", "alns"} {
		if _, ok := reg[name]; ok {
			out = append(out, name)
		}
	}
	return out
}

func nonEmpty(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// pingTimeout bounds readiness checks.
const pingTimeout = 500 * time.Millisecond

type pinger interface{ Ping(ctx context.Context) error }
