package opt

import (
	"context"
	"time"

	"go.uber.org/zap"

	"netopt/internal/model"
)

// Lightweight API surface for higher-level callers.

// Outcome bundles a finished optimisation with its search statistics.
type Outcome struct {
	Result   model.OptimizationResult
	Metrics  *Metrics
	Duration time.Duration
}

// Optimize validates the inputs, resolves the configured solver and runs it
// under the configured time budget.
func Optimize(ctx context.Context, reg Registry, log *zap.Logger, facilities []model.FacilityCandidate, demands []model.DemandPoint, m model.CostMatrix, cfg model.OptimizationConfig) (Outcome, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if reg == nil {
		reg = DefaultRegistry()
	}
	p, err := NewProblem(facilities, demands, m, cfg)
	if err != nil {
		return Outcome{}, err
	}
	s, err := reg.Resolve(p.Config.Solver, p)
	if err != nil {
		return Outcome{}, err
	}
	start := time.Now()
	sol, err := Run(ctx, s, p, p.Config.TimeBudget, p.Config.Grace)
	dur := time.Since(start)
	if err != nil {
		log.Warn("facility location solve failed", zap.String("solver", s.Name()), zap.Duration("duration", dur), zap.Error(err))
		return Outcome{Duration: dur}, err
	}
	res := p.Result(sol)
	log.Info("facility location solved",
		zap.String("solver", res.Solver),
		zap.Strings("open_facilities", res.OpenFacilities),
		zap.Float64("objective", res.Objective),
		zap.Bool("approximate", sol.Approximate),
		zap.Duration("duration", dur))
	return Outcome{Result: res, Metrics: sol.Metrics, Duration: dur}, nil
}
