package scenario

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"netopt/internal/apperr"
	"netopt/internal/costmatrix"
	"netopt/internal/geo"
	"netopt/internal/logging"
	"netopt/internal/model"
	"netopt/internal/opt"
	"netopt/internal/projection"
	"netopt/internal/warehouse"
)

// Observer receives engine outcomes; metrics.Recorder satisfies it.
type Observer interface {
	ObserveSolve(solver string, d time.Duration, iterations int)
	ObserveRun(status string)
}

// Runner executes scenarios. A zero Runner is usable: it solves with the
// default registry, logs nowhere and records nothing.
type Runner struct {
	Solvers  opt.Registry
	Logger   *zap.Logger
	Metrics  Observer
	Defaults Defaults
	// Stats, when set, keeps solver statistics keyed by RunID.
	Stats *opt.StatsStore
}

// Run executes one scenario. Warehouse sizing and the facility-location solve
// run concurrently; both must succeed.
func (r *Runner) Run(ctx context.Context, sc Scenario) (model.IntegratedRunResult, error) {
	return r.RunWithID(ctx, "", sc)
}

// RunWithID is Run with a caller-chosen run ID used for logs and stats.
func (r *Runner) RunWithID(ctx context.Context, runID string, sc Scenario) (model.IntegratedRunResult, error) {
	log := logging.OrNop(r.Logger).With(zap.String("run_id", runID), zap.String("scenario", sc.Name))
	res, err := r.run(ctx, runID, sc, log)
	status := model.RunSucceeded
	if err != nil {
		status = model.RunFailed
		log.Warn("scenario failed", zap.String("kind", string(apperr.KindOf(err))), zap.Error(err))
	} else {
		log.Info("scenario finished",
			zap.Float64("baseline_cost", res.Baseline.BaselineCost),
			zap.Float64("optimized_cost", res.Baseline.OptimizedCost),
			zap.Int("warnings", len(res.Warnings)))
	}
	if r.Metrics != nil {
		r.Metrics.ObserveRun(status)
	}
	return res, err
}

func (r *Runner) run(ctx context.Context, runID string, sc Scenario, log *zap.Logger) (model.IntegratedRunResult, error) {
	out := model.IntegratedRunResult{Name: sc.Name}
	if sc.Baseline == nil || !(sc.Baseline.Total > 0) {
		return out, apperr.DataSource("verified baseline transportation cost is missing or not positive")
	}
	if len(sc.Forecast) == 0 {
		return out, apperr.DataSource("volume forecast is missing")
	}
	out.Warnings = append(out.Warnings, modeWarnings(*sc.Baseline)...)

	facilities := sc.Candidates(r.Defaults)
	cfg, err := sc.OptimizationConfig(r.Defaults)
	if err != nil {
		return out, err
	}
	whp, err := sc.WarehouseParams(r.Defaults)
	if err != nil {
		return out, err
	}

	matrix, err := r.CostMatrix(sc, facilities)
	if err != nil {
		return out, err
	}
	if matrix.Provenance == model.FallbackData {
		out.Warnings = append(out.Warnings, fmt.Sprintf("%d facility-destination distances were estimated", matrix.EstimatedPairs))
	}

	var (
		transport opt.Outcome
		sizing    []model.WarehouseYearResult
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		o, err := opt.Optimize(gctx, r.Solvers, log, facilities, sc.Destinations, matrix, cfg)
		if err != nil {
			return err
		}
		transport = o
		return nil
	})
	g.Go(func() error {
		rows, err := warehouse.Size(sc.Forecast, sc.SKUs, whp)
		if err != nil {
			return err
		}
		sizing = rows
		return nil
	})
	if err := g.Wait(); err != nil {
		return out, err
	}
	r.observe(runID, transport)
	out.Transport = transport.Result
	out.CostBasis = transport.Result.DataProvenance
	out.Warnings = append(out.Warnings, transport.Result.Warnings...)

	years, err := projection.Project(projection.Input{
		Forecast:          sc.Forecast,
		BaselineCost:      sc.Baseline.Total,
		OptimizedCost:     transport.Result.TotalTransportationCost,
		HorizonYear:       sc.HorizonYear,
		AssumedGrowthRate: sc.AssumedGrowthRate,
	})
	if err != nil {
		return out, err
	}
	var joinWarn []string
	out.Years, joinWarn = Join(sizing, years)
	out.Warnings = append(out.Warnings, joinWarn...)
	out.Baseline = Savings(sc.Baseline.Total, transport.Result.TotalTransportationCost)
	return out, nil
}

// CostMatrix returns the scenario matrix, generating it from the cost basis when
// none was supplied.
func (r *Runner) CostMatrix(sc Scenario, facilities []model.FacilityCandidate) (model.CostMatrix, error) {
	if sc.CostMatrix != nil {
		m := *sc.CostMatrix
		if m.Provenance == "" {
			m.Provenance = model.RealData
		}
		return m, nil
	}
	calc := geo.Calculator{}
	if sc.Regions != nil {
		calc.Estimator = geo.RegionTable{Miles: sc.Regions.Miles, SameRegion: sc.Regions.SameRegion, Default: sc.Regions.Default}
	}
	var basis costmatrix.Basis
	switch sc.CostBasis.Mode {
	case BasisBaseline:
		if sc.Baseline == nil {
			return model.CostMatrix{}, apperr.DataSource("baseline cost basis needs a verified baseline")
		}
		basis.Baseline = &costmatrix.Baseline{Total: sc.Baseline.Total}
	case "", BasisPerMile:
		pm := costmatrix.PerMile{Rate: r.Defaults.CostPerMile, HandlingFee: r.Defaults.HandlingFee}
		if sc.CostBasis.CostPerMile != nil {
			pm.Rate = *sc.CostBasis.CostPerMile
		}
		if sc.CostBasis.HandlingFee != nil {
			pm.HandlingFee = *sc.CostBasis.HandlingFee
		}
		basis.PerMile = &pm
	default:
		return model.CostMatrix{}, apperr.Validation("unknown cost basis mode %q", sc.CostBasis.Mode)
	}
	return costmatrix.Generate(facilities, sc.Destinations, basis, calc)
}

func (r *Runner) observe(runID string, o opt.Outcome) {
	if o.Metrics == nil {
		return
	}
	if r.Metrics != nil {
		effort := o.Metrics.Iterations
		if effort == 0 {
			effort = o.Metrics.Nodes
		}
		r.Metrics.ObserveSolve(o.Result.Solver, o.Duration, effort)
	}
	if runID != "" {
		r.Stats.Record(runID, o.Result.Solver, o.Metrics)
	}
}

// RunBatch runs independent scenarios with at most parallelism in flight.
// Results and errors are index-aligned with the input.
func (r *Runner) RunBatch(ctx context.Context, scs []Scenario, parallelism int) ([]model.IntegratedRunResult, []error) {
	results := make([]model.IntegratedRunResult, len(scs))
	errs := make([]error, len(scs))
	var g errgroup.Group
	if parallelism > 0 {
		g.SetLimit(parallelism)
	}
	for i := range scs {
		g.Go(func() error {
			results[i], errs[i] = r.Run(ctx, scs[i])
			return nil
		})
	}
	_ = g.Wait()
	return results, errs
}

// Join merges warehouse and transport rows by year. Years present on only one
// side are kept and reported.
func Join(sizing []model.WarehouseYearResult, transport []model.YearCost) ([]model.IntegratedYear, []string) {
	byYear := map[int]*model.IntegratedYear{}
	var years []int
	row := func(y int) *model.IntegratedYear {
		if iy, ok := byYear[y]; ok {
			return iy
		}
		iy := &model.IntegratedYear{Year: y}
		byYear[y] = iy
		years = append(years, y)
		return iy
	}
	for i := range sizing {
		w := sizing[i]
		iy := row(w.Year)
		iy.Warehouse = &w
		iy.WarehouseCost = w.TotalCostAnnual
	}
	for i := range transport {
		t := transport[i]
		iy := row(t.Year)
		iy.Transport = &t
		iy.TransportCost = t.TransportCost
	}
	sort.Ints(years)
	out := make([]model.IntegratedYear, 0, len(years))
	var warnings []string
	for _, y := range years {
		iy := byYear[y]
		switch {
		case iy.Warehouse == nil:
			warnings = append(warnings, fmt.Sprintf("year %d has transport cost but no warehouse sizing", y))
		case iy.Transport == nil:
			warnings = append(warnings, fmt.Sprintf("year %d has warehouse sizing but no transport cost", y))
		}
		iy.TotalAnnualCost = decimal.NewFromFloat(iy.WarehouseCost).Add(decimal.NewFromFloat(iy.TransportCost)).Round(2).InexactFloat64()
		out = append(out, *iy)
	}
	return out, warnings
}

// Savings compares the optimised cost with the verified baseline.
func Savings(baseline, optimized float64) model.BaselineIntegration {
	b := decimal.NewFromFloat(baseline)
	o := decimal.NewFromFloat(optimized)
	s := b.Sub(o)
	out := model.BaselineIntegration{
		BaselineCost:  baseline,
		OptimizedCost: o.Round(2).InexactFloat64(),
		Savings:       s.Round(2).InexactFloat64(),
	}
	if !b.IsZero() {
		out.SavingsPct = s.Div(b).Round(6).InexactFloat64()
	}
	return out
}

// modeWarnings flags a mode breakdown that does not add up to the total.
func modeWarnings(v model.VerifiedCost) []string {
	if len(v.ByMode) == 0 {
		return nil
	}
	sum := decimal.Zero
	for _, c := range v.ByMode {
		sum = sum.Add(decimal.NewFromFloat(c))
	}
	diff := math.Abs(sum.Sub(decimal.NewFromFloat(v.Total)).InexactFloat64())
	if diff > math.Max(1, 0.005*v.Total) {
		return []string{fmt.Sprintf("baseline mode breakdown sums to %s, total is %.2f", sum.StringFixed(2), v.Total)}
	}
	return nil
}
