package opt

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"netopt/internal/apperr"
	"netopt/internal/model"
)

func uniformMatrix(fs []model.FacilityCandidate, ds []model.DemandPoint, cost float64) model.CostMatrix {
	m := model.CostMatrix{Unit: map[string]map[string]float64{}, Provenance: model.RealData}
	for _, f := range fs {
		m.Unit[f.ID] = map[string]float64{}
		for _, d := range ds {
			m.Unit[f.ID][d.ID] = cost
		}
	}
	return m
}

// randomInstance builds a planar instance with unit cost proportional to
// Manhattan distance.
func randomInstance(seed int64, nf, nd int) ([]model.FacilityCandidate, []model.DemandPoint, model.CostMatrix) {
	rng := rand.New(rand.NewSource(seed))
	type pt struct{ x, y float64 }
	fp := make([]pt, nf)
	dp := make([]pt, nd)
	var fs []model.FacilityCandidate
	var ds []model.DemandPoint
	for i := 0; i < nf; i++ {
		fp[i] = pt{rng.Float64() * 100, rng.Float64() * 100}
		fs = append(fs, model.FacilityCandidate{
			ID:        fmt.Sprintf("F%02d", i),
			Capacity:  float64(100 + rng.Intn(100)),
			FixedCost: float64(200 + rng.Intn(800)),
		})
	}
	for j := 0; j < nd; j++ {
		dp[j] = pt{rng.Float64() * 100, rng.Float64() * 100}
		ds = append(ds, model.DemandPoint{ID: fmt.Sprintf("D%02d", j), Demand: float64(10 + rng.Intn(20))})
	}
	m := model.NewCostMatrix(model.RealData)
	for i, f := range fs {
		for j, d := range ds {
			miles := math.Abs(fp[i].x-dp[j].x) + math.Abs(fp[i].y-dp[j].y)
			m.Set(f.ID, d.ID, 0.5+miles*0.08, miles)
		}
	}
	return fs, ds, m
}

func requireInvariants(t *testing.T, fs []model.FacilityCandidate, ds []model.DemandPoint, m model.CostMatrix, cfg model.OptimizationConfig, res model.OptimizationResult) {
	t.Helper()
	served := map[string]float64{}
	load := map[string]float64{}
	open := map[string]bool{}
	for _, id := range res.OpenFacilities {
		open[id] = true
	}
	for _, a := range res.Assignments {
		require.True(t, open[a.FacilityID], "assignment from closed facility %s", a.FacilityID)
		require.GreaterOrEqual(t, a.Volume, 0.0)
		served[a.DestinationID] += a.Volume
		load[a.FacilityID] += a.Volume
	}
	for _, d := range ds {
		assert.InDelta(t, d.Demand, served[d.ID], 1e-6, "coverage of %s", d.ID)
	}
	fixed := 0.0
	for _, f := range fs {
		assert.LessOrEqual(t, load[f.ID], f.Capacity+1e-6, "capacity of %s", f.ID)
		if f.Mandatory {
			assert.True(t, open[f.ID], "mandatory %s closed", f.ID)
		}
		if open[f.ID] {
			fixed += f.FixedCost
		}
	}
	for _, id := range cfg.Constraints.MandatoryFacilities {
		assert.True(t, open[id], "mandatory %s closed", id)
	}
	n := len(res.OpenFacilities)
	assert.GreaterOrEqual(t, n, cfg.Constraints.MinFacilities)
	if cfg.Constraints.MaxFacilities > 0 {
		assert.LessOrEqual(t, n, cfg.Constraints.MaxFacilities)
	}
	total := fixed
	for _, a := range res.Assignments {
		c, ok := m.Cost(a.FacilityID, a.DestinationID)
		require.True(t, ok)
		total += a.Volume * c
	}
	assert.InDelta(t, total, res.TotalTransportationCost, 1e-6*math.Max(1, total))
}

func scenarioA() ([]model.FacilityCandidate, []model.DemandPoint, model.OptimizationConfig) {
	fs := []model.FacilityCandidate{
		{ID: "A", Capacity: 100, FixedCost: 1000},
		{ID: "B", Capacity: 100, FixedCost: 1000},
		{ID: "C", Capacity: 100, FixedCost: 1000},
	}
	ds := []model.DemandPoint{{ID: "X", Demand: 80}, {ID: "Y", Demand: 80}}
	cfg := model.OptimizationConfig{
		Weights:     model.Weights{Cost: 1},
		Constraints: model.Constraints{MaxFacilities: 2, MandatoryFacilities: []string{"A"}},
	}
	return fs, ds, cfg
}

func TestScenarioA_MandatoryPlusOne(t *testing.T) {
	fs, ds, cfg := scenarioA()
	m := uniformMatrix(fs, ds, 1)
	for _, solver := range []string{"exact", "alns"} {
		t.Run(solver, func(t *testing.T) {
			cfg := cfg
			cfg.Solver = solver
			out, err := Optimize(context.Background(), nil, nil, fs, ds, m, cfg)
			require.NoError(t, err)
			res := out.Result
			assert.Equal(t, []string{"A", "B"}, res.OpenFacilities)
			assert.Equal(t, solver, res.Solver)
			assert.InDelta(t, 2160.0, res.TotalTransportationCost, 1e-6)
			assert.Equal(t, model.RealData, res.Provenance)
			requireInvariants(t, fs, ds, m, cfg, res)
		})
	}
}

func TestScenarioB_InfeasibleShortfall(t *testing.T) {
	fs := []model.FacilityCandidate{
		{ID: "A", Capacity: 100, FixedCost: 10},
		{ID: "B", Capacity: 100, FixedCost: 10},
		{ID: "C", Capacity: 100, FixedCost: 10},
	}
	ds := []model.DemandPoint{{ID: "X", Demand: 150}, {ID: "Y", Demand: 150}}
	cfg := model.OptimizationConfig{Constraints: model.Constraints{MaxFacilities: 2}}
	_, err := Optimize(context.Background(), nil, nil, fs, ds, uniformMatrix(fs, ds, 1), cfg)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindInfeasible))
	shortfall, ok := apperr.ShortfallOf(err)
	require.True(t, ok)
	assert.InDelta(t, 100.0, shortfall, 1e-9)
}

func TestNewProblem_Validation(t *testing.T) {
	fs, ds, cfg := scenarioA()
	m := uniformMatrix(fs, ds, 1)

	_, err := NewProblem(nil, ds, m, cfg)
	assert.True(t, apperr.Is(err, apperr.KindInputValidation))

	bad := append([]model.FacilityCandidate(nil), fs...)
	bad[1].Capacity = -1
	_, err = NewProblem(bad, ds, m, cfg)
	assert.True(t, apperr.Is(err, apperr.KindInputValidation))

	dup := append([]model.FacilityCandidate(nil), fs...)
	dup[2].ID = "A"
	_, err = NewProblem(dup, ds, m, cfg)
	assert.True(t, apperr.Is(err, apperr.KindInputValidation))

	partial := uniformMatrix(fs, ds, 1)
	delete(partial.Unit["C"], "Y")
	_, err = NewProblem(fs, ds, partial, cfg)
	assert.True(t, apperr.Is(err, apperr.KindInputValidation))

	unknown := cfg
	unknown.Constraints.MandatoryFacilities = []string{"Z"}
	_, err = NewProblem(fs, ds, m, unknown)
	assert.True(t, apperr.Is(err, apperr.KindInputValidation))

	tooMany := cfg
	tooMany.Constraints.MandatoryFacilities = []string{"A", "B", "C"}
	_, err = NewProblem(fs, ds, m, tooMany)
	assert.True(t, apperr.Is(err, apperr.KindInfeasible))
	shortfall, _ := apperr.ShortfallOf(err)
	assert.InDelta(t, 1.0, shortfall, 1e-9)

	minOver := cfg
	minOver.Constraints.MinFacilities = 4
	minOver.Constraints.MaxFacilities = 5
	_, err = NewProblem(fs, ds, m, minOver)
	assert.True(t, apperr.Is(err, apperr.KindInfeasible))

	inverted := cfg
	inverted.Constraints.MinFacilities = 3
	inverted.Constraints.MaxFacilities = 2
	_, err = NewProblem(fs, ds, m, inverted)
	assert.True(t, apperr.Is(err, apperr.KindInputValidation))
}

func TestAssign_SplitsOnCapacity(t *testing.T) {
	fs := []model.FacilityCandidate{
		{ID: "A", Capacity: 50},
		{ID: "B", Capacity: 100},
	}
	ds := []model.DemandPoint{{ID: "X", Demand: 80}}
	m := model.CostMatrix{Unit: map[string]map[string]float64{
		"A": {"X": 1},
		"B": {"X": 5},
	}}
	p, err := NewProblem(fs, ds, m, model.OptimizationConfig{})
	require.NoError(t, err)
	flow, ok := p.assign([]bool{true, true})
	require.True(t, ok)
	assert.InDelta(t, 50.0, flow[0][0], 1e-9)
	assert.InDelta(t, 30.0, flow[1][0], 1e-9)

	_, ok = p.assign([]bool{true, false})
	assert.False(t, ok)
}

func TestAssign_MinCostFlowBeatsGreedy(t *testing.T) {
	// Cheapest arcs overload A; B is a poor fit for Y, so X takes the spill.
	fs := []model.FacilityCandidate{{ID: "A", Capacity: 60}, {ID: "B", Capacity: 60}}
	ds := []model.DemandPoint{{ID: "X", Demand: 50}, {ID: "Y", Demand: 50}}
	m := model.CostMatrix{Unit: map[string]map[string]float64{
		"A": {"X": 1, "Y": 1},
		"B": {"X": 2, "Y": 10},
	}}
	p, err := NewProblem(fs, ds, m, model.OptimizationConfig{})
	require.NoError(t, err)
	s, ok := p.evaluate([]bool{true, true})
	require.True(t, ok)
	// Y stays on A (50), X uses A's remaining 10 and B for 40.
	assert.InDelta(t, 50.0, s.Flow[0][1], 1e-9)
	assert.InDelta(t, 10.0, s.Flow[0][0], 1e-9)
	assert.InDelta(t, 40.0, s.Flow[1][0], 1e-9)
	assert.InDelta(t, 50+10+80, s.Objective, 1e-9)
}

func bruteForce(t *testing.T, p *Problem) Solution {
	t.Helper()
	nf := len(p.Facilities)
	var best Solution
	for mask := 0; mask < 1<<nf; mask++ {
		open := make([]bool, nf)
		for i := range open {
			open[i] = mask&(1<<i) != 0
		}
		if s, ok := p.evaluate(open); ok && better(s, best) {
			best = s
		}
	}
	return best
}

func TestExact_MatchesBruteForce(t *testing.T) {
	for seed := int64(1); seed <= 6; seed++ {
		t.Run(fmt.Sprintf("seed%d", seed), func(t *testing.T) {
			fs, ds, m := randomInstance(seed, 7, 10)
			cfg := model.OptimizationConfig{
				Weights:               model.Weights{Cost: 1, ServiceLevel: 1, Utilization: 0.5},
				Constraints:           model.Constraints{MinFacilities: 1, MaxFacilities: 4, MaxDistanceMiles: 60},
				ServicePenaltyPerUnit: 3,
				IdleCapacityPenalty:   0.2,
			}
			p, err := NewProblem(fs, ds, m, cfg)
			require.NoError(t, err)
			want := bruteForce(t, p)
			require.True(t, want.Valid())

			got, err := Run(context.Background(), Exact{}, p, time.Minute, time.Second)
			require.NoError(t, err)
			assert.False(t, got.Approximate)
			assert.Equal(t, want.Open, got.Open)
			assert.InDelta(t, want.Objective, got.Objective, 1e-6)
			require.NotNil(t, got.Metrics)
			assert.Positive(t, got.Metrics.Nodes)

			h, err := Run(context.Background(), ALNS{}, p, time.Minute, time.Second)
			require.NoError(t, err)
			assert.GreaterOrEqual(t, h.Objective, want.Objective-objTol(want.Objective))
			requireInvariants(t, fs, ds, m, cfg, p.Result(h))
			requireInvariants(t, fs, ds, m, cfg, p.Result(got))
		})
	}
}

func TestExact_WithoutLPBound(t *testing.T) {
	fs, ds, m := randomInstance(11, 6, 8)
	cfg := model.OptimizationConfig{Constraints: model.Constraints{MaxFacilities: 3}, LPBoundMaxVars: -1}
	p, err := NewProblem(fs, ds, m, cfg)
	require.NoError(t, err)
	want := bruteForce(t, p)
	got, err := Run(context.Background(), Exact{}, p, time.Minute, time.Second)
	require.NoError(t, err)
	assert.Equal(t, want.Open, got.Open)
	assert.Zero(t, got.Metrics.LPBounds)
}

func TestOptimize_Idempotent(t *testing.T) {
	fs, ds, m := randomInstance(3, 12, 20)
	cfg := model.OptimizationConfig{Solver: "alns", Constraints: model.Constraints{MaxFacilities: 6}}
	first, err := Optimize(context.Background(), nil, nil, fs, ds, m, cfg)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		again, err := Optimize(context.Background(), nil, nil, fs, ds, m, cfg)
		require.NoError(t, err)
		assert.Equal(t, first.Result.OpenFacilities, again.Result.OpenFacilities)
		assert.Equal(t, first.Result.TotalTransportationCost, again.Result.TotalTransportationCost)
	}
	require.NotNil(t, first.Metrics)
	assert.Equal(t, DefaultMaxIterations, first.Metrics.Iterations)
}

func TestOptimize_InputOrderIrrelevant(t *testing.T) {
	fs, ds, m := randomInstance(5, 8, 10)
	cfg := model.OptimizationConfig{Constraints: model.Constraints{MaxFacilities: 4}}
	a, err := Optimize(context.Background(), nil, nil, fs, ds, m, cfg)
	require.NoError(t, err)
	rf := append([]model.FacilityCandidate(nil), fs...)
	sort.Slice(rf, func(i, j int) bool { return rf[i].ID > rf[j].ID })
	b, err := Optimize(context.Background(), nil, nil, rf, ds, m, cfg)
	require.NoError(t, err)
	assert.Equal(t, a.Result.OpenFacilities, b.Result.OpenFacilities)
}

func TestResult_ServiceLevel(t *testing.T) {
	fs := []model.FacilityCandidate{{ID: "A", Capacity: 100}}
	ds := []model.DemandPoint{{ID: "X", Demand: 30}, {ID: "Y", Demand: 70}}
	m := model.NewCostMatrix(model.FallbackData)
	m.Set("A", "X", 1, 10)
	m.Set("A", "Y", 1, 500)
	cfg := model.OptimizationConfig{
		Constraints:             model.Constraints{MaxDistanceMiles: 100},
		ServiceLevelRequirement: 0.9,
	}
	out, err := Optimize(context.Background(), nil, nil, fs, ds, m, cfg)
	require.NoError(t, err)
	assert.InDelta(t, 0.3, out.Result.ServiceLevelAchievement, 1e-12)
	assert.False(t, out.Result.ServiceLevelMet)
	assert.Equal(t, model.FallbackData, out.Result.Provenance)
	assert.NotEmpty(t, out.Result.Warnings)
	assert.InDelta(t, 30*10+70*500, out.Result.TotalDistance, 1e-9)
}

func TestBetter_TieBreak(t *testing.T) {
	base := Solution{Open: []bool{true, false, true}, Flow: [][]float64{{1}, {0}, {1}}, Objective: 100, OpenCount: 2, MaxUtil: 0.8, TotalDistance: 50}
	fewer := base
	fewer.Open = []bool{true, false, false}
	fewer.OpenCount = 1
	fewer.MaxUtil = 1
	assert.True(t, better(fewer, base))

	lowerUtil := base
	lowerUtil.Open = []bool{false, true, true}
	lowerUtil.MaxUtil = 0.7
	assert.True(t, better(lowerUtil, base))

	shorter := base
	shorter.Open = []bool{false, true, true}
	shorter.TotalDistance = 40
	assert.True(t, better(shorter, base))

	lex := base
	lex.Open = []bool{true, true, false}
	assert.True(t, better(lex, base))
	assert.False(t, better(base, lex))

	cheaper := base
	cheaper.Objective = 99
	cheaper.OpenCount = 3
	assert.True(t, better(cheaper, base))
	assert.False(t, better(base, base))
}

func TestRegistry_Resolve(t *testing.T) {
	fs, ds, cfg := scenarioA()
	p, err := NewProblem(fs, ds, uniformMatrix(fs, ds, 1), cfg)
	require.NoError(t, err)
	reg := DefaultRegistry()

	s, err := reg.Resolve("auto", p)
	require.NoError(t, err)
	assert.Equal(t, "exact", s.Name())

	cfg.ExactMaxSubsets = 2
	p, err = NewProblem(fs, ds, uniformMatrix(fs, ds, 1), cfg)
	require.NoError(t, err)
	s, err = reg.Resolve("", p)
	require.NoError(t, err)
	assert.Equal(t, "alns", s.Name())

	s, err = reg.Resolve(" ALNS ", p)
	require.NoError(t, err)
	assert.Equal(t, "alns", s.Name())

	_, err = reg.Resolve("simplex", p)
	assert.True(t, apperr.Is(err, apperr.KindInputValidation))
}

type stuckSolver struct{ release chan struct{} }

func (stuckSolver) Name() string { return "stuck" }

func (s stuckSolver) Solve(context.Context, *Problem) (Solution, error) {
	<-s.release
	return Solution{}, nil
}

type incumbentSolver struct{}

func (incumbentSolver) Name() string { return "incumbent" }

func (incumbentSolver) Solve(ctx context.Context, p *Problem) (Solution, error) {
	s, _ := p.evaluate([]bool{true, true, false})
	<-ctx.Done()
	s.Approximate = true
	return s, nil
}

func TestRun_HardTimeout(t *testing.T) {
	fs, ds, cfg := scenarioA()
	p, err := NewProblem(fs, ds, uniformMatrix(fs, ds, 1), cfg)
	require.NoError(t, err)
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	start := time.Now()
	_, err = Run(context.Background(), stuckSolver{release}, p, 20*time.Millisecond, 20*time.Millisecond)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindTimeout))
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestRun_ApproximateIncumbent(t *testing.T) {
	fs, ds, cfg := scenarioA()
	p, err := NewProblem(fs, ds, uniformMatrix(fs, ds, 1), cfg)
	require.NoError(t, err)
	sol, err := Run(context.Background(), incumbentSolver{}, p, 20*time.Millisecond, time.Second)
	require.NoError(t, err)
	assert.True(t, sol.Approximate)
	assert.Equal(t, "incumbent", sol.Solver)
	res := p.Result(sol)
	assert.Equal(t, model.Approximate, res.Provenance)
	assert.Equal(t, []string{"A", "B"}, res.OpenFacilities)
}

// publishingSolver publishes one incumbent and then ignores its deadline.
type publishingSolver struct{ release chan struct{} }

func (publishingSolver) Name() string { return "publishing" }

func (s publishingSolver) Solve(ctx context.Context, p *Problem) (Solution, error) {
	sol, _ := p.evaluate([]bool{true, true, false})
	publish(ctx, sol)
	<-s.release
	return Solution{}, context.Canceled
}

func TestRun_HardTimeoutReturnsPublishedIncumbent(t *testing.T) {
	fs, ds, cfg := scenarioA()
	m := uniformMatrix(fs, ds, 1)
	p, err := NewProblem(fs, ds, m, cfg)
	require.NoError(t, err)
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	sol, err := Run(context.Background(), publishingSolver{release}, p, 20*time.Millisecond, 20*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, sol.Approximate)
	assert.Equal(t, "publishing", sol.Solver)
	res := p.Result(sol)
	assert.Equal(t, model.Approximate, res.Provenance)
	assert.Equal(t, []string{"A", "B"}, res.OpenFacilities)
	requireInvariants(t, fs, ds, m, cfg, res)
}

func TestOptimize_BudgetExpiresMidSearch(t *testing.T) {
	fs, ds, m := randomInstance(21, 60, 300)
	for _, solver := range []string{"alns", "exact"} {
		t.Run(solver, func(t *testing.T) {
			cfg := model.OptimizationConfig{
				Weights:    model.Weights{Cost: 1},
				Solver:     solver,
				TimeBudget: 50 * time.Millisecond,
				Grace:      2 * time.Second,
			}
			out, err := Optimize(context.Background(), nil, nil, fs, ds, m, cfg)
			require.NoError(t, err)
			res := out.Result
			assert.Equal(t, model.Approximate, res.Provenance)
			assert.Equal(t, model.RealData, res.DataProvenance)
			assert.Contains(t, res.Warnings, "time budget exhausted; best incumbent returned")
			requireInvariants(t, fs, ds, m, cfg, res)
		})
	}
}

func TestResult_ApproximateKeepsFallbackTag(t *testing.T) {
	fs, ds, cfg := scenarioA()
	m := uniformMatrix(fs, ds, 1)
	m.Provenance = model.FallbackData
	p, err := NewProblem(fs, ds, m, cfg)
	require.NoError(t, err)
	sol, err := Run(context.Background(), incumbentSolver{}, p, 20*time.Millisecond, time.Second)
	require.NoError(t, err)
	res := p.Result(sol)
	assert.Equal(t, model.Approximate, res.Provenance)
	assert.Equal(t, model.FallbackData, res.DataProvenance)
	assert.Contains(t, res.Warnings, "approximate result is priced on estimated distances (FallbackData)")

	exact, err := Optimize(context.Background(), nil, nil, fs, ds, m, cfg)
	require.NoError(t, err)
	assert.Equal(t, model.FallbackData, exact.Result.Provenance)
	assert.Equal(t, model.FallbackData, exact.Result.DataProvenance)
}

func TestStatsStore_Evicts(t *testing.T) {
	s := NewStatsStore(2)
	s.Record("r1", "exact", &Metrics{Nodes: 1})
	s.Record("r2", "alns", &Metrics{Iterations: 2})
	s.Record("r3", "alns", &Metrics{Iterations: 3})
	_, _, ok := s.Get("r1")
	assert.False(t, ok)
	solver, m, ok := s.Get("r3")
	require.True(t, ok)
	assert.Equal(t, "alns", solver)
	assert.Equal(t, 3, m.Iterations)
}
