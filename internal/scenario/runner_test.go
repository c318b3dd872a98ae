package scenario

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"netopt/internal/apperr"
	"netopt/internal/model"
	"netopt/internal/opt"
)

func testDefaults() Defaults {
	return Defaults{
		Optimization: model.OptimizationConfig{
			Weights:       model.Weights{Cost: 1},
			Solver:        "auto",
			TimeBudget:    time.Minute,
			MaxIterations: 200,
		},
		Warehouse: model.WarehouseParams{
			OperatingDays:         250,
			DaysOnHand:            25,
			Pallet:                model.PalletDimensions{LengthIn: 48, WidthIn: 40, HeightIn: 60},
			CeilingHeightFt:       32,
			CeilingClearanceFt:    2,
			RackHeightFt:          30,
			AisleFactor:           2,
			DoorThroughput:        100,
			DockAreaPerDoorSqft:   1000,
			MaxUtilization:        0.8,
			FacilityDesignArea:    100000,
			OfficeAreaSqft:        5000,
			CostPerSqftAnnual:     10,
			ThirdPartyCostPerSqft: 15,
			MaxFacilities:         2,
		},
		FixedCostPerFacility: 1000,
		CostPerMile:          2,
		HandlingFee:          0.5,
	}
}

func uniform(ids []string, dests []string, c float64) *model.CostMatrix {
	m := model.CostMatrix{Unit: map[string]map[string]float64{}}
	for _, f := range ids {
		m.Unit[f] = map[string]float64{}
		for _, d := range dests {
			m.Unit[f][d] = c
		}
	}
	return &m
}

func baseScenario() Scenario {
	return Scenario{
		Name:         "three-dc",
		Facilities:   []Facility{{ID: "A", Capacity: 100}, {ID: "B", Capacity: 100}, {ID: "C", Capacity: 100}},
		Destinations: []model.DemandPoint{{ID: "X", Demand: 80}, {ID: "Y", Demand: 80}},
		CostMatrix:   uniform([]string{"A", "B", "C"}, []string{"X", "Y"}, 1),
		Baseline:     &model.VerifiedCost{Total: 3000, ByMode: map[string]float64{"ltl": 1800, "parcel": 1200}},
		Forecast:     []model.ForecastRow{{Year: 2025, AnnualUnits: 1_000_000}, {Year: 2026, AnnualUnits: 1_200_000}},
		SKUs:         []model.SKU{{ID: "S1", AnnualVolume: 1_200_000, UnitsPerCase: 10, CasesPerPallet: 40}},
		Optimization: overrides("constraints: {maxFacilities: 2, mandatoryFacilities: [A]}"),
	}
}

func overrides(doc string) *Overrides {
	o, err := ParseOverrides(doc)
	if err != nil {
		panic(err)
	}
	return o
}

type countingObserver struct {
	mu     sync.Mutex
	solves []string
	runs   map[string]int
}

func (o *countingObserver) ObserveSolve(solver string, _ time.Duration, _ int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.solves = append(o.solves, solver)
}

func (o *countingObserver) ObserveRun(status string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.runs == nil {
		o.runs = map[string]int{}
	}
	o.runs[status]++
}

func TestRun_JoinsYearsAndSavings(t *testing.T) {
	obs := &countingObserver{}
	stats := opt.NewStatsStore(8)
	r := &Runner{Logger: zap.NewNop(), Metrics: obs, Defaults: testDefaults(), Stats: stats}
	res, err := r.RunWithID(context.Background(), "run-1", baseScenario())
	require.NoError(t, err)

	assert.Equal(t, []string{"A", "B"}, res.Transport.OpenFacilities)
	assert.Equal(t, model.RealData, res.CostBasis)
	assert.Equal(t, 3000.0, res.Baseline.BaselineCost)
	assert.Equal(t, 2160.0, res.Baseline.OptimizedCost)
	assert.Equal(t, 840.0, res.Baseline.Savings)
	assert.InDelta(t, 0.28, res.Baseline.SavingsPct, 1e-9)

	require.Len(t, res.Years, 2)
	y0, y1 := res.Years[0], res.Years[1]
	assert.Equal(t, 2025, y0.Year)
	assert.Equal(t, 3000.0, y0.TransportCost)
	assert.Equal(t, 2026, y1.Year)
	assert.Equal(t, 2592.0, y1.TransportCost)
	require.NotNil(t, y1.Warehouse)
	assert.InDelta(t, y1.WarehouseCost+y1.TransportCost, y1.TotalAnnualCost, 1e-6)
	assert.Empty(t, res.Warnings)

	assert.Equal(t, []string{"exact"}, obs.solves)
	assert.Equal(t, 1, obs.runs[model.RunSucceeded])
	solver, m, ok := stats.Get("run-1")
	require.True(t, ok)
	assert.Equal(t, "exact", solver)
	assert.Positive(t, m.Nodes)
}

func TestRun_MissingBaselineIsDataSource(t *testing.T) {
	obs := &countingObserver{}
	r := &Runner{Metrics: obs, Defaults: testDefaults()}
	sc := baseScenario()
	sc.Baseline = nil
	_, err := r.Run(context.Background(), sc)
	assert.True(t, apperr.Is(err, apperr.KindDataSource))
	assert.Equal(t, 1, obs.runs[model.RunFailed])

	sc = baseScenario()
	sc.Baseline.Total = 0
	_, err = r.Run(context.Background(), sc)
	assert.True(t, apperr.Is(err, apperr.KindDataSource))
}

func TestRun_NoGrowthData(t *testing.T) {
	r := &Runner{Defaults: testDefaults()}
	sc := baseScenario()
	sc.Forecast = sc.Forecast[:1]
	_, err := r.Run(context.Background(), sc)
	assert.True(t, apperr.Is(err, apperr.KindDataSource))
}

func TestRun_AssumedYearsAreWarned(t *testing.T) {
	r := &Runner{Defaults: testDefaults()}
	sc := baseScenario()
	rate := 0.1
	sc.AssumedGrowthRate = &rate
	sc.HorizonYear = 2027
	res, err := r.Run(context.Background(), sc)
	require.NoError(t, err)
	require.Len(t, res.Years, 3)
	last := res.Years[2]
	assert.Nil(t, last.Warehouse)
	require.NotNil(t, last.Transport)
	assert.Equal(t, model.SourceAssumption, last.Transport.DataSource)
	assert.Contains(t, res.Warnings, "year 2027 has transport cost but no warehouse sizing")
}

func TestRun_InfeasiblePropagates(t *testing.T) {
	r := &Runner{Defaults: testDefaults()}
	sc := baseScenario()
	sc.Destinations = []model.DemandPoint{{ID: "X", Demand: 150}, {ID: "Y", Demand: 150}}
	sc.Optimization = overrides("constraints: {maxFacilities: 2}")
	_, err := r.Run(context.Background(), sc)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindInfeasible))
	shortfall, ok := apperr.ShortfallOf(err)
	require.True(t, ok)
	assert.InDelta(t, 100.0, shortfall, 1e-9)
}

func TestRun_GeneratesMatrixWithEstimates(t *testing.T) {
	r := &Runner{Defaults: testDefaults()}
	sc := baseScenario()
	sc.CostMatrix = nil
	sc.Facilities = []Facility{
		{ID: "A", Region: "east", Location: &model.GeoPoint{Lat: 40.7, Lng: -74.0}, Capacity: 200},
		{ID: "B", Region: "midwest", Capacity: 200},
	}
	sc.Destinations = []model.DemandPoint{
		{ID: "X", Region: "east", Location: &model.GeoPoint{Lat: 42.4, Lng: -71.1}, Demand: 80},
		{ID: "Y", Region: "midwest", Location: &model.GeoPoint{Lat: 41.9, Lng: -87.6}, Demand: 80},
	}
	sc.Regions = &RegionDistances{Miles: map[string]map[string]float64{"east": {"midwest": 800}}, SameRegion: 50}
	sc.Optimization = nil
	res, err := r.Run(context.Background(), sc)
	require.NoError(t, err)
	assert.Equal(t, model.FallbackData, res.CostBasis)
	assert.Contains(t, res.Warnings, "2 facility-destination distances were estimated")
}

func TestRun_UnknownCostBasis(t *testing.T) {
	r := &Runner{Defaults: testDefaults()}
	sc := baseScenario()
	sc.CostMatrix = nil
	sc.CostBasis.Mode = "per_pallet"
	_, err := r.Run(context.Background(), sc)
	assert.True(t, apperr.Is(err, apperr.KindInputValidation))
}

func TestRunBatch_IndependentResults(t *testing.T) {
	r := &Runner{Defaults: testDefaults()}
	bad := baseScenario()
	bad.Baseline = nil
	scs := []Scenario{baseScenario(), bad, baseScenario()}
	results, errs := r.RunBatch(context.Background(), scs, 2)
	require.Len(t, results, 3)
	assert.NoError(t, errs[0])
	assert.True(t, apperr.Is(errs[1], apperr.KindDataSource))
	assert.NoError(t, errs[2])
	assert.Equal(t, results[0].Transport.OpenFacilities, results[2].Transport.OpenFacilities)
	assert.Equal(t, results[0].Baseline, results[2].Baseline)
}

func TestJoin_ReportsMismatchedYears(t *testing.T) {
	years, warnings := Join(
		[]model.WarehouseYearResult{{Year: 2025, TotalCostAnnual: 10}, {Year: 2026, TotalCostAnnual: 20}},
		[]model.YearCost{{Year: 2026, TransportCost: 5}, {Year: 2027, TransportCost: 7}},
	)
	require.Len(t, years, 3)
	assert.Equal(t, []int{2025, 2026, 2027}, []int{years[0].Year, years[1].Year, years[2].Year})
	assert.Equal(t, 25.0, years[1].TotalAnnualCost)
	assert.Len(t, warnings, 2)
}

func TestModeWarnings(t *testing.T) {
	assert.Empty(t, modeWarnings(model.VerifiedCost{Total: 100, ByMode: map[string]float64{"a": 60, "b": 40}}))
	assert.Len(t, modeWarnings(model.VerifiedCost{Total: 100, ByMode: map[string]float64{"a": 60}}), 1)
}

func TestOverridesOnlyChangeNamedKeys(t *testing.T) {
	d := testDefaults()
	d.Optimization.Constraints.MaxDistanceMiles = 500
	sc := Scenario{Optimization: overrides("constraints: {maxFacilities: 3}")}
	cfg, err := sc.OptimizationConfig(d)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Constraints.MaxFacilities)
	assert.Equal(t, 500.0, cfg.Constraints.MaxDistanceMiles)
	assert.Equal(t, 1.0, cfg.Weights.Cost)
	assert.Equal(t, "auto", cfg.Solver)

	fixed := 250.0
	sc.Facilities = []Facility{{ID: "A"}, {ID: "B", FixedCost: &fixed}}
	cands := sc.Candidates(d)
	assert.Equal(t, 1000.0, cands[0].FixedCost)
	assert.Equal(t, 250.0, cands[1].FixedCost)
}

func TestOverridesKeepExplicitZeros(t *testing.T) {
	d := testDefaults()
	d.Optimization.Weights.ServiceLevel = 1
	d.Optimization.Constraints.MinFacilities = 1
	d.Optimization.Constraints.MaxDistanceMiles = 500
	d.Warehouse.OfficeAreaSqft = 8000

	sc, err := Parse([]byte(`{
  "optimization": {"weights": {"serviceLevel": 0}, "constraints": {"minFacilities": 0, "maxDistanceMiles": 0}},
  "warehouse": {"officeAreaSqft": 0}
}`))
	require.NoError(t, err)
	cfg, err := sc.OptimizationConfig(d)
	require.NoError(t, err)
	assert.Equal(t, 0.0, cfg.Weights.ServiceLevel)
	assert.Equal(t, 1.0, cfg.Weights.Cost)
	assert.Equal(t, 0, cfg.Constraints.MinFacilities)
	assert.Equal(t, 0.0, cfg.Constraints.MaxDistanceMiles)

	wp, err := sc.WarehouseParams(d)
	require.NoError(t, err)
	assert.Equal(t, 0.0, wp.OfficeAreaSqft)
	assert.Equal(t, d.Warehouse.DockAreaPerDoorSqft, wp.DockAreaPerDoorSqft)

	// defaults are not mutated by resolution
	assert.Equal(t, 8000.0, d.Warehouse.OfficeAreaSqft)
}

func TestOverridesRejectWrongTypes(t *testing.T) {
	_, err := Parse([]byte(`{"optimization": {"weights": {"cost": "cheap"}}}`))
	assert.True(t, apperr.Is(err, apperr.KindInputValidation))
	_, err = Parse([]byte(`{"warehouse": [1, 2]}`))
	assert.True(t, apperr.Is(err, apperr.KindInputValidation))
}

const scenarioYAML = `
name: yaml-run
facilities:
  - {id: A, capacity: 100, fixedCost: 1000}
  - {id: B, capacity: 100}
destinations:
  - {id: X, demand: 60}
  - {id: Y, demand: 60}
costBasis:
  mode: per_mile
  costPerMile: 1.5
baseline:
  total: 5000
  byMode: {ltl: 5000}
forecast:
  - {year: 2025, annualUnits: 100000}
  - {year: 2026, annualUnits: 110000}
skus:
  - {id: S1, annualVolume: 100000, unitsPerCase: 10, casesPerPallet: 40}
optimization:
  solver: alns
  timeBudget: 30s
  constraints:
    maxFacilities: 2
`

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte(scenarioYAML), 0o600))
	sc, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "yaml-run", sc.Name)
	require.Len(t, sc.Facilities, 2)
	require.NotNil(t, sc.Facilities[0].FixedCost)
	assert.Nil(t, sc.Facilities[1].FixedCost)
	require.NotNil(t, sc.CostBasis.CostPerMile)
	assert.Equal(t, 1.5, *sc.CostBasis.CostPerMile)
	cfg, err := sc.OptimizationConfig(testDefaults())
	require.NoError(t, err)
	assert.Equal(t, "alns", cfg.Solver)
	assert.Equal(t, 30*time.Second, cfg.TimeBudget)
	assert.Equal(t, 2, cfg.Constraints.MaxFacilities)
	assert.Equal(t, 200, cfg.MaxIterations)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
	_, err = Parse([]byte("facilities: [oops"))
	assert.True(t, apperr.Is(err, apperr.KindInputValidation))
}
