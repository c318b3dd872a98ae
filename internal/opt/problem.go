package opt

import (
	"math"
	"sort"
	"time"

	"netopt/internal/apperr"
	"netopt/internal/model"
)

const (
	flowEps = 1e-9

	DefaultTimeBudget      = 300 * time.Second
	DefaultGrace           = 2 * time.Second
	DefaultSeed            = 42
	DefaultMaxIterations   = 400
	DefaultLPBoundMaxVars  = 2000
	DefaultExactMaxSubsets = 1 << 16
)

// Problem is an immutable, validated capacitated facility-location instance.
// Facilities and demands are held sorted by ID so every solver sees the same
// ordering regardless of input order.
type Problem struct {
	Facilities []model.FacilityCandidate
	Demands    []model.DemandPoint
	Config     model.OptimizationConfig
	Provenance model.Provenance

	unit      [][]float64 // [facility][demand] unit cost
	dist      [][]float64 // [facility][demand] miles, NaN when unknown
	hasDist   bool
	arc       [][]float64 // objective coefficient per unit assigned
	openCost  []float64   // objective coefficient for opening a facility
	constant  float64     // objective offset from the idle capacity term
	mandatory []bool

	totalDemand float64
	minOpen     int
	maxOpen     int
}

// NewProblem validates the inputs and runs the reachable-capacity check.
func NewProblem(facilities []model.FacilityCandidate, demands []model.DemandPoint, m model.CostMatrix, cfg model.OptimizationConfig) (*Problem, error) {
	if len(facilities) == 0 {
		return nil, apperr.Validation("empty facility candidate set")
	}
	if len(demands) == 0 {
		return nil, apperr.Validation("empty demand point set")
	}
	fs := append([]model.FacilityCandidate(nil), facilities...)
	ds := append([]model.DemandPoint(nil), demands...)
	sort.Slice(fs, func(i, j int) bool { return fs[i].ID < fs[j].ID })
	sort.Slice(ds, func(i, j int) bool { return ds[i].ID < ds[j].ID })

	for i, f := range fs {
		if f.ID == "" {
			return nil, apperr.Validation("facility at position %d has no id", i)
		}
		if i > 0 && fs[i-1].ID == f.ID {
			return nil, apperr.Validation("duplicate facility id %s", f.ID)
		}
		if f.Capacity < 0 || math.IsNaN(f.Capacity) || math.IsInf(f.Capacity, 0) {
			return nil, apperr.Validation("facility %s has invalid capacity %v", f.ID, f.Capacity)
		}
		if f.FixedCost < 0 || math.IsNaN(f.FixedCost) {
			return nil, apperr.Validation("facility %s has invalid fixed cost %v", f.ID, f.FixedCost)
		}
	}
	total := 0.0
	for i, d := range ds {
		if d.ID == "" {
			return nil, apperr.Validation("destination at position %d has no id", i)
		}
		if i > 0 && ds[i-1].ID == d.ID {
			return nil, apperr.Validation("duplicate destination id %s", d.ID)
		}
		if d.Demand < 0 || math.IsNaN(d.Demand) || math.IsInf(d.Demand, 0) {
			return nil, apperr.Validation("destination %s has invalid demand %v", d.ID, d.Demand)
		}
		total += d.Demand
	}

	cfg = withDefaults(cfg)
	w := cfg.Weights
	if w.Cost < 0 || w.ServiceLevel < 0 || w.Utilization < 0 {
		return nil, apperr.Validation("objective weights must be non-negative")
	}
	if cfg.ServicePenaltyPerUnit < 0 || cfg.IdleCapacityPenalty < 0 {
		return nil, apperr.Validation("penalties must be non-negative")
	}

	p := &Problem{Facilities: fs, Demands: ds, Config: cfg, Provenance: m.Provenance, totalDemand: total}
	if p.Provenance == "" {
		p.Provenance = model.RealData
	}

	idx := make(map[string]int, len(fs))
	for i, f := range fs {
		idx[f.ID] = i
	}
	p.mandatory = make([]bool, len(fs))
	for i, f := range fs {
		p.mandatory[i] = f.Mandatory
	}
	for _, id := range cfg.Constraints.MandatoryFacilities {
		i, ok := idx[id]
		if !ok {
			return nil, apperr.Validation("mandatory facility %s is not a candidate", id)
		}
		p.mandatory[i] = true
	}

	if err := p.buildCosts(m); err != nil {
		return nil, err
	}
	if err := p.checkCardinality(); err != nil {
		return nil, err
	}
	if err := p.checkReachableCapacity(); err != nil {
		return nil, err
	}
	return p, nil
}

func withDefaults(cfg model.OptimizationConfig) model.OptimizationConfig {
	if cfg.Weights == (model.Weights{}) {
		cfg.Weights.Cost = 1
	}
	if cfg.TimeBudget <= 0 {
		cfg.TimeBudget = DefaultTimeBudget
	}
	if cfg.Grace <= 0 {
		cfg.Grace = DefaultGrace
	}
	if cfg.Seed == 0 {
		cfg.Seed = DefaultSeed
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultMaxIterations
	}
	if cfg.LPBoundMaxVars == 0 {
		cfg.LPBoundMaxVars = DefaultLPBoundMaxVars
	}
	if cfg.ExactMaxSubsets <= 0 {
		cfg.ExactMaxSubsets = DefaultExactMaxSubsets
	}
	return cfg
}

func (p *Problem) buildCosts(m model.CostMatrix) error {
	cfg := p.Config
	nf, nd := len(p.Facilities), len(p.Demands)
	p.unit = make([][]float64, nf)
	p.dist = make([][]float64, nf)
	p.arc = make([][]float64, nf)
	p.openCost = make([]float64, nf)
	maxDist := cfg.Constraints.MaxDistanceMiles
	for i, f := range p.Facilities {
		p.unit[i] = make([]float64, nd)
		p.dist[i] = make([]float64, nd)
		p.arc[i] = make([]float64, nd)
		p.openCost[i] = cfg.Weights.Cost*f.FixedCost + cfg.Weights.Utilization*cfg.IdleCapacityPenalty*f.Capacity
		for j, d := range p.Demands {
			c, ok := m.Cost(f.ID, d.ID)
			if !ok {
				return apperr.Validation("cost matrix has no entry for %s -> %s", f.ID, d.ID)
			}
			if c < 0 || math.IsNaN(c) || math.IsInf(c, 0) {
				return apperr.Validation("cost matrix entry %s -> %s is invalid: %v", f.ID, d.ID, c)
			}
			p.unit[i][j] = c
			p.arc[i][j] = cfg.Weights.Cost * c
			miles, ok := m.Distance(f.ID, d.ID)
			if !ok {
				p.dist[i][j] = math.NaN()
				continue
			}
			p.hasDist = true
			p.dist[i][j] = miles
			if maxDist > 0 && miles > maxDist {
				p.arc[i][j] += cfg.Weights.ServiceLevel * cfg.ServicePenaltyPerUnit
			}
		}
	}
	p.constant = -cfg.Weights.Utilization * cfg.IdleCapacityPenalty * p.totalDemand
	return nil
}

func (p *Problem) checkCardinality() error {
	c := p.Config.Constraints
	nf := len(p.Facilities)
	p.minOpen = c.MinFacilities
	p.maxOpen = c.MaxFacilities
	if p.maxOpen <= 0 {
		p.maxOpen = nf
	}
	if p.minOpen < 0 {
		return apperr.Validation("min_facilities must be non-negative")
	}
	if p.minOpen > nf {
		return apperr.Infeasible(float64(p.minOpen-nf), "min_facilities %d exceeds the %d candidates", p.minOpen, nf).
			WithDetail("reason", "min_facilities")
	}
	if p.minOpen > p.maxOpen {
		return apperr.Validation("min_facilities %d exceeds max_facilities %d", p.minOpen, p.maxOpen)
	}
	if p.maxOpen > nf {
		p.maxOpen = nf
	}
	if n := p.MandatoryCount(); n > p.maxOpen {
		return apperr.Infeasible(float64(n-p.maxOpen), "%d mandatory facilities exceed max_facilities %d", n, p.maxOpen).
			WithDetail("reason", "mandatory_exceeds_max")
	}
	return nil
}

// checkReachableCapacity compares demand with the largest capacity any allowed
// open set can provide: every mandatory facility plus the biggest others.
func (p *Problem) checkReachableCapacity() error {
	reach := 0.0
	var others []float64
	for i, f := range p.Facilities {
		if p.mandatory[i] {
			reach += f.Capacity
		} else {
			others = append(others, f.Capacity)
		}
	}
	sort.Sort(sort.Reverse(sort.Float64Slice(others)))
	slots := p.maxOpen - p.MandatoryCount()
	for i := 0; i < slots && i < len(others); i++ {
		reach += others[i]
	}
	if shortfall := p.totalDemand - reach; shortfall > flowEps*math.Max(1, p.totalDemand) {
		return apperr.Infeasible(shortfall, "total demand %.6g exceeds reachable capacity %.6g", p.totalDemand, reach).
			WithDetail("reason", "capacity").
			WithDetail("reachableCapacity", reach).
			WithDetail("totalDemand", p.totalDemand)
	}
	return nil
}

func (p *Problem) MandatoryCount() int {
	n := 0
	for _, m := range p.mandatory {
		if m {
			n++
		}
	}
	return n
}

func (p *Problem) TotalDemand() float64 { return p.totalDemand }

// Bounds returns the effective [min, max] number of open facilities.
func (p *Problem) Bounds() (int, int) { return p.minOpen, p.maxOpen }

// FreeCount is the number of facilities whose state the search decides.
func (p *Problem) FreeCount() int { return len(p.Facilities) - p.MandatoryCount() }
