package opt

import (
	"math"
	"sort"

	"netopt/internal/model"
)

// Solution is a solver's answer in index space.
type Solution struct {
	Open          []bool
	Flow          [][]float64
	Objective     float64
	OpenCount     int
	MaxUtil       float64
	TotalDistance float64
	// Approximate is set when the search was cut short by its time budget.
	Approximate bool
	Solver      string
	Metrics     *Metrics
}

// Valid reports whether s carries an evaluated open set.
func (s Solution) Valid() bool { return s.Open != nil && s.Flow != nil }

// evaluate prices an open set. ok is false when the set violates cardinality,
// omits a mandatory facility, or cannot cover demand.
func (p *Problem) evaluate(open []bool) (Solution, bool) {
	count := 0
	for i, o := range open {
		if o {
			count++
		} else if p.mandatory[i] {
			return Solution{}, false
		}
	}
	if count < p.minOpen || count > p.maxOpen {
		return Solution{}, false
	}
	flow, ok := p.assign(open)
	if !ok {
		return Solution{}, false
	}
	s := Solution{Open: append([]bool(nil), open...), Flow: flow, OpenCount: count}
	obj := p.constant
	for i, o := range open {
		if !o {
			continue
		}
		obj += p.openCost[i]
		load := 0.0
		for j, v := range flow[i] {
			if v == 0 {
				continue
			}
			load += v
			obj += v * p.arc[i][j]
			if d := p.dist[i][j]; !math.IsNaN(d) {
				s.TotalDistance += v * d
			}
		}
		if c := p.Facilities[i].Capacity; c > 0 {
			s.MaxUtil = math.Max(s.MaxUtil, load/c)
		}
	}
	s.Objective = obj
	return s, true
}

func objTol(v float64) float64 { return math.Max(1e-6, 1e-9*math.Abs(v)) }

// better reports whether a beats b: lower objective, then fewer open
// facilities, then lower peak utilisation, then lower volume-weighted
// distance, then the lexicographically smaller open set of IDs.
func better(a, b Solution) bool {
	if !b.Valid() {
		return a.Valid()
	}
	if !a.Valid() {
		return false
	}
	tol := objTol(math.Max(math.Abs(a.Objective), math.Abs(b.Objective)))
	if a.Objective < b.Objective-tol {
		return true
	}
	if a.Objective > b.Objective+tol {
		return false
	}
	if a.OpenCount != b.OpenCount {
		return a.OpenCount < b.OpenCount
	}
	if math.Abs(a.MaxUtil-b.MaxUtil) > 1e-9 {
		return a.MaxUtil < b.MaxUtil
	}
	if math.Abs(a.TotalDistance-b.TotalDistance) > 1e-6 {
		return a.TotalDistance < b.TotalDistance
	}
	for i := range a.Open {
		if a.Open[i] != b.Open[i] {
			return a.Open[i]
		}
	}
	return false
}

// Result converts a solution into the external result shape. Costs are
// recomputed from the reported assignments.
func (p *Problem) Result(s Solution) model.OptimizationResult {
	cfg := p.Config
	res := model.OptimizationResult{
		Objective:      s.Objective,
		Solver:         s.Solver,
		MaxUtilization: s.MaxUtil,
		TotalDistance:  s.TotalDistance,
		FacilityLoads:  map[string]float64{},
		Provenance:     p.Provenance,
		DataProvenance: p.Provenance,
	}
	if s.Approximate {
		res.Provenance = model.Approximate
	}
	total := 0.0
	within := 0.0
	assigned := 0.0
	for i, f := range p.Facilities {
		if !s.Open[i] {
			continue
		}
		res.OpenFacilities = append(res.OpenFacilities, f.ID)
		total += f.FixedCost
		load := 0.0
		for j, d := range p.Demands {
			v := s.Flow[i][j]
			if v == 0 {
				continue
			}
			a := model.Assignment{FacilityID: f.ID, DestinationID: d.ID, Volume: v, UnitCost: p.unit[i][j]}
			if miles := p.dist[i][j]; !math.IsNaN(miles) {
				a.DistanceMiles = miles
				if cfg.Constraints.MaxDistanceMiles <= 0 || miles <= cfg.Constraints.MaxDistanceMiles {
					within += v
				}
			}
			res.Assignments = append(res.Assignments, a)
			total += v * a.UnitCost
			load += v
			assigned += v
		}
		res.FacilityLoads[f.ID] = load
	}
	sort.Strings(res.OpenFacilities)
	res.TotalTransportationCost = total

	switch {
	case !p.hasDist && cfg.Constraints.MaxDistanceMiles > 0:
		res.Warnings = append(res.Warnings, "service level not measurable: cost matrix carries no distances")
	case assigned == 0 || cfg.Constraints.MaxDistanceMiles <= 0:
		res.ServiceLevelAchievement = 1
	default:
		res.ServiceLevelAchievement = within / assigned
	}
	res.ServiceLevelMet = res.ServiceLevelAchievement+1e-12 >= cfg.ServiceLevelRequirement
	if !res.ServiceLevelMet {
		res.Warnings = append(res.Warnings, "service level requirement not met")
	}
	if s.Approximate {
		res.Warnings = append(res.Warnings, "time budget exhausted; best incumbent returned")
		if p.Provenance == model.FallbackData {
			res.Warnings = append(res.Warnings, "approximate result is priced on estimated distances (FallbackData)")
		}
	}
	return res
}
