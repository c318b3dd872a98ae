// Package costmatrix builds per (facility, destination) unit transportation costs.
package costmatrix

import (
	"math"

	"gonum.org/v1/gonum/floats"

	"netopt/internal/apperr"
	"netopt/internal/geo"
	"netopt/internal/model"
)

// Basis selects how unit costs are derived. Exactly one of PerMile or Baseline
// must be set.
type Basis struct {
	PerMile  *PerMile
	Baseline *Baseline
}

// PerMile prices a unit as distance × Rate + HandlingFee.
type PerMile struct {
	Rate        float64
	HandlingFee float64
}

// Baseline distributes a verified historical total across destinations in
// proportion to their demand.
type Baseline struct {
	Total float64
}

// Generate computes the cost matrix for every facility/destination pair.
func Generate(facilities []model.FacilityCandidate, destinations []model.DemandPoint, basis Basis, calc geo.Calculator) (model.CostMatrix, error) {
	if len(facilities) == 0 {
		return model.CostMatrix{}, apperr.Validation("no facility candidates")
	}
	if len(destinations) == 0 {
		return model.CostMatrix{}, apperr.Validation("no destinations")
	}
	if (basis.PerMile == nil) == (basis.Baseline == nil) {
		return model.CostMatrix{}, apperr.Validation("exactly one of per-mile rate or verified baseline must be supplied")
	}

	miles, estimated, err := distances(facilities, destinations, calc)
	if err != nil {
		return model.CostMatrix{}, err
	}
	prov := model.RealData
	if estimated > 0 {
		prov = model.FallbackData
	}
	m := model.NewCostMatrix(prov)
	m.EstimatedPairs = estimated

	switch {
	case basis.PerMile != nil:
		pm := *basis.PerMile
		if pm.Rate < 0 || pm.HandlingFee < 0 {
			return model.CostMatrix{}, apperr.Validation("rate and handling fee must be non-negative")
		}
		for i, f := range facilities {
			for j, d := range destinations {
				c := 0.0
				if !samePlace(f, d) {
					c = miles[i][j]*pm.Rate + pm.HandlingFee
				}
				m.Set(f.ID, d.ID, c, miles[i][j])
			}
		}
	default:
		if err := distributeBaseline(&m, facilities, destinations, miles, basis.Baseline.Total); err != nil {
			return model.CostMatrix{}, err
		}
	}
	return m, nil
}

func distances(facilities []model.FacilityCandidate, destinations []model.DemandPoint, calc geo.Calculator) ([][]float64, int, error) {
	out := make([][]float64, len(facilities))
	estimated := 0
	for i, f := range facilities {
		out[i] = make([]float64, len(destinations))
		for j, d := range destinations {
			if samePlace(f, d) {
				continue
			}
			ms, err := calc.Distance(
				geo.Location{ID: f.ID, Region: f.Region, Point: f.Location},
				geo.Location{ID: d.ID, Region: d.Region, Point: d.Location},
			)
			if err != nil {
				return nil, 0, err
			}
			out[i][j] = ms.Miles
			if ms.Estimated {
				estimated++
			}
		}
	}
	return out, estimated, nil
}

// distributeBaseline gives each destination a share of total proportional to
// its demand, then spreads that share over facilities by relative distance so
// nearer facilities stay cheaper. For every destination the mean unit cost
// across facilities equals share/demand, so Σ demand × mean unit cost == total.
func distributeBaseline(m *model.CostMatrix, facilities []model.FacilityCandidate, destinations []model.DemandPoint, miles [][]float64, total float64) error {
	if total <= 0 || math.IsNaN(total) {
		return apperr.DataSource("verified baseline total must be positive, got %v", total)
	}
	demand := make([]float64, len(destinations))
	for j, d := range destinations {
		if d.Demand < 0 {
			return apperr.Validation("destination %s has negative demand", d.ID)
		}
		demand[j] = d.Demand
	}
	sumDemand := floats.Sum(demand)
	if sumDemand <= 0 {
		return apperr.Validation("total demand must be positive to distribute a baseline")
	}
	col := make([]float64, len(facilities))
	for j, d := range destinations {
		// Same per-unit rate everywhere; share/demand reduces to total/sumDemand.
		perUnit := total / sumDemand
		for i := range facilities {
			col[i] = miles[i][j]
		}
		mean := floats.Sum(col) / float64(len(col))
		for i, f := range facilities {
			c := perUnit
			if mean > 0 {
				c = perUnit * col[i] / mean
			}
			if samePlace(f, d) {
				c = 0
			}
			m.Set(f.ID, d.ID, c, col[i])
		}
	}
	return nil
}

func samePlace(f model.FacilityCandidate, d model.DemandPoint) bool {
	if f.ID != "" && f.ID == d.ID {
		return true
	}
	return f.Location != nil && d.Location != nil && *f.Location == *d.Location
}
