// Package projection carries an optimised transport cost forward over the
// forecast horizon. Money is computed in decimal and rounded to whole dollars.
package projection

import (
	"math"

	"github.com/shopspring/decimal"

	"netopt/internal/apperr"
	"netopt/internal/model"
)

// Input is one projection request. The first forecast row is the baseline
// year. AssumedGrowthRate is only consulted for years past the last forecast
// row, and every such year is labelled as an assumption.
type Input struct {
	Forecast []model.ForecastRow `json:"forecast" yaml:"forecast"`
	// BaselineCost is the verified historical spend for the baseline year.
	BaselineCost float64 `json:"baselineCost" yaml:"baselineCost"`
	// OptimizedCost is the optimised network's cost at baseline volume.
	OptimizedCost     float64  `json:"optimizedCost" yaml:"optimizedCost"`
	HorizonYear       int      `json:"horizonYear,omitempty" yaml:"horizonYear,omitempty"`
	AssumedGrowthRate *float64 `json:"assumedGrowthRate,omitempty" yaml:"assumedGrowthRate,omitempty"`
}

// Project returns one YearCost per year from the baseline year to the horizon
// (the last forecast year unless HorizonYear extends it).
func Project(in Input) ([]model.YearCost, error) {
	if err := validate(in); err != nil {
		return nil, err
	}
	base := in.Forecast[0]
	last := in.Forecast[len(in.Forecast)-1]
	horizon := in.HorizonYear
	if horizon == 0 {
		horizon = last.Year
	}
	if horizon < last.Year {
		return nil, apperr.Validation("horizon year %d precedes the last forecast year %d", horizon, last.Year)
	}
	if horizon > last.Year && in.AssumedGrowthRate == nil {
		return nil, apperr.DataSource("no volume forecast for %d-%d and no assumed growth rate given", last.Year+1, horizon)
	}
	if horizon == base.Year && in.AssumedGrowthRate == nil {
		return nil, apperr.DataSource("no volume growth data beyond baseline year %d", base.Year)
	}

	baseVol := decimal.NewFromFloat(base.AnnualUnits)
	verified := decimal.NewFromFloat(in.BaselineCost)
	optimized := decimal.NewFromFloat(in.OptimizedCost)

	out := make([]model.YearCost, 0, len(in.Forecast)+horizon-last.Year)
	add := func(year int, vol decimal.Decimal, source string) {
		mult := vol.Div(baseVol)
		yc := model.YearCost{
			Year:             year,
			Volume:           vol.InexactFloat64(),
			VolumeMultiplier: mult.InexactFloat64(),
			BaselineCost:     Dollars(verified.Mul(mult)),
			TransportCost:    Dollars(optimized.Mul(mult)),
			DataSource:       source,
		}
		if year == base.Year {
			yc.TransportCost = in.BaselineCost
		}
		out = append(out, yc)
	}
	for _, r := range in.Forecast {
		add(r.Year, decimal.NewFromFloat(r.AnnualUnits), model.SourceForecast)
	}
	if horizon > last.Year {
		growth := decimal.NewFromInt(1).Add(decimal.NewFromFloat(*in.AssumedGrowthRate))
		vol := decimal.NewFromFloat(last.AnnualUnits)
		for y := last.Year + 1; y <= horizon; y++ {
			vol = vol.Mul(growth)
			add(y, vol, model.SourceAssumption)
		}
	}
	return out, nil
}

// Dollars rounds to whole dollars, half away from zero.
func Dollars(d decimal.Decimal) float64 {
	return d.Round(0).InexactFloat64()
}

func validate(in Input) error {
	if in.BaselineCost <= 0 || math.IsNaN(in.BaselineCost) {
		return apperr.DataSource("verified baseline cost is missing or not positive (%v)", in.BaselineCost)
	}
	if in.OptimizedCost < 0 || math.IsNaN(in.OptimizedCost) || math.IsInf(in.OptimizedCost, 0) {
		return apperr.Validation("optimized cost must be non-negative, got %v", in.OptimizedCost)
	}
	if len(in.Forecast) == 0 {
		return apperr.DataSource("volume forecast is missing")
	}
	for i, r := range in.Forecast {
		if r.AnnualUnits < 0 || math.IsNaN(r.AnnualUnits) || math.IsInf(r.AnnualUnits, 0) {
			return apperr.Validation("forecast year %d has invalid annual units %v", r.Year, r.AnnualUnits)
		}
		if i > 0 && r.Year <= in.Forecast[i-1].Year {
			return apperr.Validation("forecast years must be strictly increasing: %d follows %d", r.Year, in.Forecast[i-1].Year)
		}
	}
	if in.Forecast[0].AnnualUnits <= 0 {
		return apperr.Validation("baseline year %d must have positive annual units", in.Forecast[0].Year)
	}
	if g := in.AssumedGrowthRate; g != nil && (*g <= -1 || math.IsNaN(*g) || math.IsInf(*g, 0)) {
		return apperr.Validation("assumed growth rate %v is out of range", *g)
	}
	return nil
}
