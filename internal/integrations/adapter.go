package integrations

import (
	"context"

	"netopt/internal/model"
	"netopt/internal/scenario"
)

// Source supplies the externally verified inputs of a scenario. Adapters must
// return apperr.DataSource errors when the upstream data is missing or
// malformed, never a silently defaulted value.
type Source interface {
	Name() string
	LoadBaseline(ctx context.Context) (model.VerifiedCost, error)
	LoadDemand(ctx context.Context) ([]model.DemandPoint, error)
	LoadForecast(ctx context.Context) ([]model.ForecastRow, error)
}

// Apply fills the scenario inputs the document left empty from src. Values
// already present in the scenario win.
func Apply(ctx context.Context, src Source, sc *scenario.Scenario) error {
	if sc.Baseline == nil {
		b, err := src.LoadBaseline(ctx)
		if err != nil {
			return err
		}
		if b.Source == "" {
			b.Source = src.Name()
		}
		sc.Baseline = &b
	}
	if len(sc.Destinations) == 0 {
		d, err := src.LoadDemand(ctx)
		if err != nil {
			return err
		}
		sc.Destinations = d
	}
	if len(sc.Forecast) == 0 {
		f, err := src.LoadForecast(ctx)
		if err != nil {
			return err
		}
		sc.Forecast = f
	}
	return nil
}
