package api

import (
	"io"
	"math"
	"net/http"

	"netopt/internal/apperr"
	"netopt/internal/opt"
	"netopt/internal/scenario"
)

// readScenario decodes a scenario body (JSON or YAML).
func readScenario(r *http.Request) (scenario.Scenario, []byte, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody+1))
	if err != nil {
		return scenario.Scenario{}, nil, apperr.Validation("read body: %v", err)
	}
	if len(body) > maxBody {
		return scenario.Scenario{}, nil, apperr.Validation("scenario larger than %d bytes", maxBody)
	}
	sc, err := scenario.Parse(body)
	if err != nil {
		return scenario.Scenario{}, nil, err
	}
	return sc, body, nil
}

// validateScenario rejects submissions that cannot run, before they are
// queued. Settings are checked as resolved against d. Deeper checks happen in
// the engines.
func validateScenario(sc *scenario.Scenario, d scenario.Defaults) error {
	if len(sc.Facilities) == 0 {
		return apperr.Validation("at least one facility is required")
	}
	if len(sc.Destinations) == 0 {
		return apperr.Validation("at least one destination is required")
	}
	o, err := sc.OptimizationConfig(d)
	if err != nil {
		return err
	}
	if o.Solver != "" && o.Solver != "auto" {
		if _, ok := opt.DefaultRegistry()[o.Solver]; !ok {
			return apperr.Validation("unknown solver %q", o.Solver)
		}
	}
	if o.Weights.Cost < 0 || o.Weights.ServiceLevel < 0 || o.Weights.Utilization < 0 {
		return apperr.Validation("weights must be >= 0")
	}
	if o.TimeBudget < 0 || o.MaxIterations < 0 {
		return apperr.Validation("timeBudget and maxIterations must be >= 0")
	}
	if _, err := sc.WarehouseParams(d); err != nil {
		return err
	}
	if g := sc.AssumedGrowthRate; g != nil && (math.IsNaN(*g) || *g <= -1) {
		return apperr.Validation("assumedGrowthRate must be > -1")
	}
	if sc.HorizonYear < 0 {
		return apperr.Validation("horizonYear must be >= 0")
	}
	return nil
}
