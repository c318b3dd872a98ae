// Package scenario runs the transport and warehouse engines for one planning
// scenario and joins their yearly outputs against the verified baseline.
package scenario

import (
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"netopt/internal/apperr"
	"netopt/internal/model"
)

// Facility is the input form of a candidate; a nil FixedCost takes the
// configured fixed_cost_per_facility.
type Facility struct {
	ID        string          `json:"id" yaml:"id"`
	Name      string          `json:"name,omitempty" yaml:"name,omitempty"`
	Region    string          `json:"region,omitempty" yaml:"region,omitempty"`
	Location  *model.GeoPoint `json:"location,omitempty" yaml:"location,omitempty"`
	Capacity  float64         `json:"capacity" yaml:"capacity"`
	FixedCost *float64        `json:"fixedCost,omitempty" yaml:"fixedCost,omitempty"`
	Mandatory bool            `json:"mandatory,omitempty" yaml:"mandatory,omitempty"`
}

// Cost basis modes.
const (
	BasisPerMile  = "per_mile"
	BasisBaseline = "baseline"
)

// CostBasis picks how a missing cost matrix is generated. Unset rates take
// the configured transportation defaults.
type CostBasis struct {
	Mode        string   `json:"mode,omitempty" yaml:"mode,omitempty"`
	CostPerMile *float64 `json:"costPerMile,omitempty" yaml:"costPerMile,omitempty"`
	HandlingFee *float64 `json:"handlingFee,omitempty" yaml:"handlingFee,omitempty"`
}

// RegionDistances feeds the fallback estimator for pairs without coordinates.
type RegionDistances struct {
	Miles      map[string]map[string]float64 `json:"miles,omitempty" yaml:"miles,omitempty"`
	SameRegion float64                       `json:"sameRegion,omitempty" yaml:"sameRegion,omitempty"`
	Default    float64                       `json:"default,omitempty" yaml:"default,omitempty"`
}

// Overrides is a partial settings document. It is decoded over a copy of the
// defaults, so only the keys it names change and an explicit zero is kept.
type Overrides struct {
	node yaml.Node
}

// ParseOverrides builds Overrides from a YAML or JSON fragment.
func ParseOverrides(doc string) (*Overrides, error) {
	var o Overrides
	if err := yaml.Unmarshal([]byte(doc), &o); err != nil {
		return nil, apperr.Validation("settings document: %v", err)
	}
	return &o, nil
}

func (o *Overrides) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: settings must be a mapping", n.Line)
	}
	o.node = *n
	return nil
}

func (o Overrides) MarshalYAML() (any, error) { return &o.node, nil }

func (o Overrides) MarshalJSON() ([]byte, error) {
	var m map[string]any
	if err := o.node.Decode(&m); err != nil {
		return nil, err
	}
	return json.Marshal(m)
}

// applyTo decodes the overrides onto out, which already holds the defaults.
func (o *Overrides) applyTo(section string, out any) error {
	if o == nil || o.node.Kind == 0 {
		return nil
	}
	if err := o.node.Decode(out); err != nil {
		return apperr.Validation("%s settings: %v", section, err)
	}
	return nil
}

// Scenario is one immutable run input. Keys absent from Optimization and
// Warehouse take the runner defaults.
type Scenario struct {
	Name         string              `json:"name,omitempty" yaml:"name,omitempty"`
	Facilities   []Facility          `json:"facilities" yaml:"facilities"`
	Destinations []model.DemandPoint `json:"destinations" yaml:"destinations"`
	CostMatrix   *model.CostMatrix   `json:"costMatrix,omitempty" yaml:"costMatrix,omitempty"`
	CostBasis    CostBasis           `json:"costBasis,omitempty" yaml:"costBasis,omitempty"`
	Regions      *RegionDistances    `json:"regions,omitempty" yaml:"regions,omitempty"`

	Baseline *model.VerifiedCost `json:"baseline,omitempty" yaml:"baseline,omitempty"`
	Forecast []model.ForecastRow `json:"forecast" yaml:"forecast"`
	SKUs     []model.SKU         `json:"skus" yaml:"skus"`

	Optimization *Overrides `json:"optimization,omitempty" yaml:"optimization,omitempty"`
	Warehouse    *Overrides `json:"warehouse,omitempty" yaml:"warehouse,omitempty"`

	HorizonYear       int      `json:"horizonYear,omitempty" yaml:"horizonYear,omitempty"`
	AssumedGrowthRate *float64 `json:"assumedGrowthRate,omitempty" yaml:"assumedGrowthRate,omitempty"`
}

// Defaults are the configured values a scenario falls back to.
type Defaults struct {
	Optimization         model.OptimizationConfig
	Warehouse            model.WarehouseParams
	FixedCostPerFacility float64
	CostPerMile          float64
	HandlingFee          float64
}

// LoadFile reads a YAML scenario document.
func LoadFile(path string) (Scenario, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Scenario{}, fmt.Errorf("read scenario %s: %w", path, err)
	}
	return Parse(b)
}

// Parse decodes a YAML (or JSON, which is valid YAML) scenario document.
// Settings sections are type-checked here so later resolution cannot fail on
// a well-formed Scenario.
func Parse(b []byte) (Scenario, error) {
	var sc Scenario
	if err := yaml.Unmarshal(b, &sc); err != nil {
		return Scenario{}, apperr.Validation("scenario document: %v", err)
	}
	if _, err := sc.OptimizationConfig(Defaults{}); err != nil {
		return Scenario{}, err
	}
	if _, err := sc.WarehouseParams(Defaults{}); err != nil {
		return Scenario{}, err
	}
	return sc, nil
}

// Candidates resolves the facility inputs into engine candidates.
func (sc Scenario) Candidates(d Defaults) []model.FacilityCandidate {
	out := make([]model.FacilityCandidate, 0, len(sc.Facilities))
	for _, f := range sc.Facilities {
		fixed := d.FixedCostPerFacility
		if f.FixedCost != nil {
			fixed = *f.FixedCost
		}
		out = append(out, model.FacilityCandidate{
			ID: f.ID, Name: f.Name, Region: f.Region, Location: f.Location,
			Capacity: f.Capacity, FixedCost: fixed, Mandatory: f.Mandatory,
		})
	}
	return out
}

// OptimizationConfig overlays the scenario settings on the defaults.
func (sc Scenario) OptimizationConfig(d Defaults) (model.OptimizationConfig, error) {
	out := d.Optimization
	out.Constraints.MandatoryFacilities = append([]string(nil), d.Optimization.Constraints.MandatoryFacilities...)
	err := sc.Optimization.applyTo("optimization", &out)
	return out, err
}

// WarehouseParams overlays the scenario warehouse settings on the defaults.
func (sc Scenario) WarehouseParams(d Defaults) (model.WarehouseParams, error) {
	out := d.Warehouse
	err := sc.Warehouse.applyTo("warehouse", &out)
	return out, err
}
