// Package warehouse sizes storage, dock and facility count per forecast year.
package warehouse

import (
	"math"

	"netopt/internal/apperr"
	"netopt/internal/model"
)

// Size computes one WarehouseYearResult per forecast row. SKU volumes describe
// the first forecast year and scale with annual units for later years.
func Size(forecast []model.ForecastRow, skus []model.SKU, p model.WarehouseParams) ([]model.WarehouseYearResult, error) {
	if err := validate(forecast, skus, p); err != nil {
		return nil, err
	}
	levels := rackLevels(p)
	footprint := p.Pallet.LengthIn * p.Pallet.WidthIn / 144
	fixedArea := p.OfficeAreaSqft + p.BatteryAreaSqft + p.PackingAreaSqft + p.ConveyorAreaSqft
	usable := p.FacilityDesignArea * p.MaxUtilization

	// Pallets per year at the base volume; everything downstream is linear in it.
	basePallets := 0.0
	for _, s := range skus {
		basePallets += s.AnnualVolume / (s.UnitsPerCase * s.CasesPerPallet)
	}
	base := forecast[0].AnnualUnits

	out := make([]model.WarehouseYearResult, 0, len(forecast))
	for _, row := range forecast {
		mult := row.AnnualUnits / base
		annualPallets := basePallets * mult
		positions := annualPallets * p.DaysOnHand / p.OperatingDays

		r := model.WarehouseYearResult{Year: row.Year, AnnualUnits: row.AnnualUnits, PalletPositions: positions}
		r.StorageAreaSqft = positions / float64(levels) * footprint * p.AisleFactor
		if annualPallets > 0 {
			r.DoorsNeeded = int(math.Ceil(2 * annualPallets / p.OperatingDays / p.DoorThroughput))
		}
		r.DockAreaSqft = float64(r.DoorsNeeded) * p.DockAreaPerDoorSqft
		r.GrossAreaSqft = r.StorageAreaSqft + r.DockAreaSqft + fixedArea

		need := int(math.Ceil(r.GrossAreaSqft/usable - 1e-9))
		if need < 1 {
			need = 1
		}
		r.FacilitiesNeeded = need
		if need > p.MaxFacilities {
			r.FacilitiesNeeded = p.MaxFacilities
			r.ThirdPartySqftRequired = r.GrossAreaSqft - float64(p.MaxFacilities)*usable
		}
		owned := float64(r.FacilitiesNeeded) * p.FacilityDesignArea
		inHouse := math.Min(r.GrossAreaSqft, float64(r.FacilitiesNeeded)*usable)
		r.UtilizationPct = inHouse / owned * 100
		r.TotalCostAnnual = owned*p.CostPerSqftAnnual + r.ThirdPartySqftRequired*p.ThirdPartyCostPerSqft

		switch {
		case r.GrossAreaSqft > float64(p.MaxFacilities)*p.FacilityDesignArea:
			r.Status = model.StatusCapacityExceeded
		case r.ThirdPartySqftRequired > 0:
			r.Status = model.StatusOverflow
		case r.FacilitiesNeeded > 1:
			r.Status = model.StatusExpanded
		default:
			r.Status = model.StatusOK
		}
		out = append(out, r)
	}
	return out, nil
}

// rackLevels is how many pallets stack under the effective rack height.
func rackLevels(p model.WarehouseParams) int {
	eff := math.Min(p.RackHeightFt, p.CeilingHeightFt-p.CeilingClearanceFt)
	n := int(math.Floor(eff * 12 / p.Pallet.HeightIn))
	if n < 1 {
		return 1
	}
	return n
}

type param struct {
	name string
	v    float64
}

func validate(forecast []model.ForecastRow, skus []model.SKU, p model.WarehouseParams) error {
	if len(forecast) == 0 {
		return apperr.DataSource("warehouse sizing needs at least one forecast row")
	}
	for i, r := range forecast {
		if r.AnnualUnits < 0 || math.IsNaN(r.AnnualUnits) {
			return apperr.Validation("forecast year %d has invalid annual units %v", r.Year, r.AnnualUnits)
		}
		if i > 0 && r.Year <= forecast[i-1].Year {
			return apperr.Validation("forecast years must be strictly increasing: %d follows %d", r.Year, forecast[i-1].Year)
		}
	}
	if forecast[0].AnnualUnits <= 0 {
		return apperr.Validation("first forecast year %d must have positive annual units", forecast[0].Year)
	}
	if len(skus) == 0 {
		return apperr.Validation("warehouse sizing needs at least one SKU")
	}
	for _, s := range skus {
		if s.AnnualVolume <= 0 || s.UnitsPerCase <= 0 || s.CasesPerPallet <= 0 {
			return apperr.Validation("sku %s: annual volume, units per case and cases per pallet must be positive", s.ID)
		}
	}
	for _, f := range []param{
		{"operating_days", p.OperatingDays},
		{"days_on_hand", p.DaysOnHand},
		{"pallet length", p.Pallet.LengthIn},
		{"pallet width", p.Pallet.WidthIn},
		{"pallet height", p.Pallet.HeightIn},
		{"rack_height", p.RackHeightFt},
		{"aisle_factor", p.AisleFactor},
		{"door_throughput", p.DoorThroughput},
		{"facility_design_area", p.FacilityDesignArea},
	} {
		if !(f.v > 0) {
			return apperr.Validation("warehouse parameter %s must be positive, got %v", f.name, f.v)
		}
	}
	if p.CeilingHeightFt-p.CeilingClearanceFt <= 0 {
		return apperr.Validation("ceiling height %v leaves no room under clearance %v", p.CeilingHeightFt, p.CeilingClearanceFt)
	}
	if !(p.MaxUtilization > 0 && p.MaxUtilization <= 1) {
		return apperr.Validation("max_utilization must be in (0, 1], got %v", p.MaxUtilization)
	}
	if p.MaxFacilities < 1 {
		return apperr.Validation("warehouse max_facilities must be at least 1")
	}
	for _, f := range []param{
		{"dock_area_per_door", p.DockAreaPerDoorSqft},
		{"office_area", p.OfficeAreaSqft},
		{"battery_area", p.BatteryAreaSqft},
		{"packing_area", p.PackingAreaSqft},
		{"conveyor_area", p.ConveyorAreaSqft},
		{"cost_per_sqft_annual", p.CostPerSqftAnnual},
		{"thirdparty_cost_per_sqft", p.ThirdPartyCostPerSqft},
	} {
		if f.v < 0 || math.IsNaN(f.v) {
			return apperr.Validation("warehouse parameter %s must be non-negative, got %v", f.name, f.v)
		}
	}
	return nil
}
