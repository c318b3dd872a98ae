package model

import "time"

// Core domain types shared by the engine packages and the host surfaces.

// Provenance tags where the numbers in a result came from.
type Provenance string

const (
	RealData     Provenance = "RealData"
	FallbackData Provenance = "FallbackData"
	Approximate  Provenance = "Approximate"
)

type GeoPoint struct {
	Lat float64 `json:"lat" yaml:"lat"`
	Lng float64 `json:"lng" yaml:"lng"`
}

// FacilityCandidate is a potential distribution centre. Immutable per run.
type FacilityCandidate struct {
	ID        string    `json:"id" yaml:"id"`
	Name      string    `json:"name,omitempty" yaml:"name,omitempty"`
	Region    string    `json:"region,omitempty" yaml:"region,omitempty"`
	Location  *GeoPoint `json:"location,omitempty" yaml:"location,omitempty"`
	Capacity  float64   `json:"capacity" yaml:"capacity"`
	FixedCost float64   `json:"fixedCost" yaml:"fixedCost"`
	Mandatory bool      `json:"mandatory,omitempty" yaml:"mandatory,omitempty"`
}

type DemandPoint struct {
	ID       string    `json:"id" yaml:"id"`
	Name     string    `json:"name,omitempty" yaml:"name,omitempty"`
	Region   string    `json:"region,omitempty" yaml:"region,omitempty"`
	Location *GeoPoint `json:"location,omitempty" yaml:"location,omitempty"`
	Demand   float64   `json:"demand" yaml:"demand"`
}

// CapacityMap is facility id -> maximum annual throughput.
type CapacityMap map[string]float64

func CapacitiesOf(facilities []FacilityCandidate) CapacityMap {
	out := make(CapacityMap, len(facilities))
	for _, f := range facilities {
		out[f.ID] = f.Capacity
	}
	return out
}

// CostMatrix maps (facility, destination) to a non-negative unit cost. Distances
// are kept alongside so service level and tie-breaks see the same geometry the
// costs were built from.
type CostMatrix struct {
	Unit           map[string]map[string]float64 `json:"unit" yaml:"unit"`
	Distances      map[string]map[string]float64 `json:"distances,omitempty" yaml:"distances,omitempty"`
	Provenance     Provenance                    `json:"provenance" yaml:"provenance"`
	EstimatedPairs int                           `json:"estimatedPairs,omitempty" yaml:"estimatedPairs,omitempty"`
}

func NewCostMatrix(p Provenance) CostMatrix {
	return CostMatrix{Unit: map[string]map[string]float64{}, Distances: map[string]map[string]float64{}, Provenance: p}
}

func (m *CostMatrix) Set(facilityID, destinationID string, unitCost, miles float64) {
	if m.Unit == nil {
		m.Unit = map[string]map[string]float64{}
	}
	if m.Distances == nil {
		m.Distances = map[string]map[string]float64{}
	}
	if m.Unit[facilityID] == nil {
		m.Unit[facilityID] = map[string]float64{}
	}
	if m.Distances[facilityID] == nil {
		m.Distances[facilityID] = map[string]float64{}
	}
	m.Unit[facilityID][destinationID] = unitCost
	m.Distances[facilityID][destinationID] = miles
}

func (m CostMatrix) Cost(facilityID, destinationID string) (float64, bool) {
	row, ok := m.Unit[facilityID]
	if !ok {
		return 0, false
	}
	c, ok := row[destinationID]
	return c, ok
}

// Distance returns miles for the pair; ok is false when the matrix was built
// without geometry.
func (m CostMatrix) Distance(facilityID, destinationID string) (float64, bool) {
	row, ok := m.Distances[facilityID]
	if !ok {
		return 0, false
	}
	d, ok := row[destinationID]
	return d, ok
}

type Weights struct {
	Cost         float64 `json:"cost" yaml:"cost" mapstructure:"cost"`
	ServiceLevel float64 `json:"serviceLevel" yaml:"serviceLevel" mapstructure:"service_level"`
	Utilization  float64 `json:"utilization" yaml:"utilization" mapstructure:"utilization"`
}

type Constraints struct {
	MinFacilities       int      `json:"minFacilities" yaml:"minFacilities"`
	MaxFacilities       int      `json:"maxFacilities" yaml:"maxFacilities"`
	MandatoryFacilities []string `json:"mandatoryFacilities,omitempty" yaml:"mandatoryFacilities,omitempty"`
	MaxDistanceMiles    float64  `json:"maxDistanceMiles" yaml:"maxDistanceMiles"`
}

// OptimizationConfig is the immutable per-run optimiser configuration.
type OptimizationConfig struct {
	Weights     Weights     `json:"weights" yaml:"weights"`
	Constraints Constraints `json:"constraints" yaml:"constraints"`
	Solver      string      `json:"solver,omitempty" yaml:"solver,omitempty"`

	TimeBudget    time.Duration `json:"timeBudget,omitempty" yaml:"timeBudget,omitempty"`
	Grace         time.Duration `json:"grace,omitempty" yaml:"grace,omitempty"`
	Seed          int64         `json:"seed,omitempty" yaml:"seed,omitempty"`
	MaxIterations int           `json:"maxIterations,omitempty" yaml:"maxIterations,omitempty"`

	// ServicePenaltyPerUnit is charged per unit assigned beyond MaxDistanceMiles.
	ServicePenaltyPerUnit float64 `json:"servicePenaltyPerUnit" yaml:"servicePenaltyPerUnit"`
	// IdleCapacityPenalty is charged per unit of open but unused capacity.
	IdleCapacityPenalty     float64 `json:"idleCapacityPenalty" yaml:"idleCapacityPenalty"`
	ServiceLevelRequirement float64 `json:"serviceLevelRequirement" yaml:"serviceLevelRequirement"`

	LPBoundMaxVars  int `json:"lpBoundMaxVars,omitempty" yaml:"lpBoundMaxVars,omitempty"`
	ExactMaxSubsets int `json:"exactMaxSubsets,omitempty" yaml:"exactMaxSubsets,omitempty"`
}

type Assignment struct {
	FacilityID    string  `json:"facilityId"`
	DestinationID string  `json:"destinationId"`
	Volume        float64 `json:"volume"`
	UnitCost      float64 `json:"unitCost"`
	DistanceMiles float64 `json:"distanceMiles"`
}

type OptimizationResult struct {
	OpenFacilities          []string           `json:"openFacilities"`
	Assignments             []Assignment       `json:"assignments"`
	TotalTransportationCost float64            `json:"totalTransportationCost"`
	// TotalDistance is volume-weighted: Σ volume × miles.
	TotalDistance           float64            `json:"totalDistance"`
	ServiceLevelAchievement float64            `json:"serviceLevelAchievement"`
	ServiceLevelMet         bool               `json:"serviceLevelMet"`
	Provenance              Provenance         `json:"provenance"`
	// DataProvenance is the cost matrix tag (RealData or FallbackData). It
	// survives when Provenance is Approximate.
	DataProvenance          Provenance         `json:"dataProvenance"`
	Objective               float64            `json:"objective"`
	Solver                  string             `json:"solver"`
	MaxUtilization          float64            `json:"maxUtilization"`
	FacilityLoads           map[string]float64 `json:"facilityLoads"`
	Warnings                []string           `json:"warnings,omitempty"`
}

// ForecastRow is one year of the volume forecast. Rows are strictly increasing by year.
type ForecastRow struct {
	Year        int     `json:"year" yaml:"year"`
	AnnualUnits float64 `json:"annualUnits" yaml:"annualUnits"`
}

type SKU struct {
	ID             string  `json:"id" yaml:"id"`
	AnnualVolume   float64 `json:"annualVolume" yaml:"annualVolume"`
	UnitsPerCase   float64 `json:"unitsPerCase" yaml:"unitsPerCase"`
	CasesPerPallet float64 `json:"casesPerPallet" yaml:"casesPerPallet"`
}

type PalletDimensions struct {
	LengthIn float64 `json:"lengthIn" yaml:"lengthIn" mapstructure:"length_in"`
	WidthIn  float64 `json:"widthIn" yaml:"widthIn" mapstructure:"width_in"`
	HeightIn float64 `json:"heightIn" yaml:"heightIn" mapstructure:"height_in"`
}

// WarehouseParams are the facility design parameters used for sizing.
type WarehouseParams struct {
	OperatingDays         float64          `json:"operatingDays" yaml:"operatingDays"`
	DaysOnHand            float64          `json:"daysOnHand" yaml:"daysOnHand"`
	Pallet                PalletDimensions `json:"pallet" yaml:"pallet"`
	CeilingHeightFt       float64          `json:"ceilingHeightFt" yaml:"ceilingHeightFt"`
	CeilingClearanceFt    float64          `json:"ceilingClearanceFt" yaml:"ceilingClearanceFt"`
	RackHeightFt          float64          `json:"rackHeightFt" yaml:"rackHeightFt"`
	AisleFactor           float64          `json:"aisleFactor" yaml:"aisleFactor"`
	DoorThroughput        float64          `json:"doorThroughput" yaml:"doorThroughput"`
	DockAreaPerDoorSqft   float64          `json:"dockAreaPerDoorSqft" yaml:"dockAreaPerDoorSqft"`
	MaxUtilization        float64          `json:"maxUtilization" yaml:"maxUtilization"`
	FacilityDesignArea    float64          `json:"facilityDesignArea" yaml:"facilityDesignArea"`
	OfficeAreaSqft        float64          `json:"officeAreaSqft" yaml:"officeAreaSqft"`
	BatteryAreaSqft       float64          `json:"batteryAreaSqft" yaml:"batteryAreaSqft"`
	PackingAreaSqft       float64          `json:"packingAreaSqft" yaml:"packingAreaSqft"`
	ConveyorAreaSqft      float64          `json:"conveyorAreaSqft" yaml:"conveyorAreaSqft"`
	CostPerSqftAnnual     float64          `json:"costPerSqftAnnual" yaml:"costPerSqftAnnual"`
	ThirdPartyCostPerSqft float64          `json:"thirdPartyCostPerSqft" yaml:"thirdPartyCostPerSqft"`
	MaxFacilities         int              `json:"maxFacilities" yaml:"maxFacilities"`
}

// Warehouse year status values.
const (
	StatusOK               = "OK"
	StatusExpanded         = "EXPANDED"
	StatusOverflow         = "OVERFLOW"
	StatusCapacityExceeded = "CAPACITY_EXCEEDED"
)

type WarehouseYearResult struct {
	Year                   int     `json:"year"`
	AnnualUnits            float64 `json:"annualUnits"`
	PalletPositions        float64 `json:"palletPositions"`
	StorageAreaSqft        float64 `json:"storageAreaSqft"`
	DoorsNeeded            int     `json:"doorsNeeded"`
	DockAreaSqft           float64 `json:"dockAreaSqft"`
	FacilitiesNeeded       int     `json:"facilitiesNeeded"`
	GrossAreaSqft          float64 `json:"grossAreaSqft"`
	TotalCostAnnual        float64 `json:"totalCostAnnual"`
	UtilizationPct         float64 `json:"utilizationPct"`
	ThirdPartySqftRequired float64 `json:"thirdPartySqftRequired"`
	Status                 string  `json:"status"`
}

// Data source labels for projected years.
const (
	SourceForecast   = "forecast"
	SourceAssumption = "assumption"
)

type YearCost struct {
	Year             int     `json:"year"`
	Volume           float64 `json:"volume"`
	VolumeMultiplier float64 `json:"volumeMultiplier"`
	TransportCost    float64 `json:"transportCost"`
	BaselineCost     float64 `json:"baselineCost"`
	DataSource       string  `json:"dataSource"`
}

// VerifiedCost is the historical transportation spend handed over by the cost
// aggregation collaborator.
type VerifiedCost struct {
	Total  float64            `json:"total" yaml:"total"`
	ByMode map[string]float64 `json:"byMode,omitempty" yaml:"byMode,omitempty"`
	Source string             `json:"source,omitempty" yaml:"source,omitempty"`
}

type IntegratedYear struct {
	Year            int                  `json:"year"`
	Warehouse       *WarehouseYearResult `json:"warehouse,omitempty"`
	Transport       *YearCost            `json:"transport,omitempty"`
	WarehouseCost   float64              `json:"warehouseCost"`
	TransportCost   float64              `json:"transportCost"`
	TotalAnnualCost float64              `json:"totalAnnualCost"`
}

type BaselineIntegration struct {
	BaselineCost  float64 `json:"baselineCost"`
	OptimizedCost float64 `json:"optimizedCost"`
	Savings       float64 `json:"savings"`
	SavingsPct    float64 `json:"savingsPct"`
}

type IntegratedRunResult struct {
	Name      string              `json:"name,omitempty"`
	Years     []IntegratedYear    `json:"years"`
	Baseline  BaselineIntegration `json:"baselineIntegration"`
	Transport OptimizationResult  `json:"transport"`
	CostBasis Provenance          `json:"costBasis"`
	Warnings  []string            `json:"warnings,omitempty"`
}

// Run is the persisted record of one scenario execution.
type Run struct {
	ID         string               `json:"id"`
	Name       string               `json:"name,omitempty"`
	Status     string               `json:"status"`
	Error      string               `json:"error,omitempty"`
	ErrorKind  string               `json:"errorKind,omitempty"`
	Result     *IntegratedRunResult `json:"result,omitempty"`
	CreatedAt  time.Time            `json:"createdAt"`
	FinishedAt *time.Time           `json:"finishedAt,omitempty"`
}

// Run status values.
const (
	RunPending   = "pending"
	RunRunning   = "running"
	RunSucceeded = "succeeded"
	RunFailed    = "failed"
)
