// Package config loads the service configuration: defaults, then an optional
// YAML file, then NETOPT_* environment overrides.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"netopt/internal/model"
	"netopt/internal/scenario"
)

// Config holds all configuration for the service.
type Config struct {
	Server         ServerConfig         `mapstructure:"server"`
	Logging        LoggingConfig        `mapstructure:"logging"`
	Database       DatabaseConfig       `mapstructure:"database"`
	Redis          RedisConfig          `mapstructure:"redis"`
	Webhooks       WebhooksConfig       `mapstructure:"webhooks"`
	Runs           RunsConfig           `mapstructure:"runs"`
	Optimization   OptimizationConfig   `mapstructure:"optimization"`
	Transportation TransportationConfig `mapstructure:"transportation"`
	Warehouse      WarehouseConfig      `mapstructure:"warehouse"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	RateLimitRPS    float64       `mapstructure:"rate_limit_rps"`
	RateBurst       int           `mapstructure:"rate_burst"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

// DatabaseConfig selects Postgres run storage when URL is set.
type DatabaseConfig struct {
	URL string `mapstructure:"url"`
}

// RedisConfig selects the Redis event broker when URL is set.
type RedisConfig struct {
	URL     string `mapstructure:"url"`
	Channel string `mapstructure:"channel"`
}

type WebhooksConfig struct {
	Sinks        []string      `mapstructure:"sinks"`
	Secret       string        `mapstructure:"secret"`
	MaxAttempts  int           `mapstructure:"max_attempts"`
	Timeout      time.Duration `mapstructure:"timeout"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// RunsConfig bounds the background run executor.
type RunsConfig struct {
	Workers    int `mapstructure:"workers"`
	StatsLimit int `mapstructure:"stats_limit"`
}

type OptimizationConfig struct {
	Weights               model.Weights `mapstructure:"weights"`
	ServicePenaltyPerUnit float64       `mapstructure:"service_penalty_per_unit"`
	IdleCapacityPenalty   float64       `mapstructure:"idle_capacity_penalty"`
	Solver                SolverConfig  `mapstructure:"solver"`
}

type SolverConfig struct {
	Name            string        `mapstructure:"name"`
	TimeBudget      time.Duration `mapstructure:"time_budget"`
	Grace           time.Duration `mapstructure:"grace"`
	Seed            int64         `mapstructure:"seed"`
	MaxIterations   int           `mapstructure:"max_iterations"`
	LPBoundMaxVars  int           `mapstructure:"lp_bound_max_vars"`
	ExactMaxSubsets int           `mapstructure:"exact_max_subsets"`
}

type TransportationConfig struct {
	FixedCostPerFacility    float64  `mapstructure:"fixed_cost_per_facility"`
	CostPerMile             float64  `mapstructure:"cost_per_mile"`
	HandlingFee             float64  `mapstructure:"handling_fee"`
	ServiceLevelRequirement float64  `mapstructure:"service_level_requirement"`
	MaxDistanceMiles        float64  `mapstructure:"max_distance_miles"`
	RequiredFacilities      int      `mapstructure:"required_facilities"`
	MaxFacilities           int      `mapstructure:"max_facilities"`
	MandatoryFacilities     []string `mapstructure:"mandatory_facilities"`
}

type WarehouseConfig struct {
	OperatingDays         float64                `mapstructure:"operating_days"`
	DaysOnHand            float64                `mapstructure:"days_on_hand"`
	PalletDimensions      model.PalletDimensions `mapstructure:"pallet_dimensions"`
	CeilingHeight         float64                `mapstructure:"ceiling_height"`
	CeilingClearance      float64                `mapstructure:"ceiling_clearance"`
	RackHeight            float64                `mapstructure:"rack_height"`
	AisleFactor           float64                `mapstructure:"aisle_factor"`
	DoorThroughput        float64                `mapstructure:"door_throughput"`
	DockAreaPerDoor       float64                `mapstructure:"dock_area_per_door"`
	MaxUtilization        float64                `mapstructure:"max_utilization"`
	FacilityDesignArea    float64                `mapstructure:"facility_design_area"`
	OfficeArea            float64                `mapstructure:"office_area"`
	BatteryArea           float64                `mapstructure:"battery_area"`
	PackingArea           float64                `mapstructure:"packing_area"`
	ConveyorArea          float64                `mapstructure:"conveyor_area"`
	CostPerSqftAnnual     float64                `mapstructure:"cost_per_sqft_annual"`
	ThirdpartyCostPerSqft float64                `mapstructure:"thirdparty_cost_per_sqft"`
	MaxFacilities         int                    `mapstructure:"max_facilities"`
}

// Load reads configuration from the given file (or netopt.yaml in the usual
// places when path is empty) and the environment.
func Load(configPath string) (*Config, error) {
	v := newViper()
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("netopt")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/netopt/")
	}
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || configPath != "" {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}
	return decode(v)
}

// Default returns the built-in configuration with environment overrides.
func Default() (*Config, error) {
	return decode(newViper())
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("NETOPT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// setDefaults sets default configuration values. Every engine constant lives
// here so a deployment can see and override it.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.rate_limit_rps", 5.0)
	v.SetDefault("server.rate_burst", 10)
	v.SetDefault("server.shutdown_timeout", "15s")

	v.SetDefault("logging.level", "info")

	v.SetDefault("database.url", "")
	v.SetDefault("redis.url", "")
	v.SetDefault("redis.channel", "netopt:runs")

	v.SetDefault("webhooks.sinks", []string{})
	v.SetDefault("webhooks.secret", "")
	v.SetDefault("webhooks.max_attempts", 5)
	v.SetDefault("webhooks.timeout", "10s")
	v.SetDefault("webhooks.poll_interval", "2s")

	v.SetDefault("runs.workers", 2)
	v.SetDefault("runs.stats_limit", 256)

	v.SetDefault("optimization.weights.cost", 1.0)
	v.SetDefault("optimization.weights.service_level", 1.0)
	v.SetDefault("optimization.weights.utilization", 0.0)
	// Charged per unit shipped beyond max_distance_miles, scaled by the service weight.
	v.SetDefault("optimization.service_penalty_per_unit", 2.0)
	// Charged per unit of idle open capacity, scaled by the utilization weight.
	v.SetDefault("optimization.idle_capacity_penalty", 0.05)
	v.SetDefault("optimization.solver.name", "auto")
	v.SetDefault("optimization.solver.time_budget", "300s")
	v.SetDefault("optimization.solver.grace", "2s")
	v.SetDefault("optimization.solver.seed", 42)
	v.SetDefault("optimization.solver.max_iterations", 400)
	v.SetDefault("optimization.solver.lp_bound_max_vars", 2000)
	v.SetDefault("optimization.solver.exact_max_subsets", 1<<16)

	v.SetDefault("transportation.fixed_cost_per_facility", 250000.0)
	v.SetDefault("transportation.cost_per_mile", 0.05)
	v.SetDefault("transportation.handling_fee", 0.25)
	v.SetDefault("transportation.service_level_requirement", 0.95)
	v.SetDefault("transportation.max_distance_miles", 500.0)
	v.SetDefault("transportation.required_facilities", 0)
	v.SetDefault("transportation.max_facilities", 0)
	v.SetDefault("transportation.mandatory_facilities", []string{})

	v.SetDefault("warehouse.operating_days", 250.0)
	v.SetDefault("warehouse.days_on_hand", 30.0)
	v.SetDefault("warehouse.pallet_dimensions.length_in", 48.0)
	v.SetDefault("warehouse.pallet_dimensions.width_in", 40.0)
	v.SetDefault("warehouse.pallet_dimensions.height_in", 60.0)
	v.SetDefault("warehouse.ceiling_height", 32.0)
	v.SetDefault("warehouse.ceiling_clearance", 2.0)
	v.SetDefault("warehouse.rack_height", 28.0)
	v.SetDefault("warehouse.aisle_factor", 1.8)
	v.SetDefault("warehouse.door_throughput", 120.0)
	v.SetDefault("warehouse.dock_area_per_door", 900.0)
	v.SetDefault("warehouse.max_utilization", 0.85)
	v.SetDefault("warehouse.facility_design_area", 250000.0)
	v.SetDefault("warehouse.office_area", 8000.0)
	v.SetDefault("warehouse.battery_area", 2000.0)
	v.SetDefault("warehouse.packing_area", 10000.0)
	v.SetDefault("warehouse.conveyor_area", 6000.0)
	v.SetDefault("warehouse.cost_per_sqft_annual", 8.5)
	v.SetDefault("warehouse.thirdparty_cost_per_sqft", 12.0)
	v.SetDefault("warehouse.max_facilities", 3)
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	if c.Server.RateLimitRPS < 0 || c.Server.RateBurst < 0 {
		return fmt.Errorf("server rate limit must be non-negative")
	}
	if c.Webhooks.MaxAttempts < 1 {
		return fmt.Errorf("webhooks.max_attempts must be at least 1")
	}
	if len(c.Webhooks.Sinks) > 0 && c.Webhooks.Secret == "" {
		return fmt.Errorf("webhooks.secret is required when sinks are configured")
	}
	if c.Runs.Workers < 1 {
		return fmt.Errorf("runs.workers must be at least 1")
	}

	w := c.Optimization.Weights
	if w.Cost < 0 || w.ServiceLevel < 0 || w.Utilization < 0 {
		return fmt.Errorf("optimization weights must be non-negative")
	}
	if c.Optimization.ServicePenaltyPerUnit < 0 || c.Optimization.IdleCapacityPenalty < 0 {
		return fmt.Errorf("optimization penalties must be non-negative")
	}
	s := c.Optimization.Solver
	switch strings.ToLower(s.Name) {
	case "auto", "exact", "alns":
	default:
		return fmt.Errorf("unknown optimization.solver.name %q", s.Name)
	}
	if s.TimeBudget <= 0 {
		return fmt.Errorf("optimization.solver.time_budget must be positive")
	}
	if s.MaxIterations < 1 {
		return fmt.Errorf("optimization.solver.max_iterations must be at least 1")
	}

	t := c.Transportation
	if t.FixedCostPerFacility < 0 || t.CostPerMile < 0 || t.HandlingFee < 0 || t.MaxDistanceMiles < 0 {
		return fmt.Errorf("transportation costs and distances must be non-negative")
	}
	if t.ServiceLevelRequirement < 0 || t.ServiceLevelRequirement > 1 {
		return fmt.Errorf("transportation.service_level_requirement must be within [0, 1]")
	}
	if t.RequiredFacilities < 0 || t.MaxFacilities < 0 {
		return fmt.Errorf("facility counts must be non-negative")
	}
	if t.MaxFacilities > 0 && t.RequiredFacilities > t.MaxFacilities {
		return fmt.Errorf("transportation.required_facilities %d exceeds max_facilities %d", t.RequiredFacilities, t.MaxFacilities)
	}

	wh := c.Warehouse
	if wh.MaxUtilization <= 0 || wh.MaxUtilization > 1 {
		return fmt.Errorf("warehouse.max_utilization must be within (0, 1]")
	}
	if wh.MaxFacilities < 1 {
		return fmt.Errorf("warehouse.max_facilities must be at least 1")
	}
	if wh.OperatingDays <= 0 || wh.FacilityDesignArea <= 0 || wh.DoorThroughput <= 0 || wh.AisleFactor <= 0 {
		return fmt.Errorf("warehouse operating days, design area, door throughput and aisle factor must be positive")
	}
	if wh.CeilingHeight-wh.CeilingClearance <= 0 || wh.RackHeight <= 0 {
		return fmt.Errorf("warehouse ceiling and rack heights must leave usable height")
	}
	return nil
}

// OptimizationConfig builds the engine's per-run optimiser configuration.
func (c *Config) OptimizationConfig() model.OptimizationConfig {
	t := c.Transportation
	s := c.Optimization.Solver
	return model.OptimizationConfig{
		Weights: c.Optimization.Weights,
		Constraints: model.Constraints{
			MinFacilities:       t.RequiredFacilities,
			MaxFacilities:       t.MaxFacilities,
			MandatoryFacilities: append([]string(nil), t.MandatoryFacilities...),
			MaxDistanceMiles:    t.MaxDistanceMiles,
		},
		Solver:                  s.Name,
		TimeBudget:              s.TimeBudget,
		Grace:                   s.Grace,
		Seed:                    s.Seed,
		MaxIterations:           s.MaxIterations,
		ServicePenaltyPerUnit:   c.Optimization.ServicePenaltyPerUnit,
		IdleCapacityPenalty:     c.Optimization.IdleCapacityPenalty,
		ServiceLevelRequirement: t.ServiceLevelRequirement,
		LPBoundMaxVars:          s.LPBoundMaxVars,
		ExactMaxSubsets:         s.ExactMaxSubsets,
	}
}

// WarehouseParams builds the sizing parameters.
func (c *Config) WarehouseParams() model.WarehouseParams {
	w := c.Warehouse
	return model.WarehouseParams{
		OperatingDays:         w.OperatingDays,
		DaysOnHand:            w.DaysOnHand,
		Pallet:                w.PalletDimensions,
		CeilingHeightFt:       w.CeilingHeight,
		CeilingClearanceFt:    w.CeilingClearance,
		RackHeightFt:          w.RackHeight,
		AisleFactor:           w.AisleFactor,
		DoorThroughput:        w.DoorThroughput,
		DockAreaPerDoorSqft:   w.DockAreaPerDoor,
		MaxUtilization:        w.MaxUtilization,
		FacilityDesignArea:    w.FacilityDesignArea,
		OfficeAreaSqft:        w.OfficeArea,
		BatteryAreaSqft:       w.BatteryArea,
		PackingAreaSqft:       w.PackingArea,
		ConveyorAreaSqft:      w.ConveyorArea,
		CostPerSqftAnnual:     w.CostPerSqftAnnual,
		ThirdPartyCostPerSqft: w.ThirdpartyCostPerSqft,
		MaxFacilities:         w.MaxFacilities,
	}
}

// ScenarioDefaults is what scenarios fall back to for unset fields.
func (c *Config) ScenarioDefaults() scenario.Defaults {
	return scenario.Defaults{
		Optimization:         c.OptimizationConfig(),
		Warehouse:            c.WarehouseParams(),
		FixedCostPerFacility: c.Transportation.FixedCostPerFacility,
		CostPerMile:          c.Transportation.CostPerMile,
		HandlingFee:          c.Transportation.HandlingFee,
	}
}
