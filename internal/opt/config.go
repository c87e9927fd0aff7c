package opt

import (
	"fmt"
	"runtime"
	"time"
)

// Upper bounds on one run's size. A generation holds the survivors plus
// their children and fresh specs.
const (
	LimitPopulation     = 100_000
	LimitGenerations    = 100_000
	LimitGenerationSize = 100_000
)

// Config holds the optimizer's hyperparameters. Historical runs used anything
// from 10 to 1000 candidates and 20 to 200 generations, so none of these are
// baked in beyond the defaults.
type Config struct {
	PopulationSize   int           `yaml:"populationSize" json:"populationSize,omitempty"`
	Survivors        int           `yaml:"survivors" json:"survivors,omitempty"`
	FanOut           int           `yaml:"fanOut" json:"fanOut,omitempty"`
	FreshPerSurvivor int           `yaml:"freshPerSurvivor" json:"freshPerSurvivor,omitempty"`
	MaxGenerations   int           `yaml:"maxGenerations" json:"maxGenerations,omitempty"`
	Patience         int           `yaml:"patience" json:"patience,omitempty"`
	Workers          int           `yaml:"workers" json:"workers,omitempty"`
	TimeBudget       time.Duration `yaml:"timeBudget" json:"timeBudget,omitempty"`
	Seed             int64         `yaml:"seed" json:"seed,omitempty"`

	// seeded scale is drawn from [SeedScaleMin, SeedScaleMax] * max feasible scale
	SeedScaleMin float64 `yaml:"seedScaleMin" json:"seedScaleMin,omitempty"`
	SeedScaleMax float64 `yaml:"seedScaleMax" json:"seedScaleMax,omitempty"`

	MutationDistance float64 `yaml:"mutationDistance" json:"mutationDistance,omitempty"`
	MutationEntropy  float64 `yaml:"mutationEntropy" json:"mutationEntropy,omitempty"`

	SearchRadiusMeters float64 `yaml:"searchRadiusMeters" json:"searchRadiusMeters,omitempty"`
	SnapRadiusMeters   float64 `yaml:"snapRadiusMeters" json:"snapRadiusMeters,omitempty"`
}

// DefaultConfig mirrors the values the service ships with.
func DefaultConfig() Config {
	return Config{
		PopulationSize:     200,
		Survivors:          20,
		FanOut:             3,
		FreshPerSurvivor:   1,
		MaxGenerations:     100,
		Patience:           1,
		Workers:            runtime.GOMAXPROCS(0),
		SeedScaleMin:       0.01,
		SeedScaleMax:       0.5,
		MutationDistance:   1,
		MutationEntropy:    0.05,
		SearchRadiusMeters: 100,
		SnapRadiusMeters:   500,
	}
}

// WithDefaults fills zero-valued numeric fields from DefaultConfig. FanOut is
// left alone since zero children per survivor is legitimate.
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.PopulationSize == 0 {
		c.PopulationSize = d.PopulationSize
	}
	if c.Survivors == 0 {
		c.Survivors = d.Survivors
	}
	if c.FreshPerSurvivor == 0 {
		c.FreshPerSurvivor = d.FreshPerSurvivor
	}
	if c.MaxGenerations == 0 {
		c.MaxGenerations = d.MaxGenerations
	}
	if c.Patience == 0 {
		c.Patience = d.Patience
	}
	if c.Workers <= 0 {
		c.Workers = d.Workers
	}
	if c.SeedScaleMin == 0 && c.SeedScaleMax == 0 {
		c.SeedScaleMin, c.SeedScaleMax = d.SeedScaleMin, d.SeedScaleMax
	}
	if c.MutationDistance == 0 {
		c.MutationDistance = d.MutationDistance
	}
	if c.MutationEntropy == 0 {
		c.MutationEntropy = d.MutationEntropy
	}
	if c.SearchRadiusMeters == 0 {
		c.SearchRadiusMeters = d.SearchRadiusMeters
	}
	if c.SnapRadiusMeters == 0 {
		c.SnapRadiusMeters = d.SnapRadiusMeters
	}
	return c
}

// Validate rejects configurations the optimizer cannot run.
func (c Config) Validate() error {
	switch {
	case c.PopulationSize < 1 || c.PopulationSize > LimitPopulation:
		return fmt.Errorf("populationSize must be in [1, %d]", LimitPopulation)
	case c.Survivors < 1 || c.Survivors > c.PopulationSize:
		return fmt.Errorf("survivors must be in [1, populationSize]")
	case c.FanOut < 0 || c.FanOut > LimitGenerationSize:
		return fmt.Errorf("fanOut must be in [0, %d]", LimitGenerationSize)
	case c.FreshPerSurvivor < 1 || c.FreshPerSurvivor > LimitGenerationSize:
		return fmt.Errorf("freshPerSurvivor must be in [1, %d]", LimitGenerationSize)
	case c.Survivors*(1+c.FanOut+c.FreshPerSurvivor) > LimitGenerationSize:
		return fmt.Errorf("survivors * (1 + fanOut + freshPerSurvivor) must be <= %d", LimitGenerationSize)
	case c.MaxGenerations < 1 || c.MaxGenerations > LimitGenerations:
		return fmt.Errorf("maxGenerations must be in [1, %d]", LimitGenerations)
	case c.Patience < 1:
		return fmt.Errorf("patience must be >= 1")
	case c.Workers < 1:
		return fmt.Errorf("workers must be >= 1")
	case c.TimeBudget < 0:
		return fmt.Errorf("timeBudget must be >= 0")
	case c.SeedScaleMin <= 0 || c.SeedScaleMax < c.SeedScaleMin || c.SeedScaleMax > 1:
		return fmt.Errorf("seed scale range must satisfy 0 < min <= max <= 1")
	case c.MutationDistance < 0 || c.MutationEntropy < 0:
		return fmt.Errorf("mutation distance and entropy must be >= 0")
	case c.SearchRadiusMeters <= 0 || c.SnapRadiusMeters <= 0:
		return fmt.Errorf("search and snap radii must be > 0")
	}
	return nil
}
