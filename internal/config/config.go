// Package config loads the orchestration core's tunable options
// (spec.md §6) via viper, following the pack's convention of a typed,
// defaultable option struct read once at startup.
package config

import (
	"time"

	"github.com/spf13/viper"
)

// Config holds every named option spec.md §6 enumerates.
type Config struct {
	BaseLearningRate           float64       // η₀
	AdaptivityFactor           float64       // λ
	QuantityThreshold          int           // Nmin
	QualityThreshold           float64       // Qmin
	EpsilonResource            float64
	EpsilonLatency             float64
	UtilizationThreshold       float64
	BaseSamplingInterval       time.Duration
	MinSamplingInterval        time.Duration
	HistorySize                int
	WindowSize                 int
	MaxRefinementIterations    int
	ConvergenceThreshold       float64
	LocalBlendRatio            float64
	MigrationImprovementRatio  float64
}

// Default returns the spec-mandated default configuration.
func Default() Config {
	v := newViper()
	return fromViper(v)
}

// Load reads configuration from the named config file, falling back to the
// spec-mandated defaults for any option not set. name/paths follow viper's
// usual SetConfigName/AddConfigPath convention; an absent config file is
// not an error — defaults apply.
func Load(name string, paths ...string) (Config, error) {
	v := newViper()
	v.SetConfigName(name)
	for _, p := range paths {
		v.AddConfigPath(p)
	}
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return Config{}, err
		}
	}
	return fromViper(v), nil
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetDefault("baseLearningRate", 1e-3)
	v.SetDefault("adaptivityFactor", 0.5)
	v.SetDefault("quantityThreshold", 3)
	v.SetDefault("qualityThreshold", 0.7)
	v.SetDefault("epsilonResource", 0.1)
	v.SetDefault("epsilonLatency", 0.05)
	v.SetDefault("utilizationThreshold", 0.8)
	v.SetDefault("baseSamplingInterval", "1s")
	v.SetDefault("minSamplingInterval", "100ms")
	v.SetDefault("historySize", 100)
	v.SetDefault("windowSize", 20)
	v.SetDefault("maxRefinementIterations", 10)
	v.SetDefault("convergenceThreshold", 0.01)
	v.SetDefault("localBlendRatio", 0.2)
	v.SetDefault("migrationImprovementRatio", 0.8)
	return v
}

func fromViper(v *viper.Viper) Config {
	return Config{
		BaseLearningRate:           v.GetFloat64("baseLearningRate"),
		AdaptivityFactor:           v.GetFloat64("adaptivityFactor"),
		QuantityThreshold:          v.GetInt("quantityThreshold"),
		QualityThreshold:           v.GetFloat64("qualityThreshold"),
		EpsilonResource:            v.GetFloat64("epsilonResource"),
		EpsilonLatency:             v.GetFloat64("epsilonLatency"),
		UtilizationThreshold:       v.GetFloat64("utilizationThreshold"),
		BaseSamplingInterval:       v.GetDuration("baseSamplingInterval"),
		MinSamplingInterval:        v.GetDuration("minSamplingInterval"),
		HistorySize:                v.GetInt("historySize"),
		WindowSize:                 v.GetInt("windowSize"),
		MaxRefinementIterations:    v.GetInt("maxRefinementIterations"),
		ConvergenceThreshold:       v.GetFloat64("convergenceThreshold"),
		LocalBlendRatio:            v.GetFloat64("localBlendRatio"),
		MigrationImprovementRatio:  v.GetFloat64("migrationImprovementRatio"),
	}
}
