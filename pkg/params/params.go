// Package params holds the Global Parameter Vector shared by the
// critical-path analyzer, the deployer, and the federated aggregator.
package params

import (
	"math"

	"gopkg.in/yaml.v3"
)

// Defaults from spec.md §3.
const (
	DefaultTemporalWeight         = 0.40
	DefaultResourceWeight         = 0.35
	DefaultDependencyWeight       = 0.25
	DefaultCriticalPathThreshold  = 0.70
	DefaultUtilizationThreshold   = 0.80
	DefaultResourceScalingFactor  = 0.30
	DefaultAdaptationFactor       = 0.50
)

// Vector is the named, real-valued hyper-parameter set. It is copied by
// value at the start of each phase by its readers (C4, C5); C7 is the
// single writer (spec.md §5).
type Vector struct {
	TemporalWeight        float64
	ResourceWeight        float64
	DependencyWeight      float64
	CriticalPathThreshold float64
	UtilizationThreshold  float64
	ResourceScalingFactor float64
	AdaptationFactor      float64
}

// Default returns the spec-mandated default parameter vector.
func Default() Vector {
	return Vector{
		TemporalWeight:        DefaultTemporalWeight,
		ResourceWeight:        DefaultResourceWeight,
		DependencyWeight:      DefaultDependencyWeight,
		CriticalPathThreshold: DefaultCriticalPathThreshold,
		UtilizationThreshold:  DefaultUtilizationThreshold,
		ResourceScalingFactor: DefaultResourceScalingFactor,
		AdaptationFactor:      DefaultAdaptationFactor,
	}
}

// Names, in the fixed order spec.md §3/§6 lists them, for persistence.
var Names = []string{
	"temporalWeight",
	"resourceWeight",
	"dependencyWeight",
	"criticalPathThreshold",
	"utilizationThreshold",
	"resourceScalingFactor",
	"adaptationFactor",
}

// Get returns the named parameter's value.
func (v Vector) Get(name string) (float64, bool) {
	switch name {
	case "temporalWeight":
		return v.TemporalWeight, true
	case "resourceWeight":
		return v.ResourceWeight, true
	case "dependencyWeight":
		return v.DependencyWeight, true
	case "criticalPathThreshold":
		return v.CriticalPathThreshold, true
	case "utilizationThreshold":
		return v.UtilizationThreshold, true
	case "resourceScalingFactor":
		return v.ResourceScalingFactor, true
	case "adaptationFactor":
		return v.AdaptationFactor, true
	default:
		return 0, false
	}
}

// Set assigns the named parameter's value; unknown names are ignored.
func (v *Vector) Set(name string, value float64) {
	switch name {
	case "temporalWeight":
		v.TemporalWeight = value
	case "resourceWeight":
		v.ResourceWeight = value
	case "dependencyWeight":
		v.DependencyWeight = value
	case "criticalPathThreshold":
		v.CriticalPathThreshold = value
	case "utilizationThreshold":
		v.UtilizationThreshold = value
	case "resourceScalingFactor":
		v.ResourceScalingFactor = value
	case "adaptationFactor":
		v.AdaptationFactor = value
	}
}

// Delta returns the L2 norm of the difference between v and o across all
// named parameters — used by the Deployer's Phase D convergence check.
func (v Vector) Delta(o Vector) float64 {
	var sumSq float64
	for _, name := range Names {
		a, _ := v.Get(name)
		b, _ := o.Get(name)
		d := a - b
		sumSq += d * d
	}
	return math.Sqrt(sumSq)
}

// Entry is the persisted (name, value) pair form from spec.md §6.
type Entry struct {
	Name  string  `yaml:"name"`
	Value float64 `yaml:"value"`
}

// Entries renders v as an ordered list of (name, value) pairs.
func (v Vector) Entries() []Entry {
	entries := make([]Entry, 0, len(Names))
	for _, name := range Names {
		val, _ := v.Get(name)
		entries = append(entries, Entry{Name: name, Value: val})
	}
	return entries
}

// FromEntries rebuilds a Vector from its persisted form. Unknown names are
// ignored; missing names keep the default's value.
func FromEntries(entries []Entry) Vector {
	v := Default()
	for _, e := range entries {
		v.Set(e.Name, e.Value)
	}
	return v
}

// MarshalYAML renders v as its ordered Entries form.
func (v Vector) MarshalYAML() (interface{}, error) {
	return v.Entries(), nil
}

// UnmarshalYAML rebuilds v from its ordered Entries form.
func (v *Vector) UnmarshalYAML(node *yaml.Node) error {
	var entries []Entry
	if err := node.Decode(&entries); err != nil {
		return err
	}
	*v = FromEntries(entries)
	return nil
}
