// Package criticalpath implements the multi-dimensional critical-path
// analyzer (C4): temporal, resource, and dependency criticality per path,
// min-max normalized and combined into a single composite score.
package criticalpath

import (
	"math"
	"sort"
	"strings"

	"k8s.io/klog/v2"

	"github.com/flowmesh/orchestrator-core/pkg/graph"
	"github.com/flowmesh/orchestrator-core/pkg/node"
	"github.com/flowmesh/orchestrator-core/pkg/params"
	"github.com/flowmesh/orchestrator-core/pkg/resource"
)

// Pressure weighting constants from spec.md §4.2.
const (
	cpuPressureWeight = 0.5
	memPressureWeight = 0.3
	bwPressureWeight  = 0.2
)

// Path is a ranked path with its composite score.
type Path struct {
	Services []string
	Score    float64
}

// Analyzer computes and ranks critical paths over a dependency graph and
// node registry, parameterized by a Global Parameter Vector snapshot.
type Analyzer struct {
	graph    *graph.Graph
	registry *node.Registry
	weights  params.Vector
}

// New constructs an Analyzer with the default parameter vector.
func New(g *graph.Graph, registry *node.Registry) *Analyzer {
	return &Analyzer{graph: g, registry: registry, weights: params.Default()}
}

// UpdateWeights replaces the analyzer's (alpha, beta, gamma) temporal/
// resource/dependency weights, per spec.md §4.2: if the three proposals
// have nonzero stdev they are z-score-normalized and renormalized to sum
// to 1; otherwise weights snap to the defaults. Resolves Open Question
// 9(c): if the post-z-score sum is ≤ 1e-6, also snap to defaults.
func (a *Analyzer) UpdateWeights(alpha, beta, gamma float64) {
	mean := (alpha + beta + gamma) / 3.0
	variance := (sq(alpha-mean) + sq(beta-mean) + sq(gamma-mean)) / 3.0
	stdDev := math.Sqrt(variance)

	if stdDev <= 0.001 {
		a.snapToDefaultWeights()
		return
	}

	za := (alpha - mean) / stdDev
	zb := (beta - mean) / stdDev
	zg := (gamma - mean) / stdDev
	sum := za + zb + zg
	if math.Abs(sum) <= 1e-6 {
		a.snapToDefaultWeights()
		return
	}

	a.weights.TemporalWeight = za / sum
	a.weights.ResourceWeight = zb / sum
	a.weights.DependencyWeight = zg / sum
}

func (a *Analyzer) snapToDefaultWeights() {
	a.weights.TemporalWeight = params.DefaultTemporalWeight
	a.weights.ResourceWeight = params.DefaultResourceWeight
	a.weights.DependencyWeight = params.DefaultDependencyWeight
}

// SetThreshold replaces τ with no clamping, per spec.md §4.2.
func (a *Analyzer) SetThreshold(tau float64) {
	a.weights.CriticalPathThreshold = tau
}

// SetWeights loads alpha/beta/gamma/tau, plus the utilization threshold and
// resource scaling factor the Deployer's resource cost reads back through
// Weights, directly from a parameter vector snapshot, bypassing the z-score
// renormalization — used by the Deployer's Phase A, which pushes the
// current Global Parameter Vector verbatim.
func (a *Analyzer) SetWeights(v params.Vector) {
	a.weights.TemporalWeight = v.TemporalWeight
	a.weights.ResourceWeight = v.ResourceWeight
	a.weights.DependencyWeight = v.DependencyWeight
	a.weights.CriticalPathThreshold = v.CriticalPathThreshold
	a.weights.UtilizationThreshold = v.UtilizationThreshold
	a.weights.ResourceScalingFactor = v.ResourceScalingFactor
}

// Weights returns the analyzer's current parameter vector: (alpha, beta,
// gamma, tau) plus the utilization threshold and resource scaling factor.
func (a *Analyzer) Weights() params.Vector {
	return a.weights
}

// IdentifyCriticalPaths returns every path from sourceID to targetID whose
// composite criticality exceeds τ, ordered by score descending, tie-broken
// by path length ascending then lexicographic service-id sequence
// (spec.md §4.2).
func (a *Analyzer) IdentifyCriticalPaths(sourceID, targetID string) ([]Path, error) {
	allPaths, err := a.graph.GetAllPaths(sourceID, targetID)
	if err != nil {
		return nil, err
	}
	if len(allPaths) == 0 {
		return nil, nil
	}

	temporal := make([]float64, len(allPaths))
	resourceCrit := make([]float64, len(allPaths))
	dependency := make([]float64, len(allPaths))

	for i, p := range allPaths {
		temporal[i] = a.graph.SequentialLatency(p)
		resourceCrit[i] = a.resourceCriticality(p)
		dependency[i] = a.dependencyCriticality(p)
	}

	normTemporal := normalizeAll(temporal)
	normResource := normalizeAll(resourceCrit)
	normDependency := normalizeAll(dependency)

	var scored []Path
	for i, p := range allPaths {
		score := a.weights.TemporalWeight*normTemporal[i] +
			a.weights.ResourceWeight*normResource[i] +
			a.weights.DependencyWeight*normDependency[i]
		klog.V(4).Infof("criticalpath: path=%s score=%.4f (T=%.3f R=%.3f D=%.3f)",
			strings.Join(p, "->"), score, normTemporal[i], normResource[i], normDependency[i])
		if score > a.weights.CriticalPathThreshold {
			scored = append(scored, Path{Services: append([]string(nil), p...), Score: score})
		}
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		if len(scored[i].Services) != len(scored[j].Services) {
			return len(scored[i].Services) < len(scored[j].Services)
		}
		return strings.Join(scored[i].Services, ",") < strings.Join(scored[j].Services, ",")
	})

	klog.V(2).Infof("criticalpath: %s->%s yielded %d critical path(s) out of %d", sourceID, targetID, len(scored), len(allPaths))
	return scored, nil
}

func (a *Analyzer) resourceCriticality(path []string) float64 {
	var total float64
	for _, id := range path {
		svc, ok := a.graph.Service(id)
		if !ok {
			continue
		}
		nodeID, hasNode := svc.NodeID()
		if !hasNode {
			continue
		}
		n, ok := a.registry.Get(nodeID)
		if !ok {
			continue
		}
		c := n.Capacity()
		total += pressure(svc.BaseRequirements, c) * c.Utilization(resource.CPU)
	}
	return total
}

func pressure(req resource.Requirements, c resource.Capacity) float64 {
	cpuPressure := safeRatio(req.CPU, c.TCPU)
	memPressure := safeRatio(req.Mem, c.TMem)
	bwPressure := safeRatio(req.BW, c.TBW)
	return cpuPressureWeight*cpuPressure + memPressureWeight*memPressure + bwPressureWeight*bwPressure
}

func safeRatio(a, b float64) float64 {
	if b <= 0 {
		return 0
	}
	return a / b
}

func (a *Analyzer) dependencyCriticality(path []string) float64 {
	var total float64
	for _, id := range path {
		deps := a.graph.DependenciesOf(id)
		if len(deps) == 0 {
			continue
		}
		var impact float64
		for _, e := range deps {
			impact += e.Frequency * e.DataVolume
		}
		impactFactor := impact / float64(len(deps))
		total += float64(len(deps)) * impactFactor
	}
	return total
}

// normalizeAll min-max normalizes values to [0,1]; when min==max every
// value normalizes to 0.5 (spec.md §4.2's divide-by-zero defence).
func normalizeAll(values []float64) []float64 {
	if len(values) == 0 {
		return nil
	}
	min, max := values[0], values[0]
	for _, v := range values {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	out := make([]float64, len(values))
	for i, v := range values {
		out[i] = normalize(v, min, max)
	}
	return out
}

func normalize(value, min, max float64) float64 {
	if max == min {
		return 0.5
	}
	return (value - min) / (max - min)
}

func sq(v float64) float64 { return v * v }
