package aggregator

import "github.com/flowmesh/orchestrator-core/pkg/params"

// NodeState is the latest monitoring-derived observation for one node,
// refreshed by the caller before each local update round. Grounded on
// original_source/FederatedLearningEngine.java's NodeState inner class
// (resourceState/pathCriticality/latencyStats), flattened to the scalars
// the local gradient step and fail-rate EMA actually consume.
type NodeState struct {
	AvgUtilization float64
	ChainLatencyMs float64
	ChainVariance  float64
	CompletionRate float64

	failRate float64
}

func newNodeState() *NodeState {
	return &NodeState{failRate: 0.05}
}

// observeFailures folds one round's (failed, total) request counts into
// the fail-rate EMA: 0.9 on the prior, 0.1 on the new sample.
func (s *NodeState) observeFailures(failed, total int) {
	if total <= 0 {
		return
	}
	s.failRate = 0.9*s.failRate + 0.1*(float64(failed)/float64(total))
}

// FailRate returns the current smoothed failure rate.
func (s *NodeState) FailRate() float64 { return s.failRate }

// NodeModel is a node's local parameter mirror: the parameters its
// gradient step has touched plus, once absorbGlobal has run, every named
// parameter of the global vector; a sample count; and a quality score.
// Sibling to NodeState and to the aggregator's global params.Vector per
// design note 9 ("nested collaborator classes... treat them as siblings").
type NodeModel struct {
	parameters   map[string]float64
	sampleCount  int
	qualityScore float64
}

func newNodeModel() *NodeModel {
	return &NodeModel{
		parameters:   make(map[string]float64),
		qualityScore: 0.8,
	}
}

// gradients computes the five heuristic gradients spec.md §4.5 names.
// utilizationThreshold and adaptationFactor have none, so a node model only
// carries them as copies absorbed from the global vector, and aggregation
// reproduces their current global values.
func gradients(state *NodeState) map[string]float64 {
	return map[string]float64{
		"temporalWeight":        state.ChainLatencyMs / 100.0,
		"resourceWeight":        (state.AvgUtilization - 0.7) * 0.5,
		"dependencyWeight":      0.1,
		"criticalPathThreshold": (0.95 - state.CompletionRate) * 0.2,
		"resourceScalingFactor": (0.7 - state.AvgUtilization) * 0.3,
	}
}

// localUpdate performs one gradient-descent step over the five tracked
// parameters, increments the sample count, and smooths the quality score
// toward the latest completion rate (0.3 weight).
func (m *NodeModel) localUpdate(state *NodeState, learningRate float64) {
	for name, grad := range gradients(state) {
		m.parameters[name] = m.parameters[name] - learningRate*grad
	}
	m.sampleCount++
	m.qualityScore = 0.7*m.qualityScore + 0.3*state.CompletionRate
}

// absorbGlobal blends the global vector into this node's local mirror,
// 0.8 global / 0.2 local (spec.md §4.5 Distribution), for every parameter
// the global vector carries.
func (m *NodeModel) absorbGlobal(global params.Vector, blendRatio float64) {
	for _, name := range params.Names {
		globalValue, _ := global.Get(name)
		localValue, ok := m.parameters[name]
		if !ok {
			localValue = globalValue
		}
		m.parameters[name] = (1-blendRatio)*globalValue + blendRatio*localValue
	}
}
