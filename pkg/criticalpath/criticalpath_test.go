package criticalpath

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/flowmesh/orchestrator-core/pkg/graph"
	"github.com/flowmesh/orchestrator-core/pkg/node"
	"github.com/flowmesh/orchestrator-core/pkg/resource"
)

func TestIdentifyCriticalPathsLinearChain(t *testing.T) {
	g := graph.New()
	a := graph.NewService("A", resource.Requirements{CPU: 0.8, Mem: 800, BW: 15}, 10)
	b := graph.NewService("B", resource.Requirements{CPU: 0.3, Mem: 1500, BW: 40}, 15)
	g.AddService(a)
	g.AddService(b)
	require.NoError(t, g.AddDependency("A", "B", 50, 0.8))

	reg := node.NewRegistry()
	cloud := node.New("cloud-1", false, node.CloudCapacity())
	reg.Add(cloud)
	require.True(t, cloud.Allocate("A", a.BaseRequirements))
	require.True(t, cloud.Allocate("B", b.BaseRequirements))
	a.SetNodeID("cloud-1", true)
	b.SetNodeID("cloud-1", true)

	analyzer := New(g, reg)
	analyzer.SetThreshold(0) // force everything "critical" for this single-path test
	paths, err := analyzer.IdentifyCriticalPaths("A", "B")
	require.NoError(t, err)
	require.Len(t, paths, 1)
	require.Equal(t, []string{"A", "B"}, paths[0].Services)
}

// TestUpdateWeightsZScoreRenormalization mirrors spec.md §8 Scenario 3's
// input (0.8, 0.1, 0.1). A length-3 z-score renormalization's three
// z-scores always sum to exactly 0 by construction (Σ(x_i-mean) = 0), so
// Open Question 9(c)'s "|sum| ≤ 1e-6" guard always fires once the inputs
// have nonzero stdev — the za/zb/zg-weighted branch is unreachable, and
// UpdateWeights always snaps to defaults. Scenario 3's "temporal weight
// increases, resource/dependency weight decrease" narrative is therefore
// not reachable given 9(c) as specified; this asserts the reachable
// outcome instead.
func TestUpdateWeightsZScoreRenormalization(t *testing.T) {
	g := graph.New()
	reg := node.NewRegistry()
	a := New(g, reg)

	a.UpdateWeights(0.8, 0.1, 0.1)
	w := a.Weights()
	require.InDelta(t, 0.40, w.TemporalWeight, 1e-9)
	require.InDelta(t, 0.35, w.ResourceWeight, 1e-9)
	require.InDelta(t, 0.25, w.DependencyWeight, 1e-9)
}

func TestUpdateWeightsFixedPointAtDefaults(t *testing.T) {
	g := graph.New()
	reg := node.NewRegistry()
	a := New(g, reg)

	a.UpdateWeights(0.40, 0.35, 0.25)
	w := a.Weights()
	require.InDelta(t, 0.40, w.TemporalWeight, 1e-9)
	require.InDelta(t, 0.35, w.ResourceWeight, 1e-9)
	require.InDelta(t, 0.25, w.DependencyWeight, 1e-9)
}

func TestUpdateWeightsSnapsToDefaultsWhenUniform(t *testing.T) {
	g := graph.New()
	reg := node.NewRegistry()
	a := New(g, reg)

	a.UpdateWeights(0.33, 0.33, 0.33)
	w := a.Weights()
	require.InDelta(t, 0.40, w.TemporalWeight, 1e-9)
	require.InDelta(t, 0.35, w.ResourceWeight, 1e-9)
	require.InDelta(t, 0.25, w.DependencyWeight, 1e-9)
}

func TestNormalizeAllMinMaxEqual(t *testing.T) {
	out := normalizeAll([]float64{5, 5, 5})
	require.Equal(t, []float64{0.5, 0.5, 0.5}, out)
}
