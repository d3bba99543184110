package deploy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/flowmesh/orchestrator-core/internal/config"
	"github.com/flowmesh/orchestrator-core/pkg/aggregator"
	"github.com/flowmesh/orchestrator-core/pkg/graph"
	"github.com/flowmesh/orchestrator-core/pkg/monitor"
	"github.com/flowmesh/orchestrator-core/pkg/node"
	"github.com/flowmesh/orchestrator-core/pkg/params"
	"github.com/flowmesh/orchestrator-core/pkg/probe"
	"github.com/flowmesh/orchestrator-core/pkg/resource"
)

// TestCapacityExhaustionExactlyOnePlaced mirrors spec.md §8 Scenario 2:
// three identical services against one edge node that can only fit one of
// them; the other two must be reported unplaced, and availables must never
// go negative.
func TestCapacityExhaustionExactlyOnePlaced(t *testing.T) {
	g := graph.New()
	req := resource.Requirements{CPU: 3, Mem: 4000, BW: 40}
	for _, id := range []string{"s1", "s2", "s3"} {
		g.AddService(graph.NewService(id, req, 10))
	}

	reg := node.NewRegistry()
	reg.Add(node.New("edge-1", true, node.EdgeCapacity()))

	d := New(g, reg)
	placement, err := d.ExecuteDeployment(context.Background(), params.Default())
	require.NoError(t, err)
	require.Len(t, placement, 1)
	require.Len(t, d.Unplaced(), 2)

	n, _ := reg.Get("edge-1")
	c := n.Capacity()
	require.GreaterOrEqual(t, c.ACPU, 0.0)
	require.GreaterOrEqual(t, c.AMem, 0.0)
	require.GreaterOrEqual(t, c.ABW, 0.0)
}

// TestMigrationThreshold mirrors spec.md §8 Scenario 5: a communication-cost
// delta that puts the candidate node at 85% of current cost must NOT
// migrate (0.85 > 0.8 threshold), while one at 79% must.
func TestMigrationThreshold(t *testing.T) {
	g := graph.New()
	huge := resource.Requirements{CPU: 0.001, Mem: 0.001, BW: 0.001}
	s := graph.NewService("s", huge, 1)
	sink := graph.NewService("sink", huge, 1)
	g.AddService(s)
	g.AddService(sink)
	require.NoError(t, g.AddDependency("s", "sink", 1, 1))

	hugeCapacity := resource.NewCapacity(1e6, 1e6, 1e6)
	// node-sink's capacity exactly matches "sink"'s requirement, leaving zero
	// available — it must not be a viable migration candidate for "s".
	reg := node.NewRegistry()
	nodeA := node.New("node-a", false, hugeCapacity)
	nodeB := node.New("node-b", false, hugeCapacity)
	nodeSink := node.New("node-sink", false, resource.NewCapacity(0.001, 0.001, 0.001))
	reg.Add(nodeA)
	reg.Add(nodeB)
	reg.Add(nodeSink)

	require.True(t, nodeSink.Allocate("sink", huge))
	sink.SetNodeID("node-sink", true)
	require.True(t, nodeA.Allocate("s", huge))
	s.SetNodeID("node-a", true)

	nodeA.SetNetworkDelay("node-sink", 200) // comm = 200*1*1 = 200 -> cost = 100
	nodeB.SetNetworkDelay("node-sink", 170) // comm = 170 -> cost = 85, no migrate

	d := New(g, reg)
	d.placement["sink"] = "node-sink"
	d.placement["s"] = "node-a"

	migrated := d.attemptMigration("s")
	require.False(t, migrated, "cost ratio 0.85 must not trigger migration")
	require.Equal(t, "node-a", d.placement["s"])

	nodeB.SetNetworkDelay("node-sink", 158) // comm = 158 -> cost = 79, migrate
	migrated = d.attemptMigration("s")
	require.True(t, migrated, "cost ratio 0.79 must trigger migration")
	require.Equal(t, "node-b", d.placement["s"])
}

// TestRelocateIsAtomicOnFailedDestinationAllocate ensures a failed
// destination allocation leaves the source placement untouched (Open
// Question 9b).
func TestRelocateIsAtomicOnFailedDestinationAllocate(t *testing.T) {
	g := graph.New()
	req := resource.Requirements{CPU: 3, Mem: 3000, BW: 30}
	s := graph.NewService("s", req, 10)
	g.AddService(s)

	reg := node.NewRegistry()
	from := node.New("from", false, node.EdgeCapacity())
	to := node.New("to", false, resource.NewCapacity(1, 100, 10)) // too small
	reg.Add(from)
	reg.Add(to)

	require.True(t, from.Allocate("s", req))
	s.SetNodeID("from", true)

	d := New(g, reg)
	d.placement["s"] = "from"

	ok := d.relocate(s, "from", "to")
	require.False(t, ok)
	require.True(t, from.Hosts("s"))
	require.False(t, to.Hosts("s"))
	require.Equal(t, "from", d.placement["s"])
}

// TestSelectBestNodePrefersLowerResourcePressureWhenUtilizationTied checks
// the resource-pressure product term favors the node with larger total
// capacity when no prior allocation has skewed load balance (spec.md §8
// Scenario 1's first placement).
func TestSelectBestNodePrefersLowerResourcePressureWhenUtilizationTied(t *testing.T) {
	g := graph.New()
	a := graph.NewService("A", resource.Requirements{CPU: 0.8, Mem: 800, BW: 15}, 10)
	g.AddService(a)

	reg := node.NewRegistry()
	edge := node.New("edge-1", true, node.EdgeCapacity())
	cloud := node.New("cloud-1", false, node.CloudCapacity())
	reg.Add(edge)
	reg.Add(cloud)

	d := New(g, reg)
	best, ok := d.selectBestNode(a)
	require.True(t, ok)
	require.Equal(t, "cloud-1", best)
}

// TestExecuteDeploymentPlacesEveryService is a smoke test over the full
// four-phase pipeline with no aggregator configured (Phase D degenerates to
// a single migration-check pass).
func TestExecuteDeploymentPlacesEveryService(t *testing.T) {
	g := graph.New()
	a := graph.NewService("A", resource.Requirements{CPU: 0.8, Mem: 800, BW: 15}, 10)
	b := graph.NewService("B", resource.Requirements{CPU: 0.3, Mem: 1500, BW: 40}, 15)
	g.AddService(a)
	g.AddService(b)
	require.NoError(t, g.AddDependency("A", "B", 50, 0.8))

	reg := node.NewRegistry()
	edge := node.New("edge-1", true, node.EdgeCapacity())
	cloud := node.New("cloud-1", false, node.CloudCapacity())
	edge.SetNetworkDelay("cloud-1", 30)
	cloud.SetNetworkDelay("edge-1", 30)
	reg.Add(edge)
	reg.Add(cloud)

	d := New(g, reg)
	placement, err := d.ExecuteDeployment(context.Background(), params.Default())
	require.NoError(t, err)
	require.Len(t, placement, 2)
	require.Contains(t, placement, "A")
	require.Contains(t, placement, "B")
	require.Empty(t, d.Unplaced())
}

// TestCriticalPathsExportsOrderedServiceIDsBySourceSinkKey checks
// CriticalPaths returns the same path getCriticalPaths's consumer-facing
// chain-id -> ordered-service-ids contract names, keyed identically to
// computeCriticalPaths's internal "source-sink" form.
func TestCriticalPathsExportsOrderedServiceIDsBySourceSinkKey(t *testing.T) {
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

	d := New(g, reg)
	d.analyzer.SetThreshold(0) // force qualification for this single-path test

	paths, err := d.CriticalPaths()
	require.NoError(t, err)
	require.Equal(t, []string{"A", "B"}, paths["A-B"])
}

// TestExecuteDeploymentWithRealMonitorAndAggregator wires a real
// pkg/monitor.Monitor as the InterferenceSource and a real
// pkg/aggregator.Aggregator as the ParameterAggregator, confirming both
// interfaces are structurally satisfied end to end and Phase D's
// refinement loop runs against live collaborators rather than stubs.
func TestExecuteDeploymentWithRealMonitorAndAggregator(t *testing.T) {
	g := graph.New()
	a := graph.NewService("A", resource.Requirements{CPU: 0.8, Mem: 800, BW: 15}, 10)
	b := graph.NewService("B", resource.Requirements{CPU: 0.3, Mem: 1500, BW: 40}, 15)
	g.AddService(a)
	g.AddService(b)
	require.NoError(t, g.AddDependency("A", "B", 50, 0.8))

	reg := node.NewRegistry()
	edge := node.New("edge-1", true, node.EdgeCapacity())
	cloud := node.New("cloud-1", false, node.CloudCapacity())
	edge.SetNetworkDelay("cloud-1", 30)
	cloud.SetNetworkDelay("edge-1", 30)
	reg.Add(edge)
	reg.Add(cloud)

	mon := monitor.New(g, reg, probe.NewSyntheticGenerator(1), nil)
	agg := aggregator.New(reg, config.Default())
	agg.RegisterNode("edge-1")
	agg.RegisterNode("cloud-1")

	d := New(g, reg)
	d.SetInterferenceSource(mon)
	d.SetAggregator(agg)

	placement, err := d.ExecuteDeployment(context.Background(), params.Default())
	require.NoError(t, err)
	require.Len(t, placement, 2)
	require.Empty(t, d.Unplaced())
}
