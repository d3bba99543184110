package graph

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/flowmesh/orchestrator-core/pkg/resource"
)

func twoServiceGraph(t *testing.T) *Graph {
	g := New()
	a := NewService("A", resource.Requirements{CPU: 0.8, Mem: 800, BW: 15}, 10)
	b := NewService("B", resource.Requirements{CPU: 0.3, Mem: 1500, BW: 40}, 15)
	g.AddService(a)
	g.AddService(b)
	require.NoError(t, g.AddDependency("A", "B", 50, 0.8))
	return g
}

func TestGetAllPathsLinearChain(t *testing.T) {
	g := twoServiceGraph(t)
	paths, err := g.GetAllPaths("A", "B")
	require.NoError(t, err)
	require.Equal(t, [][]string{{"A", "B"}}, paths)
}

func TestSequentialLatencyRemote(t *testing.T) {
	g := twoServiceGraph(t)
	paths, err := g.GetAllPaths("A", "B")
	require.NoError(t, err)
	lat := g.SequentialLatency(paths[0])
	require.InDelta(t, 25.5, lat, 1e-9) // 10+15+50/100
}

func TestSequentialLatencyLocalWhenColocated(t *testing.T) {
	g := twoServiceGraph(t)
	a, _ := g.Service("A")
	b, _ := g.Service("B")
	a.SetNodeID("n1", true)
	b.SetNodeID("n1", true)

	lat := g.SequentialLatency([]string{"A", "B"})
	require.InDelta(t, 25.05, lat, 1e-9) // 10+15+50/1000
}

func TestAddDependencyRejectsUnknownEndpoints(t *testing.T) {
	g := New()
	g.AddService(NewService("A", resource.Requirements{}, 1))
	err := g.AddDependency("A", "missing", 1, 1)
	require.Error(t, err)
	require.True(t, IsNotFound(err))
}

func TestAddDependencyRejectsCycle(t *testing.T) {
	g := New()
	g.AddService(NewService("A", resource.Requirements{}, 1))
	g.AddService(NewService("B", resource.Requirements{}, 1))
	require.NoError(t, g.AddDependency("A", "B", 1, 1))

	err := g.AddDependency("B", "A", 1, 1)
	require.Error(t, err)
	e, ok := err.(*Error)
	require.True(t, ok)
	require.Equal(t, InvariantViolation, e.Kind)
}

func TestSourcesAndSinks(t *testing.T) {
	g := New()
	g.AddService(NewService("A", resource.Requirements{}, 1))
	g.AddService(NewService("B", resource.Requirements{}, 1))
	g.AddService(NewService("C", resource.Requirements{}, 1))
	require.NoError(t, g.AddDependency("A", "B", 1, 1))
	require.NoError(t, g.AddDependency("B", "C", 1, 1))

	require.Equal(t, []string{"A"}, g.Sources())
	require.Equal(t, []string{"C"}, g.Sinks())
}

func TestDFSPathsMultiplePaths(t *testing.T) {
	g := New()
	for _, id := range []string{"A", "B", "C", "D"} {
		g.AddService(NewService(id, resource.Requirements{}, 1))
	}
	require.NoError(t, g.AddDependency("A", "B", 1, 1))
	require.NoError(t, g.AddDependency("A", "C", 1, 1))
	require.NoError(t, g.AddDependency("B", "D", 1, 1))
	require.NoError(t, g.AddDependency("C", "D", 1, 1))

	paths, err := g.GetAllPaths("A", "D")
	require.NoError(t, err)
	require.Equal(t, [][]string{{"A", "B", "D"}, {"A", "C", "D"}}, paths)
}
