// Package graph models the service dependency DAG: vertices are
// microservices, edges carry data volume and invocation frequency. The
// graph guarantees acyclicity by contract (AddDependency rejects edges that
// would close a cycle) and enumerates simple paths deterministically by
// edge-insertion order.
package graph

import (
	"sort"

	"k8s.io/klog/v2"
)

const (
	// LocalCostDivisor and RemoteCostDivisor are the two communication-cost
	// constants from spec.md §4.1 — local transfer is one order of
	// magnitude faster than remote.
	LocalCostDivisor  = 1000.0
	RemoteCostDivisor = 100.0
)

// Edge is a weighted dependency from Source to Target.
type Edge struct {
	Source     string
	Target     string
	DataVolume float64
	Frequency  float64
}

// Graph is a DAG of Services connected by Edges.
type Graph struct {
	services map[string]*Service
	// insertOrder preserves the order services were added in, which the
	// Deployer's residual-placement phase relies on for determinism.
	insertOrder []string
	// adjacency preserves edge-insertion order per source, which is the
	// contract getAllPaths relies on for deterministic emission order.
	adjacency map[string][]Edge
}

// New returns an empty dependency graph.
func New() *Graph {
	return &Graph{
		services:  make(map[string]*Service),
		adjacency: make(map[string][]Edge),
	}
}

// AddService registers s in the graph. Re-adding the same id replaces it
// without changing its position in insertion order.
func (g *Graph) AddService(s *Service) {
	if _, exists := g.services[s.ID]; !exists {
		g.insertOrder = append(g.insertOrder, s.ID)
	}
	g.services[s.ID] = s
	if _, ok := g.adjacency[s.ID]; !ok {
		g.adjacency[s.ID] = nil
	}
}

// ServicesInInsertionOrder returns every registered service in the order
// AddService was called, used by callers that need determinism (the
// Deployer's Phase C residual placement, per spec.md §4.3).
func (g *Graph) ServicesInInsertionOrder() []*Service {
	out := make([]*Service, 0, len(g.insertOrder))
	for _, id := range g.insertOrder {
		if s, ok := g.services[id]; ok {
			out = append(out, s)
		}
	}
	return out
}

// Service looks up a registered service by id.
func (g *Graph) Service(id string) (*Service, bool) {
	s, ok := g.services[id]
	return s, ok
}

// AllServices returns every registered service, in no particular order.
func (g *Graph) AllServices() []*Service {
	out := make([]*Service, 0, len(g.services))
	for _, s := range g.services {
		out = append(out, s)
	}
	return out
}

// AddDependency adds a directed edge sourceID -> targetID. Both endpoints
// must already be registered services, and the edge must not introduce a
// cycle — the graph is acyclic by contract (spec.md §4.1).
func (g *Graph) AddDependency(sourceID, targetID string, dataVolume, frequency float64) error {
	if _, ok := g.services[sourceID]; !ok {
		return notFound("unknown source service %q", sourceID)
	}
	if _, ok := g.services[targetID]; !ok {
		return notFound("unknown target service %q", targetID)
	}
	if g.reaches(targetID, sourceID) {
		return invariant("edge %s->%s would introduce a cycle", sourceID, targetID)
	}
	g.adjacency[sourceID] = append(g.adjacency[sourceID], Edge{
		Source: sourceID, Target: targetID, DataVolume: dataVolume, Frequency: frequency,
	})
	klog.V(4).Infof("graph: added dependency %s->%s (data=%.2f freq=%.2f)", sourceID, targetID, dataVolume, frequency)
	return nil
}

// reaches reports whether there is a path from -> to in the current graph,
// used to reject edges that would close a cycle before they are inserted.
func (g *Graph) reaches(from, to string) bool {
	if from == to {
		return true
	}
	visited := map[string]bool{from: true}
	stack := []string{from}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, e := range g.adjacency[n] {
			if e.Target == to {
				return true
			}
			if !visited[e.Target] {
				visited[e.Target] = true
				stack = append(stack, e.Target)
			}
		}
	}
	return false
}

// DependenciesOf returns the outgoing edges of id, in insertion order.
func (g *Graph) DependenciesOf(id string) []Edge {
	return g.adjacency[id]
}

// Sources returns every service with zero in-degree, sorted by id for
// deterministic iteration.
func (g *Graph) Sources() []string {
	inDegree := g.inDegrees()
	var out []string
	for id := range g.services {
		if inDegree[id] == 0 {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// Sinks returns every service with zero out-degree, sorted by id.
func (g *Graph) Sinks() []string {
	var out []string
	for id := range g.services {
		if len(g.adjacency[id]) == 0 {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

func (g *Graph) inDegrees() map[string]int {
	d := make(map[string]int, len(g.services))
	for id := range g.services {
		d[id] = 0
	}
	for _, edges := range g.adjacency {
		for _, e := range edges {
			d[e.Target]++
		}
	}
	return d
}

// GetAllPaths enumerates every simple path from sourceID to targetID by
// depth-first traversal guarded by a visited-on-stack set. Emission order
// is deterministic and dictated by edge-insertion order (spec.md §4.1).
func (g *Graph) GetAllPaths(sourceID, targetID string) ([][]string, error) {
	if _, ok := g.services[sourceID]; !ok {
		return nil, notFound("unknown source service %q", sourceID)
	}
	if _, ok := g.services[targetID]; !ok {
		return nil, notFound("unknown target service %q", targetID)
	}

	var paths [][]string
	visited := map[string]bool{}
	current := []string{sourceID}
	g.dfsPaths(sourceID, targetID, visited, current, &paths)
	return paths, nil
}

func (g *Graph) dfsPaths(currentID, targetID string, visited map[string]bool, current []string, paths *[][]string) {
	if currentID == targetID {
		*paths = append(*paths, append([]string(nil), current...))
		return
	}
	visited[currentID] = true
	for _, e := range g.adjacency[currentID] {
		if visited[e.Target] {
			continue
		}
		current = append(current, e.Target)
		g.dfsPaths(e.Target, targetID, visited, current, paths)
		current = current[:len(current)-1]
	}
	visited[currentID] = false
}

// FindEdge returns the edge sourceID->targetID, if one exists.
func (g *Graph) FindEdge(sourceID, targetID string) (Edge, bool) {
	for _, e := range g.adjacency[sourceID] {
		if e.Target == targetID {
			return e, true
		}
	}
	return Edge{}, false
}

// SequentialLatency computes Σ execution_time(s) + Σ communicationTime(edge)
// for consecutive services on path, per spec.md §4.1.
func (g *Graph) SequentialLatency(path []string) float64 {
	var total float64
	for _, id := range path {
		if s, ok := g.services[id]; ok {
			total += s.ExecutionTimeMs
		}
	}
	for i := 0; i < len(path)-1; i++ {
		if e, ok := g.FindEdge(path[i], path[i+1]); ok {
			total += g.communicationTime(e)
		}
	}
	return total
}

func (g *Graph) communicationTime(e Edge) float64 {
	src, srcOK := g.services[e.Source]
	dst, dstOK := g.services[e.Target]
	if srcOK && dstOK {
		srcNode, srcHas := src.NodeID()
		dstNode, dstHas := dst.NodeID()
		if srcHas && dstHas && srcNode == dstNode {
			return e.DataVolume / LocalCostDivisor
		}
	}
	return e.DataVolume / RemoteCostDivisor
}
