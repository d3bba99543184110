// Package node models the node registry (C3): the set of edge/cloud nodes,
// their resource capacities, pairwise network delays, and the services each
// currently hosts.
package node

import (
	"sync"

	"k8s.io/klog/v2"

	"github.com/flowmesh/orchestrator-core/pkg/resource"
)

// DefaultNetworkDelayMs is used when no explicit delay has been recorded
// between two nodes (spec.md §3).
const DefaultNetworkDelayMs = 100.0

// EdgeCapacity and CloudCapacity return the default per-kind capacities
// from spec.md §3.
func EdgeCapacity() resource.Capacity  { return resource.NewCapacity(4, 8000, 100) }
func CloudCapacity() resource.Capacity { return resource.NewCapacity(16, 32000, 1000) }

// Node is a single compute node: identity, edge/cloud flag, one resource
// capacity, pairwise network delays, and the set of services it hosts.
type Node struct {
	mu sync.Mutex

	ID       string
	IsEdge   bool
	capacity resource.Capacity
	delays   map[string]float64
	hosted   map[string]bool
}

// New constructs a Node with the given capacity. Callers typically start
// from EdgeCapacity() or CloudCapacity().
func New(id string, isEdge bool, capacity resource.Capacity) *Node {
	return &Node{
		ID:       id,
		IsEdge:   isEdge,
		capacity: capacity,
		delays:   make(map[string]float64),
		hosted:   make(map[string]bool),
	}
}

// Capacity returns a snapshot of the node's current capacity.
func (n *Node) Capacity() resource.Capacity {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.capacity
}

// Capability summarizes the node's raw capacity as a single scalar, per
// spec.md §4.5: 0.5·(Tcpu/10) + 0.3·(Tmem/8000) + 0.2·(Tbw/1000).
func (n *Node) Capability() float64 {
	c := n.Capacity()
	return 0.5*(c.TCPU/10) + 0.3*(c.TMem/8000) + 0.2*(c.TBW/1000)
}

// SetNetworkDelay records the one-way delay in ms to targetNodeID.
// Network delays are read-mostly; writes are rare and admin-initiated
// (spec.md §5).
func (n *Node) SetNetworkDelay(targetNodeID string, delayMs float64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.delays[targetNodeID] = delayMs
}

// NetworkDelay returns the one-way delay to targetNodeID, defaulting to
// DefaultNetworkDelayMs when unset.
func (n *Node) NetworkDelay(targetNodeID string) float64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	if d, ok := n.delays[targetNodeID]; ok {
		return d
	}
	return DefaultNetworkDelayMs
}

// Allocate attempts to reserve r's resources on n and, on success, records
// serviceID as hosted. Capacity allocate/release are serialized per node
// via n.mu (spec.md §5) — never a global lock.
func (n *Node) Allocate(serviceID string, r resource.Requirements) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	updated, ok := n.capacity.Allocate(r)
	if !ok {
		return false
	}
	n.capacity = updated
	n.hosted[serviceID] = true
	return true
}

// Release returns r's resources to n and stops hosting serviceID.
func (n *Node) Release(serviceID string, r resource.Requirements) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.capacity = n.capacity.Release(r)
	delete(n.hosted, serviceID)
}

// Hosts reports whether serviceID currently runs on n.
func (n *Node) Hosts(serviceID string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.hosted[serviceID]
}

// HostedServices returns the ids of every service currently hosted on n.
func (n *Node) HostedServices() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.hosted))
	for id := range n.hosted {
		out = append(out, id)
	}
	return out
}

// Registry is the set of known nodes, keyed by id. Concurrent access uses
// sync.Map following the teacher's per-table-map discipline
// (pkg/aggregator/server.go's nodeInfo4Agent/nodeInfo4Sched pattern).
type Registry struct {
	nodes sync.Map // string -> *Node
}

// NewRegistry returns an empty node registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Add registers n, replacing any existing node with the same id.
func (r *Registry) Add(n *Node) {
	r.nodes.Store(n.ID, n)
	klog.V(2).Infof("node registry: added %s (edge=%v)", n.ID, n.IsEdge)
}

// Get looks up a node by id.
func (r *Registry) Get(id string) (*Node, bool) {
	v, ok := r.nodes.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*Node), true
}

// All returns every registered node, in no particular order.
func (r *Registry) All() []*Node {
	var out []*Node
	r.nodes.Range(func(_, v interface{}) bool {
		out = append(out, v.(*Node))
		return true
	})
	return out
}
