package graph

import (
	"math"
	"sync"

	"github.com/flowmesh/orchestrator-core/pkg/resource"
)

// Service is a single microservice vertex of the dependency graph. Identity
// is a stable string id; assignment to a node is mutated only by the
// Deployer. The service owns no pointer to its node — ownership is an
// explicit placement map, per design note 9 ("Shared graph + placement").
type Service struct {
	mu sync.RWMutex

	ID               string
	BaseRequirements resource.Requirements
	ExecutionTimeMs  float64
	nodeID           string
	hasNode          bool
	utilization      map[resource.Kind]float64

	RequestRate     float64
	FailedRequests  int64
	TotalRequests   int64
}

// NewService constructs a Service with zeroed utilization and no node
// assignment.
func NewService(id string, req resource.Requirements, executionTimeMs float64) *Service {
	return &Service{
		ID:               id,
		BaseRequirements: req,
		ExecutionTimeMs:  executionTimeMs,
		utilization: map[resource.Kind]float64{
			resource.CPU:       0,
			resource.Memory:    0,
			resource.Bandwidth: 0,
		},
	}
}

// ServiceRate returns µ = 1/execution_time.
func (s *Service) ServiceRate() float64 {
	if s.ExecutionTimeMs <= 0 {
		return 0
	}
	return 1.0 / s.ExecutionTimeMs
}

// NodeID returns the assigned node id and whether one is assigned.
func (s *Service) NodeID() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nodeID, s.hasNode
}

// SetNodeID assigns (or, with ok=false, clears) the node id. Called only by
// the Deployer.
func (s *Service) SetNodeID(nodeID string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodeID = nodeID
	s.hasNode = ok
}

// Utilization returns the current tracked utilization for k, in [0,1].
func (s *Service) Utilization(k resource.Kind) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.utilization[k]
}

// SetUtilization records a fresh utilization sample for k.
func (s *Service) SetUtilization(k resource.Kind, v float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.utilization[k] = v
}

// DynamicRequirements adjusts BaseRequirements for current workload,
// following original_source/Microservice.java's Equation 17/18: workload
// dynamics scale cpu+mem+bw by load relative to the service rate, and a
// utilization impact factor scales cpu+mem superlinearly once CPU
// utilization passes uth. resourceScalingFactor is the Global Parameter
// Vector's resourceScalingFactor (spec.md §3's eta-equivalent knob); the
// Deployer's resourceCost feeds it svc's current weights snapshot so Phase
// D's weight evolution changes placement cost, not just critical-path
// scoring.
func (s *Service) DynamicRequirements(requestRate, uth, resourceScalingFactor float64) resource.Requirements {
	const beta = 2.0

	mu := s.ServiceRate()
	loadFactor := 1.0
	if mu > 0 {
		loadFactor = 1 + resourceScalingFactor*(requestRate/mu-1)
	}

	cpuUtil := s.Utilization(resource.CPU)
	utilFactor := 1.0
	if cpuUtil > uth {
		utilFactor = math.Exp(beta * (cpuUtil - uth))
	}

	return resource.Requirements{
		CPU: s.BaseRequirements.CPU * loadFactor * utilFactor,
		Mem: s.BaseRequirements.Mem * loadFactor * utilFactor,
		BW:  s.BaseRequirements.BW * loadFactor,
	}
}
