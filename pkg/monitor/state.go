package monitor

import (
	"sync"

	"github.com/flowmesh/orchestrator-core/pkg/resource"
)

// ServiceMetrics is the point-in-time snapshot of a service's tracked
// metrics, used both in the 1 Hz aggregate snapshot and in per-entity
// history queries.
type ServiceMetrics struct {
	ServiceID             string
	CPUUtilization        float64
	MemoryUtilization     float64
	BandwidthUtilization  float64
	ProcessingLatencyMs   float64
	QueueLength           float64
	RequestRate           float64
	LatencyVariance       float64
}

// ServiceState is the adaptively sampled state of one microservice.
type ServiceState struct {
	mu sync.RWMutex

	serviceID   string
	utilization map[resource.Kind]float64
	latency     *window
	queueLength float64
	requestRate float64
}

func newServiceState(id string) *ServiceState {
	return &ServiceState{
		serviceID:   id,
		utilization: make(map[resource.Kind]float64, 3),
		latency:     newWindow(DefaultWindowSize),
	}
}

func (s *ServiceState) update(cpu, mem, bw, latencyMs, queueLength, requestRate float64) {
	s.mu.Lock()
	s.utilization[resource.CPU] = cpu
	s.utilization[resource.Memory] = mem
	s.utilization[resource.Bandwidth] = bw
	s.queueLength = queueLength
	s.requestRate = requestRate
	s.mu.Unlock()
	s.latency.Add(latencyMs)
}

func (s *ServiceState) snapshot() ServiceMetrics {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return ServiceMetrics{
		ServiceID:            s.serviceID,
		CPUUtilization:       s.utilization[resource.CPU],
		MemoryUtilization:    s.utilization[resource.Memory],
		BandwidthUtilization: s.utilization[resource.Bandwidth],
		ProcessingLatencyMs:  s.latency.Latest(),
		QueueLength:          s.queueLength,
		RequestRate:          s.requestRate,
		LatencyVariance:      s.latency.NormalizedVariance(),
	}
}

func (s *ServiceState) utilizationTriple() [3]float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return [3]float64{s.utilization[resource.CPU], s.utilization[resource.Memory], s.utilization[resource.Bandwidth]}
}

// NodeMetrics is the point-in-time snapshot of a node's tracked metrics.
type NodeMetrics struct {
	NodeID               string
	CPUUtilization       float64
	MemoryUtilization    float64
	BandwidthUtilization float64
	NetworkLatencyMs     float64
	ServiceDensity       int
}

// NodeState is the adaptively sampled state of one node.
type NodeState struct {
	mu sync.RWMutex

	nodeID         string
	cpu            *window
	utilization    map[resource.Kind]float64
	networkLatency float64
	serviceDensity int
}

func newNodeState(id string) *NodeState {
	return &NodeState{
		nodeID:      id,
		cpu:         newWindow(DefaultWindowSize),
		utilization: make(map[resource.Kind]float64, 3),
	}
}

func (n *NodeState) update(cpu, mem, bw, networkLatencyMs float64, serviceDensity int) {
	n.mu.Lock()
	n.utilization[resource.CPU] = cpu
	n.utilization[resource.Memory] = mem
	n.utilization[resource.Bandwidth] = bw
	n.networkLatency = networkLatencyMs
	n.serviceDensity = serviceDensity
	n.mu.Unlock()
	n.cpu.Add(cpu)
}

func (n *NodeState) snapshot() NodeMetrics {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return NodeMetrics{
		NodeID:               n.nodeID,
		CPUUtilization:       n.utilization[resource.CPU],
		MemoryUtilization:    n.utilization[resource.Memory],
		BandwidthUtilization: n.utilization[resource.Bandwidth],
		NetworkLatencyMs:     n.networkLatency,
		ServiceDensity:       n.serviceDensity,
	}
}

// ChainMetrics is the point-in-time snapshot of a chain's tracked metrics.
type ChainMetrics struct {
	ChainID                 string
	EndToEndLatencyMs       float64
	MaxServiceLatencyMs     float64
	MinServiceLatencyMs     float64
	CommunicationLatency    float64
	CompletionRate          float64
	LatencyVariance         float64
	ObservedCompletionRate  float64
}

// ChainState is the adaptively sampled state of one service chain (a
// source-to-sink path the caller has designated for end-to-end tracking).
type ChainState struct {
	mu sync.RWMutex

	chainID        string
	serviceIDs     []string
	latency        *window
	endToEnd       float64
	maxLatency     float64
	minLatency     float64
	commLatency    float64
	completionRate float64
	completionEMA  float64
	completionSeen bool
}

func newChainState(id string, serviceIDs []string) *ChainState {
	return &ChainState{
		chainID:    id,
		serviceIDs: append([]string(nil), serviceIDs...),
		latency:    newWindow(DefaultWindowSize),
	}
}

func (c *ChainState) update(endToEnd, maxLatency, minLatency, commLatency, completionRate float64) {
	c.mu.Lock()
	c.endToEnd = endToEnd
	c.maxLatency = maxLatency
	c.minLatency = minLatency
	c.commLatency = commLatency
	c.completionRate = completionRate
	c.mu.Unlock()
	c.latency.Add(endToEnd)
}

// observeCompletion records the outcome of a single completed (or failed)
// traversal of the chain, feeding latencyMs into the same latency window
// update uses and updating a 0.9/0.1 EMA of the completion rate, consistent
// with the node fail-rate EMA in pkg/aggregator/state.go.
func (c *ChainState) observeCompletion(latencyMs float64, succeeded bool) {
	var sample float64
	if succeeded {
		sample = 1
	}
	c.mu.Lock()
	if c.completionSeen {
		c.completionEMA = 0.9*c.completionEMA + 0.1*sample
	} else {
		c.completionEMA = sample
		c.completionSeen = true
	}
	c.mu.Unlock()
	c.latency.Add(latencyMs)
}

func (c *ChainState) snapshot() ChainMetrics {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return ChainMetrics{
		ChainID:                c.chainID,
		EndToEndLatencyMs:      c.endToEnd,
		MaxServiceLatencyMs:    c.maxLatency,
		MinServiceLatencyMs:    c.minLatency,
		CommunicationLatency:   c.commLatency,
		CompletionRate:         c.completionRate,
		LatencyVariance:        c.latency.NormalizedVariance(),
		ObservedCompletionRate: c.completionEMA,
	}
}
