// Package monitor implements the adaptive monitoring framework (C6): each
// service, node, and chain is sampled on its own self-adjusting interval,
// and a 1 Hz aggregator folds every entity's latest state into a bounded
// history of global snapshots. Background resampling uses a cooperative
// delaying work queue rather than one goroutine per entity (design note
// 9's "background timers" guidance), following the teacher's ticker-driven
// `SendNodeStatustoQueue` pattern in pkg/aggregator/server.go.
package monitor

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"k8s.io/client-go/util/workqueue"
	"k8s.io/klog/v2"

	"github.com/flowmesh/orchestrator-core/pkg/graph"
	"github.com/flowmesh/orchestrator-core/pkg/node"
	"github.com/flowmesh/orchestrator-core/pkg/probe"
	"github.com/flowmesh/orchestrator-core/pkg/resource"
)

// Adaptive-interval constants from spec.md §4.4 / §6.
const (
	DefaultBaseInterval  = time.Second
	DefaultMinInterval   = 100 * time.Millisecond
	epsilonResource      = 0.1
	epsilonLatency       = 0.05
	serviceSLALatencyMs  = 100.0
	chainSLALatencyMs    = 500.0
	nodeSLALatencyMs     = 1000.0
)

type entityKind int

const (
	kindService entityKind = iota
	kindNode
	kindChain
)

type entityRef struct {
	kind entityKind
	id   string
}

// Monitor samples every registered service, node, and chain on its own
// adaptive interval and maintains a bounded history of 1 Hz global
// snapshots.
type Monitor struct {
	graph    *graph.Graph
	registry *node.Registry
	probe    probe.NodeProbe
	chains   map[string][]string

	serviceStates sync.Map // string -> *ServiceState
	nodeStates    sync.Map // string -> *NodeState
	chainStates   sync.Map // string -> *ChainState

	intervals sync.Map // entityRef -> time.Duration
	queue     workqueue.DelayingInterface

	latest  atomic.Pointer[Snapshot]
	history *ring

	BaseInterval time.Duration
	MinInterval  time.Duration
	HistorySize  int
	WindowSize   int

	gauges *gaugeSet

	failureSink FailureSink

	stopCh  chan struct{}
	wg      sync.WaitGroup
	started bool
	mu      sync.Mutex
}

// New constructs a Monitor over g and registry. chains maps a caller-chosen
// chain id to its ordered service-id sequence.
func New(g *graph.Graph, registry *node.Registry, probeImpl probe.NodeProbe, chains map[string][]string) *Monitor {
	m := &Monitor{
		graph:        g,
		registry:     registry,
		probe:        probeImpl,
		chains:       chains,
		queue:        workqueue.NewDelayingQueue(),
		BaseInterval: DefaultBaseInterval,
		MinInterval:  DefaultMinInterval,
		HistorySize:  DefaultHistorySize,
		WindowSize:   DefaultWindowSize,
	}
	m.history = newRing(DefaultHistorySize)
	m.latest.Store(&Snapshot{Services: map[string]ServiceMetrics{}, Nodes: map[string]NodeMetrics{}, Chains: map[string]ChainMetrics{}})
	m.gauges = newGaugeSet()
	return m
}

// Registry registers m's prometheus gauges on reg.
func (m *Monitor) Registry(reg prometheus.Registerer) error {
	return m.gauges.register(reg)
}

// Start initializes per-entity state and begins adaptive sampling plus the
// 1 Hz global aggregator. Only the first call takes effect; later calls,
// including calls after Stop, return without doing anything.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	m.started = true
	m.stopCh = make(chan struct{})
	m.mu.Unlock()

	for _, svc := range m.graph.AllServices() {
		m.serviceStates.Store(svc.ID, newServiceState(svc.ID))
		ref := entityRef{kindService, svc.ID}
		m.intervals.Store(ref, m.BaseInterval)
		m.queue.Add(ref)
	}
	for _, n := range m.registry.All() {
		m.nodeStates.Store(n.ID, newNodeState(n.ID))
		ref := entityRef{kindNode, n.ID}
		m.intervals.Store(ref, m.BaseInterval)
		m.queue.Add(ref)
	}
	for chainID, services := range m.chains {
		m.chainStates.Store(chainID, newChainState(chainID, services))
		ref := entityRef{kindChain, chainID}
		m.intervals.Store(ref, m.BaseInterval)
		m.queue.Add(ref)
	}

	m.wg.Add(2)
	go m.runSampler(ctx)
	go m.runAggregator(ctx)

	klog.V(2).Infof("monitor: started with %d service(s), %d node(s), %d chain(s)",
		len(m.graph.AllServices()), len(m.registry.All()), len(m.chains))
}

// Stop cancels background work and waits up to 5s for it to drain before
// returning; Stop is idempotent.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return
	}
	select {
	case <-m.stopCh:
		m.mu.Unlock()
		return
	default:
		close(m.stopCh)
	}
	m.mu.Unlock()

	m.queue.ShutDown()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		klog.V(2).Infof("monitor: stop timed out waiting for background work")
	}
}

// runSampler drains the delaying queue, processes each due entity, and
// re-enqueues it with its freshly computed adaptive interval.
func (m *Monitor) runSampler(ctx context.Context) {
	defer m.wg.Done()
	for {
		item, shutdown := m.queue.Get()
		if shutdown {
			return
		}
		ref := item.(entityRef)
		select {
		case <-ctx.Done():
			m.queue.Done(item)
			return
		default:
		}

		interval := m.sampleOne(ref)
		m.queue.Done(item)
		m.queue.AddAfter(ref, interval)
	}
}

// runAggregator folds every entity's current state into a new global
// Snapshot once per second.
func (m *Monitor) runAggregator(ctx context.Context) {
	defer m.wg.Done()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			snap := m.aggregate()
			m.latest.Store(&snap)
			m.history.push(snap)
		}
	}
}

func (m *Monitor) aggregate() Snapshot {
	snap := Snapshot{
		Timestamp: time.Now(),
		Services:  map[string]ServiceMetrics{},
		Nodes:     map[string]NodeMetrics{},
		Chains:    map[string]ChainMetrics{},
	}
	m.serviceStates.Range(func(k, v interface{}) bool {
		sm := v.(*ServiceState).snapshot()
		snap.Services[k.(string)] = sm
		m.gauges.observeService(sm)
		return true
	})
	m.nodeStates.Range(func(k, v interface{}) bool {
		nm := v.(*NodeState).snapshot()
		snap.Nodes[k.(string)] = nm
		m.gauges.observeNode(nm)
		return true
	})
	m.chainStates.Range(func(k, v interface{}) bool {
		cm := v.(*ChainState).snapshot()
		snap.Chains[k.(string)] = cm
		return true
	})
	return snap
}

// Latest returns the most recent global snapshot via a single atomic load.
func (m *Monitor) Latest() Snapshot {
	return *m.latest.Load()
}

// History returns every retained snapshot, oldest first.
func (m *Monitor) History() []Snapshot {
	return m.history.all()
}

// sampleOne collects fresh metrics for ref and returns the next adaptive
// sampling interval, per spec.md §4.4's Equation 45-46.
func (m *Monitor) sampleOne(ref entityRef) time.Duration {
	var variance float64
	var epsilon float64
	var slaLatencyMs float64

	switch ref.kind {
	case kindService:
		variance = m.sampleService(ref.id) // coefficient of variation squared
		epsilon = epsilonLatency
		slaLatencyMs = serviceSLALatencyMs
	case kindNode:
		variance = m.sampleNode(ref.id) // plain variance
		epsilon = epsilonResource
		slaLatencyMs = nodeSLALatencyMs
	case kindChain:
		variance = m.sampleChain(ref.id) // coefficient of variation squared
		epsilon = epsilonLatency
		slaLatencyMs = chainSLALatencyMs
	}

	interval := adaptiveInterval(m.BaseInterval, epsilon, variance, m.MinInterval, slaLatencyMs)
	m.intervals.Store(ref, interval)
	return interval
}

// adaptiveInterval implements spec.md §4.4's Equation 45-46:
// tnew = Tbase · min(1, √(ε / max(v, 1e-3))), clamped to
// [tMin, Lsla/10]. v is the coefficient of variation squared for
// latency-based entities (service, chain) and plain variance for node CPU,
// per spec.md §4.4 step 1.
func adaptiveInterval(base time.Duration, epsilon, variance float64, tMin time.Duration, slaLatencyMs float64) time.Duration {
	v := variance
	if v < 1e-3 {
		v = 1e-3
	}
	factor := epsilon / v
	if factor > 1 {
		factor = 1
	}
	newInterval := float64(base) * math.Sqrt(factor)

	upperBoundMs := slaLatencyMs / 10.0
	upperBound := time.Duration(upperBoundMs * float64(time.Millisecond))

	constrained := newInterval
	if constrained < float64(tMin) {
		constrained = float64(tMin)
	}
	result := time.Duration(constrained)
	if result > upperBound {
		result = upperBound
	}
	return result
}

func (m *Monitor) sampleService(serviceID string) float64 {
	v, ok := m.serviceStates.Load(serviceID)
	if !ok {
		return 0.1
	}
	state := v.(*ServiceState)

	svc, ok := m.graph.Service(serviceID)
	if !ok {
		return 0.1
	}
	nodeID, hasNode := svc.NodeID()
	if !hasNode {
		return 0.1
	}
	n, ok := m.registry.Get(nodeID)
	if !ok {
		return 0.1
	}
	c := n.Capacity()
	cpu := c.Utilization(resource.CPU)
	mem := c.Utilization(resource.Memory)
	bw := c.Utilization(resource.Bandwidth)

	latency := m.probe.Latency(serviceID, cpu)
	queueLength := m.probe.QueueLength(serviceID, cpu)
	requestRate := m.probe.RequestRate(serviceID, time.Now())

	state.update(cpu, mem, bw, latency, queueLength, requestRate)
	svc.SetUtilization(resource.CPU, cpu)
	svc.SetUtilization(resource.Memory, mem)
	svc.SetUtilization(resource.Bandwidth, bw)

	return state.latency.NormalizedVariance()
}

func (m *Monitor) sampleNode(nodeID string) float64 {
	v, ok := m.nodeStates.Load(nodeID)
	if !ok {
		return 0.1
	}
	state := v.(*NodeState)

	n, ok := m.registry.Get(nodeID)
	if !ok {
		return 0.1
	}
	c := n.Capacity()
	cpu := c.Utilization(resource.CPU)
	mem := c.Utilization(resource.Memory)
	bw := c.Utilization(resource.Bandwidth)

	state.update(cpu, mem, bw, m.averageNetworkDelay(n), len(n.HostedServices()))

	return state.cpu.Variance()
}

func (m *Monitor) averageNetworkDelay(n *node.Node) float64 {
	var total float64
	var count int
	for _, other := range m.registry.All() {
		if other.ID == n.ID {
			continue
		}
		total += n.NetworkDelay(other.ID)
		count++
	}
	if count == 0 {
		return 0
	}
	return total / float64(count)
}

func (m *Monitor) sampleChain(chainID string) float64 {
	v, ok := m.chainStates.Load(chainID)
	if !ok {
		return 0.1
	}
	state := v.(*ChainState)
	if len(state.serviceIDs) == 0 {
		return 0.1
	}

	var total, max float64
	min := -1.0
	minCompletionRate := -1.0

	for _, id := range state.serviceIDs {
		sv, ok := m.serviceStates.Load(id)
		if !ok {
			continue
		}
		sm := sv.(*ServiceState).snapshot()
		total += sm.ProcessingLatencyMs
		if sm.ProcessingLatencyMs > max {
			max = sm.ProcessingLatencyMs
		}
		if min < 0 || sm.ProcessingLatencyMs < min {
			min = sm.ProcessingLatencyMs
		}
		if minCompletionRate < 0 || sm.RequestRate < minCompletionRate {
			minCompletionRate = sm.RequestRate
		}
	}
	if min < 0 {
		min = 0
	}
	if minCompletionRate < 0 {
		minCompletionRate = 0
	}

	commLatency := m.chainCommunicationLatency(state.serviceIDs)
	total += commLatency

	state.update(total, max, min, commLatency, minCompletionRate)
	return state.latency.NormalizedVariance()
}

// chainCommunicationLatency sums 1ms for each consecutive same-node hop and
// the recorded network delay otherwise, per
// original_source/MonitoringFramework.java's calculateChainCommunicationLatency.
func (m *Monitor) chainCommunicationLatency(serviceIDs []string) float64 {
	const localHopMs = 1.0
	const defaultRemoteDelayMs = 30.0

	var total float64
	for i := 0; i < len(serviceIDs)-1; i++ {
		src, ok1 := m.graph.Service(serviceIDs[i])
		dst, ok2 := m.graph.Service(serviceIDs[i+1])
		if !ok1 || !ok2 {
			continue
		}
		srcNodeID, srcHas := src.NodeID()
		dstNodeID, dstHas := dst.NodeID()
		if !srcHas || !dstHas {
			continue
		}
		if srcNodeID == dstNodeID {
			total += localHopMs
			continue
		}
		srcNode, ok := m.registry.Get(srcNodeID)
		if !ok {
			total += defaultRemoteDelayMs
			continue
		}
		total += srcNode.NetworkDelay(dstNodeID)
	}
	return total
}

// Interference estimates the Pearson correlation between two services'
// current (cpu, mem, bw) utilization triples, satisfying
// deploy.InterferenceSource structurally (deploy never imports monitor).
// Grounded on original_source/EdgeNode.java's calculateInterference.
func (m *Monitor) Interference(nodeID, serviceA, serviceB string) float64 {
	av, ok := m.serviceStates.Load(serviceA)
	if !ok {
		return 0
	}
	bv, ok := m.serviceStates.Load(serviceB)
	if !ok {
		return 0
	}
	return pearson(av.(*ServiceState).utilizationTriple(), bv.(*ServiceState).utilizationTriple())
}

// FailureSink receives a per-node request outcome when a chain traversing
// it completes, driving C7's fail-rate EMA (aggregator.Aggregator.
// ReportOutcome satisfies this) without the Monitor importing the
// aggregator package directly.
type FailureSink interface {
	ReportOutcome(nodeID string, succeeded bool)
}

// SetFailureSink wires an optional collaborator that ReportCompletion
// notifies for every node currently hosting a member of the completed
// chain. A nil sink (the default) makes ReportCompletion update only the
// chain's own completion statistics.
func (m *Monitor) SetFailureSink(sink FailureSink) { m.failureSink = sink }

// ReportCompletion records one observed completion of chainID — spec.md
// §6's `reportCompletion(chain-id, latencyMs, succeeded)` chain-scheduler
// operation. It folds latencyMs into the chain's latency window and its
// success/failure into a completion-rate EMA, then, if a FailureSink is
// wired, reports the same outcome against every node currently hosting one
// of the chain's member services. Unknown chain ids are ignored, mirroring
// the original's `if (state == null) return;` guard.
func (m *Monitor) ReportCompletion(chainID string, latencyMs float64, succeeded bool) {
	v, ok := m.chainStates.Load(chainID)
	if !ok {
		return
	}
	state := v.(*ChainState)
	state.observeCompletion(latencyMs, succeeded)

	if m.failureSink == nil {
		return
	}
	for _, svcID := range state.serviceIDs {
		svc, ok := m.graph.Service(svcID)
		if !ok {
			continue
		}
		nodeID, hasNode := svc.NodeID()
		if !hasNode {
			continue
		}
		m.failureSink.ReportOutcome(nodeID, succeeded)
	}
}
