// Package deploy implements the topology-aware deployment algorithm (C5):
// a four-phase placement of microservices onto nodes that prioritizes
// critical-path services, fills in the rest deterministically, and then
// runs a federated refinement loop that migrates services toward cheaper
// placements as the Global Parameter Vector evolves.
package deploy

import (
	"context"
	"fmt"
	"sort"

	"k8s.io/klog/v2"

	"github.com/flowmesh/orchestrator-core/pkg/criticalpath"
	"github.com/flowmesh/orchestrator-core/pkg/graph"
	"github.com/flowmesh/orchestrator-core/pkg/node"
	"github.com/flowmesh/orchestrator-core/pkg/params"
)

// InterferenceSource supplies a colocation interference estimate for two
// services sharing a node, in [-1, 1] (spec.md §4.4's Pearson correlation
// range). The Deployer depends only on this small interface so C6's
// monitor can supply it without the deployer importing the monitor
// package directly.
type InterferenceSource interface {
	Interference(nodeID, serviceA, serviceB string) float64
}

// ParameterAggregator gathers per-node parameter proposals and returns the
// next Global Parameter Vector (C7). The Deployer's Phase D depends on this
// interface rather than the aggregator package concretely, so the two
// packages can evolve independently.
type ParameterAggregator interface {
	Aggregate(ctx context.Context, current params.Vector) (params.Vector, error)
}

const interferenceWeight = 0.1

// Deployer places every service of a dependency graph onto a node
// registry, following spec.md §4.3's four phases.
type Deployer struct {
	graph    *graph.Graph
	registry *node.Registry
	analyzer *criticalpath.Analyzer

	interference InterferenceSource
	aggregator   ParameterAggregator

	MaxRefinementIterations   int
	ConvergenceThreshold      float64
	MigrationImprovementRatio float64

	placement map[string]string // serviceID -> nodeID
	unplaced  map[string]string // serviceID -> NotPlaced reason
}

// New constructs a Deployer over g and registry, with a fresh critical-path
// analyzer seeded from the default Global Parameter Vector.
func New(g *graph.Graph, registry *node.Registry) *Deployer {
	return &Deployer{
		graph:                      g,
		registry:                   registry,
		analyzer:                   criticalpath.New(g, registry),
		MaxRefinementIterations:    10,
		ConvergenceThreshold:       0.01,
		MigrationImprovementRatio:  0.8,
		placement:                  make(map[string]string),
		unplaced:                   make(map[string]string),
	}
}

// SetInterferenceSource wires an optional colocation-interference estimator
// into the placement cost function.
func (d *Deployer) SetInterferenceSource(src InterferenceSource) { d.interference = src }

// SetAggregator wires the federated parameter aggregator used by Phase D.
// A nil aggregator makes Phase D a single deterministic migration pass with
// no weight evolution.
func (d *Deployer) SetAggregator(agg ParameterAggregator) { d.aggregator = agg }

// Placement returns a snapshot of the current service->node assignment.
func (d *Deployer) Placement() map[string]string {
	out := make(map[string]string, len(d.placement))
	for k, v := range d.placement {
		out[k] = v
	}
	return out
}

// Unplaced returns a snapshot of serviceID -> NotPlaced reason for every
// service the last deployment run could not place.
func (d *Deployer) Unplaced() map[string]string {
	out := make(map[string]string, len(d.unplaced))
	for k, v := range d.unplaced {
		out[k] = v
	}
	return out
}

// ExecuteDeployment runs all four phases and returns the final placement.
func (d *Deployer) ExecuteDeployment(ctx context.Context, weights params.Vector) (map[string]string, error) {
	d.analyzer.SetWeights(weights)

	criticalPaths, err := d.computeCriticalPaths()
	if err != nil {
		return nil, err
	}
	klog.V(2).Infof("deploy: phase A identified %d critical path(s)", len(criticalPaths))

	if err := d.placeCriticalServices(criticalPaths); err != nil {
		return nil, err
	}
	if err := d.placeResidualServices(); err != nil {
		return nil, err
	}

	d.refine(ctx, weights)

	return d.Placement(), nil
}

// CriticalPaths is spec.md §6's `getCriticalPaths()` chain-scheduler
// operation: it recomputes Phase A against the analyzer's current weights
// and returns each qualifying source-sink path's ordered service ids keyed
// by its "source-sink" identifier, which doubles as the chain id a caller
// passes to a Monitor configured with the same chain-to-service mapping.
func (d *Deployer) CriticalPaths() (map[string][]string, error) {
	paths, err := d.computeCriticalPaths()
	if err != nil {
		return nil, err
	}
	out := make(map[string][]string, len(paths))
	for key, p := range paths {
		out[key] = append([]string(nil), p.Services...)
	}
	return out, nil
}

// computeCriticalPaths runs Phase A: for every (source, sink) pair, keep the
// single highest-scoring critical path, if any qualifies, keyed by
// "source-sink" (spec.md §4.3 Phase A).
func (d *Deployer) computeCriticalPaths() (map[string]criticalpath.Path, error) {
	sources := d.graph.Sources()
	sinks := d.graph.Sinks()

	out := make(map[string]criticalpath.Path)
	for _, src := range sources {
		for _, sink := range sinks {
			if src == sink {
				continue
			}
			paths, err := d.analyzer.IdentifyCriticalPaths(src, sink)
			if err != nil {
				return nil, err
			}
			if len(paths) == 0 {
				continue
			}
			out[fmt.Sprintf("%s-%s", src, sink)] = paths[0]
		}
	}
	return out, nil
}

// placeCriticalServices runs Phase B: iterate critical paths in sorted key
// order and place every not-yet-placed service on the path's path using
// the placement-cost formula.
func (d *Deployer) placeCriticalServices(criticalPaths map[string]criticalpath.Path) error {
	keys := make([]string, 0, len(criticalPaths))
	for k := range criticalPaths {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		for _, svcID := range criticalPaths[k].Services {
			if _, placed := d.placement[svcID]; placed {
				continue
			}
			if _, err := d.placeOne(svcID); err != nil {
				return err
			}
		}
	}
	return nil
}

// placeResidualServices runs Phase C: every service not placed by Phase B
// is placed in graph-insertion order, which keeps the algorithm
// deterministic (spec.md §4.3 Phase C).
func (d *Deployer) placeResidualServices() error {
	for _, svc := range d.graph.ServicesInInsertionOrder() {
		if _, placed := d.placement[svc.ID]; placed {
			continue
		}
		if _, err := d.placeOne(svc.ID); err != nil {
			return err
		}
	}
	return nil
}

// placeOne selects the lowest-cost candidate node for svcID (ties broken by
// node-id ascending) and commits the assignment. Infeasibility (no node has
// room) is not a fatal error — it records a NotPlaced reason and returns
// false, letting the rest of the deployment proceed (spec.md §8 Scenario
// 2). Only an unknown service id is a hard error.
func (d *Deployer) placeOne(svcID string) (bool, error) {
	svc, ok := d.graph.Service(svcID)
	if !ok {
		return false, notFound("unknown service %q", svcID)
	}

	best, ok := d.selectBestNode(svc)
	if !ok {
		d.unplaced[svcID] = "insufficient capacity"
		klog.V(2).Infof("deploy: %s not placed: insufficient capacity", svcID)
		return false, nil
	}

	n, _ := d.registry.Get(best)
	if !n.Allocate(svc.ID, svc.BaseRequirements) {
		d.unplaced[svcID] = "insufficient capacity"
		klog.V(2).Infof("deploy: %s not placed: candidate %s rejected allocation", svcID, best)
		return false, nil
	}
	delete(d.unplaced, svc.ID)
	d.placement[svc.ID] = best
	svc.SetNodeID(best, true)
	klog.V(4).Infof("deploy: placed %s on %s", svc.ID, best)
	return true, nil
}

// selectBestNode returns the candidate node minimizing placementCost,
// filtered to nodes whose current available capacity fits svc's base
// requirements. Ties are broken by node-id ascending (spec.md §4.3).
func (d *Deployer) selectBestNode(svc *graph.Service) (string, bool) {
	candidates := d.candidateNodes(svc, "")
	if len(candidates) == 0 {
		return "", false
	}

	bestID := ""
	bestCost := 0.0
	for _, id := range candidates {
		cost := d.placementCost(svc, id)
		if bestID == "" || cost < bestCost {
			bestID, bestCost = id, cost
		}
	}
	return bestID, bestID != ""
}

// candidateNodes returns every registered node, sorted by id, whose current
// available capacity fits svc's base requirements. excludeNodeID, if
// non-empty, is skipped (used when searching for a migration target other
// than the service's current node).
func (d *Deployer) candidateNodes(svc *graph.Service, excludeNodeID string) []string {
	var out []string
	for _, n := range d.registry.All() {
		if n.ID == excludeNodeID {
			continue
		}
		if svc.BaseRequirements.Fits(n.Capacity()) {
			out = append(out, n.ID)
		}
	}
	sort.Strings(out)
	return out
}

// placementCost computes 0.5*communication + 0.3*resource + 0.2*loadBalance
// for placing svc on candidateNodeID, plus an optional interference
// penalty (spec.md §4.3 Phase B).
func (d *Deployer) placementCost(svc *graph.Service, candidateNodeID string) float64 {
	comm := d.communicationCost(svc, candidateNodeID)
	res := d.resourceCost(svc, candidateNodeID)
	lb := d.loadBalanceCost(candidateNodeID)

	cost := 0.5*comm + 0.3*res + 0.2*lb
	if d.interference != nil {
		cost += interferenceWeight * d.interferencePenalty(svc, candidateNodeID)
	}
	return cost
}

// communicationCost sums delay(candidate, targetNode)*dataVolume*frequency
// over svc's outgoing edges whose target is already placed on a different
// node than candidateNodeID.
func (d *Deployer) communicationCost(svc *graph.Service, candidateNodeID string) float64 {
	var total float64
	for _, e := range d.graph.DependenciesOf(svc.ID) {
		targetNodeID, placed := d.placement[e.Target]
		if !placed || targetNodeID == candidateNodeID {
			continue
		}
		n, ok := d.registry.Get(candidateNodeID)
		if !ok {
			continue
		}
		total += n.NetworkDelay(targetNodeID) * e.DataVolume * e.Frequency
	}
	return total
}

// resourceCost is the product of svc's requirement-to-total-capacity ratios
// across the three axes on candidateNodeID. The requirements used are
// svc.DynamicRequirements against the analyzer's current weights, so a
// service under heavier-than-baseline load or already hot on CPU costs
// more to place than its static BaseRequirements would suggest.
func (d *Deployer) resourceCost(svc *graph.Service, candidateNodeID string) float64 {
	n, ok := d.registry.Get(candidateNodeID)
	if !ok {
		return 0
	}
	c := n.Capacity()
	weights := d.analyzer.Weights()
	req := svc.DynamicRequirements(svc.RequestRate, weights.UtilizationThreshold, weights.ResourceScalingFactor)
	return safeRatio(req.CPU, c.TCPU) *
		safeRatio(req.Mem, c.TMem) *
		safeRatio(req.BW, c.TBW)
}

// loadBalanceCost sums candidateNodeID's current per-axis utilization.
func (d *Deployer) loadBalanceCost(candidateNodeID string) float64 {
	n, ok := d.registry.Get(candidateNodeID)
	if !ok {
		return 0
	}
	c := n.Capacity()
	return c.Utilization("cpu") + c.Utilization("memory") + c.Utilization("bandwidth")
}

// interferencePenalty adds max(0, interference) against every service
// already hosted on candidateNodeID, using the injected InterferenceSource.
func (d *Deployer) interferencePenalty(svc *graph.Service, candidateNodeID string) float64 {
	n, ok := d.registry.Get(candidateNodeID)
	if !ok {
		return 0
	}
	var total float64
	for _, other := range n.HostedServices() {
		if other == svc.ID {
			continue
		}
		if v := d.interference.Interference(candidateNodeID, svc.ID, other); v > 0 {
			total += v
		}
	}
	return total
}

func safeRatio(a, b float64) float64 {
	if b <= 0 {
		return 0
	}
	return a / b
}

// refine runs Phase D: the federated refinement loop. Each iteration asks
// the aggregator (if any) for an updated Global Parameter Vector, pushes it
// into the analyzer, recomputes critical paths, and migrates any critical
// service whose best alternative node costs no more than
// MigrationImprovementRatio times its current placement cost (spec.md §4.3
// Phase D uses an inclusive "≤ 0.8·currentCost" bound). The loop stops once
// the parameter vector has converged (L2 delta below ConvergenceThreshold)
// or after MaxRefinementIterations iterations.
func (d *Deployer) refine(ctx context.Context, current params.Vector) {
	for iter := 0; iter < d.MaxRefinementIterations; iter++ {
		select {
		case <-ctx.Done():
			return
		default:
		}

		next := current
		delta := 0.0
		if d.aggregator != nil {
			proposed, err := d.aggregator.Aggregate(ctx, current)
			if err != nil {
				klog.V(2).Infof("deploy: phase D aggregation failed, holding weights: %v", err)
			} else {
				delta = current.Delta(proposed)
				next = proposed
			}
		}
		current = next
		d.analyzer.SetWeights(current)

		criticalPaths, err := d.computeCriticalPaths()
		if err != nil {
			klog.V(2).Infof("deploy: phase D critical-path recompute failed: %v", err)
			return
		}

		migrated := d.attemptMigrations(criticalPaths)
		klog.V(4).Infof("deploy: phase D iteration %d delta=%.6f migrated=%v", iter, delta, migrated)
		if delta < d.ConvergenceThreshold {
			klog.V(2).Infof("deploy: phase D converged after %d iteration(s)", iter+1)
			return
		}
	}
}

// attemptMigrations evaluates every service on a current critical path
// against its current placement cost, relocating it if a strictly better
// candidate exists within MigrationImprovementRatio. Returns whether any
// migration occurred.
func (d *Deployer) attemptMigrations(criticalPaths map[string]criticalpath.Path) bool {
	migrated := false
	seen := make(map[string]bool)
	for _, p := range criticalPaths {
		for _, svcID := range p.Services {
			if seen[svcID] {
				continue
			}
			seen[svcID] = true
			if d.attemptMigration(svcID) {
				migrated = true
			}
		}
	}
	return migrated
}

func (d *Deployer) attemptMigration(svcID string) bool {
	svc, ok := d.graph.Service(svcID)
	if !ok {
		return false
	}
	currentNodeID, placed := d.placement[svcID]
	if !placed {
		return false
	}

	currentCost := d.placementCost(svc, currentNodeID)
	bestID := ""
	bestCost := 0.0
	for _, candidateID := range d.candidateNodes(svc, currentNodeID) {
		cost := d.placementCost(svc, candidateID)
		if bestID == "" || cost < bestCost {
			bestID, bestCost = candidateID, cost
		}
	}
	if bestID == "" || bestCost > d.MigrationImprovementRatio*currentCost {
		return false
	}

	return d.relocate(svc, currentNodeID, bestID)
}

// relocate atomically moves svc from fromNodeID to toNodeID: it allocates on
// the destination first and only releases the source, and updates the
// placement map, if that succeeds — resolving Open Question 9(b) by never
// leaving svc double-booked or homeless.
func (d *Deployer) relocate(svc *graph.Service, fromNodeID, toNodeID string) bool {
	toNode, ok := d.registry.Get(toNodeID)
	if !ok {
		return false
	}
	fromNode, ok := d.registry.Get(fromNodeID)
	if !ok {
		return false
	}

	if !toNode.Allocate(svc.ID, svc.BaseRequirements) {
		return false
	}
	fromNode.Release(svc.ID, svc.BaseRequirements)
	d.placement[svc.ID] = toNodeID
	svc.SetNodeID(toNodeID, true)
	klog.V(2).Infof("deploy: migrated %s from %s to %s", svc.ID, fromNodeID, toNodeID)
	return true
}
