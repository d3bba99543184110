package graph

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/flowmesh/orchestrator-core/pkg/resource"
)

// TestDynamicRequirementsAtBaselineLoadEqualsBase checks that a service at
// exactly its own service rate, with CPU utilization under the threshold,
// returns its unscaled BaseRequirements for CPU/Mem (load factor 1, util
// factor 1).
func TestDynamicRequirementsAtBaselineLoadEqualsBase(t *testing.T) {
	s := NewService("A", resource.Requirements{CPU: 1, Mem: 1000, BW: 10}, 10) // mu = 0.1
	req := s.DynamicRequirements(0.1, 0.8, 0.3)
	require.InDelta(t, 1, req.CPU, 1e-9)
	require.InDelta(t, 1000, req.Mem, 1e-9)
	require.InDelta(t, 10, req.BW, 1e-9)
}

// TestDynamicRequirementsScalesWithLoadAndUtilization checks both factors
// move in the expected direction: a request rate above the service rate
// inflates cpu/mem/bw, and CPU utilization past uth applies an additional
// superlinear boost to cpu/mem only.
func TestDynamicRequirementsScalesWithLoadAndUtilization(t *testing.T) {
	s := NewService("A", resource.Requirements{CPU: 1, Mem: 1000, BW: 10}, 10) // mu = 0.1
	s.SetUtilization(resource.CPU, 0.9)                                       // above uth=0.8

	req := s.DynamicRequirements(0.2, 0.8, 0.3) // requestRate = 2*mu

	require.InDelta(t, 13.0, req.BW, 1e-6, "bandwidth only gets the load factor: 10*1.3")
	require.Greater(t, req.CPU, 1.3, "cpu must also pick up the over-threshold utilization boost beyond the load factor alone")
}
