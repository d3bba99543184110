package node

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/flowmesh/orchestrator-core/pkg/resource"
)

func TestAllocateReleaseUpdatesHostSet(t *testing.T) {
	n := New("edge-1", true, EdgeCapacity())
	req := resource.Requirements{CPU: 1, Mem: 1000, BW: 10}

	require.True(t, n.Allocate("svc-a", req))
	require.True(t, n.Hosts("svc-a"))
	require.Equal(t, []string{"svc-a"}, n.HostedServices())

	n.Release("svc-a", req)
	require.False(t, n.Hosts("svc-a"))
}

func TestAllocateFailsOverCapacity(t *testing.T) {
	n := New("edge-1", true, EdgeCapacity())
	require.False(t, n.Allocate("svc-a", resource.Requirements{CPU: 10, Mem: 0, BW: 0}))
	require.False(t, n.Hosts("svc-a"))
}

func TestNetworkDelayDefault(t *testing.T) {
	n := New("n1", false, CloudCapacity())
	require.Equal(t, DefaultNetworkDelayMs, n.NetworkDelay("n2"))
	n.SetNetworkDelay("n2", 30)
	require.Equal(t, 30.0, n.NetworkDelay("n2"))
}

func TestRegistryAddGetAll(t *testing.T) {
	r := NewRegistry()
	r.Add(New("n1", true, EdgeCapacity()))
	r.Add(New("n2", false, CloudCapacity()))

	n, ok := r.Get("n1")
	require.True(t, ok)
	require.Equal(t, "n1", n.ID)
	require.Len(t, r.All(), 2)

	_, ok = r.Get("missing")
	require.False(t, ok)
}

func TestCapability(t *testing.T) {
	n := New("cloud-1", false, CloudCapacity())
	require.InDelta(t, 0.5*1.6+0.3*4+0.2*1, n.Capability(), 1e-9)
}
