package resource

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAllocateReleaseRoundTrip(t *testing.T) {
	c := NewCapacity(4, 8000, 100)
	r := Requirements{CPU: 1, Mem: 1000, BW: 10}

	allocated, ok := c.Allocate(r)
	require.True(t, ok)
	allocated = allocated.Release(r)
	require.Equal(t, c, allocated)
}

func TestAllocateRejectsWhenOverCapacity(t *testing.T) {
	c := NewCapacity(4, 8000, 100)
	r := Requirements{CPU: 5, Mem: 100, BW: 10}

	_, ok := c.Allocate(r)
	require.False(t, ok)
}

func TestReleaseClampsAtTotals(t *testing.T) {
	c := NewCapacity(4, 8000, 100)
	released := c.Release(Requirements{CPU: 10, Mem: 0, BW: 0})
	require.Equal(t, 4.0, released.ACPU)
}

func TestUtilizationAndOverloaded(t *testing.T) {
	c := NewCapacity(4, 8000, 100)
	c, ok := c.Allocate(Requirements{CPU: 3.6, Mem: 0, BW: 0})
	require.True(t, ok)
	require.InDelta(t, 0.9, c.Utilization(CPU), 1e-9)
	require.True(t, c.Overloaded(0.8))
	require.False(t, c.Overloaded(0.95))
}

func TestRequirementsArithmetic(t *testing.T) {
	a := Requirements{CPU: 1, Mem: 100, BW: 10}
	b := Requirements{CPU: 2, Mem: 50, BW: 30}

	require.Equal(t, Requirements{CPU: 3, Mem: 150, BW: 40}, a.Add(b))
	require.Equal(t, Requirements{CPU: 0, Mem: 50, BW: 0}, a.Sub(b))
	require.Equal(t, Requirements{CPU: 2, Mem: 200, BW: 20}, a.Scale(2))
}

func TestInvariantZeroCapacityNeverOverloads(t *testing.T) {
	c := Capacity{}
	require.False(t, c.Overloaded(0))
}
