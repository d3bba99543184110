// Package probe supplies the external measurement interface the monitor
// samples through: a NodeProbe reports per-service latency, queue length,
// and request rate. In the absence of a real measurement pipeline,
// SyntheticGenerator reproduces the deterministic synthetic-metric
// formulas spec.md §6 documents, grounded on
// original_source/MonitoringFramework.java's generateSynthetic* helpers.
package probe

import (
	"hash/fnv"
	"math"
	"math/rand"
	"sync"
	"time"
)

// NodeProbe measures a service's processing latency, queue length, and
// request rate at a point in time, given its current CPU utilization.
type NodeProbe interface {
	Latency(serviceID string, cpuUtilization float64) float64
	QueueLength(serviceID string, cpuUtilization float64) float64
	RequestRate(serviceID string, at time.Time) float64
}

// SyntheticGenerator deterministically hashes a service id into a base
// metric and perturbs it with the documented overload/queue/daily-pattern
// factors. Randomness is confined to the documented uniform noise bands and
// is supplied by an injected *rand.Rand so callers can seed it for
// reproducible tests.
type SyntheticGenerator struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewSyntheticGenerator returns a generator seeded from seed.
func NewSyntheticGenerator(seed int64) *SyntheticGenerator {
	return &SyntheticGenerator{rng: rand.New(rand.NewSource(seed))}
}

func (g *SyntheticGenerator) noise(lo, span float64) float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return lo + g.rng.Float64()*span
}

func hashMod(serviceID string, mod uint64) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(serviceID))
	return h.Sum64() % mod
}

// Latency returns a synthetic processing latency in ms: a hash-derived base
// of (hash(id) mod 10 + 5) * 5, amplified quadratically once
// cpuUtilization exceeds 0.7, and perturbed by uniform noise in [0.9, 1.1].
func (g *SyntheticGenerator) Latency(serviceID string, cpuUtilization float64) float64 {
	base := float64(hashMod(serviceID, 10)+5) * 5.0

	utilFactor := 1.0
	if cpuUtilization > 0.7 {
		utilFactor = 1.0 + math.Pow((cpuUtilization-0.7)/0.3, 2)*5.0
	}

	return base * utilFactor * g.noise(0.9, 0.2)
}

// QueueLength returns a synthetic queue length: a hash-derived base of
// (hash(id) mod 5 + 1), amplified exponentially once cpuUtilization
// exceeds 0.6, and perturbed by uniform noise in [0.8, 1.2].
func (g *SyntheticGenerator) QueueLength(serviceID string, cpuUtilization float64) float64 {
	base := float64(hashMod(serviceID, 5) + 1)

	utilFactor := 1.0
	if cpuUtilization > 0.6 {
		utilFactor = math.Exp((cpuUtilization - 0.6) * 5.0)
	}

	return base * utilFactor * g.noise(0.8, 0.4)
}

// RequestRate returns a synthetic request rate in req/s: a hash-derived
// base of (hash(id) mod 20 + 5) * 2, modulated by a sinusoidal daily
// pattern peaking at 12:00 and perturbed by uniform noise in [0.9, 1.1].
func (g *SyntheticGenerator) RequestRate(serviceID string, at time.Time) float64 {
	base := float64(hashMod(serviceID, 20)+5) * 2.0

	hourOfDay := float64(at.Hour())
	hourFactor := 0.7 + 0.6*math.Sin(math.Pi*(hourOfDay-6)/12)

	return base * hourFactor * g.noise(0.9, 0.2)
}
