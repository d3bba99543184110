package monitor

import "github.com/prometheus/client_golang/prometheus"

// gaugeSet exports the monitor's per-entity metrics as prometheus gauges,
// mirroring the teacher's metrics surface
// (pkg/agent's prometheus.NewGaugeVec usage for per-node IO status).
type gaugeSet struct {
	serviceCPU     *prometheus.GaugeVec
	serviceLatency *prometheus.GaugeVec
	serviceQueue   *prometheus.GaugeVec
	nodeCPU        *prometheus.GaugeVec
	nodeDensity    *prometheus.GaugeVec
}

func newGaugeSet() *gaugeSet {
	return &gaugeSet{
		serviceCPU: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "orchestrator_service_cpu_utilization",
			Help: "Fractional CPU utilization of the node hosting a service, as last sampled.",
		}, []string{"service"}),
		serviceLatency: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "orchestrator_service_processing_latency_ms",
			Help: "Most recently sampled processing latency, in milliseconds.",
		}, []string{"service"}),
		serviceQueue: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "orchestrator_service_queue_length",
			Help: "Most recently sampled queue length.",
		}, []string{"service"}),
		nodeCPU: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "orchestrator_node_cpu_utilization",
			Help: "Fractional CPU utilization of a node, as last sampled.",
		}, []string{"node"}),
		nodeDensity: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "orchestrator_node_service_density",
			Help: "Number of services currently hosted on a node.",
		}, []string{"node"}),
	}
}

func (g *gaugeSet) register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{g.serviceCPU, g.serviceLatency, g.serviceQueue, g.nodeCPU, g.nodeDensity} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func (g *gaugeSet) observeService(m ServiceMetrics) {
	g.serviceCPU.WithLabelValues(m.ServiceID).Set(m.CPUUtilization)
	g.serviceLatency.WithLabelValues(m.ServiceID).Set(m.ProcessingLatencyMs)
	g.serviceQueue.WithLabelValues(m.ServiceID).Set(m.QueueLength)
}

func (g *gaugeSet) observeNode(m NodeMetrics) {
	g.nodeCPU.WithLabelValues(m.NodeID).Set(m.CPUUtilization)
	g.nodeDensity.WithLabelValues(m.NodeID).Set(float64(m.ServiceDensity))
}
