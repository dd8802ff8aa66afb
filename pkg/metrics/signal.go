package metrics

import "github.com/prometheus/client_golang/prometheus"

func (m *Manager) initSignalMetrics() {
	m.signalEmits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signal_emissions_total",
			Help: "Total number of signal emissions",
		},
		[]string{"signal"},
	)

	m.slotInvocations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slot_invocations_total",
			Help: "Total number of slot invocations by delivery mode",
		},
		[]string{"signal", "mode"},
	)

	m.slotSkips = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slot_skips_total",
			Help: "Total number of skipped slot invocations by reason",
		},
		[]string{"signal", "reason"},
	)

	m.connections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signal_connections_total",
			Help: "Total number of connect and disconnect operations",
		},
		[]string{"signal", "op"},
	)

	m.registry.MustRegister(m.signalEmits)
	m.registry.MustRegister(m.slotInvocations)
	m.registry.MustRegister(m.slotSkips)
	m.registry.MustRegister(m.connections)
}

// RecordEmit records one signal emission.
func (m *Manager) RecordEmit(signal string) {
	if !m.enabled.Load() {
		return
	}
	m.signalEmits.WithLabelValues(signal).Inc()
}

// RecordSlotInvoked records a dispatched slot invocation.
func (m *Manager) RecordSlotInvoked(signal string, mode string) {
	if !m.enabled.Load() {
		return
	}
	m.slotInvocations.WithLabelValues(signal, mode).Inc()
}

// RecordSlotSkipped records a skipped slot invocation.
func (m *Manager) RecordSlotSkipped(signal string, reason string) {
	if !m.enabled.Load() {
		return
	}
	m.slotSkips.WithLabelValues(signal, reason).Inc()
}

// RecordConnect records a new connection.
func (m *Manager) RecordConnect(signal string) {
	if !m.enabled.Load() {
		return
	}
	m.connections.WithLabelValues(signal, "connect").Inc()
}

// RecordDisconnect records a removed connection.
func (m *Manager) RecordDisconnect(signal string) {
	if !m.enabled.Load() {
		return
	}
	m.connections.WithLabelValues(signal, "disconnect").Inc()
}
