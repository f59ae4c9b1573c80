// Package metric provides Prometheus metrics collection and monitoring.
package metric

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/shirou/gopsutil/cpu"
	"github.com/shirou/gopsutil/mem"
)

// Metrics contains the Prometheus metrics server and registered custom metrics.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	httpServer *http.Server
	config     Config
	registry   *prometheus.Registry

	webSocketConnections prometheus.Gauge
	waitingSessions      prometheus.Gauge
	activeCalls          prometheus.Gauge
	sessionsStarted      *prometheus.CounterVec
	sessionsEnded        *prometheus.CounterVec
	reconnectAttempts    prometheus.Counter
	signalingMessages    *prometheus.CounterVec
	remotePackets        *prometheus.CounterVec
	cpuUsage             prometheus.Gauge
	memoryUsage          prometheus.Gauge
}

// New creates a new Metrics instance with its own registry.
func New(config Config) *Metrics {
	if config.Path == "" {
		config.Path = DefaultMetricsPath
	}
	if config.SystemInterval == 0 {
		config.SystemInterval = DefaultSystemInterval
	}

	m := &Metrics{
		config:   config,
		registry: prometheus.NewRegistry(),
		webSocketConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "duocall_websocket_connections",
			Help: "Current number of WebSocket connections.",
		}),
		waitingSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "duocall_waiting_sessions",
			Help: "Current number of call sessions waiting for a receiver.",
		}),
		activeCalls: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "duocall_active_calls",
			Help: "Current number of calls held by local orchestrators.",
		}),
		sessionsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "duocall_sessions_started_total",
			Help: "Call sessions started, by negotiation role.",
		}, []string{"role"}),
		sessionsEnded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "duocall_sessions_ended_total",
			Help: "Call sessions ended, by end reason.",
		}, []string{"reason"}),
		reconnectAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "duocall_reconnect_attempts_total",
			Help: "ICE restart attempts after a link disruption.",
		}),
		signalingMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "duocall_signaling_messages_total",
			Help: "Signaling messages, by type and direction.",
		}, []string{"type", "direction"}), // Direction: "inbound" or "outbound"
		remotePackets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "duocall_remote_rtp_packets_total",
			Help: "RTP packets received from the partner, by track kind.",
		}, []string{"kind"}),
		cpuUsage: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "duocall_cpu_usage_percentage",
			Help: "CPU usage percentage.",
		}),
		memoryUsage: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "duocall_memory_usage_bytes",
			Help: "Used system memory in bytes.",
		}),
	}

	m.registry.MustRegister(
		m.webSocketConnections,
		m.waitingSessions,
		m.activeCalls,
		m.sessionsStarted,
		m.sessionsEnded,
		m.reconnectAttempts,
		m.signalingMessages,
		m.remotePackets,
		m.cpuUsage,
		m.memoryUsage,
	)
	return m
}

// Registry returns the registry holding the metrics.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the metrics of the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Start starts the metrics HTTP server and the system metrics collector.
// The server is skipped when no port is configured.
func (m *Metrics) Start(ctx context.Context) {
	go m.UpdateSystemMetrics(ctx)

	if m.config.Port == 0 {
		return
	}

	mux := http.NewServeMux()
	mux.Handle(m.config.Path, m.Handler())
	m.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", m.config.Port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info().Int("port", m.config.Port).Str("path", m.config.Path).Msg("starting metrics server")
		if err := m.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("metrics server stopped")
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (m *Metrics) Stop() error {
	if m == nil || m.httpServer == nil {
		return nil
	}
	log.Info().Int("port", m.config.Port).Msg("stopping metrics server")
	return m.httpServer.Close()
}

// UpdateSystemMetrics collects system metrics until ctx is done.
func (m *Metrics) UpdateSystemMetrics(ctx context.Context) {
	ticker := time.NewTicker(m.config.SystemInterval)
	defer ticker.Stop()

	for {
		if err := m.CollectSystemMetrics(); err != nil {
			log.Debug().Err(err).Msg("failed to collect system metrics")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// CollectSystemMetrics samples CPU and memory usage once.
func (m *Metrics) CollectSystemMetrics() error {
	if m == nil {
		return nil
	}

	percents, err := cpu.Percent(0, false)
	if err != nil {
		return fmt.Errorf("cpu percent: %w", err)
	}
	if len(percents) > 0 {
		m.cpuUsage.Set(percents[0])
	}

	vm, err := mem.VirtualMemory()
	if err != nil {
		return fmt.Errorf("virtual memory: %w", err)
	}
	m.memoryUsage.Set(float64(vm.Used))
	return nil
}

// IncrementWebSocketConnections increments the WebSocket connection count.
func (m *Metrics) IncrementWebSocketConnections() {
	if m == nil {
		return
	}
	m.webSocketConnections.Inc()
}

// DecrementWebSocketConnections decrements the WebSocket connection count.
func (m *Metrics) DecrementWebSocketConnections() {
	if m == nil {
		return
	}
	m.webSocketConnections.Dec()
}

// SetWaitingSessions sets the number of sessions waiting for a receiver.
func (m *Metrics) SetWaitingSessions(n int) {
	if m == nil {
		return
	}
	m.waitingSessions.Set(float64(n))
}

// ObserveSessionStarted counts a started call and the active calls.
func (m *Metrics) ObserveSessionStarted(role string) {
	if m == nil {
		return
	}
	m.sessionsStarted.WithLabelValues(role).Inc()
	m.activeCalls.Inc()
}

// ObserveSessionEnded counts an ended call.
func (m *Metrics) ObserveSessionEnded(reason string) {
	if m == nil {
		return
	}
	m.sessionsEnded.WithLabelValues(reason).Inc()
	m.activeCalls.Dec()
}

// ObserveReconnectAttempt counts an ICE restart attempt.
func (m *Metrics) ObserveReconnectAttempt() {
	if m == nil {
		return
	}
	m.reconnectAttempts.Inc()
}

// ObserveSignalingMessage counts a signaling message.
func (m *Metrics) ObserveSignalingMessage(messageType, direction string) {
	if m == nil {
		return
	}
	m.signalingMessages.WithLabelValues(messageType, direction).Inc()
}

// ObserveRemotePacket counts an RTP packet of the partner.
func (m *Metrics) ObserveRemotePacket(kind string) {
	if m == nil {
		return
	}
	m.remotePackets.WithLabelValues(kind).Inc()
}
