// monitor/monitor.go
package monitor

import (
	"expvar"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/wfunc/holdgame/device"
	"github.com/wfunc/holdgame/game"
	"github.com/wfunc/holdgame/state"
)

type Metrics struct {
	ConnectedClients prometheus.Gauge
	MessagesReceived prometheus.Counter
	MessageLatency   prometheus.Histogram
	DeviceCommands   *prometheus.CounterVec
	Temperature      prometheus.Gauge
	PhaseChanges     *prometheus.CounterVec
	Turns            *prometheus.CounterVec
	TurnPoints       prometheus.Histogram
	TickDuration     prometheus.Histogram
}

// NewMetrics registers the collectors with reg.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ConnectedClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connected_clients",
			Help:      "Number of connected UI clients",
		}),
		MessagesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_received_total",
			Help:      "Total number of messages received",
		}),
		MessageLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "message_latency_seconds",
			Help:      "Message processing latency",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 10),
		}),
		DeviceCommands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "device_commands_total",
			Help:      "Device command requests by command and outcome",
		}, []string{"command", "outcome"}),
		Temperature: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "device_temperature_celsius",
			Help:      "Last temperature reported by the appliance",
		}),
		PhaseChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "phase_changes_total",
			Help:      "Game phase transitions by target phase",
		}, []string{"phase"}),
		Turns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Scored turns by result",
		}, []string{"result"}),
		TurnPoints: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_points",
			Help:      "Points awarded per turn",
			Buckets:   prometheus.LinearBuckets(0, 10, 10),
		}),
		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tick_duration_seconds",
			Help:      "Time spent in one controller tick",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 8),
		}),
	}

	reg.MustRegister(
		m.ConnectedClients,
		m.MessagesReceived,
		m.MessageLatency,
		m.DeviceCommands,
		m.Temperature,
		m.PhaseChanges,
		m.Turns,
		m.TurnPoints,
		m.TickDuration,
	)

	return m
}

// Monitor records game, device and server metrics. It satisfies
// device.Recorder, game.Observer and room.TickObserver.
type Monitor struct {
	metrics      *Metrics
	gatherer     prometheus.Gatherer
	startTime    time.Time
	requestCount int64
	mutex        sync.Mutex
}

// NewMonitor registers with the default prometheus registry.
func NewMonitor(namespace string) *Monitor {
	return NewMonitorWithRegistry(namespace, prometheus.DefaultRegisterer, prometheus.DefaultGatherer)
}

func NewMonitorWithRegistry(namespace string, reg prometheus.Registerer, gatherer prometheus.Gatherer) *Monitor {
	return &Monitor{
		metrics:   NewMetrics(namespace, reg),
		gatherer:  gatherer,
		startTime: time.Now(),
	}
}

func (m *Monitor) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Monitor) StartServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.Handle("/debug/vars", expvar.Handler())

	// 添加expvar指标
	expvar.Publish("uptime", expvar.Func(func() interface{} {
		return time.Since(m.startTime).Seconds()
	}))

	expvar.Publish("requests", expvar.Func(func() interface{} {
		m.mutex.Lock()
		defer m.mutex.Unlock()
		return m.requestCount
	}))

	srv := &http.Server{Addr: addr, Handler: mux}
	go srv.ListenAndServe()
	return srv
}

func (m *Monitor) IncConnectedClients() {
	m.metrics.ConnectedClients.Inc()
}

func (m *Monitor) DecConnectedClients() {
	m.metrics.ConnectedClients.Dec()
}

func (m *Monitor) IncMessagesReceived() {
	m.metrics.MessagesReceived.Inc()
	m.mutex.Lock()
	m.requestCount++
	m.mutex.Unlock()
}

func (m *Monitor) ObserveMessageLatency(duration time.Duration) {
	m.metrics.MessageLatency.Observe(duration.Seconds())
}

// device.Recorder

func (m *Monitor) ObserveCommand(cmd device.Command, outcome device.Outcome) {
	m.metrics.DeviceCommands.WithLabelValues(cmd.String(), outcome.String()).Inc()
}

func (m *Monitor) ObserveTemperature(celsius float64) {
	m.metrics.Temperature.Set(celsius)
}

// game.Observer

func (m *Monitor) ObservePhase(from, to state.Phase) {
	m.metrics.PhaseChanges.WithLabelValues(string(to)).Inc()
}

func (m *Monitor) ObserveTurn(t game.TurnResult) {
	result := "failed"
	switch {
	case t.Success:
		result = "completed"
	case t.Skipped:
		result = "skipped"
	}
	m.metrics.Turns.WithLabelValues(result).Inc()
	if t.Eliminated {
		m.metrics.Turns.WithLabelValues("eliminated").Inc()
	}
	m.metrics.TurnPoints.Observe(float64(t.Points))
}

// room.TickObserver

func (m *Monitor) ObserveTick(d time.Duration) {
	m.metrics.TickDuration.Observe(d.Seconds())
}
