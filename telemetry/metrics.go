package telemetry

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	semconv "go.opentelemetry.io/otel/semconv/v1.20.0"
)

const scope = "gitlab.com/lologarithm/cloudthermo"

// Metrics are the node counters. A nil *Metrics is valid and records nothing.
type Metrics struct {
	reg *prometheus.Registry

	ticks        *prometheus.CounterVec
	skips        *prometheus.CounterVec
	readFailures *prometheus.CounterVec
	writeFails   prometheus.Counter
	temp         prometheus.Gauge
	humidity     prometheus.Gauge

	otelTemp     metric.Float64Gauge
	otelHumidity metric.Float64Gauge
}

func NewMetrics() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		ticks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cloudthermo_ticks_total",
			Help: "Gated ticks by phase.",
		}, []string{"phase"}),
		skips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cloudthermo_skipped_ticks_total",
			Help: "Ticks that did not complete, by phase and reason.",
		}, []string{"phase", "reason"}),
		readFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cloudthermo_read_failures_total",
			Help: "Failed actuator key reads.",
		}, []string{"path"}),
		writeFails: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cloudthermo_write_failures_total",
			Help: "Failed record field writes.",
		}),
		temp: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cloudthermo_temperature_celsius",
			Help: "Last temperature written.",
		}),
		humidity: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cloudthermo_humidity_percent",
			Help: "Last relative humidity written.",
		}),
	}
	m.reg.MustRegister(m.ticks, m.skips, m.readFailures, m.writeFails, m.temp, m.humidity)

	meter := otel.Meter(scope, metric.WithInstrumentationAttributes(semconv.OTelScopeName(scope)))
	m.otelTemp, _ = meter.Float64Gauge("sensor.temperature",
		metric.WithUnit("Cel"),
		metric.WithDescription("Indoor temperature in degrees Celsius"),
	)
	m.otelHumidity, _ = meter.Float64Gauge("sensor.humidity",
		metric.WithUnit("%"),
		metric.WithDescription("Indoor relative humidity as a percentage"),
	)
	return m
}

// Handler serves the prometheus metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

func (m *Metrics) Tick(phase string) {
	if m == nil {
		return
	}
	m.ticks.WithLabelValues(phase).Inc()
}

func (m *Metrics) Skip(phase, reason string) {
	if m == nil {
		return
	}
	m.skips.WithLabelValues(phase, reason).Inc()
}

func (m *Metrics) ReadFailed(path string) {
	if m == nil {
		return
	}
	m.readFailures.WithLabelValues(path).Inc()
}

func (m *Metrics) WriteFailed() {
	if m == nil {
		return
	}
	m.writeFails.Inc()
}

func (m *Metrics) Reading(temp, humidity float32) {
	if m == nil {
		return
	}
	m.temp.Set(float64(temp))
	m.humidity.Set(float64(humidity))
	if m.otelTemp != nil {
		m.otelTemp.Record(context.Background(), float64(temp))
	}
	if m.otelHumidity != nil {
		m.otelHumidity.Record(context.Background(), float64(humidity))
	}
}
