// Package node runs the control loop: poll actuator commands from the
// remote store and push thermometer readings to it, each on its own interval.
package node

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"gitlab.com/lologarithm/cloudthermo/actuator"
	"gitlab.com/lologarithm/cloudthermo/climate"
	"gitlab.com/lologarithm/cloudthermo/clock"
	"gitlab.com/lologarithm/cloudthermo/refuge"
	"gitlab.com/lologarithm/cloudthermo/sensor"
	"gitlab.com/lologarithm/cloudthermo/telemetry"
)

var (
	// ErrNotReady means the remote session is not authenticated.
	ErrNotReady = errors.New("remote store not ready")
	// ErrBadReading means the thermometer returned NaN.
	ErrBadReading = errors.New("invalid thermometer reading")
)

// Store is the remote database as seen by the control loop.
type Store interface {
	Ready() bool
	GetBool(ctx context.Context, path string) (bool, error)
	GetInt(ctx context.Context, path string) (int, error)
	SetString(ctx context.Context, path, v string) error
	SetFloat(ctx context.Context, path string, v float64) error
}

// Observer receives every record written and every actuator update applied.
type Observer interface {
	Observe(e refuge.Event)
}

// Config holds the loop timing and derived-value settings.
type Config struct {
	Name          string
	SensorEvery   time.Duration
	ActuatorEvery time.Duration
	PollEvery     time.Duration
	Zone          *time.Location
	Thresholds    climate.Thresholds
}

// DefaultConfig matches the original devices: actuators every 3s, sensor every 60s.
func DefaultConfig() Config {
	return Config{
		Name:          "cloudthermo",
		SensorEvery:   60 * time.Second,
		ActuatorEvery: 3 * time.Second,
		PollEvery:     50 * time.Millisecond,
		Zone:          clock.Zone(3600, 3600),
		Thresholds:    climate.DefaultThresholds,
	}
}

// Node is the control loop context. It owns both interval gates and is
// driven from a single goroutine.
type Node struct {
	cfg    Config
	store  Store
	therm  sensor.Reader
	out    actuator.Outputs
	clock  clock.Source
	millis func() uint32

	sensorGate   *Gate
	actuatorGate *Gate

	log       *zap.Logger
	metrics   *telemetry.Metrics
	observers []Observer
}

type Option func(n *Node)

func WithLogger(l *zap.Logger) Option {
	return func(n *Node) {
		n.log = l
	}
}

func WithMetrics(m *telemetry.Metrics) Option {
	return func(n *Node) {
		n.metrics = m
	}
}

func WithObserver(o Observer) Option {
	return func(n *Node) {
		n.observers = append(n.observers, o)
	}
}

// WithMillis replaces the loop's millisecond counter.
func WithMillis(f func() uint32) Option {
	return func(n *Node) {
		n.millis = f
	}
}

func New(cfg Config, store Store, therm sensor.Reader, out actuator.Outputs, src clock.Source, opts ...Option) *Node {
	if cfg.Zone == nil {
		cfg.Zone = time.Local
	}
	if cfg.PollEvery <= 0 {
		cfg.PollEvery = DefaultConfig().PollEvery
	}
	n := &Node{
		cfg:          cfg,
		store:        store,
		therm:        therm,
		out:          out,
		clock:        src,
		millis:       clock.NewMillis().Now,
		sensorGate:   NewGate(uint32(cfg.SensorEvery.Milliseconds())),
		actuatorGate: NewGate(uint32(cfg.ActuatorEvery.Milliseconds())),
		log:          zap.L(),
	}
	for _, o := range opts {
		o(n)
	}
	return n
}

// Run ticks every PollEvery until ctx is done.
func (n *Node) Run(ctx context.Context) error {
	n.log.Info("steady state polling",
		zap.Duration("actuatorEvery", n.cfg.ActuatorEvery),
		zap.Duration("sensorEvery", n.cfg.SensorEvery),
	)
	ticker := time.NewTicker(n.cfg.PollEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			n.Tick(ctx)
		}
	}
}

// Tick runs whichever phases are due. A failure in one phase never skips
// the other.
func (n *Node) Tick(ctx context.Context) {
	now := n.millis()
	if n.actuatorGate.Fire(now) {
		n.metrics.Tick("actuator")
		if _, err := n.SyncActuators(ctx); err != nil {
			n.metrics.Skip("actuator", skipReason(err))
			n.log.Debug("actuator tick skipped", zap.Error(err))
		}
	}
	if n.sensorGate.Fire(now) {
		n.metrics.Tick("sensor")
		if _, err := n.SyncSensor(ctx); err != nil {
			n.metrics.Skip("sensor", skipReason(err))
			n.log.Warn("sensor tick skipped", zap.Error(err))
		}
	}
}

func skipReason(err error) string {
	switch {
	case errors.Is(err, ErrNotReady):
		return "not_ready"
	case errors.Is(err, ErrBadReading):
		return "bad_reading"
	case errors.Is(err, clock.ErrNotSynced):
		return "not_synced"
	}
	return "write_failed"
}

func (n *Node) notify(e refuge.Event) {
	e.Name = n.cfg.Name
	e.Time = time.Now()
	for _, o := range n.observers {
		o.Observe(e)
	}
}
