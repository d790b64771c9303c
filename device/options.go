package device

import (
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// DefaultCooldown is the minimum spacing between accepted heater starts and
// between identical target temperature writes.
const DefaultCooldown = 8 * time.Second

// Recorder receives command outcomes and temperature samples.
type Recorder interface {
	ObserveCommand(cmd Command, outcome Outcome)
	ObserveTemperature(celsius float64)
}

type nopRecorder struct{}

func (nopRecorder) ObserveCommand(Command, Outcome) {}
func (nopRecorder) ObserveTemperature(float64)      {}

type options struct {
	log      *zap.SugaredLogger
	now      func() time.Time
	recorder Recorder
	tracer   trace.Tracer
	cooldown time.Duration
}

// Option configures a Coordinator.
type Option func(*options)

func defaultOptions() options {
	return options{
		log:      zap.NewNop().Sugar(),
		now:      time.Now,
		recorder: nopRecorder{},
		tracer:   otel.Tracer("github.com/wfunc/holdgame/device"),
		cooldown: DefaultCooldown,
	}
}

func WithLogger(log *zap.SugaredLogger) Option {
	return func(o *options) {
		if log != nil {
			o.log = log
		}
	}
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

func WithRecorder(r Recorder) Option {
	return func(o *options) {
		if r != nil {
			o.recorder = r
		}
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(o *options) {
		if t != nil {
			o.tracer = t
		}
	}
}

func WithCooldown(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.cooldown = d
		}
	}
}
