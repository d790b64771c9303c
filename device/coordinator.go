package device

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Confirmed is a state reported by the appliance itself, as opposed to the
// Coordinator's belief about what its own writes achieved.
type Confirmed struct {
	Known bool
	On    bool
}

// TemperatureWrite records the last accepted target write.
type TemperatureWrite struct {
	Value int
	At    time.Time
}

// State is the Coordinator's view of the appliance. HeaterOn and PumpOn are
// beliefs and can be wrong after a button press or firmware auto-off.
type State struct {
	Connected            bool
	HeaterOn             bool
	PumpOn               bool
	HeaterConfirmed      Confirmed
	PumpConfirmed        Confirmed
	TargetTemperature    int
	LastTemperature      float64
	Gate                 Gate
	PumpStopLocked       bool
	HeaterSuspect        bool
	LastHeaterStartAt    time.Time
	LastTemperatureWrite *TemperatureWrite
	Brightness           int
}

// Coordinator turns intents into wire writes exactly once per intended
// transition. It is not safe for concurrent use; the room controller owns it.
type Coordinator struct {
	link  Link
	opts  options
	state State
}

// NewCoordinator wraps link. The gate starts open, matching the Setup phase.
func NewCoordinator(link Link, opts ...Option) *Coordinator {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Coordinator{
		link: link,
		opts: o,
		state: State{
			Connected:  link.Connected(),
			Gate:       GateOpen,
			Brightness: -1,
		},
	}
}

// State returns a copy of the current device state.
func (c *Coordinator) State() State {
	s := c.state
	if s.LastTemperatureWrite != nil {
		w := *s.LastTemperatureWrite
		s.LastTemperatureWrite = &w
	}
	return s
}

func (c *Coordinator) Connected() bool { return c.state.Connected }

func (c *Coordinator) SupportsNotify() bool { return c.link.SupportsNotify() }

// SetGate is called by the session on every phase change.
func (c *Coordinator) SetGate(g Gate) {
	if c.state.Gate != g {
		c.opts.log.Debugw("device gate changed", "from", c.state.Gate, "to", g)
	}
	c.state.Gate = g
}

// LockPumpStop blocks ordinary pump stops until ForcePumpStop runs.
func (c *Coordinator) LockPumpStop() {
	c.state.PumpStopLocked = true
}

// RequestPump switches the air pump.
func (c *Coordinator) RequestPump(on bool) Outcome {
	switch {
	case !c.state.Connected:
		return c.finish(CmdPump, NotConnected)
	case c.state.PumpOn == on:
		return c.finish(CmdPump, SuppressedRedundant)
	case !on && c.state.PumpStopLocked:
		return c.finish(CmdPump, SuppressedGate)
	}
	out := c.transmit(CmdPump, EncodeSwitch(on))
	if out == Accepted {
		c.state.PumpOn = on
	}
	return c.finish(CmdPump, out)
}

// ForcePumpStop always transmits a stop and clears the stop lock. The
// session calls it once at the end of every cycle.
func (c *Coordinator) ForcePumpStop() Outcome {
	c.state.PumpStopLocked = false
	c.state.PumpOn = false
	if !c.state.Connected {
		return c.finish(CmdPump, NotConnected)
	}
	return c.finish(CmdPump, c.transmit(CmdPump, EncodeSwitch(false)))
}

// RequestHeater switches the heater. Starts are coalesced: a start is
// dropped when the heater is believed on or the last accepted start is
// younger than the cooldown. A stop is always transmitted, since the heater
// may be running whatever the belief says.
func (c *Coordinator) RequestHeater(on bool) Outcome {
	if !c.state.Connected {
		return c.finish(CmdHeater, NotConnected)
	}
	if c.state.Gate != GateOpen {
		return c.finish(CmdHeater, SuppressedGate)
	}
	now := c.opts.now()
	if on {
		if c.state.HeaterOn {
			return c.finish(CmdHeater, SuppressedRedundant)
		}
		if !c.state.LastHeaterStartAt.IsZero() && now.Sub(c.state.LastHeaterStartAt) < c.opts.cooldown {
			return c.finish(CmdHeater, SuppressedRateLimit)
		}
	}

	out := c.transmit(CmdHeater, EncodeSwitch(on))
	if out == Accepted {
		c.state.HeaterOn = on
		c.state.HeaterSuspect = false
		if on {
			c.state.LastHeaterStartAt = now
		}
	}
	return c.finish(CmdHeater, out)
}

// RequestTemperature sets the target in °C, clamped to the supported range.
func (c *Coordinator) RequestTemperature(celsius int) Outcome {
	celsius = ClampTarget(celsius)
	if !c.state.Connected {
		return c.finish(CmdTargetTemperature, NotConnected)
	}
	if c.state.Gate != GateOpen {
		return c.finish(CmdTargetTemperature, SuppressedGate)
	}
	now := c.opts.now()
	if last := c.state.LastTemperatureWrite; last != nil && last.Value == celsius && now.Sub(last.At) < c.opts.cooldown {
		return c.finish(CmdTargetTemperature, SuppressedRedundant)
	}
	out := c.transmit(CmdTargetTemperature, EncodeTemperature(celsius))
	if out == Accepted {
		c.state.TargetTemperature = celsius
		c.state.LastTemperatureWrite = &TemperatureWrite{Value: celsius, At: now}
	}
	return c.finish(CmdTargetTemperature, out)
}

// RequestBrightness sets the LED brightness, 0 to 100 percent.
func (c *Coordinator) RequestBrightness(percent int) Outcome {
	percent = clamp(percent, 0, 100)
	if !c.state.Connected {
		return c.finish(CmdBrightness, NotConnected)
	}
	if c.state.Brightness == percent {
		return c.finish(CmdBrightness, SuppressedRedundant)
	}
	out := c.transmit(CmdBrightness, EncodeBrightness(percent))
	if out == Accepted {
		c.state.Brightness = percent
	}
	return c.finish(CmdBrightness, out)
}

// ResyncHeater drops the heater belief so a caller that saw the temperature
// fall can issue a fresh start. The start cooldown still applies.
func (c *Coordinator) ResyncHeater() {
	c.state.HeaterOn = false
	c.state.HeaterSuspect = false
}

// TemperatureReady reports whether the last reading is within tolerance of
// the target.
func (c *Coordinator) TemperatureReady() bool {
	return WithinTolerance(c.state.LastTemperature, c.state.TargetTemperature)
}

// OnTemperatureSample records a reading in °C.
func (c *Coordinator) OnTemperatureSample(celsius float64) {
	prev := c.state.LastTemperature
	c.state.LastTemperature = celsius
	c.opts.recorder.ObserveTemperature(celsius)

	target := c.state.TargetTemperature
	if c.state.HeaterOn && WithinTolerance(prev, target) && celsius < float64(target-2*ReadyTolerance) {
		if !c.state.HeaterSuspect {
			c.opts.log.Infow("temperature fell while heater believed on",
				"previous", prev, "current", celsius, "target", target)
		}
		c.state.HeaterSuspect = true
	}
}

// ReadTemperature pulls a reading for transports without notifications.
func (c *Coordinator) ReadTemperature() (float64, Outcome) {
	if !c.state.Connected {
		return c.state.LastTemperature, NotConnected
	}
	payload, err := c.link.Read(CmdTemperature)
	if err != nil {
		c.opts.log.Warnw("temperature read failed", "error", err)
		c.setConnected(false)
		return c.state.LastTemperature, NotConnected
	}
	if v, ok := DecodeTemperature(payload); ok {
		c.OnTemperatureSample(v)
	} else {
		c.opts.log.Debugw("discarding short temperature payload", "bytes", len(payload))
	}
	return c.state.LastTemperature, Accepted
}

// HandleNotify applies a pushed characteristic value.
func (c *Coordinator) HandleNotify(cmd Command, payload []byte) {
	switch cmd {
	case CmdTemperature:
		v, ok := DecodeTemperature(payload)
		if !ok {
			c.opts.log.Debugw("discarding short temperature payload", "bytes", len(payload))
			return
		}
		c.OnTemperatureSample(v)
	case CmdHeater:
		on, ok := DecodeSwitch(payload)
		if !ok {
			return
		}
		c.state.HeaterConfirmed = Confirmed{Known: true, On: on}
		if c.state.HeaterOn != on {
			c.opts.log.Infow("heater state diverged from belief", "believed", c.state.HeaterOn, "reported", on)
			c.state.HeaterOn = on
		}
	case CmdPump:
		on, ok := DecodeSwitch(payload)
		if !ok {
			return
		}
		c.state.PumpConfirmed = Confirmed{Known: true, On: on}
		if c.state.PumpOn != on {
			c.opts.log.Infow("pump state diverged from belief", "believed", c.state.PumpOn, "reported", on)
			c.state.PumpOn = on
		}
	default:
		c.opts.log.Debugw("ignoring notification", "command", cmd, "bytes", len(payload))
	}
}

// HandleConnection records a link state change. After a reconnect nothing
// about the appliance is assumed, and the target is sent again on request.
func (c *Coordinator) HandleConnection(connected bool) {
	c.setConnected(connected)
	if connected {
		c.state.HeaterOn = false
		c.state.PumpOn = false
		c.state.PumpStopLocked = false
		c.state.HeaterConfirmed = Confirmed{}
		c.state.PumpConfirmed = Confirmed{}
		c.state.LastTemperatureWrite = nil
		c.state.Brightness = -1
	}
}

func (c *Coordinator) setConnected(connected bool) {
	if c.state.Connected != connected {
		c.opts.log.Infow("device connection changed", "connected", connected)
	}
	c.state.Connected = connected
}

func (c *Coordinator) transmit(cmd Command, payload []byte) Outcome {
	_, span := c.opts.tracer.Start(context.Background(), "device.write",
		trace.WithAttributes(
			attribute.String("device.command", cmd.String()),
			attribute.Int("device.payload_bytes", len(payload)),
		))
	defer span.End()

	if err := c.link.Write(cmd, payload); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "write failed")
		c.opts.log.Warnw("device write failed", "command", cmd, "error", err)
		c.setConnected(false)
		return NotConnected
	}
	return Accepted
}

func (c *Coordinator) finish(cmd Command, out Outcome) Outcome {
	c.opts.recorder.ObserveCommand(cmd, out)
	if out != Accepted {
		c.opts.log.Debugw("device command not sent", "command", cmd, "outcome", out, "gate", c.state.Gate)
	}
	return out
}
