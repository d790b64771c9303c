// Package sim simulates the heater/air-pump appliance behind a device.Link.
package sim

import (
	"context"
	"encoding/binary"
	"math"
	"sync"
	"time"

	"github.com/wfunc/holdgame/device"
)

// Params tunes the simulated heating curve.
type Params struct {
	Ambient     float64 // °C
	HeatRate    float64 // °C per second while heating
	CoolRate    float64 // °C per second while idle
	PumpDraw    float64 // extra °C per second lost while the pump runs
	PushReads   bool    // send temperature notifications on every step
	AutoOff     time.Duration
	StepEvery   time.Duration
	InitialTemp float64
}

func DefaultParams() Params {
	return Params{
		Ambient:   22,
		HeatRate:  6,
		CoolRate:  1.5,
		PumpDraw:  2,
		PushReads: true,
		StepEvery: 200 * time.Millisecond,
	}
}

// Appliance is an in-process device.Link.
type Appliance struct {
	mu      sync.Mutex
	params  Params
	handler device.Handler

	connected  bool
	heaterOn   bool
	pumpOn     bool
	target     float64
	temp       float64
	brightness int
	idleFor    time.Duration

	heaterToggles int
	writes        map[device.Command]int
}

func New(params Params) *Appliance {
	temp := params.InitialTemp
	if temp == 0 {
		temp = params.Ambient
	}
	return &Appliance{
		params:    params,
		connected: true,
		temp:      temp,
		target:    params.Ambient,
		writes:    make(map[device.Command]int),
	}
}

func (a *Appliance) SetHandler(h device.Handler) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.handler = h
}

func (a *Appliance) Connected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connected
}

func (a *Appliance) SupportsNotify() bool { return a.params.PushReads }

func (a *Appliance) Write(cmd device.Command, payload []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.connected {
		return device.ErrNotConnected
	}
	a.writes[cmd]++

	switch cmd {
	case device.CmdPump:
		if on, ok := device.DecodeSwitch(payload); ok {
			a.pumpOn = on
			a.idleFor = 0
		}
	case device.CmdHeater:
		if on, ok := device.DecodeSwitch(payload); ok {
			if on != a.heaterOn {
				a.heaterToggles++
			}
			a.heaterOn = on
			a.idleFor = 0
		}
	case device.CmdTargetTemperature:
		if v, ok := device.DecodeTemperature(payload); ok {
			a.target = v
		}
	case device.CmdBrightness:
		if len(payload) >= 2 {
			a.brightness = int(binary.LittleEndian.Uint16(payload))
		}
	}
	return nil
}

func (a *Appliance) Read(cmd device.Command) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.connected {
		return nil, device.ErrNotConnected
	}
	switch cmd {
	case device.CmdTemperature:
		return device.EncodeTemperature(int(math.Round(a.temp))), nil
	case device.CmdHeater:
		return device.EncodeSwitch(a.heaterOn), nil
	case device.CmdPump:
		return device.EncodeSwitch(a.pumpOn), nil
	default:
		return nil, nil
	}
}

// Step advances the simulation by dt and pushes notifications.
func (a *Appliance) Step(dt time.Duration) {
	type event struct {
		cmd     device.Command
		payload []byte
	}
	var events []event

	a.mu.Lock()
	secs := dt.Seconds()
	switch {
	case a.heaterOn && a.temp < a.target:
		a.temp = math.Min(a.target, a.temp+a.params.HeatRate*secs)
	case a.heaterOn:
		// holds at target
	default:
		a.temp = math.Max(a.params.Ambient, a.temp-a.params.CoolRate*secs)
	}
	if a.pumpOn {
		a.temp = math.Max(a.params.Ambient, a.temp-a.params.PumpDraw*secs)
	}

	if a.heaterOn && !a.pumpOn && a.params.AutoOff > 0 {
		a.idleFor += dt
		if a.idleFor >= a.params.AutoOff {
			a.heaterOn = false
			a.idleFor = 0
			events = append(events, event{device.CmdHeater, device.EncodeSwitch(false)})
		}
	}
	if a.connected && a.params.PushReads {
		tenths := make([]byte, 4)
		binary.LittleEndian.PutUint32(tenths, uint32(math.Round(a.temp*10)))
		events = append(events, event{device.CmdTemperature, tenths})
	}
	h := a.handler
	connected := a.connected
	a.mu.Unlock()

	if h == nil || !connected {
		return
	}
	for _, e := range events {
		h.HandleNotify(e.cmd, e.payload)
	}
}

// Run steps the simulation until ctx is done.
func (a *Appliance) Run(ctx context.Context) {
	every := a.params.StepEvery
	if every <= 0 {
		every = 200 * time.Millisecond
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.Step(every)
		}
	}
}

// SetConnected simulates the radio link dropping or recovering.
func (a *Appliance) SetConnected(connected bool) {
	a.mu.Lock()
	changed := a.connected != connected
	a.connected = connected
	h := a.handler
	a.mu.Unlock()
	if changed && h != nil {
		h.HandleConnection(connected)
	}
}

// PressButton toggles the heater as the physical button would, without the
// coordinator knowing.
func (a *Appliance) PressButton() {
	a.mu.Lock()
	a.heaterOn = !a.heaterOn
	a.heaterToggles++
	on := a.heaterOn
	h := a.handler
	a.mu.Unlock()
	if h != nil {
		h.HandleNotify(device.CmdHeater, device.EncodeSwitch(on))
	}
}

// Snapshot is the simulator's true physical state.
type Snapshot struct {
	HeaterOn      bool
	PumpOn        bool
	Target        float64
	Temperature   float64
	Brightness    int
	HeaterToggles int
	Writes        map[device.Command]int
}

func (a *Appliance) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	writes := make(map[device.Command]int, len(a.writes))
	for k, v := range a.writes {
		writes[k] = v
	}
	return Snapshot{
		HeaterOn:      a.heaterOn,
		PumpOn:        a.pumpOn,
		Target:        a.target,
		Temperature:   a.temp,
		Brightness:    a.brightness,
		HeaterToggles: a.heaterToggles,
		Writes:        writes,
	}
}
