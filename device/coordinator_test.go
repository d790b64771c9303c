package device

import (
	"bytes"
	"errors"
	"testing"
	"time"
)

type write struct {
	cmd     Command
	payload []byte
}

// MockLink records writes and serves reads from a canned payload.
type MockLink struct {
	connected bool
	notify    bool
	writes    []write
	writeErr  error
	readData  []byte
	readErr   error
}

func (m *MockLink) Write(cmd Command, payload []byte) error {
	if m.writeErr != nil {
		return m.writeErr
	}
	m.writes = append(m.writes, write{cmd: cmd, payload: append([]byte(nil), payload...)})
	return nil
}

func (m *MockLink) Read(cmd Command) ([]byte, error) { return m.readData, m.readErr }
func (m *MockLink) Connected() bool                  { return m.connected }
func (m *MockLink) SupportsNotify() bool             { return m.notify }
func (m *MockLink) SetHandler(h Handler)             {}

func (m *MockLink) count(cmd Command) int {
	n := 0
	for _, w := range m.writes {
		if w.cmd == cmd {
			n++
		}
	}
	return n
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestCoordinator() (*Coordinator, *MockLink, *fakeClock) {
	link := &MockLink{connected: true, notify: true}
	clock := &fakeClock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	return NewCoordinator(link, WithClock(clock.Now)), link, clock
}

func TestCoordinator_HeaterStartCoalescedWithinCooldown(t *testing.T) {
	c, link, clock := newTestCoordinator()

	if out := c.RequestHeater(true); out != Accepted {
		t.Fatalf("Expected first start to be accepted, got %v", out)
	}
	clock.Advance(2 * time.Second)
	if out := c.RequestHeater(true); out != SuppressedRedundant {
		t.Errorf("Expected second start to be suppressed as redundant, got %v", out)
	}
	if got := link.count(CmdHeater); got != 1 {
		t.Errorf("Expected exactly one heater transmission, got %d", got)
	}
}

func TestCoordinator_HeaterRateLimitAfterResync(t *testing.T) {
	c, link, clock := newTestCoordinator()
	c.RequestHeater(true)

	c.ResyncHeater()
	clock.Advance(3 * time.Second)
	if out := c.RequestHeater(true); out != SuppressedRateLimit {
		t.Fatalf("Expected rate limit inside cooldown, got %v", out)
	}

	clock.Advance(DefaultCooldown)
	if out := c.RequestHeater(true); out != Accepted {
		t.Fatalf("Expected start after cooldown, got %v", out)
	}
	if got := link.count(CmdHeater); got != 2 {
		t.Errorf("Expected two heater transmissions, got %d", got)
	}
}

func TestCoordinator_PumpIdempotent(t *testing.T) {
	c, link, _ := newTestCoordinator()

	if out := c.RequestPump(false); out != SuppressedRedundant {
		t.Errorf("Expected stop of idle pump to be redundant, got %v", out)
	}
	if out := c.RequestPump(true); out != Accepted {
		t.Fatalf("Expected pump start, got %v", out)
	}
	for i := 0; i < 3; i++ {
		if out := c.RequestPump(true); out != SuppressedRedundant {
			t.Errorf("Expected repeated start to be redundant, got %v", out)
		}
	}
	if got := link.count(CmdPump); got != 1 {
		t.Errorf("Expected one pump write, got %d", got)
	}
	if !bytes.Equal(link.writes[0].payload, []byte{0x01}) {
		t.Errorf("Expected pump on payload 0x01, got %x", link.writes[0].payload)
	}
}

func TestCoordinator_ForcePumpStopBypassesLock(t *testing.T) {
	c, link, _ := newTestCoordinator()
	c.RequestPump(true)
	c.LockPumpStop()

	if out := c.RequestPump(false); out != SuppressedGate {
		t.Fatalf("Expected locked stop to be suppressed, got %v", out)
	}
	if out := c.ForcePumpStop(); out != Accepted {
		t.Fatalf("Expected forced stop to be accepted, got %v", out)
	}
	st := c.State()
	if st.PumpOn || st.PumpStopLocked {
		t.Errorf("Expected pump off and unlocked, got %+v", st)
	}
	last := link.writes[len(link.writes)-1]
	if last.cmd != CmdPump || !bytes.Equal(last.payload, []byte{0x00}) {
		t.Errorf("Expected last write to be pump off, got %v %x", last.cmd, last.payload)
	}

	// Forced stop transmits even when the pump is already believed off.
	if out := c.ForcePumpStop(); out != Accepted {
		t.Errorf("Expected second forced stop to be accepted, got %v", out)
	}
}

func TestCoordinator_PhaseGateSuppressesHeaterCommands(t *testing.T) {
	c, link, _ := newTestCoordinator()
	c.SetGate(GateTurnActive)

	if out := c.RequestHeater(true); out != SuppressedGate {
		t.Errorf("Expected heater start to be gated, got %v", out)
	}
	if out := c.RequestTemperature(190); out != SuppressedGate {
		t.Errorf("Expected temperature write to be gated, got %v", out)
	}
	if out := c.RequestPump(true); out != Accepted {
		t.Errorf("Expected pump to ignore the heater gate, got %v", out)
	}
	if len(link.writes) != 1 {
		t.Errorf("Expected only the pump write, got %d writes", len(link.writes))
	}

	c.SetGate(GateOpen)
	if out := c.RequestHeater(true); out != Accepted {
		t.Errorf("Expected heater start after gate opens, got %v", out)
	}
}

func TestCoordinator_TemperatureDeduplication(t *testing.T) {
	c, link, clock := newTestCoordinator()

	if out := c.RequestTemperature(185); out != Accepted {
		t.Fatalf("Expected first write accepted, got %v", out)
	}
	want := []byte{0x3A, 0x07, 0x00, 0x00} // 1850
	if !bytes.Equal(link.writes[0].payload, want) {
		t.Errorf("Expected payload %x, got %x", want, link.writes[0].payload)
	}

	clock.Advance(time.Second)
	if out := c.RequestTemperature(185); out != SuppressedRedundant {
		t.Errorf("Expected identical value to be suppressed, got %v", out)
	}
	if out := c.RequestTemperature(190); out != Accepted {
		t.Errorf("Expected changed value to pass, got %v", out)
	}
	clock.Advance(DefaultCooldown)
	if out := c.RequestTemperature(190); out != Accepted {
		t.Errorf("Expected identical value after the window to pass, got %v", out)
	}
	if got := c.State().TargetTemperature; got != 190 {
		t.Errorf("Expected target 190, got %d", got)
	}
}

func TestCoordinator_TemperatureClamped(t *testing.T) {
	c, link, _ := newTestCoordinator()
	c.RequestTemperature(500)
	if got := c.State().TargetTemperature; got != MaxTargetTemperature {
		t.Errorf("Expected clamp to %d, got %d", MaxTargetTemperature, got)
	}
	if !bytes.Equal(link.writes[0].payload, EncodeTemperature(MaxTargetTemperature)) {
		t.Errorf("Expected clamped payload, got %x", link.writes[0].payload)
	}
}

func TestCoordinator_BrightnessEncoding(t *testing.T) {
	c, link, _ := newTestCoordinator()
	if out := c.RequestBrightness(75); out != Accepted {
		t.Fatalf("Expected brightness accepted, got %v", out)
	}
	if !bytes.Equal(link.writes[0].payload, []byte{75, 0}) {
		t.Errorf("Expected 2-byte little endian payload, got %x", link.writes[0].payload)
	}
	if out := c.RequestBrightness(75); out != SuppressedRedundant {
		t.Errorf("Expected repeated brightness to be redundant, got %v", out)
	}
}

func TestCoordinator_WriteErrorDisconnects(t *testing.T) {
	c, link, _ := newTestCoordinator()
	link.writeErr = errors.New("gatt write rejected")

	if out := c.RequestPump(true); out != NotConnected {
		t.Fatalf("Expected NotConnected, got %v", out)
	}
	if c.Connected() {
		t.Error("Expected coordinator to record the connection loss")
	}
	if out := c.RequestHeater(true); out != NotConnected {
		t.Errorf("Expected NotConnected for subsequent requests, got %v", out)
	}
}

func TestCoordinator_NotifyDecoding(t *testing.T) {
	c, _, _ := newTestCoordinator()
	c.RequestTemperature(185)

	c.HandleNotify(CmdTemperature, []byte{0x3A, 0x07, 0x00, 0x00})
	if got := c.State().LastTemperature; got != 185 {
		t.Errorf("Expected 185 from 4-byte payload, got %v", got)
	}
	if !c.TemperatureReady() {
		t.Error("Expected temperature to be ready")
	}

	c.HandleNotify(CmdTemperature, []byte{0x08, 0x07})
	if got := c.State().LastTemperature; got != 180 {
		t.Errorf("Expected 180 from legacy payload, got %v", got)
	}

	c.HandleNotify(CmdTemperature, []byte{0x01})
	if got := c.State().LastTemperature; got != 180 {
		t.Errorf("Expected short payload to be discarded, got %v", got)
	}
}

func TestCoordinator_ReadinessRequiresNonZeroReading(t *testing.T) {
	c, _, _ := newTestCoordinator()
	c.RequestTemperature(MinTargetTemperature)
	if c.TemperatureReady() {
		t.Error("Expected no readiness before any sample")
	}
	c.OnTemperatureSample(0)
	if c.TemperatureReady() {
		t.Error("Expected a zero reading to never be ready")
	}
	c.OnTemperatureSample(44)
	if !c.TemperatureReady() {
		t.Error("Expected 44 to be within tolerance of 40")
	}
	c.OnTemperatureSample(46)
	if c.TemperatureReady() {
		t.Error("Expected 46 to be outside tolerance of 40")
	}
}

func TestCoordinator_ReadTemperaturePull(t *testing.T) {
	c, link, _ := newTestCoordinator()
	link.readData = EncodeTemperature(120)

	got, out := c.ReadTemperature()
	if out != Accepted || got != 120 {
		t.Fatalf("Expected 120/accepted, got %v/%v", got, out)
	}

	link.readErr = errors.New("timeout")
	if _, out := c.ReadTemperature(); out != NotConnected {
		t.Errorf("Expected NotConnected on read failure, got %v", out)
	}
}

func TestCoordinator_DivergenceIsInformative(t *testing.T) {
	c, _, _ := newTestCoordinator()
	c.RequestTemperature(185)
	c.RequestHeater(true)
	// still heating up: low readings are expected
	c.OnTemperatureSample(120)
	c.OnTemperatureSample(110)
	if c.State().HeaterSuspect {
		t.Fatal("Expected no suspicion before the target was reached")
	}
	c.OnTemperatureSample(184)
	c.OnTemperatureSample(176)
	if c.State().HeaterSuspect {
		t.Fatal("Expected a drop within twice the tolerance to be ignored")
	}
	c.OnTemperatureSample(184)
	c.OnTemperatureSample(150)

	st := c.State()
	if !st.HeaterSuspect {
		t.Error("Expected a drop while heater believed on to mark the heater suspect")
	}
	if !st.HeaterOn {
		t.Error("Expected the belief to be left alone")
	}

	c.HandleNotify(CmdHeater, []byte{0x00})
	st = c.State()
	if st.HeaterOn || !st.HeaterConfirmed.Known || st.HeaterConfirmed.On {
		t.Errorf("Expected confirmed off to correct the belief, got %+v", st)
	}
}

func TestCoordinator_ReconnectClearsBeliefs(t *testing.T) {
	c, link, _ := newTestCoordinator()
	c.RequestTemperature(185)
	c.RequestPump(true)
	c.HandleConnection(false)
	if out := c.RequestPump(false); out != NotConnected {
		t.Errorf("Expected NotConnected while down, got %v", out)
	}
	c.HandleConnection(true)
	if c.State().PumpOn {
		t.Error("Expected pump belief cleared after reconnect")
	}
	before := len(link.writes)
	if out := c.RequestTemperature(185); out != Accepted {
		t.Errorf("Expected target resent after reconnect, got %v", out)
	}
	if len(link.writes) != before+1 {
		t.Error("Expected one new write")
	}
}

func TestCoordinator_HeaterStopSentAfterReconnect(t *testing.T) {
	c, link, _ := newTestCoordinator()
	if out := c.RequestHeater(true); out != Accepted {
		t.Fatalf("Expected start to be accepted, got %v", out)
	}
	c.HandleConnection(false)
	c.HandleConnection(true)
	if c.State().HeaterOn {
		t.Fatal("Expected heater belief cleared after reconnect")
	}

	before := link.count(CmdHeater)
	if out := c.RequestHeater(false); out != Accepted {
		t.Errorf("Expected stop to be transmitted, got %v", out)
	}
	if got := link.count(CmdHeater); got != before+1 {
		t.Fatalf("Expected one heater stop write, got %d", got-before)
	}
	last := link.writes[len(link.writes)-1]
	if !bytes.Equal(last.payload, []byte{0x00}) {
		t.Errorf("Expected stop payload 0x00, got % x", last.payload)
	}
	// a repeated stop still goes out
	if out := c.RequestHeater(false); out != Accepted {
		t.Errorf("Expected repeated stop to be transmitted, got %v", out)
	}
}

type countingRecorder struct {
	outcomes map[Outcome]int
}

func (r *countingRecorder) ObserveCommand(cmd Command, out Outcome) { r.outcomes[out]++ }
func (r *countingRecorder) ObserveTemperature(float64)              {}

func TestCoordinator_RecorderSeesEveryRequest(t *testing.T) {
	rec := &countingRecorder{outcomes: map[Outcome]int{}}
	c := NewCoordinator(&MockLink{connected: true}, WithRecorder(rec))
	c.RequestPump(true)
	c.RequestPump(true)
	c.SetGate(GateTurnActive)
	c.RequestHeater(true)

	if rec.outcomes[Accepted] != 1 || rec.outcomes[SuppressedRedundant] != 1 || rec.outcomes[SuppressedGate] != 1 {
		t.Errorf("Unexpected outcome counts: %v", rec.outcomes)
	}
}
