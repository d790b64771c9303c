package device

import (
	"encoding/binary"
	"fmt"
)

// Command identifies an appliance characteristic.
type Command uint16

const (
	CmdPump Command = iota + 1
	CmdHeater
	CmdTargetTemperature
	CmdBrightness
	CmdTemperature
)

func (c Command) String() string {
	switch c {
	case CmdPump:
		return "pump"
	case CmdHeater:
		return "heater"
	case CmdTargetTemperature:
		return "target_temperature"
	case CmdBrightness:
		return "brightness"
	case CmdTemperature:
		return "temperature"
	default:
		return fmt.Sprintf("command(%d)", uint16(c))
	}
}

const (
	MinTargetTemperature = 40
	MaxTargetTemperature = 230
	// ReadyTolerance is the ± band, in °C, that counts as "temperature reached".
	ReadyTolerance = 5
)

// EncodeSwitch encodes an on/off command as a single byte.
func EncodeSwitch(on bool) []byte {
	if on {
		return []byte{0x01}
	}
	return []byte{0x00}
}

// DecodeSwitch reads a single-byte on/off payload.
func DecodeSwitch(payload []byte) (on bool, ok bool) {
	if len(payload) < 1 {
		return false, false
	}
	return payload[0] != 0x00, true
}

// EncodeTemperature encodes a target in tenths of a degree, 4-byte little endian.
func EncodeTemperature(celsius int) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, uint32(celsius*10))
	return b
}

// DecodeTemperature decodes a temperature reading. Readings are normally
// 4 bytes; legacy firmware sends 2. Anything shorter is discarded.
func DecodeTemperature(payload []byte) (celsius float64, ok bool) {
	switch {
	case len(payload) >= 4:
		return float64(binary.LittleEndian.Uint32(payload[:4])) / 10, true
	case len(payload) >= 2:
		return float64(binary.LittleEndian.Uint16(payload[:2])) / 10, true
	default:
		return 0, false
	}
}

// EncodeBrightness encodes a percentage as 2-byte little endian.
func EncodeBrightness(percent int) []byte {
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, uint16(percent))
	return b
}

// ClampTarget limits a user-adjustable target to the supported range.
func ClampTarget(celsius int) int {
	return clamp(celsius, MinTargetTemperature, MaxTargetTemperature)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// WithinTolerance reports whether reading counts as having reached target.
// A zero reading means no sample yet and is never ready.
func WithinTolerance(reading float64, target int) bool {
	if reading <= 0 {
		return false
	}
	diff := reading - float64(target)
	if diff < 0 {
		diff = -diff
	}
	return diff <= ReadyTolerance
}
