// Package protocol implements the Bookoo Themis wire format: decoding the
// 20-byte telemetry frame the scale notifies at 10 Hz, and encoding the
// 6-byte command frames it accepts. The package is pure and does no I/O.
package protocol

import (
	"errors"
	"fmt"
)

// FrameSize is the exact length of a telemetry frame.
const FrameSize = 20

// Telemetry frame layout.
const (
	millisOffset   = 2  // 24-bit big-endian device timer, milliseconds
	unitOffset     = 5  // weight unit (grams only on this family)
	signOffset     = 6  // ASCII '+' (43) positive, anything else negative
	weightOffset   = 7  // 24-bit big-endian |grams| * 100
	flowSignOffset = 10 // sign of the device-side flow rate
	flowOffset     = 11 // 16-bit big-endian |g/s| * 100
	batteryOffset  = 13 // remaining battery, percent
	standbyOffset  = 14 // 16-bit big-endian standby time, tenths of a minute
	buzzerOffset   = 16 // buzzer gear
	smoothOffset   = 17 // device flow-rate smoothing switch
	checksumOffset = 19 // XOR of bytes 0..18
)

const positiveSign = 43 // ASCII '+'

var (
	// ErrFrameLength is returned for frames that are not exactly 20 bytes.
	ErrFrameLength = errors.New("protocol: bad frame length")
	// ErrChecksum is returned when the trailing checksum byte does not
	// match the XOR of the preceding 19 bytes.
	ErrChecksum = errors.New("protocol: checksum mismatch")
	// ErrUnknownCommand is returned when encoding an unmapped command.
	ErrUnknownCommand = errors.New("protocol: unknown command")
)

// Status is a fully decoded telemetry frame.
type Status struct {
	Grams          float64 // signed weight, 0.01 g resolution
	DeviceMillis   uint32  // device-side timer, milliseconds
	FlowRate       float64 // device-reported flow rate, g/s
	BatteryPercent uint8
	StandbyMinutes float64
	BuzzerGear     uint8
	SmoothingOn    bool
}

// DecodeFrame validates and decodes a telemetry frame. Callers treat any
// error as a frame to drop; nothing about a bad frame is recoverable.
func DecodeFrame(data []byte) (Status, error) {
	if len(data) != FrameSize {
		return Status{}, fmt.Errorf("%w: got %d bytes, want %d", ErrFrameLength, len(data), FrameSize)
	}

	var checksum byte
	for _, b := range data[:checksumOffset] {
		checksum ^= b
	}
	if checksum != data[checksumOffset] {
		return Status{}, fmt.Errorf("%w: computed 0x%02x, frame carries 0x%02x", ErrChecksum, checksum, data[checksumOffset])
	}

	raw := uint32(data[weightOffset])<<16 | uint32(data[weightOffset+1])<<8 | uint32(data[weightOffset+2])
	grams := float64(raw) / 100
	if data[signOffset] != positiveSign {
		grams = -grams
	}

	rawFlow := uint16(data[flowOffset])<<8 | uint16(data[flowOffset+1])
	flow := float64(rawFlow) / 100
	if data[flowSignOffset] != positiveSign {
		flow = -flow
	}

	return Status{
		Grams:          grams,
		DeviceMillis:   uint32(data[millisOffset])<<16 | uint32(data[millisOffset+1])<<8 | uint32(data[millisOffset+2]),
		FlowRate:       flow,
		BatteryPercent: data[batteryOffset],
		StandbyMinutes: float64(uint16(data[standbyOffset])<<8|uint16(data[standbyOffset+1])) / 10,
		BuzzerGear:     data[buzzerOffset],
		SmoothingOn:    data[smoothOffset] != 0,
	}, nil
}

// Command identifies one of the scale's write operations.
type Command int

const (
	CmdTare Command = iota
	CmdTimerStart
	CmdTimerStop
	CmdTimerReset
	CmdTareAndTimerStart
)

// String returns the command name for logs.
func (c Command) String() string {
	switch c {
	case CmdTare:
		return "tare"
	case CmdTimerStart:
		return "timer-start"
	case CmdTimerStop:
		return "timer-stop"
	case CmdTimerReset:
		return "timer-reset"
	case CmdTareAndTimerStart:
		return "tare-and-timer-start"
	default:
		return fmt.Sprintf("command(%d)", int(c))
	}
}

// Command packets as the device expects them: header 0x03 0x0A, an opcode,
// two data bytes, and a trailing byte fixed per opcode by the vendor
// protocol. TareAndTimerStart is its own opcode so tare and timer start land
// atomically on the device, never as two frames that could interleave.
var commandFrames = map[Command][]byte{
	CmdTare:              {0x03, 0x0A, 0x01, 0x00, 0x00, 0x08},
	CmdTimerStart:        {0x03, 0x0A, 0x04, 0x00, 0x00, 0x0A},
	CmdTimerStop:         {0x03, 0x0A, 0x05, 0x00, 0x00, 0x0D},
	CmdTimerReset:        {0x03, 0x0A, 0x06, 0x00, 0x00, 0x0C},
	CmdTareAndTimerStart: {0x03, 0x0A, 0x07, 0x00, 0x00, 0x00},
}

// EncodeCommand returns the wire bytes for cmd. The returned slice is a
// fresh copy; callers may retain or mutate it.
func EncodeCommand(cmd Command) ([]byte, error) {
	frame, ok := commandFrames[cmd]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownCommand, int(cmd))
	}
	out := make([]byte, len(frame))
	copy(out, frame)
	return out, nil
}
