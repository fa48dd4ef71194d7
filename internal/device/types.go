package device

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// OnOff is the two-valued power encoding used on the wire.
type OnOff string

// Power values.
const (
	On  OnOff = "on"
	Off OnOff = "off"
)

// FromBool converts a host-side boolean into the wire value.
func FromBool(on bool) OnOff {
	if on {
		return On
	}
	return Off
}

// Bool reports whether o is On.
func (o OnOff) Bool() bool {
	return o == On
}

// Valid reports whether o is one of the two known values.
func (o OnOff) Valid() bool {
	return o == On || o == Off
}

// State is a full snapshot of a BasicR3 as returned by /zeroconf/info.
//
// Snapshots are values; a controller replaces its cached snapshot wholesale
// and never edits one in place.
type State struct {
	Power           OnOff  `json:"switch"`
	StartupPower    OnOff  `json:"startup"`
	PulseMode       OnOff  `json:"pulse"`
	PulseWidthMs    int    `json:"pulseWidth"`
	WifiSSID        string `json:"ssid"`
	OTAUnlocked     bool   `json:"otaUnlock"`
	FirmwareVersion string `json:"fwVersion"`
	RawDeviceID     string `json:"deviceid"`
	BSSID           string `json:"bssid"`
	SignalStrength  int    `json:"signalStrength"`
}

// defaultState is the all-off snapshot served before the first successful poll.
var defaultState = State{
	Power:        Off,
	StartupPower: Off,
	PulseMode:    Off,
}

// DefaultState returns a copy of the all-off snapshot.
func DefaultState() State {
	return defaultState
}

// IsOn reports whether the relay is closed.
func (s State) IsOn() bool {
	return s.Power.Bool()
}

// validate checks the fields a controller depends on.
func (s State) validate() error {
	if !s.Power.Valid() {
		return fmt.Errorf("%w: switch %q", ErrMalformedResponse, s.Power)
	}
	if s.PulseWidthMs < 0 {
		return fmt.Errorf("%w: negative pulseWidth %d", ErrMalformedResponse, s.PulseWidthMs)
	}
	return nil
}

// Request is the body of every device RPC.
type Request[T any] struct {
	DeviceID string `json:"deviceid"`
	Data     T      `json:"data"`
}

// SwitchData is the payload of a /zeroconf/switch request.
type SwitchData struct {
	Power OnOff `json:"switch"`
}

// Empty is the payload of a /zeroconf/info request.
type Empty struct{}

// envelope is the response shape shared by all device RPCs.
type envelope struct {
	Seq   int64           `json:"seq"`
	Error ErrorCode       `json:"error"`
	Data  json.RawMessage `json:"data"`
}

// ErrorCode is the device-reported error. Firmware sends a number (0 on
// success); some builds send a string. Both decode here.
type ErrorCode string

// UnmarshalJSON accepts a JSON number, string or null.
func (e *ErrorCode) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case bytes.Equal(b, []byte("null")):
		*e = ""
	case len(b) > 0 && b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*e = ErrorCode(s)
	default:
		if _, err := strconv.ParseFloat(string(b), 64); err != nil {
			return fmt.Errorf("error code %s: %w", b, err)
		}
		*e = ErrorCode(b)
	}
	return nil
}

// OK reports whether the code means success.
func (e ErrorCode) OK() bool {
	return e == "" || e == "0"
}
