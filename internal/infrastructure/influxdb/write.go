package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// switchMeasurement is the measurement holding relay history.
const switchMeasurement = "switch_state"

// SwitchSample is one observation of a relay.
type SwitchSample struct {
	AccessoryID    string
	DeviceID       string
	On             bool
	Reachable      bool
	SignalStrength int
	At             time.Time
}

// WriteSwitchState queues one relay observation. Dropped while disconnected.
//
// Example:
//
//	client.WriteSwitchState(influxdb.SwitchSample{
//	    AccessoryID: uuid, DeviceID: "100123abc", On: true, Reachable: true,
//	})
func (c *Client) WriteSwitchState(s SwitchSample) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(switchPoint(s))
}

// switchPoint builds the line-protocol point for a sample. A zero At means now.
func switchPoint(s SwitchSample) *write.Point {
	at := s.At
	if at.IsZero() {
		at = time.Now()
	}

	fields := map[string]any{
		"on":        s.On,
		"reachable": s.Reachable,
	}
	// Only present when the device reported it.
	if s.SignalStrength != 0 {
		fields["signal_strength"] = s.SignalStrength
	}

	return write.NewPoint(
		switchMeasurement,
		map[string]string{
			"accessory_id": s.AccessoryID,
			"device_id":    s.DeviceID,
		},
		fields,
		at,
	)
}

// WritePoint queues a point with arbitrary tags and fields.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]any) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, time.Now()))
}
