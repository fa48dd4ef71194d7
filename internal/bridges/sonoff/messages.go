package sonoff

import (
	"time"

	"github.com/nerrad567/sonoff-bridge/internal/accessory"
	"github.com/nerrad567/sonoff-bridge/internal/device"
	"github.com/nerrad567/sonoff-bridge/internal/infrastructure/mqtt"
)

// MQTT message types exchanged between the bridge and its consumers.

// CommandMessage asks the bridge to switch one accessory.
// Topic: sonoffbridge/command/sonoff/{uuid}
type CommandMessage struct {
	// ID correlates the command with its acknowledgement.
	ID string `json:"id"`

	// Timestamp is when the command was issued. Optional.
	Timestamp time.Time `json:"timestamp,omitzero"`

	// AccessoryID, when set, must match the UUID in the topic.
	AccessoryID string `json:"accessory_id,omitempty"`

	// On is the desired power state. Required.
	On *bool `json:"on"`

	// Source indicates where the command originated ("api", "automation", ...).
	Source string `json:"source,omitempty"`
}

// AckStatus represents the outcome of a command.
type AckStatus string

const (
	// AckAccepted indicates the device confirmed the switch request.
	AckAccepted AckStatus = "accepted"

	// AckFailed indicates the command could not be executed.
	AckFailed AckStatus = "failed"

	// AckTimeout indicates the device did not answer in time.
	AckTimeout AckStatus = "timeout"
)

// AckMessage reports the outcome of a CommandMessage.
// Topic: sonoffbridge/ack/sonoff/{uuid}
type AckMessage struct {
	CommandID   string    `json:"command_id"`
	Timestamp   time.Time `json:"timestamp"`
	AccessoryID string    `json:"accessory_id"`
	Status      AckStatus `json:"status"`
	Protocol    string    `json:"protocol"`
	Error       *AckError `json:"error,omitempty"`
}

// AckError contains error details for failed commands.
type AckError struct {
	// Code is one of the ErrCode constants.
	Code string `json:"code"`

	// Message is the error surfaced by the device controller.
	Message string `json:"message"`
}

// Error codes for command failures.
const (
	ErrCodeDeviceUnreachable = "DEVICE_UNREACHABLE"
	ErrCodeDeviceError       = "DEVICE_ERROR"
	ErrCodeProtocolError     = "PROTOCOL_ERROR"
	ErrCodeInvalidCommand    = "INVALID_COMMAND"
	ErrCodeNotConfigured     = "NOT_CONFIGURED"
	ErrCodeTimeout           = "TIMEOUT"
	ErrCodeBridgeError       = "BRIDGE_ERROR"
)

// StateMessage carries the latest polled state of one accessory.
// Topic: sonoffbridge/state/sonoff/{uuid}
// QoS: configured, Retained: Yes
type StateMessage struct {
	AccessoryID string       `json:"accessory_id"`
	Timestamp   time.Time    `json:"timestamp"`
	On          bool         `json:"on"`
	Reachable   bool         `json:"reachable"`
	State       device.State `json:"state"`
	Protocol    string       `json:"protocol"`
}

// HealthStatus represents the operational status of the bridge.
type HealthStatus string

const (
	// HealthHealthy indicates the bridge is operating normally.
	HealthHealthy HealthStatus = "healthy"

	// HealthDegraded indicates the bridge is operating with issues.
	HealthDegraded HealthStatus = "degraded"

	// HealthStarting indicates the bridge is starting up.
	HealthStarting HealthStatus = "starting"

	// HealthStopping indicates the bridge is shutting down.
	HealthStopping HealthStatus = "stopping"
)

// HealthMessage reports the bridge's operational status.
// Topic: sonoffbridge/health/sonoff
// QoS: 1, Retained: Yes
type HealthMessage struct {
	Bridge         string       `json:"bridge"`
	Timestamp      time.Time    `json:"timestamp"`
	Status         HealthStatus `json:"status"`
	Version        string       `json:"version"`
	UptimeSeconds  int64        `json:"uptime_seconds"`
	DevicesManaged int          `json:"devices_managed"`
	Reason         string       `json:"reason,omitempty"`
}

// DiscoveryMessage announces an accessory after it was registered or
// updated.
// Topic: sonoffbridge/discovery/sonoff
type DiscoveryMessage struct {
	Timestamp time.Time          `json:"timestamp"`
	Bridge    string             `json:"bridge"`
	New       bool               `json:"new"`
	Accessory AnnouncedAccessory `json:"accessory"`
}

// AnnouncedAccessory is the public part of an accessory record.
type AnnouncedAccessory struct {
	UUID         string   `json:"uuid"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer"`
	Model        string   `json:"model"`
	SerialNumber string   `json:"serial_number"`
	Host         string   `json:"host"`
	Port         int      `json:"port"`
	Capabilities []string `json:"capabilities"`
}

// NewAckMessage creates a successful acknowledgement for a command.
func NewAckMessage(cmd CommandMessage, accessoryID string, status AckStatus) AckMessage {
	return AckMessage{
		CommandID:   cmd.ID,
		Timestamp:   time.Now().UTC(),
		AccessoryID: accessoryID,
		Status:      status,
		Protocol:    mqtt.Protocol,
	}
}

// NewAckError creates an acknowledgement with error details.
func NewAckError(cmd CommandMessage, accessoryID, code, message string) AckMessage {
	status := AckFailed
	if code == ErrCodeTimeout {
		status = AckTimeout
	}
	ack := NewAckMessage(cmd, accessoryID, status)
	ack.Error = &AckError{Code: code, Message: message}
	return ack
}

// NewStateMessage creates a state message from a polled snapshot.
func NewStateMessage(accessoryID string, state device.State, reachable bool) StateMessage {
	return StateMessage{
		AccessoryID: accessoryID,
		Timestamp:   time.Now().UTC(),
		On:          state.IsOn(),
		Reachable:   reachable,
		State:       state,
		Protocol:    mqtt.Protocol,
	}
}

// NewHealthMessage creates a health status message.
func NewHealthMessage(bridgeID, version string, status HealthStatus, deviceCount int, startTime time.Time) HealthMessage {
	return HealthMessage{
		Bridge:         bridgeID,
		Timestamp:      time.Now().UTC(),
		Status:         status,
		Version:        version,
		UptimeSeconds:  int64(time.Since(startTime).Seconds()),
		DevicesManaged: deviceCount,
	}
}

// NewDiscoveryMessage creates an announcement for a. Every BasicR3 is a
// single on/off relay.
func NewDiscoveryMessage(bridgeID string, a accessory.Accessory, isNew bool) DiscoveryMessage {
	return DiscoveryMessage{
		Timestamp: time.Now().UTC(),
		Bridge:    bridgeID,
		New:       isNew,
		Accessory: AnnouncedAccessory{
			UUID:         a.UUID,
			Name:         a.DisplayName,
			Manufacturer: a.Manufacturer,
			Model:        a.Model,
			SerialNumber: a.SerialNumber,
			Host:         a.Context.Host,
			Port:         a.Context.Port,
			Capabilities: []string{"on_off"},
		},
	}
}
