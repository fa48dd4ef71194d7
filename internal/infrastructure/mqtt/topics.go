package mqtt

import "fmt"

// TopicPrefix is the root of every topic the bridge publishes or consumes.
const TopicPrefix = "sonoffbridge"

// Protocol is the protocol segment used in per-device topics.
const Protocol = "sonoff"

// Topics builds MQTT topic strings.
//
// Layout:
//
//	sonoffbridge/command/sonoff/{uuid}   inbound on/off commands
//	sonoffbridge/ack/sonoff/{uuid}       command acknowledgements
//	sonoffbridge/state/sonoff/{uuid}     retained device state
//	sonoffbridge/discovery/sonoff        accessory announcements
//	sonoffbridge/health/sonoff           bridge health (retained)
//	sonoffbridge/system/status           client online/offline (retained, LWT)
type Topics struct{}

// Command returns the command topic for one accessory.
func (Topics) Command(accessoryID string) string {
	return fmt.Sprintf("%s/command/%s/%s", TopicPrefix, Protocol, accessoryID)
}

// Ack returns the acknowledgement topic for one accessory.
func (Topics) Ack(accessoryID string) string {
	return fmt.Sprintf("%s/ack/%s/%s", TopicPrefix, Protocol, accessoryID)
}

// State returns the retained state topic for one accessory.
func (Topics) State(accessoryID string) string {
	return fmt.Sprintf("%s/state/%s/%s", TopicPrefix, Protocol, accessoryID)
}

// Discovery returns the announcement topic.
func (Topics) Discovery() string {
	return fmt.Sprintf("%s/discovery/%s", TopicPrefix, Protocol)
}

// Health returns the bridge health topic.
func (Topics) Health() string {
	return fmt.Sprintf("%s/health/%s", TopicPrefix, Protocol)
}

// SystemStatus returns the client status topic used for the LWT.
func (Topics) SystemStatus() string {
	return TopicPrefix + "/system/status"
}

// AllCommands matches commands for every accessory.
func (Topics) AllCommands() string {
	return fmt.Sprintf("%s/command/%s/+", TopicPrefix, Protocol)
}

// AllStates matches state for every accessory.
func (Topics) AllStates() string {
	return fmt.Sprintf("%s/state/%s/+", TopicPrefix, Protocol)
}
