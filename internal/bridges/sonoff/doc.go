// Package sonoff is the MQTT face of the Sonoff bridge.
//
// It exposes every registered BasicR3 accessory over MQTT and routes
// inbound on/off commands to the device controller bound in the accessory
// registry.
//
// # Topics
//
//	sonoffbridge/command/sonoff/{uuid}   in:  {"id":"c1","on":true}
//	sonoffbridge/ack/sonoff/{uuid}       out: accepted | failed | timeout
//	sonoffbridge/state/sonoff/{uuid}     out: retained, after every applied poll
//	sonoffbridge/discovery/sonoff        out: on registration and update
//	sonoffbridge/health/sonoff           out: retained, every 30s
//
// A command is acknowledged only after the device answered the switch
// request. The state topic is not touched by commands; it follows the
// next poll.
//
// # Thread Safety
//
// All exported types are safe for concurrent use from multiple goroutines.
package sonoff
