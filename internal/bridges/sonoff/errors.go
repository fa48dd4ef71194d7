package sonoff

import "errors"

// Domain errors for the Sonoff MQTT bridge.
var (
	// ErrInvalidTopic is returned when a command arrives on a topic that
	// does not name an accessory.
	ErrInvalidTopic = errors.New("sonoff: invalid command topic")

	// ErrInvalidCommand is returned when a command payload cannot be used.
	ErrInvalidCommand = errors.New("sonoff: invalid command")
)
