package accessory

import "errors"

// Domain errors for the accessory package.
//
//	if errors.Is(err, accessory.ErrAccessoryNotFound) {
//	    // handle not found case
//	}
var (
	// ErrAccessoryNotFound is returned when a UUID does not exist.
	ErrAccessoryNotFound = errors.New("accessory: not found")

	// ErrAccessoryExists is returned when registering a UUID that is already registered.
	ErrAccessoryExists = errors.New("accessory: already exists")

	// ErrInvalidAccessory is returned when accessory validation fails.
	ErrInvalidAccessory = errors.New("accessory: invalid")

	// ErrNoHandler is returned when no controller is bound to an accessory.
	ErrNoHandler = errors.New("accessory: no on/off handler bound")
)
