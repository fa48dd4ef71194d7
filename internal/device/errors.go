package device

import "errors"

// Errors returned by the RPC client and controller.
//
// Every failed device call wraps exactly one of the first three, so callers
// can tell a dead link from a device that answered badly:
//
//	if errors.Is(err, device.ErrTransport) {
//	    // device unreachable
//	}
var (
	// ErrTransport covers connection failures, timeouts and non-2xx statuses.
	ErrTransport = errors.New("device: transport failure")

	// ErrDeviceReported is returned when the response carries a non-zero error code.
	ErrDeviceReported = errors.New("device: device reported error")

	// ErrMalformedResponse is returned when the response cannot be decoded or
	// lacks required fields.
	ErrMalformedResponse = errors.New("device: malformed response")

	// ErrStopped is returned by HandleSet after the controller was stopped.
	ErrStopped = errors.New("device: controller stopped")
)
