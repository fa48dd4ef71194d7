package discovery

import "errors"

// Domain errors for the discovery package.
var (
	// ErrMissingDeviceID is returned when a service has no "id" TXT entry.
	ErrMissingDeviceID = errors.New("discovery: service has no device id")

	// ErrNoAddress is returned when a service resolved without any address.
	ErrNoAddress = errors.New("discovery: service has no address")

	// ErrBrowse is returned when the mDNS resolver cannot be started.
	ErrBrowse = errors.New("discovery: browse failed")
)
