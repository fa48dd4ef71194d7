// Package api implements the HTTP REST API of the Sonoff bridge.
//
// This package provides:
//   - Accessory listing with the live controller view (state, reachability)
//   - On/off reads served from the state cache and writes forwarded to the device
//   - Manual refresh of one device
//   - Health and runtime metrics
//   - Middleware stack (request ID, logging, recovery, body size limit)
//
// # Routes
//
//	GET  /api/v1/health
//	GET  /api/v1/metrics
//	GET  /api/v1/accessories
//	GET  /api/v1/accessories/{uuid}
//	GET  /api/v1/accessories/{uuid}/on
//	PUT  /api/v1/accessories/{uuid}/on       {"on": true}
//	POST /api/v1/accessories/{uuid}/refresh
//
// # Errors
//
// Device failures surface unchanged in the error message. The status tells
// the caller which side failed: 404 unknown accessory, 503 no controller
// bound, 502 the device refused or could not be reached, 504 timeout.
//
// The server follows the same lifecycle pattern as other infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
package api
