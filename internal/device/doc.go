// Package device controls Sonoff BasicR3 relays over their LAN API.
//
// A BasicR3 in LAN mode serves a small JSON-over-HTTP API. Every request is
// a POST of {"deviceid": id, "data": {...}} and every response is
// {"seq": n, "error": code, "data": {...}}:
//
//	POST /zeroconf/info    data {}                  -> data: full State
//	POST /zeroconf/switch  data {"switch":"on|off"} -> data: {}
//
// # Key Types
//
//   - HTTPClient: the RPC transport, one per device address
//   - StateCache: lock-free slot holding the latest State snapshot
//   - Controller: poll loop plus the host-facing HandleGet and HandleSet
//
// # Consistency
//
// The cache is only written by successful polls. HandleSet never updates it;
// the next poll reports what the relay actually did. Each poll takes a
// ticket, and a response is dropped when a later-issued poll has already
// been applied, so a slow response can never roll the cache back.
//
// # Usage
//
//	ctrl, err := device.NewController(device.Options{
//	    AccessoryID: acc.UUID,
//	    DeviceID:    "100123abc",
//	    Host:        "10.0.0.5",
//	    Port:        8081,
//	    Client:      device.NewHTTPClient("10.0.0.5", 8081, 10*time.Second),
//	    Interval:    15 * time.Second,
//	})
//	if err != nil {
//	    return err
//	}
//	ctrl.Start(ctx)
//	defer ctrl.Stop()
package device
