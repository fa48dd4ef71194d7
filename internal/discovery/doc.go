// Package discovery finds BasicR3 devices on the LAN and attaches each one
// to a persistent host identity and a running device controller.
//
// # Flow
//
//	ZeroconfBrowser --Event--> Coordinator --Resolve--> Reconciler
//	                               |
//	                               +--> HostRegistry.RegisterNew / UpdateExisting
//	                               +--> ControllerFactory --> DeviceController.Start
//
// The logical id of a device is the "id" entry of its TXT record. It is
// hashed into the accessory UUID (accessory.GenerateUUID), so a device
// keeps its identity across address changes and process restarts. Each
// appearance makes exactly one host registration call: RegisterNew the
// first time an id is seen, UpdateExisting after that.
//
// # Departures
//
// A departure is logged. The controller keeps polling unless the
// coordinator was built with TeardownOnDisappear.
package discovery
