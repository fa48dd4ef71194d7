// Package accessory is the bridge's host registry: the set of published
// device identities, persisted in SQLite, and the on/off handlers that the
// MQTT and REST surfaces call into.
//
// Each BasicR3 is published once under a UUID derived from the id in its
// mDNS TXT record (GenerateUUID). On restart, Restore hands the stored
// records to discovery so reappearing devices are updated in place rather
// than registered a second time.
//
// # Usage
//
//	reg := accessory.NewRegistry(accessory.NewSQLiteRepository(db.DB))
//	restored, err := reg.Restore(ctx)
//	...
//	err = reg.RegisterNew(ctx, accessory.New("100123abc", "Porch light"))
//	err = reg.SetOnOffHandler(uuid, ctrl.HandleGet, ctrl.HandleSet)
//	on, err := reg.GetOn(uuid)
package accessory
