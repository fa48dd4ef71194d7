// Package database provides the SQLite connection that backs the accessory
// cache of the bridge.
//
// This package manages:
//   - Opening the database file with WAL mode and a busy timeout
//   - Embedded schema migrations applied in version order
//   - A health check used at startup and by the HTTP health endpoint
//
// Usage:
//
//	db, err := database.Open(database.ConfigFrom(cfg.Database))
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
//
// Migration files live in the top-level migrations package and are named
// YYYYMMDD_HHMMSS_description.up.sql with a matching .down.sql. Migrations
// are additive: new columns must be nullable or carry a default.
package database
