// Package database opens the SQLite store that backs the user directory,
// the session registry and the audit log, and applies the embedded schema
// migrations.
//
// The connection pool is pinned to a single connection: SQLite has one
// writer, and a single connection keeps read-after-write ordering simple
// for the auth repositories.
//
// Usage:
//
//	db, err := database.Open(ctx, database.Config{Path: "data/atcs.db", WALMode: true, BusyTimeout: 5})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
package database
