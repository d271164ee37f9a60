// Package database provides SQLite connectivity for the development host.
//
// The devhost keeps what a production host would persist for a module
// instance: its config, the number of upgrade scripts already applied, the
// action and feedback instances placed on controls, and the last variable
// values. This package only manages the connection and the schema; the
// queries live with their callers in internal/devhost.
//
// Usage:
//
//	db, err := database.Open(database.Config{Path: cfg.DevHost.Database.Path, WALMode: true})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
//
// Migration Strategy:
//
// Migrations are additive-only. Each version has an .up.sql and a .down.sql
// file; new columns must be NULLABLE or carry a DEFAULT.
package database
