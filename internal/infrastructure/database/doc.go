// Package database provides SQLite connectivity for Gray Logic Link.
//
// It manages:
//   - Opening the database with WAL mode and a busy timeout
//   - Versioned schema migrations read from an fs.FS
//   - Health checks for the HTTP health endpoint
//
// The engine itself keeps no durable state; SQLite backs the optional
// status history audit trail.
//
// Usage:
//
//	db, err := database.Open(ctx, cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
//
// Migrations are additive: new columns must be nullable or carry defaults,
// and every .up.sql has a .down.sql.
package database
