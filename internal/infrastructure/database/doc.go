// Package database opens the SQLite file that backs the bridge's audit
// trail (relay state history and the command journal) and versions its
// schema.
//
// The schema is a set of <version>_<name>.up.sql / .down.sql files loaded
// with LoadSchema; the top-level migrations package embeds the bridge's
// own. Migrate, Rollback and Status are also exposed through the
// `ipx800bridge migrate` command.
//
// Usage:
//
//	db, err := database.Open(database.FromConfig(cfg.Database))
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	schema, err := migrations.Schema()
//	if err != nil {
//	    return err
//	}
//	if _, err := db.Migrate(ctx, schema); err != nil {
//	    return err
//	}
package database
