// Package database provides SQLite connectivity for the ingestion worker.
//
// This package manages:
//   - Database connection with WAL mode and foreign keys enforced
//   - Schema migrations embedded in the binary (see the migrations package)
//   - Transaction helpers for the one-transaction-per-message ingest path
//
// The relational schema (zones, devices, measurements) lives in
// migrations/*.sql and is applied idempotently at startup.
//
// Usage:
//
//	db, err := database.Open(ctx, database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// Migrations are additive-only: each version is applied once, in its own
// transaction, and recorded in schema_migrations.
package database
