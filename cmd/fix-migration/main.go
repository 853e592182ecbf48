// Package main is a repair tool for dirty migration state in the marketplace
// database. Dirty state occurs when the golang-migrate runner marks a migration
// version as in-progress (dirty=true) but the migration process was interrupted
// by a crash or timeout before it could complete. This tool connects to the
// database, checks the schema_migrations table, and clears the dirty flag so
// that the migration runner can retry cleanly on the next server startup —
// avoiding the "Dirty database version" error that would otherwise block the
// server from starting.
package main

import (
	"database/sql"
	"fmt"
	"log"
	"os"

	_ "github.com/lib/pq"
)

func main() {
	// Get database password from environment
	dbPassword := os.Getenv("DATABASE_PASSWORD")
	if dbPassword == "" {
		dbPassword = "shopconnect"
	}

	connStr := fmt.Sprintf("host=localhost port=5432 user=shopconnect password=%s dbname=shopconnect sslmode=disable", dbPassword)
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer db.Close()

	var version int
	var dirty bool
	if err := db.QueryRow("SELECT version, dirty FROM schema_migrations").Scan(&version, &dirty); err != nil {
		log.Fatalf("Failed to read schema_migrations: %v", err)
	}
	fmt.Printf("Current migration state: version=%d dirty=%v\n", version, dirty)

	if !dirty {
		fmt.Println("Migration state is clean; nothing to do.")
		return
	}

	if _, err := db.Exec("UPDATE schema_migrations SET dirty = false"); err != nil {
		log.Fatalf("Failed to clear dirty flag: %v", err)
	}
	fmt.Printf("Cleared dirty flag at version %d. The migration runner will retry on next startup.\n", version)
}
