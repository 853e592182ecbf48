// Package main is a diagnostic tool for testing database connectivity and
// inspecting live marketplace data. It connects to the database, queries the
// shops and connections tables, and prints a summary to stdout. The binary
// exits with a non-zero code on any failure so it can be embedded in health
// checks or CI/CD pipeline steps to gate deployments on a reachable,
// populated database.
package main

import (
	"database/sql"
	"fmt"
	"log"
	"os"

	_ "github.com/lib/pq"
)

func main() {
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

	// Check shops
	fmt.Println("=== SHOPS ===")
	rows, err := db.Query("SELECT id, name, is_public, btcpay_store_id FROM shops")
	if err != nil {
		log.Fatalf("Query failed: %v", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id, name string
		var isPublic bool
		var storeID *string
		if err := rows.Scan(&id, &name, &isPublic, &storeID); err != nil {
			log.Printf("Warning: failed to scan shop row: %v", err)
			continue
		}
		provisioned := "NO"
		if storeID != nil && *storeID != "" {
			provisioned = "YES"
		}
		fmt.Printf("Shop: %s (ID: %s, public: %v) - provisioned: %s\n", name, id, isPublic, provisioned)
	}

	// Check connections
	fmt.Println("\n=== CONNECTIONS ===")
	rows2, err := db.Query("SELECT id, shop_id, provider_id, status, retry_count FROM connections")
	if err != nil {
		log.Fatalf("Query failed: %v", err)
	}
	defer rows2.Close()

	count := 0
	for rows2.Next() {
		var id, shopID, providerID, status string
		var retryCount int
		if err := rows2.Scan(&id, &shopID, &providerID, &status, &retryCount); err != nil {
			log.Printf("Warning: failed to scan connection row: %v", err)
			continue
		}
		fmt.Printf("Connection: %s -> %s [%s] (ID: %s, retries: %d)\n", shopID, providerID, status, id, retryCount)
		count++
	}

	if count == 0 {
		fmt.Println("No connections found!")
	}
}
