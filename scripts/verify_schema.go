package main

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"

	_ "modernc.org/sqlite"
)

// verify_schema checks that a runner database carries the expected tables
// and indexes.
//
// Usage:
//
//	go run ./scripts/verify_schema.go [path/to/strategies.db]
func main() {
	dbPath := "./data/strategies.db"
	if len(os.Args) > 1 {
		dbPath = os.Args[1]
	}
	fmt.Printf("Verifying database at: %s\n", dbPath)

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		log.Fatalf("Failed to open DB: %v", err)
	}
	defer db.Close()

	missing := 0
	fmt.Println("\n1. Tables")
	for _, name := range []string{"strategy_instances", "trades", "performance_snapshots"} {
		if !exists(db, "table", name) {
			missing++
		}
	}

	fmt.Println("\n2. Indexes")
	for _, name := range []string{"idx_trades_strategy", "idx_snapshots_strategy"} {
		if !exists(db, "index", name) {
			missing++
		}
	}

	fmt.Println("\n3. Row counts")
	for _, table := range []string{"strategy_instances", "trades", "performance_snapshots"} {
		var n int
		if err := db.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&n); err != nil {
			fmt.Printf("  %s: %v\n", table, err)
			continue
		}
		fmt.Printf("  %s: %d\n", table, n)
	}

	if missing > 0 {
		fmt.Printf("\n%d schema objects missing; start the runner once to apply migrations\n", missing)
		os.Exit(1)
	}
	fmt.Println("\nSchema OK")
}

func exists(db *sql.DB, kind, name string) bool {
	var found string
	err := db.QueryRow("SELECT name FROM sqlite_master WHERE type = ? AND name = ?", kind, name).Scan(&found)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		fmt.Printf("  MISSING %s %s\n", kind, name)
		return false
	case err != nil:
		log.Fatalf("Query failed: %v", err)
	}
	fmt.Printf("  ok      %s %s\n", kind, name)
	return true
}
