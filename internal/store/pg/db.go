// Package pg implements every store.*Repo interface on top of Postgres via
// jackc/pgx/v5's database/sql driver, following the teacher's
// internal/store/pg layout (one file per entity family, google/uuid IDs).
package pg

import (
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// Open opens a connection pool against dsn and verifies connectivity.
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("pg: open: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pg: ping: %w", err)
	}
	return db, nil
}
