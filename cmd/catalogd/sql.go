package main

import (
	"database/sql"

	_ "github.com/jackc/pgx/v4/stdlib"
)

// sqlOpen opens a database/sql handle over pgx's stdlib driver, the
// shape golang-migrate's postgres driver expects (it wraps *sql.DB,
// not pgx's native pool type used by internal/catalog.Store).
func sqlOpen(dsn string) (*sql.DB, error) {
	return sql.Open("pgx", dsn)
}
