package database

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// SQLiteTimeFormat stores timestamps as fixed-width UTC text, so ORDER BY on
// a timestamp column is chronological.
const SQLiteTimeFormat = "2006-01-02T15:04:05.000000Z07:00"

// OpenSQLite opens (creating if needed) a SQLite database file. Write
// transactions take the database lock up front (_txlock=immediate) so two
// concurrent graph submissions serialize instead of failing on lock upgrade.
func OpenSQLite(ctx context.Context, path string) (*DB, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}

	params := url.Values{}
	params.Add("_pragma", "journal_mode(WAL)")
	params.Add("_pragma", "busy_timeout(10000)")
	params.Add("_pragma", "synchronous(NORMAL)")
	params.Add("_pragma", "foreign_keys(ON)")
	params.Set("_txlock", "immediate")
	params.Set("_timefmt", SQLiteTimeFormat)

	db, err := sql.Open("sqlite3", "file:"+path+"?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	return &DB{sql: db, driver: DriverSQLite}, nil
}
