package db

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/mattn/go-sqlite3"

	_ "github.com/go-sql-driver/mysql"
)

// SQLiteDriverName is the custom driver name used for every SQLite handle.
const SQLiteDriverName = "sqlite3_sublite"

func init() {
	// Per-connection PRAGMAs must run through the connect hook so pooled
	// connections behave identically.
	sql.Register(SQLiteDriverName, &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			pragmas := []string{
				// LIKE must stay case-sensitive so the in-memory evaluator
				// and the database agree; ilike goes through LOWER() instead.
				"PRAGMA case_sensitive_like = ON",
				"PRAGMA foreign_keys = ON",
				"PRAGMA busy_timeout = 5000",
			}
			for _, pragma := range pragmas {
				if _, err := conn.Exec(pragma, nil); err != nil {
					return fmt.Errorf("failed to set %s: %w", pragma, err)
				}
			}
			return nil
		},
	})
}

func isMemoryDSN(dsn string) bool {
	return strings.Contains(dsn, ":memory:")
}

// openSQLiteWriter opens the single write connection. WAL keeps readers
// unblocked during commits and _txlock=immediate acquires the write lock at
// BEGIN instead of at the first write.
func openSQLiteWriter(dsn string) (*sql.DB, error) {
	if !isMemoryDSN(dsn) {
		if strings.Contains(dsn, "?") {
			dsn += "&_journal_mode=WAL&_txlock=immediate"
		} else {
			dsn += "?_journal_mode=WAL&_txlock=immediate"
		}
	}

	writer, err := sql.Open(SQLiteDriverName, dsn)
	if err != nil {
		return nil, err
	}

	writer.SetMaxOpenConns(1)
	writer.SetMaxIdleConns(1)
	writer.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA synchronous = NORMAL",  // WAL makes NORMAL durable enough
		"PRAGMA cache_size = -64000",   // 64MB page cache
		"PRAGMA temp_store = MEMORY",   // Temp tables in RAM
		"PRAGMA journal_mode = WAL",    // WAL mode for concurrent reads
		"PRAGMA wal_autocheckpoint = 1000",
		"PRAGMA journal_size_limit = 67108864", // 64MB max WAL size after checkpoint
	}
	for _, pragma := range pragmas {
		if _, err := writer.Exec(pragma); err != nil {
			writer.Close()
			return nil, fmt.Errorf("failed to set %s: %w", pragma, err)
		}
	}
	return writer, nil
}

// openSQLiteReaders opens the pooled read side.
func openSQLiteReaders(dsn string, maxConns int) (*sql.DB, error) {
	readers, err := sql.Open(SQLiteDriverName, dsn)
	if err != nil {
		return nil, err
	}
	readers.SetMaxOpenConns(maxConns)
	readers.SetMaxIdleConns(maxConns)
	readers.SetConnMaxLifetime(0)
	return readers, nil
}

func openMySQL(dsn string, maxConns int) (*sql.DB, error) {
	handle, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, err
	}
	handle.SetMaxOpenConns(maxConns)
	handle.SetMaxIdleConns(maxConns)
	return handle, nil
}
