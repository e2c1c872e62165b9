// Package db owns storage: connection management for SQLite and MySQL,
// granular operation execution with post-write re-reads, compiled query
// caching and the batch committer that groups writes into single fsyncs.
package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog/log"

	"github.com/sublite/sublite/change"
	"github.com/sublite/sublite/query"
)

const (
	DefaultMaxReadConnections = 4
	DefaultCompiledCacheSize  = 1024
	DefaultBatchMaxWait       = 5 * time.Millisecond
)

// Config describes one storage backend.
type Config struct {
	Dialect query.Dialect
	// DSN is the database path for SQLite or a full DSN for MySQL.
	DSN                string
	MaxReadConnections int
	CompiledCacheSize  int
	Batch              BatchConfig
}

// BatchConfig controls write batching. When enabled, concurrent operations
// share one transaction and one fsync; each keeps per-operation atomicity
// through savepoints.
type BatchConfig struct {
	Enabled bool
	MaxWait time.Duration
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.MaxReadConnections <= 0 {
		out.MaxReadConnections = DefaultMaxReadConnections
	}
	if out.CompiledCacheSize <= 0 {
		out.CompiledCacheSize = DefaultCompiledCacheSize
	}
	if out.Batch.MaxWait <= 0 {
		out.Batch.MaxWait = DefaultBatchMaxWait
	}
	return out
}

type compiledSelect struct {
	sql  string
	args []any
}

// Store is a handle on one database: a single write connection, a pooled
// read side and an LRU of compiled SELECTs keyed by the query document hash.
type Store struct {
	dialect   query.Dialect
	writer    *sql.DB
	reader    *sql.DB
	compiled  *lru.Cache[uint64, compiledSelect]
	committer *batchCommitter
}

// NewStore opens the database described by cfg and starts the batch
// committer when configured.
func NewStore(cfg Config) (*Store, error) {
	if !cfg.Dialect.Valid() {
		return nil, &query.ValidationError{Reason: fmt.Sprintf("unknown dialect %q", cfg.Dialect)}
	}
	if cfg.DSN == "" {
		return nil, &query.ValidationError{Reason: "empty database DSN"}
	}
	cfg = cfg.withDefaults()

	var writer, reader *sql.DB
	var err error
	switch cfg.Dialect {
	case query.DialectSQLite:
		writer, err = openSQLiteWriter(cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("opening sqlite writer: %w", err)
		}
		if isMemoryDSN(cfg.DSN) {
			// Separate handles on :memory: would each get their own database.
			reader = writer
		} else {
			reader, err = openSQLiteReaders(cfg.DSN, cfg.MaxReadConnections)
			if err != nil {
				writer.Close()
				return nil, fmt.Errorf("opening sqlite readers: %w", err)
			}
		}
	case query.DialectMySQL:
		writer, err = openMySQL(cfg.DSN, cfg.MaxReadConnections)
		if err != nil {
			return nil, fmt.Errorf("opening mysql pool: %w", err)
		}
		reader = writer
	}

	compiled, err := lru.New[uint64, compiledSelect](cfg.CompiledCacheSize)
	if err != nil {
		closeHandles(writer, reader)
		return nil, err
	}

	store := &Store{
		dialect:  cfg.Dialect,
		writer:   writer,
		reader:   reader,
		compiled: compiled,
	}
	if cfg.Batch.Enabled {
		store.committer = newBatchCommitter(writer, cfg.Dialect, cfg.Batch.MaxWait)
		store.committer.Start()
	}

	log.Info().
		Str("dialect", string(cfg.Dialect)).
		Bool("batching", cfg.Batch.Enabled).
		Int("read_connections", cfg.MaxReadConnections).
		Msg("Opened store")
	return store, nil
}

// Dialect reports the SQL flavor this store renders statements in.
func (s *Store) Dialect() query.Dialect {
	return s.dialect
}

// Fetch runs a query document against the read side.
func (s *Store) Fetch(ctx context.Context, q *query.Query) (*query.Result, error) {
	stmt, args, err := s.compileSelect(q)
	if err != nil {
		return nil, err
	}
	rows, err := s.reader.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, storageErr("fetch", q.Table, err)
	}
	scanned, err := scanRows(rows)
	if err != nil {
		return nil, storageErr("fetch", q.Table, err)
	}

	if q.Return == query.ReturnSingle {
		if len(scanned) == 0 {
			return query.SingleResult(nil), nil
		}
		return query.SingleResult(scanned[0]), nil
	}
	return query.ManyResult(scanned), nil
}

// compileSelect memoizes query compilation. Subscriptions re-fetch the same
// document on every reconnect, so hits dominate once a client population
// settles.
func (s *Store) compileSelect(q *query.Query) (string, []any, error) {
	doc, err := json.Marshal(q)
	if err != nil {
		return query.CompileSelect(s.dialect, q)
	}
	key := xxhash.Sum64(doc)
	if cached, ok := s.compiled.Get(key); ok {
		return cached.sql, cached.args, nil
	}

	stmt, args, err := query.CompileSelect(s.dialect, q)
	if err != nil {
		return "", nil, err
	}
	s.compiled.Add(key, compiledSelect{sql: stmt, args: args})
	return stmt, args, nil
}

// Apply validates and executes one granular operation. The returned
// notification is nil when nothing changed (update or delete of a missing
// row, empty batch insert).
func (s *Store) Apply(ctx context.Context, op change.Operation) (change.Notification, error) {
	if err := op.Validate(); err != nil {
		return nil, err
	}
	if s.committer != nil {
		return s.committer.Submit(op)
	}
	return s.applyDirect(ctx, op)
}

func (s *Store) applyDirect(ctx context.Context, op change.Operation) (change.Notification, error) {
	tx, err := s.writer.BeginTx(ctx, nil)
	if err != nil {
		return nil, storageErr("begin", op.Table(), err)
	}
	notification, err := applyOperation(ctx, tx, s.dialect, op)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, storageErr("commit", op.Table(), err)
	}
	return notification, nil
}

// Raw classifies and executes one raw SQL statement. Writes run on the write
// connection and bypass the notification pipeline; the caller is responsible
// for gating them.
func (s *Store) Raw(ctx context.Context, stmt string, args []any) (*RawResult, error) {
	class, err := ClassifyStatement(stmt)
	if err != nil {
		return nil, err
	}

	switch class {
	case StatementSelect:
		rows, err := s.reader.QueryContext(ctx, stmt, args...)
		if err != nil {
			return nil, storageErr("raw", "", err)
		}
		scanned, err := scanRows(rows)
		if err != nil {
			return nil, storageErr("raw", "", err)
		}
		return &RawResult{Class: class, Rows: scanned}, nil
	default:
		result, err := s.writer.ExecContext(ctx, stmt, args...)
		if err != nil {
			return nil, storageErr("raw", "", err)
		}
		out := &RawResult{Class: class}
		// Not every driver reports these; zero values are fine.
		out.RowsAffected, _ = result.RowsAffected()
		out.LastInsertID, _ = result.LastInsertId()
		return out, nil
	}
}

// Close flushes pending batched writes and closes every handle.
func (s *Store) Close() error {
	if s.committer != nil {
		s.committer.Stop()
	}
	var firstErr error
	if s.reader != s.writer {
		firstErr = s.reader.Close()
	}
	if err := s.writer.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func closeHandles(writer, reader *sql.DB) {
	if reader != nil && reader != writer {
		reader.Close()
	}
	if writer != nil {
		writer.Close()
	}
}
