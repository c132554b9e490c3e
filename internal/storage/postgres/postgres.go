// Package postgres implements the transaction cache on PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/postfiatorg/pftnoded/internal/logging"
	"github.com/postfiatorg/pftnoded/internal/storage"
)

// Store implements storage.Store on a PostgreSQL database. Open initializes
// the core schema and applies registered extensions; the core schema is
// invariant across versions.
type Store struct {
	db        *sql.DB
	connStr   string
	reference string

	logger          logging.Logger
	metrics         storage.Metrics
	maxOpenConns    int
	maxIdleConns    int
	connMaxLifetime time.Duration
	defaultTimeout  time.Duration
	extensions      []storage.Extension
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(logger logging.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(metrics storage.Metrics) Option {
	return func(s *Store) {
		s.metrics = metrics
	}
}

// WithPoolLimits tunes the connection pool.
func WithPoolLimits(maxOpen, maxIdle int) Option {
	return func(s *Store) {
		s.maxOpenConns = maxOpen
		s.maxIdleConns = maxIdle
	}
}

// WithConnMaxLifetime bounds connection reuse.
func WithConnMaxLifetime(d time.Duration) Option {
	return func(s *Store) {
		s.connMaxLifetime = d
	}
}

// WithDefaultTimeout bounds individual statements.
func WithDefaultTimeout(d time.Duration) Option {
	return func(s *Store) {
		s.defaultTimeout = d
	}
}

// WithExtensions registers schema extensions applied after the core schema.
func WithExtensions(exts ...storage.Extension) Option {
	return func(s *Store) {
		s.extensions = append(s.extensions, exts...)
	}
}

// New creates a Store bound to a connection string and a reference account.
// The reference account signs amount direction for unprocessed-row scans.
func New(connStr, reference string, options ...Option) (*Store, error) {
	if connStr == "" {
		return nil, storage.NewConfigurationError("new_store", "empty connection string", storage.ErrMissingConn)
	}
	if reference == "" {
		return nil, storage.NewConfigurationError("new_store", "empty reference account", storage.ErrMissingRef)
	}

	s := &Store{
		connStr:         connStr,
		reference:       reference,
		logger:          logging.NewDefaultLogger(),
		metrics:         storage.NopMetrics{},
		maxOpenConns:    10,
		maxIdleConns:    5,
		connMaxLifetime: time.Hour,
		defaultTimeout:  30 * time.Second,
	}
	for _, option := range options {
		option(s)
	}
	return s, nil
}

// Open opens the database connection and initializes the schema.
func (s *Store) Open(ctx context.Context) error {
	if s.db != nil {
		return nil
	}

	db, err := sql.Open("postgres", s.connStr)
	if err != nil {
		return storage.NewConnectionError("open", "failed to open database", err)
	}

	db.SetMaxOpenConns(s.maxOpenConns)
	db.SetMaxIdleConns(s.maxIdleConns)
	db.SetConnMaxLifetime(s.connMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, s.defaultTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		s.metrics.IncrementCounter("cache.connection.failed", map[string]string{
			"store": "postgres",
		})
		return storage.NewConnectionError("open", "failed to ping database", err)
	}

	s.db = db

	if err := s.initSchema(ctx); err != nil {
		s.db.Close()
		s.db = nil
		return err
	}

	s.logger.Info("transaction cache opened for %s", s.reference)
	s.metrics.IncrementCounter("cache.connection.opened", map[string]string{
		"store": "postgres",
	})
	return nil
}

// Close closes the database connection.
func (s *Store) Close(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	if err != nil {
		return storage.NewConnectionError("close", "failed to close database", err)
	}
	return nil
}

// Ping tests the connection.
func (s *Store) Ping(ctx context.Context) error {
	if s.db == nil {
		return storage.ErrStoreClosed
	}
	ctx, cancel := context.WithTimeout(ctx, s.defaultTimeout)
	defer cancel()
	if err := s.db.PingContext(ctx); err != nil {
		return storage.NewConnectionError("ping", "database ping failed", err)
	}
	return nil
}

func (s *Store) initSchema(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS tx_cache (
			hash VARCHAR(64) PRIMARY KEY,
			account VARCHAR(35) NOT NULL,
			destination VARCHAR(35) NOT NULL DEFAULT '',
			ledger_index BIGINT NOT NULL,
			close_time_iso TIMESTAMP WITH TIME ZONE NOT NULL,
			tx_json JSONB NOT NULL,
			meta JSONB NOT NULL,
			validated BOOLEAN NOT NULL DEFAULT FALSE,
			inserted_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		)`,

		`CREATE TABLE IF NOT EXISTS processing_results (
			tx_hash VARCHAR(64) PRIMARY KEY,
			processed BOOLEAN NOT NULL,
			rule_name VARCHAR(100) NOT NULL,
			response_tx_hash VARCHAR(64),
			notes TEXT NOT NULL DEFAULT '',
			ts TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		)`,

		`CREATE INDEX IF NOT EXISTS idx_tx_cache_account ON tx_cache(account)`,
		`CREATE INDEX IF NOT EXISTS idx_tx_cache_destination ON tx_cache(destination)`,
		`CREATE INDEX IF NOT EXISTS idx_tx_cache_ledger_index ON tx_cache(ledger_index)`,
		`CREATE INDEX IF NOT EXISTS idx_tx_cache_close_time ON tx_cache(close_time_iso)`,

		// Operator-facing projection of the memo columns. Go code decodes
		// from tx_json directly so malformed hex stays non-fatal.
		`CREATE OR REPLACE VIEW decoded_memos AS
		SELECT
			t.hash,
			t.account,
			t.destination,
			t.ledger_index,
			t.close_time_iso,
			t.validated,
			t.tx_json -> 'Memos' -> 0 -> 'Memo' ->> 'MemoType'   AS memo_type_hex,
			t.tx_json -> 'Memos' -> 0 -> 'Memo' ->> 'MemoFormat' AS memo_format_hex,
			t.tx_json -> 'Memos' -> 0 -> 'Memo' ->> 'MemoData'   AS memo_data_hex,
			t.tx_json -> 'Amount'                                AS amount,
			t.meta ->> 'TransactionResult'                       AS transaction_result
		FROM tx_cache t
		WHERE t.tx_json -> 'Memos' -> 0 -> 'Memo' IS NOT NULL`,
	}

	for _, query := range queries {
		if _, err := s.db.ExecContext(ctx, query); err != nil {
			return storage.NewSchemaError("init_schema", "failed to execute schema statement", err)
		}
	}

	for _, ext := range s.extensions {
		for _, stmt := range ext.Statements {
			if _, err := s.db.ExecContext(ctx, stmt); err != nil {
				return storage.NewSchemaError("init_schema", "extension "+ext.Name+" failed", err)
			}
		}
		s.logger.Info("applied schema extension %s", ext.Name)
	}

	return nil
}

// BatchInsert upserts records within a single transaction and returns the
// number of newly inserted rows.
func (s *Store) BatchInsert(ctx context.Context, records []storage.TxRecord) (int, error) {
	if s.db == nil {
		return 0, storage.ErrStoreClosed
	}
	if len(records) == 0 {
		return 0, nil
	}

	start := time.Now()
	defer func() {
		s.metrics.RecordDuration("cache.batch_insert.duration", time.Since(start), map[string]string{
			"store": "postgres",
		})
	}()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, storage.NewTransactionError("batch_insert", "failed to begin transaction", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO tx_cache (hash, account, destination, ledger_index, close_time_iso, tx_json, meta, validated)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (hash) DO NOTHING`)
	if err != nil {
		return 0, storage.NewQueryError("batch_insert", "failed to prepare insert", err)
	}
	defer stmt.Close()

	inserted := 0
	for _, rec := range records {
		if rec.Hash == "" {
			return 0, storage.NewDataError("batch_insert", "record without hash", storage.ErrRecordInvalid)
		}
		meta := rec.MetaJSON
		if len(meta) == 0 {
			meta = []byte("{}")
		}
		res, err := stmt.ExecContext(ctx, rec.Hash, rec.Account, rec.Destination,
			rec.LedgerIndex, rec.CloseTime, rec.TxJSON, meta, rec.Validated)
		if err != nil {
			return 0, storage.NewQueryError("batch_insert", "failed to insert "+rec.Hash, err)
		}
		if n, err := res.RowsAffected(); err == nil {
			inserted += int(n)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, storage.NewTransactionError("batch_insert", "failed to commit batch", err)
	}
	s.metrics.SetGauge("cache.batch_insert.rows", float64(inserted), map[string]string{
		"store": "postgres",
	})
	return inserted, nil
}

const recordColumns = `hash, account, destination, ledger_index, close_time_iso, tx_json, meta, validated`

// History returns decoded memos involving account, oldest first.
func (s *Store) History(ctx context.Context, account string, pftOnly bool) ([]storage.DecodedMemo, error) {
	if s.db == nil {
		return nil, storage.ErrStoreClosed
	}

	start := time.Now()
	defer func() {
		s.metrics.RecordDuration("cache.history.duration", time.Since(start), map[string]string{
			"store": "postgres",
		})
	}()

	query := `SELECT ` + recordColumns + `
		FROM tx_cache
		WHERE (account = $1 OR destination = $1)
		  AND tx_json -> 'Memos' -> 0 -> 'Memo' IS NOT NULL`
	if pftOnly {
		query += ` AND tx_json -> 'Amount' ->> 'currency' = 'PFT'`
	}
	query += ` ORDER BY close_time_iso ASC, ledger_index ASC, hash ASC`

	rows, err := s.db.QueryContext(ctx, query, account)
	if err != nil {
		return nil, storage.NewQueryError("history", "failed to query history", err)
	}
	defer rows.Close()

	return scanDecoded(rows, account)
}

// UnprocessedTransactions returns memo-bearing rows with no processing
// result, decoded against the store's reference account.
func (s *Store) UnprocessedTransactions(ctx context.Context, orderBy storage.Order, limit int) ([]storage.DecodedMemo, error) {
	if s.db == nil {
		return nil, storage.ErrStoreClosed
	}
	if limit <= 0 {
		return nil, storage.NewQueryError("unprocessed_transactions", "bad limit", storage.ErrInvalidLimit)
	}

	direction := "ASC"
	if orderBy == storage.OrderNewestFirst {
		direction = "DESC"
	}

	query := `SELECT ` + recordColumns + `
		FROM tx_cache t
		WHERE t.tx_json -> 'Memos' -> 0 -> 'Memo' IS NOT NULL
		  AND NOT EXISTS (SELECT 1 FROM processing_results p WHERE p.tx_hash = t.hash)
		ORDER BY close_time_iso ` + direction + `, ledger_index ` + direction + `, hash ` + direction + `
		LIMIT $1`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, storage.NewQueryError("unprocessed_transactions", "failed to query unprocessed rows", err)
	}
	defer rows.Close()

	return scanDecoded(rows, s.reference)
}

// RecordResult upserts the processing result for one transaction.
func (s *Store) RecordResult(ctx context.Context, result storage.ProcessingResult) error {
	if s.db == nil {
		return storage.ErrStoreClosed
	}
	if result.TxHash == "" {
		return storage.NewDataError("record_result", "result without tx hash", storage.ErrRecordInvalid)
	}

	ts := result.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO processing_results (tx_hash, processed, rule_name, response_tx_hash, notes, ts)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (tx_hash) DO UPDATE SET
			processed = EXCLUDED.processed,
			rule_name = EXCLUDED.rule_name,
			response_tx_hash = EXCLUDED.response_tx_hash,
			notes = EXCLUDED.notes,
			ts = EXCLUDED.ts`,
		result.TxHash, result.Processed, result.RuleName, result.ResponseTxHash, result.Notes, ts)
	if err != nil {
		return storage.NewQueryError("record_result", "failed to upsert result", err)
	}
	s.metrics.IncrementCounter("cache.result.recorded", map[string]string{
		"store": "postgres",
		"rule":  result.RuleName,
	})
	return nil
}

// ResultExists reports whether a processing result was recorded for txHash.
func (s *Store) ResultExists(ctx context.Context, txHash string) (bool, error) {
	if s.db == nil {
		return false, storage.ErrStoreClosed
	}

	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM processing_results WHERE tx_hash = $1)`, txHash).Scan(&exists)
	if err != nil {
		return false, storage.NewQueryError("result_exists", "failed to query result", err)
	}
	return exists, nil
}

// MaxLedgerIndex returns the highest cached ledger index involving account.
func (s *Store) MaxLedgerIndex(ctx context.Context, account string) (int64, error) {
	if s.db == nil {
		return 0, storage.ErrStoreClosed
	}

	var max sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(ledger_index) FROM tx_cache WHERE account = $1 OR destination = $1`, account).Scan(&max)
	if err != nil {
		return 0, storage.NewQueryError("max_ledger_index", "failed to query max ledger index", err)
	}
	if !max.Valid {
		return 0, nil
	}
	return max.Int64, nil
}

func scanDecoded(rows *sql.Rows, reference string) ([]storage.DecodedMemo, error) {
	var out []storage.DecodedMemo
	for rows.Next() {
		var rec storage.TxRecord
		if err := rows.Scan(&rec.Hash, &rec.Account, &rec.Destination, &rec.LedgerIndex,
			&rec.CloseTime, &rec.TxJSON, &rec.MetaJSON, &rec.Validated); err != nil {
			return nil, storage.NewQueryError("scan", "failed to scan cache row", err)
		}
		if decoded, ok := storage.DecodeRecord(rec, reference); ok {
			out = append(out, decoded)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, storage.NewQueryError("scan", "row iteration failed", err)
	}
	return out, nil
}
