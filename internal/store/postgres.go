package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/RHEW-Laboratory/WU-Scraper/internal/history"
)

// PostgresConfig configures the PostgreSQL log store.
type PostgresConfig struct {
	DSN      string
	Schema   string
	MaxConns int

	// SimpleProtocol is needed behind transaction-pooling bouncers.
	SimpleProtocol bool
}

// PostgresStore keeps logs as rows of a single table keyed by log name.
// Row order is the append sequence, not the date.
type PostgresStore struct {
	pool    *pgxpool.Pool
	logs    string
	records string
}

// NewPostgresStore connects and creates the tables if needed.
func NewPostgresStore(ctx context.Context, cfg PostgresConfig) (*PostgresStore, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse PG_DSN: %w", err)
	}
	if cfg.MaxConns <= 0 {
		cfg.MaxConns = 2
	}
	pcfg.MaxConns = int32(cfg.MaxConns)
	if cfg.SimpleProtocol {
		pcfg.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol
	}
	if cfg.Schema == "" {
		cfg.Schema = "public"
	}

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	s := &PostgresStore{
		pool:    pool,
		logs:    pgx.Identifier{cfg.Schema, "harvest_logs"}.Sanitize(),
		records: pgx.Identifier{cfg.Schema, "daily_records"}.Sanitize(),
	}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS ` + s.logs + ` (
			log_name   text PRIMARY KEY,
			station    text NOT NULL,
			start_day  date NOT NULL,
			end_day    date NOT NULL,
			updated_at timestamptz NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS ` + s.records + ` (
			log_name text    NOT NULL REFERENCES ` + s.logs + ` (log_name) ON DELETE CASCADE,
			seq      integer NOT NULL,
			day      date    NOT NULL,
			fields   text[]  NOT NULL,
			PRIMARY KEY (log_name, seq),
			UNIQUE (log_name, day)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Create registers the log and drops any records it held.
func (s *PostgresStore) Create(ctx context.Context, name history.LogName) (history.LogWriter, error) {
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `INSERT INTO `+s.logs+` (log_name, station, start_day, end_day)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (log_name) DO UPDATE SET updated_at = now()`,
			name.Stem(), name.Station, name.Start.Time(), name.End.Time()); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `DELETE FROM `+s.records+` WHERE log_name = $1`, name.Stem())
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("create log %s: %w", name, err)
	}
	return &pgWriter{store: s, key: name.Stem()}, nil
}

// Reopen continues the append sequence of an existing log.
func (s *PostgresStore) Reopen(ctx context.Context, name history.LogName) (history.LogWriter, error) {
	if err := s.exists(ctx, name); err != nil {
		return nil, err
	}
	var next int
	err := s.pool.QueryRow(ctx, `SELECT COALESCE(MAX(seq), 0) + 1 FROM `+s.records+` WHERE log_name = $1`,
		name.Stem()).Scan(&next)
	if err != nil {
		return nil, fmt.Errorf("reopen log %s: %w", name, err)
	}
	return &pgWriter{store: s, key: name.Stem(), seq: next - 1}, nil
}

// Open loads the log into memory and iterates it.
func (s *PostgresStore) Open(ctx context.Context, name history.LogName) (history.LogReader, error) {
	records, err := s.load(ctx, name)
	if err != nil {
		return nil, err
	}
	return &memoryReader{records: records}, nil
}

// Rewrite replaces all records of the log inside one transaction.
func (s *PostgresStore) Rewrite(ctx context.Context, name history.LogName, transform func(history.LogReader, history.RecordWriter) error) error {
	records, err := s.load(ctx, name)
	if err != nil {
		return err
	}

	buf := &bufferWriter{}
	if err := transform(&memoryReader{records: records}, buf); err != nil {
		return err
	}

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM `+s.records+` WHERE log_name = $1`, name.Stem()); err != nil {
			return err
		}
		b := &pgx.Batch{}
		for i, rec := range buf.records {
			b.Queue(`INSERT INTO `+s.records+` (log_name, seq, day, fields) VALUES ($1, $2, $3, $4)`,
				name.Stem(), i+1, rec.Date.Time(), rec.Fields[:])
		}
		b.Queue(`UPDATE `+s.logs+` SET updated_at = now() WHERE log_name = $1`, name.Stem())
		if err := tx.SendBatch(ctx, b).Close(); err != nil {
			return fmt.Errorf("rewrite log %s: %w", name, err)
		}
		return nil
	})
}

func (s *PostgresStore) exists(ctx context.Context, name history.LogName) error {
	var one int
	err := s.pool.QueryRow(ctx, `SELECT 1 FROM `+s.logs+` WHERE log_name = $1`, name.Stem()).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s", history.ErrLogNotFound, name)
	}
	return err
}

func (s *PostgresStore) load(ctx context.Context, name history.LogName) ([]history.DailyRecord, error) {
	if err := s.exists(ctx, name); err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, `SELECT day, fields FROM `+s.records+` WHERE log_name = $1 ORDER BY seq`, name.Stem())
	if err != nil {
		return nil, fmt.Errorf("read log %s: %w", name, err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (history.DailyRecord, error) {
		var (
			day    time.Time
			fields []string
		)
		if err := row.Scan(&day, &fields); err != nil {
			return history.DailyRecord{}, err
		}
		if len(fields) != history.FieldCount {
			return history.DailyRecord{}, fmt.Errorf("log %s %s: expected %d fields, got %d",
				name, day.Format(history.DateLayout), history.FieldCount, len(fields))
		}
		rec := history.DailyRecord{Date: history.DateOf(day)}
		copy(rec.Fields[:], fields)
		return rec, nil
	})
}

type pgWriter struct {
	store  *PostgresStore
	key    string
	seq    int
	closed bool
}

// Append inserts one record; each insert commits on its own.
func (w *pgWriter) Append(ctx context.Context, rec history.DailyRecord) error {
	if w.closed {
		return errWriterClosed
	}
	_, err := w.store.pool.Exec(ctx, `INSERT INTO `+w.store.records+` (log_name, seq, day, fields) VALUES ($1, $2, $3, $4)`,
		w.key, w.seq+1, rec.Date.Time(), rec.Fields[:])
	if err != nil {
		return err
	}
	w.seq++
	return nil
}

func (w *pgWriter) Close() error {
	w.closed = true
	return nil
}
