package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/RHEW-Laboratory/WU-Scraper/internal/history"
)

// Backend names accepted by New.
const (
	BackendCSV      = "csv"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// Options selects and configures a backend.
type Options struct {
	Backend  string
	Dir      string
	Postgres PostgresConfig
}

// New opens the configured backend. The returned close func is never nil.
func New(ctx context.Context, opts Options) (history.Store, func(), error) {
	switch strings.ToLower(opts.Backend) {
	case "", BackendCSV:
		return NewCSVStore(opts.Dir), func() {}, nil
	case BackendMemory:
		return NewMemoryStore(), func() {}, nil
	case BackendPostgres:
		if opts.Postgres.DSN == "" {
			return nil, func() {}, fmt.Errorf("postgres backend requires PG_DSN")
		}
		s, err := NewPostgresStore(ctx, opts.Postgres)
		if err != nil {
			return nil, func() {}, err
		}
		return s, s.Close, nil
	default:
		return nil, func() {}, fmt.Errorf("unknown store backend %q", opts.Backend)
	}
}
