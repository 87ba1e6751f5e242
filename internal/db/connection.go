package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kjannette/tethra-tap/internal/logger"
	"github.com/sirupsen/logrus"
)

// The journal takes a handful of writes per poll, so the pool stays small.
const (
	journalMaxConns = 4
	journalMinConns = 1
	connectTimeout  = 5 * time.Second
)

// PoolConfig parses dsn and sizes the pool for the journal. A
// pool_max_conns parameter in the DSN wins over the default.
func PoolConfig(dsn string) (*pgxpool.Config, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	if !strings.Contains(dsn, "pool_max_conns") {
		cfg.MaxConns = journalMaxConns
	}
	cfg.MinConns = journalMinConns
	cfg.MaxConnIdleTime = 30 * time.Second
	cfg.MaxConnLifetime = 5 * time.Minute
	return cfg, nil
}

// Open connects to the journal database, checks that it answers and applies
// the schema. The pool is closed again on any failure.
func Open(ctx context.Context, dsn string, log *logger.Logger) (*pgxpool.Pool, error) {
	cfg, err := PoolConfig(dsn)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	p, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	var version string
	if err := p.QueryRow(ctx, "SHOW server_version").Scan(&version); err != nil {
		p.Close()
		return nil, fmt.Errorf("probe journal database: %w", err)
	}
	if err := Migrate(ctx, p); err != nil {
		p.Close()
		return nil, err
	}

	log.WithComponent("db").WithFields(logrus.Fields{
		"host":           cfg.ConnConfig.Host,
		"database":       cfg.ConnConfig.Database,
		"max_conns":      cfg.MaxConns,
		"server_version": version,
	}).Info("Journal database ready")
	return p, nil
}
