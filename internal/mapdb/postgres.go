package mapdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// databaseToken marks where the tenant database name is substituted into the
// DSN template.
const databaseToken = "{database}"

// PostgresConfig describes how the layer connects to the per-tenant map
// databases. DSNTemplate must contain the {database} token; each tenant
// database gets its own bounded pool.
type PostgresConfig struct {
	DSNTemplate         string
	PublicRole          string
	MaxConnections      int32
	MinConnections      int32
	MaxConnLifetime     time.Duration
	MaxConnIdleTime     time.Duration
	HealthCheckInterval time.Duration
	ConnectTimeout      time.Duration
	ApplicationName     string
}

// PostgresLayer implements Layer over pgx pools, one pool per tenant
// database, created lazily and reused for the process lifetime.
type PostgresLayer struct {
	cfg   PostgresConfig
	mu    sync.Mutex
	pools map[string]*pgxpool.Pool
}

// NewPostgresLayer validates the configuration and returns an empty layer;
// pools are opened on first use per database.
func NewPostgresLayer(cfg PostgresConfig) (*PostgresLayer, error) {
	if !strings.Contains(cfg.DSNTemplate, databaseToken) {
		return nil, fmt.Errorf("postgres dsn template must contain %s", databaseToken)
	}
	if strings.TrimSpace(cfg.PublicRole) == "" {
		cfg.PublicRole = "publicuser"
	}
	return &PostgresLayer{cfg: cfg, pools: make(map[string]*pgxpool.Pool)}, nil
}

// DSNFor renders the connection string for a tenant database.
func (l *PostgresLayer) DSNFor(database string) string {
	return strings.ReplaceAll(l.cfg.DSNTemplate, databaseToken, database)
}

func (l *PostgresLayer) pool(ctx context.Context, database string) (*pgxpool.Pool, error) {
	l.mu.Lock()
	if pool, ok := l.pools[database]; ok {
		l.mu.Unlock()
		return pool, nil
	}
	l.mu.Unlock()

	poolCfg, err := pgxpool.ParseConfig(l.DSNFor(database))
	if err != nil {
		return nil, fmt.Errorf("parse postgres config for %q: %w", database, err)
	}
	if l.cfg.MaxConnections > 0 {
		poolCfg.MaxConns = l.cfg.MaxConnections
	}
	if l.cfg.MinConnections >= 0 {
		poolCfg.MinConns = l.cfg.MinConnections
	}
	if l.cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = l.cfg.MaxConnLifetime
	}
	if l.cfg.MaxConnIdleTime > 0 {
		poolCfg.MaxConnIdleTime = l.cfg.MaxConnIdleTime
	}
	if l.cfg.HealthCheckInterval > 0 {
		poolCfg.HealthCheckPeriod = l.cfg.HealthCheckInterval
	}
	if l.cfg.ConnectTimeout > 0 {
		poolCfg.ConnConfig.ConnectTimeout = l.cfg.ConnectTimeout
	}
	if l.cfg.ApplicationName != "" {
		if poolCfg.ConnConfig.RuntimeParams == nil {
			poolCfg.ConnConfig.RuntimeParams = make(map[string]string)
		}
		poolCfg.ConnConfig.RuntimeParams["application_name"] = l.cfg.ApplicationName
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool for %q: %w", database, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if existing, ok := l.pools[database]; ok {
		pool.Close()
		return existing, nil
	}
	l.pools[database] = pool
	return pool, nil
}

// IsPrivate reports whether the public role can read the table. A table the
// public role cannot SELECT from requires an authenticated owner.
func (l *PostgresLayer) IsPrivate(ctx context.Context, database, table string) (bool, error) {
	pool, err := l.pool(ctx, database)
	if err != nil {
		return false, err
	}
	var readable bool
	err = pool.QueryRow(ctx,
		`SELECT has_table_privilege($1, $2::regclass, 'SELECT')`,
		l.cfg.PublicRole, table,
	).Scan(&readable)
	if err != nil {
		return false, fmt.Errorf("privacy check %s.%s: %w", database, table, err)
	}
	return !readable, nil
}

// Infowindow returns the stored interaction-layer definition for a table.
func (l *PostgresLayer) Infowindow(ctx context.Context, database, table string) (string, bool, error) {
	pool, err := l.pool(ctx, database)
	if err != nil {
		return "", false, err
	}
	var infowindow *string
	err = pool.QueryRow(ctx,
		`SELECT infowindow FROM cdb_table_metadata WHERE tablename = $1`,
		table,
	).Scan(&infowindow)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("infowindow lookup %s.%s: %w", database, table, err)
	}
	if infowindow == nil {
		return "", false, nil
	}
	return *infowindow, true, nil
}

// Metadata returns the raw map metadata document for a table. Absent rows
// yield a JSON null so the dispatcher can pass the value through untouched.
func (l *PostgresLayer) Metadata(ctx context.Context, database, table string) (json.RawMessage, error) {
	pool, err := l.pool(ctx, database)
	if err != nil {
		return nil, err
	}
	var doc []byte
	err = pool.QueryRow(ctx,
		`SELECT map_metadata FROM cdb_table_metadata WHERE tablename = $1`,
		table,
	).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) || doc == nil {
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("metadata lookup %s.%s: %w", database, table, err)
		}
		return json.RawMessage("null"), nil
	}
	if err != nil {
		return nil, fmt.Errorf("metadata lookup %s.%s: %w", database, table, err)
	}
	if !json.Valid(doc) {
		encoded, marshalErr := json.Marshal(string(doc))
		if marshalErr != nil {
			return nil, fmt.Errorf("metadata encode %s.%s: %w", database, table, marshalErr)
		}
		return json.RawMessage(encoded), nil
	}
	return json.RawMessage(doc), nil
}

// Close releases every pool the layer opened.
func (l *PostgresLayer) Close(ctx context.Context) error {
	l.mu.Lock()
	pools := make([]*pgxpool.Pool, 0, len(l.pools))
	for _, pool := range l.pools {
		pools = append(pools, pool)
	}
	l.pools = make(map[string]*pgxpool.Pool)
	l.mu.Unlock()

	done := make(chan struct{})
	go func() {
		for _, pool := range pools {
			pool.Close()
		}
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}
