// Command server starts the tile gateway HTTP service.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"tilegate/internal/api"
	"tilegate/internal/cache"
	"tilegate/internal/directory"
	"tilegate/internal/mapdb"
	"tilegate/internal/observability/logging"
	"tilegate/internal/observability/metrics"
	"tilegate/internal/render"
	"tilegate/internal/server"
	"tilegate/internal/style"
	"tilegate/internal/style/carto"
	"tilegate/internal/tenant"
)

// version is stamped at build time.
var version = "dev"

func main() {
	addr := flag.String("addr", "", "HTTP listen address")
	tlsCert := flag.String("tls-cert", "", "path to TLS certificate file")
	tlsKey := flag.String("tls-key", "", "path to TLS private key file")
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	redisAddr := flag.String("redis-addr", "", "Redis address for the tenant directory")
	redisAddrs := flag.String("redis-addrs", "", "comma separated Redis addresses for the tenant directory")
	redisUsername := flag.String("redis-username", "", "Redis username for the tenant directory")
	redisPassword := flag.String("redis-password", "", "Redis password for the tenant directory")
	redisDB := flag.Int("redis-db", 0, "Redis database holding the tenant directory")
	redisMasterName := flag.String("redis-master-name", "", "Redis sentinel master name for the tenant directory")
	redisPoolSize := flag.Int("redis-pool-size", 0, "maximum Redis connections for the tenant directory")
	redisTimeout := flag.Duration("redis-timeout", 0, "timeout for Redis operations")
	redisTLSCA := flag.String("redis-tls-ca", "", "path to Redis TLS CA certificate")
	redisTLSCert := flag.String("redis-tls-cert", "", "path to Redis TLS client certificate")
	redisTLSKey := flag.String("redis-tls-key", "", "path to Redis TLS client key")
	redisTLSServerName := flag.String("redis-tls-server-name", "", "override Redis TLS server name")
	redisTLSSkipVerify := flag.Bool("redis-tls-skip-verify", false, "skip Redis TLS verification")
	postgresDSNTemplate := flag.String("postgres-dsn-template", "", "Postgres connection string template with a {database} placeholder")
	postgresPublicRole := flag.String("postgres-public-role", "", "role checked for anonymous table access")
	postgresMaxConns := flag.Int("postgres-max-conns", 0, "maximum connections per tenant database pool")
	postgresMinConns := flag.Int("postgres-min-conns", 0, "minimum idle connections per tenant database pool")
	postgresMaxConnLifetime := flag.Duration("postgres-max-conn-lifetime", 0, "maximum lifetime for a pooled Postgres connection")
	postgresMaxConnIdle := flag.Duration("postgres-max-conn-idle", 0, "maximum idle time for a pooled Postgres connection")
	postgresHealthInterval := flag.Duration("postgres-health-interval", 0, "interval between Postgres health checks")
	postgresConnectTimeout := flag.Duration("postgres-connect-timeout", 0, "timeout for opening a Postgres connection")
	postgresAppName := flag.String("postgres-app-name", "", "application_name reported to Postgres")
	renderURL := flag.String("render-url", "", "base URL of the rendering engine")
	renderToken := flag.String("render-token", "", "bearer token for the rendering engine")
	engineVersion := flag.String("engine-version", "", "styling engine version the gateway targets")
	purgeURL := flag.String("purge-url", "", "base URL of the HTTP cache to purge (empty disables purging)")
	flag.Parse()

	logger := logging.New(logging.Config{Level: firstNonEmpty(*logLevel, os.Getenv("TILEGATE_LOG_LEVEL"))})
	recorder := metrics.Default()

	listenAddr := firstNonEmpty(*addr, os.Getenv("TILEGATE_ADDR"))
	if listenAddr == "" {
		listenAddr = ":8181"
	}

	dirCfg := directory.RedisConfig{
		Addr:         firstNonEmpty(*redisAddr, os.Getenv("TILEGATE_REDIS_ADDR")),
		Addrs:        splitAndTrim(firstNonEmpty(*redisAddrs, os.Getenv("TILEGATE_REDIS_ADDRS"))),
		Username:     firstNonEmpty(*redisUsername, os.Getenv("TILEGATE_REDIS_USERNAME")),
		Password:     firstNonEmpty(*redisPassword, os.Getenv("TILEGATE_REDIS_PASSWORD")),
		DB:           resolveInt(*redisDB, "TILEGATE_REDIS_DB"),
		MasterName:   firstNonEmpty(*redisMasterName, os.Getenv("TILEGATE_REDIS_MASTER_NAME")),
		PoolSize:     resolveInt(*redisPoolSize, "TILEGATE_REDIS_POOL_SIZE"),
		DialTimeout:  resolveDuration(*redisTimeout, "TILEGATE_REDIS_TIMEOUT", 2*time.Second),
		ReadTimeout:  resolveDuration(*redisTimeout, "TILEGATE_REDIS_TIMEOUT", 2*time.Second),
		WriteTimeout: resolveDuration(*redisTimeout, "TILEGATE_REDIS_TIMEOUT", 2*time.Second),
		TLS: directory.TLSConfig{
			CAFile:             firstNonEmpty(*redisTLSCA, os.Getenv("TILEGATE_REDIS_TLS_CA")),
			CertFile:           firstNonEmpty(*redisTLSCert, os.Getenv("TILEGATE_REDIS_TLS_CERT")),
			KeyFile:            firstNonEmpty(*redisTLSKey, os.Getenv("TILEGATE_REDIS_TLS_KEY")),
			ServerName:         firstNonEmpty(*redisTLSServerName, os.Getenv("TILEGATE_REDIS_TLS_SERVER_NAME")),
			InsecureSkipVerify: resolveBool(*redisTLSSkipVerify, "TILEGATE_REDIS_TLS_SKIP_VERIFY"),
		},
	}
	dir, err := directory.NewRedis(dirCfg)
	if err != nil {
		logger.Error("failed to open tenant directory", "error", err)
		os.Exit(1)
	}

	dsnTemplate := firstNonEmpty(*postgresDSNTemplate, os.Getenv("TILEGATE_POSTGRES_DSN_TEMPLATE"))
	if dsnTemplate == "" {
		logger.Error("postgres dsn template is required (TILEGATE_POSTGRES_DSN_TEMPLATE)")
		os.Exit(1)
	}
	layer, err := mapdb.NewPostgresLayer(mapdb.PostgresConfig{
		DSNTemplate:         dsnTemplate,
		PublicRole:          firstNonEmpty(*postgresPublicRole, os.Getenv("TILEGATE_POSTGRES_PUBLIC_ROLE")),
		MaxConnections:      int32(resolveInt(*postgresMaxConns, "TILEGATE_POSTGRES_MAX_CONNS")),
		MinConnections:      int32(resolveInt(*postgresMinConns, "TILEGATE_POSTGRES_MIN_CONNS")),
		MaxConnLifetime:     resolveDuration(*postgresMaxConnLifetime, "TILEGATE_POSTGRES_MAX_CONN_LIFETIME", 0),
		MaxConnIdleTime:     resolveDuration(*postgresMaxConnIdle, "TILEGATE_POSTGRES_MAX_CONN_IDLE", 0),
		HealthCheckInterval: resolveDuration(*postgresHealthInterval, "TILEGATE_POSTGRES_HEALTH_INTERVAL", 0),
		ConnectTimeout:      resolveDuration(*postgresConnectTimeout, "TILEGATE_POSTGRES_CONNECT_TIMEOUT", 5*time.Second),
		ApplicationName:     firstNonEmpty(*postgresAppName, os.Getenv("TILEGATE_POSTGRES_APP_NAME"), "tilegate"),
	})
	if err != nil {
		logger.Error("failed to configure map database layer", "error", err)
		os.Exit(1)
	}

	renderBase := firstNonEmpty(*renderURL, os.Getenv("TILEGATE_RENDER_URL"))
	if renderBase == "" {
		logger.Error("render engine URL is required (TILEGATE_RENDER_URL)")
		os.Exit(1)
	}
	engine, err := render.NewHTTPEngine(render.HTTPEngineConfig{
		BaseURL: renderBase,
		Token:   firstNonEmpty(*renderToken, os.Getenv("TILEGATE_RENDER_TOKEN")),
		Metrics: recorder,
	})
	if err != nil {
		logger.Error("failed to configure render engine", "error", err)
		os.Exit(1)
	}

	var purger cache.Purger = cache.NopPurger{}
	if base := firstNonEmpty(*purgeURL, os.Getenv("TILEGATE_PURGE_URL")); base != "" {
		purger = cache.NewHTTPPurger(base, nil, recorder)
	}

	engineLine := firstNonEmpty(*engineVersion, os.Getenv("TILEGATE_ENGINE_VERSION"))
	if engineLine == "" {
		engineLine = "2.1.0"
	}
	styles := style.NewDirectoryStore(dir, engineLine, style.WithValidator(carto.Validate))

	handler := api.NewHandler(
		tenant.NewResolver(dir),
		tenant.NewAuthority(dir),
		styles,
		layer,
		engine,
		purger,
	)
	handler.Metrics = recorder
	handler.Version = version
	handler.Logger = logger

	srv, err := server.New(handler, server.Config{
		Addr: listenAddr,
		TLS: server.TLSConfig{
			CertFile: firstNonEmpty(*tlsCert, os.Getenv("TILEGATE_TLS_CERT")),
			KeyFile:  firstNonEmpty(*tlsKey, os.Getenv("TILEGATE_TLS_KEY")),
		},
		Logger:  logger,
		Metrics: recorder,
	})
	if err != nil {
		logger.Error("failed to initialise server", "error", err)
		os.Exit(1)
	}

	runCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("tile gateway listening", "addr", listenAddr, "engine_version", engineLine)
	logger.Info("metrics endpoint available", "path", "/metrics")
	if err := srv.Run(runCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", "error", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := layer.Close(ctx); err != nil {
		logger.Warn("failed to close map database pools", "error", err)
	}
	if closer, ok := dir.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			logger.Warn("failed to close tenant directory", "error", err)
		}
	}

	logger.Info("server stopped")
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func splitAndTrim(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func resolveInt(flagValue int, envKey string) int {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := strconv.Atoi(strings.TrimSpace(env)); err == nil {
			return value
		}
	}
	return 0
}

func resolveDuration(flagValue time.Duration, envKey string, fallback time.Duration) time.Duration {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := time.ParseDuration(env); err == nil {
			return value
		}
	}
	if fallback > 0 {
		return fallback
	}
	return 0
}

func resolveBool(flagValue bool, envKey string) bool {
	if flagValue {
		return true
	}
	if env, ok := os.LookupEnv(envKey); ok {
		if value, err := strconv.ParseBool(strings.TrimSpace(env)); err == nil {
			return value
		}
	}
	return false
}
