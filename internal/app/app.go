package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/router-for-me/ProxyPool/internal/access"
	"github.com/router-for-me/ProxyPool/internal/config"
	"github.com/router-for-me/ProxyPool/internal/db"
	"github.com/router-for-me/ProxyPool/internal/events"
	"github.com/router-for-me/ProxyPool/internal/fetch"
	"github.com/router-for-me/ProxyPool/internal/http/api"
	"github.com/router-for-me/ProxyPool/internal/logging"
	"github.com/router-for-me/ProxyPool/internal/probe"
	"github.com/router-for-me/ProxyPool/internal/proxies"
	"github.com/router-for-me/ProxyPool/internal/scheduler"
	"github.com/router-for-me/ProxyPool/internal/security"
	internalsettings "github.com/router-for-me/ProxyPool/internal/settings"
	"github.com/router-for-me/ProxyPool/internal/sources"
	"github.com/router-for-me/ProxyPool/internal/util"

	log "github.com/sirupsen/logrus"
)

// Migrate opens the database and runs migrations.
func Migrate(ctx context.Context, cfg config.AppConfig) error {
	if ctx == nil {
		ctx = context.Background()
	}
	configPath := config.ResolveConfigPath(cfg.ConfigPath)
	dsn, err := config.LoadDatabaseDSN(configPath)
	if err != nil {
		return err
	}
	conn, err := db.Open(dsn)
	if err != nil {
		return err
	}
	if sqlDB, errDB := conn.DB(); errDB == nil {
		defer func() { _ = sqlDB.Close() }()
	}
	if errMigrate := db.Migrate(conn.WithContext(ctx)); errMigrate != nil {
		return errMigrate
	}
	log.Infof("migrations applied (dsn=%s)", redactDSN(dsn))
	return nil
}

// GeneratedToken is a fresh access token with the hash to put into the config.
type GeneratedToken struct {
	Token string
	Hash  string
}

// GenerateToken creates an access token and its bcrypt hash.
func GenerateToken() (GeneratedToken, error) {
	token, errGenerate := security.GenerateAccessToken()
	if errGenerate != nil {
		return GeneratedToken{}, errGenerate
	}
	hash, errHash := security.HashToken(token)
	if errHash != nil {
		return GeneratedToken{}, fmt.Errorf("hash access token: %w", errHash)
	}
	return GeneratedToken{Token: token, Hash: hash}, nil
}

// RunServer boots the proxy pool: store, background jobs and the HTTP API.
func RunServer(ctx context.Context, cfg config.AppConfig) error {
	if ctx == nil {
		ctx = context.Background()
	}
	configPath := config.ResolveConfigPath(cfg.ConfigPath)
	appCfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logCloser, err := logging.Setup(appCfg.Logging)
	if err != nil {
		return err
	}
	defer func() { _ = logCloser.Close() }()
	if !config.ConfigExists(configPath) {
		log.Warnf("config %s not found, using defaults", configPath)
	}

	conn, err := db.Open(appCfg.Database.DSN)
	if err != nil {
		return err
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		return errMigrate
	}
	if errRefresh := internalsettings.RefreshDBConfigSnapshot(ctx, conn); errRefresh != nil {
		return fmt.Errorf("load settings: %w", errRefresh)
	}

	sink, closeSink := buildEventSink(ctx, appCfg.Redis)
	defer closeSink()

	prober := probe.NewClient(
		probe.WithServices(appCfg.Probe.Services),
		probe.WithUserAgent(appCfg.Probe.UserAgent),
	)
	proxyRegistry := proxies.NewRegistry(conn, prober)
	sourceRegistry := sources.NewRegistry(conn, proxyRegistry, fetch.NewHTTPFetcher(appCfg.Fetch.UserAgent),
		sources.WithEventSink(sink),
		sources.WithFetchTimeout(appCfg.Fetch.Timeout),
	)

	sched := scheduler.New(proxyRegistry, sourceRegistry, appCfg.Scheduler.ProxyCheckInterval, appCfg.Scheduler.SourceCheckInterval)
	if errStart := sched.Start(ctx); errStart != nil {
		return errStart
	}
	defer sched.Stop()

	authenticator := access.NewTokenAuthenticator(appCfg.Access.TokenHash)
	if !authenticator.Enabled() {
		log.Warn("access.token_hash is empty, the API is not protected")
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(logging.GinLogger(), gin.Recovery())
	api.RegisterRoutes(engine, api.Dependencies{
		DB:      conn,
		Proxies: proxyRegistry,
		Sources: sourceRegistry,
		Access:  authenticator,
	})

	server := &http.Server{Addr: appCfg.Server.Addr, Handler: engine}
	errServe := make(chan error, 1)
	go func() {
		log.Infof("proxy pool listening on %s (config=%s)", appCfg.Server.Addr, configPath)
		if errListen := server.ListenAndServe(); errListen != nil && !errors.Is(errListen, http.ErrServerClosed) {
			errServe <- errListen
		}
		close(errServe)
	}()

	select {
	case errListen, ok := <-errServe:
		if ok {
			return fmt.Errorf("http server: %w", errListen)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), appCfg.Server.ShutdownTimeout)
	defer cancel()
	if errShutdown := server.Shutdown(shutdownCtx); errShutdown != nil {
		return fmt.Errorf("http shutdown: %w", errShutdown)
	}
	log.Info("proxy pool stopped")
	return nil
}

// buildEventSink returns the log sink, plus a Redis stream sink when enabled and reachable.
func buildEventSink(ctx context.Context, cfg config.RedisConfig) (events.Sink, func()) {
	if !cfg.Enabled {
		return events.NewSink(nil), func() {}
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if errPing := client.Ping(ctx).Err(); errPing != nil {
		log.WithError(errPing).Warnf("events: redis %s unreachable, logging events only", cfg.Address)
		_ = client.Close()
		return events.NewSink(nil), func() {}
	}
	log.Infof("events: publishing to redis stream %s", streamName(cfg.Stream))
	return events.NewSink(events.NewRedisSink(client, cfg.Stream)), func() { _ = client.Close() }
}

func streamName(stream string) string {
	if strings.TrimSpace(stream) == "" {
		return events.DefaultStream
	}
	return stream
}

// redactDSN hides the password of URL-style and key=value DSNs.
func redactDSN(dsn string) string {
	if strings.Contains(dsn, "://") {
		return util.RedactProxyURL(dsn)
	}
	fields := strings.Fields(dsn)
	for i, field := range fields {
		if strings.HasPrefix(strings.ToLower(field), "password=") {
			fields[i] = "password=xxxxx"
		}
	}
	return strings.Join(fields, " ")
}
