// Package server wires the AuthKeeper server together: Postgres, Redis, the
// refresh-token lifecycle, the gRPC API, the ops HTTP endpoints and the
// periodic sweeper. It handles graceful shutdown on SIGINT/SIGTERM.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/dmitrijs2005/authkeeper/internal/logging"
	"github.com/dmitrijs2005/authkeeper/internal/server/auth"
	"github.com/dmitrijs2005/authkeeper/internal/server/cache"
	"github.com/dmitrijs2005/authkeeper/internal/server/config"
	"github.com/dmitrijs2005/authkeeper/internal/server/events"
	"github.com/dmitrijs2005/authkeeper/internal/server/httpapi"
	"github.com/dmitrijs2005/authkeeper/internal/server/identity"
	"github.com/dmitrijs2005/authkeeper/internal/server/refreshtokens"
	"github.com/dmitrijs2005/authkeeper/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/authkeeper/internal/server/services"
	"github.com/dmitrijs2005/authkeeper/internal/server/sweeper"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	gs "github.com/dmitrijs2005/authkeeper/internal/server/grpc"
)

type App struct {
	config   *config.Config
	logger   logging.Logger
	db       *sql.DB
	rdb      *redis.Client
	cache    *cache.Store
	issuer   *auth.Issuer
	tokens   *refreshtokens.Manager
	notifier *events.Notifier
	auth     *services.AuthService
}

// NewApp opens Postgres and Redis, applies migrations and builds the
// service graph.
func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	logger := logging.NewJSONLogger(os.Stdout, slog.LevelInfo)

	db, err := sql.Open("pgx", c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}

	rm := repomanager.NewPostgresRepositoryManager()
	if err := rm.RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migration error: %w", err)
	}

	rdb := redis.NewClient(&redis.Options{Addr: c.RedisAddr, Password: c.RedisPassword, DB: c.RedisDB})
	store := cache.New(rdb, cache.TTL{Absolute: c.CacheTTL, Sliding: c.CacheSlidingTTL}, logger)

	issuer := auth.NewIssuer([]byte(c.SecretKey), c.Issuer, c.Audience, c.AccessTokenLifetime,
		auth.WithRenewalWindow(c.RefreshTokenLifetime))
	tokens := refreshtokens.NewManager(db, rm, store, c.RefreshTokenLifetime, logger)
	idp := identity.NewProvider(db, rm, logger)
	notifier := events.NewNotifier(events.NewRedisPublisher(rdb, c.EventsChannel), logger)

	return &App{
		config:   c,
		logger:   logger,
		db:       db,
		rdb:      rdb,
		cache:    store,
		issuer:   issuer,
		tokens:   tokens,
		notifier: notifier,
		auth:     services.NewAuthService(idp, issuer, tokens, notifier, logger),
	}, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

// Run serves gRPC and ops HTTP and runs the sweeper until ctx is cancelled,
// a signal arrives or one of the servers fails.
func (app *App) Run(ctx context.Context) error {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")
	app.initSignalHandler(cancelFunc)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return gs.NewGRPCServer(app.config.EndpointAddrGRPC, app.logger, app.auth, app.issuer).Run(gctx)
	})

	g.Go(func() error {
		h := httpapi.NewHandler(app.db, app.cache, app.tokens, app.issuer, app.logger)
		return httpapi.NewServer(app.config.EndpointAddrHTTP, h.Routes(), app.logger).Run(gctx)
	})

	g.Go(func() error {
		sweeper.New(app.tokens, app.config.SweepInterval, app.logger).Run(gctx)
		return nil
	})

	err := g.Wait()
	if err != nil {
		app.logger.Error(ctx, "server stopped with error", "error", err)
	}

	app.close(ctx)
	return err
}

func (app *App) close(ctx context.Context) {
	app.notifier.Wait()
	if err := app.rdb.Close(); err != nil {
		app.logger.Warn(ctx, "redis close", "error", err)
	}
	if err := app.db.Close(); err != nil {
		app.logger.Warn(ctx, "db close", "error", err)
	}
	app.logger.Info(ctx, "App stopped")
}
