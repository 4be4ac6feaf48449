// Package server wires the credential subsystem together and runs the HTTP
// and gRPC listeners until the process is signalled. SIGHUP re-reads the
// configuration and reloads the signing key set.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dmitrijs2005/trackauth/internal/dbx"
	"github.com/dmitrijs2005/trackauth/internal/logging"
	"github.com/dmitrijs2005/trackauth/internal/server/auth"
	"github.com/dmitrijs2005/trackauth/internal/server/config"
	"github.com/dmitrijs2005/trackauth/internal/server/httpapi"
	"github.com/dmitrijs2005/trackauth/internal/server/keys"
	"github.com/dmitrijs2005/trackauth/internal/server/ledger"
	"github.com/dmitrijs2005/trackauth/internal/server/models"
	"github.com/dmitrijs2005/trackauth/internal/server/passwords"
	"github.com/dmitrijs2005/trackauth/internal/server/ratelimit"
	"github.com/dmitrijs2005/trackauth/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/trackauth/internal/server/repositories/users"
	"github.com/dmitrijs2005/trackauth/internal/server/services"
	"github.com/gin-gonic/gin"

	gs "github.com/dmitrijs2005/trackauth/internal/server/grpc"
)

const shutdownTimeout = 10 * time.Second

type App struct {
	config    *config.Config
	args      []string
	logger    logging.Logger
	logCloser io.Closer

	db          *sql.DB
	keys        *keys.Store
	limiter     *ratelimit.Limiter
	credentials *services.CredentialService

	httpServer *http.Server
	grpcServer *gs.GRPCServer
}

var openDB = func(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// NewApp builds every component from c. args are kept so SIGHUP can reload
// the configuration the same way it was first loaded.
func NewApp(ctx context.Context, c *config.Config, args []string) (*App, error) {
	logger, closer, err := logging.New(logging.Options{
		Level:        c.Log.Level,
		Format:       c.Log.Format,
		File:         c.Log.File,
		RotationTime: c.Log.RotationTime,
		MaxAge:       c.Log.MaxAge,
	})
	if err != nil {
		return nil, fmt.Errorf("logger init error: %w", err)
	}

	app := &App{config: c, args: args, logger: logger, logCloser: closer}
	if err := app.init(ctx); err != nil {
		app.close()
		return nil, err
	}
	return app, nil
}

func (app *App) init(ctx context.Context) error {
	c := app.config

	resolver, err := newKeyResolver(ctx, c)
	if err != nil {
		return fmt.Errorf("s3 init error: %w", err)
	}
	store, err := keys.NewStore(ctx, keysConfig(c), resolver, app.logger.With("module", "keys"))
	if err != nil {
		return fmt.Errorf("key store init error: %w", err)
	}
	app.keys = store

	rm, dbtx, err := app.initStorage(ctx)
	if err != nil {
		return err
	}

	hasher := passwords.NewBcrypt(0)
	if c.DatabaseDSN == "" && !c.IsProductionLike() {
		if err := seedDevUsers(ctx, rm.Users(dbtx), c.DevUsers, hasher); err != nil {
			return fmt.Errorf("seed dev users: %w", err)
		}
	}

	app.limiter = ratelimit.New(time.Now)
	app.credentials = services.NewCredentialService(dbtx, rm, services.Deps{
		Passwords: hasher,
		Issuer: auth.NewIssuer(store, auth.IssuerConfig{
			Issuer:    c.Auth.Issuer,
			Audiences: c.Auth.Audiences,
			TTL:       c.Auth.AccessTokenTTL,
		}),
		Verifier: auth.NewVerifier(store, auth.VerifierConfig{
			Issuer:    c.Auth.Issuer,
			Audiences: c.Auth.Audiences,
			ClockSkew: c.Auth.ClockSkew,
		}),
		Ledger: ledger.New(rm.RefreshTokens(dbtx), ledger.Config{
			TTL:                c.Auth.RefreshTokenTTL,
			RevokeChainOnReuse: c.Auth.RevokeChainOnReuse,
		}, app.logger.With("module", "ledger")),
		Limiter: app.limiter,
	}, services.CredentialConfig{
		LoginLimitPerMinute:   c.Auth.LoginLimitPerMinute,
		RefreshLimitPerMinute: c.Auth.RefreshLimitPerMinute,
	}, app.logger.With("module", "credentials"))

	if c.IsProductionLike() {
		gin.SetMode(gin.ReleaseMode)
	}
	router, err := httpapi.NewRouter(app.credentials, store, httpapi.Options{
		ExposeJWKS: !c.IsProductionLike(),
		Logger:     app.logger.With("module", "http_server"),
	})
	if err != nil {
		return fmt.Errorf("http init error: %w", err)
	}
	app.httpServer = &http.Server{
		Addr:              c.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	if c.GRPCAddr != "" {
		app.grpcServer, err = gs.NewGRPCServer(c.GRPCAddr, app.logger, app.credentials, store)
		if err != nil {
			return fmt.Errorf("grpc init error: %w", err)
		}
	}
	return nil
}

// initStorage returns Postgres repositories when a DSN is configured and
// in-memory ones otherwise.
func (app *App) initStorage(ctx context.Context) (repomanager.RepositoryManager, dbx.DBTX, error) {
	if app.config.DatabaseDSN == "" {
		app.logger.Warn(ctx, "no database configured, using in-memory stores")
		return repomanager.NewMemoryRepositoryManager(), nil, nil
	}

	db, err := openDB(ctx, app.config.DatabaseDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("db init error: %w", err)
	}
	app.db = db

	rm, err := repomanager.NewPostgresRepositoryManager(db)
	if err != nil {
		return nil, nil, fmt.Errorf("db init error: %w", err)
	}
	if err := rm.RunMigrations(ctx, db); err != nil {
		return nil, nil, fmt.Errorf("migrations error: %w", err)
	}
	return rm, db, nil
}

func keysConfig(c *config.Config) keys.Config {
	kc := keys.Config{
		ProductionLike: c.IsProductionLike(),
		CurrentKeyID:   c.Keys.CurrentKeyID,
		Pairs:          make([]keys.Pair, 0, len(c.Keys.Pairs)),
	}
	for _, p := range c.Keys.Pairs {
		kc.Pairs = append(kc.Pairs, keys.Pair{ID: p.ID, PublicKey: p.PublicKey, PrivateKey: p.PrivateKey})
	}
	return kc
}

func newKeyResolver(ctx context.Context, c *config.Config) (*keys.Resolver, error) {
	if !keys.NeedsS3(keysConfig(c)) {
		return keys.NewResolver(nil), nil
	}
	f, err := keys.NewS3Fetcher(ctx, keys.S3Options{
		Region:    c.S3.Region,
		Endpoint:  c.S3.Endpoint,
		AccessKey: c.S3.AccessKey,
		SecretKey: c.S3.SecretKey,
	})
	if err != nil {
		return nil, err
	}
	return keys.NewResolver(f), nil
}

type passwordHasher interface {
	Hash(plaintext string) (string, error)
}

func seedDevUsers(ctx context.Context, repo users.Repository, devUsers []config.DevUser, h passwordHasher) error {
	for _, u := range devUsers {
		hash, err := h.Hash(u.Password)
		if err != nil {
			return err
		}
		if _, err := repo.Create(ctx, &models.User{
			Username:     u.Username,
			PasswordHash: hash,
			Roles:        u.Roles,
			Authorities:  u.Authorities,
		}); err != nil {
			return fmt.Errorf("user %q: %w", u.Username, err)
		}
	}
	return nil
}

// reloadKeys re-reads the configuration and swaps in the new key set. On
// any failure the current key set stays in effect.
func (app *App) reloadKeys(ctx context.Context) {
	kc := keysConfig(app.config)
	if cfg, err := config.Load(app.args); err != nil {
		app.logger.Error(ctx, "config reload failed, reloading keys from current config", "error", err)
	} else {
		kc = keysConfig(cfg)
	}

	if err := app.keys.ReloadWith(ctx, kc); err != nil {
		app.logger.Error(ctx, "key reload failed, keeping previous key set", "error", err)
	}
	if app.grpcServer != nil {
		app.grpcServer.UpdateHealth()
	}
}

func (app *App) initSignalHandler(ctx context.Context, cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT, syscall.SIGHUP)

	go func() {
		defer signal.Stop(sigs)
		for {
			select {
			case <-ctx.Done():
				return
			case sig := <-sigs:
				if sig == syscall.SIGHUP {
					app.logger.Info(ctx, "SIGHUP received, reloading keys")
					app.reloadKeys(ctx)
					continue
				}
				cancelFunc()
				return
			}
		}
	}()
}

func (app *App) startHTTPServer(ctx context.Context, cancelFunc context.CancelFunc) {
	go func() {
		<-ctx.Done()
		app.logger.Info(ctx, "Stopping HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := app.httpServer.Shutdown(shutdownCtx); err != nil {
			app.logger.Error(ctx, "http shutdown error", "error", err)
		}
	}()

	app.logger.Info(ctx, "Starting HTTP server", "address", app.httpServer.Addr)
	if err := app.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

func (app *App) startGRPCServer(ctx context.Context, cancelFunc context.CancelFunc) {
	if err := app.grpcServer.Run(ctx); err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

// Run blocks until ctx is cancelled, a termination signal arrives or a
// listener fails.
func (app *App) Run(ctx context.Context) {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...", "environment", app.config.Environment)

	app.initSignalHandler(ctx, cancelFunc)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.limiter.Run(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.startHTTPServer(ctx, cancelFunc)
	}()

	if app.grpcServer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			app.startGRPCServer(ctx, cancelFunc)
		}()
	}

	wg.Wait()
	app.close()
}

func (app *App) close() {
	if app.db != nil {
		app.db.Close()
	}
	if app.logCloser != nil {
		app.logCloser.Close()
	}
}
