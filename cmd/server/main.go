// Command server runs the calendar-sharing API.
//
//	@title						Calendar Sharing API
//	@version					1.0
//	@description				Users upload free-text availability, befriend each other, and ask an AI assistant when groups of users are free.
//	@BasePath					/api
//	@securityDefinitions.apikey	BearerAuth
//	@in							header
//	@name						Authorization
//	@description				Type "Bearer" followed by a space and the JWT.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"gorm.io/gorm"

	"github.com/tbourn/go-calshare-backend/docs"
	"github.com/tbourn/go-calshare-backend/internal/ai"
	"github.com/tbourn/go-calshare-backend/internal/auth"
	"github.com/tbourn/go-calshare-backend/internal/config"
	httpapi "github.com/tbourn/go-calshare-backend/internal/http"
	"github.com/tbourn/go-calshare-backend/internal/observability"
	"github.com/tbourn/go-calshare-backend/internal/repo"
	"github.com/tbourn/go-calshare-backend/internal/services"
	"github.com/tbourn/go-calshare-backend/internal/sysutil"
)

// version is stamped at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	// .env is optional; real environment variables win.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	log.Logger = sysutil.NewLogger(cfg.LogPretty, os.Stdout)
	sysutil.SetLogLevel(cfg.LogLevel)
	gin.SetMode(cfg.GinMode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version, cfg.AppEnv)
	if err != nil {
		log.Fatal().Err(err).Msg("otel setup failed")
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTel(sctx); err != nil {
			log.Warn().Err(err).Msg("otel shutdown")
		}
	}()

	dsn := cfg.DB.Path
	if cfg.DB.Driver == repo.DriverPostgres {
		dsn = cfg.DB.URL
	}
	db, err := repo.Open(cfg.DB.Driver, dsn)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.DB.Driver).Msg("open database")
	}
	if err := repo.Instrument(db); err != nil {
		log.Fatal().Err(err).Msg("gorm tracing plugin")
	}
	if err := repo.Migrate(db); err != nil {
		log.Fatal().Err(err).Msg("migrate")
	}
	if sysutil.IsTruthy(os.Getenv("MIGRATE_ONLY")) {
		log.Info().Msg("migrations applied; exiting")
		return
	}

	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.JWTTTL, cfg.Auth.JWTIssuer)

	users := services.NewUserService(db, auth.NewPasswordHasher(cfg.Auth.BcryptCost), tokens)
	created, err := users.EnsureAdmin(ctx, cfg.Auth.SeedAdminUsername, cfg.Auth.SeedAdminPassword)
	if err != nil {
		log.Fatal().Err(err).Msg("seed admin")
	}
	if created {
		log.Info().Str("username", cfg.Auth.SeedAdminUsername).Msg("admin account created")
	}

	delegate, err := ai.New(cfg.AI.Provider, ai.Options{
		APIKey:  cfg.AI.APIKey,
		Model:   cfg.AI.Model,
		BaseURL: cfg.AI.BaseURL,
		Timeout: cfg.AI.Timeout,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("ai delegate")
	}
	delegate = ai.Instrument(delegate, cfg.AI.Provider)

	go purgeIdempotency(ctx, db, time.Hour)

	r := gin.New()
	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/metrics"})))
	httpapi.RegisterRoutes(r, db, delegate, tokens, cfg)

	if cfg.SwaggerEnabled {
		docs.SwaggerInfo.Version = version
		docs.SwaggerInfo.BasePath = cfg.APIBasePath
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	go func() {
		log.Info().
			Str("addr", srv.Addr).
			Str("env", cfg.AppEnv).
			Str("db", cfg.DB.Driver).
			Str("ai", sysutil.FirstNonEmpty(cfg.AI.Provider, ai.ProviderMock)).
			Str("version", version).
			Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown")
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

// purgeIdempotency drops expired Idempotency-Key records every interval
// until ctx is done.
func purgeIdempotency(ctx context.Context, db *gorm.DB, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			n, err := repo.PurgeExpiredIdempotency(ctx, db, now.UTC())
			if err != nil {
				log.Warn().Err(err).Msg("purge idempotency keys")
				continue
			}
			if n > 0 {
				log.Debug().Int64("rows", n).Msg("expired idempotency keys purged")
			}
		}
	}
}
