package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/clinicdesk/clinic/internal/config"
	"github.com/clinicdesk/clinic/internal/domain/catalog"
	"github.com/clinicdesk/clinic/internal/domain/identity"
	"github.com/clinicdesk/clinic/internal/domain/medication"
	"github.com/clinicdesk/clinic/internal/domain/patient"
	"github.com/clinicdesk/clinic/internal/platform/apierr"
	"github.com/clinicdesk/clinic/internal/platform/auth"
	"github.com/clinicdesk/clinic/internal/platform/db"
	"github.com/clinicdesk/clinic/internal/platform/middleware"
	"github.com/clinicdesk/clinic/internal/platform/upload"
)

const version = "1.0.0"

// stores bundles the repositories of the selected driver.
type stores struct {
	users    identity.Repository
	patients patient.Repository
	records  medication.Repository
	probe    db.Probe
	tx       identity.TxFunc
	close    func()
}

func openStores(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*stores, error) {
	switch cfg.StoreDriver {
	case config.DriverPostgres:
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			return nil, err
		}
		logger.Info().Str("driver", cfg.StoreDriver).Msg("connected to database")
		return &stores{
			users:    identity.NewPGRepo(pool),
			patients: patient.NewPGRepo(pool),
			records:  medication.NewPGRepo(pool),
			probe:    db.PostgresProbe(pool),
			tx: func(ctx context.Context, fn func(ctx context.Context) error) error {
				return db.RunInTx(ctx, pool, fn)
			},
			close: pool.Close,
		}, nil

	case config.DriverMongo:
		client, database, err := db.NewMongo(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return nil, err
		}
		if _, err := db.EnsureMongoIndexes(ctx, database); err != nil {
			_ = client.Disconnect(context.Background())
			return nil, err
		}
		logger.Info().Str("driver", cfg.StoreDriver).Str("database", cfg.MongoDatabase).Msg("connected to database")
		return &stores{
			users:    identity.NewMongoRepo(database),
			patients: patient.NewMongoRepo(database),
			records:  medication.NewMongoRepo(database),
			probe:    db.MongoProbe(client),
			close: func() {
				_ = client.Disconnect(context.Background())
			},
		}, nil
	}
	return nil, fmt.Errorf("unsupported store driver %q", cfg.StoreDriver)
}

// openPool is used by the migrate commands, which only apply to Postgres.
func openPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	if cfg.StoreDriver != config.DriverPostgres {
		return nil, fmt.Errorf("SQL migrations require STORE_DRIVER=%s (got %q)", config.DriverPostgres, cfg.StoreDriver)
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	return db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
}

func openRevocations(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (auth.RevocationStore, func(), error) {
	if cfg.RedisURL == "" {
		mem := auth.NewMemoryRevocationStore(5 * time.Minute)
		return mem, mem.Close, nil
	}
	client, err := auth.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	logger.Info().Msg("using redis token revocation store")
	return auth.NewRedisRevocationStore(client), func() { _ = client.Close() }, nil
}

type services struct {
	identity   *identity.Service
	patients   *patient.Service
	medication *medication.Service
	tokens     *auth.TokenIssuer
}

func newServices(cfg *config.Config, st *stores, revocations auth.RevocationStore, logger zerolog.Logger) *services {
	tokens := auth.NewTokenIssuer([]byte(cfg.JWTSecret), cfg.TokenTTL)

	identitySvc := identity.NewService(st.users, tokens, revocations, identity.Options{
		BcryptCost:       cfg.BcryptCost,
		EmailSuffixes:    cfg.EmailDomainSuffixes,
		ProtectAdmins:    cfg.ProtectAdmins,
		AllowAdminSignup: cfg.AllowAdminSignup,
	}, logger)
	patientSvc := patient.NewService(st.patients, identitySvc, logger)
	medSvc := medication.NewService(st.records, patientSvc, identitySvc, logger)

	// Cascades: user deletion reaches patients, patient deletion reaches
	// their medication records.
	identitySvc.SetPatientLinks(patientSvc)
	patientSvc.SetRecordCascade(medSvc)
	identitySvc.SetTx(st.tx)
	patientSvc.SetTx(st.tx)

	return &services{
		identity:   identitySvc,
		patients:   patientSvc,
		medication: medSvc,
		tokens:     tokens,
	}
}

func newServer(cfg *config.Config, st *stores, svcs *services, revocations auth.RevocationStore, images upload.ImageStore, logger zerolog.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = apierr.HTTPErrorHandler(logger)

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders(middleware.SecurityHeadersConfig{HSTS: cfg.IsProduction()}))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{echo.HeaderAuthorization, echo.HeaderContentType, echo.HeaderXRequestID},
	}))
	e.Use(middleware.BodyLimit(cfg.BodyLimitBytes, cfg.UploadMaxBytes))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout))
	e.Use(middleware.Audit(logger))

	// Auth middleware
	e.Use(auth.Authenticate(auth.Config{
		Tokens:      svcs.tokens,
		Revocations: revocations,
		Resolver:    svcs.identity,
		Skipper:     auth.AuthSkipper,
		Logger:      logger,
	}))

	// Health check
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	e.GET("/health/db", db.HealthHandler(st.probe))

	e.Static("/uploads", cfg.UploadDir)

	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	credentials := middleware.RateLimit(middleware.CredentialRateLimitConfig())

	api := e.Group("/api", middleware.RateLimit(rateLimitCfg))
	api.GET("/capabilities", auth.CapabilitiesHandler)

	identity.NewHandler(svcs.identity).RegisterRoutes(api, credentials)
	patient.NewHandler(svcs.patients).RegisterRoutes(api)
	catalog.NewHandler().RegisterRoutes(api)
	medication.NewHandler(svcs.medication).RegisterRoutes(api)
	upload.NewHandler(images).RegisterRoutes(api)

	return e
}

func newLogger(cfg *config.Config) zerolog.Logger {
	if cfg != nil && cfg.IsDev() {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}
