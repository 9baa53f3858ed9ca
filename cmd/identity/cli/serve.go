package cli

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"

	"github.com/odyssey-erp/identity/internal/app"
	"github.com/odyssey-erp/identity/internal/auth"
	"github.com/odyssey-erp/identity/internal/observability"
	"github.com/odyssey-erp/identity/internal/password"
	"github.com/odyssey-erp/identity/internal/platform/cache"
	"github.com/odyssey-erp/identity/internal/rbac"
	"github.com/odyssey-erp/identity/internal/roles"
	"github.com/odyssey-erp/identity/internal/session"
	"github.com/odyssey-erp/identity/internal/shared"
	"github.com/odyssey-erp/identity/internal/users"
	"github.com/odyssey-erp/identity/jobs"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		if app.InTestMode() {
			slog.Default().Info("test mode detected, skipping runtime startup")
			return nil
		}
		ctx := cmd.Context()

		cfg, logger, err := loadRuntime()
		if err != nil {
			return err
		}

		stores, err := app.OpenStores(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer stores.Close()

		redisClient, err := cache.New(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return err
		}
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()

		var issuer session.Issuer
		switch cfg.SessionStrategy {
		case app.SessionStrategyJWT:
			issuer = session.NewJWTIssuer(cfg.SessionSecret, cfg.SessionIssuer, redisClient)
		default:
			issuer = session.NewRedisStore(redisClient)
		}

		hasher, err := password.New(cfg.HasherConfig())
		if err != nil {
			return fmt.Errorf("password hasher: %w", err)
		}

		userRepo := stores.Users
		roleRepo := stores.Roles
		metrics := observability.NewMetrics()

		var notifier auth.Notifier
		if cfg.JobsEnabled {
			jobClient, err := jobs.NewClient(cfg.QueueRedis())
			if err != nil {
				return err
			}
			defer func() {
				if err := jobClient.Close(); err != nil {
					logger.Warn("job client close", slog.Any("error", err))
				}
			}()
			notifier = jobClient
		}

		authService := auth.NewService(auth.ServiceParams{
			Users:    userRepo,
			Roles:    roleRepo,
			Hasher:   hasher,
			Issuer:   issuer,
			Config:   cfg.AuthConfig(),
			Logger:   logger,
			Notifier: notifier,
			Recorder: metrics,
		})
		roleService := roles.NewService(roleRepo, userRepo, logger)

		if err := app.BootstrapAdmin(ctx, app.BootstrapParams{
			Auth:     authService,
			Roles:    roleService,
			Users:    userRepo,
			Logger:   logger,
			Role:     cfg.AdminRole,
			Email:    cfg.AdminEmail,
			Password: cfg.AdminPassword,
		}); err != nil {
			return err
		}

		transport := session.Transport{CookieName: cfg.SessionCookie, Secure: cfg.IsProduction()}
		csrfManager := shared.NewCSRFManager(cfg.CSRFSecret)
		rbacMiddleware := rbac.Middleware{Logger: logger}

		authHandler := auth.NewHandler(auth.HandlerParams{
			Logger:            logger,
			Service:           authService,
			Transport:         transport,
			CSRF:              csrfManager,
			RBAC:              rbacMiddleware,
			EmailAvailability: cfg.EmailAvailabilityEnabled,
			RateLimit:         cfg.AuthRateLimit,
			RateWindow:        time.Minute,
		})

		inspector := asynq.NewInspector(cfg.QueueRedis())
		defer func() {
			if err := inspector.Close(); err != nil {
				logger.Warn("inspector close", slog.Any("error", err))
			}
		}()

		checks := stores.Checks
		checks["redis"] = func(r *http.Request) error { return redisClient.Ping(r.Context()).Err() }

		router := app.NewRouter(app.RouterParams{
			Logger:       logger,
			Config:       cfg,
			Sessions:     authService,
			Transport:    transport,
			CSRFManager:  csrfManager,
			AuthHandler:  authHandler,
			RolesHandler: roles.NewHandler(logger, roleService, rbacMiddleware, cfg.AdminRole),
			UsersHandler: users.NewHandler(logger, users.NewService(userRepo, logger), rbacMiddleware, cfg.AdminRole),
			JobHandler:   jobs.NewHandler(inspector, logger),
			Metrics:      metrics,
			Checks:       checks,
		})

		return app.Serve(ctx, app.NewServer(cfg, router), logger, shutdownTimeout)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
