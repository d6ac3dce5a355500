package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/medbill/billing/internal/config"
	"github.com/medbill/billing/internal/domain/billing"
	"github.com/medbill/billing/internal/domain/credential"
	"github.com/medbill/billing/internal/domain/portal"
	"github.com/medbill/billing/internal/platform/apperr"
	"github.com/medbill/billing/internal/platform/auth"
	"github.com/medbill/billing/internal/platform/db"
	"github.com/medbill/billing/internal/platform/lookup"
	"github.com/medbill/billing/internal/platform/middleware"
	"github.com/medbill/billing/internal/platform/notification"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "billing-server",
		Short: "Clinic billing ledger API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(policyCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the billing API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			ctx := context.Background()
			migrator, closeFn, err := openMigrator(ctx, dir)
			if err != nil {
				return err
			}
			defer closeFn()

			count, err := migrator.Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			ctx := context.Background()
			migrator, closeFn, err := openMigrator(ctx, dir)
			if err != nil {
				return err
			}
			defer closeFn()

			statuses, err := migrator.Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}
			printStatus(cmd, statuses)
			return nil
		},
	}
	statusCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(statusCmd)

	return cmd
}

func openMigrator(ctx context.Context, dir string) (*db.Migrator, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	pool, err := db.NewPool(ctx, poolConfig(cfg))
	if err != nil {
		return nil, nil, err
	}
	return db.NewMigrator(pool, dir), pool.Close, nil
}

func printStatus(cmd *cobra.Command, statuses []db.MigrationStatus) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	fmt.Fprintln(out, "---------- ---------------------------------------- ---------- --------------------")
	for _, s := range statuses {
		status := "pending"
		appliedAt := ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(out, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}

func policyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Inspect the authorization policy",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the role/path access table",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, line := range auth.DefaultPolicy().Describe() {
				fmt.Fprintln(cmd.OutOrStdout(), line)
			}
			return nil
		},
	})
	return cmd
}

func poolConfig(cfg *config.Config) db.PoolConfig {
	return db.PoolConfig{
		DatabaseURL: cfg.DatabaseURL,
		MaxConns:    cfg.DBMaxConns,
		MinConns:    cfg.DBMinConns,
		LockTimeout: cfg.LockTimeout,
	}
}

func newLogger(env string) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func identityProvider(cfg *config.Config) auth.IdentityProvider {
	jwtIdentity := auth.NewJWTIdentity(auth.JWTConfig{
		Issuer:     cfg.AuthIssuer,
		Audience:   cfg.AuthAudience,
		SigningKey: []byte(cfg.AuthSigningKey),
	})
	if cfg.ResolvedAuthMode() == "development" {
		if cfg.AuthSigningKey == "" {
			return auth.DevIdentity{}
		}
		return auth.DevIdentity{Next: jwtIdentity}
	}
	return jwtIdentity
}

func attemptLimiter(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (credential.AttemptLimiter, func(), error) {
	if cfg.RedisURL == "" {
		logger.Warn().Msg("REDIS_URL not set, portal login attempts are counted per process")
		return credential.NewMemoryLimiter(cfg.PortalAttemptWindow), func() {}, nil
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("ping redis: %w", err)
	}
	return credential.NewRedisLimiter(client, cfg.PortalAttemptWindow), func() { client.Close() }, nil
}

func notificationSender(cfg *config.Config) notification.Sender {
	if cfg.NotifyWebhookURL == "" {
		return notification.NopSender{}
	}
	return notification.NewWebhookSender(notification.WebhookConfig{
		URL:     cfg.NotifyWebhookURL,
		Timeout: cfg.NotifyTimeout,
		Retries: cfg.NotifyRetries,
	})
}

func runServer() error {
	logger := newLogger(os.Getenv("ENV"))

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}
	taxRate, err := cfg.TaxRate()
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid default tax rate")
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, poolConfig(cfg))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	limiter, closeLimiter, err := attemptLimiter(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer closeLimiter()

	tx := db.NewTransactor(pool)
	gate := auth.NewGate(auth.DefaultPolicy(), identityProvider(cfg), logger)

	credentialSvc := credential.NewService(credential.NewRepoPG(pool), tx, nil, limiter, credential.Config{
		MaxRetries:  cfg.NumberingMaxRetries,
		MaxAttempts: cfg.PortalMaxAttempts,
	}, logger)

	billingCfg := billing.Config{
		DefaultTaxRate:  taxRate,
		PaymentTermDays: cfg.PaymentTermDays,
		MaxRetries:      cfg.NumberingMaxRetries,
	}
	invoices := billing.NewInvoiceRepoPG(pool)
	payments := billing.NewPaymentRepoPG(pool)
	dispatcher := notification.NewDispatcher(notificationSender(cfg), nil, logger)
	ledger := billing.NewLedger(invoices, payments, tx,
		lookup.NewPGCatalog(pool), lookup.NewPGPatients(pool),
		credentialSvc, dispatcher, billingCfg, logger)
	reconciler := billing.NewReconciler(invoices, payments, tx, billingCfg, logger)
	portalSvc := portal.NewService(credentialSvc, ledger, logger)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = apperr.HTTPErrorHandler(logger)

	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.Recovery(logger))
	headersCfg := middleware.SecurityHeadersConfig{}
	if cfg.IsProduction() {
		headersCfg.HSTSMaxAge = 365 * 24 * time.Hour
	}
	e.Use(middleware.SecurityHeaders(headersCfg))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))

	rateLimitCfg := middleware.DefaultRateLimitConfig()
	if cfg.RateLimitRPS > 0 {
		rateLimitCfg.RequestsPerSecond = cfg.RateLimitRPS
		rateLimitCfg.BurstSize = cfg.RateLimitBurst
	}
	e.Use(middleware.RateLimit(rateLimitCfg))
	e.Use(gate.Middleware())

	health := func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok", "service": "billing"})
	}
	e.GET("/", health)
	e.GET("/health", health)
	e.GET("/health/db", db.HealthHandler(pool))

	api := e.Group("/api")
	billing.NewHandler(ledger, reconciler).RegisterRoutes(api)
	credential.NewHandler(credentialSvc).RegisterRoutes(api)
	portal.NewHandler(portalSvc).RegisterRoutes(api)

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("auth_mode", cfg.ResolvedAuthMode()).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}
