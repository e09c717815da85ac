package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/klinik/klinik/internal/config"
	"github.com/klinik/klinik/internal/domain/billing"
	"github.com/klinik/klinik/internal/domain/medrecord"
	"github.com/klinik/klinik/internal/domain/patient"
	"github.com/klinik/klinik/internal/domain/pharmacy"
	"github.com/klinik/klinik/internal/domain/visit"
	"github.com/klinik/klinik/internal/platform/auth"
	"github.com/klinik/klinik/internal/platform/db"
	"github.com/klinik/klinik/internal/platform/middleware"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "klinik-server",
		Short: "Clinic visit management API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(seedCmd())
	rootCmd.AddCommand(rolesCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
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

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			count, err := migrator.Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
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

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			statuses, err := migrator.Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(statusCmd)

	return cmd
}

func seedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Insert demo patients and visits (development only)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if !cfg.IsDev() {
				return fmt.Errorf("seed is only available when ENV=development")
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			patientSvc := patient.NewService(patient.NewRepo(pool))
			visitSvc := visit.NewService(visit.NewRepo(pool), nil)

			demo := []struct {
				first, last, nik string
				visitType       visit.Type
			}{
				{"Budi", "Santoso", "3173051203900001", visit.TypeOutpatient},
				{"Siti", "Rahayu", "3506102507850002", visit.TypeInpatient},
				{"Agus", "Wijaya", "3204191109780003", visit.TypeEmergency},
			}

			for _, d := range demo {
				p := &patient.Patient{FirstName: d.first, LastName: d.last, Active: true}
				if err := patientSvc.Register(ctx, p, d.nik); err != nil {
					return fmt.Errorf("seed patient %s: %w", d.first, err)
				}
				v := &visit.Visit{PatientID: p.ID, Type: d.visitType}
				if err := visitSvc.Register(ctx, v); err != nil {
					return fmt.Errorf("seed visit for %s: %w", d.first, err)
				}
				fmt.Printf("Seeded %s %s (%s) with a %s visit.\n", d.first, d.last, p.MRN, d.visitType)
			}
			return nil
		},
	}
}

func rolesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "roles",
		Short: "Manage staff role assignments",
	}

	grantCmd := &cobra.Command{
		Use:   "grant",
		Short: "Grant a role to a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, _ := cmd.Flags().GetString("user")
			role, _ := cmd.Flags().GetString("role")
			if userID == "" || role == "" {
				return fmt.Errorf("--user and --role are required")
			}
			if !auth.KnownRole(role) {
				return fmt.Errorf("unknown role: %s", role)
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			_, err = pool.Exec(ctx, `
				INSERT INTO staff_role (user_id, role, granted_by)
				VALUES ($1, $2, 'cli')
				ON CONFLICT (user_id, role) DO NOTHING`, userID, role)
			if err != nil {
				return err
			}
			fmt.Printf("Granted %s to %s.\n", role, userID)
			return nil
		},
	}
	grantCmd.Flags().String("user", "", "User identifier")
	grantCmd.Flags().String("role", "", "Role name (admin, doctor, nurse, registrar, cashier, pharmacist)")
	cmd.AddCommand(grantCmd)

	revokeCmd := &cobra.Command{
		Use:   "revoke",
		Short: "Revoke a role from a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, _ := cmd.Flags().GetString("user")
			role, _ := cmd.Flags().GetString("role")
			if userID == "" || role == "" {
				return fmt.Errorf("--user and --role are required")
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			_, err = pool.Exec(ctx,
				`DELETE FROM staff_role WHERE user_id = $1 AND role = $2`, userID, role)
			if err != nil {
				return err
			}
			fmt.Printf("Revoked %s from %s.\n", role, userID)
			return nil
		},
	}
	revokeCmd.Flags().String("user", "", "User identifier")
	revokeCmd.Flags().String("role", "", "Role name")
	cmd.AddCommand(revokeCmd)

	return cmd
}

func runServer() error {
	// Logger
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	// Config
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	// Database
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	// Role directory: Redis-backed cache when configured, in-memory otherwise.
	roleTTL := time.Duration(cfg.RoleCacheTTL) * time.Second
	var roleCache auth.RoleCache
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("invalid REDIS_URL")
		}
		rdb := redis.NewClient(opt)
		defer rdb.Close()
		roleCache = auth.NewRedisRoleCache(rdb, roleTTL)
		logger.Info().Msg("using redis role cache")
	} else {
		roleCache = auth.NewMemoryRoleCache(roleTTL)
	}
	roleDir := auth.NewRoleDirectory(auth.NewPGRoleStore(pool), roleCache)

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))

	// Auth middleware
	if cfg.IsDev() {
		e.Use(auth.DevAuthMiddleware())
	} else {
		e.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:   cfg.AuthIssuer,
			Audience: cfg.AuthAudience,
			JWKSURL:  cfg.AuthJWKSURL,
		}))
	}
	e.Use(auth.RoleLookupMiddleware(roleDir))

	// Audit middleware
	e.Use(middleware.Audit(logger))

	// API group with rate limiting
	apiV1 := e.Group("/api/v1")

	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	apiV1.Use(middleware.RateLimit(rateLimitCfg))

	// Health checks
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": "0.1.0",
		})
	})
	e.GET("/health/db", db.HealthHandler(pool))

	// Domain wiring. The visit and billing services collaborate in both
	// directions, so the billing gate is attached after both exist. The tx
	// runner puts each multi-write operation in one database transaction.
	txRun := db.PoolRunner(pool)

	visitRepo := visit.NewRepo(pool)
	visitSvc := visit.NewService(visitRepo, nil)
	visitSvc.SetTxRunner(txRun)

	billingRepo := billing.NewRepo(pool)
	billingSvc := billing.NewService(billingRepo, visitSvc)
	visitSvc.SetBillingGate(billingSvc)

	recordRepo := medrecord.NewRepo(pool)
	recordSvc := medrecord.NewService(recordRepo, visitSvc)
	recordSvc.SetTxRunner(txRun)

	pharmacyRepo := pharmacy.NewRepo(pool)
	pharmacySvc := pharmacy.NewService(pharmacyRepo, visitSvc, billingSvc)
	pharmacySvc.SetTxRunner(txRun)

	patientRepo := patient.NewRepo(pool)
	patientSvc := patient.NewService(patientRepo)

	patient.NewHandler(patientSvc).RegisterRoutes(apiV1)
	visit.NewHandler(visitSvc).RegisterRoutes(apiV1)
	medrecord.NewHandler(recordSvc).RegisterRoutes(apiV1)
	billing.NewHandler(billingSvc).RegisterRoutes(apiV1)
	pharmacy.NewHandler(pharmacySvc).RegisterRoutes(apiV1)

	// Role cache invalidation, used after role assignments change.
	apiV1.POST("/staff/:user_id/roles/invalidate",
		func(c echo.Context) error {
			userID := c.Param("user_id")
			if err := roleDir.Invalidate(c.Request().Context(), userID); err != nil {
				return echo.NewHTTPError(http.StatusInternalServerError, "failed to invalidate role cache")
			}
			return c.NoContent(http.StatusNoContent)
		},
		auth.RequireRole(auth.RoleAdmin))

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
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
