package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/healz/reports/internal/config"
	"github.com/healz/reports/internal/domain/analytics"
	"github.com/healz/reports/internal/domain/biomarker"
	"github.com/healz/reports/internal/domain/form"
	"github.com/healz/reports/internal/domain/intake"
	"github.com/healz/reports/internal/domain/patient"
	"github.com/healz/reports/internal/domain/processing"
	"github.com/healz/reports/internal/domain/report"
	"github.com/healz/reports/internal/domain/scheduling"
	"github.com/healz/reports/internal/platform/auth"
	"github.com/healz/reports/internal/platform/blobstore"
	"github.com/healz/reports/internal/platform/db"
	"github.com/healz/reports/internal/platform/middleware"
	"github.com/healz/reports/internal/platform/reporting"
	"github.com/healz/reports/internal/platform/validation"
	"github.com/healz/reports/internal/platform/workflow"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "healz-server",
		Short: "Healz Reports API Server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(queueCmd())
	rootCmd.AddCommand(tokenCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(cfg *config.Config) zerolog.Logger {
	if cfg != nil && cfg.IsDev() {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func openPool(ctx context.Context) (*config.Config, *pgxpool.Pool, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return nil, nil, err
	}
	return cfg, pool, nil
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

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			_, pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			version, err := db.NewMigrator(pool).Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Printf("Schema at version %d.\n", version)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			_, pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()
			return db.NewMigrator(pool).Status(ctx)
		},
	})

	return cmd
}

func queueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect the processing queue",
	}

	watchCmd := &cobra.Command{
		Use:   "watch <job-id>",
		Short: "Follow a processing job until it completes or fails",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid job id: %w", err)
			}
			interval, _ := cmd.Flags().GetDuration("interval")
			timeout, _ := cmd.Flags().GetDuration("timeout")

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			cfg, pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			policy := processing.PollPolicy{Interval: cfg.QueuePollInterval, Timeout: cfg.QueuePollTimeout}
			if interval > 0 {
				policy.Interval = interval
			}
			if timeout > 0 {
				policy.Timeout = timeout
			}
			svc := processing.NewService(processing.NewJobRepoPG(pool), nil, nil, nil, db.NewTransactor(pool), newLogger(cfg))
			poller := processing.NewPoller(svc, policy, nil)

			j, err := poller.Wait(ctx, id, func(j *processing.Job) {
				fmt.Printf("%s  %-10s attempts=%d\n", time.Now().Format(time.TimeOnly), j.Status, j.Attempts)
			})
			if errors.Is(err, processing.ErrPollTimeout) {
				return fmt.Errorf("job %s still %s after %s", id, j.Status, policy.Timeout)
			}
			if err != nil {
				return err
			}
			if j.Status == processing.StatusFailed && j.Error != nil {
				fmt.Printf("error: %s\n", *j.Error)
			}
			return nil
		},
	}
	watchCmd.Flags().Duration("interval", 0, "Poll interval (defaults to QUEUE_POLL_INTERVAL)")
	watchCmd.Flags().Duration("timeout", 0, "Give up after this long (defaults to QUEUE_POLL_TIMEOUT)")
	cmd.AddCommand(watchCmd)

	return cmd
}

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage practitioner bearer tokens",
	}

	issueCmd := &cobra.Command{
		Use:   "issue",
		Short: "Sign a bearer token for a practitioner or staff member",
		RunE: func(cmd *cobra.Command, args []string) error {
			subject, _ := cmd.Flags().GetString("subject")
			roles, _ := cmd.Flags().GetString("roles")
			ttl, _ := cmd.Flags().GetDuration("ttl")
			if subject == "" {
				return fmt.Errorf("--subject is required")
			}
			parsed, err := parseRoles(roles)
			if err != nil {
				return err
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			token, err := auth.IssueToken(auth.JWTConfig{SigningKey: []byte(cfg.AuthSigningKey)}, subject, parsed, ttl)
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
	issueCmd.Flags().String("subject", "", "Practitioner id placed in the token subject")
	issueCmd.Flags().String("roles", auth.RolePractitioner, "Comma separated roles")
	issueCmd.Flags().Duration("ttl", 12*time.Hour, "Token lifetime")
	cmd.AddCommand(issueCmd)

	return cmd
}

var knownRoles = map[string]bool{
	auth.RolePractitioner: true,
	auth.RoleStaff:        true,
	auth.RoleAdmin:        true,
}

func parseRoles(s string) ([]string, error) {
	var roles []string
	for _, r := range strings.Split(s, ",") {
		r = strings.ToLower(strings.TrimSpace(r))
		if r == "" {
			continue
		}
		if !knownRoles[r] {
			return nil, fmt.Errorf("unknown role %q", r)
		}
		roles = append(roles, r)
	}
	if len(roles) == 0 {
		return nil, fmt.Errorf("at least one role is required")
	}
	return roles, nil
}

func newStore(cfg *config.Config) (blobstore.Store, error) {
	if !cfg.UsesMinio() {
		return blobstore.NewMemoryStore(cfg.StoragePublicURL), nil
	}
	s, err := blobstore.NewMinioStore(blobstore.MinioConfig{
		Endpoint:  cfg.StorageEndpoint,
		AccessKey: cfg.StorageAccessKey,
		SecretKey: cfg.StorageSecretKey,
		UseSSL:    cfg.StorageUseSSL,
		PublicURL: cfg.StoragePublicURL,
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

func runServer() error {
	// Config
	cfg, err := config.Load()
	logger := newLogger(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	// Database
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	store, err := newStore(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create file store")
	}

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = validation.New()

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.BodyLimit("1M", "30M"))
	e.Use(middleware.RequestTimeout(config.RequestTimeout))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))

	// Auth middleware
	jwtCfg := auth.JWTConfig{SigningKey: []byte(cfg.AuthSigningKey), Skipper: auth.AuthSkipper}
	if cfg.IsDev() {
		e.Use(auth.DevAuthMiddleware(jwtCfg))
	} else {
		e.Use(auth.JWTMiddleware(jwtCfg))
	}

	// Health check
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/health/db", db.HealthHandler(pool, func() *db.PoolStats { return db.GetPoolStats(pool) }))

	apiV1 := e.Group("/api/v1")
	tx := db.NewTransactor(pool)

	// Workflow
	wf := workflow.NewClient(cfg.WorkflowWebhookURL, cfg.WorkflowWebhookSecret,
		workflow.WithHTTPClient(&http.Client{Timeout: cfg.WorkflowTimeout}),
		workflow.WithRetry(cfg.UploadMaxAttempts, cfg.UploadBackoffStep),
		workflow.WithLogger(logger),
	)
	if !wf.Configured() {
		logger.Warn().Msg("WORKFLOW_WEBHOOK_URL not set, processing jobs stay pending")
	}

	// Patients
	patientSvc := patient.NewService(patient.NewRepoPG(pool))
	patient.NewHandler(patientSvc).RegisterRoutes(apiV1)

	// Biomarkers and reports
	biomarkerSvc := biomarker.NewService(biomarker.NewRepoPG(pool))
	biomarker.NewHandler(biomarkerSvc).RegisterRoutes(apiV1)

	reportSvc := report.NewService(report.NewRepoPG(pool), biomarkerSvc, tx)
	report.NewHandler(reportSvc, patientSvc).RegisterRoutes(apiV1)

	// Processing queue
	processingSvc := processing.NewService(processing.NewJobRepoPG(pool), wf, biomarkerSvc, reportSvc, tx, logger,
		processing.WithDispatchTimeout(cfg.WorkflowDispatchTimeout))
	poller := processing.NewPoller(processingSvc, processing.PollPolicy{
		Interval: cfg.QueuePollInterval,
		Timeout:  cfg.QueuePollTimeout,
	}, nil)
	processing.NewHandler(processingSvc, poller, cfg.WorkflowWebhookSecret, logger).RegisterRoutes(apiV1)

	// Lab analytics
	analyticsSvc := analytics.NewService(analytics.NewRepoPG(pool), store, processingSvc, analytics.Config{
		Bucket:      cfg.StorageBucket,
		MaxAttempts: cfg.UploadMaxAttempts,
		BackoffStep: cfg.UploadBackoffStep,
	}, logger)
	analytics.NewHandler(analyticsSvc, logger).RegisterRoutes(apiV1)

	// Forms
	formSvc := form.NewService(form.NewFormRepoPG(pool), form.NewQuestionRepoPG(pool), tx, cfg.FormTokenTTL, logger)
	formSvc.OnCompleted(processingSvc)
	form.NewHandler(formSvc).RegisterRoutes(apiV1)

	// Public intake
	registry := intake.NewRegistry(formSvc, cfg.FormSessionIdleTTL, logger)
	go registry.Run(ctx, 0)

	asmCfg := intake.DefaultAssemblerConfig()
	asmCfg.Bucket = cfg.StorageBucket
	asmCfg.MaxAttempts = cfg.UploadMaxAttempts
	asmCfg.BackoffStep = cfg.UploadBackoffStep
	assembler := intake.NewAssembler(store, formSvc, asmCfg, logger)

	publicLimit := middleware.DefaultRateLimitConfig()
	if cfg.PublicRateLimitRPS > 0 {
		publicLimit.RequestsPerSecond = cfg.PublicRateLimitRPS
		publicLimit.BurstSize = cfg.PublicRateLimitBurst
	}
	formGroup := apiV1.Group("/form", middleware.RateLimit(publicLimit))
	intake.NewHandler(registry, assembler, logger).RegisterRoutes(formGroup)

	// Scheduling
	schedulingSvc := scheduling.NewService(scheduling.NewAppointmentRepoPG(pool), tx)
	scheduling.NewHandler(schedulingSvc).RegisterRoutes(apiV1)

	// Dashboard
	reporting.NewHandler(pool).RegisterRoutes(apiV1)

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}
