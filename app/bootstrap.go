package app

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"compliance-monitor/internal/auth"
	"compliance-monitor/internal/db"
	"compliance-monitor/internal/maintenance"
	"compliance-monitor/internal/observability"
	"compliance-monitor/internal/report"
)

// adminRoles and adminPermissions are the role/permission snapshot embedded
// in every token issued for the provisioned principal.
var (
	adminRoles       = []string{"admin"}
	adminPermissions = []string{"reports:read", "reports:submit", "certificates:impose"}
)

type Options struct {
	LoadDotEnv    bool
	RunMigrations bool
}

type Runtime struct {
	Handler http.Handler
	Close   func() error
}

// Build wires the whole service: config from the environment, the auth core
// with its owned in-memory stores, the Postgres-backed report store, and the
// HTTP routes.
func Build(options Options) (*Runtime, error) {
	if options.LoadDotEnv {
		_ = godotenv.Load()
	}

	logger := observability.NewLogger()

	databaseURL, err := mustEnv("DATABASE_URL")
	if err != nil {
		return nil, err
	}
	adminUsername, err := mustEnv("ADMIN_USERNAME")
	if err != nil {
		return nil, err
	}
	adminPassword, err := mustEnv("ADMIN_PASSWORD")
	if err != nil {
		return nil, err
	}

	secret, err := signingSecret(logger)
	if err != nil {
		return nil, err
	}

	if err := observability.InitSentry(os.Getenv("SENTRY_DSN"), envOrDefault("APP_ENV", "development")); err != nil {
		logger.Error("init_sentry_failed", map[string]any{"error": err.Error()})
	}

	database, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	database.SetMaxOpenConns(envIntOrDefault("DB_MAX_OPEN_CONNS", 10))
	database.SetMaxIdleConns(envIntOrDefault("DB_MAX_IDLE_CONNS", 5))
	database.SetConnMaxLifetime(envMinutesOrDefault("DB_CONN_MAX_LIFETIME_MINUTES", 30))
	database.SetConnMaxIdleTime(envMinutesOrDefault("DB_CONN_MAX_IDLE_TIME_MINUTES", 10))

	if err := database.Ping(); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if options.RunMigrations {
		if err := db.RunMigrations(database); err != nil {
			_ = database.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
	}

	creds, err := auth.NewCredentialStore(adminUsername, adminPassword, adminRoles, adminPermissions)
	if err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("provision credentials: %w", err)
	}

	authService := auth.NewService(creds, auth.Config{
		Secret:           secret,
		AccessTTL:        envMinutesOrDefault("ACCESS_TOKEN_TTL_MINUTES", 15),
		RefreshTTL:       envHoursOrDefault("REFRESH_TOKEN_TTL_HOURS", 168),
		MaxLoginAttempts: envIntOrDefault("LOGIN_MAX_ATTEMPTS", 5),
		LockoutDuration:  envSecondsOrDefault("LOCKOUT_DURATION_SECONDS", 300),
	})
	authHandler := auth.NewHandler(authService, logger)

	reportRepo := report.NewRepository(database)
	reportHandler := report.NewHandler(reportRepo, logger)

	cleanupHandler := maintenance.NewCleanupHandler(
		authService,
		reportRepo,
		logger,
		os.Getenv("CRON_SECRET"),
		envDaysOrDefault("REPORT_RETENTION_DAYS", 90),
		envIntOrDefault("CLEANUP_BATCH_SIZE", 500),
	)

	loginLimiter := auth.NewLoginRateLimiter(
		envIntOrDefault("LOGIN_RATE_LIMIT_MAX", 10),
		envSecondsOrDefault("LOGIN_RATE_LIMIT_WINDOW_SECONDS", 60),
	)

	guard := func(h http.HandlerFunc) http.Handler {
		return auth.Middleware(authService, logger, h)
	}

	mux := http.NewServeMux()
	mux.Handle("POST /login", loginLimiter.Middleware(http.HandlerFunc(authHandler.Login)))
	mux.HandleFunc("POST /refresh", authHandler.Refresh)
	mux.HandleFunc("POST /logout", authHandler.Logout)
	mux.Handle("GET /auth/check", guard(authHandler.Check))
	mux.HandleFunc("GET /auth/security-info", authHandler.SecurityInfo)

	mux.Handle("POST /report", guard(reportHandler.Submit))
	mux.Handle("GET /reports", guard(reportHandler.ListReports))
	mux.Handle("GET /summary", guard(reportHandler.GetSummary))
	mux.Handle("GET /devices", guard(reportHandler.ListDevices))
	mux.Handle("GET /device/{id}", guard(reportHandler.DeviceHistory))
	mux.Handle("GET /api/certificates", guard(reportHandler.ListCertificates))
	mux.Handle("POST /api/certificates/{cert_id}", guard(reportHandler.ImposeCertificate))

	mux.HandleFunc("GET /internal/maintenance/cleanup", cleanupHandler.Handle)
	mux.HandleFunc("POST /internal/maintenance/cleanup", cleanupHandler.Handle)
	mux.HandleFunc("GET /health", healthHandler(database))

	handler := observability.RecoverMiddleware(logger, observability.RequestLoggingMiddleware(logger, mux))

	return &Runtime{
		Handler: handler,
		Close: func() error {
			observability.FlushSentry()
			return database.Close()
		},
	}, nil
}

// signingSecret reads JWT_SECRET, or generates an ephemeral one. A generated
// secret means every outstanding token dies on restart and independent
// instances cannot verify each other's tokens, so the fallback is loudly
// logged.
func signingSecret(logger *observability.Logger) ([]byte, error) {
	if secret := strings.TrimSpace(os.Getenv("JWT_SECRET")); secret != "" {
		return []byte(secret), nil
	}

	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return nil, fmt.Errorf("generate signing secret: %w", err)
	}

	logger.Warn("ephemeral_signing_secret", map[string]any{
		"detail": "JWT_SECRET is not set; generated a random secret. All tokens are invalidated on restart and horizontal scaling will not work.",
	})

	return []byte(hex.EncodeToString(raw)), nil
}

func healthHandler(database *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		body := map[string]any{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)}
		if err := database.PingContext(ctx); err != nil {
			status = http.StatusServiceUnavailable
			body = map[string]any{"status": "degraded", "time": time.Now().UTC().Format(time.RFC3339)}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}
}

func mustEnv(name string) (string, error) {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return "", fmt.Errorf("missing required env: %s", name)
	}
	return value, nil
}

func envOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}

func envIntOrDefault(name string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func envMinutesOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * time.Minute
}

func envHoursOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * time.Hour
}

func envDaysOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * 24 * time.Hour
}

func envSecondsOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * time.Second
}

func EnvBoolOrDefault(name string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(name)))
	if value == "" {
		return fallback
	}

	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}
