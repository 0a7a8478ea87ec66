package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/lumichat/economy/internal/httpapi"
	"github.com/lumichat/economy/internal/observability"
	"github.com/lumichat/economy/internal/store/gormstore"
	"github.com/lumichat/economy/pkg/economy"
)

const (
	flagDatabaseURL       = "database-url"
	flagListenAddr        = "listen-addr"
	flagProductConfig     = "product-config"
	flagAllowedOrigins    = "allowed-origins"
	flagSessionSigningKey = "session-signing-key"
	flagSessionIssuer     = "session-issuer"
	flagSessionCookie     = "session-cookie"

	configKeyDatabaseURL       = "database_url"
	configKeyListenAddr        = "listen_addr"
	configKeyProductConfig     = "product_config"
	configKeyAllowedOrigins    = "allowed_origins"
	configKeySessionSigningKey = "session_signing_key"
	configKeySessionIssuer     = "session_issuer"
	configKeySessionCookie     = "session_cookie"

	defaultDatabaseURL = "sqlite:///tmp/economy.db"
	defaultListenAddr  = ":9090"
)

type runtimeConfig struct {
	DatabaseURL       string
	ListenAddr        string
	ProductConfigPath string
	AllowedOrigins    string
	SessionSigningKey string
	SessionIssuer     string
	SessionCookieName string
}

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "economyd: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := &runtimeConfig{}
	cmd := &cobra.Command{
		Use:           "economyd",
		Short:         "Economy and entitlement transaction server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, cfg)
		},
	}

	cmd.Flags().String(flagDatabaseURL, defaultDatabaseURL, "PostgreSQL or SQLite connection string")
	cmd.Flags().String(flagListenAddr, defaultListenAddr, "HTTP listen address")
	cmd.Flags().String(flagProductConfig, "", "Path to a product catalog file (built-in defaults when empty)")
	cmd.Flags().String(flagAllowedOrigins, "", "Comma-separated CORS origins")
	cmd.Flags().String(flagSessionSigningKey, "", "HMAC key for session cookies")
	cmd.Flags().String(flagSessionIssuer, "", "Expected session token issuer")
	cmd.Flags().String(flagSessionCookie, "", "Session cookie name")

	return cmd
}

func loadConfig(cmd *cobra.Command, cfg *runtimeConfig) error {
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	bindings := []struct {
		configKey string
		envVar    string
		flag      string
	}{
		{configKeyDatabaseURL, "DATABASE_URL", flagDatabaseURL},
		{configKeyListenAddr, "HTTP_LISTEN_ADDR", flagListenAddr},
		{configKeyProductConfig, "PRODUCT_CONFIG", flagProductConfig},
		{configKeyAllowedOrigins, "ALLOWED_ORIGINS", flagAllowedOrigins},
		{configKeySessionSigningKey, "SESSION_SIGNING_KEY", flagSessionSigningKey},
		{configKeySessionIssuer, "SESSION_ISSUER", flagSessionIssuer},
		{configKeySessionCookie, "SESSION_COOKIE", flagSessionCookie},
	}
	for _, binding := range bindings {
		if err := viper.BindEnv(binding.configKey, binding.envVar); err != nil {
			return err
		}
		if err := viper.BindPFlag(binding.configKey, cmd.Flags().Lookup(binding.flag)); err != nil {
			return err
		}
	}

	cfg.DatabaseURL = viper.GetString(configKeyDatabaseURL)
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = defaultDatabaseURL
	}
	cfg.ListenAddr = viper.GetString(configKeyListenAddr)
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = defaultListenAddr
	}
	cfg.ProductConfigPath = viper.GetString(configKeyProductConfig)
	cfg.AllowedOrigins = viper.GetString(configKeyAllowedOrigins)
	cfg.SessionSigningKey = viper.GetString(configKeySessionSigningKey)
	cfg.SessionIssuer = viper.GetString(configKeySessionIssuer)
	cfg.SessionCookieName = viper.GetString(configKeySessionCookie)
	if cfg.SessionSigningKey == "" {
		return fmt.Errorf("session signing key is required")
	}
	return nil
}

func runServer(ctx context.Context, cfg *runtimeConfig) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	gormDB, cleanup, driver, err := openDatabase(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database open: %w", err)
	}
	defer cleanup()

	if err := prepareSchema(gormDB, driver); err != nil {
		return err
	}

	productConfig := economy.DefaultProductConfig()
	if cfg.ProductConfigPath != "" {
		productConfig, err = economy.LoadProductConfig(cfg.ProductConfigPath)
		if err != nil {
			return fmt.Errorf("product config: %w", err)
		}
	}

	store := gormstore.New(gormDB)
	clock := func() int64 { return time.Now().UTC().Unix() }
	economyService, err := economy.NewService(
		store,
		productConfig,
		clock,
		economy.WithOperationLogger(observability.NewRecorder(logger)),
	)
	if err != nil {
		return fmt.Errorf("economy service init: %w", err)
	}

	apiConfig := httpapi.Config{
		ListenAddr:        cfg.ListenAddr,
		AllowedOrigins:    httpapi.ParseAllowedOrigins(cfg.AllowedOrigins),
		SessionSigningKey: cfg.SessionSigningKey,
		SessionIssuer:     cfg.SessionIssuer,
		SessionCookieName: cfg.SessionCookieName,
	}
	return httpapi.Run(ctx, apiConfig, economyService, logger)
}

func openDatabase(ctx context.Context, dsn string) (*gorm.DB, func() error, string, error) {
	driver, sqlitePath, err := resolveDriver(dsn)
	if err != nil {
		return nil, nil, "", err
	}

	var db *gorm.DB
	gormConfig := &gorm.Config{}
	switch driver {
	case "postgres":
		db, err = gorm.Open(postgres.Open(dsn), gormConfig)
	case "sqlite":
		db, err = gorm.Open(sqlite.Open(sqlitePath), gormConfig)
	default:
		return nil, nil, "", fmt.Errorf("unsupported database scheme %q", driver)
	}
	if err != nil {
		return nil, nil, "", err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, "", err
	}
	cleanup := func() error { return sqlDB.Close() }
	return db.WithContext(ctx), cleanup, driver, nil
}

func resolveDriver(dsn string) (string, string, error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return "postgres", "", nil
	}
	if strings.HasPrefix(dsn, "sqlite://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return "", "", fmt.Errorf("parse sqlite url: %w", err)
		}
		path := u.Path
		if path == "" {
			path = u.Host
		}
		if path == "" || path == "/" {
			path = "economy.db"
		}
		sqlitePath, err := normalizeSQLitePath(path)
		return "sqlite", sqlitePath, err
	}
	// Treat everything else as a direct sqlite path.
	sqlitePath, err := normalizeSQLitePath(dsn)
	return "sqlite", sqlitePath, err
}

func normalizeSQLitePath(path string) (string, error) {
	if path == ":memory:" {
		return path, nil
	}
	if strings.HasPrefix(path, "/") {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return "", err
		}
		return path, nil
	}
	abs := filepath.Join(".", path)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", err
	}
	return abs, nil
}

func prepareSchema(db *gorm.DB, driver string) error {
	if driver != "sqlite" {
		return nil
	}
	err := db.AutoMigrate(
		&gormstore.Account{},
		&gormstore.Transaction{},
		&gormstore.IdempotencyRecord{},
		&gormstore.Membership{},
		&gormstore.EffectGrant{},
		&gormstore.Entitlement{},
		&gormstore.RewardClaim{},
	)
	if err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}
