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
	"github.com/kandutap/fuelcard/internal/httpserver"
	"github.com/kandutap/fuelcard/internal/oplog"
	"github.com/kandutap/fuelcard/internal/store/gormstore"
	"github.com/kandutap/fuelcard/pkg/ledger"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

const (
	flagDatabaseURL    = "database-url"
	flagListenAddr     = "listen-addr"
	flagAllowedOrigins = "allowed-origins"
	flagSeedDemoCards  = "seed-demo-cards"

	configKeyDatabaseURL    = "database_url"
	configKeyListenAddr     = "listen_addr"
	configKeyAllowedOrigins = "allowed_origins"
	configKeySeedDemoCards  = "seed_demo_cards"

	envPrefix          = "FUELCARD"
	defaultDatabaseURL = "sqlite://fuelcard.db"
	defaultListenAddr  = ":8080"
)

type runtimeConfig struct {
	DatabaseURL    string
	ListenAddr     string
	AllowedOrigins string
	SeedDemoCards  bool
}

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fuelcardd: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := &runtimeConfig{}
	cmd := &cobra.Command{
		Use:           "fuelcardd",
		Short:         "Prepaid fuel-card ledger HTTP server",
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

	cmd.Flags().String(flagDatabaseURL, defaultDatabaseURL, "database connection string (sqlite:// path or postgres:// URL)")
	cmd.Flags().String(flagListenAddr, defaultListenAddr, "HTTP listen address")
	cmd.Flags().String(flagAllowedOrigins, "", "comma-separated list of allowed CORS origins")
	cmd.Flags().Bool(flagSeedDemoCards, true, "seed demo cards when the cards table is empty")

	return cmd
}

func loadConfig(cmd *cobra.Command, cfg *runtimeConfig) error {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	flagsByKey := map[string]string{
		configKeyDatabaseURL:    flagDatabaseURL,
		configKeyListenAddr:     flagListenAddr,
		configKeyAllowedOrigins: flagAllowedOrigins,
		configKeySeedDemoCards:  flagSeedDemoCards,
	}
	for configKey, flagName := range flagsByKey {
		if err := v.BindPFlag(configKey, cmd.Flags().Lookup(flagName)); err != nil {
			return err
		}
	}

	cfg.DatabaseURL = strings.TrimSpace(v.GetString(configKeyDatabaseURL))
	cfg.ListenAddr = strings.TrimSpace(v.GetString(configKeyListenAddr))
	cfg.AllowedOrigins = v.GetString(configKeyAllowedOrigins)
	cfg.SeedDemoCards = v.GetBool(configKeySeedDemoCards)

	if cfg.DatabaseURL == "" {
		return fmt.Errorf("database url is required")
	}
	if cfg.ListenAddr == "" {
		return fmt.Errorf("listen addr is required")
	}
	return nil
}

func runServer(ctx context.Context, cfg *runtimeConfig) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	gormDB, cleanup, err := openDatabase(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database open: %w", err)
	}
	defer func() { _ = cleanup() }()

	store := gormstore.New(gormDB)
	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("schema migrate: %w", err)
	}

	clock := func() time.Time { return time.Now().UTC() }
	if cfg.SeedDemoCards {
		seeds, err := demoSeedCards()
		if err != nil {
			return fmt.Errorf("seed cards: %w", err)
		}
		if err := store.SeedCards(ctx, seeds, clock()); err != nil {
			return fmt.Errorf("seed cards: %w", err)
		}
	}

	ledgerService, err := ledger.NewService(store, clock, ledger.WithOperationLogger(oplog.New(logger)))
	if err != nil {
		return fmt.Errorf("ledger service init: %w", err)
	}
	reporter, err := ledger.NewReporter(store)
	if err != nil {
		return fmt.Errorf("reporter init: %w", err)
	}

	serverConfig := httpserver.Config{
		ListenAddr:     cfg.ListenAddr,
		AllowedOrigins: httpserver.ParseAllowedOrigins(cfg.AllowedOrigins),
	}
	if err := serverConfig.Validate(); err != nil {
		return err
	}

	return httpserver.New(serverConfig, ledgerService, reporter, logger).Run(ctx)
}

func openDatabase(ctx context.Context, dsn string) (*gorm.DB, func() error, error) {
	driver, sqlitePath, err := resolveDriver(dsn)
	if err != nil {
		return nil, nil, err
	}

	var db *gorm.DB
	switch driver {
	case "postgres":
		db, err = gorm.Open(postgres.Open(dsn), &gorm.Config{})
	case "sqlite":
		db, err = gorm.Open(sqlite.Open(sqliteDSN(sqlitePath)), &gorm.Config{})
	default:
		return nil, nil, fmt.Errorf("unsupported database scheme %q", driver)
	}
	if err != nil {
		return nil, nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() error { return sqlDB.Close() }
	return db.WithContext(ctx), cleanup, nil
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
			path = "fuelcard.db"
		}
		sqlitePath, err := normalizeSQLitePath(path)
		return "sqlite", sqlitePath, err
	}
	// Treat everything else as a direct sqlite path.
	sqlitePath, err := normalizeSQLitePath(dsn)
	return "sqlite", sqlitePath, err
}

// sqliteDSN makes sqlite transactions take the write lock up front and
// wait on a busy handler instead of failing the lock upgrade. Deferred
// transactions that read the card row first would otherwise hit
// SQLITE_BUSY when a concurrent top-up holds the lock, since busy_timeout
// does not apply to a deferred-to-write upgrade.
func sqliteDSN(path string) string {
	return path + "?_txlock=immediate&_pragma=busy_timeout(5000)"
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

// demoSeedCards mirrors the sample cards installed on first boot of the
// original deployment.
func demoSeedCards() ([]ledger.CardSeed, error) {
	seedBalances := []struct {
		id      string
		balance int64
	}{
		{id: "12345", balance: 150},
		{id: "67890", balance: 75},
		{id: "11111", balance: 200},
	}
	seeds := make([]ledger.CardSeed, 0, len(seedBalances))
	for _, seed := range seedBalances {
		cardID, err := ledger.NewCardID(seed.id)
		if err != nil {
			return nil, err
		}
		seeds = append(seeds, ledger.CardSeed{ID: cardID, Balance: decimal.NewFromInt(seed.balance)})
	}
	return seeds, nil
}
