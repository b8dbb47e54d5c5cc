package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"encrypted_like/internal/pkg/config"
	"encrypted_like/pkg/logger"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	configDir string
	sourceURL string
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "migrate",
		Short:         "Apply the devnet ledger schema to postgres",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(func(m *migrate.Migrate) error { return up(m, logger.Log) })
		},
	}
	root.PersistentFlags().StringVarP(&configDir, "config", "c", "./configs", "Directory containing config.yaml.")
	root.PersistentFlags().StringVarP(&sourceURL, "source", "s", "file://migrations", "Migration source URL.")

	root.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Roll back every migration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(func(m *migrate.Migrate) error {
				if err := m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
					return err
				}
				logger.Log.Info("rollback successful")
				return nil
			})
		},
	})
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the current schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(func(m *migrate.Migrate) error {
				v, dirty, err := m.Version()
				if errors.Is(err, migrate.ErrNilVersion) {
					fmt.Fprintln(cmd.OutOrStdout(), "no migration applied")
					return nil
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "version %d dirty=%t\n", v, dirty)
				return nil
			})
		},
	})
	return root
}

// databaseURL devnet 账本的 postgres 连接串，必须是 URL 形式
func databaseURL(cfg *config.Config) (string, error) {
	if cfg.Devnet.Driver != "postgres" {
		return "", fmt.Errorf("devnet.driver is %q, migrations only apply to postgres", cfg.Devnet.Driver)
	}
	dsn := cfg.Devnet.DSN
	if !strings.HasPrefix(dsn, "postgres://") && !strings.HasPrefix(dsn, "postgresql://") {
		return "", errors.New("devnet.dsn must be a postgres:// URL for migrations")
	}
	return dsn, nil
}

func run(fn func(m *migrate.Migrate) error) error {
	cfg, err := config.Load(configDir)
	if err != nil {
		return err
	}
	if err := logger.Init(cfg.Log.Level, cfg.Log.Format); err != nil {
		return err
	}
	defer logger.Sync()

	dsn, err := databaseURL(cfg)
	if err != nil {
		return err
	}
	m, err := migrate.New(sourceURL, dsn)
	if err != nil {
		return err
	}
	defer m.Close()
	return fn(m)
}

// up 执行迁移；上次中断留下 dirty 状态时回退到中断前的版本再重试
func up(m *migrate.Migrate, log *zap.Logger) error {
	err := m.Up()
	var dirty migrate.ErrDirty
	if errors.As(err, &dirty) {
		log.Warn("database is dirty, forcing previous version", zap.Int("version", dirty.Version))
		if err := m.Force(dirty.Version - 1); err != nil {
			return fmt.Errorf("force version: %w", err)
		}
		err = m.Up()
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	log.Info("migration successful")
	return nil
}
