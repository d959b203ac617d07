// Command catalogd is the catalog-side binary (spec.md §2, §4.J/§4.L):
// the Postgres-backed store plus the publish protocol's HTTP server.
//
// Subcommand layout follows the teacher's single flat main() broken
// into cobra subcommands the way orbas1-Synnergy's cmd/synnergy/main.go
// groups related operations under one root command.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/blizztrack/scanner/internal/blobstore"
	"github.com/blizztrack/scanner/internal/catalog"
	"github.com/blizztrack/scanner/internal/config"
	"github.com/blizztrack/scanner/internal/publish"
)

func main() {
	root := &cobra.Command{Use: "catalogd"}
	root.PersistentFlags().String("config", "", "path to a YAML config file")
	root.PersistentFlags().String("connection-string", "", "Postgres DSN (overrides ConnectionString config key)")

	root.AddCommand(migrateCmd())
	root.AddCommand(serviceCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if cs, _ := cmd.Flags().GetString("connection-string"); cs != "" {
		cfg.ConnectionString = cs
	}
	return cfg, nil
}

// migrateCmd applies internal/catalog's embedded migrations against
// ConnectionString (spec.md §1: "database-migration tooling" is out of
// scope as a library the rest of the module depends on, but the CLI
// surface's migrate subcommand still needs a driver).
func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cfg.ConnectionString == "" {
				return fmt.Errorf("catalogd: --connection-string or ConnectionString config key is required")
			}

			src, err := iofs.New(catalog.Migrations, "migrations")
			if err != nil {
				return fmt.Errorf("catalogd: loading embedded migrations: %w", err)
			}

			db, err := sqlOpen(cfg.ConnectionString)
			if err != nil {
				return err
			}
			defer db.Close()

			driver, err := postgres.WithInstance(db, &postgres.Config{})
			if err != nil {
				return fmt.Errorf("catalogd: building postgres migration driver: %w", err)
			}

			m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
			if err != nil {
				return fmt.Errorf("catalogd: building migrator: %w", err)
			}
			if err := m.Up(); err != nil && err != migrate.ErrNoChange {
				return fmt.Errorf("catalogd: applying migrations: %w", err)
			}
			fmt.Println("catalogd: migrations applied")
			return nil
		},
	}
}

// serviceCmd runs the catalog-side publish protocol HTTP server
// (spec.md §4.L; the "viewer-adjacent read endpoints" are explicitly
// out of scope per SPEC_FULL.md's module map).
func serviceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "service",
		Short: "serve the worker-facing publish protocol",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			listenAddr, _ := cmd.Flags().GetString("listen")

			logger, err := zap.NewProduction()
			if err != nil {
				return fmt.Errorf("catalogd: building logger: %w", err)
			}
			defer logger.Sync()
			sugar := logger.Sugar()

			ctx := context.Background()

			store, err := catalog.Open(ctx, cfg.ConnectionString)
			if err != nil {
				return fmt.Errorf("catalogd: connecting to catalog: %w", err)
			}

			blobs, err := buildBlobStore(cfg)
			if err != nil {
				return err
			}

			srv := &publish.Server{Catalog: store, Blobs: blobs, Logger: sugar}
			r := chi.NewRouter()
			r.Use(middleware.Logger)
			r.Use(middleware.Recoverer)
			srv.Routes(r)

			sugar.Infow("catalogd: listening", "addr", listenAddr)
			return http.ListenAndServe(listenAddr, r)
		},
	}
	cmd.Flags().String("listen", ":8080", "HTTP listen address")
	return cmd
}

// buildBlobStore selects the Local or R2 tile blob store per
// cfg.TileStoreProvider (spec.md §6 Environment).
func buildBlobStore(cfg *config.Config) (blobstore.Store, error) {
	switch cfg.TileStoreProvider {
	case config.TileStoreR2:
		return blobstore.NewS3Store(blobstore.S3Config{
			ServiceURL: cfg.R2TileStore.ServiceUrl,
			AccessKey:  cfg.R2TileStore.AccessKey,
			SecretKey:  cfg.R2TileStore.SecretKey,
			BucketName: cfg.R2TileStore.BucketName,
		})
	default:
		return blobstore.NewLocalStore(cfg.LocalTileStore.Path)
	}
}
