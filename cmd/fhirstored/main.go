// Command fhirstored runs the FHIR persistence and query engine: the
// `serve` subcommand boots the HTTP surface, `migrate` applies or rolls
// back schema revisions, and `schema generate` renders the DDL derived
// from a canonical resource directory without touching a database.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/fhirstore/internal/config"
	"github.com/ehr/fhirstore/internal/fhirpath"
	"github.com/ehr/fhirstore/internal/httpapi"
	"github.com/ehr/fhirstore/internal/migrate"
	"github.com/ehr/fhirstore/internal/platform/db"
	"github.com/ehr/fhirstore/internal/registry"
	"github.com/ehr/fhirstore/internal/repository"
	"github.com/ehr/fhirstore/internal/schema"
	"github.com/ehr/fhirstore/internal/search"
)

const defaultCanonicalDir = "canonical"

func main() {
	rootCmd := &cobra.Command{
		Use:   "fhirstored",
		Short: "FHIR R4 persistence and query engine",
	}

	rootCmd.PersistentFlags().String("canonical-dir", defaultCanonicalDir, "Directory of canonical profile/search-parameter JSON bundles")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(schemaCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	logger := zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()
	if cfg.IsDev() {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stdout})
	}
	return logger
}

func loadRegistry(canonicalDir string) (*registry.Registry, error) {
	reg := registry.New()
	if _, err := os.Stat(canonicalDir); err == nil {
		if err := reg.LoadDirectory(canonicalDir); err != nil {
			return nil, fmt.Errorf("load canonical directory: %w", err)
		}
	}
	reg.Seal()
	return reg, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the FHIR HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			canonicalDir, _ := cmd.Flags().GetString("canonical-dir")
			return runServer(canonicalDir)
		},
	}
}

func runServer(canonicalDir string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := newLogger(cfg)

	if err := fhirpath.SetCacheSize(cfg.FHIRPathCacheSize); err != nil {
		return fmt.Errorf("configure fhirpath cache: %w", err)
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	reg, err := loadRegistry(canonicalDir)
	if err != nil {
		return err
	}
	logger.Info().Int("resourceTypes", len(reg.TableResourceTypes())).Msg("registry loaded")

	repo := repository.New(pool, reg)
	engine := search.NewEngine(pool, reg)

	server := httpapi.NewServer(repo, engine, reg, logger)
	e := server.NewRouter(30 * time.Second)
	e.GET("/health", db.HealthHandler(pool))

	addr := ":" + cfg.Port
	logger.Info().Str("addr", addr).Msg("starting server")
	return e.Start(addr)
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or inspect reversible schema migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			target, _ := cmd.Flags().GetInt("target")
			return runMigrate(cmd, func(ctx context.Context, m *migrate.Migrator) error {
				count, err := m.Up(ctx, target)
				if err != nil {
					return err
				}
				fmt.Printf("applied %d migration(s)\n", count)
				return nil
			})
		},
	}
	upCmd.Flags().Int("target", 0, "Highest version to apply (0 = all pending)")
	upCmd.Flags().String("dir", "migrations", "Path to migrations directory")

	downCmd := &cobra.Command{
		Use:   "down",
		Short: "Roll back applied migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			target, _ := cmd.Flags().GetInt("target")
			return runMigrate(cmd, func(ctx context.Context, m *migrate.Migrator) error {
				count, err := m.Down(ctx, target)
				if err != nil {
					return err
				}
				fmt.Printf("rolled back %d migration(s)\n", count)
				return nil
			})
		},
	}
	downCmd.Flags().Int("target", 0, "Lowest version to retain (0 = roll back everything)")
	downCmd.Flags().String("dir", "migrations", "Path to migrations directory")

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show applied, available, and pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(cmd, func(ctx context.Context, m *migrate.Migrator) error {
				st, err := m.Status(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("current version: %d\n", st.Current)
				fmt.Printf("%-10s %-40s %s\n", "VERSION", "DESCRIPTION", "STATE")
				for _, a := range st.Applied {
					fmt.Printf("%-10d %-40s applied (%s)\n", a.Version, a.Description, a.AppliedAt.Format("2006-01-02 15:04:05"))
				}
				for _, p := range st.Pending {
					fmt.Printf("%-10d %-40s pending\n", p.Version, p.Description)
				}
				return nil
			})
		},
	}
	statusCmd.Flags().String("dir", "migrations", "Path to migrations directory")

	cmd.AddCommand(upCmd, downCmd, statusCmd)
	return cmd
}

func runMigrate(cmd *cobra.Command, fn func(ctx context.Context, m *migrate.Migrator) error) error {
	dir, _ := cmd.Flags().GetString("dir")

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer pool.Close()

	m := migrate.NewMigrator(pool, dir)
	if err := m.EnsureTrackingTable(ctx); err != nil {
		return err
	}
	return fn(ctx, m)
}

func schemaCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Derive and render the relational schema",
	}

	generateCmd := &cobra.Command{
		Use:   "generate",
		Short: "Render CREATE TABLE/INDEX statements for the loaded registry",
		RunE: func(cmd *cobra.Command, args []string) error {
			canonicalDir, _ := cmd.Flags().GetString("canonical-dir")
			version, _ := cmd.Flags().GetString("version")

			reg, err := loadRegistry(canonicalDir)
			if err != nil {
				return err
			}

			def := schema.Generate(reg, version)
			for _, stmt := range schema.RenderDDL(def) {
				fmt.Println(stmt)
			}
			return nil
		},
	}
	generateCmd.Flags().String("version", "v1", "Schema version label stamped into the generated definition")

	cmd.AddCommand(generateCmd)
	return cmd
}
