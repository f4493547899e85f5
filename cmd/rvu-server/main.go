package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/rvu/rvu/internal/config"
	"github.com/rvu/rvu/internal/domain/exam"
	"github.com/rvu/rvu/internal/platform/auth"
	"github.com/rvu/rvu/internal/platform/db"
	"github.com/rvu/rvu/internal/platform/ingest"
	"github.com/rvu/rvu/migrations"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "rvu-server",
		Short:        "Radiology exam classification and RVU service",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(classifyCmd())
	rootCmd.AddCommand(enrichCmd())
	rootCmd.AddCommand(combineCmd())
	rootCmd.AddCommand(rulesCmd())
	rootCmd.AddCommand(tokenCmd())
	return rootCmd
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

// loadConfig loads and validates configuration for the offline commands.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	// migrate up
	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			pool, schema, err := connect(cmd)
			if err != nil {
				return err
			}
			defer pool.Close()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Running migrations on schema: %s\n", schema)
			count, err := db.EnsureSchema(cmd.Context(), pool, schema, migrations.FS)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Fprintf(out, "Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("schema", "", "Target schema (defaults to DB_SCHEMA)")
	cmd.AddCommand(upCmd)

	// migrate status
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			pool, schema, err := connect(cmd)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, migrations.FS).Status(cmd.Context(), schema)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}
			printMigrationStatus(cmd.OutOrStdout(), schema, statuses)
			return nil
		},
	}
	statusCmd.Flags().String("schema", "", "Target schema (defaults to DB_SCHEMA)")
	cmd.AddCommand(statusCmd)

	return cmd
}

func connect(cmd *cobra.Command) (*pgxpool.Pool, string, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, "", err
	}
	if !cfg.PersistenceEnabled() {
		return nil, "", fmt.Errorf("DATABASE_URL is not set")
	}
	schema, _ := cmd.Flags().GetString("schema")
	if schema == "" {
		schema = cfg.DBSchema
	}
	pool, err := db.NewPool(cmd.Context(), db.PoolOptions{
		URL:      cfg.DatabaseURL,
		MaxConns: cfg.DBMaxConns,
		MinConns: cfg.DBMinConns,
		Schema:   schema,
	})
	if err != nil {
		return nil, "", err
	}
	return pool, schema, nil
}

func printMigrationStatus(w io.Writer, schema string, statuses []db.MigrationStatus) {
	fmt.Fprintf(w, "Migration status for schema: %s\n", schema)
	fmt.Fprintf(w, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	fmt.Fprintln(w, "---------- ---------------------------------------- ---------- --------------------")
	for _, s := range statuses {
		status := "pending"
		appliedAt := ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(w, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}

func classifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "classify DESCRIPTION...",
		Short: "Classify a single exam description",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			svc, err := newService(cfg, zerolog.Nop(), nil)
			if err != nil {
				return err
			}
			var code *string
			if c, _ := cmd.Flags().GetString("code"); c != "" {
				code = &c
			}
			return writeJSON(cmd.OutOrStdout(), svc.Classify(code, strings.Join(args, " ")))
		},
	}
	cmd.Flags().String("code", "", "Procedure code")
	return cmd
}

func enrichCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "enrich FILE...",
		Short: "Classify every row of one or more exports",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			outPath, _ := cmd.Flags().GetString("out")
			format, err := outputFormat(cmd, outPath)
			if err != nil {
				return err
			}

			sources, closeAll, err := openSources(args)
			if err != nil {
				return err
			}
			defer closeAll()

			logger := zerolog.New(cmd.ErrOrStderr()).With().Timestamp().Logger()
			svc, err := newService(cfg, logger, nil)
			if err != nil {
				return err
			}
			result, err := svc.Import(cmd.Context(), sources, true)
			if err != nil {
				return err
			}

			return writeOutput(cmd, outPath, func(w io.Writer) error {
				switch format {
				case "csv":
					return ingest.WriteCSV(w, exam.ExportTable(result.Records))
				case "xlsx":
					return ingest.WriteXLSX(w, exam.ExportTable(result.Records))
				default:
					return writeJSON(w, result)
				}
			})
		},
	}
	cmd.Flags().StringP("out", "o", "", "Output file (default stdout)")
	cmd.Flags().String("format", "", "Output format: json, csv or xlsx (default from --out extension, else json)")
	return cmd
}

func combineCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "combine FILE...",
		Short: "Merge exports into one table ordered by dictation time",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			outPath, _ := cmd.Flags().GetString("out")
			format, err := outputFormat(cmd, outPath)
			if err != nil {
				return err
			}
			if format == "json" {
				format = "csv"
			}

			sources, closeAll, err := openSources(args)
			if err != nil {
				return err
			}
			defer closeAll()

			tbl, err := ingest.CombineSources(sources...)
			if err != nil {
				return err
			}
			return writeOutput(cmd, outPath, func(w io.Writer) error {
				if format == "xlsx" {
					return ingest.WriteXLSX(w, tbl)
				}
				return ingest.WriteCSV(w, tbl)
			})
		},
	}
	cmd.Flags().StringP("out", "o", "", "Output file (default stdout)")
	cmd.Flags().String("format", "", "Output format: csv or xlsx (default from --out extension, else csv)")
	return cmd
}

func rulesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rules",
		Short: "List classification rules in evaluation order",
		RunE: func(cmd *cobra.Command, args []string) error {
			rules := exam.DefaultRules()
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Rule set version: %s\n", rules.Version)
			fmt.Fprintf(out, "%-16s %-5s %-32s %s\n", "TABLE", "ORDER", "ID", "RESULT")
			for _, r := range rules.Describe() {
				fmt.Fprintf(out, "%-16s %-5d %-32s %s\n", r.Table, r.Order, r.ID, r.Result)
			}
			return nil
		},
	}
}

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a signed bearer token",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			subject, _ := cmd.Flags().GetString("subject")
			roles, _ := cmd.Flags().GetStringSlice("role")
			ttl, _ := cmd.Flags().GetDuration("ttl")

			token, err := auth.IssueToken(auth.JWTConfig{
				Issuer:     cfg.AuthIssuer,
				SigningKey: []byte(cfg.AuthSigningKey),
			}, subject, roles, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().String("subject", "rvu-cli", "Token subject (user id)")
	cmd.Flags().StringSlice("role", []string{auth.RoleRadiologist}, "Role to grant (repeatable)")
	cmd.Flags().Duration("ttl", time.Hour, "Token lifetime")
	return cmd
}

func openSources(paths []string) ([]ingest.Source, func(), error) {
	var files []*os.File
	closeAll := func() {
		for _, f := range files {
			f.Close()
		}
	}
	sources := make([]ingest.Source, 0, len(paths))
	for _, p := range paths {
		f, err := os.Open(p)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		files = append(files, f)
		sources = append(sources, ingest.Source{Name: filepath.Base(p), Reader: f})
	}
	return sources, closeAll, nil
}

func outputFormat(cmd *cobra.Command, outPath string) (string, error) {
	format, _ := cmd.Flags().GetString("format")
	if format == "" {
		format = strings.TrimPrefix(strings.ToLower(filepath.Ext(outPath)), ".")
	}
	switch format {
	case "", "json":
		return "json", nil
	case "csv", "xlsx":
		return format, nil
	default:
		return "", fmt.Errorf("unsupported output format %q", format)
	}
}

func writeOutput(cmd *cobra.Command, path string, write func(io.Writer) error) error {
	if path == "" || path == "-" {
		return write(cmd.OutOrStdout())
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
