package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ehr/crisis/internal/config"
	"github.com/ehr/crisis/internal/domain/crisis"
	"github.com/ehr/crisis/internal/platform/db"
)

// cliUserID identifies command-line analyses in logs.
const cliUserID = "cli"

func analyzeCmd() *cobra.Command {
	var (
		registryFile   string
		riskFactors    []string
		support        string
		previousCrises bool
		maxInput       int
	)
	cmd := &cobra.Command{
		Use:   "analyze [text]",
		Short: "Analyze text from the arguments or stdin and print the result as JSON",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := inputText(cmd.InOrStdin(), args)
			if err != nil {
				return err
			}
			pc, err := patientContext(riskFactors, support, previousCrises)
			if err != nil {
				return err
			}
			reg, err := loadRegistry(registryFile)
			if err != nil {
				return err
			}
			engine, err := crisis.NewEngine(reg, crisis.WithMaxInputLength(maxInput))
			if err != nil {
				return err
			}
			return runAnalyze(cmd.Context(), cmd.OutOrStdout(), engine, text, pc)
		},
	}
	cmd.Flags().StringVar(&registryFile, "registry", "", "Path to a keyword registry file (default: built-in registry)")
	cmd.Flags().StringSliceVar(&riskFactors, "risk-factor", nil, "Patient risk factor (repeatable)")
	cmd.Flags().StringVar(&support, "support-system", "", "Patient support system: strong, moderate, weak or none")
	cmd.Flags().BoolVar(&previousCrises, "previous-crises", false, "Patient has had previous crises")
	cmd.Flags().IntVar(&maxInput, "max-input", crisis.DefaultMaxInputLength, "Maximum input length in characters")
	return cmd
}

func inputText(stdin io.Reader, args []string) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	b, err := io.ReadAll(stdin)
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	return strings.TrimRight(string(b), "\r\n"), nil
}

// patientContext returns nil when no patient flags were given.
func patientContext(riskFactors []string, support string, previousCrises bool) (*crisis.PatientContext, error) {
	if len(riskFactors) == 0 && support == "" && !previousCrises {
		return nil, nil
	}
	pc := &crisis.PatientContext{RiskFactors: riskFactors, PreviousCrises: previousCrises}
	if err := pc.SupportSystem.UnmarshalText([]byte(support)); err != nil {
		return nil, err
	}
	return pc, nil
}

func runAnalyze(ctx context.Context, out io.Writer, engine *crisis.Engine, text string, pc *crisis.PatientContext) error {
	if ctx == nil {
		ctx = context.Background()
	}
	res, err := engine.AnalyzeText(ctx, text, cliUserID, pc)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}

func registryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "registry",
		Short: "Inspect and validate keyword registries",
	}

	// registry validate
	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Load and validate a keyword registry file",
		RunE: func(cmd *cobra.Command, args []string) error {
			file, _ := cmd.Flags().GetString("file")
			reg, err := loadRegistry(file)
			if err != nil {
				return err
			}
			// The matcher compiles every term, so a registry that validates
			// here will also start.
			if _, err := crisis.NewMatcher(reg); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Registry %s (version %s, reviewed %s) is valid: %d entries.\n",
				reg.Source(), reg.Version(), reg.Reviewed(), reg.Len())
			return nil
		},
	}
	validateCmd.Flags().String("file", "", "Path to the registry file (default: built-in registry)")
	cmd.AddCommand(validateCmd)

	// registry list
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List registry entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			file, _ := cmd.Flags().GetString("file")
			category, _ := cmd.Flags().GetString("category")
			reg, err := loadRegistry(file)
			if err != nil {
				return err
			}
			var want crisis.Category
			if category != "" {
				if err := want.UnmarshalText([]byte(category)); err != nil {
					return err
				}
			}
			return printRegistry(cmd.OutOrStdout(), reg, want)
		},
	}
	listCmd.Flags().String("file", "", "Path to the registry file (default: built-in registry)")
	listCmd.Flags().String("category", "", "Only list entries in this category")
	cmd.AddCommand(listCmd)

	return cmd
}

// printRegistry lists every entry, or only those in category when it is set.
func printRegistry(out io.Writer, reg *crisis.Registry, category crisis.Category) error {
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCATEGORY\tSEVERITY\tCONTEXT\tTERM")
	for _, e := range reg.Entries() {
		if category != "" && e.Category != category {
			continue
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", e.ID, e.Category, e.Severity, e.Context, e.Term)
	}
	return tw.Flush()
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations for the alert audit table",
	}

	// migrate up
	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd.Context(), func(ctx context.Context, m *db.Migrator) error {
				count, err := m.Up(ctx)
				if err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
				return nil
			})
		},
	})

	// migrate status
	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd.Context(), func(ctx context.Context, m *db.Migrator) error {
				statuses, err := m.Status(ctx)
				if err != nil {
					return fmt.Errorf("failed to get migration status: %w", err)
				}
				printMigrationStatus(cmd.OutOrStdout(), statuses)
				return nil
			})
		},
	})

	return cmd
}

func withMigrator(ctx context.Context, fn func(context.Context, *db.Migrator) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if !cfg.HasDatabase() {
		return fmt.Errorf("DATABASE_URL is required for migrations")
	}
	pool, err := db.NewPool(ctx, db.PoolConfig{
		URL:             cfg.DatabaseURL,
		MaxConns:        2,
		ApplicationName: "crisis-migrate",
	})
	if err != nil {
		return err
	}
	defer pool.Close()

	return fn(ctx, db.NewMigrator(pool, db.Migrations()))
}

func printMigrationStatus(out io.Writer, statuses []db.MigrationStatus) {
	fmt.Fprintf(out, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	fmt.Fprintln(out, "---------- ---------------------------------------- ---------- --------------------")
	for _, s := range statuses {
		appliedAt := ""
		if s.AppliedAt != nil {
			appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
		}
		fmt.Fprintf(out, "%-10d %-40s %-10s %s\n", s.Version, s.Name, s.State(), appliedAt)
	}
}
