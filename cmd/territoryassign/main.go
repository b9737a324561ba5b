// Command territoryassign runs one generate_assignments batch against a
// build snapshot: load accounts and reps, run the priority waterfall, and
// write proposals, cascades, and an audit entry back to the persistence
// boundary.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/dataparency-dev/territory-assign/internal/apperrors"
	"github.com/dataparency-dev/territory-assign/internal/appconfig"
	"github.com/dataparency-dev/territory-assign/internal/engine"
	"github.com/dataparency-dev/territory-assign/internal/persistence"
	"github.com/dataparency-dev/territory-assign/internal/telemetry"
	"github.com/dataparency-dev/territory-assign/pkg/model"
)

var (
	cfgFile  string
	natsURL  string
	logLevel string
)

func main() {
	if err := rootCmd().ExecuteContext(context.Background()); err != nil {
		var appErr *apperrors.AppError
		if errors.As(err, &appErr) {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(appErr.Type.ExitCode())
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "territoryassign",
		Short:         "Sales territory assignment engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "path to configuration file")
	root.PersistentFlags().StringVar(&natsURL, "nats-url", nats.DefaultURL, "NATS URL for the persistence boundary")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug or info)")
	root.AddCommand(assignCmd())
	root.AddCommand(configCmd())
	return root
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "config", Short: "Inspect the resolved configuration"}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration (file + env overrides + defaults) as YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := appconfig.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load configuration: %w", err)
			}
			out, err := yaml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("marshal configuration: %w", err)
			}
			_, err = os.Stdout.Write(out)
			return err
		},
	})
	return cmd
}

func assignCmd() *cobra.Command {
	var buildID string
	var cohort string
	var tier string
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "assign",
		Short: "Generate and persist territory proposals for one (build, cohort)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if buildID == "" {
				return apperrors.New(apperrors.TypeInvariantViolation, "--build is required")
			}
			ch := model.Cohort(cohort)
			if ch != model.CohortCustomer && ch != model.CohortProspect {
				return apperrors.Newf(apperrors.TypeInvariantViolation, "--cohort must be %q or %q, got %q", model.CohortCustomer, model.CohortProspect, cohort)
			}
			return runAssign(cmd.Context(), buildID, ch, tier, dryRun)
		},
	}
	cmd.Flags().StringVar(&buildID, "build", "", "build snapshot ID (required)")
	cmd.Flags().StringVar(&cohort, "cohort", "", "customer or prospect (required)")
	cmd.Flags().StringVar(&tier, "tier", "", "optional tier/segment filter")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "run against an empty in-memory store; nothing is read from or written to the persistence boundary")
	return cmd
}

func runAssign(ctx context.Context, buildID string, cohort model.Cohort, tier string, dryRun bool) error {
	cfg, err := appconfig.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	logger, flush, err := telemetry.NewLogger(logLevel)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer flush()

	metrics := telemetry.NewMetrics(prometheus.NewRegistry())

	var store persistence.Store
	if dryRun {
		store = persistence.NewMemoryStore()
	} else {
		conn, err := nats.Connect(natsURL, nats.Timeout(10*time.Second))
		if err != nil {
			return fmt.Errorf("connect to persistence boundary: %w", err)
		}
		defer conn.Close()
		store = persistence.NewNatsStore(conn, cfg.WriteBatchSize, 30*time.Second)
	}

	eng := engine.New(store, cfg, logger, metrics)

	output, err := eng.GenerateAssignments(ctx, buildID, cohort, tier)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(output)
}
