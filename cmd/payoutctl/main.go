// Command payoutctl is the operator CLI for the payout-service: schema
// migrations, admin seeding and payout reconciliation.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/transfa/payout-service/internal/app"
	"github.com/transfa/payout-service/internal/bootstrap"
	"github.com/transfa/payout-service/internal/config"
	"github.com/transfa/payout-service/internal/store"
)

var Version = "dev"

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("level=info component=payoutctl msg=\"no .env file found; using environment variables\"")
	}

	rootCmd := &cobra.Command{
		Use:           "payoutctl",
		Short:         "Operator tooling for the payout-service",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().String("config-dir", ".", "directory holding an optional .env file")

	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(seedAdminCmd())
	rootCmd.AddCommand(reconcileCmd())

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig(cmd *cobra.Command) (config.Config, error) {
	dir, _ := cmd.Flags().GetString("config-dir")
	return config.LoadConfig(dir)
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "migrate [up|down]",
		Short:     "Apply or roll back the embedded schema migrations",
		Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{string(store.MigrateUp), string(store.MigrateDown)},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cfg.DatabaseURL == "" {
				return errors.New("DATABASE_URL must be configured")
			}
			direction := store.MigrateUp
			if len(args) == 1 {
				direction = store.MigrateDirection(args[0])
			}
			return store.RunMigrations(cfg.DatabaseURL, direction)
		},
	}
}

func seedAdminCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed-admin",
		Short: "Create the admin user from ADMIN_EMAIL / ADMIN_PASSWORD / ADMIN_NAME if it does not exist",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cfg.AdminPassword == "" {
				return errors.New("ADMIN_PASSWORD must be configured")
			}

			ctx := cmd.Context()
			components, err := bootstrap.Open(ctx, cfg)
			if err != nil {
				return err
			}
			defer components.Close()

			user, created, err := components.Auth.EnsureAdmin(ctx, cfg.AdminName, cfg.AdminEmail, cfg.AdminPassword)
			if err != nil {
				return fmt.Errorf("seed admin: %w", err)
			}
			if created {
				fmt.Fprintf(cmd.OutOrStdout(), "created admin user %s (id %d)\n", user.Email, user.ID)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "admin user %s already exists (id %d)\n", user.Email, user.ID)
			}
			return nil
		},
	}
}

func reconcileCmd() *cobra.Command {
	var (
		watch     bool
		batchSize int
		minAge    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Refresh stale submitted, pending and unknown payouts against the gateway",
		Long: `Refresh stale non-terminal payouts through the regular refresh path.

Examples:
  payoutctl reconcile
  payoutctl reconcile --batch-size 200 --min-age 10m
  payoutctl reconcile --watch`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("batch-size") {
				batchSize = cfg.ReconcileBatchSize
			}
			if !cmd.Flags().Changed("min-age") {
				minAge = cfg.ReconcileMinAge()
			}

			logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			components, err := bootstrap.Open(ctx, cfg)
			if err != nil {
				return err
			}
			defer components.Close()

			scheduler := app.NewReconcileScheduler(components.Service, logger, cfg.ReconcileSchedule, app.ReconcileOptions{
				Statuses:  app.DefaultReconcileStatuses,
				MinAge:    minAge,
				BatchSize: batchSize,
			})

			if !watch {
				report, err := scheduler.RunOnce(ctx)
				if err != nil {
					return err
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			}

			if err := scheduler.Start(); err != nil {
				return err
			}
			<-ctx.Done()
			logger.Info("shutting down reconcile scheduler")
			<-scheduler.Stop().Done()
			return nil
		},
	}

	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "keep running and reconcile on RECONCILE_SCHEDULE")
	cmd.Flags().IntVarP(&batchSize, "batch-size", "n", 50, "maximum payouts refreshed per pass")
	cmd.Flags().DurationVar(&minAge, "min-age", 2*time.Minute, "only refresh payouts idle for at least this long")

	return cmd
}
