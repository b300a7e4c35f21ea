/*
main.go - vestingd entry point

COMMANDS:
  serve      Run the HTTP API and the settlement scheduler
  migrate    Apply pending SQLite migrations and print the schema version
  schedule   Print the release steps of a plan for given amounts

CONFIGURATION:
  --config points at a YAML file; VESTING_* environment variables override
  it (see config/config.go).

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the scheduler and close the database

EXAMPLES:
  vestingd serve --config vesting.yaml
  VESTING_DATABASE__DRIVER=memory vestingd serve --port 3000
  vestingd schedule --cliff 12 --total 36 --interval 3 --start 2024-01 --full 3600000 --cliff-amount 1200000

SEE ALSO:
  - cmd/vestingd/app.go: service wiring
  - api/server.go: Router configuration
*/
package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/warp/vesting-engine/api"
	"github.com/warp/vesting-engine/config"
	"github.com/warp/vesting-engine/factory"
	"github.com/warp/vesting-engine/store/sqlite"
	"github.com/warp/vesting-engine/store/sqlite/migrations"
	"github.com/warp/vesting-engine/token"
	"github.com/warp/vesting-engine/vesting"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var configPath string

// loadConfig reads the config named by --config.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, fmt.Errorf("reading config: %w", err)
	}
	return cfg, nil
}

var rootCmd = &cobra.Command{
	Use:   "vestingd",
	Short: "Token vesting and escrow service",
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if port, _ := cmd.Flags().GetInt("port"); port > 0 {
			cfg.Server.Port = port
		}
		logger := config.NewLogger(cfg.Log, os.Stderr)

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx, cfg, logger)
		if err != nil {
			return fmt.Errorf("initializing app: %w", err)
		}
		defer a.Close()

		server := &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:      api.NewRouter(a.handler),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		}

		a.scheduler.Start()

		errCh := make(chan error, 1)
		go func() {
			logger.Info("server starting", "addr", server.Addr, "database", cfg.Database.Driver)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errCh <- err
			}
			close(errCh)
		}()

		select {
		case err := <-errCh:
			if err != nil {
				return fmt.Errorf("server failed: %w", err)
			}
		case <-ctx.Done():
		}

		logger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		logger.Info("server stopped")
		return nil
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.Database.Driver != "sqlite" {
			return fmt.Errorf("migrate needs the sqlite driver, got %q", cfg.Database.Driver)
		}

		db, err := sqlite.Open(cfg.Database.Path)
		if err != nil {
			return err
		}
		defer db.Close()

		if err := migrations.MigrateUp(db); err != nil {
			return err
		}
		version, dirty, err := migrations.Version(db)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: schema version %d (dirty=%t)\n", cfg.Database.Path, version, dirty)
		return nil
	},
}

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Print the release steps of a plan",
	RunE: func(cmd *cobra.Command, args []string) error {
		f := cmd.Flags()
		cliff, _ := f.GetInt("cliff")
		total, _ := f.GetInt("total")
		unit, _ := f.GetString("unit")
		interval, _ := f.GetInt("interval")
		start, _ := f.GetString("start")
		full, _ := f.GetString("full")
		cliffAmount, _ := f.GetString("cliff-amount")

		plan, err := factory.ParsePlan(factory.LinearPlanJSON(cliff, total, unit, interval, false, false))
		if err != nil {
			return err
		}
		startMonth, err := time.Parse("2006-01", start)
		if err != nil {
			return fmt.Errorf("%w: %v", vesting.ErrInvalidStartMonth, err)
		}
		fullAmount, err := token.ParseAmount(full)
		if err != nil {
			return err
		}
		cliffAmt, err := token.ParseAmount(cliffAmount)
		if err != nil {
			return err
		}
		if err := vesting.ValidateAmounts(fullAmount, cliffAmt); err != nil {
			return err
		}

		b := vesting.Beneficiary{StartMonth: startMonth, FullAmount: fullAmount, CliffAmount: cliffAmt}
		return printSchedule(cmd.OutOrStdout(), plan, b.Schedule(plan))
	},
}

func printSchedule(w io.Writer, plan vesting.Plan, s vesting.Schedule) error {
	fmt.Fprintln(w, plan.String())
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tAT\tVESTED\tLOCKED")
	for i, st := range s.Steps() {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", i, st.At.Format("2006-01-02"), st.Vested, st.Locked)
	}
	return tw.Flush()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to YAML config file")

	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().IntP("port", "p", 0, "HTTP port (overrides config)")

	rootCmd.AddCommand(migrateCmd)

	rootCmd.AddCommand(scheduleCmd)
	scheduleCmd.Flags().Int("cliff", 12, "Cliff in months")
	scheduleCmd.Flags().Int("total", 36, "Total duration in months")
	scheduleCmd.Flags().String("unit", "month", "Interval unit: day, month or year")
	scheduleCmd.Flags().Int("interval", 1, "Interval length in units")
	scheduleCmd.Flags().String("start", time.Now().UTC().Format("2006-01"), "Start month (YYYY-MM)")
	scheduleCmd.Flags().String("full", "0", "Full amount")
	scheduleCmd.Flags().String("cliff-amount", "0", "Amount released at the cliff")
}
