// Package main runs the watch-time worker: scheduled poll cycles and rollups, the Redis
// job queue consumer, and one-off operator commands.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/shinypull/backend/config"
	"github.com/shinypull/backend/internal/auth"
	"github.com/shinypull/backend/pkg/database"
	"github.com/shinypull/backend/pkg/queue"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	if err := newRootCmd(logger).Execute(); err != nil {
		logger.Error("command failed", zap.Error(err))
		os.Exit(1)
	}
}

type cli struct {
	logger *zap.Logger
	cfg    *config.Config
}

func newRootCmd(logger *zap.Logger) *cobra.Command {
	c := &cli{logger: logger}
	root := &cobra.Command{
		Use:           "worker",
		Short:         "Live stream watch-time worker",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			c.cfg = cfg
			return nil
		},
	}
	root.AddCommand(c.newRunCmd())
	root.AddCommand(c.newPollCmd())
	root.AddCommand(c.newRollupCmd())
	root.AddCommand(c.newBackfillCmd())
	root.AddCommand(c.newMigrateCmd())
	root.AddCommand(c.newTokenCmd())
	return root
}

func (c *cli) newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Consume the job queue and run the poll and rollup schedules",
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := newEngine(cmd.Context(), c.cfg, c.logger)
			if err != nil {
				return err
			}
			defer eng.Close()

			var metricsSrv *http.Server
			if addr := c.cfg.Server.MetricsAddr; addr != "" {
				mux := http.NewServeMux()
				mux.Handle("/metrics", promhttp.HandlerFor(eng.registry, promhttp.HandlerOpts{}))
				metricsSrv = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
				go func() {
					c.logger.Info("metrics listening", zap.String("addr", addr))
					if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						c.logger.Error("metrics server", zap.Error(err))
					}
				}()
			}

			workerCtx, cancel := context.WithCancel(context.Background())
			defer cancel()
			done := make(chan struct{}, 2)
			go func() {
				eng.processor.Run(workerCtx)
				done <- struct{}{}
			}()
			go func() {
				eng.processor.Schedule(workerCtx, c.cfg.Poller.Interval, c.cfg.Rollup.Interval)
				done <- struct{}{}
			}()
			c.logger.Info("worker started",
				zap.Duration("poll_interval", c.cfg.Poller.Interval),
				zap.Duration("rollup_interval", c.cfg.Rollup.Interval),
				zap.String("rollup_timezone", c.cfg.Rollup.Location.String()))

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
			<-quit

			cancel()
			shutdownCtx, stop := context.WithTimeout(context.Background(), 15*time.Second)
			defer stop()
		wait:
			for i := 0; i < 2; i++ {
				select {
				case <-done:
				case <-shutdownCtx.Done():
					c.logger.Warn("worker shutdown timed out")
					break wait
				}
			}
			if metricsSrv != nil {
				_ = metricsSrv.Shutdown(shutdownCtx)
			}
			c.logger.Info("worker stopped")
			return nil
		},
	}
}

func (c *cli) newPollCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "poll [platform...]",
		Short: "Run one poll cycle now (all configured platforms when none given)",
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := newEngine(cmd.Context(), c.cfg, c.logger)
			if err != nil {
				return err
			}
			defer eng.Close()
			results, err := eng.processor.PollCycle(cmd.Context(), args)
			if perr := printJSON(cmd, results); perr != nil {
				return perr
			}
			return err
		},
	}
}

func (c *cli) newRollupCmd() *cobra.Command {
	var from, to string
	cmd := &cobra.Command{
		Use:   "rollup",
		Short: "Recompute daily stats (yesterday by default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := newEngine(cmd.Context(), c.cfg, c.logger)
			if err != nil {
				return err
			}
			defer eng.Close()
			results, err := eng.processor.Rollup(cmd.Context(), queue.RollupPayload{From: from, To: to})
			if perr := printJSON(cmd, results); perr != nil {
				return perr
			}
			return err
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "first day, YYYY-MM-DD in the rollup timezone")
	cmd.Flags().StringVar(&to, "to", "", "last day inclusive, YYYY-MM-DD (defaults to --from)")
	return cmd
}

func (c *cli) newBackfillCmd() *cobra.Command {
	var from, to string
	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Repair zeroed viewer metrics in [from, to)",
		RunE: func(cmd *cobra.Command, args []string) error {
			start, err := time.Parse(time.DateOnly, from)
			if err != nil {
				return fmt.Errorf("--from: %w", err)
			}
			end, err := time.Parse(time.DateOnly, to)
			if err != nil {
				return fmt.Errorf("--to: %w", err)
			}
			eng, err := newEngine(cmd.Context(), c.cfg, c.logger)
			if err != nil {
				return err
			}
			defer eng.Close()
			res, err := eng.processor.Backfill(cmd.Context(), start, end)
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "window start, YYYY-MM-DD UTC")
	cmd.Flags().StringVar(&to, "to", "", "window end (exclusive), YYYY-MM-DD UTC")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func (c *cli) newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			pool, err := database.NewPostgresPool(cmd.Context(), c.cfg.Database.DSN(), database.PoolOptions{}, c.logger)
			if err != nil {
				return err
			}
			defer pool.Close()
			return database.Migrate(cmd.Context(), pool, c.logger)
		},
	}
}

func (c *cli) newTokenCmd() *cobra.Command {
	var subject, role string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an API token",
		RunE: func(cmd *cobra.Command, args []string) error {
			tok, err := auth.NewJWTService(c.cfg.JWT.Secret, c.cfg.JWT.ExpireHours).Generate(subject, role, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "caller name recorded in the token")
	cmd.Flags().StringVar(&role, "role", auth.RoleReader, "reader or operator")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (defaults to JWT_EXPIRE_HOURS)")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
