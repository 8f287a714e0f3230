package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/unclebandit/outreach-engine/internal/app"
	"github.com/unclebandit/outreach-engine/internal/config"
	"github.com/unclebandit/outreach-engine/internal/logger"
	"github.com/unclebandit/outreach-engine/internal/queue"
)

var (
	envFile string
	debug   bool
	jsonLog bool

	rootCmd = &cobra.Command{
		Use:   "worker",
		Short: "worker runs outreach dispatch and reply reconciliation",
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "a .env file to load (default is .env in current directory)")
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "verbose/debug output")
	rootCmd.PersistentFlags().BoolVarP(&jsonLog, "json", "j", false, "json format for logging")

	rootCmd.AddCommand(
		jobCommand(queue.JobDispatch, "Send every due recipient once and exit"),
		jobCommand(queue.JobReconcile, "Scan client mailboxes for replies once and exit"),
		&cobra.Command{
			Use:   "run",
			Short: "Run dispatch and reconcile on their configured intervals",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withApp(cmd, func(ctx context.Context, a *app.App, j *jobs) error {
					a.Log.Info("worker running",
						zap.Duration("dispatch_interval", a.Config.DispatchInterval),
						zap.Duration("reconcile_interval", a.Config.ReconcileInterval))
					j.loop(ctx, a.Config.DispatchInterval, a.Config.ReconcileInterval)
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "consume",
			Short: "Run jobs on triggers published to the message queue",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withApp(cmd, func(ctx context.Context, a *app.App, j *jobs) error {
					if a.Config.AMQPURL == "" {
						return fmt.Errorf("consume needs AMQP_URL")
					}
					if err := a.Queue.Subscribe(queue.TopicJobs, j.trigger(ctx)); err != nil {
						return err
					}
					a.Log.Info("worker running, waiting for messages...", zap.String("topic", queue.TopicJobs))
					<-ctx.Done()
					return nil
				})
			},
		},
		&cobra.Command{
			Use:       "trigger [dispatch|reconcile]",
			Short:     "Publish a job trigger for consuming workers",
			Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
			ValidArgs: []string{queue.JobDispatch, queue.JobReconcile},
			RunE: func(cmd *cobra.Command, args []string) error {
				return withApp(cmd, func(_ context.Context, a *app.App, _ *jobs) error {
					if a.Config.AMQPURL == "" {
						return fmt.Errorf("trigger needs AMQP_URL")
					}
					t := queue.JobTrigger{Job: args[0], RequestedAt: time.Now().UTC()}
					if err := a.Queue.Publish(queue.TopicJobs, t); err != nil {
						return err
					}
					a.Log.Info("trigger published", zap.String("job", t.Job))
					return nil
				})
			},
		},
	)
}

func jobCommand(name, short string) *cobra.Command {
	return &cobra.Command{
		Use:   name,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, _ *app.App, j *jobs) error {
				return j.run(ctx, name)
			})
		},
	}
}

// withApp loads config, wires the services and runs fn until it returns or
// the process is signalled.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App, j *jobs) error) error {
	var files []string
	if envFile != "" {
		files = append(files, envFile)
	}
	cfg, err := config.Load(files...)
	if err != nil {
		return err
	}
	cfg.LogDebug = cfg.LogDebug || debug
	cfg.LogJSON = cfg.LogJSON || jsonLog

	zl, err := logger.New(cfg.LogJSON, cfg.LogDebug)
	if err != nil {
		return fmt.Errorf("creating a logger: %w", err)
	}
	defer zl.Sync()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, zl)
	if err != nil {
		return err
	}
	defer a.Close()

	return fn(ctx, a, &jobs{dispatcher: a.Dispatcher, reconciler: a.Reconciler, log: zl.Named("worker")})
}

func main() {
	rootCmd.SilenceUsage = true
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		log.Fatal(err)
	}
}
