package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/terabiome/clusterup/internal/cluster"
	"github.com/terabiome/clusterup/internal/config"
	"github.com/terabiome/clusterup/internal/plan"
	"github.com/terabiome/clusterup/pkg/logger"
	"github.com/terabiome/clusterup/pkg/telemetry"
	"github.com/urfave/cli/v2"
)

const (
	exitFailure     = 1
	exitConfigError = 2
)

func main() {
	os.Exit(run(os.Args))
}

func run(args []string) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("configuration error", slog.String("error", err.Error()))
		return exitConfigError
	}

	log := logger.New(cfg.LogLevel, cfg.LogFormat)
	log.Debug("clusterup starting",
		slog.String("log_level", cfg.LogLevel),
		slog.String("log_format", cfg.LogFormat),
		slog.Bool("telemetry_enabled", cfg.TelemetryEnabled),
	)

	if cfg.TelemetryEnabled {
		tel, err := telemetry.Initialize("clusterup", os.Stderr)
		if err != nil {
			log.Error("failed to initialize telemetry", slog.String("error", err.Error()))
			return exitFailure
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tel.Shutdown(shutdownCtx); err != nil {
				log.Error("failed to shutdown telemetry", slog.String("error", err.Error()))
			}
		}()
		log.Debug("telemetry initialized")
	}

	app := newApp(ctx, cfg, log)
	if err := app.Run(args); err != nil {
		code := exitCode(err)
		if err.Error() != "" {
			log.Error("clusterup failed", slog.String("error", err.Error()), slog.Int("exit_code", code))
		}
		return code
	}
	return 0
}

func newApp(ctx context.Context, cfg *config.Config, log *slog.Logger) *cli.App {
	configFlag := &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Path to the cluster document",
		Value:   cfg.ClusterConfigPath,
	}
	parallelismFlag := &cli.IntFlag{
		Name:    "parallelism",
		Aliases: []string{"p"},
		Usage:   "Maximum number of instances handled at once (0 uses the cluster document or the default)",
	}

	return &cli.App{
		Name:                 "clusterup",
		Usage:                "Bring up a local cluster of identical virtual machines",
		EnableBashCompletion: true,
		// Exit codes are mapped in run so deferred cleanup still happens.
		ExitErrHandler: func(*cli.Context, error) {},
		Commands: []*cli.Command{
			{
				Name:  "up",
				Usage: "Create and start every instance of the cluster",
				Flags: []cli.Flag{
					configFlag,
					parallelismFlag,
					&cli.BoolFlag{
						Name:  "dry-run",
						Usage: "Print the plan without touching the hypervisor",
					},
				},
				Action: func(cliCtx *cli.Context) error {
					return runUp(ctx, cfg, log, cliCtx)
				},
			},
			{
				Name:  "plan",
				Usage: "Print the per-instance plan",
				Flags: []cli.Flag{
					configFlag,
					&cli.StringFlag{
						Name:    "output",
						Aliases: []string{"o"},
						Usage:   "Output format: text, json or yaml",
						Value:   plan.FormatText,
					},
				},
				Action: func(cliCtx *cli.Context) error {
					_, plans, err := loadPlan(cliCtx.String("config"), log)
					if err != nil {
						return err
					}
					return plan.Render(cliCtx.App.Writer, plans, cliCtx.String("output"))
				},
			},
			{
				Name:  "halt",
				Usage: "Stop every instance of the cluster",
				Flags: []cli.Flag{configFlag, parallelismFlag},
				Action: func(cliCtx *cli.Context) error {
					return runLifecycle(ctx, cfg, log, cliCtx, opHalt)
				},
			},
			{
				Name:  "destroy",
				Usage: "Remove every instance of the cluster and its disks",
				Flags: []cli.Flag{configFlag, parallelismFlag},
				Action: func(cliCtx *cli.Context) error {
					return runLifecycle(ctx, cfg, log, cliCtx, opDestroy)
				},
			},
			{
				Name:  "system",
				Usage: "Inspect the hypervisor host",
				Subcommands: []*cli.Command{
					{
						Name:  "check",
						Usage: "Verify the host tools and the libvirt connection",
						Action: func(cliCtx *cli.Context) error {
							return runSystemCheck(ctx, cfg, log, cliCtx.App.Writer)
						},
					},
				},
			},
		},
	}
}

// exitCode maps a command error onto the process exit status.
func exitCode(err error) int {
	var exitCoder cli.ExitCoder
	if errors.As(err, &exitCoder) {
		return exitCoder.ExitCode()
	}

	var cfgErr *cluster.ConfigError
	var planErr *plan.PlanError
	if errors.As(err, &cfgErr) || errors.As(err, &planErr) {
		return exitConfigError
	}
	return exitFailure
}

func loadPlan(path string, log *slog.Logger) (cluster.ClusterConfig, []plan.InstancePlan, error) {
	clusterCfg, err := cluster.Load(path)
	if err != nil {
		return cluster.ClusterConfig{}, nil, err
	}

	plans, err := plan.Build(clusterCfg)
	if err != nil {
		return cluster.ClusterConfig{}, nil, err
	}

	log.Debug("cluster planned",
		slog.String("document", path),
		slog.Int("instances", len(plans)),
		slog.String("channel", string(clusterCfg.ImageChannel)),
		slog.String("version", clusterCfg.ImageVersion),
	)
	return clusterCfg, plans, nil
}

// parallelism prefers the command line over the cluster document.
func parallelism(cliCtx *cli.Context, clusterCfg cluster.ClusterConfig) (int, error) {
	if p := cliCtx.Int("parallelism"); p != 0 {
		if p < 0 || p > cluster.MaxParallelism {
			return 0, cli.Exit(fmt.Sprintf("parallelism must be between 1 and %d", cluster.MaxParallelism), exitConfigError)
		}
		return p, nil
	}
	return clusterCfg.Parallelism, nil
}
