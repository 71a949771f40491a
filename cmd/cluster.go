package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/terabiome/clusterup/internal/backend"
	backendlibvirt "github.com/terabiome/clusterup/internal/backend/libvirt"
	"github.com/terabiome/clusterup/internal/config"
	"github.com/terabiome/clusterup/internal/plan"
	"github.com/terabiome/clusterup/internal/provisioner"
	"github.com/terabiome/clusterup/pkg/executor"
	pkglibvirt "github.com/terabiome/clusterup/pkg/libvirt"
	"github.com/terabiome/clusterup/pkg/templator"
	"github.com/urfave/cli/v2"
)

type lifecycleOp int

const (
	opHalt lifecycleOp = iota
	opDestroy
)

func runUp(ctx context.Context, cfg *config.Config, log *slog.Logger, cliCtx *cli.Context) error {
	clusterCfg, plans, err := loadPlan(cliCtx.String("config"), log)
	if err != nil {
		return err
	}

	if cliCtx.Bool("dry-run") {
		log.Info("dry run, nothing provisioned", slog.Int("instances", len(plans)))
		return plan.Render(cliCtx.App.Writer, plans, plan.FormatText)
	}

	p, err := parallelism(cliCtx, clusterCfg)
	if err != nil {
		return err
	}

	b, cleanup, err := newBackend(cfg, log)
	if err != nil {
		return err
	}
	defer cleanup()

	svc := provisioner.NewService(b, provisioner.Options{Parallelism: p, RetryDelay: cfg.RetryDelay}, log)
	return finish(cliCtx, svc.Provision(ctx, plans))
}

func runLifecycle(ctx context.Context, cfg *config.Config, log *slog.Logger, cliCtx *cli.Context, op lifecycleOp) error {
	clusterCfg, plans, err := loadPlan(cliCtx.String("config"), log)
	if err != nil {
		return err
	}

	p, err := parallelism(cliCtx, clusterCfg)
	if err != nil {
		return err
	}

	b, cleanup, err := newBackend(cfg, log)
	if err != nil {
		return err
	}
	defer cleanup()

	svc := provisioner.NewService(b, provisioner.Options{Parallelism: p, RetryDelay: cfg.RetryDelay}, log)

	var report *provisioner.Report
	switch op {
	case opHalt:
		report = svc.Halt(ctx, plans)
	case opDestroy:
		report = svc.Destroy(ctx, plans)
	}
	return finish(cliCtx, report)
}

// finish prints the run summary and turns an incomplete run into a
// non-zero exit.
func finish(cliCtx *cli.Context, report *provisioner.Report) error {
	printReport(cliCtx.App.Writer, report)
	if code := report.ExitCode(); code != 0 {
		return cli.Exit("", code)
	}
	return nil
}

func newBackend(cfg *config.Config, log *slog.Logger) (backend.Backend, func(), error) {
	engine := templator.NewEngine()
	err := backendlibvirt.LoadTemplates(engine, backendlibvirt.TemplatePaths{
		Domain:   cfg.DomainTemplate,
		UserData: cfg.UserDataTemplate,
		MetaData: cfg.MetaDataTemplate,
	})
	if err != nil {
		return nil, nil, err
	}
	log.Debug("templates loaded")

	exec, closeExec, err := newExecutor(cfg, log)
	if err != nil {
		return nil, nil, err
	}

	conns, err := pkglibvirt.NewConnectionManager(cfg.LibvirtURI, exec, log)
	if err != nil {
		closeExec()
		return nil, nil, fmt.Errorf("failed to initialize connection manager: %w", err)
	}

	cleanup := func() {
		if err := conns.Close(); err != nil {
			log.Warn("failed to close libvirt connection", slog.String("error", err.Error()))
		}
		closeExec()
	}

	b := backendlibvirt.New(conns, engine, backendlibvirt.Options{
		StorageDir: cfg.StorageDir,
		ImageDir:   cfg.ImageDir,
		ImageName:  cfg.ImageName,
	}, log)
	return b, cleanup, nil
}

// newExecutor runs host commands locally, or over SSH when the hypervisor
// is remote.
func newExecutor(cfg *config.Config, log *slog.Logger) (executor.Executor, func(), error) {
	if !cfg.RemoteHypervisor() {
		return executor.NewLocal(log), func() {}, nil
	}

	ssh, err := executor.NewSSH(executor.SSHConfig{
		Host:                  cfg.SSHHost,
		Port:                  cfg.SSHPort,
		User:                  cfg.SSHUser,
		KeyPath:               cfg.SSHKey,
		KnownHostsPath:        cfg.SSHKnownHosts,
		InsecureIgnoreHostKey: cfg.SSHInsecureNoHost,
	}, log)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to hypervisor host: %w", err)
	}

	return ssh, func() {
		if err := ssh.Close(); err != nil {
			log.Warn("failed to close ssh connection", slog.String("error", err.Error()))
		}
	}, nil
}
