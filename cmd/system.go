package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/terabiome/clusterup/internal/config"
	"github.com/terabiome/clusterup/pkg/executor"
	"github.com/terabiome/clusterup/pkg/executor/mkisofs"
	"github.com/terabiome/clusterup/pkg/executor/qemuimg"
	pkglibvirt "github.com/terabiome/clusterup/pkg/libvirt"
	"github.com/urfave/cli/v2"
)

type hostCheck struct {
	name string
	run  func(ctx context.Context, exec executor.Executor) (string, error)
}

// runSystemCheck verifies that the hypervisor host has the tools
// provisioning shells out to and that libvirt answers.
func runSystemCheck(ctx context.Context, cfg *config.Config, log *slog.Logger, w io.Writer) error {
	exec, closeExec, err := newExecutor(cfg, log)
	if err != nil {
		return err
	}
	defer closeExec()

	checks := []hostCheck{
		{name: "qemu-img", run: qemuimg.Version},
		{name: "mkisofs", run: mkisofs.Version},
		{name: "libvirt", run: func(context.Context, executor.Executor) (string, error) {
			return libvirtVersion(cfg, exec, log)
		}},
	}

	failed := 0
	for _, check := range checks {
		detail, err := check.run(ctx, exec)
		if err != nil {
			failed++
			failColor.Fprintf(w, "✗ %s", check.name)
			fmt.Fprintf(w, "  %s\n", executor.FirstLine(err.Error()))
			continue
		}
		okColor.Fprintf(w, "✓ %s", check.name)
		fmt.Fprintf(w, "  %s\n", detail)
	}

	if failed > 0 {
		return cli.Exit(fmt.Sprintf("%d of %d host checks failed", failed, len(checks)), exitFailure)
	}
	return nil
}

func libvirtVersion(cfg *config.Config, exec executor.Executor, log *slog.Logger) (string, error) {
	conns, err := pkglibvirt.NewConnectionManager(cfg.LibvirtURI, exec, log)
	if err != nil {
		return "", err
	}
	defer conns.Close()

	conn, unlock, err := conns.GetHypervisor()
	if err != nil {
		return "", err
	}
	defer unlock()

	version, err := conn.GetLibVersion()
	if err != nil {
		return "", fmt.Errorf("failed to query libvirt version: %w", err)
	}
	return fmt.Sprintf("%s (libvirt %d.%d.%d)", conns.URI(), version/1000000, version/1000%1000, version%1000), nil
}
