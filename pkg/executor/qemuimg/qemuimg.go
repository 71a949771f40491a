package qemuimg

import (
	"context"
	"fmt"

	"github.com/terabiome/clusterup/pkg/executor"
)

type OverlayOptions struct {
	BackingFile       string
	BackingFileFormat string
	OutputPath        string
	// SizeGB grows the overlay past the backing image size; zero keeps it.
	SizeGB int64
}

// CreateOverlay creates a qcow2 image backed by an existing image.
func CreateOverlay(ctx context.Context, exec executor.Executor, opts OverlayOptions) error {
	args := []string{
		"create",
		"-f", "qcow2",
		"-b", opts.BackingFile,
		"-F", opts.BackingFileFormat,
		opts.OutputPath,
	}
	if opts.SizeGB > 0 {
		args = append(args, fmt.Sprintf("%dG", opts.SizeGB))
	}

	result, err := executor.RunAndCapture(ctx, exec, "qemu-img", args...)
	if err != nil {
		return fmt.Errorf("qemu-img create failed: %w\nstdout: %s\nstderr: %s",
			err, result.Stdout, result.Stderr)
	}

	return nil
}

func Version(ctx context.Context, exec executor.Executor) (string, error) {
	result, err := executor.RunAndCapture(ctx, exec, "qemu-img", "--version")
	if err != nil {
		return "", fmt.Errorf("qemu-img --version failed: %w\nstderr: %s", err, result.Stderr)
	}
	return executor.FirstLine(result.Stdout), nil
}
