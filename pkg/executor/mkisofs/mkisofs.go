package mkisofs

import (
	"context"
	"fmt"

	"github.com/terabiome/clusterup/pkg/executor"
)

type ISOOptions struct {
	OutputPath string
	VolumeID   string
	Files      []string
}

func CreateISO(ctx context.Context, exec executor.Executor, opts ISOOptions) error {
	args := []string{
		"-output", opts.OutputPath,
		"-volid", opts.VolumeID,
		"-joliet",
		"-rock",
	}
	args = append(args, opts.Files...)

	result, err := executor.RunAndCapture(ctx, exec, "mkisofs", args...)
	if err != nil {
		return fmt.Errorf("mkisofs failed: %w\nstdout: %s\nstderr: %s",
			err, result.Stdout, result.Stderr)
	}

	return nil
}

func Version(ctx context.Context, exec executor.Executor) (string, error) {
	result, err := executor.RunAndCapture(ctx, exec, "mkisofs", "-version")
	if err != nil {
		return "", fmt.Errorf("mkisofs -version failed: %w\nstderr: %s", err, result.Stderr)
	}
	// some builds print the banner on stderr
	if line := executor.FirstLine(result.Stdout); line != "" {
		return line, nil
	}
	return executor.FirstLine(result.Stderr), nil
}
