package fileops

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/terabiome/clusterup/pkg/executor"
)

func RemoveFile(ctx context.Context, exec executor.Executor, path string) error {
	result, err := executor.RunAndCapture(ctx, exec, "rm", "-f", path)
	if err != nil {
		return fmt.Errorf("failed to remove %s: %w\nstderr: %s", path, err, result.Stderr)
	}
	return nil
}

func CreateDirectory(ctx context.Context, exec executor.Executor, path string) error {
	result, err := executor.RunAndCapture(ctx, exec, "mkdir", "-p", path)
	if err != nil {
		return fmt.Errorf("failed to create directory %s: %w\nstderr: %s", path, err, result.Stderr)
	}
	return nil
}

// RemoveDirectory removes path and everything below it.
func RemoveDirectory(ctx context.Context, exec executor.Executor, path string) error {
	result, err := executor.RunAndCapture(ctx, exec, "rm", "-rf", path)
	if err != nil {
		return fmt.Errorf("failed to remove directory %s: %w\nstderr: %s", path, err, result.Stderr)
	}
	return nil
}

// Exists reports whether path is present on the executor's host.
func Exists(ctx context.Context, exec executor.Executor, path string) (bool, error) {
	result, err := executor.RunAndCapture(ctx, exec, "test", "-e", path)
	if err == nil {
		return true, nil
	}
	if result.ExitCode == 1 {
		return false, nil
	}
	return false, fmt.Errorf("failed to stat %s: %w\nstderr: %s", path, err, result.Stderr)
}

// WriteFile writes data to path on the executor's host. The payload
// travels base64 encoded in the command line, so it suits small files
// such as cloud-init documents.
func WriteFile(ctx context.Context, exec executor.Executor, path string, data []byte) error {
	script := fmt.Sprintf("printf '%%s' %s | base64 -d > %s",
		base64.StdEncoding.EncodeToString(data), executor.ShellQuote(path))
	result, err := executor.RunAndCapture(ctx, exec, "sh", "-c", script)
	if err != nil {
		return fmt.Errorf("failed to write %s: %w\nstderr: %s", path, err, result.Stderr)
	}
	return nil
}
