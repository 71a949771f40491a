package fileops_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/terabiome/clusterup/pkg/executor"
	"github.com/terabiome/clusterup/pkg/executor/fileops"
	"github.com/terabiome/clusterup/pkg/logger"
)

func TestWriteFileExistsRemove(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	exec := executor.NewLocal(logger.Discard())
	dir := filepath.Join(t.TempDir(), "core-01 seed")

	require.NoError(t, fileops.CreateDirectory(ctx, exec, dir))

	path := filepath.Join(dir, "user-data")
	content := []byte("#cloud-config\nhostname: core-01\n# it's quoted\n")
	require.NoError(t, fileops.WriteFile(ctx, exec, path, content))

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, content, got)

	exists, err := fileops.Exists(ctx, exec, path)
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, fileops.RemoveFile(ctx, exec, path))

	exists, err = fileops.Exists(ctx, exec, path)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestRemoveDirectory(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	exec := executor.NewLocal(logger.Discard())
	dir := filepath.Join(t.TempDir(), "seed")

	require.NoError(t, fileops.CreateDirectory(ctx, exec, dir))
	require.NoError(t, fileops.WriteFile(ctx, exec, filepath.Join(dir, "meta-data"), []byte("instance-id: x\n")))
	require.NoError(t, fileops.RemoveDirectory(ctx, exec, dir))

	_, err := os.Stat(dir)
	assert.True(t, os.IsNotExist(err))
}
