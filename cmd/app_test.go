package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"

	"github.com/terabiome/clusterup/internal/backend"
	"github.com/terabiome/clusterup/internal/config"
	"github.com/terabiome/clusterup/internal/plan"
	"github.com/terabiome/clusterup/internal/provisioner"
	"github.com/terabiome/clusterup/pkg/logger"
)

func writeClusterDoc(t *testing.T, doc string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "cluster.yaml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))
	return path
}

// runApp runs the CLI against a backend-less configuration and returns
// what the command printed along with its exit status.
func runApp(t *testing.T, args ...string) (string, int) {
	t.Helper()

	var out bytes.Buffer
	app := newApp(context.Background(), &config.Config{ClusterConfigPath: "cluster.yaml"}, logger.Discard())
	app.Writer = &out
	app.ErrWriter = io.Discard

	code := 0
	if err := app.Run(append([]string{"clusterup"}, args...)); err != nil {
		code = exitCode(err)
	}
	return out.String(), code
}

func TestApp_Commands(t *testing.T) {
	threeNodes := `
instance_count: 3
shared_folders: ~
forwarded_ports:
  2375: 2375
`

	tests := []struct {
		name     string
		doc      string
		args     []string
		wantCode int
		contains []string
		absent   []string
	}{
		{
			name:     "dry run prints the plan",
			doc:      threeNodes,
			args:     []string{"up", "--dry-run"},
			wantCode: 0,
			contains: []string{"NAME", "core-01", "core-02", "core-03", "2375->2375", "2377->2375"},
			absent:   []string{"succeeded"},
		},
		{
			name:     "plan defaults to text",
			doc:      threeNodes,
			args:     []string{"plan"},
			wantCode: 0,
			contains: []string{"core-03", "2376->2375"},
		},
		{
			name:     "out of range channel",
			doc:      "image_channel: nightly\n",
			args:     []string{"up", "--dry-run"},
			wantCode: exitConfigError,
		},
		{
			name:     "port exhausted",
			doc:      "instance_count: 2\nshared_folders: ~\nexpose_docker_tcp: 65535\n",
			args:     []string{"up", "--dry-run"},
			wantCode: exitConfigError,
		},
		{
			name:     "parallelism out of range",
			doc:      "shared_folders: ~\n",
			args:     []string{"up", "--parallelism", "65"},
			wantCode: exitConfigError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			path := writeClusterDoc(t, tt.doc)
			out, code := runApp(t, append(tt.args, "--config", path)...)

			assert.Equal(t, tt.wantCode, code)
			for _, want := range tt.contains {
				assert.Contains(t, out, want)
			}
			for _, unwanted := range tt.absent {
				assert.NotContains(t, out, unwanted)
			}
		})
	}
}

func TestApp_MissingClusterDocument(t *testing.T) {
	t.Parallel()

	_, code := runApp(t, "plan", "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Equal(t, exitConfigError, code)
}

func TestApp_PlanJSON(t *testing.T) {
	t.Parallel()

	path := writeClusterDoc(t, "instance_count: 2\nshared_folders: ~\nvm_memory_mb: 2048\n")
	out, code := runApp(t, "plan", "--config", path, "-o", "json")
	require.Equal(t, 0, code)

	var plans []plan.InstancePlan
	require.NoError(t, json.Unmarshal([]byte(out), &plans))
	require.Len(t, plans, 2)
	assert.Equal(t, "core-01", plans[0].Name)
	assert.Equal(t, "core-02", plans[1].Name)
	assert.Equal(t, 2048, plans[1].MemoryMB)
}

func TestFinish(t *testing.T) {
	color.NoColor = true

	tests := []struct {
		name     string
		results  []provisioner.Result
		wantCode int
	}{
		{
			name: "every instance created",
			results: []provisioner.Result{
				{Index: 1, Instance: "core-01", Status: provisioner.StatusCreated, Attempts: 2},
				{Index: 2, Instance: "core-02", Status: provisioner.StatusCreated, Attempts: 2},
			},
			wantCode: 0,
		},
		{
			name: "partial failure",
			results: []provisioner.Result{
				{Index: 1, Instance: "core-01", Status: provisioner.StatusCreated, Attempts: 2},
				{Index: 2, Instance: "core-02", Status: provisioner.StatusFailed, Attempts: 1,
					Err: backend.NewError(backend.KindPermanent, "create", "core-02", errors.New("disk full"))},
				{Index: 3, Instance: "core-03", Status: provisioner.StatusCreated, Attempts: 2},
			},
			wantCode: exitFailure,
		},
		{
			name: "skipped after cancellation",
			results: []provisioner.Result{
				{Index: 1, Instance: "core-01", Status: provisioner.StatusCreated, Attempts: 2},
				{Index: 2, Instance: "core-02", Status: provisioner.StatusSkipped, Err: context.Canceled},
			},
			wantCode: exitFailure,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			app := &cli.App{Writer: &out}

			err := finish(cli.NewContext(app, nil, nil), &provisioner.Report{Operation: "provision", Results: tt.results})

			if tt.wantCode == 0 {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Equal(t, tt.wantCode, exitCode(err))
			}
			assert.Contains(t, out.String(), "core-02")
			assert.Contains(t, out.String(), "provision:")
		})
	}
}
