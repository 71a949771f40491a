package main

import (
	"bytes"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/urfave/cli/v2"

	"github.com/terabiome/clusterup/internal/backend"
	"github.com/terabiome/clusterup/internal/cluster"
	"github.com/terabiome/clusterup/internal/plan"
	"github.com/terabiome/clusterup/internal/provisioner"
)

func TestExitCode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "config error", err: fmt.Errorf("load: %w", &cluster.ConfigError{Kind: cluster.KindOutOfRange, Key: "image_channel"}), want: exitConfigError},
		{name: "plan error", err: &plan.PlanError{Kind: plan.KindPortExhausted}, want: exitConfigError},
		{name: "incomplete run", err: cli.Exit("", 1), want: 1},
		{name: "other", err: errors.New("libvirt down"), want: exitFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, exitCode(tt.err))
		})
	}
}

func TestPrintReport(t *testing.T) {
	color.NoColor = true

	report := &provisioner.Report{
		Operation: "provision",
		Duration:  1500 * time.Millisecond,
		Results: []provisioner.Result{
			{Index: 1, Instance: "core-01", Status: provisioner.StatusCreated, Attempts: 2},
			{Index: 2, Instance: "core-02", Status: provisioner.StatusFailed, Attempts: 1,
				Err: backend.NewError(backend.KindPermanent, "create", "core-02", errors.New("disk full"))},
			{Index: 3, Instance: "core-03", Status: provisioner.StatusSkipped},
		},
	}

	var buf bytes.Buffer
	printReport(&buf, report)
	out := buf.String()

	assert.Contains(t, out, "INSTANCE")
	assert.Contains(t, out, "core-02")
	assert.Contains(t, out, "create core-02 (Permanent): disk full")
	assert.Contains(t, out, "provision: 1 succeeded, 1 failed, 1 skipped in 1.5s")
}
