package executor

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildCommandString(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		command string
		args    []string
		want    string
	}{
		{name: "no args", command: "lscpu", want: "lscpu"},
		{name: "safe args", command: "qemu-img", args: []string{"create", "-f", "qcow2", "/var/lib/core-01.qcow2", "20G"}, want: "qemu-img create -f qcow2 /var/lib/core-01.qcow2 20G"},
		{name: "space", command: "rm", args: []string{"-f", "/tmp/my disk.qcow2"}, want: "rm -f '/tmp/my disk.qcow2'"},
		{name: "single quote", command: "echo", args: []string{"it's"}, want: `echo 'it'\''s'`},
		{name: "empty arg", command: "echo", args: []string{""}, want: "echo ''"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, buildCommandString(tt.command, tt.args))
		})
	}
}

func TestFirstLine(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "qemu-img version 8.2.0", FirstLine("\n  qemu-img version 8.2.0\nCopyright\n"))
	assert.Empty(t, FirstLine("\n\n"))
}
