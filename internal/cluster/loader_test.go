package cluster_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/terabiome/clusterup/internal/cluster"
)

// newProject lays out <root>/project/cluster.yaml with a sibling app dir,
// mirroring a cluster document that lives next to the code it shares.
func newProject(t *testing.T, doc string) (root, docPath string) {
	t.Helper()

	root = t.TempDir()
	project := filepath.Join(root, "project")
	require.NoError(t, os.MkdirAll(filepath.Join(project, "app"), 0o755))

	docPath = filepath.Join(project, "cluster.yaml")
	require.NoError(t, os.WriteFile(docPath, []byte(doc), 0o644))
	return root, docPath
}

func parse(t *testing.T, doc string) (cluster.ClusterConfig, error) {
	t.Helper()
	return cluster.Parse(strings.NewReader(doc), t.TempDir())
}

func TestLoad_Defaults(t *testing.T) {
	t.Parallel()

	root, docPath := newProject(t, "")

	cfg, err := cluster.Load(docPath)
	require.NoError(t, err)

	assert.Equal(t, 1, cfg.InstanceCount)
	assert.Equal(t, "core", cfg.NamePrefix)
	assert.Equal(t, cluster.ChannelStable, cfg.ImageChannel)
	assert.Equal(t, "current", cfg.ImageVersion)
	assert.Equal(t, 1024, cfg.MemoryMB)
	assert.Equal(t, 1, cfg.CPUs)
	assert.Equal(t, []cluster.SharedFolder{{HostPath: root, GuestPath: "/home/core/fleet"}}, cfg.SharedFolders)
	assert.Empty(t, cfg.ForwardedPorts)
	assert.False(t, cfg.SerialLogging)
	assert.Equal(t, filepath.Join(root, "project"), cfg.BaseDir)
}

func TestLoad_FullDocument(t *testing.T) {
	t.Parallel()

	root, docPath := newProject(t, `
num_instances: 3
instance_name_prefix: fleet
update_channel: Beta
image_version: "709.0.0"
vm_memory: 2GiB
vm_cpus: 2
enable_serial_logging: true
vm_gui: false
parallelism: 2
expose_docker_tcp: 2375
shared_folders:
  - host: app
    guest: /app
  - host: ../
    guest: /home/core/fleet
forwarded_ports:
  8080: 80
  "443": 8443
`)

	cfg, err := cluster.Load(docPath)
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.InstanceCount)
	assert.Equal(t, "fleet", cfg.NamePrefix)
	assert.Equal(t, cluster.ChannelBeta, cfg.ImageChannel)
	assert.Equal(t, "709.0.0", cfg.ImageVersion)
	assert.Equal(t, 2048, cfg.MemoryMB)
	assert.Equal(t, 2, cfg.CPUs)
	assert.True(t, cfg.SerialLogging)
	assert.Equal(t, 2, cfg.Parallelism)
	assert.Equal(t, []cluster.SharedFolder{
		{HostPath: filepath.Join(root, "project", "app"), GuestPath: "/app"},
		{HostPath: root, GuestPath: "/home/core/fleet"},
	}, cfg.SharedFolders)
	assert.Equal(t, []cluster.ForwardedPort{
		{Guest: 443, Host: 8443},
		{Guest: 2375, Host: 2375},
		{Guest: 8080, Host: 80},
	}, cfg.ForwardedPorts)
}

func TestLoad_MissingDocument(t *testing.T) {
	t.Parallel()

	_, err := cluster.Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.True(t, cluster.IsKind(err, cluster.KindPathNotFound))
}

func TestParse_MissingInstanceCountUsesDefault(t *testing.T) {
	t.Parallel()

	cfg, err := parse(t, "vm_cpus: 2\n")
	require.NoError(t, err)
	assert.Equal(t, 1, cfg.InstanceCount)
	assert.False(t, cluster.IsKind(err, cluster.KindMissingField))
}

func TestParse_NullMeansDefault(t *testing.T) {
	t.Parallel()

	cfg, err := parse(t, "instance_count:\nimage_channel: ~\n")
	require.NoError(t, err)
	assert.Equal(t, 1, cfg.InstanceCount)
	assert.Equal(t, cluster.ChannelStable, cfg.ImageChannel)
}

func TestParse_JSONDocument(t *testing.T) {
	t.Parallel()

	cfg, err := parse(t, `{"instance_count": 2, "forwarded_ports": {"2375": 2375}, "shared_folders": {}}`)
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.InstanceCount)
	assert.Equal(t, []cluster.ForwardedPort{{Guest: 2375, Host: 2375}}, cfg.ForwardedPorts)
	assert.Empty(t, cfg.SharedFolders)
}

func TestParse_SharedFolderMappingKeepsOrder(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	for _, dir := range []string{"zeta", "alpha", "Mixed"} {
		require.NoError(t, os.Mkdir(filepath.Join(base, dir), 0o755))
	}

	cfg, err := cluster.Parse(strings.NewReader("shared_folders:\n  zeta: /z\n  alpha: /a\n  Mixed: /m\n"), base)
	require.NoError(t, err)
	assert.Equal(t, []cluster.SharedFolder{
		{HostPath: filepath.Join(base, "zeta"), GuestPath: "/z"},
		{HostPath: filepath.Join(base, "alpha"), GuestPath: "/a"},
		{HostPath: filepath.Join(base, "Mixed"), GuestPath: "/m"},
	}, cfg.SharedFolders)
}

func TestParse_SharedFoldersAlias(t *testing.T) {
	t.Parallel()

	cfg, err := parse(t, "vm_gui: &none ~\nshared_folders: *none\n")
	require.NoError(t, err)
	assert.Empty(t, cfg.SharedFolders)
	assert.False(t, cfg.GUI)
}

func TestParse_DuplicateGuestPathsAllowed(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(base, "a"), 0o755))
	require.NoError(t, os.Mkdir(filepath.Join(base, "b"), 0o755))

	cfg, err := cluster.Parse(strings.NewReader("shared_folders:\n  a: /data\n  b: /data\n"), base)
	require.NoError(t, err)
	assert.Len(t, cfg.SharedFolders, 2)
}

func TestParse_ShareHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	cfg, err := cluster.Parse(strings.NewReader("share_home: true\nshared_folders: {}\n"), t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, []cluster.SharedFolder{{HostPath: home, GuestPath: home}}, cfg.SharedFolders)
}

func TestParse_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		doc  string
		kind cluster.ErrorKind
		key  string
	}{
		{name: "invalid channel", doc: "image_channel: nightly", kind: cluster.KindOutOfRange, key: "image_channel"},
		{name: "zero instances", doc: "instance_count: 0", kind: cluster.KindOutOfRange, key: "instance_count"},
		{name: "too many instances", doc: "instance_count: 100", kind: cluster.KindOutOfRange, key: "instance_count"},
		{name: "instance count string", doc: "instance_count: three", kind: cluster.KindInvalidType, key: "instance_count"},
		{name: "instance count bool", doc: "instance_count: true", kind: cluster.KindInvalidType, key: "instance_count"},
		{name: "instance count float", doc: "instance_count: 1.5", kind: cluster.KindInvalidType, key: "instance_count"},
		{name: "cpus list", doc: "vm_cpus: [1, 2]", kind: cluster.KindInvalidType, key: "vm_cpus"},
		{name: "memory too small", doc: "vm_memory_mb: 64", kind: cluster.KindOutOfRange, key: "vm_memory_mb"},
		{name: "memory garbage", doc: "vm_memory_mb: lots", kind: cluster.KindInvalidType, key: "vm_memory_mb"},
		{name: "bad version", doc: "image_version: latest-ish", kind: cluster.KindOutOfRange, key: "image_version"},
		{name: "bad prefix", doc: "instance_name_prefix: Core_", kind: cluster.KindOutOfRange, key: "instance_name_prefix"},
		{name: "bad bool", doc: "vm_gui: maybe", kind: cluster.KindInvalidType, key: "vm_gui"},
		{name: "missing guest", doc: "shared_folders:\n  - host: .", kind: cluster.KindMissingField, key: "shared_folders[0].guest"},
		{name: "missing host", doc: "shared_folders:\n  - guest: /x", kind: cluster.KindMissingField, key: "shared_folders[0].host"},
		{name: "host not found", doc: "shared_folders:\n  /definitely/not/here: /x", kind: cluster.KindPathNotFound, key: "shared_folders[0]"},
		{name: "duplicate host", doc: "shared_folders:\n  - {host: ., guest: /a}\n  - {host: ./, guest: /b}", kind: cluster.KindDuplicate, key: "shared_folders[1]"},
		{name: "relative guest", doc: "shared_folders:\n  .: data", kind: cluster.KindOutOfRange, key: "shared_folders[0]"},
		{name: "shared folders scalar", doc: "shared_folders: here", kind: cluster.KindInvalidType, key: "shared_folders"},
		{name: "port out of range", doc: "forwarded_ports:\n  80: 70000", kind: cluster.KindOutOfRange, key: "forwarded_ports[80]"},
		{name: "port missing host", doc: "forwarded_ports:\n  80:", kind: cluster.KindMissingField, key: "forwarded_ports[80]"},
		{name: "port not a number", doc: "forwarded_ports:\n  http: 8080", kind: cluster.KindInvalidType, key: "forwarded_ports[http]"},
		{name: "ports list", doc: "forwarded_ports: [80]", kind: cluster.KindInvalidType, key: "forwarded_ports"},
		{name: "docker port clash", doc: "expose_docker_tcp: 2375\nforwarded_ports:\n  2375: 3000", kind: cluster.KindDuplicate, key: "expose_docker_tcp"},
		{name: "unknown key", doc: "instance_cout: 3", kind: cluster.KindUnknownField, key: "instance_cout"},
		{name: "alias given twice", doc: "instance_count: 2\nnum_instances: 3", kind: cluster.KindDuplicate, key: "num_instances"},
		{name: "not a mapping", doc: "- 1\n- 2", kind: cluster.KindMalformed, key: "document"},
		{name: "syntax error", doc: "instance_count: [", kind: cluster.KindMalformed, key: "document"},
		{name: "parallelism too high", doc: "parallelism: 65", kind: cluster.KindOutOfRange, key: "parallelism"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := parse(t, tt.doc)
			require.Error(t, err)

			var cfgErr *cluster.ConfigError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tt.kind, cfgErr.Kind, err.Error())
			assert.Equal(t, tt.key, cfgErr.Key)
		})
	}
}

func TestChannel_Valid(t *testing.T) {
	t.Parallel()

	assert.True(t, cluster.ChannelAlpha.Valid())
	assert.False(t, cluster.Channel("nightly").Valid())
}
