package cluster

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/docker/go-units"
	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"

	"github.com/terabiome/clusterup/pkg/constants"
)

var namePrefixPattern = regexp.MustCompile(`^[a-z][a-z0-9-]{0,47}$`)

// Every accepted key, with the config.rb spelling accepted as an alias.
var knownKeys = map[string]string{
	"instance_count":        "instance_count",
	"num_instances":         "instance_count",
	"instance_name_prefix":  "instance_name_prefix",
	"image_channel":         "image_channel",
	"update_channel":        "image_channel",
	"image_version":         "image_version",
	"vm_memory_mb":          "vm_memory_mb",
	"vm_memory":             "vm_memory_mb",
	"vm_cpus":               "vm_cpus",
	"shared_folders":        "shared_folders",
	"forwarded_ports":       "forwarded_ports",
	"expose_docker_tcp":     "expose_docker_tcp",
	"share_home":            "share_home",
	"enable_serial_logging": "enable_serial_logging",
	"vm_gui":                "vm_gui",
	"parallelism":           "parallelism",
}

// Load reads the cluster document at path. An empty path yields the
// all-defaults configuration rooted at the working directory.
func Load(path string) (ClusterConfig, error) {
	if path == "" {
		wd, err := os.Getwd()
		if err != nil {
			return ClusterConfig{}, fmt.Errorf("failed to resolve working directory: %w", err)
		}
		return Parse(strings.NewReader(""), wd)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return ClusterConfig{}, fmt.Errorf("failed to resolve %s: %w", path, err)
	}

	f, err := os.Open(absPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ClusterConfig{}, newError(KindPathNotFound, "document", "%s does not exist", absPath)
		}
		return ClusterConfig{}, fmt.Errorf("failed to open cluster document: %w", err)
	}
	defer f.Close()

	return Parse(f, filepath.Dir(absPath))
}

// Parse decodes a YAML (or JSON) cluster document. Relative host paths
// resolve against baseDir.
func Parse(r io.Reader, baseDir string) (ClusterConfig, error) {
	fields, err := readFields(r)
	if err != nil {
		return ClusterConfig{}, err
	}

	l := loader{fields: fields, baseDir: baseDir}
	return l.load()
}

func readFields(r io.Reader) (map[string]*yaml.Node, error) {
	fields := make(map[string]*yaml.Node)

	var root yaml.Node
	if err := yaml.NewDecoder(r).Decode(&root); err != nil {
		if errors.Is(err, io.EOF) {
			return fields, nil
		}
		return nil, &ConfigError{Kind: KindMalformed, Key: "document", Err: err}
	}

	doc := &root
	if doc.Kind == yaml.DocumentNode && len(doc.Content) > 0 {
		doc = doc.Content[0]
	}
	if isNull(doc) {
		return fields, nil
	}
	if doc.Kind != yaml.MappingNode {
		return nil, newError(KindMalformed, "document", "top level must be a mapping, got %s", kindName(doc))
	}

	for i := 0; i+1 < len(doc.Content); i += 2 {
		name := strings.ToLower(doc.Content[i].Value)
		key, ok := knownKeys[name]
		if !ok {
			return nil, newError(KindUnknownField, name, "unknown key at line %d", doc.Content[i].Line)
		}
		if _, seen := fields[key]; seen {
			return nil, newError(KindDuplicate, name, "%s given more than once", key)
		}
		fields[key] = doc.Content[i+1]
	}

	return fields, nil
}

type loader struct {
	fields  map[string]*yaml.Node
	baseDir string
}

func (l *loader) load() (ClusterConfig, error) {
	cfg := ClusterConfig{BaseDir: l.baseDir}
	var err error

	if cfg.InstanceCount, err = l.intField("instance_count", DefaultInstanceCount, 1, MaxInstanceCount); err != nil {
		return ClusterConfig{}, err
	}
	if cfg.NamePrefix, err = l.namePrefix(); err != nil {
		return ClusterConfig{}, err
	}
	if cfg.ImageChannel, err = l.channel(); err != nil {
		return ClusterConfig{}, err
	}
	if cfg.ImageVersion, err = l.imageVersion(); err != nil {
		return ClusterConfig{}, err
	}
	if cfg.MemoryMB, err = l.memory(); err != nil {
		return ClusterConfig{}, err
	}
	if cfg.CPUs, err = l.intField("vm_cpus", DefaultCPUs, 1, MaxCPUs); err != nil {
		return ClusterConfig{}, err
	}
	if cfg.ExposeDockerTCP, err = l.intField("expose_docker_tcp", 0, 0, 65535); err != nil {
		return ClusterConfig{}, err
	}
	if cfg.ShareHome, err = l.boolField("share_home"); err != nil {
		return ClusterConfig{}, err
	}
	if cfg.SerialLogging, err = l.boolField("enable_serial_logging"); err != nil {
		return ClusterConfig{}, err
	}
	if cfg.GUI, err = l.boolField("vm_gui"); err != nil {
		return ClusterConfig{}, err
	}
	if cfg.Parallelism, err = l.intField("parallelism", 0, 0, MaxParallelism); err != nil {
		return ClusterConfig{}, err
	}
	if cfg.SharedFolders, err = l.sharedFolders(cfg.ShareHome); err != nil {
		return ClusterConfig{}, err
	}
	if cfg.ForwardedPorts, err = l.forwardedPorts(cfg.ExposeDockerTCP); err != nil {
		return ClusterConfig{}, err
	}

	return cfg, nil
}

// lookup returns the node for key, or nil when it is absent or null.
func (l *loader) lookup(key string) *yaml.Node {
	node := l.fields[key]
	if node != nil && node.Kind == yaml.AliasNode {
		node = node.Alias
	}
	if isNull(node) {
		return nil
	}
	return node
}

func (l *loader) intField(key string, def, min, max int) (int, error) {
	node := l.lookup(key)
	if node == nil {
		return def, nil
	}
	value, err := scalarInt(key, node)
	if err != nil {
		return 0, err
	}
	if value < min || value > max {
		return 0, newError(KindOutOfRange, key, "%d not in [%d, %d]", value, min, max)
	}
	return value, nil
}

func (l *loader) boolField(key string) (bool, error) {
	node := l.lookup(key)
	if node == nil {
		return false, nil
	}
	if node.Kind != yaml.ScalarNode {
		return false, newError(KindInvalidType, key, "expected a boolean, got %s", kindName(node))
	}
	value, err := cast.ToBoolE(node.Value)
	if err != nil {
		return false, &ConfigError{Kind: KindInvalidType, Key: key, Err: err}
	}
	return value, nil
}

func (l *loader) stringField(key, def string) (string, error) {
	node := l.lookup(key)
	if node == nil {
		return def, nil
	}
	if node.Kind != yaml.ScalarNode {
		return "", newError(KindInvalidType, key, "expected a string, got %s", kindName(node))
	}
	return strings.TrimSpace(node.Value), nil
}

func (l *loader) namePrefix() (string, error) {
	prefix, err := l.stringField("instance_name_prefix", DefaultNamePrefix)
	if err != nil {
		return "", err
	}
	if !namePrefixPattern.MatchString(prefix) {
		return "", newError(KindOutOfRange, "instance_name_prefix",
			"%q must start with a letter and contain only lowercase letters, digits and dashes", prefix)
	}
	return prefix, nil
}

func (l *loader) channel() (Channel, error) {
	value, err := l.stringField("image_channel", string(DefaultChannel))
	if err != nil {
		return "", err
	}
	channel := Channel(strings.ToLower(value))
	if !channel.Valid() {
		return "", newError(KindOutOfRange, "image_channel", "%q is not one of stable, beta, alpha", value)
	}
	return channel, nil
}

func (l *loader) imageVersion() (string, error) {
	value, err := l.stringField("image_version", VersionCurrent)
	if err != nil {
		return "", err
	}
	if value == VersionCurrent {
		return value, nil
	}
	version, err := semver.NewVersion(value)
	if err != nil {
		return "", &ConfigError{Kind: KindOutOfRange, Key: "image_version",
			Err: fmt.Errorf("%q is neither %q nor a version: %w", value, VersionCurrent, err)}
	}
	return version.String(), nil
}

// memory accepts a plain number of MiB or a size string such as "2GiB".
func (l *loader) memory() (int, error) {
	const key = "vm_memory_mb"

	node := l.lookup(key)
	if node == nil {
		return DefaultMemoryMB, nil
	}
	if node.Kind != yaml.ScalarNode {
		return 0, newError(KindInvalidType, key, "expected a number or size, got %s", kindName(node))
	}

	var mb int64
	if n, err := scalarInt(key, node); err == nil {
		mb = int64(n)
	} else if node.Tag == "!!str" {
		bytes, sizeErr := units.RAMInBytes(node.Value)
		if sizeErr != nil {
			return 0, &ConfigError{Kind: KindInvalidType, Key: key, Err: sizeErr}
		}
		mb = bytes / units.MiB
	} else {
		return 0, err
	}

	if mb < MinMemoryMB || mb > MaxMemoryMB {
		return 0, newError(KindOutOfRange, key, "%d MiB not in [%d, %d]", mb, MinMemoryMB, MaxMemoryMB)
	}
	return int(mb), nil
}

func (l *loader) sharedFolders(shareHome bool) ([]SharedFolder, error) {
	const key = "shared_folders"

	var folders []SharedFolder

	node, present := l.fields[key]
	if present && node.Kind == yaml.AliasNode {
		node = node.Alias
	}
	switch {
	case !present:
		folders = []SharedFolder{{HostPath: "..", GuestPath: DefaultGuestShare}}
	case isNull(node):
	case node.Kind == yaml.MappingNode:
		for i := 0; i+1 < len(node.Content); i += 2 {
			entryKey := fmt.Sprintf("%s[%s]", key, node.Content[i].Value)
			if node.Content[i+1].Kind != yaml.ScalarNode || isNull(node.Content[i+1]) {
				return nil, newError(KindInvalidType, entryKey, "guest path must be a string")
			}
			folders = append(folders, SharedFolder{
				HostPath:  node.Content[i].Value,
				GuestPath: node.Content[i+1].Value,
			})
		}
	case node.Kind == yaml.SequenceNode:
		for i, item := range node.Content {
			folder, err := sharedFolderEntry(fmt.Sprintf("%s[%d]", key, i), item)
			if err != nil {
				return nil, err
			}
			folders = append(folders, folder)
		}
	default:
		return nil, newError(KindInvalidType, key, "expected a mapping or a list, got %s", kindName(node))
	}

	if shareHome {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, &ConfigError{Kind: KindPathNotFound, Key: "share_home", Err: err}
		}
		folders = append(folders, SharedFolder{HostPath: home, GuestPath: home})
	}

	seen := make(map[string]string, len(folders))
	for i, folder := range folders {
		entryKey := fmt.Sprintf("%s[%d]", key, i)
		if shareHome && i == len(folders)-1 {
			entryKey = "share_home"
		}

		hostPath, err := l.resolveHostPath(folder.HostPath)
		if err != nil {
			return nil, &ConfigError{Kind: KindPathNotFound, Key: entryKey, Err: err}
		}
		if _, err := os.Stat(hostPath); err != nil {
			return nil, &ConfigError{Kind: KindPathNotFound, Key: entryKey, Err: err}
		}
		if prev, dup := seen[hostPath]; dup {
			return nil, newError(KindDuplicate, entryKey, "host path %s already shared by %s", hostPath, prev)
		}
		seen[hostPath] = entryKey

		if !strings.HasPrefix(folder.GuestPath, "/") {
			return nil, newError(KindOutOfRange, entryKey, "guest path %q must be absolute", folder.GuestPath)
		}

		folders[i] = SharedFolder{HostPath: hostPath, GuestPath: filepath.Clean(folder.GuestPath)}
	}

	return folders, nil
}

func sharedFolderEntry(key string, node *yaml.Node) (SharedFolder, error) {
	if node.Kind != yaml.MappingNode {
		return SharedFolder{}, newError(KindInvalidType, key, "expected a mapping with host and guest, got %s", kindName(node))
	}

	var folder SharedFolder
	for i := 0; i+1 < len(node.Content); i += 2 {
		value := node.Content[i+1]
		if value.Kind != yaml.ScalarNode || isNull(value) {
			return SharedFolder{}, newError(KindInvalidType, key+"."+node.Content[i].Value, "expected a string")
		}
		switch node.Content[i].Value {
		case "host":
			folder.HostPath = value.Value
		case "guest":
			folder.GuestPath = value.Value
		default:
			return SharedFolder{}, newError(KindUnknownField, key+"."+node.Content[i].Value, "expected host or guest")
		}
	}

	if folder.HostPath == "" {
		return SharedFolder{}, newError(KindMissingField, key+".host", "host path is required")
	}
	if folder.GuestPath == "" {
		return SharedFolder{}, newError(KindMissingField, key+".guest", "guest path is required")
	}
	return folder, nil
}

func (l *loader) resolveHostPath(path string) (string, error) {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(l.baseDir, path)
	}
	return filepath.Clean(path), nil
}

func (l *loader) forwardedPorts(dockerTCP int) ([]ForwardedPort, error) {
	const key = "forwarded_ports"

	var ports []ForwardedPort
	seen := make(map[int]bool)

	if node := l.lookup(key); node != nil {
		if node.Kind != yaml.MappingNode {
			return nil, newError(KindInvalidType, key, "expected a mapping of guest port to host port, got %s", kindName(node))
		}
		for i := 0; i+1 < len(node.Content); i += 2 {
			entryKey := fmt.Sprintf("%s[%s]", key, node.Content[i].Value)

			guest, err := scalarInt(entryKey, node.Content[i])
			if err != nil {
				return nil, err
			}
			if isNull(node.Content[i+1]) {
				return nil, newError(KindMissingField, entryKey, "host port is required")
			}
			host, err := scalarInt(entryKey, node.Content[i+1])
			if err != nil {
				return nil, err
			}
			if err := checkPort(entryKey, guest); err != nil {
				return nil, err
			}
			if err := checkPort(entryKey, host); err != nil {
				return nil, err
			}
			if seen[guest] {
				return nil, newError(KindDuplicate, entryKey, "guest port %d forwarded twice", guest)
			}
			seen[guest] = true
			ports = append(ports, ForwardedPort{Guest: guest, Host: host})
		}
	}

	if dockerTCP != 0 {
		if seen[constants.DockerTCPGuestPort] {
			return nil, newError(KindDuplicate, "expose_docker_tcp",
				"guest port %d is already listed in forwarded_ports", constants.DockerTCPGuestPort)
		}
		ports = append(ports, ForwardedPort{Guest: constants.DockerTCPGuestPort, Host: dockerTCP})
	}

	sort.Slice(ports, func(i, j int) bool { return ports[i].Guest < ports[j].Guest })
	return ports, nil
}

func checkPort(key string, port int) error {
	if port < 1 || port > 65535 {
		return newError(KindOutOfRange, key, "port %d not in [1, 65535]", port)
	}
	return nil
}

// scalarInt accepts YAML integers and numeric strings; everything else,
// booleans and floats included, is an InvalidType.
func scalarInt(key string, node *yaml.Node) (int, error) {
	if node.Kind != yaml.ScalarNode {
		return 0, newError(KindInvalidType, key, "expected an integer, got %s", kindName(node))
	}
	switch node.Tag {
	case "!!int", "!!str":
		value, err := cast.ToIntE(strings.TrimSpace(node.Value))
		if err != nil {
			return 0, &ConfigError{Kind: KindInvalidType, Key: key, Err: err}
		}
		return value, nil
	default:
		return 0, newError(KindInvalidType, key, "expected an integer, got %q", node.Value)
	}
}

func isNull(node *yaml.Node) bool {
	return node == nil || (node.Kind == yaml.ScalarNode && node.Tag == "!!null")
}

func kindName(node *yaml.Node) string {
	switch node.Kind {
	case yaml.MappingNode:
		return "a mapping"
	case yaml.SequenceNode:
		return "a list"
	case yaml.ScalarNode:
		return fmt.Sprintf("%q", node.Value)
	case yaml.AliasNode:
		return "an alias"
	default:
		return "an unsupported node"
	}
}
