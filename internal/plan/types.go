// Package plan expands a validated cluster configuration into one
// provisioning record per instance.
package plan

import "github.com/terabiome/clusterup/internal/cluster"

// PortSearchWindow bounds the linear probe for a free host port.
const PortSearchWindow = 64

type Image struct {
	Channel cluster.Channel `json:"channel" yaml:"channel"`
	Version string          `json:"version" yaml:"version"`
}

type Mount struct {
	HostPath  string `json:"host" yaml:"host"`
	GuestPath string `json:"guest" yaml:"guest"`
	// Tag identifies the share inside the guest (virtiofs/9p mount tag).
	Tag string `json:"tag" yaml:"tag"`
}

type PortMapping struct {
	Guest         int `json:"guest" yaml:"guest"`
	RequestedHost int `json:"requested_host" yaml:"requested_host"`
	Host          int `json:"host" yaml:"host"`
}

// InstancePlan describes one VM. Plans carry no backend state.
type InstancePlan struct {
	Index         int           `json:"index" yaml:"index"`
	Name          string        `json:"name" yaml:"name"`
	Hostname      string        `json:"hostname" yaml:"hostname"`
	MemoryMB      int           `json:"memory_mb" yaml:"memory_mb"`
	CPUs          int           `json:"cpus" yaml:"cpus"`
	Image         Image         `json:"image" yaml:"image"`
	Mounts        []Mount       `json:"mounts" yaml:"mounts"`
	Ports         []PortMapping `json:"ports" yaml:"ports"`
	SerialLogPath string        `json:"serial_log_path,omitempty" yaml:"serial_log_path,omitempty"`
	GUI           bool          `json:"gui" yaml:"gui"`
}
