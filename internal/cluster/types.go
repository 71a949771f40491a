// Package cluster loads and validates the declarative cluster document.
package cluster

// Channel is an OS image release track.
type Channel string

const (
	ChannelStable Channel = "stable"
	ChannelBeta   Channel = "beta"
	ChannelAlpha  Channel = "alpha"
)

func (c Channel) Valid() bool {
	switch c {
	case ChannelStable, ChannelBeta, ChannelAlpha:
		return true
	}
	return false
}

// VersionCurrent selects the newest image of a channel.
const VersionCurrent = "current"

// SharedFolder maps a host directory into every instance.
type SharedFolder struct {
	HostPath  string `json:"host" yaml:"host"`
	GuestPath string `json:"guest" yaml:"guest"`
}

// ForwardedPort asks for guest port Guest to be reachable on host port Host.
// Host is a request; the plan may move it to avoid collisions.
type ForwardedPort struct {
	Guest int `json:"guest" yaml:"guest"`
	Host  int `json:"host" yaml:"host"`
}

// ClusterConfig is the validated cluster document. It is treated as an
// immutable value once Load returns.
type ClusterConfig struct {
	InstanceCount int
	NamePrefix    string
	ImageChannel  Channel
	ImageVersion  string
	MemoryMB      int
	CPUs          int

	// SharedFolders already include the $HOME share when ShareHome is set.
	SharedFolders []SharedFolder
	// ForwardedPorts are ordered by guest port and already include the
	// docker TCP forward when ExposeDockerTCP is set.
	ForwardedPorts []ForwardedPort

	ExposeDockerTCP int
	ShareHome       bool
	SerialLogging   bool
	GUI             bool
	Parallelism     int

	// BaseDir is the directory relative paths were resolved against.
	BaseDir string
}

const (
	DefaultInstanceCount = 1
	DefaultNamePrefix    = "core"
	DefaultChannel       = ChannelStable
	DefaultMemoryMB      = 1024
	DefaultCPUs          = 1
	DefaultGuestShare    = "/home/core/fleet"

	MaxInstanceCount = 99
	MinMemoryMB      = 128
	MaxMemoryMB      = 1 << 20
	MaxCPUs          = 256
	MaxParallelism   = 64
)
