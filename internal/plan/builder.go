package plan

import (
	"fmt"
	"path/filepath"

	"github.com/terabiome/clusterup/internal/cluster"
)

const maxPort = 65535

// Build expands cfg into one plan per instance, in index order. It does no
// I/O, so the same configuration always yields the same plan.
func Build(cfg cluster.ClusterConfig) ([]InstancePlan, error) {
	ports := newPortTable()
	plans := make([]InstancePlan, 0, cfg.InstanceCount)

	for i := 1; i <= cfg.InstanceCount; i++ {
		name := InstanceName(cfg.NamePrefix, i)

		p := InstancePlan{
			Index:    i,
			Name:     name,
			Hostname: name,
			MemoryMB: cfg.MemoryMB,
			CPUs:     cfg.CPUs,
			Image:    Image{Channel: cfg.ImageChannel, Version: cfg.ImageVersion},
			Mounts:   mounts(cfg.SharedFolders),
			GUI:      cfg.GUI,
		}

		if cfg.SerialLogging {
			p.SerialLogPath = filepath.Join(cfg.BaseDir, "log", name+"-serial.txt")
		}

		for _, fwd := range cfg.ForwardedPorts {
			host, ok := ports.claim(fwd.Host + i - 1)
			if !ok {
				return nil, &PlanError{
					Kind:      KindPortExhausted,
					Instance:  name,
					GuestPort: fwd.Guest,
					Requested: fwd.Host + i - 1,
				}
			}
			p.Ports = append(p.Ports, PortMapping{Guest: fwd.Guest, RequestedHost: fwd.Host, Host: host})
		}

		plans = append(plans, p)
	}

	return plans, nil
}

// InstanceName is prefix plus the two-digit, 1-based instance index.
func InstanceName(prefix string, index int) string {
	return fmt.Sprintf("%s-%02d", prefix, index)
}

func mounts(folders []cluster.SharedFolder) []Mount {
	if len(folders) == 0 {
		return nil
	}
	out := make([]Mount, len(folders))
	for i, f := range folders {
		out[i] = Mount{HostPath: f.HostPath, GuestPath: f.GuestPath, Tag: fmt.Sprintf("share%d", i)}
	}
	return out
}

// portTable records host ports already handed out within one plan.
type portTable struct {
	used map[int]bool
}

func newPortTable() *portTable {
	return &portTable{used: make(map[int]bool)}
}

// claim probes upward from start for an unused port and reserves it.
func (t *portTable) claim(start int) (int, bool) {
	for port := start; port < start+PortSearchWindow && port <= maxPort; port++ {
		if !t.used[port] {
			t.used[port] = true
			return port, true
		}
	}
	return 0, false
}
