package libvirt

import (
	"github.com/google/uuid"
	"github.com/terabiome/clusterup/internal/plan"
)

type DomainTemplateVars struct {
	Name          string
	UUID          uuid.UUID
	MemoryKiB     int64
	VCPU          int
	DiskPath      string
	SeedISOPath   string
	Mounts        []plan.Mount
	Ports         []plan.PortMapping
	SerialLogPath string
	GUI           bool
}

type UserDataTemplateVars struct {
	Hostname string
	Mounts   []plan.Mount
}

type MetaDataTemplateVars struct {
	InstanceID string
	Hostname   string
}
