package constants

const (
	TemplateDomain            = "domain"
	TemplateCloudInitUserData = "cloudinit-user-data"
	TemplateCloudInitMetaData = "cloudinit-meta-data"
)

const (
	// DockerTCPGuestPort is the guest side of the expose_docker_tcp forward.
	DockerTCPGuestPort = 2375
	// SeedVolumeID is the volume label cloud-init's NoCloud datasource looks for.
	SeedVolumeID = "cidata"
)
