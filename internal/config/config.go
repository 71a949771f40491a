package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
	"github.com/spf13/viper"
)

const EnvPrefix = "clusterup"

// Config holds process settings. Cluster shape lives in the cluster
// document, not here.
type Config struct {
	LogLevel         string
	LogFormat        string
	TelemetryEnabled bool

	ClusterConfigPath string

	LibvirtURI string
	StorageDir string
	ImageDir   string
	ImageName  string

	DomainTemplate   string
	UserDataTemplate string
	MetaDataTemplate string

	SSHHost           string
	SSHUser           string
	SSHKey            string
	SSHPort           int
	SSHKnownHosts     string
	SSHInsecureNoHost bool

	RetryDelay time.Duration
}

// Load reads settings from CLUSTERUP_* environment variables.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()

	cfg := &Config{
		LogLevel:          v.GetString("log_level"),
		LogFormat:         v.GetString("log_format"),
		TelemetryEnabled:  v.GetBool("telemetry_enabled"),
		ClusterConfigPath: v.GetString("cluster_config"),
		LibvirtURI:        v.GetString("libvirt_uri"),
		StorageDir:        v.GetString("storage_dir"),
		ImageDir:          v.GetString("image_dir"),
		ImageName:         v.GetString("image_name"),
		DomainTemplate:    v.GetString("domain_template"),
		UserDataTemplate:  v.GetString("user_data_template"),
		MetaDataTemplate:  v.GetString("meta_data_template"),
		SSHHost:           v.GetString("ssh_host"),
		SSHUser:           v.GetString("ssh_user"),
		SSHKey:            v.GetString("ssh_key"),
		SSHPort:           v.GetInt("ssh_port"),
		SSHKnownHosts:     v.GetString("ssh_known_hosts"),
		SSHInsecureNoHost: v.GetBool("ssh_insecure_ignore_host_key"),
		RetryDelay:        v.GetDuration("retry_delay"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	dataDir := filepath.Join(xdg.DataHome, "clusterup")

	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("telemetry_enabled", false)
	v.SetDefault("cluster_config", "cluster.yaml")
	v.SetDefault("libvirt_uri", "qemu:///system")
	v.SetDefault("storage_dir", filepath.Join(dataDir, "instances"))
	v.SetDefault("image_dir", filepath.Join(dataDir, "images"))
	v.SetDefault("image_name", "flatcar_production_qemu_image.img")
	v.SetDefault("domain_template", "")
	v.SetDefault("user_data_template", "")
	v.SetDefault("meta_data_template", "")
	v.SetDefault("ssh_host", "")
	v.SetDefault("ssh_user", "")
	v.SetDefault("ssh_key", "")
	v.SetDefault("ssh_port", 22)
	v.SetDefault("ssh_known_hosts", "")
	v.SetDefault("ssh_insecure_ignore_host_key", false)
	v.SetDefault("retry_delay", 2*time.Second)
}

// RemoteHypervisor reports whether host commands run over SSH.
func (c *Config) RemoteHypervisor() bool {
	return c.SSHHost != ""
}

func (c *Config) Validate() error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s (valid: debug, info, warn, error)", c.LogLevel)
	}

	validLogFormats := map[string]bool{"text": true, "json": true}
	if !validLogFormats[c.LogFormat] {
		return fmt.Errorf("invalid log format: %s (valid: text, json)", c.LogFormat)
	}

	if c.LibvirtURI == "" {
		return fmt.Errorf("libvirt uri must not be empty")
	}

	if c.StorageDir == "" || c.ImageDir == "" || c.ImageName == "" {
		return fmt.Errorf("storage dir, image dir and image name must be set")
	}

	for name, path := range map[string]string{
		"domain template":               c.DomainTemplate,
		"cloud-init user-data template": c.UserDataTemplate,
		"cloud-init meta-data template": c.MetaDataTemplate,
	} {
		if path == "" {
			continue
		}
		if err := validateFileExists(path); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}

	if c.RemoteHypervisor() {
		if c.SSHUser == "" || c.SSHKey == "" {
			return fmt.Errorf("ssh user and ssh key are required when ssh host %s is set", c.SSHHost)
		}
		if c.SSHPort < 1 || c.SSHPort > 65535 {
			return fmt.Errorf("invalid ssh port: %d", c.SSHPort)
		}
	}

	if c.RetryDelay < 0 {
		return fmt.Errorf("retry delay must not be negative: %s", c.RetryDelay)
	}

	return nil
}

func validateFileExists(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return fmt.Errorf("file does not exist: %s", path)
	} else if err != nil {
		return fmt.Errorf("cannot access file: %w", err)
	}
	return nil
}
