// Package config holds the control plane configuration, assembled from
// defaults, an optional YAML file and environment overrides.
package config

import (
	"fmt"
	"time"
)

// Config is the full control plane configuration.
type Config struct {
	Cluster       ClusterConfig       `yaml:"cluster" json:"cluster"`
	Broadcast     BroadcastConfig     `yaml:"broadcast" json:"broadcast"`
	Servers       ServersConfig       `yaml:"servers" json:"servers"`
	ServiceMap    ServiceMapConfig    `yaml:"serviceMap" json:"serviceMap"`
	Observability ObservabilityConfig `yaml:"observability" json:"observability"`
	Export        ExportConfig        `yaml:"export" json:"export"`
}

// ClusterConfig scopes all API access. The control plane manages exactly one
// namespace.
type ClusterConfig struct {
	Namespace string `yaml:"namespace" json:"namespace"`

	// Kubeconfig is only used outside the cluster. Empty means in-cluster
	// config with a fallback to the default kubeconfig location.
	Kubeconfig string `yaml:"kubeconfig" json:"kubeconfig"`
}

// BroadcastConfig tunes the status loop.
type BroadcastConfig struct {
	// Interval between status cycles. Consumers tolerate staleness up to
	// this bound.
	Interval time.Duration `yaml:"interval" json:"interval"`

	// InitialDelay before the first cycle, gives the pod network a moment
	// after startup.
	InitialDelay time.Duration `yaml:"initialDelay" json:"initialDelay"`

	// ProbeTimeout bounds each TCP health probe.
	ProbeTimeout time.Duration `yaml:"probeTimeout" json:"probeTimeout"`

	// UsageMetrics enables per pod CPU and memory enrichment from the
	// metrics API when a metrics server is installed.
	UsageMetrics bool `yaml:"usageMetrics" json:"usageMetrics"`
}

// ServersConfig describes how dynamic servers are built.
type ServersConfig struct {
	// StorageClaim is the shared PVC every dynamic server mounts.
	StorageClaim string `yaml:"storageClaim" json:"storageClaim"`

	Images ImagesConfig `yaml:"images" json:"images"`
}

// ImagesConfig pins the server images per protocol.
type ImagesConfig struct {
	FTP  string `yaml:"ftp" json:"ftp"`
	SFTP string `yaml:"sftp" json:"sftp"`
	SMB  string `yaml:"smb" json:"smb"`
}

// ServiceMapConfig names the discovery ConfigMap other workloads read.
type ServiceMapConfig struct {
	ConfigMapName string `yaml:"configMapName" json:"configMapName"`
}

// ObservabilityConfig covers the metrics listener and logging.
type ObservabilityConfig struct {
	// ListenAddress serves /metrics and /healthz.
	ListenAddress string `yaml:"listenAddress" json:"listenAddress"`

	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

// LoggingConfig controls the zap logger.
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

// ExportConfig annotates export documents.
type ExportConfig struct {
	Environment   string `yaml:"environment" json:"environment"`
	ReleasePrefix string `yaml:"releasePrefix" json:"releasePrefix"`
}

// DefaultConfig returns the configuration used when nothing is overridden.
func DefaultConfig() *Config {
	return &Config{
		Cluster: ClusterConfig{
			Namespace: "filestand",
		},
		Broadcast: BroadcastConfig{
			Interval:     5 * time.Second,
			InitialDelay: 2 * time.Second,
			ProbeTimeout: 5 * time.Second,
			UsageMetrics: true,
		},
		Servers: ServersConfig{
			StorageClaim: "filestand-data",
			Images: ImagesConfig{
				FTP:  "fauria/vsftpd:latest",
				SFTP: "atmoz/sftp:alpine",
				SMB:  "dperson/samba:latest",
			},
		},
		ServiceMap: ServiceMapConfig{
			ConfigMapName: "filestand-discovery",
		},
		Observability: ObservabilityConfig{
			ListenAddress: ":8080",
			Logging: LoggingConfig{
				Level:  "info",
				Format: "json",
			},
		},
		Export: ExportConfig{
			Environment:   "dev",
			ReleasePrefix: "filestand",
		},
	}
}

// Validate rejects configurations the control plane cannot run with.
func (c *Config) Validate() error {
	if c.Cluster.Namespace == "" {
		return fmt.Errorf("cluster.namespace cannot be empty")
	}
	if c.Broadcast.Interval <= 0 {
		return fmt.Errorf("broadcast.interval must be positive")
	}
	if c.Broadcast.ProbeTimeout <= 0 {
		return fmt.Errorf("broadcast.probeTimeout must be positive")
	}
	if c.Broadcast.InitialDelay < 0 {
		return fmt.Errorf("broadcast.initialDelay cannot be negative")
	}
	if c.Servers.StorageClaim == "" {
		return fmt.Errorf("servers.storageClaim cannot be empty")
	}
	if c.Servers.Images.FTP == "" || c.Servers.Images.SFTP == "" || c.Servers.Images.SMB == "" {
		return fmt.Errorf("servers.images must name an image per protocol")
	}
	if c.ServiceMap.ConfigMapName == "" {
		return fmt.Errorf("serviceMap.configMapName cannot be empty")
	}
	return nil
}
