package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Loader assembles the configuration in priority order: defaults, then the
// YAML file if one is given, then environment variables.
type Loader struct {
	ConfigFile string
	EnvPrefix  string
}

func NewLoader() *Loader {
	return &Loader{EnvPrefix: "FILESTAND"}
}

func (l *Loader) WithConfigFile(path string) *Loader {
	l.ConfigFile = path
	return l
}

// Load builds and validates the final configuration.
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.ConfigFile != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	l.loadFromEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.ConfigFile)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", l.ConfigFile, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse YAML config file: %w", err)
	}
	return nil
}

func (l *Loader) loadFromEnv(cfg *Config) {
	if val := l.getEnv("NAMESPACE"); val != "" {
		cfg.Cluster.Namespace = val
	} else if val := os.Getenv("POD_NAMESPACE"); val != "" {
		// Downward API injection when running in the cluster.
		cfg.Cluster.Namespace = val
	}
	if val := l.getEnv("KUBECONFIG"); val != "" {
		cfg.Cluster.Kubeconfig = val
	}

	if val := l.getEnv("BROADCAST_INTERVAL"); val != "" {
		cfg.Broadcast.Interval = l.parseDuration(val, cfg.Broadcast.Interval)
	}
	if val := l.getEnv("BROADCAST_INITIAL_DELAY"); val != "" {
		cfg.Broadcast.InitialDelay = l.parseDuration(val, cfg.Broadcast.InitialDelay)
	}
	if val := l.getEnv("PROBE_TIMEOUT"); val != "" {
		cfg.Broadcast.ProbeTimeout = l.parseDuration(val, cfg.Broadcast.ProbeTimeout)
	}
	if val := l.getEnv("USAGE_METRICS"); val != "" {
		cfg.Broadcast.UsageMetrics = l.parseBool(val, cfg.Broadcast.UsageMetrics)
	}

	if val := l.getEnv("STORAGE_CLAIM"); val != "" {
		cfg.Servers.StorageClaim = val
	}
	if val := l.getEnv("FTP_IMAGE"); val != "" {
		cfg.Servers.Images.FTP = val
	}
	if val := l.getEnv("SFTP_IMAGE"); val != "" {
		cfg.Servers.Images.SFTP = val
	}
	if val := l.getEnv("SMB_IMAGE"); val != "" {
		cfg.Servers.Images.SMB = val
	}

	if val := l.getEnv("CONFIGMAP_NAME"); val != "" {
		cfg.ServiceMap.ConfigMapName = val
	}

	if val := l.getEnv("LISTEN_ADDRESS"); val != "" {
		cfg.Observability.ListenAddress = val
	}
	if val := l.getEnv("LOGGING_LEVEL"); val != "" {
		cfg.Observability.Logging.Level = val
	}
	if val := l.getEnv("LOGGING_FORMAT"); val != "" {
		cfg.Observability.Logging.Format = val
	}

	if val := l.getEnv("ENVIRONMENT"); val != "" {
		cfg.Export.Environment = val
	}
	if val := l.getEnv("RELEASE_PREFIX"); val != "" {
		cfg.Export.ReleasePrefix = val
	}
}

func (l *Loader) getEnv(key string) string {
	return os.Getenv(l.EnvPrefix + "_" + key)
}

func (l *Loader) parseDuration(val string, fallback time.Duration) time.Duration {
	if d, err := time.ParseDuration(val); err == nil {
		return d
	}
	return fallback
}

func (l *Loader) parseBool(val string, fallback bool) bool {
	switch strings.ToLower(val) {
	case "true", "1", "yes", "on":
		return true
	case "false", "0", "no", "off":
		return false
	default:
		return fallback
	}
}
