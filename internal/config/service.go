package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Service is the process bootstrap configuration: listeners, storage roots,
// and backend wiring. Workflow behavior lives in the defaults tree, not here.
type Service struct {
	Server struct {
		Port         int           `mapstructure:"port"`
		ReadTimeout  time.Duration `mapstructure:"read_timeout"`
		WriteTimeout time.Duration `mapstructure:"write_timeout"`
	} `mapstructure:"server"`

	Defaults struct {
		Path string `mapstructure:"path"`
	} `mapstructure:"defaults"`

	Storage struct {
		WorkflowRoot string `mapstructure:"workflow_root"`
		LineageRoot  string `mapstructure:"lineage_root"`
		BackupsRoot  string `mapstructure:"backups_root"`
		Retention    struct {
			MaxAge time.Duration `mapstructure:"max_age"`
		} `mapstructure:"retention"`
	} `mapstructure:"storage"`

	Lineage struct {
		Remote struct {
			Enabled bool   `mapstructure:"enabled"`
			URL     string `mapstructure:"url"`
		} `mapstructure:"remote"`
	} `mapstructure:"lineage"`

	Index struct {
		Enabled bool   `mapstructure:"enabled"`
		Driver  string `mapstructure:"driver"`
		DSN     string `mapstructure:"dsn"`
	} `mapstructure:"index"`

	Redis struct {
		Enabled bool   `mapstructure:"enabled"`
		Addr    string `mapstructure:"addr"`
	} `mapstructure:"redis"`

	Tracing struct {
		Enabled      bool   `mapstructure:"enabled"`
		OTLPEndpoint string `mapstructure:"otlp_endpoint"`
	} `mapstructure:"tracing"`
}

// LoadService loads the service config from CONFIG_PATH or the given
// fallback, applying defaults for anything unset.
func LoadService(fallback string) (*Service, error) {
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = fallback
	}

	v := viper.New()
	v.SetConfigFile(cfgPath)
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 60*time.Second)
	v.SetDefault("defaults.path", "config/system_config.yaml")
	v.SetDefault("storage.workflow_root", "workspaces/workflows")
	v.SetDefault("storage.lineage_root", "workspaces/lineage")
	v.SetDefault("storage.backups_root", "workspaces/backups")
	v.SetDefault("storage.retention.max_age", 30*24*time.Hour)
	v.SetDefault("index.driver", "sqlite3")
	v.SetDefault("index.dsn", "workspaces/orchestrator.db")

	if err := v.ReadInConfig(); err != nil {
		if _, statErr := os.Stat(cfgPath); statErr == nil {
			return nil, fmt.Errorf("read service config: %w", err)
		}
		// Missing file is fine; defaults carry the service.
	}
	var s Service
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("unmarshal service config: %w", err)
	}
	return &s, nil
}
