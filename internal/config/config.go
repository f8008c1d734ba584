package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/stefanhoelzl/codehydra-sub004/internal/logger"
	"github.com/stefanhoelzl/codehydra-sub004/internal/workspace"
)

// FileConfig represents the top-level TOML structure of a codehydra
// daemon configuration file.
type FileConfig struct {
	Listen         string        `toml:"listen" mapstructure:"listen"`
	BasePath       string        `toml:"base_path" mapstructure:"base_path"`
	DataDir        string        `toml:"data_dir" mapstructure:"data_dir"`
	AgentBinary    string        `toml:"agent_binary" mapstructure:"agent_binary"`
	AgentEnv       []string      `toml:"agent_env" mapstructure:"agent_env"`
	HealthInterval time.Duration `toml:"health_interval" mapstructure:"health_interval"`
	HealthTimeout  time.Duration `toml:"health_timeout" mapstructure:"health_timeout"`
	StopTimeout    time.Duration `toml:"stop_timeout" mapstructure:"stop_timeout"`

	// HistoryDSN selects the session-history sink. Empty means a SQLite
	// database inside the data dir.
	HistoryDSN string `toml:"history_dsn" mapstructure:"history_dsn"`

	// SampleInterval for the per-workspace CPU/memory sampler. Zero
	// disables sampling.
	SampleInterval time.Duration `toml:"sample_interval" mapstructure:"sample_interval"`

	Log      logger.Config     `toml:"log" mapstructure:"log"`
	AgentLog logger.FileConfig `toml:"agent_log" mapstructure:"agent_log"`
}

// Defaults applied by Load.
const (
	DefaultListen = "127.0.0.1:8700"
)

// Load parses a TOML config file. path may be empty, yielding defaults.
func Load(path string) (FileConfig, error) {
	var fc FileConfig
	if path != "" {
		v := viper.New()
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return fc, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := v.Unmarshal(&fc); err != nil {
			return fc, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	applyDefaults(&fc)
	return fc, nil
}

func applyDefaults(fc *FileConfig) {
	if fc.Listen == "" {
		fc.Listen = DefaultListen
	}
	if fc.DataDir == "" {
		fc.DataDir = defaultDataDir()
	}
	if fc.AgentBinary == "" {
		fc.AgentBinary = "codehydra-agent"
	}
	if fc.AgentLog.Dir == "" {
		fc.AgentLog.Dir = filepath.Join(fc.DataDir, "logs")
	}
	if fc.HistoryDSN == "" {
		fc.HistoryDSN = filepath.Join(fc.DataDir, "history.db")
	}
}

func defaultDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "codehydra")
	}
	return filepath.Join(os.TempDir(), "codehydra")
}

// ManagerConfig maps the file configuration onto the workspace manager.
func (fc FileConfig) ManagerConfig() workspace.Config {
	return workspace.Config{
		AgentBinary:     fc.AgentBinary,
		AgentEnv:        fc.AgentEnv,
		DataDir:         fc.DataDir,
		HealthInterval:  fc.HealthInterval,
		HealthTimeout:   fc.HealthTimeout,
		StopTermTimeout: fc.StopTimeout,
		StopKillTimeout: fc.StopTimeout,
		AgentLog:        fc.AgentLog,
	}
}
