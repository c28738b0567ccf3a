package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config holds the application configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Paths    PathsConfig    `mapstructure:"paths"`
	Hub      HubConfig      `mapstructure:"hub"`
	Download DownloadConfig `mapstructure:"download"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

type PathsConfig struct {
	// JobsDir holds the per-job records and configuration files.
	JobsDir string `mapstructure:"jobs_dir"`
	// ModelCacheDir is the local root for downloaded models.
	ModelCacheDir string `mapstructure:"model_cache_dir"`
	// Python is the managed interpreter the trainer and converters run on.
	Python string `mapstructure:"python"`
	// ConvertScript is the GGUF converter script location.
	ConvertScript string `mapstructure:"convert_script"`
}

type HubConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	Token    string `mapstructure:"token"`
}

type DownloadConfig struct {
	Concurrency int `mapstructure:"concurrency"`
}

// Load reads configuration from config.yaml (working directory or
// ~/.finetune-orchestrator) with FT_* environment overrides, falling back
// to defaults suitable for a local run.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".finetune-orchestrator"))
	}

	v.SetEnvPrefix("FT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8080)
	v.SetDefault("paths.jobs_dir", defaultDataPath("jobs"))
	v.SetDefault("paths.model_cache_dir", defaultDataPath("models"))
	v.SetDefault("paths.python", "python3")
	v.SetDefault("paths.convert_script", "")
	v.SetDefault("hub.endpoint", "https://huggingface.co")
	v.SetDefault("hub.token", "")
	v.SetDefault("download.concurrency", 15)

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine; defaults and env carry it.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func defaultDataPath(sub string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", sub)
	}
	return filepath.Join(home, ".finetune-orchestrator", sub)
}
