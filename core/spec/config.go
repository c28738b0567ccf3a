package spec

import (
	"fmt"
	"os"

	"finetune-orchestrator/core/models"

	"gopkg.in/yaml.v3"
)

// extensionMarker delimits the application-only keys appended after the
// trainer-compatible section. The trainer's CLI ignores unknown keys, so
// the same file can be passed to it directly with --config.
const extensionMarker = "# --- orchestrator extensions (ignored by the trainer) ---\n"

// trainerConfig mirrors the key set the external trainer reads from its
// own configuration files.
type trainerConfig struct {
	Model        string              `yaml:"model"`
	Data         string              `yaml:"data"`
	Mode         models.TrainingMode `yaml:"mode"`
	BatchSize    int                 `yaml:"batch_size"`
	LearningRate float64             `yaml:"learning_rate"`
	Iters        int                 `yaml:"iters"`
	NumLayers    int                 `yaml:"num_layers,omitempty"`
	AdapterPath  string              `yaml:"adapter_path,omitempty"`
	SaveEvery    int                 `yaml:"save_every,omitempty"`
	Seed         int                 `yaml:"seed,omitempty"`
	FuseModel    bool                `yaml:"fuse_model,omitempty"`
}

type extensionConfig struct {
	PostProcess models.PostProcessConfig `yaml:"post_process,omitempty"`
}

// MarshalConfig serializes a training configuration to the trainer's YAML
// convention, with the post-processing extension keys in a delimited
// trailing block.
func MarshalConfig(cfg models.TrainConfig) ([]byte, error) {
	base, err := yaml.Marshal(trainerConfig{
		Model:        cfg.Model,
		Data:         cfg.Data,
		Mode:         cfg.Mode,
		BatchSize:    cfg.BatchSize,
		LearningRate: cfg.LearningRate,
		Iters:        cfg.Iters,
		NumLayers:    cfg.NumLayers,
		AdapterPath:  cfg.AdapterPath,
		SaveEvery:    cfg.SaveEvery,
		Seed:         cfg.Seed,
		FuseModel:    cfg.FuseModel,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}

	if !cfg.PostProcess.Enabled() {
		return base, nil
	}

	ext, err := yaml.Marshal(extensionConfig{PostProcess: cfg.PostProcess})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal extension keys: %w", err)
	}

	out := append(base, []byte(extensionMarker)...)
	return append(out, ext...), nil
}

// ParseConfig parses a persisted configuration file back into a TrainConfig.
// Both the trainer keys and the extension block live in one YAML document,
// so a single unmarshal recovers everything.
func ParseConfig(data []byte) (models.TrainConfig, error) {
	var cfg models.TrainConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return models.TrainConfig{}, fmt.Errorf("failed to parse config YAML: %w", err)
	}
	return cfg, nil
}

// LoadConfig reads and parses a configuration file from disk.
func LoadConfig(path string) (models.TrainConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return models.TrainConfig{}, err
	}
	return ParseConfig(data)
}

// Validate checks a training configuration for the invariants the start
// sequence depends on.
func Validate(cfg models.TrainConfig) error {
	if cfg.Model == "" {
		return fmt.Errorf("model identifier is required")
	}
	if cfg.Data == "" {
		return fmt.Errorf("data path is required")
	}
	switch cfg.Mode {
	case models.ModeSFT, models.ModeDPO, models.ModeGRPO:
	case "":
		return fmt.Errorf("training mode is required")
	default:
		return fmt.Errorf("unknown training mode: %s", cfg.Mode)
	}
	if cfg.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive")
	}
	if cfg.LearningRate <= 0 {
		return fmt.Errorf("learning rate must be positive")
	}
	if cfg.Iters <= 0 {
		return fmt.Errorf("iteration count must be positive")
	}
	if cfg.PostProcess.Quantize {
		switch cfg.PostProcess.QuantBits {
		case 0, 2, 3, 4, 6, 8:
		default:
			return fmt.Errorf("unsupported quantization bit-width: %d", cfg.PostProcess.QuantBits)
		}
	}
	return nil
}
