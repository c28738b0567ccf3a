package spec

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"finetune-orchestrator/core/models"
)

func validConfig() models.TrainConfig {
	return models.TrainConfig{
		Model:        "mlx-community/Mistral-7B-v0.1",
		Data:         "/data/run1",
		Mode:         models.ModeSFT,
		BatchSize:    4,
		LearningRate: 1e-5,
		Iters:        600,
	}
}

func TestMarshalConfig_RoundTrip(t *testing.T) {
	cfg := validConfig()
	cfg.NumLayers = 16
	cfg.AdapterPath = "adapters/run1"
	cfg.Seed = 42
	cfg.FuseModel = true
	cfg.PostProcess = models.PostProcessConfig{
		Quantize:    true,
		QuantBits:   4,
		ConvertGGUF: true,
		GGUFOutType: "q8_0",
	}

	data, err := MarshalConfig(cfg)
	require.NoError(t, err)

	parsed, err := ParseConfig(data)
	require.NoError(t, err)
	assert.Equal(t, cfg, parsed)
}

func TestMarshalConfig_ExtensionBlockOnlyWhenEnabled(t *testing.T) {
	plain, err := MarshalConfig(validConfig())
	require.NoError(t, err)
	assert.NotContains(t, string(plain), "post_process")

	cfg := validConfig()
	cfg.PostProcess.ConvertGGUF = true
	extended, err := MarshalConfig(cfg)
	require.NoError(t, err)
	assert.Contains(t, string(extended), "post_process")
	assert.Contains(t, string(extended), extensionMarker)

	// The trainer section must come first so the file doubles as a plain
	// trainer config.
	assert.True(t, strings.Index(string(extended), "model:") < strings.Index(string(extended), "post_process"))
}

func TestParseConfig_Invalid(t *testing.T) {
	_, err := ParseConfig([]byte("model: [unclosed"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*models.TrainConfig)
		wantErr bool
	}{
		{name: "valid", mutate: func(c *models.TrainConfig) {}, wantErr: false},
		{name: "missing model", mutate: func(c *models.TrainConfig) { c.Model = "" }, wantErr: true},
		{name: "missing data", mutate: func(c *models.TrainConfig) { c.Data = "" }, wantErr: true},
		{name: "missing mode", mutate: func(c *models.TrainConfig) { c.Mode = "" }, wantErr: true},
		{name: "unknown mode", mutate: func(c *models.TrainConfig) { c.Mode = "rlhf" }, wantErr: true},
		{name: "dpo mode", mutate: func(c *models.TrainConfig) { c.Mode = models.ModeDPO }, wantErr: false},
		{name: "zero batch size", mutate: func(c *models.TrainConfig) { c.BatchSize = 0 }, wantErr: true},
		{name: "negative learning rate", mutate: func(c *models.TrainConfig) { c.LearningRate = -1 }, wantErr: true},
		{name: "zero iters", mutate: func(c *models.TrainConfig) { c.Iters = 0 }, wantErr: true},
		{name: "valid quant bits", mutate: func(c *models.TrainConfig) {
			c.PostProcess.Quantize = true
			c.PostProcess.QuantBits = 6
		}, wantErr: false},
		{name: "default quant bits", mutate: func(c *models.TrainConfig) {
			c.PostProcess.Quantize = true
		}, wantErr: false},
		{name: "unsupported quant bits", mutate: func(c *models.TrainConfig) {
			c.PostProcess.Quantize = true
			c.PostProcess.QuantBits = 5
		}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := Validate(cfg)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
