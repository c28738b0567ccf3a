package training

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"finetune-orchestrator/core/models"
)

func TestBuildTrainArgs(t *testing.T) {
	cfg := models.TrainConfig{
		Model:        "org/model",
		Data:         "/data/run1",
		Mode:         models.ModeDPO,
		BatchSize:    4,
		LearningRate: 1e-5,
		Iters:        600,
	}

	args := BuildTrainArgs("/jobs/abc.yaml", cfg)

	assert.Equal(t, []string{
		"-m", "mlx_lm.lora",
		"--config", "/jobs/abc.yaml",
		"--train",
		"--model", "org/model",
		"--data", "/data/run1",
		"--train-mode", "dpo",
		"--batch-size", "4",
		"--learning-rate", "1e-05",
		"--iters", "600",
	}, args)
}

func TestBuildTrainArgs_OptionalFlags(t *testing.T) {
	cfg := models.TrainConfig{
		Model:        "org/model",
		Data:         "/data",
		Mode:         models.ModeSFT,
		BatchSize:    1,
		LearningRate: 2e-4,
		Iters:        100,
		NumLayers:    16,
		AdapterPath:  "adapters/run1",
		SaveEvery:    50,
		Seed:         7,
		FuseModel:    true,
	}

	args := BuildTrainArgs("cfg.yaml", cfg)

	assert.Contains(t, args, "--num-layers")
	assert.Contains(t, args, "--adapter-path")
	assert.Contains(t, args, "--save-every")
	assert.Contains(t, args, "--seed")
	assert.Contains(t, args, "--fuse")
}

func TestBuildQuantizeArgs(t *testing.T) {
	args := BuildQuantizeArgs("/models/fused", "/models/fused-4bit", 4)
	assert.Equal(t, []string{
		"-m", "mlx_lm.convert",
		"--hf-path", "/models/fused",
		"--mlx-path", "/models/fused-4bit",
		"-q",
		"--q-bits", "4",
	}, args)

	// Zero bit-width falls back to the default.
	assert.Contains(t, BuildQuantizeArgs("a", "b", 0), "4")
}

func TestBuildConvertArgs(t *testing.T) {
	args := BuildConvertArgs("/opt/convert.py", "/models/fused", "/out/model.gguf", "LlamaForCausalLM", "")
	assert.Equal(t, []string{
		"/opt/convert.py", "/models/fused",
		"--outfile", "/out/model.gguf",
		"--model-name", "LlamaForCausalLM",
		"--outtype", "f16",
	}, args)

	noArch := BuildConvertArgs("c.py", "in", "out.gguf", "", "q8_0")
	assert.NotContains(t, noArch, "--model-name")
	assert.Contains(t, noArch, "q8_0")
}
