package training

import (
	"strconv"

	"finetune-orchestrator/core/models"
)

// BuildTrainArgs builds the trainer argument vector: the config-file
// reference first, then explicit overrides for the scalar knobs so the
// captured configuration always wins over whatever the file on disk says.
func BuildTrainArgs(configPath string, cfg models.TrainConfig) []string {
	args := []string{
		"-m", "mlx_lm.lora",
		"--config", configPath,
		"--train",
		"--model", cfg.Model,
		"--data", cfg.Data,
		"--train-mode", string(cfg.Mode),
		"--batch-size", strconv.Itoa(cfg.BatchSize),
		"--learning-rate", strconv.FormatFloat(cfg.LearningRate, 'g', -1, 64),
		"--iters", strconv.Itoa(cfg.Iters),
	}
	if cfg.NumLayers > 0 {
		args = append(args, "--num-layers", strconv.Itoa(cfg.NumLayers))
	}
	if cfg.AdapterPath != "" {
		args = append(args, "--adapter-path", cfg.AdapterPath)
	}
	if cfg.SaveEvery > 0 {
		args = append(args, "--save-every", strconv.Itoa(cfg.SaveEvery))
	}
	if cfg.Seed > 0 {
		args = append(args, "--seed", strconv.Itoa(cfg.Seed))
	}
	if cfg.FuseModel {
		args = append(args, "--fuse")
	}
	return args
}

// BuildQuantizeArgs builds the quantizer invocation: source model
// directory, destination path, target bit-width.
func BuildQuantizeArgs(srcDir, destDir string, bits int) []string {
	if bits <= 0 {
		bits = 4
	}
	return []string{
		"-m", "mlx_lm.convert",
		"--hf-path", srcDir,
		"--mlx-path", destDir,
		"-q",
		"--q-bits", strconv.Itoa(bits),
	}
}

// BuildConvertArgs builds the format-converter invocation: converter
// script, input directory, output file, optional architecture hint, and
// the output type selector.
func BuildConvertArgs(scriptPath, inputDir, outPath, arch, outType string) []string {
	args := []string{scriptPath, inputDir, "--outfile", outPath}
	if arch != "" {
		args = append(args, "--model-name", arch)
	}
	if outType == "" {
		outType = "f16"
	}
	args = append(args, "--outtype", outType)
	return args
}
