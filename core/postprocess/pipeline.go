package postprocess

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"finetune-orchestrator/core/executor"
	"finetune-orchestrator/core/models"
	"finetune-orchestrator/training"

	"github.com/sirupsen/logrus"
)

// quantizationMarkers are the case-insensitive substrings that flag a model
// identifier as already quantized. Matching is heuristic: a model whose
// name coincidentally contains a marker is misdetected, and that is an
// accepted, documented limitation.
var quantizationMarkers = []string{"4bit", "8bit", "6bit", "3bit", "awq", "gptq", "bnb", "kbit"}

// IsQuantized reports whether a model identifier carries a quantization
// marker.
func IsQuantized(modelID string) bool {
	lower := strings.ToLower(modelID)
	for _, m := range quantizationMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

// architectureByFamily maps a descriptor's model-family field to the
// architecture class name the format converter requires.
var architectureByFamily = map[string]string{
	"llama":      "LlamaForCausalLM",
	"mistral":    "MistralForCausalLM",
	"mixtral":    "MixtralForCausalLM",
	"qwen2":      "Qwen2ForCausalLM",
	"gemma":      "GemmaForCausalLM",
	"gemma2":     "Gemma2ForCausalLM",
	"phi3":       "Phi3ForCausalLM",
	"starcoder2": "Starcoder2ForCausalLM",
}

// runFunc executes one subprocess to completion, streaming its combined
// output, and returns the exit code. Injected so tests can fake the
// external converters.
type runFunc func(executable string, args []string, onOutput func(string)) (int, error)

// Pipeline sequences the two optional post-training stages against the
// fused output model: quantization, then format conversion. Stage failures
// are soft: they never revert a completed job, only annotate its output.
type Pipeline struct {
	Python        string
	ConvertScript string

	run runFunc
}

// NewPipeline creates a post-processing pipeline using the given
// interpreter and converter script location.
func NewPipeline(python, convertScript string) *Pipeline {
	return &Pipeline{
		Python:        python,
		ConvertScript: convertScript,
		run:           runProcess,
	}
}

// Run executes the enabled stages in order. fusedDir is the fused
// (base + adapter) model directory both stages consume; logf appends to the
// owning job's output the same way training output is streamed.
func (p *Pipeline) Run(cfg models.TrainConfig, fusedDir string, logf func(string)) {
	if cfg.PostProcess.Quantize {
		p.quantize(cfg, fusedDir, logf)
	}
	if cfg.PostProcess.ConvertGGUF {
		p.convertGGUF(cfg, fusedDir, logf)
	}
}

// quantize runs Stage A. Re-quantizing an already-quantized model is
// invalid and must never be attempted, so the stage is skipped whenever the
// base identifier or the fused descriptor indicates quantization.
func (p *Pipeline) quantize(cfg models.TrainConfig, fusedDir string, logf func(string)) {
	if IsQuantized(cfg.Model) {
		logf(fmt.Sprintf("Skipping quantization: base model %q is already quantized.\n", cfg.Model))
		return
	}
	if descriptorQuantized(fusedDir) {
		logf("Skipping quantization: model metadata indicates the weights are already quantized.\n")
		return
	}

	dest := cfg.PostProcess.QuantOutputDir
	bits := cfg.PostProcess.QuantBits
	if bits <= 0 {
		bits = 4
	}
	if dest == "" {
		dest = fmt.Sprintf("%s-%dbit", fusedDir, bits)
	}

	// The converter refuses to write into a non-empty directory.
	if err := os.RemoveAll(dest); err != nil {
		logf(fmt.Sprintf("Quantization failed: could not clear destination %s: %v\n", dest, err))
		return
	}

	logf(fmt.Sprintf("Quantizing fused model to %d bits at %s\n", bits, dest))
	code, err := p.run(p.Python, training.BuildQuantizeArgs(fusedDir, dest, bits), logf)
	if err != nil {
		logf(fmt.Sprintf("Quantization failed to start: %v\n", err))
		return
	}
	if code != 0 {
		logrus.Warnf("Quantizer exited with code %d", code)
		logf(fmt.Sprintf("Quantization was unsuccessful (exit code %d). The trained model is unaffected.\n", code))
		return
	}
	logf("Quantization finished.\n")
}

// convertGGUF runs Stage B. Each precondition failure skips the stage with
// a specific logged reason; none of them fails the job.
func (p *Pipeline) convertGGUF(cfg models.TrainConfig, fusedDir string, logf func(string)) {
	if _, err := os.Stat(p.ConvertScript); err != nil {
		logf(fmt.Sprintf("Skipping GGUF conversion: converter script not found at %s.\n", p.ConvertScript))
		return
	}
	if IsQuantized(cfg.Model) {
		logf(fmt.Sprintf("Skipping GGUF conversion: base model %q is quantized, conversion is defined only for full-precision sources.\n", cfg.Model))
		return
	}
	descriptor := filepath.Join(fusedDir, "config.json")
	if _, err := os.Stat(descriptor); err != nil {
		logf(fmt.Sprintf("Skipping GGUF conversion: fused model directory %s is missing its descriptor.\n", fusedDir))
		return
	}

	arch, err := repairDescriptor(descriptor)
	if err != nil {
		logf(fmt.Sprintf("Skipping GGUF conversion: could not prepare model descriptor: %v\n", err))
		return
	}

	outPath := cfg.PostProcess.GGUFOutputPath
	if outPath == "" {
		outPath = filepath.Join(filepath.Dir(fusedDir), cleanModelName(cfg.Model)+".gguf")
	}

	logf(fmt.Sprintf("Converting fused model to GGUF at %s\n", outPath))
	code, err := p.run(p.Python, training.BuildConvertArgs(p.ConvertScript, fusedDir, outPath, arch, cfg.PostProcess.GGUFOutType), logf)
	if err != nil {
		logf(fmt.Sprintf("GGUF conversion failed to start: %v\n", err))
		return
	}
	if code != 0 {
		logrus.Warnf("GGUF converter exited with code %d", code)
		logf(fmt.Sprintf("GGUF conversion was unsuccessful (exit code %d). The trained model is unaffected.\n", code))
		return
	}
	logf("GGUF conversion finished.\n")
}

// descriptorQuantized reports whether the fused model's descriptor carries
// quantization metadata. A missing or unreadable descriptor is treated as
// not quantized; Stage B will surface that separately.
func descriptorQuantized(fusedDir string) bool {
	data, err := os.ReadFile(filepath.Join(fusedDir, "config.json"))
	if err != nil {
		return false
	}
	var desc map[string]interface{}
	if err := json.Unmarshal(data, &desc); err != nil {
		return false
	}
	_, ok := desc["quantization"]
	return ok
}

// repairDescriptor fills the architecture-class field the converter
// requires when the descriptor only carries a model-family field, and
// persists the correction. Returns the architecture hint (possibly empty).
func repairDescriptor(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	var desc map[string]interface{}
	if err := json.Unmarshal(data, &desc); err != nil {
		return "", fmt.Errorf("invalid descriptor: %w", err)
	}

	if archs, ok := desc["architectures"].([]interface{}); ok && len(archs) > 0 {
		if s, ok := archs[0].(string); ok {
			return s, nil
		}
	}

	family, _ := desc["model_type"].(string)
	arch, known := architectureByFamily[strings.ToLower(family)]
	if !known {
		return "", nil
	}

	desc["architectures"] = []string{arch}
	out, err := json.MarshalIndent(desc, "", "  ")
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return "", err
	}
	return arch, nil
}

var unsafeNameChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// cleanModelName derives a filesystem-safe name from a model identifier.
func cleanModelName(modelID string) string {
	name := modelID
	if idx := strings.LastIndexByte(name, '/'); idx >= 0 {
		name = name[idx+1:]
	}
	name = unsafeNameChars.ReplaceAllString(name, "-")
	if name == "" {
		name = "model"
	}
	return name
}

// runProcess runs one stage subprocess via the supervisor so its output is
// streamed exactly like the primary training process's output.
func runProcess(executable string, args []string, onOutput func(string)) (int, error) {
	done := make(chan int, 1)
	_, err := executor.Start(executor.Options{
		Executable: executable,
		Args:       args,
		OnOutput:   onOutput,
		OnExit:     func(code int) { done <- code },
	})
	if err != nil {
		return 0, err
	}
	return <-done, nil
}
