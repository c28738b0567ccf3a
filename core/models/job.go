package models

import "time"

// Job represents a fine-tuning run managed by the orchestrator.
// Persisted fields survive restarts; the trailing transient fields are
// rebuilt at runtime and never written to disk.
type Job struct {
	ID          string
	Name        string
	Config      TrainConfig
	CreatedAt   time.Time
	Status      JobStatus
	Output      string // append-only combined stdout/stderr log
	ErrorText   string
	StartedAt   *time.Time
	CompletedAt *time.Time
	Metrics     map[string]float64

	// Transient state, owned exclusively by the lifecycle manager.
	DownloadProgress float64
	DownloadStatus   string
	Downloading      bool
}

// JobStatus represents the current lifecycle state of a job
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusPaused    JobStatus = "paused"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// Terminal reports whether the status is one of the resting states a job
// can be reset out of.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// TrainingMode selects the fine-tuning objective and, with it, the record
// schema the trainer expects in the data files.
type TrainingMode string

const (
	ModeSFT  TrainingMode = "sft"
	ModeDPO  TrainingMode = "dpo"
	ModeGRPO TrainingMode = "grpo"
)

// RequiredKeys returns the record fields the trainer requires for this mode.
func (m TrainingMode) RequiredKeys() []string {
	switch m {
	case ModeDPO:
		return []string{"prompt", "chosen", "rejected"}
	case ModeGRPO:
		return []string{"prompt", "answer"}
	default:
		return []string{"prompt", "completion"}
	}
}

// TrainConfig is the full training configuration captured for a run.
// The leading fields map directly onto the external trainer's own
// configuration-file keys; the PostProcess block is application-only.
type TrainConfig struct {
	Model        string       `yaml:"model"`
	Data         string       `yaml:"data"`
	Mode         TrainingMode `yaml:"mode"`
	BatchSize    int          `yaml:"batch_size"`
	LearningRate float64      `yaml:"learning_rate"`
	Iters        int          `yaml:"iters"`
	NumLayers    int          `yaml:"num_layers,omitempty"`
	AdapterPath  string       `yaml:"adapter_path,omitempty"`
	SaveEvery    int          `yaml:"save_every,omitempty"`
	Seed         int          `yaml:"seed,omitempty"`
	FuseModel    bool         `yaml:"fuse_model,omitempty"`

	PostProcess PostProcessConfig `yaml:"post_process,omitempty"`
}

// PostProcessConfig holds the application extension keys for the two
// optional stages run after a successful training process. The external
// trainer ignores this block.
type PostProcessConfig struct {
	Quantize       bool   `yaml:"quantize,omitempty"`
	QuantBits      int    `yaml:"quant_bits,omitempty"`
	QuantOutputDir string `yaml:"quant_output_dir,omitempty"`
	ConvertGGUF    bool   `yaml:"convert_gguf,omitempty"`
	GGUFOutputPath string `yaml:"gguf_output_path,omitempty"`
	GGUFOutType    string `yaml:"gguf_out_type,omitempty"`
}

// Enabled reports whether any post-processing stage is requested.
func (p PostProcessConfig) Enabled() bool {
	return p.Quantize || p.ConvertGGUF
}
