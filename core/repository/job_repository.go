package repository

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"finetune-orchestrator/core/models"
	"finetune-orchestrator/core/spec"

	"github.com/sirupsen/logrus"
)

// JobRepository persists jobs as paired files in a single directory:
// one JSON record per job plus the trainer-readable YAML configuration it
// references. The pair is created together and deleted together.
type JobRepository struct {
	dir string
}

// jobRecord is the on-disk representation of a job. Transient runtime
// fields (process handle, download progress) are deliberately absent.
type jobRecord struct {
	ID          string             `json:"id"`
	Name        string             `json:"name"`
	ConfigPath  string             `json:"config_path"`
	CreatedAt   time.Time          `json:"created_at"`
	Status      models.JobStatus   `json:"status"`
	Output      string             `json:"output"`
	ErrorText   string             `json:"error,omitempty"`
	StartedAt   *time.Time         `json:"started_at,omitempty"`
	CompletedAt *time.Time         `json:"completed_at,omitempty"`
	Metrics     map[string]float64 `json:"metrics,omitempty"`
}

// NewJobRepository creates a job repository rooted at dir, creating the
// directory if needed.
func NewJobRepository(dir string) (*JobRepository, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create jobs directory: %w", err)
	}
	return &JobRepository{dir: dir}, nil
}

// RecordPath returns the path of the durable record for a job ID.
func (r *JobRepository) RecordPath(id string) string {
	return filepath.Join(r.dir, id+".json")
}

// ConfigPath returns the path of the configuration file for a job ID.
func (r *JobRepository) ConfigPath(id string) string {
	return filepath.Join(r.dir, id+".yaml")
}

// SaveJob flushes the job's durable record and its configuration file.
// Both writes go through a temp file and rename so a crash mid-write leaves
// either the old content or a purgeable partial, never a torn record.
func (r *JobRepository) SaveJob(job *models.Job) error {
	cfgData, err := spec.MarshalConfig(job.Config)
	if err != nil {
		return err
	}
	if err := writeAtomic(r.ConfigPath(job.ID), cfgData); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	rec := jobRecord{
		ID:          job.ID,
		Name:        job.Name,
		ConfigPath:  r.ConfigPath(job.ID),
		CreatedAt:   job.CreatedAt,
		Status:      job.Status,
		Output:      job.Output,
		ErrorText:   job.ErrorText,
		StartedAt:   job.StartedAt,
		CompletedAt: job.CompletedAt,
		Metrics:     job.Metrics,
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal job record: %w", err)
	}
	if err := writeAtomic(r.RecordPath(job.ID), data); err != nil {
		return fmt.Errorf("failed to write job record: %w", err)
	}
	return nil
}

// DeleteJob removes a job's record and configuration file together.
func (r *JobRepository) DeleteJob(id string) error {
	var firstErr error
	for _, p := range []string{r.RecordPath(id), r.ConfigPath(id)} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// LoadAll reads every durable record from the jobs directory. Records that
// are empty, undecodable, or reference a missing configuration file are
// purged rather than loaded; orphaned configuration files are purged too.
// Recovery favors consistency over completeness.
func (r *JobRepository) LoadAll() ([]*models.Job, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read jobs directory: %w", err)
	}

	var jobs []*models.Job
	seen := make(map[string]bool)

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		id := strings.TrimSuffix(entry.Name(), ".json")
		path := filepath.Join(r.dir, entry.Name())

		job, err := r.loadOne(id, path)
		if err != nil {
			logrus.Warnf("Purging corrupt job record %s: %v", entry.Name(), err)
			r.DeleteJob(id)
			continue
		}
		seen[id] = true
		jobs = append(jobs, job)
	}

	// Second pass: configuration files without an owning record.
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".yaml") {
			continue
		}
		id := strings.TrimSuffix(entry.Name(), ".yaml")
		if !seen[id] {
			logrus.Warnf("Purging orphaned config file %s", entry.Name())
			os.Remove(filepath.Join(r.dir, entry.Name()))
		}
	}

	return jobs, nil
}

func (r *JobRepository) loadOne(id, path string) (*models.Job, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("zero-byte record")
	}

	var rec jobRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("undecodable record: %w", err)
	}
	if rec.ID != id {
		return nil, fmt.Errorf("record id %q does not match filename", rec.ID)
	}

	cfg, err := spec.LoadConfig(rec.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("missing or invalid config file: %w", err)
	}

	job := &models.Job{
		ID:          rec.ID,
		Name:        rec.Name,
		Config:      cfg,
		CreatedAt:   rec.CreatedAt,
		Status:      rec.Status,
		Output:      rec.Output,
		ErrorText:   rec.ErrorText,
		StartedAt:   rec.StartedAt,
		CompletedAt: rec.CompletedAt,
		Metrics:     rec.Metrics,
	}

	// A process cannot survive a restart, so an interrupted run comes back
	// as failed rather than running.
	if job.Status == models.JobStatusRunning || job.Status == models.JobStatusPaused {
		job.Status = models.JobStatusFailed
		if job.ErrorText == "" {
			job.ErrorText = "training was interrupted by an application restart"
		}
	}
	if job.Metrics == nil {
		job.Metrics = make(map[string]float64)
	}

	return job, nil
}

func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
