package manager

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"finetune-orchestrator/core/classifier"
	"finetune-orchestrator/core/downloader"
	"finetune-orchestrator/core/executor"
	"finetune-orchestrator/core/models"
	"finetune-orchestrator/core/monitoring"
	"finetune-orchestrator/core/postprocess"
	"finetune-orchestrator/core/repository"
	"finetune-orchestrator/core/spec"
	"finetune-orchestrator/storage"
	"finetune-orchestrator/training"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// classifyTailBytes bounds how much trailing output is fed to the error
// classifier; the decisive error text is at the end of the log.
const classifyTailBytes = 16 << 10

// ErrNotFound reports an operation against a job id that does not exist.
var ErrNotFound = errors.New("job not found")

// Options carries the launch parameters the manager needs beyond its
// collaborators.
type Options struct {
	// Python is the managed interpreter used for the trainer and both
	// post-processing stages.
	Python string
	// HubToken is the credential override exported to the trainer.
	HubToken string
}

// Manager is the coordinating context that exclusively owns the job
// collection. Every read or write of a job's status, log, and progress
// fields goes through its mutex; long-running work executes on background
// goroutines and hands results back via the callback methods.
type Manager struct {
	mu sync.Mutex

	jobs     map[string]*models.Job
	procs    map[string]*executor.Handle
	cancels  map[string]context.CancelFunc
	stopping map[string]bool
	lineBuf  map[string]string

	shuttingDown bool

	repo     *repository.JobRepository
	hub      *downloader.HubClient
	dl       *downloader.Downloader
	cache    *storage.ModelCache
	pipeline *postprocess.Pipeline
	notifier *Notifier
	opts     Options
}

// NewManager wires the lifecycle manager to its collaborators.
func NewManager(repo *repository.JobRepository, hub *downloader.HubClient, dl *downloader.Downloader, cache *storage.ModelCache, pipeline *postprocess.Pipeline, opts Options) *Manager {
	return &Manager{
		jobs:     make(map[string]*models.Job),
		procs:    make(map[string]*executor.Handle),
		cancels:  make(map[string]context.CancelFunc),
		stopping: make(map[string]bool),
		lineBuf:  make(map[string]string),
		repo:     repo,
		hub:      hub,
		dl:       dl,
		cache:    cache,
		pipeline: pipeline,
		notifier: NewNotifier(),
		opts:     opts,
	}
}

// Notifier exposes the change-notification fan-out for observers.
func (m *Manager) Notifier() *Notifier { return m.notifier }

// Load restores all durable job records; corrupt or orphaned entries have
// already been purged by the repository.
func (m *Manager) Load() error {
	jobs, err := m.repo.LoadAll()
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, job := range jobs {
		m.jobs[job.ID] = job
	}
	logrus.Infof("Loaded %d jobs from store", len(jobs))
	return nil
}

// CreateJob validates a configuration and registers a new pending job,
// persisting its record and configuration file together.
func (m *Manager) CreateJob(name string, cfg models.TrainConfig) (models.Job, error) {
	if err := spec.Validate(cfg); err != nil {
		return models.Job{}, fmt.Errorf("invalid configuration: %w", err)
	}

	job := &models.Job{
		ID:        uuid.NewString(),
		Name:      name,
		Config:    cfg,
		CreatedAt: time.Now(),
		Status:    models.JobStatusPending,
		Metrics:   make(map[string]float64),
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.repo.SaveJob(job); err != nil {
		return models.Job{}, err
	}
	m.jobs[job.ID] = job
	m.publishStateLocked(job)
	return *job, nil
}

// GetJob returns a copy of a job.
func (m *Manager) GetJob(id string) (models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return models.Job{}, fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	return *job, nil
}

// ListJobs returns copies of all jobs, newest first.
func (m *Manager) ListJobs() []models.Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Job, 0, len(m.jobs))
	for _, job := range m.jobs {
		out = append(out, *job)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// StartJob begins the start sequence for a pending or terminal job.
// Starting a job that already has a live process is a no-op.
func (m *Manager) StartJob(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok {
		return fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	if m.procs[id] != nil || job.Downloading {
		return nil // at most one live process per job
	}
	if job.Status == models.JobStatusRunning || job.Status == models.JobStatusPaused {
		return nil
	}
	if err := spec.Validate(job.Config); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	// A start from a terminal state is a fresh run; output, metrics, and
	// timestamps from the previous run must not carry over.
	if job.Status.Terminal() {
		m.clearRunStateLocked(job)
	}

	// Both post-processing stages consume the fused model, so fusing is
	// force-enabled whenever either stage is requested.
	if job.Config.PostProcess.Enabled() && !job.Config.FuseModel {
		job.Config.FuseModel = true
	}

	now := time.Now()
	job.Status = models.JobStatusRunning
	job.StartedAt = &now
	job.CompletedAt = nil
	job.ErrorText = ""
	delete(m.stopping, id)

	if err := m.repo.SaveJob(job); err != nil {
		job.Status = models.JobStatusPending
		job.StartedAt = nil
		return err
	}
	m.publishStateLocked(job)

	ctx, cancel := context.WithCancel(context.Background())
	m.cancels[id] = cancel

	cfg := job.Config
	go m.runJob(ctx, id, cfg)
	return nil
}

// runJob executes the start sequence off the coordinator: model download,
// argument construction, environment merge, launch.
func (m *Manager) runJob(ctx context.Context, id string, cfg models.TrainConfig) {
	if cancelled := m.ensureModel(ctx, id, cfg.Model); cancelled {
		m.finalize(id, models.JobStatusCancelled, "")
		return
	}

	m.mu.Lock()
	if m.stopping[id] || m.shuttingDown {
		m.mu.Unlock()
		m.finalize(id, models.JobStatusCancelled, "")
		return
	}
	configPath := m.repo.ConfigPath(id)
	m.mu.Unlock()

	args := training.BuildTrainArgs(configPath, cfg)

	// Environment precedence: process defaults, then the user's shell
	// profile, then explicit overrides.
	env := executor.SourceShellEnv(ctx)
	env["PYTHONUNBUFFERED"] = "1"
	env["HF_HOME"] = m.cache.Root()
	if m.opts.HubToken != "" {
		env["HF_TOKEN"] = m.opts.HubToken
	}

	handle, err := executor.Start(executor.Options{
		Executable: m.opts.Python,
		Args:       args,
		Env:        env,
		OnOutput:   func(text string) { m.appendOutput(id, text) },
		OnExit:     func(code int) { m.handleExit(id, code) },
	})
	if err != nil {
		logrus.Errorf("Job %s: %v", id, err)
		m.finalize(id, models.JobStatusFailed, fmt.Sprintf("Could not launch the trainer: %v", err))
		return
	}

	m.mu.Lock()
	if m.shuttingDown {
		// The app is going down; never track or process this launch.
		handle.Suppress()
		m.mu.Unlock()
		handle.Terminate(false)
		return
	}
	if m.stopping[id] {
		// A stop request landed between the launch and the handle being
		// registered; it found no handle to signal, so kill the fresh
		// process here instead of letting it run untracked.
		handle.Suppress()
		m.mu.Unlock()
		handle.Terminate(false)
		m.finalize(id, models.JobStatusCancelled, "")
		return
	}
	m.procs[id] = handle
	m.mu.Unlock()
}

// ensureModel checks the local cache and pre-downloads the model if absent.
// Any download failure degrades to proceeding without the pre-fetch: the
// trainer performs its own fetch. Returns true if the download was
// cancelled by a stop request.
func (m *Manager) ensureModel(ctx context.Context, id, modelID string) (cancelled bool) {
	revision, files, err := m.hub.ListFiles(ctx, modelID)
	if err != nil {
		if ctx.Err() != nil {
			return true
		}
		logrus.Warnf("Job %s: model listing failed: %v", id, err)
		m.appendOutput(id, fmt.Sprintf("Could not list files for %s (%v); the trainer will fetch the model itself.\n", modelID, err))
		return false
	}

	rels := make([]string, len(files))
	for i, f := range files {
		rels[i] = f.Path
	}
	if m.cache.IsComplete(modelID, rels) && m.cache.Revision(modelID) == revision {
		m.appendOutput(id, fmt.Sprintf("Model %s already cached.\n", modelID))
		return false
	}

	m.setDownloading(id, true, fmt.Sprintf("Downloading %s", modelID))
	err = m.dl.Fetch(ctx, modelID, revision, files, m.cache.Dir(modelID), func(fraction float64) {
		m.setDownloadProgress(id, fraction)
	})
	m.setDownloading(id, false, "")

	if err != nil {
		if downloader.IsCancelled(err) {
			return true
		}
		logrus.Warnf("Job %s: model download failed: %v", id, err)
		m.appendOutput(id, fmt.Sprintf("Model download failed (%v); the trainer will fetch the model itself.\n", err))
		return false
	}

	if err := m.cache.WriteRevision(modelID, revision); err != nil {
		logrus.Warnf("Job %s: could not record cache revision: %v", id, err)
	}
	m.appendOutput(id, fmt.Sprintf("Model %s downloaded (revision %s).\n", modelID, revision))
	return false
}

// appendOutput appends process text to the job's log, feeds complete lines
// to the metrics parser, and notifies observers.
func (m *Manager) appendOutput(id, text string) {
	m.mu.Lock()
	job, ok := m.jobs[id]
	if !ok {
		m.mu.Unlock()
		return
	}
	job.Output += text

	buf := m.lineBuf[id] + text
	for {
		idx := strings.IndexByte(buf, '\n')
		if idx < 0 {
			break
		}
		line := buf[:idx]
		buf = buf[idx+1:]
		for name, value := range monitoring.ParseMetrics(line) {
			job.Metrics[name] = value
		}
	}
	m.lineBuf[id] = buf
	m.mu.Unlock()

	m.notifier.Publish(models.Event{JobID: id, Kind: models.EventOutput, Message: text})
}

// handleExit is the supervisor's termination callback: exactly once per
// process, after remaining output is drained.
func (m *Manager) handleExit(id string, code int) {
	m.mu.Lock()
	job, ok := m.jobs[id]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.procs, id)
	delete(m.cancels, id)
	wasStopping := m.stopping[id]
	delete(m.stopping, id)

	now := time.Now()
	job.CompletedAt = &now

	switch {
	case wasStopping:
		job.Status = models.JobStatusCancelled
	case code == 0:
		job.Status = models.JobStatusCompleted
	default:
		job.Status = models.JobStatusFailed
		diag := classifier.Classify(tail(job.Output, classifyTailBytes), job.Config.Mode)
		job.ErrorText = diag.String()
	}

	if err := m.repo.SaveJob(job); err != nil {
		logrus.Errorf("Job %s: failed to persist final state: %v", id, err)
	}
	status := job.Status
	cfg := job.Config
	m.publishStateLocked(job)
	if status == models.JobStatusFailed {
		m.notifier.Publish(models.Event{JobID: id, Kind: models.EventAlert, Status: status, Message: job.ErrorText})
	}
	m.mu.Unlock()

	if status == models.JobStatusCompleted && cfg.PostProcess.Enabled() {
		// Detached: conversions can run for a long time and must not
		// block the coordinator.
		go m.pipeline.Run(cfg, m.fusedModelDir(cfg), func(text string) {
			m.appendOutput(id, text)
		})
	}
}

// fusedModelDir is where the trainer leaves the fused (base + adapter)
// model when fusing is enabled.
func (m *Manager) fusedModelDir(cfg models.TrainConfig) string {
	base := cfg.AdapterPath
	if base == "" {
		base = "adapters"
	}
	return filepath.Join(base, "fused_model")
}

// PauseJob suspends a running job's process.
func (m *Manager) PauseJob(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	handle := m.procs[id]
	if job.Status != models.JobStatusRunning || handle == nil {
		return fmt.Errorf("job %s is not running", id)
	}
	if err := handle.Pause(); err != nil {
		return err
	}
	job.Status = models.JobStatusPaused
	if err := m.repo.SaveJob(job); err != nil {
		return err
	}
	m.publishStateLocked(job)
	return nil
}

// ResumeJob continues a paused job's process.
func (m *Manager) ResumeJob(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	handle := m.procs[id]
	if job.Status != models.JobStatusPaused || handle == nil {
		return fmt.Errorf("job %s is not paused", id)
	}
	if err := handle.Resume(); err != nil {
		return err
	}
	job.Status = models.JobStatusRunning
	if err := m.repo.SaveJob(job); err != nil {
		return err
	}
	m.publishStateLocked(job)
	return nil
}

// StopJob cancels a job: in-flight downloads are aborted first, then the
// process is signalled, gracefully unless force is set.
func (m *Manager) StopJob(id string, force bool) error {
	m.mu.Lock()
	job, ok := m.jobs[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("job %s: %w", id, ErrNotFound)
	}

	if job.Status == models.JobStatusPending {
		job.Status = models.JobStatusCancelled
		err := m.repo.SaveJob(job)
		m.publishStateLocked(job)
		m.mu.Unlock()
		return err
	}

	handle := m.procs[id]
	cancel := m.cancels[id]
	if handle == nil && cancel == nil {
		m.mu.Unlock()
		return fmt.Errorf("job %s is not running", id)
	}
	m.stopping[id] = true
	m.mu.Unlock()

	// Downloads first: abort transfers before touching the process.
	if cancel != nil {
		cancel()
	}
	if handle != nil {
		// A paused process cannot handle the interrupt; wake it first.
		handle.Resume()
		handle.Terminate(!force)
	}
	return nil
}

// ResetJob returns a terminal job to pending, clearing output, error,
// metrics, and timestamps while preserving identity and the persisted
// configuration file path.
func (m *Manager) ResetJob(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	if m.procs[id] != nil || job.Downloading {
		return fmt.Errorf("job %s is still running", id)
	}
	m.clearRunStateLocked(job)
	if err := m.repo.SaveJob(job); err != nil {
		return err
	}
	m.publishStateLocked(job)
	return nil
}

// EditJob replaces a non-running job's configuration, overwriting the
// configuration file at the same path, and resets the job to pending.
func (m *Manager) EditJob(id string, cfg models.TrainConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	if job.Status == models.JobStatusRunning || job.Status == models.JobStatusPaused || m.procs[id] != nil {
		return fmt.Errorf("job %s is running; stop it before editing", id)
	}
	if err := spec.Validate(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	job.Config = cfg
	m.clearRunStateLocked(job)
	if err := m.repo.SaveJob(job); err != nil {
		return err
	}
	m.publishStateLocked(job)
	return nil
}

// DeleteJob removes a job and its persisted files. A live job is forcefully
// terminated, with completion processing suppressed, before removal.
func (m *Manager) DeleteJob(id string) error {
	m.mu.Lock()
	job, ok := m.jobs[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	handle := m.procs[id]
	cancel := m.cancels[id]
	delete(m.jobs, id)
	delete(m.procs, id)
	delete(m.cancels, id)
	delete(m.stopping, id)
	delete(m.lineBuf, id)
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if handle != nil {
		handle.Suppress()
		handle.Resume()
		handle.Terminate(false)
	}

	if err := m.repo.DeleteJob(id); err != nil {
		return err
	}
	m.notifier.Publish(models.Event{JobID: job.ID, Kind: models.EventState, Message: "deleted"})
	return nil
}

// Shutdown forcefully terminates every live job in a mode that suppresses
// all further completion and failure processing: mid-shutdown nothing may
// read exit status or write state.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	m.shuttingDown = true
	handles := make([]*executor.Handle, 0, len(m.procs))
	for _, h := range m.procs {
		handles = append(handles, h)
	}
	cancels := make([]context.CancelFunc, 0, len(m.cancels))
	for _, c := range m.cancels {
		cancels = append(cancels, c)
	}
	m.mu.Unlock()

	for _, c := range cancels {
		c()
	}
	for _, h := range handles {
		h.Suppress()
		h.Resume()
		h.Terminate(false)
	}
}

// finalize moves a job to a terminal state from outside the exit callback
// (launch failures, cancelled downloads).
func (m *Manager) finalize(id string, status models.JobStatus, errText string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return
	}
	delete(m.cancels, id)
	delete(m.stopping, id)

	now := time.Now()
	job.CompletedAt = &now
	job.Status = status
	job.ErrorText = errText
	if err := m.repo.SaveJob(job); err != nil {
		logrus.Errorf("Job %s: failed to persist state: %v", id, err)
	}
	m.publishStateLocked(job)
	if status == models.JobStatusFailed && errText != "" {
		m.notifier.Publish(models.Event{JobID: id, Kind: models.EventAlert, Status: status, Message: errText})
	}
}

func (m *Manager) setDownloading(id string, active bool, statusText string) {
	m.mu.Lock()
	if job, ok := m.jobs[id]; ok {
		job.Downloading = active
		job.DownloadStatus = statusText
		if active {
			job.DownloadProgress = 0
		}
	}
	m.mu.Unlock()
}

func (m *Manager) setDownloadProgress(id string, fraction float64) {
	m.mu.Lock()
	if job, ok := m.jobs[id]; ok {
		job.DownloadProgress = fraction
	}
	m.mu.Unlock()
	m.notifier.Publish(models.Event{JobID: id, Kind: models.EventProgress, Fraction: fraction})
}

// clearRunStateLocked clears everything a fresh run should not inherit.
func (m *Manager) clearRunStateLocked(job *models.Job) {
	job.Status = models.JobStatusPending
	job.Output = ""
	job.ErrorText = ""
	job.Metrics = make(map[string]float64)
	job.StartedAt = nil
	job.CompletedAt = nil
	job.DownloadProgress = 0
	job.DownloadStatus = ""
	delete(m.lineBuf, job.ID)
}

func (m *Manager) publishStateLocked(job *models.Job) {
	m.notifier.Publish(models.Event{JobID: job.ID, Kind: models.EventState, Status: job.Status})
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
