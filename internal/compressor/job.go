package compressor

import (
	"sync"

	"github.com/jonstreeter/comfyui-archive-output/internal/metadata"
)

// Progress is the running record of the current (or last finished)
// compression batch.
type Progress struct {
	Current             int    `json:"current"`
	Total               int    `json:"total"`
	CurrentFile         string `json:"current_file"`
	Compressed          int    `json:"compressed"`
	Errors              int    `json:"errors"`
	TotalOriginalSize   int64  `json:"total_original_size"`
	TotalCompressedSize int64  `json:"total_compressed_size"`
	MetadataFull        int    `json:"metadata_full"`
	MetadataPartial     int    `json:"metadata_partial"`
	MetadataNone        int    `json:"metadata_none"`
}

// Snapshot is the read-only view handed to pollers. Derived values are
// computed at read time.
type Snapshot struct {
	Progress
	Running         bool    `json:"is_running"`
	CancelRequested bool    `json:"cancel_requested"`
	Percent         float64 `json:"percent"`
	SavingsBytes    int64   `json:"savings_bytes"`
	SavingsPercent  float64 `json:"savings_percent"`
	LastError       string  `json:"last_error,omitempty"`
}

// Job is the single piece of mutable run state shared between the batch
// worker and its pollers. Writes happen only from the worker; the run
// flags change only under TryStart/RequestCancel/Finish. The job survives
// the run so the final snapshot stays readable, and is reset by the next
// TryStart.
type Job struct {
	mu              sync.RWMutex
	running         bool
	cancelRequested bool
	lastError       string
	progress        Progress
}

// TryStart is the single-flight guard: it atomically checks that no batch
// is running and installs a fresh run. A second concurrent start is
// rejected, never queued.
func (j *Job) TryStart() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.running {
		return ErrAlreadyRunning
	}
	j.running = true
	j.cancelRequested = false
	j.lastError = ""
	j.progress = Progress{}
	return nil
}

// Finish ends the run, clearing both flags and retaining the final
// progress for polling.
func (j *Job) Finish() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.running = false
	j.cancelRequested = false
}

// RequestCancel flips the cooperative cancellation flag. The in-flight
// file still completes; the worker observes the flag between files.
func (j *Job) RequestCancel() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if !j.running {
		return ErrNotRunning
	}
	j.cancelRequested = true
	return nil
}

// Cancelled reports whether cancellation has been requested.
func (j *Job) Cancelled() bool {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.cancelRequested
}

// SetTotal publishes the candidate count before processing begins so
// pollers immediately see an accurate denominator.
func (j *Job) SetTotal(n int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.progress.Total = n
}

// BeginFile records the file about to be processed.
func (j *Job) BeginFile(index int, name string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.progress.Current = index
	j.progress.CurrentFile = name
}

// Record folds a per-file result into the running totals.
func (j *Job) Record(res FileResult) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if !res.Success {
		j.progress.Errors++
		return
	}

	j.progress.Compressed++
	j.progress.TotalOriginalSize += res.OriginalSize
	j.progress.TotalCompressedSize += res.CompressedSize

	switch res.MetadataTier {
	case metadata.TierFull:
		j.progress.MetadataFull++
	case metadata.TierWorkflowOnly:
		j.progress.MetadataPartial++
	default:
		j.progress.MetadataNone++
	}
}

// Fail records a whole-run failure message (missing target directory and
// the like). The run still goes through Finish.
func (j *Job) Fail(msg string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.lastError = msg
}

// Snapshot returns a value copy of the current state with derived
// percentages computed at read time.
func (j *Job) Snapshot() Snapshot {
	j.mu.RLock()
	defer j.mu.RUnlock()

	snap := Snapshot{
		Progress:        j.progress,
		Running:         j.running,
		CancelRequested: j.cancelRequested,
		LastError:       j.lastError,
	}
	if snap.Total > 0 {
		snap.Percent = float64(snap.Current) / float64(snap.Total) * 100
	}
	if snap.TotalOriginalSize > 0 {
		snap.SavingsBytes = snap.TotalOriginalSize - snap.TotalCompressedSize
		snap.SavingsPercent = float64(snap.SavingsBytes) / float64(snap.TotalOriginalSize) * 100
	}
	return snap
}
