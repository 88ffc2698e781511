package compressor

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/jonstreeter/comfyui-archive-output/internal/logger"
	"github.com/jonstreeter/comfyui-archive-output/internal/metadata"

	"github.com/sirupsen/logrus"
)

// ProgressHook receives a snapshot after every progress change. Used by
// the web layer to push live updates to clients.
type ProgressHook func(Snapshot)

// Engine runs compression batches against the managed root. It owns the
// one Job; the batch goroutine is the job's only writer.
type Engine struct {
	root  string
	log   *logrus.Logger
	codec *metadata.Codec
	job   *Job
	hook  ProgressHook
}

// New returns a compression engine for the given managed root.
func New(root string, log *logrus.Logger, codec *metadata.Codec) *Engine {
	return &Engine{
		root:  root,
		log:   log,
		codec: codec,
		job:   &Job{},
	}
}

// SetProgressHook installs the per-update callback. Must be called before
// the first Start.
func (e *Engine) SetProgressHook(hook ProgressHook) {
	e.hook = hook
}

// Start validates the request, claims the job, and launches the batch in
// the background. It returns as soon as the batch is accepted; callers
// poll Progress for the outcome. ErrAlreadyRunning means a batch is
// active and nothing was changed.
func (e *Engine) Start(req Request) error {
	if req.Quality < 1 || req.Quality > 100 {
		return fmt.Errorf("quality must be between 1 and 100, got %d", req.Quality)
	}
	format, err := ParseFormat(req.OutputFormat)
	if err != nil {
		return err
	}

	if err := e.job.TryStart(); err != nil {
		return err
	}

	go e.run(req, format)
	return nil
}

// Progress returns the live snapshot of the current or last batch.
func (e *Engine) Progress() Snapshot {
	return e.job.Snapshot()
}

// Cancel requests cooperative cancellation of the running batch. The
// in-flight file still completes.
func (e *Engine) Cancel() error {
	if err := e.job.RequestCancel(); err != nil {
		return err
	}
	e.log.Info("Compression cancellation requested")
	return nil
}

// Status summarizes compression capability and eligible sources without
// processing anything. Archive folders are excluded from the sweep.
func (e *Engine) Status() Status {
	st := Status{
		MetadataAvailable: e.codec.Available(),
		OutputDirectory:   e.root,
	}

	_ = filepath.WalkDir(e.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if strings.Contains(strings.ToLower(d.Name()), "archive") {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.ToLower(filepath.Ext(d.Name())) != sourceExt {
			return nil
		}
		st.SourceCount++
		if info, err := d.Info(); err == nil {
			st.SourceBytes += info.Size()
		}
		return nil
	})
	return st
}

// run executes the batch on the worker goroutine.
func (e *Engine) run(req Request, format Format) {
	defer func() {
		e.job.Finish()
		e.notify()
	}()

	op := logger.WithOperation(e.log, "compress")

	target, err := e.resolveTarget(req.TargetDirectory)
	if err != nil {
		op.Errorf("Compression aborted: %v", err)
		e.job.Fail(err.Error())
		return
	}

	files, err := e.collectSources(target, req.Recursive)
	if err != nil {
		op.Errorf("Compression aborted: %v", err)
		e.job.Fail(err.Error())
		return
	}

	e.job.SetTotal(len(files))
	e.notify()
	op.Infof("Found %d PNG files to compress in %s (quality %d, format %s)",
		len(files), target, req.Quality, format)

	for i, path := range files {
		if e.job.Cancelled() {
			op.Infof("Compression cancelled at %d/%d", i, len(files))
			break
		}

		e.job.BeginFile(i+1, filepath.Base(path))
		e.notify()

		res := e.compressFile(path, req, format)
		if res.Success {
			logger.WithFile(e.log, path).Infof("Compressed: %d -> %d bytes (%.1f%% saved, metadata %s)",
				res.OriginalSize, res.CompressedSize, res.SavingsPercent, res.MetadataTier)
		} else {
			logger.WithFile(e.log, path).Errorf("Error compressing: %s", res.Error)
		}
		e.job.Record(res)
		e.notify()
	}

	snap := e.job.Snapshot()
	op.Infof("Compression complete. Compressed: %d, Errors: %d, Savings: %d bytes (%.1f%%)",
		snap.Compressed, snap.Errors, snap.SavingsBytes, snap.SavingsPercent)
}

// resolveTarget maps the request's target directory onto the filesystem:
// absolute paths are used verbatim, relative paths resolve against the
// managed root, empty means the root itself. A missing directory is a
// whole-run failure.
func (e *Engine) resolveTarget(target string) (string, error) {
	target = strings.TrimSpace(target)
	switch {
	case target == "":
		target = e.root
	case !filepath.IsAbs(target):
		target = filepath.Join(e.root, target)
	}

	info, err := os.Stat(target)
	if err != nil || !info.IsDir() {
		return "", fmt.Errorf("target directory does not exist: %s", target)
	}
	return target, nil
}

// collectSources enumerates candidate PNG files, one level or recursively
// per the request. Order is filesystem-supplied.
func (e *Engine) collectSources(dir string, recursive bool) ([]string, error) {
	var files []string

	if !recursive {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return nil, fmt.Errorf("could not list target directory: %w", err)
		}
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			if strings.ToLower(filepath.Ext(entry.Name())) == sourceExt {
				files = append(files, filepath.Join(dir, entry.Name()))
			}
		}
		return files, nil
	}

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			e.log.Warnf("Error accessing path %s: %v", path, err)
			return nil
		}
		if !d.IsDir() && strings.ToLower(filepath.Ext(d.Name())) == sourceExt {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("could not scan target directory: %w", err)
	}
	return files, nil
}

func (e *Engine) notify() {
	if e.hook != nil {
		e.hook(e.job.Snapshot())
	}
}
