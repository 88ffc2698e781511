// Package archiver relocates finished files from the managed output
// directory into date-bucketed archive folders and cleans up the
// directories the relocation leaves empty.
package archiver

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jonstreeter/comfyui-archive-output/internal/classifier"
	"github.com/jonstreeter/comfyui-archive-output/internal/logger"

	"github.com/sirupsen/logrus"
)

const dateBucketFormat = "2006-01-02"

// Request configures one archive run. Immutable for the duration of the
// run.
type Request struct {
	FolderName     string `json:"archive_folder_name"`
	SkipHidden     bool   `json:"skip_hidden_files"`
	SkipExtensions string `json:"skip_extensions"`
}

// DefaultRequest returns the stock archive configuration.
func DefaultRequest() Request {
	return Request{
		FolderName:     "Archive",
		SkipHidden:     true,
		SkipExtensions: ".py,.js,.bat,.sh,.json,.yaml,.yml",
	}
}

// Result reports the outcome of one archive run.
type Result struct {
	Success         bool   `json:"success"`
	Moved           int    `json:"moved"`
	Skipped         int    `json:"skipped"`
	Errors          int    `json:"errors"`
	RemovedDirs     int    `json:"removed_dirs"`
	ArchiveLocation string `json:"archive_location,omitempty"`
	Error           string `json:"error,omitempty"`
}

// Engine walks the managed root once per Run, moving each eligible file
// under <root>/<folder>/<YYYY-MM-DD>/<relative-subpath>. Runs are
// synchronous and hold no cross-call state; concurrent runs against the
// same root must be serialized by the caller.
type Engine struct {
	root string
	log  *logrus.Logger
}

// New returns an archive engine for the given managed root.
func New(root string, log *logrus.Logger) *Engine {
	return &Engine{root: root, log: log}
}

// Run executes a full archive pass: relocation walk first, then the
// empty-directory sweep. Only a failure to create the archive root itself
// aborts the run; every per-file failure is counted and skipped over.
func (e *Engine) Run(req Request) Result {
	folderName := req.FolderName
	if folderName == "" {
		folderName = "Archive"
	}

	archiveRoot := filepath.Join(e.root, folderName)
	if err := os.MkdirAll(archiveRoot, 0755); err != nil {
		e.log.Errorf("Could not create archive folder %s: %v", archiveRoot, err)
		return Result{
			Success: false,
			Error:   fmt.Sprintf("could not create archive folder: %v", err),
		}
	}

	absRoot, err := filepath.Abs(e.root)
	if err != nil {
		return Result{Success: false, Error: fmt.Sprintf("could not resolve root: %v", err)}
	}
	absArchive, err := filepath.Abs(archiveRoot)
	if err != nil {
		return Result{Success: false, Error: fmt.Sprintf("could not resolve archive root: %v", err)}
	}

	skipExts := classifier.ParseSkipExtensions(req.SkipExtensions)
	op := logger.WithOperation(e.log, "archive")
	op.Infof("Archiving %s into %s (skip hidden: %v, skip extensions: %v)",
		absRoot, absArchive, req.SkipHidden, skipExts)

	res := Result{Success: true, ArchiveLocation: absArchive}
	e.relocate(req, absRoot, absArchive, skipExts, &res)
	res.RemovedDirs = e.cleanupEmptyDirs(absRoot, absArchive)

	op.Infof("Archive complete. Moved: %d, Skipped: %d, Errors: %d, Removed dirs: %d",
		res.Moved, res.Skipped, res.Errors, res.RemovedDirs)
	return res
}

// relocate is the top-down pass moving files into their date buckets.
func (e *Engine) relocate(req Request, absRoot, absArchive string, skipExts []string, res *Result) {
	_ = filepath.WalkDir(absRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			e.log.Warnf("Error accessing path %s: %v", path, err)
			return nil
		}

		if d.IsDir() {
			if path == absRoot {
				return nil
			}
			if insideOrAt(path, absArchive) {
				return filepath.SkipDir
			}
			if classifier.ShouldSkipDirectory(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}

		name := d.Name()
		if classifier.ShouldSkipFile(name, req.SkipHidden, skipExts) {
			res.Skipped++
			return nil
		}

		info, err := d.Info()
		if err != nil {
			// A file whose mtime cannot be read is never moved.
			e.log.Warnf("Could not read timestamp for %s: %v", path, err)
			res.Skipped++
			return nil
		}
		dateBucket := info.ModTime().Format(dateBucketFormat)

		relDir, err := filepath.Rel(absRoot, filepath.Dir(path))
		if err != nil {
			e.log.Errorf("Could not relativize %s: %v", path, err)
			res.Errors++
			return nil
		}

		targetDir := filepath.Join(absArchive, dateBucket)
		if relDir != "." {
			targetDir = filepath.Join(targetDir, relDir)
		}
		if err := os.MkdirAll(targetDir, 0755); err != nil {
			e.log.Errorf("Failed to create target folder %s: %v", targetDir, err)
			res.Errors++
			return nil
		}

		targetPath := filepath.Join(targetDir, name)
		if _, err := os.Stat(targetPath); err == nil {
			// Name-only duplicate detection: never overwritten.
			e.log.Debugf("Skipping duplicate: %s already exists", targetPath)
			res.Skipped++
			return nil
		}

		if err := moveFile(path, targetPath); err != nil {
			logger.WithFile(e.log, path).Errorf("Error moving file: %v", err)
			res.Errors++
			return nil
		}
		logger.WithFile(e.log, path).Infof("Moved to %s", targetPath)
		res.Moved++
		return nil
	})
}

// cleanupEmptyDirs removes directories left empty by the relocation pass,
// children before parents. The archive subtree and the managed root are
// never touched. A directory that disappeared between listing and removal
// counts as neither removed nor failed.
func (e *Engine) cleanupEmptyDirs(absRoot, absArchive string) int {
	var dirs []string
	_ = filepath.WalkDir(absRoot, func(path string, d fs.DirEntry, err error) error {
		if err == nil && d.IsDir() {
			dirs = append(dirs, path)
		}
		return nil
	})

	// Reverse-lexicographic order visits every child before its parent.
	sort.Sort(sort.Reverse(sort.StringSlice(dirs)))

	removed := 0
	for _, dir := range dirs {
		if dir == absRoot || insideOrAt(dir, absArchive) {
			continue
		}

		entries, err := os.ReadDir(dir)
		if err != nil {
			if !os.IsNotExist(err) {
				e.log.Warnf("Error listing directory %s: %v", dir, err)
			}
			continue
		}
		if len(entries) != 0 {
			continue
		}

		if err := os.Remove(dir); err != nil {
			if !os.IsNotExist(err) {
				e.log.Warnf("Error removing directory %s: %v", dir, err)
			}
			continue
		}
		e.log.Infof("Removed empty directory: %s", dir)
		removed++
	}
	return removed
}

// insideOrAt reports whether path equals base or lies under it.
func insideOrAt(path, base string) bool {
	return path == base || strings.HasPrefix(path, base+string(filepath.Separator))
}

// moveFile renames src to dst, falling back to copy+remove when the
// rename crosses filesystems.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	if err := copyFile(src, dst); err != nil {
		return err
	}
	return os.Remove(src)
}

// copyFile copies src to dst preserving the source file mode. A failed
// copy removes the destination: a truncated copy left behind would shadow
// the intact source on every later run, since duplicate detection is
// name-only.
func copyFile(src, dst string) (err error) {
	sourceFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer sourceFile.Close()

	destFile, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() {
		destFile.Close()
		if err != nil {
			os.Remove(dst)
		}
	}()

	if _, err = io.Copy(destFile, sourceFile); err != nil {
		return err
	}

	sourceInfo, err := os.Stat(src)
	if err != nil {
		return err
	}
	return os.Chmod(dst, sourceInfo.Mode())
}
