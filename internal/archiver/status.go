package archiver

import (
	"io/fs"
	"path/filepath"
	"strings"
)

// Status is a cheap summary of the managed root: how many files are
// still waiting outside the archive subtree.
type Status struct {
	OutputDirectory string `json:"output_directory"`
	FileCount       int    `json:"file_count"`
}

// Status counts files under the managed root, excluding archive folders
// and hidden files, without moving anything.
func (e *Engine) Status() Status {
	st := Status{OutputDirectory: e.root}

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
		if strings.HasPrefix(d.Name(), ".") {
			return nil
		}
		st.FileCount++
		return nil
	})
	return st
}
