// Package compressor re-encodes archived PNG renders into JPEG or WEBP,
// preserving pipeline provenance through the metadata codec. One batch at
// a time runs in the background while callers poll progress and may
// request cooperative cancellation.
package compressor

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jonstreeter/comfyui-archive-output/internal/metadata"
)

// sourceExt is the only input format the engine re-encodes.
const sourceExt = ".png"

var (
	// ErrAlreadyRunning rejects a second Start while a batch is active.
	ErrAlreadyRunning = errors.New("compression already in progress")
	// ErrNotRunning rejects Cancel when no batch is active.
	ErrNotRunning = errors.New("no compression in progress")
)

// Format is the output codec of a compression run.
type Format string

const (
	FormatJPEG Format = "JPEG"
	FormatWEBP Format = "WEBP"
)

// ParseFormat normalizes a format name from config or an API request.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToUpper(strings.TrimSpace(s))) {
	case FormatJPEG, "":
		return FormatJPEG, nil
	case FormatWEBP:
		return FormatWEBP, nil
	default:
		return "", fmt.Errorf("unsupported output format: %q", s)
	}
}

// Extension returns the file extension for the format.
func (f Format) Extension() string {
	if f == FormatWEBP {
		return ".webp"
	}
	return ".jpg"
}

// Request configures one compression batch.
type Request struct {
	TargetDirectory string `json:"target_directory"`
	Quality         int    `json:"quality"`
	OutputFormat    string `json:"output_format"`
	DeleteOriginal  bool   `json:"delete_original"`
	Recursive       bool   `json:"recursive"`
}

// DefaultRequest returns the stock compression configuration.
func DefaultRequest() Request {
	return Request{
		Quality:      90,
		OutputFormat: string(FormatJPEG),
		Recursive:    true,
	}
}

// FileResult is the per-file outcome folded into the job's running
// totals. It is not retained past aggregation.
type FileResult struct {
	Success        bool          `json:"success"`
	SourcePath     string        `json:"original_path"`
	CompressedPath string        `json:"compressed_path,omitempty"`
	OriginalSize   int64         `json:"original_size"`
	CompressedSize int64         `json:"compressed_size"`
	SavingsBytes   int64         `json:"savings_bytes"`
	SavingsPercent float64       `json:"savings_percent"`
	MetadataTier   metadata.Tier `json:"metadata_status"`
	Error          string        `json:"error,omitempty"`
}

// Status is the cheap capability/status summary: whether metadata
// embedding works in this runtime plus a count of eligible sources, with
// nothing processed.
type Status struct {
	MetadataAvailable bool   `json:"exiftool_available"`
	SourceCount       int    `json:"png_count"`
	SourceBytes       int64  `json:"total_png_size_bytes"`
	OutputDirectory   string `json:"output_directory"`
}
