package metadata

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/barasher/go-exiftool"
	"github.com/rwcarlsen/goexif/exif"
	"github.com/sirupsen/logrus"
)

// exiftool surfaces PNG tEXt chunks as capitalized tag names.
const (
	tagPrompt   = "Prompt"
	tagWorkflow = "Workflow"
)

// Codec reads provenance out of source images and writes sidecars into
// re-encoded ones. Both directions go through the exiftool binary; when
// it is absent the codec stays usable but every extraction comes back
// empty and embedding reports failure.
type Codec struct {
	log       *logrus.Logger
	available bool
}

// NewCodec probes the runtime for the exiftool binary once and returns a
// codec bound to the outcome.
func NewCodec(log *logrus.Logger) *Codec {
	et, err := exiftool.NewExiftool()
	if err != nil {
		log.Warnf("exiftool not available, metadata preservation disabled: %v", err)
		return &Codec{log: log, available: false}
	}
	et.Close()
	return &Codec{log: log, available: true}
}

// Available reports whether metadata embedding is possible in this
// runtime.
func (c *Codec) Available() bool {
	return c.available
}

// Extract reads the prompt and workflow text chunks from an image.
// Extraction never fails: unreadable files, missing keys, or a missing
// exiftool binary all yield a metadata map without the affected keys.
func (c *Codec) Extract(path string) ProvenanceMetadata {
	if !c.available {
		return ProvenanceMetadata{}
	}

	et, err := exiftool.NewExiftool()
	if err != nil {
		c.log.Warnf("exiftool startup failed for %s: %v", path, err)
		return ProvenanceMetadata{}
	}
	defer et.Close()

	fms := et.ExtractMetadata(path)
	if len(fms) == 0 || fms[0].Err != nil {
		return ProvenanceMetadata{}
	}

	text := make(map[string]string)
	if v, err := fms[0].GetString(tagPrompt); err == nil {
		text[KeyPrompt] = v
	}
	if v, err := fms[0].GetString(tagWorkflow); err == nil {
		text[KeyWorkflow] = v
	}
	return provenanceFromText(text)
}

// Embed writes the sidecar into the image's EXIF block, workflow into the
// Make tag and prompt into the Model tag. An empty sidecar is a no-op.
func (c *Codec) Embed(path string, sc Sidecar) error {
	if sc.Empty() {
		return nil
	}
	if !c.available {
		return fmt.Errorf("exiftool not available")
	}

	args := []string{"-overwrite_original"}
	if sc.Workflow != "" {
		args = append(args, "-Make="+sc.Workflow)
	}
	if sc.Prompt != "" {
		args = append(args, "-Model="+sc.Prompt)
	}
	args = append(args, path)

	if err := exec.Command("exiftool", args...).Run(); err != nil {
		return fmt.Errorf("exiftool embed failed: %w", err)
	}
	return nil
}

// VerifyEmbedded reports whether the produced JPEG actually carries the
// sidecar's Make tag. Only JPEG files can be checked this way; other
// formats report true so embedding is not downgraded on formats goexif
// cannot parse.
func (c *Codec) VerifyEmbedded(path string) bool {
	if strings.ToLower(filepath.Ext(path)) != ".jpg" {
		return true
	}

	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	x, err := exif.Decode(f)
	if err != nil {
		return false
	}
	tag, err := x.Get(exif.Make)
	if err != nil {
		return false
	}
	val, err := tag.StringVal()
	return err == nil && strings.HasPrefix(val, KeyWorkflow+":")
}
