// Package metadata extracts pipeline provenance embedded in generated
// images and re-encodes it into a size-bounded EXIF sidecar for the
// compressed copies.
package metadata

import (
	"encoding/json"
	"fmt"
)

// MaxSidecarBytes is the hard capacity of the EXIF metadata block in a
// JPEG file.
const MaxSidecarBytes = 65535

// Provenance text keys written by the generation pipeline into PNG text
// chunks.
const (
	KeyPrompt   = "prompt"
	KeyWorkflow = "workflow"
)

// Tier describes how much provenance survived into a sidecar.
type Tier string

const (
	TierNone         Tier = "none"
	TierWorkflowOnly Tier = "workflow_only"
	TierFull         Tier = "full"
)

// ProvenanceMetadata holds the provenance payloads recovered from an
// image. Values are decoded JSON when the embedded text parses, raw
// strings otherwise. At most the "prompt" and "workflow" keys are set.
type ProvenanceMetadata map[string]any

// Sidecar is the serialized provenance block destined for the EXIF
// Make/Model tags of a re-encoded image. Entries are tagged compact-JSON
// strings ("workflow:{...}", "prompt:{...}").
type Sidecar struct {
	Workflow string
	Prompt   string
}

// Size returns the byte size of the sidecar payload, measured against
// MaxSidecarBytes.
func (s Sidecar) Size() int {
	return len(s.Workflow) + len(s.Prompt)
}

// Empty reports whether the sidecar carries no provenance at all.
func (s Sidecar) Empty() bool {
	return s.Workflow == "" && s.Prompt == ""
}

// Encode serializes provenance into a sidecar bounded by capacityBytes.
// Workflow is the reproducibility-critical payload and is preserved
// preferentially: when the assembled sidecar exceeds capacity the prompt
// entry is dropped first, and only if the workflow alone is still over
// capacity does the sidecar degrade to empty.
func Encode(meta ProvenanceMetadata, capacityBytes int) (Sidecar, Tier) {
	var sc Sidecar
	tier := TierNone

	if wf, ok := meta[KeyWorkflow]; ok {
		sc.Workflow = taggedJSON(KeyWorkflow, wf)
		tier = TierWorkflowOnly
	}
	if p, ok := meta[KeyPrompt]; ok {
		sc.Prompt = taggedJSON(KeyPrompt, p)
		if tier == TierWorkflowOnly {
			tier = TierFull
		}
	}

	if sc.Size() > capacityBytes && sc.Prompt != "" {
		sc.Prompt = ""
		if sc.Workflow != "" {
			tier = TierWorkflowOnly
		} else {
			tier = TierNone
		}
	}
	if sc.Size() > capacityBytes {
		sc = Sidecar{}
		tier = TierNone
	}

	return sc, tier
}

// taggedJSON renders a provenance value as "<key>:<compact JSON>". Values
// that came back from json.Unmarshal always re-marshal; anything else
// falls back to its string form so encoding never fails.
func taggedJSON(key string, value any) string {
	data, err := json.Marshal(value)
	if err != nil {
		data = []byte(fmt.Sprintf("%q", fmt.Sprint(value)))
	}
	return key + ":" + string(data)
}

// provenanceFromText builds ProvenanceMetadata from the raw text values
// of an image's prompt/workflow chunks. Each value is parsed as JSON when
// possible and kept verbatim otherwise. Missing keys stay absent.
func provenanceFromText(text map[string]string) ProvenanceMetadata {
	meta := make(ProvenanceMetadata)
	for _, key := range []string{KeyPrompt, KeyWorkflow} {
		raw, ok := text[key]
		if !ok {
			continue
		}
		var parsed any
		if err := json.Unmarshal([]byte(raw), &parsed); err == nil {
			meta[key] = parsed
		} else {
			meta[key] = raw
		}
	}
	return meta
}
