package metadata

import (
	"reflect"
	"strings"
	"testing"
)

func TestProvenanceFromText(t *testing.T) {
	tests := []struct {
		name string
		text map[string]string
		want ProvenanceMetadata
	}{
		{
			name: "json values are parsed",
			text: map[string]string{
				"prompt":   `{"1":{"class_type":"KSampler"}}`,
				"workflow": `{"nodes":[]}`,
			},
			want: ProvenanceMetadata{
				"prompt":   map[string]any{"1": map[string]any{"class_type": "KSampler"}},
				"workflow": map[string]any{"nodes": []any{}},
			},
		},
		{
			name: "invalid json kept as raw string",
			text: map[string]string{"prompt": "not json {"},
			want: ProvenanceMetadata{"prompt": "not json {"},
		},
		{
			name: "missing keys stay absent",
			text: map[string]string{},
			want: ProvenanceMetadata{},
		},
		{
			name: "unrelated keys ignored",
			text: map[string]string{"Software": "ComfyUI"},
			want: ProvenanceMetadata{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := provenanceFromText(tt.text)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("provenanceFromText() = %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestEncodeTiers(t *testing.T) {
	workflow := map[string]any{"nodes": []any{"a", "b"}}
	prompt := map[string]any{"text": "a cat"}

	tests := []struct {
		name     string
		meta     ProvenanceMetadata
		wantTier Tier
	}{
		{"both present", ProvenanceMetadata{"workflow": workflow, "prompt": prompt}, TierFull},
		{"workflow only", ProvenanceMetadata{"workflow": workflow}, TierWorkflowOnly},
		{"neither present", ProvenanceMetadata{}, TierNone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sc, tier := Encode(tt.meta, MaxSidecarBytes)
			if tier != tt.wantTier {
				t.Errorf("Encode() tier = %q, want %q", tier, tt.wantTier)
			}
			if tier != TierNone && sc.Empty() {
				t.Error("Encode() produced empty sidecar for non-none tier")
			}
			if sc.Size() > MaxSidecarBytes {
				t.Errorf("Encode() sidecar size %d exceeds capacity", sc.Size())
			}
		})
	}
}

func TestEncodeSidecarPayload(t *testing.T) {
	meta := ProvenanceMetadata{
		"workflow": map[string]any{"nodes": []any{}},
		"prompt":   "raw prompt",
	}

	sc, tier := Encode(meta, MaxSidecarBytes)
	if tier != TierFull {
		t.Fatalf("tier = %q, want full", tier)
	}
	if sc.Workflow != `workflow:{"nodes":[]}` {
		t.Errorf("workflow payload = %q", sc.Workflow)
	}
	if sc.Prompt != `prompt:"raw prompt"` {
		t.Errorf("prompt payload = %q", sc.Prompt)
	}
}

func TestEncodeDegradesPromptFirst(t *testing.T) {
	big := strings.Repeat("x", 4096)
	meta := ProvenanceMetadata{
		"workflow": map[string]any{"nodes": []any{"n"}},
		"prompt":   big,
	}

	// Capacity fits the workflow but not workflow+prompt.
	sc, tier := Encode(meta, 128)
	if tier != TierWorkflowOnly {
		t.Fatalf("tier = %q, want workflow_only", tier)
	}
	if sc.Prompt != "" {
		t.Error("prompt should have been dropped")
	}
	if sc.Workflow == "" {
		t.Error("workflow should have been kept")
	}
}

func TestEncodeDegradesToNone(t *testing.T) {
	big := strings.Repeat("y", 4096)
	meta := ProvenanceMetadata{"workflow": big}

	sc, tier := Encode(meta, 64)
	if tier != TierNone {
		t.Fatalf("tier = %q, want none", tier)
	}
	if !sc.Empty() {
		t.Error("sidecar should be empty when nothing fits")
	}
}

func TestEncodeCapacityBoundaryIsInclusive(t *testing.T) {
	meta := ProvenanceMetadata{"workflow": "w"}
	sc, tier := Encode(meta, MaxSidecarBytes)

	// Exactly at capacity must not degrade.
	_, tierAt := Encode(meta, sc.Size())
	if tierAt != tier {
		t.Errorf("tier at exact capacity = %q, want %q", tierAt, tier)
	}
	_, tierBelow := Encode(meta, sc.Size()-1)
	if tierBelow != TierNone {
		t.Errorf("tier below capacity = %q, want none", tierBelow)
	}
}
