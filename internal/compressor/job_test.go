package compressor

import (
	"testing"

	"github.com/jonstreeter/comfyui-archive-output/internal/metadata"
)

func TestJobTryStartIsSingleFlight(t *testing.T) {
	job := &Job{}

	if err := job.TryStart(); err != nil {
		t.Fatalf("first TryStart failed: %v", err)
	}
	if err := job.TryStart(); err != ErrAlreadyRunning {
		t.Fatalf("second TryStart = %v, want ErrAlreadyRunning", err)
	}

	job.Finish()
	if err := job.TryStart(); err != nil {
		t.Fatalf("TryStart after Finish failed: %v", err)
	}
}

func TestJobCancelRequiresRunning(t *testing.T) {
	job := &Job{}
	if err := job.RequestCancel(); err != ErrNotRunning {
		t.Fatalf("RequestCancel on idle job = %v, want ErrNotRunning", err)
	}

	if err := job.TryStart(); err != nil {
		t.Fatal(err)
	}
	if err := job.RequestCancel(); err != nil {
		t.Fatalf("RequestCancel on running job failed: %v", err)
	}
	if !job.Cancelled() {
		t.Error("cancel flag should be set")
	}

	job.Finish()
	if job.Cancelled() {
		t.Error("Finish must clear the cancel flag")
	}
}

func TestJobStartResetsProgress(t *testing.T) {
	job := &Job{}
	if err := job.TryStart(); err != nil {
		t.Fatal(err)
	}
	job.SetTotal(2)
	job.Record(FileResult{Success: true, OriginalSize: 100, CompressedSize: 40, MetadataTier: metadata.TierFull})
	job.Fail("boom")
	job.Finish()

	// The final snapshot survives until the next run.
	snap := job.Snapshot()
	if snap.Compressed != 1 || snap.LastError != "boom" {
		t.Fatalf("retained snapshot wrong: %+v", snap)
	}

	if err := job.TryStart(); err != nil {
		t.Fatal(err)
	}
	snap = job.Snapshot()
	if snap.Compressed != 0 || snap.Total != 0 || snap.LastError != "" {
		t.Errorf("TryStart must reset progress, got %+v", snap)
	}
	job.Finish()
}

func TestJobSnapshotDerivedValues(t *testing.T) {
	job := &Job{}
	if err := job.TryStart(); err != nil {
		t.Fatal(err)
	}
	job.SetTotal(4)
	job.BeginFile(2, "b.png")
	job.Record(FileResult{Success: true, OriginalSize: 1000, CompressedSize: 250, MetadataTier: metadata.TierWorkflowOnly})
	job.Record(FileResult{Success: false, Error: "encode error"})

	snap := job.Snapshot()
	if snap.Percent != 50 {
		t.Errorf("percent = %v, want 50", snap.Percent)
	}
	if snap.SavingsBytes != 750 || snap.SavingsPercent != 75 {
		t.Errorf("savings = %d bytes / %v%%, want 750/75", snap.SavingsBytes, snap.SavingsPercent)
	}
	if snap.Compressed != 1 || snap.Errors != 1 || snap.MetadataPartial != 1 {
		t.Errorf("counters wrong: %+v", snap)
	}
}

func TestJobSnapshotZeroTotalsAvoidDivisionByZero(t *testing.T) {
	job := &Job{}
	snap := job.Snapshot()
	if snap.Percent != 0 || snap.SavingsBytes != 0 || snap.SavingsPercent != 0 {
		t.Errorf("empty job should derive zeros, got %+v", snap)
	}
}
