package web

import (
	"bytes"
	"encoding/json"
	"image/color"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonstreeter/comfyui-archive-output/internal/archiver"
	"github.com/jonstreeter/comfyui-archive-output/internal/compressor"
	"github.com/jonstreeter/comfyui-archive-output/internal/config"
	"github.com/jonstreeter/comfyui-archive-output/internal/metadata"

	"github.com/disintegration/imaging"
	"github.com/sirupsen/logrus"
)

func newTestServer(t *testing.T) (*Server, string) {
	t.Helper()
	root := t.TempDir()

	log := logrus.New()
	log.SetOutput(io.Discard)

	cfg := config.DefaultConfig()
	cfg.OutputDirectory = root

	arch := archiver.New(root, log)
	comp := compressor.New(root, log, metadata.NewCodec(log))
	return NewServer(cfg, log, arch, comp), root
}

func doRequest(s *Server, method, path string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func TestArchiveExecuteEndpoint(t *testing.T) {
	s, root := newTestServer(t)
	mtime := time.Date(2024, 1, 5, 12, 0, 0, 0, time.Local)
	for name, content := range map[string]string{"img.png": "png", "script.py": "py"} {
		path := filepath.Join(root, name)
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
		if err := os.Chtimes(path, mtime, mtime); err != nil {
			t.Fatal(err)
		}
	}

	rec := doRequest(s, http.MethodPost, "/api/archive/execute", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var res archiver.Result
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("bad response json: %v", err)
	}
	if !res.Success || res.Moved != 1 || res.Skipped != 1 {
		t.Errorf("got %+v, want success with moved=1 skipped=1", res)
	}
	if _, err := os.Stat(filepath.Join(root, "Archive", "2024-01-05", "img.png")); err != nil {
		t.Errorf("archived file missing: %v", err)
	}
}

func TestArchiveExecuteOverridesFolderName(t *testing.T) {
	s, root := newTestServer(t)
	if err := os.WriteFile(filepath.Join(root, "a.png"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	body := []byte(`{"archive_folder_name": "Store"}`)
	rec := doRequest(s, http.MethodPost, "/api/archive/execute", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if _, err := os.Stat(filepath.Join(root, "Store")); err != nil {
		t.Errorf("custom archive folder missing: %v", err)
	}
}

func TestArchiveExecuteRejectsMalformedBody(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doRequest(s, http.MethodPost, "/api/archive/execute", []byte("{not json"))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestArchiveStatusEndpoint(t *testing.T) {
	s, root := newTestServer(t)
	for _, name := range []string{"a.png", "b.txt", ".hidden"} {
		if err := os.WriteFile(filepath.Join(root, name), []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.MkdirAll(filepath.Join(root, "Archive", "2024-01-01"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "Archive", "2024-01-01", "c.png"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	rec := doRequest(s, http.MethodGet, "/api/archive/status", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var resp struct {
		Success bool            `json:"success"`
		Data    archiver.Status `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if !resp.Success || resp.Data.FileCount != 2 {
		t.Errorf("got %+v, want 2 visible files outside the archive", resp)
	}
}

func TestCompressExecuteAndPoll(t *testing.T) {
	s, root := newTestServer(t)
	img := imaging.New(16, 16, color.NRGBA{R: 10, G: 120, B: 10, A: 255})
	if err := imaging.Save(img, filepath.Join(root, "img.png")); err != nil {
		t.Fatal(err)
	}

	rec := doRequest(s, http.MethodPost, "/api/compress/execute", []byte(`{"quality": 80}`))
	if rec.Code != http.StatusOK {
		t.Fatalf("execute status = %d, body %s", rec.Code, rec.Body.String())
	}

	deadline := time.Now().Add(30 * time.Second)
	var snap compressor.Snapshot
	for time.Now().Before(deadline) {
		rec = doRequest(s, http.MethodGet, "/api/compress/progress", nil)
		var resp struct {
			Success bool                `json:"success"`
			Data    compressor.Snapshot `json:"data"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatal(err)
		}
		snap = resp.Data
		if !snap.Running {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	if snap.Running {
		t.Fatal("batch did not finish in time")
	}
	if snap.Total != 1 || snap.Compressed != 1 {
		t.Errorf("got total=%d compressed=%d, want 1/1", snap.Total, snap.Compressed)
	}
	if _, err := os.Stat(filepath.Join(root, "img.jpg")); err != nil {
		t.Errorf("compressed output missing: %v", err)
	}
}

func TestCompressExecuteRejectsInvalidQuality(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doRequest(s, http.MethodPost, "/api/compress/execute", []byte(`{"quality": 0}`))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestCompressCancelWithoutRun(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doRequest(s, http.MethodPost, "/api/compress/cancel", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}

	var resp APIResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Success || resp.Error == "" {
		t.Errorf("got %+v, want failure with an error message", resp)
	}
}

func TestCompressStatusEndpoint(t *testing.T) {
	s, root := newTestServer(t)
	img := imaging.New(8, 8, color.NRGBA{A: 255})
	if err := imaging.Save(img, filepath.Join(root, "img.png")); err != nil {
		t.Fatal(err)
	}

	rec := doRequest(s, http.MethodGet, "/api/compress/status", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var resp struct {
		Success bool              `json:"success"`
		Data    compressor.Status `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if !resp.Success || resp.Data.SourceCount != 1 {
		t.Errorf("got %+v, want one eligible source", resp)
	}
}
