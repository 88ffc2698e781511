package logger

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestNewLoggerRejectsUnknownLevel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Level = "chatty"
	if _, err := NewLogger(cfg); err == nil {
		t.Error("unknown level should fail")
	}
}

func TestNewLoggerWritesToFile(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FilePath = filepath.Join(t.TempDir(), "logs", "out.log")
	cfg.Console = false

	log, err := NewLogger(cfg)
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}
	if log.GetLevel() != logrus.InfoLevel {
		t.Errorf("level = %v, want info", log.GetLevel())
	}
}

func TestWithFileAndOperationAddFields(t *testing.T) {
	var buf bytes.Buffer
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})
	log.SetOutput(&buf)

	WithFile(log, "render.png").Info("moved")
	if out := buf.String(); !strings.Contains(out, `"file":"render.png"`) {
		t.Errorf("file field missing from entry: %s", out)
	}

	buf.Reset()
	WithOperation(log, "archive").Info("started")
	if out := buf.String(); !strings.Contains(out, `"operation":"archive"`) {
		t.Errorf("operation field missing from entry: %s", out)
	}
}
