package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	log "github.com/sirupsen/logrus"

	"github.com/kozaktomas/attendance-kiosk/internal/config"
)

func TestInit_LevelAndFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "kiosk.log")
	closeLog := Init(config.LogConfig{Level: "debug", File: path})
	t.Cleanup(func() {
		closeLog()
		log.SetOutput(os.Stderr)
		log.SetLevel(log.InfoLevel)
	})

	if log.GetLevel() != log.DebugLevel {
		t.Errorf("level = %v, want debug", log.GetLevel())
	}

	log.WithField("identity_id", "emp-001").Info("attendance recorded")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}
	if !strings.Contains(string(data), "identity_id=emp-001") {
		t.Errorf("log file missing structured field, got %q", string(data))
	}
}

func TestInit_InvalidLevel(t *testing.T) {
	closeLog := Init(config.LogConfig{Level: "loud"})
	t.Cleanup(func() {
		closeLog()
		log.SetOutput(os.Stderr)
	})

	if log.GetLevel() != log.InfoLevel {
		t.Errorf("level = %v, want info", log.GetLevel())
	}
}
