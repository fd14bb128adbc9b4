package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func resetLogging() {
	CloseAll()
	loggers = make(map[Category]*Logger)
	logsDir = ""
	workspace = ""
	config = loggingConfig{}
	logLevel = LevelInfo
}

func writeConfig(t *testing.T, workspace, content string) {
	t.Helper()
	configDir := filepath.Join(workspace, ".meridian")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		t.Fatalf("Failed to create config dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(configDir, "config.yaml"), []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
}

// TestAllCategoriesLog verifies every category creates its log file when
// debug_mode is on.
func TestAllCategoriesLog(t *testing.T) {
	tempDir := t.TempDir()
	writeConfig(t, tempDir, `
logging:
  level: debug
  debug_mode: true
`)

	resetLogging()
	defer resetLogging()

	if err := Initialize(tempDir); err != nil {
		t.Fatalf("Failed to initialize logging: %v", err)
	}
	if !IsDebugMode() {
		t.Fatal("Expected debug mode to be enabled")
	}

	categories := []Category{
		CategoryBoot, CategoryMerge, CategoryInterp, CategorySession,
		CategoryHunks, CategorySync, CategoryStore, CategoryTools,
	}
	for _, cat := range categories {
		Get(cat).Debug("test message for %s", cat)
	}
	CloseAll()

	logsPath := filepath.Join(tempDir, ".meridian", "logs")
	entries, err := os.ReadDir(logsPath)
	if err != nil {
		t.Fatalf("Failed to read logs dir: %v", err)
	}

	found := make(map[string]bool)
	for _, e := range entries {
		for _, cat := range categories {
			if strings.HasSuffix(e.Name(), "_"+string(cat)+".log") {
				found[string(cat)] = true
			}
		}
	}
	for _, cat := range categories {
		if !found[string(cat)] {
			t.Errorf("No log file created for category %s", cat)
		}
	}
}

// TestProductionModeSilent verifies nothing is written without a config.
func TestProductionModeSilent(t *testing.T) {
	tempDir := t.TempDir()

	resetLogging()
	defer resetLogging()

	if err := Initialize(tempDir); err != nil {
		t.Fatalf("Failed to initialize logging: %v", err)
	}
	if IsDebugMode() {
		t.Error("No config must mean production mode")
	}

	StoreDebug("should go nowhere")
	SyncError("should also go nowhere")

	if _, err := os.Stat(filepath.Join(tempDir, ".meridian", "logs")); !os.IsNotExist(err) {
		t.Error("Production mode must not create a logs directory")
	}
}

// TestCategoryFilter verifies disabled categories stay silent.
func TestCategoryFilter(t *testing.T) {
	tempDir := t.TempDir()
	writeConfig(t, tempDir, `
logging:
  level: debug
  debug_mode: true
  categories:
    sync: true
    store: false
`)

	resetLogging()
	defer resetLogging()

	if err := Initialize(tempDir); err != nil {
		t.Fatalf("Failed to initialize logging: %v", err)
	}

	if !IsCategoryEnabled(CategorySync) {
		t.Error("sync category must be enabled")
	}
	if IsCategoryEnabled(CategoryStore) {
		t.Error("store category must be disabled")
	}
	// Unlisted categories default to enabled in debug mode.
	if !IsCategoryEnabled(CategoryMerge) {
		t.Error("unlisted category must default to enabled")
	}
}

// TestLogLevelFiltering verifies levels below the configured one are dropped.
func TestLogLevelFiltering(t *testing.T) {
	tempDir := t.TempDir()
	writeConfig(t, tempDir, `
logging:
  level: warn
  debug_mode: true
`)

	resetLogging()
	defer resetLogging()

	if err := Initialize(tempDir); err != nil {
		t.Fatalf("Failed to initialize logging: %v", err)
	}

	l := Get(CategorySync)
	l.Debug("dropped debug")
	l.Info("dropped info")
	l.Warn("kept warn")
	l.Error("kept error")
	CloseAll()

	logsPath := filepath.Join(tempDir, ".meridian", "logs")
	entries, err := os.ReadDir(logsPath)
	if err != nil {
		t.Fatalf("Failed to read logs dir: %v", err)
	}
	var content string
	for _, e := range entries {
		if strings.Contains(e.Name(), "sync") {
			data, err := os.ReadFile(filepath.Join(logsPath, e.Name()))
			if err != nil {
				t.Fatalf("Failed to read log: %v", err)
			}
			content = string(data)
		}
	}

	if strings.Contains(content, "dropped") {
		t.Error("Messages below the configured level must be dropped")
	}
	if !strings.Contains(content, "kept warn") || !strings.Contains(content, "kept error") {
		t.Error("warn and error messages must be written")
	}
}

// TestTimer verifies the timing helper logs and returns a duration.
func TestTimer(t *testing.T) {
	tempDir := t.TempDir()
	writeConfig(t, tempDir, `
logging:
  level: debug
  debug_mode: true
`)

	resetLogging()
	defer resetLogging()

	if err := Initialize(tempDir); err != nil {
		t.Fatalf("Failed to initialize logging: %v", err)
	}

	timer := StartTimer(CategoryStore, "test operation")
	time.Sleep(time.Millisecond)
	if elapsed := timer.Stop(); elapsed < time.Millisecond {
		t.Errorf("elapsed = %v, want at least 1ms", elapsed)
	}
	CloseAll()
}
