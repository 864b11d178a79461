package appdir

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDir_EnvOverride(t *testing.T) {
	ResetCache()
	t.Cleanup(ResetCache)

	custom := t.TempDir()
	t.Setenv(AtelierDirEnv, custom)

	dir, err := Dir()
	if err != nil {
		t.Fatalf("Dir: %v", err)
	}
	if dir != custom {
		t.Errorf("Dir() = %q, want %q", dir, custom)
	}
}

func TestEnsureDir_CreatesLogsSubdir(t *testing.T) {
	ResetCache()
	t.Cleanup(ResetCache)

	custom := filepath.Join(t.TempDir(), "atelier")
	t.Setenv(AtelierDirEnv, custom)

	if err := EnsureDir(); err != nil {
		t.Fatalf("EnsureDir: %v", err)
	}

	info, err := os.Stat(filepath.Join(custom, LogsDirName))
	if err != nil || !info.IsDir() {
		t.Errorf("logs subdirectory missing: %v", err)
	}
}

func TestSettingsPath(t *testing.T) {
	ResetCache()
	t.Cleanup(ResetCache)

	custom := t.TempDir()
	t.Setenv(AtelierDirEnv, custom)

	path, err := SettingsPath()
	if err != nil {
		t.Fatalf("SettingsPath: %v", err)
	}
	if path != filepath.Join(custom, SettingsFileName) {
		t.Errorf("SettingsPath() = %q", path)
	}
}
