package bxconfig_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/duskvault/bxindex/internal/bxconfig"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := bxconfig.Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.InitialCleanup {
		t.Fatalf("InitialCleanup default = false, want true")
	}
	if !cfg.SupportDelete {
		t.Fatalf("SupportDelete default = false, want true")
	}
	if cfg.SleepTimePurge != bxconfig.DefaultSleepTimePurge {
		t.Fatalf("SleepTimePurge = %v, want %v", cfg.SleepTimePurge, bxconfig.DefaultSleepTimePurge)
	}
	if cfg.SingleStepLimit != bxconfig.DefaultSingleStepLimit {
		t.Fatalf("SingleStepLimit = %d, want %d", cfg.SingleStepLimit, bxconfig.DefaultSingleStepLimit)
	}
	if cfg.CleanupInterval != bxconfig.DefaultCleanupInterval {
		t.Fatalf("CleanupInterval = %v, want %v", cfg.CleanupInterval, bxconfig.DefaultCleanupInterval)
	}
}

func TestLoadYAMLOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bxindex.yaml")
	content := "INDEX_INITIAL_CLEANUP: false\nSINGLE_STEP_PURGE_LIMIT: 1000\nSLEEP_TIME_PURGE: 5\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := bxconfig.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.InitialCleanup {
		t.Fatalf("InitialCleanup = true, want false")
	}
	if cfg.SingleStepLimit != 1000 {
		t.Fatalf("SingleStepLimit = %d, want 1000", cfg.SingleStepLimit)
	}
	if cfg.SleepTimePurge != 5*time.Second {
		t.Fatalf("SleepTimePurge = %v, want 5s", cfg.SleepTimePurge)
	}
}

func TestLoadMissingYAMLIsNotAnError(t *testing.T) {
	cfg, err := bxconfig.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load with missing file: %v", err)
	}
	if cfg.CleanupInterval != bxconfig.DefaultCleanupInterval {
		t.Fatalf("CleanupInterval = %v, want default", cfg.CleanupInterval)
	}
}

func TestLoadBackendProfilesTOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "backends.toml")
	content := "[primary]\ndialect = \"dolt\"\ndsn = \"root@tcp(127.0.0.1:3306)/bxindex\"\n\n[replica]\ndialect = \"mysql\"\ndsn = \"root@tcp(127.0.0.1:3307)/bxindex\"\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	profiles, err := bxconfig.LoadBackendProfiles(path)
	if err != nil {
		t.Fatalf("LoadBackendProfiles: %v", err)
	}
	primary, ok := profiles["primary"]
	if !ok || primary.Dialect != "dolt" || primary.DSN != "root@tcp(127.0.0.1:3306)/bxindex" {
		t.Fatalf("primary profile = %+v", primary)
	}
	if len(profiles) != 2 {
		t.Fatalf("len(profiles) = %d, want 2", len(profiles))
	}
}

func TestMergeBackendProfilesIntoConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "backends.toml")
	content := "[primary]\ndialect = \"sqlite\"\ndsn = \"/var/lib/bxindex/index.db\"\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := bxconfig.Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := cfg.MergeBackendProfiles(path); err != nil {
		t.Fatalf("MergeBackendProfiles: %v", err)
	}
	if got := cfg.Backends["primary"].DSN; got != "/var/lib/bxindex/index.db" {
		t.Fatalf("Backends[primary].DSN = %q", got)
	}
}

func TestMergeBackendProfilesEmptyPathIsNoop(t *testing.T) {
	cfg, err := bxconfig.Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := cfg.MergeBackendProfiles(""); err != nil {
		t.Fatalf("MergeBackendProfiles(\"\"): %v", err)
	}
	if len(cfg.Backends) != 0 {
		t.Fatalf("Backends = %v, want empty", cfg.Backends)
	}
}
