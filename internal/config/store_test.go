package config

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"codexmd/internal/domain"
)

// TestDefaultSettings verifies baseline defaults are present.
func TestDefaultSettings(t *testing.T) {
	cfg := DefaultSettings()
	if cfg.Language != "auto" {
		t.Fatalf("language = %q, want auto", cfg.Language)
	}
	if cfg.Model != DefaultModel {
		t.Fatalf("model = %q, want %q", cfg.Model, DefaultModel)
	}
	if cfg.OutputDir == "" {
		t.Fatal("expected non-empty output dir")
	}
	if cfg.DeepgramAPIKey != "" {
		t.Fatal("defaults must not carry a credential")
	}
}

// TestJSONStoreLoadMissingReturnsDefaults checks first-run behavior.
func TestJSONStoreLoadMissingReturnsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "settings.json")
	store := NewJSONStore(path)

	got, err := store.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got.Language != "auto" {
		t.Fatalf("language = %q, want auto", got.Language)
	}
}

// TestJSONStoreSaveAndLoadRoundTrip checks persisted settings fidelity.
func TestJSONStoreSaveAndLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg", "settings.json")
	store := NewJSONStore(path)
	want := domain.Settings{
		DeepgramAPIKey: "dg-secret",
		Model:          "nova-2",
		Language:       "en",
		Diarize:        true,
		OutputDir:      "/out",
	}

	if err := store.Save(want); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, err := store.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got != want {
		t.Fatalf("settings = %+v, want %+v", got, want)
	}
}

// TestJSONStoreLoadInvalidJSON checks parse error handling.
func TestJSONStoreLoadInvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg", "settings.json")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte("{not-json"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	store := NewJSONStore(path)
	if _, err := store.Load(); err == nil {
		t.Fatal("expected json parse error")
	}
}

// TestMigrateLegacyCredentialMovesKey checks the one-time migration path.
func TestMigrateLegacyCredentialMovesKey(t *testing.T) {
	root := t.TempDir()
	store := NewJSONStore(filepath.Join(root, "settings.json"))
	legacyPath := filepath.Join(root, "credentials.json")
	if err := os.WriteFile(legacyPath, []byte(`{"deepgramApiKey":"dg-legacy"}`), 0o600); err != nil {
		t.Fatalf("write legacy: %v", err)
	}

	if err := MigrateLegacyCredential(store, legacyPath, discardLogger()); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	got, err := store.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got.DeepgramAPIKey != "dg-legacy" {
		t.Fatalf("api key = %q, want dg-legacy", got.DeepgramAPIKey)
	}
	if _, err := os.Stat(legacyPath); !os.IsNotExist(err) {
		t.Fatalf("legacy file should be retired, stat err = %v", err)
	}
	if _, err := os.Stat(legacyPath + ".migrated"); err != nil {
		t.Fatalf("retired legacy file missing: %v", err)
	}
}

// TestMigrateLegacyCredentialKeepsExistingKey checks settings precedence.
func TestMigrateLegacyCredentialKeepsExistingKey(t *testing.T) {
	root := t.TempDir()
	store := NewJSONStore(filepath.Join(root, "settings.json"))
	if err := store.Save(domain.Settings{DeepgramAPIKey: "dg-current"}); err != nil {
		t.Fatalf("seed settings: %v", err)
	}
	legacyPath := filepath.Join(root, "credentials.json")
	if err := os.WriteFile(legacyPath, []byte(`{"apiKey":"dg-old"}`), 0o600); err != nil {
		t.Fatalf("write legacy: %v", err)
	}

	if err := MigrateLegacyCredential(store, legacyPath, discardLogger()); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	got, err := store.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got.DeepgramAPIKey != "dg-current" {
		t.Fatalf("api key = %q, want dg-current", got.DeepgramAPIKey)
	}
	if _, err := os.Stat(legacyPath); err != nil {
		t.Fatalf("legacy file should be untouched: %v", err)
	}
}

// TestMigrateLegacyCredentialNoLegacyFile checks the common no-op path.
func TestMigrateLegacyCredentialNoLegacyFile(t *testing.T) {
	root := t.TempDir()
	store := NewJSONStore(filepath.Join(root, "settings.json"))

	if err := MigrateLegacyCredential(store, filepath.Join(root, "credentials.json"), discardLogger()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
}

// discardLogger builds a slog logger that drops all output.
func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
