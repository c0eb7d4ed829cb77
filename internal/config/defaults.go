package config

import (
	"os"
	"path/filepath"

	"codexmd/internal/domain"
)

// DefaultModel is the provider model used when none is configured.
const DefaultModel = "nova-2"

// DefaultSettings returns baseline local configuration for first launch.
func DefaultSettings() domain.Settings {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}

	return domain.Settings{
		Model:     DefaultModel,
		Language:  "auto",
		OutputDir: filepath.Join(homeDir, "Documents", "codex.md"),
	}
}
