package config

import (
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"strings"
)

// legacyCredentialFile mirrors the old standalone credential layout that
// predates the API key living inside settings.json.
type legacyCredentialFile struct {
	DeepgramAPIKey string `json:"deepgramApiKey"`
	APIKey         string `json:"apiKey"`
}

// MigrateLegacyCredential moves an API key from the old standalone
// credentials file into the canonical settings store. It runs once at
// startup; after a successful move the legacy file is renamed so the
// migration never repeats. A key already present in settings always wins.
func MigrateLegacyCredential(store Store, legacyPath string, logger *slog.Logger) error {
	settings, err := store.Load()
	if err != nil {
		return err
	}
	if strings.TrimSpace(settings.DeepgramAPIKey) != "" {
		return nil
	}

	data, err := os.ReadFile(legacyPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}

	var legacy legacyCredentialFile
	if err := json.Unmarshal(data, &legacy); err != nil {
		logger.Warn("legacy credential file is unreadable, skipping migration",
			slog.String("path", legacyPath), slog.String("error", err.Error()))
		return nil
	}

	key := strings.TrimSpace(legacy.DeepgramAPIKey)
	if key == "" {
		key = strings.TrimSpace(legacy.APIKey)
	}
	if key == "" {
		return nil
	}

	settings.DeepgramAPIKey = key
	if err := store.Save(settings); err != nil {
		return err
	}

	if err := os.Rename(legacyPath, legacyPath+".migrated"); err != nil {
		logger.Warn("could not retire legacy credential file",
			slog.String("path", legacyPath), slog.String("error", err.Error()))
	}

	logger.Info("migrated provider credential from legacy location",
		slog.String("from", legacyPath))
	return nil
}
