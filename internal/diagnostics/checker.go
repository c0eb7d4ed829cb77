package diagnostics

import (
	"fmt"
	"os"
	"strings"
	"time"

	"codexmd/internal/domain"
)

// Checker validates provider credentials and required filesystem paths.
type Checker struct {
	stagingRoots []string
	mkdirAll     func(string, os.FileMode) error
	createTemp   func(string, string) (*os.File, error)
	remove       func(string) error
}

// NewChecker builds a checker using real OS dependencies.
func NewChecker(stagingRoots ...string) *Checker {
	return &Checker{
		stagingRoots: stagingRoots,
		mkdirAll:     os.MkdirAll,
		createTemp:   os.CreateTemp,
		remove:       os.Remove,
	}
}

// Run executes all startup checks and returns a combined report.
func (c *Checker) Run(settings domain.Settings) domain.DiagnosticReport {
	items := []domain.DiagnosticItem{
		c.checkCredential(settings.DeepgramAPIKey),
		c.checkModel(settings.Model),
		c.checkWritableDir("output_dir", "Output directory", settings.OutputDir),
	}
	for i, root := range c.stagingRoots {
		items = append(items, c.checkWritableDir(
			fmt.Sprintf("staging_root_%d", i),
			"Transfer staging root",
			root,
		))
	}

	hasFailures := false
	for _, item := range items {
		if item.Status == domain.DiagnosticStatusFail {
			hasFailures = true
			break
		}
	}

	return domain.DiagnosticReport{
		GeneratedAt: time.Now().UTC(),
		HasFailures: hasFailures,
		Items:       items,
	}
}

// checkCredential verifies a provider API key is configured.
func (c *Checker) checkCredential(apiKey string) domain.DiagnosticItem {
	item := domain.DiagnosticItem{
		ID:   "provider_credential",
		Name: "Transcription provider credential",
	}

	if strings.TrimSpace(apiKey) == "" {
		item.Status = domain.DiagnosticStatusFail
		item.Message = "No provider API key is configured."
		item.Hint = "Add your Deepgram API key in settings before starting a transcription job."
		return item
	}

	item.Status = domain.DiagnosticStatusPass
	item.Message = "Provider API key is configured."
	return item
}

// checkModel verifies a transcription model is selected.
func (c *Checker) checkModel(model string) domain.DiagnosticItem {
	item := domain.DiagnosticItem{
		ID:   "provider_model",
		Name: "Transcription model",
	}

	if strings.TrimSpace(model) == "" {
		item.Status = domain.DiagnosticStatusFail
		item.Message = "No transcription model is selected."
		item.Hint = "Pick a model in settings; nova-2 is a good default."
		return item
	}

	item.Status = domain.DiagnosticStatusPass
	item.Message = fmt.Sprintf("Model selected: %s", model)
	return item
}

// checkWritableDir validates directory existence and write access.
func (c *Checker) checkWritableDir(id, name, dir string) domain.DiagnosticItem {
	item := domain.DiagnosticItem{
		ID:   id,
		Name: name,
	}

	if strings.TrimSpace(dir) == "" {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("%s is empty.", name)
		item.Hint = "Set a directory in settings."
		return item
	}

	if err := c.mkdirAll(dir, 0o755); err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Cannot create directory: %s", dir)
		item.Hint = "Choose a writable location or adjust filesystem permissions."
		return item
	}

	tmpFile, err := c.createTemp(dir, ".write-check-*")
	if err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Directory is not writable: %s", dir)
		item.Hint = "Choose a writable directory."
		return item
	}

	tmpPath := tmpFile.Name()
	_ = tmpFile.Close()
	_ = c.remove(tmpPath)

	item.Status = domain.DiagnosticStatusPass
	item.Message = fmt.Sprintf("Writable directory: %s", dir)
	return item
}

// NewCheckerForTests creates checker with injectable dependencies.
func NewCheckerForTests(
	stagingRoots []string,
	mkdirAll func(string, os.FileMode) error,
	createTemp func(string, string) (*os.File, error),
	remove func(string) error,
) *Checker {
	return &Checker{
		stagingRoots: stagingRoots,
		mkdirAll:     mkdirAll,
		createTemp:   createTemp,
		remove:       remove,
	}
}
