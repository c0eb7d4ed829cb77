package bootstrap

import (
	"codexmd/internal/config"
	"codexmd/internal/domain"
)

// transcriptionModelCatalog lists the hosted model presets offered in the UI.
var transcriptionModelCatalog = []domain.ProviderModelOption{
	{
		ID:          "nova-2",
		Name:        "Nova 2",
		Languages:   "multilingual",
		Description: "Best accuracy-to-cost balance for general media.",
	},
	{
		ID:          "nova-3",
		Name:        "Nova 3",
		Languages:   "multilingual",
		Description: "Latest generation, strongest on noisy and multi-speaker audio.",
	},
	{
		ID:          "nova-2-meeting",
		Name:        "Nova 2 Meeting",
		Languages:   "en",
		Description: "Tuned for conference-room recordings and remote calls.",
	},
	{
		ID:          "enhanced",
		Name:        "Enhanced",
		Languages:   "multilingual",
		Description: "Higher accuracy than Base on uncommon vocabulary.",
	},
	{
		ID:          "base",
		Name:        "Base",
		Languages:   "multilingual",
		Description: "Fastest and cheapest option for clean audio.",
	},
	{
		ID:          "whisper-large",
		Name:        "Whisper Large",
		Languages:   "multilingual",
		Description: "Hosted Whisper for maximum language coverage.",
	},
}

// GetTranscriptionModels returns the selectable model presets with the
// configured default flagged.
func (a *App) GetTranscriptionModels() []domain.ProviderModelOption {
	out := make([]domain.ProviderModelOption, len(transcriptionModelCatalog))
	copy(out, transcriptionModelCatalog)
	for i := range out {
		out[i].Default = out[i].ID == config.DefaultModel
	}
	return out
}
