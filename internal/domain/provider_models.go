package domain

// ProviderModelOption describes one hosted transcription model preset.
type ProviderModelOption struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Languages   string `json:"languages,omitempty"`
	Description string `json:"description,omitempty"`
	Default     bool   `json:"default"`
}
