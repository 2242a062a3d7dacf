package config

// ModelConfig describes one generative model and its free-tier quota limits.
type ModelConfig struct {
	Name string // API model identifier
	RPM  int    // requests per minute
	TPM  int    // tokens per minute
	RPD  int    // requests per day
}

// Task names for model selection.
const (
	TaskQuickCheck = "quick_check"
	TaskGeneration = "generation"
)

// Model registry keys.
const (
	ModelFlash25   = "flash-2.5"
	ModelFlashLite = "flash-lite"
	ModelFlash20   = "flash-2.0"
)

// Safety margins applied before a quota window is considered full.
const (
	SafetyMarginRPM = 0.8
	SafetyMarginTPM = 0.8
	SafetyMarginRPD = 0.9
)

// DefaultModels returns the model registry with free-tier limits.
func DefaultModels() map[string]ModelConfig {
	return map[string]ModelConfig{
		ModelFlash25: {
			Name: "gemini-2.5-flash",
			RPM:  10,
			TPM:  250000,
			RPD:  250,
		},
		ModelFlashLite: {
			Name: "gemini-2.5-flash-lite",
			RPM:  15,
			TPM:  250000,
			RPD:  1000,
		},
		ModelFlash20: {
			Name: "gemini-2.0-flash",
			RPM:  5,
			TPM:  250000,
			RPD:  100,
		},
	}
}

// DefaultStrategy maps each task to its ordered model preference chain.
// Quick checks never touch the strongest model so its daily budget stays
// reserved for full response generation.
func DefaultStrategy() map[string][]string {
	return map[string][]string{
		TaskQuickCheck: {ModelFlashLite, ModelFlash20},
		TaskGeneration: {ModelFlash25, ModelFlashLite, ModelFlash20},
	}
}
