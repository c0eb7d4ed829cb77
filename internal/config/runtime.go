package config

import (
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Runtime holds operator-tunable knobs sourced from the environment.
// Values are read once at startup; a .env file next to the binary is honored.
type Runtime struct {
	ProviderBaseURL  string        `envconfig:"CODEXMD_PROVIDER_BASE_URL" default:"https://api.deepgram.com"`
	ChunkSizeBytes   int64         `envconfig:"CODEXMD_CHUNK_SIZE_BYTES" default:"25165824"`
	MaxSourceBytes   int64         `envconfig:"CODEXMD_MAX_SOURCE_BYTES" default:"2147483648"`
	LargeSourceBytes int64         `envconfig:"CODEXMD_LARGE_SOURCE_BYTES" default:"104857600"`
	SweepInterval    time.Duration `envconfig:"CODEXMD_SWEEP_INTERVAL" default:"1m"`
	TransferMaxIdle  time.Duration `envconfig:"CODEXMD_TRANSFER_MAX_IDLE" default:"30m"`
	JobGracePeriod   time.Duration `envconfig:"CODEXMD_JOB_GRACE_PERIOD" default:"5m"`
	JobMaxIdle       time.Duration `envconfig:"CODEXMD_JOB_MAX_IDLE" default:"1h"`
}

// LoadRuntime reads runtime tuning from the environment with defaults.
func LoadRuntime() (Runtime, error) {
	// Missing .env is the normal case for packaged builds.
	_ = godotenv.Load()

	var rt Runtime
	if err := envconfig.Process("", &rt); err != nil {
		return Runtime{}, err
	}
	return rt, nil
}
