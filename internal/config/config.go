package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"cheqmate/internal/aiscore"
)

type Config struct {
	Addr           string
	DataDir        string
	ShingleSize    int
	TopK           int
	RequestTimeout time.Duration
	AI             aiscore.Config
}

// Load reads configuration from the environment, with an optional .env
// file for local runs. Missing values fall back to defaults; the engine
// must come up with zero configuration next to the host.
func Load() Config {
	_ = godotenv.Load(".env")

	return Config{
		Addr:           getenv("CHEQMATE_ADDR", ":8000"),
		DataDir:        getenv("CHEQMATE_DATA_DIR", ""),
		ShingleSize:    getenvInt("CHEQMATE_SHINGLE_SIZE", 5),
		TopK:           getenvInt("CHEQMATE_TOP_K", 10),
		RequestTimeout: time.Duration(getenvInt("CHEQMATE_REQUEST_TIMEOUT_MS", 120000)) * time.Millisecond,
		AI:             aiscore.DefaultConfig(),
	}
}

func getenv(name, fallback string) string {
	val := strings.TrimSpace(os.Getenv(name))
	if val == "" {
		return fallback
	}
	return val
}

func getenvInt(name string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}
