package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Load reads the .env file from the current working directory and sets
// environment variables. If .env does not exist, Load returns an error but
// callers can ignore it and use system env or defaults. Pass one or more paths
// to load from specific files (e.g. ".env"); with no paths, ".env" is used.
func Load(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	return godotenv.Load(paths...)
}

// GetEnv returns the value of the environment variable named by key, or fallback
// if the variable is unset or empty.
func GetEnv(key, fallback string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return fallback
}

// GetEnvInt returns the integer value of the environment variable named by key,
// or fallback if the variable is unset, empty, or not a valid integer.
func GetEnvInt(key string, fallback int) int {
	if s := os.Getenv(key); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			return n
		}
	}
	return fallback
}

// GetEnvFloat returns the float value of the environment variable named by key,
// or fallback if the variable is unset, empty, or not a valid number.
func GetEnvFloat(key string, fallback float64) float64 {
	if s := os.Getenv(key); s != "" {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
	}
	return fallback
}

// GetEnvDuration returns the duration value (e.g. "30s") of the environment
// variable named by key, or fallback if it is unset, empty, or malformed.
func GetEnvDuration(key string, fallback time.Duration) time.Duration {
	if s := os.Getenv(key); s != "" {
		if d, err := time.ParseDuration(s); err == nil {
			return d
		}
	}
	return fallback
}

// Config is the server configuration, read from the environment.
type Config struct {
	Port         string
	LogLevel     string
	LogFormat    string
	InputDir     string
	OutputDir    string
	ChunkSeconds float64
	ChunkTimeout time.Duration
	FFmpegPath   string
	FFprobePath  string
	// RateLimitPerMinute caps job commands per client IP; 0 disables it.
	RateLimitPerMinute int
}

// FromEnv builds a Config from environment variables, applying defaults for
// anything unset.
func FromEnv() Config {
	return Config{
		Port:               GetEnv("PORT", "8080"),
		LogLevel:           GetEnv("LOG_LEVEL", "info"),
		LogFormat:          GetEnv("LOG_FORMAT", "json"),
		InputDir:           GetEnv("AUDIO_INPUT_DIR", "./audio"),
		OutputDir:          GetEnv("AUDIO_OUTPUT_DIR", "./cuts"),
		ChunkSeconds:       GetEnvFloat("CUT_CHUNK_SECONDS", 0.5),
		ChunkTimeout:       GetEnvDuration("CUT_CHUNK_TIMEOUT", 30*time.Second),
		FFmpegPath:         GetEnv("FFMPEG_PATH", "ffmpeg"),
		FFprobePath:        GetEnv("FFPROBE_PATH", "ffprobe"),
		RateLimitPerMinute: GetEnvInt("RATE_LIMIT_PER_MINUTE", 60),
	}
}
