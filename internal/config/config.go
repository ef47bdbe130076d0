package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

const (
	// AnalyzerGemini relays images to the Gemini generateContent API.
	AnalyzerGemini = "gemini"
	// AnalyzerStub answers locally with a deterministic description (no network).
	AnalyzerStub = "stub"

	// StagingLocal stages uploads on the local filesystem under UploadDir.
	StagingLocal = "local"
	// StagingMinIO stages uploads in an S3-compatible bucket.
	StagingMinIO = "minio"

	// DefaultMaxUploadBytes is the fixed upload ceiling (5 MiB).
	DefaultMaxUploadBytes int64 = 5 * 1024 * 1024
)

// GeminiConfig holds settings for the external analysis service.
type GeminiConfig struct {
	APIKey  string
	Model   string `validate:"required"`
	BaseURL string `validate:"required,url"`
}

// MinIOConfig holds object storage settings for MinIO.
type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// AppConfig is the centralized configuration struct for the application.
// It is populated from environment variables once at process start.
type AppConfig struct {
	Port             string `validate:"required,numeric"`
	Analyzer         string `validate:"oneof=gemini stub"`
	StagingBackend   string `validate:"oneof=local minio"`
	UploadDir        string `validate:"required"`
	MaxUploadBytes   int64  `validate:"gt=0"`
	CORSAllowOrigins string
	LogLevel         string `validate:"oneof=debug info warn error"`
	Gemini           GeminiConfig
	MinIO            MinIOConfig
}

// Load reads configuration from environment variables.
// A .env file can be auto-loaded by importing: _ "github.com/joho/godotenv/autoload"
// This function does not require a .env file; real environment variables take precedence.
func Load() *AppConfig {
	return &AppConfig{
		Port:             getEnv("PORT", "5000"),
		Analyzer:         strings.ToLower(getEnv("ANALYZER", AnalyzerGemini)),
		StagingBackend:   strings.ToLower(getEnv("STAGING_BACKEND", StagingLocal)),
		UploadDir:        getEnv("UPLOAD_DIR", "uploads"),
		MaxUploadBytes:   getEnvInt64("MAX_UPLOAD_BYTES", DefaultMaxUploadBytes),
		CORSAllowOrigins: getEnv("CORS_ALLOW_ORIGINS", "*"),
		LogLevel:         strings.ToLower(getEnv("LOG_LEVEL", "info")),
		Gemini: GeminiConfig{
			APIKey:  getEnv("GEMINI_API_KEY", ""),
			Model:   getEnv("GEMINI_MODEL", "gemini-2.0-flash"),
			BaseURL: getEnv("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com/v1beta"),
		},
		MinIO: MinIOConfig{
			Endpoint:  getEnv("MINIO_ENDPOINT", ""),
			AccessKey: getEnv("MINIO_ACCESS_KEY", ""),
			SecretKey: getEnv("MINIO_SECRET_KEY", ""),
			Bucket:    getEnv("MINIO_BUCKET", ""),
			UseSSL:    getEnvBool("MINIO_USE_SSL", false),
		},
	}
}

// Validate checks the loaded values. Backend-specific requirements are checked
// only for the backend that is actually selected.
func (c *AppConfig) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Analyzer == AnalyzerGemini && c.Gemini.APIKey == "" {
		return fmt.Errorf("invalid config: GEMINI_API_KEY is required when ANALYZER=%s", AnalyzerGemini)
	}
	return nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

func getEnvInt64(key string, def int64) int64 {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.ParseInt(v, 10, 64)
		if err == nil {
			return i
		}
	}
	return def
}
