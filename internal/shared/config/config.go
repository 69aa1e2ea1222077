package config

import (
	"log"
	"os"
	"strconv"
	"strings"
)

// Config holds application configuration.
type Config struct {
	Port            string
	Env             string
	CORSAllowOrigin []string

	DataDir      string
	UploadDir    string
	TemplatesDir string

	ObjectStoreType string
	AWSRegion       string
	S3Bucket        string
	S3Prefix        string
	SSEKMSKeyID     string

	OpenAIAPIKey         string
	OpenAIModel          string
	OpenAITimeoutSeconds int
	OpenAIProvider       string
	AzureEndpoint        string
	AzureAPIVersion      string
	EmbeddingModel       string

	UploadMaxFiles      int
	UploadMaxFileSizeMB int
	RetentionHours      int

	ClassificationUseLLM         bool
	ClassificationMaxPromptChars int

	RedisAddr     string
	RedisPassword string

	WorkerConcurrency int
}

// Load reads configuration from environment variables with sensible defaults.
func Load() Config {
	// Best-effort load of local env files for dev convenience.
	loadEnvFiles(".env", "cmd/.env")

	env := normalizeEnv(getEnv("ENV", "dev"))

	return Config{
		Port:            getEnv("PORT", "8080"),
		Env:             env,
		CORSAllowOrigin: splitAndTrim(getEnv("CORS_ALLOW_ORIGINS", "http://localhost:5173")),

		DataDir:      getEnv("DATA_DIR", "./data"),
		UploadDir:    getEnv("UPLOAD_STORAGE_DIR", "./data/uploads"),
		TemplatesDir: getEnv("TEMPLATES_DIR", "./templates"),

		ObjectStoreType: normalizeStoreType(getEnv("OBJECT_STORE", "local")),
		AWSRegion:       getEnv("AWS_REGION", ""),
		S3Bucket:        getEnv("S3_BUCKET", ""),
		S3Prefix:        getEnv("S3_PREFIX", ""),
		SSEKMSKeyID:     getEnv("SSE_KMS_KEY_ID", ""),

		OpenAIAPIKey:         os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:          getEnv("OPENAI_MODEL", "gpt-4.1"),
		OpenAITimeoutSeconds: getEnvInt("OPENAI_TIMEOUT_SECONDS", 30),
		OpenAIProvider:       normalizeProvider(getEnv("OPENAI_PROVIDER", "openai")),
		AzureEndpoint:        getEnv("AZURE_OPENAI_ENDPOINT", ""),
		AzureAPIVersion:      getEnv("AZURE_OPENAI_API_VERSION", "2024-02-15-preview"),
		EmbeddingModel:       getEnv("OPENAI_EMBEDDING_MODEL", "text-embedding-3-small"),

		UploadMaxFiles:      getEnvInt("DOCUMENT_UPLOAD_MAX_FILES", 5),
		UploadMaxFileSizeMB: getEnvInt("DOCUMENT_UPLOAD_MAX_FILE_SIZE_MB", 50),
		RetentionHours:      getEnvInt("DOCUMENT_RETENTION_HOURS", 24),

		ClassificationUseLLM:         getEnvBool("DOCUMENT_CLASSIFICATION_USE_LLM", true),
		ClassificationMaxPromptChars: getEnvInt("DOCUMENT_CLASSIFICATION_MAX_PROMPT_CHARS", 4000),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),

		WorkerConcurrency: getEnvInt("WORKER_CONCURRENCY", 4),
	}
}

// Validate reports fatal misconfiguration. Processes that talk to the model
// provider must not start without an API key.
func (c Config) Validate(requireLLM bool) error {
	if requireLLM && strings.TrimSpace(c.OpenAIAPIKey) == "" {
		return ErrMissingAPIKey
	}
	if c.OpenAIProvider == "azure" && strings.TrimSpace(c.AzureEndpoint) == "" {
		return ErrMissingAzureEndpoint
	}
	return nil
}

func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func getEnvInt(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		log.Printf("config: %s=%q is not an integer, using %d", key, raw, def)
		return def
	}
	return val
}

func getEnvBool(key string, def bool) bool {
	raw := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch raw {
	case "":
		return def
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return def
	}
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	var out []string
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func normalizeEnv(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "production", "prod":
		return "production"
	case "staging":
		return "staging"
	case "local":
		return "local"
	case "development", "dev":
		return "dev"
	default:
		return "dev"
	}
}

func normalizeStoreType(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "s3":
		return "s3"
	default:
		return "local"
	}
}

func normalizeProvider(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "azure":
		return "azure"
	default:
		return "openai"
	}
}
