package config

import (
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseURL        string
	JWTSecret          string
	JWTAlgorithm       string
	TokenExpireMinutes int
	OpenAIAPIKey       string
	OpenAIBaseURL      string
	OpenAIModel        string
	HTTPPort           string
}

// Load reads configuration from the environment (and a .env file if present).
// Missing required values are an error so the process can refuse to start.
func Load() (*Config, error) {
	err := godotenv.Load() // Load .env file if it exists
	if err != nil {
		log.Println("No .env file found, relying on environment variables")
	}

	expireMinutes, err := getEnvAsInt("ACCESS_TOKEN_EXPIRE_MINUTES", 30)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		DatabaseURL:        getEnv("DB_URL", "chatai.db"),
		JWTSecret:          getEnv("SECRET_KEY", ""),
		JWTAlgorithm:       getEnv("ALGORITHM", "HS256"),
		TokenExpireMinutes: expireMinutes,
		OpenAIAPIKey:       getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:      getEnv("OPENAI_BASE_URL", ""),
		OpenAIModel:        getEnv("OPENAI_MODEL", "gpt-3.5-turbo"),
		HTTPPort:           getEnv("PORT", "8080"),
	}

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("SECRET_KEY environment variable is required")
	}
	if cfg.OpenAIAPIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY environment variable is required")
	}

	return cfg, nil
}

func getEnv(key string, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// getEnvAsInt returns the default only when the variable is unset; a value
// that is set but not an integer is a configuration error, not a fallback.
func getEnvAsInt(key string, defaultValue int) (int, error) {
	valueStr, exists := os.LookupEnv(key)
	if !exists || valueStr == "" {
		return defaultValue, nil
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return 0, fmt.Errorf("%s environment variable must be an integer, got %q", key, valueStr)
	}
	return value, nil
}
