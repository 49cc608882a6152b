package config

import (
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/joho/godotenv"
)

// AssistantImplementation selects which inference worker body the worker
// pool spawns. The real "llama" implementation loads a model file; the
// mock implementations exist for local development and tests.
type AssistantImplementation string

const (
	ImplementationLlama      AssistantImplementation = "llama"
	ImplementationLlamaMock  AssistantImplementation = "llama_mock"
	ImplementationMock       AssistantImplementation = "mock"
	ImplementationObjMock    AssistantImplementation = "obj"
	defaultImplementation                            = ImplementationObjMock
)

func (a AssistantImplementation) Validate() error {
	switch a {
	case ImplementationLlama, ImplementationLlamaMock, ImplementationMock, ImplementationObjMock:
		return nil
	default:
		return fmt.Errorf("config: unknown assistant.implementation %q", a)
	}
}

// AssistantConfig groups the settings specific to C1/C2 — the inference
// worker pool.
type AssistantConfig struct {
	MaxWorkers     int                      `yaml:"max_workers"`
	Implementation AssistantImplementation  `yaml:"implementation"`
	ModelPath      string                   `yaml:"model_path"`
	LoraPath       string                   `yaml:"lora_path"`
}

func (a *AssistantConfig) Validate() error {
	if a.MaxWorkers < 1 {
		return fmt.Errorf("config: assistant.max_workers must be >= 1, got %d", a.MaxWorkers)
	}
	if a.Implementation == "" {
		a.Implementation = defaultImplementation
	}
	return a.Implementation.Validate()
}

type Config struct {
	Port    string
	GinMode string

	DatabaseURL       string
	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxIdleTime int // minutes
	DBConnMaxLifetime int // minutes

	BlobStorageDir string

	JWTJWKSURL string

	ServerShutdownTimeoutSeconds int
	CORSAllowedOrigins           string

	LogLevel  string
	LogFormat string

	Assistant AssistantConfig `yaml:"assistant"`
}

var AppConfig *Config

func LoadConfig() {
	if err := godotenv.Load(".env"); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	AppConfig = &Config{
		Port:    getEnvOrDefault("PORT", "8080"),
		GinMode: getEnvOrDefault("GIN_MODE", "release"),

		DatabaseURL:       getEnvOrDefault("DATABASE_URL", "postgres://localhost/meshchat?sslmode=disable"),
		DBMaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 15),
		DBMaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
		DBConnMaxIdleTime: getEnvAsInt("DB_CONN_MAX_IDLE_TIME_MINUTES", 1),
		DBConnMaxLifetime: getEnvAsInt("DB_CONN_MAX_LIFETIME_MINUTES", 30),

		BlobStorageDir: getEnvOrDefault("BLOB_STORAGE_DIR", "./data/blobs"),

		JWTJWKSURL: getEnvOrDefault("JWT_JWKS_URL", ""),

		ServerShutdownTimeoutSeconds: getEnvAsInt("SERVER_SHUTDOWN_TIMEOUT_SECONDS", 30),
		CORSAllowedOrigins:           getEnvOrDefault("CORS_ALLOWED_ORIGINS", "http://localhost:3000"),

		LogLevel:  getEnvOrDefault("LOG_LEVEL", "debug"),
		LogFormat: getEnvOrDefault("LOG_FORMAT", "text"),

		Assistant: AssistantConfig{
			MaxWorkers:     getEnvAsInt("ASSISTANT_MAX_WORKERS", 2),
			Implementation: AssistantImplementation(getEnvOrDefault("ASSISTANT_IMPLEMENTATION", string(defaultImplementation))),
			ModelPath:      getEnvOrDefault("ASSISTANT_MODEL_PATH", ""),
			LoraPath:       getEnvOrDefault("ASSISTANT_LORA_PATH", ""),
		},
	}

	configFilePath := getEnvOrDefault("CONFIG_FILE", "config.yaml")
	if configFile, err := os.Open(configFilePath); err == nil {
		defer configFile.Close()
		if err := LoadConfigFile(configFile, AppConfig); err != nil {
			log.Fatalf("Failed to load config file: %v", err)
		}
	} else {
		log.Printf("No config file at %s, using environment variables only", configFilePath)
	}

	if err := AppConfig.Assistant.Validate(); err != nil {
		log.Fatalf("invalid assistant configuration: %v", err)
	}

	if AppConfig.Assistant.Implementation == ImplementationLlama && AppConfig.Assistant.ModelPath == "" {
		log.Println("Warning: assistant.implementation is llama but assistant.model_path is empty")
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		} else {
			log.Printf("Warning: failed to parse environment variable %s=%q as int, using default %d: %v", key, value, defaultValue, err)
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		} else {
			log.Printf("Warning: failed to parse environment variable %s=%q as duration, using default %v: %v", key, value, defaultValue, err)
		}
	}
	return defaultValue
}

func LoadConfigFile(reader io.Reader, config *Config) error {
	decoder := yaml.NewDecoder(reader)
	if err := decoder.Decode(config); err != nil && err != io.EOF {
		return err
	}
	return nil
}
