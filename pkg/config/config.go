package config

import (
	"errors"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port         string
	Environment  string
	DatabasePath string
	JWTSecret    string
	TokenTTL     time.Duration
	CORSOrigins  string
	Locale       string

	CallTimeout time.Duration

	BotUserID      string
	BotName        string
	BotEmail       string
	BotTypingDelay time.Duration
	BotReplyDelay  time.Duration
	BotRulesFile   string

	LLMBaseURL      string
	LLMAPIKey       string
	LLMModel        string
	SentimentURL    string
	SentimentToken  string
	UpstreamTimeout time.Duration

	WSEventRate  float64
	WSEventBurst int
}

// Load reads the configuration from the environment. An env file named
// by GOFTEGO_ENV_FILE, or ./.env when present, fills in variables that
// are not already set.
func Load() *Config {
	loadEnvFile()

	return &Config{
		Port:         getEnv("PORT", "8080"),
		Environment:  getEnv("ENVIRONMENT", "development"),
		DatabasePath: getEnv("DATABASE_PATH", "./data/goftego.db"),
		JWTSecret:    getEnv("JWT_SECRET", "your-secret-key-change-in-production"),
		TokenTTL:     getDuration("TOKEN_TTL", 7*24*time.Hour),
		CORSOrigins:  getEnv("CORS_ORIGINS", "*"),
		Locale:       getEnv("LOCALE", "en"),

		CallTimeout: getDuration("CALL_TIMEOUT", 30*time.Second),

		BotUserID:      getEnv("BOT_USER_ID", "goftego-bot"),
		BotName:        getEnv("BOT_NAME", "Goftego Bot"),
		BotEmail:       getEnv("BOT_EMAIL", "bot@goftego.local"),
		BotTypingDelay: getDuration("BOT_TYPING_DELAY", 500*time.Millisecond),
		BotReplyDelay:  getDuration("BOT_REPLY_DELAY", 1500*time.Millisecond),
		BotRulesFile:   getEnv("BOT_RULES_FILE", ""),

		LLMBaseURL:      getEnv("LLM_BASE_URL", ""),
		LLMAPIKey:       getEnv("LLM_API_KEY", ""),
		LLMModel:        getEnv("LLM_MODEL", "gpt-4o-mini"),
		SentimentURL:    getEnv("SENTIMENT_URL", ""),
		SentimentToken:  getEnv("SENTIMENT_TOKEN", ""),
		UpstreamTimeout: getDuration("UPSTREAM_TIMEOUT", 15*time.Second),

		WSEventRate:  getFloat("WS_EVENT_RATE", 10),
		WSEventBurst: getInt("WS_EVENT_BURST", 20),
	}
}

func loadEnvFile() {
	path, explicit := os.LookupEnv("GOFTEGO_ENV_FILE")
	if !explicit {
		path = ".env"
	}
	if path == "" {
		return
	}

	// godotenv.Load never overrides variables that are already set.
	if err := godotenv.Load(path); err != nil {
		if explicit || !errors.Is(err, os.ErrNotExist) {
			log.Printf("Failed to load env file %s: %v", path, err)
		}
	}
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	value, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		log.Printf("Invalid duration for %s=%q, using %s", key, value, defaultValue)
		return defaultValue
	}
	return d
}

func getInt(key string, defaultValue int) int {
	val, err := strconv.Atoi(getEnv(key, strconv.Itoa(defaultValue)))
	if err != nil {
		return defaultValue
	}
	return val
}

func getFloat(key string, defaultValue float64) float64 {
	val, err := strconv.ParseFloat(getEnv(key, ""), 64)
	if err != nil {
		return defaultValue
	}
	return val
}
