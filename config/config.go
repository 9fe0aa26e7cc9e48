package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

type Config struct {
	ServerPort  int
	Environment string
	SentryDSN   string
	Database    DatabaseConfig
	JWT         JWTConfig
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	UseSSL   bool
}

// JWTConfig selects the token codec variant. HS256 uses Secret as a
// shared key; RS512 uses PrivateKey, a base64-encoded PKCS#8 DER blob.
type JWTConfig struct {
	SigningMethod   string
	Secret          string
	PrivateKey      string
	DurationSeconds int
}

func LoadConfig() Config {
	if os.Getenv("ENV") == "dev" {
		godotenv.Load()
	}

	dbConfig := DatabaseConfig{
		Host:     getEnv("DB_HOST", "localhost"),
		Port:     getEnvInt("DB_PORT", 5432),
		User:     getEnv("DB_USER", "userhub"),
		Password: getEnv("DB_PASSWORD", "password"),
		DBName:   getEnv("DB_NAME", "userhub_db"),
		UseSSL:   getEnv("DB_SSL", "") == "true",
	}

	jwtConfig := JWTConfig{
		SigningMethod:   getEnv("JWT_SIGNING_METHOD", "HS256"),
		Secret:          getEnv("JWT_SECRET", ""),
		PrivateKey:      getEnv("JWT_PRIVATE_KEY", ""),
		DurationSeconds: getEnvInt("JWT_DURATION_SECONDS", 86400),
	}

	return Config{
		ServerPort:  getEnvInt("SERVER_PORT", 8080),
		Environment: getEnv("ENV", "production"),
		SentryDSN:   getEnv("SENTRY_DSN", ""),
		Database:    dbConfig,
		JWT:         jwtConfig,
	}
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if valueStr, exists := os.LookupEnv(key); exists {
		var value int
		fmt.Sscanf(valueStr, "%d", &value)
		return value
	}
	return defaultValue
}
