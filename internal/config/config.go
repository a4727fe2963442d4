package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	Port                  string
	AllowedOrigins        []string
	DatabaseURL           string
	SQLitePath            string
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	ReportTTLSeconds      int
	LowStockThreshold     int
	AuthSecret            string
	AccessTokenTTLMinutes int
	BootstrapUsername     string
	BootstrapPassword     string
}

// Load reads the environment, after merging an optional .env file from the
// working directory. Variables already set in the process win over the file.
func Load() Config {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("[config] WARNING: could not read .env: %v", err)
	}

	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))

	cfg := Config{
		Port:                  getEnv("PORT", "8080"),
		AllowedOrigins:        splitList(getEnv("ALLOWED_ORIGINS", "http://127.0.0.1:5173")),
		DatabaseURL:           strings.TrimSpace(os.Getenv("DATABASE_URL")),
		SQLitePath:            strings.TrimSpace(os.Getenv("SQLITE_PATH")),
		RedisAddr:             os.Getenv("REDIS_ADDR"),
		RedisPassword:         os.Getenv("REDIS_PASSWORD"),
		RedisDB:               redisDB,
		ReportTTLSeconds:      getPositiveInt("REPORT_TTL_SECONDS", 30),
		LowStockThreshold:     getNonNegativeInt("LOW_STOCK_THRESHOLD", 2),
		AuthSecret:            strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		AccessTokenTTLMinutes: getPositiveInt("ACCESS_TOKEN_TTL_MINUTES", 480),
		BootstrapUsername:     strings.TrimSpace(os.Getenv("BOOTSTRAP_SUPERADMIN_USERNAME")),
		BootstrapPassword:     os.Getenv("BOOTSTRAP_SUPERADMIN_PASSWORD"),
	}

	return cfg
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

func getPositiveInt(key string, fallback int) int {
	n, err := strconv.Atoi(getEnv(key, strconv.Itoa(fallback)))
	if err != nil || n < 1 {
		return fallback
	}
	return n
}

func getNonNegativeInt(key string, fallback int) int {
	n, err := strconv.Atoi(getEnv(key, strconv.Itoa(fallback)))
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

func splitList(raw string) []string {
	out := make([]string, 0, 2)
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
