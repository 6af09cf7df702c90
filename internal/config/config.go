package config

import (
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	Port    string
	GinMode string

	// Edge auth and host checking.
	AuthToken    string
	AllowedHosts []string

	// TLS (optional; plain HTTP when empty).
	SSLCertFile string
	SSLKeyFile  string

	// Credential encryption. A 32-byte url-safe base64 Fernet key.
	AccountKey string

	// Stores.
	MySQLURI string
	RedisURI string

	// Upstream endpoints.
	ChatGPTBaseURL string
	CaptchaURL     string
	AuthURL        string

	// Scheduler knobs.
	WorkTimeoutSeconds     int // how long a turn may wait for an available session
	UpstreamTimeoutSeconds int // single upstream streaming call

	// Database connection pool.
	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxLifetime int // in minutes

	// Bootstrap.
	AccountsFile string

	// Logging.
	LogLevel  string
	LogFormat string
}

var AppConfig *Config

func LoadConfig() {
	// Load .env file if it exists.
	if err := godotenv.Load(".env"); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	baseURL := getEnvOrDefault("CHATGPT_BASE_URL", "https://bypass.churchless.tech/")
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}

	AppConfig = &Config{
		Port:    getEnvOrDefault("port", "9000"),
		GinMode: getEnvOrDefault("GIN_MODE", "release"),

		AuthToken:    os.Getenv("auth_token"),
		AllowedHosts: splitHosts(os.Getenv("allowed_hosts")),

		SSLCertFile: os.Getenv("ssl_certfile"),
		SSLKeyFile:  os.Getenv("ssl_keyfile"),

		AccountKey: os.Getenv("account_key"),

		MySQLURI: os.Getenv("mysql_uri"),
		RedisURI: os.Getenv("redis_uri"),

		ChatGPTBaseURL: baseURL,
		CaptchaURL:     getEnvOrDefault("CAPTCHA_URL", "https://bypass.churchless.tech/captcha/"),
		AuthURL:        getEnvOrDefault("AUTH_URL", baseURL+"auth/login"),

		WorkTimeoutSeconds:     getEnvAsInt("WORK_TIMEOUT_SECONDS", 60),
		UpstreamTimeoutSeconds: getEnvAsInt("UPSTREAM_TIMEOUT_SECONDS", 360),

		DBMaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 15),
		DBMaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
		DBConnMaxLifetime: getEnvAsInt("DB_CONN_MAX_LIFETIME_MINUTES", 60),

		AccountsFile: getEnvOrDefault("ACCOUNTS_FILE", "accounts.yaml"),

		LogLevel:  getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat: getEnvOrDefault("LOG_FORMAT", "text"),
	}

	if AppConfig.AuthToken == "" {
		log.Println("Warning: auth_token is empty, public endpoints will reject every request")
	}
	if AppConfig.AccountKey == "" {
		log.Println("Warning: account_key is missing, encrypted credentials cannot be decrypted")
	}
	if AppConfig.MySQLURI == "" {
		log.Println("Warning: mysql_uri is missing")
	}
	if AppConfig.RedisURI == "" {
		log.Println("Warning: redis_uri is missing, falling back to in-process rate limiting")
	}
}

func splitHosts(raw string) []string {
	if raw == "" {
		return nil
	}
	hosts := strings.Split(raw, ",")
	for i := range hosts {
		hosts[i] = strings.TrimSpace(hosts[i])
	}
	return hosts
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
			log.Printf("Warning: Failed to parse environment variable %s='%s' as int, using default %d: %v", key, value, defaultValue, err)
		}
	}
	return defaultValue
}
