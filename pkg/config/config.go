package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the ETL
// ⭐ SSOT: 모든 환경변수는 여기서만 읽음
type Config struct {
	Env string // development, staging, production

	// Database (market data schema + postgres warehouse)
	Database DatabaseConfig

	// Redis (universe cache, shared rate limit)
	Redis RedisConfig

	// Upstream sources
	Naver NaverConfig
	KRX   KRXConfig

	// Warehouse
	Warehouse WarehouseConfig

	// Object storage for snapshots
	Storage StorageConfig

	// Local artifacts
	DataDir      string
	SettingsPath string

	// Logging
	LogLevel  string
	LogFormat string

	// Status API (scheduler mode)
	StatusPort string
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
	Enabled  bool
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	URL string

	// Connection Pool
	MaxConns        int
	MinConns        int
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// NaverConfig holds Naver Finance endpoints
type NaverConfig struct {
	ChartURL   string // 일봉 차트 (siseJson)
	RankingURL string // 시가총액 랭킹
	RateLimit  int    // 초당 요청 수
}

// KRXConfig holds KRX KIND endpoints
type KRXConfig struct {
	CorpListURL string
}

// WarehouseConfig selects the warehouse backend
type WarehouseConfig struct {
	Driver     string // postgres, sqlite
	SQLitePath string
}

// StorageConfig selects the blob store for snapshot upload
type StorageConfig struct {
	Provider string // gcs, fs
	Bucket   string
	Dir      string
}

// Load reads configuration from environment variables
// ⭐ SSOT: 이 함수만 os.Getenv()를 호출함
func Load() (*Config, error) {
	loadEnvFile()

	cfg := &Config{
		Env: getEnv("ENV", "development"),

		Database: DatabaseConfig{
			URL:             getEnv("DATABASE_URL", ""),
			MaxConns:        getEnvAsInt("DB_MAX_CONNS", 10),
			MinConns:        getEnvAsInt("DB_MIN_CONNS", 2),
			MaxConnLifetime: getEnvAsDuration("DB_MAX_CONN_LIFETIME", "1h"),
			MaxConnIdleTime: getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", "30m"),
		},

		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			Enabled:  getEnvAsBool("REDIS_ENABLED", false),
		},

		Naver: NaverConfig{
			ChartURL:   getEnv("NAVER_CHART_URL", "https://fchart.stock.naver.com/siseJson.naver"),
			RankingURL: getEnv("NAVER_RANKING_URL", "https://stock.naver.com/api/domestic/market/stock/default"),
			RateLimit:  getEnvAsInt("NAVER_RATE_LIMIT", 10),
		},

		KRX: KRXConfig{
			CorpListURL: getEnv("KRX_CORP_LIST_URL", "https://kind.krx.co.kr/corpgeneral/corpList.do"),
		},

		Warehouse: WarehouseConfig{
			Driver:     getEnv("WAREHOUSE_DRIVER", "postgres"),
			SQLitePath: getEnv("WAREHOUSE_SQLITE_PATH", "data/warehouse.db"),
		},

		Storage: StorageConfig{
			Provider: getEnv("STORAGE_PROVIDER", "fs"),
			Bucket:   getEnv("GCS_BUCKET", ""),
			Dir:      getEnv("STORAGE_DIR", "data/remote"),
		},

		DataDir:      getEnv("DATA_DIR", "data"),
		SettingsPath: getEnv("SETTINGS_PATH", "config/settings.yaml"),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),

		StatusPort: getEnv("STATUS_PORT", "8090"),
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// validate checks if required configuration values are set
func (c *Config) validate() error {
	if c.Env != "development" && c.Env != "staging" && c.Env != "production" {
		return fmt.Errorf("ENV must be one of: development, staging, production")
	}

	switch c.Warehouse.Driver {
	case "postgres":
		if c.Database.URL == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres warehouse")
		}
	case "sqlite":
		if c.Warehouse.SQLitePath == "" {
			return fmt.Errorf("WAREHOUSE_SQLITE_PATH is required for the sqlite warehouse")
		}
	default:
		return fmt.Errorf("WAREHOUSE_DRIVER must be one of: postgres, sqlite")
	}

	switch c.Storage.Provider {
	case "gcs":
		if c.Storage.Bucket == "" {
			return fmt.Errorf("GCS_BUCKET is required when STORAGE_PROVIDER=gcs")
		}
	case "fs":
	default:
		return fmt.Errorf("STORAGE_PROVIDER must be one of: gcs, fs")
	}

	return nil
}

// loadEnvFile tries to load .env from multiple locations
func loadEnvFile() {
	paths := []string{".env"}

	if exe, err := os.Executable(); err == nil {
		exeDir := filepath.Dir(exe)
		paths = append(paths,
			filepath.Join(exeDir, ".env"),
			filepath.Join(exeDir, "..", ".env"),
		)
	}

	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			_ = godotenv.Load(path)
			return
		}
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsDuration(key string, defaultValue string) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		valueStr = defaultValue
	}

	duration, err := time.ParseDuration(valueStr)
	if err != nil {
		duration, _ = time.ParseDuration(defaultValue)
	}

	return duration
}
