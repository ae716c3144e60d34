package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config 应用配置
// 全部来自环境变量（可通过 .env 文件加载），未设置时使用默认值
type Config struct {
	HTTPAddr string

	// 数据库配置
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	// Redis配置
	RedisHost          string
	RedisPort          string
	RedisPassword      string
	RedisDB            int
	RedisEventsChannel string // 通知转发频道，为空则不转发

	// 音频来源: local | minio
	AudioSource string
	AudioRoot   string // local 模式下的音频根目录

	// MinIO配置
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool
	MinioRegion    string

	// 认证
	JWTSecret         string
	AdminPasswordHash string // bcrypt 哈希
	TokenTTL          time.Duration

	// 日志
	LogLevel      string
	LogFile       string
	LogMaxSize    int
	LogMaxBackups int
	LogMaxAge     int

	// 交叉淡入淡出
	CrossfadeDefaultMs        int
	CrossfadeDefaultCurve     string
	CrossfadeProgressInterval time.Duration

	// 成员持久化防抖
	PersistDebounce time.Duration

	AtmosphereCacheTTL time.Duration
}

// getEnv gets an environment variable or returns a default value.
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

// getEnvInt gets an environment variable as int or returns a default value.
func getEnvInt(key string, fallback int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if b, err := strconv.ParseBool(strings.TrimSpace(value)); err == nil {
			return b
		}
	}
	return fallback
}

// getEnvDuration 支持 "600ms" 这类写法，也接受纯数字（按毫秒处理）
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, exists := os.LookupEnv(key)
	if !exists {
		return fallback
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if ms, err := strconv.Atoi(value); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return fallback
}

// Load loads configuration from environment variables (via .env file) or defaults.
func Load() *Config {
	// godotenv.Load() 不会覆盖已存在的环境变量
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found or error loading .env, relying on existing environment variables and defaults.")
	}

	return &Config{
		HTTPAddr: getEnv("HTTP_ADDR", ":8080"),

		DBHost:     getEnv("DB_HOST", "127.0.0.1"),
		DBPort:     getEnv("DB_PORT", "3306"),
		DBUser:     getEnv("DB_USER", "root"),
		DBPassword: os.Getenv("DB_PASSWORD"), // 密码不设默认值
		DBName:     getEnv("DB_NAME", "atmomix"),

		RedisHost:          getEnv("REDIS_HOST", "127.0.0.1"),
		RedisPort:          getEnv("REDIS_PORT", "6379"),
		RedisPassword:      getEnv("REDIS_PASSWORD", ""),
		RedisDB:            getEnvInt("REDIS_DB", 0),
		RedisEventsChannel: getEnv("REDIS_EVENTS_CHANNEL", "atmomix:events"),

		AudioSource: getEnv("AUDIO_SOURCE", "local"),
		AudioRoot:   getEnv("AUDIO_ROOT", "."),

		MinioEndpoint:  getEnv("MINIO_ENDPOINT", "127.0.0.1:9000"),
		MinioAccessKey: getEnv("MINIO_ACCESS_KEY", ""),
		MinioSecretKey: getEnv("MINIO_SECRET_KEY", ""),
		MinioBucket:    getEnv("MINIO_BUCKET", "atmomix"),
		MinioUseSSL:    getEnvBool("MINIO_USE_SSL", false),
		MinioRegion:    getEnv("MINIO_REGION", "us-east-1"),

		JWTSecret:         getEnv("JWT_SECRET", ""),
		AdminPasswordHash: getEnv("ADMIN_PASSWORD_HASH", ""),
		TokenTTL:          getEnvDuration("TOKEN_TTL", 24*time.Hour),

		LogLevel:      getEnv("LOG_LEVEL", "info"),
		LogFile:       getEnv("LOG_FILE", ""),
		LogMaxSize:    getEnvInt("LOG_MAX_SIZE", 100),
		LogMaxBackups: getEnvInt("LOG_MAX_BACKUPS", 5),
		LogMaxAge:     getEnvInt("LOG_MAX_AGE", 30),

		CrossfadeDefaultMs:        getEnvInt("CROSSFADE_DEFAULT_MS", 2500),
		CrossfadeDefaultCurve:     getEnv("CROSSFADE_DEFAULT_CURVE", "linear"),
		CrossfadeProgressInterval: getEnvDuration("CROSSFADE_PROGRESS_INTERVAL", 50*time.Millisecond),

		PersistDebounce: getEnvDuration("PERSIST_DEBOUNCE", 600*time.Millisecond),

		AtmosphereCacheTTL: getEnvDuration("ATMOSPHERE_CACHE_TTL", 10*time.Minute),
	}
}
