package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"
)

// 不安全的默认值列表 (生产环境不应使用)
var insecureDefaults = map[string]bool{
	"your-secret-key-change-in-production": true,
	"internal-secret":                      true,
	"internal-service-secret":              true,
	"admin-api-key":                        true,
	"":                                     true,
}

type Config struct {
	Server         ServerConfig
	Database       DatabaseConfig
	Redis          RedisConfig
	JWT            JWTConfig
	Remote         RemoteConfig
	Trial          TrialConfig
	Sweep          SweepConfig
	Notify         NotifyConfig
	AdminAPIKey    string
	InternalSecret string
}

type ServerConfig struct {
	Port string
	Mode string
}

type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	Schema   string
	SSLMode  string
}

type RedisConfig struct {
	URL string
}

type JWTConfig struct {
	SecretKey string
}

// RemoteConfig holds the per-verb watchdog budgets for remote sessions.
// Budgets are configuration, not constants; trial and bundle runs get more
// headroom because they restart services or span three protocols.
type RemoteConfig struct {
	ConnectTimeout time.Duration
	CreateTimeout  time.Duration
	RenewTimeout   time.Duration
	DeleteTimeout  time.Duration
	TrialTimeout   time.Duration
	BundleTimeout  time.Duration
}

type TrialConfig struct {
	Minutes int
}

type SweepConfig struct {
	Interval  time.Duration
	GraceDays int
	// OpRetention bounds how long settled operations stay queryable
	OpRetention time.Duration
}

type NotifyConfig struct {
	GatewayURL string
}

func Load() *Config {
	cfg := &Config{
		Server: ServerConfig{
			Port: getEnv("SERVER_PORT", "8006"),
			Mode: getEnv("GIN_MODE", "release"), // 默认为 release 模式
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "saas_user"),
			Password: getEnv("DB_PASSWORD", "saas_pass"),
			DBName:   getEnv("DB_NAME", "saas_db"),
			Schema:   getEnv("DB_SCHEMA", "provisioning"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			URL: getEnv("REDIS_URL", "redis://localhost:6379/0"),
		},
		JWT: JWTConfig{
			SecretKey: getEnv("JWT_SECRET_KEY", ""),
		},
		Remote: RemoteConfig{
			ConnectTimeout: getEnvDuration("REMOTE_CONNECT_TIMEOUT", 10*time.Second),
			CreateTimeout:  getEnvDuration("REMOTE_CREATE_TIMEOUT", 35*time.Second),
			RenewTimeout:   getEnvDuration("REMOTE_RENEW_TIMEOUT", 35*time.Second),
			DeleteTimeout:  getEnvDuration("REMOTE_DELETE_TIMEOUT", 35*time.Second),
			TrialTimeout:   getEnvDuration("REMOTE_TRIAL_TIMEOUT", 45*time.Second),
			BundleTimeout:  getEnvDuration("REMOTE_BUNDLE_TIMEOUT", 45*time.Second),
		},
		Trial: TrialConfig{
			Minutes: getEnvInt("TRIAL_MINUTES", 60),
		},
		Sweep: SweepConfig{
			Interval:    getEnvDuration("SWEEP_INTERVAL", 10*time.Minute),
			GraceDays:   getEnvInt("SWEEP_GRACE_DAYS", 3),
			OpRetention: getEnvDuration("OPERATION_RETENTION", 30*time.Minute),
		},
		Notify: NotifyConfig{
			GatewayURL: getEnv("NOTIFY_GATEWAY_URL", "http://localhost:8003"),
		},
		AdminAPIKey:    getEnv("ADMIN_API_KEY", ""),
		InternalSecret: getEnv("INTERNAL_SECRET", ""),
	}

	// 日志脱敏: 不记录敏感配置
	log.Printf("[config] Provisioning Service loaded: port=%s db=%s/%s.%s notify=%s sweep=%s",
		cfg.Server.Port, cfg.Database.Host, cfg.Database.DBName, cfg.Database.Schema,
		cfg.Notify.GatewayURL, cfg.Sweep.Interval)

	return cfg
}

// Validate 验证配置有效性，生产环境必须设置安全的密钥
func (c *Config) Validate() error {
	// 检查 JWT 密钥
	if insecureDefaults[c.JWT.SecretKey] {
		return fmt.Errorf("JWT_SECRET_KEY must be set to a secure value (current value is insecure or empty)")
	}
	if len(c.JWT.SecretKey) < 32 {
		return fmt.Errorf("JWT_SECRET_KEY must be at least 32 characters long")
	}

	// 检查内部服务密钥
	if insecureDefaults[c.InternalSecret] {
		return fmt.Errorf("INTERNAL_SECRET must be set to a secure value (current value is insecure or empty)")
	}
	if len(c.InternalSecret) < 32 {
		return fmt.Errorf("INTERNAL_SECRET must be at least 32 characters long")
	}

	// 检查管理密钥
	if insecureDefaults[c.AdminAPIKey] {
		return fmt.Errorf("ADMIN_API_KEY must be set to a secure value (current value is insecure or empty)")
	}
	if len(c.AdminAPIKey) < 32 {
		return fmt.Errorf("ADMIN_API_KEY must be at least 32 characters long")
	}

	if c.Sweep.GraceDays < 1 {
		return fmt.Errorf("SWEEP_GRACE_DAYS must be at least 1")
	}
	if c.Trial.Minutes < 1 {
		return fmt.Errorf("TRIAL_MINUTES must be at least 1")
	}

	return nil
}

func (c *DatabaseConfig) DSN() string {
	return "postgres://" + c.User + ":" + c.Password + "@" + c.Host + ":" + c.Port + "/" + c.DBName + "?sslmode=" + c.SSLMode
}

// MigrateURL is the golang-migrate DSN (pgx5 driver scheme)
func (c *DatabaseConfig) MigrateURL() string {
	return "pgx5://" + c.User + ":" + c.Password + "@" + c.Host + ":" + c.Port + "/" + c.DBName + "?sslmode=" + c.SSLMode
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
