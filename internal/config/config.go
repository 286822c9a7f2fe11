package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server       ServerConfig       `yaml:"server"`
	App          AppConfig          `yaml:"app"`
	Database     DatabaseConfig     `yaml:"database"`
	Redis        RedisConfig        `yaml:"redis"`
	JWT          JWTConfig          `yaml:"jwt"`
	Log          LogConfig          `yaml:"log"`
	Email        EmailConfig        `yaml:"email"`
	AMQP         AMQPConfig         `yaml:"amqp"`
	Notification NotificationConfig `yaml:"notification"`
	Scheduler    SchedulerConfig    `yaml:"scheduler"`
	Security     SecurityConfig     `yaml:"security"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	Mode string `yaml:"mode"`
}

// AppConfig describes the public face of the web application.
type AppConfig struct {
	Name    string `yaml:"name"`
	BaseURL string `yaml:"base_url"`
}

type DatabaseConfig struct {
	Driver       string `yaml:"driver"` // mysql, postgres, sqlite
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	Username     string `yaml:"username"`
	Password     string `yaml:"password"`
	Database     string `yaml:"database"`
	Charset      string `yaml:"charset"`
	SSLMode      string `yaml:"ssl_mode"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
	MaxOpenConns int    `yaml:"max_open_conns"`
}

// DSN builds the driver specific connection string. For sqlite the
// database field is the file path.
func (d *DatabaseConfig) DSN() string {
	switch d.Driver {
	case "postgres":
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			d.Host, d.Port, d.Username, d.Password, d.Database, d.SSLMode)
	case "sqlite":
		return d.Database
	default:
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=%s&parseTime=True&loc=Local",
			d.Username, d.Password, d.Host, d.Port, d.Database, d.Charset)
	}
}

type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

func (r *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

type JWTConfig struct {
	Secret      string `yaml:"secret"`
	ExpireHours int    `yaml:"expire_hours"`
}

type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, console
	File   string `yaml:"file"`
}

type EmailConfig struct {
	SMTPHost string `yaml:"smtp_host"`
	SMTPPort int    `yaml:"smtp_port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
}

type AMQPConfig struct {
	URL      string `yaml:"url"`
	Exchange string `yaml:"exchange"`
}

// Delivery modes for outbound channels.
const (
	DeliveryModeLog    = "log"
	DeliveryModeDirect = "direct"
	DeliveryModeAMQP   = "amqp"
)

type NotificationConfig struct {
	DeliveryMode     string        `yaml:"delivery_mode"`
	Timezone         string        `yaml:"timezone"`
	DateLayout       string        `yaml:"date_layout"`
	DispatchTimeout  time.Duration `yaml:"dispatch_timeout"`
	HTTPTimeout      time.Duration `yaml:"http_timeout"`
	LogRetentionDays int           `yaml:"log_retention_days"`
	ReminderLockTTL  time.Duration `yaml:"reminder_lock_ttl"`
}

// Location resolves the display time zone, falling back to local time.
func (n *NotificationConfig) Location() *time.Location {
	if n.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(n.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

type SchedulerConfig struct {
	Enabled      bool   `yaml:"enabled"`
	ReminderSpec string `yaml:"reminder_spec"`
	CleanupSpec  string `yaml:"cleanup_spec"`
}

type SecurityConfig struct {
	AllowedOrigins  []string `yaml:"allowed_origins"`
	RateLimitPerMin int      `yaml:"rate_limit_per_min"`
	AuthLimitPerMin int      `yaml:"auth_limit_per_min"`
}

var globalConfig *Config

// Load reads the YAML file, applies .env and environment overrides, fills
// defaults and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}

	globalConfig = cfg
	return cfg, nil
}

// Parse builds a Config from raw YAML.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	// .env is optional
	_ = godotenv.Load()
	applyEnv(&cfg)

	setDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func Get() *Config {
	return globalConfig
}

// Set replaces the global config; used by tools and tests.
func Set(cfg *Config) {
	globalConfig = cfg
}

// applyEnv lets deployment secrets live outside the YAML file.
func applyEnv(cfg *Config) {
	envString("BOOKMYENV_SERVER_MODE", &cfg.Server.Mode)
	envInt("BOOKMYENV_SERVER_PORT", &cfg.Server.Port)
	envString("BOOKMYENV_BASE_URL", &cfg.App.BaseURL)
	envString("BOOKMYENV_DB_DRIVER", &cfg.Database.Driver)
	envString("BOOKMYENV_DB_HOST", &cfg.Database.Host)
	envInt("BOOKMYENV_DB_PORT", &cfg.Database.Port)
	envString("BOOKMYENV_DB_USER", &cfg.Database.Username)
	envString("BOOKMYENV_DB_PASSWORD", &cfg.Database.Password)
	envString("BOOKMYENV_DB_NAME", &cfg.Database.Database)
	envString("BOOKMYENV_REDIS_HOST", &cfg.Redis.Host)
	envString("BOOKMYENV_REDIS_PASSWORD", &cfg.Redis.Password)
	envString("BOOKMYENV_JWT_SECRET", &cfg.JWT.Secret)
	envString("BOOKMYENV_SMTP_PASSWORD", &cfg.Email.Password)
	envString("BOOKMYENV_AMQP_URL", &cfg.AMQP.URL)
	envString("BOOKMYENV_DELIVERY_MODE", &cfg.Notification.DeliveryMode)
	envString("BOOKMYENV_LOG_LEVEL", &cfg.Log.Level)
	if v, ok := os.LookupEnv("BOOKMYENV_ALLOWED_ORIGINS"); ok && v != "" {
		cfg.Security.AllowedOrigins = strings.Split(v, ",")
	}
}

func envString(key string, dst *string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Mode == "" {
		cfg.Server.Mode = "debug"
	}
	if cfg.App.Name == "" {
		cfg.App.Name = "BookMyEnv"
	}
	if cfg.App.BaseURL == "" {
		cfg.App.BaseURL = "http://localhost:3000"
	}
	cfg.App.BaseURL = strings.TrimRight(cfg.App.BaseURL, "/")

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "mysql"
	}
	if cfg.Database.Charset == "" {
		cfg.Database.Charset = "utf8mb4"
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 10
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 50
	}

	if cfg.JWT.ExpireHours == 0 {
		cfg.JWT.ExpireHours = 24
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}

	if cfg.AMQP.Exchange == "" {
		cfg.AMQP.Exchange = "bookmyenv.notifications"
	}

	n := &cfg.Notification
	if n.DeliveryMode == "" {
		n.DeliveryMode = DeliveryModeLog
	}
	if n.DateLayout == "" {
		n.DateLayout = "Jan 2, 2006 15:04"
	}
	if n.DispatchTimeout == 0 {
		n.DispatchTimeout = 30 * time.Second
	}
	if n.HTTPTimeout == 0 {
		n.HTTPTimeout = 10 * time.Second
	}
	if n.LogRetentionDays == 0 {
		n.LogRetentionDays = 90
	}
	if n.ReminderLockTTL == 0 {
		n.ReminderLockTTL = 4 * time.Minute
	}

	if cfg.Scheduler.ReminderSpec == "" {
		cfg.Scheduler.ReminderSpec = "@every 5m"
	}
	if cfg.Scheduler.CleanupSpec == "" {
		cfg.Scheduler.CleanupSpec = "0 3 * * *"
	}

	if cfg.Security.RateLimitPerMin == 0 {
		cfg.Security.RateLimitPerMin = 120
	}
	if cfg.Security.AuthLimitPerMin == 0 {
		cfg.Security.AuthLimitPerMin = 10
	}
}

func validate(cfg *Config) error {
	switch cfg.Database.Driver {
	case "mysql", "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported database driver %q", cfg.Database.Driver)
	}

	switch cfg.Notification.DeliveryMode {
	case DeliveryModeLog, DeliveryModeDirect:
	case DeliveryModeAMQP:
		if cfg.AMQP.URL == "" {
			return fmt.Errorf("amqp.url is required when delivery_mode is %q", DeliveryModeAMQP)
		}
	default:
		return fmt.Errorf("unsupported notification.delivery_mode %q", cfg.Notification.DeliveryMode)
	}

	if cfg.JWT.Secret == "" || cfg.JWT.Secret == "change-me" {
		if cfg.Server.Mode == "release" {
			return fmt.Errorf("jwt.secret must be set in release mode")
		}
		cfg.JWT.Secret = generateRandomSecret(32)
		fmt.Println("[WARNING] using a generated JWT secret, configure jwt.secret for production")
	}
	if len(cfg.JWT.Secret) < 32 && cfg.Server.Mode == "release" {
		return fmt.Errorf("jwt.secret must be at least 32 characters")
	}

	return nil
}

func generateRandomSecret(length int) string {
	bytes := make([]byte, length)
	rand.Read(bytes)
	return hex.EncodeToString(bytes)
}
