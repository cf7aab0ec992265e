package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Store drivers.
const (
	StoreDriverMemory   = "memory"
	StoreDriverPostgres = "postgres"
)

// Claim resolution strategies.
const (
	ClaimStrategyIDThenCredential = "id_then_credential"
	ClaimStrategyCredentialFirst  = "credential_first"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database     DatabaseConfig
	Redis        RedisConfig
	CORS         CORSConfig
	Log          LogConfig
	Store        StoreConfig
	Cache        CacheConfig
	Registration RegistrationConfig
	Session      SessionConfig
	Admin        AdminConfig
	Storage      StorageConfig
	Mail         MailConfig
	Notify       NotifyConfig
	NATS         NATSConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// StoreConfig selects and tunes the tabular store adapter.
type StoreConfig struct {
	Driver          string
	SeedFile        string
	CallTimeout     time.Duration
	ReadRetries     int
	StudentsTable   string
	TopicsTable     string
	CredentialTable string
	ReadRange       string
}

// CacheConfig governs the process-wide table cache freshness window.
type CacheConfig struct {
	Enabled  bool
	UseRedis bool
	TTL      time.Duration
}

// RegistrationConfig holds claim coordination switches.
type RegistrationConfig struct {
	ClaimStrategy string
	MirrorLedger  bool
	Timezone      string
}

// Location resolves Timezone, falling back to UTC when unknown.
func (c RegistrationConfig) Location() *time.Location {
	if c.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// SessionConfig signs the multi-step claim session token.
type SessionConfig struct {
	Secret string
	TTL    time.Duration
}

// AdminConfig protects operator endpoints.
type AdminConfig struct {
	APIKey string
}

// StorageConfig configures artifact and receipt storage.
type StorageConfig struct {
	Dir                string
	SignedURLSecret    string
	SignedURLTTL       time.Duration
	MaxDepositFileSize int64
}

// MailConfig configures the SMTP notification sender.
type MailConfig struct {
	Host           string
	Port           int
	Username       string
	Password       string
	Sender         string
	SupportContact string
	Footer         string
}

// NotifyConfig sizes the notification worker pool.
type NotifyConfig struct {
	Workers int
	Retries int
}

// NATSConfig configures event publishing.
type NATSConfig struct {
	URL           string
	SubjectPrefix string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	return fromViper(v), nil
}

func fromViper(v *viper.Viper) *Config {
	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	readRetries := v.GetInt("STORE_READ_RETRIES")
	if readRetries < 0 {
		readRetries = 0
	}
	cfg.Store = StoreConfig{
		Driver:          strings.ToLower(v.GetString("STORE_DRIVER")),
		SeedFile:        v.GetString("STORE_SEED_FILE"),
		CallTimeout:     parseDuration(v.GetString("STORE_CALL_TIMEOUT"), 5*time.Second),
		ReadRetries:     readRetries,
		StudentsTable:   v.GetString("SHEET_STUDENTS"),
		TopicsTable:     v.GetString("SHEET_TOPICS"),
		CredentialTable: v.GetString("SHEET_CREDENTIALS"),
		ReadRange:       v.GetString("SHEET_READ_RANGE"),
	}

	cfg.Cache = CacheConfig{
		Enabled:  v.GetBool("CACHE_ENABLED"),
		UseRedis: v.GetBool("CACHE_USE_REDIS"),
		TTL:      parseDuration(v.GetString("CACHE_TTL"), 2*time.Minute),
	}

	cfg.Registration = RegistrationConfig{
		ClaimStrategy: normalizeStrategy(v.GetString("CLAIM_STRATEGY")),
		MirrorLedger:  v.GetBool("LEDGER_MIRROR_ENABLED"),
		Timezone:      v.GetString("TIMEZONE"),
	}

	cfg.Session = SessionConfig{
		Secret: v.GetString("SESSION_SECRET"),
		TTL:    parseDuration(v.GetString("SESSION_TTL"), 15*time.Minute),
	}

	cfg.Admin = AdminConfig{APIKey: v.GetString("ADMIN_API_KEY")}

	maxDeposit := v.GetInt64("DEPOSIT_MAX_FILE_SIZE")
	if maxDeposit <= 0 {
		maxDeposit = 20 * 1024 * 1024
	}
	cfg.Storage = StorageConfig{
		Dir:                v.GetString("STORAGE_DIR"),
		SignedURLSecret:    v.GetString("SIGNED_URL_SECRET"),
		SignedURLTTL:       parseDuration(v.GetString("SIGNED_URL_TTL"), 30*time.Minute),
		MaxDepositFileSize: maxDeposit,
	}

	cfg.Mail = MailConfig{
		Host:           v.GetString("SMTP_HOST"),
		Port:           v.GetInt("SMTP_PORT"),
		Username:       v.GetString("SMTP_USERNAME"),
		Password:       v.GetString("SMTP_PASSWORD"),
		Sender:         v.GetString("MAIL_SENDER"),
		SupportContact: v.GetString("MAIL_SUPPORT_CONTACT"),
		Footer:         v.GetString("MAIL_FOOTER"),
	}

	cfg.Notify = NotifyConfig{
		Workers: v.GetInt("NOTIFY_WORKERS"),
		Retries: v.GetInt("NOTIFY_RETRIES"),
	}

	cfg.NATS = NATSConfig{
		URL:           v.GetString("NATS_URL"),
		SubjectPrefix: v.GetString("NATS_SUBJECT_PREFIX"),
	}

	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "memo_registry")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("STORE_DRIVER", StoreDriverMemory)
	v.SetDefault("STORE_SEED_FILE", "")
	v.SetDefault("STORE_CALL_TIMEOUT", "5s")
	v.SetDefault("STORE_READ_RETRIES", 2)
	v.SetDefault("SHEET_STUDENTS", "Students")
	v.SetDefault("SHEET_TOPICS", "Topics")
	v.SetDefault("SHEET_CREDENTIALS", "SupervisorCredentials")
	v.SetDefault("SHEET_READ_RANGE", "A1:Z2000")

	v.SetDefault("CACHE_ENABLED", true)
	v.SetDefault("CACHE_USE_REDIS", false)
	v.SetDefault("CACHE_TTL", "2m")

	v.SetDefault("CLAIM_STRATEGY", ClaimStrategyIDThenCredential)
	v.SetDefault("LEDGER_MIRROR_ENABLED", true)
	v.SetDefault("TIMEZONE", "UTC")

	v.SetDefault("SESSION_SECRET", "dev_session_secret")
	v.SetDefault("SESSION_TTL", "15m")
	v.SetDefault("ADMIN_API_KEY", "")

	v.SetDefault("STORAGE_DIR", "./storage")
	v.SetDefault("SIGNED_URL_SECRET", "dev_signed_url_secret")
	v.SetDefault("SIGNED_URL_TTL", "30m")
	v.SetDefault("DEPOSIT_MAX_FILE_SIZE", 20*1024*1024)

	v.SetDefault("SMTP_HOST", "")
	v.SetDefault("SMTP_PORT", 587)
	v.SetDefault("SMTP_USERNAME", "")
	v.SetDefault("SMTP_PASSWORD", "")
	v.SetDefault("MAIL_SENDER", "")
	v.SetDefault("MAIL_SUPPORT_CONTACT", "")
	v.SetDefault("MAIL_FOOTER", "")

	v.SetDefault("NOTIFY_WORKERS", 2)
	v.SetDefault("NOTIFY_RETRIES", 3)

	v.SetDefault("NATS_URL", "")
	v.SetDefault("NATS_SUBJECT_PREFIX", "memo")
}

func normalizeStrategy(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case ClaimStrategyCredentialFirst, "credential-first", "credential":
		return ClaimStrategyCredentialFirst
	default:
		return ClaimStrategyIDThenCredential
	}
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
