package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application. It is built once at
// startup and passed by reference; nothing mutates it afterwards.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Log      LogConfig      `mapstructure:"log"`
	Security SecurityConfig `mapstructure:"security"`
	Admin    AdminPolicy    `mapstructure:"admin"`
	MFA      MFAConfig      `mapstructure:"mfa"`
	Alerts   AlertConfig    `mapstructure:"alerts"`
	Email    EmailConfig    `mapstructure:"email"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	TLS  struct {
		Enabled  bool   `mapstructure:"enabled"`
		CertFile string `mapstructure:"cert_file"`
		KeyFile  string `mapstructure:"key_file"`
	} `mapstructure:"tls"`
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	Name           string        `mapstructure:"name"`
	User           string        `mapstructure:"user"`
	Password       string        `mapstructure:"password"`
	SSLMode        string        `mapstructure:"ssl_mode"`
	MaxConnections int           `mapstructure:"max_connections"`
	QueryTimeout   time.Duration `mapstructure:"query_timeout"`
}

// DSN returns the PostgreSQL connection string
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Addr returns the Redis address
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// SecurityConfig holds security-related configuration
type SecurityConfig struct {
	Password     PasswordConfig     `mapstructure:"password"`
	Sessions     SessionConfig      `mapstructure:"sessions"`
	RateLimiting RateLimitingConfig `mapstructure:"rate_limiting"`
}

// PasswordConfig holds password hashing configuration
type PasswordConfig struct {
	MinLength         int    `mapstructure:"min_length"`
	Argon2Memory      uint32 `mapstructure:"argon2_memory"`
	Argon2Iterations  uint32 `mapstructure:"argon2_iterations"`
	Argon2Parallelism uint8  `mapstructure:"argon2_parallelism"`
}

// SessionConfig holds session token configuration
type SessionConfig struct {
	// SigningSecret signs session JWTs (HS256). The server refuses to start
	// without one; there is no development fallback key.
	SigningSecret string        `mapstructure:"signing_secret"`
	TTL           time.Duration `mapstructure:"ttl"`
	PreSessionTTL time.Duration `mapstructure:"pre_session_ttl"`
	Issuer        string        `mapstructure:"issuer"`
	// ValidationCacheTTL bounds how long a session validation result may be
	// reused before the stores are consulted again. It is the revocation
	// propagation bound, so Load clamps it to MaxValidationCacheTTL.
	ValidationCacheTTL time.Duration `mapstructure:"validation_cache_ttl"`
}

// MaxValidationCacheTTL caps the session validation cache. A revoked session
// or a locked account must be rejected no later than this after the change.
const MaxValidationCacheTTL = 5 * time.Second

// RateLimitingConfig holds rate limiting configuration
type RateLimitingConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	DefaultLimit  int           `mapstructure:"default_limit"`
	DefaultWindow time.Duration `mapstructure:"default_window"`
}

// AdminPolicy is the deployment's administrative allow-list policy. Empty
// lists mean nobody is admin; RequireTwoFactor defaults to true. Both are the
// most restrictive reading of an absent configuration.
type AdminPolicy struct {
	AdminEmails      []string `mapstructure:"admin_emails"`
	AdminUserIDs     []string `mapstructure:"admin_user_ids"`
	AdminRoleNames   []string `mapstructure:"admin_role_names"`
	RequireTwoFactor bool     `mapstructure:"require_two_factor"`
}

// IsAdminEmail reports whether the email is on the admin allow-list.
func (p AdminPolicy) IsAdminEmail(email string) bool {
	email = strings.ToLower(strings.TrimSpace(email))
	for _, e := range p.AdminEmails {
		if strings.ToLower(strings.TrimSpace(e)) == email {
			return true
		}
	}
	return false
}

// IsAdminUserID reports whether the user id is on the admin allow-list.
func (p AdminPolicy) IsAdminUserID(id string) bool {
	for _, v := range p.AdminUserIDs {
		if v == id {
			return true
		}
	}
	return false
}

// IsAdminRoleName reports whether the role name is on the admin allow-list.
func (p AdminPolicy) IsAdminRoleName(name string) bool {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, v := range p.AdminRoleNames {
		if strings.ToLower(strings.TrimSpace(v)) == name {
			return true
		}
	}
	return false
}

// MFAConfig holds MFA configuration
type MFAConfig struct {
	TOTP     TOTPConfig     `mapstructure:"totp"`
	WebAuthn WebAuthnConfig `mapstructure:"webauthn"`
	EmailOTP EmailOTPConfig `mapstructure:"email_otp"`
}

// TOTPConfig holds TOTP configuration
type TOTPConfig struct {
	Issuer string `mapstructure:"issuer"`
	Digits int    `mapstructure:"digits"`
	Period int    `mapstructure:"period"`
}

// WebAuthnConfig holds WebAuthn (biometric / hardware key) configuration
type WebAuthnConfig struct {
	RPID      string   `mapstructure:"rp_id"`
	RPOrigins []string `mapstructure:"rp_origins"`
	RPName    string   `mapstructure:"rp_name"`
}

// EmailOTPConfig holds email one-time-code configuration
type EmailOTPConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Length   int           `mapstructure:"length"`
	TTL      time.Duration `mapstructure:"ttl"`
	Cooldown time.Duration `mapstructure:"cooldown"`
}

// AlertConfig holds the security-alert threshold rules evaluated over the
// audit stream.
type AlertConfig struct {
	FailedLoginThreshold int           `mapstructure:"failed_login_threshold"`
	FailedLoginWindow    time.Duration `mapstructure:"failed_login_window"`
	ForbiddenThreshold   int           `mapstructure:"forbidden_threshold"`
	ForbiddenWindow      time.Duration `mapstructure:"forbidden_window"`
	// NotifyEmails receive a notification when an alert fires.
	NotifyEmails []string `mapstructure:"notify_emails"`
}

// EmailConfig holds email sending configuration
type EmailConfig struct {
	// Provider is the email provider to use: "gmail" or "none"
	Provider string `mapstructure:"provider"`
	// AppName is the application name shown in emails
	AppName string `mapstructure:"app_name"`
	// Gmail holds Gmail-specific configuration
	Gmail GmailEmailConfig `mapstructure:"gmail"`
}

// GmailEmailConfig holds Gmail API configuration
type GmailEmailConfig struct {
	// CredentialsJSON is the service account credentials JSON content
	CredentialsJSON string `mapstructure:"credentials_json"`
	// ClientID for OAuth2 token-based auth (alternative to service account)
	ClientID string `mapstructure:"client_id"`
	// ClientSecret for OAuth2 token-based auth
	ClientSecret string `mapstructure:"client_secret"`
	// RefreshToken for OAuth2 token-based auth
	RefreshToken string `mapstructure:"refresh_token"`
	// SenderAddress is the "From" email address
	SenderAddress string `mapstructure:"sender_address"`
	// SenderName is the display name for the sender
	SenderName string `mapstructure:"sender_name"`
}

// Load reads configuration from file and environment variables
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/gatewarden")

	setDefaults(v)

	// Config file is optional; defaults and env vars cover everything
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix("GATEWARDEN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.Security.Sessions.ValidationCacheTTL > MaxValidationCacheTTL {
		cfg.Security.Sessions.ValidationCacheTTL = MaxValidationCacheTTL
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.tls.enabled", false)

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "gatewarden")
	v.SetDefault("database.user", "gatewarden")
	v.SetDefault("database.password", "")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_connections", 25)
	v.SetDefault("database.query_timeout", "3s")

	// Redis defaults
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Security defaults
	v.SetDefault("security.password.min_length", 12)
	v.SetDefault("security.password.argon2_memory", 65536)
	v.SetDefault("security.password.argon2_iterations", 3)
	v.SetDefault("security.password.argon2_parallelism", 4)

	v.SetDefault("security.sessions.ttl", "8h")
	v.SetDefault("security.sessions.pre_session_ttl", "5m")
	v.SetDefault("security.sessions.issuer", "gatewarden")
	v.SetDefault("security.sessions.validation_cache_ttl", "2s")

	v.SetDefault("security.rate_limiting.enabled", true)
	v.SetDefault("security.rate_limiting.default_limit", 100)
	v.SetDefault("security.rate_limiting.default_window", "1m")

	// Admin policy defaults: empty allow-lists, two-factor required.
	v.SetDefault("admin.admin_emails", []string{})
	v.SetDefault("admin.admin_user_ids", []string{})
	v.SetDefault("admin.admin_role_names", []string{})
	v.SetDefault("admin.require_two_factor", true)

	// MFA defaults
	v.SetDefault("mfa.totp.issuer", "Gatewarden")
	v.SetDefault("mfa.totp.digits", 6)
	v.SetDefault("mfa.totp.period", 30)

	v.SetDefault("mfa.webauthn.rp_id", "localhost")
	v.SetDefault("mfa.webauthn.rp_origins", []string{"http://localhost:3000"})
	v.SetDefault("mfa.webauthn.rp_name", "Gatewarden")

	v.SetDefault("mfa.email_otp.enabled", false)
	v.SetDefault("mfa.email_otp.length", 6)
	v.SetDefault("mfa.email_otp.ttl", "10m")
	v.SetDefault("mfa.email_otp.cooldown", "60s")

	// Alert thresholds
	v.SetDefault("alerts.failed_login_threshold", 10)
	v.SetDefault("alerts.failed_login_window", "60s")
	v.SetDefault("alerts.forbidden_threshold", 5)
	v.SetDefault("alerts.forbidden_window", "5m")
	v.SetDefault("alerts.notify_emails", []string{})

	// Email defaults
	v.SetDefault("email.provider", "none")
	v.SetDefault("email.app_name", "Gatewarden")
	v.SetDefault("email.gmail.sender_address", "")
	v.SetDefault("email.gmail.sender_name", "Gatewarden")
}
