// Package config provides configuration loading and validation.
//
// Settings are resolved once at startup with the following precedence:
// environment variables, then an optional YAML file, then built-in defaults.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Supported values for enumerated settings.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	BackendDrive = "drive"
	BackendS3    = "s3"

	WebhookModeAsync = "async"
	WebhookModeSync  = "sync"
)

// Config holds all application configuration.
type Config struct {
	LogLevel          string `yaml:"log_level"`           // debug, info, warn, error
	ListenAddr        string `yaml:"listen_addr"`         // Server listen address (e.g., ":8080")
	MetricsListenAddr string `yaml:"metrics_listen_addr"` // Metrics listener address (e.g., "localhost:9090")

	DatabaseDriver string `yaml:"database_driver"` // sqlite or postgres
	DatabaseURL    string `yaml:"database_url"`    // file path for sqlite, DSN for postgres

	SigningSecret  string        `yaml:"signing_secret"`
	SignedURLTTL   time.Duration `yaml:"signed_url_ttl"`
	SignedURLAuthz bool          `yaml:"signed_url_authz"` // apply the per-owner access overlay when issuing
	PublicBaseURL  string        `yaml:"public_base_url"`

	CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`

	MPAccessToken      string        `yaml:"mp_access_token"`
	MPAPIURL           string        `yaml:"mp_api_url"` // empty = provider default
	MPWebhookSecret    string        `yaml:"mp_webhook_secret"`
	WebhookMode        string        `yaml:"webhook_mode"`
	WebhookTimeout     time.Duration `yaml:"webhook_timeout"`
	WebhookConcurrency int           `yaml:"webhook_concurrency"`

	StorageBackend       string `yaml:"storage_backend"`
	DriveCredentialsJSON string `yaml:"drive_credentials_json"`
	DriveCredentialsFile string `yaml:"drive_credentials_file"`
	DriveRefreshToken    string `yaml:"drive_refresh_token"`
	DriveRootFolderID    string `yaml:"drive_root_folder_id"`

	S3Bucket    string `yaml:"s3_bucket"`
	S3Region    string `yaml:"s3_region"`
	S3Endpoint  string `yaml:"s3_endpoint"`
	S3AccessKey string `yaml:"s3_access_key"`
	S3SecretKey string `yaml:"s3_secret_key"`
	S3Prefix    string `yaml:"s3_prefix"`

	IdentityProjectID string   `yaml:"identity_project_id"`
	IdentityJWKSURL   string   `yaml:"identity_jwks_url"`
	SuperAdminUIDs    []string `yaml:"super_admin_uids"`

	OpsAPIKeyHash  string `yaml:"ops_api_key_hash"` // bcrypt hash guarding the ops API
	UploadMaxBytes int64  `yaml:"upload_max_bytes"`

	// DriveCredentials is the resolved OAuth client credential document.
	DriveCredentials []byte `yaml:"-"`
}

// ConfigError lists every problem found while resolving configuration.
// It is fatal: the process must not start serving with it.
type ConfigError struct {
	Problems []string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return "invalid configuration: " + strings.Join(e.Problems, "; ")
}

// Defaults returns a Config populated with development defaults.
func Defaults() *Config {
	return &Config{
		LogLevel:           "info",
		ListenAddr:         ":8080",
		MetricsListenAddr:  "localhost:9090",
		DatabaseDriver:     DriverSQLite,
		DatabaseURL:        "/data/checklist.db",
		SignedURLTTL:       15 * time.Minute,
		CORSAllowedOrigins: []string{"*"},
		WebhookMode:        WebhookModeAsync,
		WebhookTimeout:     30 * time.Second,
		WebhookConcurrency: 8,
		StorageBackend:     BackendDrive,
		S3Prefix:           "fotos/",
		IdentityJWKSURL:    "https://www.googleapis.com/service_accounts/v1/jwk/securetoken@system.gserviceaccount.com",
		UploadMaxBytes:     15 << 20,
	}
}

// Load resolves configuration from defaults, the YAML file at path (if path
// is empty, CONFIG_FILE is consulted), and environment variables.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path == "" {
		path = os.Getenv("CONFIG_FILE")
	}
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.loadEnv(); err != nil {
		return nil, err
	}

	if err := cfg.resolveDriveCredentials(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return &ConfigError{Problems: []string{fmt.Sprintf("read config file %s: %v", path, err)}}
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return &ConfigError{Problems: []string{fmt.Sprintf("parse config file %s: %v", path, err)}}
	}
	return nil
}

func (c *Config) loadEnv() error {
	var problems []string

	setString(&c.LogLevel, "LOG_LEVEL")
	setString(&c.ListenAddr, "LISTEN_ADDR")
	setString(&c.MetricsListenAddr, "METRICS_LISTEN_ADDR")
	setString(&c.DatabaseDriver, "DATABASE_DRIVER")
	setString(&c.DatabaseURL, "DATABASE_URL")
	setString(&c.SigningSecret, "SIGNING_SECRET")
	setString(&c.PublicBaseURL, "PUBLIC_BASE_URL")
	setString(&c.MPAccessToken, "MP_ACCESS_TOKEN")
	setString(&c.MPAPIURL, "MP_API_URL")
	setString(&c.MPWebhookSecret, "MP_WEBHOOK_SECRET")
	setString(&c.WebhookMode, "WEBHOOK_MODE")
	setString(&c.StorageBackend, "STORAGE_BACKEND")
	setString(&c.DriveCredentialsJSON, "DRIVE_CREDENTIALS_JSON")
	setString(&c.DriveCredentialsFile, "DRIVE_CREDENTIALS_FILE")
	setString(&c.DriveRefreshToken, "DRIVE_REFRESH_TOKEN")
	setString(&c.DriveRootFolderID, "DRIVE_ROOT_FOLDER_ID")
	setString(&c.S3Bucket, "S3_BUCKET")
	setString(&c.S3Region, "S3_REGION")
	setString(&c.S3Endpoint, "S3_ENDPOINT")
	setString(&c.S3AccessKey, "S3_ACCESS_KEY")
	setString(&c.S3SecretKey, "S3_SECRET_KEY")
	setString(&c.S3Prefix, "S3_PREFIX")
	setString(&c.IdentityProjectID, "IDENTITY_PROJECT_ID")
	setString(&c.IdentityJWKSURL, "IDENTITY_JWKS_URL")
	setString(&c.OpsAPIKeyHash, "OPS_API_KEY_HASH")
	setList(&c.CORSAllowedOrigins, "CORS_ALLOWED_ORIGINS")
	setList(&c.SuperAdminUIDs, "SUPER_ADMIN_UIDS")

	if err := setDuration(&c.SignedURLTTL, "SIGNED_URL_TTL"); err != nil {
		problems = append(problems, err.Error())
	}
	if err := setDuration(&c.WebhookTimeout, "WEBHOOK_TIMEOUT"); err != nil {
		problems = append(problems, err.Error())
	}
	if err := setBool(&c.SignedURLAuthz, "SIGNED_URL_AUTHZ"); err != nil {
		problems = append(problems, err.Error())
	}
	if err := setInt(&c.WebhookConcurrency, "WEBHOOK_CONCURRENCY"); err != nil {
		problems = append(problems, err.Error())
	}
	if v := os.Getenv("UPLOAD_MAX_BYTES"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			problems = append(problems, fmt.Sprintf("UPLOAD_MAX_BYTES: %v", err))
		} else {
			c.UploadMaxBytes = n
		}
	}

	if len(problems) > 0 {
		return &ConfigError{Problems: problems}
	}
	return nil
}

// resolveDriveCredentials picks the Drive credential (OAuth client or service
// account key): inline JSON first, then the file path. Absence is reported by
// Validate.
func (c *Config) resolveDriveCredentials() error {
	switch {
	case c.DriveCredentialsJSON != "":
		c.DriveCredentials = []byte(c.DriveCredentialsJSON)
	case c.DriveCredentialsFile != "":
		data, err := os.ReadFile(c.DriveCredentialsFile)
		if err != nil {
			return &ConfigError{Problems: []string{fmt.Sprintf("read DRIVE_CREDENTIALS_FILE: %v", err)}}
		}
		c.DriveCredentials = data
	default:
		return nil
	}

	if !json.Valid(c.DriveCredentials) {
		return &ConfigError{Problems: []string{"drive credentials are not valid JSON"}}
	}
	return nil
}

// DriveServiceAccount reports whether the Drive credential is a service
// account key, which authenticates without a refresh token.
func (c *Config) DriveServiceAccount() bool {
	var doc struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(c.DriveCredentials, &doc); err != nil {
		return false
	}
	return doc.Type == "service_account"
}

// IdentityEnabled reports whether identity tokens can be verified.
func (c *Config) IdentityEnabled() bool {
	return c.IdentityProjectID != ""
}

// Validate checks all configuration constraints and reports every violation at once.
func (c *Config) Validate() error {
	var problems []string

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		problems = append(problems, fmt.Sprintf("LOG_LEVEL %q is invalid (must be: debug, info, warn, error)", c.LogLevel))
	}

	if c.SigningSecret == "" {
		problems = append(problems, "SIGNING_SECRET is required")
	}
	if c.SignedURLTTL <= 0 {
		problems = append(problems, "SIGNED_URL_TTL must be positive")
	}
	if c.PublicBaseURL == "" {
		problems = append(problems, "PUBLIC_BASE_URL is required")
	}
	if c.MPAccessToken == "" {
		problems = append(problems, "MP_ACCESS_TOKEN is required")
	}

	switch c.WebhookMode {
	case WebhookModeAsync, WebhookModeSync:
	default:
		problems = append(problems, fmt.Sprintf("WEBHOOK_MODE %q is invalid (must be: async, sync)", c.WebhookMode))
	}
	if c.WebhookConcurrency <= 0 {
		problems = append(problems, "WEBHOOK_CONCURRENCY must be positive")
	}

	switch c.DatabaseDriver {
	case DriverSQLite, DriverPostgres:
		if c.DatabaseURL == "" {
			problems = append(problems, "DATABASE_URL is required")
		}
	default:
		problems = append(problems, fmt.Sprintf("DATABASE_DRIVER %q is invalid (must be: sqlite, postgres)", c.DatabaseDriver))
	}

	switch c.StorageBackend {
	case BackendDrive:
		if len(c.DriveCredentials) == 0 {
			problems = append(problems, "DRIVE_CREDENTIALS_JSON or DRIVE_CREDENTIALS_FILE is required")
		}
		if c.DriveRefreshToken == "" && !c.DriveServiceAccount() {
			problems = append(problems, "DRIVE_REFRESH_TOKEN is required for OAuth client credentials")
		}
		if c.DriveRootFolderID == "" {
			problems = append(problems, "DRIVE_ROOT_FOLDER_ID is required")
		}
	case BackendS3:
		if c.S3Bucket == "" {
			problems = append(problems, "S3_BUCKET is required")
		}
		if c.S3Region == "" {
			problems = append(problems, "S3_REGION is required")
		}
	default:
		problems = append(problems, fmt.Sprintf("STORAGE_BACKEND %q is invalid (must be: drive, s3)", c.StorageBackend))
	}

	if c.SignedURLAuthz && !c.IdentityEnabled() {
		problems = append(problems, "SIGNED_URL_AUTHZ requires IDENTITY_PROJECT_ID")
	}
	if c.UploadMaxBytes <= 0 {
		problems = append(problems, "UPLOAD_MAX_BYTES must be positive")
	}

	if len(problems) > 0 {
		return &ConfigError{Problems: problems}
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setList(dst *[]string, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	*dst = out
}

// setDuration accepts Go duration strings ("15m") or bare seconds ("900").
func setDuration(dst *time.Duration, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	if secs, err := strconv.Atoi(v); err == nil {
		*dst = time.Duration(secs) * time.Second
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = d
	return nil
}

func setBool(dst *bool, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = b
	return nil
}

func setInt(dst *int, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}
