package config

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config represents the application configuration
type Config struct {
	Server   ServerConfig   `json:"server"`
	Database DatabaseConfig `json:"database"`
	Storage  StorageConfig  `json:"storage"`
	Signing  SigningConfig  `json:"signing"`
	Auth     AuthConfig     `json:"auth"`
	Workers  WorkersConfig  `json:"workers"`
	Logging  LoggingConfig  `json:"logging"`
}

// ServerConfig represents server configuration
type ServerConfig struct {
	Host         string   `json:"host"`
	Port         int      `json:"port"`
	ReadTimeout  Duration `json:"read_timeout"`
	WriteTimeout Duration `json:"write_timeout"`
	IdleTimeout  Duration `json:"idle_timeout"`
}

// DatabaseConfig represents database configuration
type DatabaseConfig struct {
	Host           string   `json:"host"`
	Port           int      `json:"port"`
	User           string   `json:"user"`
	Password       string   `json:"password"`
	DBName         string   `json:"db_name"`
	SSLMode        string   `json:"ssl_mode"`
	MaxConnections int      `json:"max_connections"`
	MaxIdleConns   int      `json:"max_idle_conns"`
	MaxLifetime    Duration `json:"max_lifetime"`
}

// StorageConfig selects where document metadata and content live. The
// memory driver keeps both in process and needs no database.
type StorageConfig struct {
	Driver          string `json:"driver"`
	Bucket          string `json:"bucket"`
	Region          string `json:"region"`
	Endpoint        string `json:"endpoint"`
	UsePathStyle    bool   `json:"use_path_style"`
	AccessKeyID     string `json:"access_key_id"`
	SecretAccessKey string `json:"secret_access_key"`
}

type SigningConfig struct {
	TempDir          string   `json:"temp_dir"`
	ServiceID        string   `json:"service_id"`
	HeadlineFormat   string   `json:"headline_format"`
	SignerLineFormat string   `json:"signer_line_format"`
	DateLayout       string   `json:"date_layout"`
	FontSize         float64  `json:"font_size"`
	PDFA             bool     `json:"pdfa"`
	Digest           string   `json:"digest"`
	Reason           string   `json:"reason"`
	Location         string   `json:"location"`
	DocumentTimeout  Duration `json:"document_timeout"`
	KeyFolder        string   `json:"key_folder"`
	// MasterKey is the base64 encoded 32 byte key protecting stored unwrap secrets.
	MasterKey string `json:"master_key"`
}

type AuthConfig struct {
	JWTSecret      string `json:"jwt_secret"`
	Issuer         string `json:"issuer"`
	PrincipalClaim string `json:"principal_claim"`
}

type WorkersConfig struct {
	JanitorSchedule string   `json:"janitor_schedule"`
	WorkspaceMaxAge Duration `json:"workspace_max_age"`
	AuditRetention  Duration `json:"audit_retention"`
}

// LoggingConfig
type LoggingConfig struct {
	Level string `json:"level"`
}

// Duration accepts either a Go duration string or a number of seconds.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		v, err := time.ParseDuration(s)
		if err != nil {
			return err
		}
		*d = Duration(v)
		return nil
	}
	var secs float64
	if err := json.Unmarshal(b, &secs); err != nil {
		return fmt.Errorf("invalid duration %s", b)
	}
	*d = Duration(secs * float64(time.Second))
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// LoadConfig loads configuration from file and environment variables
func LoadConfig(configPath string) (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	config := &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  Duration(30 * time.Second),
			WriteTimeout: Duration(120 * time.Second),
			IdleTimeout:  Duration(60 * time.Second),
		},
		Database: DatabaseConfig{
			Host:           "localhost",
			Port:           5432,
			User:           os.Getenv("USER"),
			DBName:         "cloud_sign",
			SSLMode:        "disable",
			MaxConnections: 20,
			MaxIdleConns:   5,
			MaxLifetime:    Duration(30 * time.Minute),
		},
		Storage: StorageConfig{
			Driver: "memory",
			Bucket: "cloud-sign-documents",
			Region: "us-east-1",
		},
		Signing: SigningConfig{
			ServiceID:       "alfresco-cloud-sign",
			DateLayout:      "02 Jan 2006 15:04",
			FontSize:        9,
			Digest:          "sha256",
			DocumentTimeout: Duration(2 * time.Minute),
			KeyFolder:       "Digital Signing",
		},
		Auth: AuthConfig{
			PrincipalClaim: "sub",
		},
		Workers: WorkersConfig{
			JanitorSchedule: "@every 10m",
			WorkspaceMaxAge: Duration(time.Hour),
			AuditRetention:  Duration(365 * 24 * time.Hour),
		},
		Logging: LoggingConfig{Level: "info"},
	}

	// Load from file if exists
	if configPath != "" {
		if data, err := os.ReadFile(configPath); err == nil {
			if err := json.Unmarshal(data, config); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	// Override with environment variables
	overrideWithEnv(config)

	return config, nil
}

func overrideWithEnv(config *Config) {
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}

	setString("SERVER_HOST", &config.Server.Host)
	setInt("SERVER_PORT", &config.Server.Port)

	setString("DATABASE_HOST", &config.Database.Host)
	setInt("DATABASE_PORT", &config.Database.Port)
	setString("DATABASE_USER", &config.Database.User)
	setString("DATABASE_PASSWORD", &config.Database.Password)
	setString("DATABASE_DBNAME", &config.Database.DBName)

	setString("STORAGE_DRIVER", &config.Storage.Driver)
	setString("S3_BUCKET", &config.Storage.Bucket)
	setString("S3_REGION", &config.Storage.Region)
	setString("S3_ENDPOINT", &config.Storage.Endpoint)
	setString("S3_ACCESS_KEY_ID", &config.Storage.AccessKeyID)
	setString("S3_SECRET_ACCESS_KEY", &config.Storage.SecretAccessKey)

	setString("SIGNING_TEMP_DIR", &config.Signing.TempDir)
	setString("SIGNING_SERVICE_ID", &config.Signing.ServiceID)
	setString("SIGNING_MASTER_KEY", &config.Signing.MasterKey)
	if v := os.Getenv("SIGNING_PDFA"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			config.Signing.PDFA = b
		}
	}

	setString("JWT_SECRET", &config.Auth.JWTSecret)
	setString("LOG_LEVEL", &config.Logging.Level)
}

// Validate checks the values the binaries cannot start without.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d is out of range", c.Server.Port))
	}
	switch c.Storage.Driver {
	case "memory":
	case "s3":
		if c.Storage.Bucket == "" {
			errs = append(errs, errors.New("storage.bucket is required for the s3 driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage.driver %q", c.Storage.Driver))
	}
	if _, err := c.Signing.MasterKeyBytes(); err != nil {
		errs = append(errs, err)
	}
	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("auth.jwt_secret is required"))
	}
	switch strings.ToLower(c.Signing.Digest) {
	case "sha256", "sha384", "sha512":
	default:
		errs = append(errs, fmt.Errorf("unsupported signing.digest %q", c.Signing.Digest))
	}
	return errors.Join(errs...)
}

func (c *SigningConfig) MasterKeyBytes() ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(c.MasterKey)
	if err != nil {
		return nil, fmt.Errorf("signing.master_key is not valid base64: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("signing.master_key must decode to 32 bytes, got %d", len(key))
	}
	return key, nil
}

// GetDatabaseURL returns the database connection string
func (c *DatabaseConfig) GetDatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode)
}

// GetServerAddr returns the server address
func (c *ServerConfig) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
