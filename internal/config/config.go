package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix = "SCANNER"

	defaultBaseURL      = "http://srv-dnp.argos.loc"
	defaultDatabasePath = "scanner.db"
	defaultExportDir    = "exports"
	defaultLogLevel     = "info"
	defaultSyncInterval = 60 * time.Second
	defaultAuthTimeout  = 5 * time.Second
	defaultSendTimeout  = 3 * time.Second
	defaultSyncWorkers  = 1
	defaultStubAddress  = "127.0.0.1:8000"
)

// AppConfig captures runtime configuration for the scanner client.
type AppConfig struct {
	BaseURL      string
	DatabasePath string
	ExportDir    string
	LogLevel     string

	SyncInterval time.Duration
	MaxAttempts  int
	SyncWorkers  int

	AuthTimeout time.Duration
	SendTimeout time.Duration

	StubAddress       string
	StubSigningSecret string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("api.base_url", defaultBaseURL)
	configViper.SetDefault("api.auth_timeout", defaultAuthTimeout)
	configViper.SetDefault("api.send_timeout", defaultSendTimeout)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("export.dir", defaultExportDir)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("sync.interval", defaultSyncInterval)
	configViper.SetDefault("sync.max_attempts", 0)
	configViper.SetDefault("sync.workers", defaultSyncWorkers)
	configViper.SetDefault("stub.address", defaultStubAddress)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		BaseURL:           configViper.GetString("api.base_url"),
		AuthTimeout:       configViper.GetDuration("api.auth_timeout"),
		SendTimeout:       configViper.GetDuration("api.send_timeout"),
		DatabasePath:      configViper.GetString("database.path"),
		ExportDir:         configViper.GetString("export.dir"),
		LogLevel:          configViper.GetString("log.level"),
		SyncInterval:      configViper.GetDuration("sync.interval"),
		MaxAttempts:       configViper.GetInt("sync.max_attempts"),
		SyncWorkers:       configViper.GetInt("sync.workers"),
		StubAddress:       configViper.GetString("stub.address"),
		StubSigningSecret: configViper.GetString("stub.signing_secret"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.BaseURL) == "" {
		return fmt.Errorf("api.base_url is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.SyncInterval <= 0 {
		return fmt.Errorf("sync.interval must be positive")
	}
	if c.MaxAttempts < 0 {
		return fmt.Errorf("sync.max_attempts must not be negative")
	}
	if c.SyncWorkers < 1 {
		return fmt.Errorf("sync.workers must be at least 1")
	}
	return nil
}
