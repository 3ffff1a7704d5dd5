package config

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

const (
	envPrefix           = "CURRICULA"
	defaultHTTPAddress  = "0.0.0.0:8080"
	defaultDatabasePath = "curricula.db"
	defaultLogLevel     = "info"

	vaultKeyBytes = 32
)

// AppConfig captures runtime configuration for the authoring service.
type AppConfig struct {
	HTTPAddress    string
	DatabasePath   string
	LogLevel       string
	SigningSecret  string
	EditorKey      string
	VaultKey       []byte
	PublishBaseURL string
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

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("publish.base_url", "")
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:    configViper.GetString("http.address"),
		DatabasePath:   configViper.GetString("database.path"),
		LogLevel:       configViper.GetString("log.level"),
		SigningSecret:  configViper.GetString("auth.signing_secret"),
		EditorKey:      configViper.GetString("auth.editor_key"),
		PublishBaseURL: configViper.GetString("publish.base_url"),
	}

	vaultKey, err := decodeVaultKey(configViper.GetString("vault.key"))
	if err != nil {
		return AppConfig{}, err
	}
	cfg.VaultKey = vaultKey

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func decodeVaultKey(encoded string) ([]byte, error) {
	trimmed := strings.TrimSpace(encoded)
	if trimmed == "" {
		return nil, fmt.Errorf("vault.key is required")
	}
	key, err := hex.DecodeString(trimmed)
	if err != nil {
		return nil, fmt.Errorf("vault.key must be hex encoded: %w", err)
	}
	if len(key) != vaultKeyBytes {
		return nil, fmt.Errorf("vault.key must decode to %d bytes, got %d", vaultKeyBytes, len(key))
	}
	return key, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.EditorKey) == "" {
		return fmt.Errorf("auth.editor_key is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	return nil
}
