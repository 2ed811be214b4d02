package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

const (
	envPrefix          = "LANYARD"
	defaultHTTPAddress = "0.0.0.0:8080"
	defaultDatabase    = "lanyard.db"
	defaultLogLevel    = "info"
	defaultRole        = "subscriber"
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress    string
	DatabasePath   string
	LogLevel       string
	ProviderIssuer string
	ClientID       string
	DefaultRole    string
	LinkExisting   bool
	CreateAccounts bool
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
	configViper.SetDefault("database.path", defaultDatabase)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("provider.default_role", defaultRole)
	configViper.SetDefault("provider.link_existing", true)
	configViper.SetDefault("provider.create_accounts", true)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:    configViper.GetString("http.address"),
		DatabasePath:   configViper.GetString("database.path"),
		LogLevel:       configViper.GetString("log.level"),
		ProviderIssuer: configViper.GetString("provider.issuer"),
		ClientID:       configViper.GetString("provider.client_id"),
		DefaultRole:    configViper.GetString("provider.default_role"),
		LinkExisting:   configViper.GetBool("provider.link_existing"),
		CreateAccounts: configViper.GetBool("provider.create_accounts"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.ProviderIssuer) == "" {
		return fmt.Errorf("provider.issuer is required")
	}
	if strings.TrimSpace(c.ClientID) == "" {
		return fmt.Errorf("provider.client_id is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if strings.TrimSpace(c.DefaultRole) == "" {
		return fmt.Errorf("provider.default_role is required")
	}
	return nil
}
