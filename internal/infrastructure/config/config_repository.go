package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
	"github.com/tapwire/tapwire/internal/domain/model"
	"github.com/tapwire/tapwire/internal/domain/port"
)

// ConfigRepository is an implementation of port.ConfigRepository
type ConfigRepository struct{}

// NewConfigRepository creates a new ConfigRepository instance
func NewConfigRepository() *ConfigRepository {
	return &ConfigRepository{}
}

// Load loads configuration from file
func (r *ConfigRepository) Load(configPath string) (*model.Config, error) {
	config := model.NewConfig()

	// If configPath is empty, look in the default location
	if configPath == "" {
		var err error
		configPath, err = r.GetDefaultPath()
		if err != nil {
			return nil, err
		}
	}

	// A missing file means defaults
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return config, nil
	}

	v := newViper(config)
	v.SetConfigFile(configPath)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file: %v", err)
	}

	config.HTTPListenAddr = v.GetString(model.KeyHTTPListenAddr)
	config.Socks5ListenAddr = v.GetString(model.KeySocks5ListenAddr)
	config.CACertPath = v.GetString(model.KeyCACertPath)
	config.CAKeyPath = v.GetString(model.KeyCAKeyPath)
	config.CaptureBuffer = v.GetInt(model.KeyCaptureBuffer)
	config.CaptureSocks5 = v.GetBool(model.KeyCaptureSocks5)
	config.SessionRetention = v.GetInt(model.KeySessionRetention)
	config.CertCache = v.GetBool(model.KeyCertCache)
	config.CertValidityDays = v.GetInt(model.KeyCertValidityDays)
	config.FeedListenAddr = v.GetString(model.KeyFeedListenAddr)
	config.FeedEncoding = model.FeedEncoding(v.GetString(model.KeyFeedEncoding))
	config.LogLevel = model.LogLevel(v.GetString(model.KeyLogLevel))
	config.LogFile = v.GetString(model.KeyLogFile)

	if config.CaptureBuffer <= 0 {
		return nil, fmt.Errorf("%s must be greater than 0", model.KeyCaptureBuffer)
	}
	if config.SessionRetention < 0 {
		return nil, fmt.Errorf("%s must not be negative", model.KeySessionRetention)
	}
	if config.CertValidityDays <= 0 {
		return nil, fmt.Errorf("%s must be greater than 0", model.KeyCertValidityDays)
	}

	return config, nil
}

// Save saves configuration to file
func (r *ConfigRepository) Save(config *model.Config, configPath string) error {
	// If configPath is empty, use default location
	if configPath == "" {
		var err error
		configPath, err = r.GetDefaultPath()
		if err != nil {
			return err
		}
	}

	// Create directory if it doesn't exist
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %v", err)
	}

	v := newViper(config)
	if err := v.WriteConfigAs(configPath); err != nil {
		return fmt.Errorf("error saving configuration: %v", err)
	}

	return nil
}

// GetDefaultPath returns the default path for configuration file
func (r *ConfigRepository) GetDefaultPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("error getting home directory: %v", err)
	}

	return filepath.Join(homeDir, ".tapwire", "config.yaml"), nil
}

// newViper returns a viper instance whose values default to config
func newViper(config *model.Config) *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetDefault(model.KeyHTTPListenAddr, config.HTTPListenAddr)
	v.SetDefault(model.KeySocks5ListenAddr, config.Socks5ListenAddr)
	v.SetDefault(model.KeyCACertPath, config.CACertPath)
	v.SetDefault(model.KeyCAKeyPath, config.CAKeyPath)
	v.SetDefault(model.KeyCaptureBuffer, config.CaptureBuffer)
	v.SetDefault(model.KeyCaptureSocks5, config.CaptureSocks5)
	v.SetDefault(model.KeySessionRetention, config.SessionRetention)
	v.SetDefault(model.KeyCertCache, config.CertCache)
	v.SetDefault(model.KeyCertValidityDays, config.CertValidityDays)
	v.SetDefault(model.KeyFeedListenAddr, config.FeedListenAddr)
	v.SetDefault(model.KeyFeedEncoding, string(config.FeedEncoding))
	v.SetDefault(model.KeyLogLevel, string(config.LogLevel))
	v.SetDefault(model.KeyLogFile, config.LogFile)
	return v
}

// Ensure ConfigRepository implements port.ConfigRepository
var _ port.ConfigRepository = (*ConfigRepository)(nil)
