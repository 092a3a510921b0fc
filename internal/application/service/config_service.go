package service

import (
	"fmt"
	"strconv"

	"github.com/tapwire/tapwire/internal/domain/model"
	"github.com/tapwire/tapwire/internal/domain/port"
)

// ConfigService is a service for managing configuration
type ConfigService struct {
	configRepo port.ConfigRepository
	logger     port.Logger
}

// NewConfigService creates a new ConfigService instance
func NewConfigService(configRepo port.ConfigRepository, logger port.Logger) *ConfigService {
	return &ConfigService{
		configRepo: configRepo,
		logger:     logger,
	}
}

// LoadConfig loads configuration from a file
func (s *ConfigService) LoadConfig(configPath string) (*model.Config, error) {
	// If configPath is empty, use the default path
	if configPath == "" {
		var err error
		configPath, err = s.configRepo.GetDefaultPath()
		if err != nil {
			return nil, fmt.Errorf("failed to get default path: %v", err)
		}
	}

	config, err := s.configRepo.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration from %s: %v", configPath, err)
	}

	s.logger.Debug("Configuration loaded from %s", configPath)
	return config, nil
}

// SaveConfig saves configuration to a file
func (s *ConfigService) SaveConfig(config *model.Config, configPath string) error {
	// If configPath is empty, use the default path
	if configPath == "" {
		var err error
		configPath, err = s.configRepo.GetDefaultPath()
		if err != nil {
			return fmt.Errorf("failed to get default path: %v", err)
		}
	}

	if err := s.configRepo.Save(config, configPath); err != nil {
		return fmt.Errorf("failed to save configuration: %v", err)
	}

	s.logger.Info("Configuration saved to %s", configPath)
	return nil
}

// Get returns the value of key as text
func (s *ConfigService) Get(config *model.Config, key string) (string, error) {
	switch key {
	case model.KeyHTTPListenAddr:
		return config.HTTPListenAddr, nil
	case model.KeySocks5ListenAddr:
		return config.Socks5ListenAddr, nil
	case model.KeyCACertPath:
		return config.CACertPath, nil
	case model.KeyCAKeyPath:
		return config.CAKeyPath, nil
	case model.KeyCaptureBuffer:
		return strconv.Itoa(config.CaptureBuffer), nil
	case model.KeyCaptureSocks5:
		return strconv.FormatBool(config.CaptureSocks5), nil
	case model.KeySessionRetention:
		return strconv.Itoa(config.SessionRetention), nil
	case model.KeyCertCache:
		return strconv.FormatBool(config.CertCache), nil
	case model.KeyCertValidityDays:
		return strconv.Itoa(config.CertValidityDays), nil
	case model.KeyFeedListenAddr:
		return config.FeedListenAddr, nil
	case model.KeyFeedEncoding:
		return string(config.FeedEncoding), nil
	case model.KeyLogLevel:
		return string(config.LogLevel), nil
	case model.KeyLogFile:
		return config.LogFile, nil
	default:
		return "", fmt.Errorf("unknown configuration key: %s", key)
	}
}

// Set parses value and stores it under key
func (s *ConfigService) Set(config *model.Config, key, value string) error {
	switch key {
	case model.KeyHTTPListenAddr:
		config.HTTPListenAddr = value
	case model.KeySocks5ListenAddr:
		config.Socks5ListenAddr = value
	case model.KeyCACertPath:
		config.CACertPath = value
	case model.KeyCAKeyPath:
		config.CAKeyPath = value
	case model.KeyCaptureBuffer:
		n, err := positiveInt(key, value)
		if err != nil {
			return err
		}
		config.CaptureBuffer = n
	case model.KeyCaptureSocks5:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("%s must be true or false", key)
		}
		config.CaptureSocks5 = b
	case model.KeySessionRetention:
		n, err := strconv.Atoi(value)
		if err != nil || n < 0 {
			return fmt.Errorf("%s must be zero or a positive integer", key)
		}
		config.SessionRetention = n
	case model.KeyCertCache:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("%s must be true or false", key)
		}
		config.CertCache = b
	case model.KeyCertValidityDays:
		n, err := positiveInt(key, value)
		if err != nil {
			return err
		}
		config.CertValidityDays = n
	case model.KeyFeedListenAddr:
		config.FeedListenAddr = value
	case model.KeyFeedEncoding:
		switch model.FeedEncoding(value) {
		case model.FeedEncodingJSON, model.FeedEncodingMsgpack:
			config.FeedEncoding = model.FeedEncoding(value)
		default:
			return fmt.Errorf("%s must be json or msgpack", key)
		}
	case model.KeyLogLevel:
		s.SetLogLevel(config, value)
	case model.KeyLogFile:
		s.SetLogFile(config, value)
	default:
		return fmt.Errorf("unknown configuration key: %s", key)
	}
	return nil
}

// SetLogLevel sets the log level
func (s *ConfigService) SetLogLevel(config *model.Config, logLevel string) {
	config.LogLevel = model.LogLevel(logLevel)
}

// SetLogFile sets the log file
func (s *ConfigService) SetLogFile(config *model.Config, logFile string) {
	config.LogFile = logFile
}

func positiveInt(key, value string) (int, error) {
	n, err := strconv.Atoi(value)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%s must be a positive integer", key)
	}
	return n, nil
}
