package model

import (
	"os"
	"path/filepath"
)

// LogLevel defines logging levels
type LogLevel string

const (
	// LogLevelDebug is the level for debug messages
	LogLevelDebug LogLevel = "debug"
	// LogLevelInfo is the level for informational messages
	LogLevelInfo LogLevel = "info"
	// LogLevelWarn is the level for warning messages
	LogLevelWarn LogLevel = "warn"
	// LogLevelError is the level for error messages
	LogLevelError LogLevel = "error"
)

// FeedEncoding selects how inspector feed messages are serialized
type FeedEncoding string

const (
	// FeedEncodingJSON sends JSON documents in text frames
	FeedEncodingJSON FeedEncoding = "json"
	// FeedEncodingMsgpack sends msgpack documents in binary frames
	FeedEncodingMsgpack FeedEncoding = "msgpack"
)

// Configuration keys as they appear in the config file
const (
	KeyHTTPListenAddr   = "http_listen_addr"
	KeySocks5ListenAddr = "socks5_listen_addr"
	KeyCACertPath       = "ca_cert_path"
	KeyCAKeyPath        = "ca_key_path"
	KeyCaptureBuffer    = "capture_buffer"
	KeyCaptureSocks5    = "capture_socks5"
	KeySessionRetention = "session_retention"
	KeyCertCache        = "cert_cache"
	KeyCertValidityDays = "cert_validity_days"
	KeyFeedListenAddr   = "feed_listen_addr"
	KeyFeedEncoding     = "feed_encoding"
	KeyLogLevel         = "log_level"
	KeyLogFile          = "log_file"
)

// ConfigKeys returns every configuration key in display order
func ConfigKeys() []string {
	return []string{
		KeyHTTPListenAddr, KeySocks5ListenAddr, KeyCACertPath, KeyCAKeyPath,
		KeyCaptureBuffer, KeyCaptureSocks5, KeySessionRetention, KeyCertCache, KeyCertValidityDays,
		KeyFeedListenAddr, KeyFeedEncoding, KeyLogLevel, KeyLogFile,
	}
}

// Config is the configuration structure for the tapwire proxy
type Config struct {
	// HTTPListenAddr is where plain HTTP and CONNECT proxy traffic is accepted
	HTTPListenAddr string
	// Socks5ListenAddr is where SOCKS5 traffic is accepted
	Socks5ListenAddr string
	// CACertPath is the path to the root CA certificate (PEM)
	CACertPath string
	// CAKeyPath is the path to the root CA private key (PEM)
	CAKeyPath string
	// CaptureBuffer is the capacity of the capture channel
	CaptureBuffer int
	// CaptureSocks5 feeds SOCKS5 relays into the capture channel as well
	CaptureSocks5 bool
	// SessionRetention is how many closed connections are kept (0 keeps all)
	SessionRetention int
	// CertCache memoizes minted leaf certificates per hostname
	CertCache bool
	// CertValidityDays is the lifetime of minted leaf certificates
	CertValidityDays int
	// FeedListenAddr is where the inspector feed is served (empty disables it)
	FeedListenAddr string
	// FeedEncoding is the default encoding used by the watch command
	FeedEncoding FeedEncoding
	// LogLevel is the logging level (debug, info, warn, error)
	LogLevel LogLevel
	// LogFile is the path to log file (empty for stdout only)
	LogFile string
}

// NewConfig creates a new Config instance with default values
func NewConfig() *Config {
	return &Config{
		HTTPListenAddr:   "0.0.0.0:7090",
		Socks5ListenAddr: "127.0.0.1:7091",
		CACertPath:       "sca.pem",
		CAKeyPath:        "sca.key",
		CaptureBuffer:    1024,
		CaptureSocks5:    false,
		SessionRetention: 1000,
		CertCache:        true,
		CertValidityDays: 365,
		FeedListenAddr:   "127.0.0.1:7092",
		FeedEncoding:     FeedEncodingJSON,
		LogLevel:         LogLevelInfo,
		LogFile:          "",
	}
}

// GetConfigFilePath returns the path to configuration file
func (c *Config) GetConfigFilePath() string {
	configDir := "/etc/tapwire"

	// If not root, use home directory
	if os.Getuid() != 0 {
		homeDir, err := os.UserHomeDir()
		if err == nil {
			configDir = filepath.Join(homeDir, ".tapwire")
		}
	}

	return filepath.Join(configDir, "config.yaml")
}
