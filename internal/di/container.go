package di

import (
	"os"
	"time"

	"github.com/tapwire/tapwire/internal/application/service"
	"github.com/tapwire/tapwire/internal/domain/model"
	domain "github.com/tapwire/tapwire/internal/domain/service"
	"github.com/tapwire/tapwire/internal/infrastructure/ca"
	"github.com/tapwire/tapwire/internal/infrastructure/config"
	"github.com/tapwire/tapwire/internal/infrastructure/inspector"
	"github.com/tapwire/tapwire/internal/infrastructure/logger"
	"github.com/tapwire/tapwire/internal/infrastructure/transport"
)

// Container is a container for dependency injection
type Container struct {
	// Logger
	Logger *logger.Logger

	// Repositories
	ConfigRepository *config.ConfigRepository

	// Services
	ConfigService *service.ConfigService
	ProxyService  *service.ProxyService

	// Certificates
	Issuer     *ca.Issuer
	Terminator *transport.TLSTerminator

	// Capture pipeline
	Captures   chan model.ProxyData
	Aggregator *domain.Aggregator
	Feed       *inspector.Feed

	// Listeners
	Supervisor *transport.Supervisor

	// Config
	Config *model.Config
}

// NewContainer creates a new Container instance
func NewContainer() *Container {
	return &Container{}
}

// Initialize loads the configuration and sets up logging. The proxy itself
// is only wired by InitializeProxy.
func (c *Container) Initialize(configPath string) error {
	// Initialize logger
	c.Logger = logger.NewLogger(os.Stdout, "info")

	// Initialize config repository
	c.ConfigRepository = config.NewConfigRepository()

	// Initialize config service
	c.ConfigService = service.NewConfigService(c.ConfigRepository, c.Logger)

	// Load configuration
	var err error
	c.Config, err = c.ConfigService.LoadConfig(configPath)
	if err != nil {
		return err
	}

	// Set logger level based on configuration
	c.Logger.SetLevel(string(c.Config.LogLevel))

	// If log file is specified, write to it as well as to the terminal
	if c.Config.LogFile != "" {
		if err := c.Logger.AddFile(c.Config.LogFile); err != nil {
			c.Logger.Error("Failed to open log file: %v", err)
		} else {
			c.Logger.Info("Logs will also be written to file: %s", c.Config.LogFile)
		}
	}

	validity := time.Duration(c.Config.CertValidityDays) * 24 * time.Hour
	c.Issuer = ca.NewIssuer(validity)

	return nil
}

// InitializeProxy wires the listeners, the capture pipeline and the feed
func (c *Container) InitializeProxy() {
	c.Terminator = transport.NewTLSTerminator(c.Issuer, c.Config.CACertPath, c.Config.CAKeyPath, c.Config.CertCache, c.Logger)

	// Every relay shares one capture channel drained by the aggregator
	c.Captures = make(chan model.ProxyData, c.Config.CaptureBuffer)
	capturing := transport.NewRelay(c.Captures, c.Logger)

	socksRelay := transport.NewRelay(nil, c.Logger)
	if c.Config.CaptureSocks5 {
		socksRelay = capturing
	}

	dialer := transport.NewDialer()
	c.Supervisor = transport.NewSupervisor(c.Logger,
		transport.Endpoint{
			Name:    transport.EndpointHTTP,
			Addr:    c.Config.HTTPListenAddr,
			Handler: transport.NewConnectionHandler(c.Terminator, capturing, dialer, c.Logger),
		},
		transport.Endpoint{
			Name:    transport.EndpointSocks5,
			Addr:    c.Config.Socks5ListenAddr,
			Handler: transport.NewSocks5Handler(socksRelay, dialer, c.Logger),
		},
	)

	c.Aggregator = domain.NewAggregator(nil, c.Logger)
	c.Aggregator.SetRetention(c.Config.SessionRetention)
	c.Feed = inspector.NewFeed(c.Aggregator, c.Logger)

	c.ProxyService = service.NewProxyService(c.Supervisor, c.Aggregator, c.Captures, c.Feed, c.Config.FeedListenAddr, c.Logger)
}

// Close closes all resources
func (c *Container) Close() {
	// Close logger
	if c.Logger != nil {
		c.Logger.Close()
	}
}
