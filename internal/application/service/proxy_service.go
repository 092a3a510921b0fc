package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tapwire/tapwire/internal/domain/model"
	"github.com/tapwire/tapwire/internal/domain/port"
	domain "github.com/tapwire/tapwire/internal/domain/service"
)

const shutdownTimeout = 5 * time.Second

// ProxyService runs the proxy listeners, the aggregator consuming the capture
// channel and the optional inspector feed as one unit
type ProxyService struct {
	listeners  port.ListenerGroup
	aggregator *domain.Aggregator
	chunks     <-chan model.ProxyData
	feed       port.FeedServer
	feedAddr   string
	logger     port.Logger

	mutex   sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// NewProxyService creates a new ProxyService instance. feed may be nil, it is
// only started when feedAddr is not empty.
func NewProxyService(listeners port.ListenerGroup, aggregator *domain.Aggregator, chunks <-chan model.ProxyData, feed port.FeedServer, feedAddr string, logger port.Logger) *ProxyService {
	if feed != nil && feedAddr != "" {
		aggregator.SetPublisher(feed)
	}
	return &ProxyService{
		listeners:  listeners,
		aggregator: aggregator,
		chunks:     chunks,
		feed:       feed,
		feedAddr:   feedAddr,
		logger:     logger,
	}
}

// Start starts the aggregator, the feed and the listeners. Nothing is left
// running when it fails.
func (s *ProxyService) Start(ctx context.Context) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.running {
		return fmt.Errorf("proxy is already running")
	}

	aggCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.aggregator.Run(aggCtx, s.chunks)
	}()

	feedStarted := false
	if s.feed != nil && s.feedAddr != "" {
		if err := s.feed.Start(s.feedAddr); err != nil {
			cancel()
			<-done
			return err
		}
		feedStarted = true
	}

	if err := s.listeners.Start(ctx); err != nil {
		if feedStarted {
			stopCtx, stopCancel := context.WithTimeout(context.Background(), shutdownTimeout)
			s.feed.Stop(stopCtx)
			stopCancel()
		}
		cancel()
		<-done
		return fmt.Errorf("failed to start proxy listeners: %v", err)
	}

	s.cancel = cancel
	s.done = done
	s.running = true
	s.logger.Info("Proxy started")
	return nil
}

// Stop closes the listeners, shuts the feed down and stops the aggregator.
// Connections still being served are not waited for.
func (s *ProxyService) Stop(ctx context.Context) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if !s.running {
		return nil
	}
	s.running = false

	s.listeners.Stop()

	var feedErr error
	if s.feed != nil && s.feedAddr != "" {
		feedErr = s.feed.Stop(ctx)
	}

	s.cancel()
	<-s.done

	s.logger.Info("Proxy stopped")
	if feedErr != nil {
		return fmt.Errorf("failed to stop inspector feed: %v", feedErr)
	}
	return nil
}

// Run starts the proxy and blocks until ctx is done
func (s *ProxyService) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return s.Stop(stopCtx)
}

// Sessions returns a snapshot of every captured connection
func (s *ProxyService) Sessions() []*model.HTTPTCPData {
	return s.aggregator.Snapshot()
}
