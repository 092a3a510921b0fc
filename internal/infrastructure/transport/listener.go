package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/tapwire/tapwire/internal/domain/port"
)

// Endpoint names used by the proxy
const (
	EndpointHTTP   = "http"
	EndpointSocks5 = "socks5"
)

// Endpoint is one listening address and the handler for its connections
type Endpoint struct {
	Name    string
	Addr    string
	Handler port.ConnHandler
}

// Supervisor accepts connections on every endpoint and serves each one on
// its own goroutine
type Supervisor struct {
	endpoints []Endpoint
	logger    port.Logger

	mutex     sync.Mutex
	listeners []net.Listener
	stopped   bool
	wg        sync.WaitGroup
}

// NewSupervisor creates a new Supervisor instance
func NewSupervisor(logger port.Logger, endpoints ...Endpoint) *Supervisor {
	return &Supervisor{
		endpoints: endpoints,
		logger:    logger,
	}
}

// Start binds every endpoint and starts the accept loops. Any bind failure
// closes what was bound and is returned.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.listeners != nil {
		return fmt.Errorf("supervisor already started")
	}

	listeners := make([]net.Listener, 0, len(s.endpoints))
	for _, endpoint := range s.endpoints {
		listener, err := net.Listen("tcp", endpoint.Addr)
		if err != nil {
			for _, l := range listeners {
				l.Close()
			}
			return fmt.Errorf("failed to start %s listener on %s: %v", endpoint.Name, endpoint.Addr, err)
		}
		listeners = append(listeners, listener)
	}
	s.listeners = listeners
	s.stopped = false

	for i, listener := range listeners {
		endpoint := s.endpoints[i]
		s.logger.Info("%s listener ready on %s", endpoint.Name, listener.Addr())
		s.wg.Add(1)
		go s.acceptLoop(ctx, listener, endpoint)
	}
	return nil
}

// Addr returns the bound address of the named endpoint
func (s *Supervisor) Addr(name string) net.Addr {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	for i, endpoint := range s.endpoints {
		if endpoint.Name == name && i < len(s.listeners) {
			return s.listeners[i].Addr()
		}
	}
	return nil
}

// Stop closes the listeners and waits for the accept loops to exit.
// Connections already being served are left to finish.
func (s *Supervisor) Stop() {
	s.mutex.Lock()
	s.stopped = true
	for _, listener := range s.listeners {
		listener.Close()
	}
	s.mutex.Unlock()

	s.wg.Wait()
}

func (s *Supervisor) isStopped() bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.stopped
}

func (s *Supervisor) acceptLoop(ctx context.Context, listener net.Listener, endpoint Endpoint) {
	defer s.wg.Done()

	var backoff time.Duration
	for {
		conn, err := listener.Accept()
		if err != nil {
			if s.isStopped() || errors.Is(err, net.ErrClosed) {
				s.logger.Debug("%s listener stopped", endpoint.Name)
				return
			}
			if backoff == 0 {
				backoff = 5 * time.Millisecond
			} else if backoff < time.Second {
				backoff *= 2
			}
			s.logger.Warn("Error accepting %s connection: %v; retrying in %v", endpoint.Name, err, backoff)
			time.Sleep(backoff)
			continue
		}
		backoff = 0

		go s.serve(ctx, conn, endpoint)
	}
}

func (s *Supervisor) serve(ctx context.Context, conn net.Conn, endpoint Endpoint) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Panic while serving %s connection from %s: %v", endpoint.Name, conn.RemoteAddr(), r)
			conn.Close()
		}
	}()

	if err := endpoint.Handler.Handle(ctx, conn); err != nil {
		s.logger.Warn("%s connection from %s failed: %v", endpoint.Name, conn.RemoteAddr(), err)
	}
}

// Ensure Supervisor implements port.ListenerGroup
var _ port.ListenerGroup = (*Supervisor)(nil)
