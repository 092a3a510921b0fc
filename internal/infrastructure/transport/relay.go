package transport

import (
	"errors"
	"io"
	"net"
	"sync"

	"github.com/tapwire/tapwire/internal/domain/model"
	"github.com/tapwire/tapwire/internal/domain/port"
)

// Relay copies bytes between two streams and tees every read into the
// capture sink. A Relay without a sink only forwards.
type Relay struct {
	sink   port.CaptureSink
	logger port.Logger
}

// NewRelay creates a new Relay instance, sink may be nil
func NewRelay(sink port.CaptureSink, logger port.Logger) *Relay {
	return &Relay{sink: sink, logger: logger}
}

// Run relays inbound<->outbound until both directions have ended
func (r *Relay) Run(inbound, outbound port.Stream, connectionID string) {
	var wg sync.WaitGroup
	wg.Add(2)

	go r.copyLoop(&wg, inbound, outbound, connectionID, model.ClientToServer)
	go r.copyLoop(&wg, outbound, inbound, connectionID, model.ServerToClient)

	wg.Wait()
}

// Emit sends chunk to the capture sink, blocking while it is full
func (r *Relay) Emit(chunk model.ProxyData) {
	if r.sink == nil {
		return
	}
	r.sink <- chunk
}

// MarkClosed emits the end-of-connection marker for connectionID
func (r *Relay) MarkClosed(connectionID string) {
	r.Emit(model.NewCloseMarker(connectionID))
}

func (r *Relay) copyLoop(wg *sync.WaitGroup, src io.Reader, dst port.Stream, connectionID string, direction model.StreamDirection) {
	defer wg.Done()
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("[%s] Panic in %s relay: %v", connectionID, direction, rec)
		}
	}()
	// Signal EOF to the peer so its own loop can finish
	defer func() {
		if hc, ok := dst.(port.HalfCloser); ok {
			hc.CloseWrite()
		}
	}()

	var buffer [model.BufferSize]byte
	for {
		n, err := src.Read(buffer[:])
		// Forwarded before the end-of-stream check. Empty writes are skipped:
		// a zero-length Write on a net.Pipe blocks until the peer reads.
		if n > 0 {
			if _, werr := dst.Write(buffer[:n]); werr != nil {
				r.logError(connectionID, direction, "write", werr)
				return
			}
			r.Emit(model.NewProxyData(connectionID, direction, buffer, n))
		}
		if err != nil {
			r.logError(connectionID, direction, "read", err)
			return
		}
		if n == 0 {
			return
		}
	}
}

func (r *Relay) logError(connectionID string, direction model.StreamDirection, op string, err error) {
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
		r.logger.Debug("[%s] %s relay finished", connectionID, direction)
		return
	}
	r.logger.Error("[%s] %s relay %s error: %v", connectionID, direction, op, model.AsProxyError(err))
}
