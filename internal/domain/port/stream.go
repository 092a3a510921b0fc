package port

import (
	"context"
	"io"
	"net"

	"github.com/tapwire/tapwire/internal/domain/model"
)

// Stream is a duplex byte stream whose read and write sides may be used from
// different goroutines. Plain TCP connections and TLS connections both fit.
type Stream interface {
	io.Reader
	io.Writer
	io.Closer
}

// HalfCloser is implemented by streams that can signal end of writes while
// still reading
type HalfCloser interface {
	CloseWrite() error
}

// ConnHandler serves one accepted connection
type ConnHandler interface {
	Handle(ctx context.Context, conn net.Conn) error
}

// Dialer opens outbound connections
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// MessagePublisher receives the output of the traffic aggregator
type MessagePublisher interface {
	// PublishHTTP is called for every framed message, sequence is its index
	// among the messages of the same direction on the connection
	PublishHTTP(connectionID string, sequence int, msg *model.HTTPData)

	// PublishClosed is called once a connection has been flushed
	PublishClosed(snapshot *model.HTTPTCPData)

	// PublishError is called for bytes that could not be framed
	PublishError(connectionID string, err error)
}

// CaptureSink is the many-producer side of the capture channel
type CaptureSink = chan<- model.ProxyData
