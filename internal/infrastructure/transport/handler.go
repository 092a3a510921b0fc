package transport

import (
	"bytes"
	"context"
	"net"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tapwire/tapwire/internal/domain/model"
	"github.com/tapwire/tapwire/internal/domain/port"
)

const (
	connectEstablished = "HTTP/1.1 200 OK\r\n\r\n"
	defaultHTTPPort    = "80"
	defaultHTTPSPort   = "443"
	dialTimeout        = 10 * time.Second
)

var (
	connectToken = []byte("CONNECT")
	connectSpace = []byte("CONNECT ")
	httpScheme   = []byte("http://")
)

// NewDialer returns the dialer used for outbound connections
func NewDialer() port.Dialer {
	return &net.Dialer{Timeout: dialTimeout, KeepAlive: 30 * time.Second}
}

// ConnectionHandler serves the forward proxy port: CONNECT tunnels are
// intercepted with TLS termination, anything else is a plain proxied request
type ConnectionHandler struct {
	terminator *TLSTerminator
	relay      *Relay
	dialer     port.Dialer
	logger     port.Logger
}

// NewConnectionHandler creates a new ConnectionHandler instance
func NewConnectionHandler(terminator *TLSTerminator, relay *Relay, dialer port.Dialer, logger port.Logger) *ConnectionHandler {
	return &ConnectionHandler{
		terminator: terminator,
		relay:      relay,
		dialer:     dialer,
		logger:     logger,
	}
}

// Handle serves one accepted connection and closes it
func (h *ConnectionHandler) Handle(ctx context.Context, conn net.Conn) error {
	defer conn.Close()

	connectionID := uuid.NewString()

	buffer := make([]byte, model.BufferSize)
	n, err := conn.Read(buffer)
	if err != nil {
		return model.WrapError(err, "[%s] read initial request", connectionID)
	}
	if n == 0 {
		return model.NewProxyError("[%s] empty initial request", connectionID)
	}
	data := buffer[:n]

	if bytes.HasPrefix(data, connectToken) {
		return h.handleConnect(ctx, conn, connectionID, data)
	}
	return h.handlePlain(ctx, conn, connectionID, data)
}

func (h *ConnectionHandler) handleConnect(ctx context.Context, conn net.Conn, connectionID string, data []byte) error {
	target, err := ExtractConnectTarget(data)
	if err != nil {
		return model.WrapError(err, "[%s] CONNECT", connectionID)
	}

	if _, err := conn.Write([]byte(connectEstablished)); err != nil {
		return model.WrapError(err, "[%s] reply to CONNECT %s", connectionID, target)
	}

	host, _, err := net.SplitHostPort(target)
	if err != nil {
		return model.WrapError(err, "[%s] CONNECT target %s", connectionID, target)
	}

	acceptor, err := h.terminator.AcceptorFor(host)
	if err != nil {
		return model.WrapError(err, "[%s] certificate for %s", connectionID, host)
	}
	inbound, err := acceptor.Accept(ctx, conn)
	if err != nil {
		return model.WrapError(err, "[%s] %s", connectionID, host)
	}

	outConn, err := h.dialer.DialContext(ctx, "tcp", target)
	if err != nil {
		return model.WrapError(err, "[%s] connect to %s", connectionID, target)
	}
	defer outConn.Close()

	connector, err := h.terminator.ConnectorWithPublicRoots()
	if err != nil {
		return model.WrapError(err, "[%s] %s", connectionID, target)
	}
	outbound, err := connector.Connect(ctx, outConn, host)
	if err != nil {
		return model.WrapError(err, "[%s] %s", connectionID, target)
	}

	h.logger.Info("[%s] Intercepting CONNECT %s", connectionID, target)
	h.relay.Run(inbound, outbound, connectionID)
	h.relay.MarkClosed(connectionID)
	h.logger.Debug("[%s] CONNECT %s closed", connectionID, target)
	return nil
}

func (h *ConnectionHandler) handlePlain(ctx context.Context, conn net.Conn, connectionID string, data []byte) error {
	target, forward, err := ParsePlainRequest(data)
	if err != nil {
		return model.WrapError(err, "[%s] plain request", connectionID)
	}

	outbound, err := h.dialer.DialContext(ctx, "tcp", target)
	if err != nil {
		return model.WrapError(err, "[%s] connect to %s", connectionID, target)
	}
	defer outbound.Close()

	if _, err := outbound.Write(forward); err != nil {
		return model.WrapError(err, "[%s] forward request to %s", connectionID, target)
	}
	h.relay.Emit(model.NewProxyDataFromBytes(connectionID, model.ClientToServer, forward))

	h.logger.Info("[%s] Proxying %s", connectionID, target)
	h.relay.Run(conn, outbound, connectionID)
	h.relay.MarkClosed(connectionID)
	h.logger.Debug("[%s] %s closed", connectionID, target)
	return nil
}

// ExtractConnectTarget returns the host:port between "CONNECT " and the next
// space. A target without a port gets 443.
func ExtractConnectTarget(data []byte) (string, error) {
	start := bytes.Index(data, connectSpace)
	if start < 0 {
		return "", model.NewProxyError("no CONNECT request line")
	}
	rest := data[start+len(connectSpace):]
	end := bytes.IndexByte(rest, ' ')
	if end <= 0 {
		return "", model.NewProxyError("no address in CONNECT request line")
	}

	return withDefaultPort(string(rest[:end]), defaultHTTPSPort), nil
}

// ParsePlainRequest finds the target of an absolute-form request and returns
// it with the request bytes rewritten to origin form
func ParsePlainRequest(data []byte) (string, []byte, error) {
	schemeAt := bytes.Index(data, httpScheme)
	if schemeAt < 0 {
		return "", nil, model.NewProxyError("no http:// target in request")
	}
	rest := data[schemeAt+len(httpScheme):]
	slash := bytes.IndexByte(rest, '/')
	if slash < 0 {
		return "", nil, model.NewProxyError("no path after http:// target")
	}

	authority := string(rest[:slash])
	if authority == "" {
		return "", nil, model.NewProxyError("empty http:// target")
	}
	target := withDefaultPort(authority, defaultHTTPPort)

	forward := make([]byte, 0, schemeAt+len(rest)-slash)
	forward = append(forward, data[:schemeAt]...)
	forward = append(forward, rest[slash:]...)
	return target, forward, nil
}

func withDefaultPort(hostport, port string) string {
	if _, _, err := net.SplitHostPort(hostport); err == nil {
		return hostport
	}
	return net.JoinHostPort(strings.TrimSuffix(strings.TrimPrefix(hostport, "["), "]"), port)
}

// Ensure ConnectionHandler implements port.ConnHandler
var _ port.ConnHandler = (*ConnectionHandler)(nil)
