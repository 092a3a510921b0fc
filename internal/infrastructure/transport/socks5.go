package transport

import (
	"context"
	"encoding/binary"
	"errors"
	"net"
	"strconv"

	"github.com/google/uuid"
	"github.com/tapwire/tapwire/internal/domain/model"
	"github.com/tapwire/tapwire/internal/domain/port"
)

// SOCKS5 constants
const (
	socks5Version      = 0x05
	socks5AddrIPv4     = 0x01
	socks5AddrDomain   = 0x03
	socks5ReplySuccess = 0x00
	socks5ReplyRefused = 0x05
	socks5ReplyAddress = 0x08
)

// ErrUnsupportedAddressType is returned for SOCKS5 requests that are neither
// IPv4 nor domain addressed
var ErrUnsupportedAddressType = errors.New("socks5: address type not supported")

// socks5Reply builds a reply frame. The bound address is always 127.0.0.1:80.
func socks5Reply(code byte) []byte {
	return []byte{socks5Version, code, 0x00, socks5AddrIPv4, 127, 0, 0, 1, 0, 80}
}

// Socks5Request is the destination of a SOCKS5 CONNECT request
type Socks5Request struct {
	AddressType byte
	Host        string
	Port        uint16
}

// ParseSocks5Request decodes the destination of a SOCKS5 request frame
func ParseSocks5Request(frame []byte) (*Socks5Request, error) {
	if len(frame) < 4 {
		return nil, model.NewProxyError("socks5: request too short (%d bytes)", len(frame))
	}

	request := &Socks5Request{AddressType: frame[3]}
	switch request.AddressType {
	case socks5AddrIPv4:
		if len(frame) < 10 {
			return nil, model.NewProxyError("socks5: truncated IPv4 request")
		}
		request.Host = net.IP(frame[4:8]).String()
		request.Port = binary.BigEndian.Uint16(frame[8:10])
	case socks5AddrDomain:
		if len(frame) < 5 {
			return nil, model.NewProxyError("socks5: truncated domain request")
		}
		length := int(frame[4])
		if len(frame) < 5+length+2 {
			return nil, model.NewProxyError("socks5: truncated domain request")
		}
		request.Host = string(frame[5 : 5+length])
		request.Port = binary.BigEndian.Uint16(frame[5+length : 7+length])
	default:
		return nil, ErrUnsupportedAddressType
	}
	return request, nil
}

// Address returns host:port as received
func (r *Socks5Request) Address() string {
	return net.JoinHostPort(r.Host, strconv.Itoa(int(r.Port)))
}

// Resolve returns the IPv4 socket address to dial
func (r *Socks5Request) Resolve(ctx context.Context, resolver *net.Resolver) (string, error) {
	if r.AddressType == socks5AddrIPv4 {
		return r.Address(), nil
	}
	ips, err := resolver.LookupIP(ctx, "ip4", r.Host)
	if err != nil {
		return "", model.WrapError(err, "socks5: resolve %s", r.Host)
	}
	if len(ips) == 0 {
		return "", model.NewProxyError("socks5: no IPv4 address for %s", r.Host)
	}
	return net.JoinHostPort(ips[0].String(), strconv.Itoa(int(r.Port))), nil
}

// Socks5Handler serves the SOCKS5 port with no-auth CONNECT only
type Socks5Handler struct {
	relay    *Relay
	dialer   port.Dialer
	resolver *net.Resolver
	logger   port.Logger
}

// NewSocks5Handler creates a new Socks5Handler instance. Traffic is captured
// only if relay has a sink.
func NewSocks5Handler(relay *Relay, dialer port.Dialer, logger port.Logger) *Socks5Handler {
	return &Socks5Handler{
		relay:    relay,
		dialer:   dialer,
		resolver: net.DefaultResolver,
		logger:   logger,
	}
}

// Handle serves one accepted connection and closes it
func (h *Socks5Handler) Handle(ctx context.Context, conn net.Conn) error {
	defer conn.Close()

	connectionID := uuid.NewString()
	buffer := make([]byte, model.BufferSize)

	n, err := conn.Read(buffer)
	if err != nil {
		return model.WrapError(err, "[%s] socks5: read greeting", connectionID)
	}
	if n < 2 || buffer[0] != socks5Version {
		return model.NewProxyError("[%s] socks5: invalid greeting", connectionID)
	}
	if _, err := conn.Write([]byte{socks5Version, 0x00}); err != nil {
		return model.WrapError(err, "[%s] socks5: write greeting reply", connectionID)
	}

	n, err = conn.Read(buffer)
	if err != nil {
		return model.WrapError(err, "[%s] socks5: read request", connectionID)
	}

	request, err := ParseSocks5Request(buffer[:n])
	if errors.Is(err, ErrUnsupportedAddressType) {
		conn.Write(socks5Reply(socks5ReplyAddress))
		return model.WrapError(err, "[%s] address type 0x%02x", connectionID, buffer[3])
	}
	if err != nil {
		return model.WrapError(err, "[%s]", connectionID)
	}

	address, err := request.Resolve(ctx, h.resolver)
	if err != nil {
		conn.Write(socks5Reply(socks5ReplyRefused))
		return model.WrapError(err, "[%s]", connectionID)
	}

	outbound, err := h.dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		conn.Write(socks5Reply(socks5ReplyRefused))
		return model.WrapError(err, "[%s] socks5: connect to %s", connectionID, address)
	}
	defer outbound.Close()

	if _, err := conn.Write(socks5Reply(socks5ReplySuccess)); err != nil {
		return model.WrapError(err, "[%s] socks5: write reply", connectionID)
	}

	h.logger.Info("[%s] SOCKS5 relay to %s (%s)", connectionID, request.Address(), address)
	h.relay.Run(conn, outbound, connectionID)
	h.relay.MarkClosed(connectionID)
	return nil
}

// Ensure Socks5Handler implements port.ConnHandler
var _ port.ConnHandler = (*Socks5Handler)(nil)
