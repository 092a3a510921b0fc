package inspector

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/tapwire/tapwire/internal/domain/model"
	"github.com/tapwire/tapwire/internal/domain/port"
)

// Event is one decoded feed message
type Event struct {
	Message *model.Message
	// HTTP is set for request and response messages
	HTTP *model.HTTPMessagePayload
	// Closed is set for connection_closed messages
	Closed *model.ConnectionClosedPayload
	// Error is set for error messages
	Error *model.ErrorPayload
	// Category is the content category of HTTP messages
	Category model.FilterMode
}

// Watcher subscribes to an inspector feed
type Watcher struct {
	url    string
	codec  Codec
	filter model.FilterMode
	logger port.Logger
}

// NewWatcher creates a watcher for the feed served on addr (host:port)
func NewWatcher(addr string, encoding model.FeedEncoding, filter model.FilterMode, logger port.Logger) (*Watcher, error) {
	codec, err := CodecFor(encoding)
	if err != nil {
		return nil, err
	}

	u := url.URL{Scheme: "ws", Host: addr, Path: FeedPath}
	if codec.Name() != model.FeedEncodingJSON {
		u.RawQuery = url.Values{"encoding": {string(codec.Name())}}.Encode()
	}

	return &Watcher{
		url:    u.String(),
		codec:  codec,
		filter: filter,
		logger: logger,
	}, nil
}

// URL returns the websocket URL the watcher dials
func (w *Watcher) URL() string {
	return w.url
}

// Watch delivers every event passing the filter to handle until ctx is done,
// the feed closes, or handle returns an error
func (w *Watcher) Watch(ctx context.Context, handle func(*Event) error) error {
	conn, br, _, err := ws.Dial(ctx, w.url)
	if err != nil {
		return model.WrapError(err, "connect to inspector feed %s", w.url)
	}
	defer conn.Close()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()

	w.logger.Debug("Subscribed to %s", w.url)
	rw := frameConn(conn, br)

	for {
		data, op, err := wsutil.ReadServerData(rw)
		if err != nil {
			var closed wsutil.ClosedError
			if ctx.Err() != nil || errors.As(err, &closed) || errors.Is(err, io.EOF) {
				return nil
			}
			return model.WrapError(err, "read inspector feed")
		}
		if op != ws.OpText && op != ws.OpBinary {
			continue
		}

		event, err := w.decode(data)
		if err != nil {
			w.logger.Warn("Skipping undecodable feed message: %v", err)
			continue
		}
		if event.HTTP != nil && !Matches(w.filter, event.HTTP) {
			continue
		}
		if err := handle(event); err != nil {
			return err
		}
	}
}

func (w *Watcher) decode(data []byte) (*Event, error) {
	msg, err := DecodeMessage(w.codec, data)
	if err != nil {
		return nil, err
	}

	event := &Event{Message: msg, Category: model.FilterNone}
	switch msg.Type {
	case model.MessageTypeHTTPRequest, model.MessageTypeHTTPResponse:
		var payload model.HTTPMessagePayload
		if err := DecodePayload(w.codec, msg, &payload); err != nil {
			return nil, err
		}
		event.HTTP = &payload
		event.Category = Classify(&payload)
	case model.MessageTypeConnectionClosed:
		var payload model.ConnectionClosedPayload
		if err := DecodePayload(w.codec, msg, &payload); err != nil {
			return nil, err
		}
		event.Closed = &payload
	case model.MessageTypeError:
		var payload model.ErrorPayload
		if err := DecodePayload(w.codec, msg, &payload); err != nil {
			return nil, err
		}
		event.Error = &payload
	}
	return event, nil
}

// FormatEvent renders an event as a single line
func FormatEvent(e *Event) string {
	switch {
	case e.HTTP != nil && e.HTTP.Direction == model.ClientToServer.String():
		return fmt.Sprintf("[%s] -> #%d %s %s %s (%d bytes) %s",
			e.HTTP.ConnectionID, e.HTTP.Sequence, e.HTTP.Method, e.HTTP.URI, e.HTTP.Version,
			len(e.HTTP.Body), e.Category)
	case e.HTTP != nil:
		return fmt.Sprintf("[%s] <- #%d %s %d %s (%d bytes) %s",
			e.HTTP.ConnectionID, e.HTTP.Sequence, e.HTTP.Version, e.HTTP.Status,
			e.HTTP.Field("Content-Type"), len(e.HTTP.Body), e.Category)
	case e.Closed != nil:
		return fmt.Sprintf("[%s] closed: %d requests, %d responses, %d rejected",
			e.Closed.ConnectionID, e.Closed.Requests, e.Closed.Responses, e.Closed.Rejected)
	case e.Error != nil:
		return fmt.Sprintf("[%s] %s: %s", e.Error.ConnectionID, e.Error.Code, e.Error.Message)
	default:
		return fmt.Sprintf("%s message", e.Message.Type)
	}
}

// frameConn reads through the handshake buffer when the server already sent
// frames with its handshake response
func frameConn(conn net.Conn, br *bufio.Reader) io.ReadWriter {
	if br == nil {
		return conn
	}
	return struct {
		io.Reader
		io.Writer
	}{br, conn}
}
