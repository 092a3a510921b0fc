package inspector

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tapwire/tapwire/internal/domain/model"
	"github.com/tapwire/tapwire/internal/domain/port"
)

const (
	// FeedPath serves the websocket message feed
	FeedPath = "/feed"
	// SnapshotPath serves every connection snapshot as JSON
	SnapshotPath = "/snapshot"

	clientQueueSize = 256
	writeWait       = 10 * time.Second
	pongWait        = 60 * time.Second
	pingPeriod      = (pongWait * 9) / 10
)

// SnapshotSource provides the current state of every captured connection
type SnapshotSource interface {
	Snapshot() []*model.HTTPTCPData
}

type feedClient struct {
	conn   *websocket.Conn
	codec  Codec
	send   chan []byte
	closed chan struct{}
	once   sync.Once
}

// close asks the write pump to say goodbye and drop the connection
func (c *feedClient) close() {
	c.once.Do(func() {
		close(c.closed)
	})
}

// Feed publishes framed messages to websocket subscribers and serves
// snapshots of the aggregator state
type Feed struct {
	source   SnapshotSource
	logger   port.Logger
	upgrader websocket.Upgrader

	mutex   sync.RWMutex
	clients map[*feedClient]struct{}

	server   *http.Server
	listener net.Listener
}

// NewFeed creates a new Feed instance
func NewFeed(source SnapshotSource, logger port.Logger) *Feed {
	return &Feed{
		source: source,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// the feed is bound to a local address and read by local tools
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[*feedClient]struct{}),
	}
}

// Handler returns the HTTP handler serving the feed and snapshot endpoints
func (f *Feed) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(FeedPath, f.handleFeed)
	mux.HandleFunc(SnapshotPath, f.handleSnapshot)
	return mux
}

// Start serves the feed on addr
func (f *Feed) Start(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return model.WrapError(err, "failed to start inspector feed on %s", addr)
	}

	f.mutex.Lock()
	f.listener = listener
	f.server = &http.Server{Handler: f.Handler(), ReadHeaderTimeout: 10 * time.Second}
	server := f.server
	f.mutex.Unlock()

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			f.logger.Error("Inspector feed stopped: %v", err)
		}
	}()
	f.logger.Info("Inspector feed ready on ws://%s%s", listener.Addr(), FeedPath)
	return nil
}

// Addr returns the bound address, nil before Start
func (f *Feed) Addr() net.Addr {
	f.mutex.RLock()
	defer f.mutex.RUnlock()
	if f.listener == nil {
		return nil
	}
	return f.listener.Addr()
}

// Stop shuts the server down and disconnects every subscriber
func (f *Feed) Stop(ctx context.Context) error {
	f.mutex.Lock()
	server := f.server
	f.server = nil
	clients := make([]*feedClient, 0, len(f.clients))
	for c := range f.clients {
		clients = append(clients, c)
	}
	f.mutex.Unlock()

	for _, c := range clients {
		c.close()
	}
	if server == nil {
		return nil
	}
	return server.Shutdown(ctx)
}

// ClientCount returns the number of connected subscribers
func (f *Feed) ClientCount() int {
	f.mutex.RLock()
	defer f.mutex.RUnlock()
	return len(f.clients)
}

// PublishHTTP sends a framed message to every subscriber
func (f *Feed) PublishHTTP(connectionID string, sequence int, msg *model.HTTPData) {
	msgType := model.MessageTypeHTTPRequest
	if msg.Direction == model.ServerToClient {
		msgType = model.MessageTypeHTTPResponse
	}
	f.broadcast(msgType, model.NewHTTPMessagePayload(connectionID, sequence, msg))
}

// PublishClosed announces the end of a connection to every subscriber
func (f *Feed) PublishClosed(snapshot *model.HTTPTCPData) {
	f.broadcast(model.MessageTypeConnectionClosed, &model.ConnectionClosedPayload{
		ConnectionID: snapshot.ConnectionID,
		Requests:     len(snapshot.Requests),
		Responses:    len(snapshot.Responses),
		Rejected:     len(snapshot.Rejected),
	})
}

// PublishError tells every subscriber that bytes of a connection were rejected
func (f *Feed) PublishError(connectionID string, err error) {
	f.broadcast(model.MessageTypeError, &model.ErrorPayload{
		ConnectionID: connectionID,
		Code:         model.ErrorCodeRejected,
		Message:      err.Error(),
	})
}

func (f *Feed) broadcast(msgType model.MessageType, payload interface{}) {
	f.mutex.RLock()
	defer f.mutex.RUnlock()

	if len(f.clients) == 0 {
		return
	}

	// each encoding is produced once per message; a nil entry marks an
	// encoding that failed and whose clients are skipped
	encoded := make(map[model.FeedEncoding][]byte, 2)
	for c := range f.clients {
		data, ok := encoded[c.codec.Name()]
		if !ok {
			var err error
			data, err = EncodeMessage(c.codec, msgType, payload)
			if err != nil {
				f.logger.Error("Failed to encode %s message as %s: %v", msgType, c.codec.Name(), err)
				data = nil
			}
			encoded[c.codec.Name()] = data
		}
		if data == nil {
			continue
		}

		select {
		case c.send <- data:
		case <-c.closed:
		default:
			f.logger.Warn("Inspector subscriber %s is too slow, dropping %s message", c.conn.RemoteAddr(), msgType)
		}
	}
}

func (f *Feed) handleFeed(w http.ResponseWriter, r *http.Request) {
	codec, err := CodecFor(model.FeedEncoding(r.URL.Query().Get("encoding")))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		f.logger.Warn("Inspector websocket upgrade failed: %v", err)
		return
	}

	c := &feedClient{
		conn:   conn,
		codec:  codec,
		send:   make(chan []byte, clientQueueSize),
		closed: make(chan struct{}),
	}
	f.mutex.Lock()
	f.clients[c] = struct{}{}
	f.mutex.Unlock()
	f.logger.Info("Inspector subscriber connected from %s (%s)", conn.RemoteAddr(), codec.Name())

	go f.writePump(c)
	f.readPump(c)
}

// readPump only watches for the subscriber going away
func (f *Feed) readPump(c *feedClient) {
	defer func() {
		f.mutex.Lock()
		delete(f.clients, c)
		f.mutex.Unlock()
		c.close()
		f.logger.Info("Inspector subscriber %s disconnected", c.conn.RemoteAddr())
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				f.logger.Debug("Inspector subscriber read error: %v", err)
			}
			return
		}
	}
}

func (f *Feed) writePump(c *feedClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	frameType := websocket.TextMessage
	if c.codec.Binary() {
		frameType = websocket.BinaryMessage
	}

	for {
		select {
		case data := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(frameType, data); err != nil {
				c.close()
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		case <-c.closed:
			c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			return
		}
	}
}

func (f *Feed) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var snapshot []*model.HTTPTCPData
	if f.source != nil {
		snapshot = f.source.Snapshot()
	}
	if snapshot == nil {
		snapshot = []*model.HTTPTCPData{}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(snapshot); err != nil {
		f.logger.Warn("Failed to write snapshot: %v", err)
	}
}

// Ensure Feed implements port.FeedServer
var _ port.FeedServer = (*Feed)(nil)
