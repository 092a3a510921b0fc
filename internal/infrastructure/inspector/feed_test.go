package inspector

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tapwire/tapwire/internal/domain/model"
	"github.com/tapwire/tapwire/internal/infrastructure/logger"
)

type staticSource []*model.HTTPTCPData

func (s staticSource) Snapshot() []*model.HTTPTCPData { return s }

func mustParse(t *testing.T, raw string, dir model.StreamDirection) *model.HTTPData {
	t.Helper()
	d, err := model.ParseHTTPData([]byte(raw), dir)
	require.NoError(t, err)
	return d
}

// subscribe runs a watcher against the feed and returns its events
func subscribe(t *testing.T, feed *Feed, addr string, encoding model.FeedEncoding, filter model.FilterMode) (<-chan *Event, <-chan error, context.CancelFunc) {
	t.Helper()

	watcher, err := NewWatcher(addr, encoding, filter, logger.NewDiscardLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	events := make(chan *Event, 16)
	errs := make(chan error, 1)
	before := feed.ClientCount()
	go func() {
		errs <- watcher.Watch(ctx, func(e *Event) error {
			events <- e
			return nil
		})
	}()

	require.Eventually(t, func() bool { return feed.ClientCount() == before+1 }, 5*time.Second, 10*time.Millisecond)
	return events, errs, cancel
}

func next(t *testing.T, events <-chan *Event) *Event {
	t.Helper()
	select {
	case e := <-events:
		return e
	case <-time.After(5 * time.Second):
		t.Fatal("no event received")
		return nil
	}
}

func TestFeed_DeliversMessages(t *testing.T) {
	t.Parallel()

	for _, encoding := range []model.FeedEncoding{model.FeedEncodingJSON, model.FeedEncodingMsgpack} {
		encoding := encoding
		t.Run(string(encoding), func(t *testing.T) {
			t.Parallel()

			feed := NewFeed(nil, logger.NewDiscardLogger())
			server := httptest.NewServer(feed.Handler())
			defer server.Close()

			events, errs, cancel := subscribe(t, feed, strings.TrimPrefix(server.URL, "http://"), encoding, model.FilterNone)

			req := mustParse(t, "GET /index.html HTTP/1.1\r\nHost: a.com\r\n\r\n", model.ClientToServer)
			resp := mustParse(t, "HTTP/1.1 200 OK\r\nContent-Type: text/html\r\n\r\n<html>", model.ServerToClient)
			feed.PublishHTTP("c1", 0, req)
			feed.PublishHTTP("c1", 0, resp)
			feed.PublishClosed(&model.HTTPTCPData{ConnectionID: "c1", Requests: []*model.HTTPData{req}, Responses: []*model.HTTPData{resp}})

			e := next(t, events)
			assert.Equal(t, model.MessageTypeHTTPRequest, e.Message.Type)
			assert.Equal(t, model.ProtocolVersion, e.Message.Version)
			require.NotNil(t, e.HTTP)
			assert.Equal(t, "GET", e.HTTP.Method)
			assert.Equal(t, "/index.html", e.HTTP.URI)
			assert.Equal(t, "a.com", e.HTTP.Fields["Host"])
			assert.Equal(t, model.FilterDocument, e.Category)

			e = next(t, events)
			assert.Equal(t, model.MessageTypeHTTPResponse, e.Message.Type)
			require.NotNil(t, e.HTTP)
			assert.Equal(t, 200, e.HTTP.Status)
			assert.Equal(t, "<html>", string(e.HTTP.Body))
			assert.Contains(t, FormatEvent(e), "<- #0 HTTP/1.1 200 text/html")

			e = next(t, events)
			require.NotNil(t, e.Closed)
			assert.Equal(t, 1, e.Closed.Requests)
			assert.Equal(t, 1, e.Closed.Responses)
			assert.Equal(t, "[c1] closed: 1 requests, 1 responses, 0 rejected", FormatEvent(e))

			feed.PublishError("c1", errors.New("unknown HTTP status code 404"))
			e = next(t, events)
			assert.Equal(t, model.MessageTypeError, e.Message.Type)
			require.NotNil(t, e.Error)
			assert.Equal(t, "c1", e.Error.ConnectionID)
			assert.Equal(t, model.ErrorCodeRejected, e.Error.Code)
			assert.Equal(t, "[c1] rejected_message: unknown HTTP status code 404", FormatEvent(e))

			cancel()
			select {
			case err := <-errs:
				assert.NoError(t, err)
			case <-time.After(5 * time.Second):
				t.Fatal("watcher did not stop")
			}
		})
	}
}

func TestFeed_WatcherFilter(t *testing.T) {
	t.Parallel()

	feed := NewFeed(nil, logger.NewDiscardLogger())
	server := httptest.NewServer(feed.Handler())
	defer server.Close()

	events, _, cancel := subscribe(t, feed, strings.TrimPrefix(server.URL, "http://"), model.FeedEncodingJSON, model.FilterImage)
	defer cancel()

	feed.PublishHTTP("c1", 0, mustParse(t, "GET /page HTTP/1.1\r\nAccept: text/html\r\n\r\n", model.ClientToServer))
	feed.PublishHTTP("c1", 1, mustParse(t, "GET /logo.png HTTP/1.1\r\n\r\n", model.ClientToServer))
	feed.PublishClosed(&model.HTTPTCPData{ConnectionID: "c1"})

	e := next(t, events)
	require.NotNil(t, e.HTTP)
	assert.Equal(t, "/logo.png", e.HTTP.URI)
	assert.Equal(t, 1, e.HTTP.Sequence)

	e = next(t, events)
	assert.NotNil(t, e.Closed)
}

func TestFeed_RejectsUnknownEncoding(t *testing.T) {
	t.Parallel()

	feed := NewFeed(nil, logger.NewDiscardLogger())
	server := httptest.NewServer(feed.Handler())
	defer server.Close()

	resp, err := http.Get(server.URL + FeedPath + "?encoding=xml")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	_, err = NewWatcher("127.0.0.1:1", "xml", model.FilterNone, logger.NewDiscardLogger())
	assert.Error(t, err)
}

func TestFeed_Snapshot(t *testing.T) {
	t.Parallel()

	session := model.NewHTTPTCPData("c1")
	session.Requests = append(session.Requests, mustParse(t, "GET /a HTTP/1.1\r\n\r\n", model.ClientToServer))
	session.PendingResponse = []byte("HTTP/1.1 200 OK\r\n")

	feed := NewFeed(staticSource{session}, logger.NewDiscardLogger())
	server := httptest.NewServer(feed.Handler())
	defer server.Close()

	resp, err := http.Get(server.URL + SnapshotPath)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var decoded []*model.HTTPTCPData
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	require.Len(t, decoded, 1)
	assert.Equal(t, "c1", decoded[0].ConnectionID)
	require.Len(t, decoded[0].Requests, 1)
	assert.Equal(t, "/a", decoded[0].Requests[0].Header.URI)
	assert.Equal(t, "HTTP/1.1 200 OK\r\n", string(decoded[0].PendingResponse))

	post, err := http.Post(server.URL+SnapshotPath, "text/plain", nil)
	require.NoError(t, err)
	post.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, post.StatusCode)
}

func TestFeed_StopDisconnectsWatchers(t *testing.T) {
	t.Parallel()

	feed := NewFeed(nil, logger.NewDiscardLogger())
	require.NoError(t, feed.Start("127.0.0.1:0"))

	_, errs, cancel := subscribe(t, feed, feed.Addr().String(), model.FeedEncodingJSON, model.FilterNone)
	defer cancel()

	ctx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	require.NoError(t, feed.Stop(ctx))

	select {
	case err := <-errs:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher was not disconnected")
	}
}

func TestCodec_MessageEnvelope(t *testing.T) {
	t.Parallel()

	for _, encoding := range []model.FeedEncoding{model.FeedEncodingJSON, model.FeedEncodingMsgpack} {
		codec, err := CodecFor(encoding)
		require.NoError(t, err)

		data, err := EncodeMessage(codec, model.MessageTypeError, &model.ErrorPayload{Code: "E1", Message: "boom"})
		require.NoError(t, err)

		msg, err := DecodeMessage(codec, data)
		require.NoError(t, err)
		assert.Equal(t, model.MessageTypeError, msg.Type)

		var payload model.ErrorPayload
		require.NoError(t, DecodePayload(codec, msg, &payload))
		assert.Equal(t, "boom", payload.Message)
	}

	_, err := CodecFor("yaml")
	assert.Error(t, err)
}

type failingCodec struct{ jsonCodec }

func (failingCodec) Name() model.FeedEncoding { return "broken" }

func (failingCodec) Marshal(v interface{}) ([]byte, error) {
	return nil, errors.New("cannot encode")
}

func TestFeed_EncodingFailureSkipsOnlyThatCodec(t *testing.T) {
	t.Parallel()

	feed := NewFeed(nil, logger.NewDiscardLogger())
	broken := &feedClient{codec: failingCodec{}, send: make(chan []byte, 1), closed: make(chan struct{})}
	working := &feedClient{codec: jsonCodec{}, send: make(chan []byte, 1), closed: make(chan struct{})}
	feed.clients[broken] = struct{}{}
	feed.clients[working] = struct{}{}

	feed.PublishError("c1", errors.New("boom"))

	assert.Empty(t, broken.send)
	require.Len(t, working.send, 1)
	msg, err := DecodeMessage(jsonCodec{}, <-working.send)
	require.NoError(t, err)
	assert.Equal(t, model.MessageTypeError, msg.Type)
}
