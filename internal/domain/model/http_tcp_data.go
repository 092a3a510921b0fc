package model

import (
	"bytes"
	"time"
)

// RejectedMessage keeps bytes that were drained from an accumulator but could
// not be framed as an HTTP message
type RejectedMessage struct {
	Direction StreamDirection `json:"direction"`
	Raw       []byte          `json:"raw"`
	Reason    string          `json:"reason"`
}

// HTTPTCPData accumulates the traffic of one client/server connection and
// frames it into request and response messages. Requests and responses are
// independent: a chunk only ever touches the accumulator of its direction.
type HTTPTCPData struct {
	ConnectionID    string            `json:"connection_id"`
	PendingRequest  []byte            `json:"pending_request"`
	PendingResponse []byte            `json:"pending_response"`
	Requests        []*HTTPData       `json:"requests"`
	Responses       []*HTTPData       `json:"responses"`
	Rejected        []RejectedMessage `json:"rejected,omitempty"`
	Closed          bool              `json:"closed"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// NewHTTPTCPData creates an empty accumulator for a connection
func NewHTTPTCPData(connectionID string) *HTTPTCPData {
	return &HTTPTCPData{ConnectionID: connectionID}
}

var responsePrefix = []byte("HTTP/1.1")

// Push folds one chunk into the accumulator of its direction. When the chunk
// starts a new message and bytes from earlier chunks are pending, the pending
// bytes are framed first. The chunk bytes are always appended afterwards.
//
// The returned message is the one completed by this push, if any. A framing
// error is returned together with a nil message; the drained bytes are kept
// in Rejected.
func (d *HTTPTCPData) Push(chunk *ProxyData) (*HTTPData, error) {
	d.UpdatedAt = time.Now()
	if chunk.Closed {
		d.Closed = true
		return nil, nil
	}

	payload := chunk.Bytes()
	pending := d.pending(chunk.Direction)

	var (
		completed *HTTPData
		err       error
	)
	if len(*pending) > 0 && startsMessage(chunk.Direction, payload) {
		completed, err = d.frame(chunk.Direction, *pending)
		*pending = nil
	}

	*pending = append(*pending, payload...)
	return completed, err
}

// Flush frames whatever is still pending in both directions. It is used once
// the connection is gone and no further message can start.
func (d *HTTPTCPData) Flush() ([]*HTTPData, []error) {
	var (
		completed []*HTTPData
		errs      []error
	)
	for _, dir := range []StreamDirection{ClientToServer, ServerToClient} {
		pending := d.pending(dir)
		if len(*pending) == 0 {
			continue
		}
		msg, err := d.frame(dir, *pending)
		*pending = nil
		if err != nil {
			errs = append(errs, err)
			continue
		}
		completed = append(completed, msg)
	}
	return completed, errs
}

func (d *HTTPTCPData) frame(dir StreamDirection, raw []byte) (*HTTPData, error) {
	msg, err := ParseHTTPData(raw, dir)
	if err != nil {
		d.Rejected = append(d.Rejected, RejectedMessage{
			Direction: dir,
			Raw:       raw,
			Reason:    err.Error(),
		})
		return nil, err
	}
	if dir == ClientToServer {
		d.Requests = append(d.Requests, msg)
	} else {
		d.Responses = append(d.Responses, msg)
	}
	return msg, nil
}

func (d *HTTPTCPData) pending(dir StreamDirection) *[]byte {
	if dir == ClientToServer {
		return &d.PendingRequest
	}
	return &d.PendingResponse
}

func startsMessage(dir StreamDirection, payload []byte) bool {
	if dir == ServerToClient {
		return bytes.HasPrefix(payload, responsePrefix)
	}
	for _, token := range MethodTokens() {
		if bytes.HasPrefix(payload, token) {
			return true
		}
	}
	return false
}

// Snapshot returns a deep copy that is safe to hand to another goroutine
func (d *HTTPTCPData) Snapshot() *HTTPTCPData {
	c := &HTTPTCPData{
		ConnectionID:    d.ConnectionID,
		PendingRequest:  bytes.Clone(d.PendingRequest),
		PendingResponse: bytes.Clone(d.PendingResponse),
		Closed:          d.Closed,
		UpdatedAt:       d.UpdatedAt,
	}
	for _, r := range d.Requests {
		c.Requests = append(c.Requests, r.Clone())
	}
	for _, r := range d.Responses {
		c.Responses = append(c.Responses, r.Clone())
	}
	for _, r := range d.Rejected {
		c.Rejected = append(c.Rejected, RejectedMessage{
			Direction: r.Direction,
			Raw:       bytes.Clone(r.Raw),
			Reason:    r.Reason,
		})
	}
	return c
}
