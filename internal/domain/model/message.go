package model

import (
	"encoding/json"
	"time"
)

// MessageType defines the kinds of messages published on the inspector feed
type MessageType string

const (
	// MessageTypeHTTPRequest carries a framed request
	MessageTypeHTTPRequest MessageType = "http_request"
	// MessageTypeHTTPResponse carries a framed response
	MessageTypeHTTPResponse MessageType = "http_response"
	// MessageTypeConnectionClosed announces that a connection finished
	MessageTypeConnectionClosed MessageType = "connection_closed"
	// MessageTypeError carries an error description
	MessageTypeError MessageType = "error"
)

// ProtocolVersion is the feed protocol version
const ProtocolVersion = "1.0.0"

// Message represents the envelope of every feed message
type Message struct {
	// Type is the message type
	Type MessageType `json:"type" msgpack:"type"`
	// Version is the protocol version
	Version string `json:"version" msgpack:"version"`
	// Timestamp is when the message was created (in milliseconds since epoch)
	Timestamp int64 `json:"timestamp" msgpack:"timestamp"`
	// Payload holds the payload, encoded the same way as the envelope
	Payload json.RawMessage `json:"payload,omitempty" msgpack:"payload,omitempty"`
}

// NewMessage creates a message whose payload was already encoded
func NewMessage(msgType MessageType, payload []byte) *Message {
	return &Message{
		Type:      msgType,
		Version:   ProtocolVersion,
		Timestamp: time.Now().UnixNano() / int64(time.Millisecond),
		Payload:   payload,
	}
}

// HTTPMessagePayload describes one framed message on the feed
type HTTPMessagePayload struct {
	ConnectionID string            `json:"connection_id" msgpack:"connection_id"`
	Sequence     int               `json:"sequence" msgpack:"sequence"`
	Direction    string            `json:"direction" msgpack:"direction"`
	Method       string            `json:"method,omitempty" msgpack:"method,omitempty"`
	URI          string            `json:"uri,omitempty" msgpack:"uri,omitempty"`
	Version      string            `json:"version" msgpack:"version"`
	Status       int               `json:"status,omitempty" msgpack:"status,omitempty"`
	Fields       map[string]string `json:"fields" msgpack:"fields"`
	Body         []byte            `json:"body,omitempty" msgpack:"body,omitempty"`
}

// NewHTTPMessagePayload flattens msg for the feed
func NewHTTPMessagePayload(connectionID string, sequence int, msg *HTTPData) *HTTPMessagePayload {
	p := &HTTPMessagePayload{
		ConnectionID: connectionID,
		Sequence:     sequence,
		Direction:    msg.Direction.String(),
		Version:      msg.Header.Version.String(),
		Fields:       msg.Header.Fields,
		Body:         msg.Body.Bytes(),
	}
	if msg.Direction == ClientToServer {
		p.Method = msg.Header.Method
		p.URI = msg.Header.URI
	} else {
		p.Status = int(msg.Header.Status)
	}
	return p
}

// ConnectionClosedPayload announces the end of a connection
type ConnectionClosedPayload struct {
	ConnectionID string `json:"connection_id" msgpack:"connection_id"`
	Requests     int    `json:"requests" msgpack:"requests"`
	Responses    int    `json:"responses" msgpack:"responses"`
	Rejected     int    `json:"rejected" msgpack:"rejected"`
}

// ErrorCodeRejected marks bytes that could not be framed as an HTTP message
const ErrorCodeRejected = "rejected_message"

// ErrorPayload is for error messages
type ErrorPayload struct {
	// ConnectionID is the connection the error belongs to
	ConnectionID string `json:"connection_id" msgpack:"connection_id"`
	// Code is the error code
	Code string `json:"code" msgpack:"code"`
	// Message contains the error details
	Message string `json:"message" msgpack:"message"`
}

// Field returns a header field, matching the name case-insensitively
func (p *HTTPMessagePayload) Field(name string) string {
	return LookupField(p.Fields, name)
}
