package model

import (
	"bytes"
	"encoding/json"
)

// headBodyGap separates the head of an HTTP message from its body
var headBodyGap = []byte("\r\n\r\n")

// HTTPBody holds an opaque message body
type HTTPBody struct {
	data []byte
}

// NewHTTPBody wraps b without copying
func NewHTTPBody(b []byte) HTTPBody {
	return HTTPBody{data: b}
}

// Bytes returns the raw body
func (b HTTPBody) Bytes() []byte {
	return b.data
}

// Len returns the body size in bytes
func (b HTTPBody) Len() int {
	return len(b.data)
}

// MarshalJSON encodes the body like a byte slice
func (b HTTPBody) MarshalJSON() ([]byte, error) {
	return json.Marshal(b.data)
}

// UnmarshalJSON decodes a body encoded by MarshalJSON
func (b *HTTPBody) UnmarshalJSON(data []byte) error {
	return json.Unmarshal(data, &b.data)
}

// HTTPData is one framed HTTP message
type HTTPData struct {
	Direction StreamDirection `json:"direction"`
	Header    *HTTPHeader     `json:"header"`
	Body      HTTPBody        `json:"body"`
}

// ParseHTTPData splits raw at the first blank line, parses the head according
// to direction and keeps everything after the blank line as the body.
func ParseHTTPData(raw []byte, direction StreamDirection) (*HTTPData, error) {
	pos := bytes.Index(raw, headBodyGap)
	if pos < 0 {
		return nil, NewProxyError("HTTP message has no head/body boundary")
	}

	var (
		header *HTTPHeader
		err    error
	)
	switch direction {
	case ClientToServer:
		header, err = ParseClientHeader(raw[:pos])
	case ServerToClient:
		header, err = ParseServerHeader(raw[:pos])
	default:
		return nil, NewProxyError("unknown stream direction %d", int(direction))
	}
	if err != nil {
		return nil, err
	}

	body := make([]byte, len(raw)-pos-len(headBodyGap))
	copy(body, raw[pos+len(headBodyGap):])

	return &HTTPData{
		Direction: direction,
		Header:    header,
		Body:      NewHTTPBody(body),
	}, nil
}

// Clone returns a deep copy of the message
func (d *HTTPData) Clone() *HTTPData {
	body := make([]byte, d.Body.Len())
	copy(body, d.Body.Bytes())
	return &HTTPData{
		Direction: d.Direction,
		Header:    d.Header.Clone(),
		Body:      NewHTTPBody(body),
	}
}
