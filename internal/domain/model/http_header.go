package model

import (
	"strings"
	"unicode/utf8"
)

const fieldSeparator = ": "

// HTTPHeader is a parsed request or response head. Fields keep the last value
// written for a name.
type HTTPHeader struct {
	Method  string            `json:"method,omitempty"`
	URI     string            `json:"uri,omitempty"`
	Version HTTPVersion       `json:"version"`
	Status  HTTPStatus        `json:"status,omitempty"`
	Fields  map[string]string `json:"fields"`
}

// NewHTTPHeader returns an empty header
func NewHTTPHeader() *HTTPHeader {
	return &HTTPHeader{
		Version: HTTP10,
		Status:  StatusOK,
		Fields:  make(map[string]string),
	}
}

// ParseClientHeader parses a request head: method, URI and version on the
// first line followed by fields.
func ParseClientHeader(raw []byte) (*HTTPHeader, error) {
	lines, err := headLines(raw)
	if err != nil {
		return nil, err
	}

	tokens := strings.Split(lines[0], " ")
	if len(tokens) < 1 || tokens[0] == "" {
		return nil, NewProxyError("request line has no method")
	}
	if len(tokens) < 2 {
		return nil, NewProxyError("request line has no URI")
	}
	if len(tokens) < 3 {
		return nil, NewProxyError("request line has no version")
	}

	h := NewHTTPHeader()
	h.Method = tokens[0]
	h.URI = tokens[1]
	if h.Version, err = ParseHTTPVersion(tokens[2]); err != nil {
		return nil, err
	}
	h.parseFields(lines[1:])
	return h, nil
}

// ParseServerHeader parses a response head: version and status code on the
// first line followed by fields. The reason phrase is ignored.
func ParseServerHeader(raw []byte) (*HTTPHeader, error) {
	lines, err := headLines(raw)
	if err != nil {
		return nil, err
	}

	tokens := strings.Split(lines[0], " ")
	if len(tokens) < 1 || tokens[0] == "" {
		return nil, NewProxyError("status line has no version")
	}
	if len(tokens) < 2 {
		return nil, NewProxyError("status line has no status code")
	}

	h := NewHTTPHeader()
	if h.Version, err = ParseHTTPVersion(tokens[0]); err != nil {
		return nil, err
	}
	if h.Status, err = ParseHTTPStatus(tokens[1]); err != nil {
		return nil, err
	}
	h.parseFields(lines[1:])
	return h, nil
}

func headLines(raw []byte) ([]string, error) {
	if !utf8.Valid(raw) {
		return nil, NewProxyError("HTTP head is not valid UTF-8")
	}
	text := strings.ReplaceAll(string(raw), "\r\n", "\n")
	lines := strings.Split(text, "\n")
	if len(lines) == 0 || lines[0] == "" {
		return nil, NewProxyError("HTTP head is empty")
	}
	return lines, nil
}

// parseFields splits each line on the first ": ". A value that itself
// contains ": " is rejoined so it survives unchanged.
func (h *HTTPHeader) parseFields(lines []string) {
	for _, line := range lines {
		if line == "" {
			continue
		}
		parts := strings.Split(line, fieldSeparator)
		h.Fields[parts[0]] = strings.Join(parts[1:], fieldSeparator)
	}
}

// LookupField returns the value of a field, matching the name
// case-insensitively when there is no exact match
func LookupField(fields map[string]string, name string) string {
	if v, ok := fields[name]; ok {
		return v
	}
	for k, v := range fields {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

// Clone returns a deep copy of the header
func (h *HTTPHeader) Clone() *HTTPHeader {
	c := *h
	c.Fields = make(map[string]string, len(h.Fields))
	for k, v := range h.Fields {
		c.Fields[k] = v
	}
	return &c
}
