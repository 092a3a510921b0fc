package model

import "strconv"

// HTTPVersion is the protocol version found on a request or status line
type HTTPVersion int

const (
	// HTTP10 is HTTP/1.0
	HTTP10 HTTPVersion = iota
	// HTTP11 is HTTP/1.1
	HTTP11
	// HTTP20 is HTTP/2.0
	HTTP20
	// HTTP30 is HTTP/3.0
	HTTP30
)

var versionTokens = map[string]HTTPVersion{
	"HTTP/1.0": HTTP10,
	"HTTP/1.1": HTTP11,
	"HTTP/2.0": HTTP20,
	"HTTP/3.0": HTTP30,
}

// ParseHTTPVersion parses the literal version token. Unknown tokens are an error.
func ParseHTTPVersion(token string) (HTTPVersion, error) {
	v, ok := versionTokens[token]
	if !ok {
		return HTTP10, NewProxyError("unsupported HTTP version %q", token)
	}
	return v, nil
}

// String returns the version token
func (v HTTPVersion) String() string {
	switch v {
	case HTTP10:
		return "HTTP/1.0"
	case HTTP11:
		return "HTTP/1.1"
	case HTTP20:
		return "HTTP/2.0"
	case HTTP30:
		return "HTTP/3.0"
	default:
		return "HTTP/?"
	}
}

// MarshalText renders the version token in JSON documents
func (v HTTPVersion) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

// UnmarshalText parses a version token
func (v *HTTPVersion) UnmarshalText(text []byte) error {
	parsed, err := ParseHTTPVersion(string(text))
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// HTTPStatus is a response status code from the closed set the parser knows
type HTTPStatus int

const (
	// StatusOK is 200
	StatusOK HTTPStatus = 200
	// StatusPartialContent is 206
	StatusPartialContent HTTPStatus = 206
	// StatusNotModified is 304
	StatusNotModified HTTPStatus = 304
)

// ParseHTTPStatus parses a numeric status token. Codes outside the known set
// are an error.
func ParseHTTPStatus(token string) (HTTPStatus, error) {
	code, err := strconv.Atoi(token)
	if err != nil {
		return StatusOK, WrapError(err, "invalid HTTP status %q", token)
	}
	switch HTTPStatus(code) {
	case StatusOK, StatusPartialContent, StatusNotModified:
		return HTTPStatus(code), nil
	default:
		return StatusOK, NewProxyError("unknown HTTP status code %d", code)
	}
}

// HTTPMethod is a request method. Parsed requests store the method verbatim,
// this list is only used to recognise the start of a new request.
type HTTPMethod string

const (
	MethodGet     HTTPMethod = "GET"
	MethodPost    HTTPMethod = "POST"
	MethodPut     HTTPMethod = "PUT"
	MethodHead    HTTPMethod = "HEAD"
	MethodConnect HTTPMethod = "CONNECT"
	MethodTrace   HTTPMethod = "TRACE"
	MethodPatch   HTTPMethod = "PATCH"
	MethodOptions HTTPMethod = "OPTIONS"
	MethodDelete  HTTPMethod = "DELETE"
)

// Methods returns every known method
func Methods() []HTTPMethod {
	return []HTTPMethod{
		MethodGet, MethodPost, MethodPut, MethodHead, MethodConnect,
		MethodTrace, MethodPatch, MethodOptions, MethodDelete,
	}
}

// MethodTokens returns the known methods as byte prefixes
func MethodTokens() [][]byte {
	methods := Methods()
	tokens := make([][]byte, 0, len(methods))
	for _, m := range methods {
		tokens = append(tokens, []byte(m))
	}
	return tokens
}
