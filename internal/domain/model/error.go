package model

import (
	"errors"
	"fmt"
)

// ProxyError is the single error kind used across the proxy. It only carries
// a human readable message; causes are distinguished by text, not by type.
type ProxyError struct {
	msg string
}

// NewProxyError creates a ProxyError from a format string
func NewProxyError(format string, args ...interface{}) *ProxyError {
	if len(args) == 0 {
		return &ProxyError{msg: format}
	}
	return &ProxyError{msg: fmt.Sprintf(format, args...)}
}

// AsProxyError converts any error into a ProxyError by capturing its text.
// An error that already is (or wraps) a ProxyError is returned unchanged.
func AsProxyError(err error) *ProxyError {
	if err == nil {
		return nil
	}
	var pe *ProxyError
	if errors.As(err, &pe) {
		return pe
	}
	return &ProxyError{msg: err.Error()}
}

// WrapError prefixes the text of err with a context message
func WrapError(err error, format string, args ...interface{}) *ProxyError {
	if err == nil {
		return nil
	}
	return &ProxyError{msg: fmt.Sprintf(format, args...) + ": " + err.Error()}
}

// Error implements the error interface
func (e *ProxyError) Error() string {
	return e.msg
}
