package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseHTTPData(t *testing.T) {
	t.Parallel()

	t.Run("request with body", func(t *testing.T) {
		t.Parallel()
		raw := []byte("POST /submit HTTP/1.1\r\nContent-Length: 9\r\n\r\nkey=value")
		d, err := ParseHTTPData(raw, ClientToServer)
		require.NoError(t, err)
		assert.Equal(t, "POST", d.Header.Method)
		assert.Equal(t, "9", d.Header.Fields["Content-Length"])
		assert.Equal(t, "key=value", string(d.Body.Bytes()))

		// body does not alias the input
		raw[len(raw)-1] = 'X'
		assert.Equal(t, "key=value", string(d.Body.Bytes()))
	})

	t.Run("response without body", func(t *testing.T) {
		t.Parallel()
		d, err := ParseHTTPData([]byte("HTTP/1.1 304 Not Modified\r\nETag: \"x\"\r\n\r\n"), ServerToClient)
		require.NoError(t, err)
		assert.Equal(t, StatusNotModified, d.Header.Status)
		assert.Zero(t, d.Body.Len())
	})

	t.Run("body keeps further blank lines", func(t *testing.T) {
		t.Parallel()
		d, err := ParseHTTPData([]byte("HTTP/1.1 200 OK\r\n\r\na\r\n\r\nb"), ServerToClient)
		require.NoError(t, err)
		assert.Equal(t, "a\r\n\r\nb", string(d.Body.Bytes()))
	})

	t.Run("missing boundary", func(t *testing.T) {
		t.Parallel()
		_, err := ParseHTTPData([]byte("GET / HTTP/1.1\r\nHost: a.com\r\n"), ClientToServer)
		assert.Error(t, err)
	})

	t.Run("head error propagates", func(t *testing.T) {
		t.Parallel()
		_, err := ParseHTTPData([]byte("HTTP/1.1 418 Teapot\r\n\r\n"), ServerToClient)
		assert.Error(t, err)
	})
}

func TestHTTPData_JSON(t *testing.T) {
	t.Parallel()

	d, err := ParseHTTPData([]byte("GET /x HTTP/1.1\r\nHost: a.com\r\n\r\nbody"), ClientToServer)
	require.NoError(t, err)

	encoded, err := json.Marshal(d)
	require.NoError(t, err)
	assert.Contains(t, string(encoded), `"direction":"ClientToServer"`)
	assert.Contains(t, string(encoded), `"version":"HTTP/1.1"`)

	var decoded HTTPData
	require.NoError(t, json.Unmarshal(encoded, &decoded))
	assert.Equal(t, d.Header, decoded.Header)
	assert.Equal(t, "body", string(decoded.Body.Bytes()))
}
