package model

// BufferSize is the capacity of a single relay read and of a captured chunk
const BufferSize = 4096

// ProxyData is one captured relay read: the bytes forwarded in one direction of
// one connection. A ProxyData with Closed set carries no bytes and marks the end
// of the connection so pending messages can be flushed.
type ProxyData struct {
	ConnectionID string
	Direction    StreamDirection
	Buffer       [BufferSize]byte
	Len          int
	Closed       bool
}

// CapturedChunk is the name used by the capture pipeline for ProxyData
type CapturedChunk = ProxyData

// NewProxyData creates a chunk for n bytes of buffer
func NewProxyData(connectionID string, direction StreamDirection, buffer [BufferSize]byte, n int) ProxyData {
	if n > BufferSize {
		n = BufferSize
	}
	return ProxyData{
		ConnectionID: connectionID,
		Direction:    direction,
		Buffer:       buffer,
		Len:          n,
	}
}

// NewProxyDataFromBytes copies b (truncated to BufferSize) into a chunk
func NewProxyDataFromBytes(connectionID string, direction StreamDirection, b []byte) ProxyData {
	var buffer [BufferSize]byte
	n := copy(buffer[:], b)
	return NewProxyData(connectionID, direction, buffer, n)
}

// NewCloseMarker creates the end-of-connection marker for connectionID
func NewCloseMarker(connectionID string) ProxyData {
	return ProxyData{ConnectionID: connectionID, Closed: true}
}

// Bytes returns the captured payload
func (p *ProxyData) Bytes() []byte {
	return p.Buffer[:p.Len]
}
