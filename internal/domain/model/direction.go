package model

import "fmt"

// StreamDirection tags captured bytes with the side of the connection they came from
type StreamDirection int

const (
	// ClientToServer marks bytes read from the client and written to the server
	ClientToServer StreamDirection = iota
	// ServerToClient marks bytes read from the server and written to the client
	ServerToClient
)

// String returns the string representation of the direction
func (d StreamDirection) String() string {
	switch d {
	case ClientToServer:
		return "ClientToServer"
	case ServerToClient:
		return "ServerToClient"
	default:
		return fmt.Sprintf("StreamDirection(%d)", int(d))
	}
}

// MarshalText renders the direction by name in JSON documents
func (d StreamDirection) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText parses a direction name
func (d *StreamDirection) UnmarshalText(text []byte) error {
	switch string(text) {
	case "ClientToServer":
		*d = ClientToServer
	case "ServerToClient":
		*d = ServerToClient
	default:
		return NewProxyError("unknown stream direction %q", string(text))
	}
	return nil
}
