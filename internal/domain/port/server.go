package port

import "context"

// ListenerGroup is the set of proxy listeners served together
type ListenerGroup interface {
	// Start binds every listener and starts accepting
	Start(ctx context.Context) error

	// Stop closes every listener
	Stop()
}

// FeedServer serves captured messages to inspector clients
type FeedServer interface {
	MessagePublisher

	// Start serves on addr
	Start(addr string) error

	// Stop shuts the server down
	Stop(ctx context.Context) error
}
