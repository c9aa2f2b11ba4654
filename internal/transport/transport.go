package transport

import "context"

// Mail is a fully rendered message handed to a transport.
type Mail struct {
	From     string
	FromName string
	To       string
	ToName   string
	Subject  string
	HTML     string
	Text     string
	Headers  map[string]string
}

// Transport is the pluggable mechanism that actually sends a rendered
// message. Implementations return a provider-assigned message ID on
// success.
type Transport interface {
	Name() string
	Send(ctx context.Context, mail *Mail) (providerID string, err error)
}
