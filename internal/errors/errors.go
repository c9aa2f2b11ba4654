package appErrors

import "fmt"

// ErrTemplateNotFound is returned when no active template exists by name.
type ErrTemplateNotFound struct {
	Name string
}

func (e *ErrTemplateNotFound) Error() string {
	return fmt.Sprintf("template %q not found", e.Name)
}

func NewTemplateNotFound(name string) error {
	return &ErrTemplateNotFound{Name: name}
}

// ErrTemplateSyntax is returned when a template fails to compile, either
// at save time or at render time.
type ErrTemplateSyntax struct {
	Name  string
	Cause error
}

func (e *ErrTemplateSyntax) Error() string {
	return fmt.Sprintf("template %q has invalid syntax: %v", e.Name, e.Cause)
}

func (e *ErrTemplateSyntax) Unwrap() error { return e.Cause }

func NewTemplateSyntax(name string, cause error) error {
	return &ErrTemplateSyntax{Name: name, Cause: cause}
}

// ErrInvalidRecipient is returned synchronously at enqueue time.
type ErrInvalidRecipient struct {
	Address string
}

func (e *ErrInvalidRecipient) Error() string {
	if e.Address == "" {
		return "recipient address is empty"
	}
	return fmt.Sprintf("invalid recipient address %q", e.Address)
}

func NewInvalidRecipient(address string) error {
	return &ErrInvalidRecipient{Address: address}
}

// ErrUnsupportedEventType is returned when a subscription names an event
// outside the supported set.
type ErrUnsupportedEventType struct {
	Event string
}

func (e *ErrUnsupportedEventType) Error() string {
	return fmt.Sprintf("unsupported event type %q", e.Event)
}

func NewUnsupportedEventType(event string) error {
	return &ErrUnsupportedEventType{Event: event}
}

// ErrSubscriptionNotFound is a sentinel error for a missing subscription.
type ErrSubscriptionNotFound struct {
	ID string
}

func (e *ErrSubscriptionNotFound) Error() string {
	return fmt.Sprintf("webhook subscription %s not found", e.ID)
}

func NewSubscriptionNotFound(id string) error {
	return &ErrSubscriptionNotFound{ID: id}
}

// ErrMessageNotFound is a sentinel error for a missing message.
type ErrMessageNotFound struct {
	ID string
}

func (e *ErrMessageNotFound) Error() string {
	return fmt.Sprintf("message %s not found", e.ID)
}

func NewMessageNotFound(id string) error {
	return &ErrMessageNotFound{ID: id}
}

// ErrTransport wraps a network or SMTP level send failure. Transport
// errors are retried by the queue until attempts are exhausted.
type ErrTransport struct {
	Cause error
}

func (e *ErrTransport) Error() string {
	return fmt.Sprintf("transport error: %v", e.Cause)
}

func (e *ErrTransport) Unwrap() error { return e.Cause }

func NewTransport(cause error) error {
	return &ErrTransport{Cause: cause}
}

// ErrTimeout marks a call that was cancelled by its deadline.
type ErrTimeout struct {
	Op    string
	Cause error
}

func (e *ErrTimeout) Error() string {
	return fmt.Sprintf("%s timed out: %v", e.Op, e.Cause)
}

func (e *ErrTimeout) Unwrap() error { return e.Cause }

func NewTimeout(op string, cause error) error {
	return &ErrTimeout{Op: op, Cause: cause}
}

// ErrNonSuccessStatus is returned when a webhook endpoint answers with a
// status outside the 2xx range.
type ErrNonSuccessStatus struct {
	StatusCode int
}

func (e *ErrNonSuccessStatus) Error() string {
	return fmt.Sprintf("endpoint returned status %d", e.StatusCode)
}

func NewNonSuccessStatus(code int) error {
	return &ErrNonSuccessStatus{StatusCode: code}
}
