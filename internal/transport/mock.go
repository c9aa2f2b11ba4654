package transport

import (
	"context"
	"errors"
	"math/rand"

	"github.com/google/uuid"
	appErrors "github.com/nguyenhoangdanh/oauth-mail-sub000/internal/errors"
)

var errMockSend = errors.New("mock send failed")

// MockTransport simulates a provider with a configurable success rate.
// Used in development when no SMTP relay is configured.
type MockTransport struct {
	SuccessRate float64
}

func NewMockTransport() *MockTransport {
	return &MockTransport{SuccessRate: 0.9}
}

func (t *MockTransport) Name() string { return "mock" }

func (t *MockTransport) Send(ctx context.Context, mail *Mail) (string, error) {
	if rand.Float64() < t.SuccessRate {
		return uuid.NewString(), nil
	}
	return "", appErrors.NewTransport(errMockSend)
}
