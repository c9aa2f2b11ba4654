package controller

import (
	"encoding/json"
	"errors"
	"net/http"

	appErrors "github.com/nguyenhoangdanh/oauth-mail-sub000/internal/errors"
)

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), map[string]string{"error": err.Error()})
}

// statusFor maps the service error taxonomy onto HTTP codes. Validation
// failures surface synchronously as 4xx; everything else is a 500.
func statusFor(err error) int {
	var templateNotFound *appErrors.ErrTemplateNotFound
	var messageNotFound *appErrors.ErrMessageNotFound
	var subscriptionNotFound *appErrors.ErrSubscriptionNotFound
	if errors.As(err, &templateNotFound) ||
		errors.As(err, &messageNotFound) ||
		errors.As(err, &subscriptionNotFound) {
		return http.StatusNotFound
	}

	var invalidRecipient *appErrors.ErrInvalidRecipient
	var unsupportedEvent *appErrors.ErrUnsupportedEventType
	var templateSyntax *appErrors.ErrTemplateSyntax
	if errors.As(err, &invalidRecipient) ||
		errors.As(err, &unsupportedEvent) ||
		errors.As(err, &templateSyntax) {
		return http.StatusBadRequest
	}

	return http.StatusInternalServerError
}
