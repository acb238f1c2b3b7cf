package usecase

import (
	"errors"
	"strings"

	"deskassist/internal/domain"
)

// Code 14 is the backend's catch-all transport status. The message
// distinguishes a missing or revoked credential from plain loss of
// connectivity.
const missingTokenMarker = "No access or refresh token is set"

func classifyBackendError(code int, message string) (domain.ErrorCategory, string) {
	if code == 14 {
		if strings.Contains(message, missingTokenMarker) {
			return domain.ErrorAuthInvalid, message
		}
		return domain.ErrorBackendOffline, message
	}
	return domain.ErrorBackendUnexpected, message
}

// classifyTurnError maps stream setup and transport failures. Anything
// that is not a structured backend error is treated as a connectivity
// problem.
func classifyTurnError(err error) (domain.ErrorCategory, string) {
	var backendErr *domain.BackendError
	if errors.As(err, &backendErr) {
		return classifyBackendError(backendErr.Code, backendErr.Message)
	}
	return domain.ErrorBackendOffline, err.Error()
}
