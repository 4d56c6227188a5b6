package httpapi

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

type authError struct {
	status  int
	message string
}

func (e *authError) Error() string {
	return e.message
}

var errUnauthorized = &authError{status: http.StatusUnauthorized, message: "Unauthorized"}

// verifyWebhookSecret compares the x-webhook-secret header with the
// configured secret. An unset secret rejects every request.
func verifyWebhookSecret(header, secret string) *authError {
	if secret == "" || header == "" {
		return errUnauthorized
	}
	if !constantTimeEqual(header, secret) {
		return errUnauthorized
	}
	return nil
}

// authorizeServiceKey accepts "Authorization: Bearer <service key>". The
// stream endpoint also passes a token query parameter because browsers
// cannot set headers on websocket upgrades.
func authorizeServiceKey(authHeader, queryToken, serviceKey string) *authError {
	if serviceKey == "" {
		return errUnauthorized
	}
	token := queryToken
	if authHeader != "" {
		if !strings.HasPrefix(authHeader, "Bearer ") {
			return errUnauthorized
		}
		token = strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	}
	if token == "" || !constantTimeEqual(token, serviceKey) {
		return errUnauthorized
	}
	return nil
}

func constantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
