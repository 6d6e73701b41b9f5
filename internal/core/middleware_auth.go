package core

import (
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"pushpipe/internal/types"
)

// RequireTriggerSecret authenticates manual dispatch requests. The caller
// presents the shared trigger secret as a bearer token; the server stores
// only its bcrypt hash. Requests are rejected before any job store access.
func (s *Server) RequireTriggerSecret(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := extractBearerToken(r)
		if err != nil {
			Error(w, r, err)
			return
		}

		hash := s.Config.Trigger.SecretHash.Unmask()
		if hash == "" {
			s.Logger.Error("trigger secret hash is not configured")
			Error(w, r, types.NewAppError(types.ErrCodeAuthTokenInvalid, "invalid trigger credential", nil))
			return
		}

		if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(token)); err != nil {
			s.Logger.Warn("trigger authentication failed",
				"request_id", types.GetRequestID(r.Context()),
			)
			Error(w, r, types.NewAppError(types.ErrCodeAuthTokenInvalid, "invalid trigger credential", nil))
			return
		}

		next.ServeHTTP(w, r)
	})
}

// extractBearerToken pulls the credential from the Authorization header.
func extractBearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", types.NewAppError(types.ErrCodeAuthTokenMissing, "authorization header is required", nil)
	}

	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") || token == "" {
		return "", types.NewAppError(types.ErrCodeAuthTokenInvalid, "authorization header must use the Bearer scheme", nil)
	}
	return token, nil
}
