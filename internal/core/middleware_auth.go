package core

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"bulletin/internal/types"
)

// AuthMiddleware verifies the bearer token with the identity provider and
// stores the resulting claims in the request context. Failures answer 401
// with auth_token_missing or auth_token_invalid; an unreachable identity
// provider answers 502.
func (s *Server) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			Error(w, r, types.NewAppError(types.ErrCodeAuthTokenMissing, "Authorization header is required", nil))
			return
		}

		token := extractBearerToken(authHeader)
		if token == "" {
			Error(w, r, types.NewAppError(types.ErrCodeAuthTokenMissing, "Bearer token is required", nil))
			return
		}

		claims, err := s.Identity.VerifyToken(r.Context(), token)
		if err != nil {
			s.handleAuthError(w, r, err)
			return
		}
		if claims == nil {
			Error(w, r, types.NewAppError(types.ErrCodeAuthTokenInvalid, "Invalid authentication token", nil))
			return
		}

		next.ServeHTTP(w, r.WithContext(types.WithClaims(r.Context(), *claims)))
	})
}

// extractBearerToken returns the token of a "Bearer <token>" header. The
// scheme is matched case-insensitively per RFC 7235.
func extractBearerToken(authHeader string) string {
	const prefix = "Bearer "
	if len(authHeader) < len(prefix) || !strings.EqualFold(authHeader[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(authHeader[len(prefix):])
}

func (s *Server) handleAuthError(w http.ResponseWriter, r *http.Request, err error) {
	var appErr *types.AppError
	if errors.As(err, &appErr) {
		switch appErr.Code {
		case types.ErrCodeAuthTokenMissing, types.ErrCodeAuthTokenInvalid, types.ErrCodeAuthTokenExpired:
			s.Logger.Warn("authentication failed",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.String("error_code", string(appErr.Code)),
			)
			Error(w, r, types.NewAppError(appErr.Code, "Invalid authentication token", nil))
			return
		case types.ErrCodeUpstreamIdentity, types.ErrCodeServiceUnavailable:
			s.Logger.Error("identity provider unavailable",
				slog.String("path", r.URL.Path),
				slog.String("error", err.Error()),
			)
			Error(w, r, types.NewAppError(appErr.Code, "Identity provider unavailable", nil))
			return
		}
	}

	s.Logger.Error("authentication failed: unexpected error",
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("error", err.Error()),
	)
	Error(w, r, types.NewAppError(types.ErrCodeAuthTokenInvalid, "Authentication failed", nil))
}

// RequireAdmin rejects requests whose claims do not carry the admin role.
// A request without claims answers 401.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := types.GetClaims(r.Context())
		if !ok {
			Error(w, r, types.NewAppError(types.ErrCodeAuthTokenMissing, "Authentication required", nil))
			return
		}
		if !claims.IsAdmin() {
			Error(w, r, types.NewAppError(types.ErrCodePermissionRole, "Admin role required", nil))
			return
		}
		next.ServeHTTP(w, r)
	})
}
