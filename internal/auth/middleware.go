package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/noah-isme/credits-checkout/internal/common"
	"github.com/noah-isme/credits-checkout/internal/payment"
)

// Middleware wires authentication context into HTTP handlers.
type Middleware struct {
	Auth *Authenticator
}

// RequireAuth rejects requests without a valid bearer token and stores the
// caller's user id and token on the request context.
func (m Middleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.Auth == nil {
			common.JSONError(w, http.StatusInternalServerError, payment.CodeInternal, "authentication not configured")
			return
		}
		token := bearer(r)
		userID, err := m.Auth.Parse(token)
		if err != nil {
			code := payment.CodeUnauthorized
			var perr *payment.Error
			if errors.As(err, &perr) {
				code = perr.Code
			}
			common.JSONError(w, http.StatusUnauthorized, code, payment.UserMessage(err))
			return
		}
		ctx := common.WithBearer(common.WithUserID(r.Context(), userID), token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func bearer(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}
