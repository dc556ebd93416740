package httpapi

import (
	"crypto/subtle"
	"net/http"

	"crmdesk.io/internal/auth"
)

const (
	csrfHeader    = "X-CSRF-Token"
	sessionHeader = "X-Session-Token"
)

// CSRF requires X-CSRF-Token to equal X-Session-Token on unsafe methods.
// Outside production it passes everything.
func CSRF(production bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !production {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodGet, http.MethodHead, http.MethodOptions:
				next.ServeHTTP(w, r)
				return
			}
			token := r.Header.Get(csrfHeader)
			session := r.Header.Get(sessionHeader)
			if token == "" || session == "" || subtle.ConstantTimeCompare([]byte(token), []byte(session)) != 1 {
				writeError(w, r, auth.CSRFInvalid())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
