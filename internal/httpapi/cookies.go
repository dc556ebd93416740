package httpapi

import (
	"net/http"
	"time"
)

const (
	accessCookie  = "accessToken"
	refreshCookie = "refreshToken"
)

type cookieJar struct {
	secure     bool
	accessTTL  time.Duration
	refreshTTL time.Duration
}

func (c cookieJar) cookie(name, value string, maxAge time.Duration) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   int(maxAge / time.Second),
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteStrictMode,
	}
}

func (c cookieJar) set(w http.ResponseWriter, access, refresh string) {
	http.SetCookie(w, c.cookie(accessCookie, access, c.accessTTL))
	http.SetCookie(w, c.cookie(refreshCookie, refresh, c.refreshTTL))
}

func (c cookieJar) clear(w http.ResponseWriter) {
	for _, name := range []string{accessCookie, refreshCookie} {
		ck := c.cookie(name, "", 0)
		ck.MaxAge = -1
		ck.Expires = time.Unix(0, 0)
		http.SetCookie(w, ck)
	}
}

func cookieValue(r *http.Request, name string) string {
	ck, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return ck.Value
}
