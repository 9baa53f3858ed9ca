package session

import (
	"net/http"
	"strings"
	"time"
)

// Transport moves session tokens between HTTP requests and responses.
type Transport struct {
	CookieName string
	Secure     bool
}

// Token returns the request's token and whether it came from the cookie.
// An Authorization bearer header wins over the cookie.
func (t Transport) Token(r *http.Request) (string, bool) {
	if header := r.Header.Get("Authorization"); header != "" {
		scheme, value, ok := strings.Cut(header, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(value), false
		}
	}
	cookie, err := r.Cookie(t.CookieName)
	if err != nil || cookie.Value == "" {
		return "", false
	}
	return cookie.Value, true
}

// Write sets the session cookie. Only persistent sessions get an expiry, so
// the others end with the browser session.
func (t Transport) Write(w http.ResponseWriter, token string, sess *Session) {
	cookie := &http.Cookie{
		Name:     t.CookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   t.Secure,
		SameSite: http.SameSiteStrictMode,
	}
	if sess != nil && sess.Persistent {
		cookie.Expires = sess.ExpiresAt
		cookie.MaxAge = int(time.Until(sess.ExpiresAt).Seconds())
	}
	http.SetCookie(w, cookie)
}

// Clear expires the session cookie.
func (t Transport) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     t.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   t.Secure,
		SameSite: http.SameSiteStrictMode,
	})
}
