package auth

import (
	"net/http"
	"net/url"
	"time"
)

// CookieSettings contains cookie security settings derived from the base URL.
type CookieSettings struct {
	// Secure restricts the cookie to HTTPS.
	Secure bool
}

// DeriveCookieSettings sets Secure unless the base URL is plain http.
func DeriveCookieSettings(baseURL string) CookieSettings {
	parsed, err := url.Parse(baseURL)
	if err != nil || baseURL == "" {
		return CookieSettings{Secure: true}
	}
	return CookieSettings{Secure: parsed.Scheme != "http"}
}

// SetTokenCookie stores the access token for browser clients.
func SetTokenCookie(w http.ResponseWriter, token string, expires time.Time, settings CookieSettings) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   settings.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearTokenCookie expires the token cookie.
func ClearTokenCookie(w http.ResponseWriter, settings CookieSettings) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   settings.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}
