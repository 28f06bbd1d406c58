package auth

import (
	"net/http/httptest"
	"testing"
	"time"
)

func TestDeriveCookieSettings(t *testing.T) {
	tests := []struct {
		baseURL string
		secure  bool
	}{
		{"http://localhost:8000", false},
		{"https://backoffice.omnifin.example", true},
		{"", true},
	}
	for _, tt := range tests {
		if got := DeriveCookieSettings(tt.baseURL); got.Secure != tt.secure {
			t.Errorf("DeriveCookieSettings(%q).Secure = %v, want %v", tt.baseURL, got.Secure, tt.secure)
		}
	}
}

func TestSetAndClearTokenCookie(t *testing.T) {
	rec := httptest.NewRecorder()
	SetTokenCookie(rec, "tok", time.Now().Add(time.Hour), CookieSettings{Secure: true})

	cookies := rec.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != CookieName || cookies[0].Value != "tok" {
		t.Fatalf("unexpected cookies %v", cookies)
	}
	if !cookies[0].HttpOnly || !cookies[0].Secure {
		t.Error("expected HttpOnly and Secure cookie")
	}

	rec = httptest.NewRecorder()
	ClearTokenCookie(rec, CookieSettings{})
	cookies = rec.Result().Cookies()
	if len(cookies) != 1 || cookies[0].MaxAge >= 0 {
		t.Fatalf("expected expiring cookie, got %v", cookies)
	}
}
