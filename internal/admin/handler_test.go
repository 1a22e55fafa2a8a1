package admin

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
)

func newTestHandler() *Handler {
	return NewHandler(nil, nil, NewSessionManager(nil, "test-session-secret-test-session-secret"), "routz-admin", nil)
}

func TestRequireAuthRedirectsWithoutCookie(t *testing.T) {
	h := newTestHandler()

	called := false
	protected := h.requireAuth(func(w http.ResponseWriter, r *http.Request) {
		called = true
	})

	req := httptest.NewRequest("GET", "/", nil)
	rec := httptest.NewRecorder()
	protected(rec, req)

	if called {
		t.Fatal("expected protected handler not to be called")
	}
	if rec.Code != http.StatusFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusFound)
	}
	if loc := rec.Header().Get("Location"); loc != "/login" {
		t.Fatalf("Location = %q, want /login", loc)
	}
}

func TestValidateDoubleSubmitCSRF(t *testing.T) {
	h := newTestHandler()

	makeRequest := func(cookieValue, formValue string) *http.Request {
		form := url.Values{}
		if formValue != "" {
			form.Set("csrf_token", formValue)
		}
		req := httptest.NewRequest("POST", "/login", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		if cookieValue != "" {
			req.AddCookie(&http.Cookie{Name: "routz_csrf", Value: cookieValue})
		}
		return req
	}

	tests := []struct {
		name   string
		cookie string
		form   string
		want   bool
	}{
		{name: "matching tokens", cookie: "tok-1", form: "tok-1", want: true},
		{name: "mismatched tokens", cookie: "tok-1", form: "tok-2", want: false},
		{name: "missing cookie", cookie: "", form: "tok-1", want: false},
		{name: "missing form value", cookie: "tok-1", form: "", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := h.validateDoubleSubmitCSRF(makeRequest(tt.cookie, tt.form)); got != tt.want {
				t.Fatalf("validateDoubleSubmitCSRF = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGenerateCSRFToken(t *testing.T) {
	h := newTestHandler()

	a := h.generateCSRFToken()
	b := h.generateCSRFToken()

	if len(a) != 64 {
		t.Fatalf("token length = %d, want 64 hex chars", len(a))
	}
	if a == b {
		t.Fatal("expected tokens to be unique")
	}
}

func TestLoginPageSetsCSRFCookie(t *testing.T) {
	h := newTestHandler()

	req := httptest.NewRequest("GET", "/login", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var csrfCookie *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == "routz_csrf" {
			csrfCookie = c
		}
	}
	if csrfCookie == nil {
		t.Fatal("expected routz_csrf cookie to be set")
	}
	if !strings.Contains(rec.Body.String(), csrfCookie.Value) {
		t.Fatal("expected the CSRF token to be embedded in the form")
	}
}

func TestLoginPostRejectsBadCSRF(t *testing.T) {
	h := newTestHandler()

	form := url.Values{"csrf_token": {"forged"}, "username": {"alice"}, "password": {"pw"}}
	req := httptest.NewRequest("POST", "/login", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.AddCookie(&http.Cookie{Name: "routz_csrf", Value: "real"})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusForbidden)
	}
}

func TestStaticAssetsServed(t *testing.T) {
	h := newTestHandler()

	req := httptest.NewRequest("GET", "/static/style.css", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.Contains(ct, "text/css") {
		t.Fatalf("Content-Type = %q, want text/css", ct)
	}
}
