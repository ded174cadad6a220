package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestAuthResolvesPartnerRef(t *testing.T) {
	keys := map[string]string{"tok-1": "partner-a", "tok-2": "partner-b"}

	var gotPartner string
	handler := Auth(keys)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPartner = GetPartnerRef(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	request := httptest.NewRequest(http.MethodPost, "/v1/jobs", nil)
	request.Header.Set("Authorization", "Bearer tok-2")
	recorder := httptest.NewRecorder()

	handler.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	if gotPartner != "partner-b" {
		t.Fatalf("expected partner-b, got %q", gotPartner)
	}
}

func TestAuthRejectsUnknownToken(t *testing.T) {
	handler := Auth(map[string]string{"tok-1": "partner-a"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run for unknown token")
	}))

	request := httptest.NewRequest(http.MethodPost, "/v1/jobs", nil)
	request.Header.Set("Authorization", "Bearer wrong")
	recorder := httptest.NewRecorder()

	handler.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", recorder.Code)
	}
}

func TestAuthRejectsMissingHeader(t *testing.T) {
	handler := Auth(map[string]string{"tok-1": "partner-a"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run without credentials")
	}))

	request := httptest.NewRequest(http.MethodGet, "/v1/jobs/abc", nil)
	recorder := httptest.NewRecorder()

	handler.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", recorder.Code)
	}
}

func TestAuthSkipsHealthEndpoint(t *testing.T) {
	handler := Auth(map[string]string{"tok-1": "partner-a"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	request := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	recorder := httptest.NewRecorder()

	handler.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusOK {
		t.Fatalf("health must bypass auth, got %d", recorder.Code)
	}
}
