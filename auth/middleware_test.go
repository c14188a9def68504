package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestMiddleware(t *testing.T) {
	v := newTestVerifier()
	good := hsToken(t, baseClaims())

	var seen *Principal
	h := Middleware(v)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = PrincipalFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name       string
		header     string
		wantStatus int
		wantReason string
	}{
		{"valid bearer", "Bearer " + good, http.StatusNoContent, ""},
		{"lowercase scheme", "bearer " + good, http.StatusNoContent, ""},
		{"missing", "", http.StatusUnauthorized, "MISSING_TOKEN"},
		{"basic scheme", "Basic dXNlcjpwYXNz", http.StatusUnauthorized, "MISSING_TOKEN"},
		{"garbage", "Bearer abc", http.StatusUnauthorized, "TOKEN_MALFORMED"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = nil
			req := httptest.NewRequest(http.MethodGet, "/api/backends", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if tt.wantReason == "" {
				if seen == nil || seen.Subject != "user-1" {
					t.Errorf("principal in context = %+v", seen)
				}
				return
			}

			var body map[string]any
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("body is not JSON: %v", err)
			}
			if body["status"] != "error" || body["code"] != "AUTHENTICATION_ERROR" || body["message"] != tt.wantReason {
				t.Errorf("body = %v", body)
			}
			if rec.Header().Get("WWW-Authenticate") == "" {
				t.Error("missing WWW-Authenticate header")
			}
		})
	}
}

func TestMiddleware_QueryToken(t *testing.T) {
	v := newTestVerifier()
	good := hsToken(t, baseClaims())
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/api/query/stream?q=hi&token="+good, nil)

	rec := httptest.NewRecorder()
	Middleware(v)(ok).ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("without AllowQueryToken status = %d, want 401", rec.Code)
	}

	rec = httptest.NewRecorder()
	Middleware(v, AllowQueryToken("token"))(ok).ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("with AllowQueryToken status = %d, want 200", rec.Code)
	}
}
