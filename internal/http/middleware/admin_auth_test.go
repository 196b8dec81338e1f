package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func serveAdmin(t *testing.T, secret, header string, next http.HandlerFunc) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/admin/leads/x", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rec := httptest.NewRecorder()
	if next == nil {
		next = func(w http.ResponseWriter, r *http.Request) {}
	}
	AdminJWT(secret)(next).ServeHTTP(rec, req)
	return rec
}

func TestAdminJWTRejects(t *testing.T) {
	wrong, err := SignAdminToken("wrong", "ops", "", time.Minute)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	expired, err := SignAdminToken("secret", "ops", "", -time.Minute)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	noExpiry, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "ops"}).SignedString([]byte("secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	tests := []struct {
		name   string
		secret string
		header string
	}{
		{name: "auth disabled", secret: "", header: "Bearer " + wrong},
		{name: "missing header", secret: "secret"},
		{name: "not bearer", secret: "secret", header: "Basic abc"},
		{name: "wrong secret", secret: "secret", header: "Bearer " + wrong},
		{name: "expired", secret: "secret", header: "Bearer " + expired},
		{name: "no expiry", secret: "secret", header: "Bearer " + noExpiry},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serveAdmin(t, tt.secret, tt.header, nil)
			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("expected status %d, got %d", http.StatusUnauthorized, rec.Code)
			}
		})
	}
}

func TestAdminJWTValidToken(t *testing.T) {
	token, err := SignAdminToken("secret", "ops", "vendor-1", 5*time.Minute)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	called := false
	rec := serveAdmin(t, "secret", "Bearer "+token, func(w http.ResponseWriter, r *http.Request) {
		called = true
		claims, ok := AdminClaimsFromContext(r.Context())
		if !ok {
			t.Fatalf("expected admin claims in context")
		}
		if claims.Subject != "ops" || claims.MemberID != "vendor-1" {
			t.Fatalf("unexpected claims %#v", claims)
		}
		w.WriteHeader(http.StatusOK)
	})

	if !called {
		t.Fatalf("expected handler to be called")
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
	}
}
