package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"moxie_companion/internal/auth"
	"moxie_companion/internal/config"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.JWTSecret = "middleware-test-secret"
	return cfg
}

func TestParentJWT(t *testing.T) {
	cfg := testConfig()

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := GetClaims(r.Context())
		if !ok {
			t.Error("claims not found in context")
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		if claims.Role != auth.RoleParent {
			t.Errorf("claims.Role = %v, want parent", claims.Role)
		}
		w.WriteHeader(http.StatusOK)
	})
	handler := ParentJWT(cfg)(next)

	parentToken, _, err := auth.GenerateParentJWT(cfg)
	if err != nil {
		t.Fatalf("GenerateParentJWT() error = %v", err)
	}

	childToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, auth.Claims{
		Role: auth.RoleChild,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString([]byte(cfg.JWTSecret))
	if err != nil {
		t.Fatalf("sign child token: %v", err)
	}

	tests := []struct {
		name   string
		header string
		status int
	}{
		{"bearer parent token", "Bearer " + parentToken, http.StatusOK},
		{"bare parent token", parentToken, http.StatusOK},
		{"missing token", "", http.StatusUnauthorized},
		{"garbage token", "Bearer nope", http.StatusUnauthorized},
		{"child token", "Bearer " + childToken, http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/v1/usage/stats", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			if w.Code != tt.status {
				t.Errorf("status = %d, want %d", w.Code, tt.status)
			}
		})
	}
}
