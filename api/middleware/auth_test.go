package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/angelmondragon/gadgetswap-backend/pkg/auth"
	"github.com/angelmondragon/gadgetswap-backend/pkg/config"
)

func testAuthConfig() config.AuthConfig {
	return config.AuthConfig{JWTSecret: "secret", Issuer: "https://auth.test"}
}

func okHandler(seen *auth.Identity) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if seen != nil {
			*seen, _ = IdentityFromContext(r.Context())
		}
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuthRejectsMissingToken(t *testing.T) {
	handler := Auth(testAuthConfig(), nil)(okHandler(nil))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", resp.Code)
	}
}

func TestAuthRejectsInvalidToken(t *testing.T) {
	handler := Auth(testAuthConfig(), nil)(okHandler(nil))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer invalid")
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", resp.Code)
	}
}

func TestAuthSeedsIdentity(t *testing.T) {
	cfg := testAuthConfig()
	token, err := auth.MintIdentityToken(cfg, time.Now(), time.Hour, auth.Identity{ID: "uid-1", Email: "a@b.test", Verified: true})
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	var seen auth.Identity
	handler := Auth(cfg, nil)(okHandler(&seen))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
	if seen.ID != "uid-1" || seen.Email != "a@b.test" || !seen.Verified {
		t.Fatalf("identity not propagated: %+v", seen)
	}
}

func TestRequireRole(t *testing.T) {
	cfg := testAuthConfig()
	handler := Auth(cfg, nil)(RequireRole(nil, auth.RoleAdmin)(okHandler(nil)))

	for role, want := range map[string]int{auth.RoleAdmin: http.StatusOK, auth.RoleBuyer: http.StatusForbidden} {
		token, err := auth.MintIdentityToken(cfg, time.Now(), time.Hour, auth.Identity{ID: "uid", Role: role})
		if err != nil {
			t.Fatalf("mint token: %v", err)
		}
		req := httptest.NewRequest(http.MethodDelete, "/orders/x", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		resp := httptest.NewRecorder()
		handler.ServeHTTP(resp, req)
		if resp.Code != want {
			t.Fatalf("role %s: expected %d got %d", role, want, resp.Code)
		}
	}
}

func TestRequireRoleWithoutIdentity(t *testing.T) {
	resp := httptest.NewRecorder()
	RequireRole(nil, auth.RoleAdmin)(okHandler(nil)).ServeHTTP(resp, httptest.NewRequest(http.MethodDelete, "/orders/x", nil))
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without identity, got %d", resp.Code)
	}
}
