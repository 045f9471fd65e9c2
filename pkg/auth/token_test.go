package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/angelmondragon/gadgetswap-backend/pkg/config"
)

func testConfig() config.AuthConfig {
	return config.AuthConfig{
		JWTSecret: "secret",
		Issuer:    "https://auth.gadgetswap.test",
		Audience:  "gadgetswap-api",
	}
}

func TestMintAndParseIdentityToken(t *testing.T) {
	cfg := testConfig()
	now := time.Now().UTC()

	token, err := MintIdentityToken(cfg, now, time.Hour, Identity{
		ID:       "uid-123",
		Email:    "buyer@example.com",
		Verified: true,
	})
	if err != nil {
		t.Fatalf("mint identity token: %v", err)
	}

	identity, err := ParseIdentityToken(cfg, token)
	if err != nil {
		t.Fatalf("parse identity token: %v", err)
	}
	if identity.ID != "uid-123" {
		t.Fatalf("expected subject uid-123, got %s", identity.ID)
	}
	if identity.Email != "buyer@example.com" || !identity.Verified {
		t.Fatalf("email claims not preserved: %+v", identity)
	}
	if identity.Role != RoleBuyer {
		t.Fatalf("missing role must default to buyer, got %q", identity.Role)
	}
	if identity.IsAdmin() {
		t.Fatalf("buyer must not be admin")
	}
}

func TestParseIdentityTokenAdminRole(t *testing.T) {
	cfg := testConfig()
	token, err := MintIdentityToken(cfg, time.Now(), time.Hour, Identity{ID: "ops", Role: RoleAdmin})
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	identity, err := ParseIdentityToken(cfg, token)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !identity.IsAdmin() {
		t.Fatalf("expected admin identity")
	}
}

func TestParseIdentityTokenRejects(t *testing.T) {
	cfg := testConfig()
	now := time.Now()

	expired, err := MintIdentityToken(cfg, now.Add(-2*time.Hour), time.Hour, Identity{ID: "uid"})
	if err != nil {
		t.Fatalf("mint expired: %v", err)
	}
	otherIssuer := cfg
	otherIssuer.Issuer = "https://evil.test"
	foreign, err := MintIdentityToken(otherIssuer, now, time.Hour, Identity{ID: "uid"})
	if err != nil {
		t.Fatalf("mint foreign: %v", err)
	}
	otherSecret := cfg
	otherSecret.JWTSecret = "other"
	forged, err := MintIdentityToken(otherSecret, now, time.Hour, Identity{ID: "uid"})
	if err != nil {
		t.Fatalf("mint forged: %v", err)
	}
	otherAudience := cfg
	otherAudience.Audience = "another-api"
	wrongAud, err := MintIdentityToken(otherAudience, now, time.Hour, Identity{ID: "uid"})
	if err != nil {
		t.Fatalf("mint wrong audience: %v", err)
	}
	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, IdentityClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "uid",
			Issuer:    cfg.Issuer,
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("mint none: %v", err)
	}

	cases := map[string]string{
		"expired":        expired,
		"wrong issuer":   foreign,
		"wrong secret":   forged,
		"wrong audience": wrongAud,
		"alg none":       none,
		"garbage":        "not-a-jwt",
	}
	for name, token := range cases {
		if _, err := ParseIdentityToken(cfg, token); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestMintIdentityTokenValidatesInput(t *testing.T) {
	cfg := testConfig()
	if _, err := MintIdentityToken(cfg, time.Now(), time.Hour, Identity{}); err == nil || !strings.Contains(err.Error(), "identity id") {
		t.Fatalf("expected identity id error, got %v", err)
	}
	cfg.JWTSecret = ""
	if _, err := MintIdentityToken(cfg, time.Now(), time.Hour, Identity{ID: "uid"}); err == nil {
		t.Fatalf("expected secret error")
	}
}
