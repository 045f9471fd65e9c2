package auth

import "github.com/golang-jwt/jwt/v5"

// Roles carried in the identity token's role claim.
const (
	RoleBuyer = "buyer"
	RoleAdmin = "admin"
)

// Identity is the caller resolved from a provider-issued token.
type Identity struct {
	ID       string
	Email    string
	Verified bool
	Role     string
}

// IsAdmin reports whether the caller may use administrative routes.
func (i Identity) IsAdmin() bool {
	return i.Role == RoleAdmin
}

// IdentityClaims is the JWT body minted by the identity provider.
type IdentityClaims struct {
	Email         string `json:"email,omitempty"`
	EmailVerified bool   `json:"email_verified"`
	Role          string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// Identity maps the claims onto the request identity; the subject is the user id.
func (c *IdentityClaims) Identity() Identity {
	role := c.Role
	if role == "" {
		role = RoleBuyer
	}
	return Identity{
		ID:       c.Subject,
		Email:    c.Email,
		Verified: c.EmailVerified,
		Role:     role,
	}
}
