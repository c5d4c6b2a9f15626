// Package auth verifies platform-issued bearer tokens and mints the admin capability required by
// privileged wallet operations.
package auth

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Niiaks/Patron/internal/apperror"
	"github.com/Niiaks/Patron/pkg/constants"
)

var ErrInvalidToken = errors.New("invalid token")

type Claims struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// Identity is the verified caller.
type Identity struct {
	UserID string
	Role   string
}

func (i Identity) IsAdmin() bool {
	return i.Role == constants.RoleAdmin
}

// CanActFor reports whether the caller may operate on userID's resources.
func (i Identity) CanActFor(userID string) bool {
	return i.UserID == userID || i.IsAdmin()
}

// IsService reports whether the caller is an internal job rather than a person.
func (i Identity) IsService() bool {
	return i.Role == constants.RoleService
}

// AdminCapability is proof that an admin identity authorized an operation. Only RequireAdmin can
// produce a usable value; the zero value is rejected by Valid.
type AdminCapability struct {
	grantedTo string
}

func (c AdminCapability) Valid() bool {
	return c.grantedTo != ""
}

// GrantedTo returns the admin user id the capability was minted for.
func (c AdminCapability) GrantedTo() string {
	return c.grantedTo
}

// RequireAdmin mints an AdminCapability for an admin identity.
func RequireAdmin(id Identity) (AdminCapability, error) {
	if !id.IsAdmin() || id.UserID == "" {
		return AdminCapability{}, apperror.Unauthorized("admin capability required")
	}
	return AdminCapability{grantedTo: id.UserID}, nil
}

type Verifier struct {
	secret []byte
	issuer string
}

func NewVerifier(secret, issuer string) *Verifier {
	return &Verifier{secret: []byte(secret), issuer: issuer}
}

// Verify parses an HS256 token and returns the identity it carries.
func (v *Verifier) Verify(tokenString string) (Identity, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(v.issuer))
	if err != nil {
		return Identity{}, ErrInvalidToken
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.UserID == "" {
		return Identity{}, ErrInvalidToken
	}
	role := claims.Role
	if role == "" {
		role = constants.RoleUser
	}
	return Identity{UserID: claims.UserID, Role: role}, nil
}

// Sign issues a token for userID. Used by internal jobs and local tooling.
func (v *Verifier) Sign(userID, role string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID: userID,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    v.issuer,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}

// RequireSelf returns the caller when it may act for userID.
func RequireSelf(ctx context.Context, userID string) (Identity, error) {
	id, ok := IdentityFromContext(ctx)
	if !ok {
		return Identity{}, apperror.Unauthorized("authentication required")
	}
	if !id.CanActFor(userID) {
		return Identity{}, apperror.Forbidden("cannot act on behalf of another user")
	}
	return id, nil
}

type identityKey struct{}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}
