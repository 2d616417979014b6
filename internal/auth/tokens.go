package auth

import (
	"crypto"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"os"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"twentymin-coach/backend/internal/apperrors"
)

// ErrInvalidKey is returned when PEM or key type is invalid.
var ErrInvalidKey = errors.New("invalid key")

// Claims holds the JWT claims the auth service puts on access tokens.
type Claims struct {
	jwt.RegisteredClaims
	Role        string   `json:"role"`
	Permissions []string `json:"permissions,omitempty"`
}

// Verifier validates access tokens signed by the auth service (RS256 or
// ES256, public key only) and extracts the caller identity.
type Verifier struct {
	publicKey crypto.PublicKey
	issuer    string
	audience  string
}

// NewVerifier returns a Verifier for tokens signed against the given public
// key. publicKeyPEM may be inline PEM or a file path.
func NewVerifier(publicKeyPEM, issuer, audience string) (*Verifier, error) {
	pub, err := ParsePublicKey(publicKeyPEM)
	if err != nil {
		return nil, err
	}
	return &Verifier{publicKey: pub, issuer: issuer, audience: audience}, nil
}

// Verify parses and validates tokenString (signature, exp, iss, aud, role)
// and returns the caller identity. Any failure surfaces as AUTH_REQUIRED.
func (v *Verifier) Verify(tokenString string) (*Identity, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodRSA); ok {
			return v.publicKey, nil
		}
		if _, ok := token.Method.(*jwt.SigningMethodECDSA); ok {
			return v.publicKey, nil
		}
		return nil, apperrors.AuthRequired("unsupported signing method")
	})
	if err != nil {
		return nil, apperrors.AuthRequired("invalid token")
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, apperrors.AuthRequired("invalid token")
	}
	if claims.Issuer != v.issuer {
		return nil, apperrors.AuthRequired("invalid token issuer")
	}
	audOk := false
	for _, a := range claims.Audience {
		if a == v.audience {
			audOk = true
			break
		}
	}
	if !audOk {
		return nil, apperrors.AuthRequired("invalid token audience")
	}
	role := Role(claims.Role)
	if !role.IsValid() {
		return nil, apperrors.AuthRequired("unknown role")
	}
	return &Identity{
		UserID:      claims.Subject,
		Role:        role,
		Permissions: claims.Permissions,
	}, nil
}

// loadPEM reads content from path if s does not look like inline PEM;
// otherwise returns s as bytes.
func loadPEM(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, ErrInvalidKey
	}
	if strings.HasPrefix(s, "-----BEGIN") {
		return []byte(s), nil
	}
	return os.ReadFile(s)
}

// ParsePublicKey parses a PEM-encoded public key (RSA or ECDSA). s may be
// inline PEM or a file path.
func ParsePublicKey(s string) (crypto.PublicKey, error) {
	pemBytes, err := loadPEM(s)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, ErrInvalidKey
	}
	switch block.Type {
	case "RSA PUBLIC KEY":
		return x509.ParsePKCS1PublicKey(block.Bytes)
	case "PUBLIC KEY":
		return x509.ParsePKIXPublicKey(block.Bytes)
	default:
		return nil, ErrInvalidKey
	}
}
