package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TestSigner mints tokens the way the auth service does. For unit tests only.
type TestSigner struct {
	Key      *rsa.PrivateKey
	Issuer   string
	Audience string
}

// NewTestSigner generates a fresh RSA key pair and returns a signer plus the
// matching public key PEM for NewVerifier.
func NewTestSigner(issuer, audience string) (*TestSigner, string, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, "", err
	}
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return nil, "", err
	}
	pubPEM := string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}))
	return &TestSigner{Key: key, Issuer: issuer, Audience: audience}, pubPEM, nil
}

// Issue signs an access token for the given subject, role, and permissions.
func (s *TestSigner) Issue(userID string, role Role, permissions []string, ttl time.Duration) (string, error) {
	now := time.Now().UTC()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    s.Issuer,
			Audience:  jwt.ClaimStrings{s.Audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Role:        string(role),
		Permissions: permissions,
	}
	return jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(s.Key)
}
