// Package auth verifies the connection claim handed over by the account
// layer. The claim is issued and signed upstream; this package only checks
// the signature, expiry, and the project-membership assertion it carries.
package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	apperrors "collab-lab/errors"
)

// Claim is the pre-validated identity plus project-membership assertion a
// client presents when connecting. Member is decided upstream; the
// collaboration core never re-checks project ACLs.
type Claim struct {
	ParticipantID string `json:"participant_id"`
	DisplayName   string `json:"display_name"`
	AvatarURL     string `json:"avatar_url,omitempty"`
	ProjectID     string `json:"project_id"`
	Member        bool   `json:"member"`
	jwt.RegisteredClaims
}

// Sign creates a signed claim token. In production this runs in the account
// layer; it lives here so tests and the load generator can mint claims.
func Sign(claim Claim, secret []byte, ttl time.Duration) (string, error) {
	now := time.Now()
	claim.RegisteredClaims = jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		IssuedAt:  jwt.NewNumericDate(now),
		Issuer:    "collab-lab",
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &claim)
	return token.SignedString(secret)
}

// Verify parses and validates the signature and expiration of a claim token.
// Any failure is an authentication rejection, fatal to the connection.
func Verify(tokenString string, secret []byte) (*Claim, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claim{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", apperrors.ErrAuthRejected, err)
	}

	claims, ok := token.Claims.(*Claim)
	if !ok || !token.Valid {
		return nil, apperrors.ErrAuthRejected
	}
	if claims.ParticipantID == "" || claims.ProjectID == "" {
		return nil, fmt.Errorf("%w: incomplete claim", apperrors.ErrAuthRejected)
	}
	return claims, nil
}
