package models

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ClaimSessionClaims is the signed state carried between the login, resolve and
// confirm steps. Nothing is persisted until confirm.
type ClaimSessionClaims struct {
	Mode      ClaimMode `json:"mode"`
	Usernames []string  `json:"usernames"`
	jwt.RegisteredClaims
}

// ClaimSession is an issued session token and its verified students.
type ClaimSession struct {
	Token     string           `json:"token"`
	ExpiresAt time.Time        `json:"expires_at"`
	Mode      ClaimMode        `json:"mode"`
	Students  []StudentSummary `json:"students"`
}
