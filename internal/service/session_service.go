package service

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/memo-registry-api/internal/models"
	appErrors "github.com/noah-isme/memo-registry-api/pkg/errors"
)

const sessionIssuer = "memo-registry-api"

// SessionConfig signs claim session tokens.
type SessionConfig struct {
	Secret string
	TTL    time.Duration
}

// SessionService issues the short-lived token that carries verified students
// from login to confirm.
type SessionService struct {
	identity *IdentityService
	cfg      SessionConfig
	logger   *zap.Logger
	now      func() time.Time
}

// NewSessionService constructs the session issuer.
func NewSessionService(identity *IdentityService, cfg SessionConfig, logger *zap.Logger) *SessionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 15 * time.Minute
	}
	return &SessionService{identity: identity, cfg: cfg, logger: logger, now: time.Now}
}

// Login verifies the students and opens a claim session for them.
func (s *SessionService) Login(ctx context.Context, req VerifyRequest) (*models.ClaimSession, error) {
	students, err := s.identity.Verify(ctx, req)
	if err != nil {
		return nil, err
	}
	usernames := make([]string, 0, len(students))
	for _, st := range students {
		usernames = append(usernames, st.Username)
	}
	token, expiresAt, err := s.issue(req.Mode, usernames)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to issue session")
	}
	s.logger.Info("claim session opened", zap.Strings("students", usernames), zap.String("mode", string(req.Mode)))
	return &models.ClaimSession{
		Token:     token,
		ExpiresAt: expiresAt,
		Mode:      req.Mode,
		Students:  summaries(students),
	}, nil
}

// ValidateToken parses a session token returning its claims.
func (s *SessionService) ValidateToken(tokenString string) (*models.ClaimSessionClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &models.ClaimSessionClaims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.cfg.Secret), nil
	}, jwt.WithIssuer(sessionIssuer), jwt.WithTimeFunc(s.now))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrSessionInvalid.Code, appErrors.ErrSessionInvalid.Status, "invalid or expired session")
	}
	claims, ok := token.Claims.(*models.ClaimSessionClaims)
	if !ok || !token.Valid || len(claims.Usernames) == 0 {
		return nil, appErrors.Clone(appErrors.ErrSessionInvalid, "invalid session claims")
	}
	return claims, nil
}

func (s *SessionService) issue(mode models.ClaimMode, usernames []string) (string, time.Time, error) {
	issuedAt := s.now().UTC()
	expiresAt := issuedAt.Add(s.cfg.TTL)
	claims := &models.ClaimSessionClaims{
		Mode:      mode,
		Usernames: usernames,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    sessionIssuer,
			Subject:   usernames[0],
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			NotBefore: jwt.NewNumericDate(issuedAt),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.cfg.Secret))
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}
