package service

import (
	"context"
	"crypto/subtle"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/memo-registry-api/internal/models"
	appErrors "github.com/noah-isme/memo-registry-api/pkg/errors"
)

type ledgerReader interface {
	Snapshot(ctx context.Context, fresh bool) (*models.Snapshot, error)
}

// VerifyRequest carries one (individual) or two (paired) student logins.
type VerifyRequest struct {
	Mode     models.ClaimMode      `json:"mode" validate:"required,oneof=individual paired"`
	Students []models.StudentLogin `json:"students" validate:"required,min=1,max=2,dive"`
}

// IdentityService verifies students against the Students table.
type IdentityService struct {
	ledger    ledgerReader
	validator *validator.Validate
	logger    *zap.Logger
}

// NewIdentityService constructs the verifier.
func NewIdentityService(ledger ledgerReader, validate *validator.Validate, logger *zap.Logger) *IdentityService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &IdentityService{ledger: ledger, validator: validate, logger: logger}
}

// Verify checks the logins against the cached view of the Students table.
func (s *IdentityService) Verify(ctx context.Context, req VerifyRequest) ([]models.Student, error) {
	if err := s.Validate(req); err != nil {
		return nil, err
	}
	snap, err := s.ledger.Snapshot(ctx, false)
	if err != nil {
		return nil, err
	}
	students, err := s.VerifyAgainst(snap, req)
	if err != nil {
		s.logger.Info("student verification rejected", zap.String("mode", string(req.Mode)), zap.String("code", appErrors.Code(err)))
		return nil, err
	}
	return students, nil
}

// Validate checks the shape of a request: mode, slot count and distinct usernames.
func (s *IdentityService) Validate(req VerifyRequest) error {
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid student logins")
	}
	want := 1
	if req.Mode == models.ClaimModePaired {
		want = 2
	}
	if len(req.Students) != want {
		return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("%s mode requires %d student login(s)", req.Mode, want))
	}
	if want == 2 && strings.TrimSpace(req.Students[0].Username) == strings.TrimSpace(req.Students[1].Username) {
		return appErrors.Clone(appErrors.ErrValidation, "paired logins must name two different students")
	}
	return nil
}

// VerifyAgainst checks every login against snap. Any failing slot fails the
// whole request, so a pair is never half accepted.
func (s *IdentityService) VerifyAgainst(snap *models.Snapshot, req VerifyRequest) ([]models.Student, error) {
	out := make([]models.Student, 0, len(req.Students))
	for _, login := range req.Students {
		student, ok := snap.StudentByUsername(login.Username)
		if !ok {
			return nil, appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("student %q not found", strings.TrimSpace(login.Username)))
		}
		if !PasswordMatches(student.Password, login.Password) {
			return nil, appErrors.Clone(appErrors.ErrBadCredential, fmt.Sprintf("wrong password for %q", student.Username))
		}
		if student.Registered() {
			return nil, appErrors.Clone(appErrors.ErrAlreadyClaimed, fmt.Sprintf("student %q is already registered on topic %s", student.Username, student.TopicRef))
		}
		out = append(out, *student)
	}
	return out, nil
}

// Recheck confirms previously verified usernames still exist and are unbound.
// It is used on the confirm step where passwords are no longer available.
func (s *IdentityService) Recheck(snap *models.Snapshot, usernames []string) ([]models.Student, error) {
	out := make([]models.Student, 0, len(usernames))
	for _, username := range usernames {
		student, ok := snap.StudentByUsername(username)
		if !ok {
			return nil, appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("student %q not found", username))
		}
		if student.Registered() {
			return nil, appErrors.Clone(appErrors.ErrAlreadyClaimed, fmt.Sprintf("student %q is already registered on topic %s", student.Username, student.TopicRef))
		}
		out = append(out, *student)
	}
	return out, nil
}

// PasswordMatches compares a stored student password with the supplied one.
// Stored bcrypt hashes are verified with bcrypt, plain values in constant time.
func PasswordMatches(stored, supplied string) bool {
	stored = strings.TrimSpace(stored)
	supplied = strings.TrimSpace(supplied)
	if stored == "" || supplied == "" {
		return false
	}
	if isBcryptHash(stored) {
		return bcrypt.CompareHashAndPassword([]byte(stored), []byte(supplied)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(supplied)) == 1
}

func isBcryptHash(v string) bool {
	return strings.HasPrefix(v, "$2a$") || strings.HasPrefix(v, "$2b$") || strings.HasPrefix(v, "$2y$")
}
