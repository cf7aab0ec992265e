package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/memo-registry-api/internal/models"
	"github.com/noah-isme/memo-registry-api/pkg/config"
	appErrors "github.com/noah-isme/memo-registry-api/pkg/errors"
	"github.com/noah-isme/memo-registry-api/pkg/sheets"
)

type recordingNotifier struct {
	mu            sync.Mutex
	registrations []models.Registration
	deposits      []models.Deposit
	partials      []models.PartialCommitDetails
}

func (n *recordingNotifier) RegistrationCompleted(_ context.Context, reg models.Registration) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.registrations = append(n.registrations, reg)
}

func (n *recordingNotifier) DepositCompleted(_ context.Context, dep models.Deposit) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.deposits = append(n.deposits, dep)
}

func (n *recordingNotifier) PartialCommit(_ context.Context, _ string, details models.PartialCommitDetails) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.partials = append(n.partials, details)
}

type stubReceipts struct {
	err error
}

func (s stubReceipts) RegistrationReceipt(_ context.Context, reg models.Registration) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return "/api/v1/receipts/reg-" + reg.TopicID, nil
}

func (s stubReceipts) DepositReceipt(_ context.Context, dep models.Deposit) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return "/api/v1/receipts/dep-" + dep.TopicID, nil
}

func TestRegistrationClaimRoundTrip(t *testing.T) {
	store := newSeededStore()
	svc, _ := newTestRegistration(t, store, config.ClaimStrategyIDThenCredential)
	notifier := &recordingNotifier{}
	svc.notifier = notifier
	svc.receipts = stubReceipts{}
	svc.now = func() time.Time { return time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC) }

	reg, err := svc.Claim(context.Background(), individualClaim("stu1", "pw1", "12", "abc123"))
	require.NoError(t, err)
	assert.Equal(t, "12", reg.TopicID)
	require.Len(t, reg.Students, 1)
	assert.Equal(t, "Doe Jane", reg.Students[0].Name)
	assert.Equal(t, config.ClaimStrategyIDThenCredential, reg.Strategy)
	assert.Equal(t, "/api/v1/receipts/reg-12", reg.ReceiptURL)

	assert.Equal(t, models.FlagYes, cellValue(t, store, testTables.Topics, "TopicID", "12", "Claimed"))
	assert.Equal(t, "2026-03-01 09:30", cellValue(t, store, testTables.Topics, "TopicID", "12", "ClaimedAt"))
	assert.Equal(t, "Doe Jane", cellValue(t, store, testTables.Topics, "TopicID", "12", "Student1"))
	assert.Equal(t, "12", cellValue(t, store, testTables.Students, "Username", "stu1", "TopicRef"))
	assert.Equal(t, models.FlagYes, cellValue(t, store, testTables.Credentials, "ClaimPassword", "abc123", "Used"))
	assert.Equal(t, "Doe Jane", cellValue(t, store, testTables.Credentials, "ClaimPassword", "abc123", "Student1"))

	require.Len(t, notifier.registrations, 1)
	assert.Empty(t, notifier.partials)
}

func TestRegistrationPairedClaim(t *testing.T) {
	store := newSeededStore()
	svc, _ := newTestRegistration(t, store, config.ClaimStrategyIDThenCredential)

	reg, err := svc.Claim(context.Background(), ClaimRequest{
		Mode: models.ClaimModePaired,
		Students: []models.StudentLogin{
			{Username: "stu1", Password: "pw1"},
			{Username: "stu2", Password: "pw2"},
		},
		TopicID:    "13",
		Credential: "xyz789",
	})
	require.NoError(t, err)
	require.Len(t, reg.Students, 2)
	assert.Equal(t, "Doe Jane", cellValue(t, store, testTables.Topics, "TopicID", "13", "Student1"))
	assert.Equal(t, "Roe Rick", cellValue(t, store, testTables.Topics, "TopicID", "13", "Student2"))
	assert.Equal(t, "13", cellValue(t, store, testTables.Students, "Username", "stu1", "TopicRef"))
	assert.Equal(t, "13", cellValue(t, store, testTables.Students, "Username", "stu2", "TopicRef"))
}

func TestRegistrationRejectsRepeatClaims(t *testing.T) {
	store := newSeededStore()
	svc, _ := newTestRegistration(t, store, config.ClaimStrategyIDThenCredential)
	ctx := context.Background()

	_, err := svc.Claim(ctx, individualClaim("stu1", "pw1", "12", "abc123"))
	require.NoError(t, err)

	_, err = svc.Claim(ctx, individualClaim("stu2", "pw2", "12", "abc123"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrAlreadyClaimed))

	_, err = svc.Claim(ctx, individualClaim("stu1", "pw1", "13", "xyz789"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrAlreadyClaimed))
	assert.Equal(t, "", cellValue(t, store, testTables.Topics, "TopicID", "13", "Claimed"))
}

func TestRegistrationFailuresLeaveLedgersUntouched(t *testing.T) {
	tests := []struct {
		name string
		req  ClaimRequest
		want *appErrors.Error
	}{
		{
			name: "second student has wrong password",
			req: ClaimRequest{
				Mode: models.ClaimModePaired,
				Students: []models.StudentLogin{
					{Username: "stu1", Password: "pw1"},
					{Username: "stu2", Password: "nope"},
				},
				TopicID:    "12",
				Credential: "abc123",
			},
			want: appErrors.ErrBadCredential,
		},
		{
			name: "unknown student",
			req:  individualClaim("ghost", "pw", "12", "abc123"),
			want: appErrors.ErrNotFound,
		},
		{
			name: "unknown credential",
			req:  individualClaim("stu1", "pw1", "12", "wrong"),
			want: appErrors.ErrBadCredential,
		},
		{
			name: "unknown topic",
			req:  individualClaim("stu1", "pw1", "99", "abc123"),
			want: appErrors.ErrNotFound,
		},
		{
			name: "specialty mismatch",
			req:  individualClaim("stu3", "pw3", "12", "abc123"),
			want: appErrors.ErrSpecialtyMismatch,
		},
		{
			name: "paired mode with one login",
			req: ClaimRequest{
				Mode:       models.ClaimModePaired,
				Students:   []models.StudentLogin{{Username: "stu1", Password: "pw1"}},
				TopicID:    "12",
				Credential: "abc123",
			},
			want: appErrors.ErrValidation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newSeededStore()
			svc, _ := newTestRegistration(t, store, config.ClaimStrategyIDThenCredential)

			_, err := svc.Claim(context.Background(), tt.req)
			require.Error(t, err)
			assert.Equal(t, tt.want.Code, appErrors.Code(err))

			assert.Equal(t, studentsGrid(), store.Grid(testTables.Students))
			assert.Equal(t, topicsGrid(), store.Grid(testTables.Topics))
			assert.Equal(t, credentialsGrid(), store.Grid(testTables.Credentials))
		})
	}
}

func TestRegistrationConcurrentClaimsHaveOneWinner(t *testing.T) {
	store := newSeededStore()
	svc, _ := newTestRegistration(t, store, config.ClaimStrategyIDThenCredential)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		wins    int
		claimed int
		winner  string
	)
	for i := 0; i < racerCount; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			username := fmt.Sprintf("racer%d", i)
			_, err := svc.Claim(context.Background(), individualClaim(username, "race", "12", "abc123"))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
				winner = username
			case errors.Is(err, appErrors.ErrAlreadyClaimed):
				claimed++
			default:
				assert.NoError(t, err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Equal(t, racerCount-1, claimed)
	assert.Equal(t, "12", cellValue(t, store, testTables.Students, "Username", winner, "TopicRef"))
	for i := 0; i < racerCount; i++ {
		username := fmt.Sprintf("racer%d", i)
		if username == winner {
			continue
		}
		assert.Empty(t, cellValue(t, store, testTables.Students, "Username", username, "TopicRef"))
	}
	assert.Zero(t, svc.locks.size())
}

func TestRegistrationCredentialFirstStrategy(t *testing.T) {
	t.Run("credential resolves its bound topic", func(t *testing.T) {
		store := newSeededStore()
		svc, _ := newTestRegistration(t, store, config.ClaimStrategyCredentialFirst)

		reg, err := svc.Claim(context.Background(), individualClaim("stu1", "pw1", "", "xyz789"))
		require.NoError(t, err)
		assert.Equal(t, "13", reg.TopicID)
		assert.Equal(t, config.ClaimStrategyCredentialFirst, reg.Strategy)
		assert.Equal(t, models.FlagYes, cellValue(t, store, testTables.Credentials, "ClaimPassword", "xyz789", "Used"))
	})

	t.Run("unbound credential takes the typed topic", func(t *testing.T) {
		store := newSeededStore()
		svc, _ := newTestRegistration(t, store, config.ClaimStrategyCredentialFirst)

		reg, err := svc.Claim(context.Background(), individualClaim("stu1", "pw1", "12", "free555"))
		require.NoError(t, err)
		assert.Equal(t, "12", reg.TopicID)
		assert.Equal(t, "12", cellValue(t, store, testTables.Credentials, "ClaimPassword", "free555", "TopicID"))
		assert.Equal(t, models.FlagYes, cellValue(t, store, testTables.Credentials, "ClaimPassword", "free555", "Used"))
		// every credential bound to the claimed topic reads as used
		assert.Equal(t, models.FlagYes, cellValue(t, store, testTables.Credentials, "ClaimPassword", "abc123", "Used"))
	})

	t.Run("unbound credential without topic id", func(t *testing.T) {
		store := newSeededStore()
		svc, _ := newTestRegistration(t, store, config.ClaimStrategyCredentialFirst)

		_, err := svc.Claim(context.Background(), individualClaim("stu1", "pw1", "", "free555"))
		require.Error(t, err)
		assert.True(t, errors.Is(err, appErrors.ErrValidation))
	})

	t.Run("credential of another topic", func(t *testing.T) {
		store := newSeededStore()
		svc, _ := newTestRegistration(t, store, config.ClaimStrategyCredentialFirst)

		_, err := svc.Claim(context.Background(), individualClaim("stu1", "pw1", "12", "xyz789"))
		require.Error(t, err)
		assert.True(t, errors.Is(err, appErrors.ErrBadCredential))
	})

	t.Run("used credential with another typed topic", func(t *testing.T) {
		store := newSeededStore()
		svc, _ := newTestRegistration(t, store, config.ClaimStrategyCredentialFirst)

		_, err := svc.Claim(context.Background(), individualClaim("stu1", "pw1", "12", "free555"))
		require.NoError(t, err)

		_, err = svc.Claim(context.Background(), individualClaim("stu2", "pw2", "13", "free555"))
		require.Error(t, err)
		assert.Equal(t, appErrors.ErrAlreadyClaimed.Code, appErrors.Code(err))
		assert.Empty(t, cellValue(t, store, testTables.Topics, "TopicID", "13", "Claimed"))
	})

	t.Run("credential bound to a claimed topic", func(t *testing.T) {
		topics := topicsGrid()
		topics[2][5] = "yes" // 13 claimed, its mirror row not yet marked used
		topics[2][7] = "Roe Rick"
		store := newSeededStore()
		store.Put(testTables.Topics, topics)
		svc, _ := newTestRegistration(t, store, config.ClaimStrategyCredentialFirst)

		_, err := svc.Claim(context.Background(), individualClaim("stu1", "pw1", "12", "xyz789"))
		require.Error(t, err)
		assert.Equal(t, appErrors.ErrAlreadyClaimed.Code, appErrors.Code(err))
	})
}

func TestRegistrationUnboundCredentialAcrossProcesses(t *testing.T) {
	inner := newSeededStore()
	shared := &interleavedStore{MemoryStore: inner}
	first, _ := newTestRegistration(t, shared, config.ClaimStrategyCredentialFirst)
	second, _ := newTestRegistration(t, inner, config.ClaimStrategyCredentialFirst)

	var secondErr error
	shared.before = func() {
		_, secondErr = second.Claim(context.Background(), individualClaim("stu2", "pw2", "13", "free555"))
	}

	_, err := first.Claim(context.Background(), individualClaim("stu1", "pw1", "12", "free555"))
	require.NoError(t, secondErr)
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrAlreadyClaimed))

	assert.Equal(t, models.FlagYes, cellValue(t, inner, testTables.Topics, "TopicID", "13", "Claimed"))
	assert.Empty(t, cellValue(t, inner, testTables.Topics, "TopicID", "12", "Claimed"))
	assert.Equal(t, "13", cellValue(t, inner, testTables.Credentials, "ClaimPassword", "free555", "TopicID"))
	assert.Empty(t, cellValue(t, inner, testTables.Students, "Username", "stu1", "TopicRef"))
}

// topicThiefStore sets the claimed flag itself right before the coordinator's
// conditional write on it, as a concurrent writer would.
type topicThiefStore struct {
	*sheets.MemoryStore
}

func (s *topicThiefStore) CompareAndSwap(ctx context.Context, table string, cell sheets.CellRef, expected, value string) (bool, error) {
	if table == testTables.Topics && value == models.FlagYes {
		if err := s.MemoryStore.WriteCell(ctx, table, cell, value); err != nil {
			return false, err
		}
	}
	return s.MemoryStore.CompareAndSwap(ctx, table, cell, expected, value)
}

func TestRegistrationReleasesCredentialWhenTopicIsLost(t *testing.T) {
	inner := newSeededStore()
	svc, _ := newTestRegistration(t, &topicThiefStore{MemoryStore: inner}, config.ClaimStrategyCredentialFirst)

	_, err := svc.Claim(context.Background(), individualClaim("stu1", "pw1", "12", "free555"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrAlreadyClaimed))
	assert.Empty(t, cellValue(t, inner, testTables.Credentials, "ClaimPassword", "free555", "TopicID"))
	assert.Empty(t, cellValue(t, inner, testTables.Credentials, "ClaimPassword", "free555", "Used"))
	assert.Empty(t, cellValue(t, inner, testTables.Students, "Username", "stu1", "TopicRef"))
}

func TestRegistrationPartialCommit(t *testing.T) {
	inner := newSeededStore()
	store := newFlakyStore(inner)
	store.failWrites[testTables.Students] = true
	svc, _ := newTestRegistration(t, store, config.ClaimStrategyIDThenCredential)
	notifier := &recordingNotifier{}
	svc.notifier = notifier

	_, err := svc.Claim(context.Background(), individualClaim("stu1", "pw1", "12", "abc123"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrPartialCommit))

	var typed *appErrors.Error
	require.True(t, errors.As(err, &typed))
	details, ok := typed.Details.(models.PartialCommitDetails)
	require.True(t, ok)
	assert.Equal(t, "12", details.TopicID)
	assert.Equal(t, models.StepStudents, details.FailedStep)
	assert.Equal(t, []string{models.StepTopicLedger, models.StepMirrorLedger}, details.CompletedSteps)

	assert.Equal(t, models.FlagYes, cellValue(t, inner, testTables.Topics, "TopicID", "12", "Claimed"))
	assert.Empty(t, cellValue(t, inner, testTables.Students, "Username", "stu1", "TopicRef"))
	require.Len(t, notifier.partials, 1)
	assert.Empty(t, notifier.registrations)
	assert.EqualValues(t, 1, svc.metrics.Snapshot().PartialCommits)
}

func TestRegistrationTopicLedgerFailureIsStoreUnavailable(t *testing.T) {
	inner := newSeededStore()
	store := newFlakyStore(inner)
	store.failCAS[testTables.Topics] = true
	svc, _ := newTestRegistration(t, store, config.ClaimStrategyIDThenCredential)

	_, err := svc.Claim(context.Background(), individualClaim("stu1", "pw1", "12", "abc123"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrStoreUnavailable))
	assert.Equal(t, topicsGrid(), inner.Grid(testTables.Topics))
	assert.Equal(t, studentsGrid(), inner.Grid(testTables.Students))
}

func TestRegistrationWithoutCompareAndSwap(t *testing.T) {
	inner := newSeededStore()
	svc, gw := newTestRegistration(t, plainStore{inner: inner}, config.ClaimStrategyIDThenCredential)
	require.False(t, gw.SupportsCAS())

	_, err := svc.Claim(context.Background(), individualClaim("stu1", "pw1", "12", "abc123"))
	require.NoError(t, err)
	assert.Equal(t, models.FlagYes, cellValue(t, inner, testTables.Topics, "TopicID", "12", "Claimed"))

	_, err = svc.Claim(context.Background(), individualClaim("stu2", "pw2", "12", "abc123"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrAlreadyClaimed))
}

func TestRegistrationUnverifiableClaimIsPartialCommit(t *testing.T) {
	inner := newSeededStore()
	svc, _ := newTestRegistration(t, &blindAfterWriteStore{plainStore: plainStore{inner: inner}}, config.ClaimStrategyIDThenCredential)
	notifier := &recordingNotifier{}
	svc.notifier = notifier

	_, err := svc.Claim(context.Background(), individualClaim("stu1", "pw1", "12", "abc123"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrPartialCommit))

	var typed *appErrors.Error
	require.True(t, errors.As(err, &typed))
	details, ok := typed.Details.(models.PartialCommitDetails)
	require.True(t, ok)
	assert.Equal(t, models.StepClaimVerification, details.FailedStep)
	assert.Equal(t, []string{models.StepTopicLedger}, details.CompletedSteps)
	assert.Empty(t, cellValue(t, inner, testTables.Students, "Username", "stu1", "TopicRef"))
	require.Len(t, notifier.partials, 1)
	assert.Empty(t, notifier.registrations)
}

func TestRegistrationSessionFlow(t *testing.T) {
	store := newSeededStore()
	svc, _ := newTestRegistration(t, store, config.ClaimStrategyIDThenCredential)
	ctx := context.Background()
	session := &models.ClaimSessionClaims{Mode: models.ClaimModeIndividual, Usernames: []string{"stu1"}}

	preview, err := svc.Preview(ctx, session, "12", "abc123")
	require.NoError(t, err)
	assert.Equal(t, "Contract formation", preview.Title)
	assert.Equal(t, topicsGrid(), store.Grid(testTables.Topics))

	reg, err := svc.ClaimForSession(ctx, session, "12", "abc123")
	require.NoError(t, err)
	assert.Equal(t, "12", reg.TopicID)

	_, err = svc.ClaimForSession(ctx, nil, "12", "abc123")
	assert.True(t, errors.Is(err, appErrors.ErrSessionInvalid))
}
