package service

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/noah-isme/memo-registry-api/internal/models"
	"github.com/noah-isme/memo-registry-api/pkg/config"
	appErrors "github.com/noah-isme/memo-registry-api/pkg/errors"
)

// ClaimResolver matches a claim credential to a topic. Ids and credentials are
// compared exactly after trimming.
type ClaimResolver struct {
	ledger   ledgerReader
	strategy string
	logger   *zap.Logger
}

// NewClaimResolver constructs a resolver for the given strategy. Unknown
// strategies fall back to id_then_credential.
func NewClaimResolver(ledger ledgerReader, strategy string, logger *zap.Logger) *ClaimResolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	if strategy != config.ClaimStrategyCredentialFirst {
		strategy = config.ClaimStrategyIDThenCredential
	}
	return &ClaimResolver{ledger: ledger, strategy: strategy, logger: logger}
}

// Strategy returns the active matching strategy.
func (r *ClaimResolver) Strategy() string { return r.strategy }

// Preview resolves against the cached view; used for display before confirmation.
func (r *ClaimResolver) Preview(ctx context.Context, topicID, credential string) (*models.ClaimTarget, error) {
	snap, err := r.ledger.Snapshot(ctx, false)
	if err != nil {
		return nil, err
	}
	return r.Resolve(snap, topicID, credential)
}

// Resolve finds the topic and mirror row the credential unlocks and rejects
// targets that are already claimed or whose credential is used.
func (r *ClaimResolver) Resolve(snap *models.Snapshot, topicID, credential string) (*models.ClaimTarget, error) {
	topicID = strings.TrimSpace(topicID)
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "claim credential is required")
	}

	var (
		target *models.ClaimTarget
		err    error
	)
	if r.strategy == config.ClaimStrategyCredentialFirst {
		target, err = r.credentialFirst(snap, topicID, credential)
	} else {
		target, err = r.idThenCredential(snap, topicID, credential)
	}
	if err != nil {
		return nil, err
	}
	target.Strategy = r.strategy

	if target.Topic.Claimed {
		return nil, appErrors.Clone(appErrors.ErrAlreadyClaimed, fmt.Sprintf("topic %s is already claimed", target.Topic.ID))
	}
	if target.Credential != nil && target.Credential.IsUsed() {
		return nil, appErrors.Clone(appErrors.ErrAlreadyClaimed, "claim credential has already been used")
	}
	return target, nil
}

func (r *ClaimResolver) idThenCredential(snap *models.Snapshot, topicID, credential string) (*models.ClaimTarget, error) {
	if topicID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "topic id is required")
	}
	topic, ok := snap.TopicByID(topicID)
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "topic not found")
	}
	mirror := mirrorRowFor(snap, topic, credential)
	if topic.ClaimPassword != credential && mirror == nil {
		return nil, appErrors.Clone(appErrors.ErrBadCredential, "claim credential does not match topic")
	}
	return &models.ClaimTarget{Topic: *topic, Credential: mirror}, nil
}

func (r *ClaimResolver) credentialFirst(snap *models.Snapshot, topicID, credential string) (*models.ClaimTarget, error) {
	if snap.HasCredentials {
		if row, ok := snap.CredentialByPassword(credential); ok {
			return r.fromCredentialRow(snap, row, topicID)
		}
	}
	if topic, ok := snap.TopicByClaimPassword(credential); ok {
		if topicID != "" && topic.ID != topicID {
			return nil, appErrors.Clone(appErrors.ErrBadCredential, "claim credential belongs to another topic")
		}
		return &models.ClaimTarget{Topic: *topic, Credential: mirrorRowFor(snap, topic, credential)}, nil
	}
	if topicID != "" {
		if _, ok := snap.TopicByID(topicID); ok {
			return nil, appErrors.Clone(appErrors.ErrBadCredential, "claim credential does not match topic")
		}
	}
	return nil, appErrors.Clone(appErrors.ErrNotFound, "no topic is issued for this credential")
}

// fromCredentialRow rejects consumed credentials before looking at the typed id,
// so a used credential always reads as already claimed.
func (r *ClaimResolver) fromCredentialRow(snap *models.Snapshot, row *models.SupervisorCredential, typedID string) (*models.ClaimTarget, error) {
	if row.IsUsed() {
		return nil, appErrors.Clone(appErrors.ErrAlreadyClaimed, "claim credential has already been used")
	}
	if row.TopicID != "" {
		if bound, ok := snap.TopicByID(row.TopicID); ok && bound.Claimed {
			return nil, appErrors.Clone(appErrors.ErrAlreadyClaimed, fmt.Sprintf("topic %s is already claimed", bound.ID))
		}
	}
	id := row.TopicID
	switch {
	case id == "" && typedID == "":
		return nil, appErrors.Clone(appErrors.ErrValidation, "this credential is not bound to a topic, a topic id is required")
	case id == "":
		id = typedID
	case typedID != "" && typedID != id:
		return nil, appErrors.Clone(appErrors.ErrBadCredential, "claim credential belongs to another topic")
	}
	topic, ok := snap.TopicByID(id)
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "topic not found")
	}
	if row.TopicID == "" && !supervisorMatches(topic.Supervisor, row.Supervisor) {
		return nil, appErrors.Clone(appErrors.ErrBadCredential, "claim credential was issued by another supervisor")
	}
	return &models.ClaimTarget{Topic: *topic, Credential: row}, nil
}

// mirrorRowFor locates the mirror ledger row carrying credential for topic.
// Rows bound to the topic id win over unbound rows of the same supervisor.
func mirrorRowFor(snap *models.Snapshot, topic *models.Topic, credential string) *models.SupervisorCredential {
	if !snap.HasCredentials {
		return nil
	}
	for _, row := range snap.CredentialsForTopic(topic.ID) {
		if row.ClaimPassword == credential {
			return row
		}
	}
	if row, ok := snap.CredentialByPassword(credential); ok && row.TopicID == "" && supervisorMatches(topic.Supervisor, row.Supervisor) {
		return row
	}
	return nil
}
