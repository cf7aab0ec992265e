package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/memo-registry-api/internal/models"
	"github.com/noah-isme/memo-registry-api/pkg/config"
)

func TestReconciliationConsistentAfterClaim(t *testing.T) {
	store := newSeededStore()
	reg, gw := newTestRegistration(t, store, config.ClaimStrategyIDThenCredential)
	_, err := reg.Claim(context.Background(), individualClaim("stu1", "pw1", "12", "abc123"))
	require.NoError(t, err)

	report, err := NewReconciliationService(gw, nil).Report(context.Background())
	require.NoError(t, err)
	assert.True(t, report.Consistent(), "%+v", report.Discrepancies)
	assert.Equal(t, 3, report.TopicsTotal)
	assert.Equal(t, 1, report.TopicsClaimed)
	assert.Equal(t, 1, report.StudentsBound)
}

func TestReconciliationFindsDiscrepancies(t *testing.T) {
	topics := topicsGrid()
	topics[1][5] = "yes"      // 12: claimed, no students, no time
	topics[2][7] = "Roe Rick" // 13: student named, not claimed
	topics[3][10] = "yes"     // 14: deposited, not claimed
	students := studentsGrid()
	students[1][6] = "77" // unknown topic
	students[2][6] = "13" // unclaimed topic

	store := newSeededStore()
	store.Put(testTables.Topics, topics)
	store.Put(testTables.Students, students)
	gw := newTestGateway(t, store)

	report, err := NewReconciliationService(gw, nil).Report(context.Background())
	require.NoError(t, err)
	assert.False(t, report.Consistent())

	kinds := make([]string, 0, len(report.Discrepancies))
	for _, d := range report.Discrepancies {
		kinds = append(kinds, d.Kind)
	}
	assert.ElementsMatch(t, []string{
		models.DiscrepancyClaimedWithoutStudents,
		models.DiscrepancyClaimedWithoutTimestamp,
		models.DiscrepancyStudentsWithoutClaim,
		models.DiscrepancyDepositedUnclaimed,
		models.DiscrepancyCredentialMismatch,
		models.DiscrepancyDanglingTopicRef,
		models.DiscrepancyUnboundStudent,
	}, kinds)
	assert.Equal(t, 2, report.StudentsBound)
}

func TestReconciliationChecksStoredDocuments(t *testing.T) {
	fx := newDepositFixture(t, 1<<20)
	ctx := context.Background()
	_, err := fx.svc.Deposit(ctx, DepositRequest{TopicID: "12", Credential: "dep12"}, pdfUpload(samplePDF))
	require.NoError(t, err)

	svc := NewReconciliationService(newTestGateway(t, fx.inner), nil)
	svc.UseArtifacts(fx.files)
	report, err := svc.Report(ctx)
	require.NoError(t, err)
	assert.True(t, report.Consistent(), "%+v", report.Discrepancies)

	_, err = fx.files.Save(ArtifactName("13"), []byte("%PDF-1.4 orphan"))
	require.NoError(t, err)
	require.NoError(t, fx.files.Delete(ArtifactName("12")))

	report, err = svc.Report(ctx)
	require.NoError(t, err)
	require.Len(t, report.Discrepancies, 2)
	byTopic := map[string]string{}
	for _, d := range report.Discrepancies {
		byTopic[d.TopicID] = d.Kind
	}
	assert.Equal(t, models.DiscrepancyDepositWithoutArtifact, byTopic["12"])
	assert.Equal(t, models.DiscrepancyArtifactWithoutDeposit, byTopic["13"])
}
