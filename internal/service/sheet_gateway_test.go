package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/noah-isme/memo-registry-api/pkg/errors"
	"github.com/noah-isme/memo-registry-api/pkg/sheets"
)

func TestNewSheetGatewayValidatesConfig(t *testing.T) {
	store := newSeededStore()
	tests := []struct {
		name string
		cfg  SheetGatewayConfig
	}{
		{name: "range not at A1", cfg: SheetGatewayConfig{Tables: testTables, ReadRange: "B2:Z100"}},
		{name: "malformed range", cfg: SheetGatewayConfig{Tables: testTables, ReadRange: "nonsense"}},
		{name: "missing topics table", cfg: SheetGatewayConfig{Tables: LedgerTables{Students: "Students"}, ReadRange: "A1:Z100"}},
		{name: "mirror without credential table", cfg: SheetGatewayConfig{Tables: LedgerTables{Students: "Students", Topics: "Topics"}, ReadRange: "A1:Z100", MirrorLedger: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSheetGateway(store, nil, nil, tt.cfg, nil)
			assert.Error(t, err)
		})
	}
}

func TestSheetGatewayCachesDisplayReads(t *testing.T) {
	store := newFlakyStore(newSeededStore())
	gw := newTestGateway(t, store)
	ctx := context.Background()

	_, err := gw.ReadTable(ctx, testTables.Topics, false)
	require.NoError(t, err)
	_, err = gw.ReadTable(ctx, testTables.Topics, false)
	require.NoError(t, err)
	assert.Equal(t, 1, store.reads)

	_, err = gw.ReadTable(ctx, testTables.Topics, true)
	require.NoError(t, err)
	assert.Equal(t, 2, store.reads)

	require.NoError(t, gw.Invalidate(ctx, testTables.Topics))
	_, err = gw.ReadTable(ctx, testTables.Topics, false)
	require.NoError(t, err)
	assert.Equal(t, 3, store.reads)
}

func TestSheetGatewayCachedReadsAreStaleUntilInvalidated(t *testing.T) {
	inner := newSeededStore()
	gw := newTestGateway(t, inner)
	ctx := context.Background()

	snap, err := gw.Snapshot(ctx, false)
	require.NoError(t, err)
	topic, ok := snap.TopicByID("12")
	require.True(t, ok)
	require.False(t, topic.Claimed)

	require.NoError(t, inner.WriteCell(ctx, testTables.Topics, sheets.Cell(topic.Row, snap.TopicCols.Claimed), "yes"))

	cached, err := gw.Snapshot(ctx, false)
	require.NoError(t, err)
	topic, _ = cached.TopicByID("12")
	assert.False(t, topic.Claimed)

	fresh, err := gw.Snapshot(ctx, true)
	require.NoError(t, err)
	topic, _ = fresh.TopicByID("12")
	assert.True(t, topic.Claimed)
}

func TestSheetGatewayRetriesReads(t *testing.T) {
	store := newFlakyStore(newSeededStore())
	store.failReads = 1
	gw := newTestGateway(t, store)

	table, err := gw.ReadTable(context.Background(), testTables.Students, true)
	require.NoError(t, err)
	assert.NotEmpty(t, table.Rows)
	assert.Equal(t, 2, store.reads)
}

func TestSheetGatewayReportsStoreUnavailable(t *testing.T) {
	store := newFlakyStore(newSeededStore())
	store.failReads = 10
	gw := newTestGateway(t, store)

	_, err := gw.ReadTable(context.Background(), testTables.Students, true)
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrStoreUnavailable))
	assert.True(t, errors.Is(err, errBackendDown))
	assert.Equal(t, 2, store.reads)
}

func TestSheetGatewayDoesNotRetryMissingTable(t *testing.T) {
	store := newFlakyStore(newSeededStore())
	gw := newTestGateway(t, store)

	_, err := gw.ReadTable(context.Background(), "Nope", true)
	require.Error(t, err)
	assert.True(t, errors.Is(err, sheets.ErrTableNotFound))
	assert.Equal(t, 1, store.reads)
}

func TestSheetGatewayWritesAreNotRetried(t *testing.T) {
	store := newFlakyStore(newSeededStore())
	store.failWrites[testTables.Topics] = true
	gw := newTestGateway(t, store)

	err := gw.BatchWrite(context.Background(), testTables.Topics, []sheets.CellUpdate{{Cell: sheets.Cell(2, 6), Value: "yes"}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrStoreUnavailable))
	assert.Equal(t, topicsGrid(), store.Grid(testTables.Topics))
}
