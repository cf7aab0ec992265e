package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/memo-registry-api/internal/models"
	"github.com/noah-isme/memo-registry-api/internal/repository"
	"github.com/noah-isme/memo-registry-api/pkg/sheets"
)

const racerCount = 8

var testTables = LedgerTables{Students: "Students", Topics: "Topics", Credentials: "SupervisorCredentials"}

func studentsGrid() [][]string {
	grid := [][]string{
		{"Registration", "Surname", "FirstName", "Specialty", "Username", "Password", "TopicRef", "Email"},
		{"2024001", "Doe", "Jane", "Private law", "stu1", "pw1", "", "jane@uni.test"},
		{"2024002", "Roe", "Rick", "Private law", "stu2", "pw2", "", ""},
		{"2024003", "Poe", "Ann", "Public law", "stu3", "pw3", "", ""},
	}
	for i := 0; i < racerCount; i++ {
		grid = append(grid, []string{fmt.Sprintf("90%02d", i), "Racer", fmt.Sprintf("%d", i), "Private law", fmt.Sprintf("racer%d", i), "race", "", ""})
	}
	return grid
}

func topicsGrid() [][]string {
	return [][]string{
		{"TopicID", "Title", "Specialty", "Supervisor", "ClaimPassword", "Claimed", "ClaimedAt", "Student1", "Student2", "DepositPassword", "Deposited", "DepositedAt", "ArtifactRef"},
		{"12", "Contract formation", "Private law", "Dr. Smith", "abc123", "", "", "", "", "dep12", "", "", ""},
		{"13", "Tort liability", "Private law", "Dr. Smith", "xyz789", "", "", "", "", "dep13", "", "", ""},
		{"14", "Administrative courts", "Public law", "Prof. Brown", "pub444", "", "", "", "", "", "", "", ""},
	}
}

func credentialsGrid() [][]string {
	return [][]string{
		{"Supervisor", "Email", "TopicID", "Title", "ClaimPassword", "Used", "UsedAt", "Student1", "Student2"},
		{"Dr. Smith", "smith@uni.test", "12", "Contract formation", "abc123", "", "", "", ""},
		{"Dr. Smith", "smith@uni.test", "13", "Tort liability", "xyz789", "", "", "", ""},
		{"Smith", "smith@uni.test", "", "", "free555", "", "", "", ""},
		{"Prof. Brown", "", "14", "Administrative courts", "pub444", "", "", "", ""},
	}
}

func newSeededStore() *sheets.MemoryStore {
	store := sheets.NewMemoryStore()
	store.Put(testTables.Students, studentsGrid())
	store.Put(testTables.Topics, topicsGrid())
	store.Put(testTables.Credentials, credentialsGrid())
	return store
}

func newTestGateway(t *testing.T, store sheets.Store) *SheetGateway {
	t.Helper()
	metrics := NewMetricsService()
	cache := NewCacheService(repository.NewMemoryCacheRepository(), metrics, time.Minute, nil, true)
	gw, err := NewSheetGateway(store, cache, metrics, SheetGatewayConfig{
		Tables:       testTables,
		ReadRange:    "A1:Z2000",
		CallTimeout:  time.Second,
		ReadRetries:  1,
		MirrorLedger: true,
	}, nil)
	require.NoError(t, err)
	return gw
}

func newTestRegistration(t *testing.T, store sheets.Store, strategy string) (*RegistrationService, *SheetGateway) {
	t.Helper()
	gw := newTestGateway(t, store)
	identity := NewIdentityService(gw, nil, nil)
	resolver := NewClaimResolver(gw, strategy, nil)
	svc := NewRegistrationService(gw, identity, resolver, nil, nil, NewMetricsService(), nil)
	return svc, gw
}

func individualClaim(username, password, topicID, credential string) ClaimRequest {
	return ClaimRequest{
		Mode:       models.ClaimModeIndividual,
		Students:   []models.StudentLogin{{Username: username, Password: password}},
		TopicID:    topicID,
		Credential: credential,
	}
}

// cellValue reads a cell by data row key and header from the raw grid.
func cellValue(t *testing.T, store *sheets.MemoryStore, table, keyHeader, key, header string) string {
	t.Helper()
	grid := store.Grid(table)
	require.NotEmpty(t, grid)
	keyCol, col := -1, -1
	for i, h := range grid[0] {
		if h == keyHeader {
			keyCol = i
		}
		if h == header {
			col = i
		}
	}
	require.GreaterOrEqual(t, keyCol, 0, "missing %s", keyHeader)
	require.GreaterOrEqual(t, col, 0, "missing %s", header)
	for _, row := range grid[1:] {
		if keyCol < len(row) && strings.TrimSpace(row[keyCol]) == key {
			if col < len(row) {
				return row[col]
			}
			return ""
		}
	}
	t.Fatalf("row %s=%s not found in %s", keyHeader, key, table)
	return ""
}

// flakyStore wraps a MemoryStore and fails writes to selected tables.
type flakyStore struct {
	*sheets.MemoryStore
	mu         sync.Mutex
	failWrites map[string]bool
	failCAS    map[string]bool
	failReads  int
	reads      int
}

func newFlakyStore(inner *sheets.MemoryStore) *flakyStore {
	return &flakyStore{MemoryStore: inner, failWrites: map[string]bool{}, failCAS: map[string]bool{}}
}

var errBackendDown = errors.New("backend down")

func (f *flakyStore) ReadTable(ctx context.Context, table, rangeSpec string) (*sheets.Table, error) {
	f.mu.Lock()
	f.reads++
	fail := f.failReads > 0
	if fail {
		f.failReads--
	}
	f.mu.Unlock()
	if fail {
		return nil, errBackendDown
	}
	return f.MemoryStore.ReadTable(ctx, table, rangeSpec)
}

func (f *flakyStore) WriteCell(ctx context.Context, table string, cell sheets.CellRef, value string) error {
	return f.BatchWrite(ctx, table, []sheets.CellUpdate{{Cell: cell, Value: value}})
}

func (f *flakyStore) BatchWrite(ctx context.Context, table string, updates []sheets.CellUpdate) error {
	f.mu.Lock()
	fail := f.failWrites[table]
	f.mu.Unlock()
	if fail {
		return errBackendDown
	}
	return f.MemoryStore.BatchWrite(ctx, table, updates)
}

func (f *flakyStore) CompareAndSwap(ctx context.Context, table string, cell sheets.CellRef, expected, value string) (bool, error) {
	f.mu.Lock()
	fail := f.failCAS[table]
	f.mu.Unlock()
	if fail {
		return false, errBackendDown
	}
	return f.MemoryStore.CompareAndSwap(ctx, table, cell, expected, value)
}

// plainStore hides CompareAndSwap so the gateway falls back to write-then-verify.
type plainStore struct {
	inner *sheets.MemoryStore
}

func (p plainStore) ReadTable(ctx context.Context, table, rangeSpec string) (*sheets.Table, error) {
	return p.inner.ReadTable(ctx, table, rangeSpec)
}

func (p plainStore) WriteCell(ctx context.Context, table string, cell sheets.CellRef, value string) error {
	return p.inner.WriteCell(ctx, table, cell, value)
}

func (p plainStore) BatchWrite(ctx context.Context, table string, updates []sheets.CellUpdate) error {
	return p.inner.BatchWrite(ctx, table, updates)
}

// interleavedStore runs before once, ahead of the first conditional write. It
// stands in for another process acting between a fresh read and the commit.
type interleavedStore struct {
	*sheets.MemoryStore
	once   sync.Once
	before func()
}

func (s *interleavedStore) CompareAndSwap(ctx context.Context, table string, cell sheets.CellRef, expected, value string) (bool, error) {
	s.once.Do(func() {
		if s.before != nil {
			s.before()
		}
	})
	return s.MemoryStore.CompareAndSwap(ctx, table, cell, expected, value)
}

// blindAfterWriteStore loses read access to the topics table once it has been written.
type blindAfterWriteStore struct {
	plainStore
	mu    sync.Mutex
	wrote bool
}

func (s *blindAfterWriteStore) ReadTable(ctx context.Context, table, rangeSpec string) (*sheets.Table, error) {
	s.mu.Lock()
	blind := s.wrote && table == testTables.Topics
	s.mu.Unlock()
	if blind {
		return nil, errBackendDown
	}
	return s.plainStore.ReadTable(ctx, table, rangeSpec)
}

func (s *blindAfterWriteStore) WriteCell(ctx context.Context, table string, cell sheets.CellRef, value string) error {
	return s.BatchWrite(ctx, table, []sheets.CellUpdate{{Cell: cell, Value: value}})
}

func (s *blindAfterWriteStore) BatchWrite(ctx context.Context, table string, updates []sheets.CellUpdate) error {
	if err := s.plainStore.BatchWrite(ctx, table, updates); err != nil {
		return err
	}
	if table == testTables.Topics {
		s.mu.Lock()
		s.wrote = true
		s.mu.Unlock()
	}
	return nil
}

var (
	_ sheets.ConditionalStore = (*flakyStore)(nil)
	_ sheets.ConditionalStore = (*interleavedStore)(nil)
	_ sheets.Store            = plainStore{}
	_ sheets.Store            = (*blindAfterWriteStore)(nil)
)
