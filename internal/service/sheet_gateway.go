package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/memo-registry-api/internal/models"
	appErrors "github.com/noah-isme/memo-registry-api/pkg/errors"
	"github.com/noah-isme/memo-registry-api/pkg/sheets"
)

const readRetryBackoff = 100 * time.Millisecond

// LedgerTables names the three tables of the registry.
type LedgerTables struct {
	Students    string
	Topics      string
	Credentials string
}

// SheetGatewayConfig tunes the gateway.
type SheetGatewayConfig struct {
	Tables       LedgerTables
	ReadRange    string
	CallTimeout  time.Duration
	ReadRetries  int
	MirrorLedger bool
	Location     *time.Location
}

// SheetGateway fronts the tabular store. Display reads are served through the
// cache; fresh reads bypass it. Every call is bounded by a timeout. Reads are
// retried, writes never are.
type SheetGateway struct {
	store   sheets.Store
	cas     sheets.ConditionalStore
	cache   *CacheService
	metrics *MetricsService
	cfg     SheetGatewayConfig
	logger  *zap.Logger
}

// NewSheetGateway validates the configuration and constructs the gateway.
func NewSheetGateway(store sheets.Store, cache *CacheService, metrics *MetricsService, cfg SheetGatewayConfig, logger *zap.Logger) (*SheetGateway, error) {
	if store == nil {
		return nil, errors.New("sheet gateway requires a store")
	}
	rng, err := sheets.ParseRange(cfg.ReadRange)
	if err != nil {
		return nil, fmt.Errorf("read range: %w", err)
	}
	if rng.Bounded() && (rng.From.Row != sheets.HeaderRow || rng.From.Col != 1) {
		return nil, fmt.Errorf("read range %s must start at A1", cfg.ReadRange)
	}
	if cfg.Tables.Students == "" || cfg.Tables.Topics == "" {
		return nil, errors.New("students and topics table names are required")
	}
	if cfg.MirrorLedger && cfg.Tables.Credentials == "" {
		return nil, errors.New("credential table name is required when the mirror ledger is enabled")
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 5 * time.Second
	}
	if cfg.ReadRetries < 0 {
		cfg.ReadRetries = 0
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	gw := &SheetGateway{store: store, cache: cache, metrics: metrics, cfg: cfg, logger: logger}
	if cas, ok := store.(sheets.ConditionalStore); ok {
		gw.cas = cas
	}
	return gw, nil
}

// Tables returns the configured table names.
func (g *SheetGateway) Tables() LedgerTables { return g.cfg.Tables }

// MirrorEnabled reports whether the supervisor credential ledger is maintained.
func (g *SheetGateway) MirrorEnabled() bool { return g.cfg.MirrorLedger }

// Location is the zone ledger timestamps are written in.
func (g *SheetGateway) Location() *time.Location { return g.cfg.Location }

// SupportsCAS reports whether the store can swap a cell atomically.
func (g *SheetGateway) SupportsCAS() bool { return g.cas != nil }

// ReadTable returns the table, from cache unless fresh is set.
func (g *SheetGateway) ReadTable(ctx context.Context, table string, fresh bool) (*sheets.Table, error) {
	key := TableKey(table, g.cfg.ReadRange)
	if !fresh {
		var cached sheets.Table
		if hit, _ := g.cache.Get(ctx, key, &cached); hit {
			return &cached, nil
		}
	}

	var (
		result  *sheets.Table
		lastErr error
	)
	for attempt := 0; attempt <= g.cfg.ReadRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, g.unavailable(table, "read", ctx.Err())
			case <-time.After(time.Duration(attempt) * readRetryBackoff):
			}
		}
		result, lastErr = g.readOnce(ctx, table)
		if lastErr == nil {
			break
		}
		if errors.Is(lastErr, sheets.ErrTableNotFound) || ctx.Err() != nil {
			break
		}
		g.logger.Warn("sheet read failed", zap.String("table", table), zap.Int("attempt", attempt+1), zap.Error(lastErr))
	}
	if lastErr != nil {
		return nil, g.unavailable(table, "read", lastErr)
	}
	_ = g.cache.Set(ctx, key, result, 0)
	return result, nil
}

func (g *SheetGateway) readOnce(ctx context.Context, table string) (*sheets.Table, error) {
	callCtx, cancel := context.WithTimeout(ctx, g.cfg.CallTimeout)
	defer cancel()
	start := time.Now()
	result, err := g.store.ReadTable(callCtx, table, g.cfg.ReadRange)
	g.metrics.ObserveStoreCall(table, "read", err, time.Since(start))
	return result, err
}

// Snapshot reads and decodes all ledgers.
func (g *SheetGateway) Snapshot(ctx context.Context, fresh bool) (*models.Snapshot, error) {
	students, err := g.ReadTable(ctx, g.cfg.Tables.Students, fresh)
	if err != nil {
		return nil, err
	}
	topics, err := g.ReadTable(ctx, g.cfg.Tables.Topics, fresh)
	if err != nil {
		return nil, err
	}
	var credentials *sheets.Table
	if g.cfg.MirrorLedger {
		if credentials, err = g.ReadTable(ctx, g.cfg.Tables.Credentials, fresh); err != nil {
			return nil, err
		}
	}
	snap, err := models.DecodeSnapshot(students, topics, credentials, g.cfg.Location)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "ledger layout is invalid")
	}
	return snap, nil
}

// BatchWrite applies updates once; a failure is never retried.
func (g *SheetGateway) BatchWrite(ctx context.Context, table string, updates []sheets.CellUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	callCtx, cancel := context.WithTimeout(ctx, g.cfg.CallTimeout)
	defer cancel()
	start := time.Now()
	var err error
	if len(updates) == 1 {
		err = g.store.WriteCell(callCtx, table, updates[0].Cell, updates[0].Value)
	} else {
		err = g.store.BatchWrite(callCtx, table, updates)
	}
	g.metrics.ObserveStoreCall(table, "write", err, time.Since(start))
	if err != nil {
		return g.unavailable(table, "write", err)
	}
	return nil
}

// CompareAndSwap swaps a cell when the store supports it.
func (g *SheetGateway) CompareAndSwap(ctx context.Context, table string, cell sheets.CellRef, expected, value string) (bool, error) {
	if g.cas == nil {
		return false, appErrors.Clone(appErrors.ErrInternal, "store does not support compare-and-swap")
	}
	callCtx, cancel := context.WithTimeout(ctx, g.cfg.CallTimeout)
	defer cancel()
	start := time.Now()
	swapped, err := g.cas.CompareAndSwap(callCtx, table, cell, expected, value)
	g.metrics.ObserveStoreCall(table, "cas", err, time.Since(start))
	if err != nil {
		return false, g.unavailable(table, "compare-and-swap", err)
	}
	return swapped, nil
}

// Invalidate drops cached reads of the given tables, or of every ledger when none are named.
func (g *SheetGateway) Invalidate(ctx context.Context, tables ...string) error {
	if len(tables) == 0 {
		tables = []string{g.cfg.Tables.Students, g.cfg.Tables.Topics}
		if g.cfg.Tables.Credentials != "" {
			tables = append(tables, g.cfg.Tables.Credentials)
		}
	}
	var firstErr error
	for _, table := range tables {
		if err := g.cache.Invalidate(ctx, TablePattern(table)); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Ping performs one fresh, unretried read of the topics table.
func (g *SheetGateway) Ping(ctx context.Context) error {
	_, err := g.readOnce(ctx, g.cfg.Tables.Topics)
	return err
}

func (g *SheetGateway) unavailable(table, op string, err error) error {
	return appErrors.Wrap(err, appErrors.ErrStoreUnavailable.Code, appErrors.ErrStoreUnavailable.Status,
		fmt.Sprintf("%s %s failed", op, table))
}
