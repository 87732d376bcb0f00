package inventorycount_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	appctx "tireshop/internal/core/context"
	"tireshop/internal/core/events"
	"tireshop/internal/core/id"
	"tireshop/internal/core/security"
	"tireshop/internal/domain/inventorycount"
	"tireshop/internal/domain/inventorycount/counttest"
	"tireshop/internal/domain/registers/stock"
	"tireshop/internal/domain/registers/stock/stocktest"
)

var (
	admin     = appctx.AuthenticatedUser{ID: 1, Email: "admin@shop.test", Override: true}
	counter   = appctx.AuthenticatedUser{ID: 10, Email: "counter@shop.test"}
	validator = appctx.AuthenticatedUser{ID: 11, Email: "validator@shop.test"}
	adjuster  = appctx.AuthenticatedUser{ID: 12, Email: "adjuster@shop.test"}
	outsider  = appctx.AuthenticatedUser{ID: 99, Email: "outsider@shop.test"}
)

// serialTx runs one top-level transaction at a time and joins nested calls.
type serialTx struct{ mu sync.Mutex }

type inTx struct{}

func (m *serialTx) RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(inTx{}) != nil {
		return fn(ctx)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(context.WithValue(ctx, inTx{}, true))
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []inventorycount.Notification
	err  error
}

func (n *recordingNotifier) Notify(_ context.Context, msg inventorycount.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, msg)
	return n.err
}

func (n *recordingNotifier) ofKind(kind inventorycount.NotificationKind) []inventorycount.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []inventorycount.Notification
	for _, m := range n.sent {
		if m.Kind == kind {
			out = append(out, m)
		}
	}
	return out
}

type recordingEvents struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingEvents) Publish(_ context.Context, e events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingEvents) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.EventType)
	}
	return out
}

type auditEntry struct {
	countID id.ID
	action  string
	changes map[string]any
}

type recordingAudit struct {
	mu      sync.Mutex
	entries []auditEntry
}

func (a *recordingAudit) LogChange(_ context.Context, _ string, entityID id.ID, action string, changes map[string]any) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, auditEntry{countID: entityID, action: action, changes: changes})
	return nil
}

type fixture struct {
	t         *testing.T
	ctx       context.Context
	clock     *clock
	stockRepo *stocktest.MemoryRepo
	ledger    *stock.Service
	repo      *counttest.MemoryRepo
	notifier  *recordingNotifier
	events    *recordingEvents
	audit     *recordingAudit
	svc       *inventorycount.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	clk := &clock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
	txm := &serialTx{}
	stockRepo := stocktest.NewMemoryRepo()
	ledger := stock.NewService(stockRepo, txm).WithClock(clk.Now)
	repo := counttest.NewMemoryRepo()
	inventorycount.NewCapture(repo).Register(ledger)

	f := &fixture{
		t:         t,
		ctx:       context.Background(),
		clock:     clk,
		stockRepo: stockRepo,
		ledger:    ledger,
		repo:      repo,
		notifier:  &recordingNotifier{},
		events:    &recordingEvents{},
		audit:     &recordingAudit{},
	}
	f.svc = inventorycount.NewService(inventorycount.ServiceConfig{
		Repo:        repo,
		Ledger:      ledger,
		Access:      security.NewAssignmentAccess(repo),
		TxManager:   txm,
		Notifier:    f.notifier,
		Audit:       f.audit,
		Events:      f.events,
		Parallelism: 2,
		Now:         clk.Now,
	})
	return f
}

func (f *fixture) seed(productID, quantity int64) {
	f.stockRepo.Seed(stock.Balance{ProductID: productID, Quantity: quantity})
}

func (f *fixture) schedule() *inventorycount.InventoryCount {
	f.t.Helper()
	start := f.clock.Now()
	c, err := f.svc.Schedule(f.ctx, inventorycount.ScheduleInput{
		Title:   "Winter tires",
		StartAt: start,
		EndAt:   start.Add(8 * time.Hour),
		Kind:    inventorycount.KindFull,
		Assignments: []inventorycount.AssignmentInput{
			{UserID: counter.ID, Count: true},
			{UserID: validator.ID, Validate: true},
			{UserID: adjuster.ID, Adjust: true},
		},
	}, admin)
	require.NoError(f.t, err)
	return c
}

func (f *fixture) startCount() id.ID {
	f.t.Helper()
	c := f.schedule()
	_, err := f.svc.Start(f.ctx, c.ID, admin)
	require.NoError(f.t, err)
	return c.ID
}

func (f *fixture) sell(productID, qty int64) {
	f.t.Helper()
	f.clock.Advance(time.Minute)
	_, err := f.ledger.ApplyDelta(f.ctx, productID, -qty, stock.Provenance{
		Kind:       stock.KindSale,
		SourceType: "invoice",
		SourceID:   "INV-1",
	})
	require.NoError(f.t, err)
}

func (f *fixture) record(countID id.ID, productID, qty int64) *inventorycount.CountLine {
	f.t.Helper()
	f.clock.Advance(time.Minute)
	seen := f.line(countID, productID).Version
	line, err := f.svc.RecordCount(f.ctx, inventorycount.RecordCountInput{
		CountID:         countID,
		ProductID:       productID,
		Quantity:        qty,
		ExpectedVersion: &seen,
	}, counter)
	require.NoError(f.t, err)
	return line
}

func (f *fixture) reconcile(countID id.ID, productID int64) *inventorycount.LineResult {
	f.t.Helper()
	f.clock.Advance(time.Minute)
	res, err := f.svc.ReconcileLine(f.ctx, countID, productID, nil, validator)
	require.NoError(f.t, err)
	return res
}

func (f *fixture) quantity(productID int64) int64 {
	f.t.Helper()
	q, err := f.ledger.GetQuantity(f.ctx, productID)
	require.NoError(f.t, err)
	return q
}

func (f *fixture) line(countID id.ID, productID int64) *inventorycount.CountLine {
	f.t.Helper()
	l, err := f.repo.GetLine(f.ctx, countID, productID)
	require.NoError(f.t, err)
	return l
}

func (f *fixture) pending(countID id.ID) []inventorycount.PendingAdjustment {
	f.t.Helper()
	status := inventorycount.AdjustmentPending
	list, err := f.repo.ListAdjustments(f.ctx, countID, inventorycount.AdjustmentFilter{Status: &status})
	require.NoError(f.t, err)
	return list
}

var errLedgerDown = errors.New("ledger unavailable")
