package inventorycount

import (
	"context"

	appctx "tireshop/internal/core/context"
	"tireshop/internal/core/id"
	"tireshop/internal/core/security"
	"tireshop/internal/domain/registers/stock"
)

// StockLedger is the part of the stock register a count needs.
// Implemented by *stock.Service.
type StockLedger interface {
	EligibleForCount(ctx context.Context, filter stock.EligibilityFilter) ([]stock.Balance, error)
	ApplyDelta(ctx context.Context, productID int64, delta int64, prov stock.Provenance) (int64, error)
}

// AccessControl answers capability questions. Implemented by *security.AssignmentAccess.
type AccessControl interface {
	HasCapability(ctx context.Context, user appctx.AuthenticatedUser, countID id.ID, c security.Capability) (bool, error)
	HasOverride(user appctx.AuthenticatedUser) bool
	IsAssigned(ctx context.Context, user appctx.AuthenticatedUser, countID id.ID) (bool, error)
}

// NotificationKind classifies a user notification.
type NotificationKind string

const (
	NotifyScheduled   NotificationKind = "inventory_count.scheduled"
	NotifyStarted     NotificationKind = "inventory_count.started"
	NotifyCompleted   NotificationKind = "inventory_count.completed"
	NotifyDiscrepancy NotificationKind = "inventory_count.discrepancy"
)

// Notification is delivered to every listed user.
type Notification struct {
	Kind    NotificationKind `json:"kind"`
	UserIDs []int64          `json:"userIds"`
	Title   string           `json:"title"`
	Message string           `json:"message"`
	CountID id.ID            `json:"countId"`
}

// Notifier delivers notifications. Delivery is best effort.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// AuditLogger records applied corrections. Called inside the apply transaction.
type AuditLogger interface {
	LogChange(ctx context.Context, entityType string, entityID id.ID, action string, changes map[string]any) error
}

// ProgressCache holds computed progress between writes. A miss returns nil, nil.
type ProgressCache interface {
	Get(ctx context.Context, countID id.ID) (*Progress, error)
	Set(ctx context.Context, countID id.ID, p Progress) error
	Invalidate(ctx context.Context, countID id.ID) error
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, Notification) error { return nil }

type nopAudit struct{}

func (nopAudit) LogChange(context.Context, string, id.ID, string, map[string]any) error { return nil }

type nopCache struct{}

func (nopCache) Get(context.Context, id.ID) (*Progress, error) { return nil, nil }
func (nopCache) Set(context.Context, id.ID, Progress) error { return nil }
func (nopCache) Invalidate(context.Context, id.ID) error { return nil }
