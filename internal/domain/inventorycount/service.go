package inventorycount

import (
	"context"
	"time"

	appctx "tireshop/internal/core/context"
	"tireshop/internal/core/events"
	"tireshop/internal/core/id"
	"tireshop/internal/core/security"
	"tireshop/internal/core/tx"
	"tireshop/pkg/logger"
)

// DefaultParallelism bounds concurrent line reconciliation in bulk passes.
const DefaultParallelism = 4

// ServiceConfig holds the dependencies of Service.
// Audit, Events, Cache, Notifier and Now are optional.
type ServiceConfig struct {
	Repo      Repository
	Ledger    StockLedger
	Access    AccessControl
	TxManager tx.Manager

	Notifier Notifier
	Audit    AuditLogger
	Events   events.Publisher
	Cache    ProgressCache

	Parallelism int
	Now         func() time.Time
}

// Service runs the count lifecycle and reconciliation.
type Service struct {
	repo        Repository
	ledger      StockLedger
	access      AccessControl
	txManager   tx.Manager
	notifier    Notifier
	audit       AuditLogger
	events      events.Publisher
	cache       ProgressCache
	parallelism int
	now         func() time.Time
}

// NewService creates a new inventory count service.
func NewService(cfg ServiceConfig) *Service {
	s := &Service{
		repo:        cfg.Repo,
		ledger:      cfg.Ledger,
		access:      cfg.Access,
		txManager:   cfg.TxManager,
		notifier:    cfg.Notifier,
		audit:       cfg.Audit,
		events:      cfg.Events,
		cache:       cfg.Cache,
		parallelism: cfg.Parallelism,
		now:         cfg.Now,
	}
	if s.notifier == nil {
		s.notifier = nopNotifier{}
	}
	if s.audit == nil {
		s.audit = nopAudit{}
	}
	if s.events == nil {
		s.events = events.Nop{}
	}
	if s.cache == nil {
		s.cache = nopCache{}
	}
	if s.parallelism <= 0 {
		s.parallelism = DefaultParallelism
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	return s
}

// --- Access checks ---

func (s *Service) requireOverride(user appctx.AuthenticatedUser) error {
	if !s.access.HasOverride(user) {
		return security.NewPermissionDenied()
	}
	return nil
}

func (s *Service) requireCapability(ctx context.Context, user appctx.AuthenticatedUser, countID id.ID, c security.Capability) error {
	ok, err := s.access.HasCapability(ctx, user, countID, c)
	if err != nil {
		return err
	}
	if !ok {
		return security.NewPermissionDenied(c)
	}
	return nil
}

func (s *Service) requireVisible(ctx context.Context, user appctx.AuthenticatedUser, countID id.ID) error {
	ok, err := s.access.IsAssigned(ctx, user, countID)
	if err != nil {
		return err
	}
	if !ok {
		return security.NewPermissionDenied(security.CapabilityCount, security.CapabilityAdjust, security.CapabilityValidate)
	}
	return nil
}

func (s *Service) invalidate(ctx context.Context, countID id.ID) {
	if err := s.cache.Invalidate(ctx, countID); err != nil {
		logger.Warn(ctx, "progress cache invalidation failed", "count_id", countID, "error", err)
	}
}
