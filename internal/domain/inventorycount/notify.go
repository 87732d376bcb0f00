package inventorycount

import (
	"context"
	"fmt"
	"strings"

	"tireshop/pkg/logger"
)

// notify delivers n and logs delivery failures. Notifications never fail
// the operation that triggered them.
func (s *Service) notify(ctx context.Context, n Notification) {
	if len(n.UserIDs) == 0 {
		return
	}
	if err := s.notifier.Notify(ctx, n); err != nil {
		logger.Warn(ctx, "notification delivery failed",
			"kind", n.Kind,
			"count_id", n.CountID,
			"recipients", len(n.UserIDs),
			"error", err,
		)
	}
}

func (s *Service) assignments(ctx context.Context, count *InventoryCount) []UserAssignment {
	if count.Assignments != nil {
		return count.Assignments
	}
	list, err := s.repo.GetAssignments(ctx, count.ID)
	if err != nil {
		logger.Warn(ctx, "load assignments for notification failed", "count_id", count.ID, "error", err)
		return nil
	}
	count.Assignments = list
	return list
}

func (s *Service) notifyAssignees(ctx context.Context, count *InventoryCount, kind NotificationKind, title, message string) {
	var users []int64
	for _, a := range s.assignments(ctx, count) {
		users = append(users, a.UserID)
	}
	s.notify(ctx, Notification{
		Kind:    kind,
		UserIDs: users,
		Title:   title,
		Message: message,
		CountID: count.ID,
	})
}

// notifyDiscrepancies tells validators about newly staged adjustments.
// One notification covers a whole pass.
func (s *Service) notifyDiscrepancies(ctx context.Context, count *InventoryCount, staged []LineResult) {
	if len(staged) == 0 {
		return
	}

	var users []int64
	for _, a := range s.assignments(ctx, count) {
		if a.CanValidate {
			users = append(users, a.UserID)
		}
	}

	parts := make([]string, 0, len(staged))
	for _, l := range staged {
		if l.Difference == nil {
			continue
		}
		parts = append(parts, fmt.Sprintf("product %d: %+d", l.ProductID, *l.Difference))
	}

	s.notify(ctx, Notification{
		Kind:    NotifyDiscrepancy,
		UserIDs: users,
		Title:   "Inventory discrepancy",
		Message: fmt.Sprintf("%q has %d new discrepancies (%s)", count.Title, len(staged), strings.Join(parts, ", ")),
		CountID: count.ID,
	})
}
