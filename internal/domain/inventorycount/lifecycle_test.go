package inventorycount_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tireshop/internal/core/apperror"
	"tireshop/internal/domain/inventorycount"
)

func TestSchedule_RequiresOverride(t *testing.T) {
	f := newFixture(t)
	now := f.clock.Now()

	_, err := f.svc.Schedule(f.ctx, inventorycount.ScheduleInput{
		Title:       "Summer tires",
		StartAt:     now,
		EndAt:       now.Add(time.Hour),
		Assignments: []inventorycount.AssignmentInput{{UserID: counter.ID, Count: true}},
	}, counter)
	require.Error(t, err)
	assert.True(t, apperror.IsForbidden(err))
}

func TestSchedule_Validation(t *testing.T) {
	f := newFixture(t)
	now := f.clock.Now()
	assignees := []inventorycount.AssignmentInput{{UserID: counter.ID, Count: true}}

	tests := []struct {
		name string
		in   inventorycount.ScheduleInput
		code string
	}{
		{
			name: "missing title",
			in:   inventorycount.ScheduleInput{StartAt: now, EndAt: now.Add(time.Hour), Assignments: assignees},
			code: apperror.CodeValidation,
		},
		{
			name: "inverted window",
			in:   inventorycount.ScheduleInput{Title: "x", StartAt: now, EndAt: now.Add(-time.Hour), Assignments: assignees},
			code: apperror.CodeValidation,
		},
		{
			name: "unknown kind",
			in:   inventorycount.ScheduleInput{Title: "x", StartAt: now, EndAt: now.Add(time.Hour), Kind: "weekly", Assignments: assignees},
			code: apperror.CodeValidation,
		},
		{
			name: "no assignees",
			in:   inventorycount.ScheduleInput{Title: "x", StartAt: now, EndAt: now.Add(time.Hour)},
			code: apperror.CodeAssignment,
		},
		{
			name: "nobody can count",
			in: inventorycount.ScheduleInput{Title: "x", StartAt: now, EndAt: now.Add(time.Hour),
				Assignments: []inventorycount.AssignmentInput{{UserID: validator.ID, Validate: true}}},
			code: apperror.CodeAssignment,
		},
		{
			name: "duplicate assignee",
			in: inventorycount.ScheduleInput{Title: "x", StartAt: now, EndAt: now.Add(time.Hour),
				Assignments: []inventorycount.AssignmentInput{{UserID: counter.ID, Count: true}, {UserID: counter.ID}}},
			code: apperror.CodeValidation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Schedule(f.ctx, tt.in, admin)
			require.Error(t, err)
			assert.True(t, apperror.HasCode(err, tt.code), "got %v", err)
		})
	}
}

func TestSchedule_NotifiesAssignees(t *testing.T) {
	f := newFixture(t)
	c := f.schedule()

	assert.Equal(t, inventorycount.StatusScheduled, c.Status)
	assert.Equal(t, admin.ID, c.CreatorUserID)

	sent := f.notifier.ofKind(inventorycount.NotifyScheduled)
	require.Len(t, sent, 1)
	assert.ElementsMatch(t, []int64{counter.ID, validator.ID, adjuster.ID}, sent[0].UserIDs)
	assert.Equal(t, c.ID, sent[0].CountID)
}

func TestSchedule_NotificationFailureIsSwallowed(t *testing.T) {
	f := newFixture(t)
	f.notifier.err = errLedgerDown

	c := f.schedule()
	assert.Equal(t, inventorycount.StatusScheduled, c.Status)
}

func TestUpdateSchedule_OnlyWhileScheduled(t *testing.T) {
	f := newFixture(t)
	f.seed(1, 5)
	c := f.schedule()
	now := f.clock.Now()

	in := inventorycount.ScheduleInput{
		Title:       "Winter tires, bay 2",
		StartAt:     now.Add(time.Hour),
		EndAt:       now.Add(2 * time.Hour),
		Kind:        inventorycount.KindCyclic,
		Assignments: []inventorycount.AssignmentInput{{UserID: counter.ID, Count: true, Validate: true}},
	}
	updated, err := f.svc.UpdateSchedule(f.ctx, c.ID, in, admin)
	require.NoError(t, err)
	assert.Equal(t, "Winter tires, bay 2", updated.Title)
	assert.Equal(t, inventorycount.KindCyclic, updated.Kind)
	assert.Equal(t, 2, updated.Version)

	assignments, err := f.repo.GetAssignments(f.ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, assignments, 1)
	assert.True(t, assignments[0].CanValidate)

	_, err = f.svc.Start(f.ctx, c.ID, admin)
	require.NoError(t, err)

	_, err = f.svc.UpdateSchedule(f.ctx, c.ID, in, admin)
	assert.True(t, apperror.IsInvalidState(err))
}

func TestStart_SnapshotsLedger(t *testing.T) {
	f := newFixture(t)
	f.seed(1, 50)
	f.seed(2, 8)
	countID := f.startCount()

	count, err := f.repo.GetByID(f.ctx, countID)
	require.NoError(t, err)
	assert.Equal(t, inventorycount.StatusInProgress, count.Status)
	require.NotNil(t, count.StartedAt)

	assert.Equal(t, int64(50), f.line(countID, 1).SystemQuantity)
	assert.Equal(t, int64(8), f.line(countID, 2).SystemQuantity)
	assert.Contains(t, f.events.types(), inventorycount.EventStarted)
	assert.Len(t, f.notifier.ofKind(inventorycount.NotifyStarted), 1)
}

func TestStart_SkipsLowStockUnlessIncluded(t *testing.T) {
	f := newFixture(t)
	f.seed(1, 50)
	f.seed(2, 0)

	countID := f.startCount()
	_, err := f.repo.GetLine(f.ctx, countID, 2)
	assert.True(t, apperror.IsNotFound(err))

	now := f.clock.Now()
	c, err := f.svc.Schedule(f.ctx, inventorycount.ScheduleInput{
		Title:           "Everything",
		StartAt:         now,
		EndAt:           now.Add(time.Hour),
		IncludeLowStock: true,
		Assignments:     []inventorycount.AssignmentInput{{UserID: counter.ID, Count: true}},
	}, admin)
	require.NoError(t, err)
	_, err = f.svc.Start(f.ctx, c.ID, admin)
	require.NoError(t, err)
	assert.Equal(t, int64(0), f.line(c.ID, 2).SystemQuantity)
}

func TestStart_Twice(t *testing.T) {
	f := newFixture(t)
	f.seed(1, 50)
	countID := f.startCount()

	_, err := f.svc.Start(f.ctx, countID, admin)
	require.Error(t, err)
	assert.True(t, apperror.IsInvalidState(err))

	ids, err := f.repo.UnsettledProductIDs(f.ctx, countID)
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, ids)
}

func TestStart_RequiresOverride(t *testing.T) {
	f := newFixture(t)
	c := f.schedule()

	_, err := f.svc.Start(f.ctx, c.ID, counter)
	assert.True(t, apperror.IsForbidden(err))
}

func TestSnapshot_NeverChanges(t *testing.T) {
	f := newFixture(t)
	f.seed(1, 50)
	countID := f.startCount()

	f.sell(1, 4)
	f.record(countID, 1, 46)
	f.reconcile(countID, 1)
	f.sell(1, 1)

	assert.Equal(t, int64(50), f.line(countID, 1).SystemQuantity)
	assert.Equal(t, int64(45), f.quantity(1))
}

func TestRecordCount(t *testing.T) {
	f := newFixture(t)
	f.seed(1, 50)
	countID := f.startCount()

	line := f.record(countID, 1, 48)
	require.NotNil(t, line.PhysicalQuantity)
	assert.Equal(t, int64(48), *line.PhysicalQuantity)
	assert.Equal(t, counter.ID, *line.CountedByUserID)
	assert.Equal(t, 2, line.Version)

	again := f.record(countID, 1, 49)
	assert.Equal(t, int64(49), *again.PhysicalQuantity)
	assert.Equal(t, 3, again.Version)
	assert.Nil(t, again.Difference)
}

func TestRecordCount_Rejections(t *testing.T) {
	f := newFixture(t)
	f.seed(1, 50)
	c := f.schedule()

	v := 1
	in := inventorycount.RecordCountInput{CountID: c.ID, ProductID: 1, Quantity: 3, ExpectedVersion: &v}

	_, err := f.svc.RecordCount(f.ctx, in, counter)
	assert.True(t, apperror.IsInvalidState(err), "scheduled count")

	_, err = f.svc.Start(f.ctx, c.ID, admin)
	require.NoError(t, err)

	_, err = f.svc.RecordCount(f.ctx, in, validator)
	assert.True(t, apperror.IsForbidden(err), "validator cannot count")

	_, err = f.svc.RecordCount(f.ctx, in, outsider)
	assert.True(t, apperror.IsForbidden(err), "outsider")

	_, err = f.svc.RecordCount(f.ctx, inventorycount.RecordCountInput{CountID: c.ID, ProductID: 1, Quantity: -1, ExpectedVersion: &v}, counter)
	assert.True(t, apperror.IsValidation(err))

	_, err = f.svc.RecordCount(f.ctx, inventorycount.RecordCountInput{CountID: c.ID, ProductID: 1, Quantity: 3}, counter)
	assert.True(t, apperror.IsValidation(err), "version is required")

	_, err = f.svc.RecordCount(f.ctx, inventorycount.RecordCountInput{CountID: c.ID, ProductID: 404, Quantity: 1, ExpectedVersion: &v}, counter)
	assert.True(t, apperror.IsNotFound(err))

	_, err = f.svc.RecordCount(f.ctx, in, admin)
	assert.NoError(t, err, "override always suffices")
}

func TestRecordCount_ConcurrentWritersConflict(t *testing.T) {
	f := newFixture(t)
	f.seed(1, 50)
	countID := f.startCount()

	seen := f.line(countID, 1).Version

	var (
		wg    sync.WaitGroup
		start = make(chan struct{})
		errs  = make([]error, 2)
	)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, errs[i] = f.svc.RecordCount(f.ctx, inventorycount.RecordCountInput{
				CountID:         countID,
				ProductID:       1,
				Quantity:        int64(40 + i),
				ExpectedVersion: &seen,
			}, counter)
		}()
	}
	close(start)
	wg.Wait()

	var ok, conflicts int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case apperror.IsConcurrentModification(err):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, conflicts)
	assert.Equal(t, seen+1, f.line(countID, 1).Version)
}

func TestRecordCount_StaleVersionLoses(t *testing.T) {
	f := newFixture(t)
	f.seed(1, 50)
	countID := f.startCount()

	// Both counters read the line before either writes.
	seen := f.line(countID, 1).Version

	_, err := f.svc.RecordCount(f.ctx, inventorycount.RecordCountInput{
		CountID: countID, ProductID: 1, Quantity: 41, ExpectedVersion: &seen,
	}, counter)
	require.NoError(t, err)

	_, err = f.svc.RecordCount(f.ctx, inventorycount.RecordCountInput{
		CountID: countID, ProductID: 1, Quantity: 40, ExpectedVersion: &seen,
	}, admin)
	assert.True(t, apperror.IsConcurrentModification(err))

	line := f.line(countID, 1)
	assert.Equal(t, int64(41), *line.PhysicalQuantity, "first count is kept")
	assert.Equal(t, counter.ID, *line.CountedByUserID)
}

func TestRecordCount_ConcurrentWithoutVersionRejected(t *testing.T) {
	f := newFixture(t)
	f.seed(1, 50)
	countID := f.startCount()

	var (
		wg   sync.WaitGroup
		errs = make([]error, 2)
	)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = f.svc.RecordCount(f.ctx, inventorycount.RecordCountInput{
				CountID:   countID,
				ProductID: 1,
				Quantity:  int64(40 + i),
			}, counter)
		}()
	}
	wg.Wait()

	for _, err := range errs {
		assert.True(t, apperror.IsValidation(err))
	}
	assert.Nil(t, f.line(countID, 1).PhysicalQuantity)
}

func TestComplete_HappyPath(t *testing.T) {
	f := newFixture(t)
	f.seed(1, 50)
	f.seed(2, 10)
	countID := f.startCount()

	f.record(countID, 1, 47)
	f.record(countID, 2, 10)

	report, err := f.svc.Complete(f.ctx, countID, admin)
	require.NoError(t, err)
	assert.True(t, report.Completed)
	assert.Equal(t, 1, report.Applied)
	assert.Equal(t, 0, report.Failed)
	assert.Equal(t, int64(47), f.quantity(1))

	count, err := f.repo.GetByID(f.ctx, countID)
	require.NoError(t, err)
	assert.Equal(t, inventorycount.StatusCompleted, count.Status)
	assert.NotNil(t, count.CompletedAt)

	assert.Equal(t, []string{
		inventorycount.EventStarted,
		inventorycount.EventCorrectionApplied,
		inventorycount.EventCompleted,
	}, f.events.types())
	require.Len(t, f.audit.entries, 1)
	assert.Equal(t, "correction_applied", f.audit.entries[0].action)
	assert.Len(t, f.notifier.ofKind(inventorycount.NotifyCompleted), 1)

	_, err = f.svc.Complete(f.ctx, countID, admin)
	assert.True(t, apperror.IsInvalidState(err))
}

func TestComplete_ConsumesMovementsAfterCount(t *testing.T) {
	f := newFixture(t)
	f.seed(1, 50)
	countID := f.startCount()

	f.record(countID, 1, 50)
	f.sell(1, 2)

	report, err := f.svc.Complete(f.ctx, countID, admin)
	require.NoError(t, err)
	assert.True(t, report.Completed)
	assert.Equal(t, 0, report.Applied, "the late sale is not a discrepancy")
	assert.Equal(t, int64(48), f.quantity(1))

	movements, err := f.repo.ListMovements(f.ctx, countID, 1)
	require.NoError(t, err)
	require.Len(t, movements, 1)
	assert.Equal(t, int64(-2), movements[0].Delta)
	assert.True(t, movements[0].Consumed)
	require.NotNil(t, movements[0].ConsumedAt)
}

func TestComplete_PartialLedgerFailureIsRetryable(t *testing.T) {
	f := newFixture(t)
	f.seed(1, 50)
	f.seed(2, 20)
	f.seed(3, 30)
	countID := f.startCount()

	f.record(countID, 1, 47)
	f.record(countID, 2, 22)
	f.record(countID, 3, 29)
	f.stockRepo.FailWrites(2, errLedgerDown)

	report, err := f.svc.Complete(f.ctx, countID, admin)
	require.Error(t, err)
	assert.True(t, apperror.IsLedgerWrite(err))
	assert.False(t, report.Completed)
	assert.Equal(t, 2, report.Applied)
	assert.Equal(t, 1, report.Failed)

	for _, r := range report.Adjustments {
		if r.ProductID == 2 {
			assert.Equal(t, inventorycount.ApplyFailed, r.Status)
			assert.NotEmpty(t, r.Error)
		} else {
			assert.Equal(t, inventorycount.ApplyApplied, r.Status)
		}
	}

	count, err := f.repo.GetByID(f.ctx, countID)
	require.NoError(t, err)
	assert.Equal(t, inventorycount.StatusInProgress, count.Status)
	assert.Equal(t, int64(47), f.quantity(1))
	assert.Equal(t, int64(20), f.quantity(2))
	assert.Equal(t, int64(29), f.quantity(3))

	f.stockRepo.FailWrites(2, nil)
	report, err = f.svc.Complete(f.ctx, countID, admin)
	require.NoError(t, err)
	assert.True(t, report.Completed)
	require.Len(t, report.Adjustments, 1)
	assert.Equal(t, int64(2), report.Adjustments[0].ProductID)
	assert.Equal(t, inventorycount.ApplyApplied, report.Adjustments[0].Status)

	assert.Equal(t, int64(47), f.quantity(1), "applied once")
	assert.Equal(t, int64(22), f.quantity(2))
	assert.Equal(t, int64(29), f.quantity(3), "applied once")
}

func TestComplete_RequiresOverride(t *testing.T) {
	f := newFixture(t)
	f.seed(1, 50)
	countID := f.startCount()

	_, err := f.svc.Complete(f.ctx, countID, validator)
	assert.True(t, apperror.IsForbidden(err))
}
