package stock_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tireshop/internal/core/apperror"
	"tireshop/internal/core/id"
	"tireshop/internal/core/tx"
	"tireshop/internal/domain/registers/stock"
	"tireshop/internal/domain/registers/stock/stocktest"
)

func newLedger(t *testing.T) (*stock.Service, *stocktest.MemoryRepo) {
	t.Helper()
	repo := stocktest.NewMemoryRepo()
	return stock.NewService(repo, tx.Passthrough{}), repo
}

func TestApplyDelta_UpdatesQuantityAndJournals(t *testing.T) {
	svc, repo := newLedger(t)
	repo.Seed(stock.Balance{ProductID: 7, Quantity: 10})

	qty, err := svc.ApplyDelta(context.Background(), 7, -3, stock.Provenance{Kind: stock.KindSale, SourceType: "invoice", SourceID: "881"})
	require.NoError(t, err)
	assert.Equal(t, int64(7), qty)

	got, err := svc.GetQuantity(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, int64(7), got)

	moves := repo.Movements()
	require.Len(t, moves, 1)
	assert.Equal(t, int64(-3), moves[0].Delta)
	assert.Equal(t, int64(7), moves[0].QuantityAfter)
	require.NotNil(t, moves[0].SourceID)
	assert.Equal(t, "881", *moves[0].SourceID)
}

func TestApplyDelta_RejectsNegativeStock(t *testing.T) {
	svc, repo := newLedger(t)
	repo.Seed(stock.Balance{ProductID: 7, Quantity: 2})

	_, err := svc.ApplyDelta(context.Background(), 7, -5, stock.Provenance{Kind: stock.KindSale})
	require.Error(t, err)
	assert.True(t, apperror.HasCode(err, apperror.CodeInsufficientStock))
	assert.Empty(t, repo.Movements())
}

func TestApplyDelta_Validation(t *testing.T) {
	svc, repo := newLedger(t)
	repo.Seed(stock.Balance{ProductID: 7, Quantity: 2})

	_, err := svc.ApplyDelta(context.Background(), 7, 0, stock.Provenance{Kind: stock.KindSale})
	assert.True(t, apperror.IsValidation(err))

	_, err = svc.ApplyDelta(context.Background(), 7, 1, stock.Provenance{Kind: "gift"})
	assert.True(t, apperror.IsValidation(err))

	_, err = svc.ApplyDelta(context.Background(), 999, 1, stock.Provenance{Kind: stock.KindDelivery})
	assert.True(t, apperror.IsNotFound(err))
}

func TestApplyDelta_RunsHooksWithProvenance(t *testing.T) {
	svc, repo := newLedger(t)
	repo.Seed(stock.Balance{ProductID: 7, Quantity: 10})

	var changes []stock.QuantityChange
	svc.OnQuantityChanged(func(_ context.Context, c stock.QuantityChange) error {
		changes = append(changes, c)
		return nil
	})

	_, err := svc.ApplyDelta(context.Background(), 7, 4, stock.Provenance{Kind: stock.KindDelivery})
	require.NoError(t, err)

	require.Len(t, changes, 1)
	assert.Equal(t, int64(4), changes[0].Delta)
	assert.Equal(t, int64(14), changes[0].NewQuantity)
	assert.Equal(t, stock.KindDelivery, changes[0].Provenance.Kind)
}

func TestApplyDelta_HookErrorPropagates(t *testing.T) {
	svc, repo := newLedger(t)
	repo.Seed(stock.Balance{ProductID: 7, Quantity: 10})
	svc.OnQuantityChanged(func(context.Context, stock.QuantityChange) error {
		return errors.New("capture failed")
	})

	_, err := svc.ApplyDelta(context.Background(), 7, 1, stock.Provenance{Kind: stock.KindDelivery})
	assert.EqualError(t, err, "capture failed")
}

func TestEligibleForCount_Filters(t *testing.T) {
	svc, repo := newLedger(t)
	shop, yard := int64(1), int64(2)
	repo.Seed(stock.Balance{ProductID: 1, LocationID: &shop, Quantity: 20, MinQuantity: 4})
	repo.Seed(stock.Balance{ProductID: 2, LocationID: &shop, Quantity: 3, MinQuantity: 4})
	repo.Seed(stock.Balance{ProductID: 3, LocationID: &yard, Quantity: 8})

	all, err := svc.EligibleForCount(context.Background(), stock.EligibilityFilter{IncludeLowStock: true})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	noLow, err := svc.EligibleForCount(context.Background(), stock.EligibilityFilter{LocationID: &shop})
	require.NoError(t, err)
	require.Len(t, noLow, 1)
	assert.Equal(t, int64(1), noLow[0].ProductID)
}

func TestProvenance_IsCorrectionFor(t *testing.T) {
	countID := id.MustParse("0192f3a0-7c4e-7000-8000-000000000001")
	p := stock.Provenance{Kind: stock.KindCountCorrection, SourceType: stock.SourceInventoryCount, SourceID: countID.String()}
	assert.True(t, p.IsCorrectionFor(countID))

	assert.False(t, p.IsCorrectionFor(id.New()))

	p.Kind = stock.KindManualAdjustment
	assert.False(t, p.IsCorrectionFor(countID))
}
