// Package register_repo provides PostgreSQL implementations for register repositories.
package register_repo

import (
	"context"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	"tireshop/internal/core/apperror"
	"tireshop/internal/domain/registers/stock"
	"tireshop/internal/infrastructure/storage/postgres"
)

const (
	stockMovementsTable = "reg_stock_movements"
	stockBalancesTable  = "reg_stock_balances"
)

var (
	balanceColumns  = postgres.ExtractDBColumns[stock.Balance]()
	movementColumns = postgres.ExtractDBColumns[stock.Movement]()
)

// StockRepo implements stock.Repository.
type StockRepo struct {
	txManager *postgres.TxManager
	builder   squirrel.StatementBuilderType
}

var _ stock.Repository = (*StockRepo)(nil)

// NewStockRepo creates a new stock register repository.
func NewStockRepo(txManager *postgres.TxManager) *StockRepo {
	return &StockRepo{
		txManager: txManager,
		builder:   squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

func (r *StockRepo) balanceQuery(productID int64) squirrel.SelectBuilder {
	return r.builder.Select(balanceColumns...).
		From(stockBalancesTable).
		Where(squirrel.Eq{"product_id": productID})
}

// GetBalance returns the balance row for a product.
func (r *StockRepo) GetBalance(ctx context.Context, productID int64) (stock.Balance, error) {
	return r.getBalance(ctx, r.balanceQuery(productID), productID)
}

// GetBalanceForUpdate returns the balance row locked FOR UPDATE.
func (r *StockRepo) GetBalanceForUpdate(ctx context.Context, productID int64) (stock.Balance, error) {
	return r.getBalance(ctx, r.balanceQuery(productID).Suffix("FOR UPDATE"), productID)
}

func (r *StockRepo) getBalance(ctx context.Context, q squirrel.SelectBuilder, productID int64) (stock.Balance, error) {
	sql, args, err := q.ToSql()
	if err != nil {
		return stock.Balance{}, fmt.Errorf("build query: %w", err)
	}

	var b stock.Balance
	if err := pgxscan.Get(ctx, r.txManager.GetQuerier(ctx), &b, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return stock.Balance{}, apperror.NewNotFound("stock_balance", productID)
		}
		return stock.Balance{}, fmt.Errorf("get balance: %w", err)
	}
	return b, nil
}

// SetQuantity overwrites the quantity of a locked balance row.
func (r *StockRepo) SetQuantity(ctx context.Context, productID int64, quantity int64, at time.Time) error {
	sql, args, err := r.builder.Update(stockBalancesTable).
		Set("quantity", quantity).
		Set("updated_at", at).
		Where(squirrel.Eq{"product_id": productID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}

	tag, err := r.txManager.GetQuerier(ctx).Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("update balance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperror.NewNotFound("stock_balance", productID)
	}
	return nil
}

// CreateMovement appends a journal row.
func (r *StockRepo) CreateMovement(ctx context.Context, m stock.Movement) error {
	sql, args, err := r.builder.Insert(stockMovementsTable).
		SetMap(postgres.StructToMap(m)).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}

	if _, err := r.txManager.GetQuerier(ctx).Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("insert movement: %w", err)
	}
	return nil
}

// ListBalances returns balances matching the filter ordered by product.
func (r *StockRepo) ListBalances(ctx context.Context, filter stock.BalanceFilter) ([]stock.Balance, error) {
	sql, args, err := r.listBalancesQuery(filter).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var balances []stock.Balance
	if err := pgxscan.Select(ctx, r.txManager.GetQuerier(ctx), &balances, sql, args...); err != nil {
		return nil, fmt.Errorf("select balances: %w", err)
	}
	return balances, nil
}

func (r *StockRepo) listBalancesQuery(filter stock.BalanceFilter) squirrel.SelectBuilder {
	q := r.builder.Select(balanceColumns...).From(stockBalancesTable)

	if len(filter.ProductIDs) > 0 {
		q = q.Where(squirrel.Eq{"product_id": filter.ProductIDs})
	}
	if filter.LocationID != nil {
		q = q.Where(squirrel.Eq{"location_id": *filter.LocationID})
	}
	if filter.ExcludeLowStock {
		q = q.Where("quantity > min_quantity")
	}

	q = q.OrderBy("product_id")
	if filter.LockShared {
		q = q.Suffix("FOR SHARE")
	}
	return q
}

// ListMovements returns journal rows for a product, newest first.
func (r *StockRepo) ListMovements(ctx context.Context, productID int64, filter stock.MovementFilter) ([]stock.Movement, error) {
	sql, args, err := r.listMovementsQuery(productID, filter).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var movements []stock.Movement
	if err := pgxscan.Select(ctx, r.txManager.GetQuerier(ctx), &movements, sql, args...); err != nil {
		return nil, fmt.Errorf("select movements: %w", err)
	}
	return movements, nil
}

func (r *StockRepo) listMovementsQuery(productID int64, filter stock.MovementFilter) squirrel.SelectBuilder {
	q := r.builder.Select(movementColumns...).
		From(stockMovementsTable).
		Where(squirrel.Eq{"product_id": productID})

	if filter.Kind != nil {
		q = q.Where(squirrel.Eq{"kind": *filter.Kind})
	}
	if filter.FromDate != nil {
		q = q.Where(squirrel.GtOrEq{"occurred_at": *filter.FromDate})
	}
	if filter.ToDate != nil {
		q = q.Where(squirrel.LtOrEq{"occurred_at": *filter.ToDate})
	}

	q = q.OrderBy("occurred_at DESC", "id DESC")
	if filter.Limit > 0 {
		q = q.Limit(uint64(filter.Limit))
	}
	return q
}
