package dto

import (
	"time"

	"tireshop/internal/domain/registers/stock"
)

// BalancesQuery filters stock balance listings.
type BalancesQuery struct {
	ProductIDs      []int64 `form:"productId"`
	LocationID      *int64  `form:"locationId"`
	ExcludeLowStock bool    `form:"excludeLowStock"`
}

func (q *BalancesQuery) ToFilter() stock.BalanceFilter {
	return stock.BalanceFilter{
		ProductIDs:      q.ProductIDs,
		LocationID:      q.LocationID,
		ExcludeLowStock: q.ExcludeLowStock,
	}
}

// MovementsQuery filters the movement history of one product.
type MovementsQuery struct {
	Kind     string     `form:"kind"`
	FromDate *time.Time `form:"fromDate"`
	ToDate   *time.Time `form:"toDate"`
	Limit    int        `form:"limit" binding:"omitempty,min=1,max=500"`
}

func (q *MovementsQuery) ToFilter() stock.MovementFilter {
	f := stock.MovementFilter{FromDate: q.FromDate, ToDate: q.ToDate, Limit: q.Limit}
	if q.Kind != "" {
		k := stock.MovementKind(q.Kind)
		f.Kind = &k
	}
	return f
}

// RecordMovementRequest posts a quantity change to the ledger.
// Count corrections are written by the count engine only.
type RecordMovementRequest struct {
	Delta      int64  `json:"delta" binding:"required"`
	Kind       string `json:"kind" binding:"required,oneof=sale delivery manual_adjustment return transfer"`
	SourceType string `json:"sourceType" binding:"max=64"`
	SourceID   string `json:"sourceId" binding:"max=128"`
}

func (r *RecordMovementRequest) ToProvenance(userID int64) stock.Provenance {
	p := stock.Provenance{
		Kind:       stock.MovementKind(r.Kind),
		SourceType: r.SourceType,
		SourceID:   r.SourceID,
	}
	if userID != 0 {
		p.UserID = &userID
	}
	return p
}

// QuantityResponse reports the quantity of one product.
type QuantityResponse struct {
	ProductID int64 `json:"productId"`
	Quantity  int64 `json:"quantity"`
}
