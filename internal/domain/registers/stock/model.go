package stock

import (
	"time"

	"tireshop/internal/core/id"
)

// MovementKind classifies what moved the stock.
type MovementKind string

const (
	KindSale             MovementKind = "sale"
	KindDelivery         MovementKind = "delivery"
	KindManualAdjustment MovementKind = "manual_adjustment"
	KindReturn           MovementKind = "return"
	KindTransfer         MovementKind = "transfer"
	KindCountCorrection  MovementKind = "count_correction"
)

// Valid reports whether k is a known movement kind.
func (k MovementKind) Valid() bool {
	switch k {
	case KindSale, KindDelivery, KindManualAdjustment, KindReturn, KindTransfer, KindCountCorrection:
		return true
	}
	return false
}

// SourceInventoryCount is the provenance source type used for count close-out corrections.
const SourceInventoryCount = "inventory_count"

// Provenance identifies the document that caused a quantity change.
type Provenance struct {
	Kind       MovementKind `json:"kind"`
	SourceType string       `json:"sourceType,omitempty"`
	SourceID   string       `json:"sourceId,omitempty"`
	UserID     *int64       `json:"userId,omitempty"`
}

// IsCorrectionFor reports whether the change is the close-out correction of the given count.
func (p Provenance) IsCorrectionFor(countID id.ID) bool {
	return p.Kind == KindCountCorrection &&
		p.SourceType == SourceInventoryCount &&
		p.SourceID == countID.String()
}

// Balance is the live quantity on hand for one product.
type Balance struct {
	ProductID   int64     `db:"product_id" json:"productId"`
	LocationID  *int64    `db:"location_id" json:"locationId,omitempty"`
	Quantity    int64     `db:"quantity" json:"quantity"`
	MinQuantity int64     `db:"min_quantity" json:"minQuantity"`
	UpdatedAt   time.Time `db:"updated_at" json:"updatedAt"`
}

// IsLowStock reports whether the product sits at or below its reorder level.
func (b Balance) IsLowStock() bool {
	return b.Quantity <= b.MinQuantity
}

// Movement is one row of the ledger journal.
type Movement struct {
	ID            id.ID        `db:"id" json:"id"`
	ProductID     int64        `db:"product_id" json:"productId"`
	Kind          MovementKind `db:"kind" json:"kind"`
	Delta         int64        `db:"delta" json:"delta"`
	QuantityAfter int64        `db:"quantity_after" json:"quantityAfter"`
	SourceType    *string      `db:"source_type" json:"sourceType,omitempty"`
	SourceID      *string      `db:"source_id" json:"sourceId,omitempty"`
	UserID        *int64       `db:"user_id" json:"userId,omitempty"`
	OccurredAt    time.Time    `db:"occurred_at" json:"occurredAt"`
}

// QuantityChange is delivered to hooks registered with OnQuantityChanged.
type QuantityChange struct {
	MovementID  id.ID
	ProductID   int64
	LocationID  *int64
	Delta       int64
	NewQuantity int64
	Provenance  Provenance
	OccurredAt  time.Time
}
