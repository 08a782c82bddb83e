package purchase

import (
	"time"

	"github.com/shopspring/decimal"
)

// PurchaseOrder groups ordered line items from one supplier.
type PurchaseOrder struct {
	OrderID    uint      `gorm:"column:order_id;primaryKey;autoIncrement" json:"order_id"`
	Reference  string    `gorm:"column:reference;type:varchar(64);uniqueIndex;not null" json:"reference"`
	SupplierID *uint     `gorm:"column:supplier_id" json:"supplier_id,omitempty"`
	BranchID   *uint     `gorm:"column:branch_id;index" json:"branch_id,omitempty"`
	Status     string    `gorm:"column:status;type:varchar(16);not null;default:open" json:"status"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

func (PurchaseOrder) TableName() string {
	return "purchase_orders"
}

// PurchaseOrderItem is one ordered line. QuantityReceived accumulates as
// receipts land; receiving past QuantityOrdered is flagged, not blocked.
type PurchaseOrderItem struct {
	ItemID           uint            `gorm:"column:item_id;primaryKey;autoIncrement" json:"item_id"`
	PurchaseOrderID  uint            `gorm:"column:purchase_order_id;index;not null" json:"purchase_order_id"`
	VariantID        uint            `gorm:"column:variant_id;index;not null" json:"variant_id"`
	QuantityOrdered  int64           `gorm:"column:quantity_ordered;not null" json:"quantity_ordered"`
	QuantityReceived int64           `gorm:"column:quantity_received;not null;default:0" json:"quantity_received"`
	CostPrice        decimal.Decimal `gorm:"column:cost_price;type:decimal(12,2);not null;default:0" json:"cost_price"`
	CreatedAt        time.Time       `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time       `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (PurchaseOrderItem) TableName() string {
	return "purchase_order_items"
}
