package stock

import (
	"time"

	"gorm.io/datatypes"
)

// ReferenceType classifies what caused a movement.
type ReferenceType string

const (
	RefPurchaseReceipt ReferenceType = "purchase_receipt"
	RefSale            ReferenceType = "sale"
	RefAdjustment      ReferenceType = "adjustment"
	RefTransfer        ReferenceType = "transfer"
)

// StockMovement is one immutable signed quantity delta. Rows are never
// updated or deleted; (variant_id, reference_type, reference_id) is unique
// so re-posting the same receipt or sale line is a no-op.
type StockMovement struct {
	MovementID    uint           `gorm:"column:movement_id;primaryKey;autoIncrement" json:"movement_id"`
	VariantID     uint           `gorm:"column:variant_id;not null;uniqueIndex:idx_movement_ref,priority:1;index" json:"variant_id"`
	BranchID      *uint          `gorm:"column:branch_id;index" json:"branch_id,omitempty"`
	Delta         int64          `gorm:"column:delta;not null" json:"delta"`
	ReferenceType ReferenceType  `gorm:"column:reference_type;type:varchar(32);not null;uniqueIndex:idx_movement_ref,priority:2" json:"reference_type"`
	ReferenceID   string         `gorm:"column:reference_id;type:varchar(128);not null;uniqueIndex:idx_movement_ref,priority:3" json:"reference_id"`
	Metadata      datatypes.JSON `gorm:"column:metadata" json:"metadata,omitempty"`
	CreatedAt     time.Time      `gorm:"column:created_at;autoCreateTime;index" json:"created_at"`
}

func (StockMovement) TableName() string {
	return "stock_movements"
}
