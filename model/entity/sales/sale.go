package sales

import (
	"time"

	"github.com/shopspring/decimal"
)

// Sale is the checkout-level record the ledger posts against.
type Sale struct {
	SaleID    uint      `gorm:"column:sale_id;primaryKey;autoIncrement" json:"sale_id"`
	Reference string    `gorm:"column:reference;type:varchar(64);uniqueIndex;not null" json:"reference"`
	BranchID  *uint     `gorm:"column:branch_id;index" json:"branch_id,omitempty"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

func (Sale) TableName() string {
	return "sales"
}

// SaleItem references either a bulk variant (quantity decrement) or one
// serialized unit by IMEI, never both.
type SaleItem struct {
	ItemID        uint            `gorm:"column:item_id;primaryKey;autoIncrement" json:"item_id"`
	SaleReference string          `gorm:"column:sale_reference;type:varchar(64);index;not null" json:"sale_reference"`
	VariantID     *uint           `gorm:"column:variant_id;index" json:"variant_id,omitempty"`
	IMEI          *string         `gorm:"column:imei;type:varchar(17);index" json:"imei,omitempty"`
	Quantity      int64           `gorm:"column:quantity;not null;default:1" json:"quantity"`
	UnitPrice     decimal.Decimal `gorm:"column:unit_price;type:decimal(12,2);not null;default:0" json:"unit_price"`
	CreatedAt     time.Time       `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

func (SaleItem) TableName() string {
	return "sale_items"
}
