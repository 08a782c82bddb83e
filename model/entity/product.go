package entity

import "time"

// Product is the catalog-level record. BranchID nil means global.
type Product struct {
	EntityID   uint      `gorm:"column:entity_id;primaryKey;autoIncrement" json:"entity_id"`
	Name       string    `gorm:"column:name;type:varchar(255);not null" json:"name"`
	SKU        string    `gorm:"column:sku;type:varchar(64);uniqueIndex;not null" json:"sku"`
	CategoryID *uint     `gorm:"column:category_id" json:"category_id,omitempty"`
	SupplierID *uint     `gorm:"column:supplier_id" json:"supplier_id,omitempty"`
	BranchID   *uint     `gorm:"column:branch_id;index" json:"branch_id,omitempty"`
	IsActive   bool      `gorm:"column:is_active;not null;default:true" json:"is_active"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (Product) TableName() string {
	return "products"
}
