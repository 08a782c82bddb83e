package entity

import "time"

// IsolationMode controls cross-branch data visibility.
type IsolationMode string

const (
	IsolationIsolated IsolationMode = "isolated"
	IsolationShared   IsolationMode = "shared"
	IsolationHybrid   IsolationMode = "hybrid"
)

// EntityKind names the record families the policy evaluator can gate.
type EntityKind string

const (
	KindProducts  EntityKind = "products"
	KindInventory EntityKind = "inventory"
	KindCustomers EntityKind = "customers"
	KindSales     EntityKind = "sales"
	KindSuppliers EntityKind = "suppliers"
)

// Branch represents a store location. Created by admin tooling, rarely
// mutated, never deleted while referenced.
type Branch struct {
	BranchID      uint          `gorm:"column:branch_id;primaryKey;autoIncrement" json:"branch_id"`
	Name          string        `gorm:"column:name;type:varchar(255);not null" json:"name"`
	Code          string        `gorm:"column:code;type:varchar(32);uniqueIndex" json:"code"`
	IsolationMode IsolationMode `gorm:"column:data_isolation_mode;type:varchar(16);not null;default:isolated" json:"data_isolation_mode"`

	// Per-entity share flags, consulted only in hybrid mode.
	ShareProducts  bool `gorm:"column:share_products;not null;default:false" json:"share_products"`
	ShareInventory bool `gorm:"column:share_inventory;not null;default:false" json:"share_inventory"`
	ShareCustomers bool `gorm:"column:share_customers;not null;default:false" json:"share_customers"`
	ShareSales     bool `gorm:"column:share_sales;not null;default:false" json:"share_sales"`
	ShareSuppliers bool `gorm:"column:share_suppliers;not null;default:false" json:"share_suppliers"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

func (Branch) TableName() string {
	return "branches"
}

// ShareFlag returns the hybrid-mode share flag for an entity kind.
// Unknown kinds are not shared (fail-closed).
func (b *Branch) ShareFlag(kind EntityKind) bool {
	switch kind {
	case KindProducts:
		return b.ShareProducts
	case KindInventory:
		return b.ShareInventory
	case KindCustomers:
		return b.ShareCustomers
	case KindSales:
		return b.ShareSales
	case KindSuppliers:
		return b.ShareSuppliers
	}
	return false
}
