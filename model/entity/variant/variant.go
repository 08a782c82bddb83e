package variant

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// VariantType tags a row in the variants table. The table is an arena:
// parent references are plain foreign keys into the same table, never
// embedded pointers.
type VariantType string

const (
	TypeStandard  VariantType = "standard"
	TypeParent    VariantType = "parent"
	TypeIMEIChild VariantType = "imei_child"
)

// UnitStatus is the serialized-unit lifecycle state.
type UnitStatus string

const (
	StatusNew       UnitStatus = "new"
	StatusAvailable UnitStatus = "available"
	StatusReserved  UnitStatus = "reserved"
	StatusSold      UnitStatus = "sold"
	StatusDamaged   UnitStatus = "damaged"
	StatusReturned  UnitStatus = "returned"
)

// OnHand reports whether a unit in this status still carries stock weight:
// physically present and not sold. This is the status set whose entry/exit
// produces journal movements.
func (s UnitStatus) OnHand() bool {
	switch s {
	case StatusAvailable, StatusReserved, StatusReturned:
		return true
	}
	return false
}

// Variant is one row of the variants arena. For standard and parent rows
// Quantity is authoritative; for imei_child rows Quantity is the unit's
// stock weight (0 or 1) and the unit-specific columns are populated.
type Variant struct {
	EntityID        uint        `gorm:"column:entity_id;primaryKey;autoIncrement" json:"entity_id"`
	ProductID       uint        `gorm:"column:product_id;index;not null" json:"product_id"`
	SKU             string      `gorm:"column:sku;type:varchar(64);uniqueIndex;not null" json:"sku"`
	Name            string      `gorm:"column:name;type:varchar(255)" json:"name"`
	VariantType     VariantType `gorm:"column:variant_type;type:varchar(16);not null;default:standard" json:"variant_type"`
	IsParent        bool        `gorm:"column:is_parent;not null;default:false" json:"is_parent"`
	ParentVariantID *uint       `gorm:"column:parent_variant_id;index" json:"parent_variant_id,omitempty"`
	Quantity        int64       `gorm:"column:quantity;not null;default:0" json:"quantity"`
	BranchID        *uint       `gorm:"column:branch_id;index" json:"branch_id,omitempty"`
	IsActive        bool        `gorm:"column:is_active;not null;default:true" json:"is_active"`

	CostPrice    decimal.Decimal `gorm:"column:cost_price;type:decimal(12,2);not null;default:0" json:"cost_price"`
	SellingPrice decimal.Decimal `gorm:"column:selling_price;type:decimal(12,2);not null;default:0" json:"selling_price"`

	// Unit-specific columns, populated only for imei_child rows.
	IMEI         *string    `gorm:"column:imei;type:varchar(17);uniqueIndex" json:"imei,omitempty"`
	SerialNumber string     `gorm:"column:serial_number;type:varchar(64)" json:"serial_number,omitempty"`
	Status       UnitStatus `gorm:"column:status;type:varchar(16);index" json:"status,omitempty"`
	Condition    string     `gorm:"column:condition;type:varchar(32)" json:"condition,omitempty"`
	Notes        string     `gorm:"column:notes;type:text" json:"notes,omitempty"`

	// Reservation claim, populated while Status is reserved.
	ReservationToken *string    `gorm:"column:reservation_token;type:varchar(36);uniqueIndex" json:"-"`
	ReservedUntil    *time.Time `gorm:"column:reserved_until" json:"-"`

	Attributes datatypes.JSON `gorm:"column:attributes" json:"attributes,omitempty"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime;index" json:"created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (Variant) TableName() string {
	return "variants"
}

// SerializedUnit is the typed projection of an imei_child row. Bulk-only and
// unit-only fields never mix: bulk rows cannot produce a SerializedUnit and
// a unit's quantity is derived from its status, not stored independently.
type SerializedUnit struct {
	UnitID          uint
	ParentVariantID uint
	ProductID       uint
	IMEI            string
	SerialNumber    string
	Status          UnitStatus
	Condition       string
	Notes           string
	CostPrice       decimal.Decimal
	SellingPrice    decimal.Decimal
	BranchID        *uint
	CreatedAt       time.Time
}

// AsUnit returns the serialized-unit view of the row. ok is false for
// standard and parent rows.
func (v *Variant) AsUnit() (SerializedUnit, bool) {
	if v.VariantType != TypeIMEIChild || v.IMEI == nil || v.ParentVariantID == nil {
		return SerializedUnit{}, false
	}
	return SerializedUnit{
		UnitID:          v.EntityID,
		ParentVariantID: *v.ParentVariantID,
		ProductID:       v.ProductID,
		IMEI:            *v.IMEI,
		SerialNumber:    v.SerialNumber,
		Status:          v.Status,
		Condition:       v.Condition,
		Notes:           v.Notes,
		CostPrice:       v.CostPrice,
		SellingPrice:    v.SellingPrice,
		BranchID:        v.BranchID,
		CreatedAt:       v.CreatedAt,
	}, true
}

// BulkVariant is the typed projection of a standard or parent row.
type BulkVariant struct {
	VariantID    uint
	ProductID    uint
	SKU          string
	Name         string
	IsParent     bool
	Quantity     int64
	CostPrice    decimal.Decimal
	SellingPrice decimal.Decimal
	BranchID     *uint
}

// AsBulk returns the bulk view of the row. ok is false for imei_child rows.
func (v *Variant) AsBulk() (BulkVariant, bool) {
	if v.VariantType == TypeIMEIChild {
		return BulkVariant{}, false
	}
	return BulkVariant{
		VariantID:    v.EntityID,
		ProductID:    v.ProductID,
		SKU:          v.SKU,
		Name:         v.Name,
		IsParent:     v.IsParent,
		Quantity:     v.Quantity,
		CostPrice:    v.CostPrice,
		SellingPrice: v.SellingPrice,
		BranchID:     v.BranchID,
	}, true
}
