package hierarchy

import (
	"errors"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"lats.GO/core/imei"
	variantEntity "lats.GO/model/entity/variant"
	variantRepo "lats.GO/model/repository/variant"
)

var (
	// ErrDuplicateIMEI means the IMEI is already assigned somewhere in the
	// system. IMEI uniqueness is global, not per branch.
	ErrDuplicateIMEI = errors.New("hierarchy: imei already exists")
	// ErrNotParent rejects attaching units to an imei_child row.
	ErrNotParent = errors.New("hierarchy: variant cannot own serialized units")
)

// Store owns the Product -> Variant -> child-unit hierarchy and the
// parent/child quantity invariant.
type Store struct {
	db       *gorm.DB
	variants *variantRepo.VariantRepository

	// parentLocks serializes quantity reconciliation per parent variant.
	// Contention is per parent: sales of different units under the same
	// parent only meet here, at the recompute.
	parentLocks sync.Map // uint -> *sync.Mutex
}

func NewStore(db *gorm.DB) (*Store, error) {
	repo, err := variantRepo.GetVariantRepository(db)
	if err != nil {
		return nil, err
	}
	return &Store{db: db, variants: repo}, nil
}

// ParentVariantInput describes a catalog-level variant to create.
type ParentVariantInput struct {
	ProductID    uint
	SKU          string
	Name         string
	CostPrice    decimal.Decimal
	SellingPrice decimal.Decimal
	BranchID     *uint
	// Serialized marks the variant as a parent for IMEI children. False
	// creates a standard bulk variant managing its own quantity.
	Serialized bool
}

// CreateParentVariant creates a parent (or standard bulk) variant with
// quantity zero.
func (s *Store) CreateParentVariant(in ParentVariantInput) (*variantEntity.Variant, error) {
	v := &variantEntity.Variant{
		ProductID:    in.ProductID,
		SKU:          in.SKU,
		Name:         in.Name,
		CostPrice:    in.CostPrice,
		SellingPrice: in.SellingPrice,
		BranchID:     in.BranchID,
		IsActive:     true,
		VariantType:  variantEntity.TypeStandard,
	}
	if in.Serialized {
		v.VariantType = variantEntity.TypeParent
		v.IsParent = true
	}
	if err := s.variants.Create(v); err != nil {
		return nil, err
	}
	return v, nil
}

// UnitAttrs carries the unit-specific attributes for a new child.
type UnitAttrs struct {
	IMEI         string
	SerialNumber string
	CostPrice    decimal.Decimal
	SellingPrice decimal.Decimal
	Condition    string
	Notes        string
	BranchID     *uint
}

// CreateChildUnit attaches a new serialized unit to a parent variant, in
// state new with zero stock weight. A standard parent is promoted to
// variant_type=parent on first attach. Fails with ErrDuplicateIMEI when the
// IMEI exists anywhere, regardless of branch.
func (s *Store) CreateChildUnit(tx *gorm.DB, parentID uint, attrs UnitAttrs) (*variantEntity.Variant, error) {
	if tx == nil {
		tx = s.db
	}
	if err := imei.Validate(attrs.IMEI); err != nil {
		return nil, err
	}

	exists, err := s.variants.IMEIExists(attrs.IMEI)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, ErrDuplicateIMEI
	}

	var parent variantEntity.Variant
	if err := tx.First(&parent, "entity_id = ?", parentID).Error; err != nil {
		return nil, err
	}
	switch parent.VariantType {
	case variantEntity.TypeParent:
		// ready
	case variantEntity.TypeStandard:
		// first serialized unit promotes the variant
		if err := s.variants.PromoteToParent(tx, parentID); err != nil {
			return nil, err
		}
	default:
		return nil, ErrNotParent
	}

	cond := attrs.Condition
	if cond == "" {
		cond = "new"
	}
	branchID := attrs.BranchID
	if branchID == nil {
		branchID = parent.BranchID
	}
	unitIMEI := attrs.IMEI
	child := &variantEntity.Variant{
		ProductID:       parent.ProductID,
		SKU:             fmt.Sprintf("%s-%s", parent.SKU, unitIMEI),
		Name:            parent.Name,
		VariantType:     variantEntity.TypeIMEIChild,
		ParentVariantID: &parentID,
		Quantity:        0,
		BranchID:        branchID,
		IsActive:        true,
		CostPrice:       attrs.CostPrice,
		SellingPrice:    attrs.SellingPrice,
		IMEI:            &unitIMEI,
		SerialNumber:    attrs.SerialNumber,
		Status:          variantEntity.StatusNew,
		Condition:       cond,
		Notes:           attrs.Notes,
	}
	if err := tx.Create(child).Error; err != nil {
		// unique index on imei is the backstop for concurrent inserts
		if exists, checkErr := s.variants.IMEIExists(attrs.IMEI); checkErr == nil && exists {
			return nil, ErrDuplicateIMEI
		}
		return nil, err
	}
	return child, nil
}

func (s *Store) lockParent(parentID uint) *sync.Mutex {
	mu, _ := s.parentLocks.LoadOrStore(parentID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// ReconcileQuantity recomputes a parent's quantity as the count of its
// children in state available. Idempotent: with no intervening state
// change a second run writes nothing. Standard variants are not touched;
// they manage quantity directly through journal deltas.
func (s *Store) ReconcileQuantity(tx *gorm.DB, parentID uint) (int64, error) {
	if tx == nil {
		tx = s.db
	}

	mu := s.lockParent(parentID)
	mu.Lock()
	defer mu.Unlock()

	var parent variantEntity.Variant
	if err := tx.First(&parent, "entity_id = ?", parentID).Error; err != nil {
		return 0, err
	}
	if parent.VariantType != variantEntity.TypeParent {
		return parent.Quantity, nil
	}

	var n int64
	err := tx.Model(&variantEntity.Variant{}).
		Where("parent_variant_id = ? AND variant_type = ? AND status = ?",
			parentID, variantEntity.TypeIMEIChild, variantEntity.StatusAvailable).
		Count(&n).Error
	if err != nil {
		return 0, err
	}
	if parent.Quantity != n {
		if err := s.variants.SetQuantity(tx, parentID, n); err != nil {
			return 0, err
		}
	}
	return n, nil
}

// AvailableCount returns the reconciled availability of a parent without
// writing anything.
func (s *Store) AvailableCount(parentID uint) (int64, error) {
	return s.variants.CountChildrenByStatus(parentID, variantEntity.StatusAvailable)
}

// Report is the diagnostic view of the parent/child quantity invariant.
type Report struct {
	ParentVariantID uint  `json:"parent_variant_id"`
	ParentQuantity  int64 `json:"parent_quantity"`
	ChildCount      int64 `json:"child_count"`
	Matches         bool  `json:"matches"`
}

// ReconcileReport compares a parent's stored quantity with the count of
// its available children. Read-only; a mismatch is reported, never fixed
// here.
func (s *Store) ReconcileReport(parentID uint) (*Report, error) {
	parent, err := s.variants.FindByID(parentID)
	if err != nil {
		return nil, err
	}
	n, err := s.AvailableCount(parentID)
	if err != nil {
		return nil, err
	}
	return &Report{
		ParentVariantID: parentID,
		ParentQuantity:  parent.Quantity,
		ChildCount:      n,
		Matches:         parent.Quantity == n,
	}, nil
}
