package receiving

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	entity "lats.GO/model/entity"
	stockEntity "lats.GO/model/entity/stock"
	variantEntity "lats.GO/model/entity/variant"
	purchaseRepo "lats.GO/model/repository/purchase"
	variantRepo "lats.GO/model/repository/variant"
	"lats.GO/service/hierarchy"
	"lats.GO/service/journal"
	"lats.GO/service/lifecycle"
	"lats.GO/service/policy"
	"lats.GO/service/search"
)

// ErrNotWritable means the branch context may not receive into the target
// variant. Surfaced as not-found, per the fail-closed policy.
var ErrNotWritable = errors.New("receiving: variant not writable from branch")

// ErrBulkOnSerialized means a bulk quantity line targeted a serialized
// parent. Parent quantity is derived from its children and never takes a
// direct increment.
var ErrBulkOnSerialized = errors.New("receiving: bulk quantity requires a standard variant")

// UnitInput is one received unit. Quantity > 0 marks a bulk increment;
// otherwise the serialized fields must be set.
type UnitInput struct {
	Quantity int64 `json:"quantity" mapstructure:"quantity"`

	IMEI         string          `json:"imei" mapstructure:"imei"`
	SerialNumber string          `json:"serial_number" mapstructure:"serial_number"`
	CostPrice    decimal.Decimal `json:"cost_price" mapstructure:"cost_price"`
	SellingPrice decimal.Decimal `json:"selling_price" mapstructure:"selling_price"`
	Condition    string          `json:"condition" mapstructure:"condition"`
	Notes        string          `json:"notes" mapstructure:"notes"`
}

// UnitResult reports one processed unit.
type UnitResult struct {
	IMEI     string `json:"imei,omitempty"`
	UnitID   uint   `json:"unit_id,omitempty"`
	Quantity int64  `json:"quantity,omitempty"`
	// Existing marks the idempotent case: this unit was already received
	// for the same purchase-order item.
	Existing bool   `json:"existing,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Result summarizes one receive call.
type Result struct {
	PurchaseOrderItemID uint         `json:"purchase_order_item_id"`
	Received            int64        `json:"received"`
	AlreadyReceived     int64        `json:"already_received"`
	Failed              int          `json:"failed"`
	OverReceived        bool         `json:"over_received"`
	ParentQuantity      int64        `json:"parent_quantity"`
	Units               []UnitResult `json:"units,omitempty"`
}

// Orchestrator materializes purchase-order line items into stock, bulk or
// serialized, idempotently per (purchase_order_item_id, imei).
type Orchestrator struct {
	db        *gorm.DB
	variants  *variantRepo.VariantRepository
	purchases *purchaseRepo.PurchaseRepository
	store     *hierarchy.Store
	lifecycle *lifecycle.Lifecycle
	journal   *journal.Journal
	search    *search.Service
}

func NewOrchestrator(db *gorm.DB) (*Orchestrator, error) {
	variants, err := variantRepo.GetVariantRepository(db)
	if err != nil {
		return nil, err
	}
	store, err := hierarchy.NewStore(db)
	if err != nil {
		return nil, err
	}
	lc, err := lifecycle.New(db)
	if err != nil {
		return nil, err
	}
	j, err := journal.Get(db)
	if err != nil {
		return nil, err
	}
	return &Orchestrator{
		db:        db,
		variants:  variants,
		purchases: purchaseRepo.GetPurchaseRepository(db),
		store:     store,
		lifecycle: lc,
		journal:   j,
		search:    search.GetService(),
	}, nil
}

// Receive consumes one purchase-order line item. Serialized and bulk units
// may mix in one call; each unit succeeds or fails independently so a
// retried receiving session picks up where it broke off.
func (o *Orchestrator) Receive(ctx context.Context, branch *entity.Branch, poItemID uint, units []UnitInput) (*Result, error) {
	item, err := o.purchases.FindItem(nil, poItemID)
	if err != nil {
		return nil, err
	}
	parent, err := o.variants.FindByID(item.VariantID)
	if err != nil {
		return nil, err
	}
	acc := policy.CanAccess(branch, entity.KindInventory, parent.BranchID)
	if !acc.Visible || !acc.Writable {
		return nil, ErrNotWritable
	}

	res := &Result{PurchaseOrderItemID: poItemID}
	for _, in := range units {
		if in.Quantity > 0 {
			o.receiveBulk(ctx, res, item.ItemID, parent, in)
		} else {
			o.receiveSerialized(ctx, res, item.ItemID, parent, in)
		}
	}

	// Over-receipt is flagged, never blocked: the physical stock exists
	// regardless of what was ordered.
	item, err = o.purchases.FindItem(nil, poItemID)
	if err == nil && item.QuantityReceived > item.QuantityOrdered {
		res.OverReceived = true
	}

	if qty, err := o.store.AvailableCount(parent.EntityID); err == nil {
		res.ParentQuantity = qty
	}
	if parent.VariantType == variantEntity.TypeStandard {
		if v, err := o.variants.FindByID(parent.EntityID); err == nil {
			res.ParentQuantity = v.Quantity
		}
	}
	return res, nil
}

func serializedRef(poItemID uint, imei string) string {
	return fmt.Sprintf("po_item:%d:imei:%s", poItemID, imei)
}

func (o *Orchestrator) receiveSerialized(ctx context.Context, res *Result, poItemID uint, parent *variantEntity.Variant, in UnitInput) {
	refID := serializedRef(poItemID, in.IMEI)

	err := o.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		child, err := o.store.CreateChildUnit(tx, parent.EntityID, hierarchy.UnitAttrs{
			IMEI:         in.IMEI,
			SerialNumber: in.SerialNumber,
			CostPrice:    in.CostPrice,
			SellingPrice: in.SellingPrice,
			Condition:    in.Condition,
			Notes:        in.Notes,
		})
		if errors.Is(err, hierarchy.ErrDuplicateIMEI) {
			// Idempotency path: the same (po item, imei) pair was already
			// received — detect it via the prior journal entry and report
			// the existing unit instead of double-crediting.
			existing, findErr := o.variants.FindByIMEI(in.IMEI)
			if findErr != nil {
				return err
			}
			if prior, findErr := o.priorReceipt(tx, existing.EntityID, refID); findErr == nil && prior {
				res.AlreadyReceived++
				res.Units = append(res.Units, UnitResult{IMEI: in.IMEI, UnitID: existing.EntityID, Existing: true})
				return nil
			}
			return err
		}
		if err != nil {
			return err
		}

		delta, err := o.lifecycle.Transition(tx, in.IMEI,
			variantEntity.StatusNew, variantEntity.StatusAvailable, nil)
		if err != nil {
			return err
		}
		if _, _, err := o.journal.Append(tx, child.EntityID, child.BranchID, delta,
			stockEntity.RefPurchaseReceipt, refID, map[string]interface{}{"imei": in.IMEI}); err != nil {
			return err
		}
		if err := o.purchases.AddReceived(tx, poItemID, 1); err != nil {
			return err
		}
		if _, err := o.store.ReconcileQuantity(tx, parent.EntityID); err != nil {
			return err
		}

		res.Received++
		res.Units = append(res.Units, UnitResult{IMEI: in.IMEI, UnitID: child.EntityID})
		o.search.IndexUnit(ctx, child)
		return nil
	})
	if err != nil {
		res.Failed++
		res.Units = append(res.Units, UnitResult{IMEI: in.IMEI, Error: err.Error()})
	}
}

// priorReceipt reports whether the unit already has a purchase_receipt
// movement for this reference.
func (o *Orchestrator) priorReceipt(tx *gorm.DB, unitID uint, refID string) (bool, error) {
	var n int64
	err := tx.Model(&stockEntity.StockMovement{}).
		Where("variant_id = ? AND reference_type = ? AND reference_id = ?",
			unitID, stockEntity.RefPurchaseReceipt, refID).
		Count(&n).Error
	return n > 0, err
}

func (o *Orchestrator) receiveBulk(ctx context.Context, res *Result, poItemID uint, parent *variantEntity.Variant, in UnitInput) {
	if parent.VariantType != variantEntity.TypeStandard {
		res.Failed++
		res.Units = append(res.Units, UnitResult{Quantity: in.Quantity, Error: ErrBulkOnSerialized.Error()})
		return
	}

	refID := fmt.Sprintf("po_item:%d", poItemID)

	err := o.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		movementID, created, err := o.journal.Append(tx, parent.EntityID, parent.BranchID, in.Quantity,
			stockEntity.RefPurchaseReceipt, refID, nil)
		if err != nil {
			return err
		}
		if !created {
			// Report what the original receipt journaled, not what this
			// retry asked for.
			var prior stockEntity.StockMovement
			if err := tx.Where("movement_id = ?", movementID).First(&prior).Error; err != nil {
				return err
			}
			res.AlreadyReceived += prior.Delta
			res.Units = append(res.Units, UnitResult{Quantity: prior.Delta, Existing: true})
			return nil
		}
		if err := tx.Model(&variantEntity.Variant{}).
			Where("entity_id = ?", parent.EntityID).
			Update("quantity", gorm.Expr("quantity + ?", in.Quantity)).Error; err != nil {
			return err
		}
		if err := o.purchases.AddReceived(tx, poItemID, in.Quantity); err != nil {
			return err
		}
		res.Received += in.Quantity
		res.Units = append(res.Units, UnitResult{Quantity: in.Quantity})
		return nil
	})
	if err != nil {
		res.Failed++
		res.Units = append(res.Units, UnitResult{Quantity: in.Quantity, Error: err.Error()})
	}
}

// AddSerializedUnit is the direct intake path (no purchase order): create
// the child, activate it, journal the receipt and reconcile, atomically.
// receiptLabel distinguishes intake batches in the journal reference.
func (o *Orchestrator) AddSerializedUnit(ctx context.Context, branch *entity.Branch, parentID uint, in UnitInput, receiptLabel string) (uint, error) {
	parent, err := o.variants.FindByID(parentID)
	if err != nil {
		return 0, err
	}
	acc := policy.CanAccess(branch, entity.KindInventory, parent.BranchID)
	if !acc.Visible || !acc.Writable {
		return 0, ErrNotWritable
	}

	var branchID *uint
	if branch != nil {
		id := branch.BranchID
		branchID = &id
	}

	refID := fmt.Sprintf("intake:%s:imei:%s", receiptLabel, in.IMEI)
	var unitID uint
	err = o.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		child, err := o.store.CreateChildUnit(tx, parentID, hierarchy.UnitAttrs{
			IMEI:         in.IMEI,
			SerialNumber: in.SerialNumber,
			CostPrice:    in.CostPrice,
			SellingPrice: in.SellingPrice,
			Condition:    in.Condition,
			Notes:        in.Notes,
			BranchID:     branchID,
		})
		if err != nil {
			return err
		}
		delta, err := o.lifecycle.Transition(tx, in.IMEI,
			variantEntity.StatusNew, variantEntity.StatusAvailable, nil)
		if err != nil {
			return err
		}
		if _, _, err := o.journal.Append(tx, child.EntityID, child.BranchID, delta,
			stockEntity.RefPurchaseReceipt, refID, map[string]interface{}{"imei": in.IMEI}); err != nil {
			return err
		}
		if _, err := o.store.ReconcileQuantity(tx, parentID); err != nil {
			return err
		}
		unitID = child.EntityID
		o.search.IndexUnit(ctx, child)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return unitID, nil
}
