package lifecycle

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	entity "lats.GO/model/entity"
	stockEntity "lats.GO/model/entity/stock"
	variantEntity "lats.GO/model/entity/variant"
	branchRepo "lats.GO/model/repository/branch"
	variantRepo "lats.GO/model/repository/variant"
	"lats.GO/service/hierarchy"
	"lats.GO/service/journal"
	"lats.GO/service/policy"
)

// ErrUnitNotFound covers a missing unit and one the branch cannot see.
var ErrUnitNotFound = errors.New("lifecycle: unit not found")

// ErrBranchNotFound means the transfer destination does not exist.
var ErrBranchNotFound = errors.New("lifecycle: destination branch not found")

// Admin performs the non-sale transitions: damage marking, administrative
// restore and the customer-return loop. Each transition, its journal entry
// and the parent reconcile share one transaction.
type Admin struct {
	db        *gorm.DB
	lifecycle *Lifecycle
	variants  *variantRepo.VariantRepository
	branches  *branchRepo.BranchRepository
	store     *hierarchy.Store
	journal   *journal.Journal
}

func NewAdmin(db *gorm.DB) (*Admin, error) {
	lc, err := New(db)
	if err != nil {
		return nil, err
	}
	variants, err := variantRepo.GetVariantRepository(db)
	if err != nil {
		return nil, err
	}
	store, err := hierarchy.NewStore(db)
	if err != nil {
		return nil, err
	}
	j, err := journal.Get(db)
	if err != nil {
		return nil, err
	}
	return &Admin{db: db, lifecycle: lc, variants: variants, branches: branchRepo.GetBranchRepository(db), store: store, journal: j}, nil
}

func (a *Admin) unit(branch *entity.Branch, imei string) (*variantEntity.Variant, error) {
	v, err := a.variants.FindByIMEI(imei)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUnitNotFound
	}
	if err != nil {
		return nil, err
	}
	acc := policy.CanAccess(branch, entity.KindInventory, v.BranchID)
	if !acc.Visible || !acc.Writable {
		return nil, ErrUnitNotFound
	}
	return v, nil
}

// apply runs one transition with its journal adjustment. Adjustment
// references get a fresh id: a unit can be damaged and restored more than
// once and each occurrence is its own journal fact.
func (a *Admin) apply(ctx context.Context, unit *variantEntity.Variant, from, to variantEntity.UnitStatus, actor, reason string) error {
	refID := "adjust:" + uuid.NewString()
	return a.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		delta, err := a.lifecycle.Transition(tx, *unit.IMEI, from, to, nil)
		if err != nil {
			return err
		}
		if delta != 0 {
			meta := map[string]interface{}{
				"imei":   *unit.IMEI,
				"from":   string(from),
				"to":     string(to),
				"actor":  actor,
				"reason": reason,
			}
			if _, _, err := a.journal.Append(tx, unit.EntityID, unit.BranchID, delta,
				stockEntity.RefAdjustment, refID, meta); err != nil {
				return err
			}
		}
		if unit.ParentVariantID != nil {
			if _, err := a.store.ReconcileQuantity(tx, *unit.ParentVariantID); err != nil {
				return err
			}
		}
		return nil
	})
}

// MarkDamaged pulls an available unit off the shelf after inspection.
func (a *Admin) MarkDamaged(ctx context.Context, branch *entity.Branch, imei, actor, reason string) error {
	unit, err := a.unit(branch, imei)
	if err != nil {
		return err
	}
	return a.apply(ctx, unit, variantEntity.StatusAvailable, variantEntity.StatusDamaged, actor, reason)
}

// RestoreDamaged is the manual administrative transition back to
// available; the audit reason lands in the adjustment movement.
func (a *Admin) RestoreDamaged(ctx context.Context, branch *entity.Branch, imei, actor, reason string) error {
	unit, err := a.unit(branch, imei)
	if err != nil {
		return err
	}
	return a.apply(ctx, unit, variantEntity.StatusDamaged, variantEntity.StatusAvailable, actor, reason)
}

// AcceptReturn takes a sold unit back from the customer; the unit sits in
// returned until re-inspection completes.
func (a *Admin) AcceptReturn(ctx context.Context, branch *entity.Branch, imei, actor, reason string) error {
	unit, err := a.unit(branch, imei)
	if err != nil {
		return err
	}
	return a.apply(ctx, unit, variantEntity.StatusSold, variantEntity.StatusReturned, actor, reason)
}

// CompleteInspection moves a returned unit back onto the shelf.
func (a *Admin) CompleteInspection(ctx context.Context, branch *entity.Branch, imei, actor string) error {
	unit, err := a.unit(branch, imei)
	if err != nil {
		return err
	}
	return a.apply(ctx, unit, variantEntity.StatusReturned, variantEntity.StatusAvailable, actor, "re-inspected")
}

// Transfer reassigns an available unit to another branch. The journal gets
// a paired out/in movement so each branch's slice of the ledger reflects
// the move while the unit's own total is untouched.
func (a *Admin) Transfer(ctx context.Context, branch *entity.Branch, imei string, toBranchID uint, actor, reason string) error {
	unit, err := a.unit(branch, imei)
	if err != nil {
		return err
	}
	if unit.BranchID != nil && *unit.BranchID == toBranchID {
		return nil
	}
	dest, err := a.branches.FindByID(toBranchID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrBranchNotFound
	}
	if err != nil {
		return err
	}

	ref := "transfer:" + uuid.NewString()
	meta := map[string]interface{}{
		"imei":   *unit.IMEI,
		"to":     dest.BranchID,
		"actor":  actor,
		"reason": reason,
	}
	if unit.BranchID != nil {
		meta["from"] = *unit.BranchID
	}
	return a.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Only a unit still on the shelf moves; anything reserved, sold or
		// in inspection stays put until that settles.
		upd := tx.Model(&variantEntity.Variant{}).
			Where("entity_id = ? AND status = ?", unit.EntityID, variantEntity.StatusAvailable).
			Update("branch_id", dest.BranchID)
		if upd.Error != nil {
			return upd.Error
		}
		if upd.RowsAffected != 1 {
			return ErrConflict
		}
		if _, _, err := a.journal.Append(tx, unit.EntityID, unit.BranchID, -1,
			stockEntity.RefTransfer, ref+":out", meta); err != nil {
			return err
		}
		toID := dest.BranchID
		if _, _, err := a.journal.Append(tx, unit.EntityID, &toID, 1,
			stockEntity.RefTransfer, ref+":in", meta); err != nil {
			return err
		}
		if unit.ParentVariantID != nil {
			if _, err := a.store.ReconcileQuantity(tx, *unit.ParentVariantID); err != nil {
				return err
			}
		}
		return nil
	})
}
