package reservation

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	entity "lats.GO/model/entity"
	salesEntity "lats.GO/model/entity/sales"
	stockEntity "lats.GO/model/entity/stock"
	variantEntity "lats.GO/model/entity/variant"
	variantRepo "lats.GO/model/repository/variant"
	"lats.GO/service/hierarchy"
	"lats.GO/service/journal"
	"lats.GO/service/lifecycle"
	"lats.GO/service/policy"
)

var (
	// ErrConflict mirrors the CAS loss. The checkout flow shows "no longer
	// available" and must not retry: another sale won the race.
	ErrConflict = lifecycle.ErrConflict
	// ErrInsufficientStock rejects a bulk decrement that would go negative.
	ErrInsufficientStock = errors.New("reservation: insufficient stock")
	// ErrNotFound covers both a missing unit and one the branch context may
	// not see; callers cannot tell them apart.
	ErrNotFound = errors.New("reservation: unit not found")
)

// Token is a time-boxed claim on one unit during checkout.
type Token struct {
	Value     string    `json:"token"`
	IMEI      string    `json:"imei"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Coordinator allocates a specific unit (or decrements bulk quantity)
// exactly once per sale.
type Coordinator struct {
	db        *gorm.DB
	variants  *variantRepo.VariantRepository
	lifecycle *lifecycle.Lifecycle
	store     *hierarchy.Store
	journal   *journal.Journal

	ttl time.Duration
	rdb *redis.Client // optional fast token mirror, nil-safe
}

func NewCoordinator(db *gorm.DB, ttl time.Duration, rdb *redis.Client) (*Coordinator, error) {
	variants, err := variantRepo.GetVariantRepository(db)
	if err != nil {
		return nil, err
	}
	lc, err := lifecycle.New(db)
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
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &Coordinator{
		db:        db,
		variants:  variants,
		lifecycle: lc,
		store:     store,
		journal:   j,
		ttl:       ttl,
		rdb:       rdb,
	}, nil
}

// visibleUnit loads a unit by IMEI and applies branch policy. An invisible
// unit behaves like a missing one.
func (c *Coordinator) visibleUnit(branch *entity.Branch, imei string) (*variantEntity.Variant, error) {
	v, err := c.variants.FindByIMEI(imei)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	acc := policy.CanAccess(branch, entity.KindInventory, v.BranchID)
	if !acc.Visible {
		return nil, ErrNotFound
	}
	return v, nil
}

// ReserveUnit claims an available unit for checkout. On a lost race it
// returns ErrConflict immediately; the unit is gone for good reason.
func (c *Coordinator) ReserveUnit(ctx context.Context, branch *entity.Branch, imei string) (*Token, error) {
	unit, err := c.visibleUnit(branch, imei)
	if err != nil {
		return nil, err
	}
	if !policy.CanAccess(branch, entity.KindInventory, unit.BranchID).Writable {
		return nil, ErrNotFound
	}

	token := uuid.NewString()
	expires := time.Now().Add(c.ttl)

	err = c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		_, err := c.lifecycle.Transition(tx, imei,
			variantEntity.StatusAvailable, variantEntity.StatusReserved,
			map[string]interface{}{
				"reservation_token": token,
				"reserved_until":    expires,
			})
		if err != nil {
			return err
		}
		if unit.ParentVariantID != nil {
			if _, err := c.store.ReconcileQuantity(tx, *unit.ParentVariantID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if c.rdb != nil {
		c.rdb.Set(ctx, "reservation:"+token, imei, c.ttl)
	}
	return &Token{Value: token, IMEI: imei, ExpiresAt: expires}, nil
}

// CommitSale turns a reservation into a sale: CAS to sold, journal the
// -1 delta, record the sale line and reconcile the parent, all in one
// transaction.
func (c *Coordinator) CommitSale(ctx context.Context, token string, saleRef string) error {
	unit, err := c.variants.FindByReservationToken(token)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrConflict
	}
	if err != nil {
		return err
	}
	return c.commitUnit(ctx, unit, saleRef)
}

// MarkUnitSold commits by IMEI rather than token. Fails with ErrConflict
// when the unit is not currently reserved.
func (c *Coordinator) MarkUnitSold(ctx context.Context, branch *entity.Branch, imei string, saleRef string) error {
	unit, err := c.visibleUnit(branch, imei)
	if err != nil {
		return err
	}
	return c.commitUnit(ctx, unit, saleRef)
}

func (c *Coordinator) commitUnit(ctx context.Context, unit *variantEntity.Variant, saleRef string) error {
	if unit.IMEI == nil {
		return ErrNotFound
	}
	imei := *unit.IMEI
	token := unit.ReservationToken

	err := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		delta, err := c.lifecycle.Transition(tx, imei,
			variantEntity.StatusReserved, variantEntity.StatusSold, nil)
		if err != nil {
			return err
		}
		if _, _, err := c.journal.Append(tx, unit.EntityID, unit.BranchID, delta,
			stockEntity.RefSale, saleRef, map[string]interface{}{"imei": imei}); err != nil {
			return err
		}
		item := &salesEntity.SaleItem{
			SaleReference: saleRef,
			IMEI:          &imei,
			Quantity:      1,
			UnitPrice:     unit.SellingPrice,
		}
		if err := tx.Create(item).Error; err != nil {
			return err
		}
		if unit.ParentVariantID != nil {
			if _, err := c.store.ReconcileQuantity(tx, *unit.ParentVariantID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	if c.rdb != nil && token != nil {
		c.rdb.Del(ctx, "reservation:"+*token)
	}
	return nil
}

// ReleaseReservation cancels a claim. Idempotent: when the unit was sold
// in the meantime the CAS fails harmlessly and nil is returned.
func (c *Coordinator) ReleaseReservation(ctx context.Context, token string) error {
	unit, err := c.variants.FindByReservationToken(token)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		// already committed or already released
		if c.rdb != nil {
			c.rdb.Del(ctx, "reservation:"+token)
		}
		return nil
	}
	if err != nil {
		return err
	}
	if err := c.release(ctx, unit); err != nil {
		return err
	}
	if c.rdb != nil {
		c.rdb.Del(ctx, "reservation:"+token)
	}
	return nil
}

func (c *Coordinator) release(ctx context.Context, unit *variantEntity.Variant) error {
	if unit.IMEI == nil {
		return nil
	}
	return c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		_, err := c.lifecycle.Transition(tx, *unit.IMEI,
			variantEntity.StatusReserved, variantEntity.StatusAvailable, nil)
		if errors.Is(err, lifecycle.ErrConflict) {
			// lost the race to a commit; cancellation is idempotent
			return nil
		}
		if err != nil {
			return err
		}
		if unit.ParentVariantID != nil {
			if _, err := c.store.ReconcileQuantity(tx, *unit.ParentVariantID); err != nil {
				return err
			}
		}
		return nil
	})
}

// SweepExpired releases every reservation past its deadline. The sweep is
// the only actor allowed to cancel on timeout; lost CAS races count as
// success.
func (c *Coordinator) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	expired, err := c.variants.ExpiredReservations(now)
	if err != nil {
		return 0, err
	}
	released := 0
	for i := range expired {
		unit := expired[i]
		token := unit.ReservationToken
		if err := c.release(ctx, &unit); err != nil {
			log.Printf("reservation: sweep release imei=%s: %v", *unit.IMEI, err)
			continue
		}
		if c.rdb != nil && token != nil {
			c.rdb.Del(ctx, "reservation:"+*token)
		}
		released++
	}
	return released, nil
}

// DecrementBulk sells qty off a standard (non-serialized) variant. The
// availability check and the decrement are a single conditional UPDATE, so
// concurrent decrements serialize and stock never goes negative. Posting
// the same saleRef twice is a no-op.
func (c *Coordinator) DecrementBulk(ctx context.Context, branch *entity.Branch, variantID uint, qty int64, saleRef string) error {
	if qty <= 0 {
		return fmt.Errorf("reservation: quantity must be positive")
	}
	v, err := c.variants.FindByID(variantID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	acc := policy.CanAccess(branch, entity.KindInventory, v.BranchID)
	if !acc.Visible || !acc.Writable {
		return ErrNotFound
	}
	if _, ok := v.AsBulk(); !ok || v.IsParent {
		return fmt.Errorf("reservation: variant %d is not bulk stock", variantID)
	}

	return c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Re-posting the same sale line must not decrement twice.
		_, created, err := c.journal.Append(tx, variantID, v.BranchID, -qty,
			stockEntity.RefSale, saleRef, nil)
		if err != nil {
			return err
		}
		if !created {
			return nil
		}
		ok, err := c.variants.DecrementQuantity(tx, variantID, qty)
		if err != nil {
			return err
		}
		if !ok {
			return ErrInsufficientStock
		}
		item := &salesEntity.SaleItem{
			SaleReference: saleRef,
			VariantID:     &variantID,
			Quantity:      qty,
			UnitPrice:     v.SellingPrice,
		}
		return tx.Create(item).Error
	})
}

// AvailableUnits lists a parent's sellable units oldest-first, subject to
// branch visibility. An invisible parent yields an empty list, not an
// error. afterID restarts the sequence past a previously seen unit.
func (c *Coordinator) AvailableUnits(branch *entity.Branch, parentID uint, afterID uint, limit int) ([]variantEntity.SerializedUnit, error) {
	parent, err := c.variants.FindByID(parentID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return []variantEntity.SerializedUnit{}, nil
	}
	if err != nil {
		return nil, err
	}
	if !policy.CanAccess(branch, entity.KindInventory, parent.BranchID).Visible {
		return []variantEntity.SerializedUnit{}, nil
	}

	rows, err := c.variants.AvailableChildren(parentID, afterID, limit)
	if err != nil {
		return nil, err
	}
	units := make([]variantEntity.SerializedUnit, 0, len(rows))
	for i := range rows {
		if !policy.CanAccess(branch, entity.KindInventory, rows[i].BranchID).Visible {
			continue
		}
		if u, ok := rows[i].AsUnit(); ok {
			units = append(units, u)
		}
	}
	return units, nil
}
