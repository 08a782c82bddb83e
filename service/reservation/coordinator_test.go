package reservation_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"

	entity "lats.GO/model/entity"
	salesEntity "lats.GO/model/entity/sales"
	stockEntity "lats.GO/model/entity/stock"
	variantEntity "lats.GO/model/entity/variant"
	branchRepo "lats.GO/model/repository/branch"
	"lats.GO/service/hierarchy"
	"lats.GO/service/reservation"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	tmpFile := filepath.Join(os.TempDir(), fmt.Sprintf("reservation_test_%s_%d.db", t.Name(), time.Now().UnixNano()))
	t.Cleanup(func() { os.Remove(tmpFile) })
	db, err := gorm.Open(sqlite.Open(tmpFile), &gorm.Config{SkipDefaultTransaction: true})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db.Exec("PRAGMA journal_mode=WAL")
	db.Exec("PRAGMA busy_timeout=5000")
	if err := db.AutoMigrate(
		&entity.Branch{},
		&entity.Product{},
		&variantEntity.Variant{},
		&stockEntity.StockMovement{},
		&salesEntity.Sale{},
		&salesEntity.SaleItem{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func newCoordinator(t *testing.T, db *gorm.DB) *reservation.Coordinator {
	t.Helper()
	c, err := reservation.NewCoordinator(db, 15*time.Minute, nil)
	if err != nil {
		t.Fatalf("NewCoordinator: %v", err)
	}
	return c
}

// seedParentWithUnits creates a serialized parent with available units and a
// reconciled quantity.
func seedParentWithUnits(t *testing.T, db *gorm.DB, sku string, branchID *uint, imeis ...string) *variantEntity.Variant {
	t.Helper()
	store, err := hierarchy.NewStore(db)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	product := entity.Product{Name: sku, SKU: "PRD-" + sku, BranchID: branchID}
	if err := db.Create(&product).Error; err != nil {
		t.Fatalf("create product: %v", err)
	}
	parent, err := store.CreateParentVariant(hierarchy.ParentVariantInput{
		ProductID:  product.EntityID,
		SKU:        sku,
		Name:       sku,
		BranchID:   branchID,
		Serialized: true,
	})
	if err != nil {
		t.Fatalf("CreateParentVariant: %v", err)
	}
	for _, im := range imeis {
		child, err := store.CreateChildUnit(db, parent.EntityID, hierarchy.UnitAttrs{IMEI: im, BranchID: branchID})
		if err != nil {
			t.Fatalf("CreateChildUnit(%s): %v", im, err)
		}
		if err := db.Model(&variantEntity.Variant{}).Where("entity_id = ?", child.EntityID).
			Updates(map[string]interface{}{"status": variantEntity.StatusAvailable, "quantity": 1}).Error; err != nil {
			t.Fatalf("activate child: %v", err)
		}
	}
	if _, err := store.ReconcileQuantity(db, parent.EntityID); err != nil {
		t.Fatalf("ReconcileQuantity: %v", err)
	}
	var got variantEntity.Variant
	if err := db.First(&got, parent.EntityID).Error; err != nil {
		t.Fatalf("reload parent: %v", err)
	}
	return &got
}

func parentQty(t *testing.T, db *gorm.DB, id uint) int64 {
	t.Helper()
	var v variantEntity.Variant
	if err := db.First(&v, id).Error; err != nil {
		t.Fatalf("reload parent: %v", err)
	}
	return v.Quantity
}

func TestReserveUnit(t *testing.T) {
	db := testDB(t)
	c := newCoordinator(t, db)
	parent := seedParentWithUnits(t, db, "IPH15-128", nil, "490154203237518", "490154203237519")

	tok, err := c.ReserveUnit(context.Background(), nil, "490154203237518")
	if err != nil {
		t.Fatalf("ReserveUnit: %v", err)
	}
	if tok.Value == "" || tok.IMEI != "490154203237518" {
		t.Errorf("token = %+v", tok)
	}
	if tok.ExpiresAt.Before(time.Now()) {
		t.Error("token already expired")
	}

	var unit variantEntity.Variant
	if err := db.First(&unit, "imei = ?", "490154203237518").Error; err != nil {
		t.Fatalf("reload unit: %v", err)
	}
	if unit.Status != variantEntity.StatusReserved {
		t.Errorf("status = %s, want reserved", unit.Status)
	}
	if unit.ReservationToken == nil || *unit.ReservationToken != tok.Value {
		t.Error("reservation token not persisted")
	}

	// A reserved unit is no longer counted as sellable on the parent.
	if got := parentQty(t, db, parent.EntityID); got != 1 {
		t.Errorf("parent quantity = %d, want 1", got)
	}
}

func TestReserveUnit_SecondBuyerLoses(t *testing.T) {
	db := testDB(t)
	c := newCoordinator(t, db)
	seedParentWithUnits(t, db, "IPH15-128", nil, "490154203237518")

	if _, err := c.ReserveUnit(context.Background(), nil, "490154203237518"); err != nil {
		t.Fatalf("first ReserveUnit: %v", err)
	}
	_, err := c.ReserveUnit(context.Background(), nil, "490154203237518")
	if !errors.Is(err, reservation.ErrConflict) {
		t.Errorf("err = %v, want ErrConflict", err)
	}
}

func TestReserveUnit_ConcurrentBuyers(t *testing.T) {
	db := testDB(t)
	c := newCoordinator(t, db)
	seedParentWithUnits(t, db, "IPH15-128", nil, "490154203237518")

	const buyers = 4
	var wg sync.WaitGroup
	results := make([]error, buyers)
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, results[n] = c.ReserveUnit(context.Background(), nil, "490154203237518")
		}(i)
	}
	wg.Wait()

	won := 0
	for _, err := range results {
		if err == nil {
			won++
		} else if !errors.Is(err, reservation.ErrConflict) {
			t.Errorf("unexpected error: %v", err)
		}
	}
	if won != 1 {
		t.Errorf("winners = %d, want exactly 1", won)
	}
}

func TestCommitSale(t *testing.T) {
	db := testDB(t)
	c := newCoordinator(t, db)
	parent := seedParentWithUnits(t, db, "IPH15-128", nil, "490154203237518", "490154203237519")

	tok, err := c.ReserveUnit(context.Background(), nil, "490154203237518")
	if err != nil {
		t.Fatalf("ReserveUnit: %v", err)
	}
	if err := c.CommitSale(context.Background(), tok.Value, "SALE-1"); err != nil {
		t.Fatalf("CommitSale: %v", err)
	}

	var unit variantEntity.Variant
	if err := db.First(&unit, "imei = ?", "490154203237518").Error; err != nil {
		t.Fatalf("reload unit: %v", err)
	}
	if unit.Status != variantEntity.StatusSold {
		t.Errorf("status = %s, want sold", unit.Status)
	}
	if unit.Quantity != 0 {
		t.Errorf("unit quantity = %d, want 0", unit.Quantity)
	}
	if unit.ReservationToken != nil {
		t.Error("reservation token not cleared")
	}

	var movement stockEntity.StockMovement
	if err := db.First(&movement, "variant_id = ? AND reference_type = ?", unit.EntityID, stockEntity.RefSale).Error; err != nil {
		t.Fatalf("sale movement missing: %v", err)
	}
	if movement.Delta != -1 || movement.ReferenceID != "SALE-1" {
		t.Errorf("movement = %+v", movement)
	}

	var item salesEntity.SaleItem
	if err := db.First(&item, "sale_reference = ?", "SALE-1").Error; err != nil {
		t.Fatalf("sale item missing: %v", err)
	}
	if item.IMEI == nil || *item.IMEI != "490154203237518" {
		t.Errorf("sale item = %+v", item)
	}

	if got := parentQty(t, db, parent.EntityID); got != 1 {
		t.Errorf("parent quantity = %d, want 1", got)
	}

	// The token is spent; a second commit cannot find it.
	if err := c.CommitSale(context.Background(), tok.Value, "SALE-2"); !errors.Is(err, reservation.ErrConflict) {
		t.Errorf("second commit err = %v, want ErrConflict", err)
	}
}

func TestReleaseReservation(t *testing.T) {
	db := testDB(t)
	c := newCoordinator(t, db)
	parent := seedParentWithUnits(t, db, "IPH15-128", nil, "490154203237518")

	tok, err := c.ReserveUnit(context.Background(), nil, "490154203237518")
	if err != nil {
		t.Fatalf("ReserveUnit: %v", err)
	}
	if got := parentQty(t, db, parent.EntityID); got != 0 {
		t.Fatalf("parent quantity = %d, want 0 while reserved", got)
	}

	if err := c.ReleaseReservation(context.Background(), tok.Value); err != nil {
		t.Fatalf("ReleaseReservation: %v", err)
	}
	var unit variantEntity.Variant
	if err := db.First(&unit, "imei = ?", "490154203237518").Error; err != nil {
		t.Fatalf("reload unit: %v", err)
	}
	if unit.Status != variantEntity.StatusAvailable {
		t.Errorf("status = %s, want available", unit.Status)
	}
	if unit.ReservationToken != nil {
		t.Error("token not cleared")
	}
	if got := parentQty(t, db, parent.EntityID); got != 1 {
		t.Errorf("parent quantity = %d, want 1 after release", got)
	}

	// No journal rows for reserve/release round trips.
	var count int64
	db.Model(&stockEntity.StockMovement{}).Count(&count)
	if count != 0 {
		t.Errorf("movements = %d, want 0", count)
	}

	// Releasing a spent token is a no-op.
	if err := c.ReleaseReservation(context.Background(), tok.Value); err != nil {
		t.Errorf("second release: %v", err)
	}
	if err := c.ReleaseReservation(context.Background(), "no-such-token"); err != nil {
		t.Errorf("unknown token release: %v", err)
	}
}

func TestSweepExpired(t *testing.T) {
	db := testDB(t)
	c := newCoordinator(t, db)
	parent := seedParentWithUnits(t, db, "IPH15-128", nil, "490154203237518", "490154203237519")

	tok, err := c.ReserveUnit(context.Background(), nil, "490154203237518")
	if err != nil {
		t.Fatalf("ReserveUnit: %v", err)
	}
	_ = tok

	// Nothing expired yet.
	released, err := c.SweepExpired(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("SweepExpired: %v", err)
	}
	if released != 0 {
		t.Errorf("released = %d, want 0", released)
	}

	released, err = c.SweepExpired(context.Background(), time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("SweepExpired past deadline: %v", err)
	}
	if released != 1 {
		t.Errorf("released = %d, want 1", released)
	}

	var unit variantEntity.Variant
	if err := db.First(&unit, "imei = ?", "490154203237518").Error; err != nil {
		t.Fatalf("reload unit: %v", err)
	}
	if unit.Status != variantEntity.StatusAvailable {
		t.Errorf("status = %s, want available", unit.Status)
	}
	if got := parentQty(t, db, parent.EntityID); got != 2 {
		t.Errorf("parent quantity = %d, want 2", got)
	}
}

func TestDecrementBulk(t *testing.T) {
	db := testDB(t)
	c := newCoordinator(t, db)

	product := entity.Product{Name: "Case", SKU: "PRD-CASE"}
	if err := db.Create(&product).Error; err != nil {
		t.Fatalf("create product: %v", err)
	}
	v := variantEntity.Variant{
		ProductID:   product.EntityID,
		SKU:         "CASE-1",
		VariantType: variantEntity.TypeStandard,
		Quantity:    5,
	}
	if err := db.Create(&v).Error; err != nil {
		t.Fatalf("create variant: %v", err)
	}

	if err := c.DecrementBulk(context.Background(), nil, v.EntityID, 3, "SALE-9"); err != nil {
		t.Fatalf("DecrementBulk: %v", err)
	}
	var got variantEntity.Variant
	if err := db.First(&got, v.EntityID).Error; err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got.Quantity != 2 {
		t.Errorf("quantity = %d, want 2", got.Quantity)
	}

	// Same sale line again: no second decrement.
	if err := c.DecrementBulk(context.Background(), nil, v.EntityID, 3, "SALE-9"); err != nil {
		t.Fatalf("idempotent DecrementBulk: %v", err)
	}
	if err := db.First(&got, v.EntityID).Error; err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got.Quantity != 2 {
		t.Errorf("quantity after replay = %d, want 2", got.Quantity)
	}

	// More than on hand fails and writes nothing.
	err := c.DecrementBulk(context.Background(), nil, v.EntityID, 10, "SALE-10")
	if !errors.Is(err, reservation.ErrInsufficientStock) {
		t.Errorf("err = %v, want ErrInsufficientStock", err)
	}
	if err := db.First(&got, v.EntityID).Error; err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got.Quantity != 2 {
		t.Errorf("quantity after failed decrement = %d, want 2", got.Quantity)
	}
}

func TestAvailableUnits_Pagination(t *testing.T) {
	db := testDB(t)
	c := newCoordinator(t, db)
	parent := seedParentWithUnits(t, db, "IPH15-128", nil,
		"490154203237518", "490154203237519", "490154203237520")

	first, err := c.AvailableUnits(nil, parent.EntityID, 0, 2)
	if err != nil {
		t.Fatalf("AvailableUnits: %v", err)
	}
	if len(first) != 2 {
		t.Fatalf("len = %d, want 2", len(first))
	}
	// Oldest first.
	if first[0].IMEI != "490154203237518" || first[1].IMEI != "490154203237519" {
		t.Errorf("order = %s, %s", first[0].IMEI, first[1].IMEI)
	}

	rest, err := c.AvailableUnits(nil, parent.EntityID, first[1].UnitID, 2)
	if err != nil {
		t.Fatalf("AvailableUnits page 2: %v", err)
	}
	if len(rest) != 1 || rest[0].IMEI != "490154203237520" {
		t.Errorf("page 2 = %+v", rest)
	}
}

func TestAvailableUnits_BranchVisibility(t *testing.T) {
	db := testDB(t)
	c := newCoordinator(t, db)

	repo := branchRepo.GetBranchRepository(db)
	owner := &entity.Branch{Name: "Downtown", Code: "DT", IsolationMode: entity.IsolationIsolated}
	if err := repo.Create(owner); err != nil {
		t.Fatalf("create owner branch: %v", err)
	}
	other := &entity.Branch{Name: "Airport", Code: "AP", IsolationMode: entity.IsolationIsolated}
	if err := repo.Create(other); err != nil {
		t.Fatalf("create other branch: %v", err)
	}

	ownerID := owner.BranchID
	parent := seedParentWithUnits(t, db, "IPH15-128", &ownerID, "490154203237518")

	mine, err := c.AvailableUnits(owner, parent.EntityID, 0, 10)
	if err != nil {
		t.Fatalf("AvailableUnits owner: %v", err)
	}
	if len(mine) != 1 {
		t.Errorf("owner sees %d units, want 1", len(mine))
	}

	// An isolated sibling sees nothing, with no error hinting the parent exists.
	theirs, err := c.AvailableUnits(other, parent.EntityID, 0, 10)
	if err != nil {
		t.Fatalf("AvailableUnits other: %v", err)
	}
	if len(theirs) != 0 {
		t.Errorf("other branch sees %d units, want 0", len(theirs))
	}

	// Reserving someone else's isolated unit reads as not found.
	if _, err := c.ReserveUnit(context.Background(), other, "490154203237518"); !errors.Is(err, reservation.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

// Two hybrid branches that both share inventory: a unit received at one
// counter is listed and sellable from the other.
func TestHybridBranches_CrossBranchSale(t *testing.T) {
	db := testDB(t)
	c := newCoordinator(t, db)

	repo := branchRepo.GetBranchRepository(db)
	downtown := &entity.Branch{Name: "Downtown", Code: "DT", IsolationMode: entity.IsolationHybrid, ShareInventory: true}
	if err := repo.Create(downtown); err != nil {
		t.Fatalf("create downtown: %v", err)
	}
	airport := &entity.Branch{Name: "Airport", Code: "AP", IsolationMode: entity.IsolationHybrid, ShareInventory: true}
	if err := repo.Create(airport); err != nil {
		t.Fatalf("create airport: %v", err)
	}

	downtownID := downtown.BranchID
	parent := seedParentWithUnits(t, db, "IPH15-256", &downtownID, "490154203237519")

	units, err := c.AvailableUnits(airport, parent.EntityID, 0, 10)
	if err != nil {
		t.Fatalf("AvailableUnits from airport: %v", err)
	}
	if len(units) != 1 {
		t.Fatalf("airport sees %d units, want 1", len(units))
	}

	tok, err := c.ReserveUnit(context.Background(), airport, "490154203237519")
	if err != nil {
		t.Fatalf("ReserveUnit from airport: %v", err)
	}
	if tok.IMEI != "490154203237519" {
		t.Errorf("token imei = %s", tok.IMEI)
	}
	if err := c.MarkUnitSold(context.Background(), airport, "490154203237519", "sale:ap-1001"); err != nil {
		t.Fatalf("MarkUnitSold from airport: %v", err)
	}

	var got variantEntity.Variant
	if err := db.First(&got, "imei = ?", "490154203237519").Error; err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got.Status != variantEntity.StatusSold {
		t.Errorf("status = %s, want sold", got.Status)
	}
	// Ownership does not move on a cross-branch sale.
	if got.BranchID == nil || *got.BranchID != downtown.BranchID {
		t.Errorf("branch_id = %v, want %d", got.BranchID, downtown.BranchID)
	}

	var parentRow variantEntity.Variant
	db.First(&parentRow, parent.EntityID)
	if parentRow.Quantity != 0 {
		t.Errorf("parent quantity = %d, want 0 after the sale", parentRow.Quantity)
	}

	// With sharing off at the selling side the same lookup goes dark.
	walled := &entity.Branch{Name: "Outlet", Code: "OU", IsolationMode: entity.IsolationHybrid, ShareInventory: false}
	if err := repo.Create(walled); err != nil {
		t.Fatalf("create walled: %v", err)
	}
	none, err := c.AvailableUnits(walled, parent.EntityID, 0, 10)
	if err != nil {
		t.Fatalf("AvailableUnits from walled: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("non-sharing hybrid sees %d units, want 0", len(none))
	}
}
