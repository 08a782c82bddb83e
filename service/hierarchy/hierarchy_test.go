package hierarchy_test

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	entity "lats.GO/model/entity"
	stockEntity "lats.GO/model/entity/stock"
	variantEntity "lats.GO/model/entity/variant"
	"lats.GO/service/hierarchy"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	tmpFile := filepath.Join(os.TempDir(), fmt.Sprintf("hierarchy_test_%s_%d.db", t.Name(), time.Now().UnixNano()))
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
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func seedParent(t *testing.T, db *gorm.DB, store *hierarchy.Store, sku string) *variantEntity.Variant {
	t.Helper()
	product := entity.Product{Name: "Phone " + sku, SKU: "PRD-" + sku}
	if err := db.Create(&product).Error; err != nil {
		t.Fatalf("create product: %v", err)
	}
	parent, err := store.CreateParentVariant(hierarchy.ParentVariantInput{
		ProductID:    product.EntityID,
		SKU:          sku,
		Name:         "Phone " + sku,
		CostPrice:    decimal.NewFromInt(500),
		SellingPrice: decimal.NewFromInt(650),
		Serialized:   true,
	})
	if err != nil {
		t.Fatalf("CreateParentVariant: %v", err)
	}
	return parent
}

func TestCreateParentVariant(t *testing.T) {
	db := testDB(t)
	store, err := hierarchy.NewStore(db)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	parent := seedParent(t, db, store, "IPH15-128")

	if !parent.IsParent {
		t.Error("IsParent = false, want true")
	}
	if parent.VariantType != variantEntity.TypeParent {
		t.Errorf("VariantType = %s, want parent", parent.VariantType)
	}
	if parent.Quantity != 0 {
		t.Errorf("Quantity = %d, want 0", parent.Quantity)
	}
}

func TestCreateChildUnit(t *testing.T) {
	db := testDB(t)
	store, err := hierarchy.NewStore(db)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	parent := seedParent(t, db, store, "IPH15-128")

	child, err := store.CreateChildUnit(db, parent.EntityID, hierarchy.UnitAttrs{
		IMEI:         "490154203237518",
		SerialNumber: "SN-001",
	})
	if err != nil {
		t.Fatalf("CreateChildUnit: %v", err)
	}
	if child.SKU != "IPH15-128-490154203237518" {
		t.Errorf("child SKU = %q", child.SKU)
	}
	if child.Status != variantEntity.StatusNew {
		t.Errorf("status = %s, want new", child.Status)
	}
	if child.Quantity != 0 {
		t.Errorf("quantity = %d, want 0", child.Quantity)
	}
	if child.ParentVariantID == nil || *child.ParentVariantID != parent.EntityID {
		t.Error("parent link not set")
	}
}

func TestCreateChildUnit_DuplicateIMEI(t *testing.T) {
	db := testDB(t)
	store, err := hierarchy.NewStore(db)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	parent := seedParent(t, db, store, "IPH15-128")

	if _, err := store.CreateChildUnit(db, parent.EntityID, hierarchy.UnitAttrs{IMEI: "490154203237518"}); err != nil {
		t.Fatalf("first CreateChildUnit: %v", err)
	}
	_, err = store.CreateChildUnit(db, parent.EntityID, hierarchy.UnitAttrs{IMEI: "490154203237518"})
	if !errors.Is(err, hierarchy.ErrDuplicateIMEI) {
		t.Errorf("err = %v, want ErrDuplicateIMEI", err)
	}
}

func TestCreateChildUnit_InvalidIMEI(t *testing.T) {
	db := testDB(t)
	store, err := hierarchy.NewStore(db)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	parent := seedParent(t, db, store, "IPH15-128")

	for _, bad := range []string{"", "12345", "49015420323751A", "4901542032375181"} {
		if _, err := store.CreateChildUnit(db, parent.EntityID, hierarchy.UnitAttrs{IMEI: bad}); err == nil {
			t.Errorf("CreateChildUnit(%q): want error", bad)
		}
	}
}

func TestCreateChildUnit_PromotesStandardVariant(t *testing.T) {
	db := testDB(t)
	store, err := hierarchy.NewStore(db)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	product := entity.Product{Name: "Phone", SKU: "PRD-STD"}
	if err := db.Create(&product).Error; err != nil {
		t.Fatalf("create product: %v", err)
	}
	std, err := store.CreateParentVariant(hierarchy.ParentVariantInput{
		ProductID: product.EntityID,
		SKU:       "STD-1",
		Name:      "Standard",
	})
	if err != nil {
		t.Fatalf("CreateParentVariant: %v", err)
	}
	if std.IsParent {
		t.Fatal("expected standard variant")
	}

	if _, err := store.CreateChildUnit(db, std.EntityID, hierarchy.UnitAttrs{IMEI: "490154203237518"}); err != nil {
		t.Fatalf("CreateChildUnit: %v", err)
	}

	var got variantEntity.Variant
	if err := db.First(&got, std.EntityID).Error; err != nil {
		t.Fatalf("reload: %v", err)
	}
	if !got.IsParent || got.VariantType != variantEntity.TypeParent {
		t.Errorf("variant not promoted: is_parent=%v type=%s", got.IsParent, got.VariantType)
	}
}

func TestReconcileQuantity(t *testing.T) {
	db := testDB(t)
	store, err := hierarchy.NewStore(db)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	parent := seedParent(t, db, store, "IPH15-128")

	imeis := []string{"490154203237518", "490154203237519", "490154203237520"}
	for _, im := range imeis {
		child, err := store.CreateChildUnit(db, parent.EntityID, hierarchy.UnitAttrs{IMEI: im})
		if err != nil {
			t.Fatalf("CreateChildUnit(%s): %v", im, err)
		}
		if err := db.Model(&variantEntity.Variant{}).Where("entity_id = ?", child.EntityID).
			Updates(map[string]interface{}{"status": variantEntity.StatusAvailable, "quantity": 1}).Error; err != nil {
			t.Fatalf("activate child: %v", err)
		}
	}

	qty, err := store.ReconcileQuantity(db, parent.EntityID)
	if err != nil {
		t.Fatalf("ReconcileQuantity: %v", err)
	}
	if qty != 3 {
		t.Errorf("qty = %d, want 3", qty)
	}

	// Idempotent: a second run computes the same number.
	qty, err = store.ReconcileQuantity(db, parent.EntityID)
	if err != nil {
		t.Fatalf("second ReconcileQuantity: %v", err)
	}
	if qty != 3 {
		t.Errorf("second qty = %d, want 3", qty)
	}

	var got variantEntity.Variant
	if err := db.First(&got, parent.EntityID).Error; err != nil {
		t.Fatalf("reload parent: %v", err)
	}
	if got.Quantity != 3 {
		t.Errorf("stored quantity = %d, want 3", got.Quantity)
	}
}

func TestReconcileReport(t *testing.T) {
	db := testDB(t)
	store, err := hierarchy.NewStore(db)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	parent := seedParent(t, db, store, "IPH15-128")

	child, err := store.CreateChildUnit(db, parent.EntityID, hierarchy.UnitAttrs{IMEI: "490154203237518"})
	if err != nil {
		t.Fatalf("CreateChildUnit: %v", err)
	}
	if err := db.Model(&variantEntity.Variant{}).Where("entity_id = ?", child.EntityID).
		Updates(map[string]interface{}{"status": variantEntity.StatusAvailable, "quantity": 1}).Error; err != nil {
		t.Fatalf("activate child: %v", err)
	}
	if _, err := store.ReconcileQuantity(db, parent.EntityID); err != nil {
		t.Fatalf("ReconcileQuantity: %v", err)
	}

	report, err := store.ReconcileReport(parent.EntityID)
	if err != nil {
		t.Fatalf("ReconcileReport: %v", err)
	}
	if !report.Matches || report.ParentQuantity != 1 || report.ChildCount != 1 {
		t.Errorf("report = %+v, want matching 1/1", report)
	}

	// Drift the stored quantity: the report is read-only and must flag it.
	if err := db.Model(&variantEntity.Variant{}).Where("entity_id = ?", parent.EntityID).
		Update("quantity", 7).Error; err != nil {
		t.Fatalf("drift quantity: %v", err)
	}
	report, err = store.ReconcileReport(parent.EntityID)
	if err != nil {
		t.Fatalf("ReconcileReport after drift: %v", err)
	}
	if report.Matches {
		t.Error("report.Matches = true after drift, want false")
	}
	var got variantEntity.Variant
	if err := db.First(&got, parent.EntityID).Error; err != nil {
		t.Fatalf("reload parent: %v", err)
	}
	if got.Quantity != 7 {
		t.Errorf("quantity = %d, report must not write", got.Quantity)
	}
}
