package lifecycle_test

import (
	"context"
	"errors"
	"testing"

	entity "lats.GO/model/entity"
	stockEntity "lats.GO/model/entity/stock"
	variantEntity "lats.GO/model/entity/variant"
	branchRepo "lats.GO/model/repository/branch"
	"lats.GO/service/lifecycle"
)

func TestTransfer_MovesAvailableUnit(t *testing.T) {
	db := testDB(t)
	repo := branchRepo.GetBranchRepository(db)
	src := &entity.Branch{Name: "Downtown", Code: "DT", IsolationMode: entity.IsolationIsolated}
	if err := repo.Create(src); err != nil {
		t.Fatalf("create src: %v", err)
	}
	dst := &entity.Branch{Name: "Airport", Code: "AP", IsolationMode: entity.IsolationIsolated}
	if err := repo.Create(dst); err != nil {
		t.Fatalf("create dst: %v", err)
	}

	unit := seedUnit(t, db, "490154203237518", variantEntity.StatusAvailable)
	srcID := src.BranchID
	if err := db.Model(&variantEntity.Variant{}).Where("entity_id = ?", unit.EntityID).
		Update("branch_id", srcID).Error; err != nil {
		t.Fatalf("assign branch: %v", err)
	}

	admin, err := lifecycle.NewAdmin(db)
	if err != nil {
		t.Fatalf("NewAdmin: %v", err)
	}
	if err := admin.Transfer(context.Background(), src, "490154203237518", dst.BranchID, "ops", "rebalance"); err != nil {
		t.Fatalf("Transfer: %v", err)
	}

	var got variantEntity.Variant
	if err := db.First(&got, unit.EntityID).Error; err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got.BranchID == nil || *got.BranchID != dst.BranchID {
		t.Errorf("branch_id = %v, want %d", got.BranchID, dst.BranchID)
	}
	if got.Status != variantEntity.StatusAvailable || got.Quantity != 1 {
		t.Errorf("unit = status %s qty %d after transfer", got.Status, got.Quantity)
	}

	// The move lands as an out/in movement pair so the ledger's per-branch
	// slices shift while the unit's own total does not.
	var movements []stockEntity.StockMovement
	if err := db.Where("variant_id = ? AND reference_type = ?", unit.EntityID, stockEntity.RefTransfer).
		Order("delta").Find(&movements).Error; err != nil {
		t.Fatalf("load movements: %v", err)
	}
	if len(movements) != 2 {
		t.Fatalf("transfer movements = %d, want 2", len(movements))
	}
	if movements[0].Delta != -1 || movements[0].BranchID == nil || *movements[0].BranchID != src.BranchID {
		t.Errorf("out movement = delta %d branch %v", movements[0].Delta, movements[0].BranchID)
	}
	if movements[1].Delta != 1 || movements[1].BranchID == nil || *movements[1].BranchID != dst.BranchID {
		t.Errorf("in movement = delta %d branch %v", movements[1].Delta, movements[1].BranchID)
	}
	if movements[0].Delta+movements[1].Delta != 0 {
		t.Error("transfer pair must not change the unit total")
	}
}

func TestTransfer_NotAvailableConflicts(t *testing.T) {
	db := testDB(t)
	seedUnit(t, db, "490154203237519", variantEntity.StatusReserved)
	repo := branchRepo.GetBranchRepository(db)
	dst := &entity.Branch{Name: "Airport", Code: "AP"}
	if err := repo.Create(dst); err != nil {
		t.Fatalf("create dst: %v", err)
	}

	admin, err := lifecycle.NewAdmin(db)
	if err != nil {
		t.Fatalf("NewAdmin: %v", err)
	}
	err = admin.Transfer(context.Background(), nil, "490154203237519", dst.BranchID, "ops", "rebalance")
	if !errors.Is(err, lifecycle.ErrConflict) {
		t.Errorf("err = %v, want ErrConflict", err)
	}

	var count int64
	db.Model(&stockEntity.StockMovement{}).Where("reference_type = ?", stockEntity.RefTransfer).Count(&count)
	if count != 0 {
		t.Errorf("transfer movements = %d, want 0", count)
	}
}

func TestTransfer_UnknownDestination(t *testing.T) {
	db := testDB(t)
	seedUnit(t, db, "490154203237520", variantEntity.StatusAvailable)

	admin, err := lifecycle.NewAdmin(db)
	if err != nil {
		t.Fatalf("NewAdmin: %v", err)
	}
	err = admin.Transfer(context.Background(), nil, "490154203237520", 777, "ops", "")
	if !errors.Is(err, lifecycle.ErrBranchNotFound) {
		t.Errorf("err = %v, want ErrBranchNotFound", err)
	}
}

func TestTransfer_ForeignIsolatedBranchCannotMove(t *testing.T) {
	db := testDB(t)
	repo := branchRepo.GetBranchRepository(db)
	owner := &entity.Branch{Name: "Downtown", Code: "DT", IsolationMode: entity.IsolationIsolated}
	if err := repo.Create(owner); err != nil {
		t.Fatalf("create owner: %v", err)
	}
	other := &entity.Branch{Name: "Airport", Code: "AP", IsolationMode: entity.IsolationIsolated}
	if err := repo.Create(other); err != nil {
		t.Fatalf("create other: %v", err)
	}

	unit := seedUnit(t, db, "490154203237521", variantEntity.StatusAvailable)
	if err := db.Model(&variantEntity.Variant{}).Where("entity_id = ?", unit.EntityID).
		Update("branch_id", owner.BranchID).Error; err != nil {
		t.Fatalf("assign branch: %v", err)
	}

	admin, err := lifecycle.NewAdmin(db)
	if err != nil {
		t.Fatalf("NewAdmin: %v", err)
	}
	err = admin.Transfer(context.Background(), other, "490154203237521", other.BranchID, "ops", "")
	if !errors.Is(err, lifecycle.ErrUnitNotFound) {
		t.Errorf("err = %v, want ErrUnitNotFound", err)
	}
}

func TestTransfer_SameBranchIsNoOp(t *testing.T) {
	db := testDB(t)
	repo := branchRepo.GetBranchRepository(db)
	home := &entity.Branch{Name: "Downtown", Code: "DT"}
	if err := repo.Create(home); err != nil {
		t.Fatalf("create branch: %v", err)
	}
	unit := seedUnit(t, db, "490154203237522", variantEntity.StatusAvailable)
	if err := db.Model(&variantEntity.Variant{}).Where("entity_id = ?", unit.EntityID).
		Update("branch_id", home.BranchID).Error; err != nil {
		t.Fatalf("assign branch: %v", err)
	}

	admin, err := lifecycle.NewAdmin(db)
	if err != nil {
		t.Fatalf("NewAdmin: %v", err)
	}
	if err := admin.Transfer(context.Background(), nil, "490154203237522", home.BranchID, "ops", ""); err != nil {
		t.Fatalf("Transfer: %v", err)
	}
	var count int64
	db.Model(&stockEntity.StockMovement{}).Where("reference_type = ?", stockEntity.RefTransfer).Count(&count)
	if count != 0 {
		t.Errorf("transfer movements = %d, want 0", count)
	}
}
