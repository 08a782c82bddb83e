package purchase

import (
	"sync"

	"gorm.io/gorm"

	purchaseEntity "lats.GO/model/entity/purchase"
)

type PurchaseRepository struct {
	db *gorm.DB
}

var instances sync.Map // *gorm.DB -> *PurchaseRepository

func NewPurchaseRepository(db *gorm.DB) *PurchaseRepository {
	return &PurchaseRepository{db: db}
}

// GetPurchaseRepository returns the shared instance for a DB handle.
func GetPurchaseRepository(db *gorm.DB) *PurchaseRepository {
	if v, ok := instances.Load(db); ok {
		return v.(*PurchaseRepository)
	}
	r := NewPurchaseRepository(db)
	actual, _ := instances.LoadOrStore(db, r)
	return actual.(*PurchaseRepository)
}

func (r *PurchaseRepository) CreateOrder(o *purchaseEntity.PurchaseOrder) error {
	return r.db.Create(o).Error
}

func (r *PurchaseRepository) CreateItem(i *purchaseEntity.PurchaseOrderItem) error {
	return r.db.Create(i).Error
}

func (r *PurchaseRepository) FindItem(tx *gorm.DB, itemID uint) (*purchaseEntity.PurchaseOrderItem, error) {
	if tx == nil {
		tx = r.db
	}
	var item purchaseEntity.PurchaseOrderItem
	if err := tx.First(&item, "item_id = ?", itemID).Error; err != nil {
		return nil, err
	}
	return &item, nil
}

// AddReceived bumps the cumulative received counter for a line item.
func (r *PurchaseRepository) AddReceived(tx *gorm.DB, itemID uint, n int64) error {
	if tx == nil {
		tx = r.db
	}
	return tx.Model(&purchaseEntity.PurchaseOrderItem{}).
		Where("item_id = ?", itemID).
		Update("quantity_received", gorm.Expr("quantity_received + ?", n)).Error
}
