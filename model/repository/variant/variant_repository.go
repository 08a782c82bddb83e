package variant

import (
	"database/sql"
	"sync"
	"time"

	"gorm.io/gorm"

	variantEntity "lats.GO/model/entity/variant"
)

type VariantRepository struct {
	db    *gorm.DB
	sqlDB *sql.DB
}

var instances sync.Map // *gorm.DB -> *VariantRepository

func NewVariantRepository(db *gorm.DB) (*VariantRepository, error) {
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	return &VariantRepository{db: db, sqlDB: sqlDB}, nil
}

// GetVariantRepository returns the shared instance for a DB handle.
func GetVariantRepository(db *gorm.DB) (*VariantRepository, error) {
	if v, ok := instances.Load(db); ok {
		return v.(*VariantRepository), nil
	}
	r, err := NewVariantRepository(db)
	if err != nil {
		return nil, err
	}
	actual, _ := instances.LoadOrStore(db, r)
	return actual.(*VariantRepository), nil
}

func (r *VariantRepository) Create(v *variantEntity.Variant) error {
	return r.db.Create(v).Error
}

func (r *VariantRepository) Save(v *variantEntity.Variant) error {
	return r.db.Save(v).Error
}

func (r *VariantRepository) FindByID(id uint) (*variantEntity.Variant, error) {
	var v variantEntity.Variant
	if err := r.db.First(&v, "entity_id = ?", id).Error; err != nil {
		return nil, err
	}
	return &v, nil
}

func (r *VariantRepository) FindBySKU(sku string) (*variantEntity.Variant, error) {
	var v variantEntity.Variant
	if err := r.db.First(&v, "sku = ?", sku).Error; err != nil {
		return nil, err
	}
	return &v, nil
}

// FindByIMEI looks a unit up by its IMEI. IMEIs are unique system-wide,
// so no branch scoping here; callers apply policy on the result.
func (r *VariantRepository) FindByIMEI(imei string) (*variantEntity.Variant, error) {
	var v variantEntity.Variant
	if err := r.db.First(&v, "imei = ?", imei).Error; err != nil {
		return nil, err
	}
	return &v, nil
}

// IMEIExists checks IMEI presence without loading the row.
// Uses raw SQL for minimal overhead.
func (r *VariantRepository) IMEIExists(imei string) (bool, error) {
	const query = `SELECT entity_id FROM variants WHERE imei = ? LIMIT 1`
	var id uint
	err := r.sqlDB.QueryRow(query, imei).Scan(&id)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *VariantRepository) FindByReservationToken(token string) (*variantEntity.Variant, error) {
	var v variantEntity.Variant
	if err := r.db.First(&v, "reservation_token = ?", token).Error; err != nil {
		return nil, err
	}
	return &v, nil
}

// AvailableChildren returns a parent's children in state available,
// oldest-first (FIFO sell-through). Pass limit 0 for no limit; afterID
// makes the listing restartable.
func (r *VariantRepository) AvailableChildren(parentID uint, afterID uint, limit int) ([]variantEntity.Variant, error) {
	q := r.db.Where("parent_variant_id = ? AND variant_type = ? AND status = ?",
		parentID, variantEntity.TypeIMEIChild, variantEntity.StatusAvailable).
		Order("created_at ASC, entity_id ASC")
	if afterID > 0 {
		q = q.Where("entity_id > ?", afterID)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var out []variantEntity.Variant
	err := q.Find(&out).Error
	return out, err
}

// CountChildrenByStatus counts children of a parent in a given state.
func (r *VariantRepository) CountChildrenByStatus(parentID uint, status variantEntity.UnitStatus) (int64, error) {
	var n int64
	err := r.db.Model(&variantEntity.Variant{}).
		Where("parent_variant_id = ? AND variant_type = ? AND status = ?",
			parentID, variantEntity.TypeIMEIChild, status).
		Count(&n).Error
	return n, err
}

// CASStatus performs the compare-and-swap state write for a unit:
// the row is updated only if its persisted status still equals from.
// Returns false without error when the CAS loses (status moved on).
// extra columns (reservation token, deadline, quantity) ride in the
// same update so the swap and its side fields are one write.
func (r *VariantRepository) CASStatus(tx *gorm.DB, imei string, from, to variantEntity.UnitStatus, extra map[string]interface{}) (bool, error) {
	if tx == nil {
		tx = r.db
	}
	updates := map[string]interface{}{"status": to}
	for k, v := range extra {
		updates[k] = v
	}
	res := tx.Model(&variantEntity.Variant{}).
		Where("imei = ? AND status = ? AND variant_type = ?", imei, from, variantEntity.TypeIMEIChild).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// SetQuantity overwrites a variant's stored quantity.
func (r *VariantRepository) SetQuantity(tx *gorm.DB, variantID uint, qty int64) error {
	if tx == nil {
		tx = r.db
	}
	return tx.Model(&variantEntity.Variant{}).
		Where("entity_id = ?", variantID).
		Update("quantity", qty).Error
}

// DecrementQuantity atomically decrements a bulk variant's quantity,
// refusing to go negative. Returns false when stock was insufficient.
func (r *VariantRepository) DecrementQuantity(tx *gorm.DB, variantID uint, qty int64) (bool, error) {
	if tx == nil {
		tx = r.db
	}
	res := tx.Model(&variantEntity.Variant{}).
		Where("entity_id = ? AND variant_type = ? AND quantity >= ?",
			variantID, variantEntity.TypeStandard, qty).
		Update("quantity", gorm.Expr("quantity - ?", qty))
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// PromoteToParent converts a standard variant into a parent. Happens when
// the first serialized unit is attached to it.
func (r *VariantRepository) PromoteToParent(tx *gorm.DB, variantID uint) error {
	if tx == nil {
		tx = r.db
	}
	return tx.Model(&variantEntity.Variant{}).
		Where("entity_id = ? AND variant_type = ?", variantID, variantEntity.TypeStandard).
		Updates(map[string]interface{}{
			"variant_type": variantEntity.TypeParent,
			"is_parent":    true,
		}).Error
}

// ExpiredReservations lists units whose reservation deadline has passed.
func (r *VariantRepository) ExpiredReservations(now time.Time) ([]variantEntity.Variant, error) {
	var out []variantEntity.Variant
	err := r.db.Where("variant_type = ? AND status = ? AND reserved_until IS NOT NULL AND reserved_until < ?",
		variantEntity.TypeIMEIChild, variantEntity.StatusReserved, now).
		Find(&out).Error
	return out, err
}
