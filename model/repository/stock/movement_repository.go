package stock

import (
	"database/sql"
	"errors"
	"sync"
	"time"

	"gorm.io/gorm"

	stockEntity "lats.GO/model/entity/stock"
)

type MovementRepository struct {
	db    *gorm.DB
	sqlDB *sql.DB
}

var instances sync.Map // *gorm.DB -> *MovementRepository

func NewMovementRepository(db *gorm.DB) (*MovementRepository, error) {
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	return &MovementRepository{db: db, sqlDB: sqlDB}, nil
}

// GetMovementRepository returns the shared instance for a DB handle.
func GetMovementRepository(db *gorm.DB) (*MovementRepository, error) {
	if v, ok := instances.Load(db); ok {
		return v.(*MovementRepository), nil
	}
	r, err := NewMovementRepository(db)
	if err != nil {
		return nil, err
	}
	actual, _ := instances.LoadOrStore(db, r)
	return actual.(*MovementRepository), nil
}

// Create inserts one movement row. The journal only ever inserts;
// updates and deletes do not exist on this table.
func (r *MovementRepository) Create(tx *gorm.DB, m *stockEntity.StockMovement) error {
	if tx == nil {
		tx = r.db
	}
	return tx.Create(m).Error
}

// FindByReference fetches the movement for a (variant, reference) pair.
func (r *MovementRepository) FindByReference(tx *gorm.DB, variantID uint, refType stockEntity.ReferenceType, refID string) (*stockEntity.StockMovement, error) {
	if tx == nil {
		tx = r.db
	}
	var m stockEntity.StockMovement
	err := tx.Where("variant_id = ? AND reference_type = ? AND reference_id = ?", variantID, refType, refID).
		First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// SumDeltas returns the journal sum for a variant.
// Uses raw SQL for minimal overhead.
func (r *MovementRepository) SumDeltas(variantID uint) (int64, error) {
	const query = `SELECT COALESCE(SUM(delta), 0) FROM stock_movements WHERE variant_id = ?`
	var total int64
	err := r.sqlDB.QueryRow(query, variantID).Scan(&total)
	return total, err
}

// TouchedVariantIDs lists distinct variants with movements since a cutoff.
func (r *MovementRepository) TouchedVariantIDs(since time.Time) ([]uint, error) {
	var ids []uint
	err := r.db.Model(&stockEntity.StockMovement{}).
		Where("created_at >= ?", since).
		Distinct("variant_id").
		Pluck("variant_id", &ids).Error
	return ids, err
}

// ListForVariant returns a variant's full audit trail, oldest first.
func (r *MovementRepository) ListForVariant(variantID uint) ([]stockEntity.StockMovement, error) {
	var out []stockEntity.StockMovement
	err := r.db.Where("variant_id = ?", variantID).
		Order("movement_id ASC").
		Find(&out).Error
	return out, err
}
