package branch

import (
	"fmt"
	"sync"

	"gorm.io/gorm"

	"lats.GO/core/cache"
	entity "lats.GO/model/entity"
)

// Branch rows change rarely; cache lookups for a minute under the
// "branch" tag so admin edits can invalidate in one call.
const cacheTTLSeconds = 60

type BranchRepository struct {
	db *gorm.DB
}

var (
	instances sync.Map // *gorm.DB -> *BranchRepository
)

func NewBranchRepository(db *gorm.DB) *BranchRepository {
	return &BranchRepository{db: db}
}

// GetBranchRepository returns the shared instance for a DB handle.
func GetBranchRepository(db *gorm.DB) *BranchRepository {
	if v, ok := instances.Load(db); ok {
		return v.(*BranchRepository)
	}
	r := NewBranchRepository(db)
	actual, _ := instances.LoadOrStore(db, r)
	return actual.(*BranchRepository)
}

func cacheKey(id uint) string {
	return fmt.Sprintf("branch:%d", id)
}

func (r *BranchRepository) FindByID(id uint) (*entity.Branch, error) {
	if v, ok := cache.GetInstance().Get(cacheKey(id)); ok {
		return v.(*entity.Branch), nil
	}
	var b entity.Branch
	if err := r.db.First(&b, "branch_id = ?", id).Error; err != nil {
		return nil, err
	}
	cache.GetInstance().Set(cacheKey(id), &b, cacheTTLSeconds, []string{"branch"})
	return &b, nil
}

func (r *BranchRepository) FindByCode(code string) (*entity.Branch, error) {
	var b entity.Branch
	if err := r.db.First(&b, "code = ?", code).Error; err != nil {
		return nil, err
	}
	return &b, nil
}

func (r *BranchRepository) FindAll() ([]entity.Branch, error) {
	var out []entity.Branch
	err := r.db.Order("branch_id").Find(&out).Error
	return out, err
}

func (r *BranchRepository) Create(b *entity.Branch) error {
	if err := r.db.Create(b).Error; err != nil {
		return err
	}
	cache.GetInstance().InvalidateTag("branch")
	return nil
}

func (r *BranchRepository) Update(b *entity.Branch) error {
	if err := r.db.Save(b).Error; err != nil {
		return err
	}
	cache.GetInstance().InvalidateTag("branch")
	return nil
}
