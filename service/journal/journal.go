package journal

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	stockEntity "lats.GO/model/entity/stock"
	variantEntity "lats.GO/model/entity/variant"
	stockRepo "lats.GO/model/repository/stock"
	variantRepo "lats.GO/model/repository/variant"
)

// Journal is the append-only stock movement ledger.
type Journal struct {
	db        *gorm.DB
	movements *stockRepo.MovementRepository
	variants  *variantRepo.VariantRepository
}

var (
	instances sync.Map // *gorm.DB -> *Journal
)

func New(db *gorm.DB) (*Journal, error) {
	movements, err := stockRepo.GetMovementRepository(db)
	if err != nil {
		return nil, err
	}
	variants, err := variantRepo.GetVariantRepository(db)
	if err != nil {
		return nil, err
	}
	return &Journal{db: db, movements: movements, variants: variants}, nil
}

// Get returns the shared journal for a DB handle.
func Get(db *gorm.DB) (*Journal, error) {
	if v, ok := instances.Load(db); ok {
		return v.(*Journal), nil
	}
	j, err := New(db)
	if err != nil {
		return nil, err
	}
	actual, _ := instances.LoadOrStore(db, j)
	return actual.(*Journal), nil
}

// Append posts one signed delta. Idempotent per
// (variant_id, reference_type, reference_id): re-posting the same receipt
// or sale line returns the prior movement id with created=false and writes
// nothing.
func (j *Journal) Append(tx *gorm.DB, variantID uint, branchID *uint, delta int64, refType stockEntity.ReferenceType, refID string, metadata map[string]interface{}) (uint, bool, error) {
	if tx == nil {
		tx = j.db
	}

	existing, err := j.movements.FindByReference(tx, variantID, refType, refID)
	if err != nil {
		return 0, false, err
	}
	if existing != nil {
		return existing.MovementID, false, nil
	}

	m := &stockEntity.StockMovement{
		VariantID:     variantID,
		BranchID:      branchID,
		Delta:         delta,
		ReferenceType: refType,
		ReferenceID:   refID,
	}
	if len(metadata) > 0 {
		raw, mErr := json.Marshal(metadata)
		if mErr == nil {
			m.Metadata = datatypes.JSON(raw)
		}
	}
	if err := j.movements.Create(tx, m); err != nil {
		// The unique index is the backstop for a concurrent poster; if
		// the row landed in the meantime this is the idempotent case.
		if again, findErr := j.movements.FindByReference(tx, variantID, refType, refID); findErr == nil && again != nil {
			return again.MovementID, false, nil
		}
		return 0, false, err
	}
	return m.MovementID, true, nil
}

// Sum returns the journal total for a variant.
func (j *Journal) Sum(variantID uint) (int64, error) {
	return j.movements.SumDeltas(variantID)
}

// Warning reports one variant whose stored quantity disagrees with the
// ledger. Reported, never auto-corrected: silent correction would mask
// real bugs or fraud.
type Warning struct {
	VariantID   uint                      `json:"variant_id"`
	VariantType variantEntity.VariantType `json:"variant_type"`
	Stored      int64                     `json:"stored_quantity"`
	Expected    int64                     `json:"expected_quantity"`
}

// Audit recomputes quantity invariants for every variant touched since the
// cutoff and returns mismatches. Journal-managed variants (standard rows
// and serialized children) are checked against the movement sum;
// parent variants are checked against the count of available children.
func (j *Journal) Audit(ctx context.Context, since time.Time) ([]Warning, error) {
	ids, err := j.movements.TouchedVariantIDs(since)
	if err != nil {
		return nil, err
	}
	// Movements never target parents directly; pull in parents of touched
	// children so the child-count side gets checked too.
	parentSeen := map[uint]bool{}
	var checkIDs []uint
	for _, id := range ids {
		checkIDs = append(checkIDs, id)
		v, err := j.variants.FindByID(id)
		if err != nil {
			continue
		}
		if v.ParentVariantID != nil && !parentSeen[*v.ParentVariantID] {
			parentSeen[*v.ParentVariantID] = true
			checkIDs = append(checkIDs, *v.ParentVariantID)
		}
	}

	var (
		mu       sync.Mutex
		warnings []Warning
	)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for _, id := range checkIDs {
		id := id
		g.Go(func() error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			w, err := j.check(id)
			if err != nil {
				return err
			}
			if w != nil {
				mu.Lock()
				warnings = append(warnings, *w)
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return warnings, err
	}
	for _, w := range warnings {
		log.Printf("journal: reconciliation warning variant=%d type=%s stored=%d expected=%d",
			w.VariantID, w.VariantType, w.Stored, w.Expected)
	}
	return warnings, nil
}

func (j *Journal) check(variantID uint) (*Warning, error) {
	v, err := j.variants.FindByID(variantID)
	if err != nil {
		return nil, err
	}

	var expected int64
	switch v.VariantType {
	case variantEntity.TypeParent:
		expected, err = j.variants.CountChildrenByStatus(v.EntityID, variantEntity.StatusAvailable)
	default:
		expected, err = j.movements.SumDeltas(v.EntityID)
	}
	if err != nil {
		return nil, err
	}
	if expected == v.Quantity {
		return nil, nil
	}
	return &Warning{
		VariantID:   v.EntityID,
		VariantType: v.VariantType,
		Stored:      v.Quantity,
		Expected:    expected,
	}, nil
}
