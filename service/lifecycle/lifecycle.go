package lifecycle

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	variantEntity "lats.GO/model/entity/variant"
	variantRepo "lats.GO/model/repository/variant"
)

var (
	// ErrConflict is the CAS mismatch: the persisted state was not the
	// expected one. Never retried here; the caller decides.
	ErrConflict = errors.New("lifecycle: state conflict")
	// ErrInvalidTransition rejects edges the state machine does not have.
	ErrInvalidTransition = errors.New("lifecycle: invalid transition")
)

// transitions is the unit state machine. The only cycle is
// reserved -> available (cancellation) and the return loop.
var transitions = map[variantEntity.UnitStatus][]variantEntity.UnitStatus{
	variantEntity.StatusNew:       {variantEntity.StatusAvailable},
	variantEntity.StatusAvailable: {variantEntity.StatusReserved, variantEntity.StatusDamaged, variantEntity.StatusReturned},
	variantEntity.StatusReserved:  {variantEntity.StatusAvailable, variantEntity.StatusSold},
	// damaged is terminal unless an administrator restores it with a reason
	variantEntity.StatusDamaged:  {variantEntity.StatusAvailable},
	variantEntity.StatusSold:     {variantEntity.StatusReturned},
	variantEntity.StatusReturned: {variantEntity.StatusAvailable},
}

// Allowed reports whether from -> to is an edge of the state machine.
func Allowed(from, to variantEntity.UnitStatus) bool {
	for _, t := range transitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// Lifecycle performs compare-and-swap state writes on serialized units.
type Lifecycle struct {
	variants *variantRepo.VariantRepository
}

func New(db *gorm.DB) (*Lifecycle, error) {
	repo, err := variantRepo.GetVariantRepository(db)
	if err != nil {
		return nil, err
	}
	return &Lifecycle{variants: repo}, nil
}

// weight is the stock weight a status carries: 1 while the unit is on hand
// and unsold, 0 otherwise. Reservation does not change weight.
func weight(s variantEntity.UnitStatus) int64 {
	if s.OnHand() {
		return 1
	}
	return 0
}

// Delta returns the journal delta a from -> to transition produces.
// Zero-delta transitions (reserve, release, returned -> available) do not
// journal.
func Delta(from, to variantEntity.UnitStatus) int64 {
	return weight(to) - weight(from)
}

// Transition moves a unit from fromExpected to to. The expected state is
// verified against the persisted row in the same UPDATE that performs the
// write; a mismatch returns ErrConflict and writes nothing. extra columns
// (reservation token, deadline) ride along in the same write.
//
// The returned delta is the journal movement the caller must append when
// it is non-zero; caller and transition share the surrounding transaction.
func (l *Lifecycle) Transition(tx *gorm.DB, imei string, fromExpected, to variantEntity.UnitStatus, extra map[string]interface{}) (int64, error) {
	if !Allowed(fromExpected, to) {
		return 0, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, fromExpected, to)
	}
	if extra == nil {
		extra = map[string]interface{}{}
	}
	// Quantity tracks the stock weight of the target state.
	extra["quantity"] = weight(to)
	// Leaving reserved always drops the claim.
	if fromExpected == variantEntity.StatusReserved {
		if _, ok := extra["reservation_token"]; !ok {
			extra["reservation_token"] = nil
			extra["reserved_until"] = nil
		}
	}
	ok, err := l.variants.CASStatus(tx, imei, fromExpected, to, extra)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, ErrConflict
	}
	return Delta(fromExpected, to), nil
}
