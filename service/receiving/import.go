package receiving

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"reflect"

	"github.com/mitchellh/mapstructure"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"lats.GO/model/entity"
	branchRepo "lats.GO/model/repository/branch"
	"lats.GO/service/hierarchy"
)

// ImportOptions controls a units:import run.
type ImportOptions struct {
	// BranchID attributes imported rows to a branch. Zero imports as
	// global records visible everywhere.
	BranchID uint
	// Label distinguishes intake batches in the journal reference, so a
	// re-run of the same file is idempotent.
	Label string
}

// ImportRecord is one parent variant with its serialized units.
type ImportRecord struct {
	ProductSKU   string          `json:"product_sku" mapstructure:"product_sku"`
	ParentSKU    string          `json:"parent_sku" mapstructure:"parent_sku"`
	Name         string          `json:"name" mapstructure:"name"`
	CostPrice    decimal.Decimal `json:"cost_price" mapstructure:"cost_price"`
	SellingPrice decimal.Decimal `json:"selling_price" mapstructure:"selling_price"`
	Units        []UnitInput     `json:"units" mapstructure:"units"`
}

// ImportResult summarizes a units:import run.
type ImportResult struct {
	Records  int      `json:"records"`
	Parents  int      `json:"parents_created"`
	Created  int      `json:"units_created"`
	Existing int      `json:"units_existing"`
	Failed   int      `json:"units_failed"`
	Warnings []string `json:"warnings,omitempty"`
}

func numberToDecimalHook() mapstructure.DecodeHookFunc {
	decType := reflect.TypeOf(decimal.Decimal{})
	return func(f, t reflect.Type, data interface{}) (interface{}, error) {
		if t != decType {
			return data, nil
		}
		switch v := data.(type) {
		case float64:
			return decimal.NewFromFloat(v), nil
		case int:
			return decimal.NewFromInt(int64(v)), nil
		case int64:
			return decimal.NewFromInt(v), nil
		case string:
			if v == "" {
				return decimal.Zero, nil
			}
			return decimal.NewFromString(v)
		}
		return data, nil
	}
}

var importDecodeHook = mapstructure.ComposeDecodeHookFunc(
	numberToDecimalHook(),
)

func decodeRecord(raw map[string]interface{}) (*ImportRecord, error) {
	var rec ImportRecord
	cfg := &mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		DecodeHook:       importDecodeHook,
		Result:           &rec,
		TagName:          "mapstructure",
		ZeroFields:       true,
	}
	dec, err := mapstructure.NewDecoder(cfg)
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(raw); err != nil {
		return nil, err
	}
	return &rec, nil
}

// ImportUnits reads a JSON array of ImportRecord objects and loads them
// through the normal intake path: parents are created on demand, each unit
// goes through the same create/activate/journal/reconcile transaction the
// API uses. Duplicate IMEIs in the same batch label count as existing.
func ImportUnits(ctx context.Context, db *gorm.DB, r io.Reader, opts ImportOptions) (*ImportResult, error) {
	var rawRecords []map[string]interface{}
	if err := json.NewDecoder(r).Decode(&rawRecords); err != nil {
		return nil, fmt.Errorf("import: parse JSON: %w", err)
	}

	orch, err := NewOrchestrator(db)
	if err != nil {
		return nil, err
	}
	store, err := hierarchy.NewStore(db)
	if err != nil {
		return nil, err
	}

	var branch *entity.Branch
	var branchID *uint
	if opts.BranchID != 0 {
		branch, err = branchRepo.GetBranchRepository(db).FindByID(opts.BranchID)
		if err != nil {
			return nil, fmt.Errorf("import: branch %d: %w", opts.BranchID, err)
		}
		id := branch.BranchID
		branchID = &id
	}
	if opts.Label == "" {
		opts.Label = "import"
	}

	res := &ImportResult{}
	for i, raw := range rawRecords {
		rec, err := decodeRecord(raw)
		if err != nil {
			res.Warnings = append(res.Warnings, fmt.Sprintf("record %d: %v", i, err))
			continue
		}
		if rec.ParentSKU == "" {
			res.Warnings = append(res.Warnings, fmt.Sprintf("record %d: missing parent_sku", i))
			continue
		}
		res.Records++

		parent, err := importParent(db, store, rec, branchID)
		if err != nil {
			res.Warnings = append(res.Warnings, fmt.Sprintf("record %d (%s): %v", i, rec.ParentSKU, err))
			continue
		}
		if parent.created {
			res.Parents++
		}

		for _, u := range rec.Units {
			if u.Quantity > 0 {
				res.Warnings = append(res.Warnings, fmt.Sprintf("record %d (%s): bulk quantities are not importable, use receiving", i, rec.ParentSKU))
				continue
			}
			if u.CostPrice.IsZero() {
				u.CostPrice = rec.CostPrice
			}
			if u.SellingPrice.IsZero() {
				u.SellingPrice = rec.SellingPrice
			}
			_, err := orch.AddSerializedUnit(ctx, branch, parent.id, u, opts.Label)
			switch {
			case err == nil:
				res.Created++
			case errors.Is(err, hierarchy.ErrDuplicateIMEI):
				res.Existing++
			default:
				res.Failed++
				res.Warnings = append(res.Warnings, fmt.Sprintf("record %d imei %s: %v", i, u.IMEI, err))
			}
		}
	}
	return res, nil
}

type importedParent struct {
	id      uint
	created bool
}

func importParent(db *gorm.DB, store *hierarchy.Store, rec *ImportRecord, branchID *uint) (*importedParent, error) {
	var existing struct {
		EntityID uint
	}
	err := db.Table("variants").Select("entity_id").Where("sku = ?", rec.ParentSKU).First(&existing).Error
	if err == nil {
		return &importedParent{id: existing.EntityID}, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	product, err := importProduct(db, rec, branchID)
	if err != nil {
		return nil, err
	}
	parent, err := store.CreateParentVariant(hierarchy.ParentVariantInput{
		ProductID:    product.EntityID,
		SKU:          rec.ParentSKU,
		Name:         rec.Name,
		CostPrice:    rec.CostPrice,
		SellingPrice: rec.SellingPrice,
		BranchID:     branchID,
		Serialized:   true,
	})
	if err != nil {
		return nil, err
	}
	return &importedParent{id: parent.EntityID, created: true}, nil
}

func importProduct(db *gorm.DB, rec *ImportRecord, branchID *uint) (*entity.Product, error) {
	sku := rec.ProductSKU
	if sku == "" {
		sku = rec.ParentSKU
	}
	var product entity.Product
	err := db.Where("sku = ?", sku).First(&product).Error
	if err == nil {
		return &product, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	product = entity.Product{
		Name:     rec.Name,
		SKU:      sku,
		BranchID: branchID,
		IsActive: true,
	}
	if err := db.Create(&product).Error; err != nil {
		return nil, err
	}
	return &product, nil
}
