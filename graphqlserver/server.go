package graphqlserver

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"

	gql "github.com/graph-gophers/graphql-go"
	"github.com/graph-gophers/graphql-go/relay"
	"gorm.io/gorm"

	"lats.GO/graphql"
	gqlmodels "lats.GO/graphql/models"
	"lats.GO/graphql/registry"
	"lats.GO/model/entity"
	variantEntity "lats.GO/model/entity/variant"
	branchRepo "lats.GO/model/repository/branch"
	variantRepo "lats.GO/model/repository/variant"
	"lats.GO/service/hierarchy"
	"lats.GO/service/policy"
)

// RootResolver is the root for graphql-go. Query resolvers are created dynamically
// per request with branch context from headers/variables.
type RootResolver struct {
	DB *gorm.DB
}

// Query returns the query resolver.
func (r *RootResolver) Query() *QueryResolver {
	return &QueryResolver{db: r.DB}
}

// QueryResolver implements Query fields. Delegates to repositories and services.
type QueryResolver struct {
	db *gorm.DB
}

var errUnknownBranch = errors.New("unknown branch")

// branchFromContext resolves the request branch. Nil means internal caller.
func (r *QueryResolver) branchFromContext(ctx context.Context) (*entity.Branch, error) {
	id := graphql.BranchIDFromContext(ctx)
	if id == 0 {
		return nil, nil
	}
	b, err := branchRepo.GetBranchRepository(r.db).FindByID(id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errUnknownBranch
		}
		return nil, err
	}
	return b, nil
}

// VariantArgs matches the variant query arguments.
type VariantArgs struct {
	SKU  *string
	IMEI *string
}

func (r *QueryResolver) Variant(ctx context.Context, args VariantArgs) (*gqlmodels.Variant, error) {
	branch, err := r.branchFromContext(ctx)
	if err != nil {
		return nil, err
	}
	repo, err := variantRepo.GetVariantRepository(r.db)
	if err != nil {
		return nil, err
	}
	var v *variantEntity.Variant
	switch {
	case args.IMEI != nil && *args.IMEI != "":
		v, err = repo.FindByIMEI(*args.IMEI)
	case args.SKU != nil && *args.SKU != "":
		v, err = repo.FindBySKU(*args.SKU)
	default:
		return nil, errors.New("variant: sku or imei required")
	}
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if !policy.CanAccess(branch, entity.KindInventory, v.BranchID).Visible {
		return nil, nil
	}
	return mapVariant(v), nil
}

// AvailableUnitsArgs matches the availableUnits query arguments (default limit=20).
type AvailableUnitsArgs struct {
	ParentVariantID gql.ID
	AfterID         *gql.ID
	Limit           int32
}

func (r *QueryResolver) AvailableUnits(ctx context.Context, args AvailableUnitsArgs) ([]*gqlmodels.Unit, error) {
	branch, err := r.branchFromContext(ctx)
	if err != nil {
		return nil, err
	}
	parentID, err := parseID(args.ParentVariantID)
	if err != nil {
		return nil, err
	}
	afterID := uint(0)
	if args.AfterID != nil {
		if afterID, err = parseID(*args.AfterID); err != nil {
			return nil, err
		}
	}
	limit := int(args.Limit)
	if limit <= 0 {
		limit = 20
	}
	repo, err := variantRepo.GetVariantRepository(r.db)
	if err != nil {
		return nil, err
	}
	parent, err := repo.FindByID(parentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return []*gqlmodels.Unit{}, nil
		}
		return nil, err
	}
	// Invisible parents look empty, not forbidden.
	if !policy.CanAccess(branch, entity.KindInventory, parent.BranchID).Visible {
		return []*gqlmodels.Unit{}, nil
	}
	rows, err := repo.AvailableChildren(parentID, afterID, limit)
	if err != nil {
		return nil, err
	}
	units := make([]*gqlmodels.Unit, 0, len(rows))
	for i := range rows {
		v := &rows[i]
		if !policy.CanAccess(branch, entity.KindInventory, v.BranchID).Visible {
			continue
		}
		units = append(units, mapUnit(v))
	}
	return units, nil
}

// ReconciliationArgs matches the reconciliation query arguments.
type ReconciliationArgs struct {
	ParentVariantID gql.ID
}

func (r *QueryResolver) Reconciliation(ctx context.Context, args ReconciliationArgs) (*gqlmodels.Reconciliation, error) {
	parentID, err := parseID(args.ParentVariantID)
	if err != nil {
		return nil, err
	}
	store, err := hierarchy.NewStore(r.db)
	if err != nil {
		return nil, err
	}
	report, err := store.ReconcileReport(parentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &gqlmodels.Reconciliation{
		ParentVariantID: formatID(report.ParentVariantID),
		ParentQuantity:  int32(report.ParentQuantity),
		ChildCount:      int32(report.ChildCount),
		Matches:         report.Matches,
	}, nil
}

func (r *QueryResolver) Branches(ctx context.Context) ([]*gqlmodels.Branch, error) {
	rows, err := branchRepo.GetBranchRepository(r.db).FindAll()
	if err != nil {
		return nil, err
	}
	out := make([]*gqlmodels.Branch, 0, len(rows))
	for i := range rows {
		b := &rows[i]
		out = append(out, &gqlmodels.Branch{
			ID:            formatID(b.BranchID),
			Name:          b.Name,
			Code:          b.Code,
			IsolationMode: string(b.IsolationMode),
		})
	}
	return out, nil
}

// ExtensionArgs for _extension(name, args).
type ExtensionArgs struct {
	Name string
	Args *string
}

func (r *QueryResolver) Extension(ctx context.Context, args ExtensionArgs) (*string, error) {
	var m map[string]interface{}
	if args.Args != nil && *args.Args != "" {
		_ = json.Unmarshal([]byte(*args.Args), &m)
	}
	if m == nil {
		m = make(map[string]interface{})
	}
	out, err := registry.Resolve(ctx, args.Name, m)
	if err != nil {
		return nil, err
	}
	b, err := json.Marshal(out)
	if err != nil {
		return nil, err
	}
	s := string(b)
	return &s, nil
}

func mapVariant(v *variantEntity.Variant) *gqlmodels.Variant {
	out := &gqlmodels.Variant{
		ID:           formatID(v.EntityID),
		SKU:          v.SKU,
		VariantType:  string(v.VariantType),
		IsParent:     v.IsParent,
		Quantity:     int32(v.Quantity),
		CostPrice:    v.CostPrice.InexactFloat64(),
		SellingPrice: v.SellingPrice.InexactFloat64(),
	}
	if v.VariantType == variantEntity.TypeIMEIChild {
		s := string(v.Status)
		out.Status = &s
	}
	if v.IMEI != nil {
		imei := *v.IMEI
		out.IMEI = &imei
	}
	if v.SerialNumber != "" {
		sn := v.SerialNumber
		out.SerialNumber = &sn
	}
	return out
}

func mapUnit(v *variantEntity.Variant) *gqlmodels.Unit {
	out := &gqlmodels.Unit{
		ID:           formatID(v.EntityID),
		Status:       string(v.Status),
		CostPrice:    v.CostPrice.InexactFloat64(),
		SellingPrice: v.SellingPrice.InexactFloat64(),
	}
	if v.IMEI != nil {
		out.IMEI = *v.IMEI
	}
	if v.SerialNumber != "" {
		sn := v.SerialNumber
		out.SerialNumber = &sn
	}
	if v.Condition != "" {
		c := v.Condition
		out.Condition = &c
	}
	return out
}

func parseID(id gql.ID) (uint, error) {
	n, err := strconv.ParseUint(string(id), 10, 32)
	if err != nil {
		return 0, errors.New("invalid id: " + string(id))
	}
	return uint(n), nil
}

func formatID(id uint) gql.ID {
	return gql.ID(strconv.FormatUint(uint64(id), 10))
}

// NewSchema parses the schema and returns a graphql-go Schema.
func NewSchema(db *gorm.DB) (*gql.Schema, error) {
	return gql.ParseSchema(graphql.Schema(), &RootResolver{DB: db}, gql.UseFieldResolvers())
}

// Handler returns the relay HTTP handler for the schema.
func Handler(schema *gql.Schema) *relay.Handler {
	return &relay.Handler{Schema: schema}
}
