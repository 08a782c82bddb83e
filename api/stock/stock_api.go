package stock

import (
	"errors"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"lats.GO/api"
	"lats.GO/core/imei"
	"lats.GO/service/hierarchy"
	"lats.GO/service/lifecycle"
	"lats.GO/service/receiving"
	"lats.GO/service/reservation"
	"lats.GO/service/search"
)

func init() {
	api.RegisterModule(RegisterStockRoutes)
}

type services struct {
	coordinator  *reservation.Coordinator
	orchestrator *receiving.Orchestrator
	store        *hierarchy.Store
	admin        *lifecycle.Admin
}

var svcInstances sync.Map // *gorm.DB -> *services

func getServices(db *gorm.DB) (*services, error) {
	if v, ok := svcInstances.Load(db); ok {
		return v.(*services), nil
	}
	ttl := 15 * time.Minute
	if v := os.Getenv("RESERVATION_TTL_MINUTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			ttl = time.Duration(n) * time.Minute
		}
	}
	coordinator, err := reservation.NewCoordinator(db, ttl, nil)
	if err != nil {
		return nil, err
	}
	orchestrator, err := receiving.NewOrchestrator(db)
	if err != nil {
		return nil, err
	}
	store, err := hierarchy.NewStore(db)
	if err != nil {
		return nil, err
	}
	admin, err := lifecycle.NewAdmin(db)
	if err != nil {
		return nil, err
	}
	svc := &services{
		coordinator:  coordinator,
		orchestrator: orchestrator,
		store:        store,
		admin:        admin,
	}
	actual, _ := svcInstances.LoadOrStore(db, svc)
	return actual.(*services), nil
}

// conflictJSON maps ledger conflicts to the message checkout flows show:
// raw CAS errors never reach the customer.
func conflictJSON(c echo.Context) error {
	return c.JSON(http.StatusConflict, echo.Map{"error": "this item was just sold, please pick another unit"})
}

func RegisterStockRoutes(apiGroup *echo.Group, db *gorm.DB) {
	g := apiGroup.Group("/stock")

	// POST /api/stock/units – addSerializedUnit (direct intake)
	g.POST("/units", func(c echo.Context) error {
		svc, err := getServices(db)
		if err != nil {
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": err.Error()})
		}
		branch, err := api.BranchFromRequest(c, db)
		if err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "unknown branch"})
		}

		var body struct {
			ParentVariantID uint            `json:"parent_variant_id"`
			IMEI            string          `json:"imei"`
			SerialNumber    string          `json:"serial_number"`
			CostPrice       decimal.Decimal `json:"cost_price"`
			SellingPrice    decimal.Decimal `json:"selling_price"`
			Condition       string          `json:"condition"`
			Notes           string          `json:"notes"`
			ReceiptLabel    string          `json:"receipt_label"`
		}
		if err := c.Bind(&body); err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"success": false, "error": err.Error()})
		}
		// IMEI format is checked at the boundary, before any state moves
		if err := imei.Validate(body.IMEI); err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"success": false, "error": err.Error()})
		}
		if body.ParentVariantID == 0 {
			return c.JSON(http.StatusBadRequest, echo.Map{"success": false, "error": "parent_variant_id is required"})
		}
		label := body.ReceiptLabel
		if label == "" {
			label = "manual"
		}

		unitID, err := svc.orchestrator.AddSerializedUnit(c.Request().Context(), branch, body.ParentVariantID, receiving.UnitInput{
			IMEI:         body.IMEI,
			SerialNumber: body.SerialNumber,
			CostPrice:    body.CostPrice,
			SellingPrice: body.SellingPrice,
			Condition:    body.Condition,
			Notes:        body.Notes,
		}, label)
		switch {
		case errors.Is(err, hierarchy.ErrDuplicateIMEI):
			return c.JSON(http.StatusConflict, echo.Map{"success": false, "error": "imei already exists"})
		case errors.Is(err, receiving.ErrNotWritable), errors.Is(err, gorm.ErrRecordNotFound):
			return c.JSON(http.StatusNotFound, echo.Map{"success": false, "error": "parent variant not found"})
		case err != nil:
			return c.JSON(http.StatusInternalServerError, echo.Map{"success": false, "error": err.Error()})
		}
		return c.JSON(http.StatusOK, echo.Map{"success": true, "unit_id": unitID})
	})

	// GET /api/stock/units/available – FIFO listing, restartable via after_id
	g.GET("/units/available", func(c echo.Context) error {
		svc, err := getServices(db)
		if err != nil {
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": err.Error()})
		}
		branch, err := api.BranchFromRequest(c, db)
		if err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "unknown branch"})
		}

		parentID, _ := strconv.ParseUint(c.QueryParam("parent_variant_id"), 10, 32)
		if parentID == 0 {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "parent_variant_id is required"})
		}
		afterID, _ := strconv.ParseUint(c.QueryParam("after_id"), 10, 32)
		limit, _ := strconv.Atoi(c.QueryParam("limit"))

		units, err := svc.coordinator.AvailableUnits(branch, uint(parentID), uint(afterID), limit)
		if err != nil {
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": err.Error()})
		}
		type unitJSON struct {
			UnitID       uint            `json:"unit_id"`
			IMEI         string          `json:"imei"`
			SerialNumber string          `json:"serial_number"`
			CostPrice    decimal.Decimal `json:"cost_price"`
			SellingPrice decimal.Decimal `json:"selling_price"`
		}
		out := make([]unitJSON, 0, len(units))
		for _, u := range units {
			out = append(out, unitJSON{
				UnitID:       u.UnitID,
				IMEI:         u.IMEI,
				SerialNumber: u.SerialNumber,
				CostPrice:    u.CostPrice,
				SellingPrice: u.SellingPrice,
			})
		}
		return c.JSON(http.StatusOK, echo.Map{"units": out, "count": len(out)})
	})

	// GET /api/stock/units/search – IMEI/serial search (Elasticsearch)
	g.GET("/units/search", func(c echo.Context) error {
		q := c.QueryParam("q")
		if q == "" {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "q is required"})
		}
		size, _ := strconv.Atoi(c.QueryParam("size"))
		docs, err := search.GetService().SearchUnits(c.Request().Context(), q, size)
		if err != nil {
			return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": err.Error()})
		}
		return c.JSON(http.StatusOK, echo.Map{"units": docs})
	})

	// GET /api/stock/units/:imei – unit lookup / IMEI existence check
	g.GET("/units/:imei", func(c echo.Context) error {
		svc, err := getServices(db)
		if err != nil {
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": err.Error()})
		}
		_ = svc
		branch, err := api.BranchFromRequest(c, db)
		if err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "unknown branch"})
		}
		id := c.Param("imei")
		if err := imei.Validate(id); err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
		}
		unit, err := lookupUnit(db, branch, id)
		if err != nil {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "unit not found"})
		}
		return c.JSON(http.StatusOK, unit)
	})

	// POST /api/stock/units/:imei/reserve – begin checkout
	g.POST("/units/:imei/reserve", func(c echo.Context) error {
		svc, err := getServices(db)
		if err != nil {
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": err.Error()})
		}
		branch, err := api.BranchFromRequest(c, db)
		if err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "unknown branch"})
		}
		id := c.Param("imei")
		if err := imei.Validate(id); err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
		}

		token, err := svc.coordinator.ReserveUnit(c.Request().Context(), branch, id)
		switch {
		case errors.Is(err, reservation.ErrConflict):
			return conflictJSON(c)
		case errors.Is(err, reservation.ErrNotFound):
			return c.JSON(http.StatusNotFound, echo.Map{"error": "unit not found"})
		case err != nil:
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": err.Error()})
		}
		return c.JSON(http.StatusOK, token)
	})

	// POST /api/stock/units/:imei/sold – markUnitSold
	g.POST("/units/:imei/sold", func(c echo.Context) error {
		svc, err := getServices(db)
		if err != nil {
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": err.Error()})
		}
		branch, err := api.BranchFromRequest(c, db)
		if err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "unknown branch"})
		}
		id := c.Param("imei")
		if err := imei.Validate(id); err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
		}
		var body struct {
			SaleReference string `json:"sale_reference"`
		}
		if err := c.Bind(&body); err != nil || body.SaleReference == "" {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "sale_reference is required"})
		}

		err = svc.coordinator.MarkUnitSold(c.Request().Context(), branch, id, body.SaleReference)
		switch {
		case errors.Is(err, reservation.ErrConflict):
			return conflictJSON(c)
		case errors.Is(err, reservation.ErrNotFound):
			return c.JSON(http.StatusNotFound, echo.Map{"error": "unit not found"})
		case err != nil:
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": err.Error()})
		}
		return c.JSON(http.StatusOK, echo.Map{"sold": true})
	})

	// POST /api/stock/reservations/:token/commit
	g.POST("/reservations/:token/commit", func(c echo.Context) error {
		svc, err := getServices(db)
		if err != nil {
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": err.Error()})
		}
		var body struct {
			SaleReference string `json:"sale_reference"`
		}
		if err := c.Bind(&body); err != nil || body.SaleReference == "" {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "sale_reference is required"})
		}
		err = svc.coordinator.CommitSale(c.Request().Context(), c.Param("token"), body.SaleReference)
		if errors.Is(err, reservation.ErrConflict) {
			return conflictJSON(c)
		}
		if err != nil {
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": err.Error()})
		}
		return c.JSON(http.StatusOK, echo.Map{"committed": true})
	})

	// POST /api/stock/reservations/:token/release
	g.POST("/reservations/:token/release", func(c echo.Context) error {
		svc, err := getServices(db)
		if err != nil {
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": err.Error()})
		}
		if err := svc.coordinator.ReleaseReservation(c.Request().Context(), c.Param("token")); err != nil {
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": err.Error()})
		}
		return c.JSON(http.StatusOK, echo.Map{"released": true})
	})

	// POST /api/stock/bulk/decrement – bulk sale path
	g.POST("/bulk/decrement", func(c echo.Context) error {
		svc, err := getServices(db)
		if err != nil {
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": err.Error()})
		}
		branch, err := api.BranchFromRequest(c, db)
		if err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "unknown branch"})
		}
		var body struct {
			VariantID     uint   `json:"variant_id"`
			Quantity      int64  `json:"quantity"`
			SaleReference string `json:"sale_reference"`
		}
		if err := c.Bind(&body); err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
		}
		if body.VariantID == 0 || body.Quantity <= 0 || body.SaleReference == "" {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "variant_id, quantity and sale_reference are required"})
		}

		err = svc.coordinator.DecrementBulk(c.Request().Context(), branch, body.VariantID, body.Quantity, body.SaleReference)
		switch {
		case errors.Is(err, reservation.ErrInsufficientStock):
			return c.JSON(http.StatusConflict, echo.Map{"error": "insufficient stock"})
		case errors.Is(err, reservation.ErrNotFound):
			return c.JSON(http.StatusNotFound, echo.Map{"error": "variant not found"})
		case err != nil:
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": err.Error()})
		}
		return c.JSON(http.StatusOK, echo.Map{"decremented": body.Quantity})
	})

	// GET /api/stock/reconcile/:id – parent/child invariant diagnostic
	g.GET("/reconcile/:id", func(c echo.Context) error {
		svc, err := getServices(db)
		if err != nil {
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": err.Error()})
		}
		id, _ := strconv.ParseUint(c.Param("id"), 10, 32)
		report, err := svc.store.ReconcileReport(uint(id))
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "variant not found"})
		}
		if err != nil {
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": err.Error()})
		}
		return c.JSON(http.StatusOK, report)
	})

	// POST /api/stock/units/:imei/damage, /restore, /return, /inspected –
	// administrative lifecycle transitions
	registerAdminRoutes(g, db)
}
