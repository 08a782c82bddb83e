package receiving

import (
	"errors"
	"net/http"
	"sync"

	"github.com/labstack/echo/v4"
	"gorm.io/gorm"

	"lats.GO/api"
	"lats.GO/core/imei"
	receivingService "lats.GO/service/receiving"
)

func init() {
	api.RegisterModule(RegisterReceivingRoutes)
}

var orchInstances sync.Map // *gorm.DB -> *Orchestrator

func getOrchestrator(db *gorm.DB) (*receivingService.Orchestrator, error) {
	if v, ok := orchInstances.Load(db); ok {
		return v.(*receivingService.Orchestrator), nil
	}
	orch, err := receivingService.NewOrchestrator(db)
	if err != nil {
		return nil, err
	}
	actual, _ := orchInstances.LoadOrStore(db, orch)
	return actual.(*receivingService.Orchestrator), nil
}

func RegisterReceivingRoutes(apiGroup *echo.Group, db *gorm.DB) {
	g := apiGroup.Group("/receiving")

	// POST /api/receiving/receive – materialize a PO line into stock.
	// Retried freely: duplicates report existing units instead of
	// double-crediting.
	g.POST("/receive", func(c echo.Context) error {
		orch, err := getOrchestrator(db)
		if err != nil {
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": err.Error()})
		}
		branch, err := api.BranchFromRequest(c, db)
		if err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "unknown branch"})
		}

		var body struct {
			PurchaseOrderItemID uint                         `json:"purchase_order_item_id"`
			Units               []receivingService.UnitInput `json:"units"`
		}
		if err := c.Bind(&body); err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
		}
		if body.PurchaseOrderItemID == 0 {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "purchase_order_item_id is required"})
		}
		if len(body.Units) == 0 {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "units array is required and must not be empty"})
		}
		// Malformed IMEIs are rejected before any unit is processed.
		for _, u := range body.Units {
			if u.Quantity <= 0 {
				if err := imei.Validate(u.IMEI); err != nil {
					return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error(), "imei": u.IMEI})
				}
			}
		}

		res, err := orch.Receive(c.Request().Context(), branch, body.PurchaseOrderItemID, body.Units)
		switch {
		case errors.Is(err, receivingService.ErrNotWritable), errors.Is(err, gorm.ErrRecordNotFound):
			return c.JSON(http.StatusNotFound, echo.Map{"error": "purchase order item not found"})
		case err != nil:
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": err.Error()})
		}
		return c.JSON(http.StatusOK, res)
	})
}
