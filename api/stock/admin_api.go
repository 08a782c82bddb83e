package stock

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"gorm.io/gorm"

	"lats.GO/api"
	"lats.GO/core/imei"
	entity "lats.GO/model/entity"
	variantEntity "lats.GO/model/entity/variant"
	variantRepo "lats.GO/model/repository/variant"
	"lats.GO/service/lifecycle"
	"lats.GO/service/policy"
)

// lookupUnit loads the serialized-unit view of an IMEI, honoring branch
// visibility.
func lookupUnit(db *gorm.DB, branch *entity.Branch, id string) (*variantEntity.SerializedUnit, error) {
	repo, err := variantRepo.GetVariantRepository(db)
	if err != nil {
		return nil, err
	}
	v, err := repo.FindByIMEI(id)
	if err != nil {
		return nil, err
	}
	if !policy.CanAccess(branch, entity.KindInventory, v.BranchID).Visible {
		return nil, gorm.ErrRecordNotFound
	}
	u, ok := v.AsUnit()
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return &u, nil
}

type adminBody struct {
	Actor      string `json:"actor"`
	Reason     string `json:"reason"`
	ToBranchID uint   `json:"to_branch_id,omitempty"`
}

type adminFunc func(svc *lifecycle.Admin, c echo.Context, branch *entity.Branch, id string, body adminBody) error

func adminHandler(db *gorm.DB, fn adminFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
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
		var body adminBody
		if err := c.Bind(&body); err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
		}

		err = fn(svc.admin, c, branch, id, body)
		var he *echo.HTTPError
		switch {
		case errors.As(err, &he):
			return he
		case errors.Is(err, lifecycle.ErrConflict), errors.Is(err, lifecycle.ErrInvalidTransition):
			return c.JSON(http.StatusConflict, echo.Map{"error": "unit is not in the expected state"})
		case errors.Is(err, lifecycle.ErrUnitNotFound):
			return c.JSON(http.StatusNotFound, echo.Map{"error": "unit not found"})
		case errors.Is(err, lifecycle.ErrBranchNotFound):
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "unknown destination branch"})
		case err != nil:
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": err.Error()})
		}
		return c.JSON(http.StatusOK, echo.Map{"ok": true})
	}
}

func registerAdminRoutes(g *echo.Group, db *gorm.DB) {
	g.POST("/units/:imei/damage", adminHandler(db, func(a *lifecycle.Admin, c echo.Context, b *entity.Branch, id string, body adminBody) error {
		return a.MarkDamaged(c.Request().Context(), b, id, body.Actor, body.Reason)
	}))
	// restore requires an audit reason: damaged is terminal otherwise
	g.POST("/units/:imei/restore", adminHandler(db, func(a *lifecycle.Admin, c echo.Context, b *entity.Branch, id string, body adminBody) error {
		if body.Reason == "" {
			return echo.NewHTTPError(http.StatusBadRequest, "reason is required")
		}
		return a.RestoreDamaged(c.Request().Context(), b, id, body.Actor, body.Reason)
	}))
	g.POST("/units/:imei/return", adminHandler(db, func(a *lifecycle.Admin, c echo.Context, b *entity.Branch, id string, body adminBody) error {
		return a.AcceptReturn(c.Request().Context(), b, id, body.Actor, body.Reason)
	}))
	g.POST("/units/:imei/inspected", adminHandler(db, func(a *lifecycle.Admin, c echo.Context, b *entity.Branch, id string, body adminBody) error {
		return a.CompleteInspection(c.Request().Context(), b, id, body.Actor)
	}))
	g.POST("/units/:imei/transfer", adminHandler(db, func(a *lifecycle.Admin, c echo.Context, b *entity.Branch, id string, body adminBody) error {
		if body.ToBranchID == 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "to_branch_id is required")
		}
		return a.Transfer(c.Request().Context(), b, id, body.ToBranchID, body.Actor, body.Reason)
	}))
}
