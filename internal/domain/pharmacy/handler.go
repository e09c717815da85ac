package pharmacy

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/klinik/klinik/internal/domain/medrecord"
	"github.com/klinik/klinik/internal/domain/visit"
	"github.com/klinik/klinik/internal/platform/auth"
	"github.com/klinik/klinik/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireRole("doctor", "nurse", "pharmacist", "cashier"))
	read.GET("/visits/:id/prescriptions", h.ListByVisit)
	read.GET("/prescriptions/:id", h.GetPrescription)

	api.GET("/prescriptions", h.ListUnfulfilled, auth.RequireRole("pharmacist"))
	api.POST("/visits/:id/prescriptions", h.Prescribe, auth.RequireRole("doctor"))
	api.POST("/prescriptions/:id/fulfill", h.Fulfill, auth.RequireRole("pharmacist"))
	api.DELETE("/prescriptions/:id", h.Delete, auth.RequireRole("doctor"))
}

func (h *Handler) Prescribe(c echo.Context) error {
	visitID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid visit id")
	}
	var body struct {
		Medication   string  `json:"medication"`
		Dosage       string  `json:"dosage"`
		Quantity     int     `json:"quantity"`
		UnitPrice    float64 `json:"unit_price"`
		Instructions *string `json:"instructions"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	ctx := c.Request().Context()
	p := &Prescription{
		VisitID:      visitID,
		Medication:   body.Medication,
		Dosage:       body.Dosage,
		Quantity:     body.Quantity,
		UnitPrice:    body.UnitPrice,
		Instructions: body.Instructions,
	}
	role, err := prescriberRole(ctx)
	if err != nil {
		return err
	}
	if err := h.svc.Prescribe(ctx, p, auth.UserIDFromContext(ctx), role); err != nil {
		return pharmacyHTTPError(c, err)
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) GetPrescription(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	p, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "prescription not found")
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) ListByVisit(c echo.Context) error {
	visitID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid visit id")
	}
	prescriptions, err := h.svc.ListByVisit(c.Request().Context(), visitID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, prescriptions)
}

func (h *Handler) ListUnfulfilled(c echo.Context) error {
	pg := pagination.FromContext(c)
	prescriptions, total, err := h.svc.ListUnfulfilled(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(prescriptions, total, pg.Limit, pg.Offset))
}

func (h *Handler) Fulfill(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	ctx := c.Request().Context()
	p, err := h.svc.Fulfill(ctx, id, auth.UserIDFromContext(ctx))
	if err != nil {
		return pharmacyHTTPError(c, err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) Delete(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.svc.Delete(c.Request().Context(), id); err != nil {
		return pharmacyHTTPError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// prescriberRole requires the session to carry the doctor role. An admin
// clears the route guard without one and is turned away here.
func prescriberRole(ctx context.Context) (string, error) {
	for _, r := range auth.RolesFromContext(ctx) {
		if r == medrecord.RoleDoctor {
			return r, nil
		}
	}
	return "", echo.NewHTTPError(http.StatusForbidden,
		"prescriptions require a doctor role")
}

func pharmacyHTTPError(c echo.Context, err error) error {
	var we *medrecord.WindowExpiredError
	if errors.As(err, &we) {
		return c.JSON(http.StatusConflict, map[string]interface{}{
			"error":      we.Error(),
			"elapsed_ms": we.Elapsed.Milliseconds(),
			"limit_ms":   we.Limit.Milliseconds(),
		})
	}
	var rm *medrecord.RoleMismatchError
	if errors.As(err, &rm) {
		return echo.NewHTTPError(http.StatusForbidden, rm.Error())
	}
	var le *visit.LockedError
	if errors.As(err, &le) {
		return echo.NewHTTPError(http.StatusConflict, le.Error())
	}
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "prescription not found")
	case errors.Is(err, visit.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "visit not found")
	case errors.Is(err, ErrAlreadyFulfilled), errors.Is(err, ErrConflict):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	default:
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
}
