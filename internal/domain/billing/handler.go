package billing

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/klinik/klinik/internal/domain/visit"
	"github.com/klinik/klinik/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireRole("cashier", "doctor", "registrar"))
	read.GET("/visits/:id/billing", h.GetTotals)
	read.GET("/visits/:id/billing/eligibility", h.GetEligibility)
	read.GET("/visits/:id/charges", h.ListCharges)
	read.GET("/visits/:id/payments", h.ListPayments)
	read.GET("/visits/:id/adjustments", h.ListAdjustments)
	read.GET("/visits/:id/invoice", h.GetInvoice)

	api.POST("/visits/:id/charges", h.AddCharge, auth.RequireRole("cashier", "doctor", "nurse", "pharmacist"))
	api.POST("/visits/:id/payments", h.AddPayment, auth.RequireRole("cashier"))
	api.POST("/visits/:id/adjustments", h.AddAdjustment, auth.RequireRole("cashier"))
	api.POST("/visits/:id/invoice", h.CreateInvoice, auth.RequireRole("cashier"))
}

func (h *Handler) AddCharge(c echo.Context) error {
	visitID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid visit id")
	}
	var body struct {
		Kind        ChargeKind `json:"kind"`
		Description string     `json:"description"`
		Quantity    int        `json:"quantity"`
		UnitPrice   float64    `json:"unit_price"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	charge := &Charge{
		VisitID:     visitID,
		Kind:        body.Kind,
		Description: body.Description,
		Quantity:    body.Quantity,
		UnitPrice:   body.UnitPrice,
	}
	if err := h.svc.AddCharge(c.Request().Context(), charge); err != nil {
		return billingHTTPError(err)
	}
	return c.JSON(http.StatusCreated, charge)
}

func (h *Handler) ListCharges(c echo.Context) error {
	visitID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid visit id")
	}
	charges, err := h.svc.ListCharges(c.Request().Context(), visitID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, charges)
}

func (h *Handler) AddPayment(c echo.Context) error {
	visitID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid visit id")
	}
	var body struct {
		Amount float64 `json:"amount"`
		Method string  `json:"method"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	ctx := c.Request().Context()
	payment := &Payment{VisitID: visitID, Amount: body.Amount, Method: body.Method}
	if err := h.svc.AddPayment(ctx, payment, auth.UserIDFromContext(ctx)); err != nil {
		return billingHTTPError(err)
	}
	return c.JSON(http.StatusCreated, payment)
}

func (h *Handler) ListPayments(c echo.Context) error {
	visitID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid visit id")
	}
	payments, err := h.svc.ListPayments(c.Request().Context(), visitID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, payments)
}

func (h *Handler) AddAdjustment(c echo.Context) error {
	visitID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid visit id")
	}
	var body struct {
		Kind          string  `json:"kind"`
		Amount        float64 `json:"amount"`
		Justification string  `json:"justification"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	ctx := c.Request().Context()
	adj := &Adjustment{
		VisitID:       visitID,
		Kind:          body.Kind,
		Amount:        body.Amount,
		Justification: body.Justification,
	}
	if err := h.svc.AddAdjustment(ctx, adj, auth.UserIDFromContext(ctx)); err != nil {
		return billingHTTPError(err)
	}
	return c.JSON(http.StatusCreated, adj)
}

func (h *Handler) ListAdjustments(c echo.Context) error {
	visitID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid visit id")
	}
	adjustments, err := h.svc.ListAdjustments(c.Request().Context(), visitID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, adjustments)
}

func (h *Handler) CreateInvoice(c echo.Context) error {
	visitID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid visit id")
	}
	ctx := c.Request().Context()
	inv, err := h.svc.CreateInvoice(ctx, visitID, auth.UserIDFromContext(ctx))
	if err != nil {
		return billingHTTPError(err)
	}
	return c.JSON(http.StatusCreated, inv)
}

func (h *Handler) GetInvoice(c echo.Context) error {
	visitID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid visit id")
	}
	inv, err := h.svc.GetInvoice(c.Request().Context(), visitID)
	if err != nil {
		return billingHTTPError(err)
	}
	return c.JSON(http.StatusOK, inv)
}

func (h *Handler) GetTotals(c echo.Context) error {
	visitID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid visit id")
	}
	totals, err := h.svc.VisitTotals(c.Request().Context(), visitID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, totals)
}

func (h *Handler) GetEligibility(c echo.Context) error {
	visitID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid visit id")
	}
	elig, err := h.svc.DischargeEligibility(c.Request().Context(), visitID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, elig)
}

func billingHTTPError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, visit.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "visit not found")
	case errors.Is(err, ErrPaymentsExist):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	default:
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
}
