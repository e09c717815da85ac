package visit

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

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
	read := api.Group("", auth.RequireRole("registrar", "nurse", "doctor", "cashier"))
	read.GET("/visits", h.ListVisits)
	read.GET("/visits/:id", h.GetVisit)
	read.GET("/visits/:id/allowed-transitions", h.AllowedTransitions)
	read.GET("/visits/:id/lock", h.CheckLock)
	read.GET("/visits/:id/status-history", h.GetStatusHistory)

	api.POST("/visits", h.RegisterVisit, auth.RequireRole("registrar"))
	api.PATCH("/visits/:id/status", h.TransitionVisit, auth.RequireRole("registrar", "doctor", "cashier"))
	api.PATCH("/visits/:id/disposition", h.SetDisposition, auth.RequireRole("doctor"))
	api.POST("/visits/:id/lock", h.LockVisit, auth.RequireRole("doctor"))
	api.POST("/visits/:id/unlock", h.UnlockVisit, auth.RequireRole("admin"))
	api.GET("/visits/:id/unlock-audits", h.GetUnlockAudits, auth.RequireRole("admin"))
}

func (h *Handler) RegisterVisit(c echo.Context) error {
	var v Visit
	if err := c.Bind(&v); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.Register(c.Request().Context(), &v); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, v)
}

func (h *Handler) GetVisit(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	v, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "visit not found")
	}
	return c.JSON(http.StatusOK, v)
}

func (h *Handler) ListVisits(c echo.Context) error {
	pg := pagination.FromContext(c)
	ctx := c.Request().Context()

	if patientID := c.QueryParam("patient_id"); patientID != "" {
		pid, err := uuid.Parse(patientID)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
		}
		visits, total, err := h.svc.ListByPatient(ctx, pid, pg.Limit, pg.Offset)
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		return c.JSON(http.StatusOK, pagination.NewResponse(visits, total, pg.Limit, pg.Offset))
	}

	if status := c.QueryParam("status"); status != "" {
		visits, total, err := h.svc.ListByStatus(ctx, Status(status), pg.Limit, pg.Offset)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		return c.JSON(http.StatusOK, pagination.NewResponse(visits, total, pg.Limit, pg.Offset))
	}

	visits, total, err := h.svc.List(ctx, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(visits, total, pg.Limit, pg.Offset))
}

func (h *Handler) AllowedTransitions(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	v, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "visit not found")
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":   v.Status,
		"terminal": IsTerminal(v.Status),
		"allowed":  AllowedNext(v.Status),
	})
}

func (h *Handler) TransitionVisit(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var body struct {
		Status Status `json:"status"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	ctx := c.Request().Context()
	actorID := auth.UserIDFromContext(ctx)
	isAdmin := hasRole(auth.RolesFromContext(ctx), "admin")

	v, err := h.svc.Transition(ctx, id, body.Status, actorID, isAdmin)
	if err != nil {
		return transitionHTTPError(c, err)
	}
	return c.JSON(http.StatusOK, v)
}

func (h *Handler) SetDisposition(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var body struct {
		Disposition string `json:"disposition"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.SetDisposition(c.Request().Context(), id, body.Disposition); err != nil {
		return transitionHTTPError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"disposition": body.Disposition})
}

func (h *Handler) LockVisit(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var body struct {
		Source string `json:"source"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if body.Source == "" {
		body.Source = LockSourceFinalizedRecord
	}

	ctx := c.Request().Context()
	if err := h.svc.Lock(ctx, id, auth.UserIDFromContext(ctx), body.Source); err != nil {
		return transitionHTTPError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"locked": true, "source": body.Source})
}

func (h *Handler) UnlockVisit(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var body struct {
		Reason string `json:"reason"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	ctx := c.Request().Context()
	if err := h.svc.Unlock(ctx, id, auth.UserIDFromContext(ctx), body.Reason); err != nil {
		return transitionHTTPError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"locked": false})
}

func (h *Handler) CheckLock(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	reason, err := h.svc.CheckLocked(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "visit not found")
	}
	if reason == "" {
		return c.JSON(http.StatusOK, map[string]interface{}{"locked": false, "reason": nil})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"locked": true, "reason": reason})
}

func (h *Handler) GetStatusHistory(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	history, err := h.svc.StatusHistory(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, history)
}

func (h *Handler) GetUnlockAudits(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	audits, err := h.svc.UnlockAudits(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, audits)
}

// transitionHTTPError maps the typed policy errors onto HTTP responses that
// carry the rejection reason, so the UI can render an actionable message.
func transitionHTTPError(c echo.Context, err error) error {
	var te *TransitionError
	if errors.As(err, &te) {
		return c.JSON(http.StatusConflict, map[string]interface{}{
			"error":    te.Error(),
			"terminal": te.Terminal,
			"allowed":  te.Allowed,
		})
	}
	var ee *ElevatedTransitionError
	if errors.As(err, &ee) {
		return echo.NewHTTPError(http.StatusForbidden, ee.Error())
	}
	var le *LockedError
	if errors.As(err, &le) {
		return echo.NewHTTPError(http.StatusConflict, le.Error())
	}
	var de *DischargeBlockedError
	if errors.As(err, &de) {
		return c.JSON(http.StatusConflict, map[string]interface{}{
			"error":            de.Error(),
			"remaining_amount": de.RemainingAmount,
		})
	}
	if errors.Is(err, ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "visit not found")
	}
	if errors.Is(err, ErrConflict) {
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	return echo.NewHTTPError(http.StatusBadRequest, err.Error())
}

func hasRole(roles []string, want string) bool {
	for _, r := range roles {
		if r == want {
			return true
		}
	}
	return false
}
