package medrecord

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

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
	read := api.Group("", auth.RequireRole("doctor", "nurse"))
	read.GET("/visits/:id/records", h.ListRecords)
	read.GET("/records/:id", h.GetRecord)

	api.POST("/visits/:id/records", h.CreateRecord, auth.RequireRole("doctor", "nurse"))
	api.PATCH("/records/:id", h.UpdateRecord, auth.RequireRole("doctor", "nurse"))
	api.DELETE("/records/:id", h.DeleteRecord, auth.RequireRole("doctor", "nurse"))
	api.POST("/records/:id/finalize", h.FinalizeRecord, auth.RequireRole("doctor"))
	api.POST("/visits/:id/discharge-summary", h.CreateDischargeSummary, auth.RequireRole("doctor"))
}

// recordInput is the client-writable surface of a record. Author identity is
// never part of it.
type recordInput struct {
	Kind         Kind    `json:"kind"`
	Subjective   *string `json:"subjective"`
	Objective    *string `json:"objective"`
	Assessment   *string `json:"assessment"`
	Plan         *string `json:"plan"`
	ProgressNote *string `json:"progress_note"`
	Instructions *string `json:"instructions"`
}

func (in *recordInput) toRecord() *Record {
	return &Record{
		Kind:         in.Kind,
		Subjective:   in.Subjective,
		Objective:    in.Objective,
		Assessment:   in.Assessment,
		Plan:         in.Plan,
		ProgressNote: in.ProgressNote,
		Instructions: in.Instructions,
	}
}

func (h *Handler) CreateRecord(c echo.Context) error {
	visitID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid visit id")
	}
	var in recordInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	ctx := c.Request().Context()
	role, err := authorRole(ctx)
	if err != nil {
		return err
	}
	rec := in.toRecord()
	rec.VisitID = visitID
	if err := h.svc.Create(ctx, rec, auth.UserIDFromContext(ctx), role); err != nil {
		return recordHTTPError(c, err)
	}
	return c.JSON(http.StatusCreated, rec)
}

func (h *Handler) GetRecord(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	rec, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "record not found")
	}
	return c.JSON(http.StatusOK, rec)
}

func (h *Handler) ListRecords(c echo.Context) error {
	visitID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid visit id")
	}
	pg := pagination.FromContext(c)
	records, total, err := h.svc.ListByVisit(c.Request().Context(), visitID, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(records, total, pg.Limit, pg.Offset))
}

func (h *Handler) UpdateRecord(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var in recordInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	ctx := c.Request().Context()
	role, err := authorRole(ctx)
	if err != nil {
		return err
	}
	rec, err := h.svc.Update(ctx, id, in.toRecord(), auth.UserIDFromContext(ctx), role)
	if err != nil {
		return recordHTTPError(c, err)
	}
	return c.JSON(http.StatusOK, rec)
}

func (h *Handler) DeleteRecord(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.svc.Delete(c.Request().Context(), id); err != nil {
		return recordHTTPError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) FinalizeRecord(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	ctx := c.Request().Context()
	rec, err := h.svc.Finalize(ctx, id, auth.UserIDFromContext(ctx))
	if err != nil {
		return recordHTTPError(c, err)
	}
	return c.JSON(http.StatusOK, rec)
}

func (h *Handler) CreateDischargeSummary(c echo.Context) error {
	visitID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid visit id")
	}
	var in recordInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	ctx := c.Request().Context()
	role, err := authorRole(ctx)
	if err != nil {
		return err
	}
	rec := in.toRecord()
	rec.VisitID = visitID
	if err := h.svc.CreateDischargeSummary(ctx, rec, auth.UserIDFromContext(ctx), role); err != nil {
		return recordHTTPError(c, err)
	}
	return c.JSON(http.StatusCreated, rec)
}

// authorRole maps the session's roles onto the authoring role. Doctor wins
// when both are present. An admin clears the route guard without carrying a
// clinical role, so the empty case is rejected here with a reason instead of
// falling through to the field policy.
func authorRole(ctx context.Context) (string, error) {
	roles := auth.RolesFromContext(ctx)
	for _, want := range []string{RoleDoctor, RoleNurse} {
		for _, r := range roles {
			if r == want {
				return want, nil
			}
		}
	}
	return "", echo.NewHTTPError(http.StatusForbidden,
		"clinical entries require a doctor or nurse role")
}

// recordHTTPError maps the typed policy errors onto HTTP responses carrying
// the rejection reason.
func recordHTTPError(c echo.Context, err error) error {
	var we *WindowExpiredError
	if errors.As(err, &we) {
		return c.JSON(http.StatusConflict, map[string]interface{}{
			"error":      we.Error(),
			"elapsed_ms": we.Elapsed.Milliseconds(),
			"limit_ms":   we.Limit.Milliseconds(),
		})
	}
	var rm *RoleMismatchError
	if errors.As(err, &rm) {
		return echo.NewHTTPError(http.StatusForbidden, rm.Error())
	}
	var le *visit.LockedError
	if errors.As(err, &le) {
		return echo.NewHTTPError(http.StatusConflict, le.Error())
	}
	if errors.Is(err, ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "record not found")
	}
	if errors.Is(err, visit.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "visit not found")
	}
	if errors.Is(err, ErrConflict) || errors.Is(err, visit.ErrConflict) {
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	return echo.NewHTTPError(http.StatusBadRequest, err.Error())
}
