package medrecord

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/klinik/klinik/internal/domain/visit"
	"github.com/klinik/klinik/internal/platform/auth"
)

func ctxWithRoles(roles ...string) context.Context {
	return context.WithValue(context.Background(), auth.UserRolesKey, roles)
}

func TestAuthorRole_PrefersDoctor(t *testing.T) {
	role, err := authorRole(ctxWithRoles(RoleNurse, RoleDoctor))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if role != RoleDoctor {
		t.Errorf("expected doctor, got %s", role)
	}
}

func TestAuthorRole_NurseWritesAsNurse(t *testing.T) {
	role, err := authorRole(ctxWithRoles(RoleNurse))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if role != RoleNurse {
		t.Errorf("expected nurse, got %s", role)
	}
}

func TestAuthorRole_AdminIsNotAClinicalAuthor(t *testing.T) {
	_, err := authorRole(ctxWithRoles(auth.RoleAdmin))
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusForbidden {
		t.Fatalf("expected 403 HTTPError, got %v", err)
	}
	msg, _ := he.Message.(string)
	if !strings.Contains(msg, "doctor or nurse") {
		t.Errorf("rejection must name the required roles, got %q", msg)
	}
}

func TestCreateRecord_AdminRejectedBeforeServiceRuns(t *testing.T) {
	svc, repo, visits := newTestService()
	visitID := visits.add(visit.StatusInExamination, false)
	h := NewHandler(svc)

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"progress_note":"note"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req = req.WithContext(ctxWithRoles(auth.RoleAdmin))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(visitID.String())

	err := h.CreateRecord(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusForbidden {
		t.Fatalf("expected 403 HTTPError, got %v", err)
	}
	if len(repo.records) != 0 {
		t.Error("no record must be written for a non-clinical author")
	}
}
