package auth

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// Staff roles known to the system.
const (
	RoleAdmin      = "admin"
	RoleDoctor     = "doctor"
	RoleNurse      = "nurse"
	RoleRegistrar  = "registrar"
	RoleCashier    = "cashier"
	RolePharmacist = "pharmacist"
)

var knownRoles = map[string]bool{
	RoleAdmin:      true,
	RoleDoctor:     true,
	RoleNurse:      true,
	RoleRegistrar:  true,
	RoleCashier:    true,
	RolePharmacist: true,
}

// KnownRole reports whether r is a role the system recognizes.
func KnownRole(r string) bool { return knownRoles[r] }

// RequireRole returns middleware that checks if the user has at least one of
// the specified roles. Admin passes every check.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			userRoles := RolesFromContext(c.Request().Context())
			for _, required := range roles {
				for _, has := range userRoles {
					if has == required || has == RoleAdmin {
						return next(c)
					}
				}
			}
			return echo.NewHTTPError(http.StatusForbidden,
				fmt.Sprintf("required role: %s", strings.Join(roles, " or ")))
		}
	}
}
