package services

import (
	"fmt"

	"github.com/omnifin/backoffice/pkg/apperrors"
	"github.com/omnifin/backoffice/pkg/models"
)

// validationError wraps ErrValidation with a message safe to return to clients.
func validationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", apperrors.ErrValidation, fmt.Sprintf(format, args...))
}

func ptr[T any](v T) *T {
	return &v
}

// requireAdmin returns ErrForbidden for principals below admin.
func requireAdmin(p models.Principal) error {
	if !p.IsAdmin() {
		return apperrors.ErrForbidden
	}
	return nil
}

// requireSuperadmin returns ErrForbidden unless p is a superadmin.
func requireSuperadmin(p models.Principal) error {
	if p.Role != models.RoleSuperadmin {
		return apperrors.ErrForbidden
	}
	return nil
}

// ownGroup returns the group new rows created by p belong to.
// Superadmins may target any group; everyone else writes into their own.
func ownGroup(p models.Principal, requested *int64) *int64 {
	if p.Role == models.RoleSuperadmin {
		return requested
	}
	return p.GroupID
}
