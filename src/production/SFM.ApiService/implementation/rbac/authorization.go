package rbac

import (
	"errors"

	sfmmodels "gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.Models"
)

var (
	ErrAdminRequired = errors.New("unauthorized: admin role required")
	ErrNotOwner      = errors.New("unauthorized: insufficient permissions")
)

// Principal is the authenticated caller of a request
type Principal struct {
	UserID string
	Role   string
}

// Authorizer answers ownership and role questions for a principal
type Authorizer struct {
	rbacService *Service
}

// NewAuthorizer creates a new authorizer
func NewAuthorizer(rbacService *Service) *Authorizer {
	return &Authorizer{rbacService: rbacService}
}

// RequireAdmin checks if the principal is admin
func (a *Authorizer) RequireAdmin(p Principal) error {
	if !a.rbacService.IsAdmin(p.Role) {
		return ErrAdminRequired
	}
	return nil
}

// RequireOwnerOrAdmin checks the principal owns the resource or is admin
func (a *Authorizer) RequireOwnerOrAdmin(p Principal, resourceUserID string) error {
	if a.rbacService.IsAdmin(p.Role) || p.UserID == resourceUserID {
		return nil
	}
	return ErrNotOwner
}

// CanAccessDevice reports whether p may read or operate dev
func (a *Authorizer) CanAccessDevice(p Principal, dev *sfmmodels.Device) bool {
	return a.RequireOwnerOrAdmin(p, dev.OwnerID) == nil
}

// DeviceScope returns the owner filter for device lists: empty for admins
// (every device), the caller's id otherwise.
func (a *Authorizer) DeviceScope(p Principal) string {
	if a.rbacService.IsAdmin(p.Role) {
		return ""
	}
	return p.UserID
}
