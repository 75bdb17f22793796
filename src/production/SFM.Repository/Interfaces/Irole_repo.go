package interfaces

import (
	"context"

	auth_models "gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.Models/auth"
)

type RoleRepository interface {
	Create(ctx context.Context, role *auth_models.Role) (*auth_models.Role, error)
	FindByName(ctx context.Context, name string) (*auth_models.Role, error)
	FindAll(ctx context.Context) ([]*auth_models.Role, error)
}
