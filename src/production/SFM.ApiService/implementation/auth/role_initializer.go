package auth

import (
	"context"
	"fmt"

	rbac "gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.ApiService/implementation/rbac"
	config "gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.Config"
	logger "gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.Logger"
	auth_models "gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.Models/auth"
	interfaces "gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.Repository/Interfaces"
)

// RoleInitializerService seeds roles and the first admin account
type RoleInitializerService struct {
	roleRepo    interfaces.RoleRepository
	userRepo    interfaces.UserRepository
	rbacService *rbac.Service
	logger      *logger.Logger
	adminConfig config.AdminConfig
}

// NewRoleInitializerService creates a new role initializer service
func NewRoleInitializerService(
	roleRepo interfaces.RoleRepository,
	userRepo interfaces.UserRepository,
	rbacService *rbac.Service,
	log *logger.Logger,
	adminConfig config.AdminConfig,
) *RoleInitializerService {
	return &RoleInitializerService{
		roleRepo:    roleRepo,
		userRepo:    userRepo,
		rbacService: rbacService,
		logger:      log.WithComponent("role-initializer"),
		adminConfig: adminConfig,
	}
}

// InitializeRoles creates missing predefined roles and loads every stored
// role into the RBAC registry.
func (s *RoleInitializerService) InitializeRoles(ctx context.Context) error {
	for _, role := range auth_models.PredefinedRoles() {
		role := role
		if _, err := s.roleRepo.Create(ctx, &role); err != nil {
			return fmt.Errorf("failed to create role %s: %w", role.Name, err)
		}
	}

	roles, err := s.roleRepo.FindAll(ctx)
	if err != nil {
		return err
	}
	for _, role := range roles {
		s.rbacService.AddRole(role.Name)
	}
	s.logger.Logger.Info().Int("count", len(roles)).Msg("Roles loaded")
	return nil
}

// InitializeAdminUser creates the first admin user if no admin users exist
func (s *RoleInitializerService) InitializeAdminUser(ctx context.Context) error {
	admins, err := s.userRepo.GetByRole(ctx, auth_models.RoleAdmin)
	if err != nil {
		return err
	}
	if len(admins) > 0 {
		s.logger.Logger.Info().Int("count", len(admins)).Msg("Admin users already exist, skipping admin user creation")
		return nil
	}
	if s.adminConfig.Password == "" {
		s.logger.Warn("No admin users and ADMIN_PASSWORD is empty, skipping admin user creation")
		return nil
	}

	hashed, err := HashPassword(s.adminConfig.Password)
	if err != nil {
		return fmt.Errorf("failed to hash admin password: %w", err)
	}

	admin := auth_models.NewUser(s.adminConfig.Username, s.adminConfig.Email, hashed, auth_models.RoleAdmin)
	if _, err := s.userRepo.Create(ctx, admin); err != nil {
		return err
	}

	s.logger.Logger.Info().Str("username", s.adminConfig.Username).Str("email", s.adminConfig.Email).Msg("First admin user created")
	s.logger.Warn("IMPORTANT: Change the admin password after first login")
	return nil
}
