package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	jwt "gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.ApiService/implementation/jwt"
	rbac "gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.ApiService/implementation/rbac"
	auth_models "gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.Models/auth"
	interfaces "gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.Repository/Interfaces"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrUserExists         = errors.New("username or email already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidRole        = errors.New("invalid role")
)

// WeakPasswordError reports a password below the configured minimum length
type WeakPasswordError struct {
	MinLength int
}

func (e *WeakPasswordError) Error() string {
	return fmt.Sprintf("password must be at least %d characters", e.MinLength)
}

// AuthService aggregates auth operations
type AuthService struct {
	userRepo          interfaces.UserRepository
	jwtService        *jwt.Service
	rbacService       *rbac.Service
	passwordMinLength int
}

// NewAuthService creates a new auth service
func NewAuthService(userRepo interfaces.UserRepository, jwtService *jwt.Service, rbacService *rbac.Service, passwordMinLength int) *AuthService {
	return &AuthService{
		userRepo:          userRepo,
		jwtService:        jwtService,
		rbacService:       rbacService,
		passwordMinLength: passwordMinLength,
	}
}

func (s *AuthService) checkPassword(password string) error {
	if len(password) < s.passwordMinLength {
		return &WeakPasswordError{MinLength: s.passwordMinLength}
	}
	return nil
}

// Register creates an active user with the given role
func (s *AuthService) Register(ctx context.Context, req auth_models.RegisterRequest, role string) (*auth_models.User, error) {
	if !s.rbacService.IsValidRole(role) {
		return nil, ErrInvalidRole
	}
	if err := s.checkPassword(req.Password); err != nil {
		return nil, err
	}

	username := strings.TrimSpace(req.Username)
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if _, err := s.userRepo.GetByUsername(ctx, username); err == nil {
		return nil, ErrUserExists
	}
	if _, err := s.userRepo.GetByEmail(ctx, email); err == nil {
		return nil, ErrUserExists
	}

	hashed, err := HashPassword(req.Password)
	if err != nil {
		return nil, err
	}

	user, err := s.userRepo.Create(ctx, auth_models.NewUser(username, email, hashed, role))
	if errors.Is(err, interfaces.ErrConflict) {
		return nil, ErrUserExists
	}
	return user, err
}

// Login authenticates by username or email and returns a token pair
func (s *AuthService) Login(ctx context.Context, req auth_models.LoginRequest) (*auth_models.AuthResponse, error) {
	login := strings.TrimSpace(req.Login)
	user, err := s.userRepo.GetByUsername(ctx, login)
	if err != nil {
		user, err = s.userRepo.GetByEmail(ctx, strings.ToLower(login))
	}
	if err != nil || !user.Active {
		return nil, ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	return s.respond(user)
}

// RefreshTokens exchanges a refresh token for a new pair
func (s *AuthService) RefreshTokens(ctx context.Context, refreshToken string) (*auth_models.AuthResponse, error) {
	pair, err := s.jwtService.RefreshTokens(ctx, refreshToken, s.userRepo)
	if err != nil {
		return nil, err
	}
	claims, err := s.jwtService.ValidateAccessToken(pair.AccessToken)
	if err != nil {
		return nil, err
	}
	user, err := s.userRepo.GetByID(ctx, claims.UserID)
	if err != nil {
		return nil, err
	}
	return &auth_models.AuthResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		ExpiresAt:    pair.ExpiresAt,
		User:         user,
	}, nil
}

func (s *AuthService) respond(user *auth_models.User) (*auth_models.AuthResponse, error) {
	pair, err := s.jwtService.GenerateTokens(user.UserID, user.Role)
	if err != nil {
		return nil, err
	}
	return &auth_models.AuthResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		ExpiresAt:    pair.ExpiresAt,
		User:         user,
	}, nil
}

// GetUserByID retrieves a user by ID
func (s *AuthService) GetUserByID(ctx context.Context, userID string) (*auth_models.User, error) {
	return s.userRepo.GetByID(ctx, userID)
}

// UpdateProfile applies a partial profile edit to the caller's own account
func (s *AuthService) UpdateProfile(ctx context.Context, userID string, req auth_models.ProfileUpdateRequest) (*auth_models.User, error) {
	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	if req.Username != nil && strings.TrimSpace(*req.Username) != "" {
		user.Username = strings.TrimSpace(*req.Username)
	}
	if req.Email != nil && strings.TrimSpace(*req.Email) != "" {
		user.Email = strings.ToLower(strings.TrimSpace(*req.Email))
	}
	if req.Password != nil {
		if err := s.checkPassword(*req.Password); err != nil {
			return nil, err
		}
		hashed, err := HashPassword(*req.Password)
		if err != nil {
			return nil, err
		}
		user.Password = hashed
	}

	if err := s.userRepo.Update(ctx, user); err != nil {
		if errors.Is(err, interfaces.ErrConflict) {
			return nil, ErrUserExists
		}
		return nil, err
	}
	return user, nil
}

// HashPassword hashes a password using bcrypt
func HashPassword(password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}
