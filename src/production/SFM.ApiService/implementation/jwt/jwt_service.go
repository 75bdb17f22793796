package jwt

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	uuid "github.com/google/uuid"
	config "gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.Config"
	interfaces "gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.Repository/Interfaces"
)

const (
	tokenTypeAccess  = "access"
	tokenTypeRefresh = "refresh"
)

var (
	ErrInvalidToken        = errors.New("invalid token")
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
)

// AccessClaims represents the JWT claims for user access
type AccessClaims struct {
	jwt.RegisteredClaims
	UserID    string `json:"user_id"`
	Role      string `json:"role"`
	TokenID   string `json:"token_id"`
	TokenType string `json:"typ"`
}

// RefreshClaims represents the JWT claims for refresh tokens
type RefreshClaims struct {
	jwt.RegisteredClaims
	UserID    string `json:"user_id"`
	TokenID   string `json:"token_id"`
	TokenType string `json:"typ"`
}

// TokenPair contains access and refresh tokens
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenID      string `json:"token_id"`
	ExpiresAt    int64  `json:"expires_at"`
}

// Service provides JWT operations
type Service struct {
	secret          []byte
	issuer          string
	accessDuration  time.Duration
	refreshDuration time.Duration
	now             func() time.Time
}

// NewService creates a new JWT service
func NewService(cfg config.AuthConfig) *Service {
	return &Service{
		secret:          []byte(cfg.JWTSecretKey),
		issuer:          cfg.JWTIssuer,
		accessDuration:  cfg.AccessTokenDuration,
		refreshDuration: cfg.RefreshTokenDuration,
		now:             time.Now,
	}
}

func (s *Service) registered(now time.Time, ttl time.Duration) jwt.RegisteredClaims {
	return jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		Issuer:    s.issuer,
	}
}

// GenerateTokens signs an access and a refresh token sharing one token id
func (s *Service) GenerateTokens(userID, role string) (*TokenPair, error) {
	tokenID := uuid.New().String()
	now := s.now()

	access := AccessClaims{
		RegisteredClaims: s.registered(now, s.accessDuration),
		UserID:           userID,
		Role:             role,
		TokenID:          tokenID,
		TokenType:        tokenTypeAccess,
	}
	refresh := RefreshClaims{
		RegisteredClaims: s.registered(now, s.refreshDuration),
		UserID:           userID,
		TokenID:          tokenID,
		TokenType:        tokenTypeRefresh,
	}

	accessToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, access).SignedString(s.secret)
	if err != nil {
		return nil, err
	}
	refreshToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, refresh).SignedString(s.secret)
	if err != nil {
		return nil, err
	}

	return &TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenID:      tokenID,
		ExpiresAt:    access.ExpiresAt.Unix(),
	}, nil
}

func (s *Service) keyFunc(token *jwt.Token) (interface{}, error) {
	if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, errors.New("unexpected signing method")
	}
	return s.secret, nil
}

func (s *Service) parserOptions() []jwt.ParserOption {
	opts := []jwt.ParserOption{jwt.WithTimeFunc(s.now)}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}
	return opts
}

// ValidateAccessToken validates an access token and returns the claims
func (s *Service) ValidateAccessToken(tokenString string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, s.keyFunc, s.parserOptions()...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid || claims.TokenType != tokenTypeAccess || claims.UserID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// ValidateRefreshToken validates a refresh token and returns the claims
func (s *Service) ValidateRefreshToken(tokenString string) (*RefreshClaims, error) {
	claims := &RefreshClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, s.keyFunc, s.parserOptions()...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRefreshToken, err)
	}
	if !token.Valid || claims.TokenType != tokenTypeRefresh || claims.UserID == "" {
		return nil, ErrInvalidRefreshToken
	}
	return claims, nil
}

// RefreshTokens issues a new pair for the refresh token's user with the
// role currently stored for them.
func (s *Service) RefreshTokens(ctx context.Context, refreshToken string, users interfaces.UserRepository) (*TokenPair, error) {
	claims, err := s.ValidateRefreshToken(refreshToken)
	if err != nil {
		return nil, err
	}

	user, err := users.GetByID(ctx, claims.UserID)
	if err != nil {
		return nil, errors.New("user not found")
	}
	if !user.Active {
		return nil, errors.New("user is disabled")
	}

	tokens, err := s.GenerateTokens(user.UserID, user.Role)
	if err != nil {
		return nil, fmt.Errorf("failed to generate new tokens: %w", err)
	}
	return tokens, nil
}
