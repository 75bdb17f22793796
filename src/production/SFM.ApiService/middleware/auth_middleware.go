package middleware

import (
	"errors"
	"net/http"
	"strings"

	jwt "gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.ApiService/implementation/jwt"
	rbac "gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.ApiService/implementation/rbac"

	"github.com/gin-gonic/gin"
)

// Key types for request context
type contextKey string

const (
	UserIDContextKey      contextKey = "user_id"
	UserRoleContextKey    contextKey = "user_role"
	TokenIDContextKey     contextKey = "token_id"
	AccessTokenContextKey contextKey = "access_token"
)

// AuthMiddleware provides middleware functions for authentication and authorization
type AuthMiddleware struct {
	jwtService *jwt.Service
	authorizer *rbac.Authorizer
	config     Config
}

// Config holds middleware configuration
type Config struct {
	AccessTokenHeader string
	AccessTokenCookie string
	// AccessTokenQuery is accepted only by AuthenticateStream, for
	// EventSource clients that cannot set headers.
	AccessTokenQuery string
}

// DefaultConfig returns a default middleware configuration
func DefaultConfig() Config {
	return Config{
		AccessTokenHeader: "Authorization",
		AccessTokenCookie: "access_token",
		AccessTokenQuery:  "token",
	}
}

// NewAuthMiddleware creates a new auth middleware
func NewAuthMiddleware(jwtService *jwt.Service, authorizer *rbac.Authorizer, config Config) *AuthMiddleware {
	return &AuthMiddleware{
		jwtService: jwtService,
		authorizer: authorizer,
		config:     config,
	}
}

// Authorizer exposes the ownership checks controllers apply per resource
func (m *AuthMiddleware) Authorizer() *rbac.Authorizer {
	return m.authorizer
}

// extractToken gets a token from either header or cookie
func extractToken(r *http.Request, headerName, cookieName string) string {
	if token := r.Header.Get(headerName); token != "" {
		return strings.TrimPrefix(token, "Bearer ")
	}

	if cookieName != "" {
		if cookie, err := r.Cookie(cookieName); err == nil {
			return cookie.Value
		}
	}
	return ""
}

func (m *AuthMiddleware) authenticate(c *gin.Context, token string) {
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
		return
	}

	claims, err := m.jwtService.ValidateAccessToken(token)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid access token"})
		return
	}

	c.Set(string(UserIDContextKey), claims.UserID)
	c.Set(string(UserRoleContextKey), claims.Role)
	c.Set(string(TokenIDContextKey), claims.TokenID)
	c.Set(string(AccessTokenContextKey), token)
	c.Next()
}

// Authenticate middleware verifies access token
func (m *AuthMiddleware) Authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		m.authenticate(c, extractToken(c.Request, m.config.AccessTokenHeader, m.config.AccessTokenCookie))
	}
}

// AuthenticateStream also accepts the token as a query parameter
func (m *AuthMiddleware) AuthenticateStream() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractToken(c.Request, m.config.AccessTokenHeader, m.config.AccessTokenCookie)
		if token == "" && m.config.AccessTokenQuery != "" {
			token = c.Query(m.config.AccessTokenQuery)
		}
		m.authenticate(c, token)
	}
}

// RequireAdmin ensures the user has admin role. Must follow Authenticate.
func (m *AuthMiddleware) RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, err := PrincipalFromGinContext(c)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
			return
		}
		if err := m.authorizer.RequireAdmin(principal); err != nil {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Admin access required"})
			return
		}
		c.Next()
	}
}

// GetUserFromGinContext retrieves user ID from Gin context
func GetUserFromGinContext(c *gin.Context) (string, error) {
	userID := c.GetString(string(UserIDContextKey))
	if userID == "" {
		return "", errors.New("user not found in context")
	}
	return userID, nil
}

// GetRoleFromGinContext retrieves user role from Gin context
func GetRoleFromGinContext(c *gin.Context) (string, error) {
	role := c.GetString(string(UserRoleContextKey))
	if role == "" {
		return "", errors.New("role not found in context")
	}
	return role, nil
}

// PrincipalFromGinContext returns the authenticated caller
func PrincipalFromGinContext(c *gin.Context) (rbac.Principal, error) {
	userID, err := GetUserFromGinContext(c)
	if err != nil {
		return rbac.Principal{}, err
	}
	role, err := GetRoleFromGinContext(c)
	if err != nil {
		return rbac.Principal{}, err
	}
	return rbac.Principal{UserID: userID, Role: role}, nil
}
