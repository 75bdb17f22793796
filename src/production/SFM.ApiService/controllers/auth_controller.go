package controllers

import (
	"errors"
	"net/http"
	"time"

	service "gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.ApiService/implementation/auth"
	"gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.ApiService/middleware"
	auth_models "gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.Models/auth"

	"github.com/gin-gonic/gin"
)

const refreshCookie = "refresh_token"

// AuthController handles authentication requests
type AuthController struct {
	authService    *service.AuthService
	authMiddleware *middleware.AuthMiddleware
	secureCookies  bool
}

// NewAuthController creates a new auth controller
func NewAuthController(authService *service.AuthService, authMiddleware *middleware.AuthMiddleware, secureCookies bool) *AuthController {
	return &AuthController{
		authService:    authService,
		authMiddleware: authMiddleware,
		secureCookies:  secureCookies,
	}
}

// RegisterRoutes registers the auth routes with Gin
func (h *AuthController) RegisterRoutes(router *gin.Engine) {
	auth := router.Group("/api/auth")
	{
		auth.POST("/register", h.Register)
		auth.POST("/login", h.Login)
		auth.POST("/refresh", h.RefreshTokens)
		auth.POST("/logout", h.Logout)
	}

	protected := auth.Group("", h.authMiddleware.Authenticate())
	{
		protected.GET("/profile", h.Profile)
		protected.PATCH("/profile", h.UpdateProfile)
	}

	adminOnly := auth.Group("", h.authMiddleware.Authenticate(), h.authMiddleware.RequireAdmin())
	{
		adminOnly.POST("/register/admin", h.RegisterAdmin)
	}
}

func (h *AuthController) register(c *gin.Context, role string) {
	var req auth_models.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user, err := h.authService.Register(c.Request.Context(), req, role)
	if err != nil {
		respondError(c, err, "")
		return
	}

	c.JSON(http.StatusCreated, user)
}

// Register creates a regular user account
func (h *AuthController) Register(c *gin.Context) {
	h.register(c, auth_models.RoleUser)
}

// RegisterAdmin creates an admin account
func (h *AuthController) RegisterAdmin(c *gin.Context) {
	h.register(c, auth_models.RoleAdmin)
}

func (h *AuthController) setRefreshCookie(c *gin.Context, token string, maxAge int) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(refreshCookie, token, maxAge, "/api/auth", "", h.secureCookies, true)
}

// Login handles user login
func (h *AuthController) Login(c *gin.Context) {
	var req auth_models.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	response, err := h.authService.Login(c.Request.Context(), req)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	h.setRefreshCookie(c, response.RefreshToken, int(7*24*time.Hour/time.Second))
	c.JSON(http.StatusOK, response)
}

// RefreshTokens accepts the refresh token from the body or the cookie
func (h *AuthController) RefreshTokens(c *gin.Context) {
	var req auth_models.RefreshRequest
	token := ""
	if err := c.ShouldBindJSON(&req); err == nil {
		token = req.RefreshToken
	}
	if token == "" {
		cookie, err := c.Cookie(refreshCookie)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "refresh token not found"})
			return
		}
		token = cookie
	}

	response, err := h.authService.RefreshTokens(c.Request.Context(), token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}

	h.setRefreshCookie(c, response.RefreshToken, int(7*24*time.Hour/time.Second))
	c.JSON(http.StatusOK, response)
}

// Logout clears the refresh cookie
func (h *AuthController) Logout(c *gin.Context) {
	h.setRefreshCookie(c, "", -1)
	c.JSON(http.StatusOK, gin.H{"message": "Logged out successfully"})
}

// Profile retrieves the authenticated user's profile
func (h *AuthController) Profile(c *gin.Context) {
	userID, err := middleware.GetUserFromGinContext(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	user, err := h.authService.GetUserByID(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err, "user not found")
		return
	}
	c.JSON(http.StatusOK, user)
}

// UpdateProfile handles updating the authenticated user's profile
func (h *AuthController) UpdateProfile(c *gin.Context) {
	userID, err := middleware.GetUserFromGinContext(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var req auth_models.ProfileUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user, err := h.authService.UpdateProfile(c.Request.Context(), userID, req)
	if err != nil {
		respondError(c, err, "user not found")
		return
	}
	c.JSON(http.StatusOK, user)
}
