package controllers

import (
	"net/http"

	service "gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.ApiService/implementation/auth"
	"gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.ApiService/middleware"

	"github.com/gin-gonic/gin"
)

// UserController handles user management requests
type UserController struct {
	userService    *service.UserService
	authMiddleware *middleware.AuthMiddleware
}

// NewUserController creates a new user controller
func NewUserController(userService *service.UserService, authMiddleware *middleware.AuthMiddleware) *UserController {
	return &UserController{userService: userService, authMiddleware: authMiddleware}
}

// RegisterRoutes registers the user routes with Gin
func (h *UserController) RegisterRoutes(router *gin.Engine) {
	users := router.Group("/api/users", h.authMiddleware.Authenticate())
	{
		users.GET("", h.authMiddleware.RequireAdmin(), h.GetAllUsers)
		// admin or the user themselves
		users.GET("/:id", h.GetUserByID)
		users.PATCH("/:id/role", h.authMiddleware.RequireAdmin(), h.UpdateUserRole)
		users.DELETE("/:id", h.authMiddleware.RequireAdmin(), h.DeleteUser)
	}
}

// GetAllUsers retrieves all users
func (h *UserController) GetAllUsers(c *gin.Context) {
	users, err := h.userService.GetAllUsers(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, users)
}

// GetUserByID retrieves a user by ID
func (h *UserController) GetUserByID(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	userID := c.Param("id")
	if err := h.authMiddleware.Authorizer().RequireOwnerOrAdmin(p, userID); err != nil {
		respondError(c, err, "")
		return
	}

	user, err := h.userService.GetUserByID(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err, "user not found")
		return
	}
	c.JSON(http.StatusOK, user)
}

type updateRoleRequest struct {
	Role string `json:"role" binding:"required"`
}

// UpdateUserRole changes a user's role
func (h *UserController) UpdateUserRole(c *gin.Context) {
	var req updateRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user, err := h.userService.UpdateUserRole(c.Request.Context(), c.Param("id"), req.Role)
	if err != nil {
		respondError(c, err, "user not found")
		return
	}
	c.JSON(http.StatusOK, user)
}

// DeleteUser deletes a user and the devices they own
func (h *UserController) DeleteUser(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	if p.UserID == c.Param("id") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot delete your own account"})
		return
	}

	if err := h.userService.DeleteUser(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err, "user not found")
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
