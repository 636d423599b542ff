package handlers

import (
	"net/http"

	"rutatotal_backend/internal/middleware"
	"rutatotal_backend/internal/services"
	"rutatotal_backend/pkg/utils"

	"github.com/gin-gonic/gin"
)

// StaffHandler holds the order service (the roster lives behind the same
// store facade as the orders).
type StaffHandler struct {
	orderService services.OrderService
}

// NewStaffHandler creates a new StaffHandler.
func NewStaffHandler(os services.OrderService) *StaffHandler {
	return &StaffHandler{orderService: os}
}

type updateRosterRequest struct {
	List []string `json:"list" binding:"required"`
}

// GetStaffRoster returns the courier roster, seeding the default on first read.
func (h *StaffHandler) GetStaffRoster(c *gin.Context) {
	list, err := h.orderService.GetStaffRoster(c.Request.Context())
	if err != nil {
		utils.LogError(err, "GetStaffRoster failed")
		utils.RespondWithError(c, utils.NewAPIError(http.StatusInternalServerError, utils.ErrCodeInternalServerError, "Failed to fetch staff roster.", "Internal error"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"list": list})
}

// UpdateStaffRoster replaces the roster wholesale. Admin only.
func (h *StaffHandler) UpdateStaffRoster(c *gin.Context) {
	principal, _ := middleware.GetPrincipal(c)
	var req updateRosterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.RespondValidationFailed(c, err.Error())
		return
	}

	if err := h.orderService.UpdateStaffRoster(c.Request.Context(), principal, req.List); err != nil {
		utils.LogError(err, "UpdateStaffRoster failed")
		utils.RespondWithError(c, utils.NewAPIError(http.StatusInternalServerError, utils.ErrCodeWriteFailure, "The store rejected the roster update.", ""))
		return
	}
	c.JSON(http.StatusOK, gin.H{"list": req.List})
}
