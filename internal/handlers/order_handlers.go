package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"rutatotal_backend/internal/docstore"
	"rutatotal_backend/internal/middleware"
	"rutatotal_backend/internal/models"
	"rutatotal_backend/internal/services"
	"rutatotal_backend/pkg/utils"

	"github.com/gin-gonic/gin"
)

// OrderHandler holds the order service.
type OrderHandler struct {
	orderService services.OrderService
}

// NewOrderHandler creates a new OrderHandler.
func NewOrderHandler(os services.OrderService) *OrderHandler {
	return &OrderHandler{orderService: os}
}

type createOrderRequest struct {
	ID         int64   `json:"id" binding:"required"`
	Repartidor *string `json:"repartidor"`
}

type assignOrderRequest struct {
	Repartidor *string `json:"repartidor"`
}

type incidentRequest struct {
	Text string `json:"text" binding:"required"`
}

func orderIDParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		utils.RespondWithError(c, utils.NewAPIError(http.StatusBadRequest, utils.ErrCodeBadRequest, "Order id must be an integer.", err.Error()))
		return 0, false
	}
	return id, true
}

// respondOrderMutationError maps facade errors onto the API error taxonomy.
// Store rejections surface explicitly; the visible order list only changes
// once the store pushes a new snapshot.
func respondOrderMutationError(c *gin.Context, err error, action string) {
	utils.LogError(err, action+" failed")
	switch {
	case errors.Is(err, services.ErrOrderNotFound) || errors.Is(err, docstore.ErrNotFound):
		utils.RespondWithError(c, utils.NewAPIError(http.StatusNotFound, utils.ErrCodeNotFound, "Order not found.", ""))
	case errors.Is(err, services.ErrUnauthorized):
		utils.RespondWithError(c, utils.NewAPIError(http.StatusUnauthorized, utils.ErrCodeUnauthorized, "Authentication required.", ""))
	case errors.Is(err, services.ErrTransactionFailure):
		utils.RespondWithError(c, utils.NewAPIError(http.StatusInternalServerError, utils.ErrCodeTransactionFailure, "Archive failed; no orders were moved.", ""))
	default:
		utils.RespondWithError(c, utils.NewAPIError(http.StatusInternalServerError, utils.ErrCodeWriteFailure, "The store rejected the write.", ""))
	}
}

// CreateOrder creates a new order, optionally pre-assigned to a courier.
func (h *OrderHandler) CreateOrder(c *gin.Context) {
	principal, _ := middleware.GetPrincipal(c)
	var req createOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.RespondValidationFailed(c, err.Error())
		return
	}

	order, err := h.orderService.CreateOrder(c.Request.Context(), principal, req.ID, req.Repartidor)
	if err != nil {
		respondOrderMutationError(c, err, "CreateOrder")
		return
	}
	c.JSON(http.StatusCreated, order)
}

// GetOrders returns the projected active view for the caller's role and name.
func (h *OrderHandler) GetOrders(c *gin.Context) {
	principal, _ := middleware.GetPrincipal(c)

	snapshot, err := h.orderService.GetOrders(c.Request.Context())
	if err != nil {
		utils.LogError(err, "GetOrders failed")
		utils.RespondWithError(c, utils.NewAPIError(http.StatusInternalServerError, utils.ErrCodeInternalServerError, "Failed to fetch orders.", "Internal error"))
		return
	}

	view := services.ProjectActiveOrders(snapshot, principal.Role, principal.Name)
	c.JSON(http.StatusOK, view)
}

// AssignOrder re-assigns an order; a null courier reverts it to nuevo.
func (h *OrderHandler) AssignOrder(c *gin.Context) {
	principal, _ := middleware.GetPrincipal(c)
	id, ok := orderIDParam(c)
	if !ok {
		return
	}
	var req assignOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.RespondValidationFailed(c, err.Error())
		return
	}

	if err := h.orderService.AssignOrder(c.Request.Context(), principal, id, req.Repartidor); err != nil {
		respondOrderMutationError(c, err, "AssignOrder")
		return
	}
	c.JSON(http.StatusOK, gin.H{"assigned": true})
}

// FinalizeOrder marks an order delivered.
func (h *OrderHandler) FinalizeOrder(c *gin.Context) {
	principal, _ := middleware.GetPrincipal(c)
	id, ok := orderIDParam(c)
	if !ok {
		return
	}

	if err := h.orderService.FinalizeOrder(c.Request.Context(), principal, id); err != nil {
		respondOrderMutationError(c, err, "FinalizeOrder")
		return
	}
	c.JSON(http.StatusOK, gin.H{"finalized": true})
}

// ReportIncident files an incident on an order, replacing any prior one.
func (h *OrderHandler) ReportIncident(c *gin.Context) {
	principal, _ := middleware.GetPrincipal(c)
	id, ok := orderIDParam(c)
	if !ok {
		return
	}
	var req incidentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.RespondValidationFailed(c, err.Error())
		return
	}

	if err := h.orderService.ReportIncident(c.Request.Context(), principal, id, req.Text); err != nil {
		respondOrderMutationError(c, err, "ReportIncident")
		return
	}
	c.JSON(http.StatusOK, gin.H{"reported": true})
}

// RespondToIncident records the control desk's answer to an incident.
func (h *OrderHandler) RespondToIncident(c *gin.Context) {
	principal, _ := middleware.GetPrincipal(c)
	id, ok := orderIDParam(c)
	if !ok {
		return
	}
	var req incidentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.RespondValidationFailed(c, err.Error())
		return
	}

	if err := h.orderService.RespondToIncident(c.Request.Context(), principal, id, req.Text); err != nil {
		respondOrderMutationError(c, err, "RespondToIncident")
		return
	}
	c.JSON(http.StatusOK, gin.H{"responded": true})
}

// DeleteOrder hard-deletes an order. Admin only.
func (h *OrderHandler) DeleteOrder(c *gin.Context) {
	principal, _ := middleware.GetPrincipal(c)
	id, ok := orderIDParam(c)
	if !ok {
		return
	}

	if err := h.orderService.DeleteOrder(c.Request.Context(), principal, id); err != nil {
		respondOrderMutationError(c, err, "DeleteOrder")
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

// ArchiveOrders moves every live order into the current month's archive
// partition and clears the monitor, as one atomic batch. Admin only.
func (h *OrderHandler) ArchiveOrders(c *gin.Context) {
	principal, _ := middleware.GetPrincipal(c)

	snapshot, err := h.orderService.GetOrders(c.Request.Context())
	if err != nil {
		utils.LogError(err, "ArchiveOrders: snapshot read failed")
		utils.RespondWithError(c, utils.NewAPIError(http.StatusInternalServerError, utils.ErrCodeInternalServerError, "Failed to read current orders.", "Internal error"))
		return
	}

	if err := h.orderService.ArchiveAndClearAllOrders(c.Request.Context(), principal, snapshot); err != nil {
		respondOrderMutationError(c, err, "ArchiveOrders")
		return
	}
	c.JSON(http.StatusOK, gin.H{"archived": len(snapshot)})
}

// GetHistory returns delivered and archived orders matching the search query.
func (h *OrderHandler) GetHistory(c *gin.Context) {
	orders, err := h.orderService.GetHistory(c.Request.Context(), c.Query("q"))
	if err != nil {
		utils.LogError(err, "GetHistory failed")
		utils.RespondWithError(c, utils.NewAPIError(http.StatusInternalServerError, utils.ErrCodeInternalServerError, "Failed to fetch history.", "Internal error"))
		return
	}
	if orders == nil {
		orders = []models.Order{}
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}
