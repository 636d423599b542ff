package handlers

import (
	"io"

	"rutatotal_backend/internal/middleware"
	"rutatotal_backend/internal/models"
	"rutatotal_backend/internal/services"

	"github.com/gin-gonic/gin"
)

// StreamHandler serves the Server-Sent-Event endpoints that push full
// projected snapshots to connected dashboards and delivery devices.
type StreamHandler struct {
	orderService services.OrderService
}

// NewStreamHandler creates a new StreamHandler.
func NewStreamHandler(os services.OrderService) *StreamHandler {
	return &StreamHandler{orderService: os}
}

// StreamOrders pushes the caller's projected active-order view on every
// store change. The first event fires immediately with the current snapshot.
func (h *StreamHandler) StreamOrders(c *gin.Context) {
	principal, _ := middleware.GetPrincipal(c)

	updates := make(chan models.OrderView, 1)
	unsubscribe := h.orderService.SubscribeToOrders(principal, func(snapshot models.OrderSnapshot) {
		view := services.ProjectActiveOrders(snapshot, principal.Role, principal.Name)
		pushLatest(updates, view)
	})
	defer unsubscribe()

	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Stream(func(w io.Writer) bool {
		select {
		case view := <-updates:
			c.SSEvent("orders", view)
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

// StreamStaffRoster pushes the courier roster on every change.
func (h *StreamHandler) StreamStaffRoster(c *gin.Context) {
	principal, _ := middleware.GetPrincipal(c)

	updates := make(chan []string, 1)
	unsubscribe := h.orderService.SubscribeToStaffRoster(principal, func(list []string) {
		pushLatest(updates, list)
	})
	defer unsubscribe()

	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Stream(func(w io.Writer) bool {
		select {
		case list := <-updates:
			c.SSEvent("staff", gin.H{"list": list})
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

// pushLatest replaces any pending, unconsumed event with the newest one.
// A slow consumer only ever misses intermediate snapshots, never the final
// state: each event carries the entire collection.
func pushLatest[T any](ch chan T, v T) {
	for {
		select {
		case ch <- v:
			return
		default:
			select {
			case <-ch:
			default:
			}
		}
	}
}
