package handlers

import (
	"errors"
	"net/http"

	"rutatotal_backend/internal/middleware"
	"rutatotal_backend/internal/models"
	"rutatotal_backend/internal/services"
	"rutatotal_backend/pkg/utils"

	"github.com/gin-gonic/gin"
)

// AuthHandler holds the auth service.
type AuthHandler struct {
	authService services.AuthService
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(as services.AuthService) *AuthHandler {
	return &AuthHandler{authService: as}
}

type oauthLoginRequest struct {
	IDToken string `json:"id_token" binding:"required"`
}

type pinLoginRequest struct {
	PIN string `json:"pin" binding:"required"`
}

// identityContext parses the :ctx path parameter. The identity context is
// always explicit in the URL, never inferred from session state.
func identityContext(c *gin.Context) (models.IdentityContext, bool) {
	identityCtx, err := models.ParseIdentityContext(c.Param("ctx"))
	if err != nil {
		utils.RespondWithError(c, utils.NewAPIError(http.StatusBadRequest, utils.ErrCodeBadRequest, "Unknown identity context.", err.Error()))
		return "", false
	}
	return identityCtx, true
}

// LoginWithOAuth resolves an OAuth identity token against the allow-list.
func (h *AuthHandler) LoginWithOAuth(c *gin.Context) {
	identityCtx, ok := identityContext(c)
	if !ok {
		return
	}
	var req oauthLoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.RespondValidationFailed(c, err.Error())
		return
	}

	resp, err := h.authService.LoginWithOAuth(c.Request.Context(), identityCtx, req.IDToken)
	if err != nil {
		utils.LogError(err, "LoginWithOAuth failed")
		if errors.Is(err, services.ErrUnauthorized) {
			utils.RespondWithError(c, utils.NewAPIError(http.StatusForbidden, utils.ErrCodeUnauthorized, "Account is not authorized for this dashboard.", ""))
		} else if errors.Is(err, services.ErrInvalidCredential) {
			utils.RespondWithError(c, utils.NewAPIError(http.StatusUnauthorized, utils.ErrCodeInvalidCredential, "Identity token could not be verified.", ""))
		} else {
			utils.RespondWithError(c, utils.NewAPIError(http.StatusInternalServerError, utils.ErrCodeInternalServerError, "Login failed.", "Internal error"))
		}
		return
	}
	c.JSON(http.StatusOK, resp)
}

// LoginWithPIN resolves a shared PIN against the staff_access roster.
func (h *AuthHandler) LoginWithPIN(c *gin.Context) {
	identityCtx, ok := identityContext(c)
	if !ok {
		return
	}
	var req pinLoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.RespondValidationFailed(c, err.Error())
		return
	}

	resp, err := h.authService.LoginWithPIN(c.Request.Context(), identityCtx, req.PIN)
	if err != nil {
		utils.LogError(err, "LoginWithPIN failed")
		if errors.Is(err, services.ErrInvalidCredential) {
			utils.RespondWithError(c, utils.NewAPIError(http.StatusUnauthorized, utils.ErrCodeInvalidCredential, "PIN does not match any roster entry.", ""))
		} else {
			utils.RespondWithError(c, utils.NewAPIError(http.StatusInternalServerError, utils.ErrCodeInternalServerError, "Login failed.", "Internal error"))
		}
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Logout tears down the caller's session in the named context only.
func (h *AuthHandler) Logout(c *gin.Context) {
	identityCtx, ok := identityContext(c)
	if !ok {
		return
	}
	principal, ok := middleware.GetPrincipal(c)
	if !ok {
		utils.RespondWithError(c, utils.NewAPIError(http.StatusUnauthorized, utils.ErrCodeUnauthorized, "Authentication required.", ""))
		return
	}
	if principal.Context != identityCtx {
		utils.RespondWithError(c, utils.NewAPIError(http.StatusBadRequest, utils.ErrCodeBadRequest, "Token was issued for a different identity context.", ""))
		return
	}

	if err := h.authService.Logout(c.Request.Context(), identityCtx, principal.SessionID); err != nil {
		utils.LogError(err, "Logout failed")
		utils.RespondWithError(c, utils.NewAPIError(http.StatusInternalServerError, utils.ErrCodeInternalServerError, "Logout failed.", "Internal error"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"logged_out": true, "context": identityCtx})
}

// GetCurrentSession returns the caller's resolved session.
func (h *AuthHandler) GetCurrentSession(c *gin.Context) {
	principal, ok := middleware.GetPrincipal(c)
	if !ok {
		utils.RespondWithError(c, utils.NewAPIError(http.StatusUnauthorized, utils.ErrCodeUnauthorized, "Authentication required.", ""))
		return
	}

	session, err := h.authService.GetSession(principal.SessionID)
	if err != nil {
		if errors.Is(err, services.ErrSessionNotFound) {
			utils.RespondWithError(c, utils.NewAPIError(http.StatusUnauthorized, utils.ErrCodeUnauthorized, "Session no longer exists.", ""))
			return
		}
		utils.LogError(err, "GetCurrentSession failed")
		utils.RespondWithError(c, utils.NewAPIError(http.StatusInternalServerError, utils.ErrCodeInternalServerError, "Failed to fetch session.", "Internal error"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"principal": principal, "session": session})
}

// GetPreferences returns the persisted last-used display role and courier name.
func (h *AuthHandler) GetPreferences(c *gin.Context) {
	principal, ok := middleware.GetPrincipal(c)
	if !ok {
		utils.RespondWithError(c, utils.NewAPIError(http.StatusUnauthorized, utils.ErrCodeUnauthorized, "Authentication required.", ""))
		return
	}
	session, err := h.authService.GetSession(principal.SessionID)
	if err != nil {
		if errors.Is(err, services.ErrSessionNotFound) {
			utils.RespondWithError(c, utils.NewAPIError(http.StatusUnauthorized, utils.ErrCodeUnauthorized, "Session no longer exists.", ""))
			return
		}
		utils.LogError(err, "GetPreferences failed")
		utils.RespondWithError(c, utils.NewAPIError(http.StatusInternalServerError, utils.ErrCodeInternalServerError, "Failed to fetch preferences.", "Internal error"))
		return
	}

	prefs := models.Preferences{}
	if session.LastRole != nil {
		prefs.Role = *session.LastRole
	}
	if session.LastStaffName != nil {
		prefs.StaffName = *session.LastStaffName
	}
	c.JSON(http.StatusOK, prefs)
}

// UpdatePreferences replaces the persisted display preferences.
func (h *AuthHandler) UpdatePreferences(c *gin.Context) {
	principal, ok := middleware.GetPrincipal(c)
	if !ok {
		utils.RespondWithError(c, utils.NewAPIError(http.StatusUnauthorized, utils.ErrCodeUnauthorized, "Authentication required.", ""))
		return
	}
	var prefs models.Preferences
	if err := c.ShouldBindJSON(&prefs); err != nil {
		utils.RespondValidationFailed(c, err.Error())
		return
	}

	if err := h.authService.UpdatePreferences(principal.SessionID, prefs); err != nil {
		if errors.Is(err, services.ErrSessionNotFound) {
			utils.RespondWithError(c, utils.NewAPIError(http.StatusUnauthorized, utils.ErrCodeUnauthorized, "Session no longer exists.", ""))
			return
		}
		utils.LogError(err, "UpdatePreferences failed")
		utils.RespondWithError(c, utils.NewAPIError(http.StatusInternalServerError, utils.ErrCodeInternalServerError, "Failed to update preferences.", "Internal error"))
		return
	}
	c.JSON(http.StatusOK, prefs)
}
