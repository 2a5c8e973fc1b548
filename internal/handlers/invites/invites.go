// Package invites exposes organization invites over HTTP.
package invites

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/charleshuang3/onboard/internal/handlers/firewall"
	"github.com/charleshuang3/onboard/internal/handlers/middleware"
	"github.com/charleshuang3/onboard/internal/invite"
	"github.com/charleshuang3/onboard/internal/models"
)

var (
	logger = log.With().Str("component", "invites-api").Logger()
)

type Handlers struct {
	manager     *invite.Manager
	coordinator *invite.Coordinator
	auth        *middleware.Authenticator
}

func New(manager *invite.Manager, coordinator *invite.Coordinator, auth *middleware.Authenticator) *Handlers {
	return &Handlers{
		manager:     manager,
		coordinator: coordinator,
		auth:        auth,
	}
}

func (h *Handlers) RegisterHandlers(rg *gin.RouterGroup) {
	inviteRoutes := rg.Group("/invites")
	{
		// The invite token is the credential of these two.
		inviteRoutes.GET("/verify", h.handleVerify)
		inviteRoutes.POST("/redeem", h.handleRedeem)
	}

	adminRoutes := inviteRoutes.Group("", h.auth.RequireRequester())
	{
		adminRoutes.POST("", h.handleCreate)
		adminRoutes.GET("/pending", h.handleListPending)
		adminRoutes.POST("/:id/resend", h.handleResend)
		adminRoutes.POST("/:id/repair", h.handleRepair)
		adminRoutes.DELETE("/:id", h.handleCancel)
	}
}

// RequireAdmin rejects requesters that are not active organization admins.
// It runs after Authenticator.RequireRequester.
func (h *Handlers) RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, err := h.manager.RequireAdmin(c.Request.Context(), middleware.RequesterID(c)); err != nil {
			responseError(c, err)
			c.Abort()
			return
		}
		c.Next()
	}
}

type inviteResponse struct {
	ID             string     `json:"id"`
	OrganizationID string     `json:"organization_id"`
	Email          string     `json:"email"`
	Role           string     `json:"role"`
	InvitedBy      string     `json:"invited_by,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	ExpiresAt      time.Time  `json:"expires_at"`
	Used           bool       `json:"used"`
	UsedAt         *time.Time `json:"used_at,omitempty"`
}

func toInviteResponse(inv *models.Invite) *inviteResponse {
	return &inviteResponse{
		ID:             inv.ID,
		OrganizationID: inv.OrganizationID,
		Email:          inv.Email,
		Role:           inv.Role,
		InvitedBy:      inv.InvitedBy,
		CreatedAt:      inv.CreatedAt,
		ExpiresAt:      inv.ExpiresAt,
		Used:           inv.Used,
		UsedAt:         inv.UsedAt,
	}
}

type issuedResponse struct {
	Invite    *inviteResponse `json:"invite"`
	InviteURL string          `json:"invite_url"`
	Delivered bool            `json:"delivered"`
}

func toIssuedResponse(issued *invite.Issued) *issuedResponse {
	return &issuedResponse{
		Invite:    toInviteResponse(issued.Invite),
		InviteURL: issued.URL,
		Delivered: issued.Delivered(),
	}
}

type profileResponse struct {
	ID             string `json:"id"`
	OrganizationID string `json:"organization_id"`
	Email          string `json:"email"`
	Name           string `json:"name"`
	Role           string `json:"role"`
	IsActive       bool   `json:"is_active"`
}

var statusOfKind = map[invite.Kind]int{
	invite.KindValidation:       http.StatusBadRequest,
	invite.KindAuthorization:    http.StatusUnauthorized,
	invite.KindPermissionDenied: http.StatusForbidden,
	invite.KindNotFound:         http.StatusNotFound,
	invite.KindExpired:          http.StatusGone,
	invite.KindAlreadyUsed:      http.StatusConflict,
	invite.KindConflict:         http.StatusConflict,
	invite.KindPersistence:      http.StatusInternalServerError,
}

func responseError(c *gin.Context, err error) {
	kind := invite.KindOf(err)
	status, ok := statusOfKind[kind]
	if !ok {
		status = http.StatusInternalServerError
	}

	msg := http.StatusText(status)
	var e *invite.Error
	if errors.As(err, &e) && e.Msg != "" && status < http.StatusInternalServerError {
		msg = e.Msg
	}
	if status >= http.StatusInternalServerError {
		logger.Error().Err(err).Str("path", c.FullPath()).Msg("Invite request failed")
	}

	c.JSON(status, gin.H{
		"error":   kind,
		"message": msg,
	})
}

// responseTokenError is responseError for requests carrying an invite token,
// unknown, expired or used tokens are reported to the firewall.
func responseTokenError(c *gin.Context, err error) {
	switch invite.KindOf(err) {
	case invite.KindNotFound, invite.KindExpired, invite.KindAlreadyUsed:
		firewall.LogMaybeHack(c, "bad invite token: "+string(invite.KindOf(err)))
	}
	responseError(c, err)
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error":   invite.KindValidation,
		"message": msg,
	})
}

type handleVerifyParams struct {
	Token string `form:"token" binding:"required"`
}

func (h *Handlers) handleVerify(c *gin.Context) {
	params := &handleVerifyParams{}
	if err := c.ShouldBind(params); err != nil {
		badRequest(c, "Missing required parameters: "+err.Error())
		return
	}

	inv, err := h.manager.Verify(c.Request.Context(), params.Token)
	if err != nil {
		responseTokenError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"email":           inv.Email,
		"role":            inv.Role,
		"organization_id": inv.OrganizationID,
		"expires_at":      inv.ExpiresAt,
	})
}

type handleRedeemParams struct {
	Token    string `json:"token" binding:"required"`
	Name     string `json:"name" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (h *Handlers) handleRedeem(c *gin.Context) {
	params := &handleRedeemParams{}
	if err := c.ShouldBindJSON(params); err != nil {
		badRequest(c, "Missing required parameters: "+err.Error())
		return
	}

	p, err := h.coordinator.Redeem(c.Request.Context(), params.Token, params.Name, params.Password)
	if err != nil {
		responseTokenError(c, err)
		return
	}

	c.JSON(http.StatusOK, &profileResponse{
		ID:             p.ID,
		OrganizationID: p.OrganizationID,
		Email:          p.Email,
		Name:           p.Name,
		Role:           p.Role,
		IsActive:       p.IsActive,
	})
}

type handleCreateParams struct {
	Email string `json:"email" binding:"required"`
	Role  string `json:"role" binding:"required"`
}

func (h *Handlers) handleCreate(c *gin.Context) {
	params := &handleCreateParams{}
	if err := c.ShouldBindJSON(params); err != nil {
		badRequest(c, "Missing required parameters: "+err.Error())
		return
	}

	issued, err := h.manager.Create(c.Request.Context(), middleware.RequesterID(c), params.Email, params.Role)
	if err != nil {
		responseError(c, err)
		return
	}

	c.JSON(http.StatusCreated, toIssuedResponse(issued))
}

func (h *Handlers) handleListPending(c *gin.Context) {
	ctx := c.Request.Context()

	admin, err := h.manager.RequireAdmin(ctx, middleware.RequesterID(c))
	if err != nil {
		responseError(c, err)
		return
	}

	pending, err := h.manager.ListPending(ctx, admin.OrganizationID)
	if err != nil {
		responseError(c, err)
		return
	}

	res := make([]*inviteResponse, 0, len(pending))
	for _, inv := range pending {
		res = append(res, toInviteResponse(inv))
	}
	c.JSON(http.StatusOK, gin.H{"invites": res})
}

func (h *Handlers) handleResend(c *gin.Context) {
	issued, err := h.manager.Resend(c.Request.Context(), middleware.RequesterID(c), c.Param("id"))
	if err != nil {
		responseError(c, err)
		return
	}

	c.JSON(http.StatusOK, toIssuedResponse(issued))
}

func (h *Handlers) handleCancel(c *gin.Context) {
	if err := h.manager.Cancel(c.Request.Context(), middleware.RequesterID(c), c.Param("id")); err != nil {
		responseError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *Handlers) handleRepair(c *gin.Context) {
	outcome, err := h.manager.Repair(c.Request.Context(), middleware.RequesterID(c), c.Param("id"))
	if err != nil {
		responseError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"action":  outcome.Action,
		"message": outcome.Message,
	})
}
