package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/peergrid/confab/internal/app"
	"github.com/peergrid/confab/internal/directory"
	"github.com/peergrid/confab/internal/domain"
)

type handlers struct {
	deps Deps
}

func respondErr(c *gin.Context, err error) {
	switch {
	case errors.Is(err, app.ErrNotAllowed):
		c.JSON(http.StatusForbidden, gin.H{"error": "not allowed"})
	case errors.Is(err, directory.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "meeting not found"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// createMeeting registers a meeting and mints its host token. Who may
// create meetings is an identity-provider concern outside this plane.
func (h *handlers) createMeeting(c *gin.Context) {
	var req struct {
		HostID        string `json:"hostId" binding:"required"`
		HostName      string `json:"hostName"`
		Title         string `json:"title"`
		LobbyRequired bool   `json:"lobbyRequired"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	m, err := domain.NewMeeting(domain.ParticipantID(req.HostID), req.Title, req.LobbyRequired)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.deps.Meetings.Create(c.Request.Context(), m); err != nil {
		respondErr(c, err)
		return
	}
	host, err := domain.NewPrincipal(m.HostID, domain.RoleHost, req.HostName)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	token, err := h.deps.Tokens.Issue(host, m.ID)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"meeting": m, "hostToken": token})
}

// issueToken mints a meeting-scoped token for another participant. Only the
// meeting's host or an admin may issue; host and admin roles cannot be
// granted this way.
func (h *handlers) issueToken(c *gin.Context) {
	claims := claimsFrom(c)
	mid := domain.MeetingID(c.Param("id"))

	m, err := h.deps.Meetings.Find(c.Request.Context(), mid)
	if err != nil {
		respondErr(c, err)
		return
	}
	actor := claims.Principal
	if actor.Role != domain.RoleAdmin && (actor.ID != m.HostID || claims.MeetingID != mid) {
		respondErr(c, app.ErrNotAllowed)
		return
	}

	var req struct {
		ParticipantID string `json:"participantId" binding:"required"`
		Role          string `json:"role"`
		DisplayName   string `json:"displayName"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	role := domain.Role(req.Role)
	if role != domain.RoleUser {
		role = domain.RoleGuest
	}
	p, err := domain.NewPrincipal(domain.ParticipantID(req.ParticipantID), role, req.DisplayName)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	token, err := h.deps.Tokens.Issue(p, mid)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token})
}

func (h *handlers) roomSnapshot(c *gin.Context) {
	claims := claimsFrom(c)
	snap, err := h.deps.Gateway.Snapshot(c.Request.Context(), claims.Principal, domain.MeetingID(c.Param("id")))
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (h *handlers) lock(c *gin.Context) {
	claims := claimsFrom(c)
	var req struct {
		Locked bool `json:"locked"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	v, err := h.deps.Gateway.Lock(c.Request.Context(), claims.Principal, domain.MeetingID(c.Param("id")), req.Locked)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"locked": v})
}

type targetRequest struct {
	ParticipantID string `json:"participantId" binding:"required"`
}

func (h *handlers) admit(c *gin.Context) {
	claims := claimsFrom(c)
	var req targetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	ok, err := h.deps.Gateway.Admit(c.Request.Context(), claims.Principal,
		domain.MeetingID(c.Param("id")), domain.ParticipantID(req.ParticipantID))
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"admitted": ok})
}

func (h *handlers) deny(c *gin.Context) {
	claims := claimsFrom(c)
	var req targetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	ok, err := h.deps.Gateway.Deny(c.Request.Context(), claims.Principal,
		domain.MeetingID(c.Param("id")), domain.ParticipantID(req.ParticipantID))
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"denied": ok})
}

func (h *handlers) kick(c *gin.Context) {
	claims := claimsFrom(c)
	var req targetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	ok, err := h.deps.Gateway.Kick(c.Request.Context(), claims.Principal,
		domain.MeetingID(c.Param("id")), domain.ParticipantID(req.ParticipantID))
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"kicked": ok})
}

func (h *handlers) mute(c *gin.Context) {
	claims := claimsFrom(c)
	var req struct {
		ParticipantID string `json:"participantId" binding:"required"`
		Muted         bool   `json:"muted"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	ok, err := h.deps.Gateway.SetMute(c.Request.Context(), claims.Principal,
		domain.MeetingID(c.Param("id")), domain.ParticipantID(req.ParticipantID), req.Muted)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": ok})
}
