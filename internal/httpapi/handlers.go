package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"servicecenter-platform/internal/agentsession"
	"servicecenter-platform/internal/audit"
	"servicecenter-platform/internal/auth"
	"servicecenter-platform/internal/cases"
	"servicecenter-platform/internal/locking"
	"servicecenter-platform/internal/scheduler"
	"servicecenter-platform/internal/telephony"
	"servicecenter-platform/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Auth      *auth.Manager
	Sessions  *agentsession.Service
	Cases     *cases.Service
	Scheduler *scheduler.Scheduler
	Events    telephony.EventSource
	Telephony *telephony.Actions
	Audit     *audit.Service
}

// --- Auth ---

type loginRequest struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

// Login issues a JWT token pair.
//
// NOTE: Credential validation happens upstream (SSO); this endpoint only
// mints service tokens for an already-authenticated identity.
func (h Handlers) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.UserID == "" || req.Role == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user_id and role required"})
		return
	}
	pair, err := h.Auth.IssuePair(time.Now(), req.UserID, req.Role)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": pair.AccessToken, "refresh_token": pair.RefreshToken})
}

// --- Telephony ---

func (h Handlers) GetTelephonyState(c *gin.Context) {
	sessionID := c.Param("session_id")
	history, err := h.Events.EventHistory(c.Request.Context(), sessionID)
	if err != nil {
		abortWith(c, err)
		return
	}
	st, err := telephony.Project(sessionID, history)
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

type forwardRequest struct {
	ChannelID     string `json:"channel_id"`
	ForwardNumber string `json:"forward_number"`
}

func (h Handlers) ForwardCall(c *gin.Context) {
	var req forwardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if err := h.Telephony.Forward(c.Request.Context(), c.Param("session_id"), req.ChannelID, req.ForwardNumber); err != nil {
		abortWith(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

type hangupRequest struct {
	ChannelID string `json:"channel_id"`
}

func (h Handlers) HangupChannel(c *gin.Context) {
	var req hangupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if err := h.Telephony.Hangup(c.Request.Context(), c.Param("session_id"), req.ChannelID); err != nil {
		abortWith(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

type switchRequest struct {
	FromChannelID string `json:"from_channel_id"`
	ToChannelID   string `json:"to_channel_id"`
}

func (h Handlers) SwitchChannel(c *gin.Context) {
	var req switchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if err := h.Telephony.Switch(c.Request.Context(), c.Param("session_id"), req.FromChannelID, req.ToChannelID); err != nil {
		abortWith(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

type outboundRequest struct {
	RemoteNumber string `json:"remote_number"`
	CompanyID    string `json:"company_id,omitempty"`
}

func (h Handlers) StartOutboundCall(c *gin.Context) {
	var req outboundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if err := h.Telephony.StartOutbound(c.Request.Context(), c.Param("session_id"), req.RemoteNumber, req.CompanyID); err != nil {
		abortWith(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

// --- Agent sessions ---

type startSessionRequest struct {
	PhoneDeviceID           string   `json:"phone_device_id"`
	AutomaticallyAssignCase bool     `json:"automatically_assign_case"`
	Priority                *int     `json:"priority,omitempty"`
	WorkGroups              []string `json:"work_groups"`
}

func (h Handlers) StartAgentSession(c *gin.Context) {
	userID, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user_id required"})
		return
	}
	var req startSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	s, err := h.Sessions.StartSession(c.Request.Context(), agentsession.StartSessionParams{
		UserID:                  userID,
		PhoneDeviceID:           req.PhoneDeviceID,
		AutomaticallyAssignCase: req.AutomaticallyAssignCase,
		Priority:                req.Priority,
		WorkGroups:              req.WorkGroups,
	})
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusCreated, s)
}

func (h Handlers) GetAgentSession(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("session_id")
	s, err := h.Sessions.Get(ctx, id)
	if err != nil {
		abortWith(c, err)
		return
	}
	var current *agentsession.LogEntry
	log, err := h.Sessions.Current(ctx, id)
	switch {
	case err == nil:
		current = &log
	case errors.Is(err, agentsession.ErrNotFound), errors.Is(err, agentsession.ErrSessionEnded):
		// Ended sessions have no current entry; report the session anyway.
	default:
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": s, "current": current})
}

func (h Handlers) EndAgentSession(c *gin.Context) {
	if err := h.Sessions.EndSession(c.Request.Context(), c.Param("session_id")); err != nil {
		var blocked *agentsession.BlockedByCasesError
		if errors.As(err, &blocked) {
			c.AbortWithStatusJSON(http.StatusConflict, gin.H{
				"error":    "assigned cases block session end",
				"case_ids": blocked.CaseIDs,
			})
			return
		}
		abortWith(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ForceEndAgentSession closes or releases every blocking case, then ends
// the session. RBAC: supervisor or super_admin.
func (h Handlers) ForceEndAgentSession(c *gin.Context) {
	sessionID := c.Param("session_id")
	if err := h.Sessions.ForceEndSession(c.Request.Context(), sessionID, h.Cases); err != nil {
		abortWith(c, err)
		return
	}
	h.auditLog(c, func(ctx context.Context, actor actorInfo) error {
		return h.Audit.LogForceEndSession(ctx, actor.userID, actor.role, actor.ip, sessionID, "forced session end")
	})
	c.Status(http.StatusNoContent)
}

type attachTelephonyRequest struct {
	TelephonySessionID string `json:"telephony_session_id"`
}

func (h Handlers) AttachTelephony(c *gin.Context) {
	var req attachTelephonyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.TelephonySessionID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "telephony_session_id required"})
		return
	}
	if err := h.Sessions.AttachTelephony(c.Request.Context(), c.Param("session_id"), req.TelephonySessionID); err != nil {
		abortWith(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h Handlers) DetachTelephony(c *gin.Context) {
	if err := h.Sessions.DetachTelephony(c.Request.Context(), c.Param("session_id")); err != nil {
		abortWith(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type assignmentModeRequest struct {
	Enabled  bool `json:"enabled"`
	Priority *int `json:"priority,omitempty"`
}

func (h Handlers) SetAutomaticAssignment(c *gin.Context) {
	var req assignmentModeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if err := h.Sessions.SetAutomaticAssignment(c.Request.Context(), c.Param("session_id"), req.Enabled, req.Priority); err != nil {
		abortWith(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// --- Cases ---

type createCaseRequest struct {
	Source             string `json:"source"`
	CaseType           string `json:"case_type"`
	WorkGroup          string `json:"work_group"`
	TelephonySessionID string `json:"telephony_session_id,omitempty"`
	Priority           *int   `json:"priority,omitempty"`
}

func (h Handlers) CreateCase(c *gin.Context) {
	var req createCaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	created, err := h.Cases.CreateCase(c.Request.Context(), cases.CreateCaseParams{
		Source:             cases.Source(req.Source),
		CaseType:           req.CaseType,
		WorkGroup:          req.WorkGroup,
		TelephonySessionID: req.TelephonySessionID,
		Priority:           req.Priority,
	})
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (h Handlers) GetCaseState(c *gin.Context) {
	st, err := h.Cases.State(c.Request.Context(), c.Param("case_id"))
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

type startCaseRequest struct {
	AgentSessionID string `json:"agent_session_id"`
}

func (h Handlers) StartCase(c *gin.Context) {
	var req startCaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.AgentSessionID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "agent_session_id required"})
		return
	}
	if err := h.Cases.StartCase(c.Request.Context(), c.Param("case_id"), req.AgentSessionID); err != nil {
		abortWith(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h Handlers) PauseCase(c *gin.Context) {
	if err := h.Cases.PauseCase(c.Request.Context(), c.Param("case_id")); err != nil {
		abortWith(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h Handlers) ResumeCase(c *gin.Context) {
	if err := h.Cases.ResumeCase(c.Request.Context(), c.Param("case_id")); err != nil {
		abortWith(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h Handlers) CloseCase(c *gin.Context) {
	if err := h.Cases.CloseCase(c.Request.Context(), c.Param("case_id")); err != nil {
		abortWith(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type setResultRequest struct {
	LeadID        string `json:"lead_id,omitempty"`
	AppointmentID string `json:"appointment_id,omitempty"`
	GarbageReason string `json:"garbage_reason,omitempty"`
}

func (h Handlers) SetCaseResult(c *gin.Context) {
	var req setResultRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	err := h.Cases.SetResult(c.Request.Context(), c.Param("case_id"), cases.Result{
		LeadID:        req.LeadID,
		AppointmentID: req.AppointmentID,
		GarbageReason: req.GarbageReason,
	})
	if err != nil {
		abortWith(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h Handlers) UnassignCase(c *gin.Context) {
	if err := h.Cases.Unassign(c.Request.Context(), c.Param("case_id")); err != nil {
		var denied *cases.UnassignDeniedError
		if errors.As(err, &denied) {
			c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "unassignment denied", "reason": denied.Reason})
			return
		}
		abortWith(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type reassignRequest struct {
	AgentSessionID string `json:"agent_session_id"`
}

func (h Handlers) ReassignCase(c *gin.Context) {
	var req reassignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.AgentSessionID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "agent_session_id required"})
		return
	}
	caseID := c.Param("case_id")
	if err := h.Cases.Reassign(c.Request.Context(), caseID, req.AgentSessionID); err != nil {
		abortWith(c, err)
		return
	}
	h.auditLog(c, func(ctx context.Context, actor actorInfo) error {
		return h.Audit.LogReassign(ctx, actor.userID, actor.role, actor.ip, caseID, req.AgentSessionID)
	})
	c.Status(http.StatusNoContent)
}

// --- Scheduler ---

// TriggerSweep runs one assignment sweep and reports the per-phase counts.
// RBAC: supervisor, super_admin or the scheduler machine role.
func (h Handlers) TriggerSweep(c *gin.Context) {
	sum, err := h.Scheduler.Sweep(c.Request.Context())
	if err != nil {
		abortWith(c, err)
		return
	}
	h.auditLog(c, func(ctx context.Context, actor actorInfo) error {
		summary, _ := json.Marshal(sum)
		return h.Audit.LogSweep(ctx, actor.userID, actor.role, actor.ip, string(summary))
	})
	c.JSON(http.StatusOK, sum)
}

type actorInfo struct {
	userID string
	role   string
	ip     string
}

// auditLog records a privileged action. Best-effort: failures are logged,
// never surfaced to the caller.
func (h Handlers) auditLog(c *gin.Context, fn func(ctx context.Context, actor actorInfo) error) {
	if h.Audit == nil {
		return
	}
	ctx := c.Request.Context()
	userID, _ := auth.UserID(ctx)
	role, _ := auth.Role(ctx)
	actor := actorInfo{userID: userID, role: role, ip: c.ClientIP()}
	if err := fn(ctx, actor); err != nil {
		logger.FromGin(c).Warn("audit append failed", "err", err)
	}
}

// abortWith maps service errors onto HTTP statuses. Expected-flow failures
// become 4xx; anything unrecognized is a 500 with no internals leaked.
func abortWith(c *gin.Context, err error) {
	switch {
	case errors.Is(err, cases.ErrNotFound),
		errors.Is(err, agentsession.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, cases.ErrInvalidArgument),
		errors.Is(err, agentsession.ErrPriorityRequired),
		errors.Is(err, agentsession.ErrPriorityForbidden),
		errors.Is(err, telephony.ErrChannelNotVisible),
		errors.Is(err, telephony.ErrChannelNotAnswered):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, locking.ErrLocked),
		errors.Is(err, cases.ErrCaseAlreadyAssigned),
		errors.Is(err, cases.ErrCaseNotAssigned),
		errors.Is(err, cases.ErrCaseNotPaused),
		errors.Is(err, cases.ErrCaseClosed),
		errors.Is(err, cases.ErrAgentBusy),
		errors.Is(err, cases.ErrAgentOnCall),
		errors.Is(err, cases.ErrResultAlreadySet),
		errors.Is(err, cases.ErrResultMissing),
		errors.Is(err, agentsession.ErrSessionEnded),
		errors.Is(err, agentsession.ErrTelephonyAlreadyAttached),
		errors.Is(err, agentsession.ErrTelephonyNotAttached),
		errors.Is(err, telephony.ErrCallForwarded):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		_ = c.Error(err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
