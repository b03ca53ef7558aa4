package main

import (
	"servicecenter-platform/internal/httpapi"
	"servicecenter-platform/internal/rbac"

	"github.com/gin-gonic/gin"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, authMW gin.HandlerFunc, h httpapi.Handlers) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// protected API group
	v1 := r.Group("/v1")
	v1.Use(authMW)
	{
		// AUTH routes (token issuance for already-authenticated identities).
		authGroup := v1.Group("/auth")
		{
			authGroup.POST("/token", h.Login)
		}

		// TELEPHONY routes: read model plus validated call manipulations.
		tel := v1.Group("/telephony/sessions/:session_id")
		{
			tel.GET("/state", h.GetTelephonyState)
			tel.POST("/forward", h.ForwardCall)
			tel.POST("/hangup", h.HangupChannel)
			tel.POST("/switch", h.SwitchChannel)
			tel.POST("/outbound", h.StartOutboundCall)
		}

		// AGENT SESSION routes
		sessions := v1.Group("/agent-sessions")
		{
			sessions.POST("", h.StartAgentSession)
			sessions.GET("/:session_id", h.GetAgentSession)
			sessions.DELETE("/:session_id", h.EndAgentSession)
			sessions.POST("/:session_id/telephony", h.AttachTelephony)
			sessions.DELETE("/:session_id/telephony", h.DetachTelephony)
			sessions.PUT("/:session_id/automatic-assignment", h.SetAutomaticAssignment)

			// Forced end releases or closes every blocking case first.
			sessions.POST("/:session_id/force-end",
				rbac.RequireAnyRole(rbac.RoleSupervisor),
				h.ForceEndAgentSession,
			)
		}

		// CASE routes
		caseGroup := v1.Group("/cases")
		{
			caseGroup.POST("", h.CreateCase)
			caseGroup.GET("/:case_id/state", h.GetCaseState)
			caseGroup.POST("/:case_id/start", h.StartCase)
			caseGroup.POST("/:case_id/pause", h.PauseCase)
			caseGroup.POST("/:case_id/resume", h.ResumeCase)
			caseGroup.POST("/:case_id/close", h.CloseCase)
			caseGroup.POST("/:case_id/result", h.SetCaseResult)
			caseGroup.POST("/:case_id/unassign", h.UnassignCase)
			caseGroup.POST("/:case_id/reassign",
				rbac.RequireAnyRole(rbac.RoleSupervisor),
				h.ReassignCase,
			)
		}

		// SCHEDULER routes
		sched := v1.Group("/scheduler")
		sched.Use(rbac.RequireAnyRole(rbac.RoleSupervisor, rbac.RoleScheduler))
		{
			sched.POST("/sweep", h.TriggerSweep)
		}
	}
}
