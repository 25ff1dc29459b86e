package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/pablodelmoral/gritoncall/internal/audit"
	"github.com/pablodelmoral/gritoncall/internal/auth"
	"github.com/pablodelmoral/gritoncall/internal/coaching"
	"github.com/pablodelmoral/gritoncall/internal/dispatch"
	"github.com/pablodelmoral/gritoncall/internal/plans"
	"github.com/pablodelmoral/gritoncall/internal/rbac"
	"github.com/pablodelmoral/gritoncall/internal/reporting"
	"github.com/pablodelmoral/gritoncall/internal/scheduling"
	"github.com/pablodelmoral/gritoncall/internal/store"
	"github.com/pablodelmoral/gritoncall/pkg/logger"

	"github.com/gin-gonic/gin"
)

type ScheduleRunner interface {
	Run(ctx context.Context) (scheduling.Result, error)
}

type DispatchRunner interface {
	Run(ctx context.Context) (dispatch.Manifest, error)
}

type PreferenceStore interface {
	UpdateCallPreferences(ctx context.Context, userID string, prefs coaching.CallPreferences, at time.Time) error
}

type CoachLister interface {
	ListCoaches(ctx context.Context) ([]coaching.CoachProfile, error)
}

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Auth        *auth.Manager
	Scheduler   ScheduleRunner
	Dispatcher  DispatchRunner
	Plans       *plans.Service
	Preferences PreferenceStore
	Coaches     CoachLister
	Reporting   *reporting.Service
	Audit       *audit.Service // optional
}

func notConfigured(c *gin.Context, what string) {
	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": what + " not configured"})
}

// record appends an audit event for the authenticated caller. Failures are
// logged and never change the response.
func (h Handlers) record(c *gin.Context, t audit.EventType, userID, targetID, message string, metadata any) {
	if h.Audit == nil {
		return
	}
	ctx := c.Request.Context()
	sub, _ := auth.Subject(ctx)
	role, _ := auth.Role(ctx)
	actor := audit.Actor{Subject: sub, Role: role, IP: c.ClientIP()}
	if err := h.Audit.Record(ctx, actor, t, userID, targetID, message, metadata); err != nil {
		logger.FromGin(c).Warn("audit append failed", "type", t, "err", err)
	}
}

// --- Jobs ---

// ScheduleCalls runs one scan+schedule pass and returns its manifest.
func (h Handlers) ScheduleCalls(c *gin.Context) {
	if h.Scheduler == nil {
		notConfigured(c, "scheduler")
		return
	}
	h.record(c, audit.EventJobTriggered, "", "", "schedule-calls", nil)
	res, err := h.Scheduler.Run(c.Request.Context())
	if err != nil {
		logger.FromGin(c).Error("schedule calls failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, res)
}

// InitiateCalls runs one dispatch pass and returns its manifest.
func (h Handlers) InitiateCalls(c *gin.Context) {
	if h.Dispatcher == nil {
		notConfigured(c, "dispatcher")
		return
	}
	h.record(c, audit.EventJobTriggered, "", "", "initiate-calls", nil)
	res, err := h.Dispatcher.Run(c.Request.Context())
	if err != nil {
		logger.FromGin(c).Error("initiate calls failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, res)
}

// --- Tokens ---

type issueTokenRequest struct {
	Subject    string `json:"subject"`
	Role       string `json:"role"`
	TTLSeconds int    `json:"ttl_seconds,omitempty"`
}

// IssueToken mints a service token. RBAC: admin.
func (h Handlers) IssueToken(c *gin.Context) {
	if h.Auth == nil {
		notConfigured(c, "auth")
		return
	}
	var req issueTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if strings.TrimSpace(req.Subject) == "" || !rbac.Known(req.Role) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "subject and a known role required"})
		return
	}
	tok, err := h.Auth.Issue(time.Now(), req.Subject, req.Role, time.Duration(req.TTLSeconds)*time.Second)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	issuer, _ := auth.Subject(c.Request.Context())
	logger.FromGin(c).Info("service token issued", "subject", req.Subject, "role", req.Role, "issued_by", issuer)
	h.record(c, audit.EventTokenIssued, "", req.Subject, "service token issued", gin.H{"role": req.Role, "ttl_seconds": req.TTLSeconds})
	c.JSON(http.StatusOK, gin.H{"access_token": tok})
}

// --- Plans ---

type savePlanRequest struct {
	StartDate string         `json:"start_date"`
	Plan      plans.PlanData `json:"plan"`
}

func (h Handlers) SavePlan(c *gin.Context) {
	if h.Plans == nil {
		notConfigured(c, "plans")
		return
	}
	var req savePlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	start, err := time.Parse(coaching.DateLayout, req.StartDate)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "start_date must be YYYY-MM-DD"})
		return
	}
	res, err := h.Plans.Save(c.Request.Context(), c.Param("user_id"), req.Plan, start)
	if err != nil {
		if errors.Is(err, plans.ErrInvalidPlan) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		logger.FromGin(c).Error("save plan failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "save plan failed"})
		return
	}
	h.record(c, audit.EventPlanSaved, c.Param("user_id"), res.PlanID, "plan saved", gin.H{"start_date": res.StartDate, "activities": res.Activities})
	c.JSON(http.StatusCreated, res)
}

func (h Handlers) GetActivePlan(c *gin.Context) {
	if h.Plans == nil {
		notConfigured(c, "plans")
		return
	}
	res, err := h.Plans.ActivePlan(c.Request.Context(), c.Param("user_id"))
	if err != nil {
		planError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h Handlers) GetPlanProgress(c *gin.Context) {
	if h.Plans == nil {
		notConfigured(c, "plans")
		return
	}
	res, err := h.Plans.Progress(c.Request.Context(), c.Param("user_id"))
	if err != nil {
		planError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

type completeActivityRequest struct {
	TargetReached coaching.TargetLevel `json:"target_reached"`
}

func (h Handlers) CompleteActivity(c *gin.Context) {
	if h.Plans == nil {
		notConfigured(c, "plans")
		return
	}
	var req completeActivityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if err := h.Plans.CompleteActivity(c.Request.Context(), c.Param("activity_id"), req.TargetReached); err != nil {
		planError(c, err)
		return
	}
	h.record(c, audit.EventActivityCompleted, "", c.Param("activity_id"), "activity completed", gin.H{"target_reached": req.TargetReached})
	c.JSON(http.StatusOK, gin.H{"status": "completed"})
}

func planError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, plans.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, plans.ErrInvalidLevel), errors.Is(err, plans.ErrInvalidPlan):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		logger.FromGin(c).Error("plan request failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "plan request failed"})
	}
}

// --- Preferences ---

func (h Handlers) UpdateCallPreferences(c *gin.Context) {
	if h.Preferences == nil {
		notConfigured(c, "preferences")
		return
	}
	var prefs coaching.CallPreferences
	if err := c.ShouldBindJSON(&prefs); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	normalized, err := prefs.Normalize()
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.Preferences.UpdateCallPreferences(c.Request.Context(), c.Param("user_id"), normalized, time.Now().UTC()); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "user not found"})
			return
		}
		logger.FromGin(c).Error("update call preferences failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "update failed"})
		return
	}
	h.record(c, audit.EventPreferencesUpdated, c.Param("user_id"), "", "call preferences updated", normalized)
	c.JSON(http.StatusOK, gin.H{"call_preferences": normalized})
}

// --- Coaches ---

func (h Handlers) ListCoaches(c *gin.Context) {
	if h.Coaches == nil {
		notConfigured(c, "coaches")
		return
	}
	out, err := h.Coaches.ListCoaches(c.Request.Context())
	if err != nil {
		logger.FromGin(c).Error("list coaches failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "list coaches failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"coaches": out})
}

// --- Reporting ---

// CallsSummary aggregates call logs over [from, to). Both bounds are RFC 3339;
// the default range is the last 7 days.
func (h Handlers) CallsSummary(c *gin.Context) {
	if h.Reporting == nil {
		notConfigured(c, "reporting")
		return
	}
	to := time.Now().UTC()
	from := to.AddDate(0, 0, -7)
	var err error
	if v := c.Query("from"); v != "" {
		if from, err = time.Parse(time.RFC3339, v); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "from must be RFC 3339"})
			return
		}
	}
	if v := c.Query("to"); v != "" {
		if to, err = time.Parse(time.RFC3339, v); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "to must be RFC 3339"})
			return
		}
	}

	res, err := h.Reporting.CallsSummary(c.Request.Context(), reporting.CallsSummaryRequest{
		Range:  reporting.TimeRange{From: from, To: to},
		UserID: c.Query("user_id"),
	})
	if err != nil {
		if errors.Is(err, reporting.ErrInvalidRequest) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		logger.FromGin(c).Error("calls summary failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "summary failed"})
		return
	}
	c.JSON(http.StatusOK, res)
}
