package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-timetable-api/internal/middleware"
	"github.com/noah-isme/sma-timetable-api/internal/models"
	"github.com/noah-isme/sma-timetable-api/internal/service"
	appErrors "github.com/noah-isme/sma-timetable-api/pkg/errors"
	"github.com/noah-isme/sma-timetable-api/pkg/response"
)

type scopePublisher interface {
	PublishScope(ctx context.Context, actorID string, req service.PublishRequest) (*service.PublishResult, error)
	ScopeSummary(ctx context.Context, scope models.Scope) (*models.ScopeSummary, bool, error)
	ScopeConflicts(ctx context.Context, scope models.Scope) ([]models.EntryConflict, error)
}

// ScopeHandler exposes publish and scope-level review endpoints.
type ScopeHandler struct {
	publish scopePublisher
}

// NewScopeHandler constructs the scope handler.
func NewScopeHandler(publish *service.PublishService) *ScopeHandler {
	return &ScopeHandler{publish: publish}
}

// Publish godoc
// @Summary Publish all draft entries in a scope
// @Tags Publishing
// @Accept json
// @Produce json
// @Param X-Actor-ID header string true "Acting user"
// @Param payload body service.PublishRequest true "Scope to publish"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope "Unresolved conflicts block publishing"
// @Router /timetable/publish [post]
func (h *ScopeHandler) Publish(c *gin.Context) {
	var req service.PublishRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	result, err := h.publish.PublishScope(c.Request.Context(), actorFromContext(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Summary godoc
// @Summary Summarize a scope's entries and conflict state
// @Tags Publishing
// @Produce json
// @Param schoolId query string true "School"
// @Param sessionId query string true "Academic session"
// @Param classId query string true "Class"
// @Param sectionId query string false "Section"
// @Success 200 {object} response.Envelope
// @Router /timetable/scope [get]
func (h *ScopeHandler) Summary(c *gin.Context) {
	scope, err := parseScope(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	start := time.Now()
	summary, cacheHit, err := h.publish.ScopeSummary(c.Request.Context(), scope)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, summary, nil, middleware.CachedReadMeta(c, start, cacheHit))
}

// Conflicts godoc
// @Summary List unresolved conflicts within a scope
// @Tags Publishing
// @Produce json
// @Param schoolId query string true "School"
// @Param sessionId query string true "Academic session"
// @Param classId query string true "Class"
// @Param sectionId query string false "Section"
// @Success 200 {object} response.Envelope
// @Router /timetable/scope/conflicts [get]
func (h *ScopeHandler) Conflicts(c *gin.Context) {
	scope, err := parseScope(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	conflicts, err := h.publish.ScopeConflicts(c.Request.Context(), scope)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, conflicts, nil)
}

func parseScope(c *gin.Context) (models.Scope, error) {
	scope := models.Scope{
		SchoolID:  c.Query("schoolId"),
		SessionID: c.Query("sessionId"),
		ClassID:   c.Query("classId"),
	}
	if scope.SchoolID == "" || scope.SessionID == "" || scope.ClassID == "" {
		return scope, appErrors.Clone(appErrors.ErrValidation, "schoolId, sessionId and classId are required")
	}
	if section := c.Query("sectionId"); section != "" {
		scope.SectionID = &section
	}
	return scope, nil
}
