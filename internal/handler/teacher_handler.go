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

type teacherViews interface {
	TeacherTimetable(ctx context.Context, schoolID, sessionID, teacherID string) ([]models.ScheduleEntry, bool, error)
	TeacherLoadReport(ctx context.Context, schoolID, sessionID, teacherID string) (*models.TeacherLoad, bool, error)
}

// TeacherHandler serves teacher-facing timetable views.
type TeacherHandler struct {
	entries teacherViews
}

// NewTeacherHandler constructs the teacher handler.
func NewTeacherHandler(entries *service.EntryService) *TeacherHandler {
	return &TeacherHandler{entries: entries}
}

// Timetable godoc
// @Summary Weekly timetable for a teacher
// @Tags Teachers
// @Produce json
// @Param id path string true "Teacher ID"
// @Param schoolId query string true "School"
// @Param sessionId query string true "Academic session"
// @Success 200 {object} response.Envelope
// @Router /teachers/{id}/timetable [get]
func (h *TeacherHandler) Timetable(c *gin.Context) {
	schoolID := c.Query("schoolId")
	sessionID := c.Query("sessionId")
	if schoolID == "" || sessionID == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "schoolId and sessionId are required"))
		return
	}
	start := time.Now()
	entries, cacheHit, err := h.entries.TeacherTimetable(c.Request.Context(), schoolID, sessionID, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, entries, nil, middleware.CachedReadMeta(c, start, cacheHit))
}

// Load godoc
// @Summary Weekly load report for a teacher
// @Tags Teachers
// @Produce json
// @Param id path string true "Teacher ID"
// @Param schoolId query string true "School"
// @Param sessionId query string true "Academic session"
// @Success 200 {object} response.Envelope
// @Router /teachers/{id}/load [get]
func (h *TeacherHandler) Load(c *gin.Context) {
	schoolID := c.Query("schoolId")
	sessionID := c.Query("sessionId")
	if schoolID == "" || sessionID == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "schoolId and sessionId are required"))
		return
	}
	start := time.Now()
	load, cacheHit, err := h.entries.TeacherLoadReport(c.Request.Context(), schoolID, sessionID, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, load, nil, middleware.CachedReadMeta(c, start, cacheHit))
}
