package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-timetable-api/internal/models"
	"github.com/noah-isme/sma-timetable-api/internal/service"
	appErrors "github.com/noah-isme/sma-timetable-api/pkg/errors"
	"github.com/noah-isme/sma-timetable-api/pkg/response"
)

type entryWorkflow interface {
	ListEntries(ctx context.Context, filter models.EntryFilter) ([]models.ScheduleEntry, *models.Pagination, error)
	GetEntry(ctx context.Context, id string) (*models.ScheduleEntry, error)
	CreateEntry(ctx context.Context, actorID string, req service.CreateEntryRequest) (*models.ScheduleEntry, error)
	UpdateEntry(ctx context.Context, actorID, id string, req service.UpdateEntryRequest) (*models.ScheduleEntry, error)
	CancelEntry(ctx context.Context, actorID, id string) (*models.ScheduleEntry, error)
	ArchiveEntry(ctx context.Context, actorID, id string) (*models.ScheduleEntry, error)
	ResolveConflict(ctx context.Context, actorID, entryID, conflictID string) (*models.ScheduleEntry, error)
	CheckConflicts(ctx context.Context, req service.CheckConflictsRequest) (*service.ConflictCheckResult, error)
}

// EntryHandler manages schedule entry endpoints.
type EntryHandler struct {
	service entryWorkflow
}

// NewEntryHandler constructs handler.
func NewEntryHandler(svc *service.EntryService) *EntryHandler {
	return &EntryHandler{service: svc}
}

// List godoc
// @Summary List schedule entries
// @Tags Timetable
// @Produce json
// @Param schoolId query string false "Filter by school"
// @Param sessionId query string false "Filter by academic session"
// @Param classId query string false "Filter by class"
// @Param sectionId query string false "Filter by section"
// @Param teacherId query string false "Filter by teacher"
// @Param roomId query string false "Filter by room"
// @Param dayOfWeek query string false "Filter by day"
// @Param status query string false "Filter by status"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /timetable/entries [get]
func (h *EntryHandler) List(c *gin.Context) {
	var filter models.EntryFilter
	filter.SchoolID = c.Query("schoolId")
	filter.SessionID = c.Query("sessionId")
	filter.ClassID = c.Query("classId")
	if section := c.Query("sectionId"); section != "" {
		filter.SectionID = &section
	}
	filter.TeacherID = c.Query("teacherId")
	filter.RoomID = c.Query("roomId")
	filter.DayOfWeek = c.Query("dayOfWeek")
	filter.Status = c.Query("status")
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if limit, err := strconv.Atoi(c.DefaultQuery("limit", "20")); err == nil {
		filter.PageSize = limit
	}
	filter.SortBy = c.Query("sort")
	filter.SortOrder = c.Query("order")

	entries, pagination, err := h.service.ListEntries(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, entries, pagination)
}

// Get godoc
// @Summary Get a schedule entry
// @Tags Timetable
// @Produce json
// @Param id path string true "Entry ID"
// @Success 200 {object} response.Envelope
// @Router /timetable/entries/{id} [get]
func (h *EntryHandler) Get(c *gin.Context) {
	entry, err := h.service.GetEntry(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, entry, nil)
}

// Create godoc
// @Summary Create a schedule entry
// @Tags Timetable
// @Accept json
// @Produce json
// @Param X-Actor-ID header string true "Acting user"
// @Param payload body service.CreateEntryRequest true "Entry payload"
// @Success 201 {object} response.Envelope
// @Router /timetable/entries [post]
func (h *EntryHandler) Create(c *gin.Context) {
	var req service.CreateEntryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	entry, err := h.service.CreateEntry(c.Request.Context(), actorFromContext(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, entry)
}

// Update godoc
// @Summary Update a schedule entry
// @Tags Timetable
// @Accept json
// @Produce json
// @Param X-Actor-ID header string true "Acting user"
// @Param id path string true "Entry ID"
// @Param payload body service.UpdateEntryRequest true "Patch payload with version"
// @Success 200 {object} response.Envelope
// @Router /timetable/entries/{id} [put]
func (h *EntryHandler) Update(c *gin.Context) {
	var req service.UpdateEntryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	entry, err := h.service.UpdateEntry(c.Request.Context(), actorFromContext(c), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, entry, nil)
}

// Cancel godoc
// @Summary Cancel a schedule entry
// @Tags Timetable
// @Produce json
// @Param X-Actor-ID header string true "Acting user"
// @Param id path string true "Entry ID"
// @Success 200 {object} response.Envelope
// @Router /timetable/entries/{id}/cancel [post]
func (h *EntryHandler) Cancel(c *gin.Context) {
	entry, err := h.service.CancelEntry(c.Request.Context(), actorFromContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, entry, nil)
}

// Archive godoc
// @Summary Archive a schedule entry
// @Tags Timetable
// @Produce json
// @Param X-Actor-ID header string true "Acting user"
// @Param id path string true "Entry ID"
// @Success 200 {object} response.Envelope
// @Router /timetable/entries/{id}/archive [post]
func (h *EntryHandler) Archive(c *gin.Context) {
	entry, err := h.service.ArchiveEntry(c.Request.Context(), actorFromContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, entry, nil)
}

// Resolve godoc
// @Summary Resolve a conflict record on an entry
// @Tags Timetable
// @Produce json
// @Param X-Actor-ID header string true "Acting user"
// @Param id path string true "Entry ID"
// @Param conflictId path string true "Conflict record ID"
// @Success 200 {object} response.Envelope
// @Router /timetable/entries/{id}/conflicts/{conflictId}/resolve [post]
func (h *EntryHandler) Resolve(c *gin.Context) {
	entry, err := h.service.ResolveConflict(c.Request.Context(), actorFromContext(c), c.Param("id"), c.Param("conflictId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, entry, nil)
}

// Check godoc
// @Summary Preview conflicts for a placement
// @Tags Timetable
// @Accept json
// @Produce json
// @Param payload body service.CheckConflictsRequest true "Placement to check"
// @Success 200 {object} response.Envelope
// @Router /timetable/conflicts/check [post]
func (h *EntryHandler) Check(c *gin.Context) {
	var req service.CheckConflictsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	result, err := h.service.CheckConflicts(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}
