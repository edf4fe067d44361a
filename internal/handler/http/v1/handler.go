package v1

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/emergo/incident_dispatch_service/internal/config"
	"github.com/emergo/incident_dispatch_service/internal/models"
	"github.com/emergo/incident_dispatch_service/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"
)

type Handler struct {
	incidentService service.IncidentService
	dispatchService service.DispatchService
	unitService     service.UnitService
	auditService    service.AuditService
	logger          *logrus.Logger
	validate        *validator.Validate
	cfg             *config.Config
}

func NewHandler(incidentService service.IncidentService, dispatchService service.DispatchService, unitService service.UnitService, auditService service.AuditService, logger *logrus.Logger, cfg *config.Config) *Handler {
	return &Handler{
		incidentService: incidentService,
		dispatchService: dispatchService,
		unitService:     unitService,
		auditService:    auditService,
		logger:          logger,
		validate:        validator.New(),
		cfg:             cfg,
	}
}

// @Summary Report an incident
// @Description Report an incident. Reports of the same type within the merge radius and time window are merged into the existing incident. Anonymous reports are accepted; a bearer token attaches reporter identity.
// @Tags Incidents
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Param report body ReportIncidentRequest true "Incident report"
// @Success 200 {object} ReportIncidentResponse "Merged into an existing incident"
// @Success 201 {object} ReportIncidentResponse "New incident created"
// @Failure 400 {object} map[string]string "Invalid request body or validation error"
// @Failure 401 {object} map[string]string "Unauthorized"
// @Failure 500 {object} map[string]string "Internal server error"
// @Router /incidents/report [post]
func (h *Handler) reportIncident(c *gin.Context) {
	var input ReportIncidentRequest
	log := h.logger.WithField("method", "reportIncident")

	if err := c.ShouldBindJSON(&input); err != nil {
		log.WithError(err).Warn("Failed to bind JSON")
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	if err := h.validate.Struct(input); err != nil {
		log.WithError(err).Warn("Validation failed")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var reportedBy *string
	if userID := currentUserID(c); userID != "" {
		reportedBy = &userID
	}

	result, err := h.incidentService.ReportIncident(c.Request.Context(), DTOToIncidentReport(input, reportedBy))
	if err != nil {
		h.respondError(c, log, err, "failed to report incident")
		return
	}

	status := http.StatusCreated
	if result.Status == models.ReportMerged {
		status = http.StatusOK
	}
	c.JSON(status, ReportIncidentResponse{
		Status:            result.Status,
		IncidentID:        result.Incident.ID,
		VerificationCount: result.Incident.VerificationCount,
	})
}

// @Summary Get a list of incidents
// @Description Get a paginated list of incidents, optionally filtered by status and type. Requires API key.
// @Tags Incidents
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Param page query int false "Page number" default(1)
// @Param pageSize query int false "Number of items per page" default(20)
// @Param status query string false "Filter by status"
// @Param type query string false "Filter by type"
// @Success 200 {array} IncidentResponse
// @Failure 401 {object} map[string]string "Unauthorized"
// @Failure 500 {object} map[string]string "Internal server error"
// @Router /incidents [get]
func (h *Handler) listIncidents(c *gin.Context) {
	log := h.logger.WithField("method", "listIncidents")
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("pageSize", "20"))

	filter := models.IncidentFilter{
		Status: models.IncidentStatus(c.Query("status")),
		Type:   models.IncidentType(c.Query("type")),
	}

	incidents, err := h.incidentService.ListIncidents(c.Request.Context(), filter, page, pageSize)
	if err != nil {
		log.WithError(err).Error("Failed to list incidents from service")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}

	c.JSON(http.StatusOK, ModelsToIncidentResponses(incidents))
}

// @Summary Get incident by ID
// @Description Get a single incident by its human-readable ID. Requires API key.
// @Tags Incidents
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Param id path string true "Incident ID"
// @Success 200 {object} IncidentResponse
// @Failure 401 {object} map[string]string "Unauthorized"
// @Failure 404 {object} map[string]string "Incident not found"
// @Failure 500 {object} map[string]string "Internal server error"
// @Router /incidents/{id} [get]
func (h *Handler) getIncident(c *gin.Context) {
	id := c.Param("id")
	log := h.logger.WithField("method", "getIncident").WithField("id", id)

	incident, err := h.incidentService.GetIncident(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, log, err, "failed to get incident")
		return
	}
	c.JSON(http.StatusOK, ModelToIncidentResponse(incident))
}

// @Summary Verify an incident
// @Description Mark an incident as verified by a dispatcher. Requires bearer token.
// @Tags Incidents
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Param id path string true "Incident ID"
// @Success 200 {object} VerifyIncidentResponse
// @Failure 401 {object} map[string]string "Unauthorized"
// @Failure 404 {object} map[string]string "Incident not found"
// @Failure 500 {object} map[string]string "Internal server error"
// @Router /incidents/{id}/verify [post]
func (h *Handler) verifyIncident(c *gin.Context) {
	id := c.Param("id")
	log := h.logger.WithField("method", "verifyIncident").WithField("id", id)

	incident, err := h.incidentService.VerifyIncident(c.Request.Context(), id, currentUserID(c))
	if err != nil {
		h.respondError(c, log, err, "failed to verify incident")
		return
	}
	c.JSON(http.StatusOK, VerifyIncidentResponse{
		Success:  true,
		Incident: ModelToIncidentResponse(incident),
	})
}

// @Summary Resolve an incident
// @Description Transition an incident to the terminal resolved status. Requires bearer token.
// @Tags Incidents
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Param id path string true "Incident ID"
// @Success 200 {object} IncidentResponse
// @Failure 401 {object} map[string]string "Unauthorized"
// @Failure 404 {object} map[string]string "Incident not found"
// @Failure 409 {object} map[string]string "Incident already resolved"
// @Failure 500 {object} map[string]string "Internal server error"
// @Router /incidents/{id}/resolve [post]
func (h *Handler) resolveIncident(c *gin.Context) {
	id := c.Param("id")
	log := h.logger.WithField("method", "resolveIncident").WithField("id", id)

	incident, err := h.incidentService.ResolveIncident(c.Request.Context(), id, currentUserID(c))
	if err != nil {
		h.respondError(c, log, err, "failed to resolve incident")
		return
	}
	c.JSON(http.StatusOK, ModelToIncidentResponse(incident))
}

// @Summary Get application health status
// @Description Get health status of the application
// @Tags System
// @Accept json
// @Produce json
// @Success 200 {object} map[string]string "Status OK"
// @Router /system/health [get]
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// respondError отображает доменные ошибки в HTTP-статусы
func (h *Handler) respondError(c *gin.Context, log *logrus.Entry, err error, msg string) {
	switch {
	case errors.Is(err, models.ErrIncidentNotFound), errors.Is(err, models.ErrUnitNotFound):
		log.WithError(err).Warn(msg)
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, models.ErrUnitUnavailable),
		errors.Is(err, models.ErrIncidentClosed),
		errors.Is(err, models.ErrInvalidTransition):
		log.WithError(err).Warn(msg)
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, models.ErrInvalidCoordinates):
		log.WithError(err).Warn(msg)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		log.WithError(err).Error(msg)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
