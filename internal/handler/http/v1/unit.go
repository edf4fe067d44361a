package v1

import (
	"net/http"
	"strconv"

	"github.com/emergo/incident_dispatch_service/internal/models"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// @Summary Register an emergency unit
// @Description Register a new emergency unit, initially available. Requires bearer token.
// @Tags Units
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Param unit body CreateUnitRequest true "Unit registration request"
// @Success 201 {object} UnitResponse
// @Failure 400 {object} map[string]string "Invalid request body or validation error"
// @Failure 401 {object} map[string]string "Unauthorized"
// @Failure 500 {object} map[string]string "Internal server error"
// @Router /units [post]
func (h *Handler) createUnit(c *gin.Context) {
	var input CreateUnitRequest
	log := h.logger.WithField("method", "createUnit")

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

	unit := &models.Unit{
		Name:      input.Name,
		Type:      models.UnitType(input.Type),
		Latitude:  input.Latitude,
		Longitude: input.Longitude,
	}
	if err := h.unitService.CreateUnit(c.Request.Context(), unit, currentUserID(c)); err != nil {
		h.respondError(c, log, err, "failed to create unit")
		return
	}
	c.JSON(http.StatusCreated, ModelToUnitResponse(unit))
}

// @Summary Get a list of units
// @Description Get all registered emergency units. Requires API key.
// @Tags Units
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Success 200 {array} UnitResponse
// @Failure 401 {object} map[string]string "Unauthorized"
// @Failure 500 {object} map[string]string "Internal server error"
// @Router /units [get]
func (h *Handler) listUnits(c *gin.Context) {
	log := h.logger.WithField("method", "listUnits")

	units, err := h.unitService.ListUnits(c.Request.Context())
	if err != nil {
		log.WithError(err).Error("Failed to list units from service")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}
	c.JSON(http.StatusOK, ModelsToUnitResponses(units))
}

// @Summary Release a unit
// @Description Return a dispatched unit to available and deactivate its dispatch record. Requires bearer token.
// @Tags Units
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Param id path string true "Unit ID"
// @Success 200 {object} UnitResponse
// @Failure 400 {object} map[string]string "Invalid unit ID"
// @Failure 401 {object} map[string]string "Unauthorized"
// @Failure 404 {object} map[string]string "Unit not found"
// @Failure 409 {object} map[string]string "Unit is not dispatched"
// @Failure 500 {object} map[string]string "Internal server error"
// @Router /units/{id}/release [post]
func (h *Handler) releaseUnit(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid unit ID"})
		return
	}
	log := h.logger.WithField("method", "releaseUnit").WithField("id", id)

	unit, err := h.unitService.ReleaseUnit(c.Request.Context(), id, currentUserID(c))
	if err != nil {
		h.respondError(c, log, err, "failed to release unit")
		return
	}
	c.JSON(http.StatusOK, ModelToUnitResponse(unit))
}

// @Summary Get audit log
// @Description Get audit trail entries, either the full history of one record (table + record_id) or the most recent entries. Requires bearer token.
// @Tags Audit
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Param table query string false "Table name"
// @Param record_id query string false "Record ID"
// @Param limit query int false "Max entries" default(100)
// @Success 200 {array} AuditEntryResponse
// @Failure 401 {object} map[string]string "Unauthorized"
// @Failure 500 {object} map[string]string "Internal server error"
// @Router /audit [get]
func (h *Handler) listAudit(c *gin.Context) {
	log := h.logger.WithField("method", "listAudit")

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))

	entries, err := h.auditService.ListAudit(c.Request.Context(), c.Query("table"), c.Query("record_id"), limit)
	if err != nil {
		log.WithError(err).Error("Failed to list audit log from service")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}

	responses := make([]*AuditEntryResponse, len(entries))
	for i, entry := range entries {
		responses[i] = ModelToAuditResponse(entry)
	}
	c.JSON(http.StatusOK, responses)
}
