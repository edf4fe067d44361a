package v1

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// @Summary Preview dispatch routes
// @Description Compute routes and ETAs for candidate units without side effects. Requires bearer token.
// @Tags Dispatch
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Param preview body PreviewRoutesRequest true "Preview request"
// @Success 200 {array} RoutePlanResponse
// @Failure 400 {object} map[string]string "Invalid request body or validation error"
// @Failure 401 {object} map[string]string "Unauthorized"
// @Failure 404 {object} map[string]string "Incident or unit not found"
// @Failure 500 {object} map[string]string "Internal server error"
// @Router /dispatch/preview [post]
func (h *Handler) previewRoutes(c *gin.Context) {
	var input PreviewRoutesRequest
	log := h.logger.WithField("method", "previewRoutes")

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

	unitIDs, err := parseUnitIDs(input.UnitIDs)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid unit ID"})
		return
	}

	plans, err := h.dispatchService.PreviewRoutes(c.Request.Context(), input.IncidentID, unitIDs)
	if err != nil {
		h.respondError(c, log, err, "failed to preview routes")
		return
	}

	responses := make([]*RoutePlanResponse, len(plans))
	for i, plan := range plans {
		responses[i] = PlanToRouteResponse(plan)
	}
	c.JSON(http.StatusOK, responses)
}

// @Summary Commit a dispatch
// @Description Atomically dispatch units to an incident: dispatch records are created, units become dispatched, the incident becomes responding. Any unavailable unit fails the whole call. Requires bearer token.
// @Tags Dispatch
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Param dispatch body CreateDispatchRequest true "Dispatch request"
// @Success 201 {object} CreateDispatchResponse
// @Failure 400 {object} map[string]string "Invalid request body or validation error"
// @Failure 401 {object} map[string]string "Unauthorized"
// @Failure 404 {object} map[string]string "Incident or unit not found"
// @Failure 409 {object} map[string]string "Unit is not available"
// @Failure 500 {object} map[string]string "Internal server error"
// @Router /dispatch [post]
func (h *Handler) createDispatch(c *gin.Context) {
	var input CreateDispatchRequest
	log := h.logger.WithField("method", "createDispatch")

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

	unitIDs, err := parseUnitIDs(input.UnitIDs)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid unit ID"})
		return
	}

	result, err := h.dispatchService.CreateDispatch(c.Request.Context(), input.IncidentID, unitIDs, currentUserID(c))
	if err != nil {
		h.respondError(c, log, err, "failed to commit dispatch")
		return
	}

	dispatches := make([]*DispatchResponse, len(result.Dispatches))
	for i, d := range result.Dispatches {
		dispatches[i] = ModelToDispatchResponse(d)
	}
	c.JSON(http.StatusCreated, CreateDispatchResponse{
		Success:         true,
		Dispatches:      dispatches,
		DispatchedCount: result.DispatchedCount,
	})
}

func parseUnitIDs(raw []string) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, len(raw))
	for _, s := range raw {
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}
