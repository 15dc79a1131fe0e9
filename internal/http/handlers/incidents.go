package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5"

	"github.com/lilerp/backend/internal/geocode"
	"github.com/lilerp/backend/internal/models"
	"github.com/lilerp/backend/internal/service"
)

// @Summary List incidents
// @Tags incidents
// @Produce json
// @Param status query string false "filter by status"
// @Param reported_via query string false "filter by reporting channel"
// @Success 200 {object} map[string]any
// @Router /api/incidents [get]
func (h *Handler) IncidentsList(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	incidents, err := h.Store.ListIncidents(c.Request.Context(),
		c.Query("status"), c.Query("reported_via"), limit, offset)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to list incidents", err.Error())
		return
	}
	if incidents == nil {
		incidents = []models.Incident{}
	}
	c.JSON(http.StatusOK, gin.H{"incidents": incidents, "count": len(incidents)})
}

func (h *Handler) IncidentDetails(c *gin.Context) {
	inc, err := h.Store.GetIncident(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeError(c, http.StatusNotFound, "NOT_FOUND", "Incident not found", nil)
			return
		}
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to load incident", err.Error())
		return
	}
	c.JSON(http.StatusOK, inc)
}

type createIncidentRequest struct {
	Type        string  `json:"type" validate:"required"`
	Title       string  `json:"title" validate:"required"`
	Location    string  `json:"location" validate:"required"`
	Description string  `json:"description"`
	Priority    string  `json:"priority"`
	Community   string  `json:"community"`
	ReporterID  *string `json:"reporter_id"`
}

// @Summary Create a web-reported incident
// @Tags incidents
// @Accept json
// @Produce json
// @Param request body createIncidentRequest true "incident"
// @Success 201 {object} models.Incident
// @Failure 400 {object} map[string]any
// @Router /api/incidents [post]
func (h *Handler) IncidentCreate(c *gin.Context) {
	var req createIncidentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", err.Error())
		return
	}
	if err := h.Validator.Struct(req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "type, title and location are required", err.Error())
		return
	}
	if req.Priority == "" {
		req.Priority = "medium"
	}

	inc := models.Incident{
		ReporterID:  req.ReporterID,
		Type:        req.Type,
		Priority:    req.Priority,
		Status:      models.IncidentPending,
		Title:       req.Title,
		Location:    req.Location,
		Description: req.Description,
		ReportedVia: models.ViaWeb,
	}

	if h.Geocoder != nil && geocode.ShouldGeocode(inc) {
		query := geocode.BuildQuery(h.Country, req.Community, req.Location)
		lat, lon, _, _, err := h.Geocoder.Geocode(c.Request.Context(), query)
		if err != nil {
			h.Logger.Warn().Err(err).Str("query", query).Msg("geocoding failed")
		} else {
			inc.Lat = &lat
			inc.Lon = &lon
		}
	}

	created, err := h.Store.CreateIncident(c.Request.Context(), inc)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to create incident", err.Error())
		return
	}
	c.JSON(http.StatusCreated, created)
}

type updateStatusRequest struct {
	Status     string  `json:"status" validate:"required,oneof=pending assigned in_progress resolved closed"`
	Resolution *string `json:"resolution"`
}

func (h *Handler) IncidentStatus(c *gin.Context) {
	var req updateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", err.Error())
		return
	}
	if err := h.Validator.Struct(req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Unknown status", err.Error())
		return
	}

	inc, err := h.Store.UpdateIncidentStatus(c.Request.Context(), c.Param("id"), req.Status, req.Resolution)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeError(c, http.StatusNotFound, "NOT_FOUND", "Incident not found", nil)
			return
		}
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to update incident", err.Error())
		return
	}
	c.JSON(http.StatusOK, inc)
}

type assignRequest struct {
	ResponderID string `json:"responder_id"`
}

// IncidentAssign attaches a responder to an incident. Without an explicit
// responder_id the dispatch ranking picks one.
func (h *Handler) IncidentAssign(c *gin.Context) {
	var req assignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", err.Error())
		return
	}

	ctx := c.Request.Context()
	incidentID := c.Param("id")

	responderID := req.ResponderID
	if responderID == "" {
		inc, err := h.Store.GetIncident(ctx, incidentID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				writeError(c, http.StatusNotFound, "NOT_FOUND", "Incident not found", nil)
				return
			}
			writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to load incident", err.Error())
			return
		}
		responders, err := h.Store.ListAvailableResponders(ctx)
		if err != nil {
			writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to list responders", err.Error())
			return
		}
		if len(responders) == 0 {
			writeError(c, http.StatusConflict, "NO_RESPONDERS", "No available responders", nil)
			return
		}
		picked := service.PickResponder(responders, incidentID, inc.Lat, inc.Lon)
		responderID = picked.ID
	}

	if err := h.Store.AssignIncident(ctx, incidentID, responderID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeError(c, http.StatusNotFound, "NOT_FOUND", "Incident not found", nil)
			return
		}
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to assign incident", err.Error())
		return
	}
	if err := h.Store.SetResponderStatus(ctx, responderID, models.ResponderBusy); err != nil {
		h.Logger.Warn().Err(err).Str("responder_id", responderID).Msg("failed to mark responder busy")
	}

	c.JSON(http.StatusOK, gin.H{"incident_id": incidentID, "responder_id": responderID, "status": models.IncidentAssigned})
}

func (h *Handler) RespondersList(c *gin.Context) {
	responders, err := h.Store.ListAvailableResponders(c.Request.Context())
	if err != nil {
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to list responders", err.Error())
		return
	}
	if responders == nil {
		responders = []models.Responder{}
	}
	c.JSON(http.StatusOK, gin.H{"responders": service.RankResponders(responders), "count": len(responders)})
}
