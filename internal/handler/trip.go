package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"dispatch/internal/domain"
	"dispatch/internal/service"
)

// TripHandler handles HTTP requests for trips.
type TripHandler struct {
	engine *service.MatchingEngine
}

// NewTripHandler creates a new TripHandler.
func NewTripHandler(engine *service.MatchingEngine) *TripHandler {
	return &TripHandler{engine: engine}
}

// CreateTripRequest is the HTTP request body for creating a trip.
type CreateTripRequest struct {
	RiderID    string  `json:"riderId"`
	OriginText string  `json:"originText"`
	DestText   string  `json:"destText"`
	OriginLat  float64 `json:"originLat"`
	OriginLng  float64 `json:"originLng"`
	DestLat    float64 `json:"destLat"`
	DestLng    float64 `json:"destLng"`
	ServiceID  string  `json:"serviceId"`
}

// AcceptTripRequest is the HTTP request body for accepting a trip.
type AcceptTripRequest struct {
	DriverID string `json:"driverId"`
}

// CancelTripRequest is the HTTP request body for cancelling a trip.
type CancelTripRequest struct {
	Reason string `json:"reason,omitempty"`
}

// UpdateTripStatusRequest is the HTTP request body for a driver-side
// progress update.
type UpdateTripStatusRequest struct {
	DriverID string `json:"driverId"`
	Status   string `json:"status"`
}

// TripResponse is the HTTP representation of a trip.
type TripResponse struct {
	ID               string  `json:"id"`
	RiderID          string  `json:"riderId"`
	OriginText       string  `json:"originText"`
	DestText         string  `json:"destText"`
	OriginLat        float64 `json:"originLat"`
	OriginLng        float64 `json:"originLng"`
	DestLat          float64 `json:"destLat"`
	DestLng          float64 `json:"destLng"`
	ServiceID        string  `json:"serviceId"`
	Status           string  `json:"status"`
	AssignedDriverID string  `json:"driverId,omitempty"`
	FareEstimate     int64   `json:"fareEstimate"`
	CancelReason     string  `json:"cancelReason,omitempty"`
	CreatedAt        string  `json:"createdAt"`
	UpdatedAt        string  `json:"updatedAt"`
}

func toTripResponse(t *domain.Trip) TripResponse {
	return TripResponse{
		ID:               t.ID,
		RiderID:          t.RiderID,
		OriginText:       t.OriginText,
		DestText:         t.DestText,
		OriginLat:        t.OriginLat,
		OriginLng:        t.OriginLng,
		DestLat:          t.DestLat,
		DestLng:          t.DestLng,
		ServiceID:        t.ServiceClass,
		Status:           string(t.Status),
		AssignedDriverID: t.AssignedDriverID,
		FareEstimate:     t.FareEstimate,
		CancelReason:     t.CancelReason,
		CreatedAt:        t.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		UpdatedAt:        t.UpdatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
}

// CreateTrip handles POST /v1/trips
func (h *TripHandler) CreateTrip(c *gin.Context) {
	var req CreateTripRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	riderID := req.RiderID
	if v, ok := c.Get("userID"); ok {
		if id, _ := v.(string); id != "" {
			riderID = id
		}
	}

	trip, err := h.engine.CreateTrip(c.Request.Context(), service.CreateTripRequest{
		RiderID:      riderID,
		OriginText:   req.OriginText,
		DestText:     req.DestText,
		OriginLat:    req.OriginLat,
		OriginLng:    req.OriginLng,
		DestLat:      req.DestLat,
		DestLng:      req.DestLng,
		ServiceClass: req.ServiceID,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusCreated, toTripResponse(trip))
}

// GetTrip handles GET /v1/trips/:id
func (h *TripHandler) GetTrip(c *gin.Context) {
	trip, err := h.engine.GetTrip(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, toTripResponse(trip))
}

// ListTrips handles GET /v1/trips
func (h *TripHandler) ListTrips(c *gin.Context) {
	limit := 0
	if v := c.Query("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 0 {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid limit"})
			return
		}
		limit = parsed
	}

	trips := h.engine.ListTrips(limit)
	response := make([]TripResponse, 0, len(trips))
	for _, t := range trips {
		response = append(response, toTripResponse(t))
	}

	respondJSON(c, http.StatusOK, response)
}

// TransitionResponse is one entry of a trip's transition history.
type TransitionResponse struct {
	From       string `json:"from"`
	To         string `json:"to"`
	DriverID   string `json:"driverId,omitempty"`
	Reason     string `json:"reason,omitempty"`
	OccurredAt string `json:"occurredAt"`
}

// ListTransitions handles GET /v1/trips/:id/transitions
func (h *TripHandler) ListTransitions(c *gin.Context) {
	history, err := h.engine.TripTransitions(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	response := make([]TransitionResponse, 0, len(history))
	for _, tr := range history {
		response = append(response, TransitionResponse{
			From:       string(tr.From),
			To:         string(tr.To),
			DriverID:   tr.DriverID,
			Reason:     tr.Reason,
			OccurredAt: tr.At.Format("2006-01-02T15:04:05Z07:00"),
		})
	}

	respondJSON(c, http.StatusOK, response)
}

// AcceptTrip handles POST /v1/trips/:id/accept
func (h *TripHandler) AcceptTrip(c *gin.Context) {
	var req AcceptTripRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	trip, err := h.engine.AcceptTrip(c.Request.Context(), c.Param("id"), req.DriverID)
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, toTripResponse(trip))
}

// CancelTrip handles POST /v1/trips/:id/cancel
func (h *TripHandler) CancelTrip(c *gin.Context) {
	var req CancelTripRequest
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	trip, err := h.engine.CancelTrip(c.Request.Context(), c.Param("id"), req.Reason)
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, toTripResponse(trip))
}

// UpdateStatus handles POST /v1/trips/:id/status
func (h *TripHandler) UpdateStatus(c *gin.Context) {
	var req UpdateTripStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	trip, err := h.engine.UpdateTripStatus(c.Request.Context(), c.Param("id"), req.DriverID, domain.TripStatus(req.Status))
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, toTripResponse(trip))
}
