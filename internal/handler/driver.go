package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"dispatch/internal/service"
)

// DriverHandler handles HTTP requests for driver presence.
type DriverHandler struct {
	driverService *service.DriverService
}

// NewDriverHandler creates a new DriverHandler.
func NewDriverHandler(driverService *service.DriverService) *DriverHandler {
	return &DriverHandler{driverService: driverService}
}

// UpdateLocationRequest is the HTTP request body for a location report.
type UpdateLocationRequest struct {
	DriverID  string  `json:"driverId"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Heading   float64 `json:"heading,omitempty"`
	Speed     float64 `json:"speed,omitempty"`
}

// UpdateStatusRequest is the HTTP request body for a duty status change.
type UpdateStatusRequest struct {
	DriverID  string `json:"driverId"`
	Available *bool  `json:"available"`
}

// RemoveLocationRequest is the HTTP request body for deregistering a driver.
type RemoveLocationRequest struct {
	DriverID string `json:"driverId"`
}

// DriverLocationResponse is one search result entry.
type DriverLocationResponse struct {
	DriverID       string  `json:"driverId"`
	Latitude       float64 `json:"latitude"`
	Longitude      float64 `json:"longitude"`
	Heading        float64 `json:"heading"`
	Speed          float64 `json:"speed"`
	DistanceMeters float64 `json:"distanceMeters"`
	UpdatedAt      string  `json:"updatedAt"`
}

// SearchResponse is the HTTP response for a nearby-driver search.
type SearchResponse struct {
	Drivers []DriverLocationResponse `json:"drivers"`
}

// driverIdentity resolves the acting driver: the authenticated subject
// wins over the request body.
func driverIdentity(c *gin.Context, fromBody string) string {
	if v, ok := c.Get("userID"); ok {
		if id, _ := v.(string); id != "" {
			return id
		}
	}
	return fromBody
}

// UpdateLocation handles POST /v1/drivers/location
func (h *DriverHandler) UpdateLocation(c *gin.Context) {
	var req UpdateLocationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	driverID := driverIdentity(c, req.DriverID)
	if err := h.driverService.UpdateLocation(driverID, req.Latitude, req.Longitude, req.Heading, req.Speed); err != nil {
		respondError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// UpdateStatus handles POST /v1/drivers/status
func (h *DriverHandler) UpdateStatus(c *gin.Context) {
	var req UpdateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Available == nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	if err := h.driverService.SetAvailability(driverIdentity(c, req.DriverID), *req.Available); err != nil {
		respondError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// RemoveLocation handles DELETE /v1/drivers/location
func (h *DriverHandler) RemoveLocation(c *gin.Context) {
	var req RemoveLocationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		// Allow the driver ID as a query parameter too.
		req.DriverID = c.Query("driverId")
	}

	if err := h.driverService.Deregister(driverIdentity(c, req.DriverID)); err != nil {
		respondError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// Search handles GET /v1/drivers/search
func (h *DriverHandler) Search(c *gin.Context) {
	lat, err := strconv.ParseFloat(c.Query("lat"), 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid lat"})
		return
	}
	lng, err := strconv.ParseFloat(c.Query("lng"), 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid lng"})
		return
	}
	radius, err := strconv.ParseFloat(c.Query("radius"), 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid radius"})
		return
	}

	limit := 0
	if v := c.Query("limit"); v != "" {
		limit, err = strconv.Atoi(v)
		if err != nil || limit < 0 {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid limit"})
			return
		}
	}

	locations, err := h.driverService.SearchNearby(lat, lng, radius, limit)
	if err != nil {
		respondError(c, err)
		return
	}

	response := SearchResponse{Drivers: make([]DriverLocationResponse, 0, len(locations))}
	for _, loc := range locations {
		response.Drivers = append(response.Drivers, DriverLocationResponse{
			DriverID:       loc.DriverID,
			Latitude:       loc.Lat,
			Longitude:      loc.Lng,
			Heading:        loc.HeadingDeg,
			Speed:          loc.SpeedKph,
			DistanceMeters: loc.DistanceMeters,
			UpdatedAt:      loc.UpdatedAt.Format("2006-01-02T15:04:05Z07:00"),
		})
	}

	respondJSON(c, http.StatusOK, response)
}
