package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"linkscan/crawler"
	"linkscan/models"
	"linkscan/services"
	"linkscan/storage"
)

type errorResponse struct {
	Error string `json:"error"`
}

// respondError maps domain errors to status codes. Unknown errors are
// attached to the context for the request log and hidden from the client.
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		c.JSON(http.StatusNotFound, errorResponse{Error: "not found"})
	case errors.Is(err, crawler.ErrScanInProgress):
		c.JSON(http.StatusConflict, errorResponse{Error: err.Error()})
	case errors.Is(err, crawler.ErrInvalidSite), errors.Is(err, models.ErrInvalidSchedule):
		c.JSON(http.StatusUnprocessableEntity, errorResponse{Error: err.Error()})
	case errors.Is(err, services.ErrUnsupportedFormat):
		c.JSON(http.StatusNotAcceptable, errorResponse{Error: err.Error()})
	case errors.Is(err, crawler.ErrEngineStopped):
		c.JSON(http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
	default:
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, errorResponse{Error: msg})
}

// intQuery reads a non-negative integer query parameter.
func intQuery(c *gin.Context, key string, def int) (int, bool) {
	raw := c.Query(key)
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		badRequest(c, key+" must be a non-negative integer")
		return 0, false
	}
	return n, true
}

func boolQuery(c *gin.Context, key string, def bool) (bool, bool) {
	raw := c.Query(key)
	if raw == "" {
		return def, true
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		badRequest(c, key+" must be a boolean")
		return false, false
	}
	return b, true
}
