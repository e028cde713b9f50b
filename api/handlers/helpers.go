package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/civicgrid/civic-issues-api/config"
	"github.com/civicgrid/civic-issues-api/models"
)

func getLimit(r *http.Request) int {
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 {
		zap.S().Warnf("limit not set, using default of %v", 10)
		return 10
	}
	return limit
}

func getPage(r *http.Request) int {
	page, err := strconv.Atoi(r.URL.Query().Get("page"))
	if err != nil || page < 1 {
		return 1
	}
	return page
}

// lifecycleErrorStatus maps the lifecycle error taxonomy onto HTTP status
// codes and writes the standard error envelope.
func lifecycleErrorStatus(message string, w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	var unknown models.ErrUnknownStatus
	switch {
	case errors.As(err, &unknown):
		code = http.StatusBadRequest
	case errors.Is(err, models.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, models.ErrUnauthorized):
		code = http.StatusForbidden
	case errors.Is(err, models.ErrStorageUnavailable):
		code = http.StatusServiceUnavailable
	case errors.Is(err, models.ErrPartialUpdate):
		code = http.StatusInternalServerError
	}
	config.ErrorStatus(message, code, w, err)
}
