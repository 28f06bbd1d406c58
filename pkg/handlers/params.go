package handlers

import (
	"math"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/omnifin/backoffice/pkg/repositories"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// ParseID extracts and validates a positive numeric id from the request path.
// Returns the id and true on success, or 0 and false on error
// (after writing an error response).
func ParseID(w http.ResponseWriter, r *http.Request, pathParam string, logger *zap.Logger) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue(pathParam), 10, 64)
	if err != nil || id <= 0 {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_id", "Invalid "+pathParam+" format"); err != nil {
			logger.Error("Failed to write error response", zap.Error(err))
		}
		return 0, false
	}
	return id, true
}

// parseOptionalID reads a numeric query parameter. An absent parameter is nil;
// a malformed one writes 400 and returns false.
func parseOptionalID(w http.ResponseWriter, r *http.Request, name string, logger *zap.Logger) (*int64, bool) {
	return optionalID(w, r.URL.Query().Get(name), name, logger)
}

// parseFormID is parseOptionalID for multipart form fields. The form must
// already be parsed.
func parseFormID(w http.ResponseWriter, r *http.Request, name string, logger *zap.Logger) (*int64, bool) {
	return optionalID(w, r.FormValue(name), name, logger)
}

func optionalID(w http.ResponseWriter, raw, name string, logger *zap.Logger) (*int64, bool) {
	if raw == "" {
		return nil, true
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_"+name, "Invalid "+name); err != nil {
			logger.Error("Failed to write error response", zap.Error(err))
		}
		return nil, false
	}
	return &id, true
}

// parsePage reads limit and offset, clamping limit to maxPageSize.
// Malformed values fall back to the defaults.
func parsePage(r *http.Request) repositories.Page {
	q := r.URL.Query()
	page := repositories.Page{Limit: defaultPageSize}
	if v, err := strconv.ParseUint(q.Get("limit"), 10, 64); err == nil && v > 0 {
		page.Limit = min(v, maxPageSize)
	}
	if v, err := strconv.ParseUint(q.Get("offset"), 10, 64); err == nil {
		page.Offset = v
	}
	return page
}

// parseOptionalBool reads true/false query values; anything else is nil.
func parseOptionalBool(r *http.Request, name string) *bool {
	v, err := strconv.ParseBool(r.URL.Query().Get(name))
	if err != nil {
		return nil
	}
	return &v
}

// parseFormFloat reads an optional non-negative number from a form field.
// Malformed values are treated as absent.
func parseFormFloat(r *http.Request, name string) *float64 {
	v, err := strconv.ParseFloat(r.FormValue(name), 64)
	if err != nil || v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}
