package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/hackgods/clinic-slot-booking/internal/appointment"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}

func writeValidationError(w http.ResponseWriter, ve *appointment.ValidationError) {
	writeJSON(w, http.StatusBadRequest, ErrorResponse{
		Error:   "validation_error",
		Details: ve.Message,
		Field:   ve.Field,
	})
}

// pageParams reads ?page= and ?limit=. page is 1-based.
func pageParams(r *http.Request) (page, limit, offset int) {
	page, _ = strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}

	limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 {
		limit = appointment.DefaultPageLimit
	}
	if limit > appointment.MaxPageLimit {
		limit = appointment.MaxPageLimit
	}

	return page, limit, (page - 1) * limit
}

func newPage[T any](items []T, total, page, limit int) PageResponse[T] {
	if items == nil {
		items = []T{}
	}
	return PageResponse[T]{
		Items:      items,
		Total:      total,
		Page:       page,
		Limit:      limit,
		TotalPages: (total + limit - 1) / limit,
	}
}
