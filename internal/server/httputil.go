package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/matthewbaird/metaui/internal/view"
)

// writeJSON marshals v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("writeJSON encode error", "error", err)
	}
}

// writeError writes a structured JSON error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
		"code":  code,
	})
}

// viewErrorToHTTP maps view errors to HTTP responses.
func viewErrorToHTTP(w http.ResponseWriter, r *http.Request, log *slog.Logger, err error) {
	code := view.ErrorCode(err)
	status := http.StatusBadGateway
	switch code {
	case "not_found":
		status = http.StatusNotFound
	case "catalog_unavailable":
		status = http.StatusServiceUnavailable
	case "filter_not_allowed":
		status = http.StatusBadRequest
	case "not_permitted":
		status = http.StatusForbidden
	case "canceled":
		status = http.StatusRequestTimeout
	default:
		log.Error("request failed", "path", r.URL.Path, "request_id", RequestID(r.Context()), "error", err)
	}
	writeError(w, status, strings.ToUpper(code), err.Error())
}

// Pagination holds parsed pagination parameters.
type Pagination struct {
	Limit  int
	Offset int
}

// parsePagination extracts limit (or page_size) and offset from query params.
func parsePagination(r *http.Request, defaultLimit, maxLimit int) Pagination {
	p := Pagination{Limit: defaultLimit, Offset: 0}
	q := r.URL.Query()
	for _, key := range []string{"page_size", "limit"} {
		if v := q.Get(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				p.Limit = n
			}
		}
	}
	if p.Limit > maxLimit {
		p.Limit = maxLimit
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			p.Offset = n
		}
	}
	return p
}

// reservedParams are query parameters that are never filters.
var reservedParams = map[string]bool{
	"offset":    true,
	"limit":     true,
	"page_size": true,
	"fields":    true,
}

// parseFilters collects every non-reserved query parameter as a filter. A
// value that is a JSON scalar (number, boolean, quoted string) is decoded,
// anything else is kept as text. Repeated parameters become a list.
func parseFilters(r *http.Request) map[string]any {
	var filters map[string]any
	for key, values := range r.URL.Query() {
		if reservedParams[key] || len(values) == 0 {
			continue
		}
		if filters == nil {
			filters = make(map[string]any)
		}
		if len(values) == 1 {
			filters[key] = filterValue(values[0])
			continue
		}
		list := make([]any, len(values))
		for i, v := range values {
			list[i] = filterValue(v)
		}
		filters[key] = list
	}
	return filters
}

func filterValue(raw string) any {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err == nil {
		switch v.(type) {
		case float64, bool, string:
			return v
		}
	}
	return raw
}

// parseFields splits the comma separated fields parameter.
func parseFields(r *http.Request) []string {
	raw := r.URL.Query().Get("fields")
	if raw == "" {
		return nil
	}
	var fields []string
	for _, f := range strings.Split(raw, ",") {
		if f = strings.TrimSpace(f); f != "" {
			fields = append(fields, f)
		}
	}
	return fields
}
