package internal

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"asset-tracker-api/internal/tracking"
)

// listParams holds common query parameters for list endpoints
type listParams struct {
	limit  int
	offset int
}

// parseListParams parses limit and offset from the request.
// Defaults: limit=50 (max 200), offset=0
func parseListParams(r *http.Request) listParams {
	values := r.URL.Query()

	limit := 50
	if s := strings.TrimSpace(values.Get("limit")); s != "" {
		if v, err := strconv.Atoi(s); err == nil && v > 0 {
			if v > 200 {
				v = 200
			}
			limit = v
		}
	}

	offset := 0
	if s := strings.TrimSpace(values.Get("offset")); s != "" {
		if v, err := strconv.Atoi(s); err == nil && v >= 0 {
			offset = v
		}
	}

	return listParams{limit: limit, offset: offset}
}

// queryInt parses an optional non-negative integer parameter. Absent yields 0.
func queryInt(r *http.Request, name string) (int, error) {
	s := strings.TrimSpace(r.URL.Query().Get(name))
	if s == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return 0, invalidParam(name, "a non-negative integer")
	}
	return v, nil
}

// queryID parses an optional positive id parameter
func queryID(r *http.Request, name string) (*int64, error) {
	s := strings.TrimSpace(r.URL.Query().Get(name))
	if s == "" {
		return nil, nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil || v <= 0 {
		return nil, invalidParam(name, "a positive integer")
	}
	return &v, nil
}

// queryTime parses an optional ISO-8601 parameter
func queryTime(r *http.Request, name string) (*time.Time, error) {
	s := strings.TrimSpace(r.URL.Query().Get(name))
	if s == "" {
		return nil, nil
	}
	t, err := tracking.ParseTimestamp(s)
	if err != nil {
		return nil, invalidParam(name, "an ISO-8601 timestamp")
	}
	return &t, nil
}

func pathID(r *http.Request) (int64, error) {
	v, err := strconv.ParseInt(chiParam(r, "id"), 10, 64)
	if err != nil || v <= 0 {
		return 0, invalidParam("id", "a positive integer")
	}
	return v, nil
}
