package internal

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"asset-tracker-api/internal/auth"
	"asset-tracker-api/internal/tracking"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// pageInfo is the pagination block of list responses
type pageInfo struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
	Total  int `json:"total"`
}

type listResponse struct {
	Data any      `json:"data"`
	Page pageInfo `json:"page"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func sendListResponse(w http.ResponseWriter, data any, total int, p listParams) {
	writeJSON(w, http.StatusOK, listResponse{
		Data: data,
		Page: pageInfo{Limit: p.limit, Offset: p.offset, Total: total},
	})
}

// statusForKind maps tracking error kinds onto HTTP status codes
func statusForKind(kind string) int {
	switch kind {
	case tracking.KindNotFound:
		return http.StatusNotFound
	case tracking.KindConflict:
		return http.StatusConflict
	case tracking.KindInvalidInput:
		return http.StatusBadRequest
	case tracking.KindPartialBatch:
		return http.StatusMultiStatus
	default:
		return http.StatusInternalServerError
	}
}

// sendError writes err as an ErrorResponse. Internal errors are logged and
// their text is withheld from the client.
func (s *Server) sendError(w http.ResponseWriter, r *http.Request, err error) {
	kind := tracking.KindOf(err)
	status := statusForKind(kind)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		s.log.Error().Err(err).
			Str("route", routePattern(r)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("request failed")
		msg = "internal error"
	}
	writeJSON(w, status, auth.ErrorResponse{Error: msg, Code: strings.ToUpper(kind)})
}

// decodeJSON reads a JSON object body into v
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("request body is required: %w", tracking.ErrInvalidInput)
		}
		return fmt.Errorf("invalid JSON body: %v: %w", err, tracking.ErrInvalidInput)
	}
	return nil
}

func invalidParam(name, want string) error {
	return fmt.Errorf("%s must be %s: %w", name, want, tracking.ErrInvalidInput)
}

func chiParam(r *http.Request, name string) string {
	return strings.TrimSpace(chi.URLParam(r, name))
}
