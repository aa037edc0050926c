package internal

import (
	"net/http"

	"asset-tracker-api/internal/auth"
)

// getTag returns a tag by uid
func (s *Server) getTag(w http.ResponseWriter, r *http.Request) {
	tag, err := s.Service.Tags.Get(r.Context(), chiParam(r, "uid"))
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tag)
}

// markTagSeen stamps the tag's last sighting with the current time
func (s *Server) markTagSeen(w http.ResponseWriter, r *http.Request) {
	tag, err := s.Service.Tags.MarkSeenNow(r.Context(), chiParam(r, "uid"))
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tag)
}

// claimTag records the caller as the tag's owner without touching its binding
func (s *Server) claimTag(w http.ResponseWriter, r *http.Request) {
	tag, err := s.Service.Tags.Bind(r.Context(), chiParam(r, "uid"), auth.CallerFromContext(r.Context()))
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tag)
}
