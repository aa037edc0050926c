package internal

import (
	"net/http"

	"asset-tracker-api/internal/models"
)

// createPortal registers a portal. The API key is only returned here.
func (s *Server) createPortal(w http.ResponseWriter, r *http.Request) {
	var req models.CreatePortalRequest
	if err := decodeJSON(r, &req); err != nil {
		s.sendError(w, r, err)
		return
	}

	portal, key, err := s.Service.Portals.Register(r.Context(), req.Name, req.Location)
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, models.PortalRegistration{Portal: portal, APIKey: key})
}

func (s *Server) listPortals(w http.ResponseWriter, r *http.Request) {
	portals, err := s.Service.Portals.List(r.Context())
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": portals})
}

func (s *Server) getPortal(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	portal, err := s.Service.Portals.Get(r.Context(), id)
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, portal)
}
