package internal

import (
	"net/http"
	"strings"
	"time"

	"asset-tracker-api/internal/auth"
	"asset-tracker-api/internal/models"
	"asset-tracker-api/internal/tracking"
)

type assetTagResponse struct {
	Asset models.Asset `json:"asset"`
	Tag   models.Tag   `json:"tag"`
}

type transitionResponse struct {
	Asset    models.Asset         `json:"asset"`
	Movement models.MovementEvent `json:"movement"`
}

// createAsset registers a new asset at base
func (s *Server) createAsset(w http.ResponseWriter, r *http.Request) {
	var req models.CreateAssetRequest
	if err := decodeJSON(r, &req); err != nil {
		s.sendError(w, r, err)
		return
	}

	asset, err := s.Service.Assets.Create(r.Context(), tracking.NewAsset{
		Serial:    req.Serial,
		Label:     req.Label,
		Contents:  req.Contents,
		Location:  req.Location,
		Latitude:  req.Latitude,
		Longitude: req.Longitude,
	})
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, asset)
}

// listAssets returns assets most recently updated first with their latest
// movements
func (s *Server) listAssets(w http.ResponseWriter, r *http.Request) {
	params := parseListParams(r)
	page, err := s.Service.Query.ListAssets(r.Context(), params.limit, params.offset)
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	sendListResponse(w, page.Assets, page.Total, params)
}

// getAsset returns one asset with its full history, or just the asset when
// history=false
func (s *Server) getAsset(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.sendError(w, r, err)
		return
	}

	if strings.EqualFold(r.URL.Query().Get("history"), "false") {
		asset, err := s.Service.Assets.Get(r.Context(), id)
		if err != nil {
			s.sendError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, asset)
		return
	}

	detail, err := s.Service.Query.GetAsset(r.Context(), id)
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

// patchAsset applies a partial update. Fields absent from the body are kept.
func (s *Server) patchAsset(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	var patch models.AssetPatch
	if err := decodeJSON(r, &patch); err != nil {
		s.sendError(w, r, err)
		return
	}

	asset, err := s.Service.Assets.Patch(r.Context(), id, patch)
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, asset)
}

// assignTag binds a tag to the asset and records the caller as its owner
func (s *Server) assignTag(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	var req models.AssignTagRequest
	if err := decodeJSON(r, &req); err != nil {
		s.sendError(w, r, err)
		return
	}

	asset, tag, err := s.Service.Assets.BindTagAs(r.Context(), id, req.TagUID, auth.CallerFromContext(r.Context()))
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, assetTagResponse{Asset: asset, Tag: tag})
}

func (s *Server) checkoutAsset(w http.ResponseWriter, r *http.Request) {
	s.manualTransition(w, r, models.MovementCheckout)
}

func (s *Server) checkinAsset(w http.ResponseWriter, r *http.Request) {
	s.manualTransition(w, r, models.MovementCheckin)
}

func (s *Server) manualTransition(w http.ResponseWriter, r *http.Request, kind models.MovementKind) {
	id, err := pathID(r)
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	var req models.ManualActionRequest
	if err := decodeJSON(r, &req); err != nil {
		s.sendError(w, r, err)
		return
	}

	in := tracking.ManualTransition{
		Kind:      kind,
		Actor:     req.Actor,
		Latitude:  req.Latitude,
		Longitude: req.Longitude,
	}
	location := req.ToLocation
	if kind == models.MovementCheckin {
		location = req.AtLocation
	}
	if location != nil {
		in.Location = *location
	}
	if req.Timestamp != nil && strings.TrimSpace(*req.Timestamp) != "" {
		var ts time.Time
		if ts, err = tracking.ParseTimestamp(*req.Timestamp); err != nil {
			s.sendError(w, r, err)
			return
		}
		in.Timestamp = &ts
	}

	asset, movement, err := s.Service.Assets.ApplyManualTransition(r.Context(), id, in, auth.CallerFromContext(r.Context()))
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, transitionResponse{Asset: asset, Movement: movement})
}

// listMovements returns one page of an asset's ledger, newest first
func (s *Server) listMovements(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.sendError(w, r, err)
		return
	}

	var f tracking.MovementFilter
	if f.Limit, err = queryInt(r, "limit"); err != nil {
		s.sendError(w, r, err)
		return
	}
	if f.Skip, err = queryInt(r, "skip"); err != nil {
		s.sendError(w, r, err)
		return
	}
	if f.From, err = queryTime(r, "from"); err != nil {
		s.sendError(w, r, err)
		return
	}
	if f.To, err = queryTime(r, "to"); err != nil {
		s.sendError(w, r, err)
		return
	}

	movements, err := s.Service.Query.Movements(r.Context(), id, f)
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": movements})
}
