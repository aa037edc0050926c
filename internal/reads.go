package internal

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"asset-tracker-api/internal/auth"
	"asset-tracker-api/internal/tracking"

	"github.com/klauspost/compress/gzip"
)

// ingestResponse is the batch outcome returned to portals
type ingestResponse struct {
	OK bool `json:"ok"`
	*tracking.BatchResult
}

var errBodyTooLarge = errors.New("request body too large")

// ingestReads accepts a portal batch: one read object or an array of reads,
// optionally gzip-encoded. 201 when every read applied, 207 otherwise.
func (s *Server) ingestReads(w http.ResponseWriter, r *http.Request) {
	portal, ok := auth.PortalFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, auth.ErrorResponse{Error: "portal authentication required", Code: "MISSING_API_KEY"})
		return
	}

	body, err := s.readBatchBody(w, r)
	if err != nil {
		if errors.Is(err, errBodyTooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, auth.ErrorResponse{Error: err.Error(), Code: "BODY_TOO_LARGE"})
			return
		}
		s.sendError(w, r, err)
		return
	}

	reads, err := tracking.DecodeBatch(body)
	if err != nil {
		s.sendError(w, r, err)
		return
	}

	batch, err := s.Service.Engine.Ingest(r.Context(), portal, reads)
	if err != nil {
		s.sendError(w, r, err)
		return
	}

	status := http.StatusCreated
	if batch.Err() != nil {
		status = http.StatusMultiStatus
	}
	writeJSON(w, status, ingestResponse{OK: status == http.StatusCreated, BatchResult: batch})
}

// readBatchBody reads the request body, inflating gzip bodies. The size cap
// applies to both the wire bytes and the inflated payload.
func (s *Server) readBatchBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	limit := s.cfg.IngestMaxBytes
	var src io.Reader = http.MaxBytesReader(w, r.Body, limit)

	switch enc := strings.ToLower(strings.TrimSpace(r.Header.Get("Content-Encoding"))); enc {
	case "", "identity":
	case "gzip":
		zr, err := gzip.NewReader(src)
		if err != nil {
			return nil, fmt.Errorf("invalid gzip body: %v: %w", err, tracking.ErrInvalidInput)
		}
		defer zr.Close()
		src = zr
	default:
		return nil, fmt.Errorf("unsupported content encoding %q: %w", enc, tracking.ErrInvalidInput)
	}

	body, err := io.ReadAll(io.LimitReader(src, limit+1))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, errBodyTooLarge
		}
		if errors.Is(err, gzip.ErrChecksum) || errors.Is(err, gzip.ErrHeader) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("invalid gzip body: %v: %w", err, tracking.ErrInvalidInput)
		}
		return nil, err
	}
	if int64(len(body)) > limit {
		return nil, errBodyTooLarge
	}
	return body, nil
}

// searchReads returns read events newest first, filtered by portal, tag uid
// and time range
func (s *Server) searchReads(w http.ResponseWriter, r *http.Request) {
	var (
		q   tracking.ReadQuery
		err error
	)
	if q.PortalID, err = queryID(r, "portal_id"); err != nil {
		s.sendError(w, r, err)
		return
	}
	q.UID = strings.TrimSpace(r.URL.Query().Get("uid"))
	if q.From, err = queryTime(r, "from"); err != nil {
		s.sendError(w, r, err)
		return
	}
	if q.To, err = queryTime(r, "to"); err != nil {
		s.sendError(w, r, err)
		return
	}
	if q.Limit, err = queryInt(r, "limit"); err != nil {
		s.sendError(w, r, err)
		return
	}

	reads, err := s.Service.Query.SearchReads(r.Context(), q)
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": reads})
}
