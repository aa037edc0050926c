package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"asset-tracker-api/internal/auth"
	"asset-tracker-api/internal/tracking"
	"asset-tracker-api/pkg/importer"

	"github.com/rs/zerolog"
)

// ImportsHandler handles Excel import operations
type ImportsHandler struct {
	Service    *tracking.Service
	MaxBytes   int64
	DefaultMap *importer.Mapping
	log        zerolog.Logger
}

// NewImportsHandler creates a new imports handler
func NewImportsHandler(svc *tracking.Service, logger zerolog.Logger) *ImportsHandler {
	return &ImportsHandler{
		Service:    svc,
		MaxBytes:   20 << 20, // 20 MB
		DefaultMap: importer.DefaultMapping(),
		log:        logger,
	}
}

// UploadExcel handles Excel file uploads for asset import. Form fields:
// file (required), mapping (optional YAML file), dry_run, strict, max_errors.
func (h *ImportsHandler) UploadExcel(w http.ResponseWriter, r *http.Request) {
	// Limit body size
	r.Body = http.MaxBytesReader(w, r.Body, h.MaxBytes)

	// Require multipart
	if !strings.Contains(r.Header.Get("Content-Type"), "multipart/form-data") {
		http.Error(w, "content-type must be multipart/form-data", http.StatusBadRequest)
		return
	}

	if err := r.ParseMultipartForm(h.MaxBytes); err != nil {
		http.Error(w, "invalid multipart form: "+err.Error(), http.StatusBadRequest)
		return
	}

	opts := importer.ImportOptions{
		Mapping:   h.DefaultMap,
		DryRun:    formBool(r, "dry_run"),
		Strict:    formBool(r, "strict"),
		MaxErrors: 50,
	}
	if v := r.FormValue("max_errors"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			opts.MaxErrors = n
		}
	}

	if mf, _, err := r.FormFile("mapping"); err == nil {
		mapping, err := readMapping(mf)
		if err != nil {
			http.Error(w, "invalid mapping: "+err.Error(), http.StatusBadRequest)
			return
		}
		opts.Mapping = mapping
	}

	// File
	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "file is required: "+err.Error(), http.StatusBadRequest)
		return
	}
	defer file.Close()

	if !isXLSX(header) {
		http.Error(w, "only .xlsx files are accepted", http.StatusBadRequest)
		return
	}

	sink := &AssetSink{Service: h.Service, Owner: auth.CallerFromContext(r.Context())}
	sum, impErr := importer.ImportExcel(r.Context(), sink, file, opts)
	if impErr != nil {
		h.log.Warn().Err(impErr).Str("file", header.Filename).Int("errors", sum.Errors).Msg("import failed")
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":   "IMPORT_FAILED",
			"details": impErr.Error(),
			"data":    sum, // might include partial
		})
		return
	}

	h.log.Info().
		Str("file", header.Filename).
		Bool("dry_run", sum.DryRun).
		Int("inserted", sum.Inserted).
		Int("skipped", sum.Skipped).
		Int("errors", sum.Errors).
		Msg("import finished")
	writeJSON(w, http.StatusOK, map[string]any{
		"data": sum,
		"meta": map[string]any{
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		},
	})
}

// AssetSink creates imported rows through the asset directory and binds the
// row's tag when one is given. Owner, when set, is recorded on bound tags.
// A row whose tag cannot be bound is not created.
type AssetSink struct {
	Service *tracking.Service
	Owner   string
}

// CreateAsset implements importer.Sink
func (s *AssetSink) CreateAsset(ctx context.Context, row importer.Row) error {
	owner := ""
	if row.TagUID != "" {
		owner = s.Owner
	}
	_, _, err := s.Service.Assets.CreateWithTag(ctx, tracking.NewAsset{
		Serial:    row.Serial,
		Label:     row.Label,
		Contents:  row.Contents,
		Location:  row.Location,
		Latitude:  row.Latitude,
		Longitude: row.Longitude,
	}, row.TagUID, owner)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, tracking.ErrDuplicateSerial):
		return fmt.Errorf("serial %q: %w", row.Serial, importer.ErrDuplicate)
	case row.TagUID != "":
		return fmt.Errorf("asset %s with tag %q: %w", row.Serial, row.TagUID, err)
	default:
		return err
	}
}

func readMapping(f multipart.File) (*importer.Mapping, error) {
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, 1<<20))
	if err != nil {
		return nil, err
	}
	return importer.ParseMapping(data)
}

func formBool(r *http.Request, name string) bool {
	v, _ := strconv.ParseBool(r.FormValue(name))
	return v
}

// isXLSX checks if the uploaded file is an Excel .xlsx file
func isXLSX(h *multipart.FileHeader) bool {
	name := strings.ToLower(h.Filename)
	return strings.HasSuffix(name, ".xlsx")
}

// writeJSON writes a JSON response
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
