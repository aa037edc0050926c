package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"asset-tracker-api/internal/auth"
	"asset-tracker-api/internal/store/memory"
	"asset-tracker-api/internal/tracking"
	"asset-tracker-api/pkg/importer"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v3"
)

func newHandler(t *testing.T) *ImportsHandler {
	t.Helper()
	svc := tracking.New(memory.New(), tracking.Options{})
	return NewImportsHandler(svc, zerolog.Nop())
}

func withCaller(req *http.Request) *http.Request {
	return req.WithContext(context.WithValue(req.Context(), auth.EmailKey, "ops@example.com"))
}

func xlsxBytes(t *testing.T, rows [][]string) []byte {
	t.Helper()
	f := xlsx.NewFile()
	sh, err := f.AddSheet("Assets")
	require.NoError(t, err)
	for _, values := range rows {
		row := sh.AddRow()
		for _, v := range values {
			row.AddCell().SetString(v)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, f.Write(&buf))
	return buf.Bytes()
}

func uploadRequest(t *testing.T, filename string, content []byte, fields map[string]string) *http.Request {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for k, v := range fields {
		require.NoError(t, writer.WriteField(k, v))
	}
	if filename != "" {
		fw, err := writer.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = fw.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, writer.Close())

	req := httptest.NewRequest("POST", "/api/imports/excel", body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return withCaller(req)
}

func TestImportsHandler_UploadExcel(t *testing.T) {
	t.Run("Rejects non-multipart content type", func(t *testing.T) {
		handler := newHandler(t)
		req := httptest.NewRequest("POST", "/api/imports/excel", nil)
		req.Header.Set("Content-Type", "application/json")

		w := httptest.NewRecorder()
		handler.UploadExcel(w, withCaller(req))

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "content-type must be multipart/form-data")
	})

	t.Run("Rejects missing file", func(t *testing.T) {
		handler := newHandler(t)
		w := httptest.NewRecorder()
		handler.UploadExcel(w, uploadRequest(t, "", nil, map[string]string{"dry_run": "true"}))

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "file is required")
	})

	t.Run("Rejects non-xlsx file", func(t *testing.T) {
		handler := newHandler(t)
		w := httptest.NewRecorder()
		handler.UploadExcel(w, uploadRequest(t, "test.xls", []byte("fake excel content"), nil))

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "only .xlsx files are accepted")
	})

	t.Run("Reports unreadable workbook", func(t *testing.T) {
		handler := newHandler(t)
		w := httptest.NewRecorder()
		handler.UploadExcel(w, uploadRequest(t, "test.xlsx", []byte("fake excel content"), nil))

		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
		assert.Contains(t, w.Body.String(), "IMPORT_FAILED")
	})

	t.Run("Creates assets and binds tags", func(t *testing.T) {
		handler := newHandler(t)
		content := xlsxBytes(t, [][]string{
			{"Serial", "Label", "Location", "Tag"},
			{"S-100", "Kitchen", "Warehouse A", "TAG-1"},
			{"S-101", "", "Warehouse B", ""},
		})

		w := httptest.NewRecorder()
		handler.UploadExcel(w, uploadRequest(t, "cylinders.xlsx", content, nil))
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		var resp struct {
			Data importer.ImportSummary `json:"data"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, 2, resp.Data.Inserted)
		assert.Zero(t, resp.Data.Errors)

		ctx := context.Background()
		page, err := handler.Service.Query.ListAssets(ctx, 10, 0)
		require.NoError(t, err)
		assert.Equal(t, 2, page.Total)

		tag, err := handler.Service.Tags.Get(ctx, "TAG-1")
		require.NoError(t, err)
		require.NotNil(t, tag.OwnerRef)
		assert.Equal(t, "ops@example.com", *tag.OwnerRef)

		// a second upload of the same sheet only skips
		w = httptest.NewRecorder()
		handler.UploadExcel(w, uploadRequest(t, "cylinders.xlsx", content, nil))
		require.Equal(t, http.StatusOK, w.Code)
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Zero(t, resp.Data.Inserted)
		assert.Equal(t, 2, resp.Data.Skipped)
	})

	t.Run("Dry run writes nothing", func(t *testing.T) {
		handler := newHandler(t)
		content := xlsxBytes(t, [][]string{{"Serial"}, {"S-1"}})

		w := httptest.NewRecorder()
		handler.UploadExcel(w, uploadRequest(t, "a.xlsx", content, map[string]string{"dry_run": "true"}))
		require.Equal(t, http.StatusOK, w.Code)

		page, err := handler.Service.Query.ListAssets(context.Background(), 10, 0)
		require.NoError(t, err)
		assert.Zero(t, page.Total)
	})
}

func TestAssetSinkRefusedBindCreatesNothing(t *testing.T) {
	ctx := context.Background()
	svc := tracking.New(memory.New(), tracking.Options{RebindPolicy: tracking.RebindReject})
	old, err := svc.Assets.Create(ctx, tracking.NewAsset{Serial: "OLD"})
	require.NoError(t, err)
	_, _, err = svc.Assets.BindTag(ctx, old.ID, "TAG-1")
	require.NoError(t, err)

	sink := &AssetSink{Service: svc, Owner: "ops@example.com"}
	err = sink.CreateAsset(ctx, importer.Row{Serial: "NEW", TagUID: "TAG-1"})
	require.ErrorIs(t, err, tracking.ErrConflict)
	assert.NotErrorIs(t, err, importer.ErrDuplicate)

	page, err := svc.Query.ListAssets(ctx, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)

	// retrying the row with another tag is not reported as a duplicate
	require.NoError(t, sink.CreateAsset(ctx, importer.Row{Serial: "NEW", TagUID: "TAG-2"}))
	tag, err := svc.Tags.Get(ctx, "TAG-2")
	require.NoError(t, err)
	require.NotNil(t, tag.OwnerRef)
	assert.Equal(t, "ops@example.com", *tag.OwnerRef)

	page, err = svc.Query.ListAssets(ctx, 10, 0)
	require.NoError(t, err)
	require.Equal(t, 2, page.Total)
	for _, a := range page.Assets {
		if a.Serial == "NEW" {
			require.NotNil(t, a.TagID)
			assert.Equal(t, tag.ID, *a.TagID)
		}
	}

	err = sink.CreateAsset(ctx, importer.Row{Serial: "NEW"})
	assert.ErrorIs(t, err, importer.ErrDuplicate)
}

func TestIsXLSX(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		expected bool
	}{
		{"Valid xlsx", "test.xlsx", true},
		{"Valid xlsx uppercase", "TEST.XLSX", true},
		{"Valid xlsx mixed case", "Test.XlSx", true},
		{"Invalid xls", "test.xls", false},
		{"Invalid xlsm", "test.xlsm", false},
		{"Invalid txt", "test.txt", false},
		{"No extension", "test", false},
		{"Empty filename", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			header := &multipart.FileHeader{
				Filename: tt.filename,
			}
			result := isXLSX(header)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()
	data := map[string]interface{}{
		"message": "test",
		"count":   42,
	}

	writeJSON(w, http.StatusOK, data)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var response map[string]interface{}
	err := json.Unmarshal(w.Body.Bytes(), &response)
	require.NoError(t, err)
	assert.Equal(t, "test", response["message"])
	assert.Equal(t, float64(42), response["count"])
}
