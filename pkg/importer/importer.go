// Package importer reads asset rows from .xlsx workbooks and hands them to a
// Sink, using a YAML mapping of header aliases to asset fields.
package importer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/tealeg/xlsx/v3"
)

// ErrDuplicate is returned by a Sink when the row's serial already exists
var ErrDuplicate = errors.New("duplicate asset")

// Row is one asset parsed from a sheet
type Row struct {
	Sheet     string
	Line      int
	Serial    string
	Label     *string
	Contents  *string
	Location  string
	Latitude  *float64
	Longitude *float64
	TagUID    string
}

// Sink persists imported rows
type Sink interface {
	CreateAsset(ctx context.Context, row Row) error
}

// ImportOptions defines the configuration for Excel import operations
type ImportOptions struct {
	// Mapping defaults to DefaultMapping.
	Mapping *Mapping
	DryRun  bool
	// Strict counts duplicate serials as errors instead of skipping them.
	Strict    bool
	MaxErrors int // default 50
}

// RowError represents an error that occurred during row processing
type RowError struct {
	Sheet   string `json:"sheet"`
	Row     int    `json:"row"`
	Message string `json:"message"`
}

// SheetSummary contains the import statistics for a single sheet
type SheetSummary struct {
	Name     string     `json:"name"`
	Inserted int        `json:"inserted"`
	Skipped  int        `json:"skipped"`
	Errors   int        `json:"errors"`
	Samples  []RowError `json:"error_samples,omitempty"`
}

// ImportSummary contains the overall import statistics
type ImportSummary struct {
	Inserted int            `json:"inserted"`
	Skipped  int            `json:"skipped"`
	Errors   int            `json:"errors"`
	Sheets   []SheetSummary `json:"sheets"`
	DryRun   bool           `json:"dry_run"`
}

// maxSamples bounds the error samples kept per sheet
const maxSamples = 20

// ImportExcel reads every mapped sheet of the workbook in r and creates one
// asset per data row. In dry-run mode rows are validated but the sink is not
// called. The import stops with an error once MaxErrors is exceeded.
func ImportExcel(ctx context.Context, sink Sink, r io.Reader, opts ImportOptions) (ImportSummary, error) {
	summary := ImportSummary{
		DryRun: opts.DryRun,
		Sheets: []SheetSummary{},
	}
	if opts.Mapping == nil {
		opts.Mapping = DefaultMapping()
	}
	if opts.MaxErrors <= 0 {
		opts.MaxErrors = 50
	}

	// xlsx needs random access, so the whole upload is buffered
	data, err := io.ReadAll(r)
	if err != nil {
		return summary, fmt.Errorf("failed to read Excel file: %w", err)
	}
	xlFile, err := xlsx.OpenBinary(data)
	if err != nil {
		return summary, fmt.Errorf("failed to open Excel file: %w", err)
	}

	seen := map[string]bool{}
	for _, sheet := range xlFile.Sheets {
		if !opts.Mapping.includesSheet(sheet.Name) {
			continue
		}
		sheetSummary, ok := processSheet(ctx, sink, sheet, opts, seen)
		if !ok {
			continue // no serial column
		}
		summary.Sheets = append(summary.Sheets, sheetSummary)

		summary.Inserted += sheetSummary.Inserted
		summary.Skipped += sheetSummary.Skipped
		summary.Errors += sheetSummary.Errors

		if err := ctx.Err(); err != nil {
			return summary, err
		}
		if summary.Errors > opts.MaxErrors {
			return summary, fmt.Errorf("too many errors (%d), stopping import", summary.Errors)
		}
	}

	return summary, nil
}

func processSheet(ctx context.Context, sink Sink, sheet *xlsx.Sheet, opts ImportOptions, seen map[string]bool) (SheetSummary, bool) {
	summary := SheetSummary{Name: sheet.Name}
	fail := func(line int, msg string) {
		summary.Errors++
		if len(summary.Samples) < maxSamples {
			summary.Samples = append(summary.Samples, RowError{Sheet: sheet.Name, Row: line, Message: msg})
		}
	}

	if sheet.MaxRow == 0 {
		return summary, false
	}
	header, err := sheet.Row(0)
	if err != nil {
		fail(1, "failed to read header row: "+err.Error())
		return summary, true
	}

	// GetCell creates missing cells, so reads stay within MaxCol
	columns := map[int]string{}
	hasSerial := false
	for col := 0; col < sheet.MaxCol; col++ {
		field, ok := opts.Mapping.fieldFor(header.GetCell(col).String())
		if !ok {
			continue
		}
		columns[col] = field
		hasSerial = hasSerial || field == FieldSerial
	}
	if !hasSerial {
		return summary, false
	}

	for rowIdx := 1; rowIdx < sheet.MaxRow; rowIdx++ {
		if ctx.Err() != nil {
			break
		}
		line := rowIdx + 1
		row, err := sheet.Row(rowIdx)
		if err != nil {
			fail(line, "failed to read row: "+err.Error())
			continue
		}

		values := map[string]string{}
		for col, field := range columns {
			if v := cellText(row.GetCell(col)); v != "" {
				values[field] = v
			}
		}
		if len(values) == 0 {
			summary.Skipped++
			continue
		}

		parsed, err := buildRow(values)
		if err != nil {
			fail(line, err.Error())
			continue
		}
		parsed.Sheet, parsed.Line = sheet.Name, line

		key := strings.ToUpper(parsed.Serial)
		if seen[key] {
			if opts.Strict {
				fail(line, fmt.Sprintf("serial %q repeated in workbook", parsed.Serial))
			} else {
				summary.Skipped++
			}
			continue
		}
		seen[key] = true

		if !opts.DryRun {
			if err := sink.CreateAsset(ctx, parsed); err != nil {
				if errors.Is(err, ErrDuplicate) && !opts.Strict {
					summary.Skipped++
					continue
				}
				fail(line, err.Error())
				continue
			}
		}
		summary.Inserted++
	}

	return summary, true
}

func cellText(c *xlsx.Cell) string {
	if c == nil {
		return ""
	}
	if s := strings.TrimSpace(c.String()); s != "" {
		return s
	}
	return strings.TrimSpace(c.Value)
}

func buildRow(values map[string]string) (Row, error) {
	row := Row{
		Serial:   values[FieldSerial],
		Location: values[FieldLocation],
		TagUID:   values[FieldTag],
	}
	if row.Serial == "" {
		return Row{}, errors.New("serial is required")
	}
	if v, ok := values[FieldLabel]; ok {
		row.Label = &v
	}
	if v, ok := values[FieldContents]; ok {
		row.Contents = &v
	}

	var err error
	if row.Latitude, err = parseCoordinate(values, FieldLatitude, 90); err != nil {
		return Row{}, err
	}
	if row.Longitude, err = parseCoordinate(values, FieldLongitude, 180); err != nil {
		return Row{}, err
	}
	if (row.Latitude == nil) != (row.Longitude == nil) {
		return Row{}, errors.New("latitude and longitude must be given together")
	}
	return row, nil
}

func parseCoordinate(values map[string]string, field string, bound float64) (*float64, error) {
	s, ok := values[field]
	if !ok {
		return nil, nil
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", "."), 64)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %q is not a number", field, s)
	}
	if v < -bound || v > bound {
		return nil, fmt.Errorf("%s %v out of range", field, v)
	}
	return &v, nil
}
