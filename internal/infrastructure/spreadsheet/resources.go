// Package spreadsheet reads and writes xlsx workbooks: the learning resource
// catalog on the way in and the study report on the way out.
package spreadsheet

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/alem-hub/socratic-tutor/internal/domain/resource"
)

// DefaultResourceSheet is the sheet holding the resource catalog.
const DefaultResourceSheet = "Websites"

// resourceColumns is the header written to new catalogs.
var resourceColumns = []string{"Title", "Topic", "URL", "Description", "Level", "Type"}

// ImportResult holds the outcome of a catalog import.
type ImportResult struct {
	Resources []resource.Resource
	Processed int
	Skipped   int
	Errors    []string
}

// ImportResources reads the catalog sheet of an xlsx file. Columns are found
// by header name, case-insensitively; rows that fail validation are skipped
// and reported.
func ImportResources(path, sheet string) (*ImportResult, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()
	return readResources(f, sheet)
}

// ImportResourcesFrom is ImportResources for an in-memory workbook.
func ImportResourcesFrom(r io.Reader, sheet string) (*ImportResult, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()
	return readResources(f, sheet)
}

func readResources(f *excelize.File, sheet string) (*ImportResult, error) {
	if sheet == "" {
		sheet = DefaultResourceSheet
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheet, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("sheet %q is empty", sheet)
	}

	index := make(map[string]int, len(rows[0]))
	for i, h := range rows[0] {
		index[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, required := range []string{"title", "url"} {
		if _, ok := index[required]; !ok {
			return nil, fmt.Errorf("sheet %q: missing %q column", sheet, required)
		}
	}

	cell := func(row []string, name string) string {
		i, ok := index[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	result := &ImportResult{}
	for i, row := range rows[1:] {
		if isBlank(row) {
			continue
		}
		result.Processed++
		res := resource.Resource{
			Title:       cell(row, "title"),
			Topic:       cell(row, "topic"),
			URL:         cell(row, "url"),
			Description: cell(row, "description"),
			Level:       cell(row, "level"),
			Type:        cell(row, "type"),
		}
		if err := res.Validate(); err != nil {
			result.Skipped++
			result.Errors = append(result.Errors, fmt.Sprintf("row %d: %v", i+2, err))
			continue
		}
		result.Resources = append(result.Resources, res)
	}
	return result, nil
}

func isBlank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

// WriteResources writes a catalog workbook.
func WriteResources(path string, items []resource.Resource) error {
	f := excelize.NewFile()
	defer f.Close()

	f.SetSheetName("Sheet1", DefaultResourceSheet)
	if err := writeHeader(f, DefaultResourceSheet, resourceColumns); err != nil {
		return err
	}
	for i, r := range items {
		row := []interface{}{r.Title, r.Topic, r.URL, r.Description, r.Level, r.Type}
		if err := setRow(f, DefaultResourceSheet, i+2, row); err != nil {
			return err
		}
	}
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("save workbook: %w", err)
	}
	return nil
}

// EnsureResources creates a catalog with the starter resources when path
// does not exist yet. It reports whether a file was created.
func EnsureResources(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return false, err
	}
	if err := WriteResources(path, resource.Defaults()); err != nil {
		return false, err
	}
	return true, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

func writeHeader(f *excelize.File, sheet string, columns []string) error {
	row := make([]interface{}, len(columns))
	for i, c := range columns {
		row[i] = c
	}
	if err := setRow(f, sheet, 1, row); err != nil {
		return err
	}
	style, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("header style: %w", err)
	}
	last, err := excelize.CoordinatesToCellName(len(columns), 1)
	if err != nil {
		return err
	}
	return f.SetCellStyle(sheet, "A1", last, style)
}

func setRow(f *excelize.File, sheet string, row int, values []interface{}) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	if err := f.SetSheetRow(sheet, cell, &values); err != nil {
		return fmt.Errorf("write %s!%s: %w", sheet, cell, err)
	}
	return nil
}
