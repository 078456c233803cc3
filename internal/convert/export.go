package convert

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/xuri/excelize/v2"
)

// exportTable writes one table as JSON, CSV and XLSX files under outDir.
// Filenames are prefixed with a unix timestamp to avoid collisions between
// repeated uploads of the same file.
func exportTable(outDir, baseName string, rows []map[string]any) (Exported, error) {
	stamp := time.Now().Unix()
	name := func(ext string) string {
		return fmt.Sprintf("%d_%s%s", stamp, baseName, ext)
	}

	jsonName := name(".json")
	if err := writeJSON(filepath.Join(outDir, jsonName), rows); err != nil {
		return Exported{}, err
	}

	columns := columnOrder(rows)

	csvName := name(".csv")
	if err := writeCSV(filepath.Join(outDir, csvName), columns, rows); err != nil {
		return Exported{}, err
	}

	xlsxName := name(".xlsx")
	if err := writeXLSX(filepath.Join(outDir, xlsxName), columns, rows); err != nil {
		return Exported{}, err
	}

	return Exported{
		JSON:  jsonName,
		CSV:   csvName,
		Excel: xlsxName,
		Data:  rows,
	}, nil
}

// columnOrder returns the sorted union of keys across all rows. Sorting
// keeps exports deterministic regardless of map iteration order.
func columnOrder(rows []map[string]any) []string {
	seen := make(map[string]bool)
	var cols []string
	for _, row := range rows {
		for k := range row {
			if !seen[k] {
				seen[k] = true
				cols = append(cols, k)
			}
		}
	}
	sort.Strings(cols)
	return cols
}

// writeJSON writes the rows as indented JSON.
func writeJSON(path string, rows []map[string]any) error {
	data, err := json.MarshalIndent(rows, "", "  ")
	if err != nil {
		return fmt.Errorf("convert: failed to marshal table: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("convert: failed to write %s: %w", filepath.Base(path), err)
	}
	return nil
}

// writeCSV writes a header row followed by one record per table row.
func writeCSV(path string, columns []string, rows []map[string]any) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("convert: failed to create %s: %w", filepath.Base(path), err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(columns); err != nil {
		return fmt.Errorf("convert: failed to write csv header: %w", err)
	}
	for _, row := range rows {
		record := make([]string, len(columns))
		for i, col := range columns {
			record[i] = cellString(row[col])
		}
		if err := w.Write(record); err != nil {
			return fmt.Errorf("convert: failed to write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("convert: failed to flush csv: %w", err)
	}
	return nil
}

// writeXLSX writes the table to the first sheet of a new workbook.
func writeXLSX(path string, columns []string, rows []map[string]any) error {
	f := excelize.NewFile()
	defer f.Close()

	sheet := f.GetSheetName(0)
	for i, col := range columns {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return fmt.Errorf("convert: invalid cell coordinates: %w", err)
		}
		if err := f.SetCellValue(sheet, cell, col); err != nil {
			return fmt.Errorf("convert: failed to set header cell: %w", err)
		}
	}
	for r, row := range rows {
		for i, col := range columns {
			cell, err := excelize.CoordinatesToCellName(i+1, r+2)
			if err != nil {
				return fmt.Errorf("convert: invalid cell coordinates: %w", err)
			}
			if err := f.SetCellValue(sheet, cell, cellString(row[col])); err != nil {
				return fmt.Errorf("convert: failed to set cell: %w", err)
			}
		}
	}

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("convert: failed to write %s: %w", filepath.Base(path), err)
	}
	return nil
}

// cellString renders a JSON value for a spreadsheet cell. Nested values
// fall back to their compact JSON encoding.
func cellString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		// JSON numbers decode as float64; print integers without decimals.
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%g", t)
	case bool:
		return fmt.Sprintf("%t", t)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprintf("%v", t)
		}
		return string(b)
	}
}
