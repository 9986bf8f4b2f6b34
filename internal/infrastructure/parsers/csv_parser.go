package parsers

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

// CSVParser parses CSV files with a header row
type CSVParser struct {
	config *ParserConfig
}

// NewCSVParser creates a new CSV parser
func NewCSVParser(config *ParserConfig) *CSVParser {
	if config == nil {
		config = DefaultParserConfig()
	}
	return &CSVParser{config: config}
}

// Parse reads and parses a CSV file from disk
func (p *CSVParser) Parse(ctx context.Context, filePath string) (*ParseResult, error) {
	file, err := openLimited(filePath, p.config.MaxFileSize)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return p.ParseStream(ctx, file)
}

// ParseStream reads and parses CSV data from r
func (p *CSVParser) ParseStream(ctx context.Context, r io.Reader) (*ParseResult, error) {
	csvReader := csv.NewReader(r)
	csvReader.TrimLeadingSpace = p.config.TrimWhitespace
	csvReader.FieldsPerRecord = -1

	header, err := csvReader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}

	var rows []sourceRow
	for {
		cells, err := csvReader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		var perr *csv.ParseError
		if errors.As(err, &perr) {
			// malformed rows are kept as nil and counted as skipped
			rows = append(rows, sourceRow{line: perr.StartLine})
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read CSV: %w", err)
		}
		line, _ := csvReader.FieldPos(0)
		rows = append(rows, sourceRow{line: line, cells: cells})
	}

	return tabular(ctx, p.config, "CSV", header, rows)
}

// sourceRow is a data row with its line in the file; nil cells mark a malformed row
type sourceRow struct {
	line  int
	cells []string
}

// tabular turns a header and data rows into records
func tabular(ctx context.Context, cfg *ParserConfig, format string, header []string, rows []sourceRow) (*ParseResult, error) {
	columns := make([]string, len(header))
	for i, h := range header {
		columns[i] = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
	}

	result := &ParseResult{
		Records: make([]Record, 0, len(rows)),
		Columns: columns,
		Format:  format,
	}

	for _, src := range rows {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		result.TotalRows++

		row := src.cells
		if row == nil || (cfg.SkipEmptyRows && isEmptyRow(row)) {
			result.SkippedRows++
			continue
		}

		fields := make(map[string]interface{}, len(columns))
		for c, col := range columns {
			if col == "" || c >= len(row) {
				continue
			}
			value := row[c]
			if cfg.TrimWhitespace {
				value = strings.TrimSpace(value)
			}
			fields[col] = value
		}
		result.Records = append(result.Records, Record{Line: src.line, Fields: fields})
	}

	return result, nil
}

// isEmptyRow checks if a row contains only empty strings
func isEmptyRow(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
