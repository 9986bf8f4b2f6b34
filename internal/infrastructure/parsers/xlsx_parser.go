package parsers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"
)

// topicsSheet is preferred over the first sheet when no sheet is configured
const topicsSheet = "Topics"

// XLSXParser streams the rows of one worksheet
type XLSXParser struct {
	config *ParserConfig
}

// NewXLSXParser creates a workbook parser
func NewXLSXParser(config *ParserConfig) *XLSXParser {
	if config == nil {
		config = DefaultParserConfig()
	}
	return &XLSXParser{config: config}
}

// Parse opens filePath and reads its topic sheet
func (p *XLSXParser) Parse(ctx context.Context, filePath string) (*ParseResult, error) {
	file, err := openLimited(filePath, p.config.MaxFileSize)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return p.ParseStream(ctx, file)
}

// ParseStream reads the topic sheet of the workbook in r. Row numbers are
// the worksheet's own, so gaps in the sheet count as skipped rows.
func (p *XLSXParser) ParseStream(ctx context.Context, r io.Reader) (*ParseResult, error) {
	book, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer book.Close()

	sheet, err := pickSheet(book.GetSheetList(), p.config.Sheet)
	if err != nil {
		return nil, err
	}

	iter, err := book.Rows(sheet)
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheet, err)
	}
	defer iter.Close()

	var (
		header []string
		data   []sourceRow
	)
	for line := 1; iter.Next(); line++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		cells, err := iter.Columns()
		if err != nil {
			return nil, fmt.Errorf("sheet %q row %d: %w", sheet, line, err)
		}
		if line == 1 {
			header = cells
			continue
		}
		data = append(data, sourceRow{line: line, cells: cells})
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheet, err)
	}

	if header == nil {
		return &ParseResult{Records: []Record{}, Columns: []string{}, Format: "XLSX"}, nil
	}
	return tabular(ctx, p.config, "XLSX", header, data)
}

// pickSheet resolves want against sheets, case-insensitively
func pickSheet(sheets []string, want string) (string, error) {
	if len(sheets) == 0 {
		return "", errors.New("workbook has no sheets")
	}
	find := func(name string) (string, bool) {
		for _, s := range sheets {
			if strings.EqualFold(s, name) {
				return s, true
			}
		}
		return "", false
	}

	if want != "" {
		if s, ok := find(want); ok {
			return s, nil
		}
		return "", fmt.Errorf("sheet %q not found, workbook has %s", want, strings.Join(sheets, ", "))
	}
	if s, ok := find(topicsSheet); ok {
		return s, nil
	}
	return sheets[0], nil
}
