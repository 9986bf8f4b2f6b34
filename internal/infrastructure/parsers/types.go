package parsers

import (
	"context"
	"fmt"
	"io"
	"os"
)

// Record is one row of an import file. Line is the 1-based row number in the
// source (the header counts as line 1 for tabular formats).
type Record struct {
	Line   int
	Fields map[string]interface{}
}

// ParseResult contains parsing statistics
type ParseResult struct {
	Records     []Record
	TotalRows   int
	SkippedRows int
	Columns     []string
	Format      string
}

// FileParser is the interface all parsers must implement
type FileParser interface {
	// Parse reads and parses the file from the given path
	Parse(ctx context.Context, filePath string) (*ParseResult, error)

	// ParseStream reads and parses from r
	ParseStream(ctx context.Context, r io.Reader) (*ParseResult, error)
}

// ParserConfig holds configuration for all parsers
type ParserConfig struct {
	// SkipEmptyRows determines if empty rows should be skipped
	SkipEmptyRows bool

	// TrimWhitespace determines if cell values should be trimmed
	TrimWhitespace bool

	// MaxFileSize is the maximum file size in bytes (0 = unlimited)
	MaxFileSize int64

	// Sheet names the XLSX worksheet to read. Empty picks a sheet called
	// "Topics" when there is one, else the first sheet.
	Sheet string
}

// DefaultParserConfig returns sensible defaults
func DefaultParserConfig() *ParserConfig {
	return &ParserConfig{
		SkipEmptyRows:  true,
		TrimWhitespace: true,
		MaxFileSize:    50 * 1024 * 1024, // 50 MB
	}
}

// openLimited opens filePath after checking it against the size limit
func openLimited(filePath string, maxSize int64) (*os.File, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	if maxSize > 0 {
		stat, err := file.Stat()
		if err != nil {
			file.Close()
			return nil, fmt.Errorf("failed to stat file: %w", err)
		}
		if stat.Size() > maxSize {
			file.Close()
			return nil, fmt.Errorf("file size %d exceeds maximum %d", stat.Size(), maxSize)
		}
	}
	return file, nil
}
