package parsers

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
)

// JSONLParser parses JSONL/NDJSON files (one object per line)
type JSONLParser struct {
	config *ParserConfig
}

// NewJSONLParser creates a new JSONL parser
func NewJSONLParser(config *ParserConfig) *JSONLParser {
	if config == nil {
		config = DefaultParserConfig()
	}
	return &JSONLParser{config: config}
}

// Parse reads and parses a JSONL file from disk
func (p *JSONLParser) Parse(ctx context.Context, filePath string) (*ParseResult, error) {
	file, err := openLimited(filePath, p.config.MaxFileSize)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return p.ParseStream(ctx, file)
}

// ParseStream reads and parses JSONL data from r. Blank and malformed lines
// are counted as skipped.
func (p *JSONLParser) ParseStream(ctx context.Context, r io.Reader) (*ParseResult, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	result := &ParseResult{Records: []Record{}, Format: "JSONL"}
	seen := make(map[string]bool)
	line := 0

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		line++

		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		result.TotalRows++

		fields, ok := decodeObject(raw)
		if !ok || (p.config.SkipEmptyRows && len(fields) == 0) {
			result.SkippedRows++
			continue
		}
		collectColumns(result, seen, fields)
		result.Records = append(result.Records, Record{Line: line, Fields: fields})
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading JSONL stream: %w", err)
	}
	return result, nil
}

