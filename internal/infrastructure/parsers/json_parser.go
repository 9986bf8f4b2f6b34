package parsers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
)

// JSONParser parses a JSON array of objects, or a single object
type JSONParser struct {
	config *ParserConfig
}

// NewJSONParser creates a new JSON parser
func NewJSONParser(config *ParserConfig) *JSONParser {
	if config == nil {
		config = DefaultParserConfig()
	}
	return &JSONParser{config: config}
}

// Parse reads and parses a JSON file from disk
func (p *JSONParser) Parse(ctx context.Context, filePath string) (*ParseResult, error) {
	file, err := openLimited(filePath, p.config.MaxFileSize)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return p.ParseStream(ctx, file)
}

// ParseStream reads and parses JSON data from r
func (p *JSONParser) ParseStream(ctx context.Context, r io.Reader) (*ParseResult, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read JSON: %w", err)
	}
	raw = bytes.TrimSpace(raw)

	var items []json.RawMessage
	if bytes.HasPrefix(raw, []byte("[")) {
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, fmt.Errorf("failed to decode JSON array: %w", err)
		}
	} else {
		items = []json.RawMessage{raw}
	}

	result := &ParseResult{Records: make([]Record, 0, len(items)), Format: "JSON"}
	seen := make(map[string]bool)
	for i, item := range items {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		result.TotalRows++

		fields, ok := decodeObject(item)
		if !ok || (p.config.SkipEmptyRows && len(fields) == 0) {
			result.SkippedRows++
			continue
		}
		collectColumns(result, seen, fields)
		result.Records = append(result.Records, Record{Line: i + 1, Fields: fields})
	}

	return result, nil
}

// decodeObject decodes one JSON object keeping numbers exact
func decodeObject(raw []byte) (map[string]interface{}, bool) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var fields map[string]interface{}
	if err := dec.Decode(&fields); err != nil || fields == nil {
		return nil, false
	}
	return fields, true
}

// collectColumns appends the record's keys not seen before, sorted per record
func collectColumns(result *ParseResult, seen map[string]bool, fields map[string]interface{}) {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		if !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	result.Columns = append(result.Columns, keys...)
}
