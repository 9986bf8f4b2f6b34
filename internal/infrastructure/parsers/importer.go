package parsers

import (
	"context"
	"path/filepath"
	"sort"
	"strings"

	apperrors "github.com/alejandroruanova/debate-engine/internal/pkg/errors"
)

// extensions maps an accepted file extension to the format that reads it
var extensions = map[string]string{
	".csv":    "CSV",
	".xlsx":   "XLSX",
	".json":   "JSON",
	".jsonl":  "JSONL",
	".ndjson": "JSONL",
}

// Extensions lists the file extensions import accepts, sorted
func Extensions() []string {
	out := make([]string, 0, len(extensions))
	for ext := range extensions {
		out = append(out, ext)
	}
	sort.Strings(out)
	return out
}

// DetectFormat names the format of path from its extension
func DetectFormat(path string) (string, error) {
	ext := strings.ToLower(filepath.Ext(path))
	format, ok := extensions[ext]
	if !ok {
		return "", apperrors.UnsupportedFormat(ext)
	}
	return format, nil
}

// Import is a topic file converted into debates to create
type Import struct {
	Format      string
	Rows        []TopicRow
	Rejected    []RowError
	TotalRows   int
	SkippedRows int
}

// Importer reads topic files of any supported format
type Importer struct {
	parsers map[string]FileParser
}

// NewImporter creates an importer sharing config across every format
func NewImporter(config *ParserConfig) *Importer {
	if config == nil {
		config = DefaultParserConfig()
	}
	return &Importer{parsers: map[string]FileParser{
		"CSV":   NewCSVParser(config),
		"XLSX":  NewXLSXParser(config),
		"JSON":  NewJSONParser(config),
		"JSONL": NewJSONLParser(config),
	}}
}

// Parse reads path with the parser its extension selects
func (im *Importer) Parse(ctx context.Context, path string) (*ParseResult, error) {
	format, err := DetectFormat(path)
	if err != nil {
		return nil, err
	}
	result, err := im.parsers[format].Parse(ctx, path)
	if err != nil {
		return nil, apperrors.FileParseError(err, filepath.Base(path))
	}
	return result, nil
}

// Import parses path and validates every record as a topic row. Invalid
// records are collected in Rejected; only unreadable files fail outright.
func (im *Importer) Import(ctx context.Context, path string) (*Import, error) {
	result, err := im.Parse(ctx, path)
	if err != nil {
		return nil, err
	}
	rows, rejected := ToTopicRows(result)
	return &Import{
		Format:      result.Format,
		Rows:        rows,
		Rejected:    rejected,
		TotalRows:   result.TotalRows,
		SkippedRows: result.SkippedRows,
	}, nil
}
