package parsers

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/alejandroruanova/debate-engine/internal/core/domain"
	apperrors "github.com/alejandroruanova/debate-engine/internal/pkg/errors"
)

const topicsCSV = `topic,max_rounds,judge_mode
Remote work beats office work,3,each_round
  Cities should ban cars  ,,

Nuclear is green,two,
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestCSVParser_Parse(t *testing.T) {
	result, err := NewCSVParser(nil).Parse(context.Background(), writeFile(t, "topics.csv", topicsCSV))
	require.NoError(t, err)

	assert.Equal(t, "CSV", result.Format)
	assert.Equal(t, []string{"topic", "max_rounds", "judge_mode"}, result.Columns)
	// encoding/csv drops blank lines, so only three data rows are seen
	assert.Equal(t, 3, result.TotalRows)
	assert.Equal(t, 0, result.SkippedRows)
	require.Len(t, result.Records, 3)

	assert.Equal(t, 2, result.Records[0].Line)
	assert.Equal(t, "3", result.Records[0].Fields["max_rounds"])
	assert.Equal(t, "Cities should ban cars", result.Records[1].Fields["topic"])
	assert.Equal(t, 5, result.Records[2].Line)
}

func TestCSVParser_HeaderWithBOM(t *testing.T) {
	result, err := NewCSVParser(nil).ParseStream(context.Background(), strings.NewReader("\ufefftopic\nA\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"topic"}, result.Columns)
	assert.Equal(t, "A", result.Records[0].Fields["topic"])
}

func TestCSVParser_MissingColumns(t *testing.T) {
	result, err := NewCSVParser(nil).ParseStream(context.Background(), strings.NewReader("topic,language\nOnly topic\n"))
	require.NoError(t, err)
	require.Len(t, result.Records, 1)
	assert.NotContains(t, result.Records[0].Fields, "language")
}

func TestXLSXParser_Parse(t *testing.T) {
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	require.NoError(t, f.SetSheetRow(sheet, "A1", &[]interface{}{"topic", "max_rounds", "language"}))
	require.NoError(t, f.SetSheetRow(sheet, "A2", &[]interface{}{"AI should be regulated", 4, "zh-Hant"}))
	require.NoError(t, f.SetSheetRow(sheet, "A4", &[]interface{}{"Homework should be abolished"}))
	path := filepath.Join(t.TempDir(), "topics.xlsx")
	require.NoError(t, f.SaveAs(path))
	require.NoError(t, f.Close())

	result, err := NewXLSXParser(nil).Parse(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, "XLSX", result.Format)
	assert.Equal(t, 1, result.SkippedRows)
	require.Len(t, result.Records, 2)
	assert.Equal(t, "4", result.Records[0].Fields["max_rounds"])
	assert.Equal(t, 4, result.Records[1].Line)

	rows, rejected := ToTopicRows(result)
	assert.Empty(t, rejected)
	require.Len(t, rows, 2)
	assert.Equal(t, domain.LanguageTraditionalChinese, rows[0].Settings.Language)
}

func TestJSONParser_ArrayAndObject(t *testing.T) {
	result, err := NewJSONParser(nil).ParseStream(context.Background(), strings.NewReader(
		`[{"topic":"A","max_rounds":2}, 7, {}, {"topic":"B"}]`))
	require.NoError(t, err)
	assert.Equal(t, 4, result.TotalRows)
	assert.Equal(t, 2, result.SkippedRows)
	require.Len(t, result.Records, 2)
	assert.Equal(t, 4, result.Records[1].Line)
	assert.Equal(t, []string{"max_rounds", "topic"}, result.Columns)

	single, err := NewJSONParser(nil).ParseStream(context.Background(), strings.NewReader(`{"topic":"Solo"}`))
	require.NoError(t, err)
	require.Len(t, single.Records, 1)

	_, err = NewJSONParser(nil).ParseStream(context.Background(), strings.NewReader(`[{"topic":`))
	assert.Error(t, err)
}

func TestJSONLParser_ParseStream(t *testing.T) {
	content := `{"topic":"A","judge_mode":"end"}

not json
{"topic":"B","max_tokens_judge":300}
`
	result, err := NewJSONLParser(nil).ParseStream(context.Background(), strings.NewReader(content))
	require.NoError(t, err)
	assert.Equal(t, "JSONL", result.Format)
	assert.Equal(t, 3, result.TotalRows)
	assert.Equal(t, 1, result.SkippedRows)
	require.Len(t, result.Records, 2)
	assert.Equal(t, 4, result.Records[1].Line)
}

func TestToTopicRows(t *testing.T) {
	result, err := NewCSVParser(nil).ParseStream(context.Background(), strings.NewReader(topicsCSV))
	require.NoError(t, err)

	rows, rejected := ToTopicRows(result)
	require.Len(t, rows, 2)
	assert.Equal(t, "Remote work beats office work", rows[0].Topic)
	assert.Equal(t, 3, *rows[0].Settings.MaxRounds)
	assert.Equal(t, domain.JudgeEachRound, rows[0].Settings.JudgeMode)
	assert.Nil(t, rows[1].Settings.MaxRounds)

	require.Len(t, rejected, 1)
	assert.Equal(t, 5, rejected[0].Line)
	assert.Contains(t, rejected[0].Reason, "max_rounds must be an integer")
}

func TestToTopicRows_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		fields map[string]interface{}
		reason string
	}{
		{"missing topic", map[string]interface{}{"max_rounds": "2"}, "missing topic"},
		{"unknown column", map[string]interface{}{"topic": "A", "rounds": "2"}, "unknown field"},
		{"invalid enum", map[string]interface{}{"topic": "A", "debater_a_side": "maybe"}, "debater_a_side"},
		{"started_at", map[string]interface{}{"topic": "A", "started_at": "2025-01-01T00:00:00Z"}, "started_at"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rows, rejected := ToTopicRows(&ParseResult{Records: []Record{{Line: 9, Fields: tt.fields}}})
			assert.Empty(t, rows)
			require.Len(t, rejected, 1)
			assert.Equal(t, 9, rejected[0].Line)
			assert.Contains(t, rejected[0].Reason, tt.reason)
		})
	}
}

func TestXLSXParser_SheetSelection(t *testing.T) {
	f := excelize.NewFile()
	require.NoError(t, f.SetSheetRow("Sheet1", "A1", &[]interface{}{"notes"}))
	_, err := f.NewSheet("topics")
	require.NoError(t, err)
	require.NoError(t, f.SetSheetRow("topics", "A1", &[]interface{}{"topic"}))
	require.NoError(t, f.SetSheetRow("topics", "A2", &[]interface{}{"From topics"}))
	_, err = f.NewSheet("Extra")
	require.NoError(t, err)
	require.NoError(t, f.SetSheetRow("Extra", "A1", &[]interface{}{"topic"}))
	require.NoError(t, f.SetSheetRow("Extra", "A2", &[]interface{}{"From extra"}))
	path := filepath.Join(t.TempDir(), "book.xlsx")
	require.NoError(t, f.SaveAs(path))
	require.NoError(t, f.Close())

	tests := []struct {
		name    string
		sheet   string
		want    string
		wantErr string
	}{
		{name: "topics sheet preferred", want: "From topics"},
		{name: "named sheet", sheet: "extra", want: "From extra"},
		{name: "missing sheet", sheet: "Nope", wantErr: `sheet "Nope" not found`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultParserConfig()
			cfg.Sheet = tt.sheet
			result, err := NewXLSXParser(cfg).Parse(context.Background(), path)
			if tt.wantErr != "" {
				assert.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			require.Len(t, result.Records, 1)
			assert.Equal(t, tt.want, result.Records[0].Fields["topic"])
		})
	}
}

func TestPickSheet(t *testing.T) {
	_, err := pickSheet(nil, "")
	assert.ErrorContains(t, err, "no sheets")

	got, err := pickSheet([]string{"Data", "Summary"}, "")
	require.NoError(t, err)
	assert.Equal(t, "Data", got)
}

func TestDetectFormat(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"topics.csv", "CSV"},
		{"TOPICS.XLSX", "XLSX"},
		{"dir.v2/topics.json", "JSON"},
		{"topics.jsonl", "JSONL"},
		{"topics.ndjson", "JSONL"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got, err := DetectFormat(tt.path)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := DetectFormat("topics.txt")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeUnsupportedFormat))
	assert.Equal(t, []string{".csv", ".json", ".jsonl", ".ndjson", ".xlsx"}, Extensions())
}

func TestImporter_Import(t *testing.T) {
	im := NewImporter(nil)

	imp, err := im.Import(context.Background(), writeFile(t, "topics.csv", topicsCSV))
	require.NoError(t, err)
	assert.Equal(t, "CSV", imp.Format)
	assert.Equal(t, 3, imp.TotalRows)
	require.Len(t, imp.Rows, 2)
	require.Len(t, imp.Rejected, 1)
	assert.Equal(t, 5, imp.Rejected[0].Line)

	imp, err = im.Import(context.Background(), writeFile(t, "t.ndjson", `{"topic":"A"}`))
	require.NoError(t, err)
	assert.Equal(t, "JSONL", imp.Format)

	_, err = im.Import(context.Background(), writeFile(t, "broken.json", `[{`))
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeFileParseError))

	_, err = im.Import(context.Background(), writeFile(t, "topics.txt", "topic\nA\n"))
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeUnsupportedFormat))
}

func TestParserConfig_MaxFileSize(t *testing.T) {
	parser := NewCSVParser(&ParserConfig{MaxFileSize: 10})
	_, err := parser.Parse(context.Background(), writeFile(t, "big.csv", topicsCSV))
	assert.ErrorContains(t, err, "exceeds maximum")
}

func TestContext_Cancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewCSVParser(nil).ParseStream(ctx, strings.NewReader(topicsCSV))
	assert.ErrorIs(t, err, context.Canceled)
}
