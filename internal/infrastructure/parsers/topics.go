package parsers

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/alejandroruanova/debate-engine/internal/core/domain"
)

// TopicColumn is the only required column of an import file
const TopicColumn = "topic"

// integer settings arrive as strings from CSV and XLSX cells
var intSettings = map[string]bool{
	"max_rounds":              true,
	"max_runtime_seconds":     true,
	"max_total_output_tokens": true,
	"max_tokens_debater":      true,
	"max_tokens_judge":        true,
}

// TopicRow is a debate to create from one import record
type TopicRow struct {
	Line     int
	Topic    string
	Settings domain.Settings
}

// RowError explains why a record was not imported
type RowError struct {
	Line   int    `json:"line"`
	Reason string `json:"reason"`
}

func (e RowError) Error() string {
	return fmt.Sprintf("line %d: %s", e.Line, e.Reason)
}

// ToTopicRows converts parsed records into topics with settings overrides.
// Every column other than topic must be a settings key; rows with unknown
// columns or invalid values are rejected individually.
func ToTopicRows(result *ParseResult) ([]TopicRow, []RowError) {
	rows := make([]TopicRow, 0, len(result.Records))
	var rejected []RowError

	for _, rec := range result.Records {
		row, err := toTopicRow(rec)
		if err != nil {
			rejected = append(rejected, RowError{Line: rec.Line, Reason: err.Error()})
			continue
		}
		rows = append(rows, row)
	}
	return rows, rejected
}

func toTopicRow(rec Record) (TopicRow, error) {
	topic, _ := rec.Fields[TopicColumn].(string)
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return TopicRow{}, fmt.Errorf("missing %s", TopicColumn)
	}

	overrides := make(map[string]interface{}, len(rec.Fields))
	for key, value := range rec.Fields {
		if key == TopicColumn {
			continue
		}
		v, keep, err := settingValue(key, value)
		if err != nil {
			return TopicRow{}, err
		}
		if keep {
			overrides[key] = v
		}
	}

	raw, err := json.Marshal(overrides)
	if err != nil {
		return TopicRow{}, fmt.Errorf("encode settings: %w", err)
	}
	settings, err := domain.ParseSettings(raw)
	if err != nil {
		return TopicRow{}, err
	}
	if settings.StartedAt != "" {
		return TopicRow{}, fmt.Errorf("started_at cannot be imported")
	}

	return TopicRow{Line: rec.Line, Topic: topic, Settings: settings}, nil
}

// settingValue normalizes a cell for the settings decoder. Empty cells are
// dropped so a sparse spreadsheet column falls back to the defaults.
func settingValue(key string, value interface{}) (interface{}, bool, error) {
	s, isString := value.(string)
	if !isString {
		return value, value != nil, nil
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, false, nil
	}
	if intSettings[key] {
		n, err := strconv.Atoi(s)
		if err != nil {
			return nil, false, fmt.Errorf("%s must be an integer, got %q", key, s)
		}
		return n, true, nil
	}
	return s, true, nil
}
