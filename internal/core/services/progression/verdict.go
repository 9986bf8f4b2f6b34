package progression

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

// Winner values a judge may return
const (
	WinnerA   = "a"
	WinnerB   = "b"
	WinnerTie = "tie"
)

// FallbackSummary is used when the judge response cannot be parsed
const FallbackSummary = "Judge output was invalid JSON; unable to score reliably."

// JudgeVerdict is the structured evaluation produced by the judge
type JudgeVerdict struct {
	Summary                   string `json:"summary"`
	ScoreA                    int    `json:"score_a"`
	ScoreB                    int    `json:"score_b"`
	Winner                    string `json:"winner"`
	NoNewSubstantiveArguments bool   `json:"no_new_substantive_arguments"`
}

// FallbackVerdict is the neutral verdict stored for malformed judge output
func FallbackVerdict() JudgeVerdict {
	return JudgeVerdict{
		Summary:                   FallbackSummary,
		ScoreA:                    0,
		ScoreB:                    0,
		Winner:                    WinnerTie,
		NoNewSubstantiveArguments: false,
	}
}

// ParseVerdict decodes and validates a judge response. Every field is required.
func ParseVerdict(content string) (JudgeVerdict, error) {
	var raw map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(content)), &raw); err != nil {
		return JudgeVerdict{}, fmt.Errorf("judge output is not a JSON object: %w", err)
	}

	var v JudgeVerdict

	summary, ok := raw["summary"].(string)
	if !ok || strings.TrimSpace(summary) == "" {
		return JudgeVerdict{}, fmt.Errorf("summary must be a non-empty string")
	}
	v.Summary = summary

	var err error
	if v.ScoreA, err = score(raw, "score_a"); err != nil {
		return JudgeVerdict{}, err
	}
	if v.ScoreB, err = score(raw, "score_b"); err != nil {
		return JudgeVerdict{}, err
	}

	winner, _ := raw["winner"].(string)
	switch winner {
	case WinnerA, WinnerB, WinnerTie:
		v.Winner = winner
	default:
		return JudgeVerdict{}, fmt.Errorf("winner must be a, b or tie, got %q", winner)
	}

	flag, ok := raw["no_new_substantive_arguments"].(bool)
	if !ok {
		return JudgeVerdict{}, fmt.Errorf("no_new_substantive_arguments must be a boolean")
	}
	v.NoNewSubstantiveArguments = flag

	return v, nil
}

func score(raw map[string]any, key string) (int, error) {
	f, ok := raw[key].(float64)
	if !ok || f != math.Trunc(f) {
		return 0, fmt.Errorf("%s must be an integer", key)
	}
	if f < 0 || f > 10 {
		return 0, fmt.Errorf("%s must be between 0 and 10, got %v", key, f)
	}
	return int(f), nil
}

// ParseVerdictOrFallback never fails; the bool reports whether parsing succeeded
func ParseVerdictOrFallback(content string) (JudgeVerdict, bool) {
	v, err := ParseVerdict(content)
	if err != nil {
		return FallbackVerdict(), false
	}
	return v, true
}

// Render is the human-readable turn content for a verdict
func (v JudgeVerdict) Render() string {
	return strings.TrimSpace(fmt.Sprintf("Winner: %s\nScores: A=%d, B=%d\n\n%s",
		strings.ToUpper(v.Winner), v.ScoreA, v.ScoreB, v.Summary))
}

// Metadata returns the verdict fields for storage on the turn
func (v JudgeVerdict) Metadata() map[string]any {
	return map[string]any{
		"summary":                      v.Summary,
		"score_a":                      v.ScoreA,
		"score_b":                      v.ScoreB,
		"winner":                       v.Winner,
		"no_new_substantive_arguments": v.NoNewSubstantiveArguments,
	}
}
