package progression

import (
	"encoding/json"
	"math"
	"strconv"
	"time"

	"github.com/alejandroruanova/debate-engine/internal/core/domain"
)

// StagnationThreshold is the trailing run of "no new arguments" verdicts that ends a debate
const StagnationThreshold = 2

// ShouldStopForRounds reports completed >= max rounds
func ShouldStopForRounds(s domain.Settings, completedRounds int) bool {
	return completedRounds >= s.EffectiveMaxRounds()
}

// ShouldStopForRuntime reports now - start >= max runtime. start is
// settings.started_at, or createdAt when that is unset or unparseable.
func ShouldStopForRuntime(s domain.Settings, createdAt, now time.Time) bool {
	started := s.StartedAtOr(createdAt)
	return now.Sub(started) >= s.EffectiveMaxRuntime()
}

// SumCompletionTokens adds completion_tokens across usages; missing or
// non-numeric entries count as zero.
func SumCompletionTokens(usages []map[string]any) int {
	total := 0
	for _, usage := range usages {
		total += completionTokens(usage)
	}
	return total
}

func completionTokens(usage map[string]any) int {
	switch v := usage["completion_tokens"].(type) {
	case int:
		return v
	case int32:
		return int(v)
	case int64:
		return int(v)
	case float64:
		if v == math.Trunc(v) && !math.IsInf(v, 0) {
			return int(v)
		}
	case json.Number:
		if n, err := strconv.Atoi(v.String()); err == nil {
			return n
		}
	}
	return 0
}

// ShouldStopForTokenBudget reports total >= max total output tokens
func ShouldStopForTokenBudget(s domain.Settings, totalCompletionTokens int) bool {
	return totalCompletionTokens >= s.EffectiveMaxTotalOutputTokens()
}

// JudgeNoNewStreak counts the trailing judge verdicts flagged with
// no_new_substantive_arguments == true. judgeMetadata is oldest first.
func JudgeNoNewStreak(judgeMetadata []map[string]any) int {
	streak := 0
	for i := len(judgeMetadata) - 1; i >= 0; i-- {
		if flag, ok := judgeMetadata[i]["no_new_substantive_arguments"].(bool); ok && flag {
			streak++
			continue
		}
		break
	}
	return streak
}

// JudgeStreakFromTurns extracts judge metadata from ordered turns
func JudgeStreakFromTurns(turns []domain.Turn) int {
	meta := make([]map[string]any, 0, len(turns)/3+1)
	for _, t := range turns {
		if t.Actor == domain.ActorJudge {
			meta = append(meta, map[string]any(t.Metadata))
		}
	}
	return JudgeNoNewStreak(meta)
}

// Evaluation carries the inputs of the ordered stop checks
type Evaluation struct {
	Settings        domain.Settings
	CompletedRounds int
	CreatedAt       time.Time
	Now             time.Time
	Turns           []domain.Turn
}

// Evaluate runs rounds, runtime and token checks in order and returns the
// first reason that fires.
func Evaluate(e Evaluation) (domain.StopReason, bool) {
	if ShouldStopForRounds(e.Settings, e.CompletedRounds) {
		return domain.StopMaxRounds, true
	}
	if ShouldStopForRuntime(e.Settings, e.CreatedAt, e.Now) {
		return domain.StopMaxRuntimeSeconds, true
	}

	usages := make([]map[string]any, 0, len(e.Turns))
	for _, t := range e.Turns {
		usages = append(usages, map[string]any(t.Usage))
	}
	if ShouldStopForTokenBudget(e.Settings, SumCompletionTokens(usages)) {
		return domain.StopMaxTotalOutputTokens, true
	}
	return "", false
}
