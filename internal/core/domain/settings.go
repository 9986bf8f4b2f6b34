package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Side is the stance a debater argues
type Side string

const (
	SidePro Side = "pro"
	SideCon Side = "con"
)

// Opposite returns the other stance
func (s Side) Opposite() Side {
	if s == SideCon {
		return SidePro
	}
	return SideCon
}

// JudgeMode controls when the judge speaks
type JudgeMode string

const (
	// JudgeAtEnd runs the judge once, after a stop condition fires
	JudgeAtEnd JudgeMode = "end"
	// JudgeEachRound runs the judge after every debater_b turn
	JudgeEachRound JudgeMode = "each_round"
)

// Language selects the output language of every model turn
type Language string

const (
	LanguageEnglish            Language = "en"
	LanguageTraditionalChinese Language = "zh-Hant"
	LanguageSimplifiedChinese  Language = "zh-Hans"
)

// Hard fallbacks used when a stored value is missing or not positive
const (
	DefaultMaxRounds            = 5
	DefaultMaxRuntimeSeconds    = 600
	DefaultMaxTotalOutputTokens = 8000
	DefaultMaxTokensDebater     = 600
	DefaultMaxTokensJudge       = 400
	DefaultPromptVersion        = "v1"
)

// Settings are the per-debate knobs stored as JSON on the debate row
type Settings struct {
	DebaterASide         Side      `json:"debater_a_side,omitempty"`
	JudgeMode            JudgeMode `json:"judge_mode,omitempty"`
	MaxRounds            *int      `json:"max_rounds,omitempty"`
	MaxRuntimeSeconds    *int      `json:"max_runtime_seconds,omitempty"`
	MaxTotalOutputTokens *int      `json:"max_total_output_tokens,omitempty"`
	MaxTokensDebater     *int      `json:"max_tokens_debater,omitempty"`
	MaxTokensJudge       *int      `json:"max_tokens_judge,omitempty"`
	ModelDebater         string    `json:"model_debater,omitempty"`
	ModelJudge           string    `json:"model_judge,omitempty"`
	PromptVersion        string    `json:"prompt_version,omitempty"`
	Language             Language  `json:"language,omitempty"`
	StartedAt            string    `json:"started_at,omitempty"`
}

// ParseSettings decodes caller-supplied settings, rejecting unknown keys
func ParseSettings(raw []byte) (Settings, error) {
	var s Settings
	if len(bytes.TrimSpace(raw)) == 0 {
		return s, nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&s); err != nil {
		return Settings{}, fmt.Errorf("decode settings: %w", err)
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// Validate checks enumerations and numeric bounds
func (s Settings) Validate() error {
	switch s.DebaterASide {
	case "", SidePro, SideCon:
	default:
		return fmt.Errorf("debater_a_side must be pro or con, got %q", s.DebaterASide)
	}

	switch s.JudgeMode {
	case "", JudgeAtEnd, JudgeEachRound:
	default:
		return fmt.Errorf("judge_mode must be end or each_round, got %q", s.JudgeMode)
	}

	switch s.Language {
	case "", LanguageEnglish, LanguageTraditionalChinese, LanguageSimplifiedChinese:
	default:
		return fmt.Errorf("language must be one of en, zh-Hant, zh-Hans, got %q", s.Language)
	}

	limits := map[string]*int{
		"max_rounds":              s.MaxRounds,
		"max_runtime_seconds":     s.MaxRuntimeSeconds,
		"max_total_output_tokens": s.MaxTotalOutputTokens,
		"max_tokens_debater":      s.MaxTokensDebater,
		"max_tokens_judge":        s.MaxTokensJudge,
	}
	for name, v := range limits {
		if v != nil && *v < 1 {
			return fmt.Errorf("%s must be at least 1, got %d", name, *v)
		}
	}

	if s.StartedAt != "" {
		if _, err := time.Parse(time.RFC3339Nano, s.StartedAt); err != nil {
			return fmt.Errorf("started_at must be RFC3339: %w", err)
		}
	}
	return nil
}

// Merge returns base with every field set in override taking precedence
func Merge(base, override Settings) Settings {
	out := base
	if override.DebaterASide != "" {
		out.DebaterASide = override.DebaterASide
	}
	if override.JudgeMode != "" {
		out.JudgeMode = override.JudgeMode
	}
	if override.MaxRounds != nil {
		out.MaxRounds = IntPtr(*override.MaxRounds)
	}
	if override.MaxRuntimeSeconds != nil {
		out.MaxRuntimeSeconds = IntPtr(*override.MaxRuntimeSeconds)
	}
	if override.MaxTotalOutputTokens != nil {
		out.MaxTotalOutputTokens = IntPtr(*override.MaxTotalOutputTokens)
	}
	if override.MaxTokensDebater != nil {
		out.MaxTokensDebater = IntPtr(*override.MaxTokensDebater)
	}
	if override.MaxTokensJudge != nil {
		out.MaxTokensJudge = IntPtr(*override.MaxTokensJudge)
	}
	if s := strings.TrimSpace(override.ModelDebater); s != "" {
		out.ModelDebater = s
	}
	if s := strings.TrimSpace(override.ModelJudge); s != "" {
		out.ModelJudge = s
	}
	if override.PromptVersion != "" {
		out.PromptVersion = override.PromptVersion
	}
	if override.Language != "" {
		out.Language = override.Language
	}
	if override.StartedAt != "" {
		out.StartedAt = override.StartedAt
	}
	return out
}

func positiveOr(v *int, fallback int) int {
	if v == nil || *v < 1 {
		return fallback
	}
	return *v
}

func (s Settings) EffectiveMaxRounds() int {
	return positiveOr(s.MaxRounds, DefaultMaxRounds)
}

func (s Settings) EffectiveMaxRuntime() time.Duration {
	return time.Duration(positiveOr(s.MaxRuntimeSeconds, DefaultMaxRuntimeSeconds)) * time.Second
}

func (s Settings) EffectiveMaxTotalOutputTokens() int {
	return positiveOr(s.MaxTotalOutputTokens, DefaultMaxTotalOutputTokens)
}

// MaxTokensFor is the per-response budget for actor
func (s Settings) MaxTokensFor(actor Actor) int {
	if actor == ActorJudge {
		return positiveOr(s.MaxTokensJudge, DefaultMaxTokensJudge)
	}
	return positiveOr(s.MaxTokensDebater, DefaultMaxTokensDebater)
}

// EffectiveSide is the stance of debater A
func (s Settings) EffectiveSide() Side {
	if s.DebaterASide == SideCon {
		return SideCon
	}
	return SidePro
}

// SideFor returns the stance of actor, false for the judge
func (s Settings) SideFor(actor Actor) (Side, bool) {
	switch actor {
	case ActorDebaterA:
		return s.EffectiveSide(), true
	case ActorDebaterB:
		return s.EffectiveSide().Opposite(), true
	default:
		return "", false
	}
}

func (s Settings) EffectiveJudgeMode() JudgeMode {
	if s.JudgeMode == JudgeEachRound {
		return JudgeEachRound
	}
	return JudgeAtEnd
}

func (s Settings) EffectiveLanguage() Language {
	switch s.Language {
	case LanguageTraditionalChinese, LanguageSimplifiedChinese:
		return s.Language
	default:
		return LanguageEnglish
	}
}

// ModelFor picks the per-debate override for actor, else the configured default
func (s Settings) ModelFor(actor Actor, defaultDebater, defaultJudge string) string {
	if actor == ActorJudge {
		if m := strings.TrimSpace(s.ModelJudge); m != "" {
			return m
		}
		return defaultJudge
	}
	if m := strings.TrimSpace(s.ModelDebater); m != "" {
		return m
	}
	return defaultDebater
}

// StartedAtOr parses started_at, returning fallback when unset or malformed
func (s Settings) StartedAtOr(fallback time.Time) time.Time {
	if s.StartedAt == "" {
		return fallback
	}
	t, err := time.Parse(time.RFC3339Nano, s.StartedAt)
	if err != nil {
		return fallback
	}
	return t
}

// MarkStarted sets started_at once; later calls keep the first value
func (s *Settings) MarkStarted(now time.Time) bool {
	if s.StartedAt != "" {
		return false
	}
	s.StartedAt = now.UTC().Format(time.RFC3339Nano)
	return true
}

// IntPtr returns a pointer to v
func IntPtr(v int) *int {
	return &v
}
