package prompts

import (
	"bytes"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alejandroruanova/debate-engine/internal/core/domain"
)

// Input is everything a prompt for one step depends on
type Input struct {
	Actor    domain.Actor
	Round    int
	Topic    string
	Turns    []domain.Turn
	Settings domain.Settings
}

// Rendered holds the system and user messages for one model call
type Rendered struct {
	System  string
	User    string
	Version string
}

type templateData struct {
	Topic        string
	Transcript   string
	Round        int
	Actor        string
	Stance       string
	LanguageRule string
}

// Renderer produces prompts from the versioned template registry
type Renderer struct {
	registry *Registry
	logger   *slog.Logger
}

// NewRenderer returns a renderer over the embedded templates
func NewRenderer(logger *slog.Logger) *Renderer {
	return NewRendererWithRegistry(globalRegistry, logger)
}

// NewRendererWithRegistry returns a renderer over registry
func NewRendererWithRegistry(registry *Registry, logger *slog.Logger) *Renderer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Renderer{registry: registry, logger: logger}
}

// Render builds the system and user prompt for in.Actor at in.Round
func (r *Renderer) Render(in Input) (Rendered, error) {
	if !in.Actor.IsValid() {
		return Rendered{}, fmt.Errorf("unknown actor %q", in.Actor)
	}

	set, version, err := r.registry.Get(in.Settings.PromptVersion)
	if err != nil {
		return Rendered{}, err
	}
	if requested := strings.TrimSpace(in.Settings.PromptVersion); requested != "" && requested != version {
		r.logger.Warn("prompt version unavailable, using fallback",
			slog.String("requested", requested),
			slog.String("version", version),
		)
	}

	stance := "N/A"
	if side, ok := in.Settings.SideFor(in.Actor); ok {
		stance = strings.ToUpper(string(side))
	}

	data := templateData{
		Topic:        strings.TrimSpace(in.Topic),
		Transcript:   FormatTranscript(in.Turns),
		Round:        in.Round,
		Actor:        string(in.Actor),
		Stance:       stance,
		LanguageRule: languageRule(in.Settings.EffectiveLanguage()),
	}

	systemName, userName := tmplDebaterASystem, tmplDebaterUser
	switch in.Actor {
	case domain.ActorDebaterB:
		systemName = tmplDebaterBSystem
	case domain.ActorJudge:
		systemName, userName = tmplJudgeSystem, tmplJudgeUser
	}

	var system, user bytes.Buffer
	if err := set.ExecuteTemplate(&system, systemName, data); err != nil {
		return Rendered{}, fmt.Errorf("render %s: %w", systemName, err)
	}
	if err := set.ExecuteTemplate(&user, userName, data); err != nil {
		return Rendered{}, fmt.Errorf("render %s: %w", userName, err)
	}

	return Rendered{
		System:  strings.TrimSpace(system.String()),
		User:    strings.TrimSpace(user.String()),
		Version: version,
	}, nil
}
