package prompts

import (
	"strings"

	"golang.org/x/text/language"

	"github.com/alejandroruanova/debate-engine/internal/core/domain"
)

// order matters: NormalizeLanguage switches on the matched index
var supportedTags = []language.Tag{
	language.English,
	language.TraditionalChinese,
	language.SimplifiedChinese,
}

var languageMatcher = language.NewMatcher(supportedTags)

// NormalizeLanguage maps any BCP 47 tag ("zh-TW", "en-GB", "zh-CN") onto the
// closest supported output language. Unparseable input yields English.
func NormalizeLanguage(raw string) domain.Language {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return domain.LanguageEnglish
	}

	tag, err := language.Parse(raw)
	if err != nil {
		return domain.LanguageEnglish
	}

	_, idx, confidence := languageMatcher.Match(tag)
	if confidence == language.No {
		return domain.LanguageEnglish
	}

	switch idx {
	case 1:
		return domain.LanguageTraditionalChinese
	case 2:
		return domain.LanguageSimplifiedChinese
	default:
		return domain.LanguageEnglish
	}
}

// languageRule is the instruction appended to every prompt
func languageRule(lang domain.Language) string {
	switch lang {
	case domain.LanguageSimplifiedChinese:
		return "All outputs MUST be in Simplified Chinese."
	case domain.LanguageTraditionalChinese:
		return "All outputs MUST be in Traditional Chinese."
	default:
		return "All outputs MUST be in English."
	}
}
