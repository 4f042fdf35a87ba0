// Package directive turns raw user input into a domain.Directive.
//
// Recognition is driven by Rules, an ordered table: the first rule that
// matches wins, and input no rule accepts is a PlainMessage. Parsing never
// fails.
package directive

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/PabloGalante/evolve-chat/internal/domain"
)

// Rule is one entry of the priority table.
type Rule struct {
	Name  string
	Match func(input string) (domain.Directive, bool)
}

// Rules is the load-bearing precedence order, highest priority first.
var Rules = []Rule{
	{Name: "combined-learning", Match: matchCombined(isLearningMode)},
	{Name: "combined-socratic", Match: matchCombined(isSocratic)},
	{Name: "socratic", Match: matchSingle(isSocratic)},
	{Name: "media-search", Match: matchSingle(isMediaSearch)},
	{Name: "research", Match: matchSingle(isResearch)},
}

var tagPattern = regexp.MustCompile(`^\[(TOOL|SEARCH|MODE):([A-Za-z]+)\]`)

var learningModes = map[string]domain.LearningMode{
	"TutorMode":         domain.LearningTutor,
	"StudyBuddy":        domain.LearningBuddy,
	"Questioner":        domain.LearningQuestions,
	"SpoonFeeding":      domain.LearningSpoonFeed,
	"PracticalLearning": domain.LearningPractical,
}

// Parse classifies raw input. It returns exactly one directive.
func Parse(raw string) domain.Directive {
	d, _ := ParseWithRule(raw)
	return d
}

// ParseWithRule also reports which rule matched ("plain" when none did).
func ParseWithRule(raw string) (domain.Directive, string) {
	input := strings.TrimSpace(raw)
	for _, r := range Rules {
		if d, ok := r.Match(input); ok {
			d.Text = raw
			return d, r.Name
		}
	}
	return domain.PlainMessage(raw), "plain"
}

// LearningModeFor maps a learning-mode tag name to its mode.
func LearningModeFor(name string) (domain.LearningMode, bool) {
	m, ok := learningModes[name]
	return m, ok
}

// IsLearningModeTag reports whether input starts with a bare learning-mode
// tag. Such input parses as a PlainMessage; the HTTP layer uses this to warn.
func IsLearningModeTag(input string) bool {
	tag, _, ok := readTag(strings.TrimSpace(input))
	return ok && isLearningMode(tag)
}

func matchCombined(secondary func(domain.SingleTag) bool) func(string) (domain.Directive, bool) {
	return func(input string) (domain.Directive, bool) {
		first, rest, ok := readTag(input)
		if !ok || !isPrimary(first) {
			return domain.Directive{}, false
		}
		second, rest, ok := readTag(strings.TrimLeftFunc(rest, unicode.IsSpace))
		if !ok || !secondary(second) {
			return domain.Directive{}, false
		}
		query := strings.TrimSpace(rest)
		if query == "" {
			return domain.Directive{}, false
		}
		first.Query = query
		second.Query = query
		return domain.Combined(first, second, query, input), true
	}
}

func matchSingle(accept func(domain.SingleTag) bool) func(string) (domain.Directive, bool) {
	return func(input string) (domain.Directive, bool) {
		tag, rest, ok := readTag(input)
		if !ok || !accept(tag) {
			return domain.Directive{}, false
		}
		tag.Query = strings.TrimSpace(rest)
		if tag.Query == "" {
			return domain.Directive{}, false
		}
		return domain.Single(tag, input), true
	}
}

// readTag consumes one [KIND:Name] token at the start of s. The token must be
// followed by whitespace or the end of input.
func readTag(s string) (domain.SingleTag, string, bool) {
	m := tagPattern.FindStringSubmatch(s)
	if m == nil {
		return domain.SingleTag{}, s, false
	}
	rest := s[len(m[0]):]
	if rest != "" && !unicode.IsSpace(rune(rest[0])) {
		return domain.SingleTag{}, s, false
	}
	return domain.SingleTag{Kind: domain.TagKind(m[1]), Name: m[2]}, rest, true
}

func isPrimary(t domain.SingleTag) bool {
	return isMediaSearch(t) || isResearch(t)
}

func isMediaSearch(t domain.SingleTag) bool {
	if t.Kind != domain.TagSearch {
		return false
	}
	switch t.Name {
	case domain.SearchImages, domain.SearchVideos, domain.SearchBoth:
		return true
	}
	return false
}

func isResearch(t domain.SingleTag) bool {
	return t.Kind == domain.TagTool && t.Name == domain.ToolResearch
}

func isSocratic(t domain.SingleTag) bool {
	return t.Kind == domain.TagMode && t.Name == domain.TagNameSocratic
}

func isLearningMode(t domain.SingleTag) bool {
	if t.Kind != domain.TagTool {
		return false
	}
	_, ok := learningModes[t.Name]
	return ok
}
