package directory

import (
	"regexp"
	"strings"

	"github.com/BaSui01/swarmflow/types"
)

// Skill inference is a best-effort heuristic over free-text profile
// fields. The result is a derived view recomputed on every read; it is
// never stored and may differ between calls if the profile text changes.

var skillPhrasePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)skilled\s+in\s+([a-z][a-z0-9 _/-]{1,40})`),
	regexp.MustCompile(`(?i)expert\s+(?:at|in)\s+([a-z][a-z0-9 _/-]{1,40})`),
	regexp.MustCompile(`(?i)specializ(?:es|ed|ing)\s+in\s+([a-z][a-z0-9 _/-]{1,40})`),
	regexp.MustCompile(`(?i)experienced\s+(?:with|in)\s+([a-z][a-z0-9 _/-]{1,40})`),
	regexp.MustCompile(`(?i)can\s+handle\s+([a-z][a-z0-9 _/-]{1,40})`),
}

// domainKeywords are recognized anywhere in the role or description.
var domainKeywords = []string{
	"billing",
	"refunds",
	"support",
	"sales",
	"onboarding",
	"escalation",
	"translation",
	"email",
	"chat",
	"technical",
	"scheduling",
	"research",
	"writing",
	"coding",
}

// InferSkills derives the skill set of an agent from its role and
// description text. Skills are lowercase and deduplicated, in order of
// first appearance.
func InferSkills(agent *types.Agent) []string {
	if agent == nil {
		return nil
	}
	text := agent.Role + "\n" + agent.Description

	var skills []string
	seen := make(map[string]bool)
	add := func(s string) {
		s = strings.ToLower(strings.TrimSpace(s))
		s = strings.Trim(s, ".,;:")
		if s == "" || seen[s] {
			return
		}
		seen[s] = true
		skills = append(skills, s)
	}

	for _, pat := range skillPhrasePatterns {
		for _, match := range pat.FindAllStringSubmatch(text, -1) {
			// Cut trailing clause connectors so "billing and refunds"
			// yields "billing" from the phrase form.
			phrase := match[1]
			if i := strings.Index(phrase, " and "); i > 0 {
				add(phrase[i+len(" and "):])
				phrase = phrase[:i]
			}
			add(phrase)
		}
	}

	lower := strings.ToLower(text)
	for _, kw := range domainKeywords {
		if strings.Contains(lower, kw) {
			add(kw)
		}
	}

	return skills
}

// hasSkill reports whether the skill set contains want, matching
// case-insensitively by substring.
func hasSkill(skills []string, want string) bool {
	want = strings.ToLower(strings.TrimSpace(want))
	if want == "" {
		return true
	}
	for _, s := range skills {
		if strings.Contains(s, want) {
			return true
		}
	}
	return false
}
