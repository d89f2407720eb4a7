package prompt

import (
	"regexp"
	"strings"
)

// DefaultSystemPrompt seeds the flow configuration when the host supplies
// no system messages.
const DefaultSystemPrompt = "You are GitLab Duo, a software engineering agent. " +
	"Work toward the user's goal with the tools provided, reading files before editing them and keeping changes minimal."

// Host system prompts identify the host product; the service must not see
// another product's identity or links. Substitutions run in order: identity
// lines, then links (the product name is part of the domain), then the
// remaining name mentions.
var (
	hostIdentityRE = regexp.MustCompile(`(?im)^you are opencode\b.*$`)
	hostLinkRE     = regexp.MustCompile(`https?://(?:www\.)?opencode\.ai[^\s)]*|https?://github\.com/sst/opencode[^\s)]*`)
	hostNameRE     = regexp.MustCompile(`(?i)\bopencode\b`)
	blankRunRE     = regexp.MustCompile(`\n{3,}`)
)

// ServiceProductName replaces the host product name in sanitized prompts.
const ServiceProductName = "GitLab Duo"

// SanitizeSystemPrompt strips host identity from a system prompt and
// normalizes blank runs left behind by the removals.
func SanitizeSystemPrompt(s string) string {
	s = hostIdentityRE.ReplaceAllString(s, "")
	s = hostLinkRE.ReplaceAllString(s, "")
	s = hostNameRE.ReplaceAllString(s, ServiceProductName)
	s = blankRunRE.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
