package toolmap

import (
	"regexp"
	"strings"
)

// bareToken matches strings that are safe to place in a shell command without
// quoting.
var bareToken = regexp.MustCompile(`^[A-Za-z0-9_\-./=:@]+$`)

// ShellQuote returns s in a form safe to embed in a POSIX shell command.
// Bare-safe tokens are returned unchanged; everything else is wrapped in
// single quotes with embedded single quotes escaped as '\''.
func ShellQuote(s string) string {
	if bareToken.MatchString(s) {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// ShellJoin quotes each token and joins them with single spaces.
func ShellJoin(tokens []string) string {
	quoted := make([]string, len(tokens))
	for i, t := range tokens {
		quoted[i] = ShellQuote(t)
	}
	return strings.Join(quoted, " ")
}
