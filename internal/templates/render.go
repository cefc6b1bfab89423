package templates

import (
	"regexp"
	"sort"
	"strings"
)

var tokenPattern = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_.\-]+)\s*\}\}`)

// Render substitutes every {{name}} token in text with vars[name]. Tokens
// without a value render as the empty string.
func Render(text string, vars map[string]string) string {
	return tokenPattern.ReplaceAllStringFunc(text, func(tok string) string {
		m := tokenPattern.FindStringSubmatch(tok)
		if len(m) < 2 {
			return ""
		}
		return vars[m[1]]
	})
}

// Variables lists the distinct token names used across texts, sorted.
func Variables(texts ...string) []string {
	seen := make(map[string]struct{})
	for _, text := range texts {
		for _, m := range tokenPattern.FindAllStringSubmatch(text, -1) {
			seen[m[1]] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func blank(s string) bool {
	return strings.TrimSpace(s) == ""
}
