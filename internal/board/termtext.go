package board

import (
	"strings"

	"github.com/starford/termboard/internal/models"
)

// DefaultMaxAliases bounds alias lists when the caller passes no limit.
const DefaultMaxAliases = 16

// TermText is the content of a vocabulary card.
type TermText struct {
	Term    string
	Aliases []string
	Body    string
}

// ParseTermText splits a text node into term, aliases and body:
//
//	term
//	*alias1, alias2*
//
//	body
//
// The alias line is optional. ok is false when the first line holds no term.
func ParseTermText(text string, maxAliases int) (TermText, bool) {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	lines := strings.Split(strings.TrimLeft(text, "\n"), "\n")

	term := cleanTermLine(lines[0])
	if term == "" {
		return TermText{}, false
	}
	rest := lines[1:]

	var aliases []string
	if len(rest) > 0 {
		if inner, ok := italicLine(rest[0]); ok {
			aliases = splitAliases(inner, term, maxAliases)
			rest = rest[1:]
		}
	}

	return TermText{
		Term:    term,
		Aliases: aliases,
		Body:    strings.TrimSpace(strings.Join(rest, "\n")),
	}, true
}

// FormatTermText renders a card in the layout ParseTermText reads.
func FormatTermText(term string, aliases []string, body string) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(term))

	var kept []string
	for _, a := range aliases {
		if a = strings.TrimSpace(a); a != "" {
			kept = append(kept, a)
		}
	}
	if len(kept) > 0 {
		b.WriteString("\n*")
		b.WriteString(strings.Join(kept, ", "))
		b.WriteString("*")
	}
	if body = strings.TrimSpace(body); body != "" {
		b.WriteString("\n\n")
		b.WriteString(body)
	}
	return b.String()
}

// cleanTermLine strips heading markers and surrounding bold from the term line.
func cleanTermLine(line string) string {
	line = strings.TrimSpace(line)
	line = strings.TrimSpace(strings.TrimLeft(line, "#"))
	if len(line) > 4 && strings.HasPrefix(line, "**") && strings.HasSuffix(line, "**") {
		line = strings.TrimSpace(line[2 : len(line)-2])
	}
	return line
}

// italicLine reports whether line is wrapped in single asterisks or underscores
// and returns the inner text. Bold (double asterisk) lines are not alias lines.
func italicLine(line string) (string, bool) {
	line = strings.TrimSpace(line)
	if len(line) < 3 {
		return "", false
	}
	for _, mark := range []string{"*", "_"} {
		if strings.HasPrefix(line, mark) && strings.HasSuffix(line, mark) &&
			!strings.HasPrefix(line, mark+mark) && !strings.HasSuffix(line, mark+mark) {
			return line[1 : len(line)-1], true
		}
	}
	return "", false
}

func splitAliases(inner, term string, maxAliases int) []string {
	if maxAliases <= 0 {
		maxAliases = DefaultMaxAliases
	}
	parts := strings.FieldsFunc(inner, func(r rune) bool {
		return r == ',' || r == '，' || r == '、'
	})
	seen := map[string]struct{}{models.Canonical(term): {}}
	var out []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		k := models.Canonical(p)
		if k == "" {
			continue
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, p)
		if len(out) == maxAliases {
			break
		}
	}
	return out
}

// CapAliases applies the alias rules of ParseTermText to a caller-provided list.
func CapAliases(term string, aliases []string, maxAliases int) []string {
	return splitAliases(strings.Join(aliases, ","), term, maxAliases)
}
