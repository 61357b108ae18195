package graph

import (
	"strings"

	"mvdan.cc/sh/v3/syntax"

	"effigy/internal/effigyerr"
)

// Tokenize splits s into shell-style argv tokens: whitespace-separated,
// honoring single and double quotes, with no variable expansion, no
// globbing, and no command substitution. syntax.NewParser().Parse is
// used only to reject malformed quoting up front; the actual field split
// is hand-rolled so that $VAR and backquoted text is preserved literally
// rather than expanded.
func Tokenize(s string) ([]string, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	if _, err := syntax.NewParser().Parse(strings.NewReader(s), "inline-args"); err != nil {
		return nil, effigyerr.Wrap(effigyerr.GraphBadRef, "malformed inline argument quoting", err)
	}
	return splitFields(s)
}

func splitFields(s string) ([]string, error) {
	var fields []string
	var cur strings.Builder
	haveToken := false
	var quote rune

	flush := func() {
		if haveToken {
			fields = append(fields, cur.String())
			cur.Reset()
			haveToken = false
		}
	}

	runes := []rune(s)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
				continue
			}
			cur.WriteRune(r)
		case r == '\'' || r == '"':
			quote = r
			haveToken = true
		case r == ' ' || r == '\t' || r == '\n':
			flush()
		default:
			cur.WriteRune(r)
			haveToken = true
		}
	}
	flush()

	if quote != 0 {
		return nil, effigyerr.New(effigyerr.GraphBadRef, "unterminated quote in inline arguments")
	}
	return fields, nil
}

// MergeArgs concatenates two already-tokenized argv slices at the token
// level, preserving argv shape rather than joining as strings.
func MergeArgs(a, b []string) []string {
	out := make([]string, 0, len(a)+len(b))
	out = append(out, a...)
	out = append(out, b...)
	return out
}
