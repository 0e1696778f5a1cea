package execx

import (
	"strings"
)

// Vars holds the values substituted into command templates. Keys are the bare
// placeholder names (input, output, format, ...).
type Vars map[string]string

// ExpandTemplate substitutes $name placeholders in a command template and
// splits the result on whitespace. Substitution is purely textual; no shell is
// involved and no quoting rules apply. The first token is the binary, the rest
// are its arguments.
//
// Unknown placeholders expand to the empty string, which drops the token when
// it held nothing else.
func ExpandTemplate(template string, vars Vars) (bin string, args []string) {
	tokens := strings.Fields(template)
	if len(tokens) == 0 {
		return "", nil
	}

	expanded := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		out := expandToken(tok, vars)
		if out == "" && strings.Contains(tok, "$") {
			continue
		}
		expanded = append(expanded, out)
	}

	if len(expanded) == 0 {
		return "", nil
	}
	return expanded[0], expanded[1:]
}

func expandToken(tok string, vars Vars) string {
	var b strings.Builder
	for i := 0; i < len(tok); {
		c := tok[i]
		if c != '$' {
			b.WriteByte(c)
			i++
			continue
		}

		j := i + 1
		for j < len(tok) && isNameByte(tok[j]) {
			j++
		}
		if j == i+1 {
			// lone $, keep it
			b.WriteByte(c)
			i++
			continue
		}

		name := tok[i+1 : j]
		b.WriteString(vars[name])
		i = j
	}
	return b.String()
}

func isNameByte(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '_'
}
