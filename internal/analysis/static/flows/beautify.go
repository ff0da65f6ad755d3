package flows

import (
	"strings"
	"unicode"
)

const indentUnit = "    "

// Beautify lays out a JavaScript fragment one statement per line with block indentation.
// Slices contain elided bodies such as `function(){ ... }`, so the input need not parse;
// string and template literals are copied verbatim.
func Beautify(code string) string {
	rs := []rune(code)
	var (
		lines   []string
		cur     strings.Builder
		depth   int
		paren   int
		parens  []int
		spacing bool
	)
	flush := func() {
		if line := strings.TrimSpace(cur.String()); line != "" {
			lines = append(lines, strings.Repeat(indentUnit, depth)+line)
		}
		cur.Reset()
	}
	write := func(s string) {
		if spacing && cur.Len() > 0 {
			cur.WriteByte(' ')
		}
		spacing = false
		cur.WriteString(s)
	}

	for i := 0; i < len(rs); i++ {
		c := rs[i]
		switch {
		case c == '"' || c == '\'' || c == '`':
			j := closingQuote(rs, i)
			write(string(rs[i : j+1]))
			i = j
		case unicode.IsSpace(c):
			spacing = true
		case c == '(' || c == '[':
			paren++
			write(string(c))
		case c == ')' || c == ']':
			if paren > 0 {
				paren--
			}
			write(string(c))
		case c == '{':
			spacing = true
			write("{")
			flush()
			depth++
			parens = append(parens, paren)
			paren = 0
		case c == '}':
			flush()
			if depth > 0 {
				depth--
			}
			if n := len(parens); n > 0 {
				paren = parens[n-1]
				parens = parens[:n-1]
			}
			spacing = false
			write("}")
			if !continuesBlock(rs[i+1:]) {
				flush()
			}
		case c == ';':
			spacing = false
			write(";")
			if paren == 0 {
				flush()
			}
		default:
			write(string(c))
		}
	}
	flush()
	return strings.Join(lines, "\n")
}

// closingQuote returns the index of the quote closing the literal opened at i, or the last
// index when it is unterminated.
func closingQuote(rs []rune, i int) int {
	q := rs[i]
	for j := i + 1; j < len(rs); j++ {
		switch rs[j] {
		case '\\':
			j++
		case q:
			return j
		}
	}
	return len(rs) - 1
}

// continuesBlock reports whether the text after a closing brace belongs on the same line.
func continuesBlock(rest []rune) bool {
	tail := strings.TrimLeftFunc(string(rest), unicode.IsSpace)
	if tail == "" {
		return true
	}
	if strings.ContainsRune(",;).]", rune(tail[0])) {
		return true
	}
	for _, kw := range []string{"else", "catch", "finally", "while"} {
		if strings.HasPrefix(tail, kw) {
			return true
		}
	}
	return false
}
