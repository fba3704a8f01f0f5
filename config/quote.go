package config

import "strings"

// IsQuoted reports whether s is a complete double-quoted string without unescaped quotes inside.
func IsQuoted(s string) bool {
	if len(s) < 2 || s[0] != '"' || s[len(s)-1] != '"' {
		return false
	}
	for i := 1; i < len(s)-1; i++ {
		if s[i] == '\\' {
			i++
			continue
		}
		if s[i] == '"' {
			return false
		}
	}
	return closesQuote(s)
}

// Unquote decodes a double-quoted string with C-style escapes (\n, \t, \r, \0 and friends). Any other escaped
// character stands for itself. ok is false when s is not double-quoted.
func Unquote(s string) (string, bool) {
	if !IsQuoted(s) {
		return s, false
	}

	var b strings.Builder
	inner := s[1 : len(s)-1]
	for i := 0; i < len(inner); i++ {
		c := inner[i]
		if c != '\\' || i+1 == len(inner) {
			b.WriteByte(c)
			continue
		}
		i++
		b.WriteByte(escaped(inner[i]))
	}
	return b.String(), true
}

func escaped(c byte) byte {
	switch c {
	case '0':
		return 0
	case 'a':
		return '\a'
	case 'b':
		return '\b'
	case 't':
		return '\t'
	case 'n':
		return '\n'
	case 'v':
		return '\v'
	case 'f':
		return '\f'
	case 'r':
		return '\r'
	default:
		return c
	}
}
