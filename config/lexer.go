package config

import (
	"strings"

	"github.com/cockroachdb/errors"
)

type tokenKind uint8

const (
	tokWord tokenKind = iota
	tokSemicolon
	tokOpenBrace
	tokCloseBrace
)

type token struct {
	kind tokenKind
	text string
	line int
}

// lex splits src into words and punctuation. A '#' starts a comment that runs to the end of the line unless it is
// escaped as "\#". Double-quoted strings are single words that keep their quotes.
func lex(src string) ([]token, error) {
	var (
		toks   []token
		word   strings.Builder
		inWord bool
		quoted bool
		line   = 1
		start  = 1
	)

	flush := func() {
		if inWord {
			toks = append(toks, token{tokWord, word.String(), start})
			word.Reset()
			inWord = false
		}
	}
	begin := func() {
		if !inWord {
			inWord, start = true, line
		}
	}

	for i := 0; i < len(src); i++ {
		c := src[i]
		switch {
		case c == '#':
			if s := word.String(); inWord && strings.HasSuffix(s, `\`) {
				word.Reset()
				word.WriteString(s[:len(s)-1])
				word.WriteByte('#')
				continue
			}
			for i+1 < len(src) && src[i+1] != '\n' {
				i++
			}
		case quoted:
			word.WriteByte(c)
			if c == '\n' {
				line++
			}
			if c == '"' && closesQuote(word.String()) {
				quoted = false
				flush()
			}
		case c == '"':
			flush()
			begin()
			word.WriteByte(c)
			quoted = true
		case c == ';' || c == '{' || c == '}':
			flush()
			toks = append(toks, token{punctuation(c), string(c), line})
		case c == ' ' || c == '\t' || c == '\r' || c == '\n' || c == '\v' || c == '\f':
			flush()
			if c == '\n' {
				line++
			}
		default:
			begin()
			word.WriteByte(c)
		}
	}

	if quoted {
		return nil, errors.Newf("line %d: unterminated double-quoted string", start)
	}
	flush()
	return toks, nil
}

func punctuation(c byte) tokenKind {
	switch c {
	case ';':
		return tokSemicolon
	case '{':
		return tokOpenBrace
	default:
		return tokCloseBrace
	}
}

// closesQuote reports whether the trailing quote of s is not escaped by an odd number of backslashes.
func closesQuote(s string) bool {
	if len(s) < 2 {
		return false
	}
	n := 0
	for j := len(s) - 2; j >= 0 && s[j] == '\\'; j-- {
		n++
	}
	return n%2 == 0
}
