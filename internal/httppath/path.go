// Package httppath canonicalizes request paths before they are routed or mapped to disk.
package httppath

import "strings"

// Canonicalize percent-decodes p until no decodable escape remains, resolves "." and ".." segments, collapses
// empty segments and guarantees a leading slash. A trailing slash survives when the last segment is empty.
// The result is stable: Canonicalize(Canonicalize(p)) == Canonicalize(p).
func Canonicalize(p string) string {
	if p == "" {
		return "/"
	}
	if p[0] != '/' {
		p = "/" + p
	}

	for {
		next := PercentDecode(p)
		if next == p {
			break
		}
		p = next
	}

	return resolveDots(p)
}

// PercentDecode decodes every valid two-hex-digit escape in s except "%00", which is kept as is. Incomplete or
// invalid escapes are copied through unchanged.
func PercentDecode(s string) string {
	if strings.IndexByte(s, '%') < 0 {
		return s
	}

	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] != '%' || i+2 >= len(s) {
			b.WriteByte(s[i])
			continue
		}
		hi, okh := unhex(s[i+1])
		lo, okl := unhex(s[i+2])
		if !okh || !okl || (hi == 0 && lo == 0) {
			b.WriteByte(s[i])
			continue
		}
		b.WriteByte(hi<<4 | lo)
		i += 2
	}
	return b.String()
}

func resolveDots(p string) string {
	parts := strings.Split(p, "/")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		switch part {
		case "", ".":
		case "..":
			if len(out) > 0 {
				out = out[:len(out)-1]
			}
		default:
			out = append(out, part)
		}
	}

	var b strings.Builder
	for _, part := range out {
		b.WriteByte('/')
		b.WriteString(part)
	}
	if parts[len(parts)-1] == "" || b.Len() == 0 {
		b.WriteByte('/')
	}
	return b.String()
}

func unhex(c byte) (byte, bool) {
	switch {
	case '0' <= c && c <= '9':
		return c - '0', true
	case 'a' <= c && c <= 'f':
		return c - 'a' + 10, true
	case 'A' <= c && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}
