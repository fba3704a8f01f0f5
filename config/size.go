package config

import (
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
)

// ParseSize parses a byte size such as "512", "8k", "1m" or "2G". Suffixes are binary multiples.
func ParseSize(s string) (int64, error) {
	if s == "" {
		return 0, errors.New("empty size")
	}

	mult := int64(1)
	digits := s
	switch strings.ToLower(s[len(s)-1:]) {
	case "k":
		mult = 1 << 10
	case "m":
		mult = 1 << 20
	case "g":
		mult = 1 << 30
	case "t":
		mult = 1 << 40
	}
	if mult != 1 {
		digits = s[:len(s)-1]
	}

	if digits == "" || strings.TrimLeft(digits, "0123456789") != "" {
		return 0, errors.Newf("invalid size %q", s)
	}
	n, err := strconv.ParseInt(digits, 10, 64)
	if err != nil || n > (1<<63-1)/mult {
		return 0, errors.Newf("size %q out of range", s)
	}
	return n * mult, nil
}
