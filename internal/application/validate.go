package application

import (
	"fmt"
	"net/mail"
	"strings"
	"unicode/utf8"
)

const maxTitleLength = 200

func validateEmail(field, addr string) error {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return invalid(field, "is required")
	}
	parsed, err := mail.ParseAddress(addr)
	if err != nil || parsed.Address != addr {
		return invalid(field, "is not a valid email address")
	}
	return nil
}

func validateRange(field string, v, lo, hi int) error {
	if v < lo || v > hi {
		return invalid(field, fmt.Sprintf("must be between %d and %d", lo, hi))
	}
	return nil
}

func validateTitle(title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return invalid("title", "is required")
	}
	if utf8.RuneCountInString(title) > maxTitleLength {
		return invalid("title", "must be at most 200 characters")
	}
	return nil
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
