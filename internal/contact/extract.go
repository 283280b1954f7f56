// Package contact parses a phone number and full name from a free-text onboarding reply.
package contact

import (
	"regexp"
	"strings"
)

// A digit or '+' followed by at least five digits, spaces, hyphens or parentheses.
// Digits and spaces are Unicode-wide: pasted numbers often carry U+00A0.
var phoneRe = regexp.MustCompile(`[+\p{Nd}][\p{Nd}\-\s\p{Zs}()]{5,}`)

var nonPhoneRe = regexp.MustCompile(`[^\d+]`)

type Contact struct {
	Phone      string
	FirstName  string
	LastName   string
	Patronymic string
}

// Extract finds the first phone-like run in text and treats the rest as
// "last first patronymic...". It returns false when no phone is present.
//
//	8 999 123-45-67 Иванов Иван Иванович
//	+7 (999) 123-45-67 Петров Петр
func Extract(text string) (Contact, bool) {
	text = strings.TrimSpace(text)
	loc := phoneRe.FindStringIndex(text)
	if loc == nil {
		return Contact{}, false
	}

	c := Contact{Phone: nonPhoneRe.ReplaceAllString(text[loc[0]:loc[1]], "")}

	tokens := strings.Fields(text[:loc[0]] + " " + text[loc[1]:])
	switch {
	case len(tokens) == 1:
		c.LastName = tokens[0]
	case len(tokens) == 2:
		c.LastName, c.FirstName = tokens[0], tokens[1]
	case len(tokens) >= 3:
		c.LastName, c.FirstName = tokens[0], tokens[1]
		c.Patronymic = strings.Join(tokens[2:], " ")
	}
	return c, true
}
