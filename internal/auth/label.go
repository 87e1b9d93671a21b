package auth

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// LabelFor derives the display identity for an email address from its local
// part: "ana.lopez+work@example.com" becomes "Ana Lopez".
func LabelFor(email string) string {
	local, _, _ := strings.Cut(email, "@")
	local, _, _ = strings.Cut(local, "+")

	words := strings.FieldsFunc(local, func(r rune) bool {
		return r == '.' || r == '_' || r == '-'
	})
	if len(words) == 0 {
		return email
	}
	return cases.Title(language.English).String(strings.Join(words, " "))
}
