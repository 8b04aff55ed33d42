// Package normalize canonicalizes extracted company and date fields before
// matching, so equality and uniqueness checks compare like with like.
package normalize

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/Ramsey-B/fern/pkg/models"
)

// Company canonicalizes a company in place and returns it. Idempotent:
// applying it twice yields the same record.
func Company(c *models.Company) *models.Company {
	c.Name = CompanyName(c.Name)
	c.Ticker = Ticker(c.Ticker)

	c.ParentCompany = strings.TrimSpace(c.ParentCompany)
	if c.ParentCompany == "" {
		c.ParentCompany = c.Name
	} else {
		c.ParentCompany = CompanyName(c.ParentCompany)
	}

	return c
}

// CompanyName title-cases a name while preserving short all-caps runs like
// "IBM" or "AMD" that would otherwise be mangled.
func CompanyName(name string) string {
	// a Caser carries state and is not safe for concurrent use
	titleCaser := cases.Title(language.English)

	words := strings.Fields(name)
	for i, w := range words {
		if isShortAcronym(w) {
			continue
		}
		words[i] = titleCaser.String(strings.ToLower(w))
	}
	return strings.Join(words, " ")
}

// Ticker upper-cases and trims a ticker symbol. Companies without one get
// the shared private placeholder so the uniqueness key stays total.
func Ticker(t string) string {
	t = strings.ToUpper(strings.TrimSpace(t))
	if t == "" {
		return models.TickerPrivate
	}
	return t
}

// isShortAcronym reports whether the word is all uppercase letters of length
// four or less, ignoring trailing punctuation such as "IBM," or "A.I.".
func isShortAcronym(w string) bool {
	letters := 0
	for _, r := range w {
		if unicode.IsLetter(r) {
			if !unicode.IsUpper(r) {
				return false
			}
			letters++
		} else if r != '.' && r != ',' && r != '&' {
			return false
		}
	}
	return letters > 0 && letters <= 4
}
