// Package fingerprint derives deterministic identity keys for records that
// have no natural uniqueness key. The create-window lock is keyed on these.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"

	"github.com/Ramsey-B/fern/pkg/models"
)

// Event fingerprints the identity-bearing fields of an event: normalized
// name, category, participating companies, and the event month. Fields that
// merge freely (description, confidence, chunk ids) are excluded so near
// duplicates collide.
func Event(e *models.Event) string {
	parts := []string{
		strings.ToLower(strings.TrimSpace(e.Name)),
		string(e.Category),
	}

	companies := append([]string(nil), e.CompanyIDs...)
	sort.Strings(companies)
	parts = append(parts, companies...)

	if e.EventDate != nil {
		parts = append(parts, e.EventDate.UTC().Format("2006-01"))
	}

	return digest(parts)
}

// Company fingerprints a company's uniqueness key.
func Company(c *models.Company) string {
	return digest([]string{strings.ToLower(strings.TrimSpace(c.Name)), c.Ticker})
}

func digest(parts []string) string {
	hash := sha256.Sum256([]byte(strings.Join(parts, "\x1f")))
	return hex.EncodeToString(hash[:])
}
