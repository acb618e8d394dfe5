package contacts

import (
	"sort"
	"strings"

	"secure-dialer/internal/models"
)

// Criteria narrows the contact list. Empty fields match everything.
type Criteria struct {
	SessionID string // "" or "all" for every session
	Search    string
	Attending string // "all", "yes" or "no"
}

// Filter returns the contacts matching c, sorted for the call screen.
// The input slice is not modified.
func Filter(all []models.Contact, c Criteria) []models.Contact {
	search := strings.TrimSpace(c.Search)
	lowered := strings.ToLower(search)

	out := make([]models.Contact, 0, len(all))
	for _, ct := range all {
		if !inSession(ct, c.SessionID) {
			continue
		}
		if search != "" && !matchesSearch(ct, search, lowered) {
			continue
		}
		if c.Attending != "" && c.Attending != "all" && string(ct.Attending) != c.Attending {
			continue
		}
		out = append(out, ct)
	}
	Sort(out)
	return out
}

func inSession(ct models.Contact, sessionID string) bool {
	if sessionID == "" || sessionID == "all" {
		return true
	}
	return ct.CallSessionID != nil && *ct.CallSessionID == sessionID
}

// Names and email match case-insensitively; phone numbers match as typed.
func matchesSearch(ct models.Contact, raw, lowered string) bool {
	return strings.Contains(strings.ToLower(ct.FirstName), lowered) ||
		strings.Contains(strings.ToLower(ct.LastName), lowered) ||
		strings.Contains(strings.ToLower(ct.Email), lowered) ||
		strings.Contains(ct.Phone, raw)
}

// Sort orders contacts with no call in flight first, then by first name, last
// name and id.
func Sort(list []models.Contact) {
	sort.SliceStable(list, func(i, j int) bool {
		a, b := list[i], list[j]
		if a.CallInitiated != b.CallInitiated {
			return !a.CallInitiated
		}
		if fa, fb := strings.ToLower(a.FirstName), strings.ToLower(b.FirstName); fa != fb {
			return fa < fb
		}
		if la, lb := strings.ToLower(a.LastName), strings.ToLower(b.LastName); la != lb {
			return la < lb
		}
		return a.ID < b.ID
	})
}
