package model

import (
	"slices"
	"strings"
	"time"
)

// [RECIPIENT] AN ADDRESSABLE MEMBER OF THE AUDIENCE
// Owned by the directory. The delivery core reads it per operation and never
// keeps it beyond a single delivery.
type Recipient struct {
	ID          string    `json:"id"`
	Name        string    `json:"name,omitempty"`
	Primary     string    `json:"primary"`             // branch
	Secondary   string    `json:"secondary"`           // batch, e.g. "2023-2027"
	Sub         string    `json:"sub,omitempty"`       // section, optional
	PushHandles []string  `json:"push_handles,omitempty"`
	Online      bool      `json:"online"`
	LastSeen    time.Time `json:"last_seen"`
}

// Group returns the (primary, secondary) pair the recipient belongs to.
func (r Recipient) Group() GroupKey {
	return GroupKey{Primary: r.Primary, Secondary: r.Secondary}
}

// HasPushHandle reports whether the handle is already registered.
func (r Recipient) HasPushHandle(handle string) bool {
	return slices.Contains(r.PushHandles, handle)
}

// Normalize brings group dimensions to their canonical stored form.
func (r *Recipient) Normalize() {
	r.ID = strings.TrimSpace(r.ID)
	r.Primary = NormalizePrimary(r.Primary)
	r.Secondary = NormalizeSecondary(r.Secondary)
	r.Sub = NormalizeSub(r.Sub)
}

// GroupKey identifies one (primary, secondary) group.
type GroupKey struct {
	Primary   string `json:"primary"`
	Secondary string `json:"secondary"`
}

// Primary groups (branches) and sub-groups (sections) are stored upper-cased,
// secondary groups (batches) are stored as given.
func NormalizePrimary(v string) string   { return strings.ToUpper(strings.TrimSpace(v)) }
func NormalizeSecondary(v string) string { return strings.TrimSpace(v) }
func NormalizeSub(v string) string       { return strings.ToUpper(strings.TrimSpace(v)) }
