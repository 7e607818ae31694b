package model

import (
	"slices"

	"github.com/samber/lo"
)

// Audience is the target selection of a notice: every combination of the listed
// primary and secondary groups, optionally narrowed to one sub-group.
type Audience struct {
	Primaries   []string `json:"primary_groups"`
	Secondaries []string `json:"secondary_groups"`
	Sub         string   `json:"sub_group,omitempty"`
}

// Normalize trims, canonicalizes and deduplicates the target groups.
func (a Audience) Normalize() Audience {
	norm := func(vals []string, fn func(string) string) []string {
		out := lo.Uniq(lo.Map(vals, func(v string, _ int) string { return fn(v) }))
		return lo.Compact(out)
	}
	return Audience{
		Primaries:   norm(a.Primaries, NormalizePrimary),
		Secondaries: norm(a.Secondaries, NormalizeSecondary),
		Sub:         NormalizeSub(a.Sub),
	}
}

// Validate requires at least one primary and one secondary group.
func (a Audience) Validate() error {
	if len(a.Primaries) == 0 || len(a.Secondaries) == 0 {
		return ErrEmptyGroups
	}
	return nil
}

// Matches reports whether the recipient falls inside the selection.
func (a Audience) Matches(r Recipient) bool {
	if !slices.Contains(a.Primaries, r.Primary) || !slices.Contains(a.Secondaries, r.Secondary) {
		return false
	}
	return a.Sub == "" || a.Sub == r.Sub
}

// Covers reports whether a notice aimed at this selection is visible to the group.
// A sub-group filter on the notice hides it from other sub-groups.
func (a Audience) Covers(primary, secondary, sub string) bool {
	if !slices.Contains(a.Primaries, primary) || !slices.Contains(a.Secondaries, secondary) {
		return false
	}
	return a.Sub == "" || a.Sub == sub
}
