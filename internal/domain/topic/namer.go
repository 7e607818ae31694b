// Package topic maps audience groups to push fan-out topic names.
//
// Names must stay identical across restarts: push handles are subscribed to
// them once and keep receiving on them for as long as group membership holds.
package topic

import (
	"cmp"
	"regexp"
	"slices"
	"strings"

	"github.com/samber/lo"

	"github.com/campusnotice/notice-delivery-service/internal/domain/model"
)

const (
	// AllUsers is the topic every registered push handle is subscribed to.
	AllUsers = "all_users"

	primaryPrefix   = "branch_"
	secondaryPrefix = "_batch_"
)

var whitespace = regexp.MustCompile(`\s+`)

// Name returns the fan-out topic of one (primary, secondary) group.
func Name(primary, secondary string) string {
	return primaryPrefix + normalize(primary) + secondaryPrefix + normalize(secondary)
}

// ForGroup is Name applied to a group key.
func ForGroup(g model.GroupKey) string {
	return Name(g.Primary, g.Secondary)
}

func normalize(v string) string {
	return whitespace.ReplaceAllString(strings.ToLower(strings.TrimSpace(v)), "_")
}

// Pairs expands a target selection into its distinct (primary, secondary)
// groups, ordered by primary then secondary. The sub-group filter does not
// take part: topics exist per pair only.
func Pairs(a model.Audience) []model.GroupKey {
	pairs := make([]model.GroupKey, 0, len(a.Primaries)*len(a.Secondaries))
	for _, p := range a.Primaries {
		for _, s := range a.Secondaries {
			pairs = append(pairs, model.GroupKey{Primary: p, Secondary: s})
		}
	}
	pairs = lo.UniqBy(pairs, ForGroup)

	slices.SortFunc(pairs, func(a, b model.GroupKey) int {
		return cmp.Or(cmp.Compare(a.Primary, b.Primary), cmp.Compare(a.Secondary, b.Secondary))
	})
	return pairs
}
