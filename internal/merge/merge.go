// Package merge reconciles two festival-log snapshots of the same user
// taken on different devices. The policy is deterministic, idempotent and
// commutative so that repeated or out-of-order snapshot delivery converges
// on every device:
//
//   - tries are append-only facts: the union of both sides, deduplicated
//     within favorite.TryTolerance, sorted ascending
//   - tasted wins over want_to_try (status is derived from the try union)
//   - notes are last-write-wins on updatedAt, ties broken by comparing the
//     notes text itself so the result does not depend on argument order
//   - createdAt keeps the earlier instant, updatedAt the later
package merge

import (
	"festLogAPI/internal/types/favorite"
)

// Snapshots merges two festival logs drink by drink. Entries present on
// only one side are kept as-is. Neither input is mutated.
func Snapshots(a, b favorite.Snapshot) favorite.Snapshot {
	out := make(favorite.Snapshot, len(a)+len(b))
	for id, item := range a {
		if other, ok := b[id]; ok {
			out[id] = Items(item, other)
		} else {
			out[id] = item.Clone()
		}
	}
	for id, item := range b {
		if _, ok := a[id]; !ok {
			out[id] = item.Clone()
		}
	}
	return out
}

// Items merges two entries for the same drink id.
func Items(a, b *favorite.Item) *favorite.Item {
	out := &favorite.Item{ID: a.ID}

	out.Tries = append(out.Tries, a.Tries...)
	out.Tries = append(out.Tries, b.Tries...)

	out.Notes = a.Notes
	switch {
	case b.UpdatedAt.After(a.UpdatedAt):
		out.Notes = b.Notes
	case a.UpdatedAt.After(b.UpdatedAt):
		out.Notes = a.Notes
	default:
		// Same updatedAt on both sides: pick the lexicographically greater
		// text so merge(a,b) == merge(b,a).
		if b.Notes > a.Notes {
			out.Notes = b.Notes
		}
	}

	out.CreatedAt = a.CreatedAt
	if !b.CreatedAt.IsZero() && (out.CreatedAt.IsZero() || b.CreatedAt.Before(out.CreatedAt)) {
		out.CreatedAt = b.CreatedAt
	}
	out.UpdatedAt = a.UpdatedAt
	if b.UpdatedAt.After(out.UpdatedAt) {
		out.UpdatedAt = b.UpdatedAt
	}

	out.Normalize()
	return out
}
