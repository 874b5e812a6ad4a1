package favorite

import (
	"sort"
	"time"
)

type Status string

const (
	StatusWantToTry Status = "want_to_try"
	StatusTasted    Status = "tasted"
)

// TryTolerance is the window inside which two try timestamps are treated
// as the same tasting event (absorbs clock skew between devices).
const TryTolerance = time.Second

// Item is one drink inside a user's festival log. Identity is the drink id
// alone; status, tries and notes are mutable state hanging off that id.
type Item struct {
	ID        string      `json:"id"`
	Status    Status      `json:"status"`
	Tries     []time.Time `json:"tries"`
	Notes     string      `json:"notes,omitempty"`
	CreatedAt time.Time   `json:"createdAt"`
	UpdatedAt time.Time   `json:"updatedAt"`
}

// New returns a want-to-try entry for the given drink.
func New(drinkID string, now time.Time) *Item {
	now = now.UTC()
	return &Item{
		ID:        drinkID,
		Status:    StatusWantToTry,
		Tries:     []time.Time{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (i *Item) Tasted() bool {
	return len(i.Tries) > 0
}

// SameInstant reports whether two timestamps fall inside TryTolerance.
func SameInstant(a, b time.Time) bool {
	d := a.Sub(b)
	if d < 0 {
		d = -d
	}
	return d <= TryTolerance
}

// Normalize restores the item invariants: tries sorted ascending in UTC,
// no duplicates within TryTolerance, status derived from tries.
func (i *Item) Normalize() {
	for idx, t := range i.Tries {
		i.Tries[idx] = t.UTC()
	}
	sort.Slice(i.Tries, func(a, b int) bool { return i.Tries[a].Before(i.Tries[b]) })

	// Tries stays a non-nil slice so JSON always carries an array.
	deduped := make([]time.Time, 0, len(i.Tries))
	for _, t := range i.Tries {
		if len(deduped) > 0 && SameInstant(deduped[len(deduped)-1], t) {
			continue
		}
		deduped = append(deduped, t)
	}
	i.Tries = deduped

	if i.Tasted() {
		i.Status = StatusTasted
	} else {
		i.Status = StatusWantToTry
	}
	i.CreatedAt = i.CreatedAt.UTC()
	i.UpdatedAt = i.UpdatedAt.UTC()
}

// AddTry records a tasting at the given instant. Returns false when an
// existing try already covers that instant.
func (i *Item) AddTry(at, now time.Time) bool {
	at = at.UTC()
	for _, t := range i.Tries {
		if SameInstant(t, at) {
			return false
		}
	}
	i.Tries = append(i.Tries, at)
	i.UpdatedAt = now.UTC()
	i.Normalize()
	return true
}

// ReplaceTry swaps one recorded try for another. Returns false when no try
// matches oldAt.
func (i *Item) ReplaceTry(oldAt, newAt, now time.Time) bool {
	for idx, t := range i.Tries {
		if SameInstant(t, oldAt) {
			i.Tries[idx] = newAt.UTC()
			i.UpdatedAt = now.UTC()
			i.Normalize()
			return true
		}
	}
	return false
}

// RemoveTry deletes one recorded try. Removing the last try reverts the
// item to want-to-try; the entry itself stays.
func (i *Item) RemoveTry(at, now time.Time) bool {
	for idx, t := range i.Tries {
		if SameInstant(t, at) {
			i.Tries = append(i.Tries[:idx], i.Tries[idx+1:]...)
			i.UpdatedAt = now.UTC()
			i.Normalize()
			return true
		}
	}
	return false
}

func (i *Item) Clone() *Item {
	out := *i
	out.Tries = make([]time.Time, len(i.Tries))
	copy(out.Tries, i.Tries)
	return &out
}

// Snapshot is one festival's log: drink id -> entry.
type Snapshot map[string]*Item

func (s Snapshot) Clone() Snapshot {
	out := make(Snapshot, len(s))
	for id, item := range s {
		out[id] = item.Clone()
	}
	return out
}

// Summary aggregates a festival log for badge/list rendering.
type Summary struct {
	FestivalID string  `json:"festival_id"`
	WantToTry  int     `json:"want_to_try"`
	Tasted     int     `json:"tasted"`
	TotalTries int     `json:"total_tries"`
	TastedLog  []*Item `json:"tasted_log"`
}

// Summarize counts entries by status and lists tasted items ordered by
// most recent try first.
func Summarize(festivalID string, snap Snapshot) *Summary {
	sum := &Summary{FestivalID: festivalID, TastedLog: []*Item{}}
	for _, item := range snap {
		if item.Tasted() {
			sum.Tasted++
			sum.TotalTries += len(item.Tries)
			sum.TastedLog = append(sum.TastedLog, item.Clone())
		} else {
			sum.WantToTry++
		}
	}
	sort.Slice(sum.TastedLog, func(a, b int) bool {
		la := sum.TastedLog[a].Tries[len(sum.TastedLog[a].Tries)-1]
		lb := sum.TastedLog[b].Tries[len(sum.TastedLog[b].Tries)-1]
		if la.Equal(lb) {
			return sum.TastedLog[a].ID < sum.TastedLog[b].ID
		}
		return la.After(lb)
	})
	return sum
}
