// Package resolve keeps "which festival is this request looking at" and
// "which festival is the user's default" strictly apart. The viewed
// festival is derived from the request path on every call and is never
// written anywhere; the preferred festival changes only through an
// explicit SetPreferred. That separation is what stops a shared deep link
// from hijacking someone's default festival.
package resolve

import (
	"context"
	"strings"
)

// PreferenceStore persists the single preferred-festival value per user.
type PreferenceStore interface {
	LoadPreferred(ctx context.Context, userKey string) (string, error)
	SavePreferred(ctx context.Context, userKey string, festivalID string) error
}

type Resolver struct {
	prefs           PreferenceStore
	defaultFestival string
}

func New(prefs PreferenceStore, defaultFestival string) *Resolver {
	return &Resolver{prefs: prefs, defaultFestival: defaultFestival}
}

// CurrentFestivalID extracts the festival id from a request path. Pure:
// it never touches preference state. Returns "" for the root path.
func CurrentFestivalID(path string) string {
	path = strings.TrimPrefix(path, "/")
	if path == "" {
		return ""
	}
	if idx := strings.IndexByte(path, '/'); idx >= 0 {
		return path[:idx]
	}
	return path
}

// Preferred returns the user's default festival, falling back to the
// configured default when no preference was ever set.
func (r *Resolver) Preferred(ctx context.Context, userKey string) (string, error) {
	id, err := r.prefs.LoadPreferred(ctx, userKey)
	if err != nil {
		return r.defaultFestival, err
	}
	if id == "" {
		return r.defaultFestival, nil
	}
	return id, nil
}

// SetPreferred is the only writer of the preference. Called from the
// explicit "switch festival" action and nowhere else.
func (r *Resolver) SetPreferred(ctx context.Context, userKey string, festivalID string) error {
	return r.prefs.SavePreferred(ctx, userKey, festivalID)
}

// RedirectPath rewrites a path that referenced an unknown festival id to
// the equivalent path under the preferred festival, keeping every other
// segment and the query string intact.
func RedirectPath(path, rawQuery, unknownID, preferred string) string {
	segments := strings.Split(path, "/")
	for idx, seg := range segments {
		if seg == unknownID {
			segments[idx] = preferred
			break
		}
	}
	out := strings.Join(segments, "/")
	if rawQuery != "" {
		out += "?" + rawQuery
	}
	return out
}
