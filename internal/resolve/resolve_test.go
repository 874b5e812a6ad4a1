package resolve

import (
	"context"
	"testing"
)

type fakePrefs struct {
	preferred string
	writes    int
}

func (f *fakePrefs) LoadPreferred(ctx context.Context, userKey string) (string, error) {
	return f.preferred, nil
}

func (f *fakePrefs) SavePreferred(ctx context.Context, userKey string, festivalID string) error {
	f.preferred = festivalID
	f.writes++
	return nil
}

func TestCurrentFestivalID(t *testing.T) {
	cases := []struct {
		path string
		want string
	}{
		{"/cbf2025", "cbf2025"},
		{"/cbf2025/drink/123", "cbf2025"},
		{"/cbf2024/", "cbf2024"},
		{"/", ""},
		{"", ""},
	}
	for _, c := range cases {
		if got := CurrentFestivalID(c.path); got != c.want {
			t.Errorf("CurrentFestivalID(%q) = %q, want %q", c.path, got, c.want)
		}
	}
}

func TestPreferredFallsBackToDefault(t *testing.T) {
	r := New(&fakePrefs{}, "cbf2025")

	got, err := r.Preferred(context.Background(), "user1")
	if err != nil {
		t.Fatalf("Preferred failed: %v", err)
	}
	if got != "cbf2025" {
		t.Errorf("Expected default festival, got %q", got)
	}
}

func TestPreferredUsesStoredValue(t *testing.T) {
	r := New(&fakePrefs{preferred: "cbf2024"}, "cbf2025")

	got, err := r.Preferred(context.Background(), "user1")
	if err != nil {
		t.Fatalf("Preferred failed: %v", err)
	}
	if got != "cbf2024" {
		t.Errorf("Expected stored preference, got %q", got)
	}
}

// Resolving and reading festivals must never write the preference; only
// the explicit SetPreferred does.
func TestPreferenceIsolation(t *testing.T) {
	prefs := &fakePrefs{preferred: "cbf2025"}
	r := New(prefs, "cbf2025")
	ctx := context.Background()

	CurrentFestivalID("/cbf2024/drink/123")
	if _, err := r.Preferred(ctx, "user1"); err != nil {
		t.Fatalf("Preferred failed: %v", err)
	}
	RedirectPath("/cbf2019/drink/123", "x=1", "cbf2019", "cbf2025")

	if prefs.writes != 0 {
		t.Fatalf("Read paths wrote the preference %d times", prefs.writes)
	}

	if err := r.SetPreferred(ctx, "user1", "cbf2024"); err != nil {
		t.Fatalf("SetPreferred failed: %v", err)
	}
	if prefs.writes != 1 || prefs.preferred != "cbf2024" {
		t.Errorf("Explicit switch should be the single write path, got %d writes, %q", prefs.writes, prefs.preferred)
	}
}

func TestRedirectPath(t *testing.T) {
	cases := []struct {
		path, query, unknown, preferred, want string
	}{
		{"/unknown/drink/123", "x=1", "unknown", "cbf2025", "/cbf2025/drink/123?x=1"},
		{"/api/v1/festivals/old2019/drinks", "", "old2019", "cbf2025", "/api/v1/festivals/cbf2025/drinks"},
		{"/old2019", "", "old2019", "cbf2025", "/cbf2025"},
	}
	for _, c := range cases {
		if got := RedirectPath(c.path, c.query, c.unknown, c.preferred); got != c.want {
			t.Errorf("RedirectPath(%q, %q, %q, %q) = %q, want %q", c.path, c.query, c.unknown, c.preferred, got, c.want)
		}
	}
}
