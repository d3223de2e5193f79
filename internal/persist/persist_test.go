package persist

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"

	"github.com/mmynk/commonbox/internal/models"
)

func fixtureSnapshot() Snapshot {
	at := func(min, sec int) time.Time { return time.Date(2026, 1, 2, 3, min, sec, 0, time.UTC) }
	return Snapshot{
		Theme: models.ThemeDark,
		Users: []models.User{
			{ID: "u1", Name: "Ava", Email: "ava@svern.app", FriendIDs: []string{"u2"}},
			{ID: "u2", Name: "Ravi", Email: "ravi@svern.app", FriendIDs: []string{"u1"}},
		},
		Boxes: []models.CommonBox{{
			ID:             "b1",
			Name:           "Fridge",
			ParticipantIDs: []string{"u1", "u2"},
			Items: []models.BoxItem{{
				ID: "i1", BoxID: "b1", Label: "Greek Yogurt", OwnerUserID: "u1",
				AddedByUserID: "u2", CreatedAt: at(4, 5), HasConcern: true,
			}},
		}},
		Messages: []models.ChatMessage{
			{ID: "m1", BoxID: "b1", SenderUserID: "u2", Text: "Is this yours?", CreatedAt: at(5, 0)},
		},
		Notifications: []models.Notification{{
			ID: "n1", BoxID: "b1", ItemID: "i1", ActorUserID: "u2",
			AudienceUserIDs: []string{"u1", "u2"},
			Message:         models.ConcernMessage("Ravi", "Greek Yogurt", "Ava"),
			Type:            models.NotificationOwnershipConcern,
			CreatedAt:       at(6, 0),
			SeenBy:          []string{"u2"},
		}},
		CurrentUserID: "u1",
		SelectedBoxID: "b1",
		Route:         models.Route{Name: models.RouteChat, BoxID: "b1"},
	}
}

func TestEncodeGolden(t *testing.T) {
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)

	data, err := Encode(fixtureSnapshot())
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	g.Assert(t, "snapshot", data)

	empty, err := Encode(Snapshot{Theme: models.ThemeLight, Route: models.Route{Name: models.RouteHome}})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	g.Assert(t, "empty_snapshot", empty)
}

func TestDecodeDefaults(t *testing.T) {
	snap, err := Decode([]byte(`{"users":[]}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if snap.Theme != models.ThemeLight || snap.Route.Name != models.RouteHome {
		t.Errorf("defaults not applied: %+v", snap)
	}

	if _, err := Decode([]byte(`{"users":`)); err == nil {
		t.Error("expected error for truncated snapshot")
	}
}

func testAdapter(t *testing.T, a Adapter) {
	t.Helper()
	ctx := context.Background()

	got, err := a.Load(ctx, DefaultNamespace)
	if err != nil {
		t.Fatalf("Load empty: %v", err)
	}
	if got != nil {
		t.Fatalf("Load empty = %+v, want nil", got)
	}

	want := fixtureSnapshot()
	want.AuthToken = "tok"
	if err := a.Save(ctx, DefaultNamespace, want); err != nil {
		t.Fatalf("Save: %v", err)
	}

	// A second save under the same namespace replaces the first.
	want.Theme = models.ThemeLight
	if err := a.Save(ctx, DefaultNamespace, want); err != nil {
		t.Fatalf("Save again: %v", err)
	}

	got, err = a.Load(ctx, DefaultNamespace)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Theme != models.ThemeLight || got.AuthToken != "tok" || got.CurrentUserID != "u1" {
		t.Errorf("Load = %+v", got)
	}
	if len(got.Boxes) != 1 || !got.Boxes[0].Items[0].HasConcern {
		t.Errorf("boxes lost fields: %+v", got.Boxes)
	}
	if !got.Messages[0].CreatedAt.Equal(want.Messages[0].CreatedAt) {
		t.Errorf("message time = %v, want %v", got.Messages[0].CreatedAt, want.Messages[0].CreatedAt)
	}

	other, err := a.Load(ctx, "other-namespace")
	if err != nil || other != nil {
		t.Errorf("Load(other) = %v, %v; want nil, nil", other, err)
	}
}

func TestMemoryAdapter(t *testing.T) {
	testAdapter(t, NewMemory())
}

func TestSQLiteAdapter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache", "commonbox.db")
	s, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	testAdapter(t, s)
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Data survives a reopen.
	s, err = OpenSQLite(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	got, err := s.Load(context.Background(), DefaultNamespace)
	if err != nil || got == nil {
		t.Fatalf("Load after reopen = %v, %v", got, err)
	}
}
