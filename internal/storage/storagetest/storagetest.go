// Package storagetest holds a conformance suite shared by every
// storage.Backend implementation.
package storagetest

import (
	"context"
	"errors"
	"testing"

	"github.com/mmynk/commonbox/internal/storage"
)

// Run exercises backend against the storage.Backend contract. The backend
// must start empty.
func Run(t *testing.T, backend storage.Backend) {
	t.Helper()
	ctx := context.Background()

	t.Run("Get missing document returns ErrNotFound", func(t *testing.T) {
		_, err := backend.Get(ctx, "users", "nobody")
		if !errors.Is(err, storage.ErrNotFound) {
			t.Fatalf("Get() error = %v, want ErrNotFound", err)
		}
	})

	t.Run("Set then Get round-trips fields", func(t *testing.T) {
		doc := storage.Document{
			"name":      "Ava",
			"email":     "ava@svern.app",
			"friendIds": []any{"u2"},
			"nested":    map[string]any{"ok": true},
			"count":     3,
		}
		if err := backend.Set(ctx, "users", "u1", doc); err != nil {
			t.Fatalf("Set failed: %v", err)
		}

		got, err := backend.Get(ctx, "users", "u1")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if got["name"] != "Ava" || got["email"] != "ava@svern.app" {
			t.Errorf("unexpected document: %v", got)
		}
		friends, ok := got["friendIds"].([]any)
		if !ok || len(friends) != 1 || friends[0] != "u2" {
			t.Errorf("friendIds = %#v, want [u2]", got["friendIds"])
		}
		if got["count"] != float64(3) {
			t.Errorf("count = %#v, want 3", got["count"])
		}
		nested, _ := got["nested"].(map[string]any)
		if nested["ok"] != true {
			t.Errorf("nested = %#v", got["nested"])
		}
	})

	t.Run("Get returns a copy", func(t *testing.T) {
		got, err := backend.Get(ctx, "users", "u1")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		got["name"] = "changed"

		again, err := backend.Get(ctx, "users", "u1")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if again["name"] != "Ava" {
			t.Errorf("stored document was mutated through a returned copy")
		}
	})

	t.Run("Update merges with array union", func(t *testing.T) {
		err := backend.Update(ctx, "users", "u1", storage.Document{
			"friendIds": storage.Union("u2", "u3"),
			"name":      "Ava B.",
		})
		if err != nil {
			t.Fatalf("Update failed: %v", err)
		}

		got, err := backend.Get(ctx, "users", "u1")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		friends, _ := got["friendIds"].([]any)
		if len(friends) != 2 || friends[0] != "u2" || friends[1] != "u3" {
			t.Errorf("friendIds = %#v, want [u2 u3]", got["friendIds"])
		}
		if got["name"] != "Ava B." {
			t.Errorf("name = %v, want Ava B.", got["name"])
		}
		if got["email"] != "ava@svern.app" {
			t.Errorf("email was dropped by update: %v", got)
		}
	})

	t.Run("Update missing document returns ErrNotFound", func(t *testing.T) {
		err := backend.Update(ctx, "users", "ghost", storage.Document{"name": "x"})
		if !errors.Is(err, storage.ErrNotFound) {
			t.Fatalf("Update() error = %v, want ErrNotFound", err)
		}
	})

	t.Run("Commit is all or nothing", func(t *testing.T) {
		err := backend.Commit(ctx, []storage.WriteOp{
			storage.SetOp("notifications", "n-atomic", storage.Document{"message": "hi"}),
			storage.UpdateOp("users", "ghost", storage.Document{"name": "x"}),
		})
		if !errors.Is(err, storage.ErrNotFound) {
			t.Fatalf("Commit() error = %v, want ErrNotFound", err)
		}
		if _, err := backend.Get(ctx, "notifications", "n-atomic"); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("first write of a failed batch was stored")
		}
	})

	t.Run("Commit applies writes in order", func(t *testing.T) {
		err := backend.Commit(ctx, []storage.WriteOp{
			storage.SetOp("boxes", "b1", storage.Document{"name": "Fridge", "participantIds": []any{"u1"}}),
			storage.UpdateOp("boxes", "b1", storage.Document{"participantIds": storage.Union("u2")}),
		})
		if err != nil {
			t.Fatalf("Commit failed: %v", err)
		}
		got, err := backend.Get(ctx, "boxes", "b1")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		ids, _ := got["participantIds"].([]any)
		if len(ids) != 2 {
			t.Errorf("participantIds = %#v, want [u1 u2]", got["participantIds"])
		}
	})

	t.Run("Commit rejects malformed writes", func(t *testing.T) {
		err := backend.Commit(ctx, []storage.WriteOp{{Kind: storage.WriteSet, Collection: "users"}})
		if err == nil {
			t.Fatal("expected error for write without id")
		}
	})

	t.Run("Query filters orders and limits", func(t *testing.T) {
		msgs := []struct {
			id, box, at string
		}{
			{"m1", "b1", "2026-01-01T10:00:00Z"},
			{"m2", "b1", "2026-01-01T10:00:00.5Z"},
			{"m3", "b2", "2026-01-01T11:00:00Z"},
			{"m4", "b1", "2026-01-01T09:00:00Z"},
		}
		var writes []storage.WriteOp
		for _, m := range msgs {
			writes = append(writes, storage.SetOp("messages", m.id, storage.Document{"boxId": m.box, "createdAt": m.at}))
		}
		if err := backend.Commit(ctx, writes); err != nil {
			t.Fatalf("Commit failed: %v", err)
		}

		q := storage.Collection("messages").Where("boxId", storage.OpEqual, "b1").OrderByDesc("createdAt")
		got, err := backend.Query(ctx, q)
		if err != nil {
			t.Fatalf("Query failed: %v", err)
		}
		want := []string{"m2", "m1", "m4"}
		if len(got) != len(want) {
			t.Fatalf("Query returned %d records, want %d", len(got), len(want))
		}
		for i, id := range want {
			if got[i].ID != id {
				t.Errorf("record %d = %s, want %s", i, got[i].ID, id)
			}
		}

		limited, err := backend.Query(ctx, q.WithLimit(1))
		if err != nil {
			t.Fatalf("Query failed: %v", err)
		}
		if len(limited) != 1 || limited[0].ID != "m2" {
			t.Errorf("limited query = %v, want [m2]", limited)
		}
	})

	t.Run("Query array-contains", func(t *testing.T) {
		got, err := backend.Query(ctx, storage.Collection("boxes").Where("participantIds", storage.OpArrayContains, "u2"))
		if err != nil {
			t.Fatalf("Query failed: %v", err)
		}
		if len(got) != 1 || got[0].ID != "b1" {
			t.Errorf("array-contains query = %v, want [b1]", got)
		}

		none, err := backend.Query(ctx, storage.Collection("boxes").Where("participantIds", storage.OpArrayContains, "u9"))
		if err != nil {
			t.Fatalf("Query failed: %v", err)
		}
		if len(none) != 0 {
			t.Errorf("expected no boxes for u9, got %v", none)
		}
	})

	t.Run("Query rejects invalid query", func(t *testing.T) {
		if _, err := backend.Query(ctx, storage.Query{}); err == nil {
			t.Fatal("expected error for query without collection")
		}
	})
}
