// Package seed provides the demo household used by local mode.
package seed

import (
	"bytes"
	_ "embed"
	"fmt"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mmynk/commonbox/internal/models"
)

//go:embed demo.yaml
var demoYAML []byte

// Data is a set of entities to start a local store with.
type Data struct {
	Users         []models.User
	Boxes         []models.CommonBox
	SelectedBoxID string
}

type fixture struct {
	SelectedBoxID string        `yaml:"selectedBoxId"`
	Users         []fixtureUser `yaml:"users"`
	Boxes         []fixtureBox  `yaml:"boxes"`
}

type fixtureUser struct {
	ID        string   `yaml:"id"`
	Name      string   `yaml:"name"`
	Email     string   `yaml:"email"`
	FriendIDs []string `yaml:"friendIds"`
}

type fixtureBox struct {
	ID             string        `yaml:"id"`
	Name           string        `yaml:"name"`
	ParticipantIDs []string      `yaml:"participantIds"`
	Items          []fixtureItem `yaml:"items"`
}

type fixtureItem struct {
	ID            string `yaml:"id"`
	Label         string `yaml:"label"`
	OwnerUserID   string `yaml:"ownerUserId"`
	AddedByUserID string `yaml:"addedByUserId"`
	HasConcern    bool   `yaml:"hasConcern"`
}

// Demo returns the embedded demo household. Item timestamps are set to now.
func Demo(now time.Time) (Data, error) {
	return Parse(demoYAML, now)
}

// Parse decodes a seed fixture and checks its invariants: friendships are
// symmetric, boxes have participants, and item owners are participants.
func Parse(data []byte, now time.Time) (Data, error) {
	var f fixture
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return Data{}, fmt.Errorf("parse seed: %w", err)
	}

	out := Data{SelectedBoxID: f.SelectedBoxID}
	known := make(map[string]fixtureUser, len(f.Users))
	for _, u := range f.Users {
		if u.ID == "" {
			return Data{}, fmt.Errorf("user %q: id is required", u.Name)
		}
		known[u.ID] = u
		out.Users = append(out.Users, models.User{
			ID:        u.ID,
			Name:      u.Name,
			Email:     models.NormalizeEmail(u.Email),
			FriendIDs: nonNil(u.FriendIDs),
		})
	}
	for _, u := range f.Users {
		for _, fid := range u.FriendIDs {
			friend, ok := known[fid]
			if !ok || !slices.Contains(friend.FriendIDs, u.ID) {
				return Data{}, fmt.Errorf("user %s: friendship with %s is not mutual", u.ID, fid)
			}
		}
	}

	now = now.UTC()
	for _, b := range f.Boxes {
		if len(b.ParticipantIDs) == 0 {
			return Data{}, fmt.Errorf("box %s: participants are required", b.ID)
		}
		box := models.CommonBox{ID: b.ID, Name: b.Name, ParticipantIDs: b.ParticipantIDs, Items: []models.BoxItem{}}
		for _, it := range b.Items {
			if !slices.Contains(b.ParticipantIDs, it.OwnerUserID) {
				return Data{}, fmt.Errorf("box %s item %s: owner %s is not a participant", b.ID, it.ID, it.OwnerUserID)
			}
			box.Items = append(box.Items, models.BoxItem{
				ID:            it.ID,
				BoxID:         b.ID,
				Label:         it.Label,
				OwnerUserID:   it.OwnerUserID,
				AddedByUserID: it.AddedByUserID,
				CreatedAt:     now,
				HasConcern:    it.HasConcern,
			})
		}
		out.Boxes = append(out.Boxes, box)
	}

	if out.SelectedBoxID != "" && !slices.ContainsFunc(out.Boxes, func(b models.CommonBox) bool { return b.ID == out.SelectedBoxID }) {
		return Data{}, fmt.Errorf("selected box %s does not exist", out.SelectedBoxID)
	}
	return out, nil
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}
