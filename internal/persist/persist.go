// Package persist stores the client's cached state between runs.
package persist

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/mmynk/commonbox/internal/models"
)

// DefaultNamespace keys the cached state.
const DefaultNamespace = "commonbox-cache-v1"

// Snapshot is the persisted subset of the engine state.
type Snapshot struct {
	Theme         models.Theme          `json:"themeMode"`
	Users         []models.User         `json:"users"`
	Boxes         []models.CommonBox    `json:"boxes"`
	Messages      []models.ChatMessage  `json:"messages"`
	Notifications []models.Notification `json:"notifications"`
	CurrentUserID string                `json:"currentUserId,omitempty"`
	SelectedBoxID string                `json:"selectedBoxId,omitempty"`
	Route         models.Route          `json:"route"`

	// AuthToken lets a remote-mode client resume its session.
	AuthToken string `json:"authToken,omitempty"`
}

// Adapter loads and saves snapshots by namespace.
type Adapter interface {
	// Load returns nil, nil when nothing is stored under namespace.
	Load(ctx context.Context, namespace string) (*Snapshot, error)
	Save(ctx context.Context, namespace string, snap Snapshot) error
}

// Encode renders a snapshot as indented JSON with a trailing newline.
// Nil collections are written as empty arrays.
func Encode(snap Snapshot) ([]byte, error) {
	if snap.Users == nil {
		snap.Users = []models.User{}
	}
	if snap.Boxes == nil {
		snap.Boxes = []models.CommonBox{}
	}
	if snap.Messages == nil {
		snap.Messages = []models.ChatMessage{}
	}
	if snap.Notifications == nil {
		snap.Notifications = []models.Notification{}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(snap); err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode parses a snapshot written by Encode.
func Decode(data []byte) (*Snapshot, error) {
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	if snap.Theme == "" {
		snap.Theme = models.ThemeLight
	}
	if snap.Route.Name == "" {
		snap.Route.Name = models.RouteHome
	}
	return &snap, nil
}

// Memory keeps snapshots in process memory.
type Memory struct {
	mu   sync.Mutex
	data map[string][]byte
}

// NewMemory returns an empty in-memory adapter.
func NewMemory() *Memory {
	return &Memory{data: make(map[string][]byte)}
}

func (m *Memory) Load(ctx context.Context, namespace string) (*Snapshot, error) {
	m.mu.Lock()
	raw, ok := m.data[namespace]
	m.mu.Unlock()
	if !ok {
		return nil, nil
	}
	return Decode(raw)
}

func (m *Memory) Save(ctx context.Context, namespace string, snap Snapshot) error {
	raw, err := Encode(snap)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.data[namespace] = raw
	m.mu.Unlock()
	return nil
}
