// Package models defines the core domain models for CommonBox.
//
// # Models
//
//   - User: a registered person; friends are tracked symmetrically by ID
//   - CommonBox: a shared container with participants and items
//   - BoxItem: a thing inside a box with a declared owner
//   - ChatMessage: one line of a box's chat
//   - Notification: an event addressed to an audience of users
//   - Route: the UI location last navigated to
//
// # Design Principles
//
//  1. **Plain data**: models carry no behaviour beyond small lookups
//  2. **ID references**: relationships use ID strings, never pointers
//  3. **Documents**: the JSON form of a model is its document form in the
//     remote store, so field tags are the wire schema
//  4. **Immutable updates**: helpers return modified copies; slices held by a
//     model are never written in place once published
package models
