package models

import "time"

// ChatMessage is one line of a box's chat. Messages are immutable once sent.
type ChatMessage struct {
	ID           string    `json:"id"`
	BoxID        string    `json:"boxId"`
	SenderUserID string    `json:"senderUserId"`
	Text         string    `json:"text"`
	CreatedAt    time.Time `json:"createdAt"`
}
