package models

import "time"

// Message is one chat message between a patient and a doctor. Messages are
// append-only; the read flag is the only field that ever changes after insert.
type Message struct {
	ID        int64     `db:"id" json:"id"`
	Sender    string    `db:"sender" json:"sender"`
	Receiver  string    `db:"receiver" json:"receiver"`
	Body      string    `db:"body" json:"message"`
	FileURL   string    `db:"file_url" json:"fileUrl,omitempty"`
	FileType  string    `db:"file_type" json:"fileType"`
	Read      bool      `db:"read" json:"read"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

// Wire event types exchanged over the chat websocket.
const (
	EventJoinRoom       = "join_room"
	EventSendMessage    = "send_message"
	EventReceiveMessage = "receive_message"
	EventError          = "error"
)

// File type values carried in FileType. Text is the default for plain messages.
const (
	FileTypeText  = "text"
	FileTypeImage = "image"
	FileTypeFile  = "file"
)

// ChatEvent is the JSON envelope for both directions of the chat websocket.
// Inbound join_room uses Identity; send_message uses the message fields.
// Outbound receive_message carries the stored message, error carries Reason.
type ChatEvent struct {
	Type      string     `json:"type"`
	Identity  string     `json:"identity,omitempty"`
	Sender    string     `json:"sender,omitempty"`
	Receiver  string     `json:"receiver,omitempty"`
	Body      string     `json:"message,omitempty"`
	FileURL   string     `json:"fileUrl,omitempty"`
	FileType  string     `json:"fileType,omitempty"`
	ID        int64      `json:"id,omitempty"`
	Read      *bool      `json:"read,omitempty"`
	CreatedAt *time.Time `json:"createdAt,omitempty"`
	Reason    string     `json:"reason,omitempty"`
}

// ReceiveEvent builds the receive_message event for a stored message.
func ReceiveEvent(msg Message) ChatEvent {
	read := msg.Read
	created := msg.CreatedAt
	return ChatEvent{
		Type:      EventReceiveMessage,
		Sender:    msg.Sender,
		Receiver:  msg.Receiver,
		Body:      msg.Body,
		FileURL:   msg.FileURL,
		FileType:  msg.FileType,
		ID:        msg.ID,
		Read:      &read,
		CreatedAt: &created,
	}
}

// ErrorEvent builds the error event reported to the originating session.
func ErrorEvent(reason string) ChatEvent {
	return ChatEvent{Type: EventError, Reason: reason}
}
