package repositories

import (
	"context"

	"github.com/jmoiron/sqlx"

	"telemed-chat-service/internal/models"
)

// MessageRepository is the durable message store between user pairs.
// Identities are opaque strings supplied by the auth collaborator; the store
// performs no referential checks on them.
type MessageRepository interface {
	Append(ctx context.Context, sender, receiver, body, fileURL, fileType string) (models.Message, error)
	History(ctx context.Context, userA, userB string) ([]models.Message, error)
	MarkRead(ctx context.Context, sender, receiver string) error
	UnreadCounts(ctx context.Context, recipient string) (map[string]int, error)
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

// Append stores a new unread message and returns it as persisted.
func (r *MessageRepo) Append(ctx context.Context, sender, receiver, body, fileURL, fileType string) (models.Message, error) {
	if fileType == "" {
		fileType = models.FileTypeText
	}
	var msg models.Message
	err := r.db.QueryRowxContext(ctx, `INSERT INTO messages (sender, receiver, body, file_url, file_type) VALUES ($1, $2, $3, $4, $5) RETURNING id, sender, receiver, body, file_url, file_type, read, created_at`, sender, receiver, body, fileURL, fileType).
		Scan(&msg.ID, &msg.Sender, &msg.Receiver, &msg.Body, &msg.FileURL, &msg.FileType, &msg.Read, &msg.CreatedAt)
	return msg, err
}

// History returns the conversation between two users, oldest first. The pair is
// unordered: History(a, b) and History(b, a) return the same sequence.
func (r *MessageRepo) History(ctx context.Context, userA, userB string) ([]models.Message, error) {
	query := `SELECT id, sender, receiver, body, file_url, file_type, read, created_at
        FROM messages
        WHERE (sender=$1 AND receiver=$2) OR (sender=$2 AND receiver=$1)
        ORDER BY created_at ASC, id ASC`
	msgs := []models.Message{}
	err := r.db.SelectContext(ctx, &msgs, query, userA, userB)
	return msgs, err
}

// MarkRead flags every unread message from sender to receiver as read.
func (r *MessageRepo) MarkRead(ctx context.Context, sender, receiver string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE messages SET read = TRUE WHERE sender=$1 AND receiver=$2 AND read = FALSE`, sender, receiver)
	return err
}

// UnreadCounts aggregates unread messages addressed to recipient, grouped by
// sender. Senders with no unread messages are absent from the map.
func (r *MessageRepo) UnreadCounts(ctx context.Context, recipient string) (map[string]int, error) {
	rows, err := r.db.QueryxContext(ctx, `SELECT sender, COUNT(*) FROM messages WHERE receiver=$1 AND read = FALSE GROUP BY sender`, recipient)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := map[string]int{}
	for rows.Next() {
		var sender string
		var count int
		if err := rows.Scan(&sender, &count); err != nil {
			return nil, err
		}
		counts[sender] = count
	}
	return counts, rows.Err()
}
