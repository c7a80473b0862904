package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/chatline/internal/logger"
	"github.com/chatline/internal/model"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrPartialWrite signals that a message row may have been persisted while
// its dependent poll row was not, and the transaction could not be rolled
// back. Callers must surface it distinctly instead of swallowing it.
var ErrPartialWrite = errors.New("partial write: message persisted without poll")

type MessageRepository struct {
	pool *pgxpool.Pool
}

func NewMessageRepository(pool *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{pool: pool}
}

const msgCols = `m.id, m.sender_id, m.receiver_id, m.content, m.content_type, m.metadata, m.is_read, m.created_at`

func scanMessage(s interface{ Scan(dest ...any) error }, m *model.Message) error {
	return s.Scan(&m.ID, &m.SenderID, &m.ReceiverID, &m.Content, &m.ContentType, &m.Metadata, &m.IsRead, &m.CreatedAt)
}

// Create persists a message and, for poll messages, its poll row in the same
// transaction: either both land or neither does.
func (r *MessageRepository) Create(ctx context.Context, m *model.Message, poll *model.Poll) error {
	defer logger.DeferLogDuration("msg.Create", time.Now())()

	const insertMsg = `INSERT INTO messages (id, sender_id, receiver_id, content, content_type, metadata, is_read, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	if poll == nil {
		_, err := r.pool.Exec(ctx, insertMsg,
			m.ID, m.SenderID, m.ReceiverID, m.Content, m.ContentType, m.Metadata, m.IsRead, m.CreatedAt)
		if err != nil {
			return fmt.Errorf("msgRepo.Create: %w", err)
		}
		return nil
	}

	options, err := json.Marshal(poll.Options)
	if err != nil {
		return fmt.Errorf("msgRepo.Create options: %w", err)
	}
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("msgRepo.Create begin: %w", err)
	}
	if _, err := tx.Exec(ctx, insertMsg,
		m.ID, m.SenderID, m.ReceiverID, m.Content, m.ContentType, m.Metadata, m.IsRead, m.CreatedAt); err != nil {
		_ = tx.Rollback(ctx)
		return fmt.Errorf("msgRepo.Create message: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO polls (id, message_id, question, options, created_at) VALUES ($1, $2, $3, $4, $5)`,
		poll.ID, poll.MessageID, poll.Question, options, poll.CreatedAt); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return fmt.Errorf("msgRepo.Create poll: %v: %w", err, ErrPartialWrite)
		}
		return fmt.Errorf("msgRepo.Create poll: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("msgRepo.Create commit: %w", err)
	}
	return nil
}

func (r *MessageRepository) GetByID(ctx context.Context, id string) (*model.Message, error) {
	defer logger.DeferLogDuration("msg.GetByID", time.Now())()
	m := &model.Message{}
	row := r.pool.QueryRow(ctx, `SELECT `+msgCols+` FROM messages m WHERE m.id = $1`, id)
	if err := scanMessage(row, m); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("msgRepo.GetByID: %w", err)
	}
	return m, nil
}

// GetConversation returns the newest limit messages between two users,
// ordered oldest first, with sender and receiver identities resolved. The
// window is taken from the newest end so long conversations never hide
// recent messages.
func (r *MessageRepository) GetConversation(ctx context.Context, viewerID, otherID string, limit int) ([]model.Message, error) {
	defer logger.DeferLogDuration("msg.GetConversation", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT `+msgCols+`,
		        s.id, s.username, s.email, s.avatar_url, s.is_online, s.last_seen_at,
		        t.id, t.username, t.email, t.avatar_url, t.is_online, t.last_seen_at
		 FROM messages m
		 JOIN users s ON s.id = m.sender_id
		 JOIN users t ON t.id = m.receiver_id
		 WHERE (m.sender_id = $1 AND m.receiver_id = $2)
		    OR (m.sender_id = $2 AND m.receiver_id = $1)
		 ORDER BY m.created_at DESC
		 LIMIT $3`, viewerID, otherID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("msgRepo.GetConversation query: %w", err)
	}
	defer rows.Close()

	messages := make([]model.Message, 0, 64)
	for rows.Next() {
		var m model.Message
		sender := &model.UserPublic{}
		receiver := &model.UserPublic{}
		if err := rows.Scan(&m.ID, &m.SenderID, &m.ReceiverID, &m.Content, &m.ContentType, &m.Metadata, &m.IsRead, &m.CreatedAt,
			&sender.ID, &sender.Username, &sender.Email, &sender.AvatarURL, &sender.IsOnline, &sender.LastSeenAt,
			&receiver.ID, &receiver.Username, &receiver.Email, &receiver.AvatarURL, &receiver.IsOnline, &receiver.LastSeenAt); err != nil {
			return nil, fmt.Errorf("msgRepo.GetConversation scan: %w", err)
		}
		m.Sender = sender
		m.Receiver = receiver
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("msgRepo.GetConversation rows: %w", err)
	}
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// MarkConversationRead flips is_read on all unread messages from otherID to
// viewerID. Idempotent: repeated calls after no new messages change nothing.
func (r *MessageRepository) MarkConversationRead(ctx context.Context, viewerID, otherID string) error {
	defer logger.DeferLogDuration("msg.MarkConversationRead", time.Now())()
	_, err := r.pool.Exec(ctx,
		`UPDATE messages SET is_read = true
		 WHERE sender_id = $1 AND receiver_id = $2 AND is_read = false`,
		otherID, viewerID,
	)
	if err != nil {
		return fmt.Errorf("msgRepo.MarkConversationRead: %w", err)
	}
	return nil
}

// UnreadCountsBySender returns, per sender, how many unread messages the
// receiver has from them.
func (r *MessageRepository) UnreadCountsBySender(ctx context.Context, receiverID string) (map[string]int, error) {
	defer logger.DeferLogDuration("msg.UnreadCountsBySender", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT sender_id, COUNT(*) FROM messages
		 WHERE receiver_id = $1 AND is_read = false
		 GROUP BY sender_id`, receiverID,
	)
	if err != nil {
		return nil, fmt.Errorf("msgRepo.UnreadCountsBySender query: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int, 16)
	for rows.Next() {
		var senderID string
		var n int
		if err := rows.Scan(&senderID, &n); err != nil {
			return nil, fmt.Errorf("msgRepo.UnreadCountsBySender scan: %w", err)
		}
		counts[senderID] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("msgRepo.UnreadCountsBySender rows: %w", err)
	}
	return counts, nil
}

// LastMessagePerPartner returns, for every user the given user has exchanged
// messages with, the most recent message of that pair.
func (r *MessageRepository) LastMessagePerPartner(ctx context.Context, userID string) (map[string]model.Message, error) {
	defer logger.DeferLogDuration("msg.LastMessagePerPartner", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT DISTINCT ON (partner_id) partner_id, id, sender_id, receiver_id, content, content_type, metadata, is_read, created_at
		 FROM (
		   SELECT CASE WHEN m.sender_id = $1 THEN m.receiver_id ELSE m.sender_id END AS partner_id,
		          m.id, m.sender_id, m.receiver_id, m.content, m.content_type, m.metadata, m.is_read, m.created_at
		   FROM messages m
		   WHERE m.sender_id = $1 OR m.receiver_id = $1
		 ) pm
		 ORDER BY partner_id, created_at DESC`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("msgRepo.LastMessagePerPartner query: %w", err)
	}
	defer rows.Close()

	last := make(map[string]model.Message, 16)
	for rows.Next() {
		var partnerID string
		var m model.Message
		if err := rows.Scan(&partnerID, &m.ID, &m.SenderID, &m.ReceiverID, &m.Content, &m.ContentType, &m.Metadata, &m.IsRead, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("msgRepo.LastMessagePerPartner scan: %w", err)
		}
		last[partnerID] = m
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("msgRepo.LastMessagePerPartner rows: %w", err)
	}
	return last, nil
}
