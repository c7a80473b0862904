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

type PollRepository struct {
	pool *pgxpool.Pool
}

func NewPollRepository(pool *pgxpool.Pool) *PollRepository {
	return &PollRepository{pool: pool}
}

func (r *PollRepository) GetByMessageID(ctx context.Context, messageID string) (*model.Poll, error) {
	defer logger.DeferLogDuration("poll.GetByMessageID", time.Now())()
	p := &model.Poll{}
	var options []byte
	err := r.pool.QueryRow(ctx,
		`SELECT id, message_id, question, options, created_at FROM polls WHERE message_id = $1`,
		messageID,
	).Scan(&p.ID, &p.MessageID, &p.Question, &options, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("pollRepo.GetByMessageID: %w", err)
	}
	if err := json.Unmarshal(options, &p.Options); err != nil {
		return nil, fmt.Errorf("pollRepo.GetByMessageID options: %w", err)
	}
	return p, nil
}

// UpsertVote records a user's vote; a repeated vote by the same user updates
// the existing row, so at most one row exists per (poll, user).
func (r *PollRepository) UpsertVote(ctx context.Context, v *model.PollVote) error {
	defer logger.DeferLogDuration("poll.UpsertVote", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO poll_votes (id, poll_id, message_id, user_id, option_index, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (poll_id, user_id) DO UPDATE SET option_index = EXCLUDED.option_index`,
		v.ID, v.PollID, v.MessageID, v.UserID, v.OptionIndex, v.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("pollRepo.UpsertVote: %w", err)
	}
	return nil
}

// VotesByPoll returns all current votes of a poll. The tally is always
// recomputed from these rows, never cached.
func (r *PollRepository) VotesByPoll(ctx context.Context, pollID string) ([]model.PollVote, error) {
	defer logger.DeferLogDuration("poll.VotesByPoll", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT id, poll_id, message_id, user_id, option_index, created_at
		 FROM poll_votes WHERE poll_id = $1 ORDER BY created_at`, pollID,
	)
	if err != nil {
		return nil, fmt.Errorf("pollRepo.VotesByPoll query: %w", err)
	}
	defer rows.Close()

	votes := make([]model.PollVote, 0, 16)
	for rows.Next() {
		var v model.PollVote
		if err := rows.Scan(&v.ID, &v.PollID, &v.MessageID, &v.UserID, &v.OptionIndex, &v.CreatedAt); err != nil {
			return nil, fmt.Errorf("pollRepo.VotesByPoll scan: %w", err)
		}
		votes = append(votes, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pollRepo.VotesByPoll rows: %w", err)
	}
	return votes, nil
}
