package model

import (
	"errors"
	"time"
)

// ErrInvalidOption is returned when a vote names an option index outside
// the poll's options.
var ErrInvalidOption = errors.New("invalid poll option")

// Poll is attached 1:1 to a message of type poll. Options are immutable
// after creation; only votes accumulate.
type Poll struct {
	ID        string    `json:"id"`
	MessageID string    `json:"message_id"`
	Question  string    `json:"question"`
	Options   []string  `json:"options"`
	CreatedAt time.Time `json:"created_at"`
}

// ValidOption reports whether idx addresses one of the poll's options.
func (p *Poll) ValidOption(idx int) bool {
	return idx >= 0 && idx < len(p.Options)
}

// PollVote is one user's current choice in a poll. At most one row exists
// per (poll, user); re-voting updates the row.
type PollVote struct {
	ID          string    `json:"id"`
	PollID      string    `json:"poll_id"`
	MessageID   string    `json:"message_id"`
	UserID      string    `json:"user_id"`
	OptionIndex int       `json:"option_index"`
	CreatedAt   time.Time `json:"created_at"`
}

// PollTally is the recomputed vote aggregate for a poll. It is always
// derived fresh from stored votes, never cached incrementally.
type PollTally struct {
	Counts     []int `json:"counts"`
	TotalVotes int   `json:"total_votes"`
	// ViewerOption is the viewer's current choice, or -1 if they have not voted.
	ViewerOption int `json:"viewer_option"`
}

// BuildPollTally computes per-option counts from stored votes. Votes whose
// index no longer fits the option list are ignored rather than counted
// against a phantom option.
func BuildPollTally(optionCount int, votes []PollVote, viewerID string) PollTally {
	t := PollTally{Counts: make([]int, optionCount), ViewerOption: -1}
	for _, v := range votes {
		if v.OptionIndex < 0 || v.OptionIndex >= optionCount {
			continue
		}
		t.Counts[v.OptionIndex]++
		t.TotalVotes++
		if v.UserID == viewerID {
			t.ViewerOption = v.OptionIndex
		}
	}
	return t
}
