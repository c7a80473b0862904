package model

import "time"

// Reaction is a single user's emoji on a message, unique per
// (message, user, emoji). Reacting again with the same emoji removes it.
type Reaction struct {
	MessageID string    `json:"message_id"`
	UserID    string    `json:"user_id"`
	Emoji     string    `json:"emoji"`
	CreatedAt time.Time `json:"created_at"`
}

// ReactionGroup is the aggregated per-emoji summary for a message.
type ReactionGroup struct {
	Emoji       string `json:"emoji"`
	Count       int    `json:"count"`
	UserReacted bool   `json:"user_reacted"`
}

// GroupReactions aggregates raw reaction rows per emoji, preserving the
// order of first appearance. UserReacted is set for the viewer.
func GroupReactions(reactions []Reaction, viewerID string) []ReactionGroup {
	groups := make([]ReactionGroup, 0, 4)
	index := make(map[string]int, 4)
	for _, r := range reactions {
		i, ok := index[r.Emoji]
		if !ok {
			i = len(groups)
			index[r.Emoji] = i
			groups = append(groups, ReactionGroup{Emoji: r.Emoji})
		}
		groups[i].Count++
		if r.UserID == viewerID {
			groups[i].UserReacted = true
		}
	}
	return groups
}
