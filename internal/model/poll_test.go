package model

import (
	"errors"
	"testing"
)

func TestParsePollMetadata(t *testing.T) {
	meta, err := ParsePollMetadata([]byte(`{"question":"  Lunch?  ","options":[" pizza ","tacos"]}`))
	if err != nil {
		t.Fatalf("valid payload: %v", err)
	}
	if meta.Question != "Lunch?" {
		t.Errorf("question = %q, want trimmed", meta.Question)
	}
	if meta.Options[0] != "pizza" || meta.Options[1] != "tacos" {
		t.Errorf("options = %v, want trimmed", meta.Options)
	}
}

func TestParsePollMetadataRejects(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"empty", ""},
		{"not json", "not-json"},
		{"no question", `{"options":["a","b"]}`},
		{"blank question", `{"question":"   ","options":["a","b"]}`},
		{"one option", `{"question":"q","options":["a"]}`},
		{"no options", `{"question":"q"}`},
		{"blank option", `{"question":"q","options":["a","  "]}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ParsePollMetadata([]byte(tc.raw)); !errors.Is(err, ErrInvalidPollPayload) {
				t.Errorf("err = %v, want ErrInvalidPollPayload", err)
			}
		})
	}
}

func TestValidOption(t *testing.T) {
	p := &Poll{Options: []string{"a", "b", "c"}}
	for _, idx := range []int{0, 1, 2} {
		if !p.ValidOption(idx) {
			t.Errorf("ValidOption(%d) = false", idx)
		}
	}
	for _, idx := range []int{-1, 3, 100} {
		if p.ValidOption(idx) {
			t.Errorf("ValidOption(%d) = true", idx)
		}
	}
}

func TestBuildPollTally(t *testing.T) {
	votes := []PollVote{
		{UserID: "alice", OptionIndex: 0},
		{UserID: "bob", OptionIndex: 1},
		{UserID: "carol", OptionIndex: 1},
		{UserID: "mallory", OptionIndex: 9}, // stale index, ignored
	}
	tally := BuildPollTally(2, votes, "bob")
	if tally.Counts[0] != 1 || tally.Counts[1] != 2 {
		t.Errorf("counts = %v, want [1 2]", tally.Counts)
	}
	if tally.TotalVotes != 3 {
		t.Errorf("total = %d, want 3", tally.TotalVotes)
	}
	if tally.ViewerOption != 1 {
		t.Errorf("viewer option = %d, want 1", tally.ViewerOption)
	}
}

func TestBuildPollTallyNoViewerVote(t *testing.T) {
	tally := BuildPollTally(2, []PollVote{{UserID: "alice", OptionIndex: 0}}, "bob")
	if tally.ViewerOption != -1 {
		t.Errorf("viewer option = %d, want -1", tally.ViewerOption)
	}
}

func TestGroupReactions(t *testing.T) {
	rows := []Reaction{
		{UserID: "alice", Emoji: "👍"},
		{UserID: "bob", Emoji: "❤️"},
		{UserID: "carol", Emoji: "👍"},
	}
	groups := GroupReactions(rows, "carol")
	if len(groups) != 2 {
		t.Fatalf("groups = %d, want 2", len(groups))
	}
	// First appearance order is kept.
	if groups[0].Emoji != "👍" || groups[0].Count != 2 || !groups[0].UserReacted {
		t.Errorf("group[0] = %+v", groups[0])
	}
	if groups[1].Emoji != "❤️" || groups[1].Count != 1 || groups[1].UserReacted {
		t.Errorf("group[1] = %+v", groups[1])
	}
}

func TestGroupReactionsEmpty(t *testing.T) {
	if got := GroupReactions(nil, "alice"); len(got) != 0 {
		t.Errorf("got %v, want empty", got)
	}
}
