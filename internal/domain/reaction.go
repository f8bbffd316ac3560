package domain

import (
	"slices"

	"github.com/google/uuid"
)

// Reaction groups every user that reacted to a message with the same emoji.
type Reaction struct {
	Emoji   string      `json:"emoji"`
	UserIDs []uuid.UUID `json:"user_ids"`
}

func (r Reaction) Has(userID uuid.UUID) bool {
	return slices.Contains(r.UserIDs, userID)
}

// ToggleReaction adds userID to the emoji's set, or removes it when already
// present. Entries whose set becomes empty are dropped.
func ToggleReaction(reactions []Reaction, emoji string, userID uuid.UUID) []Reaction {
	out := make([]Reaction, 0, len(reactions)+1)
	found := false
	for _, r := range reactions {
		if r.Emoji != emoji {
			out = append(out, r)
			continue
		}
		found = true
		if r.Has(userID) {
			users := slices.DeleteFunc(slices.Clone(r.UserIDs), func(id uuid.UUID) bool { return id == userID })
			if len(users) > 0 {
				out = append(out, Reaction{Emoji: emoji, UserIDs: users})
			}
			continue
		}
		out = append(out, Reaction{Emoji: emoji, UserIDs: append(slices.Clone(r.UserIDs), userID)})
	}
	if !found {
		out = append(out, Reaction{Emoji: emoji, UserIDs: []uuid.UUID{userID}})
	}
	return out
}
