package realtime

// ToggleReaction flips userID's reaction with the given emoji on a
// message. A user absent from the emoji's user list is added; a user
// present is removed, and a reaction whose last user leaves disappears
// entirely. Count always equals len(Users) afterwards. A new reaction
// slice is built on every toggle so snapshots handed out earlier are
// never mutated underneath their holders. Unknown message ids are
// no-ops.
func (s *MessageStore) ToggleReaction(messageID, emoji, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.entries {
		if s.entries[i].ID != messageID {
			continue
		}
		s.entries[i].Reactions = toggleReaction(s.entries[i].Reactions, emoji, userID)

		return
	}
}

func toggleReaction(reactions []Reaction, emoji, userID string) []Reaction {
	out := make([]Reaction, 0, len(reactions)+1)
	found := false

	for _, r := range reactions {
		if r.Emoji != emoji {
			out = append(out, r)
			continue
		}
		found = true

		users := make([]string, 0, len(r.Users)+1)
		present := false
		for _, u := range r.Users {
			if u == userID {
				present = true
				continue
			}
			users = append(users, u)
		}
		if !present {
			users = append(users, userID)
		}

		if len(users) == 0 {
			continue
		}
		out = append(out, Reaction{Emoji: emoji, Count: len(users), Users: users})
	}

	if !found {
		out = append(out, Reaction{Emoji: emoji, Count: 1, Users: []string{userID}})
	}

	return out
}
