package realtime

// Thread derivation. Threads are not stored separately; they are views
// computed from ThreadParentID links in the canonical list.

// Replies returns the direct replies to a message in insertion order.
func (s *MessageStore) Replies(messageID string) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Message
	for _, m := range s.entries {
		if m.ThreadParentID == messageID {
			out = append(out, m)
		}
	}

	return out
}

// Ancestors returns the parent chain of a message ordered root-first,
// excluding the message itself. The walk stops at the first parent the
// store does not hold, so a partially-loaded thread yields the known
// suffix of the chain. Cycles terminate the walk rather than looping.
func (s *MessageStore) Ancestors(messageID string) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	byID := make(map[string]Message, len(s.entries))
	for _, m := range s.entries {
		byID[m.ID] = m
	}

	cur, ok := byID[messageID]
	if !ok {
		return nil
	}

	seen := map[string]bool{messageID: true}
	var chain []Message
	for cur.ThreadParentID != "" {
		parent, ok := byID[cur.ThreadParentID]
		if !ok || seen[parent.ID] {
			break
		}
		seen[parent.ID] = true
		chain = append(chain, parent)
		cur = parent
	}

	// Collected child-to-root; callers want root-first.
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}

	return chain
}

// Pinned returns the subset of the list whose ids appear in pinnedIDs,
// in insertion order. Ids the store does not hold are skipped.
func (s *MessageStore) Pinned(pinnedIDs []string) []Message {
	pinned := make(map[string]bool, len(pinnedIDs))
	for _, id := range pinnedIDs {
		pinned[id] = true
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Message
	for _, m := range s.entries {
		if pinned[m.ID] {
			out = append(out, m)
		}
	}

	return out
}
