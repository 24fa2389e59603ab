package messenger

// view is the ordered, duplicate-free message list of the active
// conversation.
type view struct {
	msgs []Message
	seen map[string]struct{}
}

func newView() *view {
	return &view{seen: make(map[string]struct{})}
}

func (v *view) reset(history []Message) {
	v.msgs = make([]Message, 0, len(history))
	v.seen = make(map[string]struct{}, len(history))
	for _, m := range history {
		v.add(m)
	}
}

// add inserts m at its (created_at, seq) position unless it is already
// present. A live event can overtake an older one on another path, so the
// tail is not always the right place. Rows without a timestamp go last.
func (v *view) add(m Message) bool {
	k := m.key()
	if _, ok := v.seen[k]; ok {
		return false
	}
	v.seen[k] = struct{}{}
	i := len(v.msgs)
	if !m.CreatedAt.IsZero() {
		for i > 0 && before(m, v.msgs[i-1]) {
			i--
		}
	}
	v.msgs = append(v.msgs, Message{})
	copy(v.msgs[i+1:], v.msgs[i:])
	v.msgs[i] = m
	return true
}

func before(a, b Message) bool {
	if b.CreatedAt.IsZero() {
		return false
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.Seq < b.Seq
}

func (v *view) snapshot() []Message {
	out := make([]Message, len(v.msgs))
	copy(out, v.msgs)
	return out
}
