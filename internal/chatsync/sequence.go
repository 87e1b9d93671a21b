package chatsync

import (
	"sort"

	"github.com/nfrund/periskope/internal/domain"
)

// sequence is the displayed message list: a set keyed by ID, kept sorted by
// (CreatedAt, ID).
type sequence struct {
	ids  map[string]struct{}
	msgs []domain.Message
}

func newSequence() *sequence {
	return &sequence{ids: make(map[string]struct{})}
}

// insert adds m at its sorted position. It reports false if a message with
// the same ID is already present.
func (q *sequence) insert(m domain.Message) bool {
	if _, ok := q.ids[m.ID]; ok {
		return false
	}
	q.ids[m.ID] = struct{}{}

	i := sort.Search(len(q.msgs), func(i int) bool { return m.Before(q.msgs[i]) })
	q.msgs = append(q.msgs, domain.Message{})
	copy(q.msgs[i+1:], q.msgs[i:])
	q.msgs[i] = m
	return true
}

func (q *sequence) snapshot() []domain.Message {
	out := make([]domain.Message, len(q.msgs))
	copy(out, q.msgs)
	return out
}
