package memory

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/PabloGalante/evolve-chat/internal/domain"
)

// TurnStore is the in-memory transcript of one session.
//
// Every mutation takes the write lock, applies exactly one state transition
// and then hands a deep snapshot to subscribers. Notifications are
// serialized by emitMu, which is acquired before mu is released, so
// subscribers observe transitions in mutation order and may call back into
// the store.
type TurnStore struct {
	mu     sync.RWMutex
	turns  []domain.ConversationTurn
	now    func() time.Time
	newID  func() string
	nextID int

	emitMu    sync.Mutex
	observers map[int]domain.TurnObserver
}

var _ domain.TurnStore = (*TurnStore)(nil)

func NewTurnStore() *TurnStore {
	return &TurnStore{
		now:       time.Now,
		newID:     uuid.NewString,
		observers: make(map[int]domain.TurnObserver),
	}
}

func (s *TurnStore) AppendTurn(userContent string) (int, error) {
	s.mu.Lock()
	now := s.now()
	turn := domain.ConversationTurn{
		ID:          domain.TurnID(s.newID()),
		UserMessage: s.userMessage(userContent, now),
		AIResponses: []domain.Message{},
		Timestamp:   now,
	}
	s.turns = append(s.turns, turn)
	idx := len(s.turns) - 1
	s.commit()
	return idx, nil
}

func (s *TurnStore) AppendPlaceholder(turnIndex int) (domain.MessageID, error) {
	s.mu.Lock()
	if err := s.checkIndex(turnIndex); err != nil {
		s.mu.Unlock()
		return "", err
	}
	msg := domain.Message{
		ID:        domain.MessageID(s.newID()),
		Role:      domain.RoleAssistant,
		Timestamp: s.now(),
	}
	t := &s.turns[turnIndex]
	t.AIResponses = append(cloneMessages(t.AIResponses), msg)
	s.commit()
	return msg.ID, nil
}

func (s *TurnStore) MutateMessage(turnIndex int, id domain.MessageID, update domain.MessageUpdater) error {
	s.mu.Lock()
	if err := s.checkIndex(turnIndex); err != nil {
		s.mu.Unlock()
		return err
	}
	t := &s.turns[turnIndex]
	pos := indexOfMessage(t.AIResponses, id)
	if pos < 0 {
		s.mu.Unlock()
		return fmt.Errorf("mutate %s in turn %d: %w", id, turnIndex, domain.ErrMessageNotFound)
	}
	responses := cloneMessages(t.AIResponses)
	updated := update(responses[pos])
	// Identity and role are fixed once a message exists.
	updated.ID = responses[pos].ID
	updated.Role = responses[pos].Role
	responses[pos] = updated
	t.AIResponses = responses
	s.commit()
	return nil
}

func (s *TurnStore) ReplaceResponses(turnIndex int, responses []domain.Message) error {
	s.mu.Lock()
	if err := s.checkIndex(turnIndex); err != nil {
		s.mu.Unlock()
		return err
	}
	out := make([]domain.Message, 0, len(responses))
	now := s.now()
	for _, r := range responses {
		if r.ID == "" {
			r.ID = domain.MessageID(s.newID())
		}
		if r.Role == "" {
			r.Role = domain.RoleAssistant
		}
		if r.Timestamp.IsZero() {
			r.Timestamp = now
		}
		out = append(out, r)
	}
	s.turns[turnIndex].AIResponses = out
	s.commit()
	return nil
}

func (s *TurnStore) ClearResponses(turnIndex int) error {
	return s.ReplaceResponses(turnIndex, nil)
}

func (s *TurnStore) RemoveMessage(turnIndex int, id domain.MessageID) error {
	s.mu.Lock()
	if err := s.checkIndex(turnIndex); err != nil {
		s.mu.Unlock()
		return err
	}
	t := &s.turns[turnIndex]
	pos := indexOfMessage(t.AIResponses, id)
	if pos < 0 {
		s.mu.Unlock()
		return fmt.Errorf("remove %s from turn %d: %w", id, turnIndex, domain.ErrMessageNotFound)
	}
	responses := make([]domain.Message, 0, len(t.AIResponses)-1)
	responses = append(responses, t.AIResponses[:pos]...)
	responses = append(responses, t.AIResponses[pos+1:]...)
	t.AIResponses = responses
	s.commit()
	return nil
}

func (s *TurnStore) RemoveTurn(id domain.TurnID) error {
	s.mu.Lock()
	for i := range s.turns {
		if s.turns[i].ID != id {
			continue
		}
		turns := make([]domain.ConversationTurn, 0, len(s.turns)-1)
		turns = append(turns, s.turns[:i]...)
		turns = append(turns, s.turns[i+1:]...)
		s.turns = turns
		s.commit()
		return nil
	}
	s.mu.Unlock()
	return fmt.Errorf("remove turn %s: %w", id, domain.ErrTurnNotFound)
}

// TruncateFrom replaces the user message at turnIndex, drops its responses
// and discards every later turn, as a single transition.
func (s *TurnStore) TruncateFrom(turnIndex int, newUserContent string) error {
	s.mu.Lock()
	if err := s.checkIndex(turnIndex); err != nil {
		s.mu.Unlock()
		return err
	}
	now := s.now()
	turns := make([]domain.ConversationTurn, turnIndex+1)
	copy(turns, s.turns[:turnIndex+1])
	edited := turns[turnIndex]
	edited.UserMessage = s.userMessage(newUserContent, now)
	edited.AIResponses = []domain.Message{}
	edited.Timestamp = now
	turns[turnIndex] = edited
	s.turns = turns
	s.commit()
	return nil
}

func (s *TurnStore) Clear() {
	s.mu.Lock()
	s.turns = nil
	s.commit()
}

func (s *TurnStore) Turns() []domain.ConversationTurn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot()
}

func (s *TurnStore) Turn(turnIndex int) (domain.ConversationTurn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkIndex(turnIndex); err != nil {
		return domain.ConversationTurn{}, err
	}
	return s.turns[turnIndex].Clone(), nil
}

func (s *TurnStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.turns)
}

// Subscribe registers fn for every future mutation. fn may read the store
// but must not mutate it or unsubscribe from inside the callback.
func (s *TurnStore) Subscribe(fn domain.TurnObserver) func() {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()

	s.nextID++
	id := s.nextID
	s.observers[id] = fn
	return func() {
		s.emitMu.Lock()
		delete(s.observers, id)
		s.emitMu.Unlock()
	}
}

// commit must be called with mu held; it releases mu.
func (s *TurnStore) commit() {
	snap := s.snapshot()
	s.emitMu.Lock()
	s.mu.Unlock()
	defer s.emitMu.Unlock()

	for _, fn := range s.observers {
		fn(snap)
	}
}

func (s *TurnStore) snapshot() []domain.ConversationTurn {
	out := make([]domain.ConversationTurn, len(s.turns))
	for i, t := range s.turns {
		out[i] = t.Clone()
	}
	return out
}

func (s *TurnStore) checkIndex(turnIndex int) error {
	if turnIndex < 0 || turnIndex >= len(s.turns) {
		return fmt.Errorf("turn index %d: %w", turnIndex, domain.ErrTurnNotFound)
	}
	return nil
}

func (s *TurnStore) userMessage(content string, now time.Time) domain.Message {
	return domain.Message{
		ID:        domain.MessageID(s.newID()),
		Role:      domain.RoleUser,
		Content:   content,
		Timestamp: now,
	}
}

func indexOfMessage(msgs []domain.Message, id domain.MessageID) int {
	for i := range msgs {
		if msgs[i].ID == id {
			return i
		}
	}
	return -1
}

func cloneMessages(msgs []domain.Message) []domain.Message {
	out := make([]domain.Message, len(msgs))
	copy(out, msgs)
	return out
}
