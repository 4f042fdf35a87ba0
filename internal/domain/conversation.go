package domain

// Message represents any message in a turn (user or assistant).
// Content is append-only while a response streams; for non-text results it
// holds a serialized payload (see payloads.go).
type Message struct {
	ID        MessageID `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp Timestamp `json:"timestamp"`
}

// ConversationTurn is one user submission plus every assistant response to it.
// AIResponses is never nil.
type ConversationTurn struct {
	ID          TurnID    `json:"id"`
	UserMessage Message   `json:"user_message"`
	AIResponses []Message `json:"ai_responses"`
	Timestamp   Timestamp `json:"timestamp"`
}

// Clone returns a deep copy so snapshots never alias store state.
func (t ConversationTurn) Clone() ConversationTurn {
	out := t
	out.AIResponses = make([]Message, len(t.AIResponses))
	copy(out.AIResponses, t.AIResponses)
	return out
}

// HasContent reports whether any assistant response carries content.
func (t ConversationTurn) HasContent() bool {
	for _, r := range t.AIResponses {
		if r.Content != "" {
			return true
		}
	}
	return false
}

// LatestResponse returns the most recent assistant response, if any.
func (t ConversationTurn) LatestResponse() (Message, bool) {
	if len(t.AIResponses) == 0 {
		return Message{}, false
	}
	return t.AIResponses[len(t.AIResponses)-1], true
}

// MessageUpdater transforms one message. It must not retain the argument.
type MessageUpdater func(Message) Message

// AppendContent returns an updater that appends a streamed fragment.
func AppendContent(fragment string) MessageUpdater {
	return func(m Message) Message {
		m.Content += fragment
		return m
	}
}

// SetContent returns an updater that replaces the content wholesale.
func SetContent(content string) MessageUpdater {
	return func(m Message) Message {
		m.Content = content
		return m
	}
}

// Session is one in-memory conversation. It owns a transcript for as long as
// the process lives.
type Session struct {
	ID        SessionID `json:"id"`
	Title     string    `json:"title"`
	Stream    bool      `json:"stream"`
	CreatedAt Timestamp `json:"created_at"`
	UpdatedAt Timestamp `json:"updated_at"`
}
