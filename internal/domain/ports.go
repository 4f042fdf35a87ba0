package domain

import "context"

// ChatMessage is the {role, content} shape sent to the inference capability.
type ChatMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is one call to the inference capability.
type ChatRequest struct {
	Messages     []ChatMessage `json:"messages"`
	Mode         SessionMode   `json:"mode"`
	LearningMode LearningMode  `json:"learning_mode,omitempty"`
}

// ChatResponse is a batch completion.
type ChatResponse struct {
	Message   string    `json:"message"`
	Timestamp Timestamp `json:"timestamp"`
}

// StreamEvent is one element of a streamed completion. Exactly one of
// Chunk, Err or Done is meaningful; the channel may also simply close.
type StreamEvent struct {
	Chunk string
	Err   error
	Done  bool
}

// InferenceClient is the batch chat-completion capability.
type InferenceClient interface {
	SendChat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
}

// StreamingInferenceClient is implemented by inference clients that can
// stream. The returned channel is closed by the producer.
type StreamingInferenceClient interface {
	InferenceClient
	StreamChat(ctx context.Context, req ChatRequest) (<-chan StreamEvent, error)
}

// MediaSearchClient finds images and videos for a query.
type MediaSearchClient interface {
	Search(ctx context.Context, req MediaSearchRequest) (*MediaSearchResponse, error)
}

// ResearchClient runs a deep-research query.
type ResearchClient interface {
	Research(ctx context.Context, req ResearchRequest) (*ResearchResponse, error)
}

// TurnObserver receives a snapshot of the transcript after every mutation.
type TurnObserver func(turns []ConversationTurn)

// TurnStore is the single source of truth for the ordered list of turns.
// Every mutation is one state transition and produces one notification.
type TurnStore interface {
	AppendTurn(userContent string) (int, error)
	AppendPlaceholder(turnIndex int) (MessageID, error)
	MutateMessage(turnIndex int, id MessageID, update MessageUpdater) error
	ReplaceResponses(turnIndex int, responses []Message) error
	ClearResponses(turnIndex int) error
	RemoveMessage(turnIndex int, id MessageID) error
	RemoveTurn(id TurnID) error
	TruncateFrom(turnIndex int, newUserContent string) error
	Clear()

	Turns() []ConversationTurn
	Turn(turnIndex int) (ConversationTurn, error)
	Len() int
	Subscribe(fn TurnObserver) (unsubscribe func())
}

// SessionStore keeps session metadata.
type SessionStore interface {
	CreateSession(session *Session) error
	UpdateSession(session *Session) error
	GetSession(id SessionID) (*Session, error)
	ListSessions(limit int) ([]*Session, error)
	DeleteSession(id SessionID) error
}
