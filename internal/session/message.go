package session

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/comigor/sally-go/internal/profile"
)

// Senders.
const (
	SenderUser      = "user"
	SenderAssistant = "assistant"
)

// KindError tags a message that records a failed turn. An empty Kind means a
// normal message.
const KindError = "error"

// WelcomeText seeds every new or cleared session.
const WelcomeText = "Hello! I’m Sally, your well-being buddy. I’m here to listen and support you. How are you feeling today?"

// RetryPayload captures the original request of a failed turn so it can be
// resent verbatim.
type RetryPayload struct {
	Message            string                 `json:"message"`
	Role               string                 `json:"role"`
	UserNamePreference profile.NamePreference `json:"userNamePreference"`
}

// Message is a single conversational message within a session.
type Message struct {
	ID           string        `json:"id"`
	Sender       string        `json:"sender"`
	Kind         string        `json:"kind,omitempty"`
	Text         string        `json:"text"`
	Time         time.Time     `json:"time"`
	RetryPayload *RetryPayload `json:"retryPayload,omitempty"`
}

// IsError reports whether the message records a failed turn.
func (m Message) IsError() bool {
	return m.Kind == KindError
}

// Session is one persisted conversation thread.
type Session struct {
	ID              string    `json:"id"`
	UserDisplayName string    `json:"userDisplayName"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
	Messages        []Message `json:"messages"`
}

// NewID returns a time+random composite identifier. Ids stay collision-free
// across concurrent sends.
func NewID(prefix string) string {
	return fmt.Sprintf("%s-%d-%s", prefix, time.Now().UnixMilli(), uuid.NewString()[:8])
}

// NewWelcomeMessage builds the assistant greeting seeded into fresh sessions.
func NewWelcomeMessage() Message {
	return Message{
		ID:     NewID("welcome"),
		Sender: SenderAssistant,
		Text:   WelcomeText,
		Time:   time.Now().UTC(),
	}
}
