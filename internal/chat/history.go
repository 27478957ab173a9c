package chat

// Role identifies who authored a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single entry in a conversation.
type Message struct {
	Role    Role
	Content string
}

// History is an ordered conversation transcript. The first entry is
// always the system persona message and is never evicted; everything
// after it is subject to the cap.
type History struct {
	messages []Message
	limit    int
}

// NewHistory creates a history seeded with the system message. A limit
// below 2 disables trimming.
func NewHistory(systemPrompt string, limit int) *History {
	return &History{
		messages: []Message{{Role: RoleSystem, Content: systemPrompt}},
		limit:    limit,
	}
}

// Append adds a message and evicts the oldest non-system entries if the
// cap is exceeded, preserving relative order.
func (h *History) Append(msg Message) {
	h.messages = append(h.messages, msg)
	if h.limit < 2 {
		return
	}
	if excess := len(h.messages) - h.limit; excess > 0 {
		h.messages = append(h.messages[:1], h.messages[1+excess:]...)
	}
}

// Messages returns a copy of the transcript in order.
func (h *History) Messages() []Message {
	out := make([]Message, len(h.messages))
	copy(out, h.messages)
	return out
}

// Len reports the number of messages including the system entry.
func (h *History) Len() int {
	return len(h.messages)
}
