package chat

// Sender identifies who authored a conversation turn.
type Sender string

const (
	SenderUser Sender = "user"
	SenderBot  Sender = "bot"
)

// Message is one immutable conversation turn. IDs are derived from the
// creation timestamp and strictly increase within a conversation.
type Message struct {
	ID      int64  `json:"id"`
	Content string `json:"content"`
	Sender  Sender `json:"sender"`
}
