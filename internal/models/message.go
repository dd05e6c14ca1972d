package models

// Role identifies who authored a transcript entry.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is one entry of a conversation transcript.
// Complete is false while an assistant reply is still streaming.
type Message struct {
	Role     Role   `json:"role"`
	Content  string `json:"content"`
	Complete bool   `json:"-"`
}
