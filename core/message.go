package core

import (
	"time"

	"github.com/google/uuid"
)

// Role identifies the author category of a message within a thread.
type Role string

const (
	// RoleUser marks messages originating from the external caller or, inside
	// a delegation sub-conversation, from the delegating agent.
	RoleUser Role = "user"
	// RoleAssistant marks messages produced by an agent's model.
	RoleAssistant Role = "assistant"
	// RoleTool marks tool execution results fed back to the model.
	RoleTool Role = "tool"
	// RoleSystem marks instruction / system prompt messages.
	RoleSystem Role = "system"
)

// UserSender is the reserved sender identifier for the external caller.
// It may never appear as a chart edge endpoint.
const UserSender = "user"

// FileRef references an attachment carried alongside a message. The core
// never dereferences attachments; they are passed through to the completion
// service verbatim.
type FileRef struct {
	ID       string `json:"id,omitempty"`
	Name     string `json:"name,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
	URI      string `json:"uri,omitempty"`
}

// Message is one entry of a thread's append-only history. Exactly one of the
// payload groups is meaningful per role: Text for user/assistant/system
// messages, ToolCalls for assistant messages requesting tool execution,
// Text+ToolCallID for tool result messages.
type Message struct {
	ID         string     `json:"id"`
	Role       Role       `json:"role"`
	Author     string     `json:"author"` // agent name, UserSender or tool name
	Text       string     `json:"text,omitempty"`
	Files      []FileRef  `json:"files,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"` // set on Role == RoleTool
	IsError    bool       `json:"is_error,omitempty"`     // tool result carries an error description
	Timestamp  time.Time  `json:"timestamp"`
}

// NewID generates a unique identifier for messages, tool calls and runs.
func NewID() string { return uuid.NewString() }

func newMessage(role Role, author string) Message {
	return Message{
		ID:        NewID(),
		Role:      role,
		Author:    author,
		Timestamp: time.Now().UTC(),
	}
}

// NewUserMessage creates a caller-authored text message.
func NewUserMessage(author, text string, files ...FileRef) Message {
	m := newMessage(RoleUser, author)
	m.Text = text
	m.Files = files
	return m
}

// NewAssistantMessage creates an agent-authored text message.
func NewAssistantMessage(author, text string) Message {
	m := newMessage(RoleAssistant, author)
	m.Text = text
	return m
}

// NewToolCallMessage creates an agent-authored message carrying one or more
// tool invocation requests in the order the model emitted them.
func NewToolCallMessage(author string, calls []ToolCall) Message {
	m := newMessage(RoleAssistant, author)
	m.ToolCalls = calls
	return m
}

// NewToolResultMessage records the outcome of a previously issued tool call.
// A non-nil err marks the message as an error description; the run continues
// and the model may react to it.
func NewToolResultMessage(toolName, callID, output string, err error) Message {
	m := newMessage(RoleTool, toolName)
	m.ToolCallID = callID
	if err != nil {
		m.Text = err.Error()
		m.IsError = true
		return m
	}
	m.Text = output
	return m
}

// HasToolCalls reports whether the message requests tool execution. A turn is
// only final once the model produces a message for which this is false.
func (m Message) HasToolCalls() bool { return len(m.ToolCalls) > 0 }
