package testutil

import (
	"github.com/hupe1980/agencykit/core"
)

// MessageBuilder provides a fluent helper for constructing messages in tests.
// Example:
//
//	msg := NewMessageBuilder().Author("ceo").AssistantText("hello").Build()
//
// Chain only the parts you need; sensible defaults are applied.
type MessageBuilder struct {
	id         string
	role       core.Role
	author     string
	text       string
	toolCalls  []core.ToolCall
	toolCallID string
	isError    bool
}

// NewMessageBuilder returns a builder producing a user message by default.
func NewMessageBuilder() *MessageBuilder {
	return &MessageBuilder{role: core.RoleUser, author: core.UserSender}
}

// ID overrides the generated message id.
func (b *MessageBuilder) ID(id string) *MessageBuilder {
	b.id = id
	return b
}

// Author sets the message author.
func (b *MessageBuilder) Author(author string) *MessageBuilder {
	b.author = author
	return b
}

// UserText marks the message as user text.
func (b *MessageBuilder) UserText(text string) *MessageBuilder {
	b.role = core.RoleUser
	b.text = text
	return b
}

// AssistantText marks the message as assistant text.
func (b *MessageBuilder) AssistantText(text string) *MessageBuilder {
	b.role = core.RoleAssistant
	b.text = text
	return b
}

// ToolCall appends a tool call and marks the message as an assistant call
// message.
func (b *MessageBuilder) ToolCall(id, name, arguments string) *MessageBuilder {
	b.role = core.RoleAssistant
	b.toolCalls = append(b.toolCalls, core.ToolCall{ID: id, Name: name, Arguments: arguments})
	return b
}

// ToolResult marks the message as the result of the given call.
func (b *MessageBuilder) ToolResult(callID, output string) *MessageBuilder {
	b.role = core.RoleTool
	b.toolCallID = callID
	b.text = output
	return b
}

// Error flags the message as an error result.
func (b *MessageBuilder) Error() *MessageBuilder {
	b.isError = true
	return b
}

// Build produces the message.
func (b *MessageBuilder) Build() core.Message {
	id := b.id
	if id == "" {
		id = core.NewID()
	}
	return core.Message{
		ID:         id,
		Role:       b.role,
		Author:     b.author,
		Text:       b.text,
		ToolCalls:  b.toolCalls,
		ToolCallID: b.toolCallID,
		IsError:    b.isError,
	}
}

// History is a convenience for building a message slice in order.
func History(msgs ...core.Message) []core.Message {
	return msgs
}
