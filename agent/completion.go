package agent

import (
	"encoding/json"

	"github.com/hupe1980/agencykit/core"
	"github.com/hupe1980/agencykit/model"
)

// SendMessageTool is the reserved tool name through which the model
// addresses another agent. Calls to it are decoded as delegations, never
// routed through the tool executor.
const SendMessageTool = "send_message"

// ResultKind tags the CompletionResult variant.
type ResultKind int

const (
	// ResultFinalText ends the current turn with plain text.
	ResultFinalText ResultKind = iota
	// ResultToolInvocation requests execution of the agent's own tools.
	ResultToolInvocation
	// ResultDelegation addresses one or more other agents.
	ResultDelegation
)

// Delegation is one decoded send_message call. A zero Recipient marks a
// malformed call; the orchestrator surfaces it to the model as a recoverable
// tool-result error.
type Delegation struct {
	CallID    string
	Recipient string
	Message   string
}

// CompletionResult is the tagged decoding of one raw model response.
//
// Kind selection follows the precedence rule that tool calls win over
// co-emitted text: a turn is final only when the response carries no calls
// at all. Responses containing any send_message call are delegations; the
// remaining plain calls (if any) are preserved in Calls so a mixed batch
// still executes completely, in the model's emission order (Message.ToolCalls).
type CompletionResult struct {
	Kind        ResultKind
	Message     core.Message // raw assistant message, appended to the thread verbatim
	Text        string       // set for ResultFinalText
	Calls       []core.ToolCall
	Delegations []Delegation
}

type sendMessageArgs struct {
	Recipient string `json:"recipient" description:"Name of the agent to address"`
	Message   string `json:"message" description:"The message to send"`
}

// decodeResult classifies a terminal assistant message.
func decodeResult(agentName string, msg core.Message) *CompletionResult {
	if !msg.HasToolCalls() {
		return &CompletionResult{Kind: ResultFinalText, Message: msg, Text: msg.Text}
	}

	res := &CompletionResult{Kind: ResultToolInvocation, Message: msg}
	for _, call := range msg.ToolCalls {
		call.Caller = agentName
		if call.Name != SendMessageTool {
			res.Calls = append(res.Calls, call)
			continue
		}

		res.Kind = ResultDelegation
		var args sendMessageArgs
		if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
			res.Delegations = append(res.Delegations, Delegation{CallID: call.ID})
			continue
		}
		res.Delegations = append(res.Delegations, Delegation{
			CallID:    call.ID,
			Recipient: args.Recipient,
			Message:   args.Message,
		})
	}
	return res
}

// SendMessageDefinition builds the synthetic delegation tool schema offered
// to an agent, restricted to the recipients its chart edges allow.
func SendMessageDefinition(recipients []string) model.ToolDefinition {
	return model.ToolDefinition{
		Type: "function",
		Function: model.FunctionDefinition{
			Name: SendMessageTool,
			Description: "Send a message to another agent and wait for its reply. " +
				"Use this to delegate work the recipient is better suited for.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"recipient": map[string]any{
						"type":        "string",
						"enum":        recipients,
						"description": "Name of the agent to address",
					},
					"message": map[string]any{
						"type":        "string",
						"description": "The message to send",
					},
				},
				"required": []string{"recipient", "message"},
			},
		},
	}
}
