package core

// ToolCall is a single tool invocation request decoded from a model response.
// Arguments is the raw JSON payload exactly as emitted; validation against
// the tool's declared schema happens in the executor, not here.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments,omitempty"`
	// Caller names the agent on whose behalf the call executes. It identifies
	// the caller for the duration of execution only and carries no ownership.
	Caller string `json:"caller,omitempty"`
}
