// Package tool implements the function calling subsystem that lets agents
// invoke structured capabilities with schema validated arguments, per-tool
// mutual exclusion and consistent error handling. Tool failures are values,
// not run-terminating faults: the executor converts them into tool-result
// messages the model can react to.
package tool

import (
	"fmt"

	"github.com/hupe1980/agencykit/internal/util"
)

// Definition declares a tool to the completion service: its name, natural
// language description and a minimal JSON-Schema parameter spec. The two
// flags are enforced by the executor, not the tool implementation:
//
//   - Strict rejects argument fields not declared in Parameters.
//   - OneCallAtATime serializes concurrent invocations of this tool.
type Definition struct {
	Name           string         `json:"name"`
	Description    string         `json:"description"`
	Parameters     map[string]any `json:"parameters"` // JSON Schema object
	Strict         bool           `json:"strict,omitempty"`
	OneCallAtATime bool           `json:"-"`
}

// Tool is the capability interface implemented by every callable. The
// Definition is constructed once at registration time; it is never derived
// per call. Implementations must be safe for concurrent use unless they
// declare OneCallAtATime.
type Tool interface {
	// Definition returns the declared schema exposed to the model.
	Definition() Definition

	// Call executes the tool with already-validated arguments. The Context
	// carries the calling agent's identity and the run's SharedState.
	Call(tc *Context, args map[string]any) (any, error)
}

// ValidationError represents parameter validation errors with detailed information.
type ValidationError = util.ValidationError

// ToolError represents errors that occur during tool execution.
type ToolError struct {
	Tool    string `json:"tool"`              // Name of the tool that failed
	Message string `json:"message"`           // Error message
	Code    string `json:"code"`              // Error code for categorization
	Details any    `json:"details,omitempty"` // Additional error details
}

// Error codes used by the executor and FunctionTool.
const (
	CodeValidationError = "VALIDATION_ERROR"
	CodeExecutionError  = "EXECUTION_ERROR"
	CodeUnknownTool     = "UNKNOWN_TOOL"
)

func (e *ToolError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("tool error [%s] in %s: %s", e.Code, e.Tool, e.Message)
	}
	return fmt.Sprintf("tool error in %s: %s", e.Tool, e.Message)
}

// NewToolError creates a new ToolError with the specified details.
func NewToolError(tool, message, code string) *ToolError {
	return &ToolError{
		Tool:    tool,
		Message: message,
		Code:    code,
	}
}

// Unrecoverable reports whether the error should abort the orchestrated run
// instead of being surfaced to the model as a tool-result message. Only a
// malformed tool implementation (panic) is classified unrecoverable.
func (e *ToolError) Unrecoverable() bool { return e.Code == codePanic }

const codePanic = "PANIC"
