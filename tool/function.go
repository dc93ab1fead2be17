package tool

import (
	"github.com/hupe1980/agencykit/internal/util"
)

// FunctionTool is a generic adapter that exposes a plain Go function as a
// tool. It holds a JSON-Schema-like parameter spec built once at
// construction and carries no mutable state afterwards, so it is safe for
// concurrent use unless OneCallAtATime is declared.
type FunctionTool struct {
	def Definition
	fn  func(tc *Context, args map[string]any) (any, error)
}

// FunctionToolOptions configure optional Definition flags.
type FunctionToolOptions struct {
	// Strict rejects argument fields not declared in the schema.
	Strict bool
	// OneCallAtATime serializes concurrent invocations of this tool.
	OneCallAtATime bool
}

// NewFunctionTool constructs a FunctionTool from an explicit schema and function.
//
// Example:
//
//	sumTool := tool.NewFunctionTool(
//	  "calculate_sum",
//	  "Calculate the sum of two numbers",
//	  map[string]any{
//	    "type": "object",
//	    "properties": map[string]any{
//	      "a": map[string]any{"type": "number"},
//	      "b": map[string]any{"type": "number"},
//	    },
//	    "required": []string{"a", "b"},
//	  },
//	  func(tc *tool.Context, args map[string]any) (any, error) {
//	    return args["a"].(float64) + args["b"].(float64), nil
//	  },
//	)
func NewFunctionTool(
	name, description string,
	parameters map[string]any,
	fn func(tc *Context, args map[string]any) (any, error),
	optFns ...func(o *FunctionToolOptions),
) *FunctionTool {
	opts := FunctionToolOptions{}
	for _, optFn := range optFns {
		optFn(&opts)
	}

	return &FunctionTool{
		def: Definition{
			Name:           name,
			Description:    description,
			Parameters:     parameters,
			Strict:         opts.Strict,
			OneCallAtATime: opts.OneCallAtATime,
		},
		fn: fn,
	}
}

// NewFunctionToolFromStruct derives the parameter schema from a struct using
// reflection. Field names come from json tags, descriptions from
// `description` tags, required fields from non-pointer non-omitempty fields.
//
// Example:
//
//	type SearchArgs struct {
//	  Q string `json:"q" description:"Search query"`
//	}
//
//	searchTool := tool.NewFunctionToolFromStruct(
//	  "search", "Search the knowledge base", SearchArgs{},
//	  func(tc *tool.Context, args map[string]any) (any, error) {
//	    return lookup(args["q"].(string)), nil
//	  },
//	)
func NewFunctionToolFromStruct(
	name, description string,
	structType any,
	fn func(tc *Context, args map[string]any) (any, error),
	optFns ...func(o *FunctionToolOptions),
) *FunctionTool {
	schema := util.CreateSchema(structType)
	return NewFunctionTool(name, description, schema, fn, optFns...)
}

// Definition returns the declared schema built at construction time.
func (t *FunctionTool) Definition() Definition { return t.def }

// Call invokes the wrapped function. Argument validation happens in the
// executor before this point; errors are normalized there as well.
func (t *FunctionTool) Call(tc *Context, args map[string]any) (any, error) {
	return t.fn(tc, args)
}
